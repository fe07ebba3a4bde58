// Package cot renders tracked drone state as Cursor-on-Target event XML
// for TAK consumers. Each drone yields up to three events per cycle: the
// aircraft itself, the pilot position, and the home point.
package cot

import (
	"encoding/xml"
	"strconv"
	"strings"
	"time"

	"github.com/jlrjr/DragonSync/errors"
	"github.com/jlrjr/DragonSync/remoteid"
)

// DefaultStale is the stale horizon applied when the caller passes a
// negative offset. Zero is honored as-is, marking the event stale at its
// own timestamp.
const DefaultStale = 10 * time.Minute

// TimeLayout is the CoT timestamp format, microsecond precision UTC
const TimeLayout = "2006-01-02T15:04:05.000000Z"

// ColorFallback is the ARGB color for affiliations outside the table (gray)
const ColorFallback = "-8355712"

// AffiliationColors maps affiliation labels to TAK ARGB marker colors
var AffiliationColors = map[string]string{
	"authorized":   "-16776961", // blue
	"unauthorized": "-65536",    // red
	"unknown":      "-256",      // yellow
}

// Surface-point type used for pilot markers, home markers, and slow
// surface-bound UA classes
const typeSurfacePoint = "b-m-p-s-m"

// typeUnknownRotor is the fallback event type for unclassified aircraft
const typeUnknownRotor = "a-u-A-M-H-R"

// uaCoTTypes maps ASTM F3411 UA type codes to CoT event types
var uaCoTTypes = map[int]string{
	1:  "a-f-A-f",
	2:  typeUnknownRotor,
	3:  typeUnknownRotor,
	4:  typeUnknownRotor,
	5:  "a-f-A-f",
	6:  "a-f-A-f",
	7:  typeSurfacePoint,
	8:  typeSurfacePoint,
	9:  typeSurfacePoint,
	10: typeSurfacePoint,
	11: typeSurfacePoint,
	12: typeSurfacePoint,
	13: typeSurfacePoint,
	14: typeSurfacePoint,
	15: typeSurfacePoint,
}

// TypeForUA resolves the CoT event type for a UA type code. A nil or
// unmapped code yields the unknown-rotorcraft type.
func TypeForUA(uaType *int) string {
	if uaType == nil {
		return typeUnknownRotor
	}
	if t, ok := uaCoTTypes[*uaType]; ok {
		return t
	}
	return typeUnknownRotor
}

// ColorForAffiliation resolves the ARGB marker color for an affiliation label
func ColorForAffiliation(affiliation string) string {
	if c, ok := AffiliationColors[affiliation]; ok {
		return c
	}
	return ColorFallback
}

// Subject is the snapshot of tracked drone state an encoder call reads.
// Callers copy fields out of their registry record so encoding never holds
// a lock.
type Subject struct {
	UID string

	Lat    float64
	Lon    float64
	Speed  float64
	VSpeed float64
	Alt    float64
	Height float64

	PilotLat float64
	PilotLon float64
	HomeLat  float64
	HomeLon  float64

	MAC  string
	RSSI int

	IDType     string
	UAType     *int
	UATypeName string

	OperatorIDType string
	OperatorID     string

	Direction *float64

	Index   int
	Runtime int

	Affiliation string
}

type cotEvent struct {
	XMLName xml.Name `xml:"event"`
	Version string   `xml:"version,attr"`
	UID     string   `xml:"uid,attr"`
	Type    string   `xml:"type,attr"`
	Time    string   `xml:"time,attr"`
	Start   string   `xml:"start,attr"`
	Stale   string   `xml:"stale,attr"`
	How     string   `xml:"how,attr"`
	Point   cotPoint `xml:"point"`
	Detail  struct {
		Contact struct {
			Callsign string `xml:"callsign,attr"`
		} `xml:"contact"`
		PrecisionLocation struct {
			GeoPointSrc string `xml:"geopointsrc,attr"`
			AltSrc      string `xml:"altsrc,attr"`
		} `xml:"precisionlocation"`
		Track    *cotTrack    `xml:"track,omitempty"`
		UserIcon *cotUserIcon `xml:"usericon,omitempty"`
		Remarks  string       `xml:"remarks"`
		Color    struct {
			ARGB string `xml:"argb,attr"`
		} `xml:"color"`
	} `xml:"detail"`
}

type cotPoint struct {
	Lat string `xml:"lat,attr"`
	Lon string `xml:"lon,attr"`
	HAE string `xml:"hae,attr"`
	CE  string `xml:"ce,attr"`
	LE  string `xml:"le,attr"`
}

type cotTrack struct {
	Course string `xml:"course,attr"`
	Speed  string `xml:"speed,attr"`
}

type cotUserIcon struct {
	IconSetPath string `xml:"iconsetpath,attr"`
}

func fnum(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// baseID strips the drone uid prefix for derived pilot/home identifiers
func baseID(uid string) string {
	return strings.TrimPrefix(uid, remoteid.IDPrefix)
}

func newEvent(uid, cotType string, now time.Time, staleOffset time.Duration) cotEvent {
	if staleOffset < 0 {
		staleOffset = DefaultStale
	}
	now = now.UTC()
	ts := now.Format(TimeLayout)

	ev := cotEvent{
		Version: "2.0",
		UID:     uid,
		Type:    cotType,
		Time:    ts,
		Start:   ts,
		Stale:   now.Add(staleOffset).Format(TimeLayout),
		How:     "m-g",
	}
	ev.Detail.Contact.Callsign = uid
	ev.Detail.PrecisionLocation.GeoPointSrc = "gps"
	ev.Detail.PrecisionLocation.AltSrc = "gps"
	return ev
}

func marshal(ev cotEvent, uid string) ([]byte, error) {
	out, err := xml.MarshalIndent(ev, "", "  ")
	if err != nil {
		return nil, errors.WrapInvalid(err, "cot", "marshal", "render event "+uid)
	}
	buf := make([]byte, 0, len(xml.Header)+len(out)+1)
	buf = append(buf, xml.Header...)
	buf = append(buf, out...)
	buf = append(buf, '\n')
	return buf, nil
}

func point(lat, lon, hae float64) cotPoint {
	return cotPoint{
		Lat: fnum(lat),
		Lon: fnum(lon),
		HAE: fnum(hae),
		CE:  "35.0",
		LE:  "999999",
	}
}

// EncodeDrone renders the aircraft event for the subject
func EncodeDrone(s Subject, now time.Time, staleOffset time.Duration) ([]byte, error) {
	ev := newEvent(s.UID, TypeForUA(s.UAType), now, staleOffset)
	ev.Point = point(s.Lat, s.Lon, s.Alt)

	course := 0.0
	if s.Direction != nil {
		course = *s.Direction
	}
	ev.Detail.Track = &cotTrack{Course: fnum(course), Speed: fnum(s.Speed)}

	uaCode := "nil"
	if s.UAType != nil {
		uaCode = strconv.Itoa(*s.UAType)
	}
	var remarks strings.Builder
	remarks.WriteString("MAC: " + s.MAC + ", RSSI: " + strconv.Itoa(s.RSSI) + "dBm; ")
	remarks.WriteString("ID Type: " + s.IDType + "; UA Type: " + s.UATypeName + " (" + uaCode + "); ")
	remarks.WriteString("Operator ID: [" + s.OperatorIDType + ": " + s.OperatorID + "]; ")
	remarks.WriteString("Speed: " + fnum(s.Speed) + " m/s; Vert Speed: " + fnum(s.VSpeed) + " m/s; ")
	remarks.WriteString("Altitude: " + fnum(s.Alt) + " m; AGL: " + fnum(s.Height) + " m; ")
	remarks.WriteString("Course: " + fnum(course) + " deg; ")
	remarks.WriteString("Index: " + strconv.Itoa(s.Index) + "; Runtime: " + strconv.Itoa(s.Runtime) + "s")
	ev.Detail.Remarks = remarks.String()

	ev.Detail.Color.ARGB = ColorForAffiliation(s.Affiliation)
	return marshal(ev, s.UID)
}

// EncodePilot renders the pilot position event for the subject
func EncodePilot(s Subject, now time.Time, staleOffset time.Duration) ([]byte, error) {
	uid := "pilot-" + baseID(s.UID)
	ev := newEvent(uid, typeSurfacePoint, now, staleOffset)
	ev.Point = point(s.PilotLat, s.PilotLon, s.Alt)
	ev.Detail.UserIcon = &cotUserIcon{
		IconSetPath: "com.atakmap.android.maps.public/Civilian/Person.png",
	}
	ev.Detail.Remarks = "Pilot location for drone " + s.UID
	ev.Detail.Color.ARGB = ColorForAffiliation(s.Affiliation)
	return marshal(ev, uid)
}

// EncodeHome renders the home point event for the subject
func EncodeHome(s Subject, now time.Time, staleOffset time.Duration) ([]byte, error) {
	uid := "home-" + baseID(s.UID)
	ev := newEvent(uid, typeSurfacePoint, now, staleOffset)
	ev.Point = point(s.HomeLat, s.HomeLon, s.Alt)
	ev.Detail.UserIcon = &cotUserIcon{
		IconSetPath: "com.atakmap.android.maps.public/Civilian/House.png",
	}
	ev.Detail.Remarks = "Home location for drone " + s.UID
	ev.Detail.Color.ARGB = ColorForAffiliation(s.Affiliation)
	return marshal(ev, uid)
}
