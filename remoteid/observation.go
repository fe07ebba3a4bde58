// Package remoteid normalizes heterogeneous drone Remote-ID broadcasts into
// a canonical observation model. Two wire shapes are supported: the
// list-of-tagged-parts form emitted by SDR front-ends and the single tagged
// map emitted by ESP32 receivers.
package remoteid

import "strings"

// ID type strings carried in Basic ID messages. The serial form yields the
// canonical drone identity; the CAA form yields only a registration number
// and must be correlated to an existing record by MAC.
const (
	IDTypeSerial = "Serial Number (ANSI/CTA-2063-A)"
	IDTypeCAA    = "CAA Assigned Registration ID"
)

// IDPrefix is prepended to canonical drone identifiers
const IDPrefix = "drone-"

// UATypeNames maps ASTM F3411 UA type codes to display names
var UATypeNames = map[int]string{
	0:  "No UA type defined",
	1:  "Aeroplane/Airplane (Fixed wing)",
	2:  "Helicopter or Multirotor",
	3:  "Gyroplane",
	4:  "VTOL (Vertical Take-Off and Landing)",
	5:  "Ornithopter",
	6:  "Glider",
	7:  "Kite",
	8:  "Free Balloon",
	9:  "Captive Balloon",
	10: "Airship (Blimp)",
	11: "Free Fall/Parachute",
	12: "Rocket",
	13: "Tethered powered aircraft",
	14: "Ground Obstacle",
	15: "Other type",
}

// UATypeNameUnknown is the sentinel name for codes outside the table
const UATypeNameUnknown = "Unknown"

// Observation is one normalized partial telemetry reading. An observation
// may carry only a subset of fields; pointer fields distinguish "absent"
// from a zero value where that matters for merging.
type Observation struct {
	ID     string // canonical id; empty when the broadcast was CAA-only
	IDType string
	CAA    string // CAA registration number

	Lat    float64
	Lon    float64
	Speed  float64
	VSpeed float64
	Alt    float64
	Height float64 // AGL

	PilotLat float64
	PilotLon float64
	HomeLat  float64
	HomeLon  float64

	Description string

	MAC  string
	RSSI int
	Freq *float64

	UAType     *int
	UATypeName string

	OperatorIDType string
	OperatorID     string

	OpStatus   string
	HeightType string
	EWDir      string

	Direction        *float64 // bearing degrees; nil when not broadcast
	SpeedMultiplier  *float64
	PressureAltitude *float64

	VerticalAccuracy   string
	HorizontalAccuracy string
	BaroAccuracy       string
	SpeedAccuracy      string

	Timestamp         string
	TimestampAccuracy string

	Index   int
	Runtime int
}

// HasID reports whether the observation resolved a canonical identifier
func (o *Observation) HasID() bool {
	return o.ID != ""
}

// CanonicalID returns id with the drone prefix applied exactly once
func CanonicalID(id string) string {
	if strings.HasPrefix(id, IDPrefix) {
		return id
	}
	return IDPrefix + id
}

// CoerceUAType resolves a raw UA type value to (code, name). Accepts an
// integer code or a case-insensitive name; anything outside the table's
// domain yields (nil, "Unknown") rather than an error.
func CoerceUAType(raw any) (*int, string) {
	if raw == nil {
		return nil, UATypeNameUnknown
	}

	code, ok := toInt(raw)
	if !ok {
		// Allow name lookup
		name := strings.ToLower(Str(raw, ""))
		for k, v := range UATypeNames {
			if strings.ToLower(v) == name {
				k := k
				return &k, v
			}
		}
		return nil, UATypeNameUnknown
	}

	name, ok := UATypeNames[code]
	if !ok {
		return nil, UATypeNameUnknown
	}
	return &code, name
}
