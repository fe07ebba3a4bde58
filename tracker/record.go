// Package tracker owns the live drone state: a bounded registry keyed by
// canonical id with FIFO capacity eviction plus an independent inactivity
// sweep, and the dispatch scheduler that drives rate-limited event emission.
//
// The registry and scheduler are single-writer. All mutation happens on one
// control goroutine; callers hand out Snapshot copies for any concurrent
// encoding or I/O.
package tracker

import (
	"math"
	"time"

	"github.com/jlrjr/DragonSync/cot"
	"github.com/jlrjr/DragonSync/remoteid"
)

// AffiliationUnknown is the default trust classification for new records
const AffiliationUnknown = "unknown"

// Record is the persistent per-drone state held by the registry. The key
// is the canonical id; everything else is the latest merged observation
// plus send and bearing bookkeeping.
type Record struct {
	remoteid.Observation

	Affiliation string

	// Previous position, for bearing derivation. Nil until the first merge.
	PrevLat *float64
	PrevLon *float64

	LastUpdate  time.Time
	LastSent    time.Time
	LastSentLat float64
	LastSentLon float64
}

// NewRecord creates a record from the first observation carrying a
// resolvable id. The observation's ID must already be canonical.
func NewRecord(obs remoteid.Observation, now time.Time) *Record {
	return &Record{
		Observation: obs,
		Affiliation: AffiliationUnknown,
		LastUpdate:  now,
		LastSentLat: obs.Lat,
		LastSentLon: obs.Lon,
	}
}

// Merge folds an observation into the record. Kinematic fields overwrite
// unconditionally; optional metadata only replaces stored values when the
// incoming value is non-empty or non-nil. When the observation carries no
// explicit direction and a previous position exists, the bearing from the
// previous to the current position is derived and stored.
func (r *Record) Merge(obs remoteid.Observation, now time.Time) {
	prevLat, prevLon := r.Lat, r.Lon
	r.PrevLat = &prevLat
	r.PrevLon = &prevLon

	r.Lat = obs.Lat
	r.Lon = obs.Lon
	r.Speed = obs.Speed
	r.VSpeed = obs.VSpeed
	r.Alt = obs.Alt
	r.Height = obs.Height
	r.PilotLat = obs.PilotLat
	r.PilotLon = obs.PilotLon
	r.HomeLat = obs.HomeLat
	r.HomeLon = obs.HomeLon
	r.Description = obs.Description
	r.MAC = obs.MAC
	r.RSSI = obs.RSSI
	r.Index = obs.Index
	r.Runtime = obs.Runtime
	r.IDType = obs.IDType

	if obs.UAType != nil {
		r.UAType = obs.UAType
	}
	if obs.UATypeName != "" {
		r.UATypeName = obs.UATypeName
	}
	if obs.OperatorIDType != "" {
		r.OperatorIDType = obs.OperatorIDType
	}
	if obs.OperatorID != "" {
		r.OperatorID = obs.OperatorID
	}
	if obs.OpStatus != "" {
		r.OpStatus = obs.OpStatus
	}
	if obs.HeightType != "" {
		r.HeightType = obs.HeightType
	}
	if obs.EWDir != "" {
		r.EWDir = obs.EWDir
	}
	if obs.Direction != nil {
		r.Direction = obs.Direction
	}
	if obs.SpeedMultiplier != nil {
		r.SpeedMultiplier = obs.SpeedMultiplier
	}
	if obs.PressureAltitude != nil {
		r.PressureAltitude = obs.PressureAltitude
	}
	if obs.VerticalAccuracy != "" {
		r.VerticalAccuracy = obs.VerticalAccuracy
	}
	if obs.HorizontalAccuracy != "" {
		r.HorizontalAccuracy = obs.HorizontalAccuracy
	}
	if obs.BaroAccuracy != "" {
		r.BaroAccuracy = obs.BaroAccuracy
	}
	if obs.SpeedAccuracy != "" {
		r.SpeedAccuracy = obs.SpeedAccuracy
	}
	if obs.Timestamp != "" {
		r.Timestamp = obs.Timestamp
	}
	if obs.TimestampAccuracy != "" {
		r.TimestampAccuracy = obs.TimestampAccuracy
	}
	if obs.CAA != "" {
		r.CAA = obs.CAA
	}
	if obs.Freq != nil {
		r.Freq = obs.Freq
	}

	r.LastUpdate = now

	if r.Direction == nil && r.PrevLat != nil {
		b := bearing(*r.PrevLat, *r.PrevLon, r.Lat, r.Lon)
		r.Direction = &b
	}
}

// HasPilotPosition reports whether the pilot coordinates are a real fix.
// The exact pair (0,0) is the "unknown location" sentinel.
func (r *Record) HasPilotPosition() bool {
	return r.PilotLat != 0 || r.PilotLon != 0
}

// HasHomePosition reports whether the home coordinates are a real fix
func (r *Record) HasHomePosition() bool {
	return r.HomeLat != 0 || r.HomeLon != 0
}

// Snapshot returns an isolated copy of the record for encoding and sink
// dispatch. Pointer fields are deep-copied so concurrent I/O never reads
// a value the control goroutine is rewriting.
func (r *Record) Snapshot() Snapshot {
	s := Snapshot{
		UID:                r.ID,
		IDType:             r.IDType,
		CAA:                r.CAA,
		Lat:                r.Lat,
		Lon:                r.Lon,
		Speed:              r.Speed,
		VSpeed:             r.VSpeed,
		Alt:                r.Alt,
		Height:             r.Height,
		PilotLat:           r.PilotLat,
		PilotLon:           r.PilotLon,
		HomeLat:            r.HomeLat,
		HomeLon:            r.HomeLon,
		Description:        r.Description,
		MAC:                r.MAC,
		RSSI:               r.RSSI,
		UATypeName:         r.UATypeName,
		OperatorIDType:     r.OperatorIDType,
		OperatorID:         r.OperatorID,
		OpStatus:           r.OpStatus,
		HeightType:         r.HeightType,
		EWDir:              r.EWDir,
		VerticalAccuracy:   r.VerticalAccuracy,
		HorizontalAccuracy: r.HorizontalAccuracy,
		BaroAccuracy:       r.BaroAccuracy,
		SpeedAccuracy:      r.SpeedAccuracy,
		Timestamp:          r.Timestamp,
		TimestampAccuracy:  r.TimestampAccuracy,
		Index:              r.Index,
		Runtime:            r.Runtime,
		Affiliation:        r.Affiliation,
		LastUpdate:         r.LastUpdate,
	}
	if r.UAType != nil {
		v := *r.UAType
		s.UAType = &v
	}
	if r.Direction != nil {
		v := *r.Direction
		s.Direction = &v
	}
	if r.SpeedMultiplier != nil {
		v := *r.SpeedMultiplier
		s.SpeedMultiplier = &v
	}
	if r.PressureAltitude != nil {
		v := *r.PressureAltitude
		s.PressureAltitude = &v
	}
	if r.Freq != nil {
		v := *r.Freq
		s.Freq = &v
	}
	return s
}

// Snapshot is a detached, serializable copy of a record's state at one
// instant. Sinks marshal it directly.
type Snapshot struct {
	UID    string `json:"uid"`
	IDType string `json:"id_type,omitempty"`
	CAA    string `json:"caa,omitempty"`

	Lat    float64 `json:"lat"`
	Lon    float64 `json:"lon"`
	Speed  float64 `json:"speed"`
	VSpeed float64 `json:"vspeed"`
	Alt    float64 `json:"alt"`
	Height float64 `json:"height"`

	PilotLat float64 `json:"pilot_lat"`
	PilotLon float64 `json:"pilot_lon"`
	HomeLat  float64 `json:"home_lat"`
	HomeLon  float64 `json:"home_lon"`

	Description string   `json:"description,omitempty"`
	MAC         string   `json:"mac,omitempty"`
	RSSI        int      `json:"rssi"`
	Freq        *float64 `json:"freq,omitempty"`

	UAType     *int   `json:"ua_type,omitempty"`
	UATypeName string `json:"ua_type_name,omitempty"`

	OperatorIDType string `json:"operator_id_type,omitempty"`
	OperatorID     string `json:"operator_id,omitempty"`

	OpStatus   string `json:"op_status,omitempty"`
	HeightType string `json:"height_type,omitempty"`
	EWDir      string `json:"ew_dir,omitempty"`

	Direction        *float64 `json:"direction,omitempty"`
	SpeedMultiplier  *float64 `json:"speed_multiplier,omitempty"`
	PressureAltitude *float64 `json:"pressure_altitude,omitempty"`

	VerticalAccuracy   string `json:"vertical_accuracy,omitempty"`
	HorizontalAccuracy string `json:"horizontal_accuracy,omitempty"`
	BaroAccuracy       string `json:"baro_accuracy,omitempty"`
	SpeedAccuracy      string `json:"speed_accuracy,omitempty"`

	Timestamp         string `json:"timestamp,omitempty"`
	TimestampAccuracy string `json:"timestamp_accuracy,omitempty"`

	Index   int `json:"index"`
	Runtime int `json:"runtime"`

	Affiliation string    `json:"affiliation"`
	LastUpdate  time.Time `json:"last_update"`
}

// HasPilotPosition mirrors the sentinel rule on the detached copy
func (s Snapshot) HasPilotPosition() bool {
	return s.PilotLat != 0 || s.PilotLon != 0
}

// HasHomePosition mirrors the sentinel rule on the detached copy
func (s Snapshot) HasHomePosition() bool {
	return s.HomeLat != 0 || s.HomeLon != 0
}

// CotSubject converts the snapshot to the encoder's input shape
func (s Snapshot) CotSubject() cot.Subject {
	return cot.Subject{
		UID:            s.UID,
		Lat:            s.Lat,
		Lon:            s.Lon,
		Speed:          s.Speed,
		VSpeed:         s.VSpeed,
		Alt:            s.Alt,
		Height:         s.Height,
		PilotLat:       s.PilotLat,
		PilotLon:       s.PilotLon,
		HomeLat:        s.HomeLat,
		HomeLon:        s.HomeLon,
		MAC:            s.MAC,
		RSSI:           s.RSSI,
		IDType:         s.IDType,
		UAType:         s.UAType,
		UATypeName:     s.UATypeName,
		OperatorIDType: s.OperatorIDType,
		OperatorID:     s.OperatorID,
		Direction:      s.Direction,
		Index:          s.Index,
		Runtime:        s.Runtime,
		Affiliation:    s.Affiliation,
	}
}

// bearing computes the initial great-circle heading in degrees from
// (lat1, lon1) toward (lat2, lon2), normalized into [0, 360).
func bearing(lat1, lon1, lat2, lon2 float64) float64 {
	rlat1 := lat1 * math.Pi / 180
	rlon1 := lon1 * math.Pi / 180
	rlat2 := lat2 * math.Pi / 180
	rlon2 := lon2 * math.Pi / 180

	dlon := rlon2 - rlon1
	x := math.Sin(dlon) * math.Cos(rlat2)
	y := math.Cos(rlat1)*math.Sin(rlat2) - math.Sin(rlat1)*math.Cos(rlat2)*math.Cos(dlon)
	theta := math.Atan2(x, y)
	return math.Mod(theta*180/math.Pi+360, 360)
}
