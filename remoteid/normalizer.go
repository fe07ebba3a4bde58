package remoteid

import (
	"log/slog"
	"strings"
)

// Normalizer converts raw decoded telemetry messages into Observations.
// Parse is deterministic, performs no I/O, and never panics; malformed
// input yields no observation plus a diagnostic on the logger.
type Normalizer struct {
	logger *slog.Logger
}

// NewNormalizer creates a normalizer. A nil logger falls back to the
// default slog logger.
func NewNormalizer(logger *slog.Logger) *Normalizer {
	if logger == nil {
		logger = slog.Default().With("component", "normalizer")
	}
	return &Normalizer{logger: logger}
}

// Parse normalizes one raw message. The message is either an ordered list
// of tagged parts or a single map carrying the same tagged sub-maps; any
// other top-level shape yields (zero, false).
func (n *Normalizer) Parse(message any) (Observation, bool) {
	switch msg := message.(type) {
	case []any:
		return n.parseParts(msg)
	case map[string]any:
		return n.parseTagged(msg), true
	default:
		n.logger.Error("unexpected message format; expected map or list")
		return Observation{}, false
	}
}

// parseParts handles the list-of-tagged-parts shape. Parts are applied in
// order, so for overlapping keys the later part wins.
func (n *Normalizer) parseParts(parts []any) (Observation, bool) {
	var obs Observation
	touched := false

	for _, raw := range parts {
		part, ok := raw.(map[string]any)
		if !ok {
			n.logger.Error("unexpected item type in message list; expected map")
			continue
		}

		// Link-level fields that sometimes appear at part top level
		if mac, ok := part["MAC"]; ok {
			obs.MAC = Str(mac, "")
			touched = true
		}
		if rssi, ok := part["RSSI"]; ok {
			obs.RSSI = Int(rssi, 0)
			touched = true
		}

		if fm, ok := part["Frequency Message"].(map[string]any); ok {
			obs.Freq = FloatPtr(fm["frequency"])
			touched = true
		}
		if basic, ok := part["Basic ID"].(map[string]any); ok {
			applyBasicID(&obs, basic)
			touched = true
		}
		if op, ok := part["Operator ID Message"].(map[string]any); ok {
			applyOperatorID(&obs, op)
			touched = true
		}
		if loc, ok := part["Location/Vector Message"].(map[string]any); ok {
			applyLocation(&obs, loc)
			touched = true
		}
		if selfID, ok := part["Self-ID Message"].(map[string]any); ok {
			obs.Description = Str(selfID["text"], "")
			touched = true
		}
		if sys, ok := part["System Message"].(map[string]any); ok {
			obs.PilotLat = Float(sys["latitude"], 0.0)
			obs.PilotLon = Float(sys["longitude"], 0.0)
			obs.HomeLat = Float(sys["home_lat"], 0.0)
			obs.HomeLon = Float(sys["home_lon"], 0.0)
			touched = true
		}
	}

	if !touched {
		return Observation{}, false
	}
	return obs, true
}

// parseTagged handles the single-map shape used by ESP32 receivers.
func (n *Normalizer) parseTagged(msg map[string]any) Observation {
	var obs Observation

	obs.Index = Int(msg["index"], 0)
	obs.Runtime = Int(msg["runtime"], 0)

	if adv, ok := msg["AUX_ADV_IND"].(map[string]any); ok {
		if rssi, ok := adv["rssi"]; ok {
			obs.RSSI = Int(rssi, 0)
		}
		if aext, ok := msg["aext"].(map[string]any); ok {
			if adva, ok := aext["AdvA"].(string); ok {
				// "xx:xx:xx:xx:xx:xx (Public)" -> first token
				if fields := strings.Fields(adva); len(fields) > 0 {
					obs.MAC = fields[0]
				}
			}
		}
	}

	if basic, ok := msg["Basic ID"].(map[string]any); ok {
		applyBasicID(&obs, basic)
	}
	if op, ok := msg["Operator ID Message"].(map[string]any); ok {
		applyOperatorID(&obs, op)
	}
	if loc, ok := msg["Location/Vector Message"].(map[string]any); ok {
		applyLocation(&obs, loc)
	}
	if selfID, ok := msg["Self-ID Message"].(map[string]any); ok {
		obs.Description = Str(selfID["text"], "")
	}
	if sys, ok := msg["System Message"].(map[string]any); ok {
		// This path reports the operator position; home is usually absent
		obs.PilotLat = Float(sys["operator_lat"], 0.0)
		obs.PilotLon = Float(sys["operator_lon"], 0.0)
	}
	if fm, ok := msg["Frequency Message"].(map[string]any); ok {
		obs.Freq = FloatPtr(fm["frequency"])
	}

	return obs
}

func applyBasicID(obs *Observation, basic map[string]any) {
	obs.UAType, obs.UATypeName = CoerceUAType(basic["ua_type"])

	idType := Str(basic["id_type"], "")
	obs.IDType = idType
	obs.MAC = Str(basic["MAC"], obs.MAC)
	obs.RSSI = Int(basic["RSSI"], obs.RSSI)

	switch idType {
	case IDTypeSerial:
		obs.ID = Str(basic["id"], "unknown")
	case IDTypeCAA:
		obs.CAA = Str(basic["id"], "unknown")
	}
}

func applyOperatorID(obs *Observation, op map[string]any) {
	obs.OperatorIDType = Str(op["operator_id_type"], "")
	obs.OperatorID = Str(op["operator_id"], "")
}

func applyLocation(obs *Observation, loc map[string]any) {
	obs.Lat = Float(loc["latitude"], 0.0)
	obs.Lon = Float(loc["longitude"], 0.0)
	obs.Speed = Float(loc["speed"], 0.0)
	obs.VSpeed = Float(loc["vert_speed"], 0.0)
	obs.Alt = Float(loc["geodetic_altitude"], 0.0)
	obs.Height = Float(loc["height_agl"], 0.0)

	obs.OpStatus = Str(loc["op_status"], "")
	obs.HeightType = Str(loc["height_type"], "")
	obs.EWDir = Str(loc["ew_dir_segment"], "")
	if dir, ok := loc["direction"]; ok {
		if i, intOK := toInt(dir); intOK {
			f := float64(i)
			obs.Direction = &f
		}
	}
	obs.SpeedMultiplier = FloatPtr(loc["speed_multiplier"])
	obs.PressureAltitude = FloatPtr(loc["pressure_altitude"])
	obs.VerticalAccuracy = Str(loc["vertical_accuracy"], "")
	obs.HorizontalAccuracy = Str(loc["horizontal_accuracy"], "")
	obs.BaroAccuracy = Str(loc["baro_accuracy"], "")
	obs.SpeedAccuracy = Str(loc["speed_accuracy"], "")
	obs.Timestamp = Str(loc["timestamp"], "")
	obs.TimestampAccuracy = Str(loc["timestamp_accuracy"], "")
}
