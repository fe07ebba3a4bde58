package cot

import "time"

// typeGroundStation is the event type for the sensor station itself
const typeGroundStation = "a-f-G-E-S"

// SystemStatus is the ground-station health snapshot rendered as its own
// event, so TAK operators see the sensor alongside the drones it tracks.
type SystemStatus struct {
	Serial string

	Lat   float64
	Lon   float64
	Alt   float64
	Speed float64
	Track float64

	CPUUsage          float64
	MemoryTotalMB     float64
	MemoryAvailableMB float64
	DiskTotalMB       float64
	DiskUsedMB        float64
	Temperature       float64
	Uptime            float64

	// SDR temperatures arrive as raw strings from the sensor firmware
	PlutoTemp string
	ZynqTemp  string
}

// UID returns the station event uid derived from the serial number
func (s SystemStatus) UID() string {
	serial := s.Serial
	if serial == "" {
		serial = "unknown"
	}
	return "wardragon-" + serial
}

// EncodeSystemStatus renders the ground-station event
func EncodeSystemStatus(s SystemStatus, now time.Time, staleOffset time.Duration) ([]byte, error) {
	uid := s.UID()
	ev := newEvent(uid, typeGroundStation, now, staleOffset)
	ev.Point = point(s.Lat, s.Lon, s.Alt)
	ev.Detail.Track = &cotTrack{Course: fnum(s.Track), Speed: fnum(s.Speed)}

	remarks := "CPU Usage: " + fnum(s.CPUUsage) + "%, " +
		"Memory Total: " + fnum(s.MemoryTotalMB) + " MB, " +
		"Memory Available: " + fnum(s.MemoryAvailableMB) + " MB, " +
		"Disk Total: " + fnum(s.DiskTotalMB) + " MB, " +
		"Disk Used: " + fnum(s.DiskUsedMB) + " MB, " +
		"Temperature: " + fnum(s.Temperature) + "C, " +
		"Uptime: " + fnum(s.Uptime) + " seconds"
	if s.PlutoTemp != "" || s.ZynqTemp != "" {
		remarks += ", Pluto Temp: " + s.PlutoTemp + ", Zynq Temp: " + s.ZynqTemp
	}
	ev.Detail.Remarks = remarks

	ev.Detail.Color.ARGB = ColorFallback
	return marshal(ev, uid)
}
