package cot

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testStatus() SystemStatus {
	return SystemStatus{
		Serial:            "WD-001",
		Lat:               60.17,
		Lon:               24.94,
		Alt:               35.5,
		Speed:             0.2,
		Track:             180,
		CPUUsage:          23.4,
		MemoryTotalMB:     8192,
		MemoryAvailableMB: 2048,
		DiskTotalMB:       61440,
		DiskUsedMB:        30720,
		Temperature:       52.1,
		Uptime:            86400,
		PlutoTemp:         "48.2",
		ZynqTemp:          "61.7",
	}
}

func TestEncodeSystemStatus(t *testing.T) {
	now := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)

	raw, err := EncodeSystemStatus(testStatus(), now, 2*time.Minute)
	require.NoError(t, err)
	ev := parse(t, raw)

	assert.Equal(t, "wardragon-WD-001", ev.UID)
	assert.Equal(t, "a-f-G-E-S", ev.Type)
	assert.Equal(t, "m-g", ev.How)
	assert.Equal(t, "2026-03-14T09:28:53.000000Z", ev.Stale)

	assert.Equal(t, "60.17", ev.Point.Lat)
	assert.Equal(t, "24.94", ev.Point.Lon)
	assert.Equal(t, "35.5", ev.Point.HAE)
	assert.Equal(t, "35.0", ev.Point.CE)
	assert.Equal(t, "999999", ev.Point.LE)

	require.NotNil(t, ev.Detail.Track)
	assert.Equal(t, "180", ev.Detail.Track.Course)
	assert.Equal(t, "0.2", ev.Detail.Track.Speed)

	assert.Contains(t, ev.Detail.Remarks, "CPU Usage: 23.4%")
	assert.Contains(t, ev.Detail.Remarks, "Memory Total: 8192 MB")
	assert.Contains(t, ev.Detail.Remarks, "Disk Used: 30720 MB")
	assert.Contains(t, ev.Detail.Remarks, "Uptime: 86400 seconds")
	assert.Contains(t, ev.Detail.Remarks, "Pluto Temp: 48.2")
	assert.Contains(t, ev.Detail.Remarks, "Zynq Temp: 61.7")

	assert.Equal(t, ColorFallback, ev.Detail.Color.ARGB)
}

func TestEncodeSystemStatusUnknownSerial(t *testing.T) {
	raw, err := EncodeSystemStatus(SystemStatus{}, time.Now(), DefaultStale)
	require.NoError(t, err)
	ev := parse(t, raw)

	assert.Equal(t, "wardragon-unknown", ev.UID)
	assert.NotContains(t, ev.Detail.Remarks, "Pluto", "missing sdr temps are omitted")
}
