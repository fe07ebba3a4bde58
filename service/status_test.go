package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStatus(t *testing.T) {
	payload := []byte(`{
		"serial_number": "WD-001",
		"gps_data": {"latitude": 60.17, "longitude": 24.94, "altitude": 35.5, "speed": 0.2, "track": 180},
		"system_stats": {
			"cpu_usage": 23.4,
			"memory": {"total": 8589934592, "available": 2147483648},
			"disk": {"total": 64424509440, "used": 32212254720},
			"temperature": 52.1,
			"uptime": 86400
		},
		"ant_sdr_temps": {"pluto_temp": "48.2", "zynq_temp": 61.7}
	}`)

	status, err := parseStatus(payload)
	require.NoError(t, err)

	assert.Equal(t, "WD-001", status.Serial)
	assert.Equal(t, "wardragon-WD-001", status.UID())
	assert.Equal(t, 60.17, status.Lat)
	assert.Equal(t, 24.94, status.Lon)
	assert.Equal(t, 35.5, status.Alt)
	assert.Equal(t, 180.0, status.Track)

	assert.Equal(t, 23.4, status.CPUUsage)
	assert.Equal(t, 8192.0, status.MemoryTotalMB, "memory is reported in megabytes")
	assert.Equal(t, 2048.0, status.MemoryAvailableMB)
	assert.Equal(t, 61440.0, status.DiskTotalMB)
	assert.Equal(t, 30720.0, status.DiskUsedMB)
	assert.Equal(t, 52.1, status.Temperature)
	assert.Equal(t, 86400.0, status.Uptime)

	assert.Equal(t, "48.2", status.PlutoTemp, "string temperatures pass through")
	assert.Equal(t, "61.7", status.ZynqTemp, "numeric temperatures are stringified")
}

func TestParseStatusDefaults(t *testing.T) {
	status, err := parseStatus([]byte(`{}`))
	require.NoError(t, err)
	assert.Equal(t, "unknown", status.Serial)
	assert.Equal(t, "wardragon-unknown", status.UID())
	assert.Empty(t, status.PlutoTemp)
}

func TestParseStatusMalformed(t *testing.T) {
	_, err := parseStatus([]byte(`not json`))
	assert.Error(t, err)
}
