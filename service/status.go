package service

import (
	"encoding/json"

	"github.com/jlrjr/DragonSync/cot"
	"github.com/jlrjr/DragonSync/errors"
)

const bytesPerMB = 1024 * 1024

// statusMessage is the ground-station health payload published by the
// sensor alongside drone telemetry
type statusMessage struct {
	SerialNumber string `json:"serial_number"`
	GPSData      struct {
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
		Altitude  float64 `json:"altitude"`
		Speed     float64 `json:"speed"`
		Track     float64 `json:"track"`
	} `json:"gps_data"`
	SystemStats struct {
		CPUUsage float64 `json:"cpu_usage"`
		Memory   struct {
			Total     float64 `json:"total"`
			Available float64 `json:"available"`
		} `json:"memory"`
		Disk struct {
			Total float64 `json:"total"`
			Used  float64 `json:"used"`
		} `json:"disk"`
		Temperature float64 `json:"temperature"`
		Uptime      float64 `json:"uptime"`
	} `json:"system_stats"`
	AntSDRTemps struct {
		PlutoTemp sdrTemp `json:"pluto_temp"`
		ZynqTemp  sdrTemp `json:"zynq_temp"`
	} `json:"ant_sdr_temps"`
}

// sdrTemp tolerates firmware reporting temperatures as either JSON
// strings or bare numbers
type sdrTemp string

func (t *sdrTemp) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*t = sdrTemp(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*t = sdrTemp(n.String())
	return nil
}

// parseStatus decodes a raw status payload into the station event shape.
// Memory and disk figures arrive in bytes and are reported in megabytes.
func parseStatus(data []byte) (cot.SystemStatus, error) {
	var msg statusMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return cot.SystemStatus{}, errors.WrapInvalid(err, "Bridge", "parseStatus", "decode status payload")
	}

	serial := msg.SerialNumber
	if serial == "" {
		serial = "unknown"
	}
	return cot.SystemStatus{
		Serial:            serial,
		Lat:               msg.GPSData.Latitude,
		Lon:               msg.GPSData.Longitude,
		Alt:               msg.GPSData.Altitude,
		Speed:             msg.GPSData.Speed,
		Track:             msg.GPSData.Track,
		CPUUsage:          msg.SystemStats.CPUUsage,
		MemoryTotalMB:     msg.SystemStats.Memory.Total / bytesPerMB,
		MemoryAvailableMB: msg.SystemStats.Memory.Available / bytesPerMB,
		DiskTotalMB:       msg.SystemStats.Disk.Total / bytesPerMB,
		DiskUsedMB:        msg.SystemStats.Disk.Used / bytesPerMB,
		Temperature:       msg.SystemStats.Temperature,
		Uptime:            msg.SystemStats.Uptime,
		PlutoTemp:         string(msg.AntSDRTemps.PlutoTemp),
		ZynqTemp:          string(msg.AntSDRTemps.ZynqTemp),
	}, nil
}
