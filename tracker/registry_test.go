package tracker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jlrjr/DragonSync/remoteid"
)

func obsWithID(id, mac string) remoteid.Observation {
	return remoteid.Observation{
		ID:     id,
		IDType: remoteid.IDTypeSerial,
		MAC:    mac,
	}
}

func TestIngestCreatesAndMerges(t *testing.T) {
	now := time.Now()
	reg := NewRegistry(10, time.Minute, nil, nil)

	rec, res, evicted := reg.Ingest(obsWithID("X", "aa:bb"), now)
	require.NotNil(t, rec)
	assert.Equal(t, IngestCreated, res)
	assert.Empty(t, evicted)
	assert.Equal(t, "drone-X", rec.ID, "ids are canonicalized on ingest")
	assert.Equal(t, 1, reg.Len())

	obs := obsWithID("X", "aa:bb")
	obs.Lat = 40.0
	rec2, res, _ := reg.Ingest(obs, now.Add(time.Second))
	assert.Equal(t, IngestMerged, res)
	assert.Same(t, rec, rec2)
	assert.Equal(t, 1, reg.Len())
	assert.InDelta(t, 40.0, rec.Lat, 1e-9)
}

func TestCapacityEvictionIsFIFO(t *testing.T) {
	now := time.Now()
	reg := NewRegistry(3, time.Minute, nil, nil)

	reg.Ingest(obsWithID("A", ""), now)
	reg.Ingest(obsWithID("B", ""), now.Add(time.Second))
	reg.Ingest(obsWithID("C", ""), now.Add(2*time.Second))

	// A is the most recently updated yet still first in line for eviction
	reg.Ingest(obsWithID("A", ""), now.Add(3*time.Second))

	_, res, evicted := reg.Ingest(obsWithID("D", ""), now.Add(4*time.Second))
	assert.Equal(t, IngestCreated, res)
	assert.Equal(t, "drone-A", evicted)
	assert.Equal(t, 3, reg.Len())

	_, ok := reg.Get("drone-A")
	assert.False(t, ok)
	for _, id := range []string{"drone-B", "drone-C", "drone-D"} {
		_, ok := reg.Get(id)
		assert.True(t, ok, id)
	}
	assert.Equal(t, []string{"drone-B", "drone-C", "drone-D"}, reg.ActiveIDs())
}

func TestCorrelateByMACFirstMatch(t *testing.T) {
	now := time.Now()
	reg := NewRegistry(10, time.Minute, nil, nil)

	reg.Ingest(obsWithID("OLD", "aa:bb"), now)
	reg.Ingest(obsWithID("NEW", "aa:bb"), now.Add(time.Second))

	// Touch the newer record so recency cannot be what picks the target
	reg.Ingest(obsWithID("NEW", "aa:bb"), now.Add(2*time.Second))

	caa := remoteid.Observation{MAC: "aa:bb", CAA: "REG-42", IDType: remoteid.IDTypeCAA}
	rec, res, _ := reg.Ingest(caa, now.Add(3*time.Second))
	require.Equal(t, IngestCorrelated, res)
	assert.Equal(t, "drone-OLD", rec.ID, "first-created record wins the MAC match")
	assert.Equal(t, "REG-42", rec.CAA)

	newRec, _ := reg.Get("drone-NEW")
	assert.Empty(t, newRec.CAA)
}

func TestIngestDropsUnroutable(t *testing.T) {
	now := time.Now()
	reg := NewRegistry(10, time.Minute, nil, nil)

	// MAC with no matching record
	rec, res, _ := reg.Ingest(remoteid.Observation{MAC: "no:pe"}, now)
	assert.Nil(t, rec)
	assert.Equal(t, IngestDropped, res)

	// Neither id nor MAC
	rec, res, _ = reg.Ingest(remoteid.Observation{CAA: "REG-1"}, now)
	assert.Nil(t, rec)
	assert.Equal(t, IngestDropped, res)
	assert.Equal(t, 0, reg.Len())
}

func TestSweepMarksWithoutRemoving(t *testing.T) {
	now := time.Now()
	reg := NewRegistry(10, time.Minute, nil, nil)

	reg.Ingest(obsWithID("A", ""), now)
	reg.Ingest(obsWithID("B", ""), now.Add(30*time.Second))

	expired := reg.Sweep(now.Add(61 * time.Second))
	assert.Equal(t, []string{"drone-A"}, expired)
	assert.Equal(t, 2, reg.Len(), "sweep defers removal to the caller")

	reg.Remove("drone-A")
	assert.Equal(t, 1, reg.Len())
	assert.Equal(t, []string{"drone-B"}, reg.ActiveIDs())

	// Removing twice is harmless
	reg.Remove("drone-A")
	assert.Equal(t, 1, reg.Len())
}

func TestTwoMessageScenario(t *testing.T) {
	now := time.Now()
	reg := NewRegistry(10, time.Minute, nil, nil)
	n := remoteid.NewNormalizer(nil)

	first, ok := n.Parse([]any{
		map[string]any{"MAC": "aa:bb:cc:dd:ee:ff"},
		map[string]any{"Basic ID": map[string]any{
			"id": "X", "id_type": remoteid.IDTypeSerial, "ua_type": 2,
		}},
		map[string]any{"Location/Vector Message": map[string]any{
			"latitude": 40.0, "longitude": -70.0, "geodetic_altitude": 100.0,
		}},
	})
	require.True(t, ok)
	_, res, _ := reg.Ingest(first, now)
	assert.Equal(t, IngestCreated, res)

	second, ok := n.Parse([]any{
		map[string]any{"Basic ID": map[string]any{
			"id": "REG-99", "id_type": remoteid.IDTypeCAA, "MAC": "aa:bb:cc:dd:ee:ff",
		}},
	})
	require.True(t, ok)
	_, res, _ = reg.Ingest(second, now.Add(time.Second))
	assert.Equal(t, IngestCorrelated, res)

	require.Equal(t, 1, reg.Len())
	rec, ok := reg.Get("drone-X")
	require.True(t, ok)
	assert.Equal(t, "REG-99", rec.CAA)
	assert.Equal(t, remoteid.IDTypeCAA, rec.IDType)
	require.NotNil(t, rec.PrevLat)
	assert.InDelta(t, 40.0, *rec.PrevLat, 1e-9)
}
