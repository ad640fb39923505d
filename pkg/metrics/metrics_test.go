package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func TestSnapshotIsPointInTimeCopy(t *testing.T) {
	var c Counters
	c.SentReliable.Store(3)
	c.LostMarked.Store(1)

	snap := c.Snapshot()
	require.Equal(t, uint64(3), snap.SentReliable)
	require.Equal(t, uint64(1), snap.LostMarked)

	c.SentReliable.Add(1)
	require.Equal(t, uint64(3), snap.SentReliable, "snapshot must not observe later mutations")
}

func TestCollectorExportsCounters(t *testing.T) {
	var c Counters
	c.SentReliable.Store(5)
	c.Registrations.Store(2)

	collector := NewCollector(&c, prometheus.Labels{"endpoint": "test"})

	ch := make(chan prometheus.Metric, 32)
	collector.Collect(ch)
	close(ch)

	found := map[string]float64{}
	for m := range ch {
		var pb dto.Metric
		require.NoError(t, m.Write(&pb))
		found[m.Desc().String()] = pb.GetCounter().GetValue()
	}
	require.Len(t, found, 12)
}
