package collector

import (
	"errors"
	"net"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/bellistech/tcpscope/internal/structs"
)

type fakeTable struct {
	records []structs.ConnRecord
	err     error
}

func (f *fakeTable) Snapshot() ([]structs.ConnRecord, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.records, nil
}

func addr(s string) uint32 {
	return structs.HostByteOrder.Uint32(net.ParseIP(s).To4())
}

func connRecord(src string, srcPort uint16, dst string, dstPort uint16, m structs.ConnMetrics) structs.ConnRecord {
	return structs.ConnRecord{
		Key: structs.ConnKey{
			SrcIP:   addr(src),
			DstIP:   addr(dst),
			SrcPort: srcPort,
			DstPort: dstPort,
		},
		Metrics: m,
	}
}

func newTestCollector(table Snapshotter) (*Collector, *Metrics) {
	metrics := NewMetrics(prometheus.NewRegistry())
	return New(table, metrics, zap.NewNop()), metrics
}

func TestCollectExportsConnectionCounters(t *testing.T) {
	// Two sends (1000B then 500B) observed over a 3ms connection lifetime.
	table := &fakeTable{records: []structs.ConnRecord{
		connRecord("10.0.0.1", 5000, "93.184.216.34", 443, structs.ConnMetrics{
			BytesSent:   1500,
			PacketsSent: 2,
			StartNs:     0,
			LastSeenNs:  3_000_000,
		}),
	}}
	coll, metrics := newTestCollector(table)

	require.NoError(t, coll.Collect())

	labels := []string{"10.0.0.1", "93.184.216.34", "443"}
	assert.Equal(t, 1500.0, testutil.ToFloat64(metrics.BytesSent.WithLabelValues(labels...)))
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.PacketsSent.WithLabelValues(labels...)))
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.BytesRecv.WithLabelValues(labels...)))
	assert.InDelta(t, 0.003, testutil.ToFloat64(metrics.Duration.WithLabelValues(labels...)), 1e-9)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.ActiveConns))
}

func TestCollectCountsActiveConnections(t *testing.T) {
	table := &fakeTable{records: []structs.ConnRecord{
		connRecord("10.0.0.1", 5000, "1.1.1.1", 53, structs.ConnMetrics{LastSeenNs: 1}),
		connRecord("10.0.0.1", 5001, "1.1.1.1", 53, structs.ConnMetrics{LastSeenNs: 1}),
		connRecord("10.0.0.2", 5002, "8.8.8.8", 53, structs.ConnMetrics{LastSeenNs: 1}),
	}}
	coll, metrics := newTestCollector(table)

	require.NoError(t, coll.Collect())
	assert.Equal(t, 3.0, testutil.ToFloat64(metrics.ActiveConns))

	table.records = table.records[:1]
	require.NoError(t, coll.Collect())
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.ActiveConns))
}

func TestCollectFailureKeepsPriorValues(t *testing.T) {
	table := &fakeTable{records: []structs.ConnRecord{
		connRecord("10.0.0.1", 5000, "93.184.216.34", 443, structs.ConnMetrics{
			BytesSent:  100,
			LastSeenNs: 2_000_000_000,
		}),
	}}
	coll, metrics := newTestCollector(table)
	require.NoError(t, coll.Collect())

	table.err = errors.New("map walk interrupted")
	require.Error(t, coll.Collect())

	labels := []string{"10.0.0.1", "93.184.216.34", "443"}
	assert.Equal(t, 100.0, testutil.ToFloat64(metrics.BytesSent.WithLabelValues(labels...)))
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.Duration.WithLabelValues(labels...)))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.ActiveConns))
}

func TestCollectRetransmits(t *testing.T) {
	table := &fakeTable{records: []structs.ConnRecord{
		connRecord("10.0.0.1", 5000, "93.184.216.34", 443, structs.ConnMetrics{
			Retransmits: 7,
			LastSeenNs:  1,
		}),
	}}
	coll, metrics := newTestCollector(table)

	require.NoError(t, coll.Collect())
	assert.Equal(t, 7.0, testutil.ToFloat64(metrics.Retransmits.WithLabelValues("10.0.0.1", "93.184.216.34", "443")))
}
