package collector

import (
	"fmt"

	"github.com/bellistech/tcpscope/internal/structs"
)

// Endpoint identifies a destination (address, port) pair.
type Endpoint struct {
	Addr string
	Port uint16
}

// EndpointMetrics is the rollup of every tracked connection to one
// destination.
type EndpointMetrics struct {
	TotalBytesSent   uint64
	TotalBytesRecv   uint64
	TotalPacketsSent uint64
	TotalPacketsRecv uint64
	TotalRetransmits uint64
	ConnectionCount  uint64
	AvgDurationMs    float64
}

// AggregateByDestination folds per-connection records into per-destination
// totals. The average duration is maintained incrementally so no per-group
// history is kept; the fold is pure and tolerates any record order.
func AggregateByDestination(records []structs.ConnRecord) map[Endpoint]*EndpointMetrics {
	aggregated := make(map[Endpoint]*EndpointMetrics)

	for _, rec := range records {
		endpoint := Endpoint{Addr: rec.Key.DstAddr(), Port: rec.Key.DstPort}
		entry, ok := aggregated[endpoint]
		if !ok {
			entry = &EndpointMetrics{}
			aggregated[endpoint] = entry
		}

		m := rec.Metrics
		entry.TotalBytesSent += m.BytesSent
		entry.TotalBytesRecv += m.BytesRecv
		entry.TotalPacketsSent += m.PacketsSent
		entry.TotalPacketsRecv += m.PacketsRecv
		entry.TotalRetransmits += uint64(m.Retransmits)
		entry.ConnectionCount++

		durationMs := float64(m.DurationNs()) / 1e6
		n := float64(entry.ConnectionCount)
		entry.AvgDurationMs = entry.AvgDurationMs*((n-1)/n) + durationMs/n
	}
	return aggregated
}

// FormatBytes renders a byte count in human-readable form.
func FormatBytes(bytes uint64) string {
	switch {
	case bytes >= 1<<30:
		return fmt.Sprintf("%.2f GB", float64(bytes)/(1<<30))
	case bytes >= 1<<20:
		return fmt.Sprintf("%.2f MB", float64(bytes)/(1<<20))
	case bytes >= 1<<10:
		return fmt.Sprintf("%.2f KB", float64(bytes)/(1<<10))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}

// FormatDuration renders a millisecond duration in human-readable form.
func FormatDuration(ms float64) string {
	switch {
	case ms >= 60_000:
		return fmt.Sprintf("%.1f min", ms/60_000)
	case ms >= 1000:
		return fmt.Sprintf("%.2f s", ms/1000)
	default:
		return fmt.Sprintf("%.0f ms", ms)
	}
}
