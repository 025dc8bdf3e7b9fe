// Package collector turns connection table snapshots into exported metrics.
package collector

import (
	"context"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/bellistech/tcpscope/internal/structs"
)

// Snapshotter produces a point-in-time view of the connection table.
type Snapshotter interface {
	Snapshot() ([]structs.ConnRecord, error)
}

// Collector drives periodic collection cycles.
type Collector struct {
	table   Snapshotter
	metrics *Metrics
	logger  *zap.Logger
}

// New creates a collector over the given table.
func New(table Snapshotter, metrics *Metrics, logger *zap.Logger) *Collector {
	return &Collector{table: table, metrics: metrics, logger: logger}
}

// Collect runs one cycle: snapshot the table and fold every record into the
// exported series. On snapshot failure the previously exported values stay
// in place and the error is returned to the caller.
func (c *Collector) Collect() error {
	records, err := c.table.Snapshot()
	if err != nil {
		return err
	}

	for _, rec := range records {
		srcIP := rec.Key.SrcAddr()
		dstIP := rec.Key.DstAddr()
		dstPort := strconv.Itoa(int(rec.Key.DstPort))
		m := rec.Metrics

		c.metrics.BytesSent.WithLabelValues(srcIP, dstIP, dstPort).Add(float64(m.BytesSent))
		c.metrics.BytesRecv.WithLabelValues(srcIP, dstIP, dstPort).Add(float64(m.BytesRecv))
		c.metrics.PacketsSent.WithLabelValues(srcIP, dstIP, dstPort).Add(float64(m.PacketsSent))
		c.metrics.PacketsRecv.WithLabelValues(srcIP, dstIP, dstPort).Add(float64(m.PacketsRecv))
		c.metrics.Retransmits.WithLabelValues(srcIP, dstIP, dstPort).Add(float64(m.Retransmits))
		c.metrics.Duration.WithLabelValues(srcIP, dstIP, dstPort).Set(float64(m.DurationNs()) / 1e9)
	}
	c.metrics.ActiveConns.Set(float64(len(records)))

	if ce := c.logger.Check(zap.DebugLevel, "collection cycle"); ce != nil {
		var totalSent uint64
		for _, rec := range records {
			totalSent += rec.Metrics.BytesSent
		}
		ce.Write(
			zap.Int("connections", len(records)),
			zap.Int("endpoints", len(AggregateByDestination(records))),
			zap.String("bytes_sent", FormatBytes(totalSent)),
		)
	}
	return nil
}

// Run collects on every tick until the context is canceled. A cycle that
// has started always runs to completion; cancellation is only observed
// between cycles. Cycle errors are logged and the next tick proceeds
// normally.
func (c *Collector) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.Collect(); err != nil {
				c.logger.Error("collection cycle failed", zap.Error(err))
			}
		}
	}
}
