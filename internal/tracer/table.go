package tracer

import (
	"fmt"

	"github.com/iovisor/gobpf/bcc"

	"github.com/bellistech/tcpscope/internal/structs"
)

// ConnTable reads the kernel connection table. Only the probes mutate
// entries; userspace is restricted to iteration.
type ConnTable struct {
	table *bcc.Table
}

// Snapshot walks the table once and decodes every entry. The walk is a
// point-in-time iteration: entries created or removed mid-walk may or may
// not appear, which is acceptable for approximate counters. An iteration
// failure invalidates the whole snapshot.
func (ct *ConnTable) Snapshot() ([]structs.ConnRecord, error) {
	var records []structs.ConnRecord

	iter := ct.table.Iter()
	for iter.Next() {
		key, err := structs.DecodeConnKey(iter.Key())
		if err != nil {
			return nil, err
		}
		metrics, err := structs.DecodeConnMetrics(iter.Leaf())
		if err != nil {
			return nil, err
		}
		records = append(records, structs.ConnRecord{Key: key, Metrics: metrics})
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("iterate connections: %w", err)
	}
	return records, nil
}
