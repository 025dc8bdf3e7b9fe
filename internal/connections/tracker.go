// Package connections aggregates HTTP events from the kernel side-channel
// per connection and ships finished summaries to the configured sink.
package connections

import (
	"sync"
	"time"

	"github.com/bellistech/tcpscope/internal/structs"
)

// Tracker accumulates the HTTP events observed on one connection.
type Tracker struct {
	key structs.ConnKey

	firstSeen time.Time
	lastSeen  time.Time

	requestCount   uint64
	totalLatencyNs uint64
	statusClasses  [6]uint64 // index = status/100, [0] collects anything below 100
	methodCounts   map[uint8]uint64

	mutex sync.RWMutex
}

// Summary is the JSON payload published for a finished connection.
type Summary struct {
	SrcAddr       string            `json:"src_addr"`
	SrcPort       uint16            `json:"src_port"`
	DstAddr       string            `json:"dst_addr"`
	DstPort       uint16            `json:"dst_port"`
	RequestCount  uint64            `json:"request_count"`
	AvgLatencyMs  float64           `json:"avg_latency_ms"`
	StatusClasses map[string]uint64 `json:"status_classes"`
	FirstSeen     time.Time         `json:"first_seen"`
	LastSeen      time.Time         `json:"last_seen"`
}

// NewTracker creates a tracker for the given connection.
func NewTracker(key structs.ConnKey) *Tracker {
	return &Tracker{
		key:          key,
		firstSeen:    time.Now(),
		lastSeen:     time.Now(),
		methodCounts: make(map[uint8]uint64),
	}
}

// AddEvent folds one event into the tracker.
func (t *Tracker) AddEvent(ev structs.HttpEvent) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	t.lastSeen = time.Now()
	t.requestCount++
	t.totalLatencyNs += ev.LatencyNs
	t.methodCounts[ev.Method]++

	class := int(ev.StatusCode) / 100
	if class < 0 || class >= len(t.statusClasses) {
		class = 0
	}
	t.statusClasses[class]++
}

// IsInactive reports whether no event arrived within the threshold.
func (t *Tracker) IsInactive(threshold time.Duration) bool {
	t.mutex.RLock()
	defer t.mutex.RUnlock()
	return time.Since(t.lastSeen) > threshold
}

// RequestCount returns the number of folded events.
func (t *Tracker) RequestCount() uint64 {
	t.mutex.RLock()
	defer t.mutex.RUnlock()
	return t.requestCount
}

// Summary renders the current state for publishing.
func (t *Tracker) Summary() Summary {
	t.mutex.RLock()
	defer t.mutex.RUnlock()

	classes := make(map[string]uint64)
	names := [6]string{"other", "1xx", "2xx", "3xx", "4xx", "5xx"}
	for i, n := range t.statusClasses {
		if n > 0 {
			classes[names[i]] = n
		}
	}

	var avgLatencyMs float64
	if t.requestCount > 0 {
		avgLatencyMs = float64(t.totalLatencyNs) / float64(t.requestCount) / 1e6
	}

	return Summary{
		SrcAddr:       t.key.SrcAddr(),
		SrcPort:       t.key.SrcPort,
		DstAddr:       t.key.DstAddr(),
		DstPort:       t.key.DstPort,
		RequestCount:  t.requestCount,
		AvgLatencyMs:  avgLatencyMs,
		StatusClasses: classes,
		FirstSeen:     t.firstSeen,
		LastSeen:      t.lastSeen,
	}
}
