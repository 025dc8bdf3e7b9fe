package connections

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/bellistech/tcpscope/internal/structs"
)

// Publisher ships a finished connection summary to an external sink.
type Publisher interface {
	Publish(ctx context.Context, s Summary) error
}

// Factory is a routine-safe container holding one tracker per connection.
type Factory struct {
	trackers            map[structs.ConnKey]*Tracker
	inactivityThreshold time.Duration
	maxActiveTrackers   int
	mutex               *sync.RWMutex
	logger              *zap.Logger
}

// NewFactory creates a factory with the given sweep threshold and capacity.
func NewFactory(inactivityThreshold time.Duration, maxActiveTrackers int, logger *zap.Logger) *Factory {
	return &Factory{
		trackers:            make(map[structs.ConnKey]*Tracker),
		inactivityThreshold: inactivityThreshold,
		maxActiveTrackers:   maxActiveTrackers,
		mutex:               &sync.RWMutex{},
		logger:              logger,
	}
}

// GetOrCreate returns the tracker for the given connection, creating it if
// needed.
func (f *Factory) GetOrCreate(key structs.ConnKey) *Tracker {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	tracker, ok := f.trackers[key]
	if !ok {
		tracker = NewTracker(key)
		f.trackers[key] = tracker
	}
	return tracker
}

// Get returns the tracker for the given connection, or nil.
func (f *Factory) Get(key structs.ConnKey) *Tracker {
	f.mutex.RLock()
	defer f.mutex.RUnlock()
	return f.trackers[key]
}

// CanBeFilled reports whether there is room for another tracker. Events for
// new connections are dropped when the factory is full.
func (f *Factory) CanBeFilled() bool {
	f.mutex.RLock()
	defer f.mutex.RUnlock()
	return len(f.trackers) < f.maxActiveTrackers
}

// Len returns the number of live trackers.
func (f *Factory) Len() int {
	f.mutex.RLock()
	defer f.mutex.RUnlock()
	return len(f.trackers)
}

// HandleEvents drains raw perf payloads into trackers until the channel
// closes. Undecodable payloads are logged and skipped.
func (f *Factory) HandleEvents(inputChan chan []byte) {
	for data := range inputChan {
		if data == nil {
			return
		}
		ev, err := structs.DecodeHttpEvent(data)
		if err != nil {
			f.logger.Warn("dropping http event", zap.Error(err))
			continue
		}
		if f.Get(ev.Conn) == nil && !f.CanBeFilled() {
			continue
		}
		f.GetOrCreate(ev.Conn).AddEvent(ev)
	}
}

// HandleReadyConnections sweeps inactive trackers, publishing those that saw
// traffic. Publish failures keep the tracker for the next sweep.
func (f *Factory) HandleReadyConnections(ctx context.Context, publisher Publisher) {
	trackersToDelete := make(map[structs.ConnKey]struct{})

	f.mutex.RLock()
	candidates := make(map[structs.ConnKey]*Tracker, len(f.trackers))
	for key, tracker := range f.trackers {
		candidates[key] = tracker
	}
	f.mutex.RUnlock()

	for key, tracker := range candidates {
		if !tracker.IsInactive(f.inactivityThreshold) {
			continue
		}
		if tracker.RequestCount() == 0 || publisher == nil {
			trackersToDelete[key] = struct{}{}
			continue
		}
		if err := publisher.Publish(ctx, tracker.Summary()); err != nil {
			f.logger.Error("failed to publish connection summary", zap.Error(err))
			continue
		}
		trackersToDelete[key] = struct{}{}
	}

	f.mutex.Lock()
	defer f.mutex.Unlock()
	for key := range trackersToDelete {
		delete(f.trackers, key)
	}
}

// Run sweeps on the given interval until the context is canceled.
func (f *Factory) Run(ctx context.Context, interval time.Duration, publisher Publisher) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.HandleReadyConnections(ctx, publisher)
		}
	}
}
