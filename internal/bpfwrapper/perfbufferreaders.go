package bpfwrapper

import (
	"fmt"

	"github.com/iovisor/gobpf/bcc"
	"go.uber.org/zap"
)

const perfBufferPageCount = 64

// EventHandler consumes raw perf buffer payloads until the channel closes.
type EventHandler func(inputChan chan []byte)

// ProbeChannel represents a single handler for a perf output channel in the
// BPF program.
type ProbeChannel struct {
	// Name of the BPF perf output table.
	name string
	// Handler draining the decoded event channel.
	handler EventHandler

	eventChannel      chan []byte
	lostEventsChannel chan uint64
	perfMap           *bcc.PerfMap
}

// NewProbeChannel creates a probe channel for the named perf output table.
func NewProbeChannel(name string, handler EventHandler) *ProbeChannel {
	return &ProbeChannel{
		name:    name,
		handler: handler,
	}
}

// Start launches the handler goroutine and begins polling the perf map.
// Lost events are drained and counted but never block the kernel side.
func (pc *ProbeChannel) Start(module *bcc.Module, logger *zap.Logger) error {
	pc.eventChannel = make(chan []byte)
	pc.lostEventsChannel = make(chan uint64)

	table := bcc.NewTable(module.TableId(pc.name), module)

	var err error
	pc.perfMap, err = bcc.InitPerfMapWithPageCnt(table, pc.eventChannel, pc.lostEventsChannel, perfBufferPageCount)
	if err != nil {
		return fmt.Errorf("failed to init perf map for %q: %w", pc.name, err)
	}

	go pc.handler(pc.eventChannel)
	go func() {
		for lost := range pc.lostEventsChannel {
			logger.Debug("lost perf events", zap.String("channel", pc.name), zap.Uint64("count", lost))
		}
	}()

	pc.perfMap.Start()
	return nil
}

// Stop stops polling the perf map.
func (pc *ProbeChannel) Stop() {
	if pc.perfMap != nil {
		pc.perfMap.Stop()
	}
}

// LaunchPerfBufferConsumers starts every probe channel in the list.
func LaunchPerfBufferConsumers(module *bcc.Module, channels []*ProbeChannel, logger *zap.Logger) error {
	for _, pc := range channels {
		if err := pc.Start(module, logger); err != nil {
			return err
		}
	}
	return nil
}
