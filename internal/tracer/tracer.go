// Package tracer loads the BPF program, pushes the runtime configuration
// into the kernel and attaches the TCP probes.
package tracer

import (
	"errors"
	"fmt"

	"github.com/iovisor/gobpf/bcc"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"

	"github.com/bellistech/tcpscope/internal/bpf"
	"github.com/bellistech/tcpscope/internal/bpfwrapper"
	"github.com/bellistech/tcpscope/internal/config"
	"github.com/bellistech/tcpscope/internal/structs"
)

var tcpProbes = []bpfwrapper.Kprobe{
	{FunctionToHook: "tcp_connect", HookName: "trace_tcp_connect", Type: bpfwrapper.EntryType},
	{FunctionToHook: "tcp_sendmsg", HookName: "trace_tcp_sendmsg", Type: bpfwrapper.EntryType},
	{FunctionToHook: "tcp_recvmsg", HookName: "trace_tcp_recvmsg", Type: bpfwrapper.EntryType},
	{FunctionToHook: "tcp_recvmsg", HookName: "trace_tcp_recvmsg_ret", Type: bpfwrapper.ReturnType},
	{FunctionToHook: "tcp_close", HookName: "trace_tcp_close", Type: bpfwrapper.EntryType},
}

var tcpTracepoints = []bpfwrapper.Tracepoint{
	{Name: "tcp:tcp_retransmit_skb", HookName: "tracepoint__tcp__tcp_retransmit_skb"},
}

// Tracer owns the compiled BPF module and its attachments.
type Tracer struct {
	module   *bcc.Module
	logger   *zap.Logger
	channels []*bpfwrapper.ProbeChannel
}

// New compiles the program, writes the config slot and attaches every hook.
// Any load or attach failure aborts startup; a partially attached probe set
// is not a degraded mode.
func New(cfg *config.Config, logger *zap.Logger) (*Tracer, error) {
	if err := bumpMemlockRlimit(); err != nil {
		return nil, fmt.Errorf("raise memlock rlimit: %w", err)
	}

	module := bcc.NewModule(bpf.Source, nil)
	if module == nil {
		return nil, errors.New("failed to compile BPF program")
	}

	t := &Tracer{module: module, logger: logger}
	if err := t.pushConfig(cfg.RuntimeConfig()); err != nil {
		t.Close()
		return nil, err
	}
	if err := bpfwrapper.AttachKprobes(module, tcpProbes, logger); err != nil {
		t.Close()
		return nil, err
	}
	if err := bpfwrapper.AttachTracepoints(module, tcpTracepoints, logger); err != nil {
		t.Close()
		return nil, err
	}
	return t, nil
}

// BPF map creation charges locked memory against RLIMIT_MEMLOCK, so lift it
// before the module loads. Requires privilege; failing here is fatal.
func bumpMemlockRlimit() error {
	limit := unix.Rlimit{Cur: unix.RLIM_INFINITY, Max: unix.RLIM_INFINITY}
	return unix.Setrlimit(unix.RLIMIT_MEMLOCK, &limit)
}

// pushConfig overwrites slot 0 of the config array. Probes pick the new
// value up on their next invocation.
func (t *Tracer) pushConfig(rc structs.RuntimeConfig) error {
	table := bcc.NewTable(t.module.TableId("config"), t.module)
	slot := make([]byte, 4)
	if err := table.Set(slot, rc.Encode()); err != nil {
		return fmt.Errorf("write config slot: %w", err)
	}
	return nil
}

// Connections returns a reader over the kernel connection table.
func (t *Tracer) Connections() *ConnTable {
	return &ConnTable{table: bcc.NewTable(t.module.TableId("connections"), t.module)}
}

// ConsumeHTTPEvents starts draining the http_events perf channel into the
// given handler.
func (t *Tracer) ConsumeHTTPEvents(handler bpfwrapper.EventHandler) error {
	pc := bpfwrapper.NewProbeChannel("http_events", handler)
	if err := pc.Start(t.module, t.logger); err != nil {
		return err
	}
	t.channels = append(t.channels, pc)
	return nil
}

// Close detaches everything and releases the module.
func (t *Tracer) Close() {
	for _, pc := range t.channels {
		pc.Stop()
	}
	t.module.Close()
}
