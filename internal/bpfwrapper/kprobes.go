// Package bpfwrapper wires compiled BCC programs to their kernel hook
// points and pumps perf buffer output into Go channels.
package bpfwrapper

import (
	"fmt"

	"github.com/iovisor/gobpf/bcc"
	"go.uber.org/zap"
)

const maxActiveProbes = 1024

// ProbeType represents whether the probe is an entry or a return.
type ProbeType int

const (
	EntryType  ProbeType = 0
	ReturnType ProbeType = 1
)

// Kprobe represents a single kprobe hook.
type Kprobe struct {
	// The name of the kernel function to hook.
	FunctionToHook string
	// The name of the hook function in the BPF program.
	HookName string
	// Whether a kprobe or ret-kprobe.
	Type ProbeType
	// Whether the function to hook is a syscall.
	IsSyscall bool
}

// Tracepoint represents a single tracepoint hook, e.g. tcp:tcp_retransmit_skb.
type Tracepoint struct {
	// Tracepoint name in category:event form.
	Name string
	// The name of the hook function in the BPF program.
	HookName string
}

// AttachKprobes loads and attaches the given kprobe list. Loading and
// attaching are separate steps so a missing kernel symbol is reported
// against the hook that needs it. Any failure is returned immediately;
// partial attachment is not a usable state.
func AttachKprobes(module *bcc.Module, kprobeList []Kprobe, logger *zap.Logger) error {
	for _, probe := range kprobeList {
		functionToHook := probe.FunctionToHook
		if probe.IsSyscall {
			functionToHook = bcc.GetSyscallFnName(probe.FunctionToHook)
		}

		probeFD, err := module.LoadKprobe(probe.HookName)
		if err != nil {
			return fmt.Errorf("failed to load %q: %w", probe.HookName, err)
		}

		switch probe.Type {
		case EntryType:
			if err := module.AttachKprobe(functionToHook, probeFD, maxActiveProbes); err != nil {
				return fmt.Errorf("failed to attach kprobe %q to %q: %w", probe.HookName, functionToHook, err)
			}
		case ReturnType:
			if err := module.AttachKretprobe(functionToHook, probeFD, maxActiveProbes); err != nil {
				return fmt.Errorf("failed to attach kretprobe %q to %q: %w", probe.HookName, functionToHook, err)
			}
		default:
			return fmt.Errorf("unknown probe type %d for %q", probe.Type, probe.HookName)
		}
		logger.Info("attached kprobe",
			zap.String("hook", probe.HookName),
			zap.String("function", functionToHook))
	}
	return nil
}

// AttachTracepoints loads and attaches the given tracepoint list, with the
// same two-phase, fail-fast behavior as AttachKprobes.
func AttachTracepoints(module *bcc.Module, tracepointList []Tracepoint, logger *zap.Logger) error {
	for _, tp := range tracepointList {
		probeFD, err := module.LoadTracepoint(tp.HookName)
		if err != nil {
			return fmt.Errorf("failed to load %q: %w", tp.HookName, err)
		}
		if err := module.AttachTracepoint(tp.Name, probeFD); err != nil {
			return fmt.Errorf("failed to attach tracepoint %q to %q: %w", tp.HookName, tp.Name, err)
		}
		logger.Info("attached tracepoint",
			zap.String("hook", tp.HookName),
			zap.String("tracepoint", tp.Name))
	}
	return nil
}
