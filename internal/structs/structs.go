// Package structs mirrors the records stored in the BPF maps. Field order,
// widths and padding must match the C declarations in internal/bpf exactly;
// both sides read and write these layouts byte for byte.
package structs

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"net"
	"unsafe"
)

// Sizes of the wire layouts, including explicit padding.
const (
	ConnKeySize       = 12
	ConnMetricsSize   = 56
	HttpEventSize     = 32
	ProcessInfoSize   = 24
	RuntimeConfigSize = 40
)

// MaxTargetPorts is the capacity of the port filter carried in RuntimeConfig.
const MaxTargetPorts = 8

// HTTP method codes carried in HttpEvent.Method.
const (
	MethodGet     = 0
	MethodPost    = 1
	MethodPut     = 2
	MethodDelete  = 3
	MethodPatch   = 4
	MethodHead    = 5
	MethodOptions = 6
	MethodUnknown = 255
)

// ConnKey identifies a TCP connection by its 4-tuple. Addresses are in
// network byte order, ports in host byte order (skc_num / ntohs(skc_dport)).
type ConnKey struct {
	SrcIP   uint32
	DstIP   uint32
	SrcPort uint16
	DstPort uint16
}

// ConnMetrics holds the per-connection counters maintained by the probes.
// Timestamps are monotonic nanoseconds (bpf_ktime_get_ns).
type ConnMetrics struct {
	BytesSent   uint64
	BytesRecv   uint64
	PacketsSent uint64
	PacketsRecv uint64
	StartNs     uint64
	LastSeenNs  uint64
	Retransmits uint32
	Pad         uint32
}

// ConnRecord pairs a key with the metrics snapshot read for it.
type ConnRecord struct {
	Key     ConnKey
	Metrics ConnMetrics
}

// HttpEvent is one request/response observation delivered over the
// http_events perf channel.
type HttpEvent struct {
	Conn       ConnKey
	Pad0       uint32
	LatencyNs  uint64
	StatusCode uint16
	Method     uint8
	Pad1       uint8
	PathHash   uint32
}

// ProcessInfo carries the identity fields used for scoping a trace.
type ProcessInfo struct {
	Pid      uint32
	Tgid     uint32
	Uid      uint32
	Gid      uint32
	CgroupID uint64
}

// RuntimeConfig is the single-slot record userspace pushes into the config
// map. Probes treat a missing slot as "trace everything".
type RuntimeConfig struct {
	TargetPid      uint32
	Pad0           uint32
	TargetCgroup   uint64
	TargetPorts    [MaxTargetPorts]uint16
	NumTargetPorts uint8
	EnableHTTP     uint8
	DebugMode      uint8
	Pad1           uint8
	Pad2           uint32
}

// HostByteOrder is the byte order the kernel wrote map values in. BPF map
// reads hand back raw memory, so decoding always uses the native order.
var HostByteOrder = hostByteOrder()

func hostByteOrder() binary.ByteOrder {
	var probe uint16 = 1
	if *(*byte)(unsafe.Pointer(&probe)) == 1 {
		return binary.LittleEndian
	}
	return binary.BigEndian
}

// Encode serializes the key for use as a BPF map key.
func (k ConnKey) Encode() []byte {
	buf := bytes.NewBuffer(make([]byte, 0, ConnKeySize))
	binary.Write(buf, HostByteOrder, k)
	return buf.Bytes()
}

// DecodeConnKey parses a raw map key.
func DecodeConnKey(data []byte) (ConnKey, error) {
	var k ConnKey
	if err := binary.Read(bytes.NewReader(data), HostByteOrder, &k); err != nil {
		return ConnKey{}, fmt.Errorf("decode conn key: %w", err)
	}
	return k, nil
}

// DecodeConnMetrics parses a raw map value.
func DecodeConnMetrics(data []byte) (ConnMetrics, error) {
	var m ConnMetrics
	if err := binary.Read(bytes.NewReader(data), HostByteOrder, &m); err != nil {
		return ConnMetrics{}, fmt.Errorf("decode conn metrics: %w", err)
	}
	return m, nil
}

// DecodeHttpEvent parses a perf buffer payload.
func DecodeHttpEvent(data []byte) (HttpEvent, error) {
	var ev HttpEvent
	if err := binary.Read(bytes.NewReader(data), HostByteOrder, &ev); err != nil {
		return HttpEvent{}, fmt.Errorf("decode http event: %w", err)
	}
	return ev, nil
}

// Encode serializes the config record for the map slot.
func (c RuntimeConfig) Encode() []byte {
	buf := bytes.NewBuffer(make([]byte, 0, RuntimeConfigSize))
	binary.Write(buf, HostByteOrder, c)
	return buf.Bytes()
}

// SrcAddr renders the source address in dotted-quad form.
func (k ConnKey) SrcAddr() string { return ipv4String(k.SrcIP) }

// DstAddr renders the destination address in dotted-quad form.
func (k ConnKey) DstAddr() string { return ipv4String(k.DstIP) }

// ipv4String formats a network-byte-order address. Re-encoding the uint32
// with the same order it was decoded with restores the original byte
// sequence, which is already network order.
func ipv4String(addr uint32) string {
	var b [4]byte
	HostByteOrder.PutUint32(b[:], addr)
	return net.IP(b[:]).String()
}

// DurationNs returns the observed lifetime of the connection.
func (m ConnMetrics) DurationNs() uint64 {
	if m.LastSeenNs < m.StartNs {
		return 0
	}
	return m.LastSeenNs - m.StartNs
}

func (k ConnKey) String() string {
	return fmt.Sprintf("%s:%d -> %s:%d", k.SrcAddr(), k.SrcPort, k.DstAddr(), k.DstPort)
}
