package structs

import (
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLayoutSizes(t *testing.T) {
	assert.Equal(t, ConnKeySize, binary.Size(ConnKey{}))
	assert.Equal(t, ConnMetricsSize, binary.Size(ConnMetrics{}))
	assert.Equal(t, HttpEventSize, binary.Size(HttpEvent{}))
	assert.Equal(t, ProcessInfoSize, binary.Size(ProcessInfo{}))
	assert.Equal(t, RuntimeConfigSize, binary.Size(RuntimeConfig{}))
}

func TestConnKeyRoundTrip(t *testing.T) {
	key := ConnKey{
		SrcIP:   0x0100000a,
		DstIP:   0x22d8b85d,
		SrcPort: 5000,
		DstPort: 443,
	}

	raw := key.Encode()
	require.Len(t, raw, ConnKeySize)

	decoded, err := DecodeConnKey(raw)
	require.NoError(t, err)
	assert.Equal(t, key, decoded)
}

func TestConnKeyAddressFormatting(t *testing.T) {
	// Addresses as the kernel stores them: network byte order, so the raw
	// bytes are the dotted-quad octets in sequence.
	raw := make([]byte, ConnKeySize)
	copy(raw[0:4], []byte{10, 0, 0, 1})
	copy(raw[4:8], []byte{93, 184, 216, 34})
	HostByteOrder.PutUint16(raw[8:10], 5000)
	HostByteOrder.PutUint16(raw[10:12], 443)

	key, err := DecodeConnKey(raw)
	require.NoError(t, err)

	assert.Equal(t, "10.0.0.1", key.SrcAddr())
	assert.Equal(t, "93.184.216.34", key.DstAddr())
	assert.Equal(t, uint16(5000), key.SrcPort)
	assert.Equal(t, uint16(443), key.DstPort)
	assert.Equal(t, "10.0.0.1:5000 -> 93.184.216.34:443", key.String())
}

func TestDecodeConnMetrics(t *testing.T) {
	var buf bytes.Buffer
	src := ConnMetrics{
		BytesSent:   1500,
		BytesRecv:   4096,
		PacketsSent: 2,
		PacketsRecv: 3,
		StartNs:     1_000_000,
		LastSeenNs:  4_000_000,
		Retransmits: 1,
	}
	require.NoError(t, binary.Write(&buf, HostByteOrder, src))
	require.Len(t, buf.Bytes(), ConnMetricsSize)

	decoded, err := DecodeConnMetrics(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, src, decoded)
	assert.Equal(t, uint64(3_000_000), decoded.DurationNs())
}

func TestDecodeConnMetricsShortBuffer(t *testing.T) {
	_, err := DecodeConnMetrics(make([]byte, ConnMetricsSize-1))
	assert.Error(t, err)
}

func TestDurationNeverNegative(t *testing.T) {
	m := ConnMetrics{StartNs: 10, LastSeenNs: 5}
	assert.Equal(t, uint64(0), m.DurationNs())
}

func TestRuntimeConfigRoundTrip(t *testing.T) {
	cfg := RuntimeConfig{
		TargetPid:      1234,
		TargetCgroup:   99,
		NumTargetPorts: 2,
		EnableHTTP:     1,
		DebugMode:      1,
	}
	cfg.TargetPorts[0] = 80
	cfg.TargetPorts[1] = 443

	raw := cfg.Encode()
	require.Len(t, raw, RuntimeConfigSize)

	var decoded RuntimeConfig
	require.NoError(t, binary.Read(bytes.NewReader(raw), HostByteOrder, &decoded))
	assert.Equal(t, cfg, decoded)
}

func TestRuntimeConfigZeroValueIsWildcard(t *testing.T) {
	raw := RuntimeConfig{}.Encode()
	assert.Equal(t, make([]byte, RuntimeConfigSize), raw)
}

func TestDecodeHttpEvent(t *testing.T) {
	ev := HttpEvent{
		Conn:       ConnKey{SrcIP: 1, DstIP: 2, SrcPort: 3, DstPort: 4},
		LatencyNs:  5_000_000,
		StatusCode: 200,
		Method:     MethodGet,
		PathHash:   0xdeadbeef,
	}
	var buf bytes.Buffer
	require.NoError(t, binary.Write(&buf, HostByteOrder, ev))
	require.Len(t, buf.Bytes(), HttpEventSize)

	decoded, err := DecodeHttpEvent(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, ev, decoded)
}
