package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bellistech/tcpscope/internal/structs"
)

func TestDefaults(t *testing.T) {
	cfg := Default()

	assert.Equal(t, uint32(0), cfg.Target.Pid)
	assert.Empty(t, cfg.Target.Ports)
	assert.Equal(t, 9090, cfg.Metrics.Port)
	assert.Equal(t, 5*time.Second, cfg.Interval())
	assert.False(t, cfg.Metrics.EnableHTTP)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.False(t, cfg.Logging.EBPFDebug)
	assert.Equal(t, "", cfg.Kafka.Brokers)
}

func TestLoadYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tcpscope.yaml")
	content := `
target:
  pid: 1234
  ports: [80, 443]
metrics:
  port: 9191
  interval_secs: 10
  enable_http: true
logging:
  level: debug
  ebpf_debug: true
kafka:
  brokers: "kafka:9092"
  topic: "edge.http.events"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, uint32(1234), cfg.Target.Pid)
	assert.Equal(t, []uint16{80, 443}, cfg.Target.Ports)
	assert.Equal(t, 9191, cfg.Metrics.Port)
	assert.Equal(t, 10*time.Second, cfg.Interval())
	assert.True(t, cfg.Metrics.EnableHTTP)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.True(t, cfg.Logging.EBPFDebug)
	assert.Equal(t, "kafka:9092", cfg.Kafka.Brokers)
	assert.Equal(t, "edge.http.events", cfg.Kafka.Topic)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoadPartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "partial.yaml")
	require.NoError(t, os.WriteFile(path, []byte("target:\n  pid: 99\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, uint32(99), cfg.Target.Pid)
	assert.Equal(t, 9090, cfg.Metrics.Port)
	assert.Equal(t, 5*time.Second, cfg.Interval())
}

func TestRuntimeConfigMapping(t *testing.T) {
	cfg := Default()
	cfg.Target.Pid = 42
	cfg.Target.Cgroup = 7
	cfg.Target.Ports = []uint16{80, 443, 8080}
	cfg.Metrics.EnableHTTP = true
	cfg.Logging.EBPFDebug = true

	rc := cfg.RuntimeConfig()
	assert.Equal(t, uint32(42), rc.TargetPid)
	assert.Equal(t, uint64(7), rc.TargetCgroup)
	assert.Equal(t, uint8(3), rc.NumTargetPorts)
	assert.Equal(t, uint16(80), rc.TargetPorts[0])
	assert.Equal(t, uint16(443), rc.TargetPorts[1])
	assert.Equal(t, uint16(8080), rc.TargetPorts[2])
	assert.Equal(t, uint8(1), rc.EnableHTTP)
	assert.Equal(t, uint8(1), rc.DebugMode)
}

func TestRuntimeConfigPortTruncation(t *testing.T) {
	cfg := Default()
	for port := 1; port <= 12; port++ {
		cfg.Target.Ports = append(cfg.Target.Ports, uint16(port))
	}

	rc := cfg.RuntimeConfig()
	assert.Equal(t, uint8(structs.MaxTargetPorts), rc.NumTargetPorts)
	for i := 0; i < structs.MaxTargetPorts; i++ {
		assert.Equal(t, uint16(i+1), rc.TargetPorts[i])
	}
}

func TestIntervalFallback(t *testing.T) {
	cfg := Default()
	cfg.Metrics.IntervalSecs = 0
	assert.Equal(t, 5*time.Second, cfg.Interval())
}
