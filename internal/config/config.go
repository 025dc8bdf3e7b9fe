// Package config resolves the process configuration from defaults, an
// optional YAML file and command-line overrides, and maps it onto the
// runtime record pushed into the kernel.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/bellistech/tcpscope/internal/structs"
)

// Config is the resolved process configuration.
type Config struct {
	Target  TargetConfig  `mapstructure:"target"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	Logging LoggingConfig `mapstructure:"logging"`
	Kafka   KafkaConfig   `mapstructure:"kafka"`
}

// TargetConfig scopes which traffic gets traced.
type TargetConfig struct {
	// Pid to monitor, 0 traces all processes.
	Pid uint32 `mapstructure:"pid"`
	// Cgroup id to monitor, 0 traces all cgroups.
	Cgroup uint64 `mapstructure:"cgroup"`
	// Destination ports to monitor, empty traces all ports.
	Ports []uint16 `mapstructure:"ports"`
}

// MetricsConfig controls collection and export.
type MetricsConfig struct {
	Port         int  `mapstructure:"port"`
	IntervalSecs int  `mapstructure:"interval_secs"`
	EnableHTTP   bool `mapstructure:"enable_http"`
}

// LoggingConfig controls userspace and probe-side logging.
type LoggingConfig struct {
	Level     string `mapstructure:"level"`
	EBPFDebug bool   `mapstructure:"ebpf_debug"`
}

// KafkaConfig controls the optional HTTP event sink. An empty broker list
// disables publishing.
type KafkaConfig struct {
	Brokers          string `mapstructure:"brokers"`
	Topic            string `mapstructure:"topic"`
	BatchSize        int    `mapstructure:"batch_size"`
	BatchTimeoutSecs int    `mapstructure:"batch_timeout_secs"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("target.pid", 0)
	v.SetDefault("target.cgroup", 0)
	v.SetDefault("target.ports", []uint16{})
	v.SetDefault("metrics.port", 9090)
	v.SetDefault("metrics.interval_secs", 5)
	v.SetDefault("metrics.enable_http", false)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.ebpf_debug", false)
	v.SetDefault("kafka.brokers", "")
	v.SetDefault("kafka.topic", "tcpscope.http.events")
	v.SetDefault("kafka.batch_size", 100)
	v.SetDefault("kafka.batch_timeout_secs", 10)
}

// Default returns the built-in configuration.
func Default() *Config {
	cfg, _ := Load("")
	return cfg
}

// Load reads the YAML file at path on top of the defaults. An empty path
// returns the defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return &cfg, nil
}

// Interval returns the collection interval.
func (c *Config) Interval() time.Duration {
	if c.Metrics.IntervalSecs <= 0 {
		return 5 * time.Second
	}
	return time.Duration(c.Metrics.IntervalSecs) * time.Second
}

// BatchTimeout returns the Kafka writer flush timeout.
func (k KafkaConfig) BatchTimeout() time.Duration {
	if k.BatchTimeoutSecs <= 0 {
		return 10 * time.Second
	}
	return time.Duration(k.BatchTimeoutSecs) * time.Second
}

// RuntimeConfig maps the resolved options onto the record pushed into the
// kernel config slot. Ports beyond the record's capacity are dropped.
func (c *Config) RuntimeConfig() structs.RuntimeConfig {
	rc := structs.RuntimeConfig{
		TargetPid:    c.Target.Pid,
		TargetCgroup: c.Target.Cgroup,
	}
	n := 0
	for _, port := range c.Target.Ports {
		if n == structs.MaxTargetPorts {
			break
		}
		rc.TargetPorts[n] = port
		n++
	}
	rc.NumTargetPorts = uint8(n)
	if c.Metrics.EnableHTTP {
		rc.EnableHTTP = 1
	}
	if c.Logging.EBPFDebug {
		rc.DebugMode = 1
	}
	return rc
}
