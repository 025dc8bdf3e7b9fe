package collector

import "github.com/prometheus/client_golang/prometheus"

var connLabels = []string{"src_ip", "dst_ip", "dst_port"}

// Metrics is the set of exported series. It registers on the registry it is
// given; the same registry instance is shared with the export endpoint.
type Metrics struct {
	BytesSent   *prometheus.CounterVec
	BytesRecv   *prometheus.CounterVec
	PacketsSent *prometheus.CounterVec
	PacketsRecv *prometheus.CounterVec
	Retransmits *prometheus.CounterVec
	Duration    *prometheus.GaugeVec
	ActiveConns prometheus.Gauge
}

// NewMetrics creates and registers the metric set.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		BytesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tcpscope_connection_bytes_sent_total",
			Help: "Total bytes sent per connection",
		}, connLabels),
		BytesRecv: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tcpscope_connection_bytes_received_total",
			Help: "Total bytes received per connection",
		}, connLabels),
		PacketsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tcpscope_connection_packets_sent_total",
			Help: "Total packets sent per connection",
		}, connLabels),
		PacketsRecv: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tcpscope_connection_packets_received_total",
			Help: "Total packets received per connection",
		}, connLabels),
		Retransmits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "tcpscope_connection_retransmits_total",
			Help: "Total TCP retransmissions per connection",
		}, connLabels),
		Duration: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "tcpscope_connection_duration_seconds",
			Help: "Connection duration in seconds",
		}, connLabels),
		ActiveConns: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tcpscope_active_connections",
			Help: "Number of active connections being tracked",
		}),
	}

	reg.MustRegister(
		m.BytesSent,
		m.BytesRecv,
		m.PacketsSent,
		m.PacketsRecv,
		m.Retransmits,
		m.Duration,
		m.ActiveConns,
	)
	return m
}
