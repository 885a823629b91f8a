package stats

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Причины отбрасывания входящих датаграмм
const (
	DropReasonShort       = "short"
	DropReasonUnknownType = "unknown_type"
	DropReasonSender      = "sender"
	DropReasonStale       = "stale"
	DropReasonMalformed   = "malformed"
)

// Metrics Prometheus метрики одного соединения
type Metrics struct {
	packetsSent   prometheus.Counter
	bytesSent     prometheus.Counter
	framesSent    prometheus.Counter
	encodeLatency prometheus.Histogram

	PacketsReceived *prometheus.CounterVec
	PacketsDropped  *prometheus.CounterVec
	FecPercentage   prometheus.Gauge
	FecFailures     prometheus.Counter
	ClockOffset     prometheus.Gauge
	RoundTripTime   prometheus.Gauge

	ClientPacketsLost prometheus.Gauge
	ClientFPS         prometheus.Gauge
	ClientLatency     *prometheus.GaugeVec

	GuardianCommits prometheus.Counter
}

// MetricsConfig конфигурация метрик
type MetricsConfig struct {
	Namespace    string
	Subsystem    string
	ConnectionID string // Значение константной метки connection
}

// DefaultMetricsConfig возвращает конфигурацию по умолчанию
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Namespace: "vrlink",
		Subsystem: "link",
	}
}

// NewMetrics регистрирует метрики в reg.
// Для каждого соединения нужен уникальный ConnectionID.
func NewMetrics(reg prometheus.Registerer, cfg MetricsConfig) *Metrics {
	factory := promauto.With(reg)
	labels := prometheus.Labels{}
	if cfg.ConnectionID != "" {
		labels["connection"] = cfg.ConnectionID
	}

	return &Metrics{
		packetsSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   cfg.Subsystem,
			Name:        "packets_sent_total",
			Help:        "Total number of datagrams sent to the client",
			ConstLabels: labels,
		}),
		bytesSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   cfg.Subsystem,
			Name:        "bytes_sent_total",
			Help:        "Total number of bytes sent to the client",
			ConstLabels: labels,
		}),
		framesSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   cfg.Subsystem,
			Name:        "video_frames_sent_total",
			Help:        "Total number of video frames sent",
			ConstLabels: labels,
		}),
		encodeLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   cfg.Subsystem,
			Name:        "encode_latency_seconds",
			Help:        "Video encode latency reported by the producer",
			ConstLabels: labels,
			Buckets:     []float64{0.001, 0.002, 0.004, 0.008, 0.012, 0.016, 0.025, 0.05, 0.1},
		}),
		PacketsReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   cfg.Subsystem,
			Name:        "packets_received_total",
			Help:        "Accepted inbound datagrams by message type",
			ConstLabels: labels,
		}, []string{"type"}),
		PacketsDropped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   cfg.Subsystem,
			Name:        "packets_dropped_total",
			Help:        "Dropped inbound datagrams by reason",
			ConstLabels: labels,
		}, []string{"reason"}),
		FecPercentage: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   cfg.Subsystem,
			Name:        "fec_percentage",
			Help:        "Current FEC redundancy percentage",
			ConstLabels: labels,
		}),
		FecFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   cfg.Subsystem,
			Name:        "fec_failures_total",
			Help:        "FEC failures reported by the client",
			ConstLabels: labels,
		}),
		ClockOffset: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   cfg.Subsystem,
			Name:        "clock_offset_microseconds",
			Help:        "Estimated server minus client clock offset",
			ConstLabels: labels,
		}),
		RoundTripTime: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   cfg.Subsystem,
			Name:        "round_trip_time_microseconds",
			Help:        "Last measured round trip time",
			ConstLabels: labels,
		}),
		ClientPacketsLost: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   cfg.Subsystem,
			Name:        "client_packets_lost",
			Help:        "Total packets lost as reported by the client",
			ConstLabels: labels,
		}),
		ClientFPS: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   cfg.Subsystem,
			Name:        "client_fps",
			Help:        "Frame rate reported by the client",
			ConstLabels: labels,
		}),
		ClientLatency: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   cfg.Subsystem,
			Name:        "client_latency_milliseconds",
			Help:        "Average latency reported by the client by stage",
			ConstLabels: labels,
		}, []string{"stage"}),
		GuardianCommits: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Subsystem:   cfg.Subsystem,
			Name:        "guardian_commits_total",
			Help:        "Play area boundaries committed",
			ConstLabels: labels,
		}),
	}
}

// Received учитывает принятое сообщение
func (m *Metrics) Received(msgType string) {
	if m == nil {
		return
	}
	m.PacketsReceived.WithLabelValues(msgType).Inc()
}

// Dropped учитывает отброшенную датаграмму
func (m *Metrics) Dropped(reason string) {
	if m == nil {
		return
	}
	m.PacketsDropped.WithLabelValues(reason).Inc()
}

// SetFecPercentage обновляет текущий процент избыточности
func (m *Metrics) SetFecPercentage(percentage int) {
	if m == nil {
		return
	}
	m.FecPercentage.Set(float64(percentage))
}

// FecFailure учитывает сбой FEC
func (m *Metrics) FecFailure() {
	if m == nil {
		return
	}
	m.FecFailures.Inc()
}

// SetClock обновляет смещение часов и RTT
func (m *Metrics) SetClock(offsetUs int64, rttUs uint64) {
	if m == nil {
		return
	}
	m.ClockOffset.Set(float64(offsetUs))
	m.RoundTripTime.Set(float64(rttUs))
}

// GuardianCommitted учитывает примененную границу
func (m *Metrics) GuardianCommitted() {
	if m == nil {
		return
	}
	m.GuardianCommits.Inc()
}
