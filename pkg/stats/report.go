package stats

import (
	"github.com/sirupsen/logrus"

	"github.com/arzzra/vrlink/pkg/protocol"
)

// Report сводная статистика соединения, формируется раз в секунду.
// Задержки в миллисекундах, объемы в мегабайтах и мегабитах.
type Report struct {
	TotalPackets         uint64  `json:"totalPackets"`
	PacketRate           uint64  `json:"packetRate"`
	PacketsLostTotal     uint64  `json:"packetsLostTotal"`
	PacketsLostPerSecond uint64  `json:"packetsLostPerSecond"`
	TotalSent            uint64  `json:"totalSent"`
	SentRate             float64 `json:"sentRate"`
	TotalLatency         float64 `json:"totalLatency"`
	EncodeLatency        float64 `json:"encodeLatency"`
	EncodeLatencyMax     float64 `json:"encodeLatencyMax"`
	TransportLatency     float64 `json:"transportLatency"`
	DecodeLatency        float64 `json:"decodeLatency"`
	FecPercentage        int     `json:"fecPercentage"`
	FecFailureTotal      uint64  `json:"fecFailureTotal"`
	FecFailureInSecond   uint64  `json:"fecFailureInSecond"`
	ClientFPS            uint32  `json:"clientFPS"`
	ServerFPS            uint64  `json:"serverFPS"`
}

// BuildReport объединяет счетчики отправки с последней статистикой клиента
func BuildReport(s Snapshot, client protocol.TimeSync, fecPercentage int) Report {
	return Report{
		TotalPackets:         s.PacketsSentTotal,
		PacketRate:           s.PacketsSentInSecond,
		PacketsLostTotal:     client.PacketsLostTotal,
		PacketsLostPerSecond: client.PacketsLostInSecond,
		TotalSent:            s.BitsSentTotal / 8 / 1000 / 1000,
		SentRate:             float64(s.BitsSentInSecond) / 1000 / 1000,
		TotalLatency:         float64(client.AverageTotalLatency) / 1000,
		EncodeLatency:        float64(s.EncodeLatencyAvgUs) / 1000,
		EncodeLatencyMax:     float64(s.EncodeLatencyMaxUs) / 1000,
		TransportLatency:     float64(client.AverageTransportLatency) / 1000,
		DecodeLatency:        float64(client.AverageDecodeLatency) / 1000,
		FecPercentage:        fecPercentage,
		FecFailureTotal:      client.FecFailureTotal,
		FecFailureInSecond:   client.FecFailureInSecond,
		ClientFPS:            client.FPS,
		ServerFPS:            s.FPS,
	}
}

// Fields возвращает отчет в виде полей logrus
func (r Report) Fields() logrus.Fields {
	return logrus.Fields{
		"totalPackets":         r.TotalPackets,
		"packetRate":           r.PacketRate,
		"packetsLostTotal":     r.PacketsLostTotal,
		"packetsLostPerSecond": r.PacketsLostPerSecond,
		"totalSent":            r.TotalSent,
		"sentRate":             r.SentRate,
		"totalLatency":         r.TotalLatency,
		"encodeLatency":        r.EncodeLatency,
		"encodeLatencyMax":     r.EncodeLatencyMax,
		"transportLatency":     r.TransportLatency,
		"decodeLatency":        r.DecodeLatency,
		"fecPercentage":        r.FecPercentage,
		"fecFailureTotal":      r.FecFailureTotal,
		"fecFailureInSecond":   r.FecFailureInSecond,
		"clientFPS":            r.ClientFPS,
		"serverFPS":            r.ServerFPS,
	}
}

// ObserveClient переносит отчет клиента в метрики
func (m *Metrics) ObserveClient(client protocol.TimeSync) {
	if m == nil {
		return
	}
	m.ClientPacketsLost.Set(float64(client.PacketsLostTotal))
	m.ClientFPS.Set(float64(client.FPS))
	m.ClientLatency.WithLabelValues("total").Set(float64(client.AverageTotalLatency) / 1000)
	m.ClientLatency.WithLabelValues("transport").Set(float64(client.AverageTransportLatency) / 1000)
	m.ClientLatency.WithLabelValues("decode").Set(float64(client.AverageDecodeLatency) / 1000)
}
