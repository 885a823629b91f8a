// Package stats собирает статистику отправки и формирует сводный отчет
// о состоянии потока.
//
// Statistics считает пакеты, биты, кадры и задержку кодирования с окнами
// в одну секунду (значения "за секунду" относятся к предыдущей полной
// секунде). Metrics экспортирует те же величины в Prometheus.
package stats

import (
	"sync"
	"time"
)

// Statistics счетчики отправки. Все методы thread-safe.
type Statistics struct {
	mu sync.Mutex

	now func() uint64 // микросекунды

	packetsSentTotal    uint64
	packetsSentInSecond uint64
	packetsSentPrev     uint64

	bitsSentTotal    uint64
	bitsSentInSecond uint64
	bitsSentPrev     uint64

	framesInSecond uint64
	framesPrev     uint64

	encodeLatencyTotalUs uint64
	encodeSamples        uint64
	encodeLatencyMaxUs   uint64
	encodeLatencyAvgPrev uint64
	encodeLatencyMaxPrev uint64

	currentSecond uint64

	metrics *Metrics
}

// Snapshot копия счетчиков на момент вызова
type Snapshot struct {
	PacketsSentTotal    uint64
	PacketsSentInSecond uint64
	BitsSentTotal       uint64
	BitsSentInSecond    uint64
	EncodeLatencyAvgUs  uint64
	EncodeLatencyMaxUs  uint64
	FPS                 uint64
}

// NewStatistics создает счетчики. now возвращает время в микросекундах,
// metrics может быть nil.
func NewStatistics(now func() uint64, metrics *Metrics) *Statistics {
	if now == nil {
		now = func() uint64 { return uint64(time.Now().UnixMicro()) }
	}
	s := &Statistics{now: now, metrics: metrics}
	s.currentSecond = now() / uint64(time.Second/time.Microsecond)
	return s
}

// ResetAll обнуляет все счетчики
func (s *Statistics) ResetAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.packetsSentTotal, s.packetsSentInSecond, s.packetsSentPrev = 0, 0, 0
	s.bitsSentTotal, s.bitsSentInSecond, s.bitsSentPrev = 0, 0, 0
	s.framesInSecond, s.framesPrev = 0, 0
	s.encodeLatencyTotalUs, s.encodeSamples, s.encodeLatencyMaxUs = 0, 0, 0
	s.encodeLatencyAvgPrev, s.encodeLatencyMaxPrev = 0, 0
	s.currentSecond = s.now() / uint64(time.Second/time.Microsecond)
}

// CountPacket учитывает отправленную датаграмму
func (s *Statistics) CountPacket(bytes int) {
	s.mu.Lock()
	s.checkAndResetSecond()
	s.packetsSentTotal++
	s.packetsSentInSecond++
	s.bitsSentTotal += uint64(bytes) * 8
	s.bitsSentInSecond += uint64(bytes) * 8
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.packetsSent.Inc()
		s.metrics.bytesSent.Add(float64(bytes))
	}
}

// EncodeOutput учитывает отправленный кадр и задержку его кодирования
func (s *Statistics) EncodeOutput(latency time.Duration) {
	us := uint64(latency / time.Microsecond)

	s.mu.Lock()
	s.checkAndResetSecond()
	s.framesInSecond++
	s.encodeLatencyTotalUs += us
	s.encodeSamples++
	if us > s.encodeLatencyMaxUs {
		s.encodeLatencyMaxUs = us
	}
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.framesSent.Inc()
		s.metrics.encodeLatency.Observe(latency.Seconds())
	}
}

// Tick сдвигает секундное окно без учета событий
func (s *Statistics) Tick() {
	s.mu.Lock()
	s.checkAndResetSecond()
	s.mu.Unlock()
}

// Snapshot возвращает текущие значения
func (s *Statistics) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkAndResetSecond()

	return Snapshot{
		PacketsSentTotal:    s.packetsSentTotal,
		PacketsSentInSecond: s.packetsSentPrev,
		BitsSentTotal:       s.bitsSentTotal,
		BitsSentInSecond:    s.bitsSentPrev,
		EncodeLatencyAvgUs:  s.encodeLatencyAvgPrev,
		EncodeLatencyMaxUs:  s.encodeLatencyMaxPrev,
		FPS:                 s.framesPrev,
	}
}

// checkAndResetSecond переносит счетчики текущей секунды в "предыдущие".
// Вызывается под s.mu.
func (s *Statistics) checkAndResetSecond() {
	second := s.now() / uint64(time.Second/time.Microsecond)
	if second == s.currentSecond {
		return
	}

	// Пропущенная секунда без событий дает нулевые значения
	if second == s.currentSecond+1 {
		s.packetsSentPrev = s.packetsSentInSecond
		s.bitsSentPrev = s.bitsSentInSecond
		s.framesPrev = s.framesInSecond
		if s.encodeSamples > 0 {
			s.encodeLatencyAvgPrev = s.encodeLatencyTotalUs / s.encodeSamples
		} else {
			s.encodeLatencyAvgPrev = 0
		}
		s.encodeLatencyMaxPrev = s.encodeLatencyMaxUs
	} else {
		s.packetsSentPrev = 0
		s.bitsSentPrev = 0
		s.framesPrev = 0
		s.encodeLatencyAvgPrev = 0
		s.encodeLatencyMaxPrev = 0
	}

	s.packetsSentInSecond = 0
	s.bitsSentInSecond = 0
	s.framesInSecond = 0
	s.encodeLatencyTotalUs = 0
	s.encodeSamples = 0
	s.encodeLatencyMaxUs = 0
	s.currentSecond = second
}
