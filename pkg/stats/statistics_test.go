package stats

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arzzra/vrlink/pkg/protocol"
)

type fakeClock struct {
	now uint64
}

func (c *fakeClock) Now() uint64 { return c.now }

func (c *fakeClock) Advance(d time.Duration) {
	c.now += uint64(d / time.Microsecond)
}

func TestStatisticsSecondWindow(t *testing.T) {
	clock := &fakeClock{now: 10_000_000}
	s := NewStatistics(clock.Now, nil)

	s.CountPacket(1000)
	s.CountPacket(500)
	s.EncodeOutput(4 * time.Millisecond)
	s.EncodeOutput(8 * time.Millisecond)

	// В текущей секунде значения "за секунду" еще не опубликованы
	snap := s.Snapshot()
	assert.Equal(t, uint64(2), snap.PacketsSentTotal)
	assert.Equal(t, uint64(0), snap.PacketsSentInSecond)
	assert.Equal(t, uint64(12000), snap.BitsSentTotal)

	clock.Advance(time.Second)
	snap = s.Snapshot()
	assert.Equal(t, uint64(2), snap.PacketsSentInSecond)
	assert.Equal(t, uint64(12000), snap.BitsSentInSecond)
	assert.Equal(t, uint64(2), snap.FPS)
	assert.Equal(t, uint64(6000), snap.EncodeLatencyAvgUs)
	assert.Equal(t, uint64(8000), snap.EncodeLatencyMaxUs)
}

func TestStatisticsSkippedSecondsAreZero(t *testing.T) {
	clock := &fakeClock{now: 0}
	s := NewStatistics(clock.Now, nil)

	s.CountPacket(100)
	clock.Advance(3 * time.Second)
	s.Tick()

	snap := s.Snapshot()
	assert.Equal(t, uint64(1), snap.PacketsSentTotal)
	assert.Zero(t, snap.PacketsSentInSecond)
	assert.Zero(t, snap.FPS)
}

func TestStatisticsResetAll(t *testing.T) {
	clock := &fakeClock{now: 0}
	s := NewStatistics(clock.Now, nil)

	s.CountPacket(100)
	s.EncodeOutput(time.Millisecond)
	s.ResetAll()

	clock.Advance(time.Second)
	assert.Equal(t, Snapshot{}, s.Snapshot())
}

func TestStatisticsExportsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	cfg := DefaultMetricsConfig()
	cfg.ConnectionID = "test"
	m := NewMetrics(reg, cfg)

	s := NewStatistics(nil, m)
	s.CountPacket(1400)
	s.CountPacket(600)
	s.EncodeOutput(2 * time.Millisecond)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.packetsSent))
	assert.Equal(t, float64(2000), testutil.ToFloat64(m.bytesSent))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.framesSent))

	count, err := testutil.GatherAndCount(reg, "vrlink_link_encode_latency_seconds")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestMetricsPerConnectionRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()

	cfg := DefaultMetricsConfig()
	cfg.ConnectionID = "a"
	NewMetrics(reg, cfg)

	cfg.ConnectionID = "b"
	assert.NotPanics(t, func() { NewMetrics(reg, cfg) })

	// Повторная регистрация того же соединения - ошибка регистрации
	assert.Panics(t, func() { NewMetrics(reg, cfg) })
}

func TestBuildReport(t *testing.T) {
	snap := Snapshot{
		PacketsSentTotal:    100,
		PacketsSentInSecond: 10,
		BitsSentTotal:       16_000_000,
		BitsSentInSecond:    2_500_000,
		EncodeLatencyAvgUs:  4500,
		EncodeLatencyMaxUs:  9000,
		FPS:                 72,
	}
	client := protocol.TimeSync{
		PacketsLostTotal:        7,
		PacketsLostInSecond:     1,
		AverageTotalLatency:     35000,
		AverageTransportLatency: 5000,
		AverageDecodeLatency:    3000,
		FecFailureInSecond:      1,
		FecFailureTotal:         4,
		FPS:                     71,
	}

	r := BuildReport(snap, client, 10)
	assert.Equal(t, uint64(100), r.TotalPackets)
	assert.Equal(t, uint64(10), r.PacketRate)
	assert.Equal(t, uint64(7), r.PacketsLostTotal)
	assert.Equal(t, uint64(2), r.TotalSent)
	assert.InDelta(t, 2.5, r.SentRate, 1e-9)
	assert.InDelta(t, 35.0, r.TotalLatency, 1e-9)
	assert.InDelta(t, 4.5, r.EncodeLatency, 1e-9)
	assert.InDelta(t, 9.0, r.EncodeLatencyMax, 1e-9)
	assert.InDelta(t, 5.0, r.TransportLatency, 1e-9)
	assert.InDelta(t, 3.0, r.DecodeLatency, 1e-9)
	assert.Equal(t, 10, r.FecPercentage)
	assert.Equal(t, uint64(4), r.FecFailureTotal)
	assert.Equal(t, uint32(71), r.ClientFPS)
	assert.Equal(t, uint64(72), r.ServerFPS)

	fields := r.Fields()
	assert.Len(t, fields, 16)
	assert.Equal(t, uint64(72), fields["serverFPS"])
}

func TestObserveClient(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry(), DefaultMetricsConfig())
	m.ObserveClient(protocol.TimeSync{PacketsLostTotal: 3, FPS: 90, AverageDecodeLatency: 2000})

	assert.Equal(t, float64(3), testutil.ToFloat64(m.ClientPacketsLost))
	assert.Equal(t, float64(90), testutil.ToFloat64(m.ClientFPS))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.ClientLatency.WithLabelValues("decode")))

	var nilMetrics *Metrics
	assert.NotPanics(t, func() { nilMetrics.ObserveClient(protocol.TimeSync{}) })
}

func TestMetricsHelpers(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry(), DefaultMetricsConfig())

	m.Received("TrackingInfo")
	m.Dropped(DropReasonShort)
	m.Dropped(DropReasonShort)
	m.SetFecPercentage(10)
	m.FecFailure()
	m.SetClock(-75, 50)
	m.GuardianCommitted()

	assert.Equal(t, float64(1), testutil.ToFloat64(m.PacketsReceived.WithLabelValues("TrackingInfo")))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.PacketsDropped.WithLabelValues(DropReasonShort)))
	assert.Equal(t, float64(10), testutil.ToFloat64(m.FecPercentage))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.FecFailures))
	assert.Equal(t, float64(-75), testutil.ToFloat64(m.ClockOffset))
	assert.Equal(t, float64(50), testutil.ToFloat64(m.RoundTripTime))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.GuardianCommits))

	var nilMetrics *Metrics
	assert.NotPanics(t, func() {
		nilMetrics.Received("x")
		nilMetrics.Dropped("x")
		nilMetrics.SetFecPercentage(1)
		nilMetrics.FecFailure()
		nilMetrics.SetClock(1, 1)
		nilMetrics.GuardianCommitted()
	})
}
