// Package link реализует сеансовый уровень потока между сервером и шлемом.
//
// Connection отправляет видео (с FEC), звук и вибрацию, принимает от
// клиента позу, замеры времени, отчеты о потерях, звук микрофона и
// границу игровой зоны.
//
// Модель конкурентности: все входящие датаграммы читает и обрабатывает
// одна горутина цикла сессии (Start/Stop). Методы Send* вызываются из
// горутин кодировщиков параллельно с циклом: счетчики пакетов, индекс
// кадра и смещение часов атомарные, процент FEC меняет только горутина
// цикла, а читается атомарно. Снимок позы и статистика клиента защищены
// мьютексами.
package link

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/looplab/fsm"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/arzzra/vrlink/pkg/fec"
	"github.com/arzzra/vrlink/pkg/guardian"
	"github.com/arzzra/vrlink/pkg/protocol"
	"github.com/arzzra/vrlink/pkg/stats"
)

var (
	// ErrShardBudget кадр не помещается в MaxTotalShards при текущем проценте FEC
	ErrShardBudget = errors.New("link: frame exceeds shard budget")
	// ErrEmptyFrame кадр нулевой длины
	ErrEmptyFrame = errors.New("link: empty frame")
)

// Transport датаграммный транспорт до клиента.
// Send безопасен для конкурентного вызова, остальные методы вызывает
// только цикл сессии (Shutdown - из любой горутины).
type Transport interface {
	Send(b []byte) error
	Poll(timeout time.Duration) (bool, error)
	Recv(buf []byte) (int, net.Addr, error)
	Run()
	IsLegitClient(addr net.Addr) bool
	// Learn запоминает addr как клиента, если клиент еще не известен.
	// Возвращает true, если addr - клиент.
	Learn(addr net.Addr) bool
	Shutdown() error
}

// AudioSink принимает звук микрофона шлема (16-bit PCM little-endian)
type AudioSink interface {
	PlayMicAudio(pcm []byte) error
}

// Clock возвращает текущее время в микросекундах
type Clock func() uint64

// SystemClock время системы в микросекундах
func SystemClock() uint64 {
	return uint64(time.Now().UnixMicro())
}

// Callbacks обратные вызовы соединения. Вызываются из горутины цикла.
type Callbacks struct {
	OnPoseUpdated func(TrackingInfo)
	OnPacketLoss  func()
	OnStatistics  func(stats.Report)
}

// Options внешние зависимости соединения
type Options struct {
	ID        string // Идентификатор соединения; пусто - сгенерировать
	Transport Transport
	Store     guardian.Store // По умолчанию guardian.MemoryStore
	AudioSink AudioSink
	Callbacks Callbacks
	Clock     Clock

	// Statistics счетчики отправки; если nil, создаются с Metrics
	Statistics *stats.Statistics
	// Metrics если nil и задан Registerer, создаются в нем
	Metrics    *stats.Metrics
	Registerer prometheus.Registerer

	Logger *logrus.Entry
}

// TrackingInfo снимок позы шлема. Действителен, если Type равен
// protocol.TypeTrackingInfo.
type TrackingInfo struct {
	Type protocol.Type
	protocol.TrackingInfo
}

// Valid проверяет, что снимок заполнен
func (t TrackingInfo) Valid() bool {
	return t.Type == protocol.TypeTrackingInfo
}

// Connection соединение с одним шлемом
type Connection struct {
	id        string
	cfg       Config
	transport Transport
	store     guardian.Store
	sink      AudioSink
	callbacks Callbacks
	now       Clock
	log       *logrus.Entry

	codec      *fec.Codec
	controller *fec.Controller
	handshake  *guardian.Handshake
	statistics *stats.Statistics
	metrics    *stats.Metrics

	videoPacketCounter atomic.Uint32
	audioPacketCounter atomic.Uint32
	videoFrameIndex    atomic.Uint64

	trackingMu sync.Mutex
	tracking   TrackingInfo

	clientStatsMu sync.Mutex
	clientStats   protocol.TimeSync

	clockOffset atomic.Int64
	roundTrip   atomic.Uint64

	state    *fsm.FSM
	lifeMu   sync.Mutex
	exit     atomic.Bool
	done     chan struct{}
	stopOnce sync.Once

	lastStatistics uint64
}

// NewConnection создает соединение. Цикл приема запускается Start.
func NewConnection(cfg Config, opts Options) (*Connection, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("неверная конфигурация соединения: %w", err)
	}
	if opts.Transport == nil {
		return nil, fmt.Errorf("транспорт обязателен")
	}

	c := &Connection{
		id:        opts.ID,
		cfg:       cfg,
		transport: opts.Transport,
		store:     opts.Store,
		sink:      opts.AudioSink,
		callbacks: opts.Callbacks,
		now:       opts.Clock,
		metrics:   opts.Metrics,
		done:      make(chan struct{}),
		state:     newSessionFSM(),
	}
	if c.id == "" {
		c.id = uuid.NewString()
	}
	if c.now == nil {
		c.now = SystemClock
	}

	log := opts.Logger
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	c.log = log.WithFields(logrus.Fields{
		"component":  "link",
		"connection": c.id,
	})

	if c.metrics == nil && opts.Registerer != nil {
		mcfg := stats.DefaultMetricsConfig()
		mcfg.ConnectionID = c.id
		c.metrics = stats.NewMetrics(opts.Registerer, mcfg)
	}

	c.statistics = opts.Statistics
	if c.statistics == nil {
		c.statistics = stats.NewStatistics(c.now, c.metrics)
	}

	codec, err := fec.NewCodec(cfg.FEC)
	if err != nil {
		return nil, err
	}
	c.codec = codec

	ctrlCfg := cfg.Controller
	ctrlCfg.Now = c.now
	ctrlCfg.OnPacketLoss = c.onPacketLoss
	controller, err := fec.NewController(ctrlCfg)
	if err != nil {
		return nil, err
	}
	c.controller = controller
	c.metrics.SetFecPercentage(controller.Percentage())

	if c.store == nil {
		c.store = guardian.NewMemoryStore(nil, c.log)
	}
	c.handshake = guardian.NewHandshake(c.store, c.send, c.metrics.GuardianCommitted, c.log)

	return c, nil
}

// ID возвращает идентификатор соединения
func (c *Connection) ID() string {
	return c.id
}

// GetTrackingInfo возвращает последний снимок позы
func (c *Connection) GetTrackingInfo() TrackingInfo {
	c.trackingMu.Lock()
	defer c.trackingMu.Unlock()
	return c.tracking
}

// HasValidTrackingInfo проверяет, что поза уже получена
func (c *Connection) HasValidTrackingInfo() bool {
	c.trackingMu.Lock()
	defer c.trackingMu.Unlock()
	return c.tracking.Valid()
}

// FecPercentage возвращает текущий процент избыточности
func (c *Connection) FecPercentage() int {
	return c.controller.Percentage()
}

// GuardianState возвращает состояние передачи границы
func (c *Connection) GuardianState() string {
	return c.handshake.State()
}

// ReportEncodeLatency учитывает закодированный кадр и задержку его кодирования
func (c *Connection) ReportEncodeLatency(latency time.Duration) {
	c.statistics.EncodeOutput(latency)
}

// Statistics возвращает текущий отчет статистики
func (c *Connection) Statistics() stats.Report {
	return stats.BuildReport(c.statistics.Snapshot(), c.clientStatistics(), c.FecPercentage())
}

func (c *Connection) clientStatistics() protocol.TimeSync {
	c.clientStatsMu.Lock()
	defer c.clientStatsMu.Unlock()
	return c.clientStats
}

// onPacketLoss вызывается контроллером FEC на каждый сбой
func (c *Connection) onPacketLoss() {
	c.metrics.FecFailure()
	if c.callbacks.OnPacketLoss != nil {
		c.callbacks.OnPacketLoss()
	}
}

// send кодирует служебное сообщение и отправляет клиенту
func (c *Connection) send(msg protocol.Message) error {
	if err := c.transport.Send(protocol.Marshal(msg)); err != nil {
		return fmt.Errorf("ошибка отправки %s: %w", msg.Type(), err)
	}
	return nil
}
