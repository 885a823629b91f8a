// Package monitor HTTP сервер наблюдения за соединением: метрики
// Prometheus, текущая статистика в JSON и поток отчетов по WebSocket.
package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/arzzra/vrlink/pkg/stats"
)

// Source состояние соединения для /stats
type Source interface {
	ID() string
	State() string
	GuardianState() string
	ClockOffset() int64
	Statistics() stats.Report
}

// Status ответ /stats
type Status struct {
	ID            string       `json:"id"`
	State         string       `json:"state"`
	GuardianState string       `json:"guardianState"`
	ClockOffset   int64        `json:"clockOffset"`
	Statistics    stats.Report `json:"statistics"`
}

// Config конфигурация сервера
type Config struct {
	Addr            string
	ShutdownTimeout time.Duration
}

// DefaultConfig возвращает конфигурацию по умолчанию
func DefaultConfig() Config {
	return Config{
		Addr:            "127.0.0.1:9090",
		ShutdownTimeout: 5 * time.Second,
	}
}

// Server HTTP сервер наблюдения
type Server struct {
	cfg      Config
	source   Source
	gatherer prometheus.Gatherer
	hub      *Hub
	router   chi.Router
	http     *http.Server
	listener net.Listener
	log      *logrus.Entry
}

// NewServer создает сервер. gatherer - реестр метрик соединения.
func NewServer(cfg Config, source Source, gatherer prometheus.Gatherer, log *logrus.Entry) *Server {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	s := &Server{
		cfg:      cfg,
		source:   source,
		gatherer: gatherer,
		hub:      NewHub(log),
		log:      log.WithField("component", "monitor"),
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	r.Get("/stats", s.handleStats)
	r.Method(http.MethodGet, "/ws/statistics", s.hub)

	return r
}

// Handler возвращает маршрутизатор сервера
func (s *Server) Handler() http.Handler {
	return s.router
}

// Hub возвращает рассыльщик отчетов
func (s *Server) Hub() *Hub {
	return s.hub
}

// Publish передает отчет подписчикам WebSocket
func (s *Server) Publish(report stats.Report) {
	s.hub.Broadcast(report)
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	if s.source == nil {
		http.Error(w, "соединение не создано", http.StatusServiceUnavailable)
		return
	}

	status := Status{
		ID:            s.source.ID(),
		State:         s.source.State(),
		GuardianState: s.source.GuardianState(),
		ClockOffset:   s.source.ClockOffset(),
		Statistics:    s.source.Statistics(),
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(status); err != nil {
		s.log.WithError(err).Debug("ошибка записи /stats")
	}
}

// Start открывает порт и обслуживает запросы в отдельной горутине
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("ошибка открытия %s: %w", s.cfg.Addr, err)
	}
	s.listener = ln
	s.http = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.WithError(err).Error("ошибка HTTP сервера")
		}
	}()

	s.log.WithField("addr", ln.Addr().String()).Info("сервер мониторинга запущен")
	return nil
}

// Addr возвращает фактический адрес после Start
func (s *Server) Addr() net.Addr {
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Shutdown останавливает сервер и отключает подписчиков
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Close()
	if s.http == nil {
		return nil
	}
	if s.cfg.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
		defer cancel()
	}
	return s.http.Shutdown(ctx)
}
