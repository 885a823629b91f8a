package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/arzzra/vrlink/internal/config"
	"github.com/arzzra/vrlink/internal/logger"
	"github.com/arzzra/vrlink/pkg/link"
	"github.com/arzzra/vrlink/pkg/monitor"
	"github.com/arzzra/vrlink/pkg/stats"
	"github.com/arzzra/vrlink/pkg/transport"
)

func newServeCmd(configFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Запустить сессию и ждать шлем",
		Long: `Запустить сессию и ждать шлем.

Команда не содержит видео кодера: кадры, задержка кодирования и FPS сервера
приходят от производителя видео через SendVideo и ReportEncodeLatency
при встраивании пакета link. Звук микрофона шлема только учитывается.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*configFile)
			if err != nil {
				return err
			}
			log, err := logger.New(cfg.Log)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return serve(ctx, cfg, log)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config, log *logrus.Logger) error {
	id := uuid.NewString()
	entry := log.WithField("connection", id)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	mcfg := stats.DefaultMetricsConfig()
	mcfg.ConnectionID = id
	metrics := stats.NewMetrics(reg, mcfg)
	statistics := stats.NewStatistics(link.SystemClock, metrics)

	tr, err := transport.NewUDPTransport(cfg.TransportConfig(), statistics, logger.Component(log, "transport"))
	if err != nil {
		return fmt.Errorf("ошибка создания транспорта: %w", err)
	}

	mic := newMicSink(logger.Component(log, "mic"))

	var srv *monitor.Server
	conn, err := link.NewConnection(cfg.LinkConfig(), link.Options{
		ID:         id,
		Transport:  tr,
		Statistics: statistics,
		Metrics:    metrics,
		AudioSink:  mic,
		Logger:     logrus.NewEntry(log),
		Callbacks: link.Callbacks{
			OnPoseUpdated: func(info link.TrackingInfo) {
				entry.WithField("frame", info.FrameIndex).Trace("поза обновлена")
			},
			OnPacketLoss: func() {
				entry.Debug("клиент сообщил о потере пакетов")
			},
			OnStatistics: func(report stats.Report) {
				if srv != nil {
					srv.Publish(report)
				}
			},
		},
	})
	if err != nil {
		_ = tr.Shutdown()
		return err
	}

	if cfg.Monitor.Enabled {
		srv = monitor.NewServer(cfg.MonitorConfig(), conn, reg, logger.Component(log, "monitor"))
		if err := srv.Start(); err != nil {
			_ = tr.Shutdown()
			return fmt.Errorf("ошибка запуска сервера наблюдения: %w", err)
		}
	}

	if err := conn.Start(ctx); err != nil {
		_ = tr.Shutdown()
		if srv != nil {
			_ = srv.Shutdown(context.Background())
		}
		return err
	}
	entry.WithField("addr", tr.LocalAddr().String()).Info("ожидание шлема")

	select {
	case <-ctx.Done():
	case <-conn.Done():
	}
	conn.Stop()

	frames, bytes := mic.Totals()
	entry.WithFields(logrus.Fields{"frames": frames, "bytes": bytes}).Info("сессия завершена")

	if srv != nil {
		if err := srv.Shutdown(context.Background()); err != nil {
			entry.WithError(err).Warn("ошибка остановки сервера наблюдения")
		}
	}
	return nil
}
