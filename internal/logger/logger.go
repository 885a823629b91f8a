// Package logger настраивает logrus по конфигурации сервера.
package logger

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/arzzra/vrlink/internal/config"
)

// New создает логгер. Вывод всегда идет в stdout, при включенном file
// дополнительно в файл с ротацией.
func New(cfg config.LogConfig) (*logrus.Logger, error) {
	return newWithStdout(cfg, os.Stdout)
}

func newWithStdout(cfg config.LogConfig, stdout io.Writer) (*logrus.Logger, error) {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("неверный уровень журнала: %w", err)
	}

	writers := []io.Writer{stdout}
	if cfg.File.Enabled {
		w, err := createFileWriter(cfg.File)
		if err != nil {
			return nil, fmt.Errorf("ошибка создания файлового вывода: %w", err)
		}
		writers = append(writers, w)
	}

	log := logrus.New()
	log.SetLevel(level)
	log.SetOutput(io.MultiWriter(writers...))

	switch strings.ToLower(cfg.Format) {
	case "json":
		log.SetFormatter(&logrus.JSONFormatter{TimestampFormat: "2006-01-02T15:04:05.000Z07:00"})
	case "text", "":
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: "15:04:05.000"})
	default:
		return nil, fmt.Errorf("неподдерживаемый формат журнала: %s (json или text)", cfg.Format)
	}
	return log, nil
}

// Component возвращает запись с полем component
func Component(log *logrus.Logger, name string) *logrus.Entry {
	return log.WithField("component", name)
}

func parseLevel(level string) (logrus.Level, error) {
	switch strings.ToLower(level) {
	case "trace":
		return logrus.TraceLevel, nil
	case "debug":
		return logrus.DebugLevel, nil
	case "info", "":
		return logrus.InfoLevel, nil
	case "warn", "warning":
		return logrus.WarnLevel, nil
	case "error":
		return logrus.ErrorLevel, nil
	default:
		return logrus.InfoLevel, fmt.Errorf("неизвестный уровень: %s", level)
	}
}

func createFileWriter(fc config.FileConfig) (io.Writer, error) {
	if fc.Path == "" {
		return nil, fmt.Errorf("для вывода в файл нужен path")
	}
	return &lumberjack.Logger{
		Filename:   fc.Path,
		MaxSize:    fc.MaxSizeMB,
		MaxBackups: fc.MaxBackups,
		MaxAge:     fc.MaxAgeDays,
		Compress:   fc.Compress,
	}, nil
}
