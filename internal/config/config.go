// Package config загружает конфигурацию сервера из YAML файла и
// переменных окружения с префиксом VRLINK_.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/arzzra/vrlink/pkg/fec"
	"github.com/arzzra/vrlink/pkg/link"
	"github.com/arzzra/vrlink/pkg/monitor"
	"github.com/arzzra/vrlink/pkg/transport"
)

// EnvPrefix префикс переменных окружения
const EnvPrefix = "VRLINK"

// Config конфигурация сервера
type Config struct {
	Transport TransportConfig `mapstructure:"transport" yaml:"transport"`
	Link      LinkConfig      `mapstructure:"link" yaml:"link"`
	FEC       FECConfig       `mapstructure:"fec" yaml:"fec"`
	Log       LogConfig       `mapstructure:"log" yaml:"log"`
	Monitor   MonitorConfig   `mapstructure:"monitor" yaml:"monitor"`
}

// TransportConfig UDP сокет
type TransportConfig struct {
	Listen     string `mapstructure:"listen" yaml:"listen"`
	ClientAddr string `mapstructure:"client_addr" yaml:"client_addr"` // пусто - первый отправитель
	RecvBuffer int    `mapstructure:"recv_buffer" yaml:"recv_buffer"`
	SendBuffer int    `mapstructure:"send_buffer" yaml:"send_buffer"`
	DSCP       int    `mapstructure:"dscp" yaml:"dscp"`
	Priority   int    `mapstructure:"priority" yaml:"priority"`
	ReusePort  bool   `mapstructure:"reuse_port" yaml:"reuse_port"`
}

// LinkConfig цикл сессии
type LinkConfig struct {
	Force3DOF          bool          `mapstructure:"force_3dof" yaml:"force_3dof"`
	PollTimeout        time.Duration `mapstructure:"poll_timeout" yaml:"poll_timeout"`
	StatisticsInterval time.Duration `mapstructure:"statistics_interval" yaml:"statistics_interval"`
}

// FECConfig адаптивная избыточность
type FECConfig struct {
	InitialPercentage int           `mapstructure:"initial_percentage" yaml:"initial_percentage"`
	MaxPercentage     int           `mapstructure:"max_percentage" yaml:"max_percentage"`
	Step              int           `mapstructure:"step" yaml:"step"`
	FailureWindow     time.Duration `mapstructure:"failure_window" yaml:"failure_window"`
}

// LogConfig журналирование
type LogConfig struct {
	Level  string     `mapstructure:"level" yaml:"level"`   // trace / debug / info / warn / error
	Format string     `mapstructure:"format" yaml:"format"` // json / text
	File   FileConfig `mapstructure:"file" yaml:"file"`
}

// FileConfig вывод журнала в файл с ротацией
type FileConfig struct {
	Enabled    bool   `mapstructure:"enabled" yaml:"enabled"`
	Path       string `mapstructure:"path" yaml:"path"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxAgeDays int    `mapstructure:"max_age_days" yaml:"max_age_days"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	Compress   bool   `mapstructure:"compress" yaml:"compress"`
}

// MonitorConfig HTTP сервер наблюдения
type MonitorConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Listen  string `mapstructure:"listen" yaml:"listen"`
}

// DefaultConfig возвращает конфигурацию по умолчанию
func DefaultConfig() Config {
	tr := transport.DefaultConfig()
	lk := link.DefaultConfig()
	ctrl := fec.DefaultControllerConfig()
	mon := monitor.DefaultConfig()

	return Config{
		Transport: TransportConfig{
			Listen:     tr.LocalAddr,
			RecvBuffer: tr.RecvBuffer,
			SendBuffer: tr.SendBuffer,
			DSCP:       tr.DSCP,
			Priority:   tr.Priority,
		},
		Link: LinkConfig{
			PollTimeout:        lk.PollTimeout,
			StatisticsInterval: lk.StatisticsInterval,
		},
		FEC: FECConfig{
			InitialPercentage: ctrl.InitialPercentage,
			MaxPercentage:     ctrl.MaxPercentage,
			Step:              ctrl.Step,
			FailureWindow:     ctrl.FailureWindow,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
			File: FileConfig{
				Path:       "/var/log/vrlink/vrlink.log",
				MaxSizeMB:  100,
				MaxAgeDays: 30,
				MaxBackups: 5,
				Compress:   true,
			},
		},
		Monitor: MonitorConfig{
			Enabled: true,
			Listen:  mon.Addr,
		},
	}
}

// Load читает конфигурацию. Пустой path - только значения по умолчанию
// и переменные окружения.
func Load(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("ошибка чтения файла конфигурации: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("ошибка разбора конфигурации: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("неверная конфигурация: %w", err)
	}
	return &cfg, nil
}

// setDefaults регистрирует все ключи, чтобы AutomaticEnv их видел
func setDefaults(v *viper.Viper) {
	d := DefaultConfig()

	v.SetDefault("transport.listen", d.Transport.Listen)
	v.SetDefault("transport.client_addr", d.Transport.ClientAddr)
	v.SetDefault("transport.recv_buffer", d.Transport.RecvBuffer)
	v.SetDefault("transport.send_buffer", d.Transport.SendBuffer)
	v.SetDefault("transport.dscp", d.Transport.DSCP)
	v.SetDefault("transport.priority", d.Transport.Priority)
	v.SetDefault("transport.reuse_port", d.Transport.ReusePort)

	v.SetDefault("link.force_3dof", d.Link.Force3DOF)
	v.SetDefault("link.poll_timeout", d.Link.PollTimeout)
	v.SetDefault("link.statistics_interval", d.Link.StatisticsInterval)

	v.SetDefault("fec.initial_percentage", d.FEC.InitialPercentage)
	v.SetDefault("fec.max_percentage", d.FEC.MaxPercentage)
	v.SetDefault("fec.step", d.FEC.Step)
	v.SetDefault("fec.failure_window", d.FEC.FailureWindow)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
	v.SetDefault("log.file.enabled", d.Log.File.Enabled)
	v.SetDefault("log.file.path", d.Log.File.Path)
	v.SetDefault("log.file.max_size_mb", d.Log.File.MaxSizeMB)
	v.SetDefault("log.file.max_age_days", d.Log.File.MaxAgeDays)
	v.SetDefault("log.file.max_backups", d.Log.File.MaxBackups)
	v.SetDefault("log.file.compress", d.Log.File.Compress)

	v.SetDefault("monitor.enabled", d.Monitor.Enabled)
	v.SetDefault("monitor.listen", d.Monitor.Listen)
}

// Validate проверяет конфигурацию
func (c Config) Validate() error {
	if err := c.TransportConfig().Validate(); err != nil {
		return fmt.Errorf("transport: %w", err)
	}
	if err := c.LinkConfig().Validate(); err != nil {
		return fmt.Errorf("link: %w", err)
	}

	switch strings.ToLower(c.Log.Level) {
	case "trace", "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("log: неизвестный уровень %q", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text":
	default:
		return fmt.Errorf("log: неподдерживаемый формат %q (json или text)", c.Log.Format)
	}
	if c.Log.File.Enabled && c.Log.File.Path == "" {
		return fmt.Errorf("log: для вывода в файл нужен path")
	}

	if c.Monitor.Enabled && c.Monitor.Listen == "" {
		return fmt.Errorf("monitor: адрес обязателен")
	}
	return nil
}

// TransportConfig возвращает настройки UDP транспорта
func (c Config) TransportConfig() transport.Config {
	return transport.Config{
		LocalAddr:  c.Transport.Listen,
		ClientAddr: c.Transport.ClientAddr,
		RecvBuffer: c.Transport.RecvBuffer,
		SendBuffer: c.Transport.SendBuffer,
		DSCP:       c.Transport.DSCP,
		Priority:   c.Transport.Priority,
		ReusePort:  c.Transport.ReusePort,
	}
}

// LinkConfig возвращает настройки соединения
func (c Config) LinkConfig() link.Config {
	cfg := link.DefaultConfig()
	cfg.Force3DOF = c.Link.Force3DOF
	cfg.PollTimeout = c.Link.PollTimeout
	cfg.StatisticsInterval = c.Link.StatisticsInterval
	cfg.Controller.InitialPercentage = c.FEC.InitialPercentage
	cfg.Controller.MaxPercentage = c.FEC.MaxPercentage
	cfg.Controller.Step = c.FEC.Step
	cfg.Controller.FailureWindow = c.FEC.FailureWindow
	return cfg
}

// MonitorConfig возвращает настройки сервера наблюдения
func (c Config) MonitorConfig() monitor.Config {
	cfg := monitor.DefaultConfig()
	cfg.Addr = c.Monitor.Listen
	return cfg
}
