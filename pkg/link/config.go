package link

import (
	"fmt"
	"time"

	"github.com/arzzra/vrlink/pkg/fec"
)

// Значения по умолчанию
const (
	DefaultPollTimeout        = 10 * time.Millisecond
	DefaultStatisticsInterval = time.Second
)

// Config конфигурация соединения
type Config struct {
	// Force3DOF обнуляет позицию головы в TrackingInfo
	Force3DOF bool

	// PollTimeout максимальное ожидание входящей датаграммы за итерацию
	PollTimeout time.Duration
	// StatisticsInterval период отчета статистики
	StatisticsInterval time.Duration

	FEC        fec.Config
	Controller fec.ControllerConfig
}

// DefaultConfig возвращает конфигурацию по умолчанию
func DefaultConfig() Config {
	return Config{
		PollTimeout:        DefaultPollTimeout,
		StatisticsInterval: DefaultStatisticsInterval,
		FEC:                fec.DefaultConfig(),
		Controller:         fec.DefaultControllerConfig(),
	}
}

// Validate проверяет конфигурацию
func (c Config) Validate() error {
	if c.PollTimeout <= 0 {
		return fmt.Errorf("PollTimeout должен быть больше 0")
	}
	if c.StatisticsInterval <= 0 {
		return fmt.Errorf("StatisticsInterval должен быть больше 0")
	}
	if err := c.FEC.Validate(); err != nil {
		return fmt.Errorf("FEC: %w", err)
	}
	if err := c.Controller.Validate(); err != nil {
		return fmt.Errorf("Controller: %w", err)
	}
	return nil
}
