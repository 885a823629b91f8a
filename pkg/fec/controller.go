package fec

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Параметры адаптивного контроллера по умолчанию
const (
	InitialPercentage       = 5
	MaxPercentage           = 10
	PercentageStep          = 5
	ContinuousFailureWindow = 60 * time.Second
)

// ControllerConfig настройки контроллера избыточности
type ControllerConfig struct {
	InitialPercentage int           // Стартовый процент
	MaxPercentage     int           // Потолок процента
	Step              int           // Шаг повышения
	FailureWindow     time.Duration // Окно "непрерывных" сбоев

	// Now возвращает текущее время в микросекундах
	Now func() uint64
	// OnPacketLoss вызывается на каждый сбой
	OnPacketLoss func()
}

// DefaultControllerConfig возвращает настройки по умолчанию
func DefaultControllerConfig() ControllerConfig {
	return ControllerConfig{
		InitialPercentage: InitialPercentage,
		MaxPercentage:     MaxPercentage,
		Step:              PercentageStep,
		FailureWindow:     ContinuousFailureWindow,
	}
}

// Validate проверяет настройки контроллера
func (c ControllerConfig) Validate() error {
	if c.InitialPercentage < 0 {
		return fmt.Errorf("InitialPercentage не может быть отрицательным")
	}
	if c.MaxPercentage < c.InitialPercentage {
		return fmt.Errorf("MaxPercentage (%d) меньше InitialPercentage (%d)", c.MaxPercentage, c.InitialPercentage)
	}
	if c.Step <= 0 {
		return fmt.Errorf("Step должен быть больше 0")
	}
	if c.FailureWindow <= 0 {
		return fmt.Errorf("FailureWindow должен быть больше 0")
	}
	return nil
}

// Controller повышает процент избыточности при сериях сбоев.
//
// Одиночный сбой не повышает процент; повышение происходит только если
// предыдущий сбой был в пределах FailureWindow. Понижения нет.
// OnFailure вызывается из одной горутины (диспетчер), Percentage читается
// из любой.
type Controller struct {
	cfg ControllerConfig

	percentage atomic.Int32

	mu          sync.Mutex
	lastFailure uint64
	hasFailure  bool
	failures    atomic.Uint64
}

// NewController создает контроллер
func NewController(cfg ControllerConfig) (*Controller, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("неверная конфигурация контроллера FEC: %w", err)
	}
	if cfg.Now == nil {
		cfg.Now = func() uint64 { return uint64(time.Now().UnixMicro()) }
	}

	c := &Controller{cfg: cfg}
	c.percentage.Store(int32(cfg.InitialPercentage))
	return c, nil
}

// Percentage возвращает текущий процент избыточности
func (c *Controller) Percentage() int {
	return int(c.percentage.Load())
}

// Failures возвращает количество зарегистрированных сбоев
func (c *Controller) Failures() uint64 {
	return c.failures.Load()
}

// OnFailure регистрирует сбой FEC и возвращает true, если процент повышен.
// Время последнего сбоя обновляется всегда.
func (c *Controller) OnFailure() bool {
	now := c.cfg.Now()
	escalated := false

	c.mu.Lock()
	window := uint64(c.cfg.FailureWindow / time.Microsecond)
	if c.hasFailure && now-c.lastFailure < window {
		current := int(c.percentage.Load())
		if current < c.cfg.MaxPercentage {
			next := current + c.cfg.Step
			if next > c.cfg.MaxPercentage {
				next = c.cfg.MaxPercentage
			}
			c.percentage.Store(int32(next))
			escalated = true
		}
	}
	c.lastFailure = now
	c.hasFailure = true
	c.mu.Unlock()

	c.failures.Add(1)

	if c.cfg.OnPacketLoss != nil {
		c.cfg.OnPacketLoss()
	}
	return escalated
}
