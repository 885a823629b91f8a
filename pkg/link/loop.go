package link

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/looplab/fsm"

	"github.com/arzzra/vrlink/pkg/protocol"
	"github.com/arzzra/vrlink/pkg/transport"
)

// Состояния цикла сессии
const (
	StateIdle     = "idle"
	StateRunning  = "running"
	StateStopping = "stopping"
	StateStopped  = "stopped"
)

// События FSM цикла
const (
	eventStart   = "start"
	eventStop    = "stop"
	eventStopped = "stopped"
)

// newSessionFSM idle -> running -> stopping -> stopped.
// Остановка до запуска переводит сразу в stopped.
func newSessionFSM() *fsm.FSM {
	return fsm.NewFSM(
		StateIdle,
		fsm.Events{
			{Name: eventStart, Src: []string{StateIdle}, Dst: StateRunning},
			{Name: eventStop, Src: []string{StateRunning}, Dst: StateStopping},
			{Name: eventStopped, Src: []string{StateIdle, StateStopping}, Dst: StateStopped},
		}, nil,
	)
}

// State возвращает состояние цикла
func (c *Connection) State() string {
	return c.state.Current()
}

// Start запускает горутину цикла сессии. Повторный запуск - ошибка.
func (c *Connection) Start(ctx context.Context) error {
	c.lifeMu.Lock()
	defer c.lifeMu.Unlock()

	if err := c.state.Event(ctx, eventStart); err != nil {
		return fmt.Errorf("запуск соединения из состояния %s: %w", c.state.Current(), err)
	}

	c.statistics.ResetAll()
	c.lastStatistics = c.now()

	go c.run(ctx)

	c.log.Info("соединение запущено")
	return nil
}

// Stop останавливает цикл и ждет завершения горутины.
// Безопасен из любой горутины, повторные вызовы возвращаются сразу.
func (c *Connection) Stop() {
	c.stopOnce.Do(func() {
		ctx := context.Background()

		c.lifeMu.Lock()
		wasRunning := c.state.Current() == StateRunning
		if wasRunning {
			_ = c.state.Event(ctx, eventStop)
		}
		c.lifeMu.Unlock()

		c.exit.Store(true)
		if err := c.transport.Shutdown(); err != nil {
			c.log.WithError(err).Debug("ошибка закрытия транспорта")
		}
		if wasRunning {
			<-c.done
		}

		c.lifeMu.Lock()
		_ = c.state.Event(ctx, eventStopped)
		c.lifeMu.Unlock()

		c.log.Info("соединение остановлено")
	})
}

// Done закрывается при выходе горутины цикла
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

// run цикл сессии. Флаг выхода проверяется только между итерациями.
func (c *Connection) run(ctx context.Context) {
	defer close(c.done)

	buf := make([]byte, protocol.MaxDatagramSize)
	for !c.exit.Load() && ctx.Err() == nil {
		if !c.iterate(ctx, buf) {
			return
		}
		c.maybeReportStatistics()
	}
}

// iterate одна итерация: ожидание, прием, обработка, обслуживание
// транспорта. Возвращает false, если транспорт закрыт.
func (c *Connection) iterate(ctx context.Context, buf []byte) bool {
	ready, err := c.transport.Poll(c.cfg.PollTimeout)
	if err != nil {
		if errors.Is(err, transport.ErrClosed) {
			return false
		}
		c.log.WithError(err).Debug("ошибка ожидания датаграммы")
		c.transport.Run()
		return true
	}
	if !ready {
		c.transport.Run()
		return true
	}

	n, from, err := c.transport.Recv(buf)
	if err != nil {
		if errors.Is(err, transport.ErrClosed) {
			return false
		}
		c.log.WithError(err).Debug("ошибка приема датаграммы")
	} else {
		c.Dispatch(ctx, buf[:n], from)
	}

	c.transport.Run()
	return true
}

// maybeReportStatistics раз в StatisticsInterval формирует отчет
func (c *Connection) maybeReportStatistics() {
	now := c.now()
	interval := uint64(c.cfg.StatisticsInterval / time.Microsecond)
	if now-c.lastStatistics <= interval {
		return
	}
	c.lastStatistics = now

	report := c.Statistics()
	c.log.WithField("id", "statistics").WithFields(report.Fields()).Info("статистика соединения")

	if c.callbacks.OnStatistics != nil {
		c.callbacks.OnStatistics(report)
	}
}
