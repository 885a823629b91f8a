package guardian

import (
	"context"
	"errors"
	"fmt"

	"github.com/looplab/fsm"
	"github.com/sirupsen/logrus"

	"github.com/arzzra/vrlink/pkg/protocol"
)

// Состояния передачи границы
const (
	StateIdle      = "idle"
	StateSyncing   = "syncing"
	StateCommitted = "committed"
)

// События FSM
const (
	eventSyncStart = "sync_start"
	eventCommit    = "commit"
)

// MaxGuardianPoints предел точек границы в одной сессии передачи.
// Реальные границы содержат сотни точек.
const MaxGuardianPoints = 64 * protocol.GuardianSegmentSize

var (
	// ErrStale сообщение относится к старой или чужой сессии
	ErrStale = errors.New("guardian: stale message")
	// ErrTooManyPoints заявлено больше MaxGuardianPoints точек
	ErrTooManyPoints = errors.New("guardian: too many points")
	// ErrSegmentRange индекс сегмента вне диапазона сессии
	ErrSegmentRange = errors.New("guardian: segment index out of range")
)

// SendFunc отправляет подтверждение клиенту
type SendFunc func(protocol.Message) error

// Handshake обрабатывает входящие сообщения границы.
// Вызывается только из горутины диспетчера.
type Handshake struct {
	store Store
	send  SendFunc
	fsm   *fsm.FSM
	log   *logrus.Entry

	onCommit func()
}

// NewHandshake создает обработчик. onCommit вызывается после применения
// границы и может быть nil.
func NewHandshake(store Store, send SendFunc, onCommit func(), log *logrus.Entry) *Handshake {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Handshake{
		store:    store,
		send:     send,
		fsm:      newHandshakeFSM(),
		log:      log.WithField("component", "guardian"),
		onCommit: onCommit,
	}
}

// newHandshakeFSM idle -> syncing -> committed; новая сессия возможна из
// любого состояния
func newHandshakeFSM() *fsm.FSM {
	return fsm.NewFSM(
		StateIdle,
		fsm.Events{
			{Name: eventSyncStart, Src: []string{StateIdle, StateSyncing, StateCommitted}, Dst: StateSyncing},
			{Name: eventCommit, Src: []string{StateSyncing}, Dst: StateCommitted},
		}, nil,
	)
}

// State возвращает текущее состояние передачи
func (h *Handshake) State() string {
	return h.fsm.Current()
}

// HandleSyncStart начинает новую сессию, если метка новее текущей.
// Отброшенное сообщение не подтверждается и возвращает ошибку.
func (h *Handshake) HandleSyncStart(ctx context.Context, msg *protocol.GuardianSyncStart) error {
	if msg.Timestamp <= h.store.DataTimestamp() {
		h.log.WithField("timestamp", msg.Timestamp).Debug("устаревший GuardianSyncStart отброшен")
		return ErrStale
	}
	if msg.TotalPointCount > MaxGuardianPoints {
		h.log.WithField("points", msg.TotalPointCount).Debug("GuardianSyncStart с избыточным числом точек отброшен")
		return fmt.Errorf("%w: %d > %d", ErrTooManyPoints, msg.TotalPointCount, MaxGuardianPoints)
	}

	h.ack(&protocol.GuardianSyncAck{Timestamp: msg.Timestamp})

	h.store.ResetData(msg.Timestamp, int(msg.TotalPointCount))
	h.store.SetTransform(msg.StandingPosition, msg.StandingRotation, msg.PlayAreaSize)
	h.event(ctx, eventSyncStart)

	h.log.WithFields(logrus.Fields{
		"timestamp": msg.Timestamp,
		"points":    msg.TotalPointCount,
	}).Debug("передача границы начата")

	if msg.TotalPointCount <= 0 {
		h.store.GenerateStandingChaperone()
		h.maybeCommit(ctx)
	}
	return nil
}

// HandleSegment сохраняет сегмент активной сессии.
// Отброшенное сообщение не подтверждается и возвращает ошибку.
func (h *Handshake) HandleSegment(ctx context.Context, msg *protocol.GuardianSegmentData) error {
	if msg.Timestamp != h.store.DataTimestamp() {
		h.log.WithField("timestamp", msg.Timestamp).Debug("сегмент чужой сессии отброшен")
		return ErrStale
	}

	index := int(msg.SegmentIndex)
	count := h.store.SegmentCount()
	if index < 0 || index >= count {
		h.log.WithFields(logrus.Fields{
			"index": index,
			"count": count,
		}).Debug("индекс сегмента вне диапазона")
		return ErrSegmentRange
	}

	h.ack(&protocol.GuardianSegmentAck{Timestamp: msg.Timestamp, SegmentIndex: msg.SegmentIndex})
	h.store.SetSegment(index, msg.Points[:])

	if index >= count-1 {
		h.maybeCommit(ctx)
	}
	return nil
}

func (h *Handshake) maybeCommit(ctx context.Context) {
	if !h.store.MaybeCommitData() {
		return
	}
	h.event(ctx, eventCommit)
	if h.onCommit != nil {
		h.onCommit()
	}
}

// ack отправляет подтверждение; потерянное подтверждение клиент повторит
func (h *Handshake) ack(msg protocol.Message) {
	if h.send == nil {
		return
	}
	if err := h.send(msg); err != nil {
		h.log.WithError(err).WithField("type", msg.Type().String()).Debug("ошибка отправки подтверждения")
	}
}

func (h *Handshake) event(ctx context.Context, name string) {
	err := h.fsm.Event(ctx, name)
	var noTransition fsm.NoTransitionError
	if err != nil && !errors.As(err, &noTransition) {
		h.log.WithError(err).WithField("event", name).Warn("недопустимый переход")
	}
}
