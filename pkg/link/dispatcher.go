package link

import (
	"context"
	"errors"
	"net"

	"github.com/sirupsen/logrus"

	"github.com/arzzra/vrlink/pkg/guardian"
	"github.com/arzzra/vrlink/pkg/protocol"
	"github.com/arzzra/vrlink/pkg/stats"
)

// Dispatch разбирает входящую датаграмму и применяет ее к состоянию
// соединения. Короткие датаграммы, неизвестные типы и чужие отправители
// молча отбрасываются. Вызывается только из горутины цикла.
//
// Датаграмма декодируется до проверки отправителя: пока клиент не
// известен, им становится только отправитель корректного TrackingInfo
// или запроса TimeSync.
func (c *Connection) Dispatch(ctx context.Context, datagram []byte, from net.Addr) {
	if len(datagram) < protocol.TypeSize {
		c.drop(stats.DropReasonShort, from, nil)
		return
	}

	msg, err := protocol.Decode(datagram)
	if err != nil {
		reason := stats.DropReasonShort
		if errors.Is(err, protocol.ErrUnknownType) {
			reason = stats.DropReasonUnknownType
		}
		c.drop(reason, from, err)
		return
	}

	if !c.transport.IsLegitClient(from) {
		if !identifiesClient(msg) || !c.transport.Learn(from) {
			c.drop(stats.DropReasonSender, from, nil)
			return
		}
	}
	c.metrics.Received(msg.Type().String())

	switch m := msg.(type) {
	case *protocol.TrackingInfo:
		c.handleTrackingInfo(m)
	case *protocol.TimeSync:
		c.handleTimeSync(m)
	case *protocol.PacketErrorReport:
		c.handlePacketErrorReport(m)
	case *protocol.MicAudioFrame:
		c.handleMicAudio(m)
	case *protocol.GuardianSyncStart:
		c.guardianResult(c.handshake.HandleSyncStart(ctx, m))
	case *protocol.GuardianSegmentData:
		c.guardianResult(c.handshake.HandleSegment(ctx, m))
	case *protocol.VideoFrame, *protocol.AudioFrameStart, *protocol.AudioFrame,
		*protocol.HapticsFeedback, *protocol.GuardianSyncAck, *protocol.GuardianSegmentAck:
		// Сообщения сервер -> клиент во входящем потоке игнорируются
	}
}

// identifiesClient сообщения, по которым сервер запоминает шлем
func identifiesClient(msg protocol.Message) bool {
	switch m := msg.(type) {
	case *protocol.TrackingInfo:
		return true
	case *protocol.TimeSync:
		return m.Mode == protocol.TimeSyncModeRequest
	}
	return false
}

func (c *Connection) guardianResult(err error) {
	switch {
	case err == nil:
	case errors.Is(err, guardian.ErrTooManyPoints):
		c.metrics.Dropped(stats.DropReasonMalformed)
	default:
		c.metrics.Dropped(stats.DropReasonStale)
	}
}

func (c *Connection) drop(reason string, from net.Addr, err error) {
	c.metrics.Dropped(reason)
	if c.log.Logger.IsLevelEnabled(logrus.DebugLevel) {
		entry := c.log.WithField("reason", reason)
		if from != nil {
			entry = entry.WithField("from", from.String())
		}
		if err != nil {
			entry = entry.WithError(err)
		}
		entry.Debug("датаграмма отброшена")
	}
}

// handleTrackingInfo публикует снимок позы. В режиме 3DOF позиция
// обнуляется до публикации.
func (c *Connection) handleTrackingInfo(m *protocol.TrackingInfo) {
	info := TrackingInfo{Type: protocol.TypeTrackingInfo, TrackingInfo: *m}
	if c.cfg.Force3DOF {
		info.HeadPosition = protocol.Vector3{}
	}

	c.trackingMu.Lock()
	c.tracking = info
	c.trackingMu.Unlock()

	if c.callbacks.OnPoseUpdated != nil {
		c.callbacks.OnPoseUpdated(info)
	}
}

func (c *Connection) handleTimeSync(m *protocol.TimeSync) {
	switch m.Mode {
	case protocol.TimeSyncModeRequest:
		c.clientStatsMu.Lock()
		c.clientStats = *m
		c.clientStatsMu.Unlock()
		c.metrics.ObserveClient(*m)

		reply := *m
		reply.Mode = protocol.TimeSyncModeReply
		reply.ServerTime = c.now()
		if err := c.send(&reply); err != nil {
			c.log.WithError(err).Debug("ошибка ответа на TimeSync")
		}

		if m.FecFailure != 0 {
			c.onFecFailure()
		}
	case protocol.TimeSyncModeRoundTrip:
		c.handleRoundTrip(m)
	}
}

func (c *Connection) handlePacketErrorReport(m *protocol.PacketErrorReport) {
	c.log.WithFields(logrus.Fields{
		"lostType": m.LostFrameType,
		"from":     m.FromPacketCounter,
		"to":       m.ToPacketCounter,
	}).Debug("клиент сообщил о потере пакетов")

	if m.LostFrameType == protocol.LostFrameTypeVideo {
		c.onFecFailure()
	}
}

func (c *Connection) handleMicAudio(m *protocol.MicAudioFrame) {
	if c.sink == nil {
		return
	}
	if err := c.sink.PlayMicAudio(m.PCM()); err != nil {
		c.log.WithError(err).Debug("ошибка воспроизведения микрофона")
	}
}

// onFecFailure передает сбой контроллеру FEC
func (c *Connection) onFecFailure() {
	if c.controller.OnFailure() {
		percentage := c.controller.Percentage()
		c.metrics.SetFecPercentage(percentage)
		c.log.WithField("percentage", percentage).Info("процент FEC повышен")
	}
}
