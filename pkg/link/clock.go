package link

import (
	"github.com/sirupsen/logrus"

	"github.com/arzzra/vrlink/pkg/protocol"
)

// ClockOffset возвращает смещение часов сервера относительно клиента, мкс
func (c *Connection) ClockOffset() int64 {
	return c.clockOffset.Load()
}

// RoundTripTime возвращает последний измеренный RTT, мкс
func (c *Connection) RoundTripTime() uint64 {
	return c.roundTrip.Load()
}

// ClientToServerTime переводит время клиента во время сервера
func (c *Connection) ClientToServerTime(clientTime uint64) uint64 {
	return uint64(int64(clientTime) + c.clockOffset.Load())
}

// ServerToClientTime переводит время сервера во время клиента
func (c *Connection) ServerToClientTime(serverTime uint64) uint64 {
	return uint64(int64(serverTime) - c.clockOffset.Load())
}

// handleRoundTrip завершает замер: RTT = now - serverTime,
// offset = now - (clientTime + RTT/2). Последний замер заменяет предыдущий.
func (c *Connection) handleRoundTrip(msg *protocol.TimeSync) {
	now := c.now()
	rtt, offset := estimateOffset(now, msg.ServerTime, msg.ClientTime)

	c.roundTrip.Store(rtt)
	c.clockOffset.Store(offset)
	c.metrics.SetClock(offset, rtt)

	c.log.WithFields(logrus.Fields{
		"rtt":    rtt,
		"offset": offset,
	}).Debug("замер времени")
}

// estimateOffset вычисляет RTT и смещение часов по одному замеру
func estimateOffset(now, echoedServerTime, clientTime uint64) (rtt uint64, offset int64) {
	rtt = now - echoedServerTime
	offset = int64(now) - (int64(clientTime) + int64(rtt/2))
	return rtt, offset
}
