// Package transport реализует датаграммный транспорт соединения со шлемом
// поверх UDP.
//
// Один сокет обслуживает одного клиента. Адрес клиента задается в
// конфигурации или запоминается по первой принятой датаграмме; датаграммы
// от других адресов не считаются легитимными. Чтение выполняет одна
// горутина (цикл сессии), отправка безопасна из любых горутин.
package transport

import (
	"errors"
	"fmt"
	"time"

	"github.com/arzzra/vrlink/pkg/protocol"
)

// Значения по умолчанию
const (
	DefaultPollTimeout = 10 * time.Millisecond

	// Буферы сокета рассчитаны на пачку shard-пакетов одного большого кадра
	DefaultRecvBuffer = 1 << 20
	DefaultSendBuffer = 4 << 20

	// DSCP значения согласно RFC 4594
	DSCPExpeditedForwarding = 46 // EF, интерактивное аудио
	DSCPAssuredForwarding   = 34 // AF41, интерактивное видео
	DSCPBestEffort          = 0

	// DefaultPriority приоритет SO_PRIORITY (Linux)
	DefaultPriority = 6
)

var (
	// ErrClosed транспорт закрыт через Shutdown
	ErrClosed = errors.New("transport: closed")
	// ErrNoClient адрес клиента еще не известен
	ErrNoClient = errors.New("transport: client address unknown")
	// ErrDatagramTooLarge датаграмма больше MaxDatagramSize
	ErrDatagramTooLarge = errors.New("transport: datagram too large")
)

// Config конфигурация UDP транспорта
type Config struct {
	LocalAddr  string // Адрес прослушивания, например ":9944"
	ClientAddr string // Адрес клиента; пусто - запомнить первый

	RecvBuffer int  // SO_RCVBUF
	SendBuffer int  // SO_SNDBUF
	DSCP       int  // DSCP маркировка (0 = не устанавливать)
	Priority   int  // SO_PRIORITY (0 = не устанавливать)
	ReusePort  bool // SO_REUSEPORT
}

// DefaultConfig возвращает конфигурацию по умолчанию
func DefaultConfig() Config {
	return Config{
		LocalAddr:  ":9944",
		RecvBuffer: DefaultRecvBuffer,
		SendBuffer: DefaultSendBuffer,
		DSCP:       DSCPAssuredForwarding,
		Priority:   DefaultPriority,
	}
}

// ApplyDefaults заполняет незаданные размеры буферов
func (c *Config) ApplyDefaults() {
	if c.RecvBuffer == 0 {
		c.RecvBuffer = DefaultRecvBuffer
	}
	if c.SendBuffer == 0 {
		c.SendBuffer = DefaultSendBuffer
	}
}

// Validate проверяет конфигурацию
func (c Config) Validate() error {
	if c.LocalAddr == "" {
		return fmt.Errorf("локальный адрес обязателен")
	}
	if c.RecvBuffer < 0 || c.SendBuffer < 0 {
		return fmt.Errorf("размер буфера не может быть отрицательным")
	}
	if c.DSCP < 0 || c.DSCP > 63 {
		return fmt.Errorf("DSCP должен быть в диапазоне 0-63")
	}
	if c.Priority < 0 || c.Priority > 7 {
		return fmt.Errorf("Priority должен быть в диапазоне 0-7")
	}
	return nil
}

// PacketCounter учитывает отправленные датаграммы.
// Реализуется stats.Statistics.
type PacketCounter interface {
	CountPacket(bytes int)
	Tick()
}

// Statistics счетчики транспорта
type Statistics struct {
	PacketsSent     uint64
	PacketsReceived uint64
	BytesSent       uint64
	BytesReceived   uint64
	ErrorsSend      uint64
	ErrorsReceive   uint64
	Rejected        uint64 // Датаграммы от чужих адресов
	LastActivity    time.Time
	ConnectionTime  time.Time
	LocalAddr       string
	ClientAddr      string
}

// Uptime возвращает время работы транспорта
func (s Statistics) Uptime() time.Duration {
	if s.ConnectionTime.IsZero() {
		return 0
	}
	return time.Since(s.ConnectionTime)
}

// validateDatagramSize проверяет размер исходящей датаграммы
func validateDatagramSize(size int) error {
	if size == 0 {
		return fmt.Errorf("пустая датаграмма")
	}
	if size > protocol.MaxDatagramSize {
		return fmt.Errorf("%w: %d байт (максимум %d)", ErrDatagramTooLarge, size, protocol.MaxDatagramSize)
	}
	return nil
}
