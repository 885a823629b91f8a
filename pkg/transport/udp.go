package transport

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/arzzra/vrlink/pkg/protocol"
)

// UDPTransport UDP транспорт одного клиента
type UDPTransport struct {
	conn    *net.UDPConn
	config  Config
	counter PacketCounter
	log     *logrus.Entry

	client atomic.Pointer[net.UDPAddr]
	fixed  bool // Адрес клиента задан в конфигурации

	// Датаграмма, прочитанная Poll и еще не отданная Recv.
	// Используется только горутиной чтения.
	pending     []byte
	pendingLen  int
	pendingAddr *net.UDPAddr
	hasPending  bool

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error

	packetsSent     atomic.Uint64
	packetsReceived atomic.Uint64
	bytesSent       atomic.Uint64
	bytesReceived   atomic.Uint64
	errorsSend      atomic.Uint64
	errorsReceive   atomic.Uint64
	rejected        atomic.Uint64
	lastActivity    atomic.Int64
	connectionTime  time.Time
}

// NewUDPTransport создает транспорт и открывает сокет.
// counter и log могут быть nil.
func NewUDPTransport(config Config, counter PacketCounter, log *logrus.Entry) (*UDPTransport, error) {
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("неверная конфигурация транспорта: %w", err)
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	t := &UDPTransport{
		config:         config,
		counter:        counter,
		log:            log.WithField("component", "transport"),
		pending:        make([]byte, protocol.MaxDatagramSize),
		connectionTime: time.Now(),
	}

	if config.ClientAddr != "" {
		addr, err := net.ResolveUDPAddr("udp", config.ClientAddr)
		if err != nil {
			return nil, fmt.Errorf("ошибка разрешения адреса клиента '%s': %w", config.ClientAddr, err)
		}
		t.client.Store(addr)
		t.fixed = true
	}

	conn, err := listen(config)
	if err != nil {
		return nil, err
	}
	t.conn = conn

	t.log.WithFields(logrus.Fields{
		"local":  conn.LocalAddr().String(),
		"client": config.ClientAddr,
	}).Info("UDP транспорт запущен")

	return t, nil
}

// Send отправляет датаграмму клиенту. Безопасен для конкурентного вызова.
func (t *UDPTransport) Send(b []byte) error {
	if t.closed.Load() {
		return ErrClosed
	}
	if err := validateDatagramSize(len(b)); err != nil {
		t.errorsSend.Add(1)
		return err
	}

	client := t.client.Load()
	if client == nil {
		return ErrNoClient
	}

	n, err := t.conn.WriteToUDP(b, client)
	if err != nil {
		t.errorsSend.Add(1)
		return classifyNetworkError("UDP write", err)
	}

	t.packetsSent.Add(1)
	t.bytesSent.Add(uint64(n))
	t.lastActivity.Store(time.Now().UnixNano())
	if t.counter != nil {
		t.counter.CountPacket(n)
	}
	return nil
}

// Poll ждет входящую датаграмму не дольше timeout.
// Возвращает true, если следующий Recv не заблокируется.
func (t *UDPTransport) Poll(timeout time.Duration) (bool, error) {
	if t.hasPending {
		return true, nil
	}
	if t.closed.Load() {
		return false, ErrClosed
	}

	if err := t.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return false, classifyNetworkError("UDP deadline", err)
	}

	n, addr, err := t.conn.ReadFromUDP(t.pending)
	if err != nil {
		err = classifyNetworkError("UDP read", err)
		if IsTimeout(err) {
			return false, nil
		}
		if errors.Is(err, ErrClosed) {
			return false, ErrClosed
		}
		t.errorsReceive.Add(1)
		return false, err
	}

	t.pendingLen = n
	t.pendingAddr = addr
	t.hasPending = true
	return true, nil
}

// Recv копирует следующую датаграмму в buf и возвращает ее длину и
// адрес отправителя. Датаграмма длиннее buf обрезается.
func (t *UDPTransport) Recv(buf []byte) (int, net.Addr, error) {
	if !t.hasPending {
		if err := t.conn.SetReadDeadline(time.Time{}); err != nil {
			return 0, nil, classifyNetworkError("UDP deadline", err)
		}
		n, addr, err := t.conn.ReadFromUDP(t.pending)
		if err != nil {
			err = classifyNetworkError("UDP read", err)
			if !errors.Is(err, ErrClosed) {
				t.errorsReceive.Add(1)
			}
			return 0, nil, err
		}
		t.pendingLen, t.pendingAddr = n, addr
	}
	t.hasPending = false

	n := copy(buf, t.pending[:t.pendingLen])
	t.packetsReceived.Add(1)
	t.bytesReceived.Add(uint64(t.pendingLen))
	t.lastActivity.Store(time.Now().UnixNano())
	return n, t.pendingAddr, nil
}

// Run служебная обработка между итерациями цикла
func (t *UDPTransport) Run() {
	if t.counter != nil {
		t.counter.Tick()
	}
}

// IsLegitClient проверяет, что addr - известный клиент.
// Пока клиент не известен, возвращает false.
func (t *UDPTransport) IsLegitClient(addr net.Addr) bool {
	udpAddr, ok := addr.(*net.UDPAddr)
	if !ok || udpAddr == nil {
		t.rejected.Add(1)
		return false
	}

	client := t.client.Load()
	if client == nil {
		return false
	}
	if sameAddr(client, udpAddr) {
		return true
	}
	t.rejected.Add(1)
	return false
}

// Learn запоминает addr как клиента, если адрес клиента не задан в
// конфигурации и еще не получен. Вызывается после успешного разбора
// сообщения, чтобы посторонний мусор не занял место клиента.
// Возвращает true, если addr - клиент.
func (t *UDPTransport) Learn(addr net.Addr) bool {
	udpAddr, ok := addr.(*net.UDPAddr)
	if !ok || udpAddr == nil {
		return false
	}

	if !t.fixed {
		learned := *udpAddr
		if t.client.CompareAndSwap(nil, &learned) {
			t.log.WithField("client", learned.String()).Info("клиент подключен")
			return true
		}
	}
	return sameAddr(t.client.Load(), udpAddr)
}

// ClientAddr возвращает адрес клиента или nil
func (t *UDPTransport) ClientAddr() net.Addr {
	if addr := t.client.Load(); addr != nil {
		return addr
	}
	return nil
}

// LocalAddr возвращает локальный адрес сокета
func (t *UDPTransport) LocalAddr() net.Addr {
	return t.conn.LocalAddr()
}

// Shutdown закрывает сокет и разблокирует ожидающий Poll/Recv.
// Повторный вызов безопасен.
func (t *UDPTransport) Shutdown() error {
	t.closeOnce.Do(func() {
		t.closed.Store(true)
		t.closeErr = t.conn.Close()
		t.log.Info("UDP транспорт остановлен")
	})
	return t.closeErr
}

// Statistics возвращает счетчики транспорта
func (t *UDPTransport) Statistics() Statistics {
	stats := Statistics{
		PacketsSent:     t.packetsSent.Load(),
		PacketsReceived: t.packetsReceived.Load(),
		BytesSent:       t.bytesSent.Load(),
		BytesReceived:   t.bytesReceived.Load(),
		ErrorsSend:      t.errorsSend.Load(),
		ErrorsReceive:   t.errorsReceive.Load(),
		Rejected:        t.rejected.Load(),
		ConnectionTime:  t.connectionTime,
		LocalAddr:       t.conn.LocalAddr().String(),
	}
	if last := t.lastActivity.Load(); last != 0 {
		stats.LastActivity = time.Unix(0, last)
	}
	if client := t.client.Load(); client != nil {
		stats.ClientAddr = client.String()
	}
	return stats
}

// sameAddr сравнивает адреса с учетом IPv4-mapped IPv6
func sameAddr(a, b *net.UDPAddr) bool {
	if a == nil || b == nil {
		return false
	}
	return a.Port == b.Port && a.IP.Equal(b.IP)
}
