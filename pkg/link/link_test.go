package link

import (
	"errors"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/arzzra/vrlink/pkg/protocol"
	"github.com/arzzra/vrlink/pkg/stats"
	"github.com/arzzra/vrlink/pkg/transport"
)

var clientAddr = &net.UDPAddr{IP: net.IPv4(10, 0, 0, 2), Port: 9943}

type inbound struct {
	data []byte
	from net.Addr
}

// fakeTransport записывает отправленные датаграммы и выдает входящие из канала
type fakeTransport struct {
	mu      sync.Mutex
	sent    [][]byte
	sendErr error

	inbox   chan inbound
	pending *inbound

	client     atomic.Pointer[net.UDPAddr]
	legitCalls atomic.Int32
	learnCalls atomic.Int32
	runs       atomic.Int32

	closed    chan struct{}
	closeOnce sync.Once
	shutdowns atomic.Int32
}

func newFakeTransport() *fakeTransport {
	f := &fakeTransport{
		inbox:  make(chan inbound, 64),
		closed: make(chan struct{}),
	}
	f.client.Store(clientAddr)
	return f
}

func (f *fakeTransport) Send(b []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, append([]byte(nil), b...))
	return nil
}

func (f *fakeTransport) Poll(timeout time.Duration) (bool, error) {
	if f.pending != nil {
		return true, nil
	}
	select {
	case <-f.closed:
		return false, transport.ErrClosed
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case d := <-f.inbox:
		f.pending = &d
		return true, nil
	case <-f.closed:
		return false, transport.ErrClosed
	case <-timer.C:
		return false, nil
	}
}

func (f *fakeTransport) Recv(buf []byte) (int, net.Addr, error) {
	if f.pending == nil {
		return 0, nil, errors.New("нет датаграммы")
	}
	d := f.pending
	f.pending = nil
	return copy(buf, d.data), d.from, nil
}

func (f *fakeTransport) Run() {
	f.runs.Add(1)
}

func (f *fakeTransport) IsLegitClient(addr net.Addr) bool {
	f.legitCalls.Add(1)
	return sameUDPAddr(f.client.Load(), addr)
}

func (f *fakeTransport) Learn(addr net.Addr) bool {
	f.learnCalls.Add(1)
	udpAddr, ok := addr.(*net.UDPAddr)
	if !ok {
		return false
	}
	if f.client.CompareAndSwap(nil, udpAddr) {
		return true
	}
	return sameUDPAddr(f.client.Load(), addr)
}

func sameUDPAddr(client *net.UDPAddr, addr net.Addr) bool {
	udpAddr, ok := addr.(*net.UDPAddr)
	return ok && client != nil && udpAddr.IP.Equal(client.IP) && udpAddr.Port == client.Port
}

func (f *fakeTransport) Shutdown() error {
	f.shutdowns.Add(1)
	f.closeOnce.Do(func() { close(f.closed) })
	return nil
}

func (f *fakeTransport) push(m protocol.Message) {
	f.inbox <- inbound{data: protocol.Marshal(m), from: clientAddr}
}

// Sent возвращает копию отправленных датаграмм
func (f *fakeTransport) Sent() [][]byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]byte(nil), f.sent...)
}

func (f *fakeTransport) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = nil
}

// SentMessages декодирует отправленные датаграммы
func (f *fakeTransport) SentMessages(t *testing.T) []protocol.Message {
	t.Helper()
	var out []protocol.Message
	for _, d := range f.Sent() {
		m, err := protocol.Decode(d)
		require.NoError(t, err)
		out = append(out, m)
	}
	return out
}

// testClock управляемые часы, безопасные для чтения из цикла
type testClock struct {
	now atomic.Uint64
}

func newTestClock(start uint64) *testClock {
	c := &testClock{}
	c.now.Store(start)
	return c
}

func (c *testClock) Now() uint64 { return c.now.Load() }

func (c *testClock) Set(v uint64) { c.now.Store(v) }

func (c *testClock) Advance(d time.Duration) {
	c.now.Add(uint64(d / time.Microsecond))
}

type sinkFunc func(pcm []byte) error

func (f sinkFunc) PlayMicAudio(pcm []byte) error { return f(pcm) }

type fixture struct {
	conn      *Connection
	transport *fakeTransport
	clock     *testClock
	registry  *prometheus.Registry
}

func newFixture(t *testing.T, mutate func(*Config, *Options)) *fixture {
	t.Helper()

	f := &fixture{
		transport: newFakeTransport(),
		clock:     newTestClock(1_000_000),
		registry:  prometheus.NewRegistry(),
	}

	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel)
	logger.SetOutput(io.Discard)

	cfg := DefaultConfig()
	cfg.PollTimeout = time.Millisecond
	opts := Options{
		ID:         "test",
		Transport:  f.transport,
		Clock:      f.clock.Now,
		Registerer: f.registry,
		Logger:     logrus.NewEntry(logger),
	}
	if mutate != nil {
		mutate(&cfg, &opts)
	}

	conn, err := NewConnection(cfg, opts)
	require.NoError(t, err)
	f.conn = conn
	t.Cleanup(conn.Stop)
	return f
}

func (f *fixture) metrics() *stats.Metrics {
	return f.conn.metrics
}
