package transport

import (
	"context"
	"fmt"
	"net"
	"syscall"

	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"
)

// listen создает и настраивает UDP сокет.
// Платформенные опции выставляются до bind, буферы и DSCP после.
func listen(cfg Config) (*net.UDPConn, error) {
	lc := net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			var sockErr error
			err := c.Control(func(fd uintptr) {
				sockErr = applyPlatformOptions(int(fd), cfg)
			})
			if err != nil {
				return fmt.Errorf("ошибка управления сокетом: %w", err)
			}
			return sockErr
		},
	}

	pc, err := lc.ListenPacket(context.Background(), "udp", cfg.LocalAddr)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания UDP соединения на '%s': %w", cfg.LocalAddr, err)
	}
	conn := pc.(*net.UDPConn)

	if err := tuneSocket(conn, cfg); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ошибка настройки сокета: %w", err)
	}
	return conn, nil
}

// tuneSocket настраивает буферы и маркировку уже открытого сокета
func tuneSocket(conn *net.UDPConn, cfg Config) error {
	if err := conn.SetReadBuffer(cfg.RecvBuffer); err != nil {
		return fmt.Errorf("SO_RCVBUF (%d): %w", cfg.RecvBuffer, err)
	}
	if err := conn.SetWriteBuffer(cfg.SendBuffer); err != nil {
		return fmt.Errorf("SO_SNDBUF (%d): %w", cfg.SendBuffer, err)
	}

	if cfg.DSCP > 0 {
		setDSCP(conn, cfg.DSCP)
	}
	return nil
}

// setDSCP устанавливает DSCP в поле TOS (IPv4) и Traffic Class (IPv6).
// Ошибки игнорируются: в контейнерах маркировка может быть запрещена,
// а сокет одного семейства не принимает опцию другого.
func setDSCP(conn *net.UDPConn, dscp int) {
	tos := dscp << 2
	_ = ipv4.NewConn(conn).SetTOS(tos)
	_ = ipv6.NewConn(conn).SetTrafficClass(tos)
}
