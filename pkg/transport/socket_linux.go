//go:build linux

package transport

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// applyPlatformOptions Linux: SO_PRIORITY и SO_REUSEPORT.
// Вызывается до bind.
func applyPlatformOptions(fd int, cfg Config) error {
	if cfg.ReusePort {
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEPORT, 1); err != nil {
			return fmt.Errorf("SO_REUSEPORT: %w", err)
		}
	}

	if cfg.Priority > 0 {
		// Без CAP_NET_ADMIN приоритет выше 6 недоступен, это не критично
		_ = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_PRIORITY, cfg.Priority)
	}

	return nil
}
