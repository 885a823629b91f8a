//go:build !linux

package transport

// applyPlatformOptions на остальных платформах приоритет и
// SO_REUSEPORT не настраиваются
func applyPlatformOptions(fd int, cfg Config) error {
	return nil
}
