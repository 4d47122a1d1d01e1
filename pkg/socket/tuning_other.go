//go:build !linux && !darwin
// +build !linux,!darwin

package socket

import "go.uber.org/zap"

// applyPlatformOptions is a no-op outside Linux/Darwin: neither the
// BSD-style keepalive tuning knobs nor TCP_QUICKACK/TCP_FASTOPEN have a
// portable stdlib syscall binding on other platforms.
func applyPlatformOptions(fd int, cfg *Config, log *zap.Logger) {}

// applyListenerOptions is a no-op outside Linux/Darwin.
func applyListenerOptions(fd int, cfg *Config, log *zap.Logger) error {
	return nil
}

// SetQuickAck is a no-op outside Linux.
func SetQuickAck(fd int) error {
	return nil
}
