//go:build linux
// +build linux

package socket

import (
	"syscall"

	"go.uber.org/zap"
)

// Linux socket-option identifiers not always present in older
// syscall package builds.
const (
	tcpQuickAck    = 12
	tcpDeferAccept = 9
	tcpFastOpen    = 23
	tcpUserTimeout = 18
	tcpKeepIdle    = 4
	tcpKeepIntvl   = 5
	tcpKeepCnt     = 6
)

// applyPlatformOptions sets Linux-specific per-connection options.
func applyPlatformOptions(fd int, cfg *Config, log *zap.Logger) {
	if cfg.QuickAck {
		setSockoptInt(fd, syscall.IPPROTO_TCP, tcpQuickAck, 1, log, "TCP_QUICKACK")
	}

	// Detect dead peers faster than the kernel's multi-minute default.
	setSockoptInt(fd, syscall.IPPROTO_TCP, tcpUserTimeout, 10000, log, "TCP_USER_TIMEOUT")

	if cfg.KeepAlive {
		setSockoptInt(fd, syscall.IPPROTO_TCP, tcpKeepIdle, 60, log, "TCP_KEEPIDLE")
		setSockoptInt(fd, syscall.IPPROTO_TCP, tcpKeepIntvl, 10, log, "TCP_KEEPINTVL")
		setSockoptInt(fd, syscall.IPPROTO_TCP, tcpKeepCnt, 3, log, "TCP_KEEPCNT")
	}
}

// applyListenerOptions sets Linux-specific listener options. Both are
// best-effort: a kernel that rejects TCP_FASTOPEN (module not loaded)
// or TCP_DEFER_ACCEPT shouldn't stop the listener from serving.
func applyListenerOptions(fd int, cfg *Config, log *zap.Logger) error {
	if cfg.DeferAccept {
		setSockoptInt(fd, syscall.IPPROTO_TCP, tcpDeferAccept, 5, log, "TCP_DEFER_ACCEPT")
	}
	if cfg.FastOpen {
		setSockoptInt(fd, syscall.IPPROTO_TCP, tcpFastOpen, 256, log, "TCP_FASTOPEN")
	}
	return nil
}

// SetQuickAck re-arms TCP_QUICKACK on fd. The kernel clears it again
// after the next ACK, so a caller wanting persistent low-latency ACKs
// must call this after every read (see RefreshQuickAck).
func SetQuickAck(fd int) error {
	return syscall.SetsockoptInt(fd, syscall.IPPROTO_TCP, tcpQuickAck, 1)
}
