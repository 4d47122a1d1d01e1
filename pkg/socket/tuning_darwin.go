//go:build darwin
// +build darwin

package socket

import (
	"syscall"

	"go.uber.org/zap"
)

// Darwin socket-option identifiers absent from the stdlib syscall
// package.
const (
	tcpFastOpenDarwin = 0x105
	tcpKeepAlive      = 0x10
	soNoSigPipe       = 0x1022
)

// applyPlatformOptions sets Darwin-specific per-connection options.
func applyPlatformOptions(fd int, cfg *Config, log *zap.Logger) {
	// Linux gets an equivalent effect via MSG_NOSIGNAL on send(); macOS
	// only offers it as a socket option.
	setSockoptInt(fd, syscall.SOL_SOCKET, soNoSigPipe, 1, log, "SO_NOSIGPIPE")

	if cfg.KeepAlive {
		setSockoptInt(fd, syscall.IPPROTO_TCP, tcpKeepAlive, 60, log, "TCP_KEEPALIVE")
	}
}

// applyListenerOptions sets Darwin-specific listener options. macOS has
// no TCP_DEFER_ACCEPT equivalent, so cfg.DeferAccept is a no-op here.
func applyListenerOptions(fd int, cfg *Config, log *zap.Logger) error {
	if cfg.FastOpen {
		setSockoptInt(fd, syscall.IPPROTO_TCP, tcpFastOpenDarwin, 256, log, "TCP_FASTOPEN")
	}
	return nil
}

// SetQuickAck is a no-op on Darwin, which has no TCP_QUICKACK
// equivalent; it exists so RefreshQuickAck can call it unconditionally
// across platforms.
func SetQuickAck(fd int) error {
	return nil
}
