// Package socket applies platform socket tuning to accepted connections
// and listeners. Cross-platform options live here; Linux- and
// Darwin-specific knobs live in tuning_linux.go and tuning_darwin.go,
// with a no-op fallback in tuning_other.go for anything else.
package socket

import (
	"net"
	"syscall"

	"go.uber.org/zap"
)

// Config holds the socket options a connection or listener is tuned
// with. The zero value is not meaningful on its own; use one of the
// profile constructors below.
type Config struct {
	// NoDelay disables Nagle's algorithm. Wanted for request/response
	// traffic where small writes shouldn't wait to coalesce.
	NoDelay bool

	// RecvBuffer and SendBuffer set SO_RCVBUF/SO_SNDBUF in bytes; zero
	// leaves the kernel default.
	RecvBuffer int
	SendBuffer int

	// QuickAck requests TCP_QUICKACK on Linux (no-op elsewhere); it has
	// to be re-armed after every read since the kernel clears it once an
	// ACK goes out, which is what RefreshQuickAck is for.
	QuickAck bool

	// DeferAccept and FastOpen request TCP_DEFER_ACCEPT and TCP_FASTOPEN
	// on the listening socket where the platform supports them.
	DeferAccept bool
	FastOpen    bool

	// KeepAlive enables SO_KEEPALIVE, tuned further by platform-specific
	// idle/interval/count options where available.
	KeepAlive bool
}

// DefaultConfig balances latency and throughput for a general-purpose
// HTTP/1.1 server.
func DefaultConfig() *Config {
	return &Config{
		NoDelay:     true,
		RecvBuffer:  256 * 1024,
		SendBuffer:  256 * 1024,
		QuickAck:    true,
		DeferAccept: true,
		FastOpen:    true,
		KeepAlive:   true,
	}
}

// HighThroughputConfig favors larger buffers and delayed ACKs over
// per-request latency; suited to bulk transfer workloads.
func HighThroughputConfig() *Config {
	cfg := DefaultConfig()
	cfg.RecvBuffer = 1024 * 1024
	cfg.SendBuffer = 1024 * 1024
	cfg.QuickAck = false
	return cfg
}

// LowLatencyConfig trades buffer size for faster acknowledgment and
// connection setup; suited to small, latency-sensitive request/response
// traffic.
func LowLatencyConfig() *Config {
	cfg := DefaultConfig()
	cfg.RecvBuffer = 128 * 1024
	cfg.SendBuffer = 128 * 1024
	cfg.DeferAccept = false
	return cfg
}

// setSockoptInt applies one best-effort socket option. Failures are
// logged, not propagated: these are performance knobs, and a kernel
// that lacks one shouldn't stop the server from accepting a connection.
func setSockoptInt(fd int, level, opt, value int, log *zap.Logger, label string) {
	if err := syscall.SetsockoptInt(fd, level, opt, value); err != nil && log != nil {
		log.Debug("socket tuning option unavailable", zap.String("option", label), zap.Error(err))
	}
}

// Apply tunes an accepted connection. TCP_NODELAY failing is returned
// as a hard error — the rest of the package assumes Nagle's algorithm
// is off — while every other option is best-effort and only logged via
// log (which may be nil to suppress logging entirely).
func Apply(conn net.Conn, cfg *Config, log *zap.Logger) error {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	tcpConn, ok := conn.(*net.TCPConn)
	if !ok {
		return nil
	}
	rawConn, err := tcpConn.SyscallConn()
	if err != nil {
		return err
	}

	var nodelayErr error
	ctrlErr := rawConn.Control(func(fd uintptr) {
		if cfg.NoDelay {
			if err := syscall.SetsockoptInt(int(fd), syscall.IPPROTO_TCP, syscall.TCP_NODELAY, 1); err != nil {
				nodelayErr = err
				return
			}
		}
		if cfg.RecvBuffer > 0 {
			setSockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_RCVBUF, cfg.RecvBuffer, log, "SO_RCVBUF")
		}
		if cfg.SendBuffer > 0 {
			setSockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_SNDBUF, cfg.SendBuffer, log, "SO_SNDBUF")
		}
		if cfg.KeepAlive {
			setSockoptInt(int(fd), syscall.SOL_SOCKET, syscall.SO_KEEPALIVE, 1, log, "SO_KEEPALIVE")
		}
		applyPlatformOptions(int(fd), cfg, log)
	})
	if ctrlErr != nil {
		return ctrlErr
	}
	return nodelayErr
}

// ApplyListener tunes a listening socket with the options that must be
// set before Accept is called (TCP_DEFER_ACCEPT, TCP_FASTOPEN).
func ApplyListener(listener net.Listener, cfg *Config, log *zap.Logger) error {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	tcpListener, ok := listener.(*net.TCPListener)
	if !ok {
		return nil
	}

	file, err := tcpListener.File()
	if err != nil {
		return err
	}
	defer file.Close()

	return applyListenerOptions(int(file.Fd()), cfg, log)
}

// RefreshQuickAck re-arms TCP_QUICKACK on conn (Linux only; a harmless
// no-op on platforms without it). The connection layer calls this after
// every socket read so an idle-then-active connection keeps immediate
// ACKs instead of falling back to the kernel's delayed-ACK timer.
func RefreshQuickAck(conn net.Conn) error {
	tcpConn, ok := conn.(*net.TCPConn)
	if !ok {
		return nil
	}
	rawConn, err := tcpConn.SyscallConn()
	if err != nil {
		return err
	}

	var quickAckErr error
	if err := rawConn.Control(func(fd uintptr) {
		quickAckErr = SetQuickAck(int(fd))
	}); err != nil {
		return err
	}
	return quickAckErr
}
