// Package server implements the acceptor and worker pool that turns a
// listening socket into a running HTTP/1.1 server: round-robin
// handoff of accepted connections to a fixed set of workers, each
// driving its assigned connections through the http11 connection
// state machine, plus graceful shutdown and the process-wide Date
// refresh.
package server

import (
	"runtime"
	"time"

	"github.com/yourusername/relay/pkg/http11"
	"github.com/yourusername/relay/pkg/socket"
	"go.uber.org/zap"
)

// Config configures a Server: listening address, worker topology,
// per-connection resource limits, and observability hooks (§4.6).
type Config struct {
	// Addr is the TCP address to listen on, e.g. ":8080".
	Addr string

	// Workers is the number of worker goroutine-groups connections are
	// distributed to round-robin. Zero selects runtime.GOMAXPROCS(0).
	Workers int

	// BufferSize is the per-connection read buffer size in bytes.
	// Must match one of pkg/buffer's size classes; rounded up if not.
	BufferSize int

	// MaxFieldBytes caps a single request-line or header-line length.
	MaxFieldBytes int

	// MaxHeaderBytes caps the total size of the header block.
	MaxHeaderBytes int

	// MaxHeaders caps the number of headers in one request.
	MaxHeaders int

	// MaxURILength caps the request-target length.
	MaxURILength int

	// MaxBodyBytes caps a request body's total size, fixed or chunked.
	// Zero means unbounded.
	MaxBodyBytes int64

	// IdleTimeout closes a connection that sends nothing for this long
	// between requests (and bounds the wait for a request's first byte).
	IdleTimeout time.Duration

	// ShutdownDeadline bounds how long Shutdown waits for in-flight
	// connections to finish before force-closing them.
	ShutdownDeadline time.Duration

	// MaxRequestsPerConn caps pipelined/keep-alive requests on one
	// connection before the server forces it closed. Zero = unlimited.
	MaxRequestsPerConn int

	// ForwardTrailers enables surfacing a chunked request's trailer
	// section to handlers instead of silently discarding it.
	ForwardTrailers bool

	// EnableOptionsSynthesis and EnableHeadToGetFallback are not read by
	// Server: the router passed to New carries its own setting, made with
	// its WithOptionsSynthesis and WithHeadToGetFallback methods.
	EnableOptionsSynthesis  bool
	EnableHeadToGetFallback bool

	// Logger receives structured, leveled connection and request
	// lifecycle events. Defaults to zap.NewNop() (silent) when nil.
	Logger *zap.Logger

	// SocketTuning selects the socket options applied to the listener
	// and every accepted connection. Nil selects socket.DefaultConfig();
	// socket.HighThroughputConfig or socket.LowLatencyConfig suit
	// bulk-transfer or latency-sensitive deployments respectively.
	SocketTuning *socket.Config

	// OnConnection, OnDisconnection, OnBytesReceived, OnBytesSent are
	// synchronous observability hooks invoked on the owning worker;
	// they must not block (§4.6).
	OnConnection    func(remoteAddr string)
	OnDisconnection func(remoteAddr string, requestCount int)
	OnBytesReceived func(remoteAddr string, n int)
	OnBytesSent     func(remoteAddr string, n int)
}

// DefaultConfig returns a Config with the defaults named throughout
// §4 and §6: 8 KiB buffers, hardware-parallelism workers, a 30s idle
// timeout, and a 5s shutdown deadline.
func DefaultConfig() Config {
	return Config{
		Addr:                    ":8080",
		Workers:                 runtime.GOMAXPROCS(0),
		BufferSize:              8 * 1024,
		MaxFieldBytes:           http11.DefaultMaxFieldBytes,
		MaxHeaderBytes:          http11.DefaultMaxHeaderBytes,
		MaxHeaders:              http11.MaxHeaders,
		MaxURILength:            http11.MaxURILength,
		MaxBodyBytes:            0,
		IdleTimeout:             30 * time.Second,
		ShutdownDeadline:        5 * time.Second,
		MaxRequestsPerConn:      0,
		ForwardTrailers:         false,
		EnableOptionsSynthesis:  false,
		EnableHeadToGetFallback: false,
		Logger:                  zap.NewNop(),
	}
}

func (c Config) limits() http11.Limits {
	return http11.Limits{
		MaxFieldBytes:  c.MaxFieldBytes,
		MaxHeaderBytes: c.MaxHeaderBytes,
		MaxHeaders:     c.MaxHeaders,
		MaxURILength:   c.MaxURILength,
		MaxBodyBytes:   c.MaxBodyBytes,
	}
}

func (c Config) logger() *zap.Logger {
	if c.Logger == nil {
		return zap.NewNop()
	}
	return c.Logger
}

func (c Config) socketTuning() *socket.Config {
	if c.SocketTuning == nil {
		return socket.DefaultConfig()
	}
	return c.SocketTuning
}
