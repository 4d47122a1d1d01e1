package server

import (
	"context"
	"errors"
	"net"
	"runtime"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/yourusername/relay/pkg/buffer"
	"github.com/yourusername/relay/pkg/date"
	"github.com/yourusername/relay/pkg/http11"
	"github.com/yourusername/relay/pkg/router"
	"github.com/yourusername/relay/pkg/socket"
	"go.uber.org/zap"
)

// errShutdownDeadlineExceeded is returned by Shutdown when in-flight
// connections are still draining once cfg.ShutdownDeadline elapses.
var errShutdownDeadlineExceeded = errors.New("server: shutdown deadline exceeded")

// Stats reports a running server's aggregate counters.
type Stats struct {
	ActiveConnections int64
	TotalConnections  int64
	TotalRequests     int64
}

// worker owns a round-robin share of accepted connections. It does
// not run a single-threaded reactor loop (Go's runtime scheduler
// already multiplexes goroutines over OS threads more efficiently
// than a hand-rolled epoll loop would); it exists to bound and
// account for the connections assigned to it, matching §4.6's
// round-robin distribution contract without re-implementing a
// userspace scheduler the Go runtime already provides.
type worker struct {
	id      int
	conns   chan net.Conn
	active  atomic.Int64
	done    chan struct{}
}

// Server is the acceptor and worker pool: it owns the listening
// socket, the frozen router, the process-wide date server, and the
// buffer pool every connection draws its read buffer from.
type Server struct {
	cfg Config
	log *zap.Logger

	router *router.Router[http11.Handler]
	date   *date.Server
	bufs   *buffer.Pool

	listener net.Listener
	workers  []*worker

	nextWorker atomic.Uint64

	totalConns    atomic.Int64
	activeConns   atomic.Int64
	totalRequests atomic.Int64

	connsMu sync.Mutex
	conns   map[*http11.Connection]struct{}

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// New constructs a Server bound to cfg and rt. rt must be frozen
// before the server starts accepting connections (router.Router
// enforces this by panicking on a post-Freeze Add, not by anything
// Server checks itself).
func New(cfg Config, rt *router.Router[http11.Handler]) *Server {
	workers := cfg.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	s := &Server{
		cfg:    cfg,
		log:    cfg.logger(),
		router: rt,
		date:   date.NewServer(),
		bufs:   buffer.NewPool(),
		conns:  make(map[*http11.Connection]struct{}),
		stopCh: make(chan struct{}),
	}

	s.workers = make([]*worker, workers)
	for i := range s.workers {
		s.workers[i] = &worker{
			id:    i,
			conns: make(chan net.Conn, 128),
			done:  make(chan struct{}),
		}
	}
	return s
}

// ListenAndServe opens cfg.Addr and calls Serve. It blocks until the
// server is shut down or the listener fails.
func (s *Server) ListenAndServe() error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve runs the accept loop and N worker goroutine-groups against an
// already-open listener, blocking until Shutdown is called or the
// listener returns a fatal error.
func (s *Server) Serve(ln net.Listener) error {
	s.listener = ln

	if tl, ok := ln.(*net.TCPListener); ok {
		if err := socket.ApplyListener(tl, s.cfg.socketTuning(), s.log); err != nil {
			s.log.Debug("listener socket tuning incomplete", zap.Error(err))
		}
	}

	for _, w := range s.workers {
		w := w
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.runWorker(w)
		}()
	}

	s.log.Info("server listening", zap.String("addr", ln.Addr().String()), zap.Int("workers", len(s.workers)))

	var backoff time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-s.stopCh:
				s.closeWorkerQueues()
				s.wg.Wait()
				return nil
			default:
			}
			// Out of file descriptors: back off (1 ms doubling to 100 ms)
			// and retry instead of failing the whole server.
			if errors.Is(err, syscall.EMFILE) || errors.Is(err, syscall.ENFILE) {
				if backoff == 0 {
					backoff = time.Millisecond
				} else if backoff *= 2; backoff > 100*time.Millisecond {
					backoff = 100 * time.Millisecond
				}
				s.log.Warn("accept failed, backing off", zap.Duration("delay", backoff), zap.Error(err))
				time.Sleep(backoff)
				continue
			}
			return err
		}
		backoff = 0

		s.totalConns.Add(1)
		idx := s.nextWorker.Add(1) % uint64(len(s.workers))
		w := s.workers[idx]

		select {
		case w.conns <- conn:
		case <-s.stopCh:
			_ = conn.Close()
			return nil
		}
	}
}

func (s *Server) closeWorkerQueues() {
	for _, w := range s.workers {
		close(w.conns)
	}
}

// runWorker drains handed-off connections, spawning one goroutine per
// connection (see worker's doc comment for why this is not a manual
// reactor loop) and tracking the worker's active-connection count.
func (s *Server) runWorker(w *worker) {
	var connWG sync.WaitGroup
	for conn := range w.conns {
		w.active.Add(1)
		s.activeConns.Add(1)
		connWG.Add(1)
		go func(conn net.Conn) {
			defer connWG.Done()
			defer w.active.Add(-1)
			defer s.activeConns.Add(-1)
			s.serveConn(conn)
		}(conn)
	}
	connWG.Wait()
}

func (s *Server) trackConn(c *http11.Connection) {
	s.connsMu.Lock()
	s.conns[c] = struct{}{}
	s.connsMu.Unlock()
}

func (s *Server) untrackConn(c *http11.Connection) {
	s.connsMu.Lock()
	delete(s.conns, c)
	s.connsMu.Unlock()
}

// forceCloseConns closes every still-registered connection. Connection.Close
// is documented safe to call from outside the connection's own goroutine,
// so no additional coordination with the in-flight Serve loops is needed.
func (s *Server) forceCloseConns() {
	s.connsMu.Lock()
	defer s.connsMu.Unlock()
	for c := range s.conns {
		_ = c.Close()
	}
}

func (s *Server) serveConn(nc net.Conn) {
	if tcp, ok := nc.(*net.TCPConn); ok {
		if err := socket.Apply(tcp, s.cfg.socketTuning(), s.log); err != nil {
			s.log.Debug("connection socket tuning incomplete", zap.Error(err))
		}
	}

	remote := nc.RemoteAddr().String()
	if s.cfg.OnConnection != nil {
		s.cfg.OnConnection(remote)
	}

	connCfg := http11.ConnectionConfig{
		IdleTimeout:     s.cfg.IdleTimeout,
		MaxRequests:     s.cfg.MaxRequestsPerConn,
		BufferSize:      s.cfg.BufferSize,
		Limits:          s.cfg.limits(),
		ForwardTrailers: s.cfg.ForwardTrailers,
	}
	if s.cfg.OnBytesReceived != nil {
		connCfg.OnBytesReceived = func(n int) { s.cfg.OnBytesReceived(remote, n) }
	}
	if s.cfg.OnBytesSent != nil {
		connCfg.OnBytesSent = func(n int) { s.cfg.OnBytesSent(remote, n) }
	}

	conn := http11.NewConnection(nc, connCfg, s.dispatch, s.date, s.bufs)
	s.trackConn(conn)
	defer func() {
		_ = conn.Close()
		s.untrackConn(conn)
		if s.cfg.OnDisconnection != nil {
			s.cfg.OnDisconnection(remote, conn.RequestCount())
		}
	}()

	if err := conn.Serve(); err != nil {
		s.log.Debug("connection ended", zap.String("remote", remote), zap.Error(err))
	}
}

// dispatch looks up and invokes the handler for a parsed request,
// synthesizing OPTIONS/405 responses per §5 when the router is
// configured to and no explicit handler matches.
func (s *Server) dispatch(req *http11.Request, rw *http11.ResponseWriter) error {
	s.totalRequests.Add(1)

	path := req.PathString()
	method := req.MethodString()

	handler, ok := s.router.Lookup(method, path)
	if !ok {
		if s.router.HasOptionsSynthesis() && method == "OPTIONS" {
			return s.synthesizeOptions(path, rw)
		}
		if allowed := s.router.AllowedMethods(path); len(allowed) > 0 {
			return s.synthesizeMethodNotAllowed(allowed, rw)
		}
		return rw.WriteError(404, "Not Found")
	}

	return handler(req, rw)
}

func (s *Server) synthesizeOptions(path string, rw *http11.ResponseWriter) error {
	allowed := s.router.AllowedMethods(path)
	rw.WriteHeader(204)
	if len(allowed) > 0 {
		rw.Header().Set([]byte("Allow"), []byte(joinMethods(allowed)))
	}
	return rw.Flush()
}

func (s *Server) synthesizeMethodNotAllowed(allowed []string, rw *http11.ResponseWriter) error {
	rw.Header().Set([]byte("Allow"), []byte(joinMethods(allowed)))
	return rw.WriteError(405, "Method Not Allowed")
}

func joinMethods(methods []string) string {
	out := ""
	for i, m := range methods {
		if i > 0 {
			out += ", "
		}
		out += m
	}
	return out
}

// Stats returns a snapshot of the server's connection/request counters.
func (s *Server) Stats() Stats {
	return Stats{
		ActiveConnections: s.activeConns.Load(),
		TotalConnections:  s.totalConns.Load(),
		TotalRequests:     s.totalRequests.Load(),
	}
}

// Shutdown stops accepting new connections and waits up to
// cfg.ShutdownDeadline for in-flight connections to finish. Connections
// still open once the deadline (or ctx's earlier deadline) passes are
// force-closed, after which Shutdown waits at most two more seconds for
// their goroutines to exit.
func (s *Server) Shutdown(ctx context.Context) error {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		if s.listener != nil {
			_ = s.listener.Close()
		}
	})

	deadline := time.Now().Add(s.cfg.ShutdownDeadline)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.date.Stop()
		return nil
	case <-time.After(time.Until(deadline)):
	}

	s.log.Warn("shutdown deadline exceeded, force-closing remaining connections", zap.Int64("active", s.activeConns.Load()))
	s.forceCloseConns()

	select {
	case <-done:
		s.date.Stop()
		if err := ctx.Err(); err != nil {
			return err
		}
		return errShutdownDeadlineExceeded
	case <-time.After(2 * time.Second):
		s.date.Stop()
		return errShutdownDeadlineExceeded
	}
}
