package http11

import (
	"bufio"
	"io"
	"net"
	"sync/atomic"
	"time"

	"github.com/yourusername/relay/pkg/buffer"
	"github.com/yourusername/relay/pkg/bytesource"
	"github.com/yourusername/relay/pkg/date"
	"github.com/yourusername/relay/pkg/socket"
)

// ConnState names a position in the per-connection lifecycle (§4.5):
// a connection alternates between Reading a request head/body and
// Dispatching/Writing a response, and ends in Closed.
type ConnState int32

const (
	ConnStateNew ConnState = iota
	ConnStateReading
	ConnStateDispatching
	ConnStateWriting
	ConnStateIdle
	ConnStateClosed
)

func (s ConnState) String() string {
	switch s {
	case ConnStateNew:
		return "new"
	case ConnStateReading:
		return "reading"
	case ConnStateDispatching:
		return "dispatching"
	case ConnStateWriting:
		return "writing"
	case ConnStateIdle:
		return "idle"
	case ConnStateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Handler processes one parsed request against a ResponseWriter.
// Returning an error closes the connection after the response has
// been flushed; if the handler had written nothing yet, that response
// is a generic 500.
type Handler func(*Request, *ResponseWriter) error

// ConnectionConfig bounds a single connection's resource use; Config
// (in package server) carries one of these per listener and passes it
// to every accepted Connection.
type ConnectionConfig struct {
	IdleTimeout     time.Duration
	MaxRequests     int
	BufferSize      int
	Limits          Limits
	ForwardTrailers bool

	// OnBytesReceived and OnBytesSent are invoked synchronously on this
	// connection's goroutine after each socket read/write; they must
	// not block (§4.6).
	OnBytesReceived func(n int)
	OnBytesSent     func(n int)
}

// DefaultConnectionConfig mirrors the teacher's 60s keep-alive default
// and this package's header/body size limits.
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		IdleTimeout: 60 * time.Second,
		MaxRequests: 0,
		BufferSize:  buffer.Size8KB,
		Limits:      DefaultLimits(),
	}
}

// Connection drives one accepted socket through repeated
// Reading -> Dispatching -> Writing cycles until a close condition is
// reached (§4.5), using a resumable Parser over a pooled buffer.Buffer
// instead of a blocking per-request Read loop.
type Connection struct {
	state    atomic.Int32
	lastUse  atomic.Int64
	requests atomic.Int32

	conn   net.Conn
	buf    *buffer.Buffer
	writer *bufio.Writer

	req    *Request
	parser *Parser
	rw     *ResponseWriter

	handler    Handler
	dateServer *date.Server

	cfg     ConnectionConfig
	bufPool *buffer.Pool

	closeCh chan struct{}
	closed  atomic.Bool
}

// NewConnection wraps an accepted socket. bufPool supplies the
// connection's read buffer at cfg.BufferSize; dateServer supplies the
// Date header value each response is stamped with.
func NewConnection(conn net.Conn, cfg ConnectionConfig, handler Handler, dateServer *date.Server, bufPool *buffer.Pool) *Connection {
	req := &Request{}
	c := &Connection{
		conn:       conn,
		buf:        bufPool.Get(cfg.BufferSize),
		writer:     bufio.NewWriter(conn),
		req:        req,
		parser:     NewParser(req, cfg.Limits),
		rw:         NewResponseWriter(nil),
		handler:    handler,
		dateServer: dateServer,
		cfg:        cfg,
		bufPool:    bufPool,
		closeCh:    make(chan struct{}),
	}
	c.parser.SetForwardTrailers(cfg.ForwardTrailers)
	c.state.Store(int32(ConnStateNew))
	c.lastUse.Store(time.Now().UnixNano())
	return c
}

func (c *Connection) setState(s ConnState) {
	c.state.Store(int32(s))
	c.lastUse.Store(time.Now().UnixNano())
}

// State returns the connection's current lifecycle state.
func (c *Connection) State() ConnState { return ConnState(c.state.Load()) }

// Serve runs the connection's request loop until the peer closes the
// socket, a close condition is reached, or an unrecoverable error
// occurs. The caller (one worker goroutine per connection) should
// treat any returned error as "connection is dead, clean up".
func (c *Connection) Serve() error {
	defer c.cleanup()

	for {
		if c.shouldStop() {
			return nil
		}

		c.req.Reset()
		c.parser.Reset(c.req)
		c.setState(ConnStateReading)

		if err := c.readHead(); err != nil {
			if err == io.EOF {
				return nil
			}
			// Only parse failures get an error response; a read error
			// or timeout tears the connection down without one.
			if c.parser.State() == StateError || err == ErrHeadersTooLarge {
				c.writeErrorResponse(StatusForError(err))
			}
			return err
		}

		body := &parserBodySource{c: c}
		c.req.Body = body

		continueSent := false
		c.req.continueFunc = func() error {
			if !c.req.Expect100Continue() || continueSent {
				return nil
			}
			continueSent = true
			return c.sendContinue()
		}

		c.setState(ConnStateDispatching)
		reqNum := c.requests.Add(1)

		c.rw.Reset(c.writer)
		c.rw.SetDate([]byte(c.dateServer.Current()))
		c.rw.SetForwardTrailers(c.cfg.ForwardTrailers)

		lastAllowed := c.cfg.MaxRequests > 0 && int(reqNum) >= c.cfg.MaxRequests
		if lastAllowed {
			c.rw.Header().Set(headerConnection, headerClose)
		}

		handlerErr := c.handler(c.req, c.rw)
		if handlerErr != nil && !c.rw.HeaderWritten() {
			// Nothing has reached the wire yet: answer with a generic 500
			// instead of whatever the handler had staged.
			c.rw.Reset(c.writer)
			c.rw.SetDate([]byte(c.dateServer.Current()))
			c.rw.Header().Set(headerConnection, headerClose)
			_ = c.rw.WriteError(500, statusText(500))
		}

		c.setState(ConnStateWriting)
		if !c.rw.HeaderWritten() {
			if err := c.rw.Flush(); err != nil {
				return err
			}
		}
		if err := c.rw.Flush(); err != nil {
			return err
		}
		if c.cfg.OnBytesSent != nil && c.rw.BytesWritten() > 0 {
			c.cfg.OnBytesSent(int(c.rw.BytesWritten()))
		}

		// A client still waiting for 100 Continue never sends the body,
		// so close instead of waiting to drain it.
		if c.req.Expect100Continue() && c.req.HasBody() && !continueSent {
			return handlerErr
		}

		// Drain any body bytes the handler did not read, so the
		// parser's cursor lands exactly at the start of the next
		// pipelined request.
		if err := drainBody(body); err != nil {
			return err
		}

		if handlerErr != nil || !c.req.KeepAlive() || c.rw.CloseAfter() || lastAllowed {
			return handlerErr
		}

		c.setState(ConnStateIdle)
	}
}

// readHead feeds the parser from the connection's buffer until the
// request line and headers are fully parsed, reading more from the
// socket (with the idle-timeout deadline) whenever the parser reports
// it needs more data.
func (c *Connection) readHead() error {
	for {
		consumed, ev := c.parser.Step(c.buf.Readable())
		c.buf.Consume(consumed)

		switch ev.Kind {
		case EventHeadersReady:
			return nil
		case EventError:
			return ev.Err
		case EventRequestLineReady:
			continue
		case EventNone:
			if err := c.fillBuffer(); err != nil {
				return err
			}
		}
	}
}

// fillBuffer reserves space (compacting if needed) and reads more
// bytes from the socket under the connection's idle-timeout deadline.
func (c *Connection) fillBuffer() error {
	if !c.buf.Reserve(1) {
		return ErrHeadersTooLarge
	}

	deadline := time.Time{}
	if c.cfg.IdleTimeout > 0 {
		deadline = time.Now().Add(c.cfg.IdleTimeout)
	}

	res, err := c.buf.AppendFrom(c.conn, deadline)
	if res.Bytes > 0 {
		_ = socket.RefreshQuickAck(c.conn)
		if c.cfg.OnBytesReceived != nil {
			c.cfg.OnBytesReceived(res.Bytes)
		}
	}
	if err != nil {
		return err
	}
	if res.EOF && res.Bytes == 0 {
		return io.EOF
	}
	if res.WouldBlock && res.Bytes == 0 {
		return ErrTimeout
	}
	return nil
}

// sendContinue writes the 100-continue interim response directly,
// bypassing the ResponseWriter (which is reserved for the final
// response of this exchange).
func (c *Connection) sendContinue() error {
	if _, err := c.writer.Write(status100Bytes); err != nil {
		return err
	}
	if _, err := c.writer.Write(crlfBytes); err != nil {
		return err
	}
	return c.writer.Flush()
}

func (c *Connection) writeErrorResponse(status int) {
	rw := NewResponseWriter(c.writer)
	rw.SetDate([]byte(c.dateServer.Current()))
	rw.Header().Set(headerConnection, headerClose)
	_ = rw.WriteError(status, statusText(status))
}

func (c *Connection) shouldStop() bool {
	if c.closed.Load() {
		return true
	}
	select {
	case <-c.closeCh:
		return true
	default:
		return false
	}
}

// Close shuts the connection down from outside its own goroutine (the
// server's forced close at shutdown).
func (c *Connection) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(c.closeCh)
	c.setState(ConnStateClosed)
	return c.conn.Close()
}

func (c *Connection) cleanup() {
	_ = c.writer.Flush()
	if c.bufPool != nil && c.buf != nil {
		c.bufPool.Put(c.buf)
		c.buf = nil
	}
}

// RemoteAddr and LocalAddr expose the underlying socket's addresses.
func (c *Connection) RemoteAddr() net.Addr { return c.conn.RemoteAddr() }
func (c *Connection) LocalAddr() net.Addr  { return c.conn.LocalAddr() }

// RequestCount returns the number of requests handled on this
// connection so far.
func (c *Connection) RequestCount() int { return int(c.requests.Load()) }

// IdleTime reports how long the connection has been idle; zero while
// actively reading or dispatching.
func (c *Connection) IdleTime() time.Duration {
	switch c.State() {
	case ConnStateReading, ConnStateDispatching, ConnStateWriting:
		return 0
	}
	return time.Since(time.Unix(0, c.lastUse.Load()))
}

// parserBodySource is a bytesource.Source that pulls body bytes on
// demand by re-invoking the connection's Parser as the handler reads,
// topping up the connection's buffer from the socket whenever the
// parser has consumed everything currently buffered.
type parserBodySource struct {
	c    *Connection
	done bool
}

func (s *parserBodySource) Next() ([]byte, error) {
	if s.done {
		return nil, io.EOF
	}
	for {
		consumed, ev := s.c.parser.Step(s.c.buf.Readable())
		s.c.buf.Consume(consumed)

		switch ev.Kind {
		case EventBodyChunk:
			// Copy out: the buffer backing this slice may be
			// compacted or overwritten by the next AppendFrom before
			// the caller is done with it.
			chunk := make([]byte, len(ev.Chunk))
			copy(chunk, ev.Chunk)
			return chunk, nil
		case EventBodyEnd:
			s.done = true
			return nil, io.EOF
		case EventTrailersReady:
			continue
		case EventError:
			s.done = true
			return nil, ev.Err
		case EventNone, EventHeadersReady, EventRequestLineReady:
			if consumed > 0 {
				continue
			}
			if err := s.c.fillBuffer(); err != nil {
				s.done = true
				return nil, err
			}
		}
	}
}

// drainBody discards any body bytes a handler left unread, synchronizing
// the parser to the exact start of the next pipelined request.
func drainBody(body bytesource.Source) error {
	for {
		_, err := body.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}
