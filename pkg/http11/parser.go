package http11

import "bytes"

// State names a position in the resumable request-parsing state
// machine. Unlike the teacher's blocking Parse(io.Reader), a Parser
// never reads from a connection itself: Step is handed whatever bytes
// are currently buffered and returns immediately, whether or not a
// full request has arrived, so one Parser can sit idle across many
// socket reads without holding a goroutine hostage in a blocking read.
type State uint8

const (
	StateRequestLine State = iota
	StateHeaders
	StateBodyNone
	StateBodyFixed
	StateBodyChunkedSize
	StateBodyChunkedData
	StateBodyChunkedCRLF
	StateTrailers
	StateTrailersDone
	StateDone
	StateError
)

// EventKind discriminates the payload carried by an Event.
type EventKind uint8

const (
	EventNone EventKind = iota
	EventRequestLineReady
	EventHeadersReady
	EventBodyChunk
	EventBodyEnd
	EventTrailersReady
	EventError
)

// Event is emitted by Step when enough buffered data was available to
// complete a parsing step. Chunk references the slice passed to Step
// and is only valid until the caller consumes and overwrites/reuses
// that memory.
type Event struct {
	Kind  EventKind
	Chunk []byte
	Err   error
}

// Limits bounds the resource a single request's head and body may
// consume, mirroring Config's matching fields (§6). Limits is copied
// into the Parser at Reset/NewParser so one Config can seed many
// pooled parsers without sharing mutable state.
type Limits struct {
	MaxFieldBytes  int
	MaxHeaderBytes int
	MaxHeaders     int
	MaxURILength   int
	MaxBodyBytes   int64
}

// DefaultLimits matches the constants this package already uses to
// size its inline header storage.
func DefaultLimits() Limits {
	return Limits{
		MaxFieldBytes:  DefaultMaxFieldBytes,
		MaxHeaderBytes: DefaultMaxHeaderBytes,
		MaxHeaders:     MaxHeaders,
		MaxURILength:   MaxURILength,
		MaxBodyBytes:   0, // 0 means unbounded
	}
}

// Parser is a pure, resumable HTTP/1.1 request-head and body state
// machine: Step(data) -> (bytesConsumed, Event). It holds no reference
// to a socket or io.Reader; the connection layer feeds it whatever is
// currently in the read buffer and re-invokes Step as more bytes
// arrive, which is what lets the split-boundary invariant hold: a
// message split at any byte boundary across calls to Step parses
// identically to the same message handed over in one call.
type Parser struct {
	state State
	req   *Request
	limits Limits

	leadingCRLFSkipped int

	headerBytes int

	hasContentLength       bool
	hasTransferEncoding    bool
	contentLengthValue     int64
	hostCount              int
	connectionCloseSeen    bool
	connectionKeepAliveSeen bool

	bodyRemaining      int64
	bodyBytesDelivered int64

	trailersHaveFields bool
	forwardTrailers    bool

	err error
}

// NewParser creates a Parser bound to req, attaching parsed fields
// (method, path, headers, derived flags) to it as Step progresses.
// limits bounds request-line, header, and body sizes.
func NewParser(req *Request, limits Limits) *Parser {
	p := &Parser{req: req, limits: limits}
	return p
}

// SetForwardTrailers controls whether a completed chunked body with a
// non-empty trailer section emits EventTrailersReady and fills
// req.Trailers; when false, trailers are still parsed (for protocol
// correctness) but discarded, leaving req.Trailers empty.
func (p *Parser) SetForwardTrailers(enabled bool) {
	p.forwardTrailers = enabled
}

// Reset rewinds the Parser to begin a new request against req, reusing
// the same limits. Used between pipelined requests on one connection.
func (p *Parser) Reset(req *Request) {
	*p = Parser{req: req, limits: p.limits, forwardTrailers: p.forwardTrailers}
}

// State returns the parser's current state, used by the connection
// layer to decide whether a body is expected before dispatch.
func (p *Parser) State() State { return p.state }

func (p *Parser) fail(err error) Event {
	p.state = StateError
	p.err = err
	return Event{Kind: EventError, Err: err}
}

// Step advances the state machine using data, the currently buffered
// bytes starting at the connection's read cursor. It returns the
// number of bytes consumed (always a prefix of data) and, when a
// parsing milestone completed, the Event describing it. A zero-event,
// zero-consumed return means data does not yet contain a complete
// unit (line, chunk, etc.) and the caller must read more from the
// socket before calling Step again.
func (p *Parser) Step(data []byte) (consumed int, ev Event) {
	switch p.state {
	case StateRequestLine:
		return p.stepRequestLine(data)
	case StateHeaders:
		return p.stepHeaders(data)
	case StateBodyNone:
		p.state = StateDone
		return 0, Event{Kind: EventBodyEnd}
	case StateBodyFixed:
		return p.stepBodyFixed(data)
	case StateBodyChunkedSize:
		return p.stepChunkSize(data)
	case StateBodyChunkedData:
		return p.stepChunkData(data)
	case StateBodyChunkedCRLF:
		return p.stepChunkCRLF(data)
	case StateTrailers:
		return p.stepTrailers(data)
	case StateTrailersDone:
		p.state = StateDone
		return 0, Event{Kind: EventBodyEnd}
	case StateDone:
		return 0, Event{Kind: EventNone}
	case StateError:
		return 0, Event{Kind: EventError, Err: p.err}
	default:
		return 0, Event{Kind: EventNone}
	}
}

// maxLeadingCRLFs bounds the number of stray blank lines tolerated
// before the request-line per RFC 9112 §2.2 ("a server that is
// expecting to receive and parse a request-line SHOULD ignore at
// least one empty line received prior to it"); unbounded tolerance
// would let a peer wedge a connection open sending nothing but CRLFs.
const maxLeadingCRLFs = 5

func (p *Parser) stepRequestLine(data []byte) (int, Event) {
	skipped := 0
	for len(data) >= 2 && data[0] == '\r' && data[1] == '\n' {
		p.leadingCRLFSkipped++
		if p.leadingCRLFSkipped > maxLeadingCRLFs {
			return skipped, p.fail(ErrInvalidRequestLine)
		}
		data = data[2:]
		skipped += 2
	}
	if len(data) == 1 && data[0] == '\r' {
		// Could still turn into another leading CRLF; wait for one more byte.
		return skipped, Event{Kind: EventNone}
	}

	idx := bytes.Index(data, crlfBytes)
	if idx == -1 {
		if len(data) > p.limits.MaxFieldBytes {
			return skipped, p.fail(ErrRequestLineTooLarge)
		}
		return skipped, Event{Kind: EventNone}
	}
	line := data[:idx]
	if len(line) > p.limits.MaxFieldBytes {
		return skipped, p.fail(ErrRequestLineTooLarge)
	}

	sp := bytes.IndexByte(line, ' ')
	if sp == -1 {
		return skipped, p.fail(ErrInvalidRequestLine)
	}
	methodBytes := line[:sp]
	methodID := ParseMethodID(methodBytes)
	if methodID == MethodUnknown {
		return skipped, p.fail(ErrInvalidMethod)
	}

	rest := line[sp+1:]
	sp = bytes.IndexByte(rest, ' ')
	if sp == -1 {
		return skipped, p.fail(ErrInvalidRequestLine)
	}
	uri := rest[:sp]
	if len(uri) > p.limits.MaxURILength {
		return skipped, p.fail(ErrURITooLong)
	}
	if len(uri) == 0 || (uri[0] != '/' && uri[0] != '*') {
		return skipped, p.fail(ErrInvalidPath)
	}

	proto := rest[sp+1:]
	minor := ProtoHTTP11Minor
	switch {
	case bytes.Equal(proto, http11Bytes):
	case bytes.Equal(proto, http10Bytes):
		minor = 0
	default:
		return skipped, p.fail(ErrInvalidProtocol)
	}

	p.req.methodID = methodID
	p.req.method = methodBytes
	p.req.rawURI = uri
	if q := bytes.IndexByte(uri, '?'); q != -1 {
		p.req.path = uri[:q]
		p.req.query = uri[q+1:]
	} else {
		p.req.path = uri
		p.req.query = nil
	}
	p.req.protoMajor = ProtoHTTP11Major
	p.req.protoMinor = minor

	p.state = StateHeaders
	return skipped + idx + 2, Event{Kind: EventRequestLineReady}
}

// stepHeaders consumes every complete header line currently available,
// stopping either at the blank line terminating the header block (an
// EventHeadersReady) or at the first incomplete line (EventNone,
// leaving that partial line unconsumed for the next call).
func (p *Parser) stepHeaders(data []byte) (int, Event) {
	total := 0
	for {
		rest := data[total:]
		idx := bytes.Index(rest, crlfBytes)
		if idx == -1 {
			if len(rest) > p.limits.MaxFieldBytes {
				return total, p.fail(ErrHeaderTooLarge)
			}
			return total, Event{Kind: EventNone}
		}
		line := rest[:idx]
		consumedLine := idx + 2

		if len(line) == 0 {
			total += consumedLine
			if err := p.finalizeHeaders(); err != nil {
				return total, p.fail(err)
			}
			p.state = p.bodyStateAfterHeaders()
			return total, Event{Kind: EventHeadersReady}
		}

		if line[0] == ' ' || line[0] == '\t' {
			return total, p.fail(ErrObsFold)
		}
		if len(line) > p.limits.MaxFieldBytes {
			return total, p.fail(ErrHeaderTooLarge)
		}

		if err := p.processHeaderLine(line); err != nil {
			return total, p.fail(err)
		}

		total += consumedLine
		p.headerBytes += consumedLine
		if p.headerBytes > p.limits.MaxHeaderBytes {
			return total, p.fail(ErrHeadersTooLarge)
		}
		if p.req.header.Len() > p.limits.MaxHeaders {
			return total, p.fail(ErrTooManyHeaders)
		}
	}
}

func (p *Parser) processHeaderLine(line []byte) error {
	colon := bytes.IndexByte(line, ':')
	if colon == -1 {
		return ErrInvalidHeader
	}
	name := line[:colon]
	value := line[colon+1:]

	if colon > 0 && (line[colon-1] == ' ' || line[colon-1] == '\t') {
		return ErrInvalidHeader
	}
	if bytes.IndexByte(name, ' ') != -1 || bytes.IndexByte(name, '\t') != -1 {
		return ErrInvalidHeader
	}

	value = trimLeadingSpace(value)
	value = trimTrailingSpace(value)

	if err := p.req.header.Add(name, value); err != nil {
		return err
	}

	switch {
	case bytesEqualCaseInsensitive(name, headerContentLength):
		n, err := parseContentLength(value)
		if err != nil {
			return ErrInvalidContentLength
		}
		if p.hasContentLength {
			if p.contentLengthValue != n {
				return ErrDuplicateContentLength
			}
			return nil
		}
		p.hasContentLength = true
		p.contentLengthValue = n

	case bytesEqualCaseInsensitive(name, headerTransferEncoding):
		p.hasTransferEncoding = true
		if !bytesEqualCaseInsensitive(value, headerChunked) {
			return ErrUnsupportedTransferEncoding
		}

	case bytesEqualCaseInsensitive(name, headerConnection):
		if connectionWantsClose(value) {
			p.connectionCloseSeen = true
		}
		if connectionWantsKeepAlive(value) {
			p.connectionKeepAliveSeen = true
		}

	case bytesEqualCaseInsensitive(name, headerHost):
		p.hostCount++

	case bytesEqualCaseInsensitive(name, headerExpect):
		wants100, err := validateExpect(value)
		if err != nil {
			return err
		}
		p.req.expect100Continue = wants100
	}

	return nil
}

// finalizeHeaders runs the §4.2 validator gates once the header block
// is complete: CL/TE smuggling rejection, Host presence, and derives
// the cached keep-alive/body flags the connection layer reads instead
// of re-scanning headers per decision.
func (p *Parser) finalizeHeaders() error {
	if p.hasContentLength && p.hasTransferEncoding {
		return ErrContentLengthWithTransferEncoding
	}
	if err := validateHost(p.req.header.Get(headerHost), p.hostCount); err != nil {
		return err
	}

	p.req.hostPresent = true

	if p.req.protoMajor == 1 && p.req.protoMinor == 1 {
		p.req.keepAlive = !p.connectionCloseSeen
	} else {
		p.req.keepAlive = p.connectionKeepAliveSeen
	}

	switch {
	case p.hasTransferEncoding:
		p.req.chunked = true
		p.req.hasBody = true
	case p.hasContentLength && p.contentLengthValue > 0:
		p.req.chunked = false
		p.req.hasBody = true
		p.req.contentLength = p.contentLengthValue
		p.bodyRemaining = p.contentLengthValue
	default:
		p.req.hasBody = false
	}

	return nil
}

func (p *Parser) bodyStateAfterHeaders() State {
	switch {
	case p.req.chunked:
		return StateBodyChunkedSize
	case p.req.hasBody:
		return StateBodyFixed
	default:
		return StateBodyNone
	}
}

func (p *Parser) stepBodyFixed(data []byte) (int, Event) {
	if p.bodyRemaining == 0 {
		p.state = StateDone
		return 0, Event{Kind: EventBodyEnd}
	}
	n := int64(len(data))
	if n > p.bodyRemaining {
		n = p.bodyRemaining
	}
	if n == 0 {
		return 0, Event{Kind: EventNone}
	}
	if err := p.accountBody(n); err != nil {
		return 0, p.fail(err)
	}
	p.bodyRemaining -= n
	return int(n), Event{Kind: EventBodyChunk, Chunk: data[:n]}
}

func (p *Parser) accountBody(n int64) error {
	if p.limits.MaxBodyBytes <= 0 {
		return nil
	}
	p.bodyBytesDelivered += n
	if p.bodyBytesDelivered > p.limits.MaxBodyBytes {
		return ErrBodyTooLarge
	}
	return nil
}

func (p *Parser) stepChunkSize(data []byte) (int, Event) {
	idx := bytes.Index(data, crlfBytes)
	if idx == -1 {
		if len(data) > maxChunkSizeHexDigits+32 {
			return 0, p.fail(ErrChunkedEncoding)
		}
		return 0, Event{Kind: EventNone}
	}
	line := data[:idx]
	if semi := bytes.IndexByte(line, ';'); semi != -1 {
		line = line[:semi] // drop chunk-extensions, not forwarded
	}
	if len(line) == 0 || len(line) > maxChunkSizeHexDigits {
		return 0, p.fail(ErrChunkedEncoding)
	}

	var size int64
	for _, c := range line {
		var digit int64
		switch {
		case c >= '0' && c <= '9':
			digit = int64(c - '0')
		case c >= 'a' && c <= 'f':
			digit = int64(c-'a') + 10
		case c >= 'A' && c <= 'F':
			digit = int64(c-'A') + 10
		default:
			return 0, p.fail(ErrChunkedEncoding)
		}
		size = size*16 + digit
		if size < 0 {
			return 0, p.fail(ErrChunkedEncoding)
		}
	}

	consumed := idx + 2
	if size == 0 {
		p.state = StateTrailers
		return consumed, Event{Kind: EventNone}
	}
	p.bodyRemaining = size
	p.state = StateBodyChunkedData
	return consumed, Event{Kind: EventNone}
}

func (p *Parser) stepChunkData(data []byte) (int, Event) {
	if p.bodyRemaining == 0 {
		p.state = StateBodyChunkedCRLF
		return p.stepChunkCRLF(data)
	}
	n := int64(len(data))
	if n > p.bodyRemaining {
		n = p.bodyRemaining
	}
	if n == 0 {
		return 0, Event{Kind: EventNone}
	}
	if err := p.accountBody(n); err != nil {
		return 0, p.fail(err)
	}
	p.bodyRemaining -= n
	return int(n), Event{Kind: EventBodyChunk, Chunk: data[:n]}
}

func (p *Parser) stepChunkCRLF(data []byte) (int, Event) {
	if len(data) < 2 {
		return 0, Event{Kind: EventNone}
	}
	if data[0] != '\r' || data[1] != '\n' {
		return 0, p.fail(ErrChunkedEncoding)
	}
	p.state = StateBodyChunkedSize
	return 2, Event{Kind: EventNone}
}

// stepTrailers parses the trailer-part following the zero-size chunk:
// zero or more header-like lines terminated by a blank line. Trailers
// are always parsed (to consume the bytes correctly) but only surfaced
// as a distinct event when forwardTrailers is set and at least one
// trailer field was present.
func (p *Parser) stepTrailers(data []byte) (int, Event) {
	total := 0
	for {
		rest := data[total:]
		idx := bytes.Index(rest, crlfBytes)
		if idx == -1 {
			if len(rest) > p.limits.MaxFieldBytes {
				return total, p.fail(ErrChunkedEncoding)
			}
			return total, Event{Kind: EventNone}
		}
		line := rest[:idx]
		consumedLine := idx + 2

		if len(line) == 0 {
			total += consumedLine
			if p.forwardTrailers && p.trailersHaveFields {
				p.state = StateTrailersDone
				return total, Event{Kind: EventTrailersReady}
			}
			p.state = StateDone
			return total, Event{Kind: EventBodyEnd}
		}

		colon := bytes.IndexByte(line, ':')
		if colon == -1 {
			return total, p.fail(ErrInvalidHeader)
		}
		name := line[:colon]
		value := trimTrailingSpace(trimLeadingSpace(line[colon+1:]))
		if p.forwardTrailers {
			if err := p.req.Trailers.Add(name, value); err != nil {
				return total, p.fail(err)
			}
		}
		p.trailersHaveFields = true
		total += consumedLine
	}
}
