package http11

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParserRequestLineAndHeaders(t *testing.T) {
	req := &Request{}
	p := NewParser(req, DefaultLimits())

	raw := []byte("GET /foo?a=b HTTP/1.1\r\nHost: example.com\r\nConnection: keep-alive\r\n\r\n")

	consumed, ev := p.Step(raw)
	require.Equal(t, EventRequestLineReady, ev.Kind)
	assert.Equal(t, MethodGET, req.MethodID())
	assert.Equal(t, "/foo", req.PathString())
	assert.Equal(t, "a=b", req.QueryString())

	raw = raw[consumed:]
	consumed, ev = p.Step(raw)
	require.Equal(t, EventHeadersReady, ev.Kind)
	assert.True(t, req.HostPresent())
	assert.True(t, req.KeepAlive())
	assert.False(t, req.HasBody())

	raw = raw[consumed:]
	_, ev = p.Step(raw)
	assert.Equal(t, EventBodyEnd, ev.Kind)
}

// TestParserSplitBoundaryInvariant checks that feeding the same request
// byte-by-byte across many Step calls produces the same parsed fields as
// feeding it whole.
func TestParserSplitBoundaryInvariant(t *testing.T) {
	raw := []byte("POST /submit HTTP/1.1\r\nHost: a\r\nContent-Length: 5\r\n\r\nhello")

	whole := &Request{}
	pw := NewParser(whole, DefaultLimits())
	feedWhole(pw, append([]byte(nil), raw...))

	split := &Request{}
	ps := NewParser(split, DefaultLimits())
	var body []byte
	var pending []byte
	for i := range raw {
		// Bytes the parser has not consumed yet stay buffered, as they
		// would in the connection's read buffer.
		pending = append(pending, raw[i])
		for len(pending) > 0 {
			n, ev := ps.Step(pending)
			if ev.Kind == EventBodyChunk {
				body = append(body, ev.Chunk...)
			}
			if n == 0 {
				break
			}
			pending = pending[n:]
		}
	}

	assert.Equal(t, whole.PathString(), split.PathString())
	assert.Equal(t, whole.MethodID(), split.MethodID())
	assert.Equal(t, int64(5), split.ContentLength())
	assert.Equal(t, "hello", string(body))
}

func feedWhole(p *Parser, data []byte) {
	for len(data) > 0 {
		n, ev := p.Step(data)
		if ev.Kind == EventError || (n == 0 && ev.Kind == EventNone) {
			break
		}
		data = data[n:]
	}
}

func TestParserRejectsContentLengthAndTransferEncoding(t *testing.T) {
	req := &Request{}
	p := NewParser(req, DefaultLimits())
	raw := []byte("POST / HTTP/1.1\r\nHost: a\r\nContent-Length: 5\r\nTransfer-Encoding: chunked\r\n\r\n")

	feedWhole(p, raw)

	assert.Equal(t, StateError, p.State())
	assert.ErrorIs(t, p.err, ErrContentLengthWithTransferEncoding)
	assert.Equal(t, 400, StatusForError(p.err))
}

func TestParserRejectsDuplicateContentLengthWithDifferentValues(t *testing.T) {
	req := &Request{}
	p := NewParser(req, DefaultLimits())
	raw := []byte("POST / HTTP/1.1\r\nHost: a\r\nContent-Length: 5\r\nContent-Length: 6\r\n\r\n")

	feedWhole(p, raw)

	assert.Equal(t, StateError, p.State())
	assert.ErrorIs(t, p.err, ErrDuplicateContentLength)
}

func TestParserToleratesDuplicateContentLengthWithSameValue(t *testing.T) {
	req := &Request{}
	p := NewParser(req, DefaultLimits())
	raw := []byte("POST / HTTP/1.1\r\nHost: a\r\nContent-Length: 5\r\nContent-Length: 5\r\n\r\nhello")

	feedWhole(p, raw)

	assert.NotEqual(t, StateError, p.State())
	assert.Equal(t, int64(5), req.ContentLength())
}

func TestParserRejectsObsFold(t *testing.T) {
	req := &Request{}
	p := NewParser(req, DefaultLimits())
	raw := []byte("GET / HTTP/1.1\r\nHost: a\r\nX-Foo: bar\r\n baz\r\n\r\n")

	feedWhole(p, raw)

	assert.Equal(t, StateError, p.State())
	assert.ErrorIs(t, p.err, ErrObsFold)
}

func TestParserRejectsMissingHost(t *testing.T) {
	req := &Request{}
	p := NewParser(req, DefaultLimits())
	raw := []byte("GET / HTTP/1.1\r\n\r\n")

	feedWhole(p, raw)

	assert.Equal(t, StateError, p.State())
	assert.ErrorIs(t, p.err, ErrMissingHost)
}

func TestParserChunkedBodyAndTrailers(t *testing.T) {
	req := &Request{}
	p := NewParser(req, DefaultLimits())
	p.SetForwardTrailers(true)

	raw := []byte("POST / HTTP/1.1\r\nHost: a\r\nTransfer-Encoding: chunked\r\n\r\n" +
		"5\r\nhello\r\n0\r\nX-Trailer: done\r\n\r\n")

	var body []byte
	var sawTrailers bool
	for {
		n, ev := p.Step(raw)
		switch ev.Kind {
		case EventBodyChunk:
			body = append(body, ev.Chunk...)
		case EventTrailersReady:
			sawTrailers = true
		case EventError:
			t.Fatalf("unexpected parse error: %v", ev.Err)
		}
		raw = raw[n:]
		if p.State() == StateTrailersDone || p.State() == StateDone {
			break
		}
		if n == 0 && ev.Kind == EventNone {
			t.Fatal("parser stalled before consuming the whole chunked body")
		}
	}

	require.True(t, sawTrailers)
	assert.Equal(t, "hello", string(body))
	assert.Equal(t, "done", string(req.Trailers.Get([]byte("X-Trailer"))))

	_, ev := p.Step(nil)
	assert.Equal(t, EventBodyEnd, ev.Kind)
}

func TestParserRejectsUnsupportedTransferEncoding(t *testing.T) {
	req := &Request{}
	p := NewParser(req, DefaultLimits())
	raw := []byte("POST / HTTP/1.1\r\nHost: a\r\nTransfer-Encoding: gzip\r\n\r\n")

	feedWhole(p, raw)

	assert.Equal(t, StateError, p.State())
	assert.ErrorIs(t, p.err, ErrUnsupportedTransferEncoding)
	assert.Equal(t, 501, StatusForError(p.err))
}

func TestParserToleratesLeadingCRLF(t *testing.T) {
	req := &Request{}
	p := NewParser(req, DefaultLimits())
	raw := []byte("\r\n\r\nGET /foo HTTP/1.1\r\nHost: a\r\n\r\n")

	feedWhole(p, raw)

	assert.NotEqual(t, StateError, p.State())
	assert.Equal(t, "/foo", req.PathString())
}

func TestParserToleratesLeadingCRLFAcrossStepBoundary(t *testing.T) {
	req := &Request{}
	p := NewParser(req, DefaultLimits())
	raw := []byte("\r\n\r\nGET /foo HTTP/1.1\r\nHost: a\r\n\r\n")

	var pending []byte
	for i := range raw {
		pending = append(pending, raw[i])
		for len(pending) > 0 {
			n, _ := p.Step(pending)
			if n == 0 {
				break
			}
			pending = pending[n:]
		}
	}

	assert.NotEqual(t, StateError, p.State())
	assert.Equal(t, "/foo", req.PathString())
}

func TestParserRejectsExcessiveLeadingCRLF(t *testing.T) {
	req := &Request{}
	p := NewParser(req, DefaultLimits())
	raw := append(bytesRepeat(crlfBytes, maxLeadingCRLFs+1), []byte("GET / HTTP/1.1\r\nHost: a\r\n\r\n")...)

	feedWhole(p, raw)

	assert.Equal(t, StateError, p.State())
	assert.ErrorIs(t, p.err, ErrInvalidRequestLine)
}

func bytesRepeat(b []byte, n int) []byte {
	out := make([]byte, 0, len(b)*n)
	for i := 0; i < n; i++ {
		out = append(out, b...)
	}
	return out
}

func TestParserBodyTooLargeRejected(t *testing.T) {
	req := &Request{}
	limits := DefaultLimits()
	limits.MaxBodyBytes = 3
	p := NewParser(req, limits)
	raw := []byte("POST / HTTP/1.1\r\nHost: a\r\nContent-Length: 10\r\n\r\nhelloworld")

	feedWhole(p, raw)

	assert.Equal(t, StateError, p.State())
	assert.ErrorIs(t, p.err, ErrBodyTooLarge)
	assert.Equal(t, 413, StatusForError(p.err))
}
