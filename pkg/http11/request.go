package http11

import "github.com/yourusername/relay/pkg/bytesource"

// Request holds a parsed HTTP/1.1 request: the request line, headers,
// and the derived flags the connection state machine needs without
// re-scanning the header table on every decision.
//
// A Request does not own its body; Body is supplied separately by the
// connection layer as a bytesource.Source once headers are complete,
// so large or streamed bodies never have to be buffered whole.
type Request struct {
	methodID uint8
	method   []byte

	path     []byte
	query    []byte
	rawURI   []byte

	protoMajor int
	protoMinor int

	header Header

	// Trailers holds trailer-section fields for a chunked request,
	// populated only after the body has been fully consumed and only
	// when trailer forwarding is enabled.
	Trailers Header

	// Body streams the request body lazily from the connection's socket;
	// nil until headers are parsed. For a request with no body its first
	// Next returns io.EOF. Set by the connection layer, not by the parser
	// itself.
	Body bytesource.Source

	// continueFunc is installed by the connection layer once headers are
	// parsed; SendContinue calls through it. It does nothing for a request
	// without Expect: 100-continue, and SendContinue treats a nil
	// continueFunc as a no-op, so SendContinue is always safe to call
	// speculatively.
	continueFunc func() error

	// Derived flags, computed once while the header block is parsed so
	// later decisions (keep-alive, 100-continue, dispatch) are O(1).
	keepAlive         bool
	expect100Continue bool
	hostPresent       bool
	hasBody           bool
	chunked           bool
	contentLength     int64
}

// Reset clears a Request for reuse from a pool.
func (r *Request) Reset() {
	r.methodID = MethodUnknown
	r.method = nil
	r.path = nil
	r.query = nil
	r.rawURI = nil
	r.protoMajor = 0
	r.protoMinor = 0
	r.header.Reset()
	r.Trailers.Reset()
	r.Body = nil
	r.continueFunc = nil
	r.keepAlive = false
	r.expect100Continue = false
	r.hostPresent = false
	r.hasBody = false
	r.chunked = false
	r.contentLength = 0
}

// MethodID returns the O(1)-comparable method identifier.
func (r *Request) MethodID() uint8 { return r.methodID }

// Method returns the method token as written on the wire.
func (r *Request) Method() []byte { return r.method }

// MethodString returns the method as a string (one allocation).
func (r *Request) MethodString() string { return string(r.method) }

// Path returns the request path as it appeared on the wire, without
// the query string; percent-encoded bytes are not decoded.
func (r *Request) Path() []byte { return r.path }

// PathString returns Path as a string (one allocation).
func (r *Request) PathString() string { return string(r.path) }

// Query returns the raw query string, without the leading '?'.
func (r *Request) Query() []byte { return r.query }

// QueryString returns Query as a string (one allocation).
func (r *Request) QueryString() string { return string(r.query) }

// RawURI returns the request-target exactly as it appeared on the wire.
func (r *Request) RawURI() []byte { return r.rawURI }

// ProtoMajor and ProtoMinor return the parsed HTTP version.
func (r *Request) ProtoMajor() int { return r.protoMajor }
func (r *Request) ProtoMinor() int { return r.protoMinor }

// Header returns the request header table.
func (r *Request) Header() *Header { return &r.header }

// GetHeader retrieves a header value by name (case-insensitive).
func (r *Request) GetHeader(name []byte) []byte { return r.header.Get(name) }

// HasHeader reports whether a header is present (case-insensitive).
func (r *Request) HasHeader(name []byte) bool { return r.header.Has(name) }

// IsGET, IsPOST, IsPUT, IsDELETE, IsHEAD report the parsed method,
// comparing the cached method ID rather than the raw bytes.
func (r *Request) IsGET() bool     { return r.methodID == MethodGET }
func (r *Request) IsPOST() bool    { return r.methodID == MethodPOST }
func (r *Request) IsPUT() bool     { return r.methodID == MethodPUT }
func (r *Request) IsDELETE() bool  { return r.methodID == MethodDELETE }
func (r *Request) IsHEAD() bool    { return r.methodID == MethodHEAD }
func (r *Request) IsOPTIONS() bool { return r.methodID == MethodOPTIONS }

// HasBody reports whether the request declared a body (either via
// Content-Length > 0 or Transfer-Encoding: chunked).
func (r *Request) HasBody() bool { return r.hasBody }

// IsChunked reports whether the request body uses chunked
// transfer-coding.
func (r *Request) IsChunked() bool { return r.chunked }

// ContentLength returns the declared body size, or -1 for a chunked
// body whose size is not known up front.
func (r *Request) ContentLength() int64 {
	if r.chunked {
		return -1
	}
	return r.contentLength
}

// KeepAlive reports whether the connection should be kept open after
// this request/response exchange completes, per §4.2's resolution
// table (HTTP/1.1 defaults to keep-alive unless Connection: close is
// present; HTTP/1.0 defaults to close unless Connection: keep-alive is
// present).
func (r *Request) KeepAlive() bool { return r.keepAlive }

// Expect100Continue reports whether the client sent an
// "Expect: 100-continue" header. The 100 Continue response is not sent
// automatically; a handler that wants it must call SendContinue before
// reading Body, typically after deciding from the headers alone that
// the upload is acceptable.
func (r *Request) Expect100Continue() bool { return r.expect100Continue }

// SendContinue emits the 100 Continue interim response if, and only
// if, the request carried Expect: 100-continue and no continue has
// been sent yet for it. It is always safe to call — on a request
// without the header, or a second time, it is a no-op returning nil —
// so a handler can call it unconditionally before reading Body.
func (r *Request) SendContinue() error {
	if r.continueFunc == nil {
		return nil
	}
	return r.continueFunc()
}

// HostPresent reports whether a syntactically valid, single Host
// header was found, a precondition for honoring HTTP/1.1 requests.
func (r *Request) HostPresent() bool { return r.hostPresent }

// ShouldClose is the inverse of KeepAlive, named to match call sites
// that branch on "do we need to close this connection".
func (r *Request) ShouldClose() bool { return !r.keepAlive }
