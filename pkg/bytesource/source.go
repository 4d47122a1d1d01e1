// Package bytesource implements the lazy, pull-based byte source
// abstraction used for response bodies and request-body consumers: a
// sequence of chunks produced on demand rather than buffered up front.
package bytesource

import (
	"io"
	"os"

	"github.com/yourusername/relay/pkg/buffer"
)

// Source produces byte chunks on demand. Next returns io.EOF once the
// source is exhausted; implementations are not required to support
// restarting after exhaustion.
type Source interface {
	// Next returns the next chunk of the body. The returned slice is
	// only valid until the next call to Next. A zero-length slice with
	// a nil error means "no data ready yet, call again"; callers that
	// cannot tolerate that (e.g. a fixed-length body writer) should treat
	// it as "try again immediately" rather than as exhaustion.
	Next() ([]byte, error)
}

// Close, if implemented by a Source, releases any resources (an open
// file, a pooled buffer) backing it. Neither the response writer nor
// the connection layer calls it; the code that creates such a Source
// closes it.
type Closer interface {
	Close() error
}

// FromBytes returns a Source that yields a single in-memory slice and
// then io.EOF. It is the adapter used for handler responses constructed
// from an already-materialized []byte.
func FromBytes(data []byte) Source {
	return &onceSource{data: data}
}

type onceSource struct {
	data []byte
	done bool
}

func (s *onceSource) Next() ([]byte, error) {
	if s.done {
		return nil, io.EOF
	}
	s.done = true
	if len(s.data) == 0 {
		return nil, io.EOF
	}
	return s.data, nil
}

// FromReader adapts an io.Reader into a Source, pulling up to chunkSize
// bytes per call. Used to stream a request body (Content-Length or
// chunked-decoded) into a handler-provided consumer.
func FromReader(r io.Reader, chunkSize int) Source {
	if chunkSize <= 0 {
		chunkSize = 32 * 1024
	}
	return &readerSource{r: r, buf: make([]byte, chunkSize)}
}

type readerSource struct {
	r   io.Reader
	buf []byte
}

func (s *readerSource) Next() ([]byte, error) {
	n, err := s.r.Read(s.buf)
	if n > 0 {
		if err == io.EOF {
			// Deliver the final chunk now; report EOF on the next call so
			// callers that check `len(chunk) == 0` on EOF never drop data.
			return s.buf[:n], nil
		}
		return s.buf[:n], err
	}
	return nil, err
}

func (s *readerSource) Close() error {
	if c, ok := s.r.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// FromFile adapts an *os.File into a Source, useful for serving static
// response bodies without buffering the whole file in memory.
func FromFile(f *os.File, chunkSize int) Source {
	return FromReader(f, chunkSize)
}

// Collect drains a Source into a single byte slice. Intended for tests
// and for small, fully-buffered bodies a handler deliberately chooses
// to capture whole (e.g. to validate or re-encode it before acting),
// not for production handling of unbounded bodies — that is what the
// Source interface itself exists to avoid.
//
// Staging happens in a pooled buffer.GetOverflow buffer rather than a
// fresh bytes.Buffer, since a collected body is exactly the case that
// pool exists for: a byte run with no natural size-class ceiling.
func Collect(s Source) ([]byte, error) {
	staging := buffer.GetOverflow()
	defer buffer.PutOverflow(staging)

	for {
		chunk, err := s.Next()
		if len(chunk) > 0 {
			staging.Write(chunk)
		}
		if err == io.EOF {
			return append([]byte(nil), staging.B...), nil
		}
		if err != nil {
			return append([]byte(nil), staging.B...), err
		}
	}
}
