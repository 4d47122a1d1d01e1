package bytesource

import (
	"bytes"
	"io"
	"testing"
)

func TestFromBytesYieldsOnceThenEOF(t *testing.T) {
	s := FromBytes([]byte("hello"))

	chunk, err := s.Next()
	if err != nil {
		t.Fatalf("first Next() error = %v, want nil", err)
	}
	if string(chunk) != "hello" {
		t.Fatalf("first Next() = %q, want %q", chunk, "hello")
	}

	if _, err := s.Next(); err != io.EOF {
		t.Fatalf("second Next() error = %v, want io.EOF", err)
	}
}

func TestFromBytesEmptyIsImmediateEOF(t *testing.T) {
	s := FromBytes(nil)
	if _, err := s.Next(); err != io.EOF {
		t.Fatalf("Next() on empty source = %v, want io.EOF", err)
	}
}

func TestFromReaderChunksAndCollect(t *testing.T) {
	r := bytes.NewReader([]byte("the quick brown fox"))
	s := FromReader(r, 4)

	got, err := Collect(s)
	if err != nil {
		t.Fatalf("Collect() error = %v", err)
	}
	if string(got) != "the quick brown fox" {
		t.Fatalf("Collect() = %q, want %q", got, "the quick brown fox")
	}
}

func TestCollectPropagatesNonEOFError(t *testing.T) {
	boom := io.ErrUnexpectedEOF
	s := &errSource{err: boom}

	_, err := Collect(s)
	if err != boom {
		t.Fatalf("Collect() error = %v, want %v", err, boom)
	}
}

type errSource struct{ err error }

func (e *errSource) Next() ([]byte, error) { return nil, e.err }
