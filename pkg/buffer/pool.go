package buffer

import (
	"sync"
	"sync/atomic"

	"github.com/valyala/bytebufferpool"
)

// Size classes for the pooled Buffer instances. A connection picks the
// smallest class that covers its configured per-connection buffer size.
const (
	Size2KB  = 2 * 1024
	Size4KB  = 4 * 1024
	Size8KB  = 8 * 1024
	Size16KB = 16 * 1024
	Size32KB = 32 * 1024
	Size64KB = 64 * 1024
)

var classSizes = [...]int{Size2KB, Size4KB, Size8KB, Size16KB, Size32KB, Size64KB}

// Pool hands out size-classed Buffers and tracks hit/miss/reuse counters,
// mirroring the metrics surface of a sized buffer pool but operating on
// *Buffer rather than raw []byte, since connections read and parse
// directly out of the cursor-tracked buffer rather than a plain slice.
type Pool struct {
	classes [len(classSizes)]sync.Pool

	gets   atomic.Uint64
	puts   atomic.Uint64
	misses atomic.Uint64
}

var defaultPool = NewPool()

// Default returns the process-wide buffer pool used by the server facade
// when no explicit pool is configured.
func Default() *Pool { return defaultPool }

// NewPool constructs a fresh size-classed buffer pool.
func NewPool() *Pool {
	p := &Pool{}
	for i, size := range classSizes {
		size := size
		p.classes[i].New = func() interface{} {
			p.misses.Add(1)
			return New(size)
		}
	}
	return p
}

func classFor(requested int) int {
	for _, size := range classSizes {
		if requested <= size {
			return size
		}
	}
	return 0 // larger than the biggest class: caller should use Overflow
}

// Get returns a *Buffer with capacity at least `size`, or nil if size
// exceeds the largest class (the caller should fall back to Overflow for
// body staging beyond fixed-size-class capacity).
func (p *Pool) Get(size int) *Buffer {
	p.gets.Add(1)
	class := classFor(size)
	for i, s := range classSizes {
		if s == class {
			buf := p.classes[i].Get().(*Buffer)
			buf.Reset()
			return buf
		}
	}
	return nil
}

// Put returns a buffer to the pool matching its capacity. Buffers whose
// capacity does not match a known class are silently dropped.
func (p *Pool) Put(buf *Buffer) {
	if buf == nil {
		return
	}
	p.puts.Add(1)
	for i, s := range classSizes {
		if s == buf.Cap() {
			buf.Reset()
			p.classes[i].Put(buf)
			return
		}
	}
}

// Stats reports pool usage counters.
type Stats struct {
	Gets   uint64
	Puts   uint64
	Misses uint64
}

// Stats returns a snapshot of the pool's counters.
func (p *Pool) Stats() Stats {
	return Stats{Gets: p.gets.Load(), Puts: p.puts.Load(), Misses: p.misses.Load()}
}

// overflowPool backs body staging beyond the largest fixed size class
// (64 KiB): large request/response bodies that are buffered in full
// (e.g. by bytesource.Collect) go through bytebufferpool instead of
// growing a size-classed Buffer past its intended ceiling.
var overflowPool bytebufferpool.Pool

// GetOverflow retrieves a growable byte buffer for oversized staging.
func GetOverflow() *bytebufferpool.ByteBuffer {
	return overflowPool.Get()
}

// PutOverflow returns an overflow buffer obtained from GetOverflow.
func PutOverflow(b *bytebufferpool.ByteBuffer) {
	overflowPool.Put(b)
}
