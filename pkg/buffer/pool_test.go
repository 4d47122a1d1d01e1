package buffer

import "testing"

func TestPoolGetReturnsRequestedClass(t *testing.T) {
	p := NewPool()

	buf := p.Get(3000)
	if buf == nil {
		t.Fatal("Get(3000) returned nil")
	}
	if buf.Cap() != Size4KB {
		t.Fatalf("Cap() = %d, want %d (next class up from 3000)", buf.Cap(), Size4KB)
	}
}

func TestPoolGetBeyondLargestClassReturnsNil(t *testing.T) {
	p := NewPool()
	if buf := p.Get(Size64KB + 1); buf != nil {
		t.Fatalf("Get(beyond largest class) = %v, want nil", buf)
	}
}

func TestPoolPutResetsAndReuses(t *testing.T) {
	p := NewPool()

	buf := p.Get(Size2KB)
	copy(buf.Readable(), []byte("stale"))
	buf.tail = 5

	p.Put(buf)
	reused := p.Get(Size2KB)

	if reused.Len() != 0 {
		t.Fatalf("reused buffer Len() = %d, want 0 (Put must Reset)", reused.Len())
	}
}

func TestPoolStatsCountGetsAndPuts(t *testing.T) {
	p := NewPool()
	buf := p.Get(Size2KB)
	p.Put(buf)

	stats := p.Stats()
	if stats.Gets != 1 || stats.Puts != 1 {
		t.Fatalf("Stats() = %+v, want Gets=1 Puts=1", stats)
	}
}
