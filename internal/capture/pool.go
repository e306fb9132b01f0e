package capture

import (
	"sync"
	"sync/atomic"
)

// BufferPool recycles packet byte buffers between the drain loop and the
// orchestrator. Buffer capacity only grows over a session: once a large
// packet has been seen, every pooled buffer is at least that big, so steady
// state allocates nothing.
type BufferPool struct {
	pool sync.Pool
	size atomic.Int64 // high-water capacity
}

func NewBufferPool() *BufferPool {
	p := &BufferPool{}
	p.pool.New = func() any {
		b := make([]byte, 0, p.size.Load())
		return &b
	}
	return p
}

// Get returns a buffer of length n, reusing pooled capacity when possible.
func (p *BufferPool) Get(n int) []byte {
	for {
		cur := p.size.Load()
		if int64(n) <= cur || p.size.CompareAndSwap(cur, int64(n)) {
			break
		}
	}
	bp := p.pool.Get().(*[]byte)
	b := *bp
	if cap(b) < n {
		b = make([]byte, n, int(p.size.Load()))
	}
	return b[:n]
}

// Put returns a buffer to the pool. Undersized buffers from before a growth
// step are dropped rather than recycled.
func (p *BufferPool) Put(b []byte) {
	if b == nil || int64(cap(b)) < p.size.Load() {
		return
	}
	b = b[:0]
	p.pool.Put(&b)
}

// HighWater reports the largest buffer length requested so far.
func (p *BufferPool) HighWater() int {
	return int(p.size.Load())
}
