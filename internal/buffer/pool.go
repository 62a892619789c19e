package buffer

import (
	"sync"
)

// StagingSize is the chunk size used when writes are copied through a
// staging buffer before reaching the storage service
const StagingSize = 8192

// Pool hands out fixed-size byte buffers to reduce GC pressure
type Pool struct {
	size int
	pool sync.Pool
}

// NewPool creates a pool of buffers of the given size
func NewPool(size int) *Pool {
	p := &Pool{size: size}
	p.pool.New = func() interface{} {
		buf := make([]byte, size)
		return &buf
	}
	return p
}

// Size returns the length of buffers handed out by the pool
func (p *Pool) Size() int {
	return p.size
}

// Get retrieves a full-length buffer from the pool
func (p *Pool) Get() []byte {
	buf := p.pool.Get().(*[]byte)
	return (*buf)[:p.size]
}

// Put returns a buffer to the pool. Buffers of a foreign capacity are
// left to the GC.
func (p *Pool) Put(buf []byte) {
	if cap(buf) != p.size {
		return
	}
	buf = buf[:p.size]
	// Clear the buffer to prevent data leaks between files
	clear(buf)
	p.pool.Put(&buf)
}

// Global staging pool instance
var stagingPool = NewPool(StagingSize)

// GetStaging gets a staging buffer from the global pool
func GetStaging() []byte {
	return stagingPool.Get()
}

// PutStaging returns a staging buffer to the global pool
func PutStaging(buf []byte) {
	stagingPool.Put(buf)
}
