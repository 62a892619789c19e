package buffer

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPool(t *testing.T) {
	t.Parallel()

	p := NewPool(16)
	assert.Equal(t, 16, p.Size())

	buf := p.Get()
	assert.Len(t, buf, 16)
	copy(buf, "secret")
	p.Put(buf)

	again := p.Get()
	assert.Len(t, again, 16)
	assert.Equal(t, make([]byte, 16), again, "returned buffers must be cleared")

	// Foreign buffers are dropped rather than pooled.
	p.Put(make([]byte, 4))
	assert.Len(t, p.Get(), 16)
}

func TestStagingPool(t *testing.T) {
	t.Parallel()

	buf := GetStaging()
	assert.Len(t, buf, StagingSize)
	PutStaging(buf)
}
