package sdmc

import (
	"sync"

	"github.com/objectfs/sdmcfs/pkg/types"
)

// openFile is the per-descriptor state of an open file
type openFile struct {
	handle types.Handle
	// flags holds the access mode plus O_APPEND and O_SYNC
	flags  int
	offset uint64
}

// openDir is the per-descriptor state of an open directory
type openDir struct {
	magic     uint32
	handle    types.Handle
	batch     [dirBatchCapacity]types.DirectoryEntry
	batchSize int
	cursor    int
}

// handleTable maps caller-visible descriptors to their state records
type handleTable[T any] struct {
	mu      sync.Mutex
	next    int
	entries map[int]T
}

func newHandleTable[T any]() *handleTable[T] {
	return &handleTable[T]{entries: make(map[int]T)}
}

func (t *handleTable[T]) insert(v T) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.next++
	t.entries[t.next] = v
	return t.next
}

func (t *handleTable[T]) get(fd int) (T, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	v, ok := t.entries[fd]
	return v, ok
}

func (t *handleTable[T]) remove(fd int) (T, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	v, ok := t.entries[fd]
	delete(t.entries, fd)
	return v, ok
}

func (t *handleTable[T]) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}
