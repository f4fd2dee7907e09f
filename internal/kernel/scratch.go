package kernel

import "sync"

// Scratch hands out reusable slices for the duration of one kernel call.
// Typical use:
//
//	buf := scratch.Acquire(n)
//	defer buf.Release()
type Scratch[T any] struct {
	pool sync.Pool
}

// Buffer is a slice borrowed from a Scratch.
type Buffer[T any] struct {
	Data  []T
	owner *Scratch[T]
}

// NewScratch creates an empty scratch pool.
func NewScratch[T any]() *Scratch[T] {
	return &Scratch[T]{}
}

// Acquire returns a buffer of length n with zeroed contents.
func (s *Scratch[T]) Acquire(n int) *Buffer[T] {
	if b, ok := s.pool.Get().(*Buffer[T]); ok && cap(b.Data) >= n {
		b.Data = b.Data[:n]
		clear(b.Data)
		return b
	}
	return &Buffer[T]{Data: make([]T, n), owner: s}
}

// Release returns the buffer to its pool. The buffer must not be used after.
func (b *Buffer[T]) Release() {
	if b == nil || b.owner == nil {
		return
	}
	b.Data = b.Data[:0]
	b.owner.pool.Put(b)
}
