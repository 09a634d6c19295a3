// Package objstore implements an arena of values addressed by
// generation-checked handles. A handle stays comparable after its slot
// has been deleted and reused, so holders can tell a dead entry from a
// live one without keeping the value alive.
package objstore

// Handle addresses one value in a Store.
type Handle struct {
	index uint32
	gen   uint32
}

// IsZero reports whether h was never issued by a Store.
func (h Handle) IsZero() bool {
	return h.gen == 0
}

type slot[T any] struct {
	val  T
	gen  uint32
	live bool
}

type Store[T any] struct {
	slots []slot[T]
	free  []uint32
}

func New[T any]() *Store[T] {
	return &Store[T]{}
}

// Add stores v and returns its handle.
func (s *Store[T]) Add(v T) Handle {
	if n := len(s.free); n > 0 {
		index := s.free[n-1]
		s.free = s.free[:n-1]

		sl := &s.slots[index]
		sl.val = v
		sl.live = true
		return Handle{index: index, gen: sl.gen}
	}

	s.slots = append(s.slots, slot[T]{val: v, gen: 1, live: true})
	return Handle{index: uint32(len(s.slots) - 1), gen: 1}
}

// Get returns the value for h if it is still live.
func (s *Store[T]) Get(h Handle) (v T, ok bool) {
	if !s.Live(h) {
		return v, false
	}
	return s.slots[h.index].val, true
}

// Live reports whether h refers to a value that has not been deleted.
func (s *Store[T]) Live(h Handle) bool {
	if h.IsZero() || int(h.index) >= len(s.slots) {
		return false
	}
	sl := s.slots[h.index]
	return sl.live && (sl.gen == h.gen)
}

// Delete removes the value for h. Deleting a dead handle does nothing.
func (s *Store[T]) Delete(h Handle) {
	if !s.Live(h) {
		return
	}

	sl := &s.slots[h.index]
	var zero T
	sl.val = zero
	sl.live = false
	sl.gen++
	s.free = append(s.free, h.index)
}

// Len returns the number of live values.
func (s *Store[T]) Len() int {
	return len(s.slots) - len(s.free)
}
