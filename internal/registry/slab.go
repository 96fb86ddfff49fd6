// Package registry implements a slab of connections addressed by stable identifiers.
//
// An identifier packs the slot index together with the slot's generation. Freeing a
// slot bumps its generation, so an identifier of a closed connection never resolves to
// whatever occupies the slot later.
package registry

import "iter"

// ID identifies an entry in the slab. The zero value is never issued.
type ID uint64

func makeID(index, generation uint32) ID {
	return ID(uint64(generation)<<32 | uint64(index))
}

func (id ID) Index() uint32 {
	return uint32(id)
}

func (id ID) Generation() uint32 {
	return uint32(id >> 32)
}

type slot[T any] struct {
	value T
	// generation is odd while the slot is occupied
	generation uint32
}

type Slab[T any] struct {
	slots []slot[T]
	free  []uint32
	live  int
}

func New[T any](prealloc int) *Slab[T] {
	return &Slab[T]{
		slots: make([]slot[T], 0, prealloc),
	}
}

// Insert places the value in a free slot, reusing released ones first.
func (s *Slab[T]) Insert(value T) ID {
	var index uint32

	if n := len(s.free); n > 0 {
		index = s.free[n-1]
		s.free = s.free[:n-1]
	} else {
		index = uint32(len(s.slots))
		s.slots = append(s.slots, slot[T]{})
	}

	entry := &s.slots[index]
	entry.value = value
	entry.generation++
	s.live++

	return makeID(index, entry.generation)
}

// Get returns the value by its identifier. Stale identifiers aren't found.
func (s *Slab[T]) Get(id ID) (value T, found bool) {
	index := id.Index()
	if int(index) >= len(s.slots) {
		return value, false
	}

	entry := &s.slots[index]
	if entry.generation != id.Generation() || entry.generation&1 == 0 {
		return value, false
	}

	return entry.value, true
}

// Remove releases the slot. Removing a stale identifier is a no-op that returns false.
func (s *Slab[T]) Remove(id ID) (value T, removed bool) {
	value, found := s.Get(id)
	if !found {
		return value, false
	}

	index := id.Index()
	entry := &s.slots[index]
	var zero T
	entry.value = zero
	entry.generation++
	s.free = append(s.free, index)
	s.live--

	return value, true
}

// Len returns the number of live entries.
func (s *Slab[T]) Len() int {
	return s.live
}

// All iterates over the live entries. The slab must not be modified meanwhile.
func (s *Slab[T]) All() iter.Seq2[ID, T] {
	return func(yield func(ID, T) bool) {
		for i := range s.slots {
			entry := &s.slots[i]
			if entry.generation&1 == 0 {
				continue
			}

			if !yield(makeID(uint32(i), entry.generation), entry.value) {
				return
			}
		}
	}
}
