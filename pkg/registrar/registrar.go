// Package registrar implements an arena of shared objects addressed by
// recyclable slot indices.
//
// A Registrar owns every object it tracks. Callers hold a Registration, a
// non-owning ticket that resolves to the tracked object until the slot is
// freed and to nil afterwards. Freed indices are reused oldest first.
//
// A Registrar is not safe for concurrent mutation; the owner serializes
// Track and Free. Registration.Get may be called concurrently with either.
package registrar

import (
	"fmt"
	"sync/atomic"
)

// cell is the shared slot storage a Registration points at
type cell[T any] struct {
	obj atomic.Pointer[T]
}

// Registrar tracks objects of type T in indexed slots
type Registrar[T any] struct {
	objects  []*cell[T]
	freeList []int
	live     int
}

// Registration is a ticket for one tracked object
type Registration[T any] struct {
	cell  *cell[T]
	index int
}

// New creates an empty registrar
func New[T any]() *Registrar[T] {
	return &Registrar[T]{}
}

// Track stores obj in the oldest free slot, or a new one, and returns its
// registration.
func (r *Registrar[T]) Track(obj *T) *Registration[T] {
	c := &cell[T]{}
	c.obj.Store(obj)

	var index int
	if len(r.freeList) > 0 {
		index = r.freeList[0]
		r.freeList = r.freeList[1:]
		if r.objects[index] != nil {
			panic(fmt.Sprintf("registrar: free slot %d is occupied", index))
		}
		r.objects[index] = c
	} else {
		index = len(r.objects)
		r.objects = append(r.objects, c)
	}
	r.live++

	return &Registration[T]{cell: c, index: index}
}

// Free releases the slot behind reg. Freeing a registration twice, or one
// issued by a different registrar, panics.
func (r *Registrar[T]) Free(reg *Registration[T]) {
	if reg == nil {
		panic("registrar: free of nil registration")
	}
	index := reg.index
	if index < 0 || index >= len(r.objects) || r.objects[index] == nil {
		panic(fmt.Sprintf("registrar: tried to free object at slot %d that was already freed", index))
	}
	if r.objects[index] != reg.cell {
		panic(fmt.Sprintf("registrar: internal error: registration for slot %d is not tracking the stored object", index))
	}

	reg.cell.obj.Store(nil)
	r.objects[index] = nil
	r.freeList = append(r.freeList, index)
	r.live--
}

// Reset frees every slot. Outstanding registrations resolve to nil
// afterwards.
func (r *Registrar[T]) Reset() {
	for _, c := range r.objects {
		if c != nil {
			c.obj.Store(nil)
		}
	}
	r.objects = nil
	r.freeList = nil
	r.live = 0
}

// Len returns the number of live objects
func (r *Registrar[T]) Len() int {
	return r.live
}

// Cap returns the number of slots, live or free
func (r *Registrar[T]) Cap() int {
	return len(r.objects)
}

// Each calls fn for every live object in slot order
func (r *Registrar[T]) Each(fn func(index int, obj *T)) {
	for i, c := range r.objects {
		if c == nil {
			continue
		}
		if obj := c.obj.Load(); obj != nil {
			fn(i, obj)
		}
	}
}

// Get returns the tracked object, or nil once its slot has been freed
func (reg *Registration[T]) Get() *T {
	return reg.cell.obj.Load()
}

// MustGet returns the tracked object and panics if it was already freed.
// Handles are not expected to outlive the registry entry backing them.
func (reg *Registration[T]) MustGet() *T {
	obj := reg.Get()
	if obj == nil {
		panic(fmt.Sprintf("registrar: object at slot %d was already freed", reg.index))
	}
	return obj
}

// Index returns the slot index of the registration
func (reg *Registration[T]) Index() int {
	return reg.index
}
