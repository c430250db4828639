package core

import (
	"fmt"
	"sync"
)

// IdentifierPool hands out small integer IDs, reusing released ones first.
type IdentifierPool[T ~uint32] struct {
	mu     sync.Mutex
	owners []interface{}
}

func NewIdentifierPool[T ~uint32](initialCapacity int) *IdentifierPool[T] {
	return &IdentifierPool[T]{
		owners: make([]interface{}, 0, initialCapacity),
	}
}

func (p *IdentifierPool[T]) Acquire(owner interface{}) T {
	if owner == nil {
		owner = struct{}{}
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	for i := range p.owners {
		// Existing free spot. Take it.
		if p.owners[i] == nil {
			p.owners[i] = owner
			return T(i)
		}
	}
	p.owners = append(p.owners, owner)
	return T(len(p.owners) - 1)
}

func (p *IdentifierPool[T]) Release(id T) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if int(id) >= len(p.owners) {
		return fmt.Errorf("identifier release: id '%d' out of range (max=%d). Nothing was done", id, len(p.owners))
	}
	if p.owners[id] == nil {
		return fmt.Errorf("identifier release: id '%d' is not in use. Nothing was done", id)
	}
	p.owners[id] = nil
	return nil
}

func (p *IdentifierPool[T]) Owner(id T) (interface{}, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if int(id) >= len(p.owners) || p.owners[id] == nil {
		return nil, false
	}
	return p.owners[id], true
}

// Live returns the number of IDs currently held.
func (p *IdentifierPool[T]) Live() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := 0
	for _, o := range p.owners {
		if o != nil {
			n++
		}
	}
	return n
}
