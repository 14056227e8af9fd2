package services

import (
	"fmt"

	"github.com/sophialabs/stubport/internal/domain/match"
)

// Catalogue is an immutable, ordered snapshot of compiled stubs.
type Catalogue struct {
	entries []*match.CompiledStub
	byID    map[string]*match.CompiledStub
	methods map[match.Method]int
}

// NewCatalogue builds a catalogue preserving the order of entries.
// IDs must be unique.
func NewCatalogue(entries []*match.CompiledStub) (*Catalogue, error) {
	c := &Catalogue{
		entries: make([]*match.CompiledStub, 0, len(entries)),
		byID:    make(map[string]*match.CompiledStub, len(entries)),
		methods: make(map[match.Method]int),
	}
	for _, cs := range entries {
		if _, dup := c.byID[cs.ID]; dup {
			return nil, fmt.Errorf("duplicate stub ID: %q", cs.ID)
		}
		c.byID[cs.ID] = cs
		c.entries = append(c.entries, cs)
		c.methods[cs.Method]++
	}
	return c, nil
}

// EmptyCatalogue returns a catalogue with no entries.
func EmptyCatalogue() *Catalogue {
	c, _ := NewCatalogue(nil)
	return c
}

// All returns the entries in insertion order. Callers must not modify the slice.
func (c *Catalogue) All() []*match.CompiledStub {
	return c.entries
}

// Lookup returns the entry with the given ID.
func (c *Catalogue) Lookup(id string) (*match.CompiledStub, bool) {
	cs, ok := c.byID[id]
	return cs, ok
}

// Len returns the number of entries.
func (c *Catalogue) Len() int {
	return len(c.entries)
}

// CountByMethod returns how many entries expect the given method.
func (c *Catalogue) CountByMethod(m match.Method) int {
	return c.methods[m]
}
