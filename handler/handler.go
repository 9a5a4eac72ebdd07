// ─────────────────────────────────────────────────────────────────────────────
// [Filename]: handler.go — Named read/write control endpoints
//
// Purpose:
//   - Maps endpoint names (e.g. "setSchedule", "q12.capacity") to typed
//     read and write functions owned by executor, queues and fabric.
//   - Gives the control channel one place to dispatch by name.
//
// Notes:
//   - Registration happens at startup; a duplicate name is a wiring error.
//   - Values cross the boundary as text so every endpoint shares one codec.
// ─────────────────────────────────────────────────────────────────────────────

package handler

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	ErrNoHandler = errors.New("handler: no such handler")
	ErrReadOnly  = errors.New("handler: read-only")
	ErrWriteOnly = errors.New("handler: write-only")
	ErrDuplicate = errors.New("handler: duplicate name")
)

// ReadFunc renders the endpoint's current value.
type ReadFunc func() (string, error)

// WriteFunc applies a new value to the endpoint.
type WriteFunc func(string) error

type entry struct {
	read  ReadFunc
	write WriteFunc
}

// Table is a concurrent registry of endpoints.
type Table struct {
	mu sync.RWMutex
	m  map[string]entry
}

// NewTable returns an empty table.
func NewTable() *Table {
	return &Table{m: make(map[string]entry)}
}

// Register adds name. Either function may be nil but not both.
func (t *Table) Register(name string, read ReadFunc, write WriteFunc) error {
	if read == nil && write == nil {
		return fmt.Errorf("handler: %q has neither read nor write", name)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.m[name]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicate, name)
	}
	t.m[name] = entry{read: read, write: write}
	return nil
}

// Read calls name's read function.
func (t *Table) Read(name string) (string, error) {
	t.mu.RLock()
	e, ok := t.m[name]
	t.mu.RUnlock()
	switch {
	case !ok:
		return "", fmt.Errorf("%w: %q", ErrNoHandler, name)
	case e.read == nil:
		return "", fmt.Errorf("%w: %q", ErrWriteOnly, name)
	}
	return e.read()
}

// Write calls name's write function.
func (t *Table) Write(name, value string) error {
	t.mu.RLock()
	e, ok := t.m[name]
	t.mu.RUnlock()
	switch {
	case !ok:
		return fmt.Errorf("%w: %q", ErrNoHandler, name)
	case e.write == nil:
		return fmt.Errorf("%w: %q", ErrReadOnly, name)
	}
	return e.write(value)
}

// Names returns all registered names in sorted order.
func (t *Table) Names() []string {
	t.mu.RLock()
	out := make([]string, 0, len(t.m))
	for name := range t.m {
		out = append(out, name)
	}
	t.mu.RUnlock()
	sort.Strings(out)
	return out
}
