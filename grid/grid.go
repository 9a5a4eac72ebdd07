// Package grid holds one value per ordered (src, dst) host pair.
//
// Grids are sized once at startup from a validated host count and never
// resized, so the per-pair handles the executor drives cannot go stale.
package grid

import (
	"errors"
	"fmt"

	"hybridsched/constants"
)

// ErrOutOfRange reports a host count or index outside the grid.
var ErrOutOfRange = errors.New("grid: index out of range")

// Grid is an N x N row-major container indexed by (src, dst).
type Grid[T any] struct {
	n     int
	cells []T
}

// New returns a grid for n hosts with every cell set by fill(src, dst).
// fill may be nil for zero values.
func New[T any](n int, fill func(src, dst int) T) (*Grid[T], error) {
	if err := ValidateHosts(n); err != nil {
		return nil, err
	}
	g := &Grid[T]{n: n, cells: make([]T, n*n)}
	if fill != nil {
		for src := 0; src < n; src++ {
			for dst := 0; dst < n; dst++ {
				g.cells[src*n+dst] = fill(src, dst)
			}
		}
	}
	return g, nil
}

// ValidateHosts checks a host count against the supported range.
func ValidateHosts(n int) error {
	if n <= 0 || n > constants.MaxHosts {
		return fmt.Errorf("%w: host count %d outside 1..%d", ErrOutOfRange, n, constants.MaxHosts)
	}
	return nil
}

// Hosts returns N.
func (g *Grid[T]) Hosts() int { return g.n }

func (g *Grid[T]) index(src, dst int) (int, error) {
	if src < 0 || src >= g.n || dst < 0 || dst >= g.n {
		return 0, fmt.Errorf("%w: (%d,%d) in %dx%d", ErrOutOfRange, src, dst, g.n, g.n)
	}
	return src*g.n + dst, nil
}

// At returns the cell for (src, dst).
func (g *Grid[T]) At(src, dst int) (T, error) {
	i, err := g.index(src, dst)
	if err != nil {
		var zero T
		return zero, err
	}
	return g.cells[i], nil
}

// MustAt returns the cell for (src, dst) and panics when out of range.
// Callers use it only with indices already validated against Hosts.
func (g *Grid[T]) MustAt(src, dst int) T {
	i, err := g.index(src, dst)
	if err != nil {
		panic(err)
	}
	return g.cells[i]
}

// Set replaces the cell for (src, dst).
func (g *Grid[T]) Set(src, dst int, v T) error {
	i, err := g.index(src, dst)
	if err != nil {
		return err
	}
	g.cells[i] = v
	return nil
}

// Each calls fn for every cell in (src, dst) row-major order.
func (g *Grid[T]) Each(fn func(src, dst int, v T)) {
	for i, v := range g.cells {
		fn(i/g.n, i%g.n, v)
	}
}
