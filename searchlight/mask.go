package searchlight

import (
	"fmt"
	"sort"

	"github.com/allefeld/cvcrossmanova/domain/core"
)

// Mask maps dependent variables to grid positions. Position k in the
// list is the grid location of variable k, so the mask order is the
// variable order, and result maps are aligned with it.
type Mask struct {
	Dims      [3]int
	positions [][3]int
	byLinear  map[int]int // linear grid index -> variable index
}

// NewMask validates bounds and uniqueness and builds the lookup index.
func NewMask(dims [3]int, positions [][3]int) (*Mask, error) {
	for i, d := range dims {
		if d <= 0 {
			return nil, core.NewParameterError("mask", fmt.Sprintf("dimension %d must be positive, got %d", i, d))
		}
	}
	if len(positions) == 0 {
		return nil, core.NewParameterError("mask", "requires at least one position")
	}

	m := &Mask{
		Dims:      dims,
		positions: make([][3]int, len(positions)),
		byLinear:  make(map[int]int, len(positions)),
	}
	for v, p := range positions {
		for i := 0; i < 3; i++ {
			if p[i] < 0 || p[i] >= dims[i] {
				return nil, core.NewParameterError("mask", fmt.Sprintf("position %d coordinate %v outside grid %v", v, p, dims))
			}
		}
		li := m.linear(p)
		if prev, dup := m.byLinear[li]; dup {
			return nil, core.NewParameterError("mask", fmt.Sprintf("positions %d and %d share grid cell %v", prev, v, p))
		}
		m.byLinear[li] = v
		m.positions[v] = p
	}
	return m, nil
}

// FullMask covers every cell of the grid, in row-major order.
func FullMask(dims [3]int) (*Mask, error) {
	positions := make([][3]int, 0, dims[0]*dims[1]*dims[2])
	for x := 0; x < dims[0]; x++ {
		for y := 0; y < dims[1]; y++ {
			for z := 0; z < dims[2]; z++ {
				positions = append(positions, [3]int{x, y, z})
			}
		}
	}
	return NewMask(dims, positions)
}

// NumVars returns the number of in-mask positions.
func (m *Mask) NumVars() int { return len(m.positions) }

// Position returns the grid location of variable v.
func (m *Mask) Position(v int) [3]int { return m.positions[v] }

// VariableAt returns the variable index at a grid position, if in-mask.
func (m *Mask) VariableAt(p [3]int) (int, bool) {
	for i := 0; i < 3; i++ {
		if p[i] < 0 || p[i] >= m.Dims[i] {
			return 0, false
		}
	}
	v, ok := m.byLinear[m.linear(p)]
	return v, ok
}

// Neighborhood translates the template to the given center and returns
// the variable indices of the in-bounds, in-mask offsets, ascending.
func (m *Mask) Neighborhood(t *Template, center [3]int) []int {
	vars := make([]int, 0, len(t.Offsets))
	for _, o := range t.Offsets {
		p := [3]int{center[0] + o.D[0], center[1] + o.D[1], center[2] + o.D[2]}
		if v, ok := m.VariableAt(p); ok {
			vars = append(vars, v)
		}
	}
	sort.Ints(vars)
	return vars
}

func (m *Mask) linear(p [3]int) int {
	return (p[0]*m.Dims[1]+p[1])*m.Dims[2] + p[2]
}
