// Package searchlight implements the sliding-window scheduler: a fixed
// neighborhood template swept over a masked grid of variables, invoking
// the statistic engine once per center position, with wall-clock
// checkpointing for long runs.
package searchlight

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/allefeld/cvcrossmanova/domain/core"
)

// Offset is one template element: an integer displacement from the
// center together with its physical-space distance.
type Offset struct {
	D        [3]int
	Distance float64
	Center   bool
}

// Template is the neighborhood shape, built once per radius and
// transform and reused for every center position. Offsets are ordered
// row-major over the bounding box, so the template is deterministic.
type Template struct {
	Radius    float64
	Transform *mat.Dense // 3x3 index-to-physical transform, nil for identity
	Offsets   []Offset
}

// bboxGuard absorbs floating-point error in the per-axis half widths so
// offsets exactly on the radius are never excluded by the bounding box.
const bboxGuard = 1e-9

// NewTemplate enumerates every integer offset whose physical distance
// from the origin is at most radius, inclusive. With an anisotropic
// transform the neighborhood is an ellipsoid in index space; the
// bounding box is then derived from the inverse quadratic form per axis
// rather than from the radius alone, so no in-range offset is missed.
func NewTemplate(radius float64, transform *mat.Dense) (*Template, error) {
	if radius < 0 || math.IsNaN(radius) || math.IsInf(radius, 0) {
		return nil, core.NewParameterError("radius", "must be a non-negative finite number")
	}
	if transform != nil {
		r, c := transform.Dims()
		if r != 3 || c != 3 {
			return nil, core.NewParameterError("transform", "must be a 3x3 matrix")
		}
	}

	half, err := halfWidths(radius, transform)
	if err != nil {
		return nil, err
	}
	bbox := [3]int{}
	for i := range bbox {
		bbox[i] = int(math.Floor(half[i] + bboxGuard))
	}

	t := &Template{Radius: radius, Transform: transform}
	v := make([]float64, 3)
	for dx := -bbox[0]; dx <= bbox[0]; dx++ {
		for dy := -bbox[1]; dy <= bbox[1]; dy++ {
			for dz := -bbox[2]; dz <= bbox[2]; dz++ {
				var dist float64
				if transform == nil {
					dist = math.Sqrt(float64(dx*dx + dy*dy + dz*dz))
				} else {
					o := []float64{float64(dx), float64(dy), float64(dz)}
					for i := 0; i < 3; i++ {
						v[i] = transform.At(i, 0)*o[0] + transform.At(i, 1)*o[1] + transform.At(i, 2)*o[2]
					}
					dist = math.Sqrt(v[0]*v[0] + v[1]*v[1] + v[2]*v[2])
				}
				if dist <= radius {
					t.Offsets = append(t.Offsets, Offset{
						D:        [3]int{dx, dy, dz},
						Distance: dist,
						Center:   dx == 0 && dy == 0 && dz == 0,
					})
				}
			}
		}
	}
	return t, nil
}

// Size returns the number of offsets in the template.
func (t *Template) Size() int { return len(t.Offsets) }

// halfWidths returns the per-axis extent of the neighborhood. For the
// quadratic form o' (A'A) o <= r^2 the extent along axis i is
// r * sqrt(inv(A'A)[i,i]).
func halfWidths(radius float64, transform *mat.Dense) ([3]float64, error) {
	if transform == nil {
		return [3]float64{radius, radius, radius}, nil
	}
	var gram mat.Dense
	gram.Mul(transform.T(), transform)
	var inv mat.Dense
	if err := inv.Inverse(&gram); err != nil {
		return [3]float64{}, core.NewParameterError("transform", "must be invertible")
	}
	var half [3]float64
	for i := range half {
		d := inv.At(i, i)
		if d <= 0 || math.IsNaN(d) {
			return [3]float64{}, core.NewParameterError("transform", "must be invertible")
		}
		half[i] = radius * math.Sqrt(d)
	}
	return half, nil
}
