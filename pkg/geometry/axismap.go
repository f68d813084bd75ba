// Package geometry aligns label volumes with the voxel grid of a reference
// image series.
//
// Every correction the package applies (axis moves, slice flips and in-plane
// quarter turns) is expressed as an AxisMap. Maps compose, so a full
// reconciliation is performed as a single gather pass over the voxels.
package geometry

import (
	"gonum.org/v1/gonum/mat"

	"segwriter/internal/models"
)

// AxisMap describes a reordering of the three array axes of a volume.
// Output axis i reads input axis Perm[i], traversed backwards when Flip[i].
type AxisMap struct {
	Perm [3]int
	Flip [3]bool
}

// Identity returns the map that leaves a volume unchanged.
func Identity() AxisMap {
	return AxisMap{Perm: [3]int{0, 1, 2}}
}

// MoveAxis returns the map that moves axis k to position 0 and keeps the
// relative order of the other two.
func MoveAxis(k int) AxisMap {
	switch k {
	case 1:
		return AxisMap{Perm: [3]int{1, 0, 2}}
	case 2:
		return AxisMap{Perm: [3]int{2, 0, 1}}
	}
	return Identity()
}

// FlipSlices returns the map that reverses the slice axis.
func FlipSlices() AxisMap {
	m := Identity()
	m.Flip[0] = true
	return m
}

// Rot90 returns a quarter turn of the row/column plane, counter-clockwise
// when rows are drawn downwards: out[s][r][c] = in[s][c][W-1-r], where W is
// the input column count.
func Rot90() AxisMap {
	return AxisMap{Perm: [3]int{0, 2, 1}, Flip: [3]bool{false, true, false}}
}

// IsIdentity reports whether the map leaves a volume unchanged.
func (m AxisMap) IsIdentity() bool {
	return m == Identity()
}

// Then returns the map equivalent to applying m first and n second.
func (m AxisMap) Then(n AxisMap) AxisMap {
	var out AxisMap
	for j := 0; j < 3; j++ {
		mid := n.Perm[j]
		out.Perm[j] = m.Perm[mid]
		out.Flip[j] = n.Flip[j] != m.Flip[mid]
	}
	return out
}

// Shape returns the shape of a volume of shape in after the map is applied.
func (m AxisMap) Shape(in [3]int) [3]int {
	return [3]int{in[m.Perm[0]], in[m.Perm[1]], in[m.Perm[2]]}
}

// IndexMatrix returns the homogeneous 4x4 matrix that maps an output index to
// the input index it reads, for an input volume of the given shape.
func (m AxisMap) IndexMatrix(in [3]int) *mat.Dense {
	t := mat.NewDense(4, 4, nil)
	for i := 0; i < 3; i++ {
		src := m.Perm[i]
		if m.Flip[i] {
			t.Set(src, i, -1)
			t.Set(src, 3, float64(in[src]-1))
		} else {
			t.Set(src, i, 1)
		}
	}
	t.Set(3, 3, 1)
	return t
}

// Apply returns a new volume holding vol reordered by m. The voxels are
// copied in one pass and the geometry, when present, is carried along so
// every voxel keeps its patient position.
func (m AxisMap) Apply(vol *models.Volume) *models.Volume {
	in := vol.Shape
	shape := m.Shape(in)
	comps := vol.Components
	if comps <= 0 {
		comps = 1
	}

	inStride := [3]int{in[1] * in[2], in[2], 1}
	var step [3]int
	base := 0
	for i := 0; i < 3; i++ {
		src := m.Perm[i]
		if m.Flip[i] {
			step[i] = -inStride[src]
			base += (in[src] - 1) * inStride[src]
		} else {
			step[i] = inStride[src]
		}
	}

	plane := vol.Len()
	out := &models.Volume{
		Data:       make([]uint16, len(vol.Data)),
		Shape:      shape,
		Components: vol.Components,
	}
	for c := 0; c < comps; c++ {
		src := vol.Data[c*plane : (c+1)*plane]
		dst := out.Data[c*plane : (c+1)*plane]
		n := 0
		for i0, o0 := 0, base; i0 < shape[0]; i0, o0 = i0+1, o0+step[0] {
			for i1, o1 := 0, o0; i1 < shape[1]; i1, o1 = i1+1, o1+step[1] {
				for i2, o2 := 0, o1; i2 < shape[2]; i2, o2 = i2+1, o2+step[2] {
					dst[n] = src[o2]
					n++
				}
			}
		}
	}

	if vol.Geometry != nil {
		out.Geometry = vol.Geometry.Transform(m.IndexMatrix(in))
	}
	return out
}
