package models

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Axis positions inside a Volume shape.
const (
	SliceAxis  = 0
	RowAxis    = 1
	ColumnAxis = 2
)

// Volume represents a 3D label volume
type Volume struct {
	// Data holds the voxel labels as a 1D array in row-major order:
	// index = (s*Rows + r)*Columns + c. With more than one component per
	// voxel each component plane follows the previous one.
	Data []uint16

	// Shape is (slices, rows, columns) in array order, slowest axis first
	Shape [3]int

	// Components is the number of values stored per voxel. A label map has
	// exactly one.
	Components int

	// Geometry maps array indices to patient coordinates. Nil when the
	// volume was supplied without spatial metadata.
	Geometry *Geometry
}

// NewVolume allocates a zeroed single-component volume.
func NewVolume(slices, rows, columns int) *Volume {
	return &Volume{
		Data:       make([]uint16, slices*rows*columns),
		Shape:      [3]int{slices, rows, columns},
		Components: 1,
	}
}

// FromSlices builds a single-component volume from nested [slice][row][column]
// values. Every slice must have the same number of rows and columns.
func FromSlices(values [][][]uint16) (*Volume, error) {
	if len(values) == 0 || len(values[0]) == 0 || len(values[0][0]) == 0 {
		return nil, fmt.Errorf("volume must have non-zero extent on every axis")
	}
	v := NewVolume(len(values), len(values[0]), len(values[0][0]))
	for s := range values {
		if len(values[s]) != v.Shape[1] {
			return nil, fmt.Errorf("slice %d has %d rows, expected %d", s, len(values[s]), v.Shape[1])
		}
		for r := range values[s] {
			if len(values[s][r]) != v.Shape[2] {
				return nil, fmt.Errorf("slice %d row %d has %d columns, expected %d", s, r, len(values[s][r]), v.Shape[2])
			}
			copy(v.Data[v.Index(s, r, 0):], values[s][r])
		}
	}
	return v, nil
}

// Len returns the number of voxels.
func (v *Volume) Len() int {
	return v.Shape[0] * v.Shape[1] * v.Shape[2]
}

// Index returns the flat offset of a voxel for a single-component volume.
func (v *Volume) Index(s, r, c int) int {
	return (s*v.Shape[1]+r)*v.Shape[2] + c
}

// At returns the label stored at (s, r, c).
func (v *Volume) At(s, r, c int) uint16 {
	return v.Data[v.Index(s, r, c)]
}

// Set stores a label at (s, r, c).
func (v *Volume) Set(s, r, c int, label uint16) {
	v.Data[v.Index(s, r, c)] = label
}

// Slice returns the voxels of slice s without copying.
func (v *Volume) Slice(s int) []uint16 {
	size := v.Shape[1] * v.Shape[2]
	return v.Data[s*size : (s+1)*size]
}

// Validate checks that the data length agrees with the shape.
func (v *Volume) Validate() error {
	if v.Shape[0] <= 0 || v.Shape[1] <= 0 || v.Shape[2] <= 0 {
		return fmt.Errorf("invalid volume shape %v", v.Shape)
	}
	comps := v.Components
	if comps <= 0 {
		comps = 1
	}
	if len(v.Data) != v.Len()*comps {
		return fmt.Errorf("volume data has %d values, shape %v with %d components needs %d",
			len(v.Data), v.Shape, comps, v.Len()*comps)
	}
	return nil
}

// Geometry holds the 4x4 affine that maps an array index (a0, a1, a2, 1) to a
// point in patient (LPS) coordinates in millimetres. Column k of the upper
// 3x3 block is the step vector of array axis k, column 3 is the position of
// voxel (0, 0, 0).
type Geometry struct {
	Affine *mat.Dense
}

// NewGeometry builds a geometry from an origin and one step vector per
// array axis.
func NewGeometry(origin [3]float64, axes [3][3]float64) *Geometry {
	a := mat.NewDense(4, 4, nil)
	for k := 0; k < 3; k++ {
		for i := 0; i < 3; i++ {
			a.Set(i, k, axes[k][i])
		}
		a.Set(k, 3, origin[k])
	}
	a.Set(3, 3, 1)
	return &Geometry{Affine: a}
}

// Point returns the patient position of the voxel with the given array index.
func (g *Geometry) Point(a0, a1, a2 float64) [3]float64 {
	idx := mat.NewVecDense(4, []float64{a0, a1, a2, 1})
	var out mat.VecDense
	out.MulVec(g.Affine, idx)
	return [3]float64{out.AtVec(0), out.AtVec(1), out.AtVec(2)}
}

// Direction returns the step vector of an array axis.
func (g *Geometry) Direction(axis int) [3]float64 {
	return [3]float64{g.Affine.At(0, axis), g.Affine.At(1, axis), g.Affine.At(2, axis)}
}

// Transform returns the geometry seen through an index mapping: m maps new
// array indices (homogeneous) to old ones.
func (g *Geometry) Transform(m *mat.Dense) *Geometry {
	var out mat.Dense
	out.Mul(g.Affine, m)
	return &Geometry{Affine: &out}
}

// Clone returns a deep copy of the geometry.
func (g *Geometry) Clone() *Geometry {
	if g == nil {
		return nil
	}
	return &Geometry{Affine: mat.DenseCopyOf(g.Affine)}
}
