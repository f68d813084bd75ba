package geometry

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"segwriter/internal/models"
	"segwriter/pkg/segerr"
)

// minAlignment is the smallest |cos| between two axes that still counts as
// a match: anything at or below 45 degrees off is ambiguous.
var minAlignment = 1 / math.Sqrt2

// Orientation holds one unit direction in patient coordinates per array
// axis, in (slice, row, column) order.
type Orientation [3]r3.Vec

// Orientation2D is the in-plane part of an orientation. Row is the direction
// of increasing column index (the DICOM row cosine) and Column the direction
// of increasing row index (the column cosine).
type Orientation2D struct {
	Row    r3.Vec
	Column r3.Vec
}

// Normal returns the unit normal of the plane.
func (o Orientation2D) Normal() r3.Vec {
	return r3.Unit(r3.Cross(o.Row, o.Column))
}

// FromIOP builds an in-plane orientation from an ImageOrientationPatient value.
func FromIOP(iop [6]float64) Orientation2D {
	return Orientation2D{
		Row:    r3.Unit(r3.Vec{X: iop[0], Y: iop[1], Z: iop[2]}),
		Column: r3.Unit(r3.Vec{X: iop[3], Y: iop[4], Z: iop[5]}),
	}
}

// VolumeOrientation returns the directions of the array axes of a geometry.
func VolumeOrientation(g *models.Geometry) (Orientation, error) {
	var o Orientation
	for k := 0; k < 3; k++ {
		d := g.Direction(k)
		v := r3.Vec{X: d[0], Y: d[1], Z: d[2]}
		if r3.Norm(v) == 0 {
			return o, fmt.Errorf("volume axis %d has zero length", k)
		}
		o[k] = r3.Unit(v)
	}
	return o, nil
}

// SeriesOrientation returns the directions a reconciled volume must have to
// match the series: the slice axis points from the first slice to the last
// (or along the plane normal for a single slice), rows advance along the
// column cosine and columns along the row cosine.
func SeriesOrientation(s *models.Series) (Orientation, error) {
	var o Orientation
	if !s.HasOrientation() {
		return o, fmt.Errorf("reference series has no orientation")
	}
	first := s.Slices[0]
	plane := FromIOP(first.Orientation)

	slice := plane.Normal()
	if s.Len() > 1 {
		last := s.Slices[s.Len()-1]
		d := r3.Sub(position(last), position(first))
		if r3.Norm(d) > 1e-6 {
			slice = r3.Unit(d)
		}
	}
	o[models.SliceAxis] = slice
	o[models.RowAxis] = plane.Column
	o[models.ColumnAxis] = plane.Row
	return o, nil
}

func position(sl models.ReferenceSlice) r3.Vec {
	return r3.Vec{X: sl.Position[0], Y: sl.Position[1], Z: sl.Position[2]}
}

// DeriveAxisMap returns the map that turns a volume with orientation src into
// one with orientation dst. Each destination axis is matched to the source
// axis most parallel to it and reversed when the two point in opposite
// directions. It fails with segerr.ErrAmbiguousAxis when an axis has no
// clear partner.
func DeriveAxisMap(src, dst Orientation) (AxisMap, error) {
	var m AxisMap
	used := [3]bool{}
	for j := 0; j < 3; j++ {
		best, bestDot := -1, 0.0
		for k := 0; k < 3; k++ {
			d := r3.Dot(src[k], dst[j])
			if math.Abs(d) > math.Abs(bestDot) {
				best, bestDot = k, d
			}
		}
		if best < 0 || math.Abs(bestDot) <= minAlignment {
			return AxisMap{}, fmt.Errorf("%w: no volume axis within 45 degrees of target axis %d", segerr.ErrAmbiguousAxis, j)
		}
		if used[best] {
			return AxisMap{}, fmt.Errorf("%w: volume axis %d matches more than one target axis", segerr.ErrAmbiguousAxis, best)
		}
		used[best] = true
		m.Perm[j] = best
		m.Flip[j] = bestDot < 0
	}
	return m, nil
}

// InPlaneCorrection returns the map that turns slices with in-plane
// orientation src into slices with orientation dst. The slice axis is left
// alone; the two orientations must describe the same plane.
func InPlaneCorrection(src, dst Orientation2D) (AxisMap, error) {
	n := dst.Normal()
	m, err := DeriveAxisMap(
		Orientation{n, src.Column, src.Row},
		Orientation{n, dst.Column, dst.Row},
	)
	if err != nil {
		return AxisMap{}, err
	}
	if m.Perm[0] != 0 || m.Flip[0] {
		return AxisMap{}, fmt.Errorf("%w: orientations do not share a plane", segerr.ErrAmbiguousAxis)
	}
	return m, nil
}
