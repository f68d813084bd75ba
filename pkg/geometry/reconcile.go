package geometry

import (
	"errors"
	"fmt"
	"log/slog"

	"gonum.org/v1/gonum/spatial/r3"

	"segwriter/internal/models"
	"segwriter/pkg/logging"
	"segwriter/pkg/segerr"
)

// Options controls how Reconcile resolves the axis correspondence
type Options struct {
	// Strict turns every guess into an error: an ambiguous slice axis or an
	// unusable orientation fails with segerr.ErrAmbiguousAxis instead of
	// falling back to the documented tie-break.
	Strict bool

	// LengthOnly skips the orientation-derived correspondence and always uses
	// length matching.
	LengthOnly bool

	Logger *slog.Logger
}

// Plan records the corrections Reconcile applied
type Plan struct {
	// Derived is true when the map came from direction cosines
	Derived bool

	// Moved is true when the slice axis was not already axis 0.
	// SliceAxis is the input axis that became the slice axis.
	Moved     bool
	SliceAxis int

	// Flipped is true when the slice order was reversed
	Flipped bool

	// Rotated is true when a quarter turn was applied to the slice plane
	Rotated bool

	// Map is the combined map applied to the volume
	Map AxisMap
}

// Result is a reconciled volume and the plan that produced it
type Result struct {
	Volume *models.Volume
	Plan   Plan
}

// Reconcile reorders vol so that its axes enumerate the slices, rows and
// columns of series, with the slices in series order. series must already be
// sorted by acquisition order.
//
// When both the volume geometry and the series orientation are known the
// correspondence is derived from direction cosines. Otherwise the slice axis
// is found by length, the slice order is checked against the position of
// the first reference slice, and a moved volume gets a quarter turn of its
// slice plane (always for a square plane, otherwise when rows and columns
// come out swapped).
//
// Reconcile does not check the resulting shape; use CheckShape.
func Reconcile(vol *models.Volume, series *models.Series, opts Options) (Result, error) {
	log := logging.OrNop(opts.Logger)
	if err := vol.Validate(); err != nil {
		return Result{}, err
	}
	if err := series.Validate(); err != nil {
		return Result{}, err
	}

	if !opts.LengthOnly && vol.Geometry != nil && series.HasOrientation() {
		plan, err := derivedPlan(vol, series)
		switch {
		case err == nil && plan.Map.Shape(vol.Shape) == series.Shape():
			log.Info("axis correspondence derived from orientation",
				"sliceAxis", plan.SliceAxis, "flipped", plan.Flipped, "rotated", plan.Rotated)
			return Result{Volume: apply(plan.Map, vol), Plan: plan}, nil
		case err != nil && opts.Strict:
			return Result{}, err
		case err != nil:
			log.Warn("orientation does not give a clear axis correspondence, matching by length", "error", err)
		default:
			log.Warn("orientation-derived shape does not match the series, matching by length",
				"derived", plan.Map.Shape(vol.Shape), "series", series.Shape())
		}
	}

	plan, err := fallbackPlan(vol, series, opts.Strict, log)
	if err != nil {
		return Result{}, err
	}
	log.Info("axis correspondence matched by length",
		"moved", plan.Moved, "sliceAxis", plan.SliceAxis, "flipped", plan.Flipped, "rotated", plan.Rotated)
	return Result{Volume: apply(plan.Map, vol), Plan: plan}, nil
}

func apply(m AxisMap, vol *models.Volume) *models.Volume {
	if m.IsIdentity() {
		return vol
	}
	return m.Apply(vol)
}

func derivedPlan(vol *models.Volume, series *models.Series) (Plan, error) {
	src, err := VolumeOrientation(vol.Geometry)
	if err != nil {
		return Plan{}, fmt.Errorf("%w: %v", segerr.ErrAmbiguousAxis, err)
	}
	dst, err := SeriesOrientation(series)
	if err != nil {
		return Plan{}, fmt.Errorf("%w: %v", segerr.ErrAmbiguousAxis, err)
	}
	m, err := DeriveAxisMap(src, dst)
	if err != nil {
		return Plan{}, err
	}
	return Plan{
		Derived:   true,
		Moved:     m.Perm[0] != 0,
		SliceAxis: m.Perm[0],
		Flipped:   m.Flip[0],
		Rotated:   m.Perm[1] == 2,
		Map:       m,
	}, nil
}

func fallbackPlan(vol *models.Volume, series *models.Series, strict bool, log *slog.Logger) (Plan, error) {
	plan := Plan{Map: Identity()}

	// Step A: slice axis by length
	axis, err := InferSliceAxis(vol.Shape, series.Shape(), strict)
	switch {
	case errors.Is(err, errNoCandidate):
		log.Warn("no volume axis matches the series length", "shape", vol.Shape, "series", series.Shape())
	case errors.Is(err, errTieBreak):
		log.Warn("more than one volume axis matches the series, using the lowest", "axis", axis, "shape", vol.Shape)
	case err != nil:
		return Plan{}, err
	}
	if axis > 0 {
		plan.Moved = true
		plan.SliceAxis = axis
		plan.Map = MoveAxis(axis)
	}

	// Step B: slice direction
	if vol.Geometry != nil {
		if SliceOrderReversed(vol.Geometry.Transform(plan.Map.IndexMatrix(vol.Shape)), plan.Map.Shape(vol.Shape), series) {
			plan.Flipped = true
			plan.Map = plan.Map.Then(FlipSlices())
		}
	}

	// Step C: in-plane convention. A square plane always takes the quarter
	// turn, a rectangular one only when its sides are swapped.
	if plan.Moved {
		moved := plan.Map.Shape(vol.Shape)
		if moved[1] == moved[2] || moved[1] != series.Rows() {
			plan.Rotated = true
			plan.Map = plan.Map.Then(Rot90())
		}
	}
	return plan, nil
}

var (
	errNoCandidate = errors.New("no axis matches the series length")
	errTieBreak    = errors.New("several axes match the series length")
)

// InferSliceAxis picks the axis of a volume of shape got that enumerates the
// slices of a series of shape want (slices, rows, columns).
//
// A shape that already matches gives axis 0. Otherwise the candidates are the
// axes whose length equals the slice count, narrowed to those whose two other
// lengths are (rows, columns) in either order. When several candidates remain
// the lowest axis is returned together with errTieBreak, or
// segerr.ErrAmbiguousAxis when strict. When no axis has the slice count the
// result is 0 with errNoCandidate.
func InferSliceAxis(got, want [3]int, strict bool) (int, error) {
	if got == want {
		return 0, nil
	}

	var byLength, fitting []int
	for k := 0; k < 3; k++ {
		if got[k] != want[0] {
			continue
		}
		byLength = append(byLength, k)
		rest := MoveAxis(k).Shape(got)
		if (rest[1] == want[1] && rest[2] == want[2]) || (rest[1] == want[2] && rest[2] == want[1]) {
			fitting = append(fitting, k)
		}
	}

	switch {
	case len(byLength) == 0:
		return 0, errNoCandidate
	case len(fitting) == 0:
		// nothing fits the slice plane; keep the first length match and let
		// the shape check report it
		return byLength[0], nil
	case len(fitting) == 1:
		return fitting[0], nil
	case strict:
		return 0, fmt.Errorf("%w: axes %v of shape %v all match %d slices", segerr.ErrAmbiguousAxis, fitting, got, want[0])
	}
	return fitting[0], errTieBreak
}

// SliceOrderReversed reports whether the last slice of a volume lies closer
// to the first slice of series than its first slice does. Slices are
// compared by the patient position of their centres, so in-plane rotations
// do not change the answer.
func SliceOrderReversed(g *models.Geometry, shape [3]int, series *models.Series) bool {
	if series.Len() == 0 || shape[0] < 2 {
		return false
	}
	rc, cc := float64(shape[1]-1)/2, float64(shape[2]-1)/2
	first := toVec(g.Point(0, rc, cc))
	last := toVec(g.Point(float64(shape[0]-1), rc, cc))
	ref := sliceCentre(series.Slices[0])

	return r3.Norm(r3.Sub(first, ref)) > r3.Norm(r3.Sub(last, ref))
}

// sliceCentre returns the centre of a reference slice, or its first voxel
// when the slice carries no orientation or spacing.
func sliceCentre(sl models.ReferenceSlice) r3.Vec {
	p := position(sl)
	if !sl.HasOrientation || sl.PixelSpacing[0] == 0 || sl.PixelSpacing[1] == 0 {
		return p
	}
	plane := FromIOP(sl.Orientation)
	down := float64(sl.Rows-1) / 2 * sl.PixelSpacing[0]
	across := float64(sl.Columns-1) / 2 * sl.PixelSpacing[1]
	return r3.Add(p, r3.Add(r3.Scale(down, plane.Column), r3.Scale(across, plane.Row)))
}

func toVec(p [3]float64) r3.Vec {
	return r3.Vec{X: p[0], Y: p[1], Z: p[2]}
}
