package geometry

import (
	"segwriter/internal/models"
	"segwriter/pkg/segerr"
)

// EnsureShape is the light-weight alternative to Reconcile. A volume that
// already has the series shape is returned unchanged; otherwise the slice
// axis (the first axis whose move yields the series shape) is moved to the
// front. No flip or rotation is applied.
//
// When the moved volume still disagrees with the series an
// *segerr.IncompatibleShapeError carrying the input shape is returned and
// no further comparison is attempted.
func EnsureShape(vol *models.Volume, series *models.Series) (*models.Volume, error) {
	want := series.Shape()
	if vol.Shape == want {
		return vol, nil
	}

	for k := 0; k < 3; k++ {
		if vol.Shape[k] == want[0] && MoveAxis(k).Shape(vol.Shape) == want {
			return MoveAxis(k).Apply(vol), nil
		}
	}
	return nil, &segerr.IncompatibleShapeError{Got: vol.Shape, Want: want}
}

// CheckShape fails with an *segerr.IncompatibleShapeError unless vol has
// exactly the (slices, rows, columns) shape of series.
func CheckShape(vol *models.Volume, series *models.Series) error {
	if want := series.Shape(); vol.Shape != want {
		return &segerr.IncompatibleShapeError{Got: vol.Shape, Want: want}
	}
	return nil
}
