package labels

import (
	"fmt"

	"segwriter/internal/models"
	"segwriter/pkg/segerr"
)

// ValidateNoOverlap fails with segerr.ErrOverlap when the volume stores more
// than one value per voxel.
func ValidateNoOverlap(src Source) error {
	vol, err := src.Load()
	if err != nil {
		return err
	}
	return ValidateVolume(vol)
}

// ValidateVolume is ValidateNoOverlap for a decoded volume.
func ValidateVolume(vol *models.Volume) error {
	if vol.Components > 1 {
		return fmt.Errorf("%w: found %d components per voxel", segerr.ErrOverlap, vol.Components)
	}
	return nil
}

// Discover returns the distinct positive labels present in the volume in
// ascending order. It fails with segerr.ErrEmptySegmentation when the volume
// holds background only.
func Discover(src Source) ([]uint16, error) {
	vol, err := src.Load()
	if err != nil {
		return nil, err
	}
	return DiscoverVolume(vol)
}

// DiscoverVolume is Discover for a decoded volume.
func DiscoverVolume(vol *models.Volume) ([]uint16, error) {
	var seen [1 << 16]bool
	for _, v := range vol.Data {
		seen[v] = true
	}

	var labels []uint16
	for v := 1; v < len(seen); v++ {
		if seen[v] {
			labels = append(labels, uint16(v))
		}
	}
	if len(labels) == 0 {
		return nil, segerr.ErrEmptySegmentation
	}
	return labels, nil
}

// Contains reports whether label is in the sorted slice labels.
func Contains(labels []uint16, label uint16) bool {
	lo, hi := 0, len(labels)
	for lo < hi {
		mid := (lo + hi) / 2
		switch {
		case labels[mid] == label:
			return true
		case labels[mid] < label:
			lo = mid + 1
		default:
			hi = mid
		}
	}
	return false
}
