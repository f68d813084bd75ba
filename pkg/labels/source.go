// Package labels validates label volumes and compiles the per-label
// descriptions a Segmentation object needs.
package labels

import (
	"fmt"

	"segwriter/internal/models"
	"segwriter/pkg/nifti"
)

// Source is a label volume given either as a file path or already decoded.
// Exactly one of the fields is expected to be set; Volume wins when both are.
type Source struct {
	Path   string
	Volume *models.Volume
}

// FromPath returns a Source backed by a NIfTI file.
func FromPath(path string) Source {
	return Source{Path: path}
}

// FromVolume returns a Source backed by an in-memory volume.
func FromVolume(vol *models.Volume) Source {
	return Source{Volume: vol}
}

// Load decodes the source once. A decoded source returns its volume as is.
func (s Source) Load() (*models.Volume, error) {
	if s.Volume != nil {
		if err := s.Volume.Validate(); err != nil {
			return nil, err
		}
		return s.Volume, nil
	}
	if s.Path == "" {
		return nil, fmt.Errorf("empty label source")
	}
	vol, err := nifti.ReadFile(s.Path)
	if err != nil {
		return nil, fmt.Errorf("%s is not a valid image file: %w", s.Path, err)
	}
	return vol, nil
}

// Decoded returns a Source holding the loaded volume so later steps do not
// decode the file again.
func (s Source) Decoded() (Source, error) {
	vol, err := s.Load()
	if err != nil {
		return Source{}, err
	}
	return Source{Path: s.Path, Volume: vol}, nil
}
