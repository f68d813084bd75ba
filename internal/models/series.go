package models

import (
	"fmt"
	"sort"

	"github.com/suyashkumar/dicom"
)

// ReferenceSlice describes one single-frame image of the referenced series
type ReferenceSlice struct {
	// FileIndex is the position of the file in the directory listing
	FileIndex int

	// Path is the file the header was read from
	Path string

	// Rows and Columns are the pixel matrix size of the image
	Rows    int
	Columns int

	// Position is ImagePositionPatient: the centre of the first voxel in mm
	Position [3]float64

	// Orientation is ImageOrientationPatient: row cosine followed by column cosine.
	// HasOrientation is false when the file carries no orientation.
	Orientation    [6]float64
	HasOrientation bool

	// PixelSpacing is (row spacing, column spacing) in mm
	PixelSpacing   [2]float64
	SliceThickness float64

	// InstanceNumber gives the acquisition order inside the series
	InstanceNumber int

	SOPClassUID    string
	SOPInstanceUID string

	// Header is the parsed metadata with NumberOfFrames removed
	Header dicom.Dataset
}

// Series is the ordered reference image series a segmentation aligns to
type Series struct {
	Slices []ReferenceSlice

	SeriesNumber        int
	SeriesInstanceUID   string
	StudyInstanceUID    string
	FrameOfReferenceUID string
}

// Len returns the number of slices in the series.
func (s *Series) Len() int {
	return len(s.Slices)
}

// Rows returns the row count shared by every slice.
func (s *Series) Rows() int {
	if len(s.Slices) == 0 {
		return 0
	}
	return s.Slices[0].Rows
}

// Columns returns the column count shared by every slice.
func (s *Series) Columns() int {
	if len(s.Slices) == 0 {
		return 0
	}
	return s.Slices[0].Columns
}

// Shape returns the (slices, rows, columns) shape a reconciled volume must have.
func (s *Series) Shape() [3]int {
	return [3]int{s.Len(), s.Rows(), s.Columns()}
}

// Validate checks that the series is not empty and that every slice shares
// the same matrix size.
func (s *Series) Validate() error {
	if len(s.Slices) == 0 {
		return fmt.Errorf("reference series is empty")
	}
	rows, cols := s.Rows(), s.Columns()
	for i, sl := range s.Slices {
		if sl.Rows != rows || sl.Columns != cols {
			return fmt.Errorf("slice %d (%s) is %dx%d, series is %dx%d", i, sl.Path, sl.Rows, sl.Columns, rows, cols)
		}
	}
	return nil
}

// Ordered returns a copy of the series sorted by acquisition order
// (InstanceNumber, then file index). The receiver is not modified.
func (s *Series) Ordered() *Series {
	out := *s
	out.Slices = make([]ReferenceSlice, len(s.Slices))
	copy(out.Slices, s.Slices)
	sort.SliceStable(out.Slices, func(i, j int) bool {
		a, b := out.Slices[i], out.Slices[j]
		if a.InstanceNumber != b.InstanceNumber {
			return a.InstanceNumber < b.InstanceNumber
		}
		return a.FileIndex < b.FileIndex
	})
	return &out
}

// HasOrientation reports whether every slice carries ImageOrientationPatient.
func (s *Series) HasOrientation() bool {
	if len(s.Slices) == 0 {
		return false
	}
	for _, sl := range s.Slices {
		if !sl.HasOrientation {
			return false
		}
	}
	return true
}
