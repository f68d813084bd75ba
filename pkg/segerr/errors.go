// Package segerr defines the errors a conversion can fail with.
//
// Every failure is reported through one of the sentinel values below so
// callers can branch with errors.Is. Failures that carry details use a typed
// error that matches its sentinel.
package segerr

import (
	"errors"
	"fmt"
)

var (
	// ErrOverlap: the segmentation stores more than one class per voxel.
	ErrOverlap = errors.New("multi-class segmentations can only be represented with a single component per voxel")

	// ErrEmptySegmentation: no foreground label was found.
	ErrEmptySegmentation = errors.New("no segments found for encoding as DICOM-SEG")

	// ErrUnmappedLabel: a label present in the volume has no description.
	ErrUnmappedLabel = errors.New("label is not present in the label mapping")

	// ErrIncompatibleShape: the volume cannot be brought to the series shape.
	ErrIncompatibleShape = errors.New("segmentation shape is incompatible with the source series")

	// ErrAmbiguousAxis: more than one axis correspondence fits the series.
	ErrAmbiguousAxis = errors.New("axis correspondence between segmentation and series is ambiguous")

	// ErrUnreadableReference: a file of the reference series could not be parsed.
	ErrUnreadableReference = errors.New("reference series file could not be read")

	// ErrVerification: the written artifact could not be read back.
	ErrVerification = errors.New("segmentation read-back failed")
)

// UnmappedLabelError names the label that has no mapping entry.
type UnmappedLabelError struct {
	Label uint16
}

func (e *UnmappedLabelError) Error() string {
	return fmt.Sprintf("label with pixel value %d is not present in the label mapping", e.Label)
}

func (e *UnmappedLabelError) Is(target error) bool {
	return target == ErrUnmappedLabel
}

// IncompatibleShapeError carries both shapes for diagnostics.
type IncompatibleShapeError struct {
	Got  [3]int
	Want [3]int
}

func (e *IncompatibleShapeError) Error() string {
	return fmt.Sprintf("the shape of the segmentation %v is incompatible with the shape of the source series %v", e.Got, e.Want)
}

func (e *IncompatibleShapeError) Is(target error) bool {
	return target == ErrIncompatibleShape
}

// UnreadableReferenceError wraps the parse failure of one series file.
type UnreadableReferenceError struct {
	Path string
	Err  error
}

func (e *UnreadableReferenceError) Error() string {
	return fmt.Sprintf("reading reference file %s: %v", e.Path, e.Err)
}

func (e *UnreadableReferenceError) Is(target error) bool {
	return target == ErrUnreadableReference
}

func (e *UnreadableReferenceError) Unwrap() error {
	return e.Err
}
