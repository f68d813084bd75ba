package series

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/suyashkumar/dicom/pkg/tag"

	"segwriter/pkg/segerr"
	"segwriter/pkg/series/seriestest"
)

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	if _, err := seriestest.Write(dir, seriestest.Axial(5, 6, 8)); err != nil {
		t.Fatalf("Failed to write series: %v", err)
	}
	// files of other types are ignored
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	s, err := Load(dir, Options{Workers: 3})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if s.Len() != 5 || s.Rows() != 6 || s.Columns() != 8 {
		t.Fatalf("Expected 5 slices of 6x8, got %d of %dx%d", s.Len(), s.Rows(), s.Columns())
	}
	if s.SeriesNumber != 7 {
		t.Errorf("Expected series number 7, got %d", s.SeriesNumber)
	}
	if s.StudyInstanceUID == "" || s.SeriesInstanceUID == "" || s.FrameOfReferenceUID == "" {
		t.Errorf("Expected series identifiers, got %+v", s)
	}

	for i, sl := range s.Slices {
		if sl.FileIndex != i {
			t.Errorf("Slice %d has file index %d", i, sl.FileIndex)
		}
		if sl.InstanceNumber != i+1 {
			t.Errorf("Slice %d has instance number %d", i, sl.InstanceNumber)
		}
		if !sl.HasOrientation || sl.Orientation[0] != 1 || sl.Orientation[4] != 1 {
			t.Errorf("Slice %d has orientation %v", i, sl.Orientation)
		}
		if want := 2.5 * float64(i); sl.Position[2] != want {
			t.Errorf("Slice %d at z=%f, expected %f", i, sl.Position[2], want)
		}
		if sl.PixelSpacing != [2]float64{0.8, 0.8} {
			t.Errorf("Slice %d has pixel spacing %v", i, sl.PixelSpacing)
		}
		if _, err := sl.Header.FindElementByTag(tag.NumberOfFrames); err == nil {
			t.Errorf("Slice %d still carries NumberOfFrames", i)
		}
		if _, err := sl.Header.FindElementByTag(tag.PatientName); err != nil {
			t.Errorf("Slice %d lost PatientName", i)
		}
	}
}

func TestLoadOrdersByInstanceNumber(t *testing.T) {
	dir := t.TempDir()
	spec := seriestest.Axial(4, 2, 2)
	spec.Reverse = true
	if _, err := seriestest.Write(dir, spec); err != nil {
		t.Fatalf("Failed to write series: %v", err)
	}

	s, err := Load(dir, Options{Workers: 2})
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	for i, sl := range s.Slices {
		if sl.InstanceNumber != i+1 {
			t.Errorf("Expected instance %d at position %d, got %d", i+1, i, sl.InstanceNumber)
		}
		if sl.FileIndex != 3-i {
			t.Errorf("Expected file index %d at position %d, got %d", 3-i, i, sl.FileIndex)
		}
	}
}

func TestLoadUnreadableFile(t *testing.T) {
	dir := t.TempDir()
	if _, err := seriestest.Write(dir, seriestest.Axial(2, 2, 2)); err != nil {
		t.Fatalf("Failed to write series: %v", err)
	}
	bad := filepath.Join(dir, "broken.dcm")
	if err := os.WriteFile(bad, []byte("not a dicom file"), 0644); err != nil {
		t.Fatal(err)
	}

	_, err := Load(dir, Options{Workers: 2})
	var readErr *segerr.UnreadableReferenceError
	if !errors.As(err, &readErr) {
		t.Fatalf("Expected UnreadableReferenceError, got %v", err)
	}
	if readErr.Path != bad {
		t.Errorf("Expected path %s, got %s", bad, readErr.Path)
	}
	if !errors.Is(err, segerr.ErrUnreadableReference) {
		t.Errorf("Expected error to match ErrUnreadableReference")
	}
}

func TestLoadEmptyDirectory(t *testing.T) {
	if _, err := Load(t.TempDir(), Options{}); err == nil {
		t.Error("Expected an error for a directory without slices")
	}
}
