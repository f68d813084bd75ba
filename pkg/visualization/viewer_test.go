package visualization

import (
	"image"
	"os"
	"path/filepath"
	"testing"

	"segwriter/internal/models"
)

func testRecords() []models.LabelRecord {
	return []models.LabelRecord{
		{Label: 1, Name: "liver", Color: models.Color{Space: models.RGB, Values: [3]float64{255, 0, 0}}},
		{Label: 2, Name: "spleen", Color: models.Color{Space: models.RGB, Values: [3]float64{0, 0, 255}}},
	}
}

// TestNewViewer verifies that colours are taken from the records
func TestNewViewer(t *testing.T) {
	vol := models.NewVolume(2, 3, 4)
	viewer := NewViewer(vol, testRecords())

	if len(viewer.colors) != 2 {
		t.Errorf("Expected 2 colours, got %d", len(viewer.colors))
	}

	if c := viewer.colorOf(1); c.R != 255 || c.G != 0 || c.B != 0 {
		t.Errorf("Expected red for label 1, got %v", c)
	}

	if c := viewer.colorOf(0); c.R != 0 || c.G != 0 || c.B != 0 {
		t.Errorf("Expected black background, got %v", c)
	}

	if c := viewer.colorOf(9); c.R != 255 || c.G != 255 || c.B != 255 {
		t.Errorf("Expected white for an unknown label, got %v", c)
	}
}

// TestExtractSlice verifies plane dimensions and voxel colours
func TestExtractSlice(t *testing.T) {
	slices, rows, cols := 5, 3, 4
	vol := models.NewVolume(slices, rows, cols)
	vol.Set(2, 1, 3, 2)

	viewer := NewViewer(vol, testRecords())

	img, err := viewer.ExtractSlice("z", 2)
	if err != nil {
		t.Fatalf("Failed to extract Z slice: %v", err)
	}
	bounds := img.Bounds()
	if bounds.Dx() != cols || bounds.Dy() != rows {
		t.Errorf("Expected Z slice dimensions %dx%d, got %dx%d", cols, rows, bounds.Dx(), bounds.Dy())
	}
	rgba, ok := img.(*image.RGBA)
	if !ok {
		t.Fatalf("Expected *image.RGBA, got %T", img)
	}
	if c := rgba.RGBAAt(3, 1); c.B != 255 || c.R != 0 {
		t.Errorf("Expected blue at (3,1), got %v", c)
	}

	imgX, err := viewer.ExtractSlice("x", 3)
	if err != nil {
		t.Fatalf("Failed to extract X slice: %v", err)
	}
	if b := imgX.Bounds(); b.Dx() != slices || b.Dy() != rows {
		t.Errorf("Expected X slice dimensions %dx%d, got %dx%d", slices, rows, b.Dx(), b.Dy())
	}

	imgY, err := viewer.ExtractSlice("y", 1)
	if err != nil {
		t.Fatalf("Failed to extract Y slice: %v", err)
	}
	if b := imgY.Bounds(); b.Dx() != cols || b.Dy() != slices {
		t.Errorf("Expected Y slice dimensions %dx%d, got %dx%d", cols, slices, b.Dx(), b.Dy())
	}

	if _, err := viewer.ExtractSlice("invalid", 0); err == nil {
		t.Error("Expected error for invalid axis, got nil")
	}

	if _, err := viewer.ExtractSlice("z", slices); err == nil {
		t.Error("Expected error for out of bounds position, got nil")
	}
}

// TestRGBA verifies the CIELab round trip of a display colour
func TestRGBA(t *testing.T) {
	// DICOM CIELab for pure black
	c := RGBA(models.Color{Space: models.CIELab, Values: [3]float64{0, 32896, 32896}})
	if c.R > 1 || c.G > 1 || c.B > 1 {
		t.Errorf("Expected black, got %v", c)
	}

	c = RGBA(models.Color{Space: models.RGB, Values: [3]float64{31, 119, 180}})
	if c.R != 31 || c.G != 119 || c.B != 180 {
		t.Errorf("Expected (31,119,180), got %v", c)
	}
}

// TestSaveSliceSequence verifies one JPEG is written per slice
func TestSaveSliceSequence(t *testing.T) {
	vol := models.NewVolume(3, 4, 4)
	vol.Set(1, 2, 2, 1)
	viewer := NewViewer(vol, testRecords())

	dir := filepath.Join(t.TempDir(), "preview")
	n, err := viewer.SaveSliceSequence("z", dir)
	if err != nil {
		t.Fatalf("Failed to save slices: %v", err)
	}
	if n != 3 {
		t.Errorf("Expected 3 images, got %d", n)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 3 {
		t.Errorf("Expected 3 files, got %d", len(entries))
	}
	if _, err := os.Stat(filepath.Join(dir, "slice_z_001.jpg")); err != nil {
		t.Errorf("Expected slice_z_001.jpg: %v", err)
	}

	if _, err := viewer.SaveSliceSequence("w", dir); err == nil {
		t.Error("Expected error for invalid axis, got nil")
	}
}
