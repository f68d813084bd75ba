package visualization

import (
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"os"
	"path/filepath"

	"github.com/lucasb-eyer/go-colorful"

	"segwriter/internal/models"
)

// Viewer renders colour-coded previews of a label volume. Background voxels
// are black and every label takes the display colour of its record.
type Viewer struct {
	// volume is the label volume in (slices, rows, columns) order
	volume *models.Volume

	// colors maps a label to its display colour
	colors map[uint16]color.RGBA
}

// NewViewer creates a viewer for vol coloured by records. Labels without a
// record are drawn white.
func NewViewer(vol *models.Volume, records []models.LabelRecord) *Viewer {
	colors := make(map[uint16]color.RGBA, len(records))
	for _, rec := range records {
		colors[rec.Label] = RGBA(rec.Color)
	}
	return &Viewer{volume: vol, colors: colors}
}

// RGBA converts a display colour to an 8-bit sRGB colour.
func RGBA(c models.Color) color.RGBA {
	var cf colorful.Color
	switch c.Space {
	case models.CIELab:
		l := c.Values[0] / 65535
		a := (c.Values[1]*255/65535 - 128) / 100
		b := (c.Values[2]*255/65535 - 128) / 100
		cf = colorful.LabWhiteRef(l, a, b, colorful.D50).Clamped()
	default:
		cf = colorful.Color{R: c.Values[0] / 255, G: c.Values[1] / 255, B: c.Values[2] / 255}.Clamped()
	}
	r, g, b := cf.RGB255()
	return color.RGBA{R: r, G: g, B: b, A: 255}
}

func (v *Viewer) colorOf(label uint16) color.RGBA {
	if label == 0 {
		return color.RGBA{A: 255}
	}
	if c, ok := v.colors[label]; ok {
		return c
	}
	return color.RGBA{R: 255, G: 255, B: 255, A: 255}
}

// ExtractSlice extracts a 2D plane from the volume. Axis "z" cuts across the
// slice axis and gives a rows x columns image, "y" cuts across rows and "x"
// across columns.
func (v *Viewer) ExtractSlice(axis string, position int) (image.Image, error) {
	if position < 0 {
		return nil, fmt.Errorf("position must be non-negative")
	}

	slices, rows, cols := v.volume.Shape[0], v.volume.Shape[1], v.volume.Shape[2]
	var img *image.RGBA

	switch axis {
	case "x", "X":
		if position >= cols {
			return nil, fmt.Errorf("position %d exceeds columns %d", position, cols)
		}
		img = image.NewRGBA(image.Rect(0, 0, slices, rows))
		for r := 0; r < rows; r++ {
			for s := 0; s < slices; s++ {
				img.SetRGBA(s, r, v.colorOf(v.volume.At(s, r, position)))
			}
		}

	case "y", "Y":
		if position >= rows {
			return nil, fmt.Errorf("position %d exceeds rows %d", position, rows)
		}
		img = image.NewRGBA(image.Rect(0, 0, cols, slices))
		for s := 0; s < slices; s++ {
			for c := 0; c < cols; c++ {
				img.SetRGBA(c, s, v.colorOf(v.volume.At(s, position, c)))
			}
		}

	case "z", "Z":
		if position >= slices {
			return nil, fmt.Errorf("position %d exceeds slices %d", position, slices)
		}
		img = image.NewRGBA(image.Rect(0, 0, cols, rows))
		for r := 0; r < rows; r++ {
			for c := 0; c < cols; c++ {
				img.SetRGBA(c, r, v.colorOf(v.volume.At(position, r, c)))
			}
		}

	default:
		return nil, fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}

	return img, nil
}

// SaveSlice saves an extracted slice as a JPEG image
func (v *Viewer) SaveSlice(img image.Image, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	return jpeg.Encode(file, img, &jpeg.Options{Quality: 90})
}

// SaveSliceSequence extracts and saves every slice along the specified axis
// and returns the number of images written.
func (v *Viewer) SaveSliceSequence(axis string, outputDir string) (int, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return 0, err
	}

	var maxPos int
	switch axis {
	case "x", "X":
		maxPos = v.volume.Shape[2]
	case "y", "Y":
		maxPos = v.volume.Shape[1]
	case "z", "Z":
		maxPos = v.volume.Shape[0]
	default:
		return 0, fmt.Errorf("invalid axis: %s (must be x, y, or z)", axis)
	}

	for pos := 0; pos < maxPos; pos++ {
		img, err := v.ExtractSlice(axis, pos)
		if err != nil {
			return pos, err
		}

		filename := filepath.Join(outputDir, fmt.Sprintf("slice_%s_%03d.jpg", axis, pos))
		if err := v.SaveSlice(img, filename); err != nil {
			return pos, err
		}
	}

	return maxPos, nil
}
