package seg

import (
	"github.com/suyashkumar/dicom/pkg/frame"

	"segwriter/internal/models"
)

// binaryFrame is one (segment, slice) plane of a BINARY segmentation
type binaryFrame struct {
	Segment uint16
	Slice   int
}

// binaryFrames lists the frames of a BINARY segmentation, segments outer
// and slices inner. Empty planes are left out when omitEmpty is set.
func binaryFrames(vol *models.Volume, records []models.LabelRecord, omitEmpty bool) []binaryFrame {
	var frames []binaryFrame
	for _, rec := range records {
		for s := 0; s < vol.Shape[0]; s++ {
			if omitEmpty && !contains(vol.Slice(s), rec.Label) {
				continue
			}
			frames = append(frames, binaryFrame{Segment: rec.Label, Slice: s})
		}
	}
	return frames
}

func contains(plane []uint16, label uint16) bool {
	for _, v := range plane {
		if v == label {
			return true
		}
	}
	return false
}

// packBits encodes the frames as one continuous little-endian bit stream:
// pixel i of the stream is bit i%8 of byte i/8. Frames are not padded to
// byte boundaries; the total is padded to an even length.
func packBits(vol *models.Volume, frames []binaryFrame) []byte {
	plane := vol.Shape[1] * vol.Shape[2]
	total := plane * len(frames)
	n := (total + 7) / 8
	if n%2 == 1 {
		n++
	}
	out := make([]byte, n)

	bit := 0
	for _, f := range frames {
		for _, v := range vol.Slice(f.Slice) {
			if v == f.Segment {
				out[bit/8] |= 1 << (bit % 8)
			}
			bit++
		}
	}
	return out
}

// segmentNumbers maps every label of records to its segment number. Values
// without a record map to 0.
func segmentNumbers(records []models.LabelRecord) []uint16 {
	lut := make([]uint16, 1<<16)
	for i, rec := range records {
		lut[rec.Label] = uint16(i + 1)
	}
	return lut
}

// labelFrames returns one native frame per slice holding segment numbers,
// stored with the given bit width.
func labelFrames(vol *models.Volume, lut []uint16, bits int) []*frame.Frame {
	rows, cols := vol.Shape[1], vol.Shape[2]
	frames := make([]*frame.Frame, vol.Shape[0])
	for s := range frames {
		plane := vol.Slice(s)
		var native frame.INativeFrame
		if bits == 8 {
			f := frame.NewNativeFrame[uint8](8, rows, cols, rows*cols, 1)
			for i, v := range plane {
				f.RawData[i] = uint8(lut[v])
			}
			native = f
		} else {
			f := frame.NewNativeFrame[uint16](16, rows, cols, rows*cols, 1)
			for i, v := range plane {
				f.RawData[i] = lut[v]
			}
			native = f
		}
		frames[s] = &frame.Frame{Encapsulated: false, NativeData: native}
	}
	return frames
}

// labelBits is the smallest stored width holding every segment number.
func labelBits(segments int) int {
	if segments > 0xFF {
		return 16
	}
	return 8
}
