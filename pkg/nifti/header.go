package nifti

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"segwriter/internal/models"
)

// headerSize is sizeof_hdr of a NIfTI-1 header.
const headerSize = 348

// NIfTI-1 datatype codes.
const (
	dtUint8   = 2
	dtInt16   = 4
	dtInt32   = 8
	dtFloat32 = 16
	dtFloat64 = 64
	dtRGB24   = 128
	dtInt8    = 256
	dtUint16  = 512
	dtUint32  = 768
	dtInt64   = 1024
	dtUint64  = 1280
)

// header mirrors the on-disk NIfTI-1 layout field by field.
type header struct {
	SizeofHdr     int32
	DataType      [10]byte
	DBName        [18]byte
	Extents       int32
	SessionError  int16
	Regular       byte
	DimInfo       byte
	Dim           [8]int16
	IntentP1      float32
	IntentP2      float32
	IntentP3      float32
	IntentCode    int16
	Datatype      int16
	Bitpix        int16
	SliceStart    int16
	Pixdim        [8]float32
	VoxOffset     float32
	SclSlope      float32
	SclInter      float32
	SliceEnd      int16
	SliceCode     byte
	XYZTUnits     byte
	CalMax        float32
	CalMin        float32
	SliceDuration float32
	Toffset       float32
	Glmax         int32
	Glmin         int32
	Descrip       [80]byte
	AuxFile       [24]byte
	QformCode     int16
	SformCode     int16
	QuaternB      float32
	QuaternC      float32
	QuaternD      float32
	QoffsetX      float32
	QoffsetY      float32
	QoffsetZ      float32
	SrowX         [4]float32
	SrowY         [4]float32
	SrowZ         [4]float32
	IntentName    [16]byte
	Magic         [4]byte
}

// parseHeader decodes the first 348 bytes and reports the byte order used.
func parseHeader(raw []byte) (*header, binary.ByteOrder, error) {
	if len(raw) < headerSize {
		return nil, nil, fmt.Errorf("file too short for a NIfTI-1 header: %d bytes", len(raw))
	}

	var order binary.ByteOrder
	switch {
	case binary.LittleEndian.Uint32(raw) == headerSize:
		order = binary.LittleEndian
	case binary.BigEndian.Uint32(raw) == headerSize:
		order = binary.BigEndian
	case binary.LittleEndian.Uint32(raw) == 540 || binary.BigEndian.Uint32(raw) == 540:
		return nil, nil, fmt.Errorf("NIfTI-2 files are not supported")
	default:
		return nil, nil, fmt.Errorf("not a NIfTI-1 file: bad sizeof_hdr")
	}

	h := &header{}
	if err := binary.Read(bytes.NewReader(raw[:headerSize]), order, h); err != nil {
		return nil, nil, fmt.Errorf("failed to decode header: %v", err)
	}

	magic := string(h.Magic[:3])
	if magic != "n+1" && magic != "ni1" {
		return nil, nil, fmt.Errorf("bad NIfTI magic %q", string(h.Magic[:]))
	}
	return h, order, nil
}

// bytesPerValue returns the storage size of one value of the datatype and the
// number of values per voxel it carries.
func bytesPerValue(datatype int16) (size, values int, err error) {
	switch datatype {
	case dtUint8, dtInt8:
		return 1, 1, nil
	case dtInt16, dtUint16:
		return 2, 1, nil
	case dtInt32, dtUint32, dtFloat32:
		return 4, 1, nil
	case dtInt64, dtUint64, dtFloat64:
		return 8, 1, nil
	case dtRGB24:
		return 1, 3, nil
	default:
		return 0, 0, fmt.Errorf("unsupported NIfTI datatype %d", datatype)
	}
}

// geometry builds the array-order patient (LPS) geometry of the image.
//
// The sform is used when present, then the qform, then the bare voxel
// spacing. Array axis 0 is NIfTI k, axis 2 is NIfTI i.
func (h *header) geometry() *models.Geometry {
	ras := h.rasAffine()

	// RAS to LPS flips the first two world axes.
	var lps mat.Dense
	lps.Mul(mat.NewDiagDense(4, []float64{-1, -1, 1, 1}), ras)

	var origin [3]float64
	var axes [3][3]float64
	for i := 0; i < 3; i++ {
		origin[i] = lps.At(i, 3)
		for k := 0; k < 3; k++ {
			axes[2-k][i] = lps.At(i, k)
		}
	}
	return models.NewGeometry(origin, axes)
}

// rasAffine returns the 4x4 voxel (i, j, k) to RAS+ world transform.
func (h *header) rasAffine() *mat.Dense {
	if h.SformCode > 0 {
		return mat.NewDense(4, 4, []float64{
			float64(h.SrowX[0]), float64(h.SrowX[1]), float64(h.SrowX[2]), float64(h.SrowX[3]),
			float64(h.SrowY[0]), float64(h.SrowY[1]), float64(h.SrowY[2]), float64(h.SrowY[3]),
			float64(h.SrowZ[0]), float64(h.SrowZ[1]), float64(h.SrowZ[2]), float64(h.SrowZ[3]),
			0, 0, 0, 1,
		})
	}

	dx, dy, dz := spacing(h.Pixdim[1]), spacing(h.Pixdim[2]), spacing(h.Pixdim[3])
	if h.QformCode <= 0 {
		return mat.NewDense(4, 4, []float64{
			dx, 0, 0, 0,
			0, dy, 0, 0,
			0, 0, dz, 0,
			0, 0, 0, 1,
		})
	}

	b, c, d := float64(h.QuaternB), float64(h.QuaternC), float64(h.QuaternD)
	a := 1 - (b*b + c*c + d*d)
	if a < 1e-7 {
		// 180 degree rotation: renormalise (b, c, d)
		n := math.Sqrt(b*b + c*c + d*d)
		b, c, d = b/n, c/n, d/n
		a = 0
	} else {
		a = math.Sqrt(a)
	}

	qfac := 1.0
	if h.Pixdim[0] < 0 {
		qfac = -1
	}

	rot := mat.NewDense(3, 3, []float64{
		a*a + b*b - c*c - d*d, 2*b*c - 2*a*d, 2*b*d + 2*a*c,
		2*b*c + 2*a*d, a*a + c*c - b*b - d*d, 2*c*d - 2*a*b,
		2*b*d - 2*a*c, 2*c*d + 2*a*b, a*a + d*d - c*c - b*b,
	})
	var scaled mat.Dense
	scaled.Mul(rot, mat.NewDiagDense(3, []float64{dx, dy, dz * qfac}))

	out := mat.NewDense(4, 4, nil)
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			out.Set(i, j, scaled.At(i, j))
		}
	}
	out.Set(0, 3, float64(h.QoffsetX))
	out.Set(1, 3, float64(h.QoffsetY))
	out.Set(2, 3, float64(h.QoffsetZ))
	out.Set(3, 3, 1)
	return out
}

func spacing(v float32) float64 {
	if v == 0 || math.IsNaN(float64(v)) {
		return 1
	}
	return math.Abs(float64(v))
}
