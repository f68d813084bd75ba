// Package nifti reads and writes NIfTI-1 label volumes.
//
// A decoded volume has shape (nz, ny, nx) with x varying fastest, the same
// order the voxels have on disk. Its geometry is expressed in patient LPS
// coordinates so it can be compared directly with DICOM positions.
package nifti

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"

	"segwriter/internal/models"
)

// ReadFile decodes a .nii, .nii.gz or .hdr/.img volume.
func ReadFile(path string) (*models.Volume, error) {
	raw, err := readMaybeGzip(path)
	if err != nil {
		return nil, err
	}

	if strings.EqualFold(filepath.Ext(path), ".hdr") {
		h, order, err := parseHeader(raw)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		img, err := readMaybeGzip(strings.TrimSuffix(path, filepath.Ext(path)) + ".img")
		if err != nil {
			return nil, err
		}
		vol, err := decodeBody(h, order, img, int(h.VoxOffset))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		return vol, nil
	}

	vol, err := decode(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return vol, nil
}

// Decode reads a single-file NIfTI-1 volume, gzip-compressed or not.
func Decode(r io.Reader) (*models.Volume, error) {
	br := bufio.NewReader(r)
	var src io.Reader = br
	if magic, err := br.Peek(2); err == nil && magic[0] == 0x1f && magic[1] == 0x8b {
		zr, err := gzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("failed to open gzip stream: %v", err)
		}
		defer zr.Close()
		src = zr
	}
	raw, err := io.ReadAll(src)
	if err != nil {
		return nil, fmt.Errorf("failed to read volume: %v", err)
	}
	return decode(raw)
}

func readMaybeGzip(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	br := bufio.NewReader(f)
	if magic, err := br.Peek(2); err == nil && magic[0] == 0x1f && magic[1] == 0x8b {
		zr, err := gzip.NewReader(br)
		if err != nil {
			return nil, fmt.Errorf("%s: failed to open gzip stream: %v", path, err)
		}
		defer zr.Close()
		return io.ReadAll(zr)
	}
	return io.ReadAll(br)
}

func decode(raw []byte) (*models.Volume, error) {
	h, order, err := parseHeader(raw)
	if err != nil {
		return nil, err
	}
	if string(h.Magic[:3]) != "n+1" {
		return nil, fmt.Errorf("header-only NIfTI file: read the .hdr path instead")
	}
	offset := int(h.VoxOffset)
	if offset < headerSize {
		offset = 352
	}
	return decodeBody(h, order, raw, offset)
}

func decodeBody(h *header, order binary.ByteOrder, raw []byte, offset int) (*models.Volume, error) {
	ndim := int(h.Dim[0])
	if ndim < 1 || ndim > 7 {
		return nil, fmt.Errorf("invalid dim[0] %d", ndim)
	}
	dims := [8]int{}
	for i := 1; i <= 7; i++ {
		dims[i] = 1
		if i <= ndim && h.Dim[i] > 0 {
			dims[i] = int(h.Dim[i])
		}
	}
	if dims[4] > 1 {
		return nil, fmt.Errorf("4D volumes are not supported (dim[4]=%d)", dims[4])
	}
	if dims[6] > 1 || dims[7] > 1 {
		return nil, fmt.Errorf("volumes with more than five dimensions are not supported")
	}

	size, perVoxel, err := bytesPerValue(h.Datatype)
	if err != nil {
		return nil, err
	}
	components := perVoxel * dims[5]

	nx, ny, nz := dims[1], dims[2], dims[3]
	count := nx * ny * nz * components
	need := offset + count*size
	if offset < 0 || len(raw) < need {
		return nil, fmt.Errorf("voxel data truncated: need %d bytes, have %d", need, len(raw))
	}

	values, err := convert(raw[offset:need], h.Datatype, order, count, h.SclSlope, h.SclInter)
	if err != nil {
		return nil, err
	}

	return &models.Volume{
		Data:       values,
		Shape:      [3]int{nz, ny, nx},
		Components: components,
		Geometry:   h.geometry(),
	}, nil
}

// convert turns raw voxel values into labels. Negative values are treated as
// background; values that are not whole numbers or exceed 65535 are rejected.
func convert(raw []byte, datatype int16, order binary.ByteOrder, count int, slope, inter float32) ([]uint16, error) {
	out := make([]uint16, count)
	scaled := slope != 0 && !(slope == 1 && inter == 0)

	for i := 0; i < count; i++ {
		var v float64
		switch datatype {
		case dtUint8, dtRGB24:
			v = float64(raw[i])
		case dtInt8:
			v = float64(int8(raw[i]))
		case dtInt16:
			v = float64(int16(order.Uint16(raw[i*2:])))
		case dtUint16:
			v = float64(order.Uint16(raw[i*2:]))
		case dtInt32:
			v = float64(int32(order.Uint32(raw[i*4:])))
		case dtUint32:
			v = float64(order.Uint32(raw[i*4:]))
		case dtFloat32:
			v = float64(math.Float32frombits(order.Uint32(raw[i*4:])))
		case dtInt64:
			v = float64(int64(order.Uint64(raw[i*8:])))
		case dtUint64:
			v = float64(order.Uint64(raw[i*8:]))
		case dtFloat64:
			v = math.Float64frombits(order.Uint64(raw[i*8:]))
		}
		if scaled {
			v = v*float64(slope) + float64(inter)
		}
		if math.IsNaN(v) || v <= 0 {
			continue
		}
		if v != math.Trunc(v) {
			return nil, fmt.Errorf("voxel %d holds non-integer value %g; a label map is required", i, v)
		}
		if v > math.MaxUint16 {
			return nil, fmt.Errorf("voxel %d holds label %g, larger than %d", i, v, math.MaxUint16)
		}
		out[i] = uint16(v)
	}
	return out, nil
}

// WriteFile writes a single-component volume as an uncompressed .nii file,
// or gzip-compressed when the path ends in .gz.
func WriteFile(path string, vol *models.Volume) error {
	var buf bytes.Buffer
	if err := Encode(&buf, vol); err != nil {
		return err
	}
	data := buf.Bytes()
	if strings.HasSuffix(strings.ToLower(path), ".gz") {
		var zbuf bytes.Buffer
		zw := gzip.NewWriter(&zbuf)
		if _, err := zw.Write(data); err != nil {
			return fmt.Errorf("failed to compress volume: %v", err)
		}
		if err := zw.Close(); err != nil {
			return fmt.Errorf("failed to compress volume: %v", err)
		}
		data = zbuf.Bytes()
	}
	return os.WriteFile(path, data, 0644)
}

// Encode writes vol as a little-endian uint16 NIfTI-1 single file with an
// sform built from the volume geometry.
func Encode(w io.Writer, vol *models.Volume) error {
	if err := vol.Validate(); err != nil {
		return err
	}
	comps := vol.Components
	if comps <= 0 {
		comps = 1
	}

	h := header{
		SizeofHdr: headerSize,
		Regular:   'r',
		Datatype:  dtUint16,
		Bitpix:    16,
		VoxOffset: 352,
		SclSlope:  1,
		SformCode: 1,
		QformCode: 0,
	}
	h.Dim = [8]int16{3, int16(vol.Shape[2]), int16(vol.Shape[1]), int16(vol.Shape[0]), 1, 1, 1, 1}
	if comps > 1 {
		h.Dim[0] = 5
		h.Dim[5] = int16(comps)
		h.IntentCode = 1007 // vector
	}
	copy(h.Magic[:], "n+1\x00")

	geo := vol.Geometry
	if geo == nil {
		geo = models.NewGeometry([3]float64{}, [3][3]float64{{0, 0, 1}, {0, 1, 0}, {1, 0, 0}})
	}
	// array axis k holds NIfTI axis 2-k; LPS back to RAS negates x and y.
	rows := [3]*[4]float32{&h.SrowX, &h.SrowY, &h.SrowZ}
	sign := [3]float64{-1, -1, 1}
	for i := 0; i < 3; i++ {
		for k := 0; k < 3; k++ {
			rows[i][2-k] = float32(sign[i] * geo.Direction(k)[i])
		}
		rows[i][3] = float32(sign[i] * geo.Point(0, 0, 0)[i])
	}
	h.Pixdim = [8]float32{1, 1, 1, 1, 1, 1, 1, 1}
	for k := 0; k < 3; k++ {
		d := geo.Direction(k)
		h.Pixdim[3-k] = float32(math.Sqrt(d[0]*d[0] + d[1]*d[1] + d[2]*d[2]))
	}

	if err := binary.Write(w, binary.LittleEndian, &h); err != nil {
		return fmt.Errorf("failed to write header: %v", err)
	}
	// 4-byte extension flag, no extensions
	if _, err := w.Write([]byte{0, 0, 0, 0}); err != nil {
		return fmt.Errorf("failed to write extension flag: %v", err)
	}
	if err := binary.Write(w, binary.LittleEndian, vol.Data); err != nil {
		return fmt.Errorf("failed to write voxel data: %v", err)
	}
	return nil
}
