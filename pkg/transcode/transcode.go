// Package transcode recompresses DICOM files with the Deflated Explicit VR
// Little Endian transfer syntax and reads them back for verification.
package transcode

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/klauspost/compress/flate"
	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"

	"segwriter/pkg/segerr"
	"segwriter/pkg/series"
)

// Transfer syntaxes handled by the package
const (
	ExplicitVRLittleEndian         = "1.2.840.10008.1.2.1"
	DeflatedExplicitVRLittleEndian = "1.2.840.10008.1.2.1.99"
)

const (
	preambleLen = 128
	// preamble, "DICM" and the (0002,0000) UL element
	groupLengthEnd = preambleLen + 4 + 12
)

// Verification is the outcome of reading a written file back
type Verification struct {
	OK             bool
	Path           string
	Size           int64
	TransferSyntax string
	SOPClassUID    string
	SeriesNumber   int
	Frames         int

	// Err is the read-back failure when OK is false
	Err error
}

// bodyOffset returns the offset of the first dataset byte after the file
// meta information group.
func bodyOffset(raw []byte) (int, error) {
	if len(raw) < groupLengthEnd || string(raw[preambleLen:preambleLen+4]) != "DICM" {
		return 0, fmt.Errorf("missing DICOM preamble")
	}
	group := binary.LittleEndian.Uint16(raw[132:])
	element := binary.LittleEndian.Uint16(raw[134:])
	if group != 0x0002 || element != 0x0000 {
		return 0, fmt.Errorf("file meta information does not start with its group length")
	}
	off := groupLengthEnd + int(binary.LittleEndian.Uint32(raw[140:]))
	if off > len(raw) {
		return 0, fmt.Errorf("file meta information group length %d exceeds file size", off)
	}
	return off, nil
}

// long-form VRs carry two reserved bytes and a 32-bit length
var longVRs = map[string]bool{
	"OB": true, "OD": true, "OF": true, "OL": true, "OV": true, "OW": true,
	"SQ": true, "SV": true, "UC": true, "UN": true, "UR": true, "UT": true, "UV": true,
}

// metaElement locates one element of the file meta information group
type metaElement struct {
	Start      int
	ValueStart int
	End        int
}

// findMeta walks the explicit little endian meta group of raw, which ends at
// off, and returns the element with the given element number.
func findMeta(raw []byte, off int, element uint16) (metaElement, error) {
	pos := groupLengthEnd
	for pos < off {
		if pos+8 > off {
			return metaElement{}, fmt.Errorf("truncated file meta element at offset %d", pos)
		}
		group := binary.LittleEndian.Uint16(raw[pos:])
		if group != 0x0002 {
			return metaElement{}, fmt.Errorf("unexpected group %04x in file meta information", group)
		}
		e := metaElement{Start: pos}
		var length int
		if longVRs[string(raw[pos+4:pos+6])] {
			if pos+12 > off {
				return metaElement{}, fmt.Errorf("truncated file meta element at offset %d", pos)
			}
			length = int(binary.LittleEndian.Uint32(raw[pos+8:]))
			e.ValueStart = pos + 12
		} else {
			length = int(binary.LittleEndian.Uint16(raw[pos+6:]))
			e.ValueStart = pos + 8
		}
		e.End = e.ValueStart + length
		if e.End > off {
			return metaElement{}, fmt.Errorf("file meta element at offset %d overruns the group", pos)
		}
		if binary.LittleEndian.Uint16(raw[pos+2:]) == element {
			return e, nil
		}
		pos = e.End
	}
	return metaElement{}, fmt.Errorf("element (0002,%04x) not found in file meta information", element)
}

// transferSyntax returns the TransferSyntaxUID of a file whose meta group
// ends at off.
func transferSyntax(raw []byte, off int) (string, error) {
	e, err := findMeta(raw, off, tag.TransferSyntaxUID.Element)
	if err != nil {
		return "", err
	}
	return strings.TrimRight(string(raw[e.ValueStart:e.End]), "\x00 "), nil
}

// rewriteMeta returns the preamble and meta group of raw with the transfer
// syntax replaced by ts and the group length adjusted.
func rewriteMeta(raw []byte, off int, ts string) ([]byte, error) {
	e, err := findMeta(raw, off, tag.TransferSyntaxUID.Element)
	if err != nil {
		return nil, err
	}
	value := []byte(ts)
	if len(value)%2 != 0 {
		value = append(value, 0)
	}

	elem := make([]byte, 8, 8+len(value))
	binary.LittleEndian.PutUint16(elem[0:], tag.TransferSyntaxUID.Group)
	binary.LittleEndian.PutUint16(elem[2:], tag.TransferSyntaxUID.Element)
	copy(elem[4:], "UI")
	binary.LittleEndian.PutUint16(elem[6:], uint16(len(value)))
	elem = append(elem, value...)

	out := make([]byte, 0, off+len(elem)-(e.End-e.Start))
	out = append(out, raw[:e.Start]...)
	out = append(out, elem...)
	out = append(out, raw[e.End:off]...)
	binary.LittleEndian.PutUint32(out[140:], uint32(len(out)-groupLengthEnd))
	return out, nil
}

// Deflate rewrites the Explicit VR Little Endian file src as a deflated file
// at dst. The output is written to a temporary file next to dst and renamed
// into place, so dst is either complete or untouched.
func Deflate(src, dst string) error {
	raw, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", src, err)
	}
	off, err := bodyOffset(raw)
	if err != nil {
		return err
	}
	ts, err := transferSyntax(raw, off)
	if err != nil {
		return err
	}
	if ts != ExplicitVRLittleEndian {
		return fmt.Errorf("cannot deflate transfer syntax %q", ts)
	}
	header, err := rewriteMeta(raw, off, DeflatedExplicitVRLittleEndian)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".deflate-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	if _, err := tmp.Write(header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	fw, err := flate.NewWriter(tmp, flate.BestCompression)
	if err != nil {
		return err
	}
	if _, err := fw.Write(raw[off:]); err != nil {
		return fmt.Errorf("failed to deflate dataset: %w", err)
	}
	if err := fw.Close(); err != nil {
		return fmt.Errorf("failed to deflate dataset: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temporary file: %w", err)
	}
	if err := os.Rename(tmp.Name(), dst); err != nil {
		return fmt.Errorf("failed to move output into place: %w", err)
	}
	committed = true
	return nil
}

// ReadBack parses the file at path without its pixel data, inflating the
// dataset when the file is deflated. A failure is reported both in the
// returned Verification and as an error matching segerr.ErrVerification.
func ReadBack(path string) (Verification, error) {
	v := Verification{Path: path}
	fail := func(err error) (Verification, error) {
		v.Err = err
		return v, fmt.Errorf("%w: %s: %v", segerr.ErrVerification, path, err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return fail(err)
	}
	v.Size = int64(len(raw))

	off, err := bodyOffset(raw)
	if err != nil {
		return fail(err)
	}
	if v.TransferSyntax, err = transferSyntax(raw, off); err != nil {
		return fail(err)
	}

	header, body := raw[:off], raw[off:]
	if v.TransferSyntax == DeflatedExplicitVRLittleEndian {
		if body, err = io.ReadAll(flate.NewReader(bytes.NewReader(body))); err != nil {
			return fail(fmt.Errorf("failed to inflate dataset: %w", err))
		}
		if header, err = rewriteMeta(raw, off, ExplicitVRLittleEndian); err != nil {
			return fail(err)
		}
	}

	full := append(append(make([]byte, 0, len(header)+len(body)), header...), body...)
	ds, err := dicom.Parse(bytes.NewReader(full), int64(len(full)), nil, dicom.SkipPixelData())
	if err != nil {
		return fail(fmt.Errorf("failed to parse dataset: %w", err))
	}

	v.SOPClassUID, _ = series.StringValue(ds, tag.SOPClassUID)
	if s, ok := series.StringValue(ds, tag.SeriesNumber); ok {
		if v.SeriesNumber, err = strconv.Atoi(s); err != nil {
			return fail(fmt.Errorf("invalid SeriesNumber %q", s))
		}
	}
	frames, ok := series.StringValue(ds, tag.NumberOfFrames)
	if !ok {
		return fail(fmt.Errorf("missing NumberOfFrames"))
	}
	if v.Frames, err = strconv.Atoi(frames); err != nil {
		return fail(fmt.Errorf("invalid NumberOfFrames %q", frames))
	}
	v.OK = true
	return v, nil
}
