package transcode

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/suyashkumar/dicom/pkg/tag"

	"segwriter/internal/models"
	"segwriter/pkg/labels"
	"segwriter/pkg/seg"
	"segwriter/pkg/segerr"
	"segwriter/pkg/series"
	"segwriter/pkg/series/seriestest"
)

// writeSegmentation encodes a small binary segmentation over a generated series and
// returns the path of the uncompressed file.
func writeSegmentation(t *testing.T, dir string, n int) string {
	t.Helper()
	refDir := filepath.Join(dir, "ref")
	if _, err := seriestest.Write(refDir, seriestest.Axial(n, 8, 8)); err != nil {
		t.Fatalf("Failed to write series: %v", err)
	}
	s, err := series.Load(refDir, series.Options{Workers: 2})
	if err != nil {
		t.Fatalf("Failed to load series: %v", err)
	}

	vol := models.NewVolume(n, 8, 8)
	for i := range vol.Data {
		if i%3 == 0 {
			vol.Data[i] = 1
		}
	}
	records, err := labels.Compile([]uint16{1}, labels.Mapping{{Label: 1, Name: "liver"}}, labels.DefaultCompileOptions())
	if err != nil {
		t.Fatalf("Failed to compile labels: %v", err)
	}
	ds, err := seg.Encode(vol, s, records, seg.Options{})
	if err != nil {
		t.Fatalf("Failed to encode: %v", err)
	}
	path := filepath.Join(dir, "seg_temp.dcm")
	if err := seg.WriteFile(path, ds); err != nil {
		t.Fatalf("Failed to write: %v", err)
	}
	return path
}

func TestDeflateRoundTrip(t *testing.T) {
	dir := t.TempDir()
	src := writeSegmentation(t, dir, 6)
	dst := filepath.Join(dir, "seg.dcm")

	if err := Deflate(src, dst); err != nil {
		t.Fatalf("Deflate failed: %v", err)
	}

	v, err := ReadBack(dst)
	if err != nil {
		t.Fatalf("ReadBack failed: %v", err)
	}
	if !v.OK {
		t.Fatalf("Expected a successful verification, got %+v", v)
	}
	if v.TransferSyntax != DeflatedExplicitVRLittleEndian {
		t.Errorf("Expected deflated transfer syntax, got %s", v.TransferSyntax)
	}
	if v.SeriesNumber != 7 {
		t.Errorf("Expected series number 7, got %d", v.SeriesNumber)
	}
	if v.Frames != 6 {
		t.Errorf("Expected 6 frames, got %d", v.Frames)
	}
	if v.SOPClassUID != seg.SegmentationStorage {
		t.Errorf("Expected segmentation SOP class, got %s", v.SOPClassUID)
	}

	srcInfo, _ := os.Stat(src)
	if v.Size >= srcInfo.Size() {
		t.Errorf("Expected deflated file (%d bytes) to be smaller than %d bytes", v.Size, srcInfo.Size())
	}

	// the intermediate file is still readable as is
	plain, err := ReadBack(src)
	if err != nil || plain.TransferSyntax != ExplicitVRLittleEndian || plain.Frames != 6 {
		t.Errorf("Unexpected read-back of the intermediate: %+v, %v", plain, err)
	}
}

func TestRewriteMeta(t *testing.T) {
	raw, err := os.ReadFile(writeSegmentation(t, t.TempDir(), 2))
	if err != nil {
		t.Fatal(err)
	}
	off, err := bodyOffset(raw)
	if err != nil {
		t.Fatalf("Failed to find the dataset: %v", err)
	}

	header, err := rewriteMeta(raw, off, DeflatedExplicitVRLittleEndian)
	if err != nil {
		t.Fatalf("rewriteMeta failed: %v", err)
	}
	end, err := bodyOffset(header)
	if err != nil || end != len(header) {
		t.Fatalf("Expected group length to cover %d bytes, got %d (%v)", len(header), end, err)
	}
	ts, err := transferSyntax(header, end)
	if err != nil || ts != DeflatedExplicitVRLittleEndian {
		t.Errorf("Expected deflated transfer syntax, got %q (%v)", ts, err)
	}

	// other meta elements survive the rewrite
	if _, err := findMeta(header, end, tag.MediaStorageSOPInstanceUID.Element); err != nil {
		t.Errorf("Expected MediaStorageSOPInstanceUID after rewrite: %v", err)
	}

	back, err := rewriteMeta(header, end, ExplicitVRLittleEndian)
	if err != nil {
		t.Fatalf("rewriteMeta failed: %v", err)
	}
	if !bytes.Equal(back, raw[:off]) {
		t.Errorf("Expected the explicit header to be restored byte for byte")
	}
}

func TestDeflateLeavesNoTemporaryFiles(t *testing.T) {
	dir := t.TempDir()
	src := writeSegmentation(t, dir, 2)
	out := filepath.Join(dir, "out")
	if err := os.Mkdir(out, 0755); err != nil {
		t.Fatal(err)
	}
	if err := Deflate(src, filepath.Join(out, "seg.dcm")); err != nil {
		t.Fatalf("Deflate failed: %v", err)
	}

	entries, err := os.ReadDir(out)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != "seg.dcm" {
		t.Errorf("Expected only seg.dcm in the output directory, got %v", entries)
	}
}

func TestReadBackFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.dcm")
	if err := os.WriteFile(path, make([]byte, 200), 0644); err != nil {
		t.Fatal(err)
	}

	v, err := ReadBack(path)
	if !errors.Is(err, segerr.ErrVerification) {
		t.Fatalf("Expected ErrVerification, got %v", err)
	}
	if v.OK || v.Err == nil {
		t.Errorf("Expected a failed verification, got %+v", v)
	}
}

func TestDeflateRejectsMissingInput(t *testing.T) {
	dir := t.TempDir()
	if err := Deflate(filepath.Join(dir, "missing.dcm"), filepath.Join(dir, "out.dcm")); err == nil {
		t.Error("Expected an error for a missing input file")
	}
}
