// Package series loads the reference image series a segmentation is aligned
// to. Only the headers are read.
package series

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
	"golang.org/x/sync/errgroup"

	"segwriter/internal/models"
	"segwriter/pkg/logging"
	"segwriter/pkg/segerr"
)

// Extension is the file extension of the slice files read from a series
// directory.
const Extension = ".dcm"

// Options configures Load
type Options struct {
	// Workers bounds the number of files parsed at once
	Workers int

	Logger *slog.Logger
}

// Files returns the slice files of dir sorted by name.
func Files(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read series directory: %w", err)
	}

	var files []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), Extension) {
			continue
		}
		files = append(files, filepath.Join(dir, entry.Name()))
	}
	sort.Strings(files)
	return files, nil
}

// Load reads every slice file of dir and returns the series in acquisition
// order. Headers are parsed in parallel; slice i of the unsorted result is
// file i of Files(dir).
func Load(dir string, opts Options) (*models.Series, error) {
	log := logging.OrNop(opts.Logger)
	files, err := Files(dir)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no %s files found in %s", Extension, dir)
	}

	slices, err := readAll(files, opts.Workers)
	if err != nil {
		return nil, err
	}
	log.Info("reference series loaded", "dir", dir, "slices", len(slices))

	s, err := FromSlices(slices)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func readAll(files []string, workers int) ([]models.ReferenceSlice, error) {
	if workers < 1 {
		workers = 1
	}
	slices := make([]models.ReferenceSlice, len(files))

	var g errgroup.Group
	g.SetLimit(workers)
	for i, path := range files {
		g.Go(func() error {
			sl, err := ReadSlice(path)
			if err != nil {
				return err
			}
			sl.FileIndex = i
			slices[i] = sl
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return slices, nil
}

// ReadSlice parses the header of one slice file.
func ReadSlice(path string) (models.ReferenceSlice, error) {
	ds, err := dicom.ParseFile(path, nil, dicom.SkipPixelData())
	if err != nil {
		return models.ReferenceSlice{}, &segerr.UnreadableReferenceError{Path: path, Err: err}
	}
	sl, err := FromDataset(ds)
	if err != nil {
		return models.ReferenceSlice{}, &segerr.UnreadableReferenceError{Path: path, Err: err}
	}
	sl.Path = path
	return sl, nil
}

// FromDataset extracts the slice description from a parsed header. The
// NumberOfFrames attribute is removed from the stored header so the image
// is treated as single-frame source material.
func FromDataset(ds dicom.Dataset) (models.ReferenceSlice, error) {
	var sl models.ReferenceSlice
	var ok bool

	if sl.Rows, ok = intValue(ds, tag.Rows); !ok {
		return sl, fmt.Errorf("missing Rows")
	}
	if sl.Columns, ok = intValue(ds, tag.Columns); !ok {
		return sl, fmt.Errorf("missing Columns")
	}
	if pos, ok := floatValues(ds, tag.ImagePositionPatient); ok && len(pos) == 3 {
		copy(sl.Position[:], pos)
	}
	if iop, ok := floatValues(ds, tag.ImageOrientationPatient); ok && len(iop) == 6 {
		copy(sl.Orientation[:], iop)
		sl.HasOrientation = true
	}
	if ps, ok := floatValues(ds, tag.PixelSpacing); ok && len(ps) == 2 {
		copy(sl.PixelSpacing[:], ps)
	}
	if th, ok := floatValues(ds, tag.SliceThickness); ok && len(th) > 0 {
		sl.SliceThickness = th[0]
	}
	sl.InstanceNumber, _ = intValue(ds, tag.InstanceNumber)
	sl.SOPClassUID, _ = StringValue(ds, tag.SOPClassUID)
	sl.SOPInstanceUID, _ = StringValue(ds, tag.SOPInstanceUID)
	sl.Header = strip(ds, tag.NumberOfFrames)
	return sl, nil
}

// FromSlices builds a validated series from slice descriptions, taking the
// series identifiers from the first slice and ordering the slices by
// acquisition.
func FromSlices(slices []models.ReferenceSlice) (*models.Series, error) {
	s := &models.Series{Slices: slices}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	s = s.Ordered()

	hdr := s.Slices[0].Header
	s.SeriesNumber, _ = intValue(hdr, tag.SeriesNumber)
	s.SeriesInstanceUID, _ = StringValue(hdr, tag.SeriesInstanceUID)
	s.StudyInstanceUID, _ = StringValue(hdr, tag.StudyInstanceUID)
	s.FrameOfReferenceUID, _ = StringValue(hdr, tag.FrameOfReferenceUID)
	return s, nil
}

func strip(ds dicom.Dataset, t tag.Tag) dicom.Dataset {
	out := dicom.Dataset{Elements: make([]*dicom.Element, 0, len(ds.Elements))}
	for _, elem := range ds.Elements {
		if elem.Tag == t {
			continue
		}
		out.Elements = append(out.Elements, elem)
	}
	return out
}

// StringValue returns the first string value of an element.
func StringValue(ds dicom.Dataset, t tag.Tag) (string, bool) {
	elem, err := ds.FindElementByTag(t)
	if err != nil {
		return "", false
	}
	values, ok := elem.Value.GetValue().([]string)
	if !ok || len(values) == 0 {
		return "", false
	}
	return strings.TrimSpace(strings.TrimRight(values[0], "\x00")), true
}

// intValue reads binary integers (US, UL, SS) as well as IS strings.
func intValue(ds dicom.Dataset, t tag.Tag) (int, bool) {
	elem, err := ds.FindElementByTag(t)
	if err != nil {
		return 0, false
	}
	switch v := elem.Value.GetValue().(type) {
	case []int:
		if len(v) > 0 {
			return v[0], true
		}
	case []string:
		if len(v) > 0 {
			n, err := strconv.Atoi(strings.TrimSpace(v[0]))
			return n, err == nil
		}
	}
	return 0, false
}

// floatValues reads DS strings as well as binary floats.
func floatValues(ds dicom.Dataset, t tag.Tag) ([]float64, bool) {
	elem, err := ds.FindElementByTag(t)
	if err != nil {
		return nil, false
	}
	switch v := elem.Value.GetValue().(type) {
	case []float64:
		return v, true
	case []string:
		out := make([]float64, 0, len(v))
		for _, s := range v {
			f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
			if err != nil {
				return nil, false
			}
			out = append(out, f)
		}
		return out, true
	}
	return nil, false
}
