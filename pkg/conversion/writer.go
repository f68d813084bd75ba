// Package conversion runs the complete label volume to DICOM Segmentation
// pipeline.
package conversion

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/dustin/go-humanize"

	"segwriter/internal/models"
	"segwriter/pkg/config"
	"segwriter/pkg/geometry"
	"segwriter/pkg/labels"
	"segwriter/pkg/logging"
	"segwriter/pkg/seg"
	"segwriter/pkg/segerr"
	"segwriter/pkg/series"
	"segwriter/pkg/transcode"
	"segwriter/pkg/visualization"
)

// Params holds the inputs of one conversion.
type Params struct {
	// Source is the label volume, as a NIfTI path or an in-memory volume
	Source labels.Source

	// SeriesDir is the directory holding the reference series files
	SeriesDir string

	// Labels describe the segments. Exactly one of MappingFile, Mapping and
	// MetadataFile is expected.
	MappingFile  string
	Mapping      labels.Mapping
	MetadataFile string

	// OutputDir receives SR<SeriesNumber>_segmentation.dcm
	OutputDir string

	// Config holds the processing options. DefaultConfig when nil.
	Config *config.Config

	Logger *slog.Logger
}

// Result describes a finished conversion.
type Result struct {
	// OutputPath is the deflated Segmentation file
	OutputPath string

	// Plan lists the axis corrections applied to the volume
	Plan geometry.Plan

	// Records are the encoded segments in segment-number order
	Records []models.LabelRecord

	// Verification is the read-back of OutputPath
	Verification transcode.Verification
}

// Writer converts one label volume.
//
// The conversion consists of these steps:
// 1. Loading the volume and checking it holds one class per voxel
// 2. Discovering the labels present
// 3. Loading the reference series headers
// 4. Reconciling the volume axes with the series
// 5. Compiling the segment descriptions
// 6. Encoding and writing the uncompressed Segmentation
// 7. Recompressing with the deflated transfer syntax
// 8. Reading the result back
type Writer struct {
	params *Params
	cfg    *config.Config
	log    *slog.Logger
}

// NewWriter creates a writer for params.
func NewWriter(params *Params) *Writer {
	cfg := params.Config
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	return &Writer{
		params: params,
		cfg:    cfg,
		log:    logging.OrNop(params.Logger),
	}
}

// OutputName returns the file name of the Segmentation written for a series.
func OutputName(seriesNumber int) string {
	return fmt.Sprintf("SR%d_segmentation.dcm", seriesNumber)
}

// intermediateName returns the file name of the uncompressed artifact.
func intermediateName(seriesNumber int) string {
	return fmt.Sprintf("SR%d_segmentation_temp.dcm", seriesNumber)
}

// Process runs the complete conversion pipeline
func (w *Writer) Process() (Result, error) {
	if err := os.MkdirAll(w.params.OutputDir, 0755); err != nil {
		return Result{}, fmt.Errorf("failed to create output directory: %w", err)
	}

	// Step 1: Load the volume
	w.log.Info("Step 1: Loading label volume...")
	src, err := w.params.Source.Decoded()
	if err != nil {
		return Result{}, fmt.Errorf("failed to load label volume: %w", err)
	}
	if err := labels.ValidateNoOverlap(src); err != nil {
		return Result{}, err
	}
	vol := src.Volume
	w.log.Info("label volume loaded", "shape", vol.Shape, "oriented", vol.Geometry != nil)

	// Step 2: Discover labels
	w.log.Info("Step 2: Discovering labels...")
	present, err := labels.Discover(src)
	if err != nil {
		return Result{}, err
	}
	w.log.Info("labels found", "labels", present)

	// Step 3: Load the reference series
	w.log.Info("Step 3: Loading reference series...")
	ref, err := series.Load(w.params.SeriesDir, series.Options{
		Workers: w.cfg.Processing.Workers,
		Logger:  w.log,
	})
	if err != nil {
		return Result{}, fmt.Errorf("failed to load reference series: %w", err)
	}

	// Step 4: Reconcile the axes
	w.log.Info("Step 4: Reconciling axes...")
	var plan geometry.Plan
	if w.cfg.Processing.FastPath {
		vol, err = geometry.EnsureShape(vol, ref)
	} else {
		var res geometry.Result
		res, err = geometry.Reconcile(vol, ref, geometry.Options{
			Strict: w.cfg.Processing.StrictAxis,
			Logger: w.log,
		})
		vol, plan = res.Volume, res.Plan
	}
	if err != nil {
		return Result{}, err
	}
	if err := geometry.CheckShape(vol, ref); err != nil {
		return Result{}, err
	}

	// Step 5: Compile segment descriptions
	w.log.Info("Step 5: Compiling segment descriptions...")
	records, err := w.compile(present)
	if err != nil {
		return Result{}, err
	}

	if w.cfg.Output.SavePreview {
		if err := w.savePreview(vol, records); err != nil {
			w.log.Warn("failed to save preview", "error", err)
		}
	}

	// Step 6: Encode and write the intermediate
	w.log.Info("Step 6: Encoding segmentation...", "type", w.segOptions().Type, "segments", len(records))
	ds, err := seg.Encode(vol, ref, records, w.segOptions())
	if err != nil {
		return Result{}, fmt.Errorf("failed to encode segmentation: %w", err)
	}

	intermediate := filepath.Join(w.params.OutputDir, intermediateName(ref.SeriesNumber))
	if !w.cfg.Processing.KeepIntermediate {
		defer os.Remove(intermediate)
	}
	if err := seg.WriteFile(intermediate, ds); err != nil {
		return Result{}, fmt.Errorf("failed to write segmentation: %w", err)
	}
	w.logSize("intermediate written", intermediate)

	// Step 7: Recompress
	w.log.Info("Step 7: Recompressing...")
	output := filepath.Join(w.params.OutputDir, OutputName(ref.SeriesNumber))
	if err := transcode.Deflate(intermediate, output); err != nil {
		return Result{}, fmt.Errorf("failed to recompress segmentation: %w", err)
	}
	w.logSize("segmentation written", output)

	// Step 8: Read back
	w.log.Info("Step 8: Verifying output...")
	result := Result{OutputPath: output, Plan: plan, Records: records}
	result.Verification, err = transcode.ReadBack(output)
	if err != nil {
		if w.cfg.Verify.Strict {
			return result, err
		}
		w.log.Warn("output could not be read back", "path", output, "error", err)
		return result, nil
	}
	w.log.Info("output verified",
		"seriesNumber", result.Verification.SeriesNumber, "frames", result.Verification.Frames)
	return result, nil
}

// compile builds the segment records from the metadata file when one is
// given, otherwise from the label mapping.
func (w *Writer) compile(present []uint16) ([]models.LabelRecord, error) {
	opts := CompileOptions(w.cfg)
	opts.Logger = w.log

	if w.params.MetadataFile != "" {
		meta, err := labels.ReadMetadata(w.params.MetadataFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read label metadata: %w", err)
		}
		return meta.Records(present, opts)
	}

	mapping := w.params.Mapping
	if w.params.MappingFile != "" {
		var err error
		if mapping, err = labels.ReadMapping(w.params.MappingFile); err != nil {
			return nil, fmt.Errorf("failed to read label mapping: %w", err)
		}
	}
	if len(mapping) == 0 {
		return nil, errors.New("no label mapping or metadata given")
	}
	return labels.Compile(present, mapping, opts)
}

func (w *Writer) segOptions() seg.Options {
	s := w.cfg.Segmentation
	return seg.Options{
		Type:                  s.Type,
		OmitEmptyFrames:       s.OmitEmptyFrames,
		SeriesDescription:     s.SeriesDescription,
		ContentLabel:          s.ContentLabel,
		ContentDescription:    s.SeriesDescription,
		ContentCreator:        s.ContentCreator,
		Manufacturer:          s.Manufacturer,
		ManufacturerModelName: s.ManufacturerModelName,
		SoftwareVersions:      s.SoftwareVersions,
		DeviceSerialNumber:    s.DeviceSerialNumber,
	}
}

func (w *Writer) savePreview(vol *models.Volume, records []models.LabelRecord) error {
	dir := w.cfg.Output.PreviewDir
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(w.params.OutputDir, dir)
	}
	n, err := visualization.NewViewer(vol, records).SaveSliceSequence("z", dir)
	if err != nil {
		return err
	}
	w.log.Info("preview saved", "dir", dir, "images", n)
	return nil
}

func (w *Writer) logSize(msg, path string) {
	info, err := os.Stat(path)
	if err != nil {
		return
	}
	w.log.Info(msg, "path", path, "size", humanize.Bytes(uint64(info.Size())))
}

// CompileOptions maps the segmentation section of cfg to compiler options.
func CompileOptions(cfg *config.Config) labels.CompileOptions {
	opts := labels.DefaultCompileOptions()
	s := cfg.Segmentation
	if s.PropertyCategory.Value != "" {
		opts.Category = s.PropertyCategory
	}
	if s.PropertyType.Value != "" {
		opts.Type = s.PropertyType
	}
	if s.AlgorithmName != "" {
		opts.AlgorithmName = s.AlgorithmName
	}
	if s.AlgorithmFamily.Value != "" {
		opts.AlgorithmFamily = s.AlgorithmFamily
	}
	return opts
}

// FromNIfTI converts the NIfTI label file at path.
func FromNIfTI(path, seriesDir, outputDir string, mapping labels.Mapping, cfg *config.Config, log *slog.Logger) (Result, error) {
	return NewWriter(&Params{
		Source:    labels.FromPath(path),
		SeriesDir: seriesDir,
		Mapping:   mapping,
		OutputDir: outputDir,
		Config:    cfg,
		Logger:    log,
	}).Process()
}

// FromArray converts an in-memory label volume. A volume without geometry
// is reconciled by axis lengths alone.
func FromArray(vol *models.Volume, seriesDir, outputDir string, mapping labels.Mapping, cfg *config.Config, log *slog.Logger) (Result, error) {
	if vol == nil {
		return Result{}, fmt.Errorf("%w: nil volume", segerr.ErrEmptySegmentation)
	}
	return NewWriter(&Params{
		Source:    labels.FromVolume(vol),
		SeriesDir: seriesDir,
		Mapping:   mapping,
		OutputDir: outputDir,
		Config:    cfg,
		Logger:    log,
	}).Process()
}
