package conversion

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"segwriter/internal/models"
	"segwriter/pkg/config"
	"segwriter/pkg/labels"
	"segwriter/pkg/logging"
	"segwriter/pkg/nifti"
	"segwriter/pkg/segerr"
	"segwriter/pkg/series/seriestest"
	"segwriter/pkg/transcode"
)

var liverSpleen = labels.Mapping{{Label: 1, Name: "liver"}, {Label: 2, Name: "spleen"}}

func writeSeries(t *testing.T, n, rows, cols int) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "series")
	_, err := seriestest.Write(dir, seriestest.Axial(n, rows, cols))
	require.NoError(t, err)
	return dir
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Processing.Workers = 2
	return cfg
}

// rowsFirstVolume returns a (rows, n, cols) volume with label 1 in every
// slice and label 2 in the first one.
func rowsFirstVolume(n, rows, cols int) *models.Volume {
	vol := models.NewVolume(rows, n, cols)
	for s := 0; s < n; s++ {
		vol.Set(0, s, 0, 1)
	}
	vol.Set(rows-1, 0, cols-1, 2)
	return vol
}

func TestFromArray(t *testing.T) {
	seriesDir := writeSeries(t, 4, 6, 8)
	out := t.TempDir()

	res, err := FromArray(rowsFirstVolume(4, 6, 8), seriesDir, out, liverSpleen, testConfig(), logging.Nop())
	require.NoError(t, err)

	assert.Equal(t, filepath.Join(out, "SR7_segmentation.dcm"), res.OutputPath)
	assert.True(t, res.Plan.Moved)
	assert.Equal(t, 1, res.Plan.SliceAxis)
	assert.False(t, res.Plan.Rotated)
	require.Len(t, res.Records, 2)
	assert.Equal(t, "spleen", res.Records[1].Name)

	// binary frames: liver in all four slices, spleen in one
	assert.True(t, res.Verification.OK)
	assert.Equal(t, 5, res.Verification.Frames)
	assert.Equal(t, 7, res.Verification.SeriesNumber)
	assert.Equal(t, transcode.DeflatedExplicitVRLittleEndian, res.Verification.TransferSyntax)

	_, err = os.Stat(filepath.Join(out, "SR7_segmentation_temp.dcm"))
	assert.True(t, os.IsNotExist(err), "intermediate file should be removed")
}

func TestFromNIfTIFlipsReversedSlices(t *testing.T) {
	const n, rows, cols = 5, 4, 6
	seriesDir := writeSeries(t, n, rows, cols)

	// slices stored from the top of the series down
	vol := models.NewVolume(n, rows, cols)
	vol.Geometry = models.NewGeometry([3]float64{0, 0, 2.5 * (n - 1)},
		[3][3]float64{{0, 0, -2.5}, {0, 0.8, 0}, {0.8, 0, 0}})
	vol.Set(0, 1, 1, 1)
	path := filepath.Join(t.TempDir(), "labels.nii.gz")
	require.NoError(t, nifti.WriteFile(path, vol))

	// a label map keeps one frame per slice
	cfg := testConfig()
	cfg.Segmentation.Type = config.TypeLabelMap

	res, err := FromNIfTI(path, seriesDir, t.TempDir(), liverSpleen[:1], cfg, logging.Nop())
	require.NoError(t, err)
	assert.True(t, res.Plan.Derived)
	assert.True(t, res.Plan.Flipped)
	assert.False(t, res.Plan.Moved)
	assert.Equal(t, n, res.Verification.Frames)
}

func TestProcessBinaryWithMetadata(t *testing.T) {
	seriesDir := writeSeries(t, 4, 6, 8)
	out := t.TempDir()

	opts := labels.DefaultCompileOptions()
	meta := labels.GenerateMetadata([]uint16{1, 2}, map[uint16]string{1: "liver", 2: "spleen"}, "Organs", opts)
	metaPath := filepath.Join(t.TempDir(), "meta.json")
	require.NoError(t, labels.WriteMetadata(metaPath, meta))

	cfg := testConfig()

	res, err := NewWriter(&Params{
		Source:       labels.FromVolume(rowsFirstVolume(4, 6, 8)),
		SeriesDir:    seriesDir,
		MetadataFile: metaPath,
		OutputDir:    out,
		Config:       cfg,
		Logger:       logging.Nop(),
	}).Process()
	require.NoError(t, err)

	// liver in all four slices, spleen in one
	assert.Equal(t, 5, res.Verification.Frames)
	assert.Equal(t, "liver", res.Records[0].Name)
}

func TestProcessKeepsIntermediateAndPreview(t *testing.T) {
	seriesDir := writeSeries(t, 3, 6, 8)
	out := t.TempDir()

	cfg := testConfig()
	cfg.Processing.KeepIntermediate = true
	cfg.Output.SavePreview = true

	_, err := FromArray(rowsFirstVolume(3, 6, 8), seriesDir, out, liverSpleen, cfg, logging.Nop())
	require.NoError(t, err)

	_, err = os.Stat(filepath.Join(out, "SR7_segmentation_temp.dcm"))
	assert.NoError(t, err)

	entries, err := os.ReadDir(filepath.Join(out, "preview"))
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}

func TestProcessErrors(t *testing.T) {
	seriesDir := writeSeries(t, 4, 6, 8)

	t.Run("unmapped label", func(t *testing.T) {
		out := t.TempDir()
		_, err := FromArray(rowsFirstVolume(4, 6, 8), seriesDir, out, liverSpleen[:1], testConfig(), logging.Nop())
		assert.ErrorIs(t, err, segerr.ErrUnmappedLabel)

		entries, _ := os.ReadDir(out)
		assert.Empty(t, entries)
	})

	t.Run("empty volume", func(t *testing.T) {
		_, err := FromArray(models.NewVolume(4, 6, 8), seriesDir, t.TempDir(), liverSpleen, testConfig(), logging.Nop())
		assert.ErrorIs(t, err, segerr.ErrEmptySegmentation)
	})

	t.Run("overlap", func(t *testing.T) {
		vol := models.NewVolume(4, 6, 8)
		vol.Components = 2
		vol.Data = make([]uint16, 2*4*6*8)
		vol.Data[0] = 1
		_, err := FromArray(vol, seriesDir, t.TempDir(), liverSpleen, testConfig(), logging.Nop())
		assert.ErrorIs(t, err, segerr.ErrOverlap)
	})

	t.Run("incompatible shape", func(t *testing.T) {
		vol := models.NewVolume(5, 5, 5)
		vol.Set(0, 0, 0, 1)
		_, err := FromArray(vol, seriesDir, t.TempDir(), liverSpleen, testConfig(), logging.Nop())
		assert.ErrorIs(t, err, segerr.ErrIncompatibleShape)

		cfg := testConfig()
		cfg.Processing.FastPath = true
		_, err = FromArray(vol, seriesDir, t.TempDir(), liverSpleen, cfg, logging.Nop())
		assert.ErrorIs(t, err, segerr.ErrIncompatibleShape)
	})

	t.Run("unreadable reference", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.dcm"), []byte("not dicom"), 0644))
		_, err := FromArray(rowsFirstVolume(4, 6, 8), dir, t.TempDir(), liverSpleen, testConfig(), logging.Nop())
		assert.ErrorIs(t, err, segerr.ErrUnreadableReference)
	})
}

func TestFastPath(t *testing.T) {
	seriesDir := writeSeries(t, 4, 6, 8)
	cfg := testConfig()
	cfg.Processing.FastPath = true

	res, err := FromArray(rowsFirstVolume(4, 6, 8), seriesDir, t.TempDir(), liverSpleen, cfg, logging.Nop())
	require.NoError(t, err)
	assert.Equal(t, 5, res.Verification.Frames)
}

func TestCompileOptions(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Segmentation.AlgorithmName = "nnU-Net"
	cfg.Segmentation.PropertyType = models.Code{Value: "10200004", Scheme: "SCT", Meaning: "Liver"}

	opts := CompileOptions(cfg)
	assert.Equal(t, "nnU-Net", opts.AlgorithmName)
	assert.Equal(t, "Liver", opts.Type.Meaning)
	assert.Equal(t, "Tissue", opts.Category.Meaning)
}
