package seg

import (
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/frame"
	"github.com/suyashkumar/dicom/pkg/tag"

	"segwriter/internal/models"
	"segwriter/pkg/labels"
	"segwriter/pkg/segerr"
	"segwriter/pkg/series"
	"segwriter/pkg/series/seriestest"
)

type frameU8 = frame.NativeFrame[uint8]

func loadSeries(t *testing.T, n, rows, cols int) *models.Series {
	t.Helper()
	dir := t.TempDir()
	_, err := seriestest.Write(dir, seriestest.Axial(n, rows, cols))
	require.NoError(t, err)
	s, err := series.Load(dir, series.Options{Workers: 2})
	require.NoError(t, err)
	return s
}

func testRecords(t *testing.T, present []uint16) []models.LabelRecord {
	t.Helper()
	var mapping labels.Mapping
	for _, l := range present {
		mapping = append(mapping, labels.Entry{Label: l, Name: "organ " + string(rune('A'+len(mapping)))})
	}
	records, err := labels.Compile(present, mapping, labels.DefaultCompileOptions())
	require.NoError(t, err)
	return records
}

// twoLabelVolume holds label 1 on slice 0 and label 4 on slices 1 and 2.
func twoLabelVolume() *models.Volume {
	vol := models.NewVolume(3, 2, 4)
	vol.Set(0, 0, 1, 1)
	vol.Set(1, 1, 2, 4)
	vol.Set(2, 1, 3, 4)
	return vol
}

func findString(t *testing.T, ds dicom.Dataset, tg tag.Tag) string {
	t.Helper()
	elem, err := ds.FindElementByTag(tg)
	require.NoError(t, err, "missing %v", tg)
	values, ok := elem.Value.GetValue().([]string)
	require.True(t, ok)
	require.NotEmpty(t, values)
	return strings.TrimSpace(values[0])
}

func sequenceLen(t *testing.T, ds dicom.Dataset, tg tag.Tag) int {
	t.Helper()
	elem, err := ds.FindElementByTag(tg)
	require.NoError(t, err, "missing %v", tg)
	items, ok := elem.Value.GetValue().([]*dicom.SequenceItemValue)
	require.True(t, ok)
	return len(items)
}

func TestEncodeLabelMap(t *testing.T) {
	s := loadSeries(t, 3, 2, 4)
	records := testRecords(t, []uint16{1, 4})
	fixed := time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)

	ds, err := Encode(twoLabelVolume(), s, records, Options{
		Type:              TypeLabelMap,
		SeriesDescription: "AI segmentation",
		ContentLabel:      "SEGMENTATION",
		Now:               func() time.Time { return fixed },
	})
	require.NoError(t, err)

	assert.Equal(t, LabelMapSegmentationStorage, findString(t, ds, tag.SOPClassUID))
	assert.Equal(t, "LABELMAP", findString(t, ds, tag.SegmentationType))
	assert.Equal(t, "3", findString(t, ds, tag.NumberOfFrames))
	assert.Equal(t, "7", findString(t, ds, tag.SeriesNumber))
	assert.Equal(t, "SEG", findString(t, ds, tag.Modality))
	assert.Equal(t, "20240506", findString(t, ds, tag.ContentDate))
	assert.Equal(t, "Test^Patient", findString(t, ds, tag.PatientName))
	assert.Equal(t, s.StudyInstanceUID, findString(t, ds, tag.StudyInstanceUID))
	assert.NotEqual(t, s.SeriesInstanceUID, findString(t, ds, tag.SeriesInstanceUID))
	assert.True(t, strings.HasPrefix(findString(t, ds, tag.SOPInstanceUID), "2.25."))
	assert.Equal(t, 2, sequenceLen(t, ds, tag.SegmentSequence))
	assert.Equal(t, 3, sequenceLen(t, ds, tag.PerFrameFunctionalGroupsSequence))

	path := filepath.Join(t.TempDir(), "seg.dcm")
	require.NoError(t, WriteFile(path, ds))
	parsed, err := dicom.ParseFile(path, nil, dicom.SkipPixelData())
	require.NoError(t, err)
	assert.Equal(t, "3", findString(t, parsed, tag.NumberOfFrames))
	assert.Equal(t, 2, sequenceLen(t, parsed, tag.SegmentSequence))
}

func TestEncodeBinaryOmitsEmptyFrames(t *testing.T) {
	s := loadSeries(t, 3, 2, 4)
	records := testRecords(t, []uint16{1, 4})

	ds, err := Encode(twoLabelVolume(), s, records, Options{Type: TypeBinary, OmitEmptyFrames: true})
	require.NoError(t, err)
	assert.Equal(t, SegmentationStorage, findString(t, ds, tag.SOPClassUID))
	assert.Equal(t, "3", findString(t, ds, tag.NumberOfFrames))

	ds, err = Encode(twoLabelVolume(), s, records, Options{Type: TypeBinary})
	require.NoError(t, err)
	assert.Equal(t, "6", findString(t, ds, tag.NumberOfFrames))
}

func TestEncodeRejectsBadInput(t *testing.T) {
	s := loadSeries(t, 3, 2, 4)
	records := testRecords(t, []uint16{1})

	_, err := Encode(models.NewVolume(2, 2, 4), s, records, Options{})
	assert.ErrorIs(t, err, segerr.ErrIncompatibleShape)

	_, err = Encode(twoLabelVolume(), s, nil, Options{})
	assert.ErrorIs(t, err, segerr.ErrEmptySegmentation)

	_, err = Encode(twoLabelVolume(), s, records, Options{Type: "FRACTIONAL"})
	assert.Error(t, err)
}

func TestPackBits(t *testing.T) {
	vol := models.NewVolume(2, 1, 5)
	vol.Set(0, 0, 0, 2)
	vol.Set(0, 0, 4, 2)
	vol.Set(1, 0, 1, 2)

	frames := []binaryFrame{{Segment: 2, Slice: 0}, {Segment: 2, Slice: 1}}
	packed := packBits(vol, frames)

	// ten pixels: bits 0, 4 and 6 set, padded to an even byte count
	require.Len(t, packed, 2)
	assert.Equal(t, byte(0x51), packed[0])
	assert.Equal(t, byte(0x00), packed[1])
}

func TestLabelFramesUseSegmentNumbers(t *testing.T) {
	vol := twoLabelVolume()
	records := testRecords(t, []uint16{1, 4})
	frames := labelFrames(vol, segmentNumbers(records), labelBits(len(records)))
	require.Len(t, frames, 3)

	native, ok := frames[1].NativeData.(*frameU8)
	require.True(t, ok)
	// label 4 is the second segment
	assert.Equal(t, uint8(2), native.RawData[1*4+2])
	assert.Equal(t, uint8(0), native.RawData[0])
}

func TestNewUID(t *testing.T) {
	a, b := NewUID(), NewUID()
	assert.NotEqual(t, a, b)
	assert.True(t, strings.HasPrefix(a, "2.25."))
	assert.LessOrEqual(t, len(a), 64)
}

func TestEncodeDefaultsToBinary(t *testing.T) {
	s := loadSeries(t, 3, 2, 4)
	ds, err := Encode(twoLabelVolume(), s, testRecords(t, []uint16{1, 4}), Options{})
	require.NoError(t, err)
	assert.Equal(t, SegmentationStorage, findString(t, ds, tag.SOPClassUID))
	assert.Equal(t, "BINARY", findString(t, ds, tag.SegmentationType))
}

// sequenceItems returns the elements of every item of a sequence.
func sequenceItems(t *testing.T, elems []*dicom.Element, tg tag.Tag) [][]*dicom.Element {
	t.Helper()
	elem, err := (&dicom.Dataset{Elements: elems}).FindElementByTag(tg)
	require.NoError(t, err, "missing %v", tg)
	items, ok := elem.Value.GetValue().([]*dicom.SequenceItemValue)
	require.True(t, ok)
	out := make([][]*dicom.Element, len(items))
	for i, it := range items {
		out[i] = it.GetValue().([]*dicom.Element)
	}
	return out
}

func TestEncodeDimensionIndex(t *testing.T) {
	s := loadSeries(t, 3, 2, 4)
	records := testRecords(t, []uint16{1, 4})

	for _, tc := range []struct {
		segType  string
		pointers [][]int
	}{
		{TypeBinary, [][]int{{0x0062, 0x000B}, {0x0020, 0x0032}}},
		{TypeLabelMap, [][]int{{0x0020, 0x0032}}},
	} {
		t.Run(tc.segType, func(t *testing.T) {
			ds, err := Encode(twoLabelVolume(), s, records, Options{Type: tc.segType})
			require.NoError(t, err)

			organization := sequenceItems(t, ds.Elements, tag.DimensionOrganizationSequence)
			require.Len(t, organization, 1)
			uid := findString(t, dicom.Dataset{Elements: organization[0]}, tag.DimensionOrganizationUID)

			dims := sequenceItems(t, ds.Elements, tag.DimensionIndexSequence)
			require.Len(t, dims, len(tc.pointers))
			for i, dim := range dims {
				item := &dicom.Dataset{Elements: dim}
				assert.Equal(t, uid, findString(t, *item, tag.DimensionOrganizationUID))
				pointer, err := item.FindElementByTag(tag.DimensionIndexPointer)
				require.NoError(t, err)
				assert.Equal(t, tc.pointers[i], pointer.Value.GetValue())
				_, err = item.FindElementByTag(tag.FunctionalGroupPointer)
				assert.NoError(t, err)
			}

			for _, group := range sequenceItems(t, ds.Elements, tag.PerFrameFunctionalGroupsSequence) {
				content := sequenceItems(t, group, tag.FrameContentSequence)
				require.Len(t, content, 1)
				values, err := (&dicom.Dataset{Elements: content[0]}).FindElementByTag(tag.DimensionIndexValues)
				require.NoError(t, err)
				assert.Len(t, values.Value.GetValue(), len(dims))
			}
		})
	}
}
