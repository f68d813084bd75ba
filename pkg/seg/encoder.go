// Package seg encodes reconciled label volumes as DICOM Segmentation objects.
package seg

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"time"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"

	"segwriter/internal/models"
	"segwriter/pkg/geometry"
	"segwriter/pkg/labels"
	"segwriter/pkg/segerr"
)

// Segmentation types
const (
	TypeBinary   = "BINARY"
	TypeLabelMap = "LABELMAP"
)

// SOP classes and transfer syntaxes written by the encoder
const (
	SegmentationStorage         = "1.2.840.10008.5.1.4.1.1.66.4"
	LabelMapSegmentationStorage = "1.2.840.10008.5.1.4.1.1.66.7"
	ExplicitVRLittleEndian      = "1.2.840.10008.1.2.1"

	implementationClassUID    = "2.25.80302813137786398554742050926734630921"
	implementationVersionName = "SEGWRITER_1"
)

// Options holds the descriptive attributes of the encoded object
type Options struct {
	// Type is TypeBinary or TypeLabelMap. Empty means TypeBinary.
	Type string

	// OmitEmptyFrames drops BINARY frames without any voxel of their segment
	OmitEmptyFrames bool

	// SeriesNumber of the new series. Zero copies the reference series number.
	SeriesNumber int

	SeriesDescription     string
	ContentLabel          string
	ContentDescription    string
	ContentCreator        string
	Manufacturer          string
	ManufacturerModelName string
	SoftwareVersions      string
	DeviceSerialNumber    string

	// Now stamps ContentDate and ContentTime. time.Now when nil.
	Now func() time.Time
}

// attributes copied from the first reference image; missing ones are
// written empty
var copiedAttributes = []tag.Tag{
	tag.SpecificCharacterSet,
	tag.StudyDate,
	tag.StudyTime,
	tag.AccessionNumber,
	tag.ReferringPhysicianName,
	tag.StudyDescription,
	tag.PatientName,
	tag.PatientID,
	tag.PatientBirthDate,
	tag.PatientSex,
	tag.PatientAge,
	tag.StudyInstanceUID,
	tag.StudyID,
	tag.PositionReferenceIndicator,
}

// optional attributes that are only written when present
var optionalAttributes = map[tag.Tag]bool{
	tag.SpecificCharacterSet:       true,
	tag.StudyDescription:           true,
	tag.PatientAge:                 true,
	tag.PositionReferenceIndicator: true,
}

// Encode builds the Segmentation dataset for a reconciled volume. The volume
// must have the shape of the series and records must describe every label
// it contains, in segment order.
func Encode(vol *models.Volume, series *models.Series, records []models.LabelRecord, opts Options) (dicom.Dataset, error) {
	if err := geometry.CheckShape(vol, series); err != nil {
		return dicom.Dataset{}, err
	}
	if len(records) == 0 {
		return dicom.Dataset{}, segerr.ErrEmptySegmentation
	}
	segType := opts.Type
	if segType == "" {
		segType = TypeBinary
	}
	if segType != TypeBinary && segType != TypeLabelMap {
		return dicom.Dataset{}, fmt.Errorf("unknown segmentation type %q", segType)
	}
	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}
	seriesNumber := opts.SeriesNumber
	if seriesNumber == 0 {
		seriesNumber = series.SeriesNumber
	}

	sopClass := LabelMapSegmentationStorage
	if segType == TypeBinary {
		sopClass = SegmentationStorage
	}
	sopInstance := NewUID()
	lut := segmentNumbers(records)
	first := series.Slices[0]
	stamp := now()

	b := &builder{}
	b.add(tag.MediaStorageSOPClassUID, []string{sopClass})
	b.add(tag.MediaStorageSOPInstanceUID, []string{sopInstance})
	b.add(tag.TransferSyntaxUID, []string{ExplicitVRLittleEndian})
	b.add(tag.ImplementationClassUID, []string{implementationClassUID})
	b.add(tag.ImplementationVersionName, []string{implementationVersionName})

	for _, t := range copiedAttributes {
		if elem, err := first.Header.FindElementByTag(t); err == nil {
			b.elems = append(b.elems, elem)
		} else if !optionalAttributes[t] {
			b.add(t, []string{""})
		}
	}

	b.add(tag.ImageType, []string{"DERIVED", "PRIMARY"})
	b.add(tag.SOPClassUID, []string{sopClass})
	b.add(tag.SOPInstanceUID, []string{sopInstance})
	b.add(tag.ContentDate, []string{stamp.Format("20060102")})
	b.add(tag.ContentTime, []string{stamp.Format("150405")})
	b.add(tag.Modality, []string{"SEG"})
	b.add(tag.Manufacturer, []string{opts.Manufacturer})
	b.add(tag.ManufacturerModelName, []string{opts.ManufacturerModelName})
	b.add(tag.SoftwareVersions, []string{opts.SoftwareVersions})
	b.add(tag.DeviceSerialNumber, []string{opts.DeviceSerialNumber})
	b.add(tag.SeriesDescription, []string{opts.SeriesDescription})
	b.add(tag.SeriesInstanceUID, []string{NewUID()})
	b.add(tag.SeriesNumber, []string{strconv.Itoa(seriesNumber)})
	b.add(tag.InstanceNumber, []string{"1"})
	b.add(tag.FrameOfReferenceUID, []string{series.FrameOfReferenceUID})
	b.add(tag.ContentLabel, []string{opts.ContentLabel})
	b.add(tag.ContentDescription, []string{opts.ContentDescription})
	b.add(tag.ContentCreatorName, []string{opts.ContentCreator})
	b.add(tag.LossyImageCompression, []string{"00"})

	b.add(tag.SamplesPerPixel, []int{1})
	b.add(tag.PhotometricInterpretation, []string{"MONOCHROME2"})
	b.add(tag.Rows, []int{series.Rows()})
	b.add(tag.Columns, []int{series.Columns()})
	b.add(tag.PixelRepresentation, []int{0})
	b.add(tag.SegmentationType, []string{segType})

	b.seq(tag.ReferencedSeriesSequence, referencedSeries(series))
	organization := NewUID()
	b.seq(tag.DimensionOrganizationSequence, item().add(tag.DimensionOrganizationUID, []string{organization}))
	b.seq(tag.DimensionIndexSequence, dimensionIndex(organization, segType)...)
	b.seq(tag.SegmentSequence, segmentItems(records)...)
	b.seq(tag.SharedFunctionalGroupsSequence, sharedGroups(first))

	var frames []*builder
	var pixels dicom.PixelDataInfo
	if segType == TypeBinary {
		planes := binaryFrames(vol, records, opts.OmitEmptyFrames)
		if len(planes) == 0 {
			return dicom.Dataset{}, segerr.ErrEmptySegmentation
		}
		for _, p := range planes {
			number := int(lut[p.Segment])
			frames = append(frames, frameGroup(series.Slices[p.Slice], []int{number, p.Slice + 1}, number))
		}
		b.add(tag.BitsAllocated, []int{1})
		b.add(tag.BitsStored, []int{1})
		b.add(tag.HighBit, []int{0})
		pixels = dicom.PixelDataInfo{IntentionallyUnprocessed: true, UnprocessedValueData: packBits(vol, planes)}
	} else {
		for s := 0; s < vol.Shape[0]; s++ {
			frames = append(frames, frameGroup(series.Slices[s], []int{s + 1}, 0))
		}
		bits := labelBits(len(records))
		b.add(tag.BitsAllocated, []int{bits})
		b.add(tag.BitsStored, []int{bits})
		b.add(tag.HighBit, []int{bits - 1})
		pixels = dicom.PixelDataInfo{Frames: labelFrames(vol, lut, bits)}
	}
	b.add(tag.NumberOfFrames, []string{strconv.Itoa(len(frames))})
	b.seq(tag.PerFrameFunctionalGroupsSequence, frames...)
	b.add(tag.PixelData, pixels)

	if b.err != nil {
		return dicom.Dataset{}, b.err
	}
	sort.SliceStable(b.elems, func(i, j int) bool {
		return tagLess(b.elems[i].Tag, b.elems[j].Tag)
	})
	return dicom.Dataset{Elements: b.elems}, nil
}

func tagLess(a, b tag.Tag) bool {
	if a.Group != b.Group {
		return a.Group < b.Group
	}
	return a.Element < b.Element
}

func referencedSeries(series *models.Series) *builder {
	var instances []*builder
	for _, sl := range series.Slices {
		instances = append(instances, item().
			add(tag.ReferencedSOPClassUID, []string{sl.SOPClassUID}).
			add(tag.ReferencedSOPInstanceUID, []string{sl.SOPInstanceUID}))
	}
	return item().
		add(tag.SeriesInstanceUID, []string{series.SeriesInstanceUID}).
		seq(tag.ReferencedInstanceSequence, instances...)
}

// dimensionIndex describes the DimensionIndexValues of every frame: the
// segment number then the plane position for BINARY, the plane position
// alone for LABELMAP.
func dimensionIndex(organization, segType string) []*builder {
	var dims []*builder
	if segType == TypeBinary {
		dims = append(dims, dimension(organization, tag.ReferencedSegmentNumber, tag.SegmentIdentificationSequence, "ReferencedSegmentNumber"))
	}
	return append(dims, dimension(organization, tag.ImagePositionPatient, tag.PlanePositionSequence, "ImagePositionPatient"))
}

func dimension(organization string, pointer, group tag.Tag, label string) *builder {
	return item().
		add(tag.DimensionOrganizationUID, []string{organization}).
		add(tag.DimensionIndexPointer, atValue(pointer)).
		add(tag.FunctionalGroupPointer, atValue(group)).
		add(tag.DimensionDescriptionLabel, []string{label})
}

// atValue encodes a tag as an AT element value.
func atValue(t tag.Tag) []int {
	return []int{int(t.Group), int(t.Element)}
}

func codeItem(c models.Code) *builder {
	return item().
		add(tag.CodeValue, []string{c.Value}).
		add(tag.CodingSchemeDesignator, []string{c.Scheme}).
		add(tag.CodeMeaning, []string{c.Meaning})
}

func segmentItems(records []models.LabelRecord) []*builder {
	items := make([]*builder, 0, len(records))
	for i, rec := range records {
		lab := labels.DICOMLab(rec.Color)
		items = append(items, item().
			add(tag.SegmentNumber, []int{i + 1}).
			add(tag.SegmentLabel, []string{rec.Name}).
			add(tag.SegmentDescription, []string{rec.Name}).
			add(tag.SegmentAlgorithmType, []string{rec.AlgorithmType}).
			add(tag.SegmentAlgorithmName, []string{rec.AlgorithmName}).
			seq(tag.SegmentationAlgorithmIdentificationSequence, item().
				seq(tag.AlgorithmFamilyCodeSequence, codeItem(rec.AlgorithmFamily)).
				add(tag.AlgorithmName, []string{rec.AlgorithmName}).
				add(tag.AlgorithmVersion, []string{"1.0"})).
			seq(tag.SegmentedPropertyCategoryCodeSequence, codeItem(rec.Category)).
			seq(tag.SegmentedPropertyTypeCodeSequence, codeItem(rec.Type)).
			add(tag.RecommendedDisplayCIELabValue, lab[:]))
	}
	return items
}

func sharedGroups(first models.ReferenceSlice) *builder {
	measures := item().
		add(tag.PixelSpacing, []string{ds(first.PixelSpacing[0]), ds(first.PixelSpacing[1])}).
		add(tag.SliceThickness, []string{ds(first.SliceThickness)})
	shared := item().seq(tag.PixelMeasuresSequence, measures)
	if first.HasOrientation {
		iop := make([]string, 6)
		for i, v := range first.Orientation {
			iop[i] = ds(v)
		}
		shared.seq(tag.PlaneOrientationSequence, item().add(tag.ImageOrientationPatient, iop))
	}
	return shared
}

// frameGroup builds the per-frame functional groups of one frame. segment
// is 0 for label map frames, which carry every segment.
func frameGroup(sl models.ReferenceSlice, index []int, segment int) *builder {
	source := item().
		add(tag.ReferencedSOPClassUID, []string{sl.SOPClassUID}).
		add(tag.ReferencedSOPInstanceUID, []string{sl.SOPInstanceUID}).
		seq(tag.PurposeOfReferenceCodeSequence, codeItem(models.Code{
			Value: "121322", Scheme: "DCM", Meaning: "Source image for image processing operation",
		}))
	derivation := item().
		seq(tag.DerivationCodeSequence, codeItem(models.Code{Value: "113076", Scheme: "DCM", Meaning: "Segmentation"})).
		seq(tag.SourceImageSequence, source)

	g := item().
		seq(tag.DerivationImageSequence, derivation).
		seq(tag.FrameContentSequence, item().add(tag.DimensionIndexValues, index)).
		seq(tag.PlanePositionSequence, item().add(tag.ImagePositionPatient, []string{
			ds(sl.Position[0]), ds(sl.Position[1]), ds(sl.Position[2]),
		}))
	if segment > 0 {
		g.seq(tag.SegmentIdentificationSequence, item().add(tag.ReferencedSegmentNumber, []int{segment}))
	}
	return g
}

// ds formats a decimal string value.
func ds(v float64) string {
	s := strconv.FormatFloat(v, 'g', 10, 64)
	if len(s) > 16 {
		s = strconv.FormatFloat(v, 'e', 8, 64)
	}
	return s
}

// WriteFile writes ds to path.
func WriteFile(path string, ds dicom.Dataset) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	if err := dicom.Write(f, ds); err != nil {
		f.Close()
		return fmt.Errorf("failed to write segmentation: %w", err)
	}
	return f.Close()
}
