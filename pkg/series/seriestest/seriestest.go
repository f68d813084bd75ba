// Package seriestest writes small synthetic image series for tests.
package seriestest

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"
)

// MRImageStorage is the SOP class of the generated slices.
const MRImageStorage = "1.2.840.10008.5.1.4.1.1.4"

// Spec describes the series to generate
type Spec struct {
	Slices       int
	Rows         int
	Columns      int
	SeriesNumber int

	// Orientation is written as ImageOrientationPatient unless nil
	Orientation *[6]float64

	// SliceSpacing is the distance in mm between neighbouring slices along
	// the plane normal
	SliceSpacing float64

	// Reverse numbers the files so that the file order runs against the
	// acquisition order
	Reverse bool
}

// Axial returns an axial series spec of n slices.
func Axial(n, rows, cols int) Spec {
	return Spec{
		Slices:       n,
		Rows:         rows,
		Columns:      cols,
		SeriesNumber: 7,
		Orientation:  &[6]float64{1, 0, 0, 0, 1, 0},
		SliceSpacing: 2.5,
	}
}

// Write stores the series in dir, one file per slice, and returns the paths
// in file-name order.
func Write(dir string, spec Spec) ([]string, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	study := "1.2.826.0.1.3680043.8.498.1"
	seriesUID := fmt.Sprintf("%s.%d", study, spec.SeriesNumber)

	var paths []string
	for i := 0; i < spec.Slices; i++ {
		fileIndex := i
		if spec.Reverse {
			fileIndex = spec.Slices - 1 - i
		}
		path := filepath.Join(dir, fmt.Sprintf("IM%04d.dcm", fileIndex))
		if err := writeSlice(path, spec, study, seriesUID, i); err != nil {
			return nil, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

func writeSlice(path string, spec Spec, study, seriesUID string, i int) error {
	sop := fmt.Sprintf("%s.%d", seriesUID, i+1)
	normal := [3]float64{0, 0, 1}
	if o := spec.Orientation; o != nil {
		normal = [3]float64{
			o[1]*o[5] - o[2]*o[4],
			o[2]*o[3] - o[0]*o[5],
			o[0]*o[4] - o[1]*o[3],
		}
	}
	z := spec.SliceSpacing * float64(i)

	elements := []*dicom.Element{
		mustElement(tag.MediaStorageSOPClassUID, []string{MRImageStorage}),
		mustElement(tag.MediaStorageSOPInstanceUID, []string{sop}),
		mustElement(tag.TransferSyntaxUID, []string{"1.2.840.10008.1.2.1"}),
		mustElement(tag.PatientName, []string{"Test^Patient"}),
		mustElement(tag.PatientID, []string{"P0001"}),
		mustElement(tag.PatientBirthDate, []string{"19700101"}),
		mustElement(tag.PatientSex, []string{"O"}),
		mustElement(tag.StudyInstanceUID, []string{study}),
		mustElement(tag.StudyID, []string{"1"}),
		mustElement(tag.StudyDate, []string{"20240101"}),
		mustElement(tag.StudyTime, []string{"120000"}),
		mustElement(tag.AccessionNumber, []string{"A1"}),
		mustElement(tag.ReferringPhysicianName, []string{"Ref^Doc"}),
		mustElement(tag.SeriesInstanceUID, []string{seriesUID}),
		mustElement(tag.SeriesNumber, []string{fmt.Sprintf("%d", spec.SeriesNumber)}),
		mustElement(tag.Modality, []string{"MR"}),
		mustElement(tag.FrameOfReferenceUID, []string{study + ".99"}),
		mustElement(tag.SOPClassUID, []string{MRImageStorage}),
		mustElement(tag.SOPInstanceUID, []string{sop}),
		mustElement(tag.InstanceNumber, []string{fmt.Sprintf("%d", i+1)}),
		mustElement(tag.NumberOfFrames, []string{"1"}),
		mustElement(tag.ImagePositionPatient, []string{
			ds(normal[0] * z), ds(normal[1] * z), ds(normal[2] * z),
		}),
		mustElement(tag.PixelSpacing, []string{"0.8", "0.8"}),
		mustElement(tag.SliceThickness, []string{ds(spec.SliceSpacing)}),
		mustElement(tag.Rows, []int{spec.Rows}),
		mustElement(tag.Columns, []int{spec.Columns}),
		mustElement(tag.BitsAllocated, []int{16}),
		mustElement(tag.BitsStored, []int{16}),
		mustElement(tag.HighBit, []int{15}),
		mustElement(tag.PixelRepresentation, []int{0}),
		mustElement(tag.SamplesPerPixel, []int{1}),
		mustElement(tag.PhotometricInterpretation, []string{"MONOCHROME2"}),
	}
	if o := spec.Orientation; o != nil {
		iop := make([]string, 6)
		for k, v := range o {
			iop[k] = ds(v)
		}
		elements = append(elements, mustElement(tag.ImageOrientationPatient, iop))
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return dicom.Write(f, dicom.Dataset{Elements: elements})
}

func ds(v float64) string {
	return fmt.Sprintf("%.6f", v)
}

func mustElement(t tag.Tag, value any) *dicom.Element {
	elem, err := dicom.NewElement(t, value)
	if err != nil {
		panic(fmt.Sprintf("seriestest: element %v: %v", t, err))
	}
	return elem
}
