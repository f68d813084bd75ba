package models

// Code is a coded concept triple (value, coding scheme, meaning)
type Code struct {
	Value   string `json:"CodeValue" yaml:"value"`
	Scheme  string `json:"CodingSchemeDesignator" yaml:"scheme"`
	Meaning string `json:"CodeMeaning" yaml:"meaning"`
}

// ColorSpace tells how the components of a Color are to be read
type ColorSpace int

const (
	// RGB components in 0-255
	RGB ColorSpace = iota

	// CIELab components already scaled to the DICOM 0-65535 encoding
	CIELab
)

// Color is a recommended display colour for a segment
type Color struct {
	Space  ColorSpace
	Values [3]float64
}

// AlgorithmAutomatic is the only algorithm type produced by the compiler.
const AlgorithmAutomatic = "AUTOMATIC"

// LabelRecord is the compiled description of one segmentation class
type LabelRecord struct {
	// Label is the voxel value of the class
	Label uint16

	// Name is the segment label shown by viewers
	Name string

	Category Code
	Type     Code
	Color    Color

	// AlgorithmType is always AlgorithmAutomatic
	AlgorithmType   string
	AlgorithmName   string
	AlgorithmFamily Code
}
