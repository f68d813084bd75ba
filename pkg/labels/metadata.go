package labels

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"segwriter/internal/models"
	"segwriter/pkg/logging"
	"segwriter/pkg/segerr"
)

// Metadata is a label metadata document in the layout used by dcmqi
type Metadata struct {
	ContentCreatorName                  string               `json:"ContentCreatorName,omitempty"`
	ClinicalTrialSeriesID               string               `json:"ClinicalTrialSeriesID,omitempty"`
	ClinicalTrialTimePointID            string               `json:"ClinicalTrialTimePointID,omitempty"`
	ClinicalTrialCoordinatingCenterName string               `json:"ClinicalTrialCoordinatingCenterName,omitempty"`
	SeriesDescription                   string               `json:"SeriesDescription"`
	SeriesNumber                        string               `json:"SeriesNumber"`
	InstanceNumber                      string               `json:"InstanceNumber"`
	ContentLabel                        string               `json:"ContentLabel"`
	ContentDescription                  string               `json:"ContentDescription"`
	BodyPartExamined                    string               `json:"BodyPartExamined"`
	SegmentAttributes                   [][]SegmentAttribute `json:"segmentAttributes"`
}

// SegmentAttribute describes one label of a metadata document
type SegmentAttribute struct {
	LabelID                               int         `json:"labelID"`
	SegmentLabel                          string      `json:"SegmentLabel"`
	SegmentDescription                    string      `json:"SegmentDescription,omitempty"`
	SegmentAlgorithmType                  string      `json:"SegmentAlgorithmType,omitempty"`
	SegmentAlgorithmName                  string      `json:"SegmentAlgorithmName,omitempty"`
	SegmentedPropertyCategoryCodeSequence models.Code `json:"SegmentedPropertyCategoryCodeSequence"`
	SegmentedPropertyTypeCodeSequence     models.Code `json:"SegmentedPropertyTypeCodeSequence"`
	RecommendedDisplayCIELabValue         []float64   `json:"RecommendedDisplayCIELabValue,omitempty"`
	RecommendedDisplayRGBValue            []float64   `json:"recommendedDisplayRGBValue,omitempty"`
}

const metadataSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["segmentAttributes"],
  "properties": {
    "SeriesDescription": {"type": "string"},
    "ContentLabel": {"type": "string", "maxLength": 16},
    "segmentAttributes": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "array",
        "items": {"$ref": "#/definitions/segment"}
      }
    }
  },
  "definitions": {
    "code": {
      "type": "object",
      "required": ["CodeValue", "CodingSchemeDesignator"],
      "properties": {
        "CodeValue": {"type": "string"},
        "CodingSchemeDesignator": {"type": "string"},
        "CodeMeaning": {"type": "string"}
      }
    },
    "color": {
      "type": "array",
      "minItems": 3,
      "maxItems": 3,
      "items": {"type": "number", "minimum": 0, "maximum": 65535}
    },
    "segment": {
      "type": "object",
      "required": ["labelID", "SegmentLabel", "SegmentedPropertyCategoryCodeSequence", "SegmentedPropertyTypeCodeSequence"],
      "properties": {
        "labelID": {"type": "integer", "minimum": 1, "maximum": 65535},
        "SegmentLabel": {"type": "string"},
        "SegmentDescription": {"type": "string"},
        "SegmentAlgorithmType": {"type": "string"},
        "SegmentAlgorithmName": {"type": "string"},
        "SegmentedPropertyCategoryCodeSequence": {"$ref": "#/definitions/code"},
        "SegmentedPropertyTypeCodeSequence": {"$ref": "#/definitions/code"},
        "RecommendedDisplayCIELabValue": {"$ref": "#/definitions/color"},
        "recommendedDisplayRGBValue": {"$ref": "#/definitions/color"}
      }
    }
  }
}`

var compiledSchema = jsonschema.MustCompileString("metadata.schema.json", metadataSchema)

// ReadMetadata loads and validates a label metadata file.
func ReadMetadata(path string) (*Metadata, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read metadata file: %w", err)
	}
	m, err := ParseMetadata(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return m, nil
}

// ParseMetadata validates data against the metadata schema and decodes it.
func ParseMetadata(data []byte) (*Metadata, error) {
	var doc interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse metadata: %w", err)
	}
	if err := compiledSchema.Validate(doc); err != nil {
		return nil, fmt.Errorf("invalid metadata: %w", err)
	}

	var m Metadata
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to decode metadata: %w", err)
	}
	return &m, nil
}

// Segments flattens the nested segment attribute lists.
func (m *Metadata) Segments() []SegmentAttribute {
	var out []SegmentAttribute
	for _, group := range m.SegmentAttributes {
		out = append(out, group...)
	}
	return out
}

// Records converts the metadata to label records for the labels in present.
//
// Every present label must be described, else a *segerr.UnmappedLabelError is
// returned. Attributes for labels missing from the volume are dropped with a
// warning. Codes left empty in the document take the values of opts, and
// segments without a colour take the palette colour of their position.
func (m *Metadata) Records(present []uint16, opts CompileOptions) ([]models.LabelRecord, error) {
	log := logging.OrNop(opts.Logger)
	palette := opts.Palette
	if len(palette) == 0 {
		palette = Tableau20()
	}

	byLabel := make(map[uint16]SegmentAttribute)
	for _, seg := range m.Segments() {
		label := uint16(seg.LabelID)
		if !Contains(present, label) {
			log.Warn("metadata describes a label missing from the volume", "label", seg.LabelID, "name", seg.SegmentLabel)
			continue
		}
		if _, dup := byLabel[label]; dup {
			return nil, fmt.Errorf("label %d is described twice", seg.LabelID)
		}
		byLabel[label] = seg
	}

	records := make([]models.LabelRecord, 0, len(present))
	for i, label := range present {
		seg, ok := byLabel[label]
		if !ok {
			return nil, &segerr.UnmappedLabelError{Label: label}
		}
		color, ok := seg.color()
		if !ok {
			if c, set := opts.Colors[label]; set {
				color = c
			} else {
				color = palette.At(i)
			}
		}
		records = append(records, models.LabelRecord{
			Label:           label,
			Name:            seg.SegmentLabel,
			Category:        orCode(seg.SegmentedPropertyCategoryCodeSequence, opts.Category),
			Type:            orCode(seg.SegmentedPropertyTypeCodeSequence, opts.Type),
			Color:           color,
			AlgorithmType:   models.AlgorithmAutomatic,
			AlgorithmName:   opts.AlgorithmName,
			AlgorithmFamily: opts.AlgorithmFamily,
		})
	}
	return records, nil
}

// color reads the display colour of a segment. Older metadata files store
// RGB triples under the CIELab key; a CIELab value whose components all fit
// in 0-255 is read as RGB.
func (s SegmentAttribute) color() (models.Color, bool) {
	if len(s.RecommendedDisplayCIELabValue) == 3 {
		v := [3]float64{s.RecommendedDisplayCIELabValue[0], s.RecommendedDisplayCIELabValue[1], s.RecommendedDisplayCIELabValue[2]}
		if v[0] <= 255 && v[1] <= 255 && v[2] <= 255 {
			return models.Color{Space: models.RGB, Values: v}, true
		}
		return models.Color{Space: models.CIELab, Values: v}, true
	}
	if len(s.RecommendedDisplayRGBValue) == 3 {
		v := [3]float64{s.RecommendedDisplayRGBValue[0], s.RecommendedDisplayRGBValue[1], s.RecommendedDisplayRGBValue[2]}
		return models.Color{Space: models.RGB, Values: v}, true
	}
	return models.Color{}, false
}

func orCode(c, fallback models.Code) models.Code {
	if c.Value == "" {
		return fallback
	}
	return c
}

// GenerateMetadata authors a metadata document for the given labels. With no
// labels a single "Probability Map" segment is emitted.
func GenerateMetadata(labels []uint16, names map[uint16]string, seriesDescription string, opts CompileOptions) *Metadata {
	palette := opts.Palette
	if len(palette) == 0 {
		palette = Tableau20()
	}
	if seriesDescription == "" {
		seriesDescription = "Segmentation"
	}

	m := &Metadata{
		ContentCreatorName:                  "segwriter",
		ClinicalTrialSeriesID:               "Session1",
		ClinicalTrialTimePointID:            "1",
		ClinicalTrialCoordinatingCenterName: "dcmqi",
		SeriesDescription:                   seriesDescription,
		ContentLabel:                        "SEGMENTATION",
		ContentDescription:                  "Image segmentation",
	}

	var segments []SegmentAttribute
	if len(labels) == 0 {
		segments = append(segments, newSegment(1, "Probability Map", palette.At(0), opts))
	}
	for i, label := range labels {
		segments = append(segments, newSegment(label, names[label], palette.At(i), opts))
	}
	m.SegmentAttributes = [][]SegmentAttribute{segments}
	return m
}

func newSegment(label uint16, name string, color models.Color, opts CompileOptions) SegmentAttribute {
	seg := SegmentAttribute{
		LabelID:                               int(label),
		SegmentLabel:                          name,
		SegmentDescription:                    name,
		SegmentAlgorithmType:                  models.AlgorithmAutomatic,
		SegmentAlgorithmName:                  opts.AlgorithmName,
		SegmentedPropertyCategoryCodeSequence: opts.Category,
		SegmentedPropertyTypeCodeSequence:     opts.Type,
	}
	if color.Space == models.CIELab {
		seg.RecommendedDisplayCIELabValue = color.Values[:]
	} else {
		seg.RecommendedDisplayRGBValue = color.Values[:]
	}
	return seg
}

// CreateMetadata discovers the labels of src, names them from mapping and
// authors the metadata document. When the number of labels in the volume
// differs from the mapping, every mapping row is used.
func CreateMetadata(src Source, mapping Mapping, opts CompileOptions) (*Metadata, error) {
	present, err := Discover(src)
	if err != nil {
		return nil, err
	}
	labels := ExpectedLabels(present, mapping)

	names := mapping.Restrict(labels)
	for _, label := range labels {
		if _, ok := names[label]; !ok {
			return nil, &segerr.UnmappedLabelError{Label: label}
		}
	}
	logging.OrNop(opts.Logger).Info("labels mapped, generating metadata", "mapped", len(names), "labels", len(labels))
	return GenerateMetadata(labels, names, "", opts), nil
}

// WriteMetadata stores m as indented JSON.
func WriteMetadata(path string, m *Metadata) error {
	data, err := json.MarshalIndent(m, "", "    ")
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write metadata file: %w", err)
	}
	return nil
}
