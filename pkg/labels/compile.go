package labels

import (
	"log/slog"
	"slices"

	"segwriter/internal/models"
	"segwriter/pkg/logging"
	"segwriter/pkg/segerr"
)

// CompileOptions carries the values shared by every compiled record
type CompileOptions struct {
	// Palette supplies colours by emission order. Tableau20 when empty.
	Palette Palette

	// Colors overrides the palette for individual labels
	Colors map[uint16]models.Color

	Category        models.Code
	Type            models.Code
	AlgorithmName   string
	AlgorithmFamily models.Code

	Logger *slog.Logger
}

// DefaultCompileOptions returns the codes used when nothing else is configured.
func DefaultCompileOptions() CompileOptions {
	return CompileOptions{
		Palette:         Tableau20(),
		Category:        models.Code{Value: "85756007", Scheme: "SCT", Meaning: "Tissue"},
		Type:            models.Code{Value: "85756007", Scheme: "SCT", Meaning: "Tissue"},
		AlgorithmName:   "AI",
		AlgorithmFamily: models.Code{Value: "123110", Scheme: "DCM", Meaning: "Artificial Intelligence"},
	}
}

// Compile builds one record per present label in ascending label order.
//
// present must be sorted (as returned by Discover). Every present label needs
// a row in mapping; the first label without one is reported as a
// *segerr.UnmappedLabelError.
func Compile(present []uint16, mapping Mapping, opts CompileOptions) ([]models.LabelRecord, error) {
	log := logging.OrNop(opts.Logger)
	palette := opts.Palette
	if len(palette) == 0 {
		palette = Tableau20()
	}

	names := mapping.Restrict(present)
	for _, label := range present {
		if _, ok := names[label]; !ok {
			return nil, &segerr.UnmappedLabelError{Label: label}
		}
	}
	log.Info("labels mapped", "mapped", len(names), "present", len(present))

	records := make([]models.LabelRecord, 0, len(present))
	for i, label := range present {
		color, ok := opts.Colors[label]
		if !ok {
			color = palette.At(i)
		}
		records = append(records, models.LabelRecord{
			Label:           label,
			Name:            names[label],
			Category:        opts.Category,
			Type:            opts.Type,
			Color:           color,
			AlgorithmType:   models.AlgorithmAutomatic,
			AlgorithmName:   opts.AlgorithmName,
			AlgorithmFamily: opts.AlgorithmFamily,
		})
	}
	return records, nil
}

// CompileSource discovers the labels of src and compiles them against mapping.
func CompileSource(src Source, mapping Mapping, opts CompileOptions) ([]models.LabelRecord, error) {
	present, err := Discover(src)
	if err != nil {
		return nil, err
	}
	return Compile(present, mapping, opts)
}

// ExpectedLabels picks the label set used when authoring a metadata file:
// the labels found in the volume, or every label of the mapping when the two
// counts disagree (a volume may be a crop that misses some classes).
func ExpectedLabels(present []uint16, mapping Mapping) []uint16 {
	if len(present) == len(mapping) {
		return present
	}
	all := mapping.Labels()
	slices.Sort(all)
	return all
}
