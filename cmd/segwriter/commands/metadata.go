package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"segwriter/pkg/conversion"
	"segwriter/pkg/labels"
)

func metadataCmd() *cobra.Command {
	var (
		niftiPath   string
		labelsPath  string
		outputPath  string
		description string
	)

	cmd := &cobra.Command{
		Use:   "metadata",
		Short: "Author a label metadata JSON from a volume and a mapping CSV",
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := conversion.CompileOptions(cfg)
			opts.Logger = logger

			var meta *labels.Metadata
			if labelsPath == "" {
				meta = labels.GenerateMetadata(nil, nil, description, opts)
			} else {
				if niftiPath == "" {
					return fmt.Errorf("--nifti is required with --labels")
				}
				mapping, err := labels.ReadMapping(labelsPath)
				if err != nil {
					return err
				}
				if meta, err = labels.CreateMetadata(labels.FromPath(niftiPath), mapping, opts); err != nil {
					return err
				}
				if description != "" {
					meta.SeriesDescription = description
				}
			}

			if err := labels.WriteMetadata(outputPath, meta); err != nil {
				return err
			}
			fmt.Printf("Metadata with %d segments written to %s\n", len(meta.Segments()), outputPath)
			return nil
		},
	}

	cmd.Flags().StringVar(&niftiPath, "nifti", "", "NIfTI label volume (.nii or .nii.gz)")
	cmd.Flags().StringVar(&labelsPath, "labels", "", "label mapping CSV; without it a single probability map segment is written")
	cmd.Flags().StringVarP(&outputPath, "out", "o", "metadata.json", "output JSON file")
	cmd.Flags().StringVar(&description, "description", "", "series description")
	return cmd
}
