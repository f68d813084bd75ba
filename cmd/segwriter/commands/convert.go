package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"segwriter/pkg/conversion"
	"segwriter/pkg/labels"
)

func convertCmd() *cobra.Command {
	var (
		niftiPath    string
		seriesDir    string
		labelsPath   string
		metadataPath string
		outputDir    string
		fast         bool
		strict       bool
		preview      bool
	)

	cmd := &cobra.Command{
		Use:   "convert",
		Short: "Convert a NIfTI label volume into a DICOM Segmentation",
		RunE: func(cmd *cobra.Command, args []string) error {
			if (labelsPath == "") == (metadataPath == "") {
				return fmt.Errorf("exactly one of --labels and --metadata is required")
			}
			if fast {
				cfg.Processing.FastPath = true
			}
			if strict {
				cfg.Processing.StrictAxis = true
				cfg.Verify.Strict = true
			}
			if preview {
				cfg.Output.SavePreview = true
			}

			start := time.Now()
			res, err := conversion.NewWriter(&conversion.Params{
				Source:       labels.FromPath(niftiPath),
				SeriesDir:    seriesDir,
				MappingFile:  labelsPath,
				MetadataFile: metadataPath,
				OutputDir:    outputDir,
				Config:       cfg,
				Logger:       logger,
			}).Process()
			if err != nil {
				return err
			}

			fmt.Printf("Segmentation written to %s in %.2f seconds\n", res.OutputPath, time.Since(start).Seconds())
			fmt.Printf("Segments: %d\n", len(res.Records))
			for i, rec := range res.Records {
				fmt.Printf("  %d: label %d %s\n", i+1, rec.Label, rec.Name)
			}
			if res.Verification.OK {
				fmt.Printf("Verified: series %d, %d frames\n", res.Verification.SeriesNumber, res.Verification.Frames)
			} else {
				fmt.Printf("Verification failed: %v\n", res.Verification.Err)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&niftiPath, "nifti", "", "NIfTI label volume (.nii or .nii.gz)")
	cmd.Flags().StringVar(&seriesDir, "series", "", "directory of the reference image series")
	cmd.Flags().StringVar(&labelsPath, "labels", "", "label mapping CSV (label_id,label_name)")
	cmd.Flags().StringVar(&metadataPath, "metadata", "", "label metadata JSON")
	cmd.Flags().StringVarP(&outputDir, "out", "o", ".", "output directory")
	cmd.Flags().BoolVar(&fast, "fast", false, "only move the slice axis, no flip or rotation")
	cmd.Flags().BoolVar(&strict, "strict", false, "fail on ambiguous axes and on a failed read-back")
	cmd.Flags().BoolVar(&preview, "preview", false, "save colour-coded JPEG slices of the reconciled volume")
	cmd.MarkFlagRequired("nifti")
	cmd.MarkFlagRequired("series")
	return cmd
}
