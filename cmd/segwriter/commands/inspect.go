package commands

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"segwriter/pkg/transcode"
)

func inspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <file.dcm>",
		Short: "Read a Segmentation back and print its summary",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v, err := transcode.ReadBack(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("File:            %s (%s)\n", v.Path, humanize.Bytes(uint64(v.Size)))
			fmt.Printf("Transfer syntax: %s\n", v.TransferSyntax)
			fmt.Printf("SOP class:       %s\n", v.SOPClassUID)
			fmt.Printf("Series number:   %d\n", v.SeriesNumber)
			fmt.Printf("Frames:          %d\n", v.Frames)
			return nil
		},
	}
}
