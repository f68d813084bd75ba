// Package commands implements the segwriter command line.
package commands

import (
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"segwriter/pkg/config"
	"segwriter/pkg/logging"
)

var (
	configPath string
	logLevel   string
	logFile    string

	cfg       *config.Config
	logger    *slog.Logger
	logCloser io.Closer
)

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "segwriter",
		Short:         "Convert label volumes to DICOM Segmentation objects",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if cfg, err = config.LoadConfig(configPath); err != nil {
				return err
			}
			if logLevel != "" {
				cfg.Logging.Level = logLevel
			}
			if logFile != "" {
				cfg.Logging.File = logFile
			}
			logger, logCloser = logging.New(logging.Config{
				Level:      cfg.Logging.Level,
				File:       cfg.Logging.File,
				MaxSizeMB:  cfg.Logging.MaxSizeMB,
				MaxAgeDays: cfg.Logging.MaxAgeDays,
			})
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if logCloser != nil {
				logCloser.Close()
			}
		},
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML configuration file")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&logFile, "log-file", "", "also write JSON logs to this rotating file")

	root.AddCommand(convertCmd(), metadataCmd(), inspectCmd(), configCmd())
	return root
}

// Execute runs the root command.
func Execute() error {
	err := rootCmd().Execute()
	if err != nil {
		if logger == nil {
			logger = slog.Default()
		}
		logger.Error("command failed", "error", err)
		if logCloser != nil {
			logCloser.Close()
		}
	}
	return err
}
