package main

import (
	"github.com/spf13/cobra"

	"github.com/kimhsiao/capturegallery/internal/config"
	"github.com/kimhsiao/capturegallery/internal/logging"
	"github.com/kimhsiao/capturegallery/internal/services"
)

// version is set at build time
var version = "dev"

var envFile string

var rootCmd = &cobra.Command{
	Use:   "capture",
	Short: "Capture gallery ingestion core",
	Long: `capture resolves camera capture references (raw base64, embedded data,
file paths and URIs) into display-ready gallery items.

Configuration is read from CAPTURE_* environment variables and an optional .env file.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", "", "env file to load before the environment")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// newService loads configuration and builds a gallery that logs to the command's stderr.
func newService(cmd *cobra.Command) (*services.GalleryService, error) {
	var files []string
	if envFile != "" {
		files = append(files, envFile)
	}
	cfg, err := config.Load(files...)
	if err != nil {
		return nil, err
	}
	log := logging.New(cmd.ErrOrStderr(), logging.ParseLevel(cfg.App.LogLevel))
	return services.NewGalleryService(cfg, log)
}
