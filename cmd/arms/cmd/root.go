package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/arthur326/ARMS/internal/config"
	"github.com/arthur326/ARMS/internal/service/arms"
	"github.com/arthur326/ARMS/internal/version"
)

var (
	// configPath to the configuration YAML file.
	configPath string
	// logLevel overrides the configured log level.
	logLevel string

	// rootCmd represents the base command for running the controller.
	rootCmd = &cobra.Command{
		Use:   "arms",
		Short: "Run the repeater emergency alert controller.",
		Long: `Scans the repeater channels for a DTMF trigger and runs the alert procedure.

The controller keys the radio through rigctld, plays the recorded paragraphs on the
configured sound card and decodes DTMF with an external multimon-ng process.
When the configuration has errors that still allow a transmission, the boot error
message is broadcast every boot_error_interval instead.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: false,
		RunE: func(_ *cobra.Command, _ []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			options := &arms.Options{
				ConfigPath: configPath,
				LogLevel:   logLevel,
			}

			return arms.Run(ctx, options)
		},
	}
)

// Execute runs the arms CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)
	rootCmd.AddCommand(newValidateCommand(), newDevicesCommand(), newInitConfigCommand(), newStatusCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	// Setup command flags with consistent naming and descriptions.
	rootCmd.PersistentFlags().
		StringVarP(&configPath, "config", "c", config.DefaultConfigFilename, "path to configuration file")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "", "override the configured log level")
}
