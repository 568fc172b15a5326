package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/arthur326/ARMS/internal/api/grpc/health"
	"github.com/arthur326/ARMS/internal/config"
	"github.com/arthur326/ARMS/internal/service/arms"
)

var (
	// errInvalidConfig is returned by validate when problems were found.
	errInvalidConfig = errors.New("configuration has errors")
	// errStatusDisabled is returned by status when no address is known.
	errStatusDisabled = errors.New("status endpoint is disabled, set status.listen_address or pass --address")
)

// newValidateCommand checks a configuration file without touching any device.
func newValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration file.",
		Long: `Loads the configuration file and checks every setting and audio file it references.

Problems are listed one per line. Fatal problems prevent any operation;
the others make the controller broadcast the boot error message.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(configPath)
			if err == nil {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Configuration is valid.")
				return nil
			}

			kind := "invalid, the boot error would be broadcast"
			if config.IsFatal(cfg, err) {
				kind = "fatal"
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Configuration is %s:\n%s\n", kind, config.Describe(err))

			return errInvalidConfig
		},
	}
}

// newDevicesCommand lists the audio devices usable as input_device and output_device.
func newDevicesCommand() *cobra.Command {
	var backend string

	cmd := &cobra.Command{
		Use:   "devices",
		Short: "List audio devices.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			devices, err := arms.ListDevices(configPath, backend)
			if err != nil {
				return err
			}

			for _, d := range devices {
				direction := ""
				if d.IsInput {
					direction += "in"
				}

				if d.IsOutput {
					if direction != "" {
						direction += "/"
					}

					direction += "out"
				}

				marker := " "
				if d.IsDefault {
					marker = "*"
				}

				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s %-7s %s\n", marker, direction, d.Name)
			}

			return nil
		},
	}

	cmd.Flags().StringVarP(&backend, "backend", "b", "", "audio backend (malgo or portaudio), defaults to the configured one")

	return cmd
}

// newInitConfigCommand writes a configuration file holding every default.
func newInitConfigCommand() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init-config",
		Short: "Write a configuration file with default settings.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if _, err := os.Stat(configPath); err == nil && !force {
				return fmt.Errorf("%s already exists, use --force to overwrite it", configPath)
			}

			cfg := config.Default()
			cfg.LastChannel = cfg.FirstChannel
			cfg.Paragraphs = make(map[string][]string)

			for _, name := range config.RequiredParagraphs() {
				cfg.Paragraphs[name] = []string{name + ".wav"}
			}

			if err := config.Save(configPath, cfg); err != nil {
				return err
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s.\n", configPath)

			return nil
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "overwrite an existing file")

	return cmd
}

// newStatusCommand queries the status endpoint of a running controller.
func newStatusCommand() *cobra.Command {
	var (
		address string
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the state of a running controller.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if address == "" {
				cfg, err := config.Load(configPath)
				if cfg == nil {
					return err
				}

				address = cfg.Status.ListenAddress
			}

			if address == "" {
				return errStatusDisabled
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			client, err := health.Dial(ctx, address, health.WithCallTimeout(timeout))
			if err != nil {
				return err
			}

			defer func() { _ = client.Close() }()

			operating, inAlert, err := client.Summary(ctx)
			if err != nil {
				return err
			}

			switch {
			case inAlert:
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Alert in progress.")
			case operating:
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Operating, no alert.")
			default:
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "Not operating, check the controller log.")
			}

			return nil
		},
	}

	cmd.Flags().StringVarP(&address, "address", "a", "", "status endpoint address, defaults to status.listen_address")
	cmd.Flags().DurationVar(&timeout, "timeout", health.DefaultCallTimeout, "query timeout")

	return cmd
}
