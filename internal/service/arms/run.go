package arms

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	health "github.com/arthur326/ARMS/internal/api/grpc/health"
	"github.com/arthur326/ARMS/internal/audio"
	"github.com/arthur326/ARMS/internal/audio/asset"
	"github.com/arthur326/ARMS/internal/audio/malgo"
	"github.com/arthur326/ARMS/internal/audio/portaudio"
	"github.com/arthur326/ARMS/internal/config"
	"github.com/arthur326/ARMS/internal/domain/alert"
	"github.com/arthur326/ARMS/internal/dtmf"
	"github.com/arthur326/ARMS/internal/logger"
	"github.com/arthur326/ARMS/internal/process"
	repository "github.com/arthur326/ARMS/internal/repository/state"
	"github.com/arthur326/ARMS/internal/rig"
	"github.com/arthur326/ARMS/internal/service/controller"
	"github.com/arthur326/ARMS/internal/service/status"
	"github.com/arthur326/ARMS/internal/version"
)

// Options controls the arms process.
type Options struct {
	// ConfigPath specifies the path to the settings YAML file.
	ConfigPath string
	// LogLevel overrides the configured log level when set.
	LogLevel string
}

// Run operates the controller until ctx is canceled.
// Fatal configuration problems and audio devices that never come up are returned as errors.
func Run(ctx context.Context, opts *Options) error {
	// Load settings; invalid ones still allow the boot error broadcast.
	cfg, cfgErr := config.Load(opts.ConfigPath)
	if cfg == nil {
		return fmt.Errorf("load configuration:\n%s", config.Describe(cfgErr))
	}

	if err := setupLogger(cfg, opts.LogLevel); err != nil {
		return fmt.Errorf("setup logger: %w", err)
	}

	defer func() {
		_ = logger.Logger().Sync()
	}()

	// Set context with logger name for tracking.
	ctx = logger.WithName(ctx, "arms")

	logger.InfoKV(ctx, "Starting ARMS", "version", version.Short(), "config", opts.ConfigPath)

	// Only decoders recorded by a previous run are terminated.
	decoderPIDs := process.NewPIDFile(cfg.Paths.DecoderPIDFile)

	if cfg.Decoder.KillStale && len(cfg.Decoder.Command) > 0 {
		if _, err := decoderPIDs.TerminateStale(ctx, filepath.Base(cfg.Decoder.Command[0])); err != nil {
			logger.WarnKV(ctx, "Failed to terminate stale decoders", "error", err)
		}
	}

	engine := audio.NewEngine(newBackend(cfg.Audio.Backend), asset.NewStore(""))

	defer func() {
		if err := engine.Close(); err != nil {
			logger.WarnKV(ctx, "Failed to close audio devices", "error", err)
		}
	}()

	radio, err := rig.Dial(ctx, rig.Options{
		Address:            cfg.Rig.Address,
		Timeout:            cfg.Rig.Timeout,
		SwitchToMemoryMode: cfg.Rig.SwitchToMemoryMode,
		DisablePTT:         cfg.Rig.DisablePTT,
	})
	if err != nil {
		return fmt.Errorf("connect to rig: %w", err)
	}

	defer func() {
		_ = radio.Close()
	}()

	// The health server is only created when it has somewhere to listen.
	var (
		healthServer *health.Server
		publishers   []status.Publisher
	)

	if cfg.Status.ListenAddress != "" {
		healthServer = health.NewServer()
		publishers = append(publishers, healthServer)
	}

	statusService, err := status.New(ctx,
		repository.NewFileRepository(cfg.Paths.StateFile),
		cfg.Paths.NotInAlertFlag,
		publishers...)
	if err != nil {
		return fmt.Errorf("initialise status: %w", err)
	}

	group, groupCtx := errgroup.WithContext(ctx)

	if healthServer != nil {
		group.Go(func() error {
			return healthServer.ListenAndServe(groupCtx, cfg.Status.ListenAddress)
		})
	}

	group.Go(func() error {
		if cfgErr != nil {
			logger.ErrorKV(groupCtx, "Configuration has errors", "problems", config.Describe(cfgErr))
			return broadcastBootError(groupCtx, cfg, engine, radio, statusService)
		}

		return operate(groupCtx, cfg, engine, radio, statusService, decoderPIDs)
	})

	return group.Wait()
}

// operate brings up the audio devices and runs the controller.
func operate(
	ctx context.Context,
	cfg *config.Config,
	engine *audio.Engine,
	radio *rig.Client,
	reporter controller.Reporter,
	decoderPIDs dtmf.Tracker,
) error {
	if err := configureDevices(ctx, cfg, engine, false); err != nil {
		return err
	}

	// Decode every asset up front so that a broken file is found at boot.
	for _, file := range cfg.AudioFiles() {
		if err := engine.Load(file); err != nil {
			return fmt.Errorf("load audio: %w", err)
		}
	}

	decoder := dtmf.NewDecoder(engine, cfg.Decoder.Command, cfg.Decoder.SafetyBuffer, dtmf.WithTracker(decoderPIDs))
	defer decoder.Close()

	ctrl, err := controller.New(cfg, radio, engine, dtmf.NewMatcher(decoder), reporter)
	if err != nil {
		return fmt.Errorf("create controller: %w", err)
	}

	return ctrl.Run(ctx)
}

// broadcastBootError transmits the boot error file every boot_error_interval until ctx is done.
func broadcastBootError(
	ctx context.Context,
	cfg *config.Config,
	engine *audio.Engine,
	radio controller.Rig,
	reporter controller.Reporter,
) error {
	reporter.Report(ctx, &alert.Status{Mode: alert.ModeBootError, Channel: cfg.AlertChannel})

	if err := configureDevices(ctx, cfg, engine, true); err != nil {
		return err
	}

	if err := radio.SetPTT(ctx, rig.RX); err != nil {
		logger.ErrorKV(ctx, "Failed to release transmitter", "error", err)
	}

	tx := controller.NewTransmitter(cfg, radio, engine)

	logger.WarnKV(ctx, "Broadcasting boot error", "file", cfg.Paths.BootErrorFile, "interval", cfg.BootErrorInterval)

	for {
		if err := tx.Transmit(ctx, cfg.Paths.BootErrorFile); err != nil {
			if ctx.Err() != nil {
				break
			}

			logger.ErrorKV(ctx, "Boot error broadcast failed", "error", err)
		}

		if err := sleep(ctx, cfg.BootErrorInterval); err != nil {
			break
		}
	}

	reporter.Report(context.WithoutCancel(ctx), &alert.Status{Mode: alert.ModeStopped, Channel: cfg.AlertChannel})

	return nil
}

// configureDevices opens the audio streams, retrying while the devices are not ready.
// Sound cards are often missing for a few seconds after a reboot.
func configureDevices(ctx context.Context, cfg *config.Config, engine *audio.Engine, outputOnly bool) error {
	streamConfig := audio.StreamConfig{
		InputDevice:      cfg.Audio.InputDevice,
		OutputDevice:     cfg.Audio.OutputDevice,
		OutputSampleRate: cfg.Audio.OutputSampleRate,
		OutputOnly:       outputOnly,
	}

	attempts := max(cfg.Audio.InitAttempts, 1)

	var err error

	for attempt := 1; attempt <= attempts; attempt++ {
		if err = engine.ConfigureDevices(ctx, streamConfig); err == nil {
			return nil
		}

		logger.WarnKV(ctx, "Audio devices not ready", "attempt", attempt, "of", attempts, "error", err)

		if attempt < attempts {
			if sleepErr := sleep(ctx, cfg.Audio.InitRetryDelay); sleepErr != nil {
				return sleepErr
			}
		}
	}

	return fmt.Errorf("configure audio after %d attempts: %w", attempts, err)
}

// newBackend returns the audio backend named in the configuration.
//
//nolint:ireturn // The backend is selected at run time.
func newBackend(name string) audio.Backend {
	if name == config.BackendPortAudio {
		return portaudio.New()
	}

	return malgo.New()
}

// setupLogger installs the console and file logger at the configured level.
func setupLogger(cfg *config.Config, override string) error {
	name := cfg.Log.Level
	if override != "" {
		name = override
	}

	level, ok := logger.ParseLogLevel(name)
	if !ok {
		level = zapcore.InfoLevel
	}

	if cfg.Debug {
		level = zapcore.DebugLevel
	}

	logger.SetLevel(level)

	l, err := logger.NewWithFile(nil, logger.FileOptions{
		Path:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	if err != nil {
		return err
	}

	logger.SetLogger(l)

	return nil
}

// sleep pauses for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
