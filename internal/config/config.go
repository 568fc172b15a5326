package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/arthur326/ARMS/internal/domain/operator"
)

// Config holds every setting of the controller.
type Config struct {
	// FirstChannel is the first channel scanned for triggers.
	FirstChannel int `yaml:"first_channel"`
	// LastChannel is the last channel scanned for triggers.
	LastChannel int `yaml:"last_channel"`
	// AlertChannel is the channel alerts are broadcast on.
	AlertChannel int `yaml:"alert_channel"`
	// DisableErrorBroadcasting turns every configuration problem into a fatal one.
	DisableErrorBroadcasting bool `yaml:"disable_error_broadcasting"`
	// Debug forces the debug log level.
	Debug bool `yaml:"debug"`

	Scan     Scan     `yaml:"scan"`
	LongTone LongTone `yaml:"long_tone"`
	Silence  Silence  `yaml:"silence"`

	// TransmitDelay is the pause between keying the transmitter and playing audio.
	TransmitDelay time.Duration `yaml:"transmit_delay"`
	// BootErrorInterval is the pause between boot error broadcasts.
	BootErrorInterval time.Duration `yaml:"boot_error_interval"`

	Timeouts Timeouts `yaml:"timeouts"`
	Delays   Delays   `yaml:"delays"`
	Commands Commands `yaml:"commands"`
	Rig      Rig      `yaml:"rig"`
	Audio    Audio    `yaml:"audio"`
	Decoder  Decoder  `yaml:"decoder"`
	Paths    Paths    `yaml:"paths"`
	Log      Log      `yaml:"log"`
	Status   Status   `yaml:"status"`

	// Operators maps three-digit operator IDs to whether they are active.
	Operators map[string]bool `yaml:"operators"`
	// Paragraphs maps paragraph names to audio files relative to the audio directory.
	Paragraphs map[string][]string `yaml:"paragraphs"`
}

// Scan configures trigger detection while scanning.
type Scan struct {
	// ToneDetectLength is how long each channel is listened to.
	ToneDetectLength time.Duration `yaml:"tone_detect_length"`
	// RetryDelay is the pause after a channel could not be scanned.
	RetryDelay time.Duration `yaml:"retry_delay"`
}

// LongTone configures the statistical trigger confirmation.
type LongTone struct {
	SamplingPeriod          time.Duration `yaml:"sampling_period"`
	TotalSamples            int           `yaml:"total_samples"`
	RequiredPositiveSamples int           `yaml:"required_positive_samples"`
	MaxPositiveSamples      int           `yaml:"max_positive_samples"`
}

// Silence configures the busy channel detection before transmitting.
type Silence struct {
	SamplingPeriod       time.Duration `yaml:"sampling_period"`
	RequiredClearSamples int           `yaml:"required_clear_samples"`
}

// Timeouts bounds the waits for caller input.
type Timeouts struct {
	ConfirmCancel time.Duration `yaml:"confirm_cancel"`
	TestingStar   time.Duration `yaml:"testing_star"`
	OperatorID    time.Duration `yaml:"operator_id"`
}

// Delays holds the waits between alert announcements.
type Delays struct {
	InitialAlertShort      time.Duration `yaml:"initial_alert_short"`
	InitialAlertShortCount int           `yaml:"initial_alert_short_count"`
	InitialAlertLong       time.Duration `yaml:"initial_alert_long"`
	ShortLoop              time.Duration `yaml:"short_loop"`
	ModerateLoop           time.Duration `yaml:"moderate_loop"`
	LongLoop               time.Duration `yaml:"long_loop"`
	OperatorLoop           time.Duration `yaml:"operator_loop"`
}

// Commands is the DTMF command grammar.
type Commands struct {
	AlertTrigger              string `yaml:"alert_trigger"`
	TestTrigger               string `yaml:"test_trigger"`
	Cancel                    string `yaml:"cancel"`
	ConfirmCancel             string `yaml:"confirm_cancel"`
	RequireCancelConfirmation bool   `yaml:"require_cancel_confirmation"`
	InitialAlert              string `yaml:"initial_alert"`
	ShortDelay                string `yaml:"short_delay"`
	ModerateDelay             string `yaml:"moderate_delay"`
	LongDelay                 string `yaml:"long_delay"`
	OperatorID                string `yaml:"operator_id"`
	OperatorIDPrefix          string `yaml:"operator_id_prefix"`
}

// Rig configures the rigctld connection.
type Rig struct {
	// Address is the rigctld host:port.
	Address string `yaml:"address"`
	// Timeout bounds every rig operation.
	Timeout time.Duration `yaml:"timeout"`
	// SwitchToMemoryMode selects memory mode when connecting.
	SwitchToMemoryMode bool `yaml:"switch_to_memory_mode"`
	// DisablePTT keeps the transmitter unkeyed for bench testing.
	DisablePTT bool `yaml:"disable_ptt"`
}

// Audio configures the sound devices.
type Audio struct {
	// Backend is "malgo" or "portaudio".
	Backend string `yaml:"backend"`
	// InputDevice is a substring of the capture device name. Empty selects the default.
	InputDevice string `yaml:"input_device"`
	// OutputDevice is a substring of the playback device name. Empty selects the default.
	OutputDevice     string        `yaml:"output_device"`
	OutputSampleRate int           `yaml:"output_sample_rate"`
	InitAttempts     int           `yaml:"init_attempts"`
	InitRetryDelay   time.Duration `yaml:"init_retry_delay"`
}

// Decoder configures the external DTMF decoder process.
type Decoder struct {
	// Command is the decoder program followed by its arguments.
	Command []string `yaml:"command"`
	// SafetyBuffer is added to the input latency before a capture starts.
	SafetyBuffer time.Duration `yaml:"safety_buffer"`
	// KillStale terminates decoder processes left behind by a previous run at startup.
	KillStale bool `yaml:"kill_stale"`
}

// Paths holds file system locations.
type Paths struct {
	AudioDirectory        string `yaml:"audio_directory"`
	RepeaterNameDirectory string `yaml:"repeater_name_directory"`
	OperatorNameDirectory string `yaml:"operator_name_directory"`
	BootErrorFile         string `yaml:"boot_error_file"`
	NotInAlertFlag        string `yaml:"not_in_alert_flag"`
	StateFile             string `yaml:"state_file"`
	// DecoderPIDFile lists the running decoder processes so that a later run
	// can terminate the ones a crash left behind.
	DecoderPIDFile string `yaml:"decoder_pid_file"`
}

// Log configures logging.
type Log struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// Status configures the status endpoint.
type Status struct {
	// ListenAddress is the gRPC health listen address. Empty disables it.
	ListenAddress string `yaml:"listen_address"`
}

const (
	// DefaultConfigFilename is the default filename for controller settings.
	DefaultConfigFilename = "arms.yaml"

	// DefaultStateFilename is the default filename for the status JSON.
	DefaultStateFilename = "arms-state.json"

	// DefaultDecoderPIDFile is the default list of running decoder processes.
	DefaultDecoderPIDFile = "arms-decoder.pid"

	// DefaultNotInAlertFlag is the default flag file present outside alerts.
	DefaultNotInAlertFlag = "not_in_alert"

	// DefaultAudioDirectory is the default directory of audio assets.
	DefaultAudioDirectory = "audio"

	// DefaultRigAddress is the default rigctld address.
	DefaultRigAddress = "127.0.0.1:4532"

	// DefaultRigTimeout is the default duration of one rig operation.
	DefaultRigTimeout = 7 * time.Second

	// DefaultFirstChannel is the first scanned channel.
	DefaultFirstChannel = 6

	// DefaultAlertChannel is the channel alerts are broadcast on.
	DefaultAlertChannel = 1

	// DefaultOutputSampleRate is the playback sample rate.
	DefaultOutputSampleRate = 48000

	// DefaultBootErrorInterval is the pause between boot error broadcasts.
	DefaultBootErrorInterval = 60 * time.Second

	// DefaultScanRetryDelay is the pause after a failed channel scan.
	DefaultScanRetryDelay = time.Second

	// DefaultConfirmCancelTimeout bounds the wait for the cancel confirmation.
	DefaultConfirmCancelTimeout = 8 * time.Second

	// DefaultFilePermissions is the default file permission for config files.
	DefaultFilePermissions = 0o600

	// BackendMalgo selects the miniaudio backend.
	BackendMalgo = "malgo"

	// BackendPortAudio selects the PortAudio backend.
	BackendPortAudio = "portaudio"
)

var (
	// ErrInvalidSetting marks a problem that still allows the boot error broadcast.
	ErrInvalidSetting = errors.New("invalid setting")
	// ErrFatalSetting marks a problem that prevents any operation.
	ErrFatalSetting = errors.New("fatal setting")

	// errConfigIsNotSet is returned when a nil configuration is provided.
	errConfigIsNotSet = errors.New("configuration is not set")
)

// Default returns the settings used for keys missing from the file.
func Default() *Config {
	return &Config{
		FirstChannel:      DefaultFirstChannel,
		AlertChannel:      DefaultAlertChannel,
		TransmitDelay:     1500 * time.Millisecond,
		BootErrorInterval: DefaultBootErrorInterval,
		Scan: Scan{
			RetryDelay: DefaultScanRetryDelay,
		},
		Silence: Silence{
			SamplingPeriod:       200 * time.Millisecond,
			RequiredClearSamples: 6,
		},
		Timeouts: Timeouts{
			ConfirmCancel: DefaultConfirmCancelTimeout,
			TestingStar:   10 * time.Second,
			OperatorID:    7 * time.Second,
		},
		Delays: Delays{
			InitialAlertShort:      5 * time.Second,
			InitialAlertShortCount: 2,
			InitialAlertLong:       300 * time.Second,
			ShortLoop:              60 * time.Second,
			ModerateLoop:           120 * time.Second,
			LongLoop:               120 * time.Second,
			OperatorLoop:           120 * time.Second,
		},
		Commands: Commands{
			AlertTrigger:              "0",
			TestTrigger:               "#",
			Cancel:                    "000",
			ConfirmCancel:             "000",
			RequireCancelConfirmation: true,
			InitialAlert:              "111",
			ShortDelay:                "222",
			ModerateDelay:             "333",
			LongDelay:                 "444",
			OperatorID:                "*",
			OperatorIDPrefix:          "#",
		},
		Rig: Rig{
			Address:            DefaultRigAddress,
			Timeout:            DefaultRigTimeout,
			SwitchToMemoryMode: true,
		},
		Audio: Audio{
			Backend:          BackendMalgo,
			OutputSampleRate: DefaultOutputSampleRate,
			InitAttempts:     4,
			InitRetryDelay:   3 * time.Second,
		},
		Decoder: Decoder{
			Command:      []string{"multimon-ng", "-a", "DTMF", "-"},
			SafetyBuffer: 5 * time.Millisecond,
			KillStale:    true,
		},
		Paths: Paths{
			AudioDirectory: DefaultAudioDirectory,
			NotInAlertFlag: DefaultNotInAlertFlag,
			StateFile:      DefaultStateFilename,
			DecoderPIDFile: DefaultDecoderPIDFile,
		},
		Log: Log{
			Level:      "info",
			File:       filepath.Join("logs", "arms.log"),
			MaxSizeMB:  10,
			MaxBackups: 5,
			MaxAgeDays: 30,
		},
	}
}

// Load reads configuration from the provided path on top of Default and validates it.
// When only ErrInvalidSetting problems are found the configuration is returned
// together with the error, so that the caller can still broadcast the boot error.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigFilename
	}

	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("%w: read settings: %v", ErrFatalSetting, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(contents, cfg); err != nil {
		return nil, fmt.Errorf("%w: unmarshal settings: %v", ErrFatalSetting, err)
	}

	err = errors.Join(Validate(cfg), VerifyFiles(cfg))
	if err != nil && IsFatal(cfg, err) {
		return nil, err
	}

	return cfg, err
}

// Save writes the configuration to the provided path.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if path == "" {
		path = DefaultConfigFilename
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	// Restrict permissions.
	if err := os.WriteFile(filepath.Clean(path), data, DefaultFilePermissions); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}

	return nil
}

// IsFatal reports whether err prevents the controller from broadcasting the boot error.
func IsFatal(cfg *Config, err error) bool {
	if err == nil {
		return false
	}

	if cfg == nil || cfg.DisableErrorBroadcasting {
		return true
	}

	return errors.Is(err, ErrFatalSetting)
}

// ParagraphFiles returns the audio files of a paragraph, joined with the audio directory.
func (c *Config) ParagraphFiles(name string) []string {
	files := c.Paragraphs[name]
	paths := make([]string, 0, len(files))

	for _, file := range files {
		paths = append(paths, filepath.Join(c.Paths.AudioDirectory, file))
	}

	return paths
}

// RepeaterNameFile returns the announcement of the repeater on channel.
func (c *Config) RepeaterNameFile(channel int) string {
	return filepath.Join(c.Paths.RepeaterNameDirectory, fmt.Sprintf("%02d.wav", channel))
}

// OperatorNameFile returns the announcement of the operator.
func (c *Config) OperatorNameFile(id operator.ID) string {
	return filepath.Join(c.Paths.OperatorNameDirectory, id.String()+".wav")
}

// OperatorTable returns the operators keyed by ID. Invalid keys are skipped.
func (c *Config) OperatorTable() map[operator.ID]bool {
	table := make(map[operator.ID]bool, len(c.Operators))

	for key, active := range c.Operators {
		id, err := operator.ParseKey(key)
		if err != nil {
			continue
		}

		table[id] = active
	}

	return table
}
