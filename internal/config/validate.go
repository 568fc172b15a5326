package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/arthur326/ARMS/internal/domain/operator"
	"github.com/arthur326/ARMS/internal/domain/tone"
	"github.com/arthur326/ARMS/internal/logger"
)

// Paragraph names. Every one of them must be configured, and no other.
const (
	ParagraphAdviseCallerHeard       = "advise_caller_heard"
	ParagraphInitialAlert            = "initial_alert"
	ParagraphICDefined               = "ic_defined"
	ParagraphShortDelay              = "short_delay"
	ParagraphModerateDelay           = "moderate_delay"
	ParagraphLongDelay               = "long_delay"
	ParagraphAlertCancelled          = "alert_cancelled"
	ParagraphReturningNormalOp       = "arms_returning_normal_op"
	ParagraphICCodeTimedOut          = "ic_code_timed_out"
	ParagraphICCodeInvalid           = "ic_code_invalid"
	ParagraphTesting                 = "testing"
	ParagraphEnterOperatorCode       = "enter_operator_code"
	ParagraphTestingCodeInvalid      = "testing_code_invalid"
	ParagraphTestingCodeTimedOut     = "testing_code_timed_out"
	ParagraphGoingToCallingChannel   = "arms_going_to_calling_channel"
	ParagraphBackOnAlertChannel      = "arms_is_back_on_alert_channel"
	ParagraphAlertCancelConfirmation = "alert_cancel_confirm"
)

const (
	minToneDetectLength   = 50 * time.Millisecond
	minLongToneSampling   = 100 * time.Millisecond
	defaultLogMaxSizeMB   = 10
	defaultLogLevel       = "info"
	repeaterNameDirectory = "repeater_name"
	operatorNameDirectory = "operator_name"
	bootErrorFile         = "ARMS_boot_error.wav"
)

// RequiredParagraphs returns the paragraph names in sorted order.
func RequiredParagraphs() []string {
	names := []string{
		ParagraphAdviseCallerHeard,
		ParagraphInitialAlert,
		ParagraphICDefined,
		ParagraphShortDelay,
		ParagraphModerateDelay,
		ParagraphLongDelay,
		ParagraphAlertCancelled,
		ParagraphReturningNormalOp,
		ParagraphICCodeTimedOut,
		ParagraphICCodeInvalid,
		ParagraphTesting,
		ParagraphEnterOperatorCode,
		ParagraphTestingCodeInvalid,
		ParagraphTestingCodeTimedOut,
		ParagraphGoingToCallingChannel,
		ParagraphBackOnAlertChannel,
		ParagraphAlertCancelConfirmation,
	}
	sort.Strings(names)

	return names
}

// problems collects validation failures.
type problems []error

func (p *problems) invalid(format string, args ...any) {
	*p = append(*p, fmt.Errorf("%w: "+format, append([]any{ErrInvalidSetting}, args...)...))
}

func (p *problems) fatal(format string, args ...any) {
	*p = append(*p, fmt.Errorf("%w: "+format, append([]any{ErrFatalSetting}, args...)...))
}

func (p problems) err() error {
	return errors.Join(p...)
}

// Validate applies defaults to empty settings and checks values.
// It does not touch the file system, see VerifyFiles.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("%w: %w", ErrFatalSetting, errConfigIsNotSet)
	}

	applyDefaults(cfg)

	var p problems

	validateChannels(cfg, &p)
	validateTimings(cfg, &p)
	validateCommands(&cfg.Commands, &p)

	if _, _, err := net.SplitHostPort(cfg.Rig.Address); err != nil {
		p.fatal("rig.address %q: %v", cfg.Rig.Address, err)
	}

	if cfg.Audio.Backend != BackendMalgo && cfg.Audio.Backend != BackendPortAudio {
		p.fatal("audio.backend must be %q or %q, got %q", BackendMalgo, BackendPortAudio, cfg.Audio.Backend)
	}

	if len(cfg.Decoder.Command) == 0 || cfg.Decoder.Command[0] == "" {
		p.invalid("decoder.command must name a program")
	}

	if cfg.Decoder.SafetyBuffer < 0 {
		p.invalid("decoder.safety_buffer must not be negative")
	}

	if _, ok := logger.ParseLogLevel(cfg.Log.Level); !ok {
		p.invalid("log.level %q is unknown", cfg.Log.Level)
	}

	if cfg.Status.ListenAddress != "" {
		if _, err := net.ResolveTCPAddr("tcp", cfg.Status.ListenAddress); err != nil {
			p.invalid("status.listen_address %q: %v", cfg.Status.ListenAddress, err)
		}
	}

	for key := range cfg.Operators {
		if _, err := operator.ParseKey(key); err != nil {
			p.invalid("operators: %v", err)
		}
	}

	validateParagraphNames(cfg.Paragraphs, &p)

	return p.err()
}

func applyDefaults(cfg *Config) {
	if cfg.Rig.Address == "" {
		cfg.Rig.Address = DefaultRigAddress
	}

	if cfg.Rig.Timeout <= 0 {
		cfg.Rig.Timeout = DefaultRigTimeout
	}

	if cfg.Audio.Backend == "" {
		cfg.Audio.Backend = BackendMalgo
	}

	if cfg.Audio.OutputSampleRate <= 0 {
		cfg.Audio.OutputSampleRate = DefaultOutputSampleRate
	}

	if cfg.Audio.InitAttempts <= 0 {
		cfg.Audio.InitAttempts = 1
	}

	if cfg.BootErrorInterval <= 0 {
		cfg.BootErrorInterval = DefaultBootErrorInterval
	}

	if cfg.Scan.RetryDelay <= 0 {
		cfg.Scan.RetryDelay = DefaultScanRetryDelay
	}

	if cfg.Paths.AudioDirectory == "" {
		cfg.Paths.AudioDirectory = DefaultAudioDirectory
	}

	if cfg.Paths.RepeaterNameDirectory == "" {
		cfg.Paths.RepeaterNameDirectory = filepath.Join(cfg.Paths.AudioDirectory, repeaterNameDirectory)
	}

	if cfg.Paths.OperatorNameDirectory == "" {
		cfg.Paths.OperatorNameDirectory = filepath.Join(cfg.Paths.AudioDirectory, operatorNameDirectory)
	}

	if cfg.Paths.BootErrorFile == "" {
		cfg.Paths.BootErrorFile = filepath.Join(cfg.Paths.AudioDirectory, bootErrorFile)
	}

	if cfg.Paths.NotInAlertFlag == "" {
		cfg.Paths.NotInAlertFlag = DefaultNotInAlertFlag
	}

	if cfg.Paths.StateFile == "" {
		cfg.Paths.StateFile = DefaultStateFilename
	}

	if cfg.Paths.DecoderPIDFile == "" {
		cfg.Paths.DecoderPIDFile = DefaultDecoderPIDFile
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = defaultLogLevel
	}

	if cfg.Log.MaxSizeMB <= 0 {
		cfg.Log.MaxSizeMB = defaultLogMaxSizeMB
	}
}

func validateChannels(cfg *Config, p *problems) {
	if cfg.FirstChannel < 1 {
		p.invalid("first_channel must be positive")
	}

	if cfg.LastChannel < cfg.FirstChannel {
		p.invalid("last_channel must be greater than or equal to %d", cfg.FirstChannel)
	}

	if cfg.AlertChannel < 1 {
		p.invalid("alert_channel must be positive")
	}
}

func validateTimings(cfg *Config, p *problems) {
	if cfg.Scan.ToneDetectLength < minToneDetectLength {
		p.invalid("scan.tone_detect_length must be at least %s", minToneDetectLength)
	}

	lt := cfg.LongTone
	if lt.SamplingPeriod < minLongToneSampling {
		p.invalid("long_tone.sampling_period must be at least %s", minLongToneSampling)
	}

	if lt.TotalSamples <= 0 || lt.RequiredPositiveSamples <= 0 || lt.MaxPositiveSamples <= 0 {
		p.invalid("long_tone sample counts must be positive")
	}

	if lt.RequiredPositiveSamples > lt.MaxPositiveSamples {
		p.invalid("long_tone.required_positive_samples must not exceed max_positive_samples")
	}

	if cfg.Silence.SamplingPeriod < 0 || cfg.Silence.RequiredClearSamples < 0 {
		p.invalid("silence settings must not be negative")
	}

	if cfg.TransmitDelay < 0 {
		p.invalid("transmit_delay must not be negative")
	}

	if cfg.Timeouts.ConfirmCancel <= 0 {
		p.invalid("timeouts.confirm_cancel must be positive")
	}

	if cfg.Timeouts.TestingStar < 0 || cfg.Timeouts.OperatorID < 0 {
		p.invalid("timeouts must not be negative")
	}

	d := cfg.Delays
	if d.InitialAlertShortCount < 0 {
		p.invalid("delays.initial_alert_short_count must not be negative")
	}

	for name, v := range map[string]time.Duration{
		"initial_alert_short": d.InitialAlertShort,
		"initial_alert_long":  d.InitialAlertLong,
		"short_loop":          d.ShortLoop,
		"moderate_loop":       d.ModerateLoop,
		"long_loop":           d.LongLoop,
		"operator_loop":       d.OperatorLoop,
	} {
		if v < 0 {
			p.invalid("delays.%s must not be negative", name)
		}
	}
}

func validateCommands(c *Commands, p *problems) {
	single := map[string]string{
		"alert_trigger":      c.AlertTrigger,
		"test_trigger":       c.TestTrigger,
		"operator_id":        c.OperatorID,
		"operator_id_prefix": c.OperatorIDPrefix,
	}
	for name, v := range single {
		if _, err := tone.Parse(v); err != nil {
			p.invalid("commands.%s: %v", name, err)
		}
	}

	sequences := map[string]string{
		"cancel":         c.Cancel,
		"confirm_cancel": c.ConfirmCancel,
		"initial_alert":  c.InitialAlert,
		"short_delay":    c.ShortDelay,
		"moderate_delay": c.ModerateDelay,
		"long_delay":     c.LongDelay,
	}
	for name, v := range sequences {
		if !validSequence(v) {
			p.invalid("commands.%s %q must be a non-empty DTMF sequence", name, v)
		}
	}

	if c.AlertTrigger == c.TestTrigger {
		p.invalid("commands.alert_trigger and commands.test_trigger must differ")
	}
}

func validSequence(s string) bool {
	if s == "" {
		return false
	}

	for i := range len(s) {
		if !tone.Tone(s[i]).Valid() {
			return false
		}
	}

	return true
}

func validateParagraphNames(paragraphs map[string][]string, p *problems) {
	required := RequiredParagraphs()

	for _, name := range required {
		files, ok := paragraphs[name]
		if !ok {
			p.invalid("paragraphs.%s is missing", name)
			continue
		}

		if len(files) == 0 {
			p.invalid("paragraphs.%s is empty", name)
		}
	}

	for name := range paragraphs {
		if !slices.Contains(required, name) {
			p.invalid("paragraphs.%s is not a known paragraph", name)
		}
	}
}

// VerifyFiles checks that every audio file the controller may play is readable.
// A missing boot error file is fatal.
func VerifyFiles(cfg *Config) error {
	var p problems

	if err := readable(cfg.Paths.BootErrorFile); err != nil {
		p.fatal("boot error file: %v", err)
	}

	for ch := cfg.FirstChannel; ch <= cfg.LastChannel; ch++ {
		if err := readable(cfg.RepeaterNameFile(ch)); err != nil {
			p.invalid("repeater name of channel %d: %v", ch, err)
		}
	}

	for id, active := range cfg.OperatorTable() {
		if !active {
			continue
		}

		if err := readable(cfg.OperatorNameFile(id)); err != nil {
			p.invalid("name of operator %s: %v", id, err)
		}
	}

	names := make([]string, 0, len(cfg.Paragraphs))
	for name := range cfg.Paragraphs {
		names = append(names, name)
	}

	sort.Strings(names)

	for _, name := range names {
		for _, file := range cfg.ParagraphFiles(name) {
			if err := readable(file); err != nil {
				p.invalid("paragraph %s: %v", name, err)
			}
		}
	}

	return p.err()
}

// AudioFiles returns every distinct file referenced by the configuration.
func (c *Config) AudioFiles() []string {
	var files []string

	for _, name := range RequiredParagraphs() {
		files = append(files, c.ParagraphFiles(name)...)
	}

	for ch := c.FirstChannel; ch <= c.LastChannel; ch++ {
		files = append(files, c.RepeaterNameFile(ch))
	}

	for id, active := range c.OperatorTable() {
		if active {
			files = append(files, c.OperatorNameFile(id))
		}
	}

	sort.Strings(files)

	return slices.Compact(files)
}

func readable(path string) error {
	f, err := os.Open(filepath.Clean(path))
	if err != nil {
		return err
	}

	return f.Close()
}

// Describe returns a human-readable list of the problems in err.
func Describe(err error) string {
	return strings.Join(flatten(err), "\n")
}

func flatten(err error) []string {
	joined, ok := err.(interface{ Unwrap() []error })
	if !ok {
		return []string{"- " + err.Error()}
	}

	var lines []string
	for _, e := range joined.Unwrap() {
		lines = append(lines, flatten(e)...)
	}

	return lines
}
