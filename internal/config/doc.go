// Package config defines the controller settings and provides helpers to
// load, validate and save them in YAML format.
//
// Problems are reported as a joined error. Every problem wraps either
// ErrInvalidSetting, which still lets the controller announce the boot error
// over the air, or ErrFatalSetting, which does not.
package config
