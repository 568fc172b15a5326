// Package logger provides a small wrapper around zap to offer:
//   - a global sugared logger with a console encoder,
//   - an optional rotating log file (lumberjack) teed with the console,
//   - context helpers (ToContext/FromContext/WithName/WithKV/WithFields),
//   - level configuration and parsing utilities,
//   - convenience functions (Infof, ErrorKV, etc.).
//
// The controller, its collaborators and the entry point accept a context and
// extract the logger from it, so every log line carries the component name
// and the alert episode it belongs to.
package logger
