// Package version holds the build metadata of the arms binary.
//
// Version, Commit and BuildTime are set with -ldflags "-X" at build time
// and keep placeholder values in development builds.
package version
