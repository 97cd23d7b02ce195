// Package version exposes build metadata, overridden at link time.
package version

// Version is the build version, set via -ldflags.
var Version = "dev"

// Commit is the git commit, set via -ldflags.
var Commit = "unknown"
