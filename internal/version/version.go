// Package version holds the build version stamped via ldflags.
package version

// Version is set at build time via -ldflags "-X parley/internal/version.Version=...".
var Version = "0.1.0"
