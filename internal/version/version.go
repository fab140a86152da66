// Package version carries the build version, overridden at link time.
package version

// Version is set with -ldflags "-X github.com/hupe1980/agentsquad/internal/version.Version=...".
var Version = "dev"
