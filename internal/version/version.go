// Package version carries build metadata injected with -ldflags -X.
package version

import "fmt"

// Set by ldflags at build time.
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Info returns the version, commit and build date.
func Info() (string, string, string) {
	return Version, GitCommit, BuildDate
}

// UserAgent identifies idcap in outgoing requests, e.g. "idcap/1.2.0".
func UserAgent() string {
	return fmt.Sprintf("idcap/%s", Version)
}
