// Package version carries build metadata injected with -ldflags.
package version

import "fmt"

// Overridden at build time, e.g.
// -ldflags "-X flight-price-alerts/internal/version.Version=v1.2.0".
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

// String renders the build metadata on one line.
func String() string {
	return fmt.Sprintf("flightwatch %s (commit %s, built %s)", Version, Commit, BuildDate)
}

// UserAgent identifies outbound API calls.
func UserAgent() string {
	return "flightwatch/" + Version
}
