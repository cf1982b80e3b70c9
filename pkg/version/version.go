package version

import "fmt"

var (
	// Version contains the current version of netplugd
	Version = "dev"

	// CommitHash contains the current git commit hash
	CommitHash = "unknown"

	// BuildTime contains the time of build
	BuildTime = "unknown"
)

// String is the line printed by -version.
func String() string {
	return fmt.Sprintf("netplugd version %s (commit: %s, built at: %s)", Version, CommitHash, BuildTime)
}
