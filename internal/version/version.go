package version

import "fmt"

// Set at build time with -ldflags "-X".
var (
	CLIName    = "ethpilot"
	CLIVersion = "0.1.0"
	Commit     = "unknown"
	BuildDate  = "unknown"
)

func Long() string {
	return fmt.Sprintf("%s %s (commit: %s, built: %s)", CLIName, CLIVersion, Commit, BuildDate)
}

// UserAgent identifies outbound provider requests.
func UserAgent() string {
	return CLIName + "/" + CLIVersion
}
