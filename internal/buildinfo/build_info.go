package buildinfo

import "fmt"

// BuildInfo identifies the build of the running binary. The fields are filled
// in at link time via -ldflags.
type BuildInfo struct {
	Version    string
	CommitHash string
	BuildDate  string
}

// String renders the build info as a single log-friendly line.
func (i BuildInfo) String() string {
	return fmt.Sprintf("version %s (%s) built on %s", i.Version, i.CommitHash, i.BuildDate)
}
