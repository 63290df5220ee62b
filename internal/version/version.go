// Package version carries build information injected at link time.
package version

import (
	"fmt"
	"runtime"
)

// Set with -ldflags "-X evalgo.org/anchor/internal/version.Version=..."
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

// Info describes the running binary.
type Info struct {
	Version   string `json:"version"`
	BuildTime string `json:"build_time"`
	GitCommit string `json:"git_commit"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

// Get returns the build information of this binary.
func Get() Info {
	return Info{
		Version:   Version,
		BuildTime: BuildTime,
		GitCommit: GitCommit,
		GoVersion: runtime.Version(),
		Platform:  fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
	}
}

// Short returns just the version and commit.
func (i Info) Short() string {
	return fmt.Sprintf("anchor %s (%s)", i.Version, i.GitCommit)
}

func (i Info) String() string {
	return fmt.Sprintf("anchor %s (%s) built at %s with %s on %s",
		i.Version,
		i.GitCommit,
		i.BuildTime,
		i.GoVersion,
		i.Platform,
	)
}
