package version

import (
	"os"
	"runtime"
)

var (
	// Set during the build process using ldflags
	Version   = "development"
	CommitSHA = "unknown"
	BuildTime = "unknown"
)

func init() {
	if v := os.Getenv("VERSION"); v != "" {
		Version = v
	}
	if c := os.Getenv("COMMIT_SHA"); c != "" {
		CommitSHA = c
	}
	if b := os.Getenv("BUILD_TIME"); b != "" {
		BuildTime = b
	}
}

// Info is the build information reported by the version command
type Info struct {
	Version   string `json:"version"`
	CommitSHA string `json:"commit_sha"`
	BuildTime string `json:"build_time"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

// Get returns the build information of the running binary
func Get() Info {
	return Info{
		Version:   Version,
		CommitSHA: CommitSHA,
		BuildTime: BuildTime,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
}

// GetVersion returns the full version string
func GetVersion() string {
	return Version + " (" + CommitSHA + ") built at " + BuildTime
}
