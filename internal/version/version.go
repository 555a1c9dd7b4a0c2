package version

import (
	"fmt"
	"runtime"
)

// Stamped by the release build:
//
//	go build -ldflags "-X github.com/soyeahso/supportchat/internal/version.Version=0.4.0
//	  -X github.com/soyeahso/supportchat/internal/version.Commit=$(git rev-parse HEAD)
//	  -X github.com/soyeahso/supportchat/internal/version.Date=$(date -u +%F)"
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

// Build describes the running binary for health and status payloads.
type Build struct {
	Version string `json:"version"`
	Commit  string `json:"commit"`
	Date    string `json:"date"`
}

// Current returns the stamped build metadata with the commit shortened.
func Current() Build {
	return Build{Version: Version, Commit: short(Commit), Date: Date}
}

// Info returns a one-line description of the binary.
func Info() string {
	b := Current()
	return fmt.Sprintf("supportchat %s (commit: %s, built: %s, %s/%s)",
		b.Version, b.Commit, b.Date, runtime.GOOS, runtime.GOARCH)
}

func short(s string) string {
	if len(s) > 7 {
		return s[:7]
	}
	return s
}
