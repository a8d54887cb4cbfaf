package system

import (
	"runtime"
)

var (
	// The current version of the daemon, set at build time through ldflags.
	Version = "develop"
)

// Information describes the running daemon for diagnostics output.
type Information struct {
	Version      string `json:"version"`
	GoVersion    string `json:"go_version"`
	Architecture string `json:"architecture"`
	OS           string `json:"os"`
	CpuCount     int    `json:"cpu_count"`
}

func GetSystemInformation() Information {
	return Information{
		Version:      Version,
		GoVersion:    runtime.Version(),
		Architecture: runtime.GOARCH,
		OS:           runtime.GOOS,
		CpuCount:     runtime.NumCPU(),
	}
}
