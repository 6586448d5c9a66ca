// SPDX-License-Identifier: MIT
//
// Package build carries the metadata linked into the binary with -ldflags:
//
//	go build -ldflags "-X vocalscope/pkg/build.buildName=vocalscope \
//	  -X vocalscope/pkg/build.buildVersion=0.3.0 ..."
//
// Release builds call Initialize and refuse to start without it; development
// builds use InitializeOrDefault.
package build

import "fmt"

const description = "Real-time voice analysis: pitch, formants, spectrogram and speech metrics"

type ldFlags struct {
	Name        string
	Time        string
	Commit      string
	Version     string
	Description string
}

// Populated by -ldflags.
var (
	buildName    string
	buildTime    string
	buildCommit  string
	buildVersion string
	buildFlags   = &ldFlags{
		Name:        "unknown",
		Time:        "unknown",
		Commit:      "unknown",
		Version:     "unknown",
		Description: description,
	}
)

// Initialize copies the linked values into the build flags. It fails if any
// of them is missing.
func Initialize() error {
	if buildName == "" {
		return fmt.Errorf("BuildName is required")
	}
	if buildTime == "" {
		return fmt.Errorf("BuildTime is required")
	}
	if buildCommit == "" {
		return fmt.Errorf("BuildCommit is required")
	}
	if buildVersion == "" {
		return fmt.Errorf("BuildVersion is required")
	}

	buildFlags.Name = buildName
	buildFlags.Time = buildTime
	buildFlags.Commit = buildCommit
	buildFlags.Version = buildVersion
	return nil
}

// InitializeOrDefault is Initialize for builds without linker flags: missing
// values become the project name and "dev". It reports whether every value
// was linked.
func InitializeOrDefault() bool {
	if err := Initialize(); err == nil {
		return true
	}
	buildFlags.Name = orDefault(buildName, "vocalscope")
	buildFlags.Time = orDefault(buildTime, "unknown")
	buildFlags.Commit = orDefault(buildCommit, "unknown")
	buildFlags.Version = orDefault(buildVersion, "dev")
	return false
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// GetBuildFlags returns the build information.
func GetBuildFlags() *ldFlags {
	return buildFlags
}

// String formats the flags for --version output.
func (f *ldFlags) String() string {
	return fmt.Sprintf("%s (commit %s, built %s)", f.Version, f.Commit, f.Time)
}
