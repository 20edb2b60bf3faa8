package build

import (
	"fmt"
	"runtime/debug"
	"strings"
)

const (
	appMajor uint = 0
	appMinor uint = 1
	appPatch uint = 0
)

var (
	// Commit is set at link time to the git describe output.
	Commit string

	// RawTags is set at link time to the comma separated build tags.
	RawTags string
)

var (
	// CommitHash is the VCS revision recorded by the Go toolchain.
	CommitHash string

	// GoVersion is the toolchain the binary was built with.
	GoVersion string
)

func init() {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}

	GoVersion = info.GoVersion
	for _, setting := range info.Settings {
		if setting.Key == "vcs.revision" {
			CommitHash = setting.Value
		}
	}
}

// Version returns the semantic version of the application.
func Version() string {
	return fmt.Sprintf("%d.%d.%d", appMajor, appMinor, appPatch)
}

// Tags returns the build tags the binary was linked with.
func Tags() []string {
	if RawTags == "" {
		return nil
	}

	return strings.Split(RawTags, ",")
}
