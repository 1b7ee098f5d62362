// Package version holds this repository's release version, reported by the
// guest helper's --version flag and by wsl-fs-notify-ctl's version
// subcommand.
package version

import "fmt"

const (
	// Major is the current major version.
	Major = 0
	// Minor is the current minor version.
	Minor = 1
	// Patch is the current patch version.
	Patch = 0
)

// String is the "major.minor.patch" rendering of the current version.
var String = fmt.Sprintf("%d.%d.%d", Major, Minor, Patch)
