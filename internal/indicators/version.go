package indicators

import (
	"github.com/Masterminds/semver/v3"
)

// ProcessorVersion is stamped on every frame this package produces. Bump
// the minor version when a column's formula changes, the major version when
// the column set itself changes.
const ProcessorVersion = "1.0.0"

// Compatible reports whether a frame stamped with version v may be consumed
// alongside frames from the current processor. Frames from a different
// major or from an older minor are invalid.
func Compatible(v string) bool {
	other, err := semver.NewVersion(v)
	if err != nil {
		return false
	}
	current := semver.MustParse(ProcessorVersion)
	if other.Major() != current.Major() {
		return false
	}
	return other.Minor() >= current.Minor()
}
