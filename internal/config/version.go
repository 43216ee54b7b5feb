package config

import "fmt"

// CurrentVersion is the configuration file version this build understands.
// A missing version is treated as current.
const CurrentVersion = 1

// VersionError describes a configuration version this build cannot read.
type VersionError struct {
	Version int
	Current int
	Newer   bool
}

func (e *VersionError) Error() string {
	if e == nil {
		return ""
	}
	if e.Newer {
		return fmt.Sprintf("config version %d was written for a newer livecanvas (this build reads version %d)", e.Version, e.Current)
	}
	return fmt.Sprintf("config version %d is not supported (this build reads version %d)", e.Version, e.Current)
}

// ValidateVersion reports whether version can be read by this build.
func ValidateVersion(version int) error {
	switch {
	case version == CurrentVersion:
		return nil
	case version > CurrentVersion:
		return &VersionError{Version: version, Current: CurrentVersion, Newer: true}
	default:
		return &VersionError{Version: version, Current: CurrentVersion}
	}
}
