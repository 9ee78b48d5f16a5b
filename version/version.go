package version

import (
	"bytes"
	"fmt"
)

var (
	// GitCommit is the git commit that was compiled. It is filled in by
	// the compiler via ldflags.
	GitCommit string

	// Version is the main version number that is being run at the moment.
	Version = "0.1.0"

	// VersionPrerelease is a pre-release marker for the version. If this
	// is "" (empty string) then it means that it is a final release.
	// Otherwise, this is a pre-release such as "dev", "beta", "rc1", etc.
	VersionPrerelease = "dev"
)

// VersionInfo holds the pieces of a full version string.
type VersionInfo struct {
	Revision          string
	Version           string
	VersionPrerelease string
}

func GetVersion() *VersionInfo {
	return &VersionInfo{
		Revision:          GitCommit,
		Version:           Version,
		VersionPrerelease: VersionPrerelease,
	}
}

func (v *VersionInfo) VersionNumber() string {
	version := v.Version
	if v.VersionPrerelease != "" {
		version = fmt.Sprintf("%s-%s", version, v.VersionPrerelease)
	}
	return version
}

func (v *VersionInfo) FullVersionNumber(rev bool) string {
	var versionString bytes.Buffer

	fmt.Fprintf(&versionString, "Modelgate v%s", v.Version)
	if v.VersionPrerelease != "" {
		fmt.Fprintf(&versionString, "-%s", v.VersionPrerelease)
	}
	if rev && v.Revision != "" {
		fmt.Fprintf(&versionString, " (%s)", v.Revision)
	}

	return versionString.String()
}
