// Package version reports the memctl build version.
package version

//nolint:gochecknoglobals // overridden at link time with -ldflags "-X".
var version = "dev"

// GetVersion returns the version stamped into the binary, or "dev".
func GetVersion() string {
	return version
}
