package version

// version is the version of neighd.
//
// This value is expected to be set via build-time injection.
var version string

// Version returns the version of neighd.
func Version() string {
	if version == "" {
		return "dev"
	}
	return version
}
