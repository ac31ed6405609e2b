package version

// Version and Commit are set at build time:
//
//	-ldflags "-X github.com/arencloud/depot/internal/version.Version=vX.Y.Z -X github.com/arencloud/depot/internal/version.Commit=abc123"
var (
	Version = "dev"
	Commit  = ""
)

// String is Version with the commit appended when known.
func String() string {
	if Commit == "" {
		return Version
	}
	return Version + " (" + Commit + ")"
}
