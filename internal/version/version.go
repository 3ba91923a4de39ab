package version

var (
	// Version is the semantic version of the binary. Set via -ldflags at build time.
	Version = "dev"
	// Commit is the git commit hash. Set via -ldflags at build time.
	Commit = "unknown"
	// BuildDate is the build timestamp. Set via -ldflags at build time.
	BuildDate = "unknown"
)
