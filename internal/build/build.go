// Package build provides build information that is linked into the application. Other
// packages within this project can use this information in logs etc..
package build

var (
	// Version is the build version of the binary (e.g. v0.1.0, v0.1.0-rc.1, etc..).
	Version = "dev"

	// Commit is the git commit SHA of the build.
	Commit = "none"

	// Date is the date when the binary was built.
	Date = "unknown"

	// ProjectName is the name of the project.
	ProjectName = "sieve"
)

// MinimumSupportedIndexSchemaRevision is the oldest migration revision of a
// sqlite index this binary can serve.
const MinimumSupportedIndexSchemaRevision int64 = 1
