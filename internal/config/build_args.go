package config

import "fmt"

// The following vars are injected via -ldflags, e.g.
// -X github.com/dennisonbertram/mcp-ledger-sub001/internal/config.Commit=$(git rev-parse HEAD)
// No need to change them here.
var (
	// ModuleName is the name of the binary.
	ModuleName = "ledgerctl"
	// Commit is the git commit hash the binary was built from.
	Commit = "< 40 chars git commit hash via ldflags >"
	// BuildDate is the UTC build time.
	BuildDate = "1970-01-01-00:00:00"
)

// GetFormattedBuildArgs returns string representation of buildsargs set via ldflags "<ModuleName> @ <Commit> (<BuildDate>)".
func GetFormattedBuildArgs() string {
	return fmt.Sprintf("%v @ %v (%v)", ModuleName, Commit, BuildDate)
}
