package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// Build metadata, stamped by the release build:
//
//	go build -ldflags "-X github.com/lazypower/nest/internal/cli.Version=v0.3.0 \
//	  -X github.com/lazypower/nest/internal/cli.Commit=$(git rev-parse --short HEAD)"
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the nest version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "nest %s (commit: %s, built: %s)\n", Version, Commit, BuildDate)
	},
}

// VersionString is the short form reported by the daemon's startup log and
// the status API.
func VersionString() string {
	return fmt.Sprintf("%s (%s)", Version, Commit)
}
