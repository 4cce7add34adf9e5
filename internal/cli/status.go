package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/lazypower/nest/internal/server"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Query a running daemon",
	Long:  "Ask the daemon's status API for its health. Requires [server] enabled = true.",
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	h, err := server.NewClient(cfg.ListenAddr()).Health(cmd.Context())
	if err != nil {
		return fmt.Errorf("daemon not reachable at %s: %w", cfg.ListenAddr(), err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "nest %s: %s\n", h.Version, h.Status)
	fmt.Fprintf(out, "  uptime:    %s\n", (time.Duration(h.Uptime) * time.Second).String())
	fmt.Fprintf(out, "  programs:  %d\n", h.Programs)
	fmt.Fprintf(out, "  windows:   %d\n", h.Windows)
	fmt.Fprintf(out, "  workspace: %d\n", h.Workspace)
	fmt.Fprintf(out, "  state:     %s (unsaved changes: %t)\n", h.State, h.Dirty)
	return nil
}
