package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/lazypower/nest/internal/affinity"
	"github.com/lazypower/nest/internal/engine"
	"github.com/lazypower/nest/internal/store"
)

var programsFormat string

var programsCmd = &cobra.Command{
	Use:   "programs [class...]",
	Short: "Show learned placements and predicted workspaces",
	Long: "Read the saved state and print each program's placement history, " +
		"its per-workspace scores and the workspace a new window would open on.",
	RunE: runPrograms,
}

func init() {
	programsCmd.Flags().StringVarP(&programsFormat, "format", "o", "text", "output format: text, json or yaml")
}

func runPrograms(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	backend, err := store.Open(cfg.Storage.Backend, cfg.Storage.Path)
	if err != nil {
		return fmt.Errorf("open state: %w", err)
	}
	defer backend.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
	defer cancel()
	records, err := backend.Load(ctx)
	if err != nil {
		return fmt.Errorf("load state: %w", err)
	}

	preds, err := predictions(records, args, cfg.Workspace.Tau, time.Now())
	if err != nil {
		return err
	}
	return printPredictions(cmd.OutOrStdout(), preds, programsFormat)
}

// predictions scores records, keeping only the named classes when any are given.
func predictions(records []affinity.Record, classes []string, tau float64, now time.Time) ([]engine.Prediction, error) {
	byClass := make(map[string]affinity.Record, len(records))
	for _, r := range records {
		byClass[r.Class] = r
	}

	out := make([]engine.Prediction, 0, len(records))
	if len(classes) == 0 {
		for _, r := range records {
			out = append(out, engine.Predict(r, tau, now))
		}
		return out, nil
	}
	for _, c := range classes {
		r, ok := byClass[c]
		if !ok {
			return nil, fmt.Errorf("%w: %s", affinity.ErrUnknownClass, c)
		}
		out = append(out, engine.Predict(r, tau, now))
	}
	return out, nil
}

func printPredictions(w io.Writer, preds []engine.Prediction, format string) error {
	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(preds)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(preds); err != nil {
			return err
		}
		return enc.Close()
	case "text", "":
		return printPredictionTable(w, preds)
	}
	return fmt.Errorf("unknown format %q (want text, json or yaml)", format)
}

func printPredictionTable(w io.Writer, preds []engine.Prediction) error {
	if len(preds) == 0 {
		_, err := fmt.Fprintln(w, "No programs recorded yet.")
		return err
	}

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "CLASS\tWORKSPACE\tSCORE\tPLACEMENTS\tFLOATING")
	for _, p := range preds {
		ws, score := "-", "-"
		if p.Workspace != nil {
			ws = fmt.Sprint(*p.Workspace)
			score = fmt.Sprintf("%.3f", p.Scores[0].Score)
		}
		floating := "-"
		if g := p.Floating; g != nil {
			floating = fmt.Sprintf("%dx%d+%d+%d", g.W, g.H, g.X, g.Y)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", p.Class, ws, score, len(p.Placements), floating)
	}
	return tw.Flush()
}
