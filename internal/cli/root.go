package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/lazypower/nest/internal/config"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "nest",
	Short: "Put Hyprland windows back where you keep them",
	Long: "nest watches Hyprland, learns which workspace each program usually lives on, " +
		"and moves new windows there. Floating windows get their last position back.",
	SilenceUsage: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file (default <config dir>/nest/config.toml)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(programsCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(configCmd)
}

// loadConfig reads the --config file, creating it with defaults if missing.
func loadConfig() (config.Config, error) {
	path := configPath
	if path == "" {
		p, err := config.DefaultPath()
		if err != nil {
			return config.Config{}, err
		}
		path = p
	}
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}
