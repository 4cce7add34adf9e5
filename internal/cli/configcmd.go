package cli

import (
	"github.com/spf13/cobra"

	"github.com/lazypower/nest/internal/config"
)

var configDefaults bool

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Default()
		if !configDefaults {
			var err error
			if cfg, err = loadConfig(); err != nil {
				return err
			}
		}
		return cfg.Encode(cmd.OutOrStdout())
	},
}

func init() {
	configCmd.Flags().BoolVar(&configDefaults, "defaults", false, "print the built-in defaults instead")
}
