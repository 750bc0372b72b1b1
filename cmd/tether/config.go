package main

import (
	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"
)

func configCmd(global *globalFlags) *cobra.Command {
	var check bool

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Long: `Print the configuration after defaults and flags are applied, as TOML.

With --check the configuration is validated instead, and the command
fails if any startup invariant is violated.

Examples:
  tether config
  tether config -c tether.json --check`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd.Context(), global)
			if err != nil {
				return err
			}
			if check {
				if err := cfg.Validate(); err != nil {
					return err
				}
				source := cfg.Source()
				if source == "" {
					source = "defaults"
				}
				success("configuration from %s is valid", source)
				return nil
			}
			return toml.NewEncoder(cmd.OutOrStdout()).Encode(cfg)
		},
	}

	cmd.Flags().BoolVar(&check, "check", false, "Validate instead of printing")

	return cmd
}
