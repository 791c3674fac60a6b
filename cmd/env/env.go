package env

import (
	"github.com/dennisonbertram/mcp-ledger-sub001/internal/util/command"
	"github.com/spf13/cobra"
)

func New() *cobra.Command {
	return &cobra.Command{
		Use:   "env",
		Short: "Prints the effective configuration as JSON",
		Long: `Prints the configuration resolved from the environment and .env.local.
Secrets such as the emulator mnemonic are omitted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := command.LoadConfig()
			if err != nil {
				return err
			}
			return command.PrintJSON(cmd.OutOrStdout(), cfg)
		},
	}
}
