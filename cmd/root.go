package cmd

import (
	"fmt"
	"os"

	"github.com/dennisonbertram/mcp-ledger-sub001/cmd/address"
	"github.com/dennisonbertram/mcp-ledger-sub001/cmd/approve"
	"github.com/dennisonbertram/mcp-ledger-sub001/cmd/balance"
	"github.com/dennisonbertram/mcp-ledger-sub001/cmd/call"
	"github.com/dennisonbertram/mcp-ledger-sub001/cmd/env"
	"github.com/dennisonbertram/mcp-ledger-sub001/cmd/keystore"
	"github.com/dennisonbertram/mcp-ledger-sub001/cmd/probe"
	"github.com/dennisonbertram/mcp-ledger-sub001/cmd/send"
	"github.com/dennisonbertram/mcp-ledger-sub001/cmd/signmessage"
	"github.com/dennisonbertram/mcp-ledger-sub001/internal/config"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Version: config.GetFormattedBuildArgs(),
	Use:     config.ModuleName,
	Short:   "Sign EVM, Bitcoin and Solana transactions with a Ledger device",
	Long: fmt.Sprintf(`%v

Crafts transactions against the configured chain endpoints and signs them
on a Ledger hardware wallet (USB HID, Speculos TCP or the built in emulator).
Requires configuration through ENV.`, config.ModuleName),
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	// attach the subcommands
	rootCmd.AddCommand(
		address.New(),
		approve.New(),
		balance.New(),
		call.New(),
		env.New(),
		keystore.New(),
		probe.New(),
		send.New(),
		signmessage.New(),
	)

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("Failed to execute root command")
		os.Exit(1)
	}
}
