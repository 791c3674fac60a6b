package send

import (
	"github.com/dennisonbertram/mcp-ledger-sub001/internal/util/command"
	"github.com/spf13/cobra"
)

const (
	toFlag     = "to"
	amountFlag = "amount"
)

func New() *cobra.Command {
	return command.NewSubcommandGroup("send",
		newEVM(),
		newBitcoin(),
		newSolana(),
	)
}
