package approve

import (
	"github.com/dennisonbertram/mcp-ledger-sub001/internal/util/command"
	"github.com/spf13/cobra"
)

const (
	spenderFlag  = "spender"
	amountFlag   = "amount"
	decimalsFlag = "decimals"
	revokeFlag   = "revoke"
)

func New() *cobra.Command {
	return command.NewSubcommandGroup("approve",
		newEVM(),
		newSolana(),
	)
}
