package main

import "github.com/dennisonbertram/mcp-ledger-sub001/cmd"

func main() {
	cmd.Execute()
}
