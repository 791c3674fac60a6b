package command

import (
	"encoding/json"
	"io"
	"strings"

	"github.com/davecgh/go-spew/spew"
	"github.com/dennisonbertram/mcp-ledger-sub001/internal/config"
	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet/chain"
	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet/hdpath"
	"github.com/pkg/errors"
)

var dumpConfig = spew.ConfigState{Indent: "  ", DisablePointerAddresses: true, SortKeys: true}

// PrintJSON writes v as indented JSON.
func PrintJSON(w io.Writer, v interface{}) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to marshal output")
	}
	_, err = w.Write(append(out, '\n'))
	return err
}

// Dump writes a deep, human readable rendering of values, e.g. crafted
// transactions for --dump.
func Dump(w io.Writer, values ...interface{}) {
	dumpConfig.Fdump(w, values...)
}

// ParsePath parses s as a derivation path of c. An empty s selects the
// default account.
func ParsePath(c chain.Chain, s string) (hdpath.DerivationPath, error) {
	if strings.TrimSpace(s) == "" {
		return hdpath.Default(c), nil
	}
	return hdpath.Parse(c, s)
}

// LoadConfig reads the configuration from the environment and .env.local.
func LoadConfig() (config.Config, error) {
	return config.Load(".env.local")
}
