package chain

import (
	"strings"

	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet/walleterr"
)

// Chain identifies one of the chain families the wallet can sign for.
type Chain string

const (
	EVM     Chain = "evm"
	Bitcoin Chain = "bitcoin"
	Solana  Chain = "solana"
)

// All lists the supported chains in display order.
var All = []Chain{EVM, Bitcoin, Solana}

func (c Chain) String() string {
	return string(c)
}

// Valid reports whether c is one of the supported chains.
func (c Chain) Valid() bool {
	switch c {
	case EVM, Bitcoin, Solana:
		return true
	default:
		return false
	}
}

// Parse accepts the canonical names plus the usual short aliases.
func Parse(s string) (Chain, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "evm", "eth", "ethereum":
		return EVM, nil
	case "bitcoin", "btc":
		return Bitcoin, nil
	case "solana", "sol":
		return Solana, nil
	default:
		return "", walleterr.New(walleterr.KindInvalidRequest, "chain.parse", "unsupported chain %q", s)
	}
}

// ParseRPCURLs 解析 RPC URL（支持多个，逗号分隔）
func ParseRPCURLs(rpcURL string) []string {
	if rpcURL == "" {
		return nil
	}

	urls := strings.Split(rpcURL, ",")
	result := make([]string, 0, len(urls))

	for _, url := range urls {
		url = strings.TrimSpace(url)
		if url != "" {
			result = append(result, url)
		}
	}

	return result
}
