package device

import (
	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet/chain"
	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet/hdpath"
	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet/walleterr"
)

// app speaks the APDU dialect of one chain application.
type app interface {
	getAddress(t Transport, p hdpath.DerivationPath, display bool) (*Address, error)
	signTransaction(t Transport, p hdpath.DerivationPath, payload []byte) (*Signature, error)
	signMessage(t Transport, p hdpath.DerivationPath, msg []byte) (*Signature, error)
}

func appFor(c chain.Chain) (app, error) {
	switch c {
	case chain.EVM:
		return ethApp{}, nil
	case chain.Bitcoin:
		return btcApp{}, nil
	case chain.Solana:
		return solApp{}, nil
	default:
		return nil, walleterr.New(walleterr.KindInvalidRequest, "device", "unsupported chain %q", c)
	}
}

// getAppAndVersion asks the firmware which application is in the foreground.
func getAppAndVersion(t Transport) (*AppInfo, error) {
	const op = "get_app_and_version"

	data, err := exchange(t, op, command{cla: CLADashboard, ins: InsGetAppAndVersion})
	if err != nil {
		return nil, err
	}
	if len(data) < 1 || data[0] != AppInfoFormat {
		return nil, walleterr.New(walleterr.KindInvalidPayload, op, "unexpected app info format")
	}

	name, rest, err := lengthPrefixed(data[1:])
	if err != nil {
		return nil, walleterr.Wrap(walleterr.KindInvalidPayload, op, err)
	}
	version, _, err := lengthPrefixed(rest)
	if err != nil {
		return nil, walleterr.Wrap(walleterr.KindInvalidPayload, op, err)
	}

	return &AppInfo{Name: string(name), Version: string(version)}, nil
}

func appMatches(c chain.Chain, name string) bool {
	for _, candidate := range AppNames(c) {
		if candidate == name {
			return true
		}
	}
	return false
}

// chunked sends payload in APDU sized pieces, marking the first and the
// following chunks through P1. The reply of the last chunk is returned.
func chunked(t Transport, op string, cla, ins, p2 byte, payload []byte, chunkSize int) ([]byte, error) {
	var (
		reply []byte
		err   error
		p1    = P1FirstChunk
	)
	for len(payload) > 0 {
		n := chunkSize
		if n > len(payload) {
			n = len(payload)
		}
		reply, err = exchange(t, op, command{cla: cla, ins: ins, p1: p1, p2: p2, data: payload[:n]})
		if err != nil {
			return nil, err
		}
		payload = payload[n:]
		p1 = P1NextChunk
	}
	return reply, nil
}
