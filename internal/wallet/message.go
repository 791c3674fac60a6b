package wallet

import (
	"context"
	"encoding/hex"

	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet/bitcoin"
	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet/chain"
	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet/evm"
	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet/hdpath"
	sol "github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet/solana"
	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet/walleterr"
)

// SignedMessage is a message signature in the chain's customary encoding:
// 0x hex R‖S‖V for EVM, base64 BIP-137 for Bitcoin and base58 for Solana.
type SignedMessage struct {
	Chain     chain.Chain `json:"chain"`
	Path      string      `json:"path"`
	Address   string      `json:"address"`
	Message   string      `json:"message"`
	Signature string      `json:"signature"`
}

// SignMessage signs msg with the key at p. Message signing never touches
// the chain, so it works without RPC endpoints.
func (w *Wallet) SignMessage(ctx context.Context, c chain.Chain, p hdpath.DerivationPath, msg []byte) (*SignedMessage, error) {
	const op = "wallet.sign_message"

	res := &SignedMessage{Chain: c, Path: p.String(), Message: string(msg)}

	switch c {
	case chain.EVM:
		crafter := w.EVM
		if crafter == nil {
			crafter = evm.NewCrafter(nil, w.Device, evm.DefaultConfig())
		}
		sig, from, err := crafter.SignPersonalMessage(ctx, &evm.Request{Path: p}, msg)
		if err != nil {
			return nil, err
		}
		res.Address = from.Hex()
		res.Signature = "0x" + hex.EncodeToString(sig)

	case chain.Bitcoin:
		crafter := w.Bitcoin
		if crafter == nil {
			btcCfg, err := w.Config.BitcoinCrafterConfig()
			if err != nil {
				return nil, err
			}
			crafter = bitcoin.NewCrafter(nil, w.Device, btcCfg)
		}
		sig, addr, err := crafter.SignMessage(ctx, p, msg)
		if err != nil {
			return nil, err
		}
		res.Address = addr
		res.Signature = sig

	case chain.Solana:
		crafter := w.Solana
		if crafter == nil {
			crafter = sol.NewCrafter(nil, w.Device, w.Config.SolanaCrafterConfig())
		}
		sig, signer, err := crafter.SignOffchainMessage(ctx, p, msg)
		if err != nil {
			return nil, err
		}
		res.Address = signer.String()
		res.Signature = sig.String()

	default:
		return nil, walleterr.New(walleterr.KindInvalidRequest, op, "unsupported chain %q", c)
	}

	return res, nil
}
