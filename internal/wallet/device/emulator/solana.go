package emulator

import (
	"crypto/ed25519"

	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet/chain"
	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet/device"
)

func (t *transport) handleSolana(ins, p1, p2 byte, data []byte) ([]byte, error) {
	switch ins {
	case device.InsSolGetPubkey:
		return t.solPubkey(p1, data)
	case device.InsSolSignMessage, device.InsSolSignOffchain:
		return t.solSign(ins, p2, data)
	default:
		return status(device.SWInsNotSupported), nil
	}
}

func (t *transport) solPubkey(p1 byte, data []byte) ([]byte, error) {
	indices, _, err := device.DecodePath(data)
	if err != nil {
		return status(device.SWInvalidData), nil
	}
	seed, ready := t.seed()
	if !ready {
		return status(device.SWSecurityStatus), nil
	}
	priv, err := deriveEd25519(seed, indices)
	if err != nil {
		return status(device.SWInvalidData), nil
	}

	if p1 == device.SolP1Confirm {
		approved, err := t.approve(Request{Kind: RequestAddress, Chain: chain.Solana, Path: indices})
		if err != nil {
			return nil, err
		}
		if !approved {
			return status(device.SWUserRejected), nil
		}
	}

	pub, _ := priv.Public().(ed25519.PublicKey)
	return ok(pub), nil
}

// solSign accumulates chunks flagged with more/extend and signs the message
// once the last chunk arrives.
func (t *transport) solSign(ins, p2 byte, data []byte) ([]byte, error) {
	if p2&device.SolP2Extend == 0 {
		if len(data) < 1 || data[0] != 1 {
			return status(device.SWInvalidData), nil
		}
		indices, rest, err := device.DecodePath(data[1:])
		if err != nil {
			return status(device.SWInvalidData), nil
		}
		t.pending = &pendingRequest{cla: device.CLASolana, ins: ins, path: indices, data: append([]byte{}, rest...)}
	} else {
		if t.pending == nil || t.pending.ins != ins {
			return status(device.SWInvalidData), nil
		}
		t.pending.data = append(t.pending.data, data...)
	}

	if p2&device.SolP2More != 0 {
		return ok(nil), nil
	}
	req := t.pending
	t.pending = nil

	kind := RequestTransaction
	if ins == device.InsSolSignOffchain {
		kind = RequestMessage
	}
	approved, err := t.approve(Request{Kind: kind, Chain: chain.Solana, Path: req.path, Payload: req.data})
	if err != nil {
		return nil, err
	}
	if !approved {
		return status(device.SWUserRejected), nil
	}

	seed, ready := t.seed()
	if !ready {
		return status(device.SWSecurityStatus), nil
	}
	priv, err := deriveEd25519(seed, req.path)
	if err != nil {
		return status(device.SWInvalidData), nil
	}

	return ok(ed25519.Sign(priv, req.data)), nil
}
