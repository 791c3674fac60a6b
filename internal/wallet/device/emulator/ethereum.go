package emulator

import (
	"encoding/binary"
	"encoding/hex"
	"io"
	"math/big"

	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet/chain"
	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet/device"
	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/pkg/errors"
)

func (t *transport) handleEthereum(ins, p1 byte, data []byte) ([]byte, error) {
	switch ins {
	case device.InsEthGetAddress:
		return t.ethAddress(p1, data)
	case device.InsEthSignTx:
		return t.ethSignTx(p1, data)
	case device.InsEthSignPersonal:
		return t.ethSignPersonal(p1, data)
	case device.InsEthGetConfig:
		return ok([]byte{0x01, 1, 10, 4}), nil
	default:
		return status(device.SWInsNotSupported), nil
	}
}

func (t *transport) ethAddress(p1 byte, data []byte) ([]byte, error) {
	indices, _, err := device.DecodePath(data)
	if err != nil {
		return status(device.SWInvalidData), nil
	}
	seed, ready := t.seed()
	if !ready {
		return status(device.SWSecurityStatus), nil
	}
	priv, err := deriveSecp256k1(seed, indices)
	if err != nil {
		return status(device.SWInvalidData), nil
	}

	if p1 == device.P1ConfirmOnDevice {
		approved, err := t.approve(Request{Kind: RequestAddress, Chain: chain.EVM, Path: indices})
		if err != nil {
			return nil, err
		}
		if !approved {
			return status(device.SWUserRejected), nil
		}
	}

	pub := crypto.FromECDSAPub(priv.PubKey().ToECDSA())
	addr := crypto.PubkeyToAddress(*priv.PubKey().ToECDSA())
	hexAddr := hex.EncodeToString(addr.Bytes())

	reply := []byte{byte(len(pub))}
	reply = append(reply, pub...)
	reply = append(reply, byte(len(hexAddr)))
	reply = append(reply, hexAddr...)
	return ok(reply), nil
}

// ethSignTx buffers chunks until they form one complete RLP transaction.
func (t *transport) ethSignTx(p1 byte, data []byte) ([]byte, error) {
	switch p1 {
	case device.P1FirstChunk:
		indices, rest, err := device.DecodePath(data)
		if err != nil {
			return status(device.SWInvalidData), nil
		}
		t.pending = &pendingRequest{cla: device.CLAEthereum, ins: device.InsEthSignTx, path: indices, data: append([]byte{}, rest...)}
	case device.P1NextChunk:
		if t.pending == nil || t.pending.ins != device.InsEthSignTx {
			return status(device.SWInvalidData), nil
		}
		t.pending.data = append(t.pending.data, data...)
	default:
		return status(device.SWWrongP1P2), nil
	}

	payload := t.pending.data
	complete, legacy, err := ethComplete(payload)
	if err != nil {
		t.pending = nil
		return status(device.SWInvalidData), nil
	}
	if !complete {
		return ok(nil), nil
	}
	req := t.pending
	t.pending = nil

	approved, err := t.approve(Request{Kind: RequestTransaction, Chain: chain.EVM, Path: req.path, Payload: payload})
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
	priv, err := deriveSecp256k1(seed, req.path)
	if err != nil {
		return status(device.SWInvalidData), nil
	}

	sig, err := crypto.Sign(crypto.Keccak256(payload), priv.ToECDSA())
	if err != nil {
		return status(device.SWInvalidData), nil
	}

	v := sig[64]
	if legacy {
		chainID, err := legacyChainID(payload)
		if err != nil {
			return status(device.SWInvalidData), nil
		}
		// the app reports the low byte of chainID*2+35+parity
		v = byte(chainID.Uint64()*2 + 35 + uint64(v)) //nolint:gosec // truncation is the device behavior
	}

	reply := append([]byte{v}, sig[:64]...)
	return ok(reply), nil
}

// ethComplete reports whether payload holds exactly one transaction.
func ethComplete(payload []byte) (complete bool, legacy bool, err error) {
	if len(payload) == 0 {
		return false, false, nil
	}
	body := payload
	legacy = payload[0] >= 0xc0
	if !legacy {
		body = payload[1:]
	}

	_, _, rest, err := rlp.Split(body)
	if err != nil {
		if errors.Is(err, rlp.ErrValueTooLarge) || errors.Is(err, io.ErrUnexpectedEOF) {
			return false, legacy, nil
		}
		return false, legacy, err
	}
	if len(rest) != 0 {
		return false, legacy, errors.New("trailing bytes after transaction")
	}
	return true, legacy, nil
}

func legacyChainID(payload []byte) (*big.Int, error) {
	var fields []rlp.RawValue
	if err := rlp.DecodeBytes(payload, &fields); err != nil {
		return nil, err
	}
	const eip155Fields = 9
	if len(fields) != eip155Fields {
		return nil, errors.Errorf("legacy transaction has %d fields", len(fields))
	}
	chainID := new(big.Int)
	if err := rlp.DecodeBytes(fields[6], chainID); err != nil {
		return nil, err
	}
	return chainID, nil
}

func (t *transport) ethSignPersonal(p1 byte, data []byte) ([]byte, error) {
	switch p1 {
	case device.P1FirstChunk:
		indices, rest, err := device.DecodePath(data)
		if err != nil || len(rest) < 4 {
			return status(device.SWInvalidData), nil
		}
		t.pending = &pendingRequest{
			cla:      device.CLAEthereum,
			ins:      device.InsEthSignPersonal,
			path:     indices,
			expected: int(binary.BigEndian.Uint32(rest)),
			data:     append([]byte{}, rest[4:]...),
		}
	case device.P1NextChunk:
		if t.pending == nil || t.pending.ins != device.InsEthSignPersonal {
			return status(device.SWInvalidData), nil
		}
		t.pending.data = append(t.pending.data, data...)
	default:
		return status(device.SWWrongP1P2), nil
	}

	if len(t.pending.data) < t.pending.expected {
		return ok(nil), nil
	}
	req := t.pending
	t.pending = nil
	if len(req.data) != req.expected {
		return status(device.SWInvalidData), nil
	}

	approved, err := t.approve(Request{Kind: RequestMessage, Chain: chain.EVM, Path: req.path, Payload: req.data})
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
	priv, err := deriveSecp256k1(seed, req.path)
	if err != nil {
		return status(device.SWInvalidData), nil
	}

	sig, err := crypto.Sign(accounts.TextHash(req.data), priv.ToECDSA())
	if err != nil {
		return status(device.SWInvalidData), nil
	}

	reply := append([]byte{27 + sig[64]}, sig[:64]...)
	return ok(reply), nil
}
