package device

import (
	"encoding/binary"
	"encoding/hex"

	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet/chain"
	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet/hdpath"
	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet/walleterr"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// ethEIP155Size is the size of the trailing chainID,0,0 of a legacy
// transaction. The Ethereum app cannot parse a final chunk that holds only
// those bytes.
const ethEIP155Size = 3

type ethApp struct{}

func (ethApp) getAddress(t Transport, p hdpath.DerivationPath, display bool) (*Address, error) {
	const op = "eth.get_address"

	p1 := byte(0x00)
	if display {
		p1 = P1ConfirmOnDevice
	}
	reply, err := exchange(t, op, command{cla: CLAEthereum, ins: InsEthGetAddress, p1: p1, data: EncodePath(p.Indices())})
	if err != nil {
		return nil, err
	}

	pub, rest, err := lengthPrefixed(reply)
	if err != nil {
		return nil, walleterr.Wrap(walleterr.KindInvalidPayload, op, err)
	}
	hexAddr, _, err := lengthPrefixed(rest)
	if err != nil {
		return nil, walleterr.Wrap(walleterr.KindInvalidPayload, op, err)
	}

	var addr common.Address
	if len(hexAddr) != 2*common.AddressLength {
		return nil, walleterr.New(walleterr.KindInvalidPayload, op, "address of %d characters", len(hexAddr))
	}
	if _, err := hex.Decode(addr[:], hexAddr); err != nil {
		return nil, walleterr.Wrap(walleterr.KindInvalidPayload, op, err)
	}

	return &Address{
		Chain:     chain.EVM,
		Path:      p.String(),
		Address:   addr.Hex(),
		PublicKey: pub,
	}, nil
}

// signTransaction streams the unsigned transaction (legacy EIP-155 RLP or a
// typed envelope) after the path and returns V‖R‖S.
func (ethApp) signTransaction(t Transport, p hdpath.DerivationPath, payload []byte) (*Signature, error) {
	const op = "eth.sign_transaction"

	if len(payload) == 0 {
		return nil, walleterr.New(walleterr.KindInvalidPayload, op, "empty transaction")
	}

	data := append(EncodePath(p.Indices()), payload...)

	chunk := maxAPDUData
	if payload[0] >= 0xc0 {
		// legacy transaction: avoid a final chunk holding only the EIP-155 tail
		for ; len(data)%chunk <= ethEIP155Size; chunk-- {
		}
	}

	reply, err := chunked(t, op, CLAEthereum, InsEthSignTx, 0x00, data, chunk)
	if err != nil {
		return nil, err
	}
	if len(reply) != crypto.SignatureLength {
		return nil, walleterr.New(walleterr.KindInvalidPayload, op, "reply lacks signature")
	}

	return &Signature{Chain: chain.EVM, Raw: reply}, nil
}

// signMessage signs msg with the EIP-191 personal message prefix.
func (ethApp) signMessage(t Transport, p hdpath.DerivationPath, msg []byte) (*Signature, error) {
	const op = "eth.sign_personal_message"

	data := EncodePath(p.Indices())
	var length [4]byte
	binary.BigEndian.PutUint32(length[:], uint32(len(msg))) //nolint:gosec // bounded by caller
	data = append(data, length[:]...)
	data = append(data, msg...)

	reply, err := chunked(t, op, CLAEthereum, InsEthSignPersonal, 0x00, data, maxAPDUData)
	if err != nil {
		return nil, err
	}
	if len(reply) != crypto.SignatureLength {
		return nil, walleterr.New(walleterr.KindInvalidPayload, op, "reply lacks signature")
	}

	return &Signature{Chain: chain.EVM, Raw: reply}, nil
}
