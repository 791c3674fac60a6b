package device

import (
	"crypto/ed25519"

	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet/chain"
	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet/hdpath"
	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet/walleterr"
	"github.com/gagliardetto/solana-go"
)

type solApp struct{}

func (solApp) getAddress(t Transport, p hdpath.DerivationPath, display bool) (*Address, error) {
	const op = "sol.get_pubkey"

	p1 := SolP1NonConfirm
	if display {
		p1 = SolP1Confirm
	}
	reply, err := exchange(t, op, command{cla: CLASolana, ins: InsSolGetPubkey, p1: p1, data: EncodePath(p.Indices())})
	if err != nil {
		return nil, err
	}
	if len(reply) != ed25519.PublicKeySize {
		return nil, walleterr.New(walleterr.KindInvalidPayload, op, "public key of %d bytes", len(reply))
	}

	return &Address{
		Chain:     chain.Solana,
		Path:      p.String(),
		Address:   solana.PublicKeyFromBytes(reply).String(),
		PublicKey: reply,
	}, nil
}

// signTransaction signs a serialized transaction message.
func (a solApp) signTransaction(t Transport, p hdpath.DerivationPath, payload []byte) (*Signature, error) {
	return a.sign(t, "sol.sign_message", InsSolSignMessage, p, payload)
}

// signMessage signs an off-chain message; msg must already carry the
// off-chain message header.
func (a solApp) signMessage(t Transport, p hdpath.DerivationPath, msg []byte) (*Signature, error) {
	return a.sign(t, "sol.sign_offchain_message", InsSolSignOffchain, p, msg)
}

// sign sends one signer path followed by the message. Chunks after the first
// set the extend flag; every chunk but the last sets the more flag.
func (solApp) sign(t Transport, op string, ins byte, p hdpath.DerivationPath, msg []byte) (*Signature, error) {
	if len(msg) == 0 {
		return nil, walleterr.New(walleterr.KindInvalidPayload, op, "empty message")
	}

	data := []byte{1}
	data = append(data, EncodePath(p.Indices())...)
	data = append(data, msg...)

	var reply []byte
	for i := 0; len(data) > 0; i++ {
		n := maxAPDUData
		if n > len(data) {
			n = len(data)
		}

		var p2 byte
		if i > 0 {
			p2 |= SolP2Extend
		}
		if n < len(data) {
			p2 |= SolP2More
		}

		var err error
		reply, err = exchange(t, op, command{cla: CLASolana, ins: ins, p1: SolP1Confirm, p2: p2, data: data[:n]})
		if err != nil {
			return nil, err
		}
		data = data[n:]
	}

	if len(reply) != ed25519.SignatureSize {
		return nil, walleterr.New(walleterr.KindInvalidPayload, op, "signature of %d bytes", len(reply))
	}
	return &Signature{Chain: chain.Solana, Raw: reply}, nil
}
