package solana

import (
	"context"
	"crypto/ed25519"
	"encoding/binary"
	"unicode/utf8"

	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet/chain"
	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet/hdpath"
	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet/walleterr"
	"github.com/gagliardetto/solana-go"
)

const (
	offchainSigningDomain = "\xffsolana offchain"
	offchainVersion       = 0

	// MessageFormatASCII is printable ASCII, MessageFormatUTF8 any valid
	// UTF-8 text.
	MessageFormatASCII byte = 0
	MessageFormatUTF8  byte = 1

	offchainHeaderSize = len(offchainSigningDomain) + 1 + 1 + 2

	// MaxOffchainMessageSize is the longest message body the device signs.
	MaxOffchainMessageSize = MaxTransactionSize - offchainHeaderSize
)

// OffchainMessage prefixes msg with the version 0 off-chain message header:
// signing domain, version, format and little endian length.
func OffchainMessage(msg []byte) ([]byte, error) {
	const op = "sol.offchain_message"

	if len(msg) == 0 {
		return nil, walleterr.New(walleterr.KindInvalidRequest, op, "empty message")
	}
	if len(msg) > MaxOffchainMessageSize {
		return nil, walleterr.New(walleterr.KindInvalidRequest, op,
			"message of %d bytes exceeds %d bytes", len(msg), MaxOffchainMessageSize)
	}
	if !utf8.Valid(msg) {
		return nil, walleterr.New(walleterr.KindInvalidRequest, op, "message is not valid UTF-8")
	}

	format := MessageFormatASCII
	for _, b := range msg {
		if b < 0x20 || b > 0x7e {
			format = MessageFormatUTF8
			break
		}
	}

	out := make([]byte, 0, offchainHeaderSize+len(msg))
	out = append(out, offchainSigningDomain...)
	out = append(out, offchainVersion, format)
	out = binary.LittleEndian.AppendUint16(out, uint16(len(msg)))
	return append(out, msg...), nil
}

// SignOffchainMessage signs msg as an off-chain message with the key at p and
// returns the signature and the signer.
func (c *Crafter) SignOffchainMessage(ctx context.Context, p hdpath.DerivationPath, msg []byte) (solana.Signature, solana.PublicKey, error) {
	const op = "sol.sign_offchain_message"

	if p.Chain() != chain.Solana {
		return solana.Signature{}, solana.PublicKey{}, walleterr.New(walleterr.KindInvalidPath, op, "path %s is not a Solana path", p)
	}

	framed, err := OffchainMessage(msg)
	if err != nil {
		return solana.Signature{}, solana.PublicKey{}, err
	}

	signer, err := c.signer(ctx, &Request{Path: p})
	if err != nil {
		return solana.Signature{}, solana.PublicKey{}, err
	}

	sig, err := c.device.SignMessage(ctx, chain.Solana, p, framed)
	if err != nil {
		return solana.Signature{}, solana.PublicKey{}, err
	}
	if len(sig.Raw) != ed25519.SignatureSize {
		return solana.Signature{}, solana.PublicKey{}, walleterr.New(walleterr.KindInvalidPayload, op, "signature of %d bytes", len(sig.Raw))
	}

	signature := solana.SignatureFromBytes(sig.Raw)
	if !signer.Verify(framed, signature) {
		return solana.Signature{}, solana.PublicKey{}, walleterr.New(walleterr.KindInvalidPayload, op, "signature does not verify against %s", signer)
	}

	return signature, signer, nil
}
