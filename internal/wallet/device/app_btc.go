package device

import (
	"encoding/binary"

	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet/chain"
	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet/hdpath"
	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet/walleterr"
)

const (
	btcDigestSize    = 32
	btcSignatureSize = 64
	btcCompactSize   = 65
)

type btcApp struct{}

func btcAddressFormat(p hdpath.DerivationPath) (byte, error) {
	switch p.AddressType() {
	case hdpath.AddressTypeP2PKH:
		return BtcFormatLegacy, nil
	case hdpath.AddressTypeP2WPKH:
		return BtcFormatSegwit, nil
	case hdpath.AddressTypeP2TR:
		return BtcFormatTaproot, nil
	default:
		return 0, walleterr.New(walleterr.KindInvalidPath, "btc.address_format", "no address type for %s", p)
	}
}

func (btcApp) getAddress(t Transport, p hdpath.DerivationPath, display bool) (*Address, error) {
	const op = "btc.get_address"

	format, err := btcAddressFormat(p)
	if err != nil {
		return nil, err
	}

	p1 := byte(0x00)
	if display {
		p1 = P1ConfirmOnDevice
	}
	reply, err := exchange(t, op, command{cla: CLABitcoin, ins: InsBtcGetAddress, p1: p1, p2: format, data: EncodePath(p.Indices())})
	if err != nil {
		return nil, err
	}

	pub, rest, err := lengthPrefixed(reply)
	if err != nil {
		return nil, walleterr.Wrap(walleterr.KindInvalidPayload, op, err)
	}
	addr, _, err := lengthPrefixed(rest)
	if err != nil {
		return nil, walleterr.Wrap(walleterr.KindInvalidPayload, op, err)
	}

	return &Address{
		Chain:     chain.Bitcoin,
		Path:      p.String(),
		Address:   string(addr),
		PublicKey: pub,
	}, nil
}

// signTransaction signs one input sighash. payload is built with
// EncodeBitcoinDigest; the reply is R‖S for ECDSA or a BIP-340 signature.
func (btcApp) signTransaction(t Transport, p hdpath.DerivationPath, payload []byte) (*Signature, error) {
	const op = "btc.sign_digest"

	if len(payload) != 1+btcDigestSize {
		return nil, walleterr.New(walleterr.KindInvalidPayload, op, "digest payload of %d bytes", len(payload))
	}
	scheme := payload[0]
	if scheme != BitcoinSchemeECDSA && scheme != BitcoinSchemeSchnorr {
		return nil, walleterr.New(walleterr.KindInvalidPayload, op, "unknown signature scheme %d", scheme)
	}

	data := append(EncodePath(p.Indices()), payload[1:]...)
	reply, err := exchange(t, op, command{cla: CLABitcoin, ins: InsBtcSignDigest, p2: scheme, data: data})
	if err != nil {
		return nil, err
	}
	if len(reply) != btcSignatureSize {
		return nil, walleterr.New(walleterr.KindInvalidPayload, op, "signature of %d bytes", len(reply))
	}

	return &Signature{Chain: chain.Bitcoin, Raw: reply}, nil
}

// signMessage returns a BIP-137 compact signature (header‖R‖S).
func (btcApp) signMessage(t Transport, p hdpath.DerivationPath, msg []byte) (*Signature, error) {
	const op = "btc.sign_message"

	data := EncodePath(p.Indices())
	var length [4]byte
	binary.BigEndian.PutUint32(length[:], uint32(len(msg))) //nolint:gosec // bounded by caller
	data = append(data, length[:]...)
	data = append(data, msg...)

	reply, err := chunked(t, op, CLABitcoin, InsBtcSignMessage, 0x00, data, maxAPDUData)
	if err != nil {
		return nil, err
	}
	if len(reply) != btcCompactSize {
		return nil, walleterr.New(walleterr.KindInvalidPayload, op, "signature of %d bytes", len(reply))
	}

	return &Signature{Chain: chain.Bitcoin, Raw: reply}, nil
}
