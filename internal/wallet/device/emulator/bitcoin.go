package emulator

import (
	"bytes"
	"encoding/binary"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet/chain"
	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet/device"
	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet/hdpath"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
)

const bitcoinMessageMagic = "Bitcoin Signed Message:\n"

func (t *transport) handleBitcoin(ins, p1, p2 byte, data []byte) ([]byte, error) {
	switch ins {
	case device.InsBtcGetAddress:
		return t.btcAddress(p1, p2, data)
	case device.InsBtcSignDigest:
		return t.btcSignDigest(p2, data)
	case device.InsBtcSignMessage:
		return t.btcSignMessage(p1, data)
	default:
		return status(device.SWInsNotSupported), nil
	}
}

func networkFor(indices []uint32) *chaincfg.Params {
	if len(indices) > 1 && indices[1]&^hdpath.HardenedOffset == hdpath.CoinTypeBitcoinTestnet {
		return &chaincfg.TestNet3Params
	}
	return &chaincfg.MainNetParams
}

// BitcoinAddress renders the address of pub in the given device format.
func BitcoinAddress(pub *btcec.PublicKey, format byte, params *chaincfg.Params) (string, error) {
	switch format {
	case device.BtcFormatLegacy:
		addr, err := btcutil.NewAddressPubKeyHash(btcutil.Hash160(pub.SerializeCompressed()), params)
		if err != nil {
			return "", err
		}
		return addr.EncodeAddress(), nil
	case device.BtcFormatSegwit:
		addr, err := btcutil.NewAddressWitnessPubKeyHash(btcutil.Hash160(pub.SerializeCompressed()), params)
		if err != nil {
			return "", err
		}
		return addr.EncodeAddress(), nil
	case device.BtcFormatTaproot:
		outputKey := txscript.ComputeTaprootKeyNoScript(pub)
		addr, err := btcutil.NewAddressTaproot(schnorr.SerializePubKey(outputKey), params)
		if err != nil {
			return "", err
		}
		return addr.EncodeAddress(), nil
	default:
		return "", errors.Errorf("unknown address format %d", format)
	}
}

func (t *transport) btcAddress(p1, p2 byte, data []byte) ([]byte, error) {
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

	addr, err := BitcoinAddress(priv.PubKey(), p2, networkFor(indices))
	if err != nil {
		return status(device.SWWrongP1P2), nil
	}

	if p1 == device.P1ConfirmOnDevice {
		approved, err := t.approve(Request{Kind: RequestAddress, Chain: chain.Bitcoin, Path: indices, Payload: []byte(addr)})
		if err != nil {
			return nil, err
		}
		if !approved {
			return status(device.SWUserRejected), nil
		}
	}

	pub := priv.PubKey().SerializeCompressed()
	reply := []byte{byte(len(pub))}
	reply = append(reply, pub...)
	reply = append(reply, byte(len(addr)))
	reply = append(reply, addr...)
	return ok(reply), nil
}

// btcSignDigest signs a sighash. Schnorr signatures use the BIP-86 tweaked
// key so they are valid for key path spends.
func (t *transport) btcSignDigest(scheme byte, data []byte) ([]byte, error) {
	indices, digest, err := device.DecodePath(data)
	if err != nil || len(digest) != chainhash.HashSize {
		return status(device.SWInvalidData), nil
	}

	approved, err := t.approve(Request{Kind: RequestTransaction, Chain: chain.Bitcoin, Path: indices, Payload: digest})
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
	priv, err := deriveSecp256k1(seed, indices)
	if err != nil {
		return status(device.SWInvalidData), nil
	}

	switch scheme {
	case device.BitcoinSchemeECDSA:
		sig, err := crypto.Sign(digest, priv.ToECDSA())
		if err != nil {
			return status(device.SWInvalidData), nil
		}
		return ok(sig[:64]), nil
	case device.BitcoinSchemeSchnorr:
		tweaked := txscript.TweakTaprootPrivKey(*priv, nil)
		sig, err := schnorr.Sign(tweaked, digest)
		if err != nil {
			return status(device.SWInvalidData), nil
		}
		return ok(sig.Serialize()), nil
	default:
		return status(device.SWWrongP1P2), nil
	}
}

// BitcoinMessageHash is the double SHA-256 of the BIP-137 framed message.
func BitcoinMessageHash(msg []byte) []byte {
	var buf bytes.Buffer
	_ = wire.WriteVarString(&buf, 0, bitcoinMessageMagic)
	_ = wire.WriteVarBytes(&buf, 0, msg)
	return chainhash.DoubleHashB(buf.Bytes())
}

func (t *transport) btcSignMessage(p1 byte, data []byte) ([]byte, error) {
	switch p1 {
	case device.P1FirstChunk:
		indices, rest, err := device.DecodePath(data)
		if err != nil || len(rest) < 4 {
			return status(device.SWInvalidData), nil
		}
		t.pending = &pendingRequest{
			cla:      device.CLABitcoin,
			ins:      device.InsBtcSignMessage,
			path:     indices,
			expected: int(binary.BigEndian.Uint32(rest)),
			data:     append([]byte{}, rest[4:]...),
		}
	case device.P1NextChunk:
		if t.pending == nil || t.pending.ins != device.InsBtcSignMessage {
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

	approved, err := t.approve(Request{Kind: RequestMessage, Chain: chain.Bitcoin, Path: req.path, Payload: req.data})
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

	sig, err := crypto.Sign(BitcoinMessageHash(req.data), priv.ToECDSA())
	if err != nil {
		return status(device.SWInvalidData), nil
	}

	// header 27 + 4 marks a compressed public key
	reply := append([]byte{27 + 4 + sig[64]}, sig[:64]...)
	return ok(reply), nil
}
