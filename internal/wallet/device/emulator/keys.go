package emulator

import (
	"crypto/ed25519"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/binary"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet/hdpath"
	"github.com/pkg/errors"
	"github.com/tyler-smith/go-bip32"
)

// deriveSecp256k1 walks a BIP-32 path from the seed.
func deriveSecp256k1(seed []byte, indices []uint32) (*btcec.PrivateKey, error) {
	masterKey, err := bip32.NewMasterKey(seed)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create master key")
	}

	key := masterKey
	for _, index := range indices {
		key, err = key.NewChildKey(index)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to derive child key at index %d", index)
		}
	}

	priv, _ := btcec.PrivKeyFromBytes(key.Key)
	return priv, nil
}

// deriveEd25519 implements SLIP-10 for ed25519, which only defines hardened
// derivation.
func deriveEd25519(seed []byte, indices []uint32) (ed25519.PrivateKey, error) {
	mac := hmac.New(sha512.New, []byte("ed25519 seed"))
	mac.Write(seed)
	sum := mac.Sum(nil)
	key, chainCode := sum[:32], sum[32:]

	for _, index := range indices {
		if index < hdpath.HardenedOffset {
			return nil, errors.Errorf("ed25519 derivation requires hardened index, got %d", index)
		}

		data := make([]byte, 0, 1+32+4)
		data = append(data, 0x00)
		data = append(data, key...)
		data = binary.BigEndian.AppendUint32(data, index)

		mac = hmac.New(sha512.New, chainCode)
		mac.Write(data)
		sum = mac.Sum(nil)
		key, chainCode = sum[:32], sum[32:]
	}

	return ed25519.NewKeyFromSeed(key), nil
}
