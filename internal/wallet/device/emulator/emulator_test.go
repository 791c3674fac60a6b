package emulator_test

import (
	"context"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet/chain"
	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet/device"
	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet/device/emulator"
	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet/hdpath"
	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet/walleterr"
	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func connect(t *testing.T, app string) (*emulator.Emulator, *device.Session) {
	t.Helper()
	emu, err := emulator.New(emulator.Options{App: app})
	require.NoError(t, err)

	s := device.NewSession(emu.Opener(), device.Config{}, nil)
	require.NoError(t, s.Connect(context.Background(), time.Second))
	t.Cleanup(func() { _ = s.Disconnect(context.Background()) })
	return emu, s
}

func TestNewRejectsInvalidMnemonic(t *testing.T) {
	_, err := emulator.New(emulator.Options{Mnemonic: "not a valid mnemonic"})
	assert.Error(t, err)
}

func TestBitcoinAddressFormats(t *testing.T) {
	_, s := connect(t, "Bitcoin")

	tests := []struct {
		path string
		want string
	}{
		{"44'/0'/0'/0/0", "1LqBGSKuX5yYUonjxT5qGfpUsXKYYWeabA"},
		{"84'/0'/0'/0/0", "bc1qcr8te4kr609gcawutmrza0j4xv80jy8z306fyu"},
		{"86'/0'/0'/0/0", "bc1p5cyxnuxmeuwuvkwfem96lqzszd02n6xdcjrs20cac6yqjjwudpxqkedrcr"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			addr, err := s.DeriveAddress(context.Background(), chain.Bitcoin, hdpath.MustParse(chain.Bitcoin, tt.path), false)
			require.NoError(t, err)
			assert.Equal(t, tt.want, addr.Address)
		})
	}
}

func TestBitcoinTestnetAddress(t *testing.T) {
	_, s := connect(t, "Bitcoin Test")

	addr, err := s.DeriveAddress(context.Background(), chain.Bitcoin, hdpath.MustParse(chain.Bitcoin, "84'/1'/0'/0/0"), false)
	require.NoError(t, err)
	assert.Regexp(t, "^tb1q", addr.Address)

	pub, err := btcec.ParsePubKey(addr.PublicKey)
	require.NoError(t, err)
	want, err := emulator.BitcoinAddress(pub, device.BtcFormatSegwit, &chaincfg.TestNet3Params)
	require.NoError(t, err)
	assert.Equal(t, want, addr.Address)
}

func TestBitcoinDigestSignatures(t *testing.T) {
	_, s := connect(t, "Bitcoin")
	ctx := context.Background()
	digest := chainhash.DoubleHashB([]byte("sighash"))

	segwit := hdpath.MustParse(chain.Bitcoin, "84'/0'/0'/0/0")
	addr, err := s.DeriveAddress(ctx, chain.Bitcoin, segwit, false)
	require.NoError(t, err)
	pub, err := btcec.ParsePubKey(addr.PublicKey)
	require.NoError(t, err)

	sig, err := s.SignTransaction(ctx, chain.Bitcoin, segwit, device.EncodeBitcoinDigest(device.BitcoinSchemeECDSA, digest))
	require.NoError(t, err)
	require.Len(t, sig.Raw, 64)

	var r, sc btcec.ModNScalar
	r.SetByteSlice(sig.Raw[:32])
	sc.SetByteSlice(sig.Raw[32:])
	assert.True(t, ecdsa.NewSignature(&r, &sc).Verify(digest, pub))

	taproot := hdpath.MustParse(chain.Bitcoin, "86'/0'/0'/0/0")
	addr, err = s.DeriveAddress(ctx, chain.Bitcoin, taproot, false)
	require.NoError(t, err)
	pub, err = btcec.ParsePubKey(addr.PublicKey)
	require.NoError(t, err)

	sig, err = s.SignTransaction(ctx, chain.Bitcoin, taproot, device.EncodeBitcoinDigest(device.BitcoinSchemeSchnorr, digest))
	require.NoError(t, err)
	schnorrSig, err := schnorr.ParseSignature(sig.Raw)
	require.NoError(t, err)
	assert.True(t, schnorrSig.Verify(digest, txscript.ComputeTaprootKeyNoScript(pub)))
}

func TestBitcoinMessageSignatureRecovers(t *testing.T) {
	_, s := connect(t, "Bitcoin")
	ctx := context.Background()
	p := hdpath.MustParse(chain.Bitcoin, "84'/0'/0'/0/0")
	msg := []byte("hello from a hardware wallet")

	addr, err := s.DeriveAddress(ctx, chain.Bitcoin, p, false)
	require.NoError(t, err)

	sig, err := s.SignMessage(ctx, chain.Bitcoin, p, msg)
	require.NoError(t, err)
	require.Len(t, sig.Raw, 65)

	pub, compressed, err := ecdsa.RecoverCompact(sig.Raw, emulator.BitcoinMessageHash(msg))
	require.NoError(t, err)
	assert.True(t, compressed)
	assert.Equal(t, addr.PublicKey, pub.SerializeCompressed())
}

func TestEthereumPersonalSign(t *testing.T) {
	_, s := connect(t, "Ethereum")
	p := hdpath.Default(chain.EVM)
	msg := make([]byte, 400)

	sig, err := s.SignMessage(context.Background(), chain.EVM, p, msg)
	require.NoError(t, err)
	require.Len(t, sig.Raw, 65)

	rsv := append(append([]byte{}, sig.Raw[1:]...), sig.Raw[0]-27)
	pub, err := crypto.SigToPub(accounts.TextHash(msg), rsv)
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress("0x9858EfFD232B4033E47d90003D41EC34EcaEda94"), crypto.PubkeyToAddress(*pub))
}

func TestDisplayAddressAsksForConfirmation(t *testing.T) {
	emu, s := connect(t, "Ethereum")

	var seen []emulator.Request
	emu.SetConfirm(func(req emulator.Request) bool {
		seen = append(seen, req)
		return false
	})

	_, err := s.DeriveAddress(context.Background(), chain.EVM, hdpath.Default(chain.EVM), false)
	require.NoError(t, err)
	assert.Empty(t, seen)

	_, err = s.DeriveAddress(context.Background(), chain.EVM, hdpath.Default(chain.EVM), true)
	assert.True(t, errors.Is(err, walleterr.ErrUserRejected))
	require.Len(t, seen, 1)
	assert.Equal(t, emulator.RequestAddress, seen[0].Kind)
}

func TestWipedSeedRefusesToSign(t *testing.T) {
	emu, s := connect(t, "Solana")
	emu.Wipe()

	_, err := s.SignTransaction(context.Background(), chain.Solana, hdpath.Default(chain.Solana), []byte("message"))
	assert.True(t, errors.Is(err, walleterr.ErrDeviceLocked))
}
