package bitcoin_test

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/hex"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/davecgh/go-spew/spew"
	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet/bitcoin"
	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet/chain"
	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet/device"
	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet/device/emulator"
	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet/hdpath"
	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet/walleterr"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	segwitAddress  = "bc1qcr8te4kr609gcawutmrza0j4xv80jy8z306fyu"
	taprootAddress = "bc1p5cyxnuxmeuwuvkwfem96lqzszd02n6xdcjrs20cac6yqjjwudpxqkedrcr"
	legacyAddress  = "1LqBGSKuX5yYUonjxT5qGfpUsXKYYWeabA"
	recipient      = "bc1qw508d6qejxtdg4y5r3zarvary0c5xw7kv8f3t4"
)

var (
	segwitPath  = hdpath.MustParse(chain.Bitcoin, "84'/0'/0'/0/0")
	taprootPath = hdpath.MustParse(chain.Bitcoin, "86'/0'/0'/0/0")
	legacyPath  = hdpath.MustParse(chain.Bitcoin, "44'/0'/0'/0/0")
)

type fakeChain struct {
	mu sync.Mutex

	utxos     map[string][]bitcoin.UTXO
	fees      bitcoin.FeeEstimates
	rawTxs    map[string]*wire.MsgTx
	queried   []string
	broadcast []string
}

func newFakeChain() *fakeChain {
	return &fakeChain{
		utxos:  map[string][]bitcoin.UTXO{},
		fees:   bitcoin.FeeEstimates{Fast: 20, Standard: 10, Slow: 2},
		rawTxs: map[string]*wire.MsgTx{},
	}
}

func (f *fakeChain) UTXOs(_ context.Context, address string) ([]bitcoin.UTXO, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queried = append(f.queried, address)
	return append([]bitcoin.UTXO(nil), f.utxos[address]...), nil
}

func (f *fakeChain) FeeEstimates(context.Context) (*bitcoin.FeeEstimates, error) {
	fees := f.fees
	return &fees, nil
}

func (f *fakeChain) RawTransaction(_ context.Context, txid string) (*wire.MsgTx, error) {
	tx, ok := f.rawTxs[txid]
	if !ok {
		return nil, walleterr.New(walleterr.KindRPC, "raw_transaction", "unknown transaction %s", txid)
	}
	return tx, nil
}

func (f *fakeChain) Broadcast(_ context.Context, rawHex string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.broadcast = append(f.broadcast, rawHex)

	raw, err := hex.DecodeString(rawHex)
	if err != nil {
		return "", err
	}
	tx := wire.NewMsgTx(2)
	if err := tx.Deserialize(bytes.NewReader(raw)); err != nil {
		return "", err
	}
	return tx.TxHash().String(), nil
}

func (f *fakeChain) fund(address string, values ...btcutil.Amount) {
	for i, v := range values {
		f.utxos[address] = append(f.utxos[address], bitcoin.UTXO{
			TxID:          (chainhash.Hash{byte(len(f.utxos[address]) + 1), byte(i), 0xbc}).String(),
			Vout:          uint32(i), //nolint:gosec // small test index
			Value:         v,
			Confirmations: 3,
			Spendable:     true,
		})
	}
}

// fundLegacy creates a previous transaction paying value to address so P2PKH
// inputs can carry it in the PSBT.
func (f *fakeChain) fundLegacy(t *testing.T, address string, value btcutil.Amount) {
	t.Helper()

	addr, err := btcutil.DecodeAddress(address, &chaincfg.MainNetParams)
	require.NoError(t, err)
	script, err := txscript.PayToAddrScript(addr)
	require.NoError(t, err)

	prev := wire.NewMsgTx(2)
	prev.AddTxIn(wire.NewTxIn(wire.NewOutPoint(&chainhash.Hash{0x44}, 0), nil, nil))
	prev.AddTxOut(wire.NewTxOut(int64(value), script))

	txid := prev.TxHash().String()
	f.rawTxs[txid] = prev
	f.utxos[address] = append(f.utxos[address], bitcoin.UTXO{
		TxID:          txid,
		Vout:          0,
		Value:         value,
		Confirmations: 10,
		Spendable:     true,
	})
}

type signCounter struct {
	mu    sync.Mutex
	count int
	deny  bool
}

func (c *signCounter) confirm(req emulator.Request) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if req.Kind == emulator.RequestTransaction {
		c.count++
	}
	return !c.deny
}

func (c *signCounter) signs() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}

func newCrafter(t *testing.T, client bitcoin.ChainClient, cfg bitcoin.Config) (*bitcoin.Crafter, *signCounter) {
	t.Helper()

	emu, err := emulator.New(emulator.Options{App: "Bitcoin"})
	require.NoError(t, err)
	counter := &signCounter{}
	emu.SetConfirm(counter.confirm)

	session := device.NewSession(emu.Opener(), device.Config{}, nil)
	require.NoError(t, session.Connect(context.Background(), time.Second))
	t.Cleanup(func() { _ = session.Disconnect(context.Background()) })

	return bitcoin.NewCrafter(client, session, cfg), counter
}

func payment(amount btcutil.Amount, paths ...hdpath.DerivationPath) *bitcoin.Request {
	return &bitcoin.Request{
		Paths:   paths,
		Outputs: []bitcoin.Output{{Address: recipient, Amount: amount}},
		FeeRate: 5,
	}
}

func outputSum(tx *wire.MsgTx) btcutil.Amount {
	var sum btcutil.Amount
	for _, out := range tx.TxOut {
		sum += btcutil.Amount(out.Value)
	}
	return sum
}

func inputSum(inputs []bitcoin.UTXO) btcutil.Amount {
	var sum btcutil.Amount
	for _, in := range inputs {
		sum += in.Value
	}
	return sum
}

func TestCraftSelectsLeastWastefulUTXO(t *testing.T) {
	client := newFakeChain()
	client.fund(segwitAddress, 10_000, 50_000, 100_000)
	crafter, counter := newCrafter(t, client, bitcoin.DefaultConfig())
	ctx := context.Background()

	res, err := crafter.Craft(ctx, payment(40_000, segwitPath))
	require.NoError(t, err, spew.Sdump(res))

	require.Len(t, res.Inputs, 1)
	assert.Equal(t, btcutil.Amount(50_000), res.Inputs[0].Value)
	assert.Equal(t, btcutil.Amount(705), res.Fee)
	assert.Equal(t, int64(141), res.VSize)
	assert.Equal(t, "branch-and-bound", res.Strategy)
	require.NotNil(t, res.Change)
	assert.Equal(t, bitcoin.Output{Address: segwitAddress, Amount: 9_295}, *res.Change)
	assert.Equal(t, []string{segwitAddress}, client.queried)
	assert.Zero(t, counter.signs(), "crafting never asks for a signature")

	unsigned := res.Packet.UnsignedTx
	assert.Equal(t, res.Fee, inputSum(res.Inputs)-outputSum(unsigned))
	for _, in := range unsigned.TxIn {
		assert.Equal(t, uint32(0xfffffffd), in.Sequence)
	}

	signed, err := crafter.Sign(ctx, res)
	require.NoError(t, err)
	assert.Equal(t, 1, counter.signs())
	assert.Equal(t, signed.Tx.TxHash().String(), signed.TxID)
	assert.LessOrEqual(t, signed.VSize, res.VSize)
	assert.Equal(t, res.Fee, signed.Fee)
	assert.InDelta(t, float64(705)/float64(signed.VSize), signed.FeeRate, 1e-9)

	require.Len(t, signed.Tx.TxOut, 2)
	assert.Equal(t, int64(40_000), signed.Tx.TxOut[0].Value)
	assert.Equal(t, int64(9_295), signed.Tx.TxOut[1].Value)
	require.Len(t, signed.Tx.TxIn[0].Witness, 2)

	txid, err := crafter.Broadcast(ctx, signed)
	require.NoError(t, err)
	assert.Equal(t, signed.TxID, txid)
	assert.Equal(t, []string{signed.Hex}, client.broadcast)
}

func TestSignSpendsEveryScriptType(t *testing.T) {
	client := newFakeChain()
	client.fund(segwitAddress, 30_000)
	client.fund(taprootAddress, 30_000)
	client.fundLegacy(t, legacyAddress, 30_000)
	crafter, counter := newCrafter(t, client, bitcoin.DefaultConfig())
	ctx := context.Background()

	req := payment(80_000, segwitPath, taprootPath, legacyPath)
	req.FeeRate = 2
	res, err := crafter.Craft(ctx, req)
	require.NoError(t, err)
	require.Len(t, res.Inputs, 3)
	assert.Equal(t, res.Fee, inputSum(res.Inputs)-outputSum(res.Packet.UnsignedTx))

	for i, in := range res.Inputs {
		pin := res.Packet.Inputs[i]
		switch in.AddressType {
		case hdpath.AddressTypeP2PKH:
			assert.NotNil(t, pin.NonWitnessUtxo)
			require.Len(t, pin.Bip32Derivation, 1)
			assert.Equal(t, legacyPath.Indices(), pin.Bip32Derivation[0].Bip32Path)
		case hdpath.AddressTypeP2TR:
			assert.NotNil(t, pin.WitnessUtxo)
			require.Len(t, pin.TaprootBip32Derivation, 1)
			assert.Equal(t, taprootPath.Indices(), pin.TaprootBip32Derivation[0].Bip32Path)
		default:
			assert.NotNil(t, pin.WitnessUtxo)
			require.Len(t, pin.Bip32Derivation, 1)
			assert.Equal(t, segwitPath.Indices(), pin.Bip32Derivation[0].Bip32Path)
		}
	}

	signed, err := crafter.Sign(ctx, res)
	require.NoError(t, err, "every input passes script verification")
	assert.Equal(t, 3, counter.signs())
	assert.Equal(t, btcutil.Amount(90_000)-res.Fee, outputSum(signed.Tx))
}

func TestPSBTRoundTrip(t *testing.T) {
	client := newFakeChain()
	client.fund(segwitAddress, 75_000)
	crafter, _ := newCrafter(t, client, bitcoin.DefaultConfig())

	res, err := crafter.Craft(context.Background(), payment(40_000, segwitPath))
	require.NoError(t, err)

	b64, err := res.PSBTBase64()
	require.NoError(t, err)

	packet, err := psbt.NewFromRawBytes(strings.NewReader(b64), true)
	require.NoError(t, err)
	assert.Equal(t, res.Packet.UnsignedTx.TxHash(), packet.UnsignedTx.TxHash())
	require.NotNil(t, packet.Inputs[0].WitnessUtxo)
	assert.Equal(t, int64(75_000), packet.Inputs[0].WitnessUtxo.Value)
}

func TestSignTwiceFails(t *testing.T) {
	client := newFakeChain()
	client.fund(segwitAddress, 75_000)
	crafter, _ := newCrafter(t, client, bitcoin.DefaultConfig())
	ctx := context.Background()

	res, err := crafter.Craft(ctx, payment(40_000, segwitPath))
	require.NoError(t, err)
	_, err = crafter.Sign(ctx, res)
	require.NoError(t, err)

	_, err = crafter.Sign(ctx, res)
	assert.True(t, errors.Is(err, walleterr.ErrInvalidRequest))
}

func TestCraftInsufficientFundsNeverSigns(t *testing.T) {
	client := newFakeChain()
	client.fund(segwitAddress, 10_000, 20_000)
	crafter, counter := newCrafter(t, client, bitcoin.DefaultConfig())

	_, err := crafter.Craft(context.Background(), payment(40_000, segwitPath))
	assert.True(t, errors.Is(err, walleterr.ErrInsufficientFunds), "got %v", err)
	assert.Zero(t, counter.signs())
}

func TestCraftSkipsUnspendableUTXOs(t *testing.T) {
	client := newFakeChain()
	client.fund(segwitAddress, 50_000, 100_000)
	client.utxos[segwitAddress][1].Spendable = false
	client.utxos[segwitAddress][1].Confirmations = 0
	crafter, _ := newCrafter(t, client, bitcoin.DefaultConfig())

	req := payment(40_000, segwitPath)
	req.Strategy = bitcoin.LargestFirst{}
	res, err := crafter.Craft(context.Background(), req)
	require.NoError(t, err)

	require.Len(t, res.Inputs, 1)
	assert.Equal(t, btcutil.Amount(50_000), res.Inputs[0].Value)
	assert.Equal(t, "largest-first", res.Strategy)
}

func TestCraftRejectsExcessiveFee(t *testing.T) {
	client := newFakeChain()
	client.fund(segwitAddress, 100_000)
	crafter, _ := newCrafter(t, client, bitcoin.DefaultConfig())
	ctx := context.Background()

	req := payment(1_000, segwitPath)
	req.FeeRate = 100
	_, err := crafter.Craft(ctx, req)
	assert.True(t, errors.Is(err, walleterr.ErrInvalidRequest), "got %v", err)

	req.Force = true
	res, err := crafter.Craft(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, btcutil.Amount(14_100), res.Fee)
}

func TestCraftUsesTierEstimate(t *testing.T) {
	client := newFakeChain()
	client.fund(segwitAddress, 100_000)
	crafter, _ := newCrafter(t, client, bitcoin.DefaultConfig())

	req := payment(40_000, segwitPath)
	req.FeeRate = 0
	req.Tier = bitcoin.TierFast
	res, err := crafter.Craft(context.Background(), req)
	require.NoError(t, err)

	assert.InDelta(t, 20.0, res.FeeRate, 0)
	assert.Equal(t, bitcoin.FeeForVSize(res.VSize, 20), res.Fee)
}

func TestCraftSendsChangeToRequestedAddress(t *testing.T) {
	client := newFakeChain()
	client.fund(segwitAddress, 100_000)
	crafter, _ := newCrafter(t, client, bitcoin.DefaultConfig())

	req := payment(40_000, segwitPath)
	req.ChangeAddress = taprootAddress
	res, err := crafter.Craft(context.Background(), req)
	require.NoError(t, err)

	require.NotNil(t, res.Change)
	assert.Equal(t, taprootAddress, res.Change.Address)
	// a taproot change output adds 12 non-witness bytes
	assert.Equal(t, int64(153), res.VSize)
}

func TestCraftTestnet(t *testing.T) {
	client := newFakeChain()
	cfg := bitcoin.DefaultConfig()
	cfg.Network = &chaincfg.TestNet3Params
	crafter, _ := newCrafter(t, client, cfg)

	req := &bitcoin.Request{
		Paths:   []hdpath.DerivationPath{hdpath.MustParse(chain.Bitcoin, "84'/1'/0'/0/0")},
		Outputs: []bitcoin.Output{{Address: "tb1qw508d6qejxtdg4y5r3zarvary0c5xw7kxpjzsx", Amount: 10_000}},
		FeeRate: 1,
	}
	_, err := crafter.Craft(context.Background(), req)
	assert.True(t, errors.Is(err, walleterr.ErrInsufficientFunds))

	require.Len(t, client.queried, 1)
	assert.True(t, strings.HasPrefix(client.queried[0], "tb1q"), client.queried[0])
}

func TestCraftValidation(t *testing.T) {
	client := newFakeChain()
	client.fund(segwitAddress, 100_000)
	crafter, counter := newCrafter(t, client, bitcoin.DefaultConfig())

	tests := []struct {
		name string
		req  *bitcoin.Request
		want *walleterr.Error
	}{
		{"nil request", nil, walleterr.ErrInvalidRequest},
		{"no paths", &bitcoin.Request{Outputs: []bitcoin.Output{{Address: recipient, Amount: 1_000}}}, walleterr.ErrInvalidPath},
		{"no outputs", &bitcoin.Request{Paths: []hdpath.DerivationPath{segwitPath}}, walleterr.ErrInvalidRequest},
		{"evm path", payment(1_000, hdpath.Default(chain.EVM)), walleterr.ErrInvalidPath},
		{"testnet path on mainnet", payment(1_000, hdpath.MustParse(chain.Bitcoin, "84'/1'/0'/0/0")), walleterr.ErrInvalidPath},
		{"dust output", payment(500, segwitPath), walleterr.ErrInvalidRequest},
		{"negative fee rate", func() *bitcoin.Request { r := payment(1_000, segwitPath); r.FeeRate = -1; return r }(), walleterr.ErrInvalidRequest},
		{"garbage address", func() *bitcoin.Request {
			r := payment(1_000, segwitPath)
			r.Outputs[0].Address = "not-an-address"
			return r
		}(), walleterr.ErrInvalidAddress},
		{"testnet address", func() *bitcoin.Request {
			r := payment(1_000, segwitPath)
			r.Outputs[0].Address = "tb1qw508d6qejxtdg4y5r3zarvary0c5xw7kxpjzsx"
			return r
		}(), walleterr.ErrInvalidAddress},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := crafter.Craft(context.Background(), tt.req)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
	assert.Zero(t, counter.signs())
}

func TestSignSurfacesUserRejection(t *testing.T) {
	client := newFakeChain()
	client.fund(segwitAddress, 100_000)
	crafter, counter := newCrafter(t, client, bitcoin.DefaultConfig())
	ctx := context.Background()

	res, err := crafter.Craft(ctx, payment(40_000, segwitPath))
	require.NoError(t, err)

	counter.mu.Lock()
	counter.deny = true
	counter.mu.Unlock()

	_, err = crafter.Sign(ctx, res)
	assert.True(t, errors.Is(err, walleterr.ErrUserRejected), "got %v", err)
}

func TestSignMessage(t *testing.T) {
	crafter, _ := newCrafter(t, newFakeChain(), bitcoin.DefaultConfig())
	msg := []byte("proof of reserves")

	sig, address, err := crafter.SignMessage(context.Background(), segwitPath, msg)
	require.NoError(t, err)
	assert.Equal(t, segwitAddress, address)

	raw, err := base64.StdEncoding.DecodeString(sig)
	require.NoError(t, err)
	pub, _, err := ecdsa.RecoverCompact(raw, bitcoin.MessageHash(msg))
	require.NoError(t, err)

	addr, err := bitcoin.AddressForKey(pub, hdpath.AddressTypeP2WPKH, &chaincfg.MainNetParams)
	require.NoError(t, err)
	assert.Equal(t, segwitAddress, addr.EncodeAddress())
}

func TestParseNetwork(t *testing.T) {
	for name, want := range map[string]*chaincfg.Params{
		"":        &chaincfg.MainNetParams,
		"mainnet": &chaincfg.MainNetParams,
		"testnet": &chaincfg.TestNet3Params,
		"signet":  &chaincfg.SigNetParams,
		"regtest": &chaincfg.RegressionNetParams,
	} {
		got, err := bitcoin.ParseNetwork(name)
		require.NoError(t, err)
		assert.Equal(t, want.Name, got.Name)
	}

	_, err := bitcoin.ParseNetwork("litecoin")
	assert.True(t, errors.Is(err, walleterr.ErrInvalidRequest))
}
