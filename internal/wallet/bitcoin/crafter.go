package bitcoin

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/hex"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/dennisonbertram/mcp-ledger-sub001/internal/util"
	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet/chain"
	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet/device"
	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet/hdpath"
	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet/walleterr"
	"github.com/pkg/errors"
)

const (
	txVersion = 2
	// signals opt-in replace by fee
	rbfSequence uint32 = wire.MaxTxInSequenceNum - 2

	// DefaultMaxFeeRatio is the largest fee accepted relative to the
	// payment outputs.
	DefaultMaxFeeRatio = 0.2

	messageMagic = "Bitcoin Signed Message:\n"
)

// Config holds the network and the fee policy of the crafter.
type Config struct {
	Network     *chaincfg.Params
	DustLimit   btcutil.Amount
	MaxFeeRatio float64
	Strategy    Strategy
}

// DefaultConfig returns mainnet with branch and bound selection.
func DefaultConfig() Config {
	return Config{
		Network:     &chaincfg.MainNetParams,
		DustLimit:   DefaultDustLimit,
		MaxFeeRatio: DefaultMaxFeeRatio,
		Strategy:    BranchAndBound{},
	}
}

// Crafter funds, signs and broadcasts Bitcoin transactions.
type Crafter struct {
	client ChainClient
	device Device
	cfg    Config
}

func NewCrafter(client ChainClient, dev Device, cfg Config) *Crafter {
	def := DefaultConfig()
	if cfg.Network == nil {
		cfg.Network = def.Network
	}
	if cfg.DustLimit <= 0 {
		cfg.DustLimit = def.DustLimit
	}
	if cfg.MaxFeeRatio <= 0 || cfg.MaxFeeRatio > 1 {
		cfg.MaxFeeRatio = def.MaxFeeRatio
	}
	if cfg.Strategy == nil {
		cfg.Strategy = def.Strategy
	}
	return &Crafter{client: client, device: dev, cfg: cfg}
}

// source is an address the wallet spends from.
type source struct {
	path     hdpath.DerivationPath
	pub      *btcec.PublicKey
	addr     btcutil.Address
	pkScript []byte
}

// Craft selects inputs for req and builds the unsigned PSBT. The device is
// only asked for the public keys of the source paths.
func (c *Crafter) Craft(ctx context.Context, req *Request) (*PSBTResult, error) {
	const op = "bitcoin.craft"
	log := util.LogFromContext(ctx)

	outputs, target, err := c.validate(req)
	if err != nil {
		return nil, err
	}

	sources, err := c.sources(ctx, req.Paths)
	if err != nil {
		return nil, err
	}

	utxos, err := c.collect(ctx, sources)
	if err != nil {
		return nil, err
	}

	rate, err := c.feeRate(ctx, req)
	if err != nil {
		return nil, err
	}

	changeScript := sources[0].pkScript
	changeAddress := sources[0].addr.EncodeAddress()
	if req.ChangeAddress != "" {
		if changeScript, err = c.payScript(req.ChangeAddress); err != nil {
			return nil, err
		}
		changeAddress = req.ChangeAddress
	}

	strategy := req.Strategy
	if strategy == nil {
		strategy = c.cfg.Strategy
	}

	scripts := make([][]byte, len(outputs))
	for i, out := range outputs {
		scripts[i] = out.PkScript
	}
	sel, err := strategy.Select(utxos, target, SelectionParams{
		FeeRate:       rate,
		OutputScripts: scripts,
		ChangeScript:  changeScript,
		DustLimit:     c.cfg.DustLimit,
	})
	if err != nil {
		return nil, err
	}

	if !req.Force {
		if maxFee := btcutil.Amount(float64(target) * c.cfg.MaxFeeRatio); sel.Fee > maxFee {
			return nil, walleterr.New(walleterr.KindInvalidRequest, op,
				"fee %s exceeds %.0f%% of the %s sent", sel.Fee, c.cfg.MaxFeeRatio*100, target)
		}
	}

	tx := wire.NewMsgTx(txVersion)
	for _, in := range sel.Inputs {
		hash, err := chainhash.NewHashFromStr(in.TxID)
		if err != nil {
			return nil, walleterr.Wrap(walleterr.KindRPC, op, err)
		}
		txIn := wire.NewTxIn(wire.NewOutPoint(hash, in.Vout), nil, nil)
		txIn.Sequence = rbfSequence
		tx.AddTxIn(txIn)
	}
	for _, out := range outputs {
		tx.AddTxOut(out)
	}

	var change *Output
	if sel.Change > 0 {
		tx.AddTxOut(wire.NewTxOut(int64(sel.Change), changeScript))
		change = &Output{Address: changeAddress, Amount: sel.Change}
	}

	if err := checkFee(tx, sel); err != nil {
		return nil, err
	}

	packet, err := c.packet(ctx, tx, sel.Inputs)
	if err != nil {
		return nil, err
	}

	log.Info().
		Str("op", op).
		Str("strategy", strategy.Name()).
		Int("inputs", len(sel.Inputs)).
		Int64("target", int64(target)).
		Int64("fee", int64(sel.Fee)).
		Int64("change", int64(sel.Change)).
		Int64("waste", int64(sel.Waste)).
		Int64("vsize", sel.VSize).
		Float64("fee_rate", rate).
		Msg("Crafted Bitcoin transaction")

	return &PSBTResult{
		Packet:   packet,
		Inputs:   sel.Inputs,
		Outputs:  req.Outputs,
		Change:   change,
		Fee:      sel.Fee,
		FeeRate:  rate,
		Size:     sel.Size,
		VSize:    sel.VSize,
		Strategy: strategy.Name(),
	}, nil
}

func (c *Crafter) validate(req *Request) ([]*wire.TxOut, btcutil.Amount, error) {
	const op = "bitcoin.craft"

	if req == nil {
		return nil, 0, walleterr.New(walleterr.KindInvalidRequest, op, "missing request")
	}
	if len(req.Paths) == 0 {
		return nil, 0, walleterr.New(walleterr.KindInvalidPath, op, "at least one source path is required")
	}
	if len(req.Outputs) == 0 {
		return nil, 0, walleterr.New(walleterr.KindInvalidRequest, op, "at least one output is required")
	}
	if req.FeeRate < 0 {
		return nil, 0, walleterr.New(walleterr.KindInvalidRequest, op, "fee rate must not be negative")
	}

	testnet := c.cfg.Network.Net != wire.MainNet
	for _, p := range req.Paths {
		if p.Chain() != chain.Bitcoin {
			return nil, 0, walleterr.New(walleterr.KindInvalidPath, op, "path %s is not a Bitcoin path", p)
		}
		if p.Testnet() != testnet {
			return nil, 0, walleterr.New(walleterr.KindInvalidPath, op, "path %s does not belong to %s", p, c.cfg.Network.Name)
		}
	}

	outputs := make([]*wire.TxOut, 0, len(req.Outputs))
	var target btcutil.Amount
	for _, out := range req.Outputs {
		if out.Amount < c.cfg.DustLimit {
			return nil, 0, walleterr.New(walleterr.KindInvalidRequest, op, "output of %s is below the dust limit %s", out.Amount, c.cfg.DustLimit)
		}
		script, err := c.payScript(out.Address)
		if err != nil {
			return nil, 0, err
		}
		outputs = append(outputs, wire.NewTxOut(int64(out.Amount), script))
		target += out.Amount
	}

	return outputs, target, nil
}

func (c *Crafter) payScript(address string) ([]byte, error) {
	const op = "bitcoin.address"

	addr, err := btcutil.DecodeAddress(address, c.cfg.Network)
	if err != nil {
		return nil, walleterr.Wrap(walleterr.KindInvalidAddress, op, err)
	}
	if !addr.IsForNet(c.cfg.Network) {
		return nil, walleterr.New(walleterr.KindInvalidAddress, op, "%s is not a %s address", address, c.cfg.Network.Name)
	}

	script, err := txscript.PayToAddrScript(addr)
	if err != nil {
		return nil, walleterr.Wrap(walleterr.KindInvalidAddress, op, err)
	}
	return script, nil
}

// sources asks the device for the public key of every distinct path and
// derives the addresses locally for the configured network.
func (c *Crafter) sources(ctx context.Context, paths []hdpath.DerivationPath) ([]source, error) {
	seen := make(map[string]bool, len(paths))
	out := make([]source, 0, len(paths))

	for _, p := range paths {
		if seen[p.String()] {
			continue
		}
		seen[p.String()] = true

		derived, err := c.device.DeriveAddress(ctx, chain.Bitcoin, p, false)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to derive address for %s", p)
		}

		pub, err := btcec.ParsePubKey(derived.PublicKey)
		if err != nil {
			return nil, walleterr.Wrap(walleterr.KindInvalidPayload, "bitcoin.sources", err)
		}

		addr, err := AddressForKey(pub, p.AddressType(), c.cfg.Network)
		if err != nil {
			return nil, err
		}
		script, err := txscript.PayToAddrScript(addr)
		if err != nil {
			return nil, walleterr.Wrap(walleterr.KindInvalidAddress, "bitcoin.sources", err)
		}

		out = append(out, source{path: p, pub: pub, addr: addr, pkScript: script})
	}

	return out, nil
}

// collect fetches fresh UTXOs of every source and keeps the spendable ones.
func (c *Crafter) collect(ctx context.Context, sources []source) ([]UTXO, error) {
	log := util.LogFromContext(ctx)

	var utxos []UTXO
	for _, src := range sources {
		found, err := c.client.UTXOs(ctx, src.addr.EncodeAddress())
		if err != nil {
			return nil, errors.Wrapf(err, "failed to get UTXOs of %s", src.addr.EncodeAddress())
		}

		for _, u := range found {
			if !u.Spendable {
				log.Debug().
					Str("txid", u.TxID).
					Uint32("vout", u.Vout).
					Int64("confirmations", u.Confirmations).
					Msg("Skipping unspendable UTXO")
				continue
			}
			u.Path = src.path
			u.AddressType = src.path.AddressType()
			u.PkScript = src.pkScript
			u.PubKey = src.pub
			utxos = append(utxos, u)
		}
	}

	return utxos, nil
}

func (c *Crafter) feeRate(ctx context.Context, req *Request) (float64, error) {
	if req.FeeRate > 0 {
		return req.FeeRate, nil
	}

	estimates, err := c.client.FeeEstimates(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "failed to get fee estimates")
	}
	return estimates.Rate(req.Tier), nil
}

// checkFee verifies fee = sum(inputs) - sum(outputs) on the built transaction.
func checkFee(tx *wire.MsgTx, sel *Selection) error {
	var in, out btcutil.Amount
	for _, u := range sel.Inputs {
		in += u.Value
	}
	for _, o := range tx.TxOut {
		out += btcutil.Amount(o.Value)
	}

	if in-out != sel.Fee {
		return walleterr.New(walleterr.KindInvalidRequest, "bitcoin.check_fee",
			"inputs %s minus outputs %s is not the selected fee %s", in, out, sel.Fee)
	}
	return nil
}

// packet wraps tx in a PSBT carrying what a signer needs per input: the
// spent output (the whole previous transaction for P2PKH) and the key path.
func (c *Crafter) packet(ctx context.Context, tx *wire.MsgTx, inputs []UTXO) (*psbt.Packet, error) {
	const op = "bitcoin.psbt"

	packet, err := psbt.NewFromUnsignedTx(tx)
	if err != nil {
		return nil, walleterr.Wrap(walleterr.KindInvalidRequest, op, err)
	}

	for i, in := range inputs {
		pin := &packet.Inputs[i]

		switch in.AddressType {
		case hdpath.AddressTypeP2PKH:
			prev, err := c.client.RawTransaction(ctx, in.TxID)
			if err != nil {
				return nil, errors.Wrapf(err, "failed to get previous transaction %s", in.TxID)
			}
			if prev.TxHash() != tx.TxIn[i].PreviousOutPoint.Hash ||
				int(in.Vout) >= len(prev.TxOut) ||
				prev.TxOut[in.Vout].Value != int64(in.Value) {
				return nil, walleterr.New(walleterr.KindRPC, op, "previous transaction %s does not match the UTXO", in.TxID)
			}
			pin.NonWitnessUtxo = prev
			pin.SighashType = txscript.SigHashAll
			pin.Bip32Derivation = []*psbt.Bip32Derivation{{
				PubKey:    in.PubKey.SerializeCompressed(),
				Bip32Path: in.Path.Indices(),
			}}

		case hdpath.AddressTypeP2WPKH:
			pin.WitnessUtxo = wire.NewTxOut(int64(in.Value), in.PkScript)
			pin.SighashType = txscript.SigHashAll
			pin.Bip32Derivation = []*psbt.Bip32Derivation{{
				PubKey:    in.PubKey.SerializeCompressed(),
				Bip32Path: in.Path.Indices(),
			}}

		case hdpath.AddressTypeP2TR:
			xonly := schnorr.SerializePubKey(in.PubKey)
			pin.WitnessUtxo = wire.NewTxOut(int64(in.Value), in.PkScript)
			pin.TaprootInternalKey = xonly
			pin.TaprootBip32Derivation = []*psbt.TaprootBip32Derivation{{
				XOnlyPubKey: xonly,
				Bip32Path:   in.Path.Indices(),
			}}

		default:
			return nil, walleterr.New(walleterr.KindInvalidRequest, op, "cannot spend inputs of type %s", in.AddressType)
		}
	}

	return packet, nil
}

// Sign has the device sign every input, finalizes the PSBT and verifies each
// input script before returning. A result can only be signed once.
func (c *Crafter) Sign(ctx context.Context, res *PSBTResult) (*SignedTransaction, error) {
	const op = "bitcoin.sign"

	if !res.consumed.CompareAndSwap(false, true) {
		return nil, walleterr.New(walleterr.KindInvalidRequest, op, "transaction was already signed")
	}

	packet := res.Packet
	tx := packet.UnsignedTx

	fetcher := txscript.NewMultiPrevOutFetcher(nil)
	for i, in := range res.Inputs {
		fetcher.AddPrevOut(tx.TxIn[i].PreviousOutPoint, wire.NewTxOut(int64(in.Value), in.PkScript))
	}
	sigHashes := txscript.NewTxSigHashes(tx, fetcher)

	updater, err := psbt.NewUpdater(packet)
	if err != nil {
		return nil, walleterr.Wrap(walleterr.KindInvalidRequest, op, err)
	}

	for i, in := range res.Inputs {
		if err := c.signInput(ctx, updater, sigHashes, fetcher, i, in); err != nil {
			return nil, errors.Wrapf(err, "failed to sign input %d", i)
		}
	}

	if err := psbt.MaybeFinalizeAll(packet); err != nil {
		return nil, walleterr.Wrap(walleterr.KindInvalidPayload, op, err)
	}
	final, err := psbt.Extract(packet)
	if err != nil {
		return nil, walleterr.Wrap(walleterr.KindInvalidPayload, op, err)
	}

	if err := verifyInputs(final, fetcher); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := final.Serialize(&buf); err != nil {
		return nil, errors.Wrap(err, "failed to serialize transaction")
	}

	vsize := VSizeForWeight(TxWeight(final))
	return &SignedTransaction{
		Tx:      final,
		Hex:     hex.EncodeToString(buf.Bytes()),
		TxID:    final.TxHash().String(),
		Fee:     res.Fee,
		Size:    int64(buf.Len()),
		VSize:   vsize,
		FeeRate: float64(res.Fee) / float64(vsize),
	}, nil
}

func (c *Crafter) signInput(
	ctx context.Context,
	updater *psbt.Updater,
	sigHashes *txscript.TxSigHashes,
	fetcher txscript.PrevOutputFetcher,
	i int,
	in UTXO,
) error {
	const op = "bitcoin.sign_input"
	tx := updater.Upsbt.UnsignedTx

	switch in.AddressType {
	case hdpath.AddressTypeP2TR:
		digest, err := txscript.CalcTaprootSignatureHash(sigHashes, txscript.SigHashDefault, tx, i, fetcher)
		if err != nil {
			return walleterr.Wrap(walleterr.KindInvalidRequest, op, err)
		}
		sig, err := c.signDigest(ctx, in.Path, device.BitcoinSchemeSchnorr, digest)
		if err != nil {
			return err
		}
		if _, err := schnorr.ParseSignature(sig); err != nil {
			return walleterr.Wrap(walleterr.KindInvalidPayload, op, err)
		}
		updater.Upsbt.Inputs[i].TaprootKeySpendSig = sig
		return nil

	case hdpath.AddressTypeP2WPKH, hdpath.AddressTypeP2PKH:
		var (
			digest []byte
			err    error
		)
		if in.AddressType == hdpath.AddressTypeP2WPKH {
			digest, err = txscript.CalcWitnessSigHash(in.PkScript, sigHashes, txscript.SigHashAll, tx, i, int64(in.Value))
		} else {
			digest, err = txscript.CalcSignatureHash(in.PkScript, txscript.SigHashAll, tx, i)
		}
		if err != nil {
			return walleterr.Wrap(walleterr.KindInvalidRequest, op, err)
		}

		raw, err := c.signDigest(ctx, in.Path, device.BitcoinSchemeECDSA, digest)
		if err != nil {
			return err
		}
		sig, err := derSignature(raw)
		if err != nil {
			return err
		}
		if _, err := updater.Sign(i, sig, in.PubKey.SerializeCompressed(), nil, nil); err != nil {
			return walleterr.Wrap(walleterr.KindInvalidPayload, op, err)
		}
		return nil

	default:
		return walleterr.New(walleterr.KindInvalidRequest, op, "cannot sign inputs of type %s", in.AddressType)
	}
}

func (c *Crafter) signDigest(ctx context.Context, p hdpath.DerivationPath, scheme byte, digest []byte) ([]byte, error) {
	sig, err := c.device.SignTransaction(ctx, chain.Bitcoin, p, device.EncodeBitcoinDigest(scheme, digest))
	if err != nil {
		return nil, err
	}
	return sig.Raw, nil
}

// derSignature turns the device's R‖S into a low-S DER signature with the
// SIGHASH_ALL byte appended.
func derSignature(raw []byte) ([]byte, error) {
	const op = "bitcoin.der_signature"

	if len(raw) != 64 {
		return nil, walleterr.New(walleterr.KindInvalidPayload, op, "signature of %d bytes", len(raw))
	}

	var r, s btcec.ModNScalar
	if overflow := r.SetByteSlice(raw[:32]); overflow || r.IsZero() {
		return nil, walleterr.New(walleterr.KindInvalidPayload, op, "invalid R")
	}
	if overflow := s.SetByteSlice(raw[32:]); overflow || s.IsZero() {
		return nil, walleterr.New(walleterr.KindInvalidPayload, op, "invalid S")
	}

	der := ecdsa.NewSignature(&r, &s).Serialize()
	return append(der, byte(txscript.SigHashAll)), nil
}

// verifyInputs runs every input script of the final transaction.
func verifyInputs(tx *wire.MsgTx, fetcher txscript.PrevOutputFetcher) error {
	sigHashes := txscript.NewTxSigHashes(tx, fetcher)

	for i, in := range tx.TxIn {
		prev := fetcher.FetchPrevOutput(in.PreviousOutPoint)
		if prev == nil {
			return walleterr.New(walleterr.KindInvalidRequest, "bitcoin.verify", "missing previous output of input %d", i)
		}

		vm, err := txscript.NewEngine(prev.PkScript, tx, i, txscript.StandardVerifyFlags, nil, sigHashes, prev.Value, fetcher)
		if err != nil {
			return walleterr.Wrap(walleterr.KindInvalidPayload, "bitcoin.verify", err)
		}
		if err := vm.Execute(); err != nil {
			return walleterr.Wrap(walleterr.KindInvalidPayload, "bitcoin.verify", errors.Wrapf(err, "input %d", i))
		}
	}

	return nil
}

// Broadcast submits a signed transaction and returns its txid.
func (c *Crafter) Broadcast(ctx context.Context, signed *SignedTransaction) (string, error) {
	log := util.LogFromContext(ctx)

	txid, err := c.client.Broadcast(ctx, signed.Hex)
	if err != nil {
		return "", errors.Wrap(err, "failed to broadcast transaction")
	}
	if txid != signed.TxID {
		log.Warn().Str("txid", signed.TxID).Str("reported_txid", txid).Msg("Node reported a different txid")
	}

	log.Info().
		Str("txid", signed.TxID).
		Int64("fee", int64(signed.Fee)).
		Int64("vsize", signed.VSize).
		Msg("Broadcast Bitcoin transaction")

	return signed.TxID, nil
}

// SignMessage returns the base64 BIP-137 signature of msg by the key at p and
// the address it belongs to.
func (c *Crafter) SignMessage(ctx context.Context, p hdpath.DerivationPath, msg []byte) (string, string, error) {
	const op = "bitcoin.sign_message"

	if p.Chain() != chain.Bitcoin {
		return "", "", walleterr.New(walleterr.KindInvalidPath, op, "path %s is not a Bitcoin path", p)
	}

	sources, err := c.sources(ctx, []hdpath.DerivationPath{p})
	if err != nil {
		return "", "", err
	}
	src := sources[0]

	sig, err := c.device.SignMessage(ctx, chain.Bitcoin, p, msg)
	if err != nil {
		return "", "", err
	}

	pub, _, err := ecdsa.RecoverCompact(sig.Raw, MessageHash(msg))
	if err != nil {
		return "", "", walleterr.Wrap(walleterr.KindInvalidPayload, op, err)
	}
	if !pub.IsEqual(src.pub) {
		return "", "", walleterr.New(walleterr.KindInvalidPayload, op, "signature does not recover to the key of %s", p)
	}

	return base64.StdEncoding.EncodeToString(sig.Raw), src.addr.EncodeAddress(), nil
}

// MessageHash is the double SHA-256 of the BIP-137 framed message.
func MessageHash(msg []byte) []byte {
	var buf bytes.Buffer
	_ = wire.WriteVarString(&buf, 0, messageMagic)
	_ = wire.WriteVarBytes(&buf, 0, msg)
	return chainhash.DoubleHashB(buf.Bytes())
}

// AddressForKey returns the address of pub for a script type.
//
//nolint:ireturn
func AddressForKey(pub *btcec.PublicKey, t hdpath.AddressType, params *chaincfg.Params) (btcutil.Address, error) {
	const op = "bitcoin.address_for_key"

	var (
		addr btcutil.Address
		err  error
	)
	switch t {
	case hdpath.AddressTypeP2PKH:
		addr, err = btcutil.NewAddressPubKeyHash(btcutil.Hash160(pub.SerializeCompressed()), params)
	case hdpath.AddressTypeP2WPKH:
		addr, err = btcutil.NewAddressWitnessPubKeyHash(btcutil.Hash160(pub.SerializeCompressed()), params)
	case hdpath.AddressTypeP2TR:
		addr, err = btcutil.NewAddressTaproot(schnorr.SerializePubKey(txscript.ComputeTaprootKeyNoScript(pub)), params)
	default:
		return nil, walleterr.New(walleterr.KindInvalidPath, op, "no address type %s", t)
	}
	if err != nil {
		return nil, walleterr.Wrap(walleterr.KindInvalidAddress, op, err)
	}
	return addr, nil
}
