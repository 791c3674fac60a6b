package evm

import (
	"context"
	"math/big"

	"github.com/dennisonbertram/mcp-ledger-sub001/internal/util"
	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet/chain"
	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet/walleterr"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/params"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/pkg/errors"
)

const (
	nativeTransferGas       = 21000
	eip1559FeeMultiplier    = 2
	DefaultGasMarginPercent = 20
	DefaultMaxFeePerGasGwei = 500
)

// Config bounds the fees the crafter is willing to pay.
type Config struct {
	// MaxFeePerGas caps computed fees; caller supplied fees above it are
	// rejected. Nil disables the cap.
	MaxFeePerGas *big.Int
	// GasMarginPercent is added to gas estimates of non-trivial calls.
	GasMarginPercent uint64
}

// DefaultConfig returns a 500 gwei cap and a 20% gas margin.
func DefaultConfig() Config {
	return Config{
		MaxFeePerGas:     new(big.Int).Mul(big.NewInt(DefaultMaxFeePerGasGwei), big.NewInt(params.GWei)),
		GasMarginPercent: DefaultGasMarginPercent,
	}
}

// Crafter builds, signs and broadcasts EVM transactions.
type Crafter struct {
	client ChainClient
	device Device
	cfg    Config
}

func NewCrafter(client ChainClient, dev Device, cfg Config) *Crafter {
	return &Crafter{client: client, device: dev, cfg: cfg}
}

// Craft resolves sender, nonce, fees and gas for req and checks that the
// sender can pay for it. Nothing is sent to the device except the address
// lookup when req.From is unset.
func (c *Crafter) Craft(ctx context.Context, req *Request) (*PreparedTransaction, error) {
	const op = "evm.craft"
	log := util.LogFromContext(ctx)

	if err := c.validate(req); err != nil {
		return nil, err
	}

	from, err := c.sender(ctx, req)
	if err != nil {
		return nil, err
	}

	chainID, err := c.client.ChainID(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get chain ID")
	}

	// the next nonce is the pending transaction count, never a block number
	nonce, err := c.client.PendingNonceAt(ctx, from)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get pending nonce")
	}

	to, value, data, err := c.callFields(req)
	if err != nil {
		return nil, err
	}

	fees, err := c.resolveFees(ctx, req)
	if err != nil {
		return nil, err
	}

	gas, err := c.resolveGas(ctx, req, from, to, value, data)
	if err != nil {
		return nil, err
	}

	var txData types.TxData
	if fees.legacy {
		txData = &types.LegacyTx{
			Nonce:    nonce,
			GasPrice: fees.maxFee,
			Gas:      gas,
			To:       &to,
			Value:    value,
			Data:     data,
		}
	} else {
		txData = &types.DynamicFeeTx{
			ChainID:   chainID,
			Nonce:     nonce,
			GasTipCap: fees.tip,
			GasFeeCap: fees.maxFee,
			Gas:       gas,
			To:        &to,
			Value:     value,
			Data:      data,
		}
	}
	tx := types.NewTx(txData)

	if err := c.checkBalance(ctx, req, from, tx); err != nil {
		return nil, err
	}

	log.Info().
		Str("op", op).
		Str("kind", string(req.Kind)).
		Str("from", from.Hex()).
		Uint64("nonce", nonce).
		Uint64("gas", gas).
		Str("max_fee_per_gas", fees.maxFee.String()).
		Str("max_priority_fee_per_gas", fees.tip.String()).
		Bool("legacy", fees.legacy).
		Msg("Crafted EVM transaction")

	return &PreparedTransaction{
		Kind:    req.Kind,
		Path:    req.Path,
		From:    from,
		ChainID: chainID,
		tx:      tx,
	}, nil
}

func (c *Crafter) validate(req *Request) error {
	const op = "evm.craft"

	if req == nil {
		return walleterr.New(walleterr.KindInvalidRequest, op, "missing request")
	}
	if req.Path.Chain() != chain.EVM {
		return walleterr.New(walleterr.KindInvalidPath, op, "path %s is not an EVM path", req.Path)
	}
	if req.To == (common.Address{}) {
		return walleterr.New(walleterr.KindInvalidAddress, op, "missing destination address")
	}

	switch req.Kind {
	case KindNativeTransfer:
		if req.Amount == nil || req.Amount.Sign() <= 0 {
			return walleterr.New(walleterr.KindInvalidRequest, op, "amount must be positive")
		}
	case KindTokenTransfer:
		if req.Token == (common.Address{}) {
			return walleterr.New(walleterr.KindInvalidAddress, op, "missing token address")
		}
		if req.Amount == nil || req.Amount.Sign() <= 0 {
			return walleterr.New(walleterr.KindInvalidRequest, op, "amount must be positive")
		}
	case KindTokenApproval:
		if req.Token == (common.Address{}) {
			return walleterr.New(walleterr.KindInvalidAddress, op, "missing token address")
		}
		if req.Amount == nil || req.Amount.Sign() < 0 {
			return walleterr.New(walleterr.KindInvalidRequest, op, "allowance must not be negative")
		}
	case KindContractCall:
		if req.Value != nil && req.Value.Sign() < 0 {
			return walleterr.New(walleterr.KindInvalidRequest, op, "value must not be negative")
		}
	default:
		return walleterr.New(walleterr.KindInvalidRequest, op, "unknown transaction kind %q", req.Kind)
	}

	for name, fee := range map[string]*big.Int{
		"max fee per gas":          req.MaxFeePerGas,
		"max priority fee per gas": req.MaxPriorityFeePerGas,
		"gas price":                req.GasPrice,
	} {
		if fee == nil {
			continue
		}
		if fee.Sign() <= 0 {
			return walleterr.New(walleterr.KindInvalidRequest, op, "%s must be positive", name)
		}
		if c.cfg.MaxFeePerGas != nil && fee.Cmp(c.cfg.MaxFeePerGas) > 0 {
			return walleterr.New(walleterr.KindInvalidRequest, op, "%s %s exceeds the configured cap %s", name, fee, c.cfg.MaxFeePerGas)
		}
	}

	return nil
}

func (c *Crafter) sender(ctx context.Context, req *Request) (common.Address, error) {
	if req.From != nil {
		return *req.From, nil
	}

	addr, err := c.device.DeriveAddress(ctx, chain.EVM, req.Path, false)
	if err != nil {
		return common.Address{}, errors.Wrap(err, "failed to resolve sender from device")
	}

	return common.HexToAddress(addr.Address), nil
}

// callFields returns the destination, native value and calldata of req.
func (c *Crafter) callFields(req *Request) (common.Address, *big.Int, []byte, error) {
	switch req.Kind {
	case KindNativeTransfer:
		return req.To, new(big.Int).Set(req.Amount), nil, nil
	case KindTokenTransfer, KindTokenApproval:
		data, err := encodeTokenCall(req.Kind, req.To, req.Amount)
		if err != nil {
			return common.Address{}, nil, nil, err
		}
		return req.Token, new(big.Int), data, nil
	default:
		value := new(big.Int)
		if req.Value != nil {
			value.Set(req.Value)
		}
		return req.To, value, common.CopyBytes(req.Data), nil
	}
}

type resolvedFees struct {
	legacy bool
	// maxFee is the gas price of legacy transactions.
	maxFee *big.Int
	tip    *big.Int
}

// resolveFees fills in fees the caller left out: maxFee = 2*baseFee + tip
// with the tip taken from the tier, clamped to the configured cap.
func (c *Crafter) resolveFees(ctx context.Context, req *Request) (*resolvedFees, error) {
	data, err := c.client.FeeData(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get fee data")
	}

	if req.Legacy || data.BaseFee == nil {
		price := req.GasPrice
		if price == nil {
			price = req.MaxFeePerGas
		}
		if price == nil {
			if data.GasPrice == nil {
				return nil, walleterr.New(walleterr.KindRPC, "evm.fee_data", "node returned no gas price")
			}
			price = c.clamp(data.GasPrice)
		}
		return &resolvedFees{legacy: true, maxFee: new(big.Int).Set(price), tip: new(big.Int).Set(price)}, nil
	}

	tip := req.MaxPriorityFeePerGas
	if tip == nil {
		tip = req.Tier.PriorityFee()
	}

	maxFee := req.MaxFeePerGas
	if maxFee == nil {
		maxFee = new(big.Int).Mul(data.BaseFee, big.NewInt(eip1559FeeMultiplier))
		maxFee.Add(maxFee, tip)
		maxFee = c.clamp(maxFee)
	}

	if tip.Cmp(maxFee) > 0 {
		tip = maxFee
	}

	return &resolvedFees{maxFee: new(big.Int).Set(maxFee), tip: new(big.Int).Set(tip)}, nil
}

func (c *Crafter) clamp(fee *big.Int) *big.Int {
	if c.cfg.MaxFeePerGas != nil && fee.Cmp(c.cfg.MaxFeePerGas) > 0 {
		return new(big.Int).Set(c.cfg.MaxFeePerGas)
	}
	return fee
}

func (c *Crafter) resolveGas(ctx context.Context, req *Request, from, to common.Address, value *big.Int, data []byte) (uint64, error) {
	if req.GasLimit > 0 {
		return req.GasLimit, nil
	}
	if req.Kind == KindNativeTransfer {
		return nativeTransferGas, nil
	}

	estimate, err := c.client.EstimateGas(ctx, ethereum.CallMsg{
		From:  from,
		To:    &to,
		Value: value,
		Data:  data,
	})
	if err != nil {
		return 0, errors.Wrap(err, "failed to estimate gas")
	}

	return estimate + estimate*c.cfg.GasMarginPercent/100, nil
}

// checkBalance requires balance >= value + gas*maxFee and, for token
// transfers, a token balance covering the amount.
func (c *Crafter) checkBalance(ctx context.Context, req *Request, from common.Address, tx *types.Transaction) error {
	const op = "evm.check_balance"

	balance, err := c.client.BalanceAt(ctx, from)
	if err != nil {
		return errors.Wrap(err, "failed to get balance")
	}

	required := new(big.Int).Mul(new(big.Int).SetUint64(tx.Gas()), tx.GasFeeCap())
	required.Add(required, tx.Value())
	if balance.Cmp(required) < 0 {
		return walleterr.New(walleterr.KindInsufficientBalance, op,
			"balance %s wei is below the %s wei required for value and gas", balance, required)
	}

	if req.Kind == KindTokenTransfer {
		tokenBalance, err := c.client.TokenBalance(ctx, req.Token, from)
		if err != nil {
			return errors.Wrap(err, "failed to get token balance")
		}
		if tokenBalance.Cmp(req.Amount) < 0 {
			return walleterr.New(walleterr.KindInsufficientBalance, op,
				"token balance %s is below the transfer amount %s", tokenBalance, req.Amount)
		}
	}

	return nil
}

// Sign hands the unsigned transaction to the device and reassembles the
// signed transaction. A prepared transaction can only be signed once.
func (c *Crafter) Sign(ctx context.Context, prepared *PreparedTransaction) (*SignedTransaction, error) {
	const op = "evm.sign"

	if !prepared.consumed.CompareAndSwap(false, true) {
		return nil, walleterr.New(walleterr.KindInvalidRequest, op, "transaction with nonce %d was already signed", prepared.Nonce())
	}

	payload, err := UnsignedPayload(prepared.tx, prepared.ChainID)
	if err != nil {
		return nil, walleterr.Wrap(walleterr.KindInvalidPayload, op, err)
	}

	sig, err := c.device.SignTransaction(ctx, chain.EVM, prepared.Path, payload)
	if err != nil {
		return nil, err
	}

	signed, err := ApplySignature(prepared.tx, prepared.ChainID, sig.Raw)
	if err != nil {
		return nil, err
	}

	sender, err := types.Sender(types.LatestSignerForChainID(prepared.ChainID), signed)
	if err != nil {
		return nil, walleterr.Wrap(walleterr.KindInvalidPayload, op, err)
	}
	if sender != prepared.From {
		return nil, walleterr.New(walleterr.KindInvalidPayload, op,
			"signature recovers to %s, expected %s", sender.Hex(), prepared.From.Hex())
	}

	raw, err := signed.MarshalBinary()
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal transaction")
	}

	return &SignedTransaction{
		Tx:   signed,
		Raw:  raw,
		Hash: signed.Hash(),
		From: sender,
	}, nil
}

// Broadcast sends a signed transaction and returns its hash.
func (c *Crafter) Broadcast(ctx context.Context, signed *SignedTransaction) (common.Hash, error) {
	if err := c.client.SendTransaction(ctx, signed.Tx); err != nil {
		return common.Hash{}, errors.Wrap(err, "failed to broadcast transaction")
	}

	util.LogFromContext(ctx).Info().
		Str("tx_hash", signed.Hash.Hex()).
		Str("from", signed.From.Hex()).
		Uint64("nonce", signed.Tx.Nonce()).
		Msg("Broadcast EVM transaction")

	return signed.Hash, nil
}

// SignPersonalMessage signs msg with the EIP-191 prefix and returns R‖S‖V
// with V in {27, 28}, after checking that it recovers to the device address.
func (c *Crafter) SignPersonalMessage(ctx context.Context, req *Request, msg []byte) ([]byte, common.Address, error) {
	const op = "evm.sign_message"

	if req.Path.Chain() != chain.EVM {
		return nil, common.Address{}, walleterr.New(walleterr.KindInvalidPath, op, "path %s is not an EVM path", req.Path)
	}

	from, err := c.sender(ctx, req)
	if err != nil {
		return nil, common.Address{}, err
	}

	sig, err := c.device.SignMessage(ctx, chain.EVM, req.Path, msg)
	if err != nil {
		return nil, common.Address{}, err
	}
	if len(sig.Raw) != crypto.SignatureLength {
		return nil, common.Address{}, walleterr.New(walleterr.KindInvalidPayload, op, "signature of %d bytes", len(sig.Raw))
	}

	rsv := append(common.CopyBytes(sig.Raw[1:]), sig.Raw[0])
	recoverable := common.CopyBytes(rsv)
	recoverable[64] -= 27
	pub, err := crypto.SigToPub(accounts.TextHash(msg), recoverable)
	if err != nil {
		return nil, common.Address{}, walleterr.Wrap(walleterr.KindInvalidPayload, op, err)
	}
	if signer := crypto.PubkeyToAddress(*pub); signer != from {
		return nil, common.Address{}, walleterr.New(walleterr.KindInvalidPayload, op,
			"signature recovers to %s, expected %s", signer.Hex(), from.Hex())
	}

	return rsv, from, nil
}

// UnsignedPayload is the encoding the Ethereum app signs: the EIP-155 list
// for legacy transactions and the typed envelope otherwise.
func UnsignedPayload(tx *types.Transaction, chainID *big.Int) ([]byte, error) {
	switch tx.Type() {
	case types.LegacyTxType:
		return rlp.EncodeToBytes([]interface{}{
			tx.Nonce(), tx.GasPrice(), tx.Gas(), tx.To(), tx.Value(), tx.Data(), chainID, big.NewInt(0), big.NewInt(0),
		})
	case types.DynamicFeeTxType:
		enc, err := rlp.EncodeToBytes([]interface{}{
			chainID, tx.Nonce(), tx.GasTipCap(), tx.GasFeeCap(), tx.Gas(), tx.To(), tx.Value(), tx.Data(), tx.AccessList(),
		})
		if err != nil {
			return nil, err
		}
		return append([]byte{tx.Type()}, enc...), nil
	default:
		return nil, errors.Errorf("unsupported transaction type %d", tx.Type())
	}
}

// ApplySignature attaches a device signature (V‖R‖S) to tx. Legacy replies
// carry the low byte of chainID*2+35+parity; typed replies carry the parity.
func ApplySignature(tx *types.Transaction, chainID *big.Int, reply []byte) (*types.Transaction, error) {
	const op = "evm.apply_signature"

	if len(reply) != crypto.SignatureLength {
		return nil, walleterr.New(walleterr.KindInvalidPayload, op, "signature of %d bytes", len(reply))
	}

	sig := append(common.CopyBytes(reply[1:]), reply[0])
	if tx.Type() == types.LegacyTxType {
		sig[64] -= byte(chainID.Uint64()*2 + 35) //nolint:gosec // wraps like the device does
	}
	if sig[64] > 1 {
		return nil, walleterr.New(walleterr.KindInvalidPayload, op, "invalid recovery id %d", sig[64])
	}

	signed, err := tx.WithSignature(types.LatestSignerForChainID(chainID), sig)
	if err != nil {
		return nil, walleterr.Wrap(walleterr.KindInvalidPayload, op, err)
	}

	return signed, nil
}
