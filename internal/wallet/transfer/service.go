//nolint:ireturn
package transfer

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"strconv"

	"github.com/dennisonbertram/mcp-ledger-sub001/internal/util"
	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet/bitcoin"
	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet/chain"
	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet/evm"
	sol "github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet/solana"
	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet/walleterr"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
)

const (
	outcomeOK     = "ok"
	outcomeDryRun = "dry_run"
)

// Service runs craft, sign and broadcast for every chain.
type Service interface {
	SendEVM(ctx context.Context, req *evm.Request, opts Options) (*Result, error)
	SendBitcoin(ctx context.Context, req *bitcoin.Request, opts Options) (*Result, error)
	SendSolana(ctx context.Context, req *sol.Request, opts Options) (*Result, error)
}

type service struct {
	chains   Chains
	recorder Recorder
}

// NewService creates the transfer service. A nil recorder disables metrics.
//
//nolint:ireturn
func NewService(chains Chains, recorder Recorder) Service {
	if recorder == nil {
		recorder = noopRecorder{}
	}
	return &service{chains: chains, recorder: recorder}
}

func (s *service) observe(c chain.Chain, kind string, err error, dryRun bool) {
	switch {
	case err != nil:
		s.recorder.ObserveCraft(c, kind, walleterr.KindOf(err).String())
	case dryRun:
		s.recorder.ObserveCraft(c, kind, outcomeDryRun)
	default:
		s.recorder.ObserveCraft(c, kind, outcomeOK)
	}
}

func notConfigured(op string, c chain.Chain) error {
	return walleterr.New(walleterr.KindInvalidRequest, op, "%s is not configured", c)
}

// SendEVM crafts, signs and, unless DryRun is set, broadcasts an EVM
// transaction.
func (s *service) SendEVM(ctx context.Context, req *evm.Request, opts Options) (res *Result, err error) {
	const op = "transfer.evm"
	log := util.LogFromContext(ctx)

	if s.chains.EVM == nil {
		return nil, notConfigured(op, chain.EVM)
	}
	if req == nil {
		return nil, walleterr.New(walleterr.KindInvalidRequest, op, "missing request")
	}
	defer func() { s.observe(chain.EVM, string(req.Kind), err, opts.DryRun) }()

	prepared, err := s.chains.EVM.Craft(ctx, req)
	if err != nil {
		return nil, errors.Wrap(err, "failed to craft transaction")
	}

	signed, err := s.chains.EVM.Sign(ctx, prepared)
	if err != nil {
		return nil, errors.Wrap(err, "failed to sign transaction")
	}

	res = &Result{
		Chain: chain.EVM,
		Kind:  string(req.Kind),
		From:  signed.From.Hex(),
		TxID:  signed.Hash.Hex(),
		Raw:   hex.EncodeToString(signed.Raw),
		Fee:   prepared.MaxFee().String(),
		EVM:   signed,
	}

	if opts.DryRun {
		log.Info().Str("tx_hash", res.TxID).Msg("Dry run, not broadcasting EVM transaction")
		return res, nil
	}

	if _, err := s.chains.EVM.Broadcast(ctx, signed); err != nil {
		return nil, err
	}
	res.Broadcast = true

	if !opts.Wait || s.chains.EVMReceipts == nil {
		return res, nil
	}

	receipt, err := evm.WaitForReceipt(ctx, s.chains.EVMReceipts, signed.Hash)
	if err != nil {
		return res, errors.Wrapf(err, "failed to wait for receipt of %s", res.TxID)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return res, walleterr.New(walleterr.KindRPC, op, "transaction %s reverted in block %s", res.TxID, receipt.BlockNumber)
	}
	res.Confirmed = true

	log.Info().
		Str("tx_hash", res.TxID).
		Uint64("gas_used", receipt.GasUsed).
		Msg("EVM transaction mined")

	return res, nil
}

// SendBitcoin funds, signs and, unless DryRun is set, broadcasts a Bitcoin
// payment.
func (s *service) SendBitcoin(ctx context.Context, req *bitcoin.Request, opts Options) (res *Result, err error) {
	const (
		op   = "transfer.bitcoin"
		kind = "payment"
	)
	log := util.LogFromContext(ctx)

	if s.chains.Bitcoin == nil {
		return nil, notConfigured(op, chain.Bitcoin)
	}
	if req == nil {
		return nil, walleterr.New(walleterr.KindInvalidRequest, op, "missing request")
	}
	defer func() { s.observe(chain.Bitcoin, kind, err, opts.DryRun) }()

	funded, err := s.chains.Bitcoin.Craft(ctx, req)
	if err != nil {
		return nil, errors.Wrap(err, "failed to craft transaction")
	}

	signed, err := s.chains.Bitcoin.Sign(ctx, funded)
	if err != nil {
		return nil, errors.Wrap(err, "failed to sign transaction")
	}

	res = &Result{
		Chain:   chain.Bitcoin,
		Kind:    kind,
		TxID:    signed.TxID,
		Raw:     signed.Hex,
		Fee:     strconv.FormatInt(int64(signed.Fee), 10),
		Bitcoin: signed,
		PSBT:    funded,
	}
	if len(funded.Inputs) > 0 {
		res.From = funded.Inputs[0].Path.String()
	}

	if opts.DryRun {
		log.Info().Str("txid", res.TxID).Msg("Dry run, not broadcasting Bitcoin transaction")
		return res, nil
	}

	if _, err := s.chains.Bitcoin.Broadcast(ctx, signed); err != nil {
		return nil, err
	}
	res.Broadcast = true

	return res, nil
}

// SendSolana crafts, signs and, unless DryRun is set, broadcasts a Solana
// transaction.
func (s *service) SendSolana(ctx context.Context, req *sol.Request, opts Options) (res *Result, err error) {
	const op = "transfer.solana"
	log := util.LogFromContext(ctx)

	if s.chains.Solana == nil {
		return nil, notConfigured(op, chain.Solana)
	}
	if req == nil {
		return nil, walleterr.New(walleterr.KindInvalidRequest, op, "missing request")
	}
	defer func() { s.observe(chain.Solana, string(req.Kind), err, opts.DryRun) }()

	prepared, err := s.chains.Solana.Craft(ctx, req)
	if err != nil {
		return nil, errors.Wrap(err, "failed to craft transaction")
	}

	signed, err := s.chains.Solana.Sign(ctx, prepared)
	if err != nil {
		return nil, errors.Wrap(err, "failed to sign transaction")
	}

	res = &Result{
		Chain:  chain.Solana,
		Kind:   string(req.Kind),
		From:   signed.Signer.String(),
		TxID:   signed.Signature.String(),
		Raw:    base64.StdEncoding.EncodeToString(signed.Raw),
		Fee:    strconv.FormatUint(prepared.Fee, 10),
		Solana: signed,
	}

	if opts.DryRun {
		log.Info().Str("signature", res.TxID).Msg("Dry run, not broadcasting Solana transaction")
		return res, nil
	}

	if _, err := s.chains.Solana.Broadcast(ctx, signed); err != nil {
		return nil, err
	}
	res.Broadcast = true

	if !opts.Wait || s.chains.SolanaConfirmer == nil {
		return res, nil
	}

	if err := s.chains.SolanaConfirmer.ConfirmTransaction(ctx, signed.Signature); err != nil {
		return res, errors.Wrapf(err, "failed to confirm %s", res.TxID)
	}
	res.Confirmed = true

	log.Info().Str("signature", res.TxID).Msg("Solana transaction confirmed")

	return res, nil
}
