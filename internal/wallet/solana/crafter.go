package solana

import (
	"context"
	"crypto/ed25519"

	"filippo.io/edwards25519"
	"github.com/dennisonbertram/mcp-ledger-sub001/internal/util"
	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet/chain"
	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet/walleterr"
	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
	associatedtokenaccount "github.com/gagliardetto/solana-go/programs/associated-token-account"
	computebudget "github.com/gagliardetto/solana-go/programs/compute-budget"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/programs/token"
	"github.com/pkg/errors"
)

// DefaultMaxPriorityFee caps the compute unit price in micro-lamports.
const DefaultMaxPriorityFee = 5_000_000

// Config bounds what the crafter is willing to pay.
type Config struct {
	// MaxPriorityFee rejects requests with a higher compute unit price.
	// Zero disables the cap.
	MaxPriorityFee uint64
}

func DefaultConfig() Config {
	return Config{MaxPriorityFee: DefaultMaxPriorityFee}
}

// Crafter builds, signs and broadcasts Solana transactions.
type Crafter struct {
	client ChainClient
	device Device
	cfg    Config
}

func NewCrafter(client ChainClient, dev Device, cfg Config) *Crafter {
	return &Crafter{client: client, device: dev, cfg: cfg}
}

// Craft composes the instructions of req, attaches compute budget
// instructions, fetches a blockhash and checks size and balances. Nothing is
// sent to the device except the public key lookup, and requests that cannot
// fit in a transaction are rejected before that.
func (c *Crafter) Craft(ctx context.Context, req *Request) (*PreparedTransaction, error) {
	const op = "sol.craft"
	log := util.LogFromContext(ctx)

	if err := c.validate(req); err != nil {
		return nil, err
	}
	if err := precheckSize(req); err != nil {
		return nil, err
	}

	signer, err := c.signer(ctx, req)
	if err != nil {
		return nil, err
	}

	plan, err := c.instructions(ctx, req, signer)
	if err != nil {
		return nil, err
	}

	if err := checkSigners(ctx, plan.instructions, signer); err != nil {
		return nil, err
	}

	blockhash, err := c.client.GetLatestBlockhash(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get latest blockhash")
	}

	instructions := append(computeBudget(req), plan.instructions...)
	tx, err := solana.NewTransaction(instructions, blockhash, solana.TransactionPayer(signer))
	if err != nil {
		return nil, walleterr.Wrap(walleterr.KindInvalidRequest, op, err)
	}

	size, err := checkTransaction(tx, signer)
	if err != nil {
		return nil, err
	}

	fee := estimateFee(tx, req, len(plan.instructions))
	if err := c.checkBalance(ctx, req, signer, plan, fee); err != nil {
		return nil, err
	}

	log.Info().
		Str("op", op).
		Str("kind", string(req.Kind)).
		Str("signer", signer.String()).
		Str("blockhash", blockhash.String()).
		Int("instructions", len(instructions)).
		Int("size", size).
		Uint64("fee", fee).
		Uint64("rent", plan.rent).
		Msg("Crafted Solana transaction")

	return &PreparedTransaction{
		Kind:   req.Kind,
		Path:   req.Path,
		Signer: signer,
		Size:   size,
		Fee:    fee,
		Rent:   plan.rent,
		tx:     tx,
	}, nil
}

func (c *Crafter) validate(req *Request) error {
	const op = "sol.craft"

	if req == nil {
		return walleterr.New(walleterr.KindInvalidRequest, op, "missing request")
	}
	if req.Path.Chain() != chain.Solana {
		return walleterr.New(walleterr.KindInvalidPath, op, "path %s is not a Solana path", req.Path)
	}
	if c.cfg.MaxPriorityFee > 0 && req.PriorityFee > c.cfg.MaxPriorityFee {
		return walleterr.New(walleterr.KindInvalidRequest, op,
			"priority fee %d micro-lamports exceeds the configured cap %d", req.PriorityFee, c.cfg.MaxPriorityFee)
	}
	if req.ComputeUnitLimit > maxUnitsPerTransaction {
		return walleterr.New(walleterr.KindInvalidRequest, op, "compute unit limit %d exceeds %d", req.ComputeUnitLimit, maxUnitsPerTransaction)
	}

	switch req.Kind {
	case KindNativeTransfer:
		if err := checkWallet(op, "recipient", req.To); err != nil {
			return err
		}
		if req.Amount == 0 {
			return walleterr.New(walleterr.KindInvalidRequest, op, "amount must be positive")
		}
	case KindTokenTransfer:
		if err := checkWallet(op, "recipient", req.To); err != nil {
			return err
		}
		if req.Mint.IsZero() {
			return walleterr.New(walleterr.KindInvalidAddress, op, "missing mint")
		}
		if req.Amount == 0 {
			return walleterr.New(walleterr.KindInvalidRequest, op, "amount must be positive")
		}
	case KindTokenApproval:
		if req.Mint.IsZero() {
			return walleterr.New(walleterr.KindInvalidAddress, op, "missing mint")
		}
		// delegates are often program derived addresses
		if req.To.IsZero() {
			return walleterr.New(walleterr.KindInvalidAddress, op, "missing delegate")
		}
	case KindTokenRevoke:
		if req.Mint.IsZero() {
			return walleterr.New(walleterr.KindInvalidAddress, op, "missing mint")
		}
	case KindCustom:
		if len(req.Instructions) == 0 {
			return walleterr.New(walleterr.KindInvalidRequest, op, "at least one instruction is required")
		}
	default:
		return walleterr.New(walleterr.KindInvalidRequest, op, "unknown transaction kind %q", req.Kind)
	}

	return nil
}

func (c *Crafter) signer(ctx context.Context, req *Request) (solana.PublicKey, error) {
	if req.Signer != nil {
		if !OnCurve(*req.Signer) {
			return solana.PublicKey{}, walleterr.New(walleterr.KindInvalidAddress, "sol.signer", "signer %s is not on the curve", *req.Signer)
		}
		return *req.Signer, nil
	}

	addr, err := c.device.DeriveAddress(ctx, chain.Solana, req.Path, false)
	if err != nil {
		return solana.PublicKey{}, errors.Wrap(err, "failed to resolve signer from device")
	}

	signer := solana.PublicKeyFromBytes(addr.PublicKey)
	if !OnCurve(signer) {
		return solana.PublicKey{}, walleterr.New(walleterr.KindInvalidPayload, "sol.signer", "device key %s is not on the curve", signer)
	}
	return signer, nil
}

type instructionPlan struct {
	instructions []solana.Instruction
	// lamports leaving the signer besides fees
	lamports uint64
	rent     uint64
	// token balance the source account must hold
	tokenSource solana.PublicKey
	tokenAmount uint64
}

func (c *Crafter) instructions(ctx context.Context, req *Request, signer solana.PublicKey) (*instructionPlan, error) {
	const op = "sol.craft"

	switch req.Kind {
	case KindNativeTransfer:
		return &instructionPlan{
			instructions: []solana.Instruction{system.NewTransferInstruction(req.Amount, signer, req.To).Build()},
			lamports:     req.Amount,
		}, nil

	case KindTokenTransfer:
		source, dest, err := associatedAccounts(signer, req.To, req.Mint)
		if err != nil {
			return nil, err
		}
		decimals, err := c.decimals(ctx, req)
		if err != nil {
			return nil, err
		}

		p := &instructionPlan{tokenSource: source, tokenAmount: req.Amount}

		exists, err := c.client.AccountExists(ctx, dest)
		if err != nil {
			return nil, errors.Wrap(err, "failed to look up recipient token account")
		}
		if !exists {
			if !req.CreateATA {
				return nil, walleterr.New(walleterr.KindInvalidRequest, op,
					"recipient %s has no token account for mint %s", req.To, req.Mint)
			}
			rent, err := c.client.GetRentExemption(ctx, TokenAccountSize)
			if err != nil {
				return nil, errors.Wrap(err, "failed to get rent exemption")
			}
			p.rent = rent
			p.instructions = append(p.instructions,
				associatedtokenaccount.NewCreateInstruction(signer, req.To, req.Mint).Build())
		}

		p.instructions = append(p.instructions,
			token.NewTransferCheckedInstruction(req.Amount, decimals, source, req.Mint, dest, signer, nil).Build())
		return p, nil

	case KindTokenApproval:
		source, _, err := solana.FindAssociatedTokenAddress(signer, req.Mint)
		if err != nil {
			return nil, walleterr.Wrap(walleterr.KindInvalidAddress, op, err)
		}
		decimals, err := c.decimals(ctx, req)
		if err != nil {
			return nil, err
		}
		return &instructionPlan{instructions: []solana.Instruction{
			token.NewApproveCheckedInstruction(req.Amount, decimals, source, req.Mint, req.To, signer, nil).Build(),
		}}, nil

	case KindTokenRevoke:
		source, _, err := solana.FindAssociatedTokenAddress(signer, req.Mint)
		if err != nil {
			return nil, walleterr.Wrap(walleterr.KindInvalidAddress, op, err)
		}
		return &instructionPlan{instructions: []solana.Instruction{
			token.NewRevokeInstruction(source, signer, nil).Build(),
		}}, nil

	default:
		return &instructionPlan{instructions: append([]solana.Instruction(nil), req.Instructions...)}, nil
	}
}

// placeholderPayer stands in for the device key until it is known. It only
// has to differ from every program id.
var placeholderPayer = solana.PublicKey{0xff}

// precheckSize compiles the instructions of req that can be built offline
// and rejects the request when they already exceed the size limit. Token
// transfers leave out a possible account creation, so the result is a lower
// bound of the final size.
func precheckSize(req *Request) error {
	const op = "sol.craft"

	payer := provisionalPayer(req)
	var instructions []solana.Instruction
	switch req.Kind {
	case KindNativeTransfer:
		instructions = []solana.Instruction{system.NewTransferInstruction(req.Amount, payer, req.To).Build()}
	case KindTokenTransfer:
		source, dest, err := associatedAccounts(payer, req.To, req.Mint)
		if err != nil {
			return err
		}
		instructions = []solana.Instruction{
			token.NewTransferCheckedInstruction(req.Amount, 0, source, req.Mint, dest, payer, nil).Build(),
		}
	case KindTokenApproval, KindTokenRevoke:
		// fixed size, well below the limit
		return nil
	default:
		instructions = req.Instructions
	}

	tx, err := solana.NewTransaction(append(computeBudget(req), instructions...), solana.Hash{}, solana.TransactionPayer(payer))
	if err != nil {
		return walleterr.Wrap(walleterr.KindInvalidRequest, op, err)
	}
	_, err = checkSize(tx)
	return err
}

// provisionalPayer is the known signer, else the signer the instructions
// name, else a placeholder. Every signer has to be the device key, so the
// first one found is the payer unless the request is invalid anyway.
func provisionalPayer(req *Request) solana.PublicKey {
	if req.Signer != nil {
		return *req.Signer
	}
	for _, inst := range req.Instructions {
		for _, meta := range inst.Accounts() {
			if meta != nil && meta.IsSigner {
				return meta.PublicKey
			}
		}
	}
	return placeholderPayer
}

func associatedAccounts(owner, recipient, mint solana.PublicKey) (solana.PublicKey, solana.PublicKey, error) {
	source, _, err := solana.FindAssociatedTokenAddress(owner, mint)
	if err != nil {
		return solana.PublicKey{}, solana.PublicKey{}, walleterr.Wrap(walleterr.KindInvalidAddress, "sol.associated_account", err)
	}
	dest, _, err := solana.FindAssociatedTokenAddress(recipient, mint)
	if err != nil {
		return solana.PublicKey{}, solana.PublicKey{}, walleterr.Wrap(walleterr.KindInvalidAddress, "sol.associated_account", err)
	}
	return source, dest, nil
}

func (c *Crafter) decimals(ctx context.Context, req *Request) (uint8, error) {
	if req.Decimals != nil {
		return *req.Decimals, nil
	}
	decimals, err := c.client.GetMintDecimals(ctx, req.Mint)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to get decimals of %s", req.Mint)
	}
	return decimals, nil
}

// computeBudget returns the unit limit and unit price instructions, in that
// order, when requested.
func computeBudget(req *Request) []solana.Instruction {
	var out []solana.Instruction
	if req.ComputeUnitLimit > 0 {
		out = append(out, computebudget.NewSetComputeUnitLimitInstruction(req.ComputeUnitLimit).Build())
	}
	if req.PriorityFee > 0 {
		out = append(out, computebudget.NewSetComputeUnitPriceInstruction(req.PriorityFee).Build())
	}
	return out
}

// checkSigners requires every signer account to be the device key and warns
// when one instruction lists the same signer account more than once. The
// device key signing several instructions is normal and the compiled message
// holds it once, so repeats across instructions are not reported.
func checkSigners(ctx context.Context, instructions []solana.Instruction, signer solana.PublicKey) error {
	const op = "sol.check_signers"
	log := util.LogFromContext(ctx)

	for i, inst := range instructions {
		seen := make(map[solana.PublicKey]bool)
		for _, meta := range inst.Accounts() {
			if meta == nil || !meta.IsSigner {
				continue
			}
			if !OnCurve(meta.PublicKey) {
				return walleterr.New(walleterr.KindInvalidAddress, op, "signer %s of instruction %d is not on the curve", meta.PublicKey, i)
			}
			if !meta.PublicKey.Equals(signer) {
				return walleterr.New(walleterr.KindInvalidRequest, op,
					"instruction %d requires a signature of %s which the device does not hold", i, meta.PublicKey)
			}
			if seen[meta.PublicKey] {
				log.Warn().Int("instruction", i).Str("signer", meta.PublicKey.String()).Msg("Duplicate signer account")
			}
			seen[meta.PublicKey] = true
		}
	}

	return nil
}

// checkTransaction validates the compiled transaction and returns its size
// with all signatures in place.
func checkTransaction(tx *solana.Transaction, signer solana.PublicKey) (int, error) {
	const op = "sol.check_transaction"

	msg := tx.Message
	if len(msg.Instructions) == 0 {
		return 0, walleterr.New(walleterr.KindInvalidRequest, op, "transaction has no instructions")
	}
	if msg.RecentBlockhash.IsZero() {
		return 0, walleterr.New(walleterr.KindInvalidRequest, op, "transaction has no blockhash")
	}
	if len(msg.AccountKeys) == 0 || !msg.AccountKeys[0].Equals(signer) {
		return 0, walleterr.New(walleterr.KindInvalidRequest, op, "fee payer is not the device key")
	}
	for _, key := range msg.Signers() {
		if !OnCurve(key) {
			return 0, walleterr.New(walleterr.KindInvalidAddress, op, "signer %s is not on the curve", key)
		}
	}

	return checkSize(tx)
}

func checkSize(tx *solana.Transaction) (int, error) {
	const op = "sol.check_transaction"

	size, err := TransactionSize(tx)
	if err != nil {
		return 0, walleterr.Wrap(walleterr.KindInvalidRequest, op, err)
	}
	if size > MaxTransactionSize {
		return 0, walleterr.New(walleterr.KindTransactionTooLarge, op,
			"transaction of %d bytes exceeds the %d byte limit", size, MaxTransactionSize)
	}
	return size, nil
}

// TransactionSize is the wire size of tx once every required signature is
// attached.
func TransactionSize(tx *solana.Transaction) (int, error) {
	msg, err := tx.Message.MarshalBinary()
	if err != nil {
		return 0, err
	}
	n := int(tx.Message.Header.NumRequiredSignatures)

	var prefix []byte
	bin.EncodeCompactU16Length(&prefix, n)
	return len(prefix) + n*ed25519.SignatureSize + len(msg), nil
}

// estimateFee is the signature fee plus the priority fee of the compute
// budget the transaction may use.
func estimateFee(tx *solana.Transaction, req *Request, instructions int) uint64 {
	fee := uint64(tx.Message.Header.NumRequiredSignatures) * LamportsPerSignature
	if req.PriorityFee == 0 {
		return fee
	}

	units := uint64(req.ComputeUnitLimit)
	if units == 0 {
		units = uint64(instructions) * defaultUnitsPerInstruction
		if units > maxUnitsPerTransaction {
			units = maxUnitsPerTransaction
		}
	}
	// round up to whole lamports
	return fee + (units*req.PriorityFee+microLamportsPerLamport-1)/microLamportsPerLamport
}

// checkBalance requires lamports for value, fees and rent and, for token
// transfers, a source token balance covering the amount.
func (c *Crafter) checkBalance(ctx context.Context, req *Request, signer solana.PublicKey, p *instructionPlan, fee uint64) error {
	const op = "sol.check_balance"

	balance, err := c.client.GetBalance(ctx, signer)
	if err != nil {
		return errors.Wrap(err, "failed to get balance")
	}

	required := p.lamports + fee + p.rent
	if balance < required {
		return walleterr.New(walleterr.KindInsufficientBalance, op,
			"balance %d lamports is below the %d lamports required for amount, fees and rent", balance, required)
	}

	if req.Kind != KindTokenTransfer {
		return nil
	}

	accounts, err := c.client.GetTokenAccounts(ctx, signer)
	if err != nil {
		return errors.Wrap(err, "failed to get token accounts")
	}
	var held uint64
	for _, acc := range accounts {
		if acc.Address.Equals(p.tokenSource) && acc.Mint.Equals(req.Mint) {
			held = acc.Amount
		}
	}
	if held < p.tokenAmount {
		return walleterr.New(walleterr.KindInsufficientBalance, op,
			"token balance %d is below the transfer amount %d", held, p.tokenAmount)
	}

	return nil
}

// Sign hands the message to the device and attaches the signature after
// verifying it. A prepared transaction can only be signed once.
func (c *Crafter) Sign(ctx context.Context, prepared *PreparedTransaction) (*SignedTransaction, error) {
	const op = "sol.sign"

	if !prepared.consumed.CompareAndSwap(false, true) {
		return nil, walleterr.New(walleterr.KindInvalidRequest, op, "transaction was already signed")
	}

	tx := prepared.tx
	msg, err := tx.Message.MarshalBinary()
	if err != nil {
		return nil, walleterr.Wrap(walleterr.KindInvalidPayload, op, err)
	}

	sig, err := c.device.SignTransaction(ctx, chain.Solana, prepared.Path, msg)
	if err != nil {
		return nil, err
	}
	if len(sig.Raw) != ed25519.SignatureSize {
		return nil, walleterr.New(walleterr.KindInvalidPayload, op, "signature of %d bytes", len(sig.Raw))
	}

	signature := solana.SignatureFromBytes(sig.Raw)
	if !prepared.Signer.Verify(msg, signature) {
		return nil, walleterr.New(walleterr.KindInvalidPayload, op, "signature does not verify against %s", prepared.Signer)
	}
	tx.Signatures = []solana.Signature{signature}

	raw, err := tx.MarshalBinary()
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal transaction")
	}

	return &SignedTransaction{
		Tx:        tx,
		Raw:       raw,
		Signature: signature,
		Signer:    prepared.Signer,
	}, nil
}

// Broadcast submits a signed transaction and returns its signature.
func (c *Crafter) Broadcast(ctx context.Context, signed *SignedTransaction) (solana.Signature, error) {
	log := util.LogFromContext(ctx)

	sig, err := c.client.SendTransaction(ctx, signed.Tx)
	if err != nil {
		return solana.Signature{}, errors.Wrap(err, "failed to broadcast transaction")
	}
	if !sig.Equals(signed.Signature) {
		log.Warn().Str("signature", signed.Signature.String()).Str("reported_signature", sig.String()).Msg("Node reported a different signature")
	}

	log.Info().
		Str("signature", signed.Signature.String()).
		Str("signer", signed.Signer.String()).
		Msg("Broadcast Solana transaction")

	return signed.Signature, nil
}

// OnCurve reports whether key is a valid ed25519 point, i.e. a key with a
// private key behind it rather than a program derived address.
func OnCurve(key solana.PublicKey) bool {
	_, err := new(edwards25519.Point).SetBytes(key[:])
	return err == nil
}

func checkWallet(op, name string, key solana.PublicKey) error {
	if key.IsZero() {
		return walleterr.New(walleterr.KindInvalidAddress, op, "missing %s", name)
	}
	if !OnCurve(key) {
		return walleterr.New(walleterr.KindInvalidAddress, op, "%s %s is not on the curve", name, key)
	}
	return nil
}

// ParseAddress decodes a base58 wallet address and requires it to be on the
// curve.
func ParseAddress(s string) (solana.PublicKey, error) {
	const op = "sol.parse_address"

	key, err := solana.PublicKeyFromBase58(s)
	if err != nil {
		return solana.PublicKey{}, walleterr.Wrap(walleterr.KindInvalidAddress, op, err)
	}
	if err := checkWallet(op, "address", key); err != nil {
		return solana.PublicKey{}, err
	}
	return key, nil
}
