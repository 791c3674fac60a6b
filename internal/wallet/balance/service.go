//nolint:ireturn
package balance

import (
	"context"
	"math/big"
	"strings"

	"github.com/dennisonbertram/mcp-ledger-sub001/internal/util"
	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet/amount"
	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet/chain"
	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet/walleterr"
	"github.com/ethereum/go-ethereum/common"
	"github.com/gagliardetto/solana-go"
	"github.com/pkg/errors"
)

// Service reads on-chain balances of an address.
type Service interface {
	// Native returns the balance of the chain's native asset. For Bitcoin the
	// UTXOs below BITCOIN_MIN_CONFIRMATIONS are reported as pending.
	Native(ctx context.Context, c chain.Chain, address string) (*Balance, error)

	// Token returns the balance of an ERC-20 contract or an SPL mint.
	Token(ctx context.Context, c chain.Chain, address, token string) (*Balance, error)

	// SolanaTokens lists every SPL token account owned by address, one
	// balance per mint.
	SolanaTokens(ctx context.Context, address string) ([]*Balance, error)
}

type service struct {
	clients Clients
}

// NewService creates the balance service. Chains without a client are
// reported as not configured.
//
//nolint:ireturn
func NewService(clients Clients) Service {
	return &service{clients: clients}
}

func notConfigured(op string, c chain.Chain) error {
	return walleterr.New(walleterr.KindInvalidRequest, op, "%s is not configured", c)
}

func evmAddress(op, name, s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, walleterr.New(walleterr.KindInvalidAddress, op, "invalid %s %q", name, s)
	}
	return common.HexToAddress(s), nil
}

func solanaKey(op, name, s string) (solana.PublicKey, error) {
	key, err := solana.PublicKeyFromBase58(s)
	if err != nil {
		return solana.PublicKey{}, walleterr.Wrap(walleterr.KindInvalidAddress, op, errors.Wrapf(err, "invalid %s %q", name, s))
	}
	return key, nil
}

func newBalance(c chain.Chain, address, asset string, raw *big.Int, decimals int32) *Balance {
	return &Balance{
		Chain:    c,
		Address:  address,
		Asset:    asset,
		Raw:      raw.String(),
		Amount:   amount.FormatUnits(raw, decimals),
		Decimals: decimals,
	}
}

func (s *service) Native(ctx context.Context, c chain.Chain, address string) (*Balance, error) {
	const op = "balance.native"

	switch c {
	case chain.EVM:
		return s.evmNative(ctx, op, address)
	case chain.Bitcoin:
		return s.bitcoinNative(ctx, op, address)
	case chain.Solana:
		return s.solanaNative(ctx, op, address)
	default:
		return nil, walleterr.New(walleterr.KindInvalidRequest, op, "unsupported chain %q", c)
	}
}

func (s *service) evmNative(ctx context.Context, op, address string) (*Balance, error) {
	if s.clients.EVM == nil {
		return nil, notConfigured(op, chain.EVM)
	}
	account, err := evmAddress(op, "address", address)
	if err != nil {
		return nil, err
	}

	wei, err := s.clients.EVM.BalanceAt(ctx, account)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get balance")
	}
	return newBalance(chain.EVM, account.Hex(), AssetNative, wei, amount.EtherDecimals), nil
}

func (s *service) bitcoinNative(ctx context.Context, op, address string) (*Balance, error) {
	log := util.LogFromContext(ctx)

	if s.clients.Bitcoin == nil {
		return nil, notConfigured(op, chain.Bitcoin)
	}
	if strings.TrimSpace(address) == "" {
		return nil, walleterr.New(walleterr.KindInvalidAddress, op, "missing address")
	}

	utxos, err := s.clients.Bitcoin.UTXOs(ctx, address)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list UTXOs")
	}

	var confirmed, pending int64
	for _, u := range utxos {
		if u.Spendable {
			confirmed += int64(u.Value)
		} else {
			pending += int64(u.Value)
		}
	}

	log.Debug().Str("address", address).Int("utxos", len(utxos)).Int64("pending", pending).Msg("Summed UTXOs")

	res := newBalance(chain.Bitcoin, address, AssetNative, big.NewInt(confirmed), amount.BitcoinDecimals)
	res.UTXOs = len(utxos)
	if pending > 0 {
		res.Pending = amount.FormatUnits(big.NewInt(pending), amount.BitcoinDecimals)
	}
	return res, nil
}

func (s *service) solanaNative(ctx context.Context, op, address string) (*Balance, error) {
	if s.clients.Solana == nil {
		return nil, notConfigured(op, chain.Solana)
	}
	account, err := solanaKey(op, "address", address)
	if err != nil {
		return nil, err
	}

	lamports, err := s.clients.Solana.GetBalance(ctx, account)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get balance")
	}
	return newBalance(chain.Solana, account.String(), AssetNative, new(big.Int).SetUint64(lamports), amount.SolDecimals), nil
}

func (s *service) Token(ctx context.Context, c chain.Chain, address, token string) (*Balance, error) {
	const op = "balance.token"

	switch c {
	case chain.EVM:
		return s.evmToken(ctx, op, address, token)
	case chain.Solana:
		return s.solanaToken(ctx, op, address, token)
	default:
		return nil, walleterr.New(walleterr.KindInvalidRequest, op, "%s has no token balances", c)
	}
}

func (s *service) evmToken(ctx context.Context, op, address, token string) (*Balance, error) {
	if s.clients.EVM == nil {
		return nil, notConfigured(op, chain.EVM)
	}
	account, err := evmAddress(op, "address", address)
	if err != nil {
		return nil, err
	}
	contract, err := evmAddress(op, "token", token)
	if err != nil {
		return nil, err
	}

	raw, err := s.clients.EVM.TokenBalance(ctx, contract, account)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get token balance")
	}
	decimals, err := s.clients.EVM.TokenDecimals(ctx, contract)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get token decimals")
	}
	return newBalance(chain.EVM, account.Hex(), contract.Hex(), raw, int32(decimals)), nil
}

func (s *service) solanaToken(ctx context.Context, op, address, token string) (*Balance, error) {
	if s.clients.Solana == nil {
		return nil, notConfigured(op, chain.Solana)
	}
	owner, err := solanaKey(op, "address", address)
	if err != nil {
		return nil, err
	}
	mint, err := solanaKey(op, "mint", token)
	if err != nil {
		return nil, err
	}

	accounts, err := s.clients.Solana.GetTokenAccounts(ctx, owner)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list token accounts")
	}
	decimals, err := s.clients.Solana.GetMintDecimals(ctx, mint)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get mint decimals")
	}

	total := new(big.Int)
	n := 0
	for _, a := range accounts {
		if a.Mint.Equals(mint) {
			total.Add(total, new(big.Int).SetUint64(a.Amount))
			n++
		}
	}

	res := newBalance(chain.Solana, owner.String(), mint.String(), total, int32(decimals))
	res.Accounts = n
	return res, nil
}

func (s *service) SolanaTokens(ctx context.Context, address string) ([]*Balance, error) {
	const op = "balance.solana_tokens"

	if s.clients.Solana == nil {
		return nil, notConfigured(op, chain.Solana)
	}
	owner, err := solanaKey(op, "address", address)
	if err != nil {
		return nil, err
	}

	accounts, err := s.clients.Solana.GetTokenAccounts(ctx, owner)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list token accounts")
	}

	byMint := make(map[solana.PublicKey]*Balance)
	totals := make(map[solana.PublicKey]*big.Int)
	res := make([]*Balance, 0, len(accounts))

	for _, a := range accounts {
		if _, ok := byMint[a.Mint]; !ok {
			decimals, err := s.clients.Solana.GetMintDecimals(ctx, a.Mint)
			if err != nil {
				return nil, errors.Wrapf(err, "failed to get decimals of mint %s", a.Mint)
			}
			b := &Balance{Chain: chain.Solana, Address: owner.String(), Asset: a.Mint.String(), Decimals: int32(decimals)}
			byMint[a.Mint] = b
			totals[a.Mint] = new(big.Int)
			res = append(res, b)
		}
		totals[a.Mint].Add(totals[a.Mint], new(big.Int).SetUint64(a.Amount))
		byMint[a.Mint].Accounts++
	}

	for mint, b := range byMint {
		b.Raw = totals[mint].String()
		b.Amount = amount.FormatUnits(totals[mint], b.Decimals)
	}

	return res, nil
}
