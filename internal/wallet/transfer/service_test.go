package transfer_test

import (
	"context"
	"encoding/hex"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet/bitcoin"
	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet/chain"
	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet/device"
	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet/device/emulator"
	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet/evm"
	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet/hdpath"
	sol "github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet/solana"
	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet/transfer"
	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet/walleterr"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/params"
	"github.com/gagliardetto/solana-go"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	evmDevice = common.HexToAddress("0x9858EfFD232B4033E47d90003D41EC34EcaEda94")
	solDevice = solana.MustPublicKeyFromBase58("HAgk14JpMQLgt6rVgv7cBQFJWFto5Dqxi472uT3DKpqk")
)

type craftObservation struct {
	chain   chain.Chain
	kind    string
	outcome string
}

type recorder struct {
	mu  sync.Mutex
	obs []craftObservation
}

func (r *recorder) ObserveCraft(c chain.Chain, kind string, outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.obs = append(r.obs, craftObservation{c, kind, outcome})
}

type evmChain struct {
	mu       sync.Mutex
	nonce    uint64
	sent     []*types.Transaction
	reverted bool
}

func (c *evmChain) ChainID(context.Context) (*big.Int, error) { return big.NewInt(1), nil }

func (c *evmChain) BalanceAt(context.Context, common.Address) (*big.Int, error) {
	return big.NewInt(params.Ether), nil
}

func (c *evmChain) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nonce, nil
}

func (c *evmChain) FeeData(context.Context) (*evm.FeeData, error) {
	return &evm.FeeData{BaseFee: big.NewInt(params.GWei), GasTipCap: big.NewInt(params.GWei), GasPrice: big.NewInt(2 * params.GWei)}, nil
}

func (c *evmChain) EstimateGas(context.Context, ethereum.CallMsg) (uint64, error) { return 21000, nil }

func (c *evmChain) TokenBalance(context.Context, common.Address, common.Address) (*big.Int, error) {
	return big.NewInt(0), nil
}

func (c *evmChain) SendTransaction(_ context.Context, tx *types.Transaction) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, tx)
	c.nonce++
	return nil
}

func (c *evmChain) TransactionReceipt(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, tx := range c.sent {
		if tx.Hash() == hash {
			status := types.ReceiptStatusSuccessful
			if c.reverted {
				status = types.ReceiptStatusFailed
			}
			return &types.Receipt{TxHash: hash, Status: status, GasUsed: 21000, BlockNumber: big.NewInt(100)}, nil
		}
	}
	return nil, ethereum.NotFound
}

type solChain struct {
	mu        sync.Mutex
	sent      []*solana.Transaction
	confirmed []solana.Signature
}

func (c *solChain) GetBalance(context.Context, solana.PublicKey) (uint64, error) {
	return 10_000_000_000, nil
}

func (c *solChain) GetTokenAccounts(context.Context, solana.PublicKey) ([]sol.TokenAccount, error) {
	return nil, nil
}

func (c *solChain) GetLatestBlockhash(context.Context) (solana.Hash, error) {
	return solana.Hash{7}, nil
}

func (c *solChain) AccountExists(context.Context, solana.PublicKey) (bool, error) { return true, nil }

func (c *solChain) GetMintDecimals(context.Context, solana.PublicKey) (uint8, error) { return 6, nil }

func (c *solChain) GetRentExemption(context.Context, uint64) (uint64, error) { return 2_039_280, nil }

func (c *solChain) SendTransaction(_ context.Context, tx *solana.Transaction) (solana.Signature, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, tx)
	return tx.Signatures[0], nil
}

func (c *solChain) ConfirmTransaction(_ context.Context, sig solana.Signature) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.confirmed = append(c.confirmed, sig)
	return nil
}

func newSession(t *testing.T, app string) (*device.Session, *emulator.Emulator) {
	t.Helper()

	emu, err := emulator.New(emulator.Options{App: app})
	require.NoError(t, err)

	s := device.NewSession(emu.Opener(), device.Config{}, nil)
	require.NoError(t, s.Connect(context.Background(), time.Second))
	t.Cleanup(func() { _ = s.Disconnect(context.Background()) })
	return s, emu
}

func TestSendEVM(t *testing.T) {
	session, _ := newSession(t, "Ethereum")
	client := &evmChain{nonce: 3}
	rec := &recorder{}
	svc := transfer.NewService(transfer.Chains{
		EVM:         evm.NewCrafter(client, session, evm.DefaultConfig()),
		EVMReceipts: client,
	}, rec)
	ctx := context.Background()
	to := common.HexToAddress("0x000000000000000000000000000000000000dEaD")

	res, err := svc.SendEVM(ctx, evm.NativeTransfer(hdpath.Default(chain.EVM), to, big.NewInt(1000)), transfer.Options{Wait: true})
	require.NoError(t, err)
	assert.Equal(t, evmDevice.Hex(), res.From)
	assert.True(t, res.Broadcast)
	assert.True(t, res.Confirmed)
	require.Len(t, client.sent, 1)
	assert.Equal(t, client.sent[0].Hash().Hex(), res.TxID)

	raw, err := hex.DecodeString(res.Raw)
	require.NoError(t, err)
	var decoded types.Transaction
	require.NoError(t, decoded.UnmarshalBinary(raw))
	assert.Equal(t, uint64(3), decoded.Nonce())

	dry, err := svc.SendEVM(ctx, evm.NativeTransfer(hdpath.Default(chain.EVM), to, big.NewInt(1000)), transfer.Options{DryRun: true})
	require.NoError(t, err)
	assert.False(t, dry.Broadcast)
	assert.Len(t, client.sent, 1, "dry runs never broadcast")
	assert.NotEmpty(t, dry.Raw)

	assert.Equal(t, []craftObservation{
		{chain.EVM, "native_transfer", "ok"},
		{chain.EVM, "native_transfer", "dry_run"},
	}, rec.obs)
}

func TestSendEVMReverted(t *testing.T) {
	session, _ := newSession(t, "Ethereum")
	client := &evmChain{reverted: true}
	rec := &recorder{}
	svc := transfer.NewService(transfer.Chains{
		EVM:         evm.NewCrafter(client, session, evm.DefaultConfig()),
		EVMReceipts: client,
	}, rec)

	res, err := svc.SendEVM(context.Background(),
		evm.NativeTransfer(hdpath.Default(chain.EVM), common.HexToAddress("0x01"), big.NewInt(1)), transfer.Options{Wait: true})
	assert.True(t, errors.Is(err, walleterr.ErrRPC))
	require.NotNil(t, res)
	assert.True(t, res.Broadcast)
	assert.False(t, res.Confirmed)
	assert.Equal(t, walleterr.KindRPC.String(), rec.obs[0].outcome)
}

func TestSendRecordsFailures(t *testing.T) {
	session, emu := newSession(t, "Ethereum")
	client := &evmChain{}
	rec := &recorder{}
	svc := transfer.NewService(transfer.Chains{EVM: evm.NewCrafter(client, session, evm.DefaultConfig())}, rec)

	emu.SetConfirm(func(req emulator.Request) bool { return req.Kind == emulator.RequestAddress })

	_, err := svc.SendEVM(context.Background(),
		evm.NativeTransfer(hdpath.Default(chain.EVM), common.HexToAddress("0x01"), big.NewInt(1)), transfer.Options{})
	assert.True(t, errors.Is(err, walleterr.ErrUserRejected))
	assert.Empty(t, client.sent)
	require.Len(t, rec.obs, 1)
	assert.Equal(t, walleterr.KindUserRejected.String(), rec.obs[0].outcome)
}

func TestSendSolana(t *testing.T) {
	session, _ := newSession(t, "Solana")
	client := &solChain{}
	rec := &recorder{}
	svc := transfer.NewService(transfer.Chains{
		Solana:          sol.NewCrafter(client, session, sol.DefaultConfig()),
		SolanaConfirmer: client,
	}, rec)

	to := solana.MustPublicKeyFromBase58("9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM")
	res, err := svc.SendSolana(context.Background(),
		sol.NativeTransfer(hdpath.Default(chain.Solana), to, 1_000_000), transfer.Options{Wait: true})
	require.NoError(t, err)
	assert.Equal(t, solDevice.String(), res.From)
	assert.Equal(t, "5000", res.Fee)
	assert.True(t, res.Confirmed)
	require.Len(t, client.sent, 1)
	require.Len(t, client.confirmed, 1)
	assert.Equal(t, client.confirmed[0].String(), res.TxID)

	decoded, err := solana.TransactionFromBase64(res.Raw)
	require.NoError(t, err)
	require.NoError(t, decoded.VerifySignatures())

	assert.Equal(t, []craftObservation{{chain.Solana, "native_transfer", "ok"}}, rec.obs)
}

func TestSendNotConfigured(t *testing.T) {
	t.Parallel()

	svc := transfer.NewService(transfer.Chains{}, nil)
	ctx := context.Background()

	_, err := svc.SendEVM(ctx, &evm.Request{}, transfer.Options{})
	assert.True(t, errors.Is(err, walleterr.ErrInvalidRequest))

	_, err = svc.SendBitcoin(ctx, &bitcoin.Request{}, transfer.Options{})
	assert.True(t, errors.Is(err, walleterr.ErrInvalidRequest))

	_, err = svc.SendSolana(ctx, &sol.Request{}, transfer.Options{})
	assert.True(t, errors.Is(err, walleterr.ErrInvalidRequest))
}
