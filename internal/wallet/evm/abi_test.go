package evm_test

import (
	"math/big"
	"strings"
	"testing"

	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet/evm"
	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet/walleterr"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const vaultABI = `[
 {"type":"function","name":"deposit","stateMutability":"payable","inputs":[{"name":"id","type":"uint64"},{"name":"tag","type":"bytes4"},{"name":"memo","type":"string"},{"name":"locked","type":"bool"}],"outputs":[]},
 {"type":"function","name":"adjust","stateMutability":"nonpayable","inputs":[{"name":"delta","type":"int8"},{"name":"data","type":"bytes"}],"outputs":[]},
 {"type":"function","name":"batch","stateMutability":"nonpayable","inputs":[{"name":"ids","type":"uint256[]"}],"outputs":[]}
]`

func TestEncodeCallMatchesABIPack(t *testing.T) {
	t.Parallel()

	data, err := evm.EncodeCall(evm.ERC20ABI, "transfer", []string{recipient.Hex(), "1000000"})
	require.NoError(t, err)

	parsed, err := abi.JSON(strings.NewReader(evm.ERC20ABI))
	require.NoError(t, err)
	want, err := parsed.Pack("transfer", recipient, big.NewInt(1_000_000))
	require.NoError(t, err)

	assert.Equal(t, want, data)
}

func TestEncodeCallConvertsTypes(t *testing.T) {
	t.Parallel()

	data, err := evm.EncodeCall(vaultABI, "deposit", []string{"0x10", "0xdeadbeef", "rent", "true"})
	require.NoError(t, err)

	parsed, err := abi.JSON(strings.NewReader(vaultABI))
	require.NoError(t, err)
	want, err := parsed.Pack("deposit", uint64(16), [4]byte{0xde, 0xad, 0xbe, 0xef}, "rent", true)
	require.NoError(t, err)
	assert.Equal(t, want, data)

	data, err = evm.EncodeCall(vaultABI, "adjust", []string{"-5", "0x0102"})
	require.NoError(t, err)
	want, err = parsed.Pack("adjust", int8(-5), []byte{1, 2})
	require.NoError(t, err)
	assert.Equal(t, want, data)
}

func TestEncodeCallErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		abi    string
		method string
		args   []string
		want   *walleterr.Error
	}{
		{"unknown method", evm.ERC20ABI, "mint", nil, walleterr.ErrMethodNotFound},
		{"broken abi", "{", "transfer", nil, walleterr.ErrInvalidRequest},
		{"arg count", evm.ERC20ABI, "transfer", []string{recipient.Hex()}, walleterr.ErrInvalidRequest},
		{"bad address", evm.ERC20ABI, "transfer", []string{"0x1234", "1"}, walleterr.ErrInvalidRequest},
		{"negative uint", evm.ERC20ABI, "transfer", []string{recipient.Hex(), "-1"}, walleterr.ErrInvalidRequest},
		{"int8 overflow", vaultABI, "adjust", []string{"200", "0x"}, walleterr.ErrInvalidRequest},
		{"short fixed bytes", vaultABI, "deposit", []string{"1", "0xdead", "", "false"}, walleterr.ErrInvalidRequest},
		{"unsupported array", vaultABI, "batch", []string{"1"}, walleterr.ErrInvalidRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := evm.EncodeCall(tt.abi, tt.method, tt.args)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
		})
	}
}

func TestERC20Selectors(t *testing.T) {
	t.Parallel()

	transfer, err := evm.EncodeCall(evm.ERC20ABI, "transfer", []string{common.Address{}.Hex(), "0"})
	require.NoError(t, err)
	assert.Equal(t, []byte{0xa9, 0x05, 0x9c, 0xbb}, transfer[:4])

	approve, err := evm.EncodeCall(evm.ERC20ABI, "approve", []string{common.Address{}.Hex(), "0"})
	require.NoError(t, err)
	assert.Equal(t, []byte{0x09, 0x5e, 0xa7, 0xb3}, approve[:4])
}
