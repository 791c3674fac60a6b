package keystore_test

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet/device/emulator"
	"github.com/dennisonbertram/mcp-ledger-sub001/internal/wallet/keystore"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) (keystore.Store, string) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "emulator.json")
	return keystore.NewStore(path, keystore.LightScryptParams()), path
}

func TestCreateAndDecrypt(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, path := newStore(t)

	exists, err := s.Exists()
	require.NoError(t, err)
	assert.False(t, exists)

	f, err := s.Create(ctx, "  "+emulator.TestMnemonic+"\n", "hunter2")
	require.NoError(t, err)
	assert.Equal(t, 3, f.Version)
	assert.Equal(t, "aes-128-ctr", f.Crypto.Cipher)
	assert.NotEmpty(t, f.ID)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "abandon")

	mnemonic, err := s.Mnemonic(ctx, "hunter2")
	require.NoError(t, err)
	assert.Equal(t, emulator.TestMnemonic, mnemonic)

	_, err = s.Mnemonic(ctx, "wrong")
	assert.True(t, errors.Is(err, keystore.ErrInvalidPassword))
}

func TestCreateRefusesOverwrite(t *testing.T) {
	t.Parallel()
	s, _ := newStore(t)

	_, err := s.Create(context.Background(), emulator.TestMnemonic, "pw")
	require.NoError(t, err)

	_, err = s.Create(context.Background(), emulator.TestMnemonic, "pw")
	assert.ErrorContains(t, err, "already exists")
}

func TestCreateInvalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		mnemonic string
		password string
	}{
		{"bad checksum", "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon", "pw"},
		{"empty password", emulator.TestMnemonic, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			s, path := newStore(t)

			_, err := s.Create(context.Background(), tt.mnemonic, tt.password)
			require.Error(t, err)

			_, err = os.Stat(path)
			assert.True(t, os.IsNotExist(err))
		})
	}
}

func TestTamperedKeystore(t *testing.T) {
	t.Parallel()
	s, path := newStore(t)

	f, err := s.Create(context.Background(), emulator.TestMnemonic, "pw")
	require.NoError(t, err)

	f.Crypto.Cipher = "aes-256-gcm"
	data, err := json.Marshal(f)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o600))

	_, err = s.Mnemonic(context.Background(), "pw")
	assert.ErrorContains(t, err, "unsupported keystore")
}
