//nolint:ireturn
package keystore

import (
	"context"
	"encoding/json"
	"os"
	"strings"

	"github.com/dennisonbertram/mcp-ledger-sub001/internal/util"
	"github.com/pkg/errors"
	"github.com/tyler-smith/go-bip39"
)

// Store keeps the emulator mnemonic encrypted in a single keystore file.
type Store interface {
	// Create encrypts mnemonic under password and writes the file. An
	// existing file is never overwritten.
	Create(ctx context.Context, mnemonic, password string) (*File, error)

	// Mnemonic decrypts the stored mnemonic.
	Mnemonic(ctx context.Context, password string) (string, error)

	// Exists reports whether the keystore file is present.
	Exists() (bool, error)
}

type store struct {
	path   string
	params ScryptParams
}

// NewStore returns a store backed by the file at path.
//
//nolint:ireturn
func NewStore(path string, params ScryptParams) Store {
	return &store{path: path, params: params}
}

func (s *store) Exists() (bool, error) {
	_, err := os.Stat(s.path)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, os.ErrNotExist):
		return false, nil
	default:
		return false, errors.Wrap(err, "failed to stat keystore")
	}
}

func (s *store) Create(ctx context.Context, mnemonic, password string) (*File, error) {
	log := util.LogFromContext(ctx)

	mnemonic = strings.Join(strings.Fields(mnemonic), " ")
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, errors.New("invalid BIP-39 mnemonic")
	}
	if password == "" {
		return nil, errors.New("empty keystore password")
	}

	f, err := encrypt(mnemonic, password, s.params)
	if err != nil {
		log.Error().Err(err).Msg("Failed to encrypt mnemonic")
		return nil, errors.Wrap(err, "failed to encrypt mnemonic")
	}

	data, err := json.MarshalIndent(f, "", "  ")
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal keystore JSON")
	}

	// O_EXCL keeps an existing seed from being replaced
	file, err := os.OpenFile(s.path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil, errors.Errorf("keystore %s already exists", s.path)
		}
		return nil, errors.Wrap(err, "failed to create keystore")
	}
	defer file.Close()

	if _, err := file.Write(data); err != nil {
		return nil, errors.Wrap(err, "failed to write keystore")
	}

	log.Info().Str("path", s.path).Str("id", f.ID).Msg("Created keystore")
	return f, nil
}

func (s *store) Mnemonic(ctx context.Context, password string) (string, error) {
	log := util.LogFromContext(ctx)

	data, err := os.ReadFile(s.path)
	if err != nil {
		return "", errors.Wrap(err, "failed to read keystore")
	}

	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return "", errors.Wrap(err, "failed to unmarshal keystore JSON")
	}

	mnemonic, err := decrypt(&f, password)
	if err != nil {
		log.Error().Err(err).Str("path", s.path).Msg("Failed to decrypt mnemonic")
		return "", errors.Wrap(err, "failed to decrypt mnemonic")
	}
	return mnemonic, nil
}
