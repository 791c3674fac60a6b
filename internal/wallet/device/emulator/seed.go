package emulator

import (
	"crypto/sha512"
	"sync"

	"github.com/pkg/errors"
	"github.com/tyler-smith/go-bip39"
	"golang.org/x/crypto/pbkdf2"
)

// seedStore holds the BIP-39 seed of the emulated device.
type seedStore struct {
	mu          sync.RWMutex
	seed        []byte
	initialized bool
}

// initialize validates the mnemonic and derives the seed.
// BIP39: seed = PBKDF2(mnemonic, "mnemonic" + passphrase, 2048, 64, SHA512)
func (m *seedStore) initialize(mnemonic string, passphrase string) error {
	if !bip39.IsMnemonicValid(mnemonic) {
		return errors.New("invalid BIP-39 mnemonic")
	}

	const (
		pbkdf2Iterations = 2048
		pbkdf2KeyLength  = 64
	)

	seed := pbkdf2.Key(
		[]byte(mnemonic),
		[]byte("mnemonic"+passphrase),
		pbkdf2Iterations,
		pbkdf2KeyLength,
		sha512.New,
	)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.seed = seed
	m.initialized = true

	return nil
}

// get returns a copy of the seed, or nil once wiped.
func (m *seedStore) get() []byte {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if !m.initialized || m.seed == nil {
		return nil
	}

	seedCopy := make([]byte, len(m.seed))
	copy(seedCopy, m.seed)
	return seedCopy
}

// wipe zeroes the seed in memory.
func (m *seedStore) wipe() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.seed {
		m.seed[i] = 0
	}
	m.seed = nil
	m.initialized = false
}
