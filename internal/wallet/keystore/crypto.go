package keystore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"golang.org/x/crypto/scrypt"
)

// ErrInvalidPassword is returned when the MAC of a keystore does not match.
var ErrInvalidPassword = errors.New("invalid keystore password")

func encrypt(mnemonic, password string, params ScryptParams) (*File, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, errors.Wrap(err, "failed to generate salt")
	}
	iv := make([]byte, ivSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, errors.Wrap(err, "failed to generate IV")
	}

	derivedKey, err := scrypt.Key([]byte(password), salt, params.N, params.R, params.P, params.DKLen)
	if err != nil {
		return nil, errors.Wrap(err, "failed to derive key")
	}

	ciphertext, err := aesCTR(derivedKey[:16], iv, []byte(mnemonic))
	if err != nil {
		return nil, err
	}

	f := &File{Version: version, ID: uuid.New().String()}
	f.Crypto.Ciphertext = hex.EncodeToString(ciphertext)
	f.Crypto.CipherParams.IV = hex.EncodeToString(iv)
	f.Crypto.Cipher = cipherName
	f.Crypto.KDF = kdfName
	f.Crypto.KDFParams.DKLen = params.DKLen
	f.Crypto.KDFParams.Salt = hex.EncodeToString(salt)
	f.Crypto.KDFParams.N = params.N
	f.Crypto.KDFParams.R = params.R
	f.Crypto.KDFParams.P = params.P
	f.Crypto.MAC = hex.EncodeToString(crypto.Keccak256(derivedKey[16:32], ciphertext))

	return f, nil
}

func decrypt(f *File, password string) (string, error) {
	if f.Version != version || f.Crypto.Cipher != cipherName || f.Crypto.KDF != kdfName {
		return "", errors.Errorf("unsupported keystore: version %d, cipher %q, kdf %q", f.Version, f.Crypto.Cipher, f.Crypto.KDF)
	}

	decode := func(name, s string) ([]byte, error) {
		b, err := hex.DecodeString(s)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to decode %s", name)
		}
		return b, nil
	}

	salt, err := decode("salt", f.Crypto.KDFParams.Salt)
	if err != nil {
		return "", err
	}
	iv, err := decode("IV", f.Crypto.CipherParams.IV)
	if err != nil {
		return "", err
	}
	ciphertext, err := decode("ciphertext", f.Crypto.Ciphertext)
	if err != nil {
		return "", err
	}
	mac, err := decode("MAC", f.Crypto.MAC)
	if err != nil {
		return "", err
	}

	kdf := f.Crypto.KDFParams
	if kdf.DKLen < 32 {
		return "", errors.Errorf("derived key length %d is below 32", kdf.DKLen)
	}
	derivedKey, err := scrypt.Key([]byte(password), salt, kdf.N, kdf.R, kdf.P, kdf.DKLen)
	if err != nil {
		return "", errors.Wrap(err, "failed to derive key")
	}

	if subtle.ConstantTimeCompare(crypto.Keccak256(derivedKey[16:32], ciphertext), mac) != 1 {
		return "", ErrInvalidPassword
	}

	plaintext, err := aesCTR(derivedKey[:16], iv, ciphertext)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

// aesCTR encrypts and decrypts, CTR being symmetric.
func aesCTR(key, iv, in []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create cipher")
	}
	if len(iv) != block.BlockSize() {
		return nil, errors.Errorf("IV must be %d bytes", block.BlockSize())
	}

	out := make([]byte, len(in))
	cipher.NewCTR(block, iv).XORKeyStream(out, in)
	return out, nil
}
