package keystore

// File is the keystore v3 JSON layout with the mnemonic as the encrypted
// payload.
type File struct {
	Version int    `json:"version"`
	ID      string `json:"id"`
	Crypto  struct {
		Ciphertext   string `json:"ciphertext"`
		CipherParams struct {
			IV string `json:"iv"`
		} `json:"cipherparams"`
		Cipher    string `json:"cipher"`
		KDF       string `json:"kdf"`
		KDFParams struct {
			DKLen int    `json:"dklen"`
			Salt  string `json:"salt"`
			N     int    `json:"n"`
			R     int    `json:"r"`
			P     int    `json:"p"`
		} `json:"kdfparams"`
		MAC string `json:"mac"`
	} `json:"crypto"`
}

// ScryptParams defines scrypt KDF parameters
type ScryptParams struct {
	DKLen int
	N     int
	R     int
	P     int
}

const (
	version    = 3
	cipherName = "aes-128-ctr"
	kdfName    = "scrypt"
	saltSize   = 32
	ivSize     = 16
)

// DefaultScryptParams are the standard keystore v3 parameters.
func DefaultScryptParams() ScryptParams {
	return ScryptParams{DKLen: 32, N: 1 << 18, R: 8, P: 1}
}

// LightScryptParams trade strength for speed, for tests and throwaway seeds.
func LightScryptParams() ScryptParams {
	return ScryptParams{DKLen: 32, N: 1 << 12, R: 8, P: 6}
}
