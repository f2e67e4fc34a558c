// Package crypto encrypts a Store's BIP-39 mnemonic at rest: never
// logged, zeroised in memory on drop. The service holds one master
// secret (from process config, never the database); each store's
// mnemonic gets its own Argon2id-derived key from that secret plus a
// random per-row salt, so compromising one row's salt does not help
// decrypt another.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"

	"github.com/finchgate/gateway/internal/models"
)

const (
	argon2Time    = 4
	argon2Memory  = 256 * 1024
	argon2Threads = 4
	argon2KeyLen  = 32
	saltLen       = 16
	nonceLen      = 12
)

// MnemonicCipher encrypts/decrypts Store mnemonics using a process-wide
// master secret. The secret itself comes from process config (§10), not
// from the data store.
type MnemonicCipher struct {
	masterSecret []byte
}

func NewMnemonicCipher(masterSecret []byte) *MnemonicCipher {
	return &MnemonicCipher{masterSecret: masterSecret}
}

// Encrypt seals a plaintext mnemonic phrase for storage on a Store row.
func (c *MnemonicCipher) Encrypt(phrase string) (models.EncryptedMnemonic, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return models.EncryptedMnemonic{}, fmt.Errorf("crypto: generate salt: %w", err)
	}

	key := c.deriveKey(salt)
	defer ClearBytes(key)

	gcm, err := newGCM(key)
	if err != nil {
		return models.EncryptedMnemonic{}, err
	}

	nonce := make([]byte, nonceLen)
	if _, err := rand.Read(nonce); err != nil {
		return models.EncryptedMnemonic{}, fmt.Errorf("crypto: generate nonce: %w", err)
	}

	plaintext := []byte(phrase)
	ciphertext := gcm.Seal(nil, nonce, plaintext, nil)
	ClearBytes(plaintext)

	return models.EncryptedMnemonic{Salt: salt, Nonce: nonce, Ciphertext: ciphertext}, nil
}

// Decrypt recovers the plaintext mnemonic phrase. Callers MUST zeroise
// the returned string's backing bytes as soon as derivation is done;
// since Go strings are immutable this means deriving immediately and
// discarding the reference rather than holding it.
func (c *MnemonicCipher) Decrypt(enc models.EncryptedMnemonic) (string, error) {
	if len(enc.Salt) != saltLen {
		return "", fmt.Errorf("crypto: invalid salt length %d", len(enc.Salt))
	}
	if len(enc.Nonce) != nonceLen {
		return "", fmt.Errorf("crypto: invalid nonce length %d", len(enc.Nonce))
	}

	key := c.deriveKey(enc.Salt)
	defer ClearBytes(key)

	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}

	plaintext, err := gcm.Open(nil, enc.Nonce, enc.Ciphertext, nil)
	if err != nil {
		return "", errors.New("crypto: authentication failed, wrong master secret or corrupted row")
	}
	return string(plaintext), nil
}

func (c *MnemonicCipher) deriveKey(salt []byte) []byte {
	return argon2.IDKey(c.masterSecret, salt, argon2Time, argon2Memory, argon2Threads, argon2KeyLen)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto: new gcm: %w", err)
	}
	return gcm, nil
}

// ClearBytes zeroises a byte slice in place, best-effort defense against
// leaving key material in memory longer than needed.
func ClearBytes(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
