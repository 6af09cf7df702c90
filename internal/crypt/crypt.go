package crypt

import (
	"errors"
	"fmt"

	"github.com/fernet/fernet-go"
)

// Cipher wraps the process-wide Fernet key used to protect account passwords
// at rest. Tokens never expire; the key is rotated by re-encrypting rows.
type Cipher struct {
	key *fernet.Key
}

// New parses the url-safe base64 account key.
func New(accountKey string) (*Cipher, error) {
	key, err := fernet.DecodeKey(accountKey)
	if err != nil {
		return nil, fmt.Errorf("invalid account key: %w", err)
	}
	return &Cipher{key: key}, nil
}

// Encrypt seals a plaintext password into a Fernet token.
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	tok, err := fernet.EncryptAndSign([]byte(plaintext), c.key)
	if err != nil {
		return "", fmt.Errorf("encrypt: %w", err)
	}
	return string(tok), nil
}

// Decrypt opens a Fernet token produced by Encrypt.
func (c *Cipher) Decrypt(ciphertext string) (string, error) {
	msg := fernet.VerifyAndDecrypt([]byte(ciphertext), 0, []*fernet.Key{c.key})
	if msg == nil {
		return "", errors.New("decrypt: invalid token")
	}
	return string(msg), nil
}
