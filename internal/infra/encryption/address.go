// internal/infra/encryption/address.go
package encryption

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"regexp"
)

// Version tags the ciphertext layout so the scheme can evolve without
// re-encrypting stored rows in place.
const Version = 1

// Address is the structured mailing address stored encrypted at rest. The
// service only sees the plaintext transiently when assembling a claim DM.
type Address struct {
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country"`
}

// Encrypted is the opaque at-rest form: base64 ciphertext (AES-256-GCM,
// auth tag appended), base64 nonce, and the layout version.
type Encrypted struct {
	Ciphertext string
	Nonce      string
	Version    int
}

var hexKeyPattern = regexp.MustCompile(`^[0-9a-fA-F]{64}$`)

// Encryptor encrypts and decrypts Address records with a fixed 32-byte key.
type Encryptor struct {
	aead cipher.AEAD
}

// NewEncryptor accepts the key as 64 hex chars, base64, or a raw 32-byte
// string, in that order of preference.
func NewEncryptor(key string) (*Encryptor, error) {
	raw, err := decodeKey(key)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize GCM: %w", err)
	}
	return &Encryptor{aead: aead}, nil
}

func decodeKey(key string) ([]byte, error) {
	if hexKeyPattern.MatchString(key) {
		raw, err := hex.DecodeString(key)
		if err == nil && len(raw) == 32 {
			return raw, nil
		}
	}
	if raw, err := base64.StdEncoding.DecodeString(key); err == nil && len(raw) == 32 {
		return raw, nil
	}
	if len(key) == 32 {
		return []byte(key), nil
	}
	return nil, fmt.Errorf("ADDRESS_ENCRYPTION_KEY must be 32 bytes (hex, base64, or raw)")
}

// Encrypt serializes the address to JSON and seals it with a fresh nonce.
func (e *Encryptor) Encrypt(addr Address) (Encrypted, error) {
	plaintext, err := json.Marshal(addr)
	if err != nil {
		return Encrypted{}, fmt.Errorf("failed to encode address: %w", err)
	}
	nonce := make([]byte, e.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return Encrypted{}, fmt.Errorf("failed to generate nonce: %w", err)
	}
	sealed := e.aead.Seal(nil, nonce, plaintext, nil)
	return Encrypted{
		Ciphertext: base64.StdEncoding.EncodeToString(sealed),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Version:    Version,
	}, nil
}

// Decrypt reverses Encrypt. Tampered or mismatched ciphertext fails the GCM
// tag check and returns an error.
func (e *Encryptor) Decrypt(enc Encrypted) (Address, error) {
	sealed, err := base64.StdEncoding.DecodeString(enc.Ciphertext)
	if err != nil {
		return Address{}, fmt.Errorf("bad ciphertext encoding: %w", err)
	}
	nonce, err := base64.StdEncoding.DecodeString(enc.Nonce)
	if err != nil {
		return Address{}, fmt.Errorf("bad nonce encoding: %w", err)
	}
	plaintext, err := e.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return Address{}, fmt.Errorf("failed to decrypt address: %w", err)
	}
	var addr Address
	if err := json.Unmarshal(plaintext, &addr); err != nil {
		return Address{}, fmt.Errorf("failed to decode address: %w", err)
	}
	return addr, nil
}
