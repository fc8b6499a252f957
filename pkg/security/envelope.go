package security

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

var (
	ErrInvalidEnvelope = errors.New("invalid key envelope")
	ErrInvalidSecret   = errors.New("invalid encrypted secret")
)

// Envelope layout: magic | salt | nonce | AES-256-GCM ciphertext.
const (
	envelopeMagic    = "DSK1"
	envelopeSalt     = 16
	envelopeNonce    = 12
	pbkdf2Iterations = 100_000
	aesKeySize       = 32
)

// SealEnvelope encrypts a raw keystore with a key derived from secret.
func SealEnvelope(secret string, plaintext []byte) ([]byte, error) {
	if secret == "" {
		return nil, fmt.Errorf("%w: empty secret", ErrInvalidEnvelope)
	}

	salt := make([]byte, envelopeSalt)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}

	aead, err := newGCM(deriveKey(secret, salt))
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, envelopeNonce)
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	out := make([]byte, 0, len(envelopeMagic)+envelopeSalt+envelopeNonce+len(plaintext)+aead.Overhead())
	out = append(out, envelopeMagic...)
	out = append(out, salt...)
	out = append(out, nonce...)
	return aead.Seal(out, nonce, plaintext, []byte(envelopeMagic)), nil
}

// OpenEnvelope reverses SealEnvelope. A wrong secret and a tampered blob are
// indistinguishable and both yield ErrInvalidEnvelope.
func OpenEnvelope(secret string, blob []byte) ([]byte, error) {
	header := len(envelopeMagic) + envelopeSalt + envelopeNonce
	if len(blob) < header || !bytes.HasPrefix(blob, []byte(envelopeMagic)) {
		return nil, fmt.Errorf("%w: unrecognised format", ErrInvalidEnvelope)
	}

	salt := blob[len(envelopeMagic) : len(envelopeMagic)+envelopeSalt]
	nonce := blob[len(envelopeMagic)+envelopeSalt : header]

	aead, err := newGCM(deriveKey(secret, salt))
	if err != nil {
		return nil, err
	}

	plain, err := aead.Open(nil, nonce, blob[header:], []byte(envelopeMagic))
	if err != nil {
		return nil, fmt.Errorf("%w: decryption failed", ErrInvalidEnvelope)
	}
	return plain, nil
}

func deriveKey(secret string, salt []byte) []byte {
	return pbkdf2.Key([]byte(secret), salt, pbkdf2Iterations, aesKeySize, sha256.New)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return aead, nil
}

// MetadataDecryptor recovers secrets that are stored encrypted in node metadata.
type MetadataDecryptor interface {
	DecryptSecret(ctx context.Context, encrypted string) (string, error)
}

// AESMetadataDecryptor handles values of the form base64(nonce || AES-GCM ciphertext)
// under a service-wide master key.
type AESMetadataDecryptor struct {
	aead cipher.AEAD
}

func NewAESMetadataDecryptor(masterKey []byte) (*AESMetadataDecryptor, error) {
	if len(masterKey) != aesKeySize {
		return nil, fmt.Errorf("master key must be %d bytes, got %d", aesKeySize, len(masterKey))
	}
	aead, err := newGCM(masterKey)
	if err != nil {
		return nil, err
	}
	return &AESMetadataDecryptor{aead: aead}, nil
}

func (d *AESMetadataDecryptor) EncryptSecret(plain string) (string, error) {
	nonce := make([]byte, d.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}
	sealed := d.aead.Seal(nonce, nonce, []byte(plain), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func (d *AESMetadataDecryptor) DecryptSecret(ctx context.Context, encrypted string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(encrypted)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidSecret, err)
	}
	ns := d.aead.NonceSize()
	if len(raw) < ns+d.aead.Overhead() {
		return "", fmt.Errorf("%w: too short", ErrInvalidSecret)
	}
	plain, err := d.aead.Open(nil, raw[:ns], raw[ns:], nil)
	if err != nil {
		return "", fmt.Errorf("%w: decryption failed", ErrInvalidSecret)
	}
	return string(plain), nil
}
