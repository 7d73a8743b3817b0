package record

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
)

// Common errors returned by payload encryption and decryption.
//
// These can be checked with errors.Is():
//
//	if errors.Is(err, record.ErrMissingKeys) {
//	    // abort this collection's sync attempt
//	}
var (
	// ErrMissingKeys is returned when a payload operation requires a key
	// bundle but none (or an incomplete one) is available. This is fatal
	// for the affected collection's sync attempt.
	ErrMissingKeys = errors.New("encryption keys not available")

	// ErrBadPayload is returned when an encrypted envelope cannot be
	// parsed or fails HMAC verification.
	ErrBadPayload = errors.New("payload failed verification")
)

// KeyBundle holds the symmetric keys used to encrypt record payloads:
// a 32-byte AES-256-CBC encryption key and a 32-byte HMAC-SHA256 key.
//
// Key derivation is out of scope here; bundles are handed to the session
// provider fully formed.
type KeyBundle struct {
	EncryptionKey []byte `json:"encryption_key"`
	HMACKey       []byte `json:"hmac_key"`
}

// NewKeyBundle generates a fresh random key bundle.
func NewKeyBundle() (*KeyBundle, error) {
	enc := make([]byte, 32)
	mac := make([]byte, 32)
	if _, err := rand.Read(enc); err != nil {
		return nil, fmt.Errorf("failed to generate encryption key: %w", err)
	}
	if _, err := rand.Read(mac); err != nil {
		return nil, fmt.Errorf("failed to generate hmac key: %w", err)
	}
	return &KeyBundle{EncryptionKey: enc, HMACKey: mac}, nil
}

// Valid reports whether the bundle carries a complete set of keys.
func (k *KeyBundle) Valid() bool {
	return k != nil && len(k.EncryptionKey) == 32 && len(k.HMACKey) == 32
}

// envelope is the on-the-wire form of an encrypted payload.
type envelope struct {
	Ciphertext string `json:"ciphertext"`
	IV         string `json:"IV"`
	HMAC       string `json:"hmac"`
}

// Encrypt seals cleartext into an encrypted payload string.
//
// The ciphertext is AES-256-CBC with PKCS#7 padding and a random IV; the
// HMAC is computed over the base64 ciphertext so verification never touches
// the block cipher.
func (k *KeyBundle) Encrypt(cleartext []byte) (string, error) {
	if !k.Valid() {
		return "", ErrMissingKeys
	}

	block, err := aes.NewCipher(k.EncryptionKey)
	if err != nil {
		return "", fmt.Errorf("failed to initialize cipher: %w", err)
	}

	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("failed to generate iv: %w", err)
	}

	padded := pkcs7Pad(cleartext, aes.BlockSize)
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)

	ctB64 := base64.StdEncoding.EncodeToString(ciphertext)
	mac := hmac.New(sha256.New, k.HMACKey)
	mac.Write([]byte(ctB64))

	env := envelope{
		Ciphertext: ctB64,
		IV:         base64.StdEncoding.EncodeToString(iv),
		HMAC:       hex.EncodeToString(mac.Sum(nil)),
	}

	data, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("failed to marshal envelope: %w", err)
	}
	return string(data), nil
}

// Decrypt opens an encrypted payload string produced by Encrypt.
// The HMAC is verified before any decryption takes place.
func (k *KeyBundle) Decrypt(payload string) ([]byte, error) {
	if !k.Valid() {
		return nil, ErrMissingKeys
	}

	var env envelope
	if err := json.Unmarshal([]byte(payload), &env); err != nil {
		return nil, fmt.Errorf("%w: not an encrypted envelope", ErrBadPayload)
	}

	mac := hmac.New(sha256.New, k.HMACKey)
	mac.Write([]byte(env.Ciphertext))
	want, err := hex.DecodeString(env.HMAC)
	if err != nil || !hmac.Equal(mac.Sum(nil), want) {
		return nil, fmt.Errorf("%w: hmac mismatch", ErrBadPayload)
	}

	ciphertext, err := base64.StdEncoding.DecodeString(env.Ciphertext)
	if err != nil {
		return nil, fmt.Errorf("%w: bad ciphertext encoding", ErrBadPayload)
	}
	iv, err := base64.StdEncoding.DecodeString(env.IV)
	if err != nil || len(iv) != aes.BlockSize {
		return nil, fmt.Errorf("%w: bad iv", ErrBadPayload)
	}
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("%w: ciphertext not block aligned", ErrBadPayload)
	}

	block, err := aes.NewCipher(k.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cipher: %w", err)
	}

	cleartext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(cleartext, ciphertext)

	unpadded, err := pkcs7Unpad(cleartext, aes.BlockSize)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadPayload, err)
	}
	return unpadded, nil
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	pad := blockSize - len(data)%blockSize
	out := make([]byte, len(data)+pad)
	copy(out, data)
	for i := len(data); i < len(out); i++ {
		out[i] = byte(pad)
	}
	return out
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, fmt.Errorf("invalid padded length %d", len(data))
	}
	pad := int(data[len(data)-1])
	if pad == 0 || pad > blockSize || pad > len(data) {
		return nil, fmt.Errorf("invalid padding byte %d", pad)
	}
	for _, b := range data[len(data)-pad:] {
		if int(b) != pad {
			return nil, fmt.Errorf("inconsistent padding")
		}
	}
	return data[:len(data)-pad], nil
}
