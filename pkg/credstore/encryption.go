package credstore

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

const (
	saltSize   = 16
	ivSize     = 12
	keySize    = 32
	pbkdf2Iter = 100_000
)

// encryptor performs AES-256-GCM encryption with a PBKDF2-HMAC-SHA-256
// derived key, per spec §4.1's encryption contract. A fresh salt and IV are
// generated on every call to encrypt; decrypt reads them back from the
// record.
type encryptor struct {
	fingerprint string
	passphrase  string
}

// encrypt produces a base64(salt || iv || ciphertext||tag) record.
func (e *encryptor) encrypt(plaintext string) (string, error) {
	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("credstore: generate salt: %w", err)
	}
	iv := make([]byte, ivSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", fmt.Errorf("credstore: generate iv: %w", err)
	}

	gcm, err := e.gcmFor(salt)
	if err != nil {
		return "", err
	}

	ciphertext := gcm.Seal(nil, iv, []byte(plaintext), nil)

	record := make([]byte, 0, len(salt)+len(iv)+len(ciphertext))
	record = append(record, salt...)
	record = append(record, iv...)
	record = append(record, ciphertext...)
	return base64.StdEncoding.EncodeToString(record), nil
}

// decrypt reverses [encryptor.encrypt]. A decryption failure — whether from a
// tampered record or a fingerprint mismatch on a different device — is
// reported uniformly as [KindDecryptionFailed].
func (e *encryptor) decrypt(record string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(record)
	if err != nil {
		return "", newErr(KindDecryptionFailed, "malformed record", err)
	}
	if len(raw) < saltSize+ivSize+1 {
		return "", newErr(KindDecryptionFailed, "record too short", nil)
	}

	salt := raw[:saltSize]
	iv := raw[saltSize : saltSize+ivSize]
	ciphertext := raw[saltSize+ivSize:]

	gcm, err := e.gcmFor(salt)
	if err != nil {
		return "", err
	}

	plaintext, err := gcm.Open(nil, iv, ciphertext, nil)
	if err != nil {
		return "", newErr(KindDecryptionFailed, "authentication failed", nil)
	}
	return string(plaintext), nil
}

func (e *encryptor) gcmFor(salt []byte) (cipher.AEAD, error) {
	key := pbkdf2.Key([]byte(e.fingerprint+e.passphrase), salt, pbkdf2Iter, keySize, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("credstore: new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("credstore: new gcm: %w", err)
	}
	return gcm, nil
}
