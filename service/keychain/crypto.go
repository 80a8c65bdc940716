package keychain

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"

	"github.com/pandodao/btcvault/core"
	"golang.org/x/crypto/nacl/secretbox"
	"golang.org/x/crypto/scrypt"
)

const (
	saltSize  = 16
	nonceSize = 24
	keySize   = 32

	scryptN = 1 << 15
	scryptR = 8
	scryptP = 1
)

func deriveKey(password string, salt []byte) (*[keySize]byte, error) {
	b, err := scrypt.Key([]byte(password), salt, scryptN, scryptR, scryptP, keySize)
	if err != nil {
		return nil, err
	}

	var key [keySize]byte
	copy(key[:], b)
	return &key, nil
}

// Encrypt seals plaintext with a key stretched from password. The result is
// base64(salt | nonce | box).
func Encrypt(password, plaintext string) (string, error) {
	var salt [saltSize]byte
	if _, err := io.ReadFull(rand.Reader, salt[:]); err != nil {
		return "", err
	}

	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return "", err
	}

	key, err := deriveKey(password, salt[:])
	if err != nil {
		return "", err
	}

	out := make([]byte, 0, saltSize+nonceSize+len(plaintext)+secretbox.Overhead)
	out = append(out, salt[:]...)
	out = append(out, nonce[:]...)
	out = secretbox.Seal(out, []byte(plaintext), &nonce, key)
	return base64.StdEncoding.EncodeToString(out), nil
}

func Decrypt(password, ciphertext string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("%w: %v", core.ErrDecryptionFailure, err)
	}

	if len(data) < saltSize+nonceSize+secretbox.Overhead {
		return "", fmt.Errorf("%w: ciphertext too short", core.ErrDecryptionFailure)
	}

	key, err := deriveKey(password, data[:saltSize])
	if err != nil {
		return "", err
	}

	var nonce [nonceSize]byte
	copy(nonce[:], data[saltSize:saltSize+nonceSize])

	plaintext, ok := secretbox.Open(nil, data[saltSize+nonceSize:], &nonce, key)
	if !ok {
		return "", fmt.Errorf("%w: wrong password", core.ErrDecryptionFailure)
	}

	return string(plaintext), nil
}
