package statuschan

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"beacontrace/internal/model"
)

// Wire format: base64url(IV) + "," + base64url(ciphertext). AES-CBC with a
// fresh random 16-byte IV per call and PKCS#7 padding. The URL-safe padded
// base64 alphabet is part of the contract.

// Encrypt seals plaintext under the shared secret. A key of the wrong
// length fails as an encryption failure before anything touches the wire.
func Encrypt(key []byte, plaintext string) (string, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("bad key material: %w", model.ErrEncryptionFailure)
	}
	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("iv generation: %w", model.ErrEncryptionFailure)
	}
	padded := pkcs7Pad([]byte(plaintext), aes.BlockSize)
	ct := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ct, padded)
	return base64.URLEncoding.EncodeToString(iv) + "," + base64.URLEncoding.EncodeToString(ct), nil
}

// Decrypt opens a bundle produced by Encrypt. Any tampering surfaces as an
// error: truncated parts, a foreign block size, or broken padding.
func Decrypt(key []byte, bundle string) (string, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("bad key material: %w", model.ErrEncryptionFailure)
	}
	parts := strings.SplitN(bundle, ",", 2)
	if len(parts) != 2 {
		return "", errors.New("bundle missing iv or ciphertext")
	}
	iv, err := base64.URLEncoding.DecodeString(parts[0])
	if err != nil {
		return "", fmt.Errorf("decode iv: %w", err)
	}
	ct, err := base64.URLEncoding.DecodeString(parts[1])
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}
	if len(iv) != aes.BlockSize {
		return "", fmt.Errorf("iv is %d bytes, want %d", len(iv), aes.BlockSize)
	}
	if len(ct) == 0 || len(ct)%aes.BlockSize != 0 {
		return "", fmt.Errorf("ciphertext length %d not a block multiple", len(ct))
	}
	pt := make([]byte, len(ct))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(pt, ct)
	return pkcs7Unpad(pt, aes.BlockSize)
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	n := blockSize - len(data)%blockSize
	return append(data, bytes.Repeat([]byte{byte(n)}, n)...)
}

func pkcs7Unpad(data []byte, blockSize int) (string, error) {
	if len(data) == 0 {
		return "", errors.New("empty plaintext")
	}
	n := int(data[len(data)-1])
	if n < 1 || n > blockSize || n > len(data) {
		return "", errors.New("invalid padding")
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return "", errors.New("invalid padding")
		}
	}
	return string(data[:len(data)-n]), nil
}
