package cryptobox

import (
	"bytes"
	"crypto/aes"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
)

var (
	ErrInvalidKey        = errors.New("invalid session key")
	ErrInvalidCiphertext = errors.New("invalid ciphertext")
)

// Cipher is the transport encryption of chat payloads. Every text field is
// encrypted individually under a per-session AES key that the client sends
// wrapped with the server's RSA public key.
type Cipher interface {
	OpenKey(wrapped string) ([]byte, error)
	Decrypt(key []byte, ciphertext string) (string, error)
	Encrypt(key []byte, plaintext string) (string, error)
}

// RSABox unwraps session keys with RSA PKCS#1 v1.5 and encrypts fields with
// AES-ECB and PKCS#7 padding, base64 encoded.
type RSABox struct {
	private *rsa.PrivateKey
}

func NewRSABox(key *rsa.PrivateKey) *RSABox {
	return &RSABox{private: key}
}

// LoadRSABox reads a PEM encoded PKCS#1 or PKCS#8 private key.
func LoadRSABox(path string) (*RSABox, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read private key failed: %w", err)
	}
	key, err := ParsePrivateKey(raw)
	if err != nil {
		return nil, err
	}
	return NewRSABox(key), nil
}

func ParsePrivateKey(pemBytes []byte) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode(pemBytes)
	if block == nil {
		return nil, fmt.Errorf("%w: no PEM block", ErrInvalidKey)
	}
	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return key, nil
	}
	parsed, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	key, ok := parsed.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%w: not an RSA key", ErrInvalidKey)
	}
	return key, nil
}

func (b *RSABox) OpenKey(wrapped string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(wrapped)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	key, err := rsa.DecryptPKCS1v15(rand.Reader, b.private, raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return normalizeKey(key)
}

// normalizeKey accepts raw AES key bytes or their base64 text form.
func normalizeKey(key []byte) ([]byte, error) {
	switch len(key) {
	case 16, 24, 32:
		return key, nil
	}
	decoded, err := base64.StdEncoding.DecodeString(string(bytes.TrimSpace(key)))
	if err == nil {
		switch len(decoded) {
		case 16, 24, 32:
			return decoded, nil
		}
	}
	return nil, fmt.Errorf("%w: unsupported key length %d", ErrInvalidKey, len(key))
}

func (b *RSABox) Decrypt(key []byte, ciphertext string) (string, error) {
	return DecryptECB(key, ciphertext)
}

func (b *RSABox) Encrypt(key []byte, plaintext string) (string, error) {
	return EncryptECB(key, plaintext)
}

func EncryptECB(key []byte, plaintext string) (string, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	data := pad([]byte(plaintext), block.BlockSize())
	out := make([]byte, len(data))
	for i := 0; i < len(data); i += block.BlockSize() {
		block.Encrypt(out[i:i+block.BlockSize()], data[i:i+block.BlockSize()])
	}
	return base64.StdEncoding.EncodeToString(out), nil
}

func DecryptECB(key []byte, ciphertext string) (string, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	data, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidCiphertext, err)
	}
	bs := block.BlockSize()
	if len(data) == 0 || len(data)%bs != 0 {
		return "", fmt.Errorf("%w: length %d is not a multiple of the block size", ErrInvalidCiphertext, len(data))
	}
	out := make([]byte, len(data))
	for i := 0; i < len(data); i += bs {
		block.Decrypt(out[i:i+bs], data[i:i+bs])
	}
	plain, err := unpad(out, bs)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

func pad(data []byte, size int) []byte {
	n := size - len(data)%size
	return append(data, bytes.Repeat([]byte{byte(n)}, n)...)
}

func unpad(data []byte, size int) ([]byte, error) {
	n := int(data[len(data)-1])
	if n == 0 || n > size || n > len(data) {
		return nil, fmt.Errorf("%w: bad padding", ErrInvalidCiphertext)
	}
	for _, c := range data[len(data)-n:] {
		if int(c) != n {
			return nil, fmt.Errorf("%w: bad padding", ErrInvalidCiphertext)
		}
	}
	return data[:len(data)-n], nil
}

// Plain passes text through unchanged. It is used when crypto is disabled
// for local development and the terminal client.
type Plain struct{}

func (Plain) OpenKey(string) ([]byte, error) { return nil, nil }

func (Plain) Decrypt(_ []byte, ciphertext string) (string, error) { return ciphertext, nil }

func (Plain) Encrypt(_ []byte, plaintext string) (string, error) { return plaintext, nil }
