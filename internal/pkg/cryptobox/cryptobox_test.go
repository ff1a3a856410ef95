package cryptobox

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"errors"
	"testing"
)

func TestECBRoundTrip(t *testing.T) {
	key := []byte("0123456789abcdef")
	for _, text := range []string{"", "hello", "exactly 16 bytes", "سلام دنیا"} {
		enc, err := EncryptECB(key, text)
		if err != nil {
			t.Fatalf("encrypt %q: %v", text, err)
		}
		got, err := DecryptECB(key, enc)
		if err != nil || got != text {
			t.Fatalf("round trip %q: got %q, err %v", text, got, err)
		}
	}
}

func TestDecryptRejectsGarbage(t *testing.T) {
	key := []byte("0123456789abcdef")
	if _, err := DecryptECB(key, "not base64!"); !errors.Is(err, ErrInvalidCiphertext) {
		t.Fatalf("want ErrInvalidCiphertext, got %v", err)
	}
	if _, err := DecryptECB(key, base64.StdEncoding.EncodeToString([]byte("short"))); !errors.Is(err, ErrInvalidCiphertext) {
		t.Fatalf("want ErrInvalidCiphertext for short input, got %v", err)
	}
	if _, err := DecryptECB([]byte("bad"), "AAAA"); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("want ErrInvalidKey, got %v", err)
	}
}

func TestOpenKey(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	box := NewRSABox(priv)
	session := []byte("0123456789abcdef0123456789abcdef")

	for _, form := range [][]byte{session, []byte(base64.StdEncoding.EncodeToString(session))} {
		wrapped, err := rsa.EncryptPKCS1v15(rand.Reader, &priv.PublicKey, form)
		if err != nil {
			t.Fatalf("wrap: %v", err)
		}
		key, err := box.OpenKey(base64.StdEncoding.EncodeToString(wrapped))
		if err != nil {
			t.Fatalf("open key: %v", err)
		}
		if string(key) != string(session) {
			t.Fatalf("unexpected key %q", key)
		}
	}
	if _, err := box.OpenKey("AAAA"); !errors.Is(err, ErrInvalidKey) {
		t.Fatalf("want ErrInvalidKey, got %v", err)
	}
}
