package cryptocore

import (
	"bytes"
	"errors"
	"testing"
)

func deterministicReader(size int) *bytes.Reader {
	buf := make([]byte, size)
	for i := range buf {
		buf[i] = byte(i % 251)
	}
	return bytes.NewReader(buf)
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	secret := []byte("conversation key material 32 byt")
	cases := []struct {
		name      string
		plaintext []byte
		aad       []byte
	}{
		{"empty", nil, nil},
		{"empty plaintext with aad", []byte{}, []byte("header")},
		{"text", []byte("hello bob"), []byte("header")},
		{"binary", bytes.Repeat([]byte{0x00, 0xff}, 600), nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ct, err := Encrypt(secret, tc.plaintext, tc.aad)
			if err != nil {
				t.Fatalf("encrypt: %v", err)
			}
			if len(ct.HkdfSalt) != SaltSize || len(ct.GcmNonce) != NonceSize {
				t.Fatalf("unexpected salt/nonce sizes: %d/%d", len(ct.HkdfSalt), len(ct.GcmNonce))
			}
			parsed, err := UnmarshalCiphertext(ct.Marshal())
			if err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			got, err := Decrypt(secret, parsed, tc.aad)
			if err != nil {
				t.Fatalf("decrypt: %v", err)
			}
			if !bytes.Equal(got, tc.plaintext) {
				t.Fatalf("plaintext mismatch: got %x want %x", got, tc.plaintext)
			}
		})
	}
}

func TestEncryptUsesFreshNonce(t *testing.T) {
	secret := []byte("secret")
	a, err := Encrypt(secret, []byte("same"), nil)
	if err != nil {
		t.Fatalf("encrypt a: %v", err)
	}
	b, err := Encrypt(secret, []byte("same"), nil)
	if err != nil {
		t.Fatalf("encrypt b: %v", err)
	}
	if bytes.Equal(a.GcmNonce, b.GcmNonce) || bytes.Equal(a.Payload, b.Payload) {
		t.Fatalf("expected distinct nonces and payloads")
	}
}

func TestDecryptRejectsTampering(t *testing.T) {
	secret := []byte("secret")
	aad := []byte("header bytes")
	ct, err := Encrypt(secret, []byte("attack at dawn"), aad)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	clone := func() *Ciphertext {
		return &Ciphertext{
			HkdfSalt: append([]byte(nil), ct.HkdfSalt...),
			GcmNonce: append([]byte(nil), ct.GcmNonce...),
			Payload:  append([]byte(nil), ct.Payload...),
		}
	}

	for i := range ct.Payload {
		c := clone()
		c.Payload[i] ^= 0x01
		if _, err := Decrypt(secret, c, aad); !errors.Is(err, ErrDecryption) {
			t.Fatalf("payload byte %d: expected ErrDecryption, got %v", i, err)
		}
	}
	c := clone()
	c.HkdfSalt[0] ^= 0x80
	if _, err := Decrypt(secret, c, aad); !errors.Is(err, ErrDecryption) {
		t.Fatalf("salt: expected ErrDecryption, got %v", err)
	}
	c = clone()
	c.GcmNonce[3] ^= 0x80
	if _, err := Decrypt(secret, c, aad); !errors.Is(err, ErrDecryption) {
		t.Fatalf("nonce: expected ErrDecryption, got %v", err)
	}
	if _, err := Decrypt(secret, clone(), []byte("header bytez")); !errors.Is(err, ErrDecryption) {
		t.Fatalf("aad: expected ErrDecryption, got %v", err)
	}
	if _, err := Decrypt([]byte("other"), clone(), aad); !errors.Is(err, ErrDecryption) {
		t.Fatalf("key: expected ErrDecryption, got %v", err)
	}
	c = clone()
	c.GcmNonce = c.GcmNonce[:4]
	if _, err := Decrypt(secret, c, aad); !errors.Is(err, ErrDecryption) {
		t.Fatalf("short nonce: expected ErrDecryption, got %v", err)
	}
}

func TestUnmarshalCiphertextRejectsGarbage(t *testing.T) {
	if _, err := UnmarshalCiphertext([]byte{0x0a, 0x05, 0x01}); err == nil {
		t.Fatalf("expected truncated ciphertext to fail")
	}
	if _, err := UnmarshalCiphertext(nil); err == nil {
		t.Fatalf("expected empty ciphertext to fail")
	}
}

func TestDeriveKeyDomainSeparation(t *testing.T) {
	secret := []byte("shared secret")
	a, err := DeriveKey(secret, nil, []byte("topic"), 32)
	if err != nil {
		t.Fatalf("derive a: %v", err)
	}
	again, err := DeriveKey(secret, nil, []byte("topic"), 32)
	if err != nil {
		t.Fatalf("derive again: %v", err)
	}
	b, err := DeriveKey(secret, nil, []byte("key material"), 32)
	if err != nil {
		t.Fatalf("derive b: %v", err)
	}
	if !bytes.Equal(a, again) {
		t.Fatalf("derivation is not deterministic")
	}
	if bytes.Equal(a, b) {
		t.Fatalf("different info produced identical keys")
	}
}
