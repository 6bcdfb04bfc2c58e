package cryptocore

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"

	"xmtp-legacy/internal/pbwire"

	"google.golang.org/protobuf/encoding/protowire"
)

const (
	KeySize   = 32
	SaltSize  = 32
	NonceSize = 12
)

// Ciphertext is the Aes256GcmHkdfSha256 payload: the AES key is derived from
// the caller's secret with HKDF under HkdfSalt, and GcmNonce is fresh per call.
type Ciphertext struct {
	HkdfSalt []byte
	GcmNonce []byte
	Payload  []byte
}

// Encrypt seals plaintext under a key derived from secret. additionalData is
// authenticated but not encrypted.
func Encrypt(secret, plaintext, additionalData []byte) (*Ciphertext, error) {
	salt := make([]byte, SaltSize)
	if err := readRandom(salt); err != nil {
		return nil, err
	}
	nonce := make([]byte, NonceSize)
	if err := readRandom(nonce); err != nil {
		return nil, err
	}
	aead, err := newGCM(secret, salt)
	if err != nil {
		return nil, err
	}
	return &Ciphertext{
		HkdfSalt: salt,
		GcmNonce: nonce,
		Payload:  aead.Seal(nil, nonce, plaintext, additionalData),
	}, nil
}

// Decrypt opens c. Every failure (wrong key, altered payload, salt, nonce or
// additionalData) is reported as ErrDecryption.
func Decrypt(secret []byte, c *Ciphertext, additionalData []byte) ([]byte, error) {
	if c == nil || len(c.HkdfSalt) != SaltSize || len(c.GcmNonce) != NonceSize {
		return nil, fmt.Errorf("%w: malformed ciphertext", ErrDecryption)
	}
	aead, err := newGCM(secret, c.HkdfSalt)
	if err != nil {
		return nil, err
	}
	plaintext, err := aead.Open(nil, c.GcmNonce, c.Payload, additionalData)
	if err != nil {
		return nil, ErrDecryption
	}
	if plaintext == nil {
		plaintext = []byte{}
	}
	return plaintext, nil
}

func newGCM(secret, salt []byte) (cipher.AEAD, error) {
	key, err := DeriveKey(secret, salt, nil, KeySize)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("cryptocore: aes: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("cryptocore: gcm: %w", err)
	}
	return aead, nil
}

func (c *Ciphertext) Marshal() []byte {
	var inner pbwire.Encoder
	inner.Bytes(1, c.HkdfSalt)
	inner.Bytes(2, c.GcmNonce)
	inner.Bytes(3, c.Payload)
	var outer pbwire.Encoder
	outer.Message(1, inner.Data())
	return outer.Data()
}

func UnmarshalCiphertext(b []byte) (*Ciphertext, error) {
	c := &Ciphertext{}
	found := false
	err := pbwire.Parse(b, func(f pbwire.Field) error {
		if f.Num != 1 || f.Type != protowire.BytesType {
			return nil
		}
		found = true
		return pbwire.Parse(f.Bytes, func(g pbwire.Field) error {
			switch g.Num {
			case 1:
				c.HkdfSalt = g.Bytes
			case 2:
				c.GcmNonce = g.Bytes
			case 3:
				c.Payload = g.Bytes
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: missing aes256gcm payload", pbwire.ErrMalformed)
	}
	return c, nil
}
