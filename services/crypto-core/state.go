package cryptocore

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
)

// BundleState is the JSON snapshot of a PrivateKeyBundleV1.
type BundleState struct {
	IdentityKey PrivateKeyState   `json:"identityKey"`
	PreKeys     []PrivateKeyState `json:"preKeys"`
}

type PrivateKeyState struct {
	Timestamp uint64 `json:"timestamp"`
	Secp256k1 string `json:"secp256k1"`
	PublicKey string `json:"publicKey"`
}

func (b *PrivateKeyBundleV1) Export() (*BundleState, error) {
	if b == nil {
		return nil, errors.New("cryptocore: nil bundle")
	}
	if len(b.PreKeys) == 0 {
		return nil, ErrPreKeyNotFound
	}
	state := &BundleState{
		IdentityKey: exportKey(b.IdentityKey),
		PreKeys:     make([]PrivateKeyState, 0, len(b.PreKeys)),
	}
	for _, k := range b.PreKeys {
		state.PreKeys = append(state.PreKeys, exportKey(k))
	}
	return state, nil
}

func exportKey(k PrivateKey) PrivateKeyState {
	return PrivateKeyState{
		Timestamp: k.Timestamp,
		Secp256k1: base64.StdEncoding.EncodeToString(k.Secp256k1),
		PublicKey: base64.StdEncoding.EncodeToString(k.PublicKey.Marshal()),
	}
}

// ImportBundle restores a bundle and checks every private key still matches
// its recorded public key.
func ImportBundle(state *BundleState) (*PrivateKeyBundleV1, error) {
	if state == nil {
		return nil, errors.New("cryptocore: nil bundle state")
	}
	identity, err := importKey(state.IdentityKey)
	if err != nil {
		return nil, fmt.Errorf("cryptocore: import identity key: %w", err)
	}
	b := &PrivateKeyBundleV1{IdentityKey: identity}
	for i, ks := range state.PreKeys {
		k, err := importKey(ks)
		if err != nil {
			return nil, fmt.Errorf("cryptocore: import pre-key %d: %w", i, err)
		}
		b.PreKeys = append(b.PreKeys, k)
	}
	if len(b.PreKeys) == 0 {
		return nil, ErrPreKeyNotFound
	}
	return b, nil
}

func importKey(state PrivateKeyState) (PrivateKey, error) {
	secret, err := decodeFixed(state.Secp256k1, 32)
	if err != nil {
		return PrivateKey{}, fmt.Errorf("decode secp256k1: %w", err)
	}
	pubBytes, err := base64.StdEncoding.DecodeString(state.PublicKey)
	if err != nil {
		return PrivateKey{}, fmt.Errorf("decode public key: %w", err)
	}
	pub, err := UnmarshalPublicKey(pubBytes)
	if err != nil {
		return PrivateKey{}, err
	}
	k, err := PrivateKeyFromBytes(secret, state.Timestamp)
	if err != nil {
		return PrivateKey{}, err
	}
	if !bytes.Equal(k.PublicKey.Secp256k1Uncompressed, pub.Secp256k1Uncompressed) {
		return PrivateKey{}, fmt.Errorf("%w: public key does not match private key", ErrInvalidKey)
	}
	k.PublicKey = pub
	return *k, nil
}

func decodeFixed(s string, size int) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, err
	}
	if len(b) != size {
		return nil, fmt.Errorf("expected %d bytes, got %d", size, len(b))
	}
	return b, nil
}
