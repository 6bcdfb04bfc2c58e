package cryptocore

import (
	"bytes"
	"crypto/sha256"
	"errors"
	"fmt"
	"strings"
	"time"
)

type PublicKeyBundle struct {
	IdentityKey PublicKey
	PreKey      PublicKey
}

// WalletAddress recovers the wallet that authorized the identity key.
func (b PublicKeyBundle) WalletAddress() (string, error) {
	return b.IdentityKey.SignerAddress()
}

// Verify checks that the pre-key is signed by the identity key and that the
// identity key carries a wallet signature.
func (b PublicKeyBundle) Verify() error {
	if _, err := b.WalletAddress(); err != nil {
		return fmt.Errorf("identity key: %w", err)
	}
	if err := b.PreKey.VerifySignedBy(b.IdentityKey.Secp256k1Uncompressed); err != nil {
		return fmt.Errorf("pre-key: %w", err)
	}
	return nil
}

func (b PublicKeyBundle) Equal(o PublicKeyBundle) bool {
	return b.IdentityKey.Equal(o.IdentityKey) && b.PreKey.Equal(o.PreKey)
}

type PrivateKeyBundleV1 struct {
	IdentityKey PrivateKey
	PreKeys     []PrivateKey
}

// GeneratePrivateKeyBundleV1 creates an identity key authorized by wallet and
// one pre-key signed by that identity.
func GeneratePrivateKeyBundleV1(wallet SigningKey, now time.Time) (*PrivateKeyBundleV1, error) {
	if wallet == nil {
		return nil, errors.New("cryptocore: nil wallet")
	}
	identity, err := GeneratePrivateKey(now)
	if err != nil {
		return nil, err
	}
	sig, err := wallet.SignPersonalMessage([]byte(IdentityText(identity.PublicKey.UnsignedBytes())))
	if err != nil {
		return nil, fmt.Errorf("cryptocore: wallet signature: %w", err)
	}
	identity.PublicKey.Signature = &sig
	signer, err := identity.PublicKey.SignerAddress()
	if err != nil {
		return nil, err
	}
	if !strings.EqualFold(signer, wallet.Address()) {
		return nil, fmt.Errorf("%w: wallet signature recovers to %s", ErrInvalidSignature, signer)
	}
	bundle := &PrivateKeyBundleV1{IdentityKey: *identity}
	if err := bundle.AddPreKey(now); err != nil {
		return nil, err
	}
	return bundle, nil
}

// AddPreKey generates a new pre-key and makes it current.
func (b *PrivateKeyBundleV1) AddPreKey(now time.Time) error {
	pre, err := GeneratePrivateKey(now)
	if err != nil {
		return err
	}
	digest := sha256.Sum256(pre.PublicKey.UnsignedBytes())
	sig, err := b.IdentityKey.Sign(digest[:])
	if err != nil {
		return err
	}
	pre.PublicKey.Signature = &sig
	b.PreKeys = append([]PrivateKey{*pre}, b.PreKeys...)
	return nil
}

func (b *PrivateKeyBundleV1) CurrentPreKey() (*PrivateKey, error) {
	if len(b.PreKeys) == 0 {
		return nil, ErrPreKeyNotFound
	}
	return &b.PreKeys[0], nil
}

func (b *PrivateKeyBundleV1) PublicBundle() PublicKeyBundle {
	out := PublicKeyBundle{IdentityKey: b.IdentityKey.PublicKey}
	if len(b.PreKeys) > 0 {
		out.PreKey = b.PreKeys[0].PublicKey
	}
	return out
}

func (b *PrivateKeyBundleV1) WalletAddress() (string, error) {
	return b.IdentityKey.PublicKey.SignerAddress()
}

func (b *PrivateKeyBundleV1) FindPreKey(pub PublicKey) (*PrivateKey, error) {
	for i := range b.PreKeys {
		if b.PreKeys[i].PublicKey.Equal(pub) {
			return &b.PreKeys[i], nil
		}
	}
	return nil, ErrPreKeyNotFound
}

// SharedSecret computes the 3-DH secret against peer using myPreKey.
func (b *PrivateKeyBundleV1) SharedSecret(peer PublicKeyBundle, myPreKey PublicKey, isRecipient bool) ([]byte, error) {
	pre, err := b.FindPreKey(myPreKey)
	if err != nil {
		return nil, err
	}
	return threeDH(&b.IdentityKey, pre, peer.IdentityKey.Secp256k1Uncompressed, peer.PreKey.Secp256k1Uncompressed, isRecipient)
}

// ToV2 re-expresses the bundle with signed keys. Signatures carry over
// unchanged because both versions sign the same unsigned key bytes.
func (b *PrivateKeyBundleV1) ToV2() (*PrivateKeyBundleV2, error) {
	identity, err := signedPrivateFromLegacy(b.IdentityKey)
	if err != nil {
		return nil, err
	}
	out := &PrivateKeyBundleV2{IdentityKey: identity}
	for _, pre := range b.PreKeys {
		spk, err := signedPrivateFromLegacy(pre)
		if err != nil {
			return nil, err
		}
		out.PreKeys = append(out.PreKeys, spk)
	}
	return out, nil
}

// SignedPublicKey carries the unsigned key encoding next to its signature.
type SignedPublicKey struct {
	KeyBytes  []byte
	Signature Signature
}

func SignedPublicKeyFromLegacy(p PublicKey) (SignedPublicKey, error) {
	if p.Signature == nil {
		return SignedPublicKey{}, ErrMissingSignature
	}
	return SignedPublicKey{KeyBytes: p.UnsignedBytes(), Signature: *p.Signature}, nil
}

// Legacy parses KeyBytes and reattaches the signature.
func (s SignedPublicKey) Legacy() (PublicKey, error) {
	p, err := UnmarshalPublicKey(s.KeyBytes)
	if err != nil {
		return PublicKey{}, err
	}
	sig := s.Signature
	p.Signature = &sig
	return p, nil
}

func (s SignedPublicKey) Uncompressed() ([]byte, error) {
	p, err := UnmarshalPublicKey(s.KeyBytes)
	if err != nil {
		return nil, err
	}
	if len(p.Secp256k1Uncompressed) != 65 {
		return nil, fmt.Errorf("%w: bad uncompressed length %d", ErrInvalidKey, len(p.Secp256k1Uncompressed))
	}
	return p.Secp256k1Uncompressed, nil
}

func (s SignedPublicKey) Equal(o SignedPublicKey) bool {
	return bytes.Equal(s.KeyBytes, o.KeyBytes)
}

type SignedPublicKeyBundle struct {
	IdentityKey SignedPublicKey
	PreKey      SignedPublicKey
}

func (b SignedPublicKeyBundle) WalletAddress() (string, error) {
	return RecoverWalletAddress(b.IdentityKey.KeyBytes, b.IdentityKey.Signature)
}

func (b SignedPublicKeyBundle) Verify() error {
	if _, err := b.WalletAddress(); err != nil {
		return fmt.Errorf("identity key: %w", err)
	}
	identity, err := b.IdentityKey.Uncompressed()
	if err != nil {
		return err
	}
	digest := sha256.Sum256(b.PreKey.KeyBytes)
	if err := VerifyDigest(identity, digest[:], b.PreKey.Signature); err != nil {
		return fmt.Errorf("pre-key: %w", err)
	}
	return nil
}

func (b SignedPublicKeyBundle) Equal(o SignedPublicKeyBundle) bool {
	return b.IdentityKey.Equal(o.IdentityKey) && b.PreKey.Equal(o.PreKey)
}

func (b SignedPublicKeyBundle) Legacy() (PublicKeyBundle, error) {
	identity, err := b.IdentityKey.Legacy()
	if err != nil {
		return PublicKeyBundle{}, err
	}
	pre, err := b.PreKey.Legacy()
	if err != nil {
		return PublicKeyBundle{}, err
	}
	return PublicKeyBundle{IdentityKey: identity, PreKey: pre}, nil
}

func SignedBundleFromLegacy(b PublicKeyBundle) (SignedPublicKeyBundle, error) {
	identity, err := SignedPublicKeyFromLegacy(b.IdentityKey)
	if err != nil {
		return SignedPublicKeyBundle{}, err
	}
	pre, err := SignedPublicKeyFromLegacy(b.PreKey)
	if err != nil {
		return SignedPublicKeyBundle{}, err
	}
	return SignedPublicKeyBundle{IdentityKey: identity, PreKey: pre}, nil
}

// SignedPrivateKey: CreatedNs is nanoseconds since the epoch.
type SignedPrivateKey struct {
	CreatedNs uint64
	Secp256k1 []byte
	PublicKey SignedPublicKey
}

func signedPrivateFromLegacy(k PrivateKey) (SignedPrivateKey, error) {
	pub, err := SignedPublicKeyFromLegacy(k.PublicKey)
	if err != nil {
		return SignedPrivateKey{}, err
	}
	return SignedPrivateKey{
		CreatedNs: k.Timestamp * uint64(time.Millisecond),
		Secp256k1: append([]byte(nil), k.Secp256k1...),
		PublicKey: pub,
	}, nil
}

func (k SignedPrivateKey) privateKey() (*PrivateKey, error) {
	return PrivateKeyFromBytes(k.Secp256k1, k.CreatedNs/uint64(time.Millisecond))
}

// Sign signs digest with this key.
func (k SignedPrivateKey) Sign(digest []byte) (Signature, error) {
	priv, err := k.privateKey()
	if err != nil {
		return Signature{}, err
	}
	return priv.Sign(digest)
}

type PrivateKeyBundleV2 struct {
	IdentityKey SignedPrivateKey
	PreKeys     []SignedPrivateKey
}

func (b *PrivateKeyBundleV2) PublicBundle() SignedPublicKeyBundle {
	out := SignedPublicKeyBundle{IdentityKey: b.IdentityKey.PublicKey}
	if len(b.PreKeys) > 0 {
		out.PreKey = b.PreKeys[0].PublicKey
	}
	return out
}

func (b *PrivateKeyBundleV2) CurrentPreKey() (*SignedPrivateKey, error) {
	if len(b.PreKeys) == 0 {
		return nil, ErrPreKeyNotFound
	}
	return &b.PreKeys[0], nil
}

func (b *PrivateKeyBundleV2) WalletAddress() (string, error) {
	return b.PublicBundle().WalletAddress()
}

func (b *PrivateKeyBundleV2) FindPreKey(pub SignedPublicKey) (*SignedPrivateKey, error) {
	for i := range b.PreKeys {
		if b.PreKeys[i].PublicKey.Equal(pub) {
			return &b.PreKeys[i], nil
		}
	}
	return nil, ErrPreKeyNotFound
}

// SharedSecret computes the 3-DH secret against peer using myPreKey. The two
// sides of a conversation pass opposite isRecipient values.
func (b *PrivateKeyBundleV2) SharedSecret(peer SignedPublicKeyBundle, myPreKey SignedPublicKey, isRecipient bool) ([]byte, error) {
	pre, err := b.FindPreKey(myPreKey)
	if err != nil {
		return nil, err
	}
	preKey, err := pre.privateKey()
	if err != nil {
		return nil, err
	}
	identity, err := b.IdentityKey.privateKey()
	if err != nil {
		return nil, err
	}
	peerIdentity, err := peer.IdentityKey.Uncompressed()
	if err != nil {
		return nil, err
	}
	peerPre, err := peer.PreKey.Uncompressed()
	if err != nil {
		return nil, err
	}
	return threeDH(identity, preKey, peerIdentity, peerPre, isRecipient)
}

func threeDH(identity, preKey *PrivateKey, peerIdentity, peerPreKey []byte, isRecipient bool) ([]byte, error) {
	var dh1, dh2 []byte
	var err error
	if isRecipient {
		if dh1, err = preKey.SharedSecret(peerIdentity); err != nil {
			return nil, err
		}
		if dh2, err = identity.SharedSecret(peerPreKey); err != nil {
			return nil, err
		}
	} else {
		if dh1, err = identity.SharedSecret(peerPreKey); err != nil {
			return nil, err
		}
		if dh2, err = preKey.SharedSecret(peerIdentity); err != nil {
			return nil, err
		}
	}
	dh3, err := preKey.SharedSecret(peerPreKey)
	if err != nil {
		return nil, err
	}
	secret := make([]byte, 0, len(dh1)+len(dh2)+len(dh3))
	secret = append(secret, dh1...)
	secret = append(secret, dh2...)
	return append(secret, dh3...), nil
}
