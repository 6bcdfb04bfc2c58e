package cryptocore

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/crypto"
)

// Signature is a recoverable secp256k1 ECDSA signature (r || s plus recovery
// id). WalletSigned marks signatures made by a wallet over an EIP-191 personal
// message rather than over a raw digest.
type Signature struct {
	Bytes        []byte
	Recovery     uint32
	WalletSigned bool
}

func (s Signature) raw() ([]byte, error) {
	if len(s.Bytes) != 64 || s.Recovery > 3 {
		return nil, fmt.Errorf("%w: bad compact signature", ErrInvalidSignature)
	}
	out := make([]byte, 65)
	copy(out, s.Bytes)
	out[64] = byte(s.Recovery)
	return out, nil
}

// PublicKey is a timestamped uncompressed secp256k1 point, optionally signed.
// Timestamp is in milliseconds since the epoch.
type PublicKey struct {
	Timestamp             uint64
	Signature             *Signature
	Secp256k1Uncompressed []byte
}

type PrivateKey struct {
	Timestamp uint64
	Secp256k1 []byte
	PublicKey PublicKey
}

// SigningKey is a wallet able to produce personal-message signatures.
type SigningKey interface {
	Address() string
	SignPersonalMessage(msg []byte) (Signature, error)
}

// GeneratePrivateKey samples a fresh secp256k1 key from the active randomness
// source.
func GeneratePrivateKey(now time.Time) (*PrivateKey, error) {
	buf := make([]byte, 32)
	for i := 0; i < 16; i++ {
		if err := readRandom(buf); err != nil {
			return nil, err
		}
		if k, err := PrivateKeyFromBytes(buf, uint64(now.UnixMilli())); err == nil {
			return k, nil
		}
	}
	return nil, fmt.Errorf("%w: could not sample scalar", ErrInvalidKey)
}

func PrivateKeyFromBytes(secret []byte, timestamp uint64) (*PrivateKey, error) {
	k, err := crypto.ToECDSA(secret)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return &PrivateKey{
		Timestamp: timestamp,
		Secp256k1: crypto.FromECDSA(k),
		PublicKey: PublicKey{
			Timestamp:             timestamp,
			Secp256k1Uncompressed: crypto.FromECDSAPub(&k.PublicKey),
		},
	}, nil
}

func (k *PrivateKey) ecdsaKey() (*ecdsa.PrivateKey, error) {
	priv, err := crypto.ToECDSA(k.Secp256k1)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return priv, nil
}

// Sign signs a 32-byte digest.
func (k *PrivateKey) Sign(digest []byte) (Signature, error) {
	priv, err := k.ecdsaKey()
	if err != nil {
		return Signature{}, err
	}
	sig, err := crypto.Sign(digest, priv)
	if err != nil {
		return Signature{}, fmt.Errorf("cryptocore: sign: %w", err)
	}
	return Signature{Bytes: sig[:64], Recovery: uint32(sig[64])}, nil
}

// SignPersonalMessage lets a bare private key act as a wallet.
func (k *PrivateKey) SignPersonalMessage(msg []byte) (Signature, error) {
	sig, err := k.Sign(accounts.TextHash(msg))
	if err != nil {
		return Signature{}, err
	}
	sig.WalletSigned = true
	return sig, nil
}

func (k *PrivateKey) Address() string {
	return k.PublicKey.WalletAddress()
}

// SharedSecret is secp256k1 ECDH returning the full uncompressed shared point.
func (k *PrivateKey) SharedSecret(peer []byte) ([]byte, error) {
	pub, err := crypto.UnmarshalPubkey(peer)
	if err != nil {
		return nil, fmt.Errorf("%w: peer key: %v", ErrInvalidKey, err)
	}
	priv, err := k.ecdsaKey()
	if err != nil {
		return nil, err
	}
	curve := crypto.S256()
	x, y := curve.ScalarMult(pub.X, pub.Y, priv.D.Bytes())
	return crypto.FromECDSAPub(&ecdsa.PublicKey{Curve: curve, X: x, Y: y}), nil
}

// UnsignedBytes is the canonical encoding that wallet and identity signatures
// cover: the key without its signature.
func (p PublicKey) UnsignedBytes() []byte {
	return PublicKey{Timestamp: p.Timestamp, Secp256k1Uncompressed: p.Secp256k1Uncompressed}.Marshal()
}

// WalletAddress is the checksummed address of the key itself.
func (p PublicKey) WalletAddress() string {
	pub, err := crypto.UnmarshalPubkey(p.Secp256k1Uncompressed)
	if err != nil {
		return ""
	}
	return crypto.PubkeyToAddress(*pub).Hex()
}

func (p PublicKey) Equal(o PublicKey) bool {
	return bytes.Equal(p.Secp256k1Uncompressed, o.Secp256k1Uncompressed)
}

// SignerAddress recovers the wallet that signed this identity key.
func (p PublicKey) SignerAddress() (string, error) {
	if p.Signature == nil {
		return "", ErrMissingSignature
	}
	return RecoverWalletAddress(p.UnsignedBytes(), *p.Signature)
}

// VerifySignedBy checks that p carries a signature by signer over sha256 of
// its unsigned bytes.
func (p PublicKey) VerifySignedBy(signer []byte) error {
	if p.Signature == nil {
		return ErrMissingSignature
	}
	digest := sha256.Sum256(p.UnsignedBytes())
	return VerifyDigest(signer, digest[:], *p.Signature)
}

// Recover returns the uncompressed public key that produced sig over digest.
func Recover(digest []byte, sig Signature) ([]byte, error) {
	raw, err := sig.raw()
	if err != nil {
		return nil, err
	}
	pub, err := crypto.Ecrecover(digest, raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return pub, nil
}

func VerifyDigest(signer, digest []byte, sig Signature) error {
	pub, err := Recover(digest, sig)
	if err != nil {
		return err
	}
	if !bytes.Equal(pub, signer) {
		return ErrInvalidSignature
	}
	return nil
}

// IdentityText is the personal message a wallet signs to authorize keyBytes.
func IdentityText(keyBytes []byte) string {
	return "XMTP : Create Identity\n" + hex.EncodeToString(keyBytes) + "\n\nFor more info: https://xmtp.org/signatures/"
}

// RecoverWalletAddress recovers the wallet address that signed IdentityText(keyBytes).
func RecoverWalletAddress(keyBytes []byte, sig Signature) (string, error) {
	pub, err := Recover(accounts.TextHash([]byte(IdentityText(keyBytes))), sig)
	if err != nil {
		return "", err
	}
	return PublicKey{Secp256k1Uncompressed: pub}.WalletAddress(), nil
}
