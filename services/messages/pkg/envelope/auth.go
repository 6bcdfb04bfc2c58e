package envelope

import (
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strings"
	"time"

	"xmtp-legacy/internal/pbwire"
	cryptocore "xmtp-legacy/services/crypto-core"
)

// AuthData is the statement signed by the identity key inside a Token.
type AuthData struct {
	WalletAddr string
	CreatedNs  uint64
}

func (a AuthData) Marshal() []byte {
	var e pbwire.Encoder
	e.String(1, a.WalletAddr)
	e.Uint64(2, a.CreatedNs)
	return e.Data()
}

func unmarshalAuthData(b []byte) (AuthData, error) {
	var a AuthData
	err := pbwire.Parse(b, func(f pbwire.Field) error {
		switch f.Num {
		case 1:
			a.WalletAddr = string(f.Bytes)
		case 2:
			a.CreatedNs = f.Varint
		}
		return nil
	})
	return a, err
}

// Token authenticates a client to the network: a wallet-signed identity key
// plus AuthData signed by that identity key.
type Token struct {
	IdentityKey       cryptocore.PublicKey
	AuthDataBytes     []byte
	AuthDataSignature cryptocore.Signature
}

func (t Token) Marshal() []byte {
	var e pbwire.Encoder
	e.Message(1, t.IdentityKey.Marshal())
	e.Bytes(2, t.AuthDataBytes)
	e.Message(3, t.AuthDataSignature.Marshal())
	return e.Data()
}

// CreateAuthToken returns a base64 token for bundle's wallet.
func CreateAuthToken(bundle *cryptocore.PrivateKeyBundleV1, now time.Time) (string, error) {
	addr, err := bundle.WalletAddress()
	if err != nil {
		return "", err
	}
	data := AuthData{WalletAddr: addr, CreatedNs: uint64(now.UnixNano())}.Marshal()
	digest := sha256.Sum256(data)
	sig, err := bundle.IdentityKey.Sign(digest[:])
	if err != nil {
		return "", err
	}
	tok := Token{IdentityKey: bundle.IdentityKey.PublicKey, AuthDataBytes: data, AuthDataSignature: sig}
	return base64.StdEncoding.EncodeToString(tok.Marshal()), nil
}

func ParseAuthToken(s string) (*Token, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	t := &Token{}
	err = pbwire.Parse(raw, func(f pbwire.Field) error {
		var err error
		switch f.Num {
		case 1:
			t.IdentityKey, err = cryptocore.UnmarshalPublicKey(f.Bytes)
		case 2:
			t.AuthDataBytes = f.Bytes
		case 3:
			t.AuthDataSignature, err = cryptocore.UnmarshalSignature(f.Bytes)
		}
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return t, nil
}

// Verify checks the signature chain and that the token was issued within
// maxAge of now. It returns the authenticated AuthData.
func (t *Token) Verify(now time.Time, maxAge time.Duration) (AuthData, error) {
	data, err := unmarshalAuthData(t.AuthDataBytes)
	if err != nil {
		return AuthData{}, fmt.Errorf("%w: auth data: %v", ErrInvalidToken, err)
	}
	wallet, err := t.IdentityKey.SignerAddress()
	if err != nil {
		return AuthData{}, fmt.Errorf("%w: identity key: %w", ErrInvalidToken, err)
	}
	if !strings.EqualFold(wallet, data.WalletAddr) {
		return AuthData{}, fmt.Errorf("%w: wallet mismatch", ErrInvalidToken)
	}
	digest := sha256.Sum256(t.AuthDataBytes)
	if err := cryptocore.VerifyDigest(t.IdentityKey.Secp256k1Uncompressed, digest[:], t.AuthDataSignature); err != nil {
		return AuthData{}, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	created := time.Unix(0, int64(data.CreatedNs))
	if created.After(now.Add(time.Minute)) {
		return AuthData{}, fmt.Errorf("%w: issued in the future", ErrInvalidToken)
	}
	if maxAge > 0 && now.Sub(created) > maxAge {
		return AuthData{}, fmt.Errorf("%w: expired", ErrInvalidToken)
	}
	data.WalletAddr = wallet
	return data, nil
}
