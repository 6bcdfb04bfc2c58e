package envelope

import (
	"fmt"

	"xmtp-legacy/internal/pbwire"
	cryptocore "xmtp-legacy/services/crypto-core"
)

// ContactBundle is what a user publishes to their contact topic. Older clients
// published a bare PublicKeyBundle; UnmarshalContactBundle accepts both.
type ContactBundle struct {
	V1 *cryptocore.PublicKeyBundle
	V2 *cryptocore.SignedPublicKeyBundle
}

func (c ContactBundle) Marshal() []byte {
	var e pbwire.Encoder
	switch {
	case c.V2 != nil:
		var inner pbwire.Encoder
		inner.Message(1, c.V2.Marshal())
		e.Message(2, inner.Data())
	case c.V1 != nil:
		var inner pbwire.Encoder
		inner.Message(1, c.V1.Marshal())
		e.Message(1, inner.Data())
	}
	return e.Data()
}

func UnmarshalContactBundle(b []byte) (ContactBundle, error) {
	if legacy, err := cryptocore.UnmarshalPublicKeyBundle(b); err == nil && len(legacy.IdentityKey.Secp256k1Uncompressed) == 65 {
		return ContactBundle{V1: &legacy}, nil
	}
	var out ContactBundle
	err := pbwire.Parse(b, func(f pbwire.Field) error {
		if f.Num != 1 && f.Num != 2 {
			return nil
		}
		return pbwire.Parse(f.Bytes, func(g pbwire.Field) error {
			if g.Num != 1 {
				return nil
			}
			if f.Num == 1 {
				v1, err := cryptocore.UnmarshalPublicKeyBundle(g.Bytes)
				if err != nil {
					return err
				}
				out.V1 = &v1
				return nil
			}
			v2, err := cryptocore.UnmarshalSignedPublicKeyBundle(g.Bytes)
			if err != nil {
				return err
			}
			out.V2 = &v2
			return nil
		})
	})
	if err != nil {
		return ContactBundle{}, fmt.Errorf("%w: %v", ErrInvalidContactBundle, err)
	}
	if out.V1 == nil && out.V2 == nil {
		return ContactBundle{}, fmt.Errorf("%w: empty bundle", ErrInvalidContactBundle)
	}
	return out, nil
}

// SignedBundle returns the bundle in V2 form, converting a legacy bundle.
func (c ContactBundle) SignedBundle() (cryptocore.SignedPublicKeyBundle, error) {
	if c.V2 != nil {
		return *c.V2, nil
	}
	if c.V1 != nil {
		return cryptocore.SignedBundleFromLegacy(*c.V1)
	}
	return cryptocore.SignedPublicKeyBundle{}, ErrInvalidContactBundle
}

// LegacyBundle returns the bundle in V1 form.
func (c ContactBundle) LegacyBundle() (cryptocore.PublicKeyBundle, error) {
	if c.V1 != nil {
		return *c.V1, nil
	}
	if c.V2 != nil {
		return c.V2.Legacy()
	}
	return cryptocore.PublicKeyBundle{}, ErrInvalidContactBundle
}

func (c ContactBundle) Verify() error {
	var err error
	switch {
	case c.V2 != nil:
		err = c.V2.Verify()
	case c.V1 != nil:
		err = c.V1.Verify()
	default:
		return ErrInvalidContactBundle
	}
	if err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidContactBundle, err)
	}
	return nil
}

// WalletAddress is the wallet that signed the bundle's identity key.
func (c ContactBundle) WalletAddress() (string, error) {
	switch {
	case c.V2 != nil:
		return c.V2.WalletAddress()
	case c.V1 != nil:
		return c.V1.WalletAddress()
	}
	return "", ErrInvalidContactBundle
}
