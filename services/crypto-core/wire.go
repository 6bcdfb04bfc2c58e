package cryptocore

import (
	"fmt"

	"xmtp-legacy/internal/pbwire"
)

// Field numbers follow message_contents/public_key.proto and private_key.proto.

func (s Signature) Marshal() []byte {
	var inner pbwire.Encoder
	inner.Bytes(1, s.Bytes)
	inner.Uint64(2, uint64(s.Recovery))
	var e pbwire.Encoder
	if s.WalletSigned {
		e.Message(2, inner.Data())
	} else {
		e.Message(1, inner.Data())
	}
	return e.Data()
}

func UnmarshalSignature(b []byte) (Signature, error) {
	var sig Signature
	err := pbwire.Parse(b, func(f pbwire.Field) error {
		if f.Num != 1 && f.Num != 2 {
			return nil
		}
		sig.WalletSigned = f.Num == 2
		return pbwire.Parse(f.Bytes, func(g pbwire.Field) error {
			switch g.Num {
			case 1:
				sig.Bytes = g.Bytes
			case 2:
				sig.Recovery = uint32(g.Varint)
			}
			return nil
		})
	})
	if err != nil {
		return Signature{}, fmt.Errorf("%w: signature: %v", ErrMalformedKey, err)
	}
	return sig, nil
}

func marshalPoint(b []byte) []byte {
	var e pbwire.Encoder
	e.Bytes(1, b)
	return e.Data()
}

func unmarshalPoint(b []byte) ([]byte, error) {
	var out []byte
	err := pbwire.Parse(b, func(f pbwire.Field) error {
		if f.Num == 1 {
			out = f.Bytes
		}
		return nil
	})
	return out, err
}

func (p PublicKey) Marshal() []byte {
	var e pbwire.Encoder
	e.Uint64(1, p.Timestamp)
	if p.Signature != nil {
		e.Message(2, p.Signature.Marshal())
	}
	e.Message(3, marshalPoint(p.Secp256k1Uncompressed))
	return e.Data()
}

func UnmarshalPublicKey(b []byte) (PublicKey, error) {
	var p PublicKey
	err := pbwire.Parse(b, func(f pbwire.Field) error {
		switch f.Num {
		case 1:
			p.Timestamp = f.Varint
		case 2:
			sig, err := UnmarshalSignature(f.Bytes)
			if err != nil {
				return err
			}
			p.Signature = &sig
		case 3:
			pt, err := unmarshalPoint(f.Bytes)
			if err != nil {
				return err
			}
			p.Secp256k1Uncompressed = pt
		}
		return nil
	})
	if err != nil {
		return PublicKey{}, fmt.Errorf("%w: public key: %v", ErrMalformedKey, err)
	}
	return p, nil
}

func (k PrivateKey) Marshal() []byte {
	var e pbwire.Encoder
	e.Uint64(1, k.Timestamp)
	e.Message(2, marshalPoint(k.Secp256k1))
	e.Message(3, k.PublicKey.Marshal())
	return e.Data()
}

func UnmarshalPrivateKey(b []byte) (PrivateKey, error) {
	var k PrivateKey
	err := pbwire.Parse(b, func(f pbwire.Field) error {
		switch f.Num {
		case 1:
			k.Timestamp = f.Varint
		case 2:
			pt, err := unmarshalPoint(f.Bytes)
			if err != nil {
				return err
			}
			k.Secp256k1 = pt
		case 3:
			pub, err := UnmarshalPublicKey(f.Bytes)
			if err != nil {
				return err
			}
			k.PublicKey = pub
		}
		return nil
	})
	if err != nil {
		return PrivateKey{}, fmt.Errorf("%w: private key: %v", ErrMalformedKey, err)
	}
	return k, nil
}

func (b PublicKeyBundle) Marshal() []byte {
	var e pbwire.Encoder
	e.Message(1, b.IdentityKey.Marshal())
	e.Message(2, b.PreKey.Marshal())
	return e.Data()
}

func UnmarshalPublicKeyBundle(data []byte) (PublicKeyBundle, error) {
	var b PublicKeyBundle
	err := pbwire.Parse(data, func(f pbwire.Field) error {
		var err error
		switch f.Num {
		case 1:
			b.IdentityKey, err = UnmarshalPublicKey(f.Bytes)
		case 2:
			b.PreKey, err = UnmarshalPublicKey(f.Bytes)
		}
		return err
	})
	if err != nil {
		return PublicKeyBundle{}, err
	}
	return b, nil
}

func (b PrivateKeyBundleV1) Marshal() []byte {
	var e pbwire.Encoder
	e.Message(1, b.IdentityKey.Marshal())
	for _, k := range b.PreKeys {
		e.Message(2, k.Marshal())
	}
	return e.Data()
}

func UnmarshalPrivateKeyBundleV1(data []byte) (*PrivateKeyBundleV1, error) {
	b := &PrivateKeyBundleV1{}
	err := pbwire.Parse(data, func(f pbwire.Field) error {
		switch f.Num {
		case 1:
			k, err := UnmarshalPrivateKey(f.Bytes)
			if err != nil {
				return err
			}
			b.IdentityKey = k
		case 2:
			k, err := UnmarshalPrivateKey(f.Bytes)
			if err != nil {
				return err
			}
			b.PreKeys = append(b.PreKeys, k)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return b, nil
}

func (s SignedPublicKey) Marshal() []byte {
	var e pbwire.Encoder
	e.Bytes(1, s.KeyBytes)
	e.Message(2, s.Signature.Marshal())
	return e.Data()
}

func UnmarshalSignedPublicKey(b []byte) (SignedPublicKey, error) {
	var s SignedPublicKey
	err := pbwire.Parse(b, func(f pbwire.Field) error {
		switch f.Num {
		case 1:
			s.KeyBytes = f.Bytes
		case 2:
			sig, err := UnmarshalSignature(f.Bytes)
			if err != nil {
				return err
			}
			s.Signature = sig
		}
		return nil
	})
	if err != nil {
		return SignedPublicKey{}, fmt.Errorf("%w: signed public key: %v", ErrMalformedKey, err)
	}
	return s, nil
}

func (b SignedPublicKeyBundle) Marshal() []byte {
	var e pbwire.Encoder
	e.Message(1, b.IdentityKey.Marshal())
	e.Message(2, b.PreKey.Marshal())
	return e.Data()
}

func UnmarshalSignedPublicKeyBundle(data []byte) (SignedPublicKeyBundle, error) {
	var b SignedPublicKeyBundle
	err := pbwire.Parse(data, func(f pbwire.Field) error {
		var err error
		switch f.Num {
		case 1:
			b.IdentityKey, err = UnmarshalSignedPublicKey(f.Bytes)
		case 2:
			b.PreKey, err = UnmarshalSignedPublicKey(f.Bytes)
		}
		return err
	})
	if err != nil {
		return SignedPublicKeyBundle{}, err
	}
	return b, nil
}

func (k SignedPrivateKey) Marshal() []byte {
	var e pbwire.Encoder
	e.Uint64(1, k.CreatedNs)
	e.Message(2, marshalPoint(k.Secp256k1))
	e.Message(3, k.PublicKey.Marshal())
	return e.Data()
}

func UnmarshalSignedPrivateKey(b []byte) (SignedPrivateKey, error) {
	var k SignedPrivateKey
	err := pbwire.Parse(b, func(f pbwire.Field) error {
		switch f.Num {
		case 1:
			k.CreatedNs = f.Varint
		case 2:
			pt, err := unmarshalPoint(f.Bytes)
			if err != nil {
				return err
			}
			k.Secp256k1 = pt
		case 3:
			pub, err := UnmarshalSignedPublicKey(f.Bytes)
			if err != nil {
				return err
			}
			k.PublicKey = pub
		}
		return nil
	})
	if err != nil {
		return SignedPrivateKey{}, fmt.Errorf("%w: signed private key: %v", ErrMalformedKey, err)
	}
	return k, nil
}

func (b PrivateKeyBundleV2) Marshal() []byte {
	var e pbwire.Encoder
	e.Message(1, b.IdentityKey.Marshal())
	for _, k := range b.PreKeys {
		e.Message(2, k.Marshal())
	}
	return e.Data()
}

func UnmarshalPrivateKeyBundleV2(data []byte) (*PrivateKeyBundleV2, error) {
	b := &PrivateKeyBundleV2{}
	err := pbwire.Parse(data, func(f pbwire.Field) error {
		switch f.Num {
		case 1:
			k, err := UnmarshalSignedPrivateKey(f.Bytes)
			if err != nil {
				return err
			}
			b.IdentityKey = k
		case 2:
			k, err := UnmarshalSignedPrivateKey(f.Bytes)
			if err != nil {
				return err
			}
			b.PreKeys = append(b.PreKeys, k)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return b, nil
}
