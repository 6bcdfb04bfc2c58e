package envelope

import (
	"fmt"
	"time"

	"xmtp-legacy/internal/pbwire"
	cryptocore "xmtp-legacy/services/crypto-core"
)

type SealedInvitationHeaderV1 struct {
	Sender    cryptocore.SignedPublicKeyBundle
	Recipient cryptocore.SignedPublicKeyBundle
	CreatedNs uint64
}

func (h SealedInvitationHeaderV1) Marshal() []byte {
	var e pbwire.Encoder
	e.Message(1, h.Sender.Marshal())
	e.Message(2, h.Recipient.Marshal())
	e.Uint64(3, h.CreatedNs)
	return e.Data()
}

func UnmarshalSealedInvitationHeaderV1(b []byte) (SealedInvitationHeaderV1, error) {
	var h SealedInvitationHeaderV1
	err := pbwire.Parse(b, func(f pbwire.Field) error {
		var err error
		switch f.Num {
		case 1:
			h.Sender, err = cryptocore.UnmarshalSignedPublicKeyBundle(f.Bytes)
		case 2:
			h.Recipient, err = cryptocore.UnmarshalSignedPublicKeyBundle(f.Bytes)
		case 3:
			h.CreatedNs = f.Varint
		}
		return err
	})
	return h, err
}

// SealedInvitation is an invitation encrypted to both its sender and its
// recipient. HeaderBytes are authenticated as associated data.
type SealedInvitation struct {
	HeaderBytes []byte
	Ciphertext  *cryptocore.Ciphertext

	header SealedInvitationHeaderV1
}

// SealInvitation encrypts inv from sender to recipient.
func SealInvitation(sender *cryptocore.PrivateKeyBundleV2, recipient cryptocore.SignedPublicKeyBundle, created time.Time, inv *InvitationV1) (*SealedInvitation, error) {
	if inv == nil {
		return nil, fmt.Errorf("%w: nil invitation", ErrInvalidInvitation)
	}
	header := SealedInvitationHeaderV1{
		Sender:    sender.PublicBundle(),
		Recipient: recipient,
		CreatedNs: uint64(created.UnixNano()),
	}
	headerBytes := header.Marshal()
	pre, err := sender.CurrentPreKey()
	if err != nil {
		return nil, err
	}
	secret, err := sender.SharedSecret(recipient, pre.PublicKey, false)
	if err != nil {
		return nil, err
	}
	ct, err := cryptocore.Encrypt(secret, inv.Marshal(), headerBytes)
	if err != nil {
		return nil, err
	}
	return &SealedInvitation{HeaderBytes: headerBytes, Ciphertext: ct, header: header}, nil
}

func (s *SealedInvitation) Header() SealedInvitationHeaderV1 {
	return s.header
}

func (s *SealedInvitation) Created() time.Time {
	return time.Unix(0, int64(s.header.CreatedNs))
}

// Involves reports whether contact is the sender or the recipient.
func (s *SealedInvitation) Involves(contact cryptocore.SignedPublicKeyBundle) bool {
	return s.header.Sender.Equal(contact) || s.header.Recipient.Equal(contact)
}

// Open decrypts the invitation as viewer, who must be either party.
func (s *SealedInvitation) Open(viewer *cryptocore.PrivateKeyBundleV2) (*InvitationV1, error) {
	me := viewer.IdentityKey.PublicKey
	var (
		secret []byte
		err    error
	)
	switch {
	case s.header.Sender.IdentityKey.Equal(me):
		secret, err = viewer.SharedSecret(s.header.Recipient, s.header.Sender.PreKey, false)
	case s.header.Recipient.IdentityKey.Equal(me):
		secret, err = viewer.SharedSecret(s.header.Sender, s.header.Recipient.PreKey, true)
	default:
		return nil, ErrUnauthorizedViewer
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnauthorizedViewer, err)
	}
	plaintext, err := cryptocore.Decrypt(secret, s.Ciphertext, s.HeaderBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidInvitation, err)
	}
	return UnmarshalInvitationV1(plaintext)
}

func (s *SealedInvitation) Marshal() []byte {
	var v1 pbwire.Encoder
	v1.Bytes(1, s.HeaderBytes)
	v1.Message(2, s.Ciphertext.Marshal())
	var e pbwire.Encoder
	e.Message(1, v1.Data())
	return e.Data()
}

func UnmarshalSealedInvitation(b []byte) (*SealedInvitation, error) {
	s := &SealedInvitation{}
	seen := false
	err := pbwire.Parse(b, func(f pbwire.Field) error {
		if f.Num != 1 {
			return nil
		}
		seen = true
		return pbwire.Parse(f.Bytes, func(g pbwire.Field) error {
			switch g.Num {
			case 1:
				s.HeaderBytes = g.Bytes
			case 2:
				ct, err := cryptocore.UnmarshalCiphertext(g.Bytes)
				if err != nil {
					return err
				}
				s.Ciphertext = ct
			}
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInvitation, err)
	}
	if !seen || s.Ciphertext == nil || len(s.HeaderBytes) == 0 {
		return nil, fmt.Errorf("%w: missing v1 body", ErrInvalidInvitation)
	}
	h, err := UnmarshalSealedInvitationHeaderV1(s.HeaderBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: header: %v", ErrInvalidInvitation, err)
	}
	s.header = h
	return s, nil
}
