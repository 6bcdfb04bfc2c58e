package envelope

import (
	"fmt"
	"time"

	"xmtp-legacy/internal/pbwire"
	cryptocore "xmtp-legacy/services/crypto-core"
)

// MessageHeaderV1 identifies both parties by their legacy bundles. Timestamp
// is in milliseconds.
type MessageHeaderV1 struct {
	Sender    cryptocore.PublicKeyBundle
	Recipient cryptocore.PublicKeyBundle
	Timestamp uint64
}

func (h MessageHeaderV1) Marshal() []byte {
	var e pbwire.Encoder
	e.Message(1, h.Sender.Marshal())
	e.Message(2, h.Recipient.Marshal())
	e.Uint64(3, h.Timestamp)
	return e.Data()
}

func unmarshalMessageHeaderV1(b []byte) (MessageHeaderV1, error) {
	var h MessageHeaderV1
	err := pbwire.Parse(b, func(f pbwire.Field) error {
		var err error
		switch f.Num {
		case 1:
			h.Sender, err = cryptocore.UnmarshalPublicKeyBundle(f.Bytes)
		case 2:
			h.Recipient, err = cryptocore.UnmarshalPublicKeyBundle(f.Bytes)
		case 3:
			h.Timestamp = f.Varint
		}
		return err
	})
	return h, err
}

type MessageV1 struct {
	HeaderBytes []byte
	Ciphertext  *cryptocore.Ciphertext

	header MessageHeaderV1
}

// EncodeMessageV1 encrypts payload from sender to recipient with the legacy
// 3-DH secret. The header is bound as associated data.
func EncodeMessageV1(sender *cryptocore.PrivateKeyBundleV1, recipient cryptocore.PublicKeyBundle, payload []byte, sent time.Time) (*MessageV1, error) {
	pre, err := sender.CurrentPreKey()
	if err != nil {
		return nil, err
	}
	secret, err := sender.SharedSecret(recipient, pre.PublicKey, false)
	if err != nil {
		return nil, err
	}
	header := MessageHeaderV1{
		Sender:    sender.PublicBundle(),
		Recipient: recipient,
		Timestamp: uint64(sent.UnixMilli()),
	}
	headerBytes := header.Marshal()
	ct, err := cryptocore.Encrypt(secret, payload, headerBytes)
	if err != nil {
		return nil, err
	}
	return &MessageV1{HeaderBytes: headerBytes, Ciphertext: ct, header: header}, nil
}

func (m *MessageV1) Header() MessageHeaderV1 { return m.header }

func (m *MessageV1) Sent() time.Time {
	return time.UnixMilli(int64(m.header.Timestamp))
}

func (m *MessageV1) SenderAddress() (string, error) {
	return m.header.Sender.WalletAddress()
}

func (m *MessageV1) RecipientAddress() (string, error) {
	return m.header.Recipient.WalletAddress()
}

// Decrypt opens the message as viewer, who may be either the sender or the
// recipient named in the header.
func (m *MessageV1) Decrypt(viewer *cryptocore.PrivateKeyBundleV1) ([]byte, error) {
	if err := m.header.Sender.Verify(); err != nil {
		return nil, fmt.Errorf("%w: sender: %w", ErrInvalidSignature, err)
	}
	me := viewer.IdentityKey.PublicKey
	var (
		secret []byte
		err    error
	)
	switch {
	case m.header.Sender.IdentityKey.Equal(me):
		secret, err = viewer.SharedSecret(m.header.Recipient, m.header.Sender.PreKey, false)
	case m.header.Recipient.IdentityKey.Equal(me):
		secret, err = viewer.SharedSecret(m.header.Sender, m.header.Recipient.PreKey, true)
	default:
		return nil, ErrUnauthorizedViewer
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnauthorizedViewer, err)
	}
	return cryptocore.Decrypt(secret, m.Ciphertext, m.HeaderBytes)
}

func (m *MessageV1) Marshal() []byte {
	var e pbwire.Encoder
	e.Bytes(1, m.HeaderBytes)
	e.Message(2, m.Ciphertext.Marshal())
	return e.Data()
}

func UnmarshalMessageV1(b []byte) (*MessageV1, error) {
	m := &MessageV1{}
	err := pbwire.Parse(b, func(f pbwire.Field) error {
		switch f.Num {
		case 1:
			m.HeaderBytes = f.Bytes
		case 2:
			ct, err := cryptocore.UnmarshalCiphertext(f.Bytes)
			if err != nil {
				return err
			}
			m.Ciphertext = ct
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: message v1: %v", ErrMalformedEnvelope, err)
	}
	if m.Ciphertext == nil {
		return nil, fmt.Errorf("%w: message v1: missing ciphertext", ErrMalformedEnvelope)
	}
	if m.header, err = unmarshalMessageHeaderV1(m.HeaderBytes); err != nil {
		return nil, fmt.Errorf("%w: message v1 header: %v", ErrMalformedEnvelope, err)
	}
	return m, nil
}
