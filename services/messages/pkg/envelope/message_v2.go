package envelope

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"xmtp-legacy/internal/pbwire"
	cryptocore "xmtp-legacy/services/crypto-core"
)

type MessageHeaderV2 struct {
	Topic     string
	CreatedNs uint64
}

func (h MessageHeaderV2) Marshal() []byte {
	var e pbwire.Encoder
	e.Uint64(1, h.CreatedNs)
	e.String(2, h.Topic)
	return e.Data()
}

func unmarshalMessageHeaderV2(b []byte) (MessageHeaderV2, error) {
	var h MessageHeaderV2
	err := pbwire.Parse(b, func(f pbwire.Field) error {
		switch f.Num {
		case 1:
			h.CreatedNs = f.Varint
		case 2:
			h.Topic = string(f.Bytes)
		}
		return nil
	})
	return h, err
}

// SignedContent is the plaintext of a MessageV2: the encoded content plus the
// sender's bundle and a pre-key signature over header and payload.
type SignedContent struct {
	Payload   []byte
	Sender    cryptocore.SignedPublicKeyBundle
	Signature cryptocore.Signature
}

func (s SignedContent) Marshal() []byte {
	var e pbwire.Encoder
	e.Bytes(1, s.Payload)
	e.Message(2, s.Sender.Marshal())
	e.Message(3, s.Signature.Marshal())
	return e.Data()
}

func unmarshalSignedContent(b []byte) (SignedContent, error) {
	var s SignedContent
	err := pbwire.Parse(b, func(f pbwire.Field) error {
		var err error
		switch f.Num {
		case 1:
			s.Payload = f.Bytes
		case 2:
			s.Sender, err = cryptocore.UnmarshalSignedPublicKeyBundle(f.Bytes)
		case 3:
			s.Signature, err = cryptocore.UnmarshalSignature(f.Bytes)
		}
		return err
	})
	return s, err
}

func contentDigest(headerBytes, payload []byte) []byte {
	h := sha256.New()
	h.Write(headerBytes)
	h.Write(payload)
	return h.Sum(nil)
}

type MessageV2 struct {
	HeaderBytes []byte
	Ciphertext  *cryptocore.Ciphertext
	SenderHmac  []byte
	ShouldPush  bool
}

// EncodeMessageV2 signs, encrypts and MACs content for topic.
func EncodeMessageV2(sender *cryptocore.PrivateKeyBundleV2, content EncodedContent, topic string, keyMaterial []byte, sent time.Time, shouldPush bool) (*MessageV2, error) {
	payload := content.Marshal()
	headerBytes := MessageHeaderV2{Topic: topic, CreatedNs: uint64(sent.UnixNano())}.Marshal()

	pre, err := sender.CurrentPreKey()
	if err != nil {
		return nil, err
	}
	sig, err := pre.Sign(contentDigest(headerBytes, payload))
	if err != nil {
		return nil, err
	}
	signed := SignedContent{Payload: payload, Sender: sender.PublicBundle(), Signature: sig}
	ct, err := cryptocore.Encrypt(keyMaterial, signed.Marshal(), headerBytes)
	if err != nil {
		return nil, err
	}

	addr, err := sender.WalletAddress()
	if err != nil {
		return nil, err
	}
	mac, err := cryptocore.GenerateHmacSignature(keyMaterial, cryptocore.HmacInfo(cryptocore.HmacPeriod(sent), addr), headerBytes)
	if err != nil {
		return nil, err
	}
	return &MessageV2{HeaderBytes: headerBytes, Ciphertext: ct, SenderHmac: mac, ShouldPush: shouldPush}, nil
}

// DecodedMessage is a verified, decrypted conversation message.
type DecodedMessage struct {
	ID            string
	Topic         string
	SenderAddress string
	Sent          time.Time
	Content       EncodedContent
}

// DecodeMessageV2 decrypts m and verifies the sender's signature chain. When
// topic is non-empty the header topic must match it.
func DecodeMessageV2(m *MessageV2, keyMaterial []byte, topic string) (*DecodedMessage, error) {
	header, err := unmarshalMessageHeaderV2(m.HeaderBytes)
	if err != nil {
		return nil, fmt.Errorf("%w: message v2 header: %v", ErrMalformedEnvelope, err)
	}
	if topic != "" && header.Topic != topic {
		return nil, fmt.Errorf("%w: header topic %q", ErrTopicMismatch, header.Topic)
	}
	plaintext, err := cryptocore.Decrypt(keyMaterial, m.Ciphertext, m.HeaderBytes)
	if err != nil {
		return nil, err
	}
	signed, err := unmarshalSignedContent(plaintext)
	if err != nil {
		return nil, fmt.Errorf("%w: signed content: %v", ErrMalformedEnvelope, err)
	}
	if err := signed.Sender.Verify(); err != nil {
		return nil, fmt.Errorf("%w: sender bundle: %w", ErrInvalidSignature, err)
	}
	preKey, err := signed.Sender.PreKey.Uncompressed()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSignature, err)
	}
	if err := cryptocore.VerifyDigest(preKey, contentDigest(m.HeaderBytes, signed.Payload), signed.Signature); err != nil {
		return nil, err
	}
	content, err := UnmarshalEncodedContent(signed.Payload)
	if err != nil {
		return nil, err
	}
	sender, err := signed.Sender.WalletAddress()
	if err != nil {
		return nil, err
	}
	return &DecodedMessage{
		ID:            MessageID(Message{V2: m}.Marshal()),
		Topic:         header.Topic,
		SenderAddress: sender,
		Sent:          time.Unix(0, int64(header.CreatedNs)),
		Content:       content,
	}, nil
}

// MessageID is the hex sha256 of the serialized message.
func MessageID(messageBytes []byte) string {
	sum := sha256.Sum256(messageBytes)
	return hex.EncodeToString(sum[:])
}

func (m *MessageV2) Marshal() []byte {
	var e pbwire.Encoder
	e.Bytes(1, m.HeaderBytes)
	e.Message(2, m.Ciphertext.Marshal())
	e.Bytes(3, m.SenderHmac)
	e.Bool(4, m.ShouldPush)
	return e.Data()
}

func UnmarshalMessageV2(b []byte) (*MessageV2, error) {
	m := &MessageV2{}
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
		case 3:
			m.SenderHmac = f.Bytes
		case 4:
			m.ShouldPush = f.Varint != 0
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: message v2: %v", ErrMalformedEnvelope, err)
	}
	if m.Ciphertext == nil {
		return nil, fmt.Errorf("%w: message v2: missing ciphertext", ErrMalformedEnvelope)
	}
	return m, nil
}
