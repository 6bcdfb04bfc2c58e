package envelope

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	cryptocore "xmtp-legacy/services/crypto-core"
)

func textContent(s string) EncodedContent {
	return EncodedContent{
		Type:       ContentTypeID{AuthorityID: "xmtp.org", TypeID: "text", VersionMajor: 1},
		Parameters: map[string]string{"encoding": "UTF-8"},
		Content:    []byte(s),
	}
}

func TestMessageV2RoundTrip(t *testing.T) {
	alice, bob := newParty(t), newParty(t)
	inv, err := CreateDeterministicInvitation(alice.v2, bob.v2.PublicBundle(), nil)
	require.NoError(t, err)
	sent := time.Now()

	msg, err := EncodeMessageV2(alice.v2, textContent("hello bob"), inv.Topic, inv.KeyMaterial, sent, true)
	require.NoError(t, err)

	parsed, err := UnmarshalMessage(Message{V2: msg}.Marshal())
	require.NoError(t, err)
	require.NotNil(t, parsed.V2)
	require.True(t, parsed.V2.ShouldPush)

	decoded, err := DecodeMessageV2(parsed.V2, inv.KeyMaterial, inv.Topic)
	require.NoError(t, err)
	require.Equal(t, "hello bob", string(decoded.Content.Content))
	require.Equal(t, "UTF-8", decoded.Content.Parameters["encoding"])
	require.Equal(t, alice.address(t), decoded.SenderAddress)
	require.Equal(t, sent.UnixNano(), decoded.Sent.UnixNano())
	require.Len(t, decoded.ID, 64)
}

func TestMessageV2SenderHmacMatchesCurrentPeriod(t *testing.T) {
	alice, bob := newParty(t), newParty(t)
	inv, err := CreateDeterministicInvitation(alice.v2, bob.v2.PublicBundle(), nil)
	require.NoError(t, err)
	now := time.Now()
	msg, err := EncodeMessageV2(alice.v2, textContent("ping"), inv.Topic, inv.KeyMaterial, now, false)
	require.NoError(t, err)

	keys, err := cryptocore.HmacKeysAround(inv.KeyMaterial, alice.address(t), now)
	require.NoError(t, err)
	require.False(t, cryptocore.VerifyHmacSignature(keys[0].HmacKey, msg.SenderHmac, msg.HeaderBytes))
	require.True(t, cryptocore.VerifyHmacSignature(keys[1].HmacKey, msg.SenderHmac, msg.HeaderBytes))
	require.False(t, cryptocore.VerifyHmacSignature(keys[2].HmacKey, msg.SenderHmac, msg.HeaderBytes))

	bobKeys, err := cryptocore.HmacKeysAround(inv.KeyMaterial, bob.address(t), now)
	require.NoError(t, err)
	require.False(t, cryptocore.VerifyHmacSignature(bobKeys[1].HmacKey, msg.SenderHmac, msg.HeaderBytes))
}

func TestDecodeMessageV2Rejections(t *testing.T) {
	alice, bob := newParty(t), newParty(t)
	inv, err := CreateDeterministicInvitation(alice.v2, bob.v2.PublicBundle(), nil)
	require.NoError(t, err)
	msg, err := EncodeMessageV2(alice.v2, textContent("hi"), inv.Topic, inv.KeyMaterial, time.Now(), false)
	require.NoError(t, err)

	_, err = DecodeMessageV2(msg, inv.KeyMaterial, DirectMessageV2("elsewhere"))
	require.ErrorIs(t, err, ErrTopicMismatch)

	other, err := CreateRandomInvitation(nil)
	require.NoError(t, err)
	_, err = DecodeMessageV2(msg, other.KeyMaterial, inv.Topic)
	require.ErrorIs(t, err, ErrDecryption)

	// A message signed by someone other than the bundle it carries.
	forged, err := EncodeMessageV2(alice.v2, textContent("hi"), inv.Topic, inv.KeyMaterial, time.Now(), false)
	require.NoError(t, err)
	plaintext, err := cryptocore.Decrypt(inv.KeyMaterial, forged.Ciphertext, forged.HeaderBytes)
	require.NoError(t, err)
	signed, err := unmarshalSignedContent(plaintext)
	require.NoError(t, err)
	signed.Sender = bob.v2.PublicBundle()
	forged.Ciphertext, err = cryptocore.Encrypt(inv.KeyMaterial, signed.Marshal(), forged.HeaderBytes)
	require.NoError(t, err)
	_, err = DecodeMessageV2(forged, inv.KeyMaterial, inv.Topic)
	require.ErrorIs(t, err, ErrInvalidSignature)
}

func TestDecodeMessageV2RejectsAnyFlippedByte(t *testing.T) {
	alice, bob := newParty(t), newParty(t)
	inv, err := CreateDeterministicInvitation(alice.v2, bob.v2.PublicBundle(), nil)
	require.NoError(t, err)
	msg, err := EncodeMessageV2(alice.v2, textContent("tamper me"), inv.Topic, inv.KeyMaterial, time.Now(), false)
	require.NoError(t, err)

	clone := func() *MessageV2 {
		ct := *msg.Ciphertext
		ct.HkdfSalt = append([]byte(nil), ct.HkdfSalt...)
		ct.GcmNonce = append([]byte(nil), ct.GcmNonce...)
		ct.Payload = append([]byte(nil), ct.Payload...)
		return &MessageV2{HeaderBytes: append([]byte(nil), msg.HeaderBytes...), Ciphertext: &ct}
	}
	fields := map[string]func(*MessageV2) []byte{
		"header":   func(m *MessageV2) []byte { return m.HeaderBytes },
		"hkdfSalt": func(m *MessageV2) []byte { return m.Ciphertext.HkdfSalt },
		"gcmNonce": func(m *MessageV2) []byte { return m.Ciphertext.GcmNonce },
		"payload":  func(m *MessageV2) []byte { return m.Ciphertext.Payload },
	}
	for name, field := range fields {
		n := len(field(msg))
		require.NotZero(t, n, name)
		for i := 0; i < n; i++ {
			m := clone()
			field(m)[i] ^= 0x01
			_, err := DecodeMessageV2(m, inv.KeyMaterial, inv.Topic)
			require.Error(t, err, "%s byte %d", name, i)
		}
	}

	_, err = DecodeMessageV2(clone(), inv.KeyMaterial, inv.Topic)
	require.NoError(t, err)
}

func TestMessageV1BothPartiesDecrypt(t *testing.T) {
	alice, bob, eve := newParty(t), newParty(t), newParty(t)
	sent := time.Now()
	msg, err := EncodeMessageV1(alice.v1, bob.v1.PublicBundle(), []byte("legacy hello"), sent)
	require.NoError(t, err)

	parsed, err := UnmarshalMessage(Message{V1: msg}.Marshal())
	require.NoError(t, err)
	require.NotNil(t, parsed.V1)

	for _, viewer := range []party{alice, bob} {
		out, err := parsed.V1.Decrypt(viewer.v1)
		require.NoError(t, err)
		require.Equal(t, "legacy hello", string(out))
	}
	sender, err := parsed.V1.SenderAddress()
	require.NoError(t, err)
	require.Equal(t, alice.address(t), sender)
	recipient, err := parsed.V1.RecipientAddress()
	require.NoError(t, err)
	require.Equal(t, bob.address(t), recipient)
	require.Equal(t, sent.UnixMilli(), parsed.V1.Sent().UnixMilli())

	_, err = parsed.V1.Decrypt(eve.v1)
	require.ErrorIs(t, err, ErrUnauthorizedViewer)
}

func TestUnmarshalMessageRejectsEmpty(t *testing.T) {
	_, err := UnmarshalMessage(nil)
	require.ErrorIs(t, err, ErrMalformedEnvelope)
	_, err = UnmarshalMessage([]byte{0x12, 0x00})
	require.ErrorIs(t, err, ErrMalformedEnvelope)
}
