package msgclient

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"xmtp-legacy/services/messages/pkg/envelope"
)

func TestReactionCodec(t *testing.T) {
	reg := DefaultCodecs()
	r := Reaction{Reference: "abc", Action: ReactionAdded, Content: "👍", Schema: "unicode"}

	ec, codec, err := reg.Encode(r, nil)
	require.NoError(t, err)
	require.Equal(t, ContentTypeReaction, ec.Type)
	require.Equal(t, "Reacted “👍” to an earlier message", ec.Fallback)
	require.True(t, codec.ShouldPush(r))
	require.False(t, codec.ShouldPush(Reaction{Action: ReactionRemoved}))

	decoded, err := reg.Decode(ec)
	require.NoError(t, err)
	require.Equal(t, r, decoded)
}

func TestReplyCodecWrapsInnerContent(t *testing.T) {
	reg := DefaultCodecs()
	reply := Reply{Reference: "msg-1", Content: "sounds good"}

	ec, _, err := reg.Encode(reply, nil)
	require.NoError(t, err)
	require.Equal(t, "msg-1", ec.Parameters["reference"])
	require.Equal(t, ContentTypeText.String(), ec.Parameters["contentType"])

	decoded, err := reg.Decode(ec)
	require.NoError(t, err)
	got := decoded.(Reply)
	require.Equal(t, "msg-1", got.Reference)
	require.Equal(t, "sounds good", got.Content)
	require.Equal(t, ContentTypeText, got.ContentType)
}

func TestUnknownContentType(t *testing.T) {
	reg := NewCodecRegistry(TextCodec{})
	_, _, err := reg.Encode(42, nil)
	require.ErrorIs(t, err, ErrUnknownCodec)

	_, err = reg.Decode(envelope.EncodedContent{Type: ContentTypeReaction})
	require.ErrorIs(t, err, ErrUnknownCodec)
}

func TestRegistriesAreIndependent(t *testing.T) {
	a := DefaultCodecs()
	b := NewCodecRegistry(TextCodec{})
	_, err := a.Find(ContentTypeReadReceipt)
	require.NoError(t, err)
	_, err = b.Find(ContentTypeReadReceipt)
	require.ErrorIs(t, err, ErrUnknownCodec)
}

func TestCompressedSendRoundTrip(t *testing.T) {
	ctx := context.Background()
	api := newMemAPI()
	alice := newTestClient(t, api)
	bob := newTestClient(t, api)

	conv, err := alice.Conversations().NewConversation(ctx, bob.Address(), nil)
	require.NoError(t, err)
	for _, c := range []envelope.Compression{envelope.CompressionDeflate, envelope.CompressionGzip} {
		_, err := conv.Send(ctx, "squeeze me squeeze me squeeze me", &SendOptions{Compression: c})
		require.NoError(t, err)
	}

	bobConv, err := bob.Conversations().NewConversation(ctx, alice.Address(), nil)
	require.NoError(t, err)
	msgs, err := bobConv.Messages(ctx, nil)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	for _, m := range msgs {
		require.Equal(t, "squeeze me squeeze me squeeze me", m.Content)
		require.Equal(t, envelope.CompressionNone, m.Encoded.Compression)
	}
}
