package msgclient

import (
	"context"
	"fmt"
	"strings"
	"time"

	cryptocore "xmtp-legacy/services/crypto-core"
	"xmtp-legacy/services/messages/pkg/envelope"
)

// Conversation is a V1 or V2 one-to-one conversation.
type Conversation interface {
	Topic() string
	PeerAddress() string
	CreatedAt() time.Time
	Version() ConversationVersion
	ConversationID() string
	TopicData() TopicData
	ConsentState() ConsentState
	Prepare(ctx context.Context, content any, opts *SendOptions) (*PreparedMessage, error)
	Send(ctx context.Context, content any, opts *SendOptions) (string, error)
	Messages(ctx context.Context, opts *MessageOptions) ([]DecodedMessage, error)
	Decode(env envelope.Envelope) (*DecodedMessage, error)
}

type SendOptions struct {
	ContentType *envelope.ContentTypeID
	Compression envelope.Compression
}

type MessageOptions struct {
	Limit     int
	Before    time.Time
	After     time.Time
	Direction envelope.SortDirection
}

type DecodedMessage struct {
	ID            string
	Topic         string
	SenderAddress string
	Sent          time.Time
	Encoded       envelope.EncodedContent
	Content       any
}

func (m DecodedMessage) Fallback() string { return m.Encoded.Fallback }

// DecodeResult is the outcome of decoding one envelope.
type DecodeResult struct {
	Envelope envelope.Envelope
	Message  *DecodedMessage
	Err      error
}

// PreparedMessage is a message encoded and encrypted but not yet published.
type PreparedMessage struct {
	MessageID string
	Envelopes []envelope.Envelope
}

type conversationBase struct {
	client *Client
	data   TopicData
}

func (b *conversationBase) Topic() string          { return b.data.Topic }
func (b *conversationBase) PeerAddress() string    { return b.data.PeerAddress }
func (b *conversationBase) ConversationID() string { return b.data.ConversationID }
func (b *conversationBase) TopicData() TopicData   { return b.data }

func (b *conversationBase) CreatedAt() time.Time {
	return time.Unix(0, int64(b.data.CreatedNs))
}

func (b *conversationBase) ConsentState() ConsentState {
	return b.client.contacts.consent.State(envelope.EntryAddress, b.data.PeerAddress)
}

func (b *conversationBase) encode(content any, opts *SendOptions) (envelope.EncodedContent, Codec, error) {
	if opts == nil {
		opts = &SendOptions{}
	}
	ec, codec, err := b.client.codecs.Encode(content, opts.ContentType)
	if err != nil {
		return envelope.EncodedContent{}, nil, err
	}
	if opts.Compression != envelope.CompressionNone {
		if ec, err = ec.Compress(opts.Compression); err != nil {
			return envelope.EncodedContent{}, nil, err
		}
	}
	return ec, codec, nil
}

func (b *conversationBase) decodeContent(msg *DecodedMessage, ec envelope.EncodedContent) error {
	plain, err := ec.Decompress()
	if err != nil {
		return err
	}
	content, err := b.client.codecs.Decode(plain)
	if err != nil {
		return err
	}
	msg.Encoded = plain
	msg.Content = content
	return nil
}

// messages queries the topic and decodes every envelope, dropping the ones
// that fail.
func (b *conversationBase) messages(ctx context.Context, opts *MessageOptions, decode func(envelope.Envelope) (*DecodedMessage, error)) ([]DecodedMessage, error) {
	if opts == nil {
		opts = &MessageOptions{}
	}
	req := envelope.QueryRequest{
		ContentTopics: []string{b.data.Topic},
		PagingInfo:    envelope.PagingInfo{Limit: opts.Limit, Direction: opts.Direction},
	}
	if !opts.After.IsZero() {
		req.StartTimeNs = uint64(opts.After.UnixNano())
	}
	if !opts.Before.IsZero() {
		req.EndTimeNs = uint64(opts.Before.UnixNano())
	}
	var envs []envelope.Envelope
	if opts.Limit > 0 {
		resp, err := b.client.api.Query(ctx, req)
		if err != nil {
			return nil, err
		}
		envs = resp.Envelopes
	} else {
		err := queryAll(ctx, b.client.api, req, func(page []envelope.Envelope) error {
			envs = append(envs, page...)
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	out := make([]DecodedMessage, 0, len(envs))
	for _, r := range decodeAll(envs, decode) {
		if r.Err != nil {
			b.client.logger.Debug("dropping undecodable message", "topic", b.data.Topic, "error", r.Err)
			continue
		}
		out = append(out, *r.Message)
	}
	return out, nil
}

func decodeAll(envs []envelope.Envelope, decode func(envelope.Envelope) (*DecodedMessage, error)) []DecodeResult {
	out := make([]DecodeResult, 0, len(envs))
	for _, env := range envs {
		msg, err := decode(env)
		out = append(out, DecodeResult{Envelope: env, Message: msg, Err: err})
	}
	return out
}

func (b *conversationBase) send(ctx context.Context, prepared *PreparedMessage) error {
	_, err := b.client.publish(ctx, prepared.Envelopes...)
	return err
}

// ConversationV1 is a legacy conversation on the shared dm topic, encrypted to
// the peer's published bundle.
type ConversationV1 struct {
	conversationBase
}

func (c *ConversationV1) Version() ConversationVersion { return VersionV1 }

func (c *ConversationV1) Prepare(ctx context.Context, content any, opts *SendOptions) (*PreparedMessage, error) {
	ec, _, err := c.encode(content, opts)
	if err != nil {
		return nil, err
	}
	contact, err := c.client.contacts.Find(ctx, c.data.PeerAddress)
	if err != nil {
		return nil, err
	}
	recipient, err := contact.LegacyBundle()
	if err != nil {
		return nil, err
	}
	now := c.client.now()
	msg, err := envelope.EncodeMessageV1(c.client.v1, recipient, ec.Marshal(), now)
	if err != nil {
		return nil, err
	}
	msgBytes := envelope.Message{V1: msg}.Marshal()
	envs := []envelope.Envelope{envelope.NewEnvelope(c.data.Topic, now, msgBytes)}
	if c.client.contacts.NeedsIntroduction(c.data.PeerAddress) {
		for _, addr := range []string{c.data.PeerAddress, c.client.address} {
			intro, err := envelope.UserIntro(addr)
			if err != nil {
				return nil, err
			}
			envs = append(envs, envelope.NewEnvelope(intro, now, msgBytes))
		}
	}
	return &PreparedMessage{MessageID: envelope.MessageID(msgBytes), Envelopes: envs}, nil
}

func (c *ConversationV1) Send(ctx context.Context, content any, opts *SendOptions) (string, error) {
	prepared, err := c.Prepare(ctx, content, opts)
	if err != nil {
		return "", err
	}
	if err := c.send(ctx, prepared); err != nil {
		return "", err
	}
	c.client.contacts.MarkIntroduced(c.data.PeerAddress)
	return prepared.MessageID, nil
}

func (c *ConversationV1) Messages(ctx context.Context, opts *MessageOptions) ([]DecodedMessage, error) {
	return c.messages(ctx, opts, c.Decode)
}

func (c *ConversationV1) Decode(env envelope.Envelope) (*DecodedMessage, error) {
	msg, err := envelope.UnmarshalMessage(env.Message)
	if err != nil {
		return nil, err
	}
	if msg.V1 == nil {
		return nil, fmt.Errorf("%w: expected a v1 message", envelope.ErrMalformedEnvelope)
	}
	payload, err := msg.V1.Decrypt(c.client.v1)
	if err != nil {
		return nil, err
	}
	sender, err := msg.V1.SenderAddress()
	if err != nil {
		return nil, err
	}
	recipient, err := msg.V1.RecipientAddress()
	if err != nil {
		return nil, err
	}
	if !sameParties(sender, recipient, c.client.address, c.data.PeerAddress) {
		return nil, fmt.Errorf("%w: message parties do not match conversation", envelope.ErrUnauthorizedViewer)
	}
	ec, err := envelope.UnmarshalEncodedContent(payload)
	if err != nil {
		return nil, err
	}
	out := &DecodedMessage{
		ID:            envelope.MessageID(env.Message),
		Topic:         c.data.Topic,
		SenderAddress: sender,
		Sent:          msg.V1.Sent(),
	}
	if err := c.decodeContent(out, ec); err != nil {
		return nil, err
	}
	return out, nil
}

func sameParties(a, b, x, y string) bool {
	return (strings.EqualFold(a, x) && strings.EqualFold(b, y)) || (strings.EqualFold(a, y) && strings.EqualFold(b, x))
}

// ConversationV2 is a conversation on an invitation topic, encrypted with the
// invitation's key material.
type ConversationV2 struct {
	conversationBase
}

func (c *ConversationV2) Version() ConversationVersion { return VersionV2 }

func (c *ConversationV2) KeyMaterial() []byte {
	return append([]byte(nil), c.data.KeyMaterial...)
}

func (c *ConversationV2) Context() *envelope.InvitationContext {
	if c.data.ConversationID == "" && len(c.data.Metadata) == 0 {
		return nil
	}
	return &envelope.InvitationContext{ConversationID: c.data.ConversationID, Metadata: c.data.Metadata}
}

// HmacKeys returns this conversation's push keys for the periods around now.
func (c *ConversationV2) HmacKeys(now time.Time) ([]cryptocore.HmacKeyPeriod, error) {
	return cryptocore.HmacKeysAround(c.data.KeyMaterial, c.client.address, now)
}

func (c *ConversationV2) Prepare(_ context.Context, content any, opts *SendOptions) (*PreparedMessage, error) {
	ec, codec, err := c.encode(content, opts)
	if err != nil {
		return nil, err
	}
	now := c.client.now()
	msg, err := envelope.EncodeMessageV2(c.client.v2, ec, c.data.Topic, c.data.KeyMaterial, now, codec.ShouldPush(content))
	if err != nil {
		return nil, err
	}
	msgBytes := envelope.Message{V2: msg}.Marshal()
	return &PreparedMessage{
		MessageID: envelope.MessageID(msgBytes),
		Envelopes: []envelope.Envelope{envelope.NewEnvelope(c.data.Topic, now, msgBytes)},
	}, nil
}

func (c *ConversationV2) Send(ctx context.Context, content any, opts *SendOptions) (string, error) {
	prepared, err := c.Prepare(ctx, content, opts)
	if err != nil {
		return "", err
	}
	if err := c.send(ctx, prepared); err != nil {
		return "", err
	}
	return prepared.MessageID, nil
}

// Messages returns the decodable messages on the topic. Forged, tampered or
// foreign envelopes are dropped.
func (c *ConversationV2) Messages(ctx context.Context, opts *MessageOptions) ([]DecodedMessage, error) {
	return c.messages(ctx, opts, c.Decode)
}

func (c *ConversationV2) Decode(env envelope.Envelope) (*DecodedMessage, error) {
	msg, err := envelope.UnmarshalMessage(env.Message)
	if err != nil {
		return nil, err
	}
	if msg.V2 == nil {
		return nil, fmt.Errorf("%w: expected a v2 message", envelope.ErrMalformedEnvelope)
	}
	decoded, err := envelope.DecodeMessageV2(msg.V2, c.data.KeyMaterial, c.data.Topic)
	if err != nil {
		return nil, err
	}
	out := &DecodedMessage{
		ID:            envelope.MessageID(env.Message),
		Topic:         decoded.Topic,
		SenderAddress: decoded.SenderAddress,
		Sent:          decoded.Sent,
	}
	if err := c.decodeContent(out, decoded.Content); err != nil {
		return nil, err
	}
	return out, nil
}
