package msgclient

import (
	"encoding/json"
	"fmt"
	"sync"

	"xmtp-legacy/services/messages/pkg/envelope"
)

// Codec converts one content type to and from EncodedContent.
type Codec interface {
	ContentType() envelope.ContentTypeID
	Encode(content any) (envelope.EncodedContent, error)
	Decode(ec envelope.EncodedContent) (any, error)
	// Fallback is shown by clients that cannot decode the type.
	Fallback(content any) string
	ShouldPush(content any) bool
}

var (
	ContentTypeText        = envelope.ContentTypeID{AuthorityID: "xmtp.org", TypeID: "text", VersionMajor: 1}
	ContentTypeReaction    = envelope.ContentTypeID{AuthorityID: "xmtp.org", TypeID: "reaction", VersionMajor: 1}
	ContentTypeReply       = envelope.ContentTypeID{AuthorityID: "xmtp.org", TypeID: "reply", VersionMajor: 1}
	ContentTypeReadReceipt = envelope.ContentTypeID{AuthorityID: "xmtp.org", TypeID: "readReceipt", VersionMajor: 1}
)

// CodecRegistry resolves codecs by content type. Each Client owns one.
type CodecRegistry struct {
	mu     sync.RWMutex
	codecs map[string]Codec
}

func NewCodecRegistry(codecs ...Codec) *CodecRegistry {
	r := &CodecRegistry{codecs: make(map[string]Codec)}
	for _, c := range codecs {
		r.Register(c)
	}
	return r
}

// DefaultCodecs returns a fresh registry holding the built-in codecs.
func DefaultCodecs() *CodecRegistry {
	r := NewCodecRegistry(TextCodec{}, ReactionCodec{}, ReadReceiptCodec{},
		AttachmentCodec{}, RemoteAttachmentCodec{}, MultiRemoteAttachmentCodec{})
	r.Register(ReplyCodec{Registry: r})
	return r
}

func (r *CodecRegistry) Register(c Codec) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.codecs[c.ContentType().ID()] = c
}

func (r *CodecRegistry) Find(id envelope.ContentTypeID) (Codec, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.codecs[id.ID()]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownCodec, id)
	}
	return c, nil
}

// Encode encodes content with the codec for id, or for content's own type when
// id is nil.
func (r *CodecRegistry) Encode(content any, id *envelope.ContentTypeID) (envelope.EncodedContent, Codec, error) {
	if id == nil {
		inferred, ok := contentTypeOf(content)
		if !ok {
			return envelope.EncodedContent{}, nil, fmt.Errorf("%w: %T", ErrUnknownCodec, content)
		}
		id = &inferred
	}
	codec, err := r.Find(*id)
	if err != nil {
		return envelope.EncodedContent{}, nil, err
	}
	ec, err := codec.Encode(content)
	if err != nil {
		return envelope.EncodedContent{}, nil, err
	}
	if fb := codec.Fallback(content); fb != "" {
		ec.Fallback = fb
	}
	return ec, codec, nil
}

// Decode decompresses ec and decodes it with the registered codec.
func (r *CodecRegistry) Decode(ec envelope.EncodedContent) (any, error) {
	plain, err := ec.Decompress()
	if err != nil {
		return nil, err
	}
	codec, err := r.Find(plain.Type)
	if err != nil {
		return nil, err
	}
	return codec.Decode(plain)
}

func contentTypeOf(content any) (envelope.ContentTypeID, bool) {
	switch content.(type) {
	case string:
		return ContentTypeText, true
	case Reaction, *Reaction:
		return ContentTypeReaction, true
	case Reply, *Reply:
		return ContentTypeReply, true
	case ReadReceipt, *ReadReceipt:
		return ContentTypeReadReceipt, true
	case Attachment, *Attachment:
		return ContentTypeAttachment, true
	case RemoteAttachment, *RemoteAttachment:
		return ContentTypeRemoteAttachment, true
	case MultiRemoteAttachment, *MultiRemoteAttachment:
		return ContentTypeMultiRemoteAttachment, true
	}
	return envelope.ContentTypeID{}, false
}

type TextCodec struct{}

func (TextCodec) ContentType() envelope.ContentTypeID { return ContentTypeText }

func (TextCodec) Encode(content any) (envelope.EncodedContent, error) {
	s, ok := content.(string)
	if !ok {
		return envelope.EncodedContent{}, fmt.Errorf("text codec: unsupported content %T", content)
	}
	return envelope.EncodedContent{
		Type:       ContentTypeText,
		Parameters: map[string]string{"encoding": "UTF-8"},
		Content:    []byte(s),
	}, nil
}

func (TextCodec) Decode(ec envelope.EncodedContent) (any, error) {
	if enc, ok := ec.Parameters["encoding"]; ok && enc != "UTF-8" {
		return nil, fmt.Errorf("text codec: unrecognized encoding %q", enc)
	}
	return string(ec.Content), nil
}

func (TextCodec) Fallback(any) string { return "" }

func (TextCodec) ShouldPush(any) bool { return true }

type ReactionAction string

const (
	ReactionAdded   ReactionAction = "added"
	ReactionRemoved ReactionAction = "removed"
)

type Reaction struct {
	Reference string         `json:"reference"`
	Action    ReactionAction `json:"action"`
	Content   string         `json:"content"`
	Schema    string         `json:"schema"`
}

type ReactionCodec struct{}

func (ReactionCodec) ContentType() envelope.ContentTypeID { return ContentTypeReaction }

func (ReactionCodec) Encode(content any) (envelope.EncodedContent, error) {
	r, err := asReaction(content)
	if err != nil {
		return envelope.EncodedContent{}, err
	}
	data, err := json.Marshal(r)
	if err != nil {
		return envelope.EncodedContent{}, err
	}
	return envelope.EncodedContent{Type: ContentTypeReaction, Content: data}, nil
}

func (ReactionCodec) Decode(ec envelope.EncodedContent) (any, error) {
	var r Reaction
	if err := json.Unmarshal(ec.Content, &r); err != nil {
		return nil, fmt.Errorf("reaction codec: %w", err)
	}
	return r, nil
}

func (ReactionCodec) Fallback(content any) string {
	r, err := asReaction(content)
	if err != nil {
		return ""
	}
	if r.Action == ReactionRemoved {
		return fmt.Sprintf("Removed “%s” from an earlier message", r.Content)
	}
	return fmt.Sprintf("Reacted “%s” to an earlier message", r.Content)
}

func (ReactionCodec) ShouldPush(content any) bool {
	r, err := asReaction(content)
	return err == nil && r.Action == ReactionAdded
}

func asReaction(content any) (Reaction, error) {
	switch v := content.(type) {
	case Reaction:
		return v, nil
	case *Reaction:
		return *v, nil
	}
	return Reaction{}, fmt.Errorf("reaction codec: unsupported content %T", content)
}

// Reply wraps content of any registered type with a reference to the message
// it answers.
type Reply struct {
	Reference   string
	Content     any
	ContentType envelope.ContentTypeID
}

type ReplyCodec struct {
	Registry *CodecRegistry
}

func (ReplyCodec) ContentType() envelope.ContentTypeID { return ContentTypeReply }

func (c ReplyCodec) Encode(content any) (envelope.EncodedContent, error) {
	r, err := asReply(content)
	if err != nil {
		return envelope.EncodedContent{}, err
	}
	var id *envelope.ContentTypeID
	if r.ContentType.TypeID != "" {
		id = &r.ContentType
	}
	inner, _, err := c.Registry.Encode(r.Content, id)
	if err != nil {
		return envelope.EncodedContent{}, fmt.Errorf("reply codec: %w", err)
	}
	return envelope.EncodedContent{
		Type: ContentTypeReply,
		Parameters: map[string]string{
			"reference":   r.Reference,
			"contentType": inner.Type.String(),
		},
		Content: inner.Marshal(),
	}, nil
}

func (c ReplyCodec) Decode(ec envelope.EncodedContent) (any, error) {
	inner, err := envelope.UnmarshalEncodedContent(ec.Content)
	if err != nil {
		return nil, fmt.Errorf("reply codec: %w", err)
	}
	content, err := c.Registry.Decode(inner)
	if err != nil {
		return nil, fmt.Errorf("reply codec: %w", err)
	}
	return Reply{Reference: ec.Parameters["reference"], Content: content, ContentType: inner.Type}, nil
}

func (c ReplyCodec) Fallback(content any) string {
	r, err := asReply(content)
	if err != nil {
		return ""
	}
	if s, ok := r.Content.(string); ok {
		return fmt.Sprintf("Replied with “%s” to an earlier message", s)
	}
	return "Replied to an earlier message"
}

func (ReplyCodec) ShouldPush(any) bool { return true }

func asReply(content any) (Reply, error) {
	switch v := content.(type) {
	case Reply:
		return v, nil
	case *Reply:
		return *v, nil
	}
	return Reply{}, fmt.Errorf("reply codec: unsupported content %T", content)
}

type ReadReceipt struct{}

type ReadReceiptCodec struct{}

func (ReadReceiptCodec) ContentType() envelope.ContentTypeID { return ContentTypeReadReceipt }

func (ReadReceiptCodec) Encode(any) (envelope.EncodedContent, error) {
	return envelope.EncodedContent{Type: ContentTypeReadReceipt, Content: []byte{}}, nil
}

func (ReadReceiptCodec) Decode(envelope.EncodedContent) (any, error) { return ReadReceipt{}, nil }

func (ReadReceiptCodec) Fallback(any) string { return "" }

// ShouldPush is false: receipts must not wake devices.
func (ReadReceiptCodec) ShouldPush(any) bool { return false }
