// Package envelope defines the XMTP V1/V2 message formats that travel inside
// network envelopes: topics, invitations, sealed invitations, conversation
// messages, contact bundles, preference actions and auth tokens.
package envelope

import (
	"fmt"
	"time"

	"xmtp-legacy/internal/pbwire"
)

// Message is a V1 or V2 conversation message. Exactly one field is set.
type Message struct {
	V1 *MessageV1
	V2 *MessageV2
}

func (m Message) Marshal() []byte {
	var e pbwire.Encoder
	switch {
	case m.V1 != nil:
		e.Message(1, m.V1.Marshal())
	case m.V2 != nil:
		e.Message(2, m.V2.Marshal())
	}
	return e.Data()
}

func UnmarshalMessage(b []byte) (Message, error) {
	var out Message
	err := pbwire.Parse(b, func(f pbwire.Field) error {
		var err error
		switch f.Num {
		case 1:
			out.V1, err = UnmarshalMessageV1(f.Bytes)
		case 2:
			out.V2, err = UnmarshalMessageV2(f.Bytes)
		}
		return err
	})
	if err != nil {
		return Message{}, fmt.Errorf("%w: %w", ErrMalformedEnvelope, err)
	}
	if out.V1 == nil && out.V2 == nil {
		return Message{}, fmt.Errorf("%w: empty message", ErrMalformedEnvelope)
	}
	return out, nil
}

// Envelope is the unit the network stores and relays. Sequence is assigned by
// the server on publish and orders envelopes within a topic.
type Envelope struct {
	ContentTopic string `json:"contentTopic"`
	TimestampNs  uint64 `json:"timestampNs"`
	Message      []byte `json:"message"`
	Sequence     uint64 `json:"sequence,omitempty"`
}

func NewEnvelope(topic string, ts time.Time, message []byte) Envelope {
	return Envelope{ContentTopic: topic, TimestampNs: uint64(ts.UnixNano()), Message: message}
}

func (e Envelope) Timestamp() time.Time {
	return time.Unix(0, int64(e.TimestampNs))
}
