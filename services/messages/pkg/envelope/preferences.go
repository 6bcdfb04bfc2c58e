package envelope

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"

	"xmtp-legacy/internal/pbwire"
)

type EntryType string

const (
	EntryAddress        EntryType = "ADDRESS"
	EntryConversationID EntryType = "CONVERSATION_ID"
	EntryInboxID        EntryType = "INBOX_ID"
)

// PreferenceAction is one allow or deny update published, encrypted, to the
// user's private preference topic.
type PreferenceAction struct {
	Allow  bool
	Type   EntryType
	Values []string
}

func (a PreferenceAction) fieldNum() (int, error) {
	var base int
	switch a.Type {
	case EntryAddress:
		base = 1
	case EntryConversationID:
		base = 3
	case EntryInboxID:
		base = 5
	default:
		return 0, fmt.Errorf("envelope: unknown entry type %q", a.Type)
	}
	if !a.Allow {
		base++
	}
	return base, nil
}

func (a PreferenceAction) Marshal() ([]byte, error) {
	num, err := a.fieldNum()
	if err != nil {
		return nil, err
	}
	var inner pbwire.Encoder
	inner.RepeatedString(1, a.Values)
	var e pbwire.Encoder
	e.Message(protowire.Number(num), inner.Data())
	return e.Data(), nil
}

func UnmarshalPreferenceAction(b []byte) (PreferenceAction, error) {
	var out PreferenceAction
	found := false
	err := pbwire.Parse(b, func(f pbwire.Field) error {
		if f.Num < 1 || f.Num > 6 {
			return nil
		}
		found = true
		switch (f.Num + 1) / 2 {
		case 1:
			out.Type = EntryAddress
		case 2:
			out.Type = EntryConversationID
		case 3:
			out.Type = EntryInboxID
		}
		out.Allow = f.Num%2 == 1
		return pbwire.Parse(f.Bytes, func(g pbwire.Field) error {
			if g.Num == 1 {
				out.Values = append(out.Values, string(g.Bytes))
			}
			return nil
		})
	})
	if err != nil {
		return PreferenceAction{}, fmt.Errorf("%w: preference action: %v", ErrMalformedEnvelope, err)
	}
	if !found {
		return PreferenceAction{}, fmt.Errorf("%w: empty preference action", ErrMalformedEnvelope)
	}
	return out, nil
}
