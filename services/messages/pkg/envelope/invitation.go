package envelope

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"xmtp-legacy/internal/pbwire"
	cryptocore "xmtp-legacy/services/crypto-core"
)

const invitationSalt = "__XMTP__INVITATION__SALT__XMTP__"

// InvitationContext scopes a conversation. Two parties may hold several
// conversations distinguished by ConversationID.
type InvitationContext struct {
	ConversationID string
	Metadata       map[string]string
}

// InvitationV1 carries the topic and key material of a V2 conversation.
type InvitationV1 struct {
	Topic       string
	Context     *InvitationContext
	KeyMaterial []byte
}

func (i *InvitationV1) ConversationID() string {
	if i.Context == nil {
		return ""
	}
	return i.Context.ConversationID
}

// CreateRandomInvitation picks a random topic and random key material.
func CreateRandomInvitation(ctx *InvitationContext) (*InvitationV1, error) {
	raw, err := cryptocore.RandomBytes(32)
	if err != nil {
		return nil, err
	}
	topicID := strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			return r
		}
		return -1
	}, base64.StdEncoding.EncodeToString(raw))
	keyMaterial, err := cryptocore.RandomBytes(32)
	if err != nil {
		return nil, err
	}
	return &InvitationV1{Topic: DirectMessageV2(topicID), Context: ctx, KeyMaterial: keyMaterial}, nil
}

// CreateDeterministicInvitation derives topic and key material from the 3-DH
// secret between sender and recipient, so both sides compute the same
// invitation for the same context without exchanging anything.
func CreateDeterministicInvitation(sender *cryptocore.PrivateKeyBundleV2, recipient cryptocore.SignedPublicKeyBundle, ctx *InvitationContext) (*InvitationV1, error) {
	if err := recipient.Verify(); err != nil {
		return nil, fmt.Errorf("%w: recipient: %w", ErrInvalidContactBundle, err)
	}
	myAddr, err := sender.WalletAddress()
	if err != nil {
		return nil, err
	}
	theirAddr, err := recipient.WalletAddress()
	if err != nil {
		return nil, err
	}
	pre, err := sender.CurrentPreKey()
	if err != nil {
		return nil, err
	}
	secret, err := sender.SharedSecret(recipient, pre.PublicKey, myAddr < theirAddr)
	if err != nil {
		return nil, err
	}

	addrs := []string{myAddr, theirAddr}
	sort.Strings(addrs)
	convID := ""
	if ctx != nil {
		convID = ctx.ConversationID
	}
	topicID := hex.EncodeToString(cryptocore.CalculateMac(secret, []byte(convID+strings.Join(addrs, ","))))
	keyMaterial, err := cryptocore.DeriveKey(secret, []byte(invitationSalt), []byte("0|"+strings.Join(addrs, "|")), cryptocore.KeySize)
	if err != nil {
		return nil, err
	}
	return &InvitationV1{Topic: DirectMessageV2(topicID), Context: ctx, KeyMaterial: keyMaterial}, nil
}

func (i *InvitationV1) Marshal() []byte {
	var e pbwire.Encoder
	e.String(1, i.Topic)
	if i.Context != nil {
		var c pbwire.Encoder
		c.String(1, i.Context.ConversationID)
		c.StringMap(2, i.Context.Metadata)
		e.Message(2, c.Data())
	}
	var aes pbwire.Encoder
	aes.Bytes(1, i.KeyMaterial)
	e.Message(3, aes.Data())
	return e.Data()
}

// UnmarshalInvitationV1 rejects invitations without a valid topic or with key
// material of the wrong size.
func UnmarshalInvitationV1(b []byte) (*InvitationV1, error) {
	inv := &InvitationV1{}
	err := pbwire.Parse(b, func(f pbwire.Field) error {
		switch f.Num {
		case 1:
			inv.Topic = string(f.Bytes)
		case 2:
			ctx := &InvitationContext{}
			err := pbwire.Parse(f.Bytes, func(g pbwire.Field) error {
				switch g.Num {
				case 1:
					ctx.ConversationID = string(g.Bytes)
				case 2:
					k, v, err := pbwire.ParseMapEntry(g.Bytes)
					if err != nil {
						return err
					}
					if ctx.Metadata == nil {
						ctx.Metadata = map[string]string{}
					}
					ctx.Metadata[k] = v
				}
				return nil
			})
			if err != nil {
				return err
			}
			inv.Context = ctx
		case 3:
			return pbwire.Parse(f.Bytes, func(g pbwire.Field) error {
				if g.Num == 1 {
					inv.KeyMaterial = g.Bytes
				}
				return nil
			})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInvitation, err)
	}
	if !IsValidTopic(inv.Topic) {
		return nil, fmt.Errorf("%w: bad topic %q", ErrInvalidInvitation, inv.Topic)
	}
	if len(inv.KeyMaterial) != cryptocore.KeySize {
		return nil, fmt.Errorf("%w: key material must be %d bytes", ErrInvalidInvitation, cryptocore.KeySize)
	}
	return inv, nil
}
