package msgclient

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	cryptocore "xmtp-legacy/services/crypto-core"
	"xmtp-legacy/services/messages/pkg/envelope"
)

const (
	syncKeyInvites = "invites"
	listPageSize   = 100

	// inviteClockSkew widens incremental listing, since invite timestamps come
	// from the sender's clock.
	inviteClockSkew = time.Minute
)

// Conversations lists, creates and streams the client's conversations.
type Conversations struct {
	client *Client

	mu    sync.Mutex
	known map[string]Conversation
}

func newConversations(c *Client) *Conversations {
	return &Conversations{client: c, known: make(map[string]Conversation)}
}

func (cs *Conversations) loadCache() error {
	items, err := cs.client.cache.All()
	if err != nil {
		return err
	}
	for _, td := range items {
		if _, err := cs.add(td, false); err != nil {
			cs.client.logger.Warn("skipping cached topic", "topic", td.Topic, "error", err)
		}
	}
	return nil
}

// NewConversation returns the conversation with peer for convCtx, creating
// and announcing it when none is known. Peers that only published a legacy
// bundle get a V1 conversation unless a context is given.
func (cs *Conversations) NewConversation(ctx context.Context, peerAddress string, convCtx *envelope.InvitationContext) (Conversation, error) {
	peer, err := envelope.NormalizeAddress(peerAddress)
	if err != nil {
		return nil, err
	}
	if strings.EqualFold(peer, cs.client.address) {
		return nil, ErrSelfConversation
	}
	convID := ""
	if convCtx != nil {
		convID = convCtx.ConversationID
	}
	if existing := cs.findByPeer(peer, convID); existing != nil {
		return existing, nil
	}

	contact, err := cs.client.contacts.Find(ctx, peer)
	if err != nil {
		return nil, err
	}
	now := cs.client.now()

	if contact.V2 == nil && convCtx == nil {
		topic, err := envelope.DirectMessageV1(cs.client.address, peer)
		if err != nil {
			return nil, err
		}
		return cs.add(TopicData{
			Topic:       topic,
			Version:     VersionV1,
			PeerAddress: peer,
			CreatedNs:   uint64(now.UnixNano()),
		}, true)
	}

	recipient, err := contact.SignedBundle()
	if err != nil {
		return nil, err
	}
	inv, err := envelope.CreateDeterministicInvitation(cs.client.v2, recipient, convCtx)
	if err != nil {
		return nil, err
	}
	sealed, err := envelope.SealInvitation(cs.client.v2, recipient, now, inv)
	if err != nil {
		return nil, err
	}
	sealedBytes := sealed.Marshal()
	var envs []envelope.Envelope
	for _, addr := range []string{peer, cs.client.address} {
		topic, err := envelope.UserInvite(addr)
		if err != nil {
			return nil, err
		}
		envs = append(envs, envelope.NewEnvelope(topic, now, sealedBytes))
	}
	if _, err := cs.client.publish(ctx, envs...); err != nil {
		return nil, fmt.Errorf("publish invitation: %w", err)
	}
	return cs.add(topicDataFromInvitation(inv, peer, uint64(now.UnixNano())), true)
}

func topicDataFromInvitation(inv *envelope.InvitationV1, peer string, createdNs uint64) TopicData {
	td := TopicData{
		Topic:       inv.Topic,
		Version:     VersionV2,
		PeerAddress: peer,
		CreatedNs:   createdNs,
		KeyMaterial: inv.KeyMaterial,
	}
	if inv.Context != nil {
		td.ConversationID = inv.Context.ConversationID
		td.Metadata = inv.Context.Metadata
	}
	return td
}

func (cs *Conversations) findByPeer(peer, convID string) Conversation {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	for _, c := range cs.known {
		if strings.EqualFold(c.PeerAddress(), peer) && c.ConversationID() == convID {
			if convID == "" && c.Version() == VersionV1 {
				// A V1 conversation is only reused when the peer has no V2 bundle.
				continue
			}
			return c
		}
	}
	return nil
}

// List merges cached conversations with any found on the client's invite and
// intro topics since the last sync. Invitations that cannot be opened and
// conversations with oneself are skipped.
func (cs *Conversations) List(ctx context.Context) ([]Conversation, error) {
	since, err := cs.client.cache.LastSync(syncKeyInvites)
	if err != nil {
		return nil, err
	}
	started := cs.client.now()

	inviteTopic, err := envelope.UserInvite(cs.client.address)
	if err != nil {
		return nil, err
	}
	introTopic, err := envelope.UserIntro(cs.client.address)
	if err != nil {
		return nil, err
	}
	reqs := make([]envelope.QueryRequest, 0, 2)
	for _, t := range []string{inviteTopic, introTopic} {
		req := envelope.QueryRequest{
			ContentTopics: []string{t},
			PagingInfo:    envelope.PagingInfo{Limit: listPageSize, Direction: envelope.SortAscending},
		}
		if !since.IsZero() {
			req.StartTimeNs = uint64(since.Add(-inviteClockSkew).UnixNano())
		}
		reqs = append(reqs, req)
	}
	pages, err := batchQueryAll(ctx, cs.client.api, reqs)
	if err != nil {
		return nil, err
	}

	for _, env := range pages[0] {
		if _, err := cs.fromInvite(env); err != nil {
			cs.client.logger.Debug("skipping invitation", "error", err)
		}
	}
	for _, env := range pages[1] {
		if _, err := cs.fromIntro(env); err != nil {
			cs.client.logger.Debug("skipping intro", "error", err)
		}
	}
	if err := cs.client.cache.SetLastSync(syncKeyInvites, started); err != nil {
		cs.client.logger.Warn("could not record invite sync", "error", err)
	}
	return cs.All(), nil
}

// All returns the known conversations, oldest first.
func (cs *Conversations) All() []Conversation {
	cs.mu.Lock()
	out := make([]Conversation, 0, len(cs.known))
	for _, c := range cs.known {
		out = append(out, c)
	}
	cs.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt().Equal(out[j].CreatedAt()) {
			return out[i].Topic() < out[j].Topic()
		}
		return out[i].CreatedAt().Before(out[j].CreatedAt())
	})
	return out
}

// Stream delivers conversations that appear on the invite and intro topics
// after the call. Already known topics are not repeated.
func (cs *Conversations) Stream(ctx context.Context) (<-chan Conversation, error) {
	inviteTopic, err := envelope.UserInvite(cs.client.address)
	if err != nil {
		return nil, err
	}
	introTopic, err := envelope.UserIntro(cs.client.address)
	if err != nil {
		return nil, err
	}
	envs, err := cs.client.api.Subscribe(ctx, []string{inviteTopic, introTopic})
	if err != nil {
		return nil, err
	}
	out := make(chan Conversation)
	go func() {
		defer close(out)
		for env := range envs {
			var (
				conv Conversation
				err  error
			)
			if env.ContentTopic == inviteTopic {
				conv, err = cs.fromInvite(env)
			} else {
				conv, err = cs.fromIntro(env)
			}
			if err != nil {
				cs.client.logger.Debug("skipping streamed conversation", "topic", env.ContentTopic, "error", err)
				continue
			}
			if conv == nil {
				continue
			}
			select {
			case out <- conv:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// fromInvite opens a sealed invitation. It returns nil when the topic was
// already known.
func (cs *Conversations) fromInvite(env envelope.Envelope) (Conversation, error) {
	sealed, err := envelope.UnmarshalSealedInvitation(env.Message)
	if err != nil {
		return nil, err
	}
	inv, err := sealed.Open(cs.client.v2)
	if err != nil {
		return nil, err
	}
	header := sealed.Header()
	peerBundle := header.Sender
	if header.Sender.IdentityKey.Equal(cs.client.v2.IdentityKey.PublicKey) {
		peerBundle = header.Recipient
	}
	peer, err := peerBundle.WalletAddress()
	if err != nil {
		return nil, err
	}
	if strings.EqualFold(peer, cs.client.address) {
		return nil, ErrSelfConversation
	}
	if cs.has(inv.Topic) {
		return nil, nil
	}
	return cs.add(topicDataFromInvitation(inv, peer, header.CreatedNs), true)
}

func (cs *Conversations) fromIntro(env envelope.Envelope) (Conversation, error) {
	msg, err := envelope.UnmarshalMessage(env.Message)
	if err != nil {
		return nil, err
	}
	if msg.V1 == nil {
		return nil, fmt.Errorf("%w: intro is not a v1 message", envelope.ErrMalformedEnvelope)
	}
	if _, err := msg.V1.Decrypt(cs.client.v1); err != nil {
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
	peer := sender
	if strings.EqualFold(sender, cs.client.address) {
		peer = recipient
	}
	if strings.EqualFold(peer, cs.client.address) {
		return nil, ErrSelfConversation
	}
	topic, err := envelope.DirectMessageV1(cs.client.address, peer)
	if err != nil {
		return nil, err
	}
	if cs.has(topic) {
		return nil, nil
	}
	cs.client.contacts.MarkIntroduced(peer)
	return cs.add(TopicData{
		Topic:       topic,
		Version:     VersionV1,
		PeerAddress: peer,
		CreatedNs:   uint64(msg.V1.Sent().UnixNano()),
	}, true)
}

func (cs *Conversations) has(topic string) bool {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	_, ok := cs.known[topic]
	return ok
}

// add registers td, keeping the existing conversation on a topic collision.
func (cs *Conversations) add(td TopicData, persist bool) (Conversation, error) {
	var conv Conversation
	base := conversationBase{client: cs.client, data: td}
	switch td.Version {
	case VersionV1:
		conv = &ConversationV1{conversationBase: base}
	case VersionV2:
		if len(td.KeyMaterial) != cryptocore.KeySize {
			return nil, fmt.Errorf("%w: topic %s has no key material", envelope.ErrInvalidInvitation, td.Topic)
		}
		conv = &ConversationV2{conversationBase: base}
	default:
		return nil, fmt.Errorf("msgclient: unknown conversation version %q", td.Version)
	}
	if !envelope.IsValidTopic(td.Topic) {
		return nil, fmt.Errorf("msgclient: invalid topic %q", td.Topic)
	}

	cs.mu.Lock()
	if existing, ok := cs.known[td.Topic]; ok {
		cs.mu.Unlock()
		return existing, nil
	}
	cs.known[td.Topic] = conv
	cs.mu.Unlock()

	if persist {
		if err := cs.client.cache.Put(td); err != nil {
			cs.client.logger.Warn("could not cache topic", "topic", td.Topic, "error", err)
		}
	}
	return conv, nil
}

// ImportTopicData restores a conversation exported from another device.
func (cs *Conversations) ImportTopicData(td TopicData) (Conversation, error) {
	return cs.add(td, true)
}

func (cs *Conversations) ExportTopicData() []TopicData {
	all := cs.All()
	out := make([]TopicData, 0, len(all))
	for _, c := range all {
		out = append(out, c.TopicData())
	}
	return out
}

// HmacKeys returns, for every known V2 conversation topic, the push HMAC keys
// for the periods before, containing and after now.
func (cs *Conversations) HmacKeys(now time.Time) (map[string][]cryptocore.HmacKeyPeriod, error) {
	out := make(map[string][]cryptocore.HmacKeyPeriod)
	for _, c := range cs.All() {
		v2, ok := c.(*ConversationV2)
		if !ok {
			continue
		}
		keys, err := v2.HmacKeys(now)
		if err != nil {
			return nil, fmt.Errorf("hmac keys for %s: %w", v2.Topic(), err)
		}
		out[v2.Topic()] = keys
	}
	return out, nil
}

// batchQueryAll issues one batch query and then follows each response's
// cursor until every request is exhausted.
func batchQueryAll(ctx context.Context, api API, reqs []envelope.QueryRequest) ([][]envelope.Envelope, error) {
	resps, err := api.BatchQuery(ctx, reqs)
	if err != nil {
		return nil, err
	}
	if len(resps) != len(reqs) {
		return nil, fmt.Errorf("batch query: got %d responses for %d requests", len(resps), len(reqs))
	}
	out := make([][]envelope.Envelope, len(reqs))
	for i, resp := range resps {
		out[i] = append(out[i], resp.Envelopes...)
		if resp.PagingInfo.Cursor == nil || len(resp.Envelopes) == 0 {
			continue
		}
		next := reqs[i]
		next.PagingInfo.Cursor = resp.PagingInfo.Cursor
		err := queryAll(ctx, api, next, func(page []envelope.Envelope) error {
			out[i] = append(out[i], page...)
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}
