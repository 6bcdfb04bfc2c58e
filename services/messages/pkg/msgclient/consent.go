package msgclient

import (
	"context"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"
	"time"

	cryptocore "xmtp-legacy/services/crypto-core"
	"xmtp-legacy/services/messages/pkg/envelope"
)

type ConsentState string

const (
	ConsentAllowed ConsentState = "ALLOWED"
	ConsentDenied  ConsentState = "DENIED"
	ConsentUnknown ConsentState = "UNKNOWN"
)

const (
	preferencesTopicLabel = "xmtp-private-preferences"
	preferencesKeyLabel   = "xmtp-private-preferences-key"
	consentPageSize       = 100
)

// ConsentEntry is the state of one (type, value) key. Sequence is the server
// sequence of the action that set it, zero for unconfirmed local writes.
type ConsentEntry struct {
	Type     envelope.EntryType
	Value    string
	State    ConsentState
	Sequence uint64
}

func (e ConsentEntry) Key() string { return string(e.Type) + "-" + e.Value }

type pendingEntry struct {
	entry ConsentEntry
	write uint64
}

// ConsentList merges optimistic local writes with the consent log held on the
// user's private preference topic. Remote entries resolve last-writer-wins by
// server sequence; a pending local write shadows any remote entry for its key
// until the write is confirmed.
type ConsentList struct {
	client *Client

	// publishMu orders publishes so server sequence follows write order.
	publishMu sync.Mutex

	mu       sync.Mutex
	entries  map[string]ConsentEntry
	pending  map[string]pendingEntry
	writeSeq uint64
	lastLoad time.Time
}

func newConsentList(c *Client) *ConsentList {
	return &ConsentList{
		client:  c,
		entries: make(map[string]ConsentEntry),
		pending: make(map[string]pendingEntry),
	}
}

// Topic is the private preference topic. Its identifier is an HMAC of the
// identity key so only the owner can locate it.
func (l *ConsentList) Topic() string {
	id := cryptocore.CalculateMac(l.client.v1.IdentityKey.Secp256k1, []byte(preferencesTopicLabel))
	return envelope.PreferenceList(hex.EncodeToString(id))
}

func (l *ConsentList) actionKey() ([]byte, error) {
	return cryptocore.DeriveKey(l.client.v1.IdentityKey.Secp256k1, nil, []byte(preferencesKeyLabel), cryptocore.KeySize)
}

// Load fetches every action newer than since (all history when since is zero)
// and merges them. Nothing is applied unless the final page is reached.
func (l *ConsentList) Load(ctx context.Context, since time.Time) error {
	req := envelope.QueryRequest{
		ContentTopics: []string{l.Topic()},
		PagingInfo:    envelope.PagingInfo{Limit: consentPageSize, Direction: envelope.SortAscending},
	}
	if !since.IsZero() {
		req.StartTimeNs = uint64(since.UnixNano())
	}
	var collected []envelope.Envelope
	err := queryAll(ctx, l.client.api, req, func(page []envelope.Envelope) error {
		collected = append(collected, page...)
		return nil
	})
	if err != nil {
		return fmt.Errorf("load consent: %w", err)
	}

	key, err := l.actionKey()
	if err != nil {
		return err
	}
	sort.SliceStable(collected, func(i, j int) bool { return collected[i].Sequence < collected[j].Sequence })
	var remote []ConsentEntry
	for _, env := range collected {
		action, err := decryptAction(key, env.Message)
		if err != nil {
			l.client.logger.Warn("skipping unreadable consent action", "sequence", env.Sequence, "error", err)
			continue
		}
		remote = append(remote, entriesFor(action, env.Sequence)...)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range remote {
		l.mergeLocked(e)
	}
	l.lastLoad = l.client.now()
	return nil
}

// LastLoad is when Load last completed.
func (l *ConsentList) LastLoad() time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.lastLoad
}

func (l *ConsentList) Allow(ctx context.Context, typ envelope.EntryType, values ...string) error {
	return l.set(ctx, typ, ConsentAllowed, values)
}

func (l *ConsentList) Deny(ctx context.Context, typ envelope.EntryType, values ...string) error {
	return l.set(ctx, typ, ConsentDenied, values)
}

// set applies the write locally, then publishes it. A publish error is
// returned and the write stays pending for FlushPending.
func (l *ConsentList) set(ctx context.Context, typ envelope.EntryType, state ConsentState, values []string) error {
	normalized, err := normalizeValues(typ, values)
	if err != nil {
		return err
	}
	if len(normalized) == 0 {
		return nil
	}
	l.mu.Lock()
	l.writeSeq++
	write := l.writeSeq
	for _, v := range normalized {
		e := ConsentEntry{Type: typ, Value: v, State: state}
		l.pending[e.Key()] = pendingEntry{entry: e, write: write}
	}
	l.mu.Unlock()

	return l.sync(ctx, typ, state, normalized, write)
}

func (l *ConsentList) sync(ctx context.Context, typ envelope.EntryType, state ConsentState, values []string, write uint64) error {
	l.publishMu.Lock()
	defer l.publishMu.Unlock()

	// A later local write to the same key must not be overtaken by this one.
	l.mu.Lock()
	current := make([]string, 0, len(values))
	for _, v := range values {
		key := ConsentEntry{Type: typ, Value: v}.Key()
		if p, ok := l.pending[key]; ok && p.write == write {
			current = append(current, v)
		}
	}
	l.mu.Unlock()
	if len(current) == 0 {
		return nil
	}

	action := envelope.PreferenceAction{Allow: state == ConsentAllowed, Type: typ, Values: current}
	published, err := l.publish(ctx, action)
	if err != nil {
		l.client.logger.Warn("consent sync failed", "type", typ, "state", state, "error", err)
		return fmt.Errorf("consent sync: %w", err)
	}
	var seq uint64
	if len(published) > 0 {
		seq = published[0].Sequence
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range entriesFor(action, seq) {
		l.mergeLocked(e)
		if p, ok := l.pending[e.Key()]; ok && p.write == write {
			delete(l.pending, e.Key())
		}
	}
	return nil
}

// FlushPending republishes local writes that have not been confirmed.
func (l *ConsentList) FlushPending(ctx context.Context) error {
	type group struct {
		typ   envelope.EntryType
		state ConsentState
		write uint64
	}
	l.mu.Lock()
	groups := make(map[group][]string)
	for _, p := range l.pending {
		g := group{typ: p.entry.Type, state: p.entry.State, write: p.write}
		groups[g] = append(groups[g], p.entry.Value)
	}
	l.mu.Unlock()

	keys := make([]group, 0, len(groups))
	for g := range groups {
		keys = append(keys, g)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].write < keys[j].write })
	for _, g := range keys {
		values := groups[g]
		sort.Strings(values)
		if err := l.sync(ctx, g.typ, g.state, values, g.write); err != nil {
			return err
		}
	}
	return nil
}

// PendingCount is the number of keys with unconfirmed local writes.
func (l *ConsentList) PendingCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pending)
}

func (l *ConsentList) publish(ctx context.Context, action envelope.PreferenceAction) ([]envelope.Envelope, error) {
	plaintext, err := action.Marshal()
	if err != nil {
		return nil, err
	}
	key, err := l.actionKey()
	if err != nil {
		return nil, err
	}
	ct, err := cryptocore.Encrypt(key, plaintext, nil)
	if err != nil {
		return nil, err
	}
	return l.client.publish(ctx, envelope.NewEnvelope(l.Topic(), l.client.now(), ct.Marshal()))
}

func (l *ConsentList) mergeLocked(e ConsentEntry) {
	if cur, ok := l.entries[e.Key()]; ok && cur.Sequence > e.Sequence {
		return
	}
	l.entries[e.Key()] = e
}

func (l *ConsentList) State(typ envelope.EntryType, value string) ConsentState {
	values, err := normalizeValues(typ, []string{value})
	if err != nil || len(values) == 0 {
		return ConsentUnknown
	}
	key := ConsentEntry{Type: typ, Value: values[0]}.Key()
	l.mu.Lock()
	defer l.mu.Unlock()
	if p, ok := l.pending[key]; ok {
		return p.entry.State
	}
	if e, ok := l.entries[key]; ok {
		return e.State
	}
	return ConsentUnknown
}

func (l *ConsentList) IsAllowed(typ envelope.EntryType, value string) bool {
	return l.State(typ, value) == ConsentAllowed
}

func (l *ConsentList) IsDenied(typ envelope.EntryType, value string) bool {
	return l.State(typ, value) == ConsentDenied
}

// Entries returns the effective state of every known key, sorted by key.
func (l *ConsentList) Entries() []ConsentEntry {
	l.mu.Lock()
	merged := make(map[string]ConsentEntry, len(l.entries)+len(l.pending))
	for k, e := range l.entries {
		merged[k] = e
	}
	for k, p := range l.pending {
		merged[k] = p.entry
	}
	l.mu.Unlock()

	out := make([]ConsentEntry, 0, len(merged))
	for _, e := range merged {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key() < out[j].Key() })
	return out
}

func decryptAction(key, message []byte) (envelope.PreferenceAction, error) {
	ct, err := cryptocore.UnmarshalCiphertext(message)
	if err != nil {
		return envelope.PreferenceAction{}, err
	}
	plaintext, err := cryptocore.Decrypt(key, ct, nil)
	if err != nil {
		return envelope.PreferenceAction{}, err
	}
	return envelope.UnmarshalPreferenceAction(plaintext)
}

func entriesFor(action envelope.PreferenceAction, seq uint64) []ConsentEntry {
	state := ConsentDenied
	if action.Allow {
		state = ConsentAllowed
	}
	out := make([]ConsentEntry, 0, len(action.Values))
	for _, v := range action.Values {
		if action.Type == envelope.EntryAddress {
			if norm, err := envelope.NormalizeAddress(v); err == nil {
				v = norm
			}
		}
		out = append(out, ConsentEntry{Type: action.Type, Value: v, State: state, Sequence: seq})
	}
	return out
}

func normalizeValues(typ envelope.EntryType, values []string) ([]string, error) {
	out := make([]string, 0, len(values))
	for _, v := range values {
		switch typ {
		case envelope.EntryAddress:
			norm, err := envelope.NormalizeAddress(v)
			if err != nil {
				return nil, err
			}
			out = append(out, norm)
		case envelope.EntryConversationID, envelope.EntryInboxID:
			if v == "" {
				continue
			}
			out = append(out, v)
		default:
			return nil, fmt.Errorf("msgclient: unknown consent entry type %q", typ)
		}
	}
	return out, nil
}
