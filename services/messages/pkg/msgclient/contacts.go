package msgclient

import (
	"context"
	"errors"
	"strings"
	"sync"

	"xmtp-legacy/services/messages/pkg/envelope"
)

// Contacts resolves peer bundles and tracks consent by address.
type Contacts struct {
	client *Client

	mu         sync.Mutex
	known      map[string]envelope.ContactBundle
	introduced map[string]bool
	consent    *ConsentList
}

func newContacts(c *Client) *Contacts {
	return &Contacts{
		client:     c,
		known:      make(map[string]envelope.ContactBundle),
		introduced: make(map[string]bool),
		consent:    newConsentList(c),
	}
}

// Find returns the newest valid contact bundle signed by address's wallet.
// The directory is consulted before the contact topic.
func (ct *Contacts) Find(ctx context.Context, address string) (envelope.ContactBundle, error) {
	addr, err := envelope.NormalizeAddress(address)
	if err != nil {
		return envelope.ContactBundle{}, err
	}
	ct.mu.Lock()
	cached, ok := ct.known[addr]
	ct.mu.Unlock()
	if ok {
		return cached, nil
	}

	if dir := ct.client.directory; dir != nil {
		b, err := dir.LookupContact(ctx, addr)
		switch {
		case err == nil && ct.accept(*b, addr):
			ct.remember(addr, *b)
			return *b, nil
		case err != nil && !errors.Is(err, ErrContactNotFound):
			ct.client.logger.Warn("contact directory lookup failed", "peer", addr, "error", err)
		}
	}

	topic, err := envelope.ContactTopic(addr)
	if err != nil {
		return envelope.ContactBundle{}, err
	}
	var found *envelope.ContactBundle
	req := envelope.QueryRequest{
		ContentTopics: []string{topic},
		PagingInfo:    envelope.PagingInfo{Limit: 50, Direction: envelope.SortDescending},
	}
	errFound := errors.New("found")
	err = queryAll(ctx, ct.client.api, req, func(page []envelope.Envelope) error {
		for _, env := range page {
			b, err := envelope.UnmarshalContactBundle(env.Message)
			if err != nil {
				ct.client.logger.Debug("skipping malformed contact bundle", "peer", addr, "error", err)
				continue
			}
			if ct.accept(b, addr) {
				found = &b
				return errFound
			}
		}
		return nil
	})
	if err != nil && !errors.Is(err, errFound) {
		return envelope.ContactBundle{}, err
	}
	if found == nil {
		return envelope.ContactBundle{}, ErrContactNotFound
	}
	ct.remember(addr, *found)
	return *found, nil
}

func (ct *Contacts) accept(b envelope.ContactBundle, addr string) bool {
	if err := b.Verify(); err != nil {
		return false
	}
	wallet, err := b.WalletAddress()
	return err == nil && strings.EqualFold(wallet, addr)
}

func (ct *Contacts) remember(addr string, b envelope.ContactBundle) {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	ct.known[addr] = b
}

// Has reports whether a bundle for address is already cached.
func (ct *Contacts) Has(address string) bool {
	addr, err := envelope.NormalizeAddress(address)
	if err != nil {
		return false
	}
	ct.mu.Lock()
	defer ct.mu.Unlock()
	_, ok := ct.known[addr]
	return ok
}

// NeedsIntroduction is true until the first V1 message to address is sent.
func (ct *Contacts) NeedsIntroduction(address string) bool {
	addr, err := envelope.NormalizeAddress(address)
	if err != nil {
		return false
	}
	ct.mu.Lock()
	defer ct.mu.Unlock()
	return !ct.introduced[addr]
}

func (ct *Contacts) MarkIntroduced(address string) {
	addr, err := envelope.NormalizeAddress(address)
	if err != nil {
		return
	}
	ct.mu.Lock()
	defer ct.mu.Unlock()
	ct.introduced[addr] = true
}

func (ct *Contacts) Consent() *ConsentList { return ct.consent }

func (ct *Contacts) Allow(ctx context.Context, addresses ...string) error {
	return ct.consent.Allow(ctx, envelope.EntryAddress, addresses...)
}

func (ct *Contacts) Deny(ctx context.Context, addresses ...string) error {
	return ct.consent.Deny(ctx, envelope.EntryAddress, addresses...)
}

func (ct *Contacts) IsAllowed(address string) bool {
	return ct.consent.State(envelope.EntryAddress, address) == ConsentAllowed
}

func (ct *Contacts) IsDenied(address string) bool {
	return ct.consent.State(envelope.EntryAddress, address) == ConsentDenied
}
