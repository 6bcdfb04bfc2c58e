// Package msgclient is the client SDK for the legacy XMTP V1/V2 protocol:
// key bundles, contacts, consent, conversations and push HMAC keys over a
// pluggable envelope transport.
package msgclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	cryptocore "xmtp-legacy/services/crypto-core"
	"xmtp-legacy/services/messages/pkg/envelope"
)

const defaultTokenTTL = time.Hour

type ClientOptions struct {
	API       API
	Directory ContactDirectory
	Codecs    *CodecRegistry
	// Cache holds conversation topic data. An in-memory cache is opened when
	// nil.
	Cache    *TopicCache
	Logger   *slog.Logger
	Now      func() time.Time
	TokenTTL time.Duration
}

type Client struct {
	address   string
	v1        *cryptocore.PrivateKeyBundleV1
	v2        *cryptocore.PrivateKeyBundleV2
	api       API
	directory ContactDirectory
	codecs    *CodecRegistry
	cache     *TopicCache
	ownsCache bool
	logger    *slog.Logger
	now       func() time.Time
	tokenTTL  time.Duration

	contacts      *Contacts
	conversations *Conversations

	tokenMu sync.Mutex
	token   string
	tokenAt time.Time
}

// Create generates a new key bundle authorized by wallet and publishes the
// resulting contact bundle.
func Create(ctx context.Context, wallet cryptocore.SigningKey, opts ClientOptions) (*Client, error) {
	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}
	bundle, err := cryptocore.GeneratePrivateKeyBundleV1(wallet, now())
	if err != nil {
		return nil, fmt.Errorf("generate bundle: %w", err)
	}
	c, err := FromBundle(bundle, opts)
	if err != nil {
		return nil, err
	}
	if err := c.PublishContact(ctx); err != nil {
		_ = c.Close()
		return nil, err
	}
	return c, nil
}

// FromBundle builds a client around an existing key bundle. Nothing is
// published.
func FromBundle(bundle *cryptocore.PrivateKeyBundleV1, opts ClientOptions) (*Client, error) {
	if bundle == nil {
		return nil, ErrNoKeys
	}
	if opts.API == nil {
		return nil, errors.New("msgclient: API is required")
	}
	address, err := bundle.WalletAddress()
	if err != nil {
		return nil, fmt.Errorf("bundle wallet: %w", err)
	}
	v2, err := bundle.ToV2()
	if err != nil {
		return nil, err
	}
	c := &Client{
		address:   address,
		v1:        bundle,
		v2:        v2,
		api:       opts.API,
		directory: opts.Directory,
		codecs:    opts.Codecs,
		cache:     opts.Cache,
		logger:    opts.Logger,
		now:       opts.Now,
		tokenTTL:  opts.TokenTTL,
	}
	if c.codecs == nil {
		c.codecs = DefaultCodecs()
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	c.logger = c.logger.With("address", address)
	if c.now == nil {
		c.now = time.Now
	}
	if c.tokenTTL <= 0 {
		c.tokenTTL = defaultTokenTTL
	}
	if c.cache == nil {
		cache, err := OpenTopicCache("")
		if err != nil {
			return nil, err
		}
		c.cache = cache
		c.ownsCache = true
	}
	if a, ok := c.api.(interface{ SetTokenSource(TokenSource) }); ok {
		a.SetTokenSource(c.AuthToken)
	}
	c.contacts = newContacts(c)
	c.conversations = newConversations(c)
	if err := c.conversations.loadCache(); err != nil {
		c.logger.Warn("topic cache unreadable", "error", err)
	}
	return c, nil
}

func (c *Client) Address() string { return c.address }

func (c *Client) Bundle() *cryptocore.PrivateKeyBundleV1 { return c.v1 }

func (c *Client) Codecs() *CodecRegistry { return c.codecs }

func (c *Client) Contacts() *Contacts { return c.contacts }

func (c *Client) Conversations() *Conversations { return c.conversations }

func (c *Client) Close() error {
	if c.ownsCache {
		return c.cache.Close()
	}
	return nil
}

// ContactBundle is the bundle this client publishes.
func (c *Client) ContactBundle() envelope.ContactBundle {
	signed := c.v2.PublicBundle()
	return envelope.ContactBundle{V2: &signed}
}

// PublishContact writes the contact bundle to the contact topic and, when
// configured, to the directory.
func (c *Client) PublishContact(ctx context.Context) error {
	topic, err := envelope.ContactTopic(c.address)
	if err != nil {
		return err
	}
	bundle := c.ContactBundle()
	if _, err := c.api.Publish(ctx, []envelope.Envelope{envelope.NewEnvelope(topic, c.now(), bundle.Marshal())}); err != nil {
		return fmt.Errorf("publish contact: %w", err)
	}
	if c.directory != nil {
		if err := c.directory.PublishContact(ctx, bundle); err != nil {
			return fmt.Errorf("publish contact to directory: %w", err)
		}
	}
	return nil
}

// AuthToken returns a cached network token, minting a new one once half the
// TTL has passed.
func (c *Client) AuthToken(context.Context) (string, error) {
	c.tokenMu.Lock()
	defer c.tokenMu.Unlock()
	now := c.now()
	if c.token != "" && now.Sub(c.tokenAt) < c.tokenTTL/2 {
		return c.token, nil
	}
	token, err := envelope.CreateAuthToken(c.v1, now)
	if err != nil {
		return "", err
	}
	c.token, c.tokenAt = token, now
	return token, nil
}

func (c *Client) publish(ctx context.Context, envs ...envelope.Envelope) ([]envelope.Envelope, error) {
	return c.api.Publish(ctx, envs)
}
