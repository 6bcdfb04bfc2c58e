package msgclient

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"xmtp-legacy/services/messages/pkg/envelope"
)

type memDirectory struct {
	mu      sync.Mutex
	bundles map[string]envelope.ContactBundle
	lookups int
}

func (d *memDirectory) PublishContact(_ context.Context, b envelope.ContactBundle) error {
	addr, err := b.WalletAddress()
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.bundles == nil {
		d.bundles = make(map[string]envelope.ContactBundle)
	}
	d.bundles[addr] = b
	return nil
}

func (d *memDirectory) LookupContact(_ context.Context, address string) (*envelope.ContactBundle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lookups++
	b, ok := d.bundles[address]
	if !ok {
		return nil, ErrContactNotFound
	}
	return &b, nil
}

func TestCreatePublishesContact(t *testing.T) {
	ctx := context.Background()
	api := newMemAPI()
	dir := &memDirectory{}
	alice, err := Create(ctx, newWallet(t), ClientOptions{API: api, Directory: dir})
	require.NoError(t, err)
	defer alice.Close()

	topic, err := envelope.ContactTopic(alice.Address())
	require.NoError(t, err)
	require.Len(t, api.onTopic(topic), 1)
	require.Contains(t, dir.bundles, alice.Address())

	bob, err := Create(ctx, newWallet(t), ClientOptions{API: api, Directory: dir})
	require.NoError(t, err)
	defer bob.Close()

	found, err := bob.Contacts().Find(ctx, alice.Address())
	require.NoError(t, err)
	wallet, err := found.WalletAddress()
	require.NoError(t, err)
	require.Equal(t, alice.Address(), wallet)
	require.True(t, bob.Contacts().Has(alice.Address()))

	_, err = bob.Contacts().Find(ctx, alice.Address())
	require.NoError(t, err)
	require.Equal(t, 1, dir.lookups)
}

func TestFindRejectsBundleForOtherWallet(t *testing.T) {
	ctx := context.Background()
	api := newMemAPI()
	alice := newTestClient(t, api)
	mallory := newTestClient(t, api)

	// mallory republishes her bundle on alice's contact topic
	topic, err := envelope.ContactTopic(alice.Address())
	require.NoError(t, err)
	_, err = api.Publish(ctx, []envelope.Envelope{
		envelope.NewEnvelope(topic, time.Now().Add(time.Second), mallory.ContactBundle().Marshal()),
	})
	require.NoError(t, err)

	bob := newTestClient(t, api)
	found, err := bob.Contacts().Find(ctx, alice.Address())
	require.NoError(t, err)
	wallet, err := found.WalletAddress()
	require.NoError(t, err)
	require.Equal(t, alice.Address(), wallet)
}

func TestAuthTokenIsCachedUntilHalfLife(t *testing.T) {
	api := newMemAPI()
	now := time.Now()
	clock := func() time.Time { return now }
	alice, err := Create(context.Background(), newWallet(t), ClientOptions{API: api, Now: clock, TokenTTL: time.Hour})
	require.NoError(t, err)
	defer alice.Close()

	first, err := alice.AuthToken(context.Background())
	require.NoError(t, err)
	now = now.Add(10 * time.Minute)
	second, err := alice.AuthToken(context.Background())
	require.NoError(t, err)
	require.Equal(t, first, second)

	now = now.Add(25 * time.Minute)
	third, err := alice.AuthToken(context.Background())
	require.NoError(t, err)
	require.NotEqual(t, first, third)

	tok, err := envelope.ParseAuthToken(third)
	require.NoError(t, err)
	data, err := tok.Verify(now, time.Hour)
	require.NoError(t, err)
	require.Equal(t, alice.Address(), data.WalletAddr)
}

func TestStateFileRoundTrip(t *testing.T) {
	api := newMemAPI()
	alice := newTestClient(t, api)
	path := filepath.Join(t.TempDir(), "nested", "state.json")

	state, err := NewStateFile(alice.Bundle(), "http://localhost:8084/", "http://localhost:8082")
	require.NoError(t, err)
	require.Equal(t, "http://localhost:8084", state.MessagesBaseURL)
	require.NoError(t, state.Save(path))

	loaded, err := LoadStateFile(path)
	require.NoError(t, err)
	require.Equal(t, alice.Address(), loaded.Address)
	bundle, err := loaded.KeyBundle()
	require.NoError(t, err)
	restored, err := FromBundle(bundle, ClientOptions{API: api})
	require.NoError(t, err)
	defer restored.Close()
	require.Equal(t, alice.Address(), restored.Address())
	require.Equal(t, alice.Contacts().Consent().Topic(), restored.Contacts().Consent().Topic())

	loaded.Address = newWallet(t).Address()
	_, err = loaded.KeyBundle()
	require.Error(t, err)
}

func TestFromBundleRequiresAPI(t *testing.T) {
	alice := newTestClient(t, newMemAPI())
	_, err := FromBundle(alice.Bundle(), ClientOptions{})
	require.Error(t, err)
	_, err = FromBundle(nil, ClientOptions{API: newMemAPI()})
	require.ErrorIs(t, err, ErrNoKeys)
}
