package msgclient

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"xmtp-legacy/services/messages/pkg/envelope"
)

func TestTopicCachePersists(t *testing.T) {
	dir := t.TempDir()
	cache, err := OpenTopicCache(dir)
	require.NoError(t, err)

	td := TopicData{
		Topic:       envelope.DirectMessageV2("abc"),
		Version:     VersionV2,
		PeerAddress: "0x00000000000000000000000000000000000000aa",
		CreatedNs:   42,
		KeyMaterial: make([]byte, 32),
	}
	require.NoError(t, cache.Put(td))
	synced := time.Unix(1_700_000_000, 123)
	require.NoError(t, cache.SetLastSync("invites", synced))
	require.NoError(t, cache.Close())

	cache, err = OpenTopicCache(dir)
	require.NoError(t, err)
	defer cache.Close()

	got, ok, err := cache.Get(td.Topic)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, td, got)

	_, ok, err = cache.Get(envelope.DirectMessageV2("missing"))
	require.NoError(t, err)
	require.False(t, ok)

	all, err := cache.All()
	require.NoError(t, err)
	require.Len(t, all, 1)

	last, err := cache.LastSync("invites")
	require.NoError(t, err)
	require.True(t, synced.Equal(last))

	never, err := cache.LastSync("other")
	require.NoError(t, err)
	require.True(t, never.IsZero())
}
