package msgclient

import (
	"context"
	"crypto/sha256"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	cryptocore "xmtp-legacy/services/crypto-core"
	"xmtp-legacy/services/messages/pkg/envelope"
)

// memAPI is an in-process envelope log with the same paging rules as the
// messages service.
type memAPI struct {
	mu      sync.Mutex
	seq     uint64
	envs    []envelope.Envelope
	digests map[[32]byte]uint64
	subs    []memSub

	maxPage      int
	publishErr   error
	queryCalls   int
	failQueryAt  int
	queryFailure error
}

type memSub struct {
	ctx    context.Context
	topics map[string]bool
	ch     chan envelope.Envelope
}

func newMemAPI() *memAPI {
	return &memAPI{digests: make(map[[32]byte]uint64), maxPage: 100}
}

func (m *memAPI) Publish(_ context.Context, envs []envelope.Envelope) ([]envelope.Envelope, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.publishErr != nil {
		return nil, m.publishErr
	}
	out := make([]envelope.Envelope, 0, len(envs))
	for _, env := range envs {
		digest := sha256.Sum256(append([]byte(env.ContentTopic+"\x00"), env.Message...))
		if seq, ok := m.digests[digest]; ok {
			env.Sequence = seq
			out = append(out, env)
			continue
		}
		m.seq++
		env.Sequence = m.seq
		m.digests[digest] = m.seq
		m.envs = append(m.envs, env)
		out = append(out, env)
		for _, s := range m.subs {
			if s.ctx.Err() != nil || !s.topics[env.ContentTopic] {
				continue
			}
			select {
			case s.ch <- env:
			default:
			}
		}
	}
	return out, nil
}

func (m *memAPI) Query(_ context.Context, req envelope.QueryRequest) (envelope.QueryResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queryCalls++
	if m.failQueryAt > 0 && m.queryCalls >= m.failQueryAt {
		return envelope.QueryResponse{}, m.queryFailure
	}
	topics := make(map[string]bool, len(req.ContentTopics))
	for _, t := range req.ContentTopics {
		topics[t] = true
	}
	desc := req.PagingInfo.Direction == envelope.SortDescending
	var matched []envelope.Envelope
	for _, env := range m.envs {
		if !topics[env.ContentTopic] {
			continue
		}
		if req.StartTimeNs != 0 && env.TimestampNs < req.StartTimeNs {
			continue
		}
		if req.EndTimeNs != 0 && env.TimestampNs > req.EndTimeNs {
			continue
		}
		if c := req.PagingInfo.Cursor; c != nil {
			after := env.TimestampNs > c.TimestampNs || (env.TimestampNs == c.TimestampNs && env.Sequence > c.Sequence)
			if after == desc || (env.TimestampNs == c.TimestampNs && env.Sequence == c.Sequence) {
				continue
			}
		}
		matched = append(matched, env)
	}
	sort.Slice(matched, func(i, j int) bool {
		a, b := matched[i], matched[j]
		less := a.TimestampNs < b.TimestampNs || (a.TimestampNs == b.TimestampNs && a.Sequence < b.Sequence)
		if desc {
			return !less
		}
		return less
	})
	limit := req.PagingInfo.Limit
	if limit <= 0 || limit > m.maxPage {
		limit = m.maxPage
	}
	resp := envelope.QueryResponse{PagingInfo: req.PagingInfo}
	resp.PagingInfo.Cursor = nil
	if len(matched) > limit {
		matched = matched[:limit]
		last := matched[len(matched)-1]
		resp.PagingInfo.Cursor = &envelope.Cursor{TimestampNs: last.TimestampNs, Sequence: last.Sequence}
	}
	resp.Envelopes = matched
	return resp, nil
}

func (m *memAPI) BatchQuery(ctx context.Context, reqs []envelope.QueryRequest) ([]envelope.QueryResponse, error) {
	out := make([]envelope.QueryResponse, 0, len(reqs))
	for _, req := range reqs {
		resp, err := m.Query(ctx, req)
		if err != nil {
			return nil, err
		}
		out = append(out, resp)
	}
	return out, nil
}

func (m *memAPI) Subscribe(ctx context.Context, topics []string) (<-chan envelope.Envelope, error) {
	set := make(map[string]bool, len(topics))
	for _, t := range topics {
		set[t] = true
	}
	ch := make(chan envelope.Envelope, 64)
	m.mu.Lock()
	m.subs = append(m.subs, memSub{ctx: ctx, topics: set, ch: ch})
	m.mu.Unlock()
	go func() {
		<-ctx.Done()
		m.mu.Lock()
		defer m.mu.Unlock()
		for i, s := range m.subs {
			if s.ch == ch {
				m.subs = append(m.subs[:i], m.subs[i+1:]...)
				break
			}
		}
		close(ch)
	}()
	return ch, nil
}

func (m *memAPI) onTopic(topic string) []envelope.Envelope {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []envelope.Envelope
	for _, env := range m.envs {
		if env.ContentTopic == topic {
			out = append(out, env)
		}
	}
	return out
}

func newWallet(t *testing.T) *cryptocore.PrivateKey {
	t.Helper()
	w, err := cryptocore.GeneratePrivateKey(time.Now())
	require.NoError(t, err)
	return w
}

func newTestClient(t *testing.T, api API) *Client {
	t.Helper()
	c, err := Create(context.Background(), newWallet(t), ClientOptions{API: api})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

// reopen builds a second client around c's bundle with its own empty cache.
func reopen(t *testing.T, c *Client, api API) *Client {
	t.Helper()
	again, err := FromBundle(c.Bundle(), ClientOptions{API: api})
	require.NoError(t, err)
	t.Cleanup(func() { _ = again.Close() })
	return again
}
