package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"xmtp-legacy/services/messages/internal/store"
	"xmtp-legacy/services/messages/pkg/envelope"
)

var ErrInvalidRequest = errors.New("service: invalid request")

const (
	defaultMaxPageSize     = 100
	defaultMaxBatchQueries = 50
	defaultMaxEnvelopeSize = 1 << 20
	maxTopicsPerQuery      = 100
	pollBatch              = 100
	defaultSettleWindow    = 2 * time.Second
)

type Options struct {
	MaxPageSize      int
	MaxBatchQueries  int
	MaxEnvelopeBytes int
	// SettleWindow is how long after insertion a row is assumed to have every
	// lower sequence committed before it.
	SettleWindow time.Duration
}

type Service struct {
	store *store.Store
	now   func() time.Time
	opts  Options
}

// PublishResult pairs a stored envelope with whether it was new.
type PublishResult struct {
	Envelope envelope.Envelope
	Created  bool
}

func New(st *store.Store, opts Options) *Service {
	if opts.MaxPageSize <= 0 {
		opts.MaxPageSize = defaultMaxPageSize
	}
	if opts.MaxBatchQueries <= 0 {
		opts.MaxBatchQueries = defaultMaxBatchQueries
	}
	if opts.MaxEnvelopeBytes <= 0 {
		opts.MaxEnvelopeBytes = defaultMaxEnvelopeSize
	}
	if opts.SettleWindow <= 0 {
		opts.SettleWindow = defaultSettleWindow
	}
	return &Service{store: st, now: time.Now, opts: opts}
}

// Publish appends envelopes in order. Republishing an identical message on
// the same topic returns the original sequence instead of a new row.
func (s *Service) Publish(ctx context.Context, envs []envelope.Envelope) ([]PublishResult, error) {
	if len(envs) == 0 {
		return nil, fmt.Errorf("%w: no envelopes", ErrInvalidRequest)
	}
	for i, env := range envs {
		if !envelope.IsValidTopic(env.ContentTopic) {
			return nil, fmt.Errorf("%w: envelope %d: invalid topic %q", ErrInvalidRequest, i, env.ContentTopic)
		}
		if len(env.Message) == 0 {
			return nil, fmt.Errorf("%w: envelope %d: empty message", ErrInvalidRequest, i)
		}
		if len(env.Message) > s.opts.MaxEnvelopeBytes {
			return nil, fmt.Errorf("%w: envelope %d: message exceeds %d bytes", ErrInvalidRequest, i, s.opts.MaxEnvelopeBytes)
		}
		if env.TimestampNs > math.MaxInt64 {
			return nil, fmt.Errorf("%w: envelope %d: timestamp out of range", ErrInvalidRequest, i)
		}
	}
	out := make([]PublishResult, 0, len(envs))
	for _, env := range envs {
		ts := int64(env.TimestampNs)
		if ts == 0 {
			ts = s.now().UnixNano()
		}
		row := store.Envelope{
			ContentTopic: env.ContentTopic,
			TimestampNs:  ts,
			Message:      append([]byte(nil), env.Message...),
		}
		created, err := s.store.Insert(ctx, &row)
		if err != nil {
			return nil, err
		}
		if !created {
			slog.Debug("duplicate envelope", "topic", row.ContentTopic, "sequence", row.Sequence)
		}
		out = append(out, PublishResult{Envelope: toEnvelope(row), Created: created})
	}
	return out, nil
}

// Query returns one page. The response cursor is set only when more
// envelopes may follow.
func (s *Service) Query(ctx context.Context, req envelope.QueryRequest) (envelope.QueryResponse, error) {
	if err := validateQuery(req); err != nil {
		return envelope.QueryResponse{}, err
	}
	limit := req.PagingInfo.Limit
	if limit <= 0 || limit > s.opts.MaxPageSize {
		limit = s.opts.MaxPageSize
	}
	params := store.QueryParams{
		Topics:     req.ContentTopics,
		StartNs:    int64(req.StartTimeNs),
		EndNs:      int64(req.EndTimeNs),
		Descending: req.PagingInfo.Direction == envelope.SortDescending,
		Limit:      limit + 1,
	}
	if c := req.PagingInfo.Cursor; c != nil {
		params.Cursor = &store.Cursor{TimestampNs: int64(c.TimestampNs), Sequence: c.Sequence}
	}
	rows, err := s.store.Query(ctx, params)
	if err != nil {
		return envelope.QueryResponse{}, err
	}
	resp := envelope.QueryResponse{
		PagingInfo: envelope.PagingInfo{Limit: limit, Direction: req.PagingInfo.Direction},
	}
	if len(rows) > limit {
		rows = rows[:limit]
		last := rows[len(rows)-1]
		resp.PagingInfo.Cursor = &envelope.Cursor{TimestampNs: uint64(last.TimestampNs), Sequence: last.Sequence}
	}
	resp.Envelopes = make([]envelope.Envelope, 0, len(rows))
	for _, row := range rows {
		resp.Envelopes = append(resp.Envelopes, toEnvelope(row))
	}
	return resp, nil
}

func (s *Service) BatchQuery(ctx context.Context, reqs []envelope.QueryRequest) ([]envelope.QueryResponse, error) {
	if len(reqs) == 0 || len(reqs) > s.opts.MaxBatchQueries {
		return nil, fmt.Errorf("%w: batch must hold 1..%d queries", ErrInvalidRequest, s.opts.MaxBatchQueries)
	}
	out := make([]envelope.QueryResponse, 0, len(reqs))
	for i, req := range reqs {
		resp, err := s.Query(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("query %d: %w", i, err)
		}
		out = append(out, resp)
	}
	return out, nil
}

// Head is the sequence a new subscription starts after.
func (s *Service) Head(ctx context.Context) (uint64, error) {
	return s.store.Head(ctx)
}

// Cursor is a subscription's position in the log. Sequences are allocated
// before commit, so a lower sequence can become visible after a higher one.
// After therefore only moves past settled rows; newer rows already delivered
// are remembered in sent so a later poll does not repeat them.
type Cursor struct {
	After uint64
	sent  map[uint64]struct{}
}

func NewCursor(head uint64) *Cursor {
	return &Cursor{After: head, sent: make(map[uint64]struct{})}
}

// Poll returns envelopes on topics that cur has not delivered yet, oldest
// first, and advances cur.
func (s *Service) Poll(ctx context.Context, topics []string, cur *Cursor) ([]envelope.Envelope, error) {
	rows, err := s.store.After(ctx, topics, cur.After, pollBatch)
	if err != nil {
		return nil, err
	}
	if cur.sent == nil {
		cur.sent = make(map[uint64]struct{})
	}
	settled := s.now().Add(-s.opts.SettleWindow)
	advancing := true
	out := make([]envelope.Envelope, 0, len(rows))
	for _, row := range rows {
		if _, ok := cur.sent[row.Sequence]; !ok {
			out = append(out, toEnvelope(row))
		}
		if advancing && row.CreatedAt.Before(settled) {
			cur.After = row.Sequence
			continue
		}
		advancing = false
		cur.sent[row.Sequence] = struct{}{}
	}
	for seq := range cur.sent {
		if seq <= cur.After {
			delete(cur.sent, seq)
		}
	}
	return out, nil
}

// ValidateTopics checks a subscription topic list.
func ValidateTopics(topics []string) error {
	if len(topics) == 0 || len(topics) > maxTopicsPerQuery {
		return fmt.Errorf("%w: need 1..%d topics", ErrInvalidRequest, maxTopicsPerQuery)
	}
	for _, t := range topics {
		if !envelope.IsValidTopic(t) {
			return fmt.Errorf("%w: invalid topic %q", ErrInvalidRequest, t)
		}
	}
	return nil
}

func validateQuery(req envelope.QueryRequest) error {
	if err := ValidateTopics(req.ContentTopics); err != nil {
		return err
	}
	if req.StartTimeNs > math.MaxInt64 || req.EndTimeNs > math.MaxInt64 {
		return fmt.Errorf("%w: time bound out of range", ErrInvalidRequest)
	}
	if req.EndTimeNs != 0 && req.StartTimeNs > req.EndTimeNs {
		return fmt.Errorf("%w: start after end", ErrInvalidRequest)
	}
	switch req.PagingInfo.Direction {
	case "", envelope.SortAscending, envelope.SortDescending:
	default:
		return fmt.Errorf("%w: unknown direction %q", ErrInvalidRequest, req.PagingInfo.Direction)
	}
	return nil
}

func toEnvelope(row store.Envelope) envelope.Envelope {
	return envelope.Envelope{
		ContentTopic: row.ContentTopic,
		TimestampNs:  uint64(row.TimestampNs),
		Message:      row.Message,
		Sequence:     row.Sequence,
	}
}
