package store_test

import (
	"context"
	"testing"

	"xmtp-legacy/services/messages/internal/store"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupStore(t *testing.T) *store.Store {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{TranslateError: true})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	st := store.New(db)
	if err := st.AutoMigrate(context.Background()); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return st
}

func TestInsertIsIdempotentPerTopic(t *testing.T) {
	st := setupStore(t)
	ctx := context.Background()

	first := &store.Envelope{ContentTopic: "/xmtp/0/a/proto", TimestampNs: 10, Message: []byte("hello")}
	created, err := st.Insert(ctx, first)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if !created || first.Sequence == 0 {
		t.Fatalf("expected a new row, got created=%v seq=%d", created, first.Sequence)
	}

	dup := &store.Envelope{ContentTopic: "/xmtp/0/a/proto", TimestampNs: 99, Message: []byte("hello")}
	created, err = st.Insert(ctx, dup)
	if err != nil {
		t.Fatalf("insert duplicate: %v", err)
	}
	if created {
		t.Fatalf("expected duplicate to be detected")
	}
	if dup.Sequence != first.Sequence || dup.TimestampNs != 10 {
		t.Fatalf("expected the stored row back, got %+v", dup)
	}

	other := &store.Envelope{ContentTopic: "/xmtp/0/b/proto", TimestampNs: 10, Message: []byte("hello")}
	created, err = st.Insert(ctx, other)
	if err != nil {
		t.Fatalf("insert other topic: %v", err)
	}
	if !created {
		t.Fatalf("same message on another topic must be stored")
	}
}

func TestQueryOrderingAndCursor(t *testing.T) {
	st := setupStore(t)
	ctx := context.Background()
	topic := "/xmtp/0/q/proto"

	// Two envelopes share timestamp 20; sequence breaks the tie.
	for i, ts := range []int64{30, 20, 20, 10} {
		env := &store.Envelope{ContentTopic: topic, TimestampNs: ts, Message: []byte{byte(i)}}
		if _, err := st.Insert(ctx, env); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	if _, err := st.Insert(ctx, &store.Envelope{ContentTopic: "/xmtp/0/other/proto", TimestampNs: 15, Message: []byte("x")}); err != nil {
		t.Fatalf("insert: %v", err)
	}

	page, err := st.Query(ctx, store.QueryParams{Topics: []string{topic}, Limit: 2})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(page) != 2 || page[0].TimestampNs != 10 || page[1].TimestampNs != 20 {
		t.Fatalf("unexpected first page %+v", page)
	}
	last := page[1]
	rest, err := st.Query(ctx, store.QueryParams{
		Topics: []string{topic},
		Cursor: &store.Cursor{TimestampNs: last.TimestampNs, Sequence: last.Sequence},
		Limit:  10,
	})
	if err != nil {
		t.Fatalf("query rest: %v", err)
	}
	if len(rest) != 2 || rest[0].TimestampNs != 20 || rest[1].TimestampNs != 30 {
		t.Fatalf("unexpected second page %+v", rest)
	}
	if rest[0].Sequence <= last.Sequence {
		t.Fatalf("expected tie broken by sequence")
	}

	desc, err := st.Query(ctx, store.QueryParams{Topics: []string{topic}, Descending: true, StartNs: 15, EndNs: 30})
	if err != nil {
		t.Fatalf("query desc: %v", err)
	}
	if len(desc) != 3 || desc[0].TimestampNs != 30 || desc[2].TimestampNs != 20 {
		t.Fatalf("unexpected descending page %+v", desc)
	}
}

func TestAfterAndHead(t *testing.T) {
	st := setupStore(t)
	ctx := context.Background()

	head, err := st.Head(ctx)
	if err != nil {
		t.Fatalf("head: %v", err)
	}
	if head != 0 {
		t.Fatalf("expected empty head, got %d", head)
	}

	a := &store.Envelope{ContentTopic: "/xmtp/0/a/proto", TimestampNs: 1, Message: []byte("1")}
	b := &store.Envelope{ContentTopic: "/xmtp/0/b/proto", TimestampNs: 2, Message: []byte("2")}
	for _, env := range []*store.Envelope{a, b} {
		if _, err := st.Insert(ctx, env); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	head, err = st.Head(ctx)
	if err != nil {
		t.Fatalf("head: %v", err)
	}
	if head != b.Sequence {
		t.Fatalf("expected head %d, got %d", b.Sequence, head)
	}

	got, err := st.After(ctx, []string{"/xmtp/0/b/proto"}, 0, 10)
	if err != nil {
		t.Fatalf("after: %v", err)
	}
	if len(got) != 1 || got[0].Sequence != b.Sequence {
		t.Fatalf("unexpected envelopes %+v", got)
	}
	got, err = st.After(ctx, []string{"/xmtp/0/a/proto", "/xmtp/0/b/proto"}, a.Sequence, 10)
	if err != nil {
		t.Fatalf("after: %v", err)
	}
	if len(got) != 1 || got[0].ContentTopic != "/xmtp/0/b/proto" {
		t.Fatalf("unexpected envelopes %+v", got)
	}
}
