package msgclient

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
)

const (
	prefixTopic = "conv:topic:"
	prefixSync  = "conv:sync:"
)

type ConversationVersion string

const (
	VersionV1 ConversationVersion = "v1"
	VersionV2 ConversationVersion = "v2"
)

// TopicData is everything needed to rebuild a conversation without going back
// to the network.
type TopicData struct {
	Topic          string              `json:"topic"`
	Version        ConversationVersion `json:"version"`
	PeerAddress    string              `json:"peerAddress"`
	CreatedNs      uint64              `json:"createdNs"`
	ConversationID string              `json:"conversationId,omitempty"`
	Metadata       map[string]string   `json:"metadata,omitempty"`
	KeyMaterial    []byte              `json:"keyMaterial,omitempty"`
}

// TopicCache persists TopicData and sync watermarks in badger.
type TopicCache struct {
	db *badger.DB
}

// OpenTopicCache opens a cache under dir, or an in-memory one when dir is
// empty.
func OpenTopicCache(dir string) (*TopicCache, error) {
	opts := badger.DefaultOptions(dir)
	if dir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	db, err := badger.Open(opts.WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("open topic cache: %w", err)
	}
	return &TopicCache{db: db}, nil
}

func (c *TopicCache) Close() error {
	return c.db.Close()
}

func (c *TopicCache) Put(items ...TopicData) error {
	return c.db.Update(func(txn *badger.Txn) error {
		for _, td := range items {
			data, err := json.Marshal(td)
			if err != nil {
				return err
			}
			if err := txn.Set([]byte(prefixTopic+td.Topic), data); err != nil {
				return err
			}
		}
		return nil
	})
}

func (c *TopicCache) Get(topic string) (TopicData, bool, error) {
	var td TopicData
	found := false
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(prefixTopic + topic))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &td)
		})
	})
	return td, found, err
}

func (c *TopicCache) All() ([]TopicData, error) {
	var out []TopicData
	err := c.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(prefixTopic)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var td TopicData
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &td)
			}); err != nil {
				return err
			}
			out = append(out, td)
		}
		return nil
	})
	return out, err
}

// LastSync returns the watermark stored under name, or the zero time.
func (c *TopicCache) LastSync(name string) (time.Time, error) {
	var ns uint64
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(prefixSync + name))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		val, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		if len(val) == 8 {
			ns = binary.BigEndian.Uint64(val)
		}
		return nil
	})
	if err != nil || ns == 0 {
		return time.Time{}, err
	}
	return time.Unix(0, int64(ns)), nil
}

func (c *TopicCache) SetLastSync(name string, t time.Time) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(t.UnixNano()))
	return c.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(prefixSync+name), buf[:])
	})
}
