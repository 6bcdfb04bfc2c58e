package store

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

// Envelope is one stored message. Sequence is the global insertion order and
// breaks timestamp ties within a topic.
type Envelope struct {
	Sequence     uint64    `gorm:"primaryKey;autoIncrement"`
	ID           uuid.UUID `gorm:"type:uuid;not null;uniqueIndex"`
	ContentTopic string    `gorm:"type:text;not null;uniqueIndex:idx_envelopes_topic_digest,priority:1;index:idx_envelopes_topic_ts,priority:1"`
	TimestampNs  int64     `gorm:"not null;index:idx_envelopes_topic_ts,priority:2"`
	Message      []byte    `gorm:"type:bytea;not null"`
	Digest       string    `gorm:"type:char(64);not null;uniqueIndex:idx_envelopes_topic_digest,priority:2"`
	CreatedAt    time.Time `gorm:"not null;autoCreateTime"`
}

type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) AutoMigrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&Envelope{})
}

func Digest(message []byte) string {
	sum := sha256.Sum256(message)
	return hex.EncodeToString(sum[:])
}

// Insert stores env unless the same message already exists on its topic, in
// which case the existing row is returned and created is false.
func (s *Store) Insert(ctx context.Context, env *Envelope) (created bool, err error) {
	if env.ID == uuid.Nil {
		env.ID = uuid.New()
	}
	if env.Digest == "" {
		env.Digest = Digest(env.Message)
	}
	err = s.db.WithContext(ctx).Create(env).Error
	if err == nil {
		return true, nil
	}
	if !isUniqueViolation(err) {
		return false, err
	}
	var existing Envelope
	if err := s.db.WithContext(ctx).
		Where("content_topic = ? AND digest = ?", env.ContentTopic, env.Digest).
		First(&existing).Error; err != nil {
		return false, err
	}
	*env = existing
	return false, nil
}

func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	// sqlite without TranslateError
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// Cursor positions a page after (ascending) or before (descending) the given
// envelope.
type Cursor struct {
	TimestampNs int64
	Sequence    uint64
}

type QueryParams struct {
	Topics     []string
	StartNs    int64
	EndNs      int64
	Cursor     *Cursor
	Descending bool
	Limit      int
}

// Query returns up to Limit envelopes ordered by (timestamp, sequence).
func (s *Store) Query(ctx context.Context, p QueryParams) ([]Envelope, error) {
	tx := s.db.WithContext(ctx).Where("content_topic IN ?", p.Topics)
	if p.StartNs > 0 {
		tx = tx.Where("timestamp_ns >= ?", p.StartNs)
	}
	if p.EndNs > 0 {
		tx = tx.Where("timestamp_ns <= ?", p.EndNs)
	}
	order := "timestamp_ns asc, sequence asc"
	if c := p.Cursor; c != nil {
		if p.Descending {
			tx = tx.Where("(timestamp_ns < ? OR (timestamp_ns = ? AND sequence < ?))", c.TimestampNs, c.TimestampNs, c.Sequence)
		} else {
			tx = tx.Where("(timestamp_ns > ? OR (timestamp_ns = ? AND sequence > ?))", c.TimestampNs, c.TimestampNs, c.Sequence)
		}
	}
	if p.Descending {
		order = "timestamp_ns desc, sequence desc"
	}
	tx = tx.Order(order)
	if p.Limit > 0 {
		tx = tx.Limit(p.Limit)
	}
	var out []Envelope
	if err := tx.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// After returns envelopes on topics inserted after sequence, oldest first.
func (s *Store) After(ctx context.Context, topics []string, sequence uint64, limit int) ([]Envelope, error) {
	tx := s.db.WithContext(ctx).
		Where("content_topic IN ? AND sequence > ?", topics, sequence).
		Order("sequence asc")
	if limit > 0 {
		tx = tx.Limit(limit)
	}
	var out []Envelope
	if err := tx.Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// Head is the highest sequence stored, zero for an empty log.
func (s *Store) Head(ctx context.Context) (uint64, error) {
	var head sql.NullInt64
	if err := s.db.WithContext(ctx).Model(&Envelope{}).Select("MAX(sequence)").Row().Scan(&head); err != nil {
		return 0, err
	}
	return uint64(head.Int64), nil
}
