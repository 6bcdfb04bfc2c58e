package store

import (
	"context"
	"errors"

	"xmtp-legacy/services/keys/internal/domain"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type ContactStore struct{ db *gorm.DB }

func (s *Store) Contacts() *ContactStore { return &ContactStore{db: s.DB} }

// UpsertIfNewer stores bundle unless the address already has one created at or
// after it. stored reports whether the row changed.
func (c *ContactStore) UpsertIfNewer(ctx context.Context, bundle domain.ContactBundle) (stored bool, err error) {
	res := c.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "address"}},
			DoUpdates: clause.AssignmentColumns([]string{
				"version", "bundle", "identity_key", "created_ns", "updated_at",
			}),
			Where: clause.Where{Exprs: []clause.Expression{
				clause.Expr{SQL: "contact_bundles.created_ns < excluded.created_ns"},
			}},
		}).
		Create(&bundle)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (c *ContactStore) Get(ctx context.Context, address string) (*domain.ContactBundle, error) {
	var bundle domain.ContactBundle
	if err := c.db.WithContext(ctx).First(&bundle, "address = ?", address).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return &bundle, nil
}

func (c *ContactStore) Delete(ctx context.Context, address string) (int64, error) {
	res := c.db.WithContext(ctx).Where("address = ?", address).Delete(&domain.ContactBundle{})
	return res.RowsAffected, res.Error
}
