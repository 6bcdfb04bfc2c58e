package domain

import "time"

// ContactBundle is the newest verified contact bundle published by a wallet.
// CreatedNs is the bundle's pre-key creation time and orders replacements.
type ContactBundle struct {
	Address     string    `gorm:"type:varchar(42);primaryKey"`
	Version     int       `gorm:"not null"`
	Bundle      []byte    `gorm:"type:bytea;not null"`
	IdentityKey string    `gorm:"type:text;not null;index"`
	CreatedNs   int64     `gorm:"not null"`
	CreatedAt   time.Time `gorm:"not null;autoCreateTime"`
	UpdatedAt   time.Time `gorm:"not null;autoUpdateTime"`
}
