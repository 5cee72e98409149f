package models

import "time"

// Key represents an issued license key. The key string is its own primary key.
type Key struct {
	ID          string     `gorm:"primaryKey;type:varchar(64)" json:"key"`
	HWID        *string    `gorm:"type:varchar(255)" json:"hwid"`
	Banned      bool       `gorm:"not null" json:"banned"`
	Unlocked    bool       `gorm:"not null" json:"unlocked"` // no default tag: gorm would skip a false value on create
	ExpireAt    *time.Time `json:"expire_at"`
	ActivatedAt *time.Time `json:"activated_at"`
	Note        string     `json:"note"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// IsBound reports whether an HWID has been bound to the key
func (k *Key) IsBound() bool {
	return k.HWID != nil
}

// IsExpired reports whether the key expired strictly before now
func (k *Key) IsExpired(now time.Time) bool {
	return k.ExpireAt != nil && k.ExpireAt.Before(now)
}
