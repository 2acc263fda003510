package model

import "time"

// KVEntry is a string record in the Postgres key-value backend.
type KVEntry struct {
	Key       string     `gorm:"column:entry_key;type:text;primaryKey"`
	Value     string     `gorm:"type:text;not null"`
	ExpiresAt *time.Time `gorm:"index"`
}

func (KVEntry) TableName() string { return "kv_entries" }

// IsExpired reports whether the entry is past its TTL at now.
func (e KVEntry) IsExpired(now time.Time) bool {
	return e.ExpiresAt != nil && !now.Before(*e.ExpiresAt)
}

// KVHashField is one field of a hash in the Postgres key-value backend.
type KVHashField struct {
	HashKey string `gorm:"type:text;primaryKey"`
	Field   string `gorm:"column:field_name;type:text;primaryKey"`
	Value   string `gorm:"type:text;not null"`
}

func (KVHashField) TableName() string { return "kv_hash_fields" }
