package journal

import (
	"time"

	"gorm.io/gorm"
)

// Record is one committed lifecycle event. Records form a hash chain: Hash
// covers PrevHash, Seq, Type and the canonical attribute encoding.
type Record struct {
	ID         string `gorm:"primaryKey;size:36"`
	Seq        uint64 `gorm:"uniqueIndex;not null"`
	Type       string `gorm:"size:64;index"`
	Attributes string `gorm:"type:text"`
	PrevHash   string `gorm:"size:64"`
	Hash       string `gorm:"size:64;uniqueIndex"`
	CreatedAt  time.Time
}

// TableName pins the table name independent of gorm's pluralisation rules.
func (Record) TableName() string { return "journal_records" }

// IdempotencyKey stores the response of a mutating request so that a retried
// request with the same key replays it instead of executing twice.
type IdempotencyKey struct {
	Key       string `gorm:"primaryKey;size:128"`
	Caller    string `gorm:"primaryKey;size:42"`
	RequestID string `gorm:"size:64"`
	Method    string `gorm:"size:8"`
	Path      string `gorm:"size:255"`
	Status    int
	Response  string `gorm:"type:text"`
	CreatedAt time.Time
}

func (IdempotencyKey) TableName() string { return "idempotency_keys" }

// AutoMigrate performs all schema migrations for the journal.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&Record{},
		&IdempotencyKey{},
	)
}
