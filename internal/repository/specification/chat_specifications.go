package specification

import (
	"github.com/google/uuid"
	"gorm.io/gorm"
)

type ByMatchID struct {
	MatchID uuid.UUID
}

func (s ByMatchID) Apply(db *gorm.DB) *gorm.DB {
	return db.Where("match_id = ?", s.MatchID)
}

// ByMessageID filters chat messages by their ULID primary key.
type ByMessageID struct {
	ID string
}

func (s ByMessageID) Apply(db *gorm.DB) *gorm.DB {
	return db.Where("id = ?", s.ID)
}

type ReceiptsForMessages struct {
	MessageIDs []string
}

func (s ReceiptsForMessages) Apply(db *gorm.DB) *gorm.DB {
	return db.Where("message_id IN ?", s.MessageIDs)
}

type ReceiptsForMessage struct {
	MessageID string
}

func (s ReceiptsForMessage) Apply(db *gorm.DB) *gorm.DB {
	return db.Where("message_id = ?", s.MessageID)
}

type ByStatus struct {
	Status string
}

func (s ByStatus) Apply(db *gorm.DB) *gorm.DB {
	return db.Where("status = ?", s.Status)
}

type WithReceipts struct{}

func (s WithReceipts) Apply(db *gorm.DB) *gorm.DB {
	return db.Preload("Receipts")
}
