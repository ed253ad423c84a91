package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// ChatMessage ids are ULIDs, so lexical order is creation order.
type ChatMessage struct {
	Id         string         `gorm:"type:char(26);primaryKey;index:idx_chat_messages_match_id_id,priority:2"`
	MatchId    uuid.UUID      `gorm:"type:uuid;not null;index:idx_chat_messages_match_id_id,priority:1"`
	SenderId   uuid.UUID      `gorm:"type:uuid;not null;index"`
	SenderName string         `gorm:"type:varchar(255);not null"`
	Body       string         `gorm:"type:text;not null"`
	ReplyToId  *string        `gorm:"type:char(26)"`
	Type       string         `gorm:"type:varchar(20);not null;default:'text'"`
	Metadata   datatypes.JSON `gorm:"type:jsonb"`
	CreatedAt  time.Time      `gorm:"not null"`

	Receipts []ChatMessageReceipt `gorm:"foreignKey:MessageId"`
}

func (ChatMessage) TableName() string {
	return "chat_messages"
}

// ChatMessageReceipt is one per-recipient delivery or read mark. The unique
// index makes repeated marks collapse into one row.
type ChatMessageReceipt struct {
	Id            uuid.UUID `gorm:"type:uuid;primaryKey;default:gen_random_uuid()"`
	MessageId     string    `gorm:"type:char(26);not null;uniqueIndex:idx_chat_message_receipts_unique,priority:1"`
	ParticipantId uuid.UUID `gorm:"type:uuid;not null;uniqueIndex:idx_chat_message_receipts_unique,priority:2"`
	Status        string    `gorm:"type:varchar(20);not null;uniqueIndex:idx_chat_message_receipts_unique,priority:3"`
	CreatedAt     time.Time `gorm:"autoCreateTime"`
}

func (ChatMessageReceipt) TableName() string {
	return "chat_message_receipts"
}
