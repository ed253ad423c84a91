package entity

import (
	"time"

	"github.com/google/uuid"
)

type MessageType string
type DeliveryStatus string

const (
	MessageTypeText   MessageType = "text"
	MessageTypeSystem MessageType = "system"

	DeliveryStatusSent      DeliveryStatus = "sent"
	DeliveryStatusDelivered DeliveryStatus = "delivered"
	DeliveryStatusRead      DeliveryStatus = "read"
)

func (t MessageType) Valid() bool {
	return t == MessageTypeText || t == MessageTypeSystem
}

// ChatMessage is immutable after creation except for the receipt sets.
type ChatMessage struct {
	Id          string                 `json:"id"`
	MatchId     uuid.UUID              `json:"roomId"`
	SenderId    uuid.UUID              `json:"senderId"`
	SenderName  string                 `json:"senderName"`
	Body        string                 `json:"body"`
	ReplyToId   *string                `json:"replyTo,omitempty"`
	Type        MessageType            `json:"messageType"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
	CreatedAt   time.Time              `json:"createdAt"`
	Status      DeliveryStatus         `json:"status"`
	DeliveredTo []uuid.UUID            `json:"deliveredTo"`
	ReadBy      []uuid.UUID            `json:"readBy"`
}

type ChatMessageReceipt struct {
	Id            uuid.UUID
	MessageId     string
	ParticipantId uuid.UUID
	Status        DeliveryStatus
	CreatedAt     time.Time
}

// ApplyReceipts folds receipts into the per-recipient sets and the aggregate
// status, which is the furthest stage any recipient has reached.
func (m *ChatMessage) ApplyReceipts(receipts []*ChatMessageReceipt) {
	m.Status = DeliveryStatusSent
	m.DeliveredTo = []uuid.UUID{}
	m.ReadBy = []uuid.UUID{}
	for _, r := range receipts {
		if r == nil || r.MessageId != m.Id {
			continue
		}
		switch r.Status {
		case DeliveryStatusDelivered:
			m.DeliveredTo = appendUnique(m.DeliveredTo, r.ParticipantId)
			if m.Status == DeliveryStatusSent {
				m.Status = DeliveryStatusDelivered
			}
		case DeliveryStatusRead:
			m.ReadBy = appendUnique(m.ReadBy, r.ParticipantId)
			m.Status = DeliveryStatusRead
		}
	}
}

func appendUnique(ids []uuid.UUID, id uuid.UUID) []uuid.UUID {
	for _, existing := range ids {
		if existing == id {
			return ids
		}
	}
	return append(ids, id)
}
