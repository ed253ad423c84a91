package dto

import (
	"time"

	"sportbook-be/internal/entity"
	"sportbook-be/pkg/chat/presence"

	"github.com/google/uuid"
)

// ChatFrame is one inbound websocket frame. Which fields matter depends on Type.
type ChatFrame struct {
	Type        string  `json:"type" validate:"required,oneof=join leave send markRead setTyping setStatus"`
	RequestID   string  `json:"requestId,omitempty" validate:"omitempty,max=64"`
	RoomID      string  `json:"roomId,omitempty"`
	Body        string  `json:"body,omitempty"`
	MessageType string  `json:"messageType,omitempty"`
	ReplyTo     *string `json:"replyTo,omitempty"`
	MessageID   string  `json:"messageId,omitempty"`
	IsTyping    bool    `json:"isTyping,omitempty"`
	Status      string  `json:"status,omitempty"`
}

type JoinRoomRequest struct {
	RoomID string `json:"roomId" validate:"required,uuid"`
}

type SendMessageRequest struct {
	Body        string  `json:"body" validate:"required"`
	MessageType string  `json:"messageType" validate:"omitempty,oneof=text system"`
	ReplyTo     *string `json:"replyTo" validate:"omitempty,len=26,alphanum"`
}

type MarkReadRequest struct {
	MessageID string `json:"messageId" validate:"required,len=26,alphanum"`
}

type SetStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=online away"`
}

type HistoryQuery struct {
	Limit int `query:"limit" validate:"omitempty,min=1,max=200"`
}

type ChatEvent struct {
	Type string      `json:"type"`
	Data interface{} `json:"data"`
}

type JoinedPayload struct {
	RoomID       uuid.UUID `json:"roomId"`
	SessionToken string    `json:"sessionToken"`
	OnlineCount  int       `json:"onlineCount"`
}

type RecentHistoryPayload struct {
	RoomID   uuid.UUID             `json:"roomId"`
	Messages []*entity.ChatMessage `json:"messages"`
}

type PresenceEntryResponse struct {
	ParticipantID string    `json:"participantId"`
	DisplayName   string    `json:"displayName"`
	Status        string    `json:"status"`
	LastSeen      time.Time `json:"lastSeen"`
	JoinedAt      time.Time `json:"joinedAt"`
}

type PresenceListPayload struct {
	RoomID      uuid.UUID               `json:"roomId"`
	Entries     []PresenceEntryResponse `json:"entries"`
	OnlineCount int                     `json:"onlineCount"`
}

type ParticipantJoinedPayload struct {
	RoomID        uuid.UUID `json:"roomId"`
	ParticipantID uuid.UUID `json:"participantId"`
	DisplayName   string    `json:"displayName"`
	OnlineCount   int       `json:"onlineCount"`
}

type ParticipantLeftPayload struct {
	RoomID        uuid.UUID `json:"roomId"`
	ParticipantID uuid.UUID `json:"participantId"`
	DisplayName   string    `json:"displayName"`
	OnlineCount   int       `json:"onlineCount"`
	LastSeen      time.Time `json:"lastSeen"`
}

type MessageDeliveredPayload struct {
	RoomID         uuid.UUID   `json:"roomId"`
	MessageID      string      `json:"messageId"`
	DeliveredCount int         `json:"deliveredCount"`
	DeliveredTo    []uuid.UUID `json:"deliveredTo"`
}

type MessageReadByPayload struct {
	RoomID     uuid.UUID `json:"roomId"`
	MessageID  string    `json:"messageId"`
	ReaderID   uuid.UUID `json:"readerId"`
	ReaderName string    `json:"readerName"`
	ReadAt     time.Time `json:"readAt"`
}

type TypingPayload struct {
	RoomID        uuid.UUID `json:"roomId"`
	ParticipantID uuid.UUID `json:"participantId"`
	DisplayName   string    `json:"displayName"`
}

type StatusChangedPayload struct {
	RoomID        uuid.UUID `json:"roomId"`
	ParticipantID uuid.UUID `json:"participantId"`
	Status        string    `json:"status"`
	LastSeen      time.Time `json:"lastSeen"`
}

type ErrorPayload struct {
	RequestID string `json:"requestId,omitempty"`
	Action    string `json:"action,omitempty"`
	Reason    string `json:"reason"`
	Message   string `json:"message"`
}

func NewPresenceEntryResponse(e presence.Entry) PresenceEntryResponse {
	return PresenceEntryResponse{
		ParticipantID: e.ParticipantID,
		DisplayName:   e.DisplayName,
		Status:        string(e.Status),
		LastSeen:      e.LastSeen,
		JoinedAt:      e.JoinedAt,
	}
}

func NewPresenceListPayload(roomID uuid.UUID, entries []presence.Entry) PresenceListPayload {
	out := PresenceListPayload{RoomID: roomID, Entries: make([]PresenceEntryResponse, 0, len(entries))}
	for _, e := range entries {
		out.Entries = append(out.Entries, NewPresenceEntryResponse(e))
		if e.Status == presence.StatusOnline {
			out.OnlineCount++
		}
	}
	return out
}
