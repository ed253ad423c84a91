// Package events publishes chat domain events for the rest of the platform
// and decodes the membership events the chat service reacts to.
package events

import (
	"context"
	"time"

	"sportbook-be/internal/pkg/logger"
	pkgEvents "sportbook-be/pkg/events"
)

const (
	TypeMessageSent             = "CHAT_MESSAGE_SENT"
	TypeMatchParticipantRemoved = "MATCH_PARTICIPANT_REMOVED"
	SubjectParticipantRemoved   = pkgEvents.SubjectPrefix + TypeMatchParticipantRemoved
)

// Bus is the transport the publisher writes to; *nats.Publisher satisfies it.
type Bus interface {
	Publish(ctx context.Context, event pkgEvents.Event) error
}

// Publisher abstracts event publishing for chat operations.
type Publisher interface {
	PublishMessageSent(ctx context.Context, msg MessageSent)
}

type MessageSent struct {
	MessageID    string
	RoomID       string
	SenderID     string
	SenderName   string
	Body         string
	MessageType  string
	RecipientIDs []string
	CreatedAt    time.Time
}

type NatsPublisher struct {
	bus    Bus
	logger logger.ILogger
}

// NewNatsPublisher accepts a nil bus, in which case publishing is a no-op.
func NewNatsPublisher(bus Bus, log logger.ILogger) *NatsPublisher {
	return &NatsPublisher{bus: bus, logger: log}
}

// PublishMessageSent emits CHAT_MESSAGE_SENT for the notification service.
func (p *NatsPublisher) PublishMessageSent(ctx context.Context, msg MessageSent) {
	if p == nil || p.bus == nil {
		return
	}

	evt := pkgEvents.BaseEvent{
		Type: TypeMessageSent,
		Data: map[string]interface{}{
			"message_id":    msg.MessageID,
			"match_id":      msg.RoomID,
			"sender_id":     msg.SenderID,
			"sender_name":   msg.SenderName,
			"body_preview":  preview(msg.Body),
			"message_type":  msg.MessageType,
			"recipient_ids": msg.RecipientIDs,
			"entity_type":   "chat_message",
			"entity_id":     msg.MessageID,
		},
		OccurredAt: msg.CreatedAt,
	}

	if err := p.bus.Publish(ctx, evt); err != nil {
		p.logger.Error("ChatEvents", "Failed to publish CHAT_MESSAGE_SENT event", map[string]interface{}{
			"message_id": msg.MessageID,
			"error":      err.Error(),
		})
	}
}

const previewRunes = 120

func preview(body string) string {
	r := []rune(body)
	if len(r) <= previewRunes {
		return body
	}
	return string(r[:previewRunes]) + "…"
}

// ParticipantRemoved is the payload of MATCH_PARTICIPANT_REMOVED.
type ParticipantRemoved struct {
	MatchID string
	UserID  string
}

// DecodeParticipantRemoved reads the event published by the booking service
// when a participant leaves or is kicked from a match.
func DecodeParticipantRemoved(evt pkgEvents.Event) (ParticipantRemoved, bool) {
	payload := evt.Payload()
	out := ParticipantRemoved{
		MatchID: pkgEvents.String(payload, "match_id"),
		UserID:  pkgEvents.String(payload, "user_id"),
	}
	return out, out.MatchID != "" && out.UserID != ""
}
