package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"sportbook-be/internal/constant"
	"sportbook-be/internal/dto"
	"sportbook-be/internal/entity"
	"sportbook-be/internal/pkg/logger"
	chatEvents "sportbook-be/pkg/chat/events"
	"sportbook-be/pkg/chat/history"
	"sportbook-be/pkg/chat/presence"
	"sportbook-be/pkg/sharedstate"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const pipelineModule = "MessagePipeline"

var chatTracer = otel.Tracer("sportbook-be/chat")

type PipelineConfig struct {
	MaxMessageLength int
	DeliveryDelay    time.Duration
	HistoryLimit     int
}

// MessagePipeline validates, orders, persists and fans out chat messages,
// then tracks their delivery.
type MessagePipeline struct {
	oracle    AuthorizationOracle
	store     MessageStore
	history   *history.Cache
	presence  presence.Tracker
	delivery  ChatDelivery
	publisher chatEvents.Publisher
	sequencer *roomSequencer
	cfg       PipelineConfig
	logger    logger.ILogger
	now       func() time.Time

	wg        sync.WaitGroup
	done      chan struct{}
	closeOnce sync.Once
}

// NewMessagePipeline takes the shared store in distributed mode so message
// ordering holds across instances; pass nil in single-process mode.
func NewMessagePipeline(
	oracle AuthorizationOracle,
	store MessageStore,
	historyCache *history.Cache,
	tracker presence.Tracker,
	delivery ChatDelivery,
	publisher chatEvents.Publisher,
	shared sharedstate.Store,
	cfg PipelineConfig,
	log logger.ILogger,
) *MessagePipeline {
	if cfg.MaxMessageLength <= 0 {
		cfg.MaxMessageLength = 2000
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = history.DefaultLimit
	}
	return &MessagePipeline{
		oracle:    oracle,
		store:     store,
		history:   historyCache,
		presence:  tracker,
		delivery:  delivery,
		publisher: publisher,
		sequencer: newRoomSequencer(shared),
		cfg:       cfg,
		logger:    log,
		now:       time.Now,
		done:      make(chan struct{}),
	}
}

// checkAccess re-verifies membership and readiness. Never cached.
func checkAccess(ctx context.Context, oracle AuthorizationOracle, roomID, participantID uuid.UUID) error {
	var member, ready bool
	err := retryOnce(ctx, func() (err error) {
		member, err = oracle.IsMember(ctx, roomID, participantID)
		return err
	})
	if err != nil {
		return fmt.Errorf("%w: membership check: %v", ErrUnavailable, err)
	}
	if !member {
		return ErrNotAuthorized
	}
	err = retryOnce(ctx, func() (err error) {
		ready, err = oracle.IsReadyForChat(ctx, roomID)
		return err
	})
	if err != nil {
		return fmt.Errorf("%w: readiness check: %v", ErrUnavailable, err)
	}
	if !ready {
		return ErrChatNotReady
	}
	return nil
}

func (p *MessagePipeline) Send(ctx context.Context, conn *Connection, req dto.SendMessageRequest) (*entity.ChatMessage, error) {
	ctx, span := chatTracer.Start(ctx, "chat.send")
	defer span.End()

	msg, err := p.send(ctx, conn, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, ReasonFor(err))
		return nil, err
	}
	span.SetAttributes(
		attribute.String("chat.room_id", msg.MatchId.String()),
		attribute.String("chat.message_id", msg.Id),
	)
	return msg, nil
}

func (p *MessagePipeline) send(ctx context.Context, conn *Connection, req dto.SendMessageRequest) (*entity.ChatMessage, error) {
	roomID := conn.Room()
	if roomID == uuid.Nil {
		return nil, ErrNotJoined
	}

	body := strings.TrimSpace(req.Body)
	if body == "" {
		return nil, fmt.Errorf("%w: body is empty", ErrInvalidRequest)
	}
	if utf8.RuneCountInString(body) > p.cfg.MaxMessageLength {
		return nil, fmt.Errorf("%w: body exceeds %d characters", ErrInvalidRequest, p.cfg.MaxMessageLength)
	}
	msgType := entity.MessageType(req.MessageType)
	if msgType == "" {
		msgType = entity.MessageTypeText
	}
	if !msgType.Valid() {
		return nil, fmt.Errorf("%w: unknown message type %q", ErrInvalidRequest, req.MessageType)
	}

	if err := checkAccess(ctx, p.oracle, roomID, conn.ParticipantID); err != nil {
		return nil, err
	}

	if req.ReplyTo != nil {
		parent, err := p.store.Find(ctx, roomID, *req.ReplyTo)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		if parent == nil {
			return nil, ErrMessageNotFound
		}
	}

	recipients := p.onlineRecipients(ctx, roomID, conn.ParticipantID)

	stored, err := p.sequenceAndBroadcast(ctx, conn, roomID, body, msgType, req.ReplyTo)
	if err != nil {
		return nil, err
	}

	recipientIDs := make([]string, len(recipients))
	for i, r := range recipients {
		recipientIDs[i] = r.String()
	}
	if p.publisher != nil {
		p.publisher.PublishMessageSent(ctx, chatEvents.MessageSent{
			MessageID:    stored.Id,
			RoomID:       roomID.String(),
			SenderID:     stored.SenderId.String(),
			SenderName:   stored.SenderName,
			Body:         stored.Body,
			MessageType:  string(stored.Type),
			RecipientIDs: recipientIDs,
			CreatedAt:    stored.CreatedAt,
		})
	}

	p.trackDelivery(stored, recipients)
	return stored, nil
}

// sequenceAndBroadcast holds the room lock from id assignment until the
// broadcast is queued, so subscribers see messages in id order.
func (p *MessagePipeline) sequenceAndBroadcast(ctx context.Context, conn *Connection, roomID uuid.UUID, body string, msgType entity.MessageType, replyTo *string) (*entity.ChatMessage, error) {
	unlock, err := p.sequencer.lock(ctx, roomID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	now := p.now().UTC()
	id, err := p.sequencer.nextID(ctx, roomID, now)
	if err != nil {
		return nil, fmt.Errorf("%w: assign message id: %v", ErrUnavailable, err)
	}

	msg := &entity.ChatMessage{
		Id:          id,
		MatchId:     roomID,
		SenderId:    conn.ParticipantID,
		SenderName:  conn.DisplayName,
		Body:        body,
		ReplyToId:   replyTo,
		Type:        msgType,
		CreatedAt:   now,
		Status:      entity.DeliveryStatusSent,
		DeliveredTo: []uuid.UUID{},
		ReadBy:      []uuid.UUID{},
	}

	var (
		stored   *entity.ChatMessage
		attempts int
	)
	err = retryOnce(ctx, func() (err error) {
		attempts++
		if attempts > 1 {
			// The failed attempt may still have committed under this id.
			if found, ferr := p.store.Find(ctx, roomID, id); ferr == nil && found != nil {
				stored = found
				return nil
			}
		}
		stored, err = p.store.Append(ctx, msg)
		return err
	})
	if err != nil {
		p.logger.Error(pipelineModule, "Failed to persist chat message", map[string]interface{}{
			"room_id":   roomID.String(),
			"sender_id": conn.ParticipantID.String(),
			"error":     err.Error(),
		})
		return nil, fmt.Errorf("%w: %v", ErrPersistenceFailed, err)
	}
	stored.Status = entity.DeliveryStatusSent
	if stored.DeliveredTo == nil {
		stored.DeliveredTo = []uuid.UUID{}
	}
	if stored.ReadBy == nil {
		stored.ReadBy = []uuid.UUID{}
	}

	if err := p.sequencer.commit(ctx, roomID, stored.Id); err != nil {
		p.logger.Warn(pipelineModule, "Failed to record room sequence", map[string]interface{}{
			"room_id": roomID.String(),
			"error":   err.Error(),
		})
	}
	p.cacheMessage(ctx, stored)

	p.delivery.Broadcast(ctx, roomID, chatEvent(constant.ChatEventNewMessage, stored), uuid.Nil)
	return stored, nil
}

func (p *MessagePipeline) cacheMessage(ctx context.Context, msg *entity.ChatMessage) {
	if p.history == nil {
		return
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	rec := history.Record{ID: msg.Id, CreatedAt: msg.CreatedAt, Data: data}
	if err := p.history.Push(ctx, msg.MatchId.String(), rec); err != nil {
		p.logger.Warn(pipelineModule, "Failed to cache chat message", map[string]interface{}{
			"message_id": msg.Id,
			"error":      err.Error(),
		})
	}
}

// onlineRecipients snapshots everyone but the sender who is attached to the
// room right now. Away participants still hold a connection and count.
func (p *MessagePipeline) onlineRecipients(ctx context.Context, roomID, senderID uuid.UUID) []uuid.UUID {
	entries, err := p.presence.List(ctx, roomID.String())
	if err != nil {
		p.logger.Warn(pipelineModule, "Presence unavailable, skipping delivery tracking", map[string]interface{}{
			"room_id": roomID.String(),
			"error":   err.Error(),
		})
		return nil
	}
	out := make([]uuid.UUID, 0, len(entries))
	for _, e := range entries {
		if e.Status == presence.StatusOffline || e.Connections <= 0 {
			continue
		}
		id, err := uuid.Parse(e.ParticipantID)
		if err != nil || id == senderID {
			continue
		}
		out = append(out, id)
	}
	return out
}

// trackDelivery marks the message delivered to every snapshot recipient once
// the delivery window passes, then tells the sender how many got it.
func (p *MessagePipeline) trackDelivery(msg *entity.ChatMessage, recipients []uuid.UUID) {
	if len(recipients) == 0 {
		return
	}

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()

		timer := time.NewTimer(p.cfg.DeliveryDelay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-p.done:
			return
		}

		ctx := context.Background()
		delivered := make([]uuid.UUID, 0, len(recipients))
		for _, rid := range recipients {
			err := retryOnce(ctx, func() error {
				_, err := p.store.RecordDelivery(ctx, msg.Id, rid, entity.DeliveryStatusDelivered)
				return err
			})
			if err != nil {
				p.logger.Warn(pipelineModule, "Failed to record delivery", map[string]interface{}{
					"message_id":     msg.Id,
					"participant_id": rid.String(),
					"error":          err.Error(),
				})
				continue
			}
			delivered = append(delivered, rid)
		}
		if len(delivered) == 0 {
			return
		}

		p.delivery.SendToParticipant(ctx, msg.MatchId, msg.SenderId, chatEvent(constant.ChatEventMessageDelivered, dto.MessageDeliveredPayload{
			RoomID:         msg.MatchId,
			MessageID:      msg.Id,
			DeliveredCount: len(delivered),
			DeliveredTo:    delivered,
		}))
	}()
}

// MarkRead records a read receipt. Re-marking, or marking one's own
// message, is a no-op.
func (p *MessagePipeline) MarkRead(ctx context.Context, conn *Connection, messageID string) error {
	roomID := conn.Room()
	if roomID == uuid.Nil {
		return ErrNotJoined
	}

	msg, err := p.store.Find(ctx, roomID, messageID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if msg == nil {
		return ErrMessageNotFound
	}
	if msg.SenderId == conn.ParticipantID {
		return nil
	}

	var recorded bool
	err = retryOnce(ctx, func() (err error) {
		recorded, err = p.store.RecordDelivery(ctx, messageID, conn.ParticipantID, entity.DeliveryStatusRead)
		return err
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if !recorded {
		return nil
	}

	p.delivery.Broadcast(ctx, roomID, chatEvent(constant.ChatEventMessageReadBy, dto.MessageReadByPayload{
		RoomID:     roomID,
		MessageID:  messageID,
		ReaderID:   conn.ParticipantID,
		ReaderName: conn.DisplayName,
		ReadAt:     p.now().UTC(),
	}), conn.ParticipantID)
	return nil
}

// Recent returns the room's latest messages, oldest first; limit <= 0 means
// the configured history size. The durable store is authoritative and the
// hot cache covers it while the store is down.
func (p *MessagePipeline) Recent(ctx context.Context, roomID uuid.UUID, limit int) ([]*entity.ChatMessage, error) {
	if limit <= 0 {
		limit = p.cfg.HistoryLimit
	}

	var msgs []*entity.ChatMessage
	err := retryOnce(ctx, func() (err error) {
		msgs, err = p.store.Recent(ctx, roomID, limit)
		return err
	})
	if err == nil {
		return msgs, nil
	}
	if p.history == nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	p.logger.Warn(pipelineModule, "Message store unavailable, serving cached history", map[string]interface{}{
		"room_id": roomID.String(),
		"error":   err.Error(),
	})
	records, cerr := p.history.Recent(ctx, roomID.String(), limit)
	if cerr != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	out := make([]*entity.ChatMessage, 0, len(records))
	for _, rec := range records {
		var m entity.ChatMessage
		if json.Unmarshal(rec.Data, &m) == nil {
			out = append(out, &m)
		}
	}
	return out, nil
}

// Close cancels pending delivery tracking and waits for in-flight work.
func (p *MessagePipeline) Close() {
	p.closeOnce.Do(func() { close(p.done) })
	p.wg.Wait()
}
