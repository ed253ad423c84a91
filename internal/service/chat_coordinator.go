package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"sportbook-be/internal/constant"
	"sportbook-be/internal/dto"
	"sportbook-be/internal/entity"
	"sportbook-be/internal/pkg/logger"
	"sportbook-be/internal/pkg/serverutils"
	chatEvents "sportbook-be/pkg/chat/events"
	"sportbook-be/pkg/chat/presence"
	"sportbook-be/pkg/chat/roomsession"
	"sportbook-be/pkg/chat/typing"
	pkgEvents "sportbook-be/pkg/events"
	pkgNats "sportbook-be/pkg/nats"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	coordinatorModule = "ChatCoordinator"
	cleanupTimeout    = 5 * time.Second
)

// JoinResult is what a successful join hands back to the caller; the same
// data is also pushed to the connection as joined, recentHistory and
// presenceList events.
type JoinResult struct {
	RoomID       uuid.UUID
	SessionToken string
	History      []*entity.ChatMessage
	Presence     []presence.Entry
	OnlineCount  int
}

// EventSubscriber is the durable event consumer used for membership
// revocations; *pkgNats.Subscriber satisfies it.
type EventSubscriber interface {
	Subscribe(ctx context.Context, subject, durableName string, handler pkgNats.EventHandler) error
}

type ChatCoordinator struct {
	verifier TokenVerifier
	oracle   AuthorizationOracle
	presence presence.Tracker
	sessions *roomsession.Manager
	typing   *typing.Tracker
	pipeline *MessagePipeline
	delivery ChatDelivery
	logger   logger.ILogger

	mu    sync.RWMutex
	conns map[string]*Connection
}

func NewChatCoordinator(
	verifier TokenVerifier,
	oracle AuthorizationOracle,
	tracker presence.Tracker,
	sessions *roomsession.Manager,
	typingTracker *typing.Tracker,
	pipeline *MessagePipeline,
	delivery ChatDelivery,
	log logger.ILogger,
) *ChatCoordinator {
	return &ChatCoordinator{
		verifier: verifier,
		oracle:   oracle,
		presence: tracker,
		sessions: sessions,
		typing:   typingTracker,
		pipeline: pipeline,
		delivery: delivery,
		logger:   log,
		conns:    make(map[string]*Connection),
	}
}

// Authenticate verifies the credential and returns a new connection for the
// identity it names. The connection is tracked only once Connected is called
// for a live socket.
func (c *ChatCoordinator) Authenticate(ctx context.Context, credential string) (*Connection, error) {
	if credential == "" {
		return nil, fmt.Errorf("%w: missing credential", ErrUnauthenticated)
	}
	identity, err := c.verifier.Verify(ctx, credential)
	if err != nil {
		return nil, err
	}

	conn := NewConnection(identity)
	c.logger.Debug(coordinatorModule, "Connection authenticated", map[string]interface{}{
		"connection_id":  conn.ID,
		"participant_id": identity.ParticipantID.String(),
	})
	return conn, nil
}

// Connected starts tracking conn once its socket is live. Disconnect is the
// matching cleanup.
func (c *ChatCoordinator) Connected(conn *Connection) {
	c.mu.Lock()
	c.conns[conn.ID] = conn
	c.mu.Unlock()
}

func (c *ChatCoordinator) Join(ctx context.Context, conn *Connection, roomID uuid.UUID) (*JoinResult, error) {
	ctx, span := chatTracer.Start(ctx, "chat.join")
	defer span.End()
	span.SetAttributes(attribute.String("chat.room_id", roomID.String()))

	res, err := c.join(ctx, conn, roomID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, ReasonFor(err))
		return nil, err
	}
	return res, nil
}

func (c *ChatCoordinator) join(ctx context.Context, conn *Connection, roomID uuid.UUID) (*JoinResult, error) {
	if err := checkAccess(ctx, c.oracle, roomID, conn.ParticipantID); err != nil {
		return nil, err
	}

	current := conn.Room()
	rejoin := current == roomID
	if current != uuid.Nil && !rejoin {
		c.leave(ctx, conn)
	}

	var session roomsession.Session
	err := retryOnce(ctx, func() (err error) {
		session, err = c.sessions.Resolve(ctx, roomID.String())
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: resolve room session: %v", ErrUnavailable, err)
	}

	firstConnection := false
	if !rejoin {
		// Attach before the snapshot so no message falls between the two.
		if err := c.delivery.Attach(ctx, roomID, conn.ID); err != nil {
			return nil, fmt.Errorf("%w: subscribe to room: %v", ErrUnavailable, err)
		}

		var entry presence.Entry
		err = retryOnce(ctx, func() (err error) {
			entry, err = c.presence.Join(ctx, roomID.String(), conn.ParticipantID.String(), conn.ID, conn.DisplayName)
			return err
		})
		if err != nil {
			c.logger.Warn(coordinatorModule, "Presence join failed", map[string]interface{}{
				"room_id":        roomID.String(),
				"participant_id": conn.ParticipantID.String(),
				"error":          err.Error(),
			})
		} else {
			firstConnection = entry.Connections == 1
		}
	}
	conn.bind(roomID, session.Token)

	history, err := c.pipeline.Recent(ctx, roomID, 0)
	if err != nil {
		c.logger.Warn(coordinatorModule, "Recent history unavailable", map[string]interface{}{
			"room_id": roomID.String(),
			"error":   err.Error(),
		})
	}
	if history == nil {
		history = []*entity.ChatMessage{}
	}
	entries := c.listPresence(ctx, roomID)
	list := dto.NewPresenceListPayload(roomID, entries)

	c.delivery.SendToConnection(conn.ID, chatEvent(constant.ChatEventJoined, dto.JoinedPayload{
		RoomID:       roomID,
		SessionToken: session.Token,
		OnlineCount:  list.OnlineCount,
	}))
	c.delivery.SendToConnection(conn.ID, chatEvent(constant.ChatEventRecentHistory, dto.RecentHistoryPayload{
		RoomID:   roomID,
		Messages: history,
	}))
	c.delivery.SendToConnection(conn.ID, chatEvent(constant.ChatEventPresenceList, list))

	if firstConnection {
		c.delivery.Broadcast(ctx, roomID, chatEvent(constant.ChatEventParticipantJoined, dto.ParticipantJoinedPayload{
			RoomID:        roomID,
			ParticipantID: conn.ParticipantID,
			DisplayName:   conn.DisplayName,
			OnlineCount:   list.OnlineCount,
		}), conn.ParticipantID)
	}

	c.logger.Info(coordinatorModule, "Participant joined room", map[string]interface{}{
		"room_id":        roomID.String(),
		"participant_id": conn.ParticipantID.String(),
		"connection_id":  conn.ID,
		"online_count":   list.OnlineCount,
	})

	return &JoinResult{
		RoomID:       roomID,
		SessionToken: session.Token,
		History:      history,
		Presence:     entries,
		OnlineCount:  list.OnlineCount,
	}, nil
}

func (c *ChatCoordinator) listPresence(ctx context.Context, roomID uuid.UUID) []presence.Entry {
	entries, err := c.presence.List(ctx, roomID.String())
	if err != nil {
		c.logger.Warn(coordinatorModule, "Presence list failed", map[string]interface{}{
			"room_id": roomID.String(),
			"error":   err.Error(),
		})
		return []presence.Entry{}
	}
	return entries
}

// Leave detaches the connection from its room. Calling it again, or on a
// connection that never joined, does nothing.
func (c *ChatCoordinator) Leave(ctx context.Context, conn *Connection) error {
	c.leave(ctx, conn)
	return nil
}

func (c *ChatCoordinator) leave(ctx context.Context, conn *Connection) {
	roomID := conn.unbind()
	if roomID == uuid.Nil {
		return
	}
	room := roomID.String()
	pid := conn.ParticipantID.String()

	c.delivery.Detach(roomID, conn.ID)

	if wasTyping, err := c.typing.Stop(ctx, room, pid); err != nil {
		c.logger.Warn(coordinatorModule, "Typing cleanup failed", map[string]interface{}{
			"room_id": room,
			"error":   err.Error(),
		})
	} else if wasTyping {
		c.delivery.Broadcast(ctx, roomID, chatEvent(constant.ChatEventUserStoppedTyping, dto.TypingPayload{
			RoomID:        roomID,
			ParticipantID: conn.ParticipantID,
			DisplayName:   conn.DisplayName,
		}), conn.ParticipantID)
	}

	var (
		entry       presence.Entry
		wentOffline bool
	)
	err := retryOnce(ctx, func() (err error) {
		entry, wentOffline, err = c.presence.Leave(ctx, room, pid, conn.ID)
		return err
	})
	if err != nil {
		c.logger.Warn(coordinatorModule, "Presence leave failed", map[string]interface{}{
			"room_id":        room,
			"participant_id": pid,
			"error":          err.Error(),
		})
		return
	}
	if !wentOffline {
		return
	}

	count, err := c.presence.OnlineCount(ctx, room)
	if err != nil {
		count = 0
	}
	c.delivery.Broadcast(ctx, roomID, chatEvent(constant.ChatEventParticipantLeft, dto.ParticipantLeftPayload{
		RoomID:        roomID,
		ParticipantID: conn.ParticipantID,
		DisplayName:   conn.DisplayName,
		OnlineCount:   count,
		LastSeen:      entry.LastSeen,
	}), conn.ParticipantID)

	c.logger.Info(coordinatorModule, "Participant left room", map[string]interface{}{
		"room_id":        room,
		"participant_id": pid,
		"online_count":   count,
	})
}

// SetStatus is a no-op for a connection that has not joined a room.
func (c *ChatCoordinator) SetStatus(ctx context.Context, conn *Connection, status string) error {
	s := presence.Status(status)
	if !s.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidRequest, status)
	}
	roomID := conn.Room()
	if roomID == uuid.Nil {
		return nil
	}

	entry, err := c.presence.SetStatus(ctx, roomID.String(), conn.ParticipantID.String(), s)
	if errors.Is(err, presence.ErrNotPresent) {
		return nil
	}
	if err != nil {
		c.logger.Warn(coordinatorModule, "Presence status update failed", map[string]interface{}{
			"room_id": roomID.String(),
			"status":  status,
			"error":   err.Error(),
		})
		return nil
	}

	c.delivery.Broadcast(ctx, roomID, chatEvent(constant.ChatEventUserStatusChanged, dto.StatusChangedPayload{
		RoomID:        roomID,
		ParticipantID: conn.ParticipantID,
		Status:        string(entry.Status),
		LastSeen:      entry.LastSeen,
	}), conn.ParticipantID)
	return nil
}

// SetTyping raises or clears the typing flag. A raised flag clears itself
// after the typing TTL unless refreshed.
func (c *ChatCoordinator) SetTyping(ctx context.Context, conn *Connection, isTyping bool) error {
	roomID := conn.Room()
	if roomID == uuid.Nil {
		return ErrNotJoined
	}
	room := roomID.String()
	pid := conn.ParticipantID.String()
	payload := dto.TypingPayload{RoomID: roomID, ParticipantID: conn.ParticipantID, DisplayName: conn.DisplayName}

	if !isTyping {
		conn.disarmTyping()
		if _, err := c.typing.Stop(ctx, room, pid); err != nil {
			c.logger.Warn(coordinatorModule, "Typing clear failed", map[string]interface{}{
				"room_id": room,
				"error":   err.Error(),
			})
		}
		c.delivery.Broadcast(ctx, roomID, chatEvent(constant.ChatEventUserStoppedTyping, payload), conn.ParticipantID)
		return nil
	}

	if err := c.typing.Start(ctx, room, pid); err != nil {
		c.logger.Warn(coordinatorModule, "Typing flag write failed", map[string]interface{}{
			"room_id": room,
			"error":   err.Error(),
		})
		return nil
	}
	conn.armTyping(c.typing.TTL(), func(gen uint64) {
		c.typingLapsed(conn, roomID, gen)
	})
	c.delivery.Broadcast(ctx, roomID, chatEvent(constant.ChatEventUserTyping, payload), conn.ParticipantID)
	return nil
}

func (c *ChatCoordinator) typingLapsed(conn *Connection, roomID uuid.UUID, gen uint64) {
	if !conn.typingExpired(gen) || conn.Room() != roomID {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()

	if _, err := c.typing.Stop(ctx, roomID.String(), conn.ParticipantID.String()); err != nil {
		c.logger.Debug(coordinatorModule, "Typing expiry cleanup failed", map[string]interface{}{
			"room_id": roomID.String(),
			"error":   err.Error(),
		})
	}
	c.delivery.Broadcast(ctx, roomID, chatEvent(constant.ChatEventUserStoppedTyping, dto.TypingPayload{
		RoomID:        roomID,
		ParticipantID: conn.ParticipantID,
		DisplayName:   conn.DisplayName,
	}), conn.ParticipantID)
}

// Heartbeat refreshes the connection's presence liveness.
func (c *ChatCoordinator) Heartbeat(ctx context.Context, conn *Connection) {
	roomID := conn.Room()
	if roomID == uuid.Nil {
		return
	}
	if err := c.presence.Touch(ctx, roomID.String(), conn.ParticipantID.String(), conn.ID); err != nil {
		c.logger.Debug(coordinatorModule, "Presence heartbeat failed", map[string]interface{}{
			"room_id": roomID.String(),
			"error":   err.Error(),
		})
	}
}

// HandleFrame decodes and dispatches one inbound frame. Failures are
// reported to the connection as an error event and also returned.
func (c *ChatCoordinator) HandleFrame(ctx context.Context, conn *Connection, raw []byte) error {
	var frame dto.ChatFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		err = fmt.Errorf("%w: malformed frame", ErrInvalidRequest)
		c.reportError(conn, frame, err)
		return err
	}
	if err := c.dispatch(ctx, conn, frame); err != nil {
		c.reportError(conn, frame, err)
		return err
	}
	return nil
}

func (c *ChatCoordinator) dispatch(ctx context.Context, conn *Connection, frame dto.ChatFrame) error {
	if err := validate(frame); err != nil {
		return err
	}

	switch frame.Type {
	case constant.ChatActionJoin:
		req := dto.JoinRoomRequest{RoomID: frame.RoomID}
		if err := validate(req); err != nil {
			return err
		}
		roomID, err := uuid.Parse(req.RoomID)
		if err != nil {
			return fmt.Errorf("%w: malformed room id", ErrInvalidRequest)
		}
		_, err = c.Join(ctx, conn, roomID)
		return err

	case constant.ChatActionLeave:
		return c.Leave(ctx, conn)

	case constant.ChatActionSend:
		req := dto.SendMessageRequest{Body: frame.Body, MessageType: frame.MessageType, ReplyTo: frame.ReplyTo}
		if err := validate(req); err != nil {
			return err
		}
		_, err := c.pipeline.Send(ctx, conn, req)
		return err

	case constant.ChatActionMarkRead:
		req := dto.MarkReadRequest{MessageID: frame.MessageID}
		if err := validate(req); err != nil {
			return err
		}
		return c.pipeline.MarkRead(ctx, conn, req.MessageID)

	case constant.ChatActionSetTyping:
		return c.SetTyping(ctx, conn, frame.IsTyping)

	case constant.ChatActionSetStatus:
		req := dto.SetStatusRequest{Status: frame.Status}
		if err := validate(req); err != nil {
			return err
		}
		return c.SetStatus(ctx, conn, req.Status)
	}
	return fmt.Errorf("%w: unknown frame type %q", ErrInvalidRequest, frame.Type)
}

func validate(req interface{}) error {
	if err := serverutils.ValidateRequest(req); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return nil
}

func (c *ChatCoordinator) reportError(conn *Connection, frame dto.ChatFrame, err error) {
	reason := ReasonFor(err)
	if reason == "internal" {
		c.logger.Error(coordinatorModule, "Frame handling failed", map[string]interface{}{
			"connection_id": conn.ID,
			"action":        frame.Type,
			"error":         err.Error(),
		})
	}
	c.delivery.SendToConnection(conn.ID, chatEvent(constant.ChatEventError, dto.ErrorPayload{
		RequestID: frame.RequestID,
		Action:    frame.Type,
		Reason:    reason,
		Message:   err.Error(),
	}))
}

// Disconnect runs leave cleanup for a closed socket and forgets the
// connection. Safe to call more than once.
func (c *ChatCoordinator) Disconnect(conn *Connection) {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()

	c.leave(ctx, conn)

	c.mu.Lock()
	delete(c.conns, conn.ID)
	c.mu.Unlock()
}

// RevokeMembership detaches every local connection of participantID bound
// to roomID and tells each one why. It returns how many were detached.
func (c *ChatCoordinator) RevokeMembership(ctx context.Context, roomID, participantID uuid.UUID) int {
	c.mu.RLock()
	var targets []*Connection
	for _, conn := range c.conns {
		if conn.ParticipantID == participantID && conn.Room() == roomID {
			targets = append(targets, conn)
		}
	}
	c.mu.RUnlock()

	for _, conn := range targets {
		c.delivery.SendToConnection(conn.ID, chatEvent(constant.ChatEventError, dto.ErrorPayload{
			Action:  constant.ChatActionJoin,
			Reason:  ReasonFor(ErrNotAuthorized),
			Message: ErrNotAuthorized.Error(),
		}))
		c.leave(ctx, conn)
	}
	if len(targets) > 0 {
		c.logger.Info(coordinatorModule, "Membership revoked", map[string]interface{}{
			"room_id":        roomID.String(),
			"participant_id": participantID.String(),
			"connections":    len(targets),
		})
	}
	return len(targets)
}

// StartRevocationListener consumes participant-removed events. Each
// instance needs its own durable consumer since each holds different
// sockets.
func (c *ChatCoordinator) StartRevocationListener(ctx context.Context, sub EventSubscriber, instanceID string) error {
	durable := constant.ChatRevocationConsumer + "-" + instanceID
	return sub.Subscribe(ctx, chatEvents.SubjectParticipantRemoved, durable, func(ctx context.Context, evt pkgEvents.Event) error {
		removed, ok := chatEvents.DecodeParticipantRemoved(evt)
		if !ok {
			return nil
		}
		roomID, err := uuid.Parse(removed.MatchID)
		if err != nil {
			return nil
		}
		userID, err := uuid.Parse(removed.UserID)
		if err != nil {
			return nil
		}
		c.RevokeMembership(ctx, roomID, userID)
		return nil
	})
}

// Presence returns the room's presence list for REST readers.
func (c *ChatCoordinator) Presence(ctx context.Context, roomID, requesterID uuid.UUID) (dto.PresenceListPayload, error) {
	if err := c.authorizeReader(ctx, roomID, requesterID); err != nil {
		return dto.PresenceListPayload{}, err
	}
	entries, err := c.presence.List(ctx, roomID.String())
	if err != nil {
		return dto.PresenceListPayload{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return dto.NewPresenceListPayload(roomID, entries), nil
}

// History returns durable history for REST readers.
func (c *ChatCoordinator) History(ctx context.Context, roomID, requesterID uuid.UUID, limit int) ([]*entity.ChatMessage, error) {
	if err := c.authorizeReader(ctx, roomID, requesterID); err != nil {
		return nil, err
	}
	msgs, err := c.pipeline.Recent(ctx, roomID, limit)
	if err != nil {
		return nil, err
	}
	if msgs == nil {
		msgs = []*entity.ChatMessage{}
	}
	return msgs, nil
}

func (c *ChatCoordinator) authorizeReader(ctx context.Context, roomID, requesterID uuid.UUID) error {
	var member bool
	err := retryOnce(ctx, func() (err error) {
		member, err = c.oracle.IsMember(ctx, roomID, requesterID)
		return err
	})
	if err != nil {
		return fmt.Errorf("%w: membership check: %v", ErrUnavailable, err)
	}
	if !member {
		return ErrNotAuthorized
	}
	return nil
}
