package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"sportbook-be/internal/dto"
	"sportbook-be/internal/pkg/logger"
	"sportbook-be/pkg/sharedstate"

	"github.com/google/uuid"
)

// envelope is what travels over the shared store between instances.
type envelope struct {
	Origin  string          `json:"origin"`
	RoomID  uuid.UUID       `json:"room_id"`
	Exclude uuid.UUID       `json:"exclude"`
	Target  uuid.UUID       `json:"target"`
	Event   json.RawMessage `json:"event"`
}

func roomChannel(roomID uuid.UUID) string {
	return fmt.Sprintf("chat:room:%s:events", roomID)
}

// Hub owns every socket of this instance and the room membership of each.
// With a shared store it also relays room events to and from the other
// instances of the fleet.
type Hub struct {
	// Registered clients: connection ID -> client
	clients map[string]*Client

	// Local room fan-out: room ID -> connection ID -> client
	rooms map[uuid.UUID]map[string]*Client

	// Unregister requests from clients and from slow-consumer eviction.
	unregister chan *Client
	// Closed when Run returns; pending unregisters are dropped after that.
	done chan struct{}

	// Lock for safe map access
	mu sync.RWMutex

	// Shared store for cross-instance relay, nil in single-process mode
	store      sharedstate.Store
	instanceID string

	subMu sync.Mutex
	subs  map[uuid.UUID]sharedstate.Subscription

	logger logger.ILogger
}

func NewHub(store sharedstate.Store, instanceID string, log logger.ILogger) *Hub {
	return &Hub{
		clients:    make(map[string]*Client),
		rooms:      make(map[uuid.UUID]map[string]*Client),
		unregister: make(chan *Client, 64),
		done:       make(chan struct{}),
		store:      store,
		instanceID: instanceID,
		subs:       make(map[uuid.UUID]sharedstate.Subscription),
		logger:     log,
	}
}

// Run processes unregistrations until ctx is cancelled, then closes every
// room relay.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.subMu.Lock()
			for roomID, sub := range h.subs {
				_ = sub.Close()
				delete(h.subs, roomID)
			}
			h.subMu.Unlock()
			return

		case client := <-h.unregister:
			h.remove(client)
		}
	}
}

func (h *Hub) register(client *Client) {
	h.mu.Lock()
	h.clients[client.ID()] = client
	h.mu.Unlock()
	h.logger.Info("Hub", "Client registered", map[string]interface{}{
		"connection_id":  client.ID(),
		"participant_id": client.Conn.ParticipantID.String(),
	})
}

func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client.ID()]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, client.ID())
	var emptied []uuid.UUID
	for roomID, members := range h.rooms {
		if _, ok := members[client.ID()]; ok {
			delete(members, client.ID())
			if len(members) == 0 {
				delete(h.rooms, roomID)
				emptied = append(emptied, roomID)
			}
		}
	}
	close(client.Send)
	h.mu.Unlock()

	for _, roomID := range emptied {
		h.unsubscribe(roomID)
	}
	h.logger.Info("Hub", "Client unregistered", map[string]interface{}{
		"connection_id": client.ID(),
	})
}

// evict schedules removal of a client whose send buffer is full. Callers
// may hold h.mu.
func (h *Hub) evict(client *Client) {
	h.logger.Warn("Hub", "Client Send buffer full, dropping connection", map[string]interface{}{
		"connection_id": client.ID(),
	})
	go h.requestRemoval(client)
}

func (h *Hub) requestRemoval(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Attach adds a registered connection to a room's local fan-out and, with a
// shared store, makes sure this instance listens to the room channel.
func (h *Hub) Attach(ctx context.Context, roomID uuid.UUID, connID string) error {
	h.mu.Lock()
	client, ok := h.clients[connID]
	if !ok {
		h.mu.Unlock()
		return fmt.Errorf("connection %s is not registered", connID)
	}
	members := h.rooms[roomID]
	if members == nil {
		members = make(map[string]*Client)
		h.rooms[roomID] = members
	}
	members[connID] = client
	h.mu.Unlock()

	return h.subscribe(ctx, roomID)
}

func (h *Hub) Detach(roomID uuid.UUID, connID string) {
	h.mu.Lock()
	members := h.rooms[roomID]
	delete(members, connID)
	empty := len(members) == 0
	if empty {
		delete(h.rooms, roomID)
	}
	h.mu.Unlock()

	if empty {
		h.unsubscribe(roomID)
	}
}

func (h *Hub) subscribe(ctx context.Context, roomID uuid.UUID) error {
	if h.store == nil {
		return nil
	}
	h.subMu.Lock()
	defer h.subMu.Unlock()
	if _, ok := h.subs[roomID]; ok {
		return nil
	}
	sub, err := h.store.Subscribe(ctx, roomChannel(roomID))
	if err != nil {
		return err
	}
	h.subs[roomID] = sub
	go h.relay(roomID, sub)
	return nil
}

func (h *Hub) unsubscribe(roomID uuid.UUID) {
	if h.store == nil {
		return
	}
	h.subMu.Lock()
	defer h.subMu.Unlock()

	// A connection may have re-attached between Detach and here.
	h.mu.RLock()
	_, inUse := h.rooms[roomID]
	h.mu.RUnlock()
	if inUse {
		return
	}
	if sub, ok := h.subs[roomID]; ok {
		_ = sub.Close()
		delete(h.subs, roomID)
	}
}

// relay delivers events other instances published for a room.
func (h *Hub) relay(roomID uuid.UUID, sub sharedstate.Subscription) {
	for payload := range sub.Messages() {
		var env envelope
		if err := json.Unmarshal(payload, &env); err != nil {
			h.logger.Warn("Hub", "Dropping undecodable room event", map[string]interface{}{
				"room_id": roomID.String(),
				"error":   err.Error(),
			})
			continue
		}
		if env.Origin == h.instanceID {
			continue
		}
		h.deliverLocal(env.RoomID, env.Event, env.Exclude, env.Target)
	}
}

// deliverLocal writes data to this instance's connections in the room.
// exclude skips a participant, target restricts to one; uuid.Nil disables
// either filter.
func (h *Hub) deliverLocal(roomID uuid.UUID, data []byte, exclude, target uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	sent := 0
	for _, client := range h.rooms[roomID] {
		pid := client.Conn.ParticipantID
		if exclude != uuid.Nil && pid == exclude {
			continue
		}
		if target != uuid.Nil && pid != target {
			continue
		}
		select {
		case client.Send <- data:
			sent++
		default:
			h.evict(client)
		}
	}
	return sent
}

func (h *Hub) publish(ctx context.Context, roomID uuid.UUID, data []byte, exclude, target uuid.UUID) {
	if h.store == nil {
		return
	}
	payload, err := json.Marshal(envelope{
		Origin:  h.instanceID,
		RoomID:  roomID,
		Exclude: exclude,
		Target:  target,
		Event:   data,
	})
	if err != nil {
		return
	}
	if err := h.store.Publish(ctx, roomChannel(roomID), payload); err != nil {
		h.logger.Warn("Hub", "Cross-instance publish failed", map[string]interface{}{
			"room_id": roomID.String(),
			"error":   err.Error(),
		})
	}
}

func encode(event dto.ChatEvent) ([]byte, error) {
	return json.Marshal(event)
}

// Broadcast sends an event to every connection in the room, across the
// fleet, except those owned by exclude.
func (h *Hub) Broadcast(ctx context.Context, roomID uuid.UUID, event dto.ChatEvent, exclude uuid.UUID) {
	data, err := encode(event)
	if err != nil {
		h.logger.Error("Hub", "Failed to encode event", map[string]interface{}{"type": event.Type, "error": err.Error()})
		return
	}
	h.deliverLocal(roomID, data, exclude, uuid.Nil)
	h.publish(ctx, roomID, data, exclude, uuid.Nil)
}

// SendToParticipant reaches every connection of one participant in the room.
func (h *Hub) SendToParticipant(ctx context.Context, roomID, participantID uuid.UUID, event dto.ChatEvent) {
	data, err := encode(event)
	if err != nil {
		h.logger.Error("Hub", "Failed to encode event", map[string]interface{}{"type": event.Type, "error": err.Error()})
		return
	}
	h.deliverLocal(roomID, data, uuid.Nil, participantID)
	h.publish(ctx, roomID, data, uuid.Nil, participantID)
}

// SendToConnection writes to one local connection only.
func (h *Hub) SendToConnection(connID string, event dto.ChatEvent) {
	data, err := encode(event)
	if err != nil {
		h.logger.Error("Hub", "Failed to encode event", map[string]interface{}{"type": event.Type, "error": err.Error()})
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	client, ok := h.clients[connID]
	if !ok {
		return
	}
	select {
	case client.Send <- data:
	default:
		h.evict(client)
	}
}

// Connections reports how many sockets are registered locally.
func (h *Hub) Connections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
