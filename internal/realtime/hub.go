package realtime

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jidokhae/backend/internal/models"
)

const (
	// PingInterval and PongWait are used for heartbeat.
	PingInterval = 30
	PongWait     = 60

	// EventOccupancy carries a models.Occupancy snapshot.
	EventOccupancy = "occupancy"
)

// Hub maintains meeting_id -> set of connections and broadcasts seat changes.
// Uses Redis pub/sub for horizontal scaling: a change committed on any instance reaches every viewer.
type Hub struct {
	meetings map[uuid.UUID]map[string]*Client
	subs     map[uuid.UUID]func() // cancel Redis subscription per meeting
	pending  map[uuid.UUID]bool   // subscription being opened
	mu       sync.RWMutex
	logger   *zap.Logger
	redis    RedisPublisher
	redisSub RedisSubscriber
}

// RedisPublisher is the interface for publishing to Redis (for cross-instance broadcast).
type RedisPublisher interface {
	PublishMeetingEvent(ctx context.Context, meetingID uuid.UUID, event string, payload []byte) error
}

// RedisSubscriber subscribes to meeting channels and invokes handler for incoming events.
type RedisSubscriber interface {
	SubscribeMeeting(meetingID uuid.UUID, handler func(event string, payload []byte)) (cancel func(), err error)
}

// NewHub creates a new WebSocket hub. Both Redis sides may be nil for a single instance.
func NewHub(logger *zap.Logger, redisPub RedisPublisher, redisSub RedisSubscriber) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		meetings: make(map[uuid.UUID]map[string]*Client),
		subs:     make(map[uuid.UUID]func()),
		pending:  make(map[uuid.UUID]bool),
		logger:   logger,
		redis:    redisPub,
		redisSub: redisSub,
	}
}

// Register adds a client to a meeting room. Starts the Redis subscription for the meeting if first client.
// The subscribe round trip runs outside the lock so other rooms keep broadcasting meanwhile.
func (h *Hub) Register(c *Client) {
	meetingID := c.MeetingID
	h.mu.Lock()
	if h.meetings[meetingID] == nil {
		h.meetings[meetingID] = make(map[string]*Client)
	}
	h.meetings[meetingID][c.ID] = c
	subscribe := h.redisSub != nil && h.subs[meetingID] == nil && !h.pending[meetingID]
	if subscribe {
		h.pending[meetingID] = true
	}
	h.mu.Unlock()
	h.logger.Debug("viewer joined meeting", zap.String("client_id", c.ID), zap.String("meeting_id", meetingID.String()))

	if subscribe {
		h.subscribe(meetingID)
	}
}

func (h *Hub) subscribe(meetingID uuid.UUID) {
	cancel, err := h.redisSub.SubscribeMeeting(meetingID, func(event string, payload []byte) {
		h.Broadcast(meetingID, event, json.RawMessage(payload))
	})
	h.mu.Lock()
	delete(h.pending, meetingID)
	if err != nil {
		h.mu.Unlock()
		h.logger.Warn("meeting subscription failed", zap.String("meeting_id", meetingID.String()), zap.Error(err))
		return
	}
	if len(h.meetings[meetingID]) == 0 {
		// Everyone left while the subscription was opening.
		h.mu.Unlock()
		cancel()
		return
	}
	h.subs[meetingID] = cancel
	h.mu.Unlock()
}

// Unregister removes a client from a meeting room. Cancels the Redis subscription when the last client leaves.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	m, ok := h.meetings[c.MeetingID]
	if !ok {
		return
	}
	delete(m, c.ID)
	if len(m) == 0 {
		delete(h.meetings, c.MeetingID)
		if cancel, ok := h.subs[c.MeetingID]; ok {
			cancel()
			delete(h.subs, c.MeetingID)
		}
	}
	h.logger.Debug("viewer left meeting", zap.String("client_id", c.ID), zap.String("meeting_id", c.MeetingID.String()))
}

// Broadcast sends a message to all clients watching a meeting (local only).
func (h *Hub) Broadcast(meetingID uuid.UUID, event string, payload interface{}) {
	msg, err := encode(event, payload)
	if err != nil {
		return
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.meetings[meetingID] {
		select {
		case c.send <- msg:
		default:
			// buffer full, skip
		}
	}
}

// PublishOccupancy announces a committed seat change. With Redis configured it only publishes, so
// the subscriber callback delivers once on every instance including this one.
func (h *Hub) PublishOccupancy(ctx context.Context, occ models.Occupancy) error {
	if h.redis == nil {
		h.Broadcast(occ.MeetingID, EventOccupancy, occ)
		return nil
	}
	data, err := json.Marshal(occ)
	if err != nil {
		return err
	}
	return h.redis.PublishMeetingEvent(ctx, occ.MeetingID, EventOccupancy, data)
}

// ViewerCount returns the number of connected clients for a meeting.
func (h *Hub) ViewerCount(meetingID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.meetings[meetingID])
}

// sendTo queues a message for one client.
func (h *Hub) sendTo(c *Client, event string, payload interface{}) {
	msg, err := encode(event, payload)
	if err != nil {
		return
	}
	select {
	case c.send <- msg:
	default:
	}
}

func encode(event string, payload interface{}) (WSMessage, error) {
	var data []byte
	switch v := payload.(type) {
	case []byte:
		data = v
	case json.RawMessage:
		data = v
	default:
		var err error
		if data, err = json.Marshal(payload); err != nil {
			return WSMessage{}, err
		}
	}
	return WSMessage{Event: event, Data: data}, nil
}
