// Package ws owns the connection registry and the real-time event surface:
// it binds sockets to user identities, translates client intents into engine
// calls, and pushes engine outcomes back to the right connections.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"skillswap-backend/internal/invites"
	"skillswap-backend/internal/matchmaking"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// TODO: restrict origins once the client host is pinned down
		return true
	},
}

// Intents is the engine surface the dispatcher drives.
type Intents interface {
	FindMatch(ctx context.Context, userID, targetID string) (*matchmaking.Result, error)
	SendInvite(ctx context.Context, senderID, targetID string) (*invites.Invite, error)
	CancelSearch(userID string) bool
	HandleDisconnect(userID string)
	HandleReconnect(userID string)
}

// Conn is the subset of *websocket.Conn the manager uses; tests substitute
// fakes.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

type Event struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type Client struct {
	userID    string
	conn      Conn
	send      chan []byte
	closeOnce sync.Once
}

func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.send)
	})
}

type Manager struct {
	intents Intents
	log     zerolog.Logger

	mu      sync.RWMutex
	clients map[string]*Client
}

func NewManager(log zerolog.Logger) *Manager {
	return &Manager{
		log:     log,
		clients: make(map[string]*Client),
	}
}

// SetIntents wires the engine in after construction; the manager and the
// engine reference each other (intents one way, notifications the other).
// Must be called before the manager serves connections.
func (m *Manager) SetIntents(intents Intents) {
	m.intents = intents
}

// HandleWebSocket upgrades the connection and serves it until the client
// disconnects. Identity is established by the join_user event, not by the
// URL, so a reconnecting client can rebind without losing queue state.
func (m *Manager) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		m.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := &Client{conn: conn, send: make(chan []byte, 256)}
	go m.writePump(client)
	m.readPump(context.Background(), client)
}

func (m *Manager) readPump(ctx context.Context, client *Client) {
	defer func() {
		// A superseded connection (the user rebound elsewhere) must not
		// report a disconnect: the user is still live on the new socket.
		wasBound := m.dropClient(client)
		client.conn.Close()
		if wasBound && client.userID != "" {
			m.intents.HandleDisconnect(client.userID)
		}
	}()

	for {
		_, raw, err := client.conn.ReadMessage()
		if err != nil {
			return
		}

		var ev Event
		if err := json.Unmarshal(raw, &ev); err != nil {
			m.sendError(client, "malformed event")
			continue
		}
		m.dispatch(ctx, client, ev)
	}
}

func (m *Manager) writePump(client *Client) {
	defer client.conn.Close()

	for message := range client.send {
		if err := client.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			return
		}
	}
}

func (m *Manager) dispatch(ctx context.Context, client *Client, ev Event) {
	switch ev.Type {
	case "join_user":
		var data struct {
			UserID string `json:"user_id"`
		}
		if err := json.Unmarshal(ev.Data, &data); err != nil || data.UserID == "" {
			m.sendError(client, "join_user requires user_id")
			return
		}
		m.bind(client, data.UserID)

	case "find_match":
		if client.userID == "" {
			m.sendError(client, "join_user first")
			return
		}
		var data struct {
			UserID       string `json:"user_id"`
			TargetUserID string `json:"target_user_id"`
		}
		if len(ev.Data) > 0 {
			_ = json.Unmarshal(ev.Data, &data)
		}
		res, err := m.intents.FindMatch(ctx, client.userID, data.TargetUserID)
		if err != nil {
			m.sendError(client, err.Error())
			return
		}
		if res.Status == matchmaking.ResultSearching {
			// match_found is pushed by the engine to both sides when a
			// pairing succeeds, so only the searching outcome is echoed.
			m.push(client.userID, "searching", nil)
		}

	case "send_invite":
		if client.userID == "" {
			m.sendError(client, "join_user first")
			return
		}
		var data struct {
			TargetUserID string `json:"target_user_id"`
			SenderID     string `json:"sender_id"`
		}
		if err := json.Unmarshal(ev.Data, &data); err != nil || data.TargetUserID == "" {
			m.sendError(client, "send_invite requires target_user_id")
			return
		}
		inv, err := m.intents.SendInvite(ctx, client.userID, data.TargetUserID)
		if err != nil {
			m.sendError(client, err.Error())
			return
		}
		m.push(client.userID, "invite_sent", map[string]string{
			"invite_id":      inv.ID.String(),
			"target_user_id": inv.ToUserID,
		})

	case "cancel_search":
		if client.userID == "" {
			m.sendError(client, "join_user first")
			return
		}
		wasSearching := m.intents.CancelSearch(client.userID)
		m.push(client.userID, "search_cancelled", map[string]bool{
			"was_searching": wasSearching,
		})

	default:
		m.sendError(client, "unknown event type: "+ev.Type)
	}
}

// bind attaches the connection to a user identity. A rebind closes the
// previous connection; pool and invite state survive.
func (m *Manager) bind(client *Client, userID string) {
	m.mu.Lock()
	if old, ok := m.clients[userID]; ok && old != client {
		old.close()
		old.conn.Close()
	}
	client.userID = userID
	m.clients[userID] = client
	m.mu.Unlock()

	m.intents.HandleReconnect(userID)
	m.log.Info().Str("user_id", userID).Msg("connection bound")
}

// dropClient removes the connection from the registry and reports whether
// it was still the user's current binding. False means a rebind already
// replaced it.
func (m *Manager) dropClient(client *Client) bool {
	client.close()
	if client.userID == "" {
		return false
	}
	m.mu.Lock()
	current, ok := m.clients[client.userID]
	removed := ok && current == client
	if removed {
		delete(m.clients, client.userID)
	}
	m.mu.Unlock()
	if removed {
		m.log.Info().Str("user_id", client.userID).Msg("connection dropped")
	}
	return removed
}

// MatchFound implements matchmaking.Notifier.
func (m *Manager) MatchFound(userID string, payload matchmaking.MatchPayload) {
	m.push(userID, "match_found", map[string]interface{}{
		"room_id":    payload.RoomID,
		"session_id": payload.SessionID,
		"partner":    payload.Partner,
	})
}

// MatchFailed implements matchmaking.Notifier.
func (m *Manager) MatchFailed(userID string, reason string) {
	m.push(userID, "match_failed", map[string]string{"message": reason})
}

func (m *Manager) Connected(userID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.clients[userID]
	return ok
}

func (m *Manager) push(userID, eventType string, data interface{}) {
	m.mu.RLock()
	client, ok := m.clients[userID]
	m.mu.RUnlock()
	if !ok {
		return
	}
	m.deliver(client, eventType, data)
}

func (m *Manager) sendError(client *Client, message string) {
	m.deliver(client, "error", map[string]string{"message": message})
}

func (m *Manager) deliver(client *Client, eventType string, data interface{}) {
	payload, err := marshalEvent(eventType, data)
	if err != nil {
		m.log.Error().Err(err).Str("event", eventType).Msg("marshaling event")
		return
	}

	select {
	case client.send <- payload:
	default:
		// Slow consumer: drop the connection rather than block the engine.
		m.log.Warn().Str("user_id", client.userID).Msg("send buffer full, dropping connection")
		m.dropClient(client)
	}
}

func marshalEvent(eventType string, data interface{}) ([]byte, error) {
	var raw json.RawMessage
	if data != nil {
		b, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		raw = b
	}
	return json.Marshal(Event{Type: eventType, Data: raw})
}
