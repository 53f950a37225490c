// Package broadcast implements the real-time WebSocket fan-out (spec §4.7):
// authenticated connections, scoped subscriptions (all/workspace/session),
// ping/pong keepalive, and best-effort broadcast that never blocks
// ingestion. Structurally adapted from the teacher's
// pkg/events.ConnectionManager — connection map + per-channel subscriber set
// guarded by two RWMutexes, snapshot-then-send so no lock is held during I/O.
package broadcast

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
)

// Scope is a canonical subscription string: "all", "workspace:<id>", or
// "session:<id>" (§4.7).
type Scope string

// ScopeAll matches every broadcast event.
const ScopeAll Scope = "all"

// ParseScope validates and canonicalizes a client-supplied scope string.
func ParseScope(raw string) (Scope, bool) {
	if raw == "all" {
		return ScopeAll, true
	}
	if strings.HasPrefix(raw, "workspace:") || strings.HasPrefix(raw, "session:") {
		return Scope(raw), true
	}
	return "", false
}

// matches reports whether this subscription scope should receive an event
// with the given workspace/session ids.
func (s Scope) matches(workspaceID, sessionID string) bool {
	switch {
	case s == ScopeAll:
		return true
	case strings.HasPrefix(string(s), "workspace:"):
		return strings.TrimPrefix(string(s), "workspace:") == workspaceID
	case strings.HasPrefix(string(s), "session:"):
		return sessionID != "" && strings.TrimPrefix(string(s), "session:") == sessionID
	default:
		return false
	}
}

// EventPayload is a server→client `{type:"event", event:{...}}` message body.
type EventPayload struct {
	WorkspaceID string          `json:"workspace_id"`
	SessionID   string          `json:"session_id,omitempty"`
	Type        string          `json:"type"`
	Data        json.RawMessage `json:"data"`
}

// SessionUpdate is a server→client `session.update` message — a single flat
// object per §4.7's wire contract, not nested under its own key (every
// observable pipeline mutation per §4.5 emits one of these).
type SessionUpdate struct {
	Type        string  `json:"type"`
	SessionID   string  `json:"session_id"`
	WorkspaceID string  `json:"workspace_id"`
	Lifecycle   string  `json:"lifecycle"`
	Summary     *string `json:"summary,omitempty"`
	Stats       any     `json:"stats,omitempty"`
}

// clientMessage is the shape of a client→server WebSocket message.
type clientMessage struct {
	Type  string `json:"type"`
	Scope string `json:"scope"`
}

// Config tunes keepalive behavior.
type Config struct {
	PingInterval time.Duration
	PongTimeout  time.Duration
	WriteTimeout time.Duration
	AuthToken    string
}

// connection is a single upgraded WebSocket client.
//
// subscriptions is owned exclusively by this connection's own read-loop
// goroutine (plus its deferred cleanup), so it needs no lock of its own —
// the same invariant as the teacher's Connection.subscriptions.
type connection struct {
	id            string
	conn          *websocket.Conn
	subscriptions map[Scope]bool
	lastSeen      atomicTime
	ctx           context.Context
	cancel        context.CancelFunc
}

// Manager tracks connections and fans out events to matching subscribers.
type Manager struct {
	cfg Config

	mu          sync.RWMutex
	connections map[string]*connection

	subMu sync.RWMutex
	subs  map[Scope]map[string]bool // scope -> set of connection ids
}

// New builds a Manager.
func New(cfg Config) *Manager {
	return &Manager{
		cfg:         cfg,
		connections: make(map[string]*connection),
		subs:        make(map[Scope]map[string]bool),
	}
}

// ActiveConnections reports the current connection count, used by the
// health endpoint.
func (m *Manager) ActiveConnections() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.connections)
}

// HandleConnection takes an already-upgraded WebSocket connection, enforces
// the token handshake, then owns the connection's lifecycle until it closes
// (§4.7).
func (m *Manager) HandleConnection(ctx context.Context, token string, conn *websocket.Conn) {
	if m.cfg.AuthToken != "" && token != m.cfg.AuthToken {
		_ = conn.Close(websocket.StatusCode(4001), "Unauthorized")
		return
	}

	connCtx, cancel := context.WithCancel(ctx)
	c := &connection{
		id:            uuid.New().String(),
		conn:          conn,
		subscriptions: make(map[Scope]bool),
		ctx:           connCtx,
		cancel:        cancel,
	}
	c.lastSeen.Store(time.Now())

	m.register(c)
	defer m.unregister(c)

	go m.pingLoop(c)

	for {
		_, data, err := conn.Read(connCtx)
		if err != nil {
			return
		}
		c.lastSeen.Store(time.Now())

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			m.sendJSON(c, map[string]string{"type": "error", "message": "malformed JSON"})
			continue
		}
		m.dispatch(c, msg)
	}
}

func (m *Manager) dispatch(c *connection, msg clientMessage) {
	switch msg.Type {
	case "subscribe":
		scope, ok := ParseScope(msg.Scope)
		if !ok {
			m.sendJSON(c, map[string]string{"type": "error", "message": "invalid scope"})
			return
		}
		m.subscribe(c, scope)
		m.sendJSON(c, map[string]string{"type": "subscribed", "subscription": string(scope)})

	case "unsubscribe":
		if msg.Scope == "" {
			m.unsubscribeAll(c)
			m.sendJSON(c, map[string]string{"type": "unsubscribed", "subscription": "all"})
			return
		}
		scope, ok := ParseScope(msg.Scope)
		if !ok {
			m.sendJSON(c, map[string]string{"type": "error", "message": "invalid scope"})
			return
		}
		m.unsubscribe(c, scope)
		m.sendJSON(c, map[string]string{"type": "unsubscribed", "subscription": string(scope)})

	case "pong":
		// lastSeen was already bumped on receipt; nothing else to do.

	default:
		m.sendJSON(c, map[string]string{"type": "error", "message": "unknown message type"})
	}
}

func (m *Manager) subscribe(c *connection, scope Scope) {
	m.subMu.Lock()
	if m.subs[scope] == nil {
		m.subs[scope] = make(map[string]bool)
	}
	m.subs[scope][c.id] = true
	m.subMu.Unlock()
	c.subscriptions[scope] = true
}

func (m *Manager) unsubscribe(c *connection, scope Scope) {
	m.subMu.Lock()
	if set, ok := m.subs[scope]; ok {
		delete(set, c.id)
		if len(set) == 0 {
			delete(m.subs, scope)
		}
	}
	m.subMu.Unlock()
	delete(c.subscriptions, scope)
}

func (m *Manager) unsubscribeAll(c *connection) {
	for scope := range c.subscriptions {
		m.unsubscribe(c, scope)
	}
}

// BroadcastEvent fans an ingested event out to every subscription whose
// scope matches (workspaceID, sessionID) — best-effort, never blocking
// ingestion on a slow or dead connection.
func (m *Manager) BroadcastEvent(workspaceID, sessionID string, payload EventPayload) {
	data, err := json.Marshal(map[string]any{"type": "event", "event": payload})
	if err != nil {
		slog.Warn("marshal broadcast event", "error", err)
		return
	}
	m.fanOut(workspaceID, sessionID, data)
}

// BroadcastSessionUpdate fans a session.update out the same way (§4.5).
func (m *Manager) BroadcastSessionUpdate(update SessionUpdate) {
	update.Type = "session.update"
	data, err := json.Marshal(update)
	if err != nil {
		slog.Warn("marshal session update", "error", err)
		return
	}
	m.fanOut(update.WorkspaceID, update.SessionID, data)
}

func (m *Manager) fanOut(workspaceID, sessionID string, data []byte) {
	matched := make(map[string]bool)

	m.subMu.RLock()
	for scope, ids := range m.subs {
		if !scope.matches(workspaceID, sessionID) {
			continue
		}
		for id := range ids {
			matched[id] = true
		}
	}
	m.subMu.RUnlock()

	if len(matched) == 0 {
		return
	}

	// Snapshot connection pointers before any I/O, never hold the
	// connection-map lock during a send (§5's shared-resource rule).
	m.mu.RLock()
	conns := make([]*connection, 0, len(matched))
	for id := range matched {
		if c, ok := m.connections[id]; ok {
			conns = append(conns, c)
		}
	}
	m.mu.RUnlock()

	for _, c := range conns {
		if err := m.sendRaw(c, data); err != nil {
			slog.Debug("broadcast send failed, dropping connection from this fan-out", "connection_id", c.id, "error", err)
		}
	}
}

// pingLoop sends periodic pings and terminates connections that go silent
// past PongTimeout (§4.7's abnormal-close keepalive contract).
func (m *Manager) pingLoop(c *connection) {
	ticker := time.NewTicker(m.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			if time.Since(c.lastSeen.Load()) > m.cfg.PingInterval+m.cfg.PongTimeout {
				_ = c.conn.Close(websocket.StatusPolicyViolation, "ping timeout")
				c.cancel()
				return
			}
			m.sendJSON(c, map[string]string{"type": "ping"})
		}
	}
}

func (m *Manager) register(c *connection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connections[c.id] = c
}

func (m *Manager) unregister(c *connection) {
	m.unsubscribeAll(c)
	m.mu.Lock()
	delete(m.connections, c.id)
	m.mu.Unlock()
	c.cancel()
	_ = c.conn.Close(websocket.StatusNormalClosure, "")
}

func (m *Manager) sendJSON(c *connection, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Warn("marshal ws message", "connection_id", c.id, "error", err)
		return
	}
	if err := m.sendRaw(c, data); err != nil {
		slog.Debug("send ws message", "connection_id", c.id, "error", err)
	}
}

func (m *Manager) sendRaw(c *connection, data []byte) error {
	writeCtx, cancel := context.WithTimeout(c.ctx, m.cfg.WriteTimeout)
	defer cancel()
	return c.conn.Write(writeCtx, websocket.MessageText, data)
}

// Shutdown closes every connection with code 1001 and clears the map (§4.7's
// shutdown sequence).
func (m *Manager) Shutdown() {
	m.mu.Lock()
	conns := make([]*connection, 0, len(m.connections))
	for _, c := range m.connections {
		conns = append(conns, c)
	}
	m.connections = make(map[string]*connection)
	m.mu.Unlock()

	for _, c := range conns {
		_ = c.conn.Close(websocket.StatusGoingAway, "server shutting down")
		c.cancel()
	}
}
