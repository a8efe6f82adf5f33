package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/easyinjection/scand/pkg/config"
)

// ClientMessage is the inbound socket envelope.
type ClientMessage struct {
	Action         string               `json:"action"`
	ScanID         string               `json:"scan_id,omitempty"`
	Config         *config.RawScanConfig `json:"config,omitempty"`
	SelectedAnswer *int                 `json:"selected_answer,omitempty"`
}

// ScanController is the command surface the socket drives. Implemented by
// the session manager.
type ScanController interface {
	Create(ownerID string, raw config.RawScanConfig) (string, error)
	Start(scanID, ownerID string) error
	Pause(scanID, ownerID string) error
	Resume(scanID, ownerID string) error
	Stop(scanID, ownerID string) error
	Answer(scanID, ownerID string, selected int) error
	Owns(scanID, ownerID string) bool
}

// ConnectionManager manages WebSocket connections and their scan-channel
// subscriptions. One instance per process.
type ConnectionManager struct {
	controller ScanController

	mu          sync.RWMutex
	connections map[string]*Connection

	channelMu sync.RWMutex
	channels  map[string]map[string]bool

	writeTimeout time.Duration
}

// Connection represents a single WebSocket client.
//
// subscriptions is accessed without a lock: all reads and writes happen on
// the goroutine that owns the connection (HandleConnection's read loop and
// its deferred cleanup).
type Connection struct {
	ID     string
	UserID string
	Conn   *websocket.Conn

	subscriptions map[string]bool
	ctx           context.Context
	cancel        context.CancelFunc
}

// NewConnectionManager creates an empty manager. controller may be nil at
// construction time to break the manager/controller wiring cycle; it must be
// set via SetController before the first connection is accepted.
func NewConnectionManager(controller ScanController, writeTimeout time.Duration) *ConnectionManager {
	return &ConnectionManager{
		controller:   controller,
		connections:  make(map[string]*Connection),
		channels:     make(map[string]map[string]bool),
		writeTimeout: writeTimeout,
	}
}

// SetController installs the command surface. Not safe to call once
// connections are being served.
func (m *ConnectionManager) SetController(controller ScanController) {
	m.controller = controller
}

// BindScan subscribes the manager to every event on a scan's bus and fans
// them out to that scan's channel. Installed as a session hook so no event
// is published before the fan-out exists.
func (m *ConnectionManager) BindScan(_ string, bus *Bus) {
	for _, typ := range AllEventTypes {
		bus.Subscribe(typ, m.BroadcastEvent)
	}
}

// BroadcastEvent wraps a bus event in the wire envelope and sends it to the
// scan's subscribers.
func (m *ConnectionManager) BroadcastEvent(evt Event) {
	data, err := json.Marshal(WireMessage{
		Type:      evt.Type,
		ScanID:    evt.ScanID,
		Payload:   evt.Payload,
		Timestamp: time.Now().UTC(),
	})
	if err != nil {
		slog.Warn("failed to marshal event", "type", evt.Type, "error", err)
		return
	}
	m.Broadcast(ScanChannel(evt.ScanID), data)
}

// HandleConnection runs the read loop of one authenticated connection.
// Blocks until the client disconnects. userID comes from the bearer-token
// handshake done by the HTTP layer.
func (m *ConnectionManager) HandleConnection(parentCtx context.Context, conn *websocket.Conn, userID string) {
	ctx, cancel := context.WithCancel(parentCtx)
	c := &Connection{
		ID:            uuid.NewString(),
		UserID:        userID,
		Conn:          conn,
		subscriptions: make(map[string]bool),
		ctx:           ctx,
		cancel:        cancel,
	}

	m.registerConnection(c)
	defer m.unregisterConnection(c)

	m.sendJSON(c, map[string]string{
		"type":          "connection.established",
		"connection_id": c.ID,
	})

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Warn("invalid socket message", "connection_id", c.ID, "error", err)
			continue
		}
		m.handleClientMessage(c, &msg)
	}
}

func (m *ConnectionManager) handleClientMessage(c *Connection, msg *ClientMessage) {
	switch msg.Action {
	case "scan:start":
		m.handleStart(c, msg)

	case "scan:join":
		if !m.requireOwnership(c, msg.ScanID, msg.Action) {
			return
		}
		m.subscribe(c, ScanChannel(msg.ScanID))
		m.sendJSON(c, map[string]string{"type": "scan.joined", "scan_id": msg.ScanID})

	case "scan:pause":
		m.runCommand(c, msg, m.controller.Pause)

	case "scan:resume":
		m.runCommand(c, msg, m.controller.Resume)

	case "scan:stop":
		m.runCommand(c, msg, m.controller.Stop)

	case "question:answer":
		if msg.SelectedAnswer == nil {
			m.sendError(c, "selected_answer is required")
			return
		}
		if err := m.controller.Answer(msg.ScanID, c.UserID, *msg.SelectedAnswer); err != nil {
			m.sendError(c, err.Error())
		}

	case "ping":
		m.sendJSON(c, map[string]string{"type": "pong"})

	default:
		m.sendError(c, "unknown action: "+msg.Action)
	}
}

// handleStart creates the scan when the message carries a configuration,
// then subscribes the caller and launches the orchestrator task. Joining
// before starting guarantees the client sees scan:started.
func (m *ConnectionManager) handleStart(c *Connection, msg *ClientMessage) {
	scanID := msg.ScanID
	if scanID == "" {
		if msg.Config == nil {
			m.sendError(c, "config is required to start a new scan")
			return
		}
		created, err := m.controller.Create(c.UserID, *msg.Config)
		if err != nil {
			m.sendError(c, err.Error())
			return
		}
		scanID = created
	} else if !m.requireOwnership(c, scanID, msg.Action) {
		return
	}

	m.subscribe(c, ScanChannel(scanID))
	m.sendJSON(c, map[string]string{"type": "scan.created", "scan_id": scanID})

	if err := m.controller.Start(scanID, c.UserID); err != nil {
		m.sendError(c, err.Error())
	}
}

func (m *ConnectionManager) runCommand(c *Connection, msg *ClientMessage, cmd func(scanID, ownerID string) error) {
	if msg.ScanID == "" {
		m.sendError(c, "scan_id is required for "+msg.Action)
		return
	}
	if err := cmd(msg.ScanID, c.UserID); err != nil {
		m.sendError(c, err.Error())
	}
}

func (m *ConnectionManager) requireOwnership(c *Connection, scanID, action string) bool {
	if scanID == "" {
		m.sendError(c, "scan_id is required for "+action)
		return false
	}
	if !m.controller.Owns(scanID, c.UserID) {
		m.sendError(c, "scan not found")
		return false
	}
	return true
}

// Broadcast sends raw bytes to every subscriber of a channel.
func (m *ConnectionManager) Broadcast(channel string, data []byte) {
	m.channelMu.RLock()
	connIDs, exists := m.channels[channel]
	if !exists {
		m.channelMu.RUnlock()
		return
	}
	ids := make([]string, 0, len(connIDs))
	for id := range connIDs {
		ids = append(ids, id)
	}
	m.channelMu.RUnlock()

	// Snapshot pointers before sending so slow writes never hold the lock.
	m.mu.RLock()
	conns := make([]*Connection, 0, len(ids))
	for _, id := range ids {
		if conn, ok := m.connections[id]; ok {
			conns = append(conns, conn)
		}
	}
	m.mu.RUnlock()

	for _, conn := range conns {
		if err := m.sendRaw(conn, data); err != nil {
			slog.Warn("failed to send to socket client", "connection_id", conn.ID, "error", err)
		}
	}
}

// ActiveConnections returns the count of connected clients.
func (m *ConnectionManager) ActiveConnections() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.connections)
}

func (m *ConnectionManager) subscriberCount(channel string) int {
	m.channelMu.RLock()
	defer m.channelMu.RUnlock()
	return len(m.channels[channel])
}

func (m *ConnectionManager) subscribe(c *Connection, channel string) {
	m.channelMu.Lock()
	if _, exists := m.channels[channel]; !exists {
		m.channels[channel] = make(map[string]bool)
	}
	m.channels[channel][c.ID] = true
	m.channelMu.Unlock()

	c.subscriptions[channel] = true
}

func (m *ConnectionManager) unsubscribe(c *Connection, channel string) {
	m.channelMu.Lock()
	if subs, exists := m.channels[channel]; exists {
		delete(subs, c.ID)
		if len(subs) == 0 {
			delete(m.channels, channel)
		}
	}
	m.channelMu.Unlock()

	delete(c.subscriptions, channel)
}

func (m *ConnectionManager) registerConnection(c *Connection) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connections[c.ID] = c
}

func (m *ConnectionManager) unregisterConnection(c *Connection) {
	for ch := range c.subscriptions {
		m.unsubscribe(c, ch)
	}

	m.mu.Lock()
	delete(m.connections, c.ID)
	m.mu.Unlock()

	c.cancel()
	_ = c.Conn.Close(websocket.StatusNormalClosure, "")
}

func (m *ConnectionManager) sendError(c *Connection, message string) {
	m.sendJSON(c, map[string]string{"type": "error", "message": message})
}

func (m *ConnectionManager) sendJSON(c *Connection, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		slog.Warn("failed to marshal socket message", "connection_id", c.ID, "error", err)
		return
	}
	if err := m.sendRaw(c, data); err != nil {
		slog.Warn("failed to send socket message", "connection_id", c.ID, "error", err)
	}
}

func (m *ConnectionManager) sendRaw(c *Connection, data []byte) error {
	writeCtx, cancel := context.WithTimeout(c.ctx, m.writeTimeout)
	defer cancel()
	return c.Conn.Write(writeCtx, websocket.MessageText, data)
}
