package client

import (
	"context"
	"encoding/json"
	"net/url"
	"sync"
	"time"

	"github.com/billychen0894/spareTalk/internal/errorx"
	"github.com/billychen0894/spareTalk/internal/models"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait    = 10 * time.Second
	eventsBuffer = 64
)

// EventKind tells what a connection Event carries.
type EventKind int

const (
	// EventFrame is a decoded server frame.
	EventFrame EventKind = iota
	// EventDisconnected means the socket of that generation went away.
	EventDisconnected
	// EventConnectError means the dial of that generation failed.
	EventConnectError
)

// Event is one item on the ConnectionManager's events channel. Gen is the
// generation of the connection that produced it.
type Event struct {
	Gen      uint64
	Kind     EventKind
	Envelope models.Envelope
	Err      error
}

// ConnectionManager owns the client's websocket. Every Connect starts a new
// generation; frames of older generations never reach the consumer.
type ConnectionManager struct {
	serverURL string
	dialer    *websocket.Dialer
	events    chan Event

	mu   sync.Mutex
	cred models.Session
	lang string
	gen  uint64
	conn *websocket.Conn
	done chan struct{}

	writeMu sync.Mutex
}

// NewConnectionManager prepares a manager for serverURL (ws:// or wss://,
// path included). dialer may be nil.
func NewConnectionManager(serverURL string, dialer *websocket.Dialer) *ConnectionManager {
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	return &ConnectionManager{
		serverURL: serverURL,
		dialer:    dialer,
		events:    make(chan Event, eventsBuffer),
	}
}

// SetCredential sets the session sent with the next Connect. An empty
// session connects fresh.
func (m *ConnectionManager) SetCredential(s models.Session) {
	m.mu.Lock()
	m.cred = s
	m.mu.Unlock()
}

// SetLang asks the server for notices in lang.
func (m *ConnectionManager) SetLang(lang string) {
	m.mu.Lock()
	m.lang = lang
	m.mu.Unlock()
}

// Events is the single channel every connection reports on.
func (m *ConnectionManager) Events() <-chan Event { return m.events }

// Gen is the current generation.
func (m *ConnectionManager) Gen() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gen
}

// Stale reports whether ev belongs to a replaced connection.
func (m *ConnectionManager) Stale(ev Event) bool {
	return ev.Gen != m.Gen()
}

// Connected reports whether a socket is open.
func (m *ConnectionManager) Connected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.conn != nil
}

// Connect replaces any open connection with a new one. A failed dial is
// reported both as the returned transport error and as an
// EventConnectError; it is not retried.
func (m *ConnectionManager) Connect(ctx context.Context) error {
	m.mu.Lock()
	m.gen++
	gen := m.gen
	m.closeLocked()
	endpoint, err := m.endpointLocked()
	m.mu.Unlock()
	if err != nil {
		return errorx.Wrapf(err, errorx.KindTransport, "invalid server url %q", m.serverURL)
	}

	conn, resp, err := m.dialer.DialContext(ctx, endpoint, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		terr := errorx.Wrapf(err, errorx.KindTransport, "connect to %s", m.serverURL)
		select {
		case m.events <- Event{Gen: gen, Kind: EventConnectError, Err: terr}:
		default:
			zap.L().Warn("client events channel full, dropping connect error")
		}
		return terr
	}

	m.mu.Lock()
	if m.gen != gen {
		m.mu.Unlock()
		_ = conn.Close()
		return errorx.New(errorx.KindTransport, "connection superseded")
	}
	done := make(chan struct{})
	m.conn, m.done = conn, done
	m.mu.Unlock()

	go m.read(gen, conn, done)
	return nil
}

// Disconnect closes the socket without reporting it. Events of the closed
// generation that are still queued turn stale.
func (m *ConnectionManager) Disconnect() {
	m.mu.Lock()
	m.gen++
	m.closeLocked()
	m.mu.Unlock()
}

// Emit sends one request frame on the current connection.
func (m *ConnectionManager) Emit(event, correlationID string, payload any) error {
	env, err := models.NewEnvelope(event, correlationID, payload)
	if err != nil {
		return errorx.Wrap(err, errorx.KindProtocol, "encode "+event)
	}

	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()
	if conn == nil {
		return errorx.New(errorx.KindTransport, "not connected")
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(env); err != nil {
		return errorx.Wrapf(err, errorx.KindTransport, "send %s", event)
	}
	return nil
}

func (m *ConnectionManager) endpointLocked() (string, error) {
	u, err := url.Parse(m.serverURL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	if m.cred.Complete() {
		q.Set("sessionId", m.cred.SessionID)
		q.Set("chatRoomId", m.cred.ChatRoomID)
	}
	if m.lang != "" {
		q.Set("lang", m.lang)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (m *ConnectionManager) closeLocked() {
	if m.conn == nil {
		return
	}
	close(m.done)
	_ = m.conn.Close()
	m.conn, m.done = nil, nil
}

func (m *ConnectionManager) read(gen uint64, conn *websocket.Conn, done <-chan struct{}) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			m.mu.Lock()
			if m.conn == conn {
				m.conn, m.done = nil, nil
			}
			m.mu.Unlock()
			m.deliver(done, Event{Gen: gen, Kind: EventDisconnected, Err: errorx.Wrap(err, errorx.KindTransport, "connection lost")})
			return
		}

		var env models.Envelope
		if err := json.Unmarshal(data, &env); err != nil || env.Event == "" {
			zap.L().Warn("discarding malformed server frame", zap.Uint64("gen", gen), zap.Error(err))
			continue
		}
		if !m.deliver(done, Event{Gen: gen, Kind: EventFrame, Envelope: env}) {
			return
		}
	}
}

// deliver blocks until the consumer takes ev or the connection is
// closed locally.
func (m *ConnectionManager) deliver(done <-chan struct{}, ev Event) bool {
	select {
	case <-done:
		return false
	default:
	}
	select {
	case m.events <- ev:
		return true
	case <-done:
		return false
	}
}
