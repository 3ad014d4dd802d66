package chathub_test

import (
	"sync"

	"github.com/billychen0894/spareTalk/internal/chathub"
	"github.com/billychen0894/spareTalk/internal/models"
)

type MockClient struct {
	connID string
	lang   string
	cred   models.Session

	mu        sync.Mutex
	roomID    string
	sessionID string
	frames    []chathub.Outbound
	acked     int
	closed    bool
}

func newMockClient(connID string) *MockClient {
	return &MockClient{connID: connID, lang: "en"}
}

func (c *MockClient) GetConnID() string             { return c.connID }
func (c *MockClient) GetLang() string               { return c.lang }
func (c *MockClient) GetCredential() models.Session { return c.cred }

func (c *MockClient) GetRoomID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.roomID
}

func (c *MockClient) GetSessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

func (c *MockClient) Bind(roomID, sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.roomID, c.sessionID = roomID, sessionID
}

func (c *MockClient) Unbind(roomID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.roomID != roomID {
		return false
	}
	c.roomID, c.sessionID = "", ""
	return true
}

func (c *MockClient) Deliver(out chathub.Outbound) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.frames = append(c.frames, out)
	return true
}

func (c *MockClient) Run() {}

func (c *MockClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func (c *MockClient) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Flush acts as the write pump: every frame not yet written is acknowledged
// in delivery order.
func (c *MockClient) Flush() {
	c.mu.Lock()
	pending := c.frames[c.acked:]
	c.acked = len(c.frames)
	c.mu.Unlock()

	for _, out := range pending {
		if out.OnWritten != nil {
			out.OnWritten()
		}
	}
}

func (c *MockClient) envelopes() []models.Envelope {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.Envelope, 0, len(c.frames))
	for _, f := range c.frames {
		out = append(out, f.Envelope)
	}
	return out
}

func (c *MockClient) Events() []string {
	var events []string
	for _, env := range c.envelopes() {
		events = append(events, env.Event)
	}
	return events
}

func (c *MockClient) Count(event string) int {
	n := 0
	for _, env := range c.envelopes() {
		if env.Event == event {
			n++
		}
	}
	return n
}

// Last returns the most recent frame of event.
func (c *MockClient) Last(event string) (models.Envelope, bool) {
	envs := c.envelopes()
	for i := len(envs) - 1; i >= 0; i-- {
		if envs[i].Event == event {
			return envs[i], true
		}
	}
	return models.Envelope{}, false
}
