// Package client is the participant side of the chat protocol: it keeps
// the stored session, owns the websocket, runs the recovery handshake and
// merges history and live traffic into one timeline.
package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/billychen0894/spareTalk/internal/models"
	"github.com/cockroachdb/pebble/v2"
	"github.com/cockroachdb/pebble/v2/vfs"
	"go.uber.org/zap"
)

// SessionKey is the well-known key of the stored session record.
const SessionKey = "chatSession"

// ErrCorruptSession is returned by Load when the stored record cannot be
// decoded.
var ErrCorruptSession = errors.New("stored session is corrupt")

// SessionStore keeps the one {sessionId, chatRoomId} record of this client.
// Load returns an empty session when nothing is stored.
type SessionStore interface {
	Load() (models.Session, error)
	Save(s models.Session) error
	Clear() error
}

// PebbleStore persists the session record in a pebble database so it
// survives restarts of the client.
type PebbleStore struct {
	db *pebble.DB
}

var _ SessionStore = (*PebbleStore)(nil)

// OpenPebbleStore opens (or creates) the database in dir. fs may be nil for
// the OS filesystem.
func OpenPebbleStore(dir string, fs vfs.FS) (*PebbleStore, error) {
	opts := &pebble.Options{Logger: pebbleLogger{}}
	if fs != nil {
		opts.FS = fs
	}
	db, err := pebble.Open(dir, opts)
	if err != nil {
		return nil, fmt.Errorf("open session store %s: %w", dir, err)
	}
	return &PebbleStore{db: db}, nil
}

// pebbleLogger sends pebble's own messages to the client log instead of
// stderr, where they would land in the middle of the chat.
type pebbleLogger struct{}

var _ pebble.Logger = pebbleLogger{}

func (pebbleLogger) Infof(format string, args ...interface{}) {
	zap.L().Named("pebble").Sugar().Debugf(format, args...)
}

func (pebbleLogger) Errorf(format string, args ...interface{}) {
	zap.L().Named("pebble").Sugar().Errorf(format, args...)
}

func (pebbleLogger) Fatalf(format string, args ...interface{}) {
	zap.L().Named("pebble").Sugar().Fatalf(format, args...)
}

func (s *PebbleStore) Load() (models.Session, error) {
	val, closer, err := s.db.Get([]byte(SessionKey))
	if errors.Is(err, pebble.ErrNotFound) {
		return models.Session{}, nil
	}
	if err != nil {
		return models.Session{}, fmt.Errorf("load session: %w", err)
	}
	defer closer.Close()

	var sess models.Session
	if err := json.Unmarshal(val, &sess); err != nil {
		return models.Session{}, fmt.Errorf("%w: %v", ErrCorruptSession, err)
	}
	return sess, nil
}

func (s *PebbleStore) Save(sess models.Session) error {
	val, err := json.Marshal(sess)
	if err != nil {
		return err
	}
	return s.db.Set([]byte(SessionKey), val, pebble.Sync)
}

func (s *PebbleStore) Clear() error {
	return s.db.Delete([]byte(SessionKey), pebble.Sync)
}

// Put stores raw bytes under SessionKey. It exists for tools and tests that
// need to plant a record by hand.
func (s *PebbleStore) Put(raw []byte) error {
	return s.db.Set([]byte(SessionKey), raw, pebble.Sync)
}

func (s *PebbleStore) Close() error {
	return s.db.Close()
}

// MemoryStore is a SessionStore that lives as long as the process.
type MemoryStore struct {
	mu   sync.Mutex
	sess models.Session
}

var _ SessionStore = (*MemoryStore)(nil)

func (m *MemoryStore) Load() (models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sess, nil
}

func (m *MemoryStore) Save(s models.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sess = s
	return nil
}

func (m *MemoryStore) Clear() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sess = models.Session{}
	return nil
}
