// Package session owns the collection of conversation sessions and the
// active-session pointer. Every mutation is atomic with respect to the
// pointer, touches the session's UpdatedAt, and is followed by a full
// serialize-and-store of the collection. At least one session always exists.
package session

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/comigor/sally-go/internal/logger"
	"github.com/comigor/sally-go/internal/storage"
)

// Persisted storage keys.
const (
	keySessions = "sally_sessions"
	keyActive   = "sally_current_session"
)

// Store owns all Session and Message data. No other component mutates
// sessions directly. Safe for concurrent use.
type Store struct {
	mu       sync.Mutex
	kv       *storage.Store
	sessions []*Session
	activeID string
}

// NewStore hydrates the store from durable storage. Deserialization failures
// are swallowed and treated as no prior state: the store starts with one
// fresh session seeded with the welcome message.
func NewStore(kv *storage.Store) *Store {
	s := &Store{kv: kv}
	s.load()
	return s
}

func (s *Store) load() {
	if raw, ok := s.kv.Get(keySessions); ok {
		var sessions []*Session
		if err := json.Unmarshal([]byte(raw), &sessions); err != nil {
			logger.L.Warn("discarding unreadable session state", "error", err)
		} else if len(sessions) > 0 {
			s.sessions = sessions
		}
	}
	if len(s.sessions) == 0 {
		s.sessions = []*Session{newSession("")}
	}
	if active, ok := s.kv.Get(keyActive); ok {
		s.activeID = active
	}
	if s.findLocked(s.activeID) == nil {
		s.activeID = s.sessions[0].ID
	}
	s.persistLocked()
}

func newSession(displayName string) *Session {
	now := time.Now().UTC()
	return &Session{
		ID:              NewID("sesh"),
		UserDisplayName: displayName,
		CreatedAt:       now,
		UpdatedAt:       now,
		Messages:        []Message{NewWelcomeMessage()},
	}
}

// persistLocked serializes the whole collection plus the active pointer.
// Save failures degrade to in-memory persistence inside storage.
func (s *Store) persistLocked() {
	raw, err := json.Marshal(s.sessions)
	if err != nil {
		logger.L.Error("failed to serialize sessions", "error", err)
		return
	}
	s.kv.Set(keySessions, string(raw))
	s.kv.Set(keyActive, s.activeID)
}

func (s *Store) findLocked(id string) *Session {
	for _, sesh := range s.sessions {
		if sesh.ID == id {
			return sesh
		}
	}
	return nil
}

// CreateSession creates a new session seeded with the welcome message, makes
// it active, and returns a snapshot of it.
func (s *Store) CreateSession(displayName string) Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	sesh := newSession(displayName)
	s.sessions = append([]*Session{sesh}, s.sessions...)
	s.activeID = sesh.ID
	s.persistLocked()
	return cloneSession(sesh)
}

// SelectSession changes the active pointer. Unknown ids are ignored.
func (s *Store) SelectSession(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.findLocked(id) == nil {
		return
	}
	s.activeID = id
	s.persistLocked()
}

// ActiveSession returns a snapshot of the active session. A stale pointer
// self-heals to the first session.
func (s *Store) ActiveSession() Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	sesh := s.findLocked(s.activeID)
	if sesh == nil {
		sesh = s.sessions[0]
		s.activeID = sesh.ID
		s.persistLocked()
	}
	return cloneSession(sesh)
}

// ActiveID returns the (self-healed) active session id.
func (s *Store) ActiveID() string {
	return s.ActiveSession().ID
}

// Sessions returns a snapshot of the whole collection in order.
func (s *Store) Sessions() []Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Session, 0, len(s.sessions))
	for _, sesh := range s.sessions {
		out = append(out, cloneSession(sesh))
	}
	return out
}

// RenameSession sets the display name. A blank name is a validation no-op,
// never an error.
func (s *Store) RenameSession(id, name string) {
	n := strings.TrimSpace(name)
	if n == "" {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sesh := s.findLocked(id)
	if sesh == nil {
		return
	}
	sesh.UserDisplayName = n
	sesh.UpdatedAt = time.Now().UTC()
	s.persistLocked()
}

// EnsureDisplayName gives the first session a display name when it has none,
// defaulting lazily from the current profile preference.
func (s *Store) EnsureDisplayName(preferred string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	first := s.sessions[0]
	if first.UserDisplayName != "" {
		return
	}
	if preferred == "" {
		preferred = "You"
	}
	first.UserDisplayName = preferred
	first.UpdatedAt = time.Now().UTC()
	s.persistLocked()
}

// DeleteSession removes a session. Deleting the last remaining session
// synthesizes a fresh replacement: the store never holds zero sessions. When
// the active session is deleted the pointer moves to the new first session.
func (s *Store) DeleteSession(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	filtered := s.sessions[:0:0]
	for _, sesh := range s.sessions {
		if sesh.ID != id {
			filtered = append(filtered, sesh)
		}
	}
	if len(filtered) == len(s.sessions) {
		return
	}
	if len(filtered) == 0 {
		fresh := newSession("")
		s.sessions = []*Session{fresh}
		s.activeID = fresh.ID
		s.persistLocked()
		return
	}
	s.sessions = filtered
	if s.activeID == id {
		s.activeID = filtered[0].ID
	}
	s.persistLocked()
}

// ClearSession resets the message list to a single fresh welcome message
// without deleting the session.
func (s *Store) ClearSession(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sesh := s.findLocked(id)
	if sesh == nil {
		return
	}
	sesh.Messages = []Message{NewWelcomeMessage()}
	sesh.UpdatedAt = time.Now().UTC()
	s.persistLocked()
}

// AppendMessages appends messages to the targeted session. Returns false
// when the session no longer exists (e.g. deleted mid-stream); that is a
// safe no-op.
func (s *Store) AppendMessages(sessionID string, msgs ...Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	sesh := s.findLocked(sessionID)
	if sesh == nil {
		return false
	}
	sesh.Messages = append(sesh.Messages, msgs...)
	sesh.UpdatedAt = time.Now().UTC()
	s.persistLocked()
	return true
}

// ReplaceMessage applies updater to the message with the given id. Returns
// false when the session or the message is gone.
func (s *Store) ReplaceMessage(sessionID, messageID string, updater func(Message) Message) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	sesh := s.findLocked(sessionID)
	if sesh == nil {
		return false
	}
	for i, m := range sesh.Messages {
		if m.ID == messageID {
			sesh.Messages[i] = updater(m)
			sesh.UpdatedAt = time.Now().UTC()
			s.persistLocked()
			return true
		}
	}
	return false
}

// RemoveMessage removes the message with the given id from the targeted
// session.
func (s *Store) RemoveMessage(sessionID, messageID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	sesh := s.findLocked(sessionID)
	if sesh == nil {
		return false
	}
	for i, m := range sesh.Messages {
		if m.ID == messageID {
			sesh.Messages = append(sesh.Messages[:i], sesh.Messages[i+1:]...)
			sesh.UpdatedAt = time.Now().UTC()
			s.persistLocked()
			return true
		}
	}
	return false
}

func cloneSession(sesh *Session) Session {
	out := *sesh
	out.Messages = make([]Message, len(sesh.Messages))
	copy(out.Messages, sesh.Messages)
	return out
}
