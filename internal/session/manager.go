// Package session keeps the conversation history and runs one turn at a time
// per session through the orchestrator.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/nexus/internal/chat"
	"github.com/kalambet/nexus/internal/config"
	"github.com/kalambet/nexus/internal/pipeline"
	"github.com/kalambet/nexus/internal/provider"
	"github.com/kalambet/nexus/internal/storage"
)

const (
	// BlobKey is the durable store key holding every session.
	BlobKey = "nexus_sessions_v1"

	// DefaultTitle names a session until its first user message arrives.
	DefaultTitle = "Nexus Node Alpha"

	titleRunes = 24
)

var (
	// ErrNotFound is returned for an unknown session ID.
	ErrNotFound = errors.New("session not found")

	// ErrBusy is returned when a session already has a generation in flight.
	ErrBusy = errors.New("session is busy generating a response")
)

// BlobStore is the durable key/value store. Implemented by storage.Store.
type BlobStore interface {
	GetBlob(key string) ([]byte, error)
	PutBlob(key string, value []byte) error
}

// Streamer runs a single turn. Implemented by pipeline.Orchestrator.
type Streamer interface {
	Stream(ctx context.Context, cfg config.Config, history []chat.Message, cb pipeline.Callbacks) error
}

// ConfigSource yields the configuration snapshot for a turn. Implemented by
// config.Holder.
type ConfigSource interface {
	Get() config.Config
}

// EventType names the kind of a turn Event.
type EventType string

const (
	EventSteps    EventType = "steps"
	EventToken    EventType = "token"
	EventProgress EventType = "progress"
	EventComplete EventType = "complete"
	EventError    EventType = "error"
)

// Event is one observable moment of a turn, in the order it happened.
type Event struct {
	Type         EventType          `json:"type"`
	Steps        []chat.Step        `json:"steps,omitempty"`
	Text         string             `json:"text,omitempty"`
	TokensPerSec int                `json:"tokens_per_sec,omitempty"`
	Progress     *provider.Progress `json:"progress,omitempty"`
	Message      *chat.Message      `json:"message,omitempty"`
	Error        string             `json:"error,omitempty"`
	Kind         provider.Kind      `json:"kind,omitempty"`
}

// Summary is the list view of a session.
type Summary struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	MessageCount int       `json:"message_count"`
	CreatedAt    time.Time `json:"created_at"`
	LastModified time.Time `json:"last_modified"`
	ModelID      string    `json:"model_id"`
	Active       bool      `json:"active"`
}

type snapshot struct {
	Active   string         `json:"active"`
	Sessions []chat.Session `json:"sessions"`
}

// Manager owns every session. All mutations are persisted before the call
// returns.
type Manager struct {
	blobs    BlobStore
	streamer Streamer
	cfg      ConfigSource
	now      func() time.Time
	newID    func() string

	mu       sync.Mutex
	sessions map[string]*chat.Session
	active   string
	busy     map[string]bool
}

// Open loads the persisted sessions. A missing blob yields an empty manager.
func Open(blobs BlobStore, streamer Streamer, cfg ConfigSource) (*Manager, error) {
	m := &Manager{
		blobs:    blobs,
		streamer: streamer,
		cfg:      cfg,
		now:      time.Now,
		newID:    uuid.NewString,
		sessions: make(map[string]*chat.Session),
		busy:     make(map[string]bool),
	}

	raw, err := blobs.GetBlob(BlobKey)
	if errors.Is(err, storage.ErrNotFound) {
		return m, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading sessions: %w", err)
	}

	var snap snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		slog.Warn("discarding unreadable session store", "error", err)
		return m, nil
	}
	for i := range snap.Sessions {
		s := snap.Sessions[i]
		m.sessions[s.ID] = &s
	}
	if _, ok := m.sessions[snap.Active]; ok {
		m.active = snap.Active
	}
	return m, nil
}

// Create starts an empty session and makes it active.
func (m *Manager) Create() (chat.Session, error) {
	now := m.now()
	s := &chat.Session{
		ID:           m.newID(),
		Title:        DefaultTitle,
		Messages:     []chat.Message{},
		CreatedAt:    now,
		LastModified: now,
		ModelID:      m.cfg.Get().Model.Active,
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s
	m.active = s.ID
	if err := m.saveLocked(); err != nil {
		return chat.Session{}, err
	}
	return copySession(s), nil
}

// List returns every session, most recently modified first.
func (m *Manager) List() []Summary {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Summary, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, Summary{
			ID:           s.ID,
			Title:        s.Title,
			MessageCount: len(s.Messages),
			CreatedAt:    s.CreatedAt,
			LastModified: s.LastModified,
			ModelID:      s.ModelID,
			Active:       s.ID == m.active,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].LastModified.Equal(out[j].LastModified) {
			return out[i].ID < out[j].ID
		}
		return out[i].LastModified.After(out[j].LastModified)
	})
	return out
}

// Get returns a copy of the session.
func (m *Manager) Get(id string) (chat.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return chat.Session{}, ErrNotFound
	}
	return copySession(s), nil
}

// Active returns the active session, if any.
func (m *Manager) Active() (chat.Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[m.active]
	if !ok {
		return chat.Session{}, false
	}
	return copySession(s), true
}

// SetActive switches the active session.
func (m *Manager) SetActive(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; !ok {
		return ErrNotFound
	}
	m.active = id
	return m.saveLocked()
}

// Delete removes a session. A session with a generation in flight cannot be
// deleted. When the active session goes, the most recent remaining one
// takes its place.
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[id]; !ok {
		return ErrNotFound
	}
	if m.busy[id] {
		return ErrBusy
	}
	delete(m.sessions, id)
	if m.active == id {
		m.active = ""
		var latest *chat.Session
		for _, s := range m.sessions {
			if latest == nil || s.LastModified.After(latest.LastModified) {
				latest = s
			}
		}
		if latest != nil {
			m.active = latest.ID
		}
	}
	return m.saveLocked()
}

// Send appends a user message and runs a turn over the session history.
// listener, if non-nil, observes the turn as it happens. The returned
// message is the finished assistant reply. On a generation failure the
// partially streamed reply stays in the session and the error is returned
// unchanged.
func (m *Manager) Send(ctx context.Context, id, content string, listener func(Event)) (chat.Message, error) {
	emit := func(ev Event) {
		if listener != nil {
			listener(ev)
		}
	}

	m.mu.Lock()
	s, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return chat.Message{}, ErrNotFound
	}
	if m.busy[id] {
		m.mu.Unlock()
		return chat.Message{}, ErrBusy
	}

	now := m.now()
	if !hasUserMessage(s.Messages) {
		s.Title = titleFrom(content)
	}
	s.Messages = append(s.Messages, chat.Message{
		ID:        m.newID(),
		Role:      chat.RoleUser,
		Content:   content,
		Timestamp: now,
	})
	history := make([]chat.Message, len(s.Messages))
	copy(history, s.Messages)

	replyID := m.newID()
	s.Messages = append(s.Messages, chat.Message{
		ID:        replyID,
		Role:      chat.RoleAssistant,
		Timestamp: now,
	})
	s.LastModified = now
	m.active = id
	m.busy[id] = true
	if err := m.saveLocked(); err != nil {
		slog.Warn("persisting session before turn failed", "session_id", id, "error", err)
	}
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		delete(m.busy, id)
		m.mu.Unlock()
	}()

	var reply chat.Message
	cb := pipeline.Callbacks{
		OnSteps: func(steps []chat.Step) {
			emit(Event{Type: EventSteps, Steps: steps})
		},
		OnToken: func(text string, tokensPerSec int) {
			m.updateReply(id, replyID, func(msg *chat.Message) {
				msg.Content += text
			})
			emit(Event{Type: EventToken, Text: text, TokensPerSec: tokensPerSec})
		},
		OnProgress: func(p provider.Progress) {
			emit(Event{Type: EventProgress, Progress: &p})
		},
		OnComplete: func(res pipeline.Result) {
			plan := res.Plan
			reply = m.finishReply(id, replyID, func(msg *chat.Message) {
				msg.Content = res.Text
				msg.TokensPerSec = res.TokensPerSec
				msg.ReasoningSteps = res.Steps
				msg.Sources = res.Sources
				msg.Personalized = res.Personalized
				msg.Task = res.Task
				msg.Plan = &plan
				msg.ToolCalls = res.ToolCalls
			})
			emit(Event{Type: EventComplete, Message: &reply})
		},
		OnError: func(err error) {
			m.finishReply(id, replyID, func(*chat.Message) {})
			ev := Event{Type: EventError, Error: err.Error()}
			var perr *provider.Error
			if errors.As(err, &perr) {
				ev.Kind = perr.Kind
			}
			emit(ev)
		},
	}

	if err := m.streamer.Stream(ctx, m.cfg.Get(), history, cb); err != nil {
		return chat.Message{}, err
	}
	return reply, nil
}

// updateReply mutates the in-flight assistant message in place.
func (m *Manager) updateReply(sessionID, msgID string, fn func(*chat.Message)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if msg := m.findLocked(sessionID, msgID); msg != nil {
		fn(msg)
	}
}

// finishReply applies the terminal update and persists the session.
func (m *Manager) finishReply(sessionID, msgID string, fn func(*chat.Message)) chat.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg := m.findLocked(sessionID, msgID)
	if msg == nil {
		return chat.Message{}
	}
	fn(msg)
	m.sessions[sessionID].LastModified = m.now()
	if err := m.saveLocked(); err != nil {
		slog.Warn("persisting session after turn failed", "session_id", sessionID, "error", err)
	}
	return *msg
}

func (m *Manager) findLocked(sessionID, msgID string) *chat.Message {
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil
	}
	for i := len(s.Messages) - 1; i >= 0; i-- {
		if s.Messages[i].ID == msgID {
			return &s.Messages[i]
		}
	}
	return nil
}

func (m *Manager) saveLocked() error {
	snap := snapshot{Active: m.active, Sessions: make([]chat.Session, 0, len(m.sessions))}
	for _, s := range m.sessions {
		snap.Sessions = append(snap.Sessions, *s)
	}
	sort.Slice(snap.Sessions, func(i, j int) bool {
		return snap.Sessions[i].CreatedAt.Before(snap.Sessions[j].CreatedAt)
	})
	raw, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encoding sessions: %w", err)
	}
	if err := m.blobs.PutBlob(BlobKey, raw); err != nil {
		return fmt.Errorf("saving sessions: %w", err)
	}
	return nil
}

func hasUserMessage(msgs []chat.Message) bool {
	for _, msg := range msgs {
		if msg.Role == chat.RoleUser {
			return true
		}
	}
	return false
}

func titleFrom(content string) string {
	r := []rune(content)
	if len(r) > titleRunes {
		r = r[:titleRunes]
	}
	if len(r) == 0 {
		return DefaultTitle
	}
	return string(r)
}

func copySession(s *chat.Session) chat.Session {
	out := *s
	out.Messages = make([]chat.Message, len(s.Messages))
	copy(out.Messages, s.Messages)
	return out
}
