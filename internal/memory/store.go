// Package memory keeps the capacity-bounded set of facts learned from past
// turns and retrieves the ones relevant to a new query.
package memory

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/kalambet/nexus/internal/storage"
)

// BlobKey is the durable key the collection is saved under.
const BlobKey = "nexus_vault_v1"

const (
	maxEntries     = 50
	learnThreshold = 50
	queryCap       = 100
	responseCap    = 200
	retrieveLimit  = 4
	minTermLen     = 4

	importancePreference = 1.0
	importanceDefault    = 0.6
)

// Type classifies a memory entry.
type Type string

const (
	TypePreference Type = "preference"
	TypeStyle      Type = "style"
	TypeKnowledge  Type = "knowledge"
	TypeTask       Type = "task"
)

// Entry is one learned fact. Pinned entries are always retrieved.
type Entry struct {
	ID         string    `json:"id"`
	Text       string    `json:"text"`
	Type       Type      `json:"type"`
	Timestamp  time.Time `json:"timestamp"`
	Importance float64   `json:"importance"`
	Pinned     bool      `json:"is_pinned"`
}

// BlobStore is the durable key-value persistence the store saves into.
type BlobStore interface {
	GetBlob(key string) ([]byte, error)
	PutBlob(key string, value []byte) error
}

// Store is the in-memory cached collection. It is loaded once by Open and
// saved whole after every mutation.
type Store struct {
	blobs BlobStore
	now   func() time.Time
	newID func() string

	mu      sync.Mutex
	entries []Entry
}

// Open loads the collection from blobs. A missing blob yields an empty store.
func Open(blobs BlobStore) (*Store, error) {
	s := &Store{
		blobs: blobs,
		now:   time.Now,
		newID: uuid.NewString,
	}

	data, err := blobs.GetBlob(BlobKey)
	if errors.Is(err, storage.ErrNotFound) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading memory: %w", err)
	}
	if err := json.Unmarshal(data, &s.entries); err != nil {
		return nil, fmt.Errorf("decoding memory: %w", err)
	}
	return s, nil
}

// Retrieve returns up to four entry texts relevant to query, most important
// first. Pinned entries always qualify; others need to contain a query term
// longer than three characters.
func (s *Store) Retrieve(query string) []string {
	var terms []string
	for _, t := range strings.Fields(strings.ToLower(query)) {
		if utf8.RuneCountInString(t) >= minTermLen {
			terms = append(terms, t)
		}
	}

	s.mu.Lock()
	var selected []Entry
	for _, e := range s.entries {
		if e.Pinned || containsAny(strings.ToLower(e.Text), terms) {
			selected = append(selected, e)
		}
	}
	s.mu.Unlock()

	sort.SliceStable(selected, func(i, j int) bool {
		return selected[i].Importance > selected[j].Importance
	})
	if len(selected) > retrieveLimit {
		selected = selected[:retrieveLimit]
	}

	texts := make([]string, len(selected))
	for i, e := range selected {
		texts[i] = e.Text
	}
	return texts
}

func containsAny(text string, terms []string) bool {
	for _, t := range terms {
		if strings.Contains(text, t) {
			return true
		}
	}
	return false
}

// Learn records a summary of a query/response pair. It reports false without
// touching the store when the response is too short to be worth keeping.
// When the store is full the oldest entry is evicted, pinned or not.
func (s *Store) Learn(query, response string) (bool, error) {
	if utf8.RuneCountInString(response) <= learnThreshold {
		return false, nil
	}

	typ := classify(query, response)
	importance := importanceDefault
	if typ == TypePreference {
		importance = importancePreference
	}
	entry := Entry{
		ID:         s.newID(),
		Text:       fmt.Sprintf("Context: %s... -> Learned: %s...", truncate(query, queryCap), truncate(response, responseCap)),
		Type:       typ,
		Timestamp:  s.now().UTC(),
		Importance: importance,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := make([]Entry, 0, len(s.entries)+1)
	next = append(append(next, s.entries...), entry)
	if len(next) > maxEntries {
		next = next[len(next)-maxEntries:]
	}
	if err := s.commitLocked(next); err != nil {
		return false, err
	}
	return true, nil
}

func classify(query, response string) Type {
	q := strings.ToLower(query)
	switch {
	case strings.Contains(q, "i prefer"), strings.Contains(q, "use "):
		return TypePreference
	case strings.Contains(response, "```"):
		return TypeStyle
	default:
		return TypeKnowledge
	}
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

// TogglePin flips the pinned flag of the entry with id. Unknown ids are a
// no-op and report false.
func (s *Store) TogglePin(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.entries {
		if s.entries[i].ID == id {
			next := make([]Entry, len(s.entries))
			copy(next, s.entries)
			next[i].Pinned = !next[i].Pinned
			return true, s.commitLocked(next)
		}
	}
	return false, nil
}

// Delete removes the entry with id. Unknown ids are a no-op and report false.
func (s *Store) Delete(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := range s.entries {
		if s.entries[i].ID == id {
			next := append(s.entries[:i:i], s.entries[i+1:]...)
			return true, s.commitLocked(next)
		}
	}
	return false, nil
}

// List returns a copy of all entries in insertion order.
func (s *Store) List() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Entry, len(s.entries))
	copy(out, s.entries)
	return out
}

// commitLocked persists next and only then makes it the cached collection,
// so a failed save leaves memory matching what is on disk.
func (s *Store) commitLocked(next []Entry) error {
	data, err := json.Marshal(next)
	if err != nil {
		return fmt.Errorf("encoding memory: %w", err)
	}
	if err := s.blobs.PutBlob(BlobKey, data); err != nil {
		return fmt.Errorf("saving memory: %w", err)
	}
	s.entries = next
	return nil
}
