package memory

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kalambet/nexus/internal/storage"
)

type mapBlobs struct {
	data map[string][]byte
	puts int
	// failPuts makes the next n PutBlob calls fail.
	failPuts int
}

func newMapBlobs() *mapBlobs {
	return &mapBlobs{data: make(map[string][]byte)}
}

func (m *mapBlobs) GetBlob(key string) ([]byte, error) {
	v, ok := m.data[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return v, nil
}

func (m *mapBlobs) PutBlob(key string, value []byte) error {
	if m.failPuts > 0 {
		m.failPuts--
		return errors.New("disk full")
	}
	m.data[key] = value
	m.puts++
	return nil
}

func seeded(t *testing.T, entries ...Entry) (*Store, *mapBlobs) {
	t.Helper()
	blobs := newMapBlobs()
	if entries != nil {
		data, err := json.Marshal(entries)
		require.NoError(t, err)
		blobs.data[BlobKey] = data
	}
	s, err := Open(blobs)
	require.NoError(t, err)

	n := 0
	s.newID = func() string {
		n++
		return fmt.Sprintf("id-%d", n)
	}
	s.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }
	return s, blobs
}

var longResponse = strings.Repeat("r", 60)

func TestOpen_Empty(t *testing.T) {
	s, _ := seeded(t)
	assert.Empty(t, s.List())
}

func TestRetrieve_PinnedOverridesTermMatch(t *testing.T) {
	s, _ := seeded(t,
		Entry{ID: "a", Text: "pinned fact", Importance: 0.6, Pinned: true},
		Entry{ID: "b", Text: "unrelated", Importance: 1.0},
	)

	assert.Equal(t, []string{"pinned fact"}, s.Retrieve("anything"))
}

func TestRetrieve_RanksByImportanceAndCaps(t *testing.T) {
	s, _ := seeded(t,
		Entry{ID: "1", Text: "golang low", Importance: 0.1},
		Entry{ID: "2", Text: "golang high", Importance: 0.9},
		Entry{ID: "3", Text: "golang mid", Importance: 0.5},
		Entry{ID: "4", Text: "golang top", Importance: 1.0},
		Entry{ID: "5", Text: "golang mid2", Importance: 0.5},
		Entry{ID: "6", Text: "GOLANG caps", Importance: 0.7},
	)

	got := s.Retrieve("Tell me about Golang")
	assert.Equal(t, []string{"golang top", "golang high", "GOLANG caps", "golang mid"}, got)
}

func TestRetrieve_ShortTermsIgnored(t *testing.T) {
	s, _ := seeded(t, Entry{ID: "a", Text: "the cat sat", Importance: 1.0})
	assert.Empty(t, s.Retrieve("the cat"))
}

func TestRetrieve_NoMatch(t *testing.T) {
	s, _ := seeded(t)
	assert.Empty(t, s.Retrieve("anything at all"))
}

func TestLearn_ShortResponseIsNoop(t *testing.T) {
	s, blobs := seeded(t)

	ok, err := s.Learn("question", strings.Repeat("x", 50))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, s.List())
	assert.Zero(t, blobs.puts)
}

func TestLearn_Format(t *testing.T) {
	s, _ := seeded(t)

	query := strings.Repeat("q", 150)
	response := strings.Repeat("r", 250)
	ok, err := s.Learn(query, response)
	require.NoError(t, err)
	require.True(t, ok)

	entries := s.List()
	require.Len(t, entries, 1)
	want := "Context: " + strings.Repeat("q", 100) + "... -> Learned: " + strings.Repeat("r", 200) + "..."
	assert.Equal(t, want, entries[0].Text)
	assert.Equal(t, "id-1", entries[0].ID)
	assert.False(t, entries[0].Pinned)
}

func TestLearn_Types(t *testing.T) {
	tests := []struct {
		name       string
		query      string
		response   string
		wantType   Type
		importance float64
	}{
		{"knowledge", "what is a monad", longResponse, TypeKnowledge, 0.6},
		{"style", "show me", "```go\n" + longResponse + "\n```", TypeStyle, 0.6},
		{"preference", "I prefer tabs", longResponse, TypePreference, 1.0},
		{"preference via use", "please use snake case", longResponse, TypePreference, 1.0},
		{"preference overrides style", "I prefer this", "```" + longResponse, TypePreference, 1.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := seeded(t)
			_, err := s.Learn(tt.query, tt.response)
			require.NoError(t, err)
			e := s.List()[0]
			assert.Equal(t, tt.wantType, e.Type)
			assert.Equal(t, tt.importance, e.Importance)
		})
	}
}

func TestLearn_EvictsOldestRegardlessOfPin(t *testing.T) {
	var seed []Entry
	for i := 0; i < 50; i++ {
		seed = append(seed, Entry{ID: fmt.Sprintf("old-%d", i), Text: "x", Importance: 0.6})
	}
	seed[0].Pinned = true
	s, _ := seeded(t, seed...)

	ok, err := s.Learn("query", longResponse)
	require.NoError(t, err)
	require.True(t, ok)

	entries := s.List()
	require.Len(t, entries, 50)
	assert.Equal(t, "old-1", entries[0].ID)
	assert.Equal(t, "id-1", entries[49].ID)
}

func TestTogglePin(t *testing.T) {
	s, blobs := seeded(t, Entry{ID: "a", Text: "fact", Type: TypeKnowledge, Importance: 0.6})

	found, err := s.TogglePin("a")
	require.NoError(t, err)
	assert.True(t, found)
	e := s.List()[0]
	assert.True(t, e.Pinned)
	assert.Equal(t, TypeKnowledge, e.Type)
	assert.Equal(t, 0.6, e.Importance)

	_, err = s.TogglePin("a")
	require.NoError(t, err)
	assert.False(t, s.List()[0].Pinned)
	assert.Equal(t, 2, blobs.puts)

	found, err = s.TogglePin("missing")
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, 2, blobs.puts)
}

func TestDelete(t *testing.T) {
	s, _ := seeded(t,
		Entry{ID: "a", Text: "one"},
		Entry{ID: "b", Text: "two"},
	)

	found, err := s.Delete("a")
	require.NoError(t, err)
	assert.True(t, found)
	require.Len(t, s.List(), 1)
	assert.Equal(t, "b", s.List()[0].ID)

	found, err = s.Delete("a")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestListIsCopy(t *testing.T) {
	s, _ := seeded(t, Entry{ID: "a", Text: "one"})
	list := s.List()
	list[0].Text = "mutated"
	assert.Equal(t, "one", s.List()[0].Text)
}

func TestPersistsAcrossOpen(t *testing.T) {
	db, err := storage.Open(":memory:")
	require.NoError(t, err)
	defer db.Close()

	s, err := Open(db)
	require.NoError(t, err)
	_, err = s.Learn("I prefer short answers", longResponse)
	require.NoError(t, err)

	reopened, err := Open(db)
	require.NoError(t, err)
	entries := reopened.List()
	require.Len(t, entries, 1)
	assert.Equal(t, TypePreference, entries[0].Type)
}

func TestLearn_FailedSaveLeavesCacheUnchanged(t *testing.T) {
	s, blobs := seeded(t)
	blobs.failPuts = 1

	_, err := s.Learn("how do goroutines work", longResponse)
	require.Error(t, err)
	assert.Empty(t, s.List())

	learned, err := s.Learn("how do goroutines work", longResponse)
	require.NoError(t, err)
	assert.True(t, learned)
	assert.Len(t, s.List(), 1)

	var saved []Entry
	require.NoError(t, json.Unmarshal(blobs.data[BlobKey], &saved))
	assert.Len(t, saved, 1)
}

func TestTogglePinAndDelete_FailedSaveLeavesCacheUnchanged(t *testing.T) {
	s, blobs := seeded(t,
		Entry{ID: "a", Text: "first"},
		Entry{ID: "b", Text: "second"},
	)

	blobs.failPuts = 1
	_, err := s.TogglePin("a")
	require.Error(t, err)
	assert.False(t, s.List()[0].Pinned)

	blobs.failPuts = 1
	_, err = s.Delete("a")
	require.Error(t, err)
	entries := s.List()
	require.Len(t, entries, 2)
	assert.Equal(t, "a", entries[0].ID)
	assert.Equal(t, "b", entries[1].ID)
}
