package checkpoint

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testState struct {
	State  string   `json:"state"`
	Cursor string   `json:"cursor"`
	Pages  []string `json:"pages"`
}

func openTestStore(t *testing.T) *BoltStore {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "state", "checkpoints.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSaveLoad(t *testing.T) {
	s := openTestStore(t)
	s.now = func() time.Time { return time.Date(2024, 3, 7, 12, 0, 0, 0, time.UTC) }

	want := testState{State: "CheckForCursor", Cursor: "tok-2", Pages: []string{"a", "b"}}
	require.NoError(t, s.Save("run-1", want))

	var got testState
	require.NoError(t, s.Load("run-1", &got))
	assert.Equal(t, want, got)

	entry, err := s.Get("run-1")
	require.NoError(t, err)
	assert.Equal(t, "run-1", entry.RunID)
	assert.Equal(t, s.now(), entry.UpdatedAt)
}

func TestSaveOverwrites(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.Save("run-1", testState{Cursor: "tok-1"}))
	require.NoError(t, s.Save("run-1", testState{Cursor: "tok-2"}))

	var got testState
	require.NoError(t, s.Load("run-1", &got))
	assert.Equal(t, "tok-2", got.Cursor)

	entries, err := s.List()
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestLoadMissing(t *testing.T) {
	s := openTestStore(t)

	var got testState
	err := s.Load("nope", &got)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListOrderedByRunID(t *testing.T) {
	s := openTestStore(t)

	for _, id := range []string{"run-c", "run-a", "run-b"} {
		require.NoError(t, s.Save(id, testState{State: id}))
	}

	entries, err := s.List()
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "run-a", entries[0].RunID)
	assert.Equal(t, "run-b", entries[1].RunID)
	assert.Equal(t, "run-c", entries[2].RunID)

	var st testState
	require.NoError(t, entries[2].Decode(&st))
	assert.Equal(t, "run-c", st.State)
}

func TestDelete(t *testing.T) {
	s := openTestStore(t)

	require.NoError(t, s.Save("run-1", testState{}))
	require.NoError(t, s.Delete("run-1"))
	require.NoError(t, s.Delete("run-1"))

	_, err := s.Get("run-1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSaveEmptyRunID(t *testing.T) {
	s := openTestStore(t)
	assert.Error(t, s.Save("", testState{}))
}

func TestReopenKeepsCheckpoints(t *testing.T) {
	path := filepath.Join(t.TempDir(), "checkpoints.db")

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Save("run-1", testState{Cursor: "tok"}))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	var got testState
	require.NoError(t, s.Load("run-1", &got))
	assert.Equal(t, "tok", got.Cursor)
}
