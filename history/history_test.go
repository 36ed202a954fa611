package history

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTemp(t *testing.T) *Store {
	t.Helper()

	s, err := Open(filepath.Join(t.TempDir(), "nested", "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	return s
}

func TestSaveGet(t *testing.T) {
	s := openTemp(t)

	rec := Record{
		ID:        uuid.Must(uuid.NewV7()).String(),
		Workload:  "ycsb",
		Invoke:    "false",
		Output:    "ycsb_invoke_false.data",
		StartedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Points:    12,
		Rows:      12,
		WallP99Ms: 41000,
	}
	require.NoError(t, s.Save(rec))

	got, err := s.Get(rec.ID)
	require.NoError(t, err)
	assert.Equal(t, rec.Workload, got.Workload)
	assert.Equal(t, rec.Rows, got.Rows)
	assert.True(t, rec.StartedAt.Equal(got.StartedAt))

	_, err = s.Get("nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestListNewestFirst(t *testing.T) {
	s := openTemp(t)

	var ids []string
	for i := 0; i < 3; i++ {
		id := uuid.Must(uuid.NewV7()).String()
		ids = append(ids, id)
		require.NoError(t, s.Save(Record{ID: id, Workload: "tao", Rows: i}))
		time.Sleep(2 * time.Millisecond)
	}

	recs, err := s.List()
	require.NoError(t, err)
	require.Len(t, recs, 3)

	assert.Equal(t, ids[2], recs[0].ID)
	assert.Equal(t, ids[0], recs[2].ID)
}

func TestSaveRequiresID(t *testing.T) {
	s := openTemp(t)
	assert.Error(t, s.Save(Record{Workload: "ycsb"}))
}

func TestReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")

	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Save(Record{ID: "a", Workload: "aggregate"}))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()

	recs, err := s.List()
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "aggregate", recs[0].Workload)
}
