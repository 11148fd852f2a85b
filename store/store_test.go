package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func exercise(t *testing.T, s Store) {
	ctx := context.Background()
	base := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	_, err := s.Get(ctx, "missing")
	require.ErrorIs(t, err, ErrNotFound)
	_, err = s.FindBySHA256(ctx, "")
	require.ErrorIs(t, err, ErrNotFound)
	require.Error(t, s.Save(ctx, Record{}))

	require.NoError(t, s.Save(ctx, Record{ID: "a", Title: "Tower", SHA256: "abc", Content: "0 Tower\r\n0", CreatedAt: base}))
	require.NoError(t, s.Save(ctx, Record{ID: "b", Title: "Tower again", SHA256: "abc", CreatedAt: base.Add(time.Minute)}))
	require.NoError(t, s.Save(ctx, Record{ID: "c", Title: "Boat", SHA256: "def", VerifiedCount: 3, TotalCount: 4, CreatedAt: base.Add(2 * time.Minute)}))

	rec, err := s.Get(ctx, "c")
	require.NoError(t, err)
	require.Equal(t, "Boat", rec.Title)
	require.Equal(t, 3, rec.VerifiedCount)

	rec, err = s.FindBySHA256(ctx, "abc")
	require.NoError(t, err)
	require.Equal(t, "a", rec.ID)
	require.Equal(t, "0 Tower\r\n0", rec.Content)

	recs, err := s.List(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	require.Equal(t, "c", recs[0].ID)
	require.Equal(t, "b", recs[1].ID)

	// saving again replaces by id
	require.NoError(t, s.Save(ctx, Record{ID: "c", Title: "Ship", SHA256: "def", CreatedAt: base.Add(2 * time.Minute)}))
	rec, err = s.Get(ctx, "c")
	require.NoError(t, err)
	require.Equal(t, "Ship", rec.Title)
	recs, err = s.List(ctx, 0)
	require.NoError(t, err)
	require.Len(t, recs, 3)
}

func TestMemoryStore(t *testing.T) {
	exercise(t, NewMemoryStore())
}

func TestSQLStore_InMemory(t *testing.T) {
	s, err := OpenSQLite(":memory:")
	require.NoError(t, err)
	defer s.Close()
	exercise(t, s)
}

func TestSQLStore_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "models.db")
	s, err := OpenSQLite(path)
	require.NoError(t, err)
	require.NoError(t, s.Save(context.Background(), Record{ID: "x", SHA256: "123", CreatedAt: time.Now()}))
	require.NoError(t, s.Close())

	s, err = OpenSQLite(path)
	require.NoError(t, err)
	defer s.Close()
	rec, err := s.FindBySHA256(context.Background(), "123")
	require.NoError(t, err)
	require.Equal(t, "x", rec.ID)
}
