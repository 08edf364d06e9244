package sqlite

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kozaktomas/attendance-terminal/internal/config"
	"github.com/kozaktomas/attendance-terminal/internal/database"
	"github.com/kozaktomas/attendance-terminal/internal/database/sqlstore"
)

func openTestStore(t *testing.T) *sqlstore.Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "test.db"),
		sqlstore.WithPollInterval(20*time.Millisecond))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpen_Pragmas(t *testing.T) {
	s := openTestStore(t)

	var mode string
	require.NoError(t, s.DB().QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)

	var timeout int
	require.NoError(t, s.DB().QueryRow("PRAGMA busy_timeout").Scan(&timeout))
	assert.Equal(t, 5000, timeout)
}

func TestOpen_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")
	ctx := context.Background()

	s1, err := Open(ctx, path)
	require.NoError(t, err)
	require.NoError(t, s1.Put(ctx, "students", "s1", map[string]any{"name": "Ada"}))
	require.NoError(t, s1.Close())

	s2, err := Open(ctx, path)
	require.NoError(t, err)
	defer s2.Close()

	doc, err := s2.Get(ctx, "students", "s1")
	require.NoError(t, err)
	assert.Equal(t, "Ada", doc.Data["name"])
}

func TestStore_PutGetDelete(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.Get(ctx, "students", "missing")
	assert.ErrorIs(t, err, database.ErrNotFound)

	require.NoError(t, s.Put(ctx, "students", "s1", map[string]any{"name": "Ada", "descriptor": []float64{0.1, 0.2}}))
	doc, err := s.Get(ctx, "students", "s1")
	require.NoError(t, err)
	assert.Equal(t, []any{0.1, 0.2}, doc.Data["descriptor"])
	assert.False(t, doc.UpdatedAt.IsZero())

	require.NoError(t, s.Delete(ctx, "students", "s1"))
	_, err = s.Get(ctx, "students", "s1")
	assert.ErrorIs(t, err, database.ErrNotFound)
}

func TestStore_ConcurrentMerges(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p := database.NewPatch().
				Set(fmt.Sprintf("records.p%d.status", i), "Present").
				Set(fmt.Sprintf("records.p%d.entryTime", i), "09:00:00")
			assert.NoError(t, s.Merge(ctx, "student_attendance", "2026-10-17", p))
		}(i)
	}
	wg.Wait()

	doc, err := s.Get(ctx, "student_attendance", "2026-10-17")
	require.NoError(t, err)
	records, ok := doc.Data["records"].(map[string]any)
	require.True(t, ok)
	assert.Len(t, records, 20)
}

func TestStore_MergeDeleteOnlyDoesNotCreate(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Merge(ctx, "student_attendance", "2026-10-17", database.NewPatch().Delete("records.p1")))
	_, err := s.Get(ctx, "student_attendance", "2026-10-17")
	assert.ErrorIs(t, err, database.ErrNotFound)
}

func TestStore_Subscribe(t *testing.T) {
	s := openTestStore(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	ch, err := s.Subscribe(ctx, "faculty")
	require.NoError(t, err)

	first := <-ch
	assert.Empty(t, first.Documents)

	require.NoError(t, s.Put(ctx, "faculty", "f1", map[string]any{"name": "Grace"}))
	for {
		select {
		case snap := <-ch:
			if snap.Find("f1") != nil {
				return
			}
		case <-ctx.Done():
			t.Fatal("no snapshot with the new document")
		}
	}
}

func TestOpener_DefaultPath(t *testing.T) {
	dir := t.TempDir()
	open := Opener(nil)
	st, err := open(context.Background(), &config.DatabaseConfig{SQLitePath: filepath.Join(dir, "a.db")})
	require.NoError(t, err)
	assert.NoError(t, st.Close())
}
