package watermark

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_Monotonic(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(10)

	got, err := s.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(10), got)

	got, err = s.Advance(ctx, 13)
	require.NoError(t, err)
	assert.Equal(t, int64(13), got)

	// A lower candidate never decreases the cursor.
	got, err = s.Advance(ctx, 11)
	require.NoError(t, err)
	assert.Equal(t, int64(13), got)

	got, err = s.Advance(ctx, 13)
	require.NoError(t, err)
	assert.Equal(t, int64(13), got)
}

func TestMemoryStore_ConcurrentAdvance(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore(0)

	var wg sync.WaitGroup
	for i := int64(1); i <= 100; i++ {
		wg.Add(1)
		go func(v int64) {
			defer wg.Done()
			s.Advance(ctx, v) //nolint:errcheck
		}(i)
	}
	wg.Wait()

	got, err := s.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(100), got)
}

func TestFileStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "watermark.json")

	s := NewFileStore(path)

	// Missing file means zero.
	got, err := s.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), got)

	got, err = s.Advance(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, int64(42), got)

	// A fresh store over the same path sees the persisted value,
	// simulating a process restart.
	restarted := NewFileStore(path)
	got, err = restarted.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(42), got)
}

func TestFileStore_Monotonic(t *testing.T) {
	ctx := context.Background()
	s := NewFileStore(filepath.Join(t.TempDir(), "watermark.json"))

	_, err := s.Advance(ctx, 50)
	require.NoError(t, err)

	got, err := s.Advance(ctx, 49)
	require.NoError(t, err)
	assert.Equal(t, int64(50), got)

	got, err = s.Read(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(50), got)
}

func TestFileStore_NoOpAdvanceDoesNotTouchDisk(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "watermark.json")
	s := NewFileStore(path)

	_, err := s.Advance(ctx, 10)
	require.NoError(t, err)

	before, err := os.Stat(path)
	require.NoError(t, err)

	_, err = s.Advance(ctx, 5)
	require.NoError(t, err)

	after, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, before.ModTime(), after.ModTime())
}

func TestFileStore_CorruptFileIsAnError(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "watermark.json")
	require.NoError(t, os.WriteFile(path, []byte("{{{"), 0o600))

	s := NewFileStore(path)
	_, err := s.Read(ctx)
	require.Error(t, err, "a corrupt cursor must fail loudly, not reset to zero")
}
