package locks

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeStore struct {
	ids   []string
	err   error
	scans int
}

func (f *fakeStore) BusyAccountIDs(ctx context.Context) ([]string, error) {
	f.scans++
	return f.ids, f.err
}

func TestLockedDedupesAndSorts(t *testing.T) {
	fs := &fakeStore{ids: []string{"b", "a", "b", "a"}}
	tr := New(fs, nil)

	got, err := tr.Locked(context.Background())
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, got)
}

func TestLockedCachesWithinTTL(t *testing.T) {
	now := time.Unix(1000, 0)
	fs := &fakeStore{ids: []string{"a"}}
	tr := New(fs, nil, WithCacheTTL(5*time.Second), WithClock(func() time.Time { return now }))

	_, err := tr.Locked(context.Background())
	require.NoError(t, err)
	_, err = tr.Locked(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, fs.scans)

	now = now.Add(6 * time.Second)
	fs.ids = []string{"a", "c"}
	got, err := tr.Locked(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, fs.scans)
	require.Equal(t, []string{"a", "c"}, got)
}

func TestInvalidateForcesRescan(t *testing.T) {
	fs := &fakeStore{ids: []string{"a"}}
	tr := New(fs, nil)

	_, err := tr.Locked(context.Background())
	require.NoError(t, err)
	tr.Invalidate()
	_, err = tr.Locked(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, fs.scans)
}

func TestAnyLocked(t *testing.T) {
	fs := &fakeStore{ids: []string{"a", "b"}}
	tr := New(fs, nil)

	id, locked, err := tr.AnyLocked(context.Background(), []string{"x", "b", "y"})
	require.NoError(t, err)
	require.True(t, locked)
	require.Equal(t, "b", id)

	_, locked, err = tr.AnyLocked(context.Background(), []string{"x", "y"})
	require.NoError(t, err)
	require.False(t, locked)
}
