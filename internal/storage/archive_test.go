package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"omnic/internal/extract"
)

func testResult(matchID string, rank extract.Rank, kills extract.Kills) extract.Result {
	return extract.Result{
		ID:        uuid.New(),
		Series:    3,
		MatchID:   matchID,
		Shard:     "pc-krjp",
		Subject:   "Funzinnu",
		Rank:      rank,
		Kills:     kills,
		GameMode:  "solo",
		CreatedAt: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
	}
}

func listDir(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestArchiveRotatesByCount(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	a, err := Open(Config{Dir: dir, MaxResultsPerFile: 2})
	require.NoError(t, err)

	for _, id := range []string{"m1", "m2", "m3"} {
		require.NoError(t, a.Write(ctx, testResult(id, extract.KnownRank(2), extract.KnownKills(4))))
	}

	count, _ := a.Stats()
	assert.Equal(t, 1, count)

	warm := listDir(t, filepath.Join(dir, "warm"))
	require.Len(t, warm, 1)

	results, err := ReadFile(filepath.Join(dir, "warm", warm[0]))
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "m1", results[0].MatchID)
	assert.Equal(t, "m2", results[1].MatchID)

	require.NoError(t, a.Close())
	assert.Len(t, listDir(t, filepath.Join(dir, "warm")), 2)
	assert.Empty(t, listDir(t, filepath.Join(dir, "hot")))
}

func TestArchiveRotatesByAge(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	now := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	a, err := open(Config{Dir: dir, MaxFileAge: time.Hour}, clock)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	require.NoError(t, a.Write(ctx, testResult("m1", extract.KnownRank(1), extract.KnownKills(0))))
	now = now.Add(2 * time.Hour)
	require.NoError(t, a.Write(ctx, testResult("m2", extract.KnownRank(1), extract.KnownKills(0))))

	assert.Len(t, listDir(t, filepath.Join(dir, "warm")), 1)
	count, _ := a.Stats()
	assert.Equal(t, 1, count)
}

func TestArchiveCompressesAndReadsBack(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	a, err := Open(Config{Dir: dir, Compress: true})
	require.NoError(t, err)

	require.NoError(t, a.Write(ctx, testResult("m1", extract.UnknownRank(), extract.UnknownKills())))
	require.NoError(t, a.Close())

	assert.Empty(t, listDir(t, filepath.Join(dir, "warm")))
	cold := listDir(t, filepath.Join(dir, "cold"))
	require.Len(t, cold, 1)
	assert.Equal(t, ".gz", filepath.Ext(cold[0]))

	results, err := ReadFile(filepath.Join(dir, "cold", cold[0]))
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.False(t, results[0].Rank.Known())
	assert.False(t, results[0].Kills.Known())
	assert.Equal(t, int64(3), results[0].Series)
}

func TestArchiveEmptyFileRemovedOnClose(t *testing.T) {
	dir := t.TempDir()

	a, err := Open(Config{Dir: dir})
	require.NoError(t, err)
	require.NoError(t, a.Close())
	require.NoError(t, a.Close())

	assert.Empty(t, listDir(t, filepath.Join(dir, "hot")))
	assert.Empty(t, listDir(t, filepath.Join(dir, "warm")))

	err = a.Write(context.Background(), testResult("m1", extract.KnownRank(1), extract.KnownKills(1)))
	assert.ErrorIs(t, err, os.ErrClosed)
}
