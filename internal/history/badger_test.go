package history

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"snapengine/internal/domain"
)

func setupTestRepo(t *testing.T) *BadgerRepository {
	t.Helper()

	log := logrus.New()
	log.SetOutput(os.Stderr)
	log.SetLevel(logrus.ErrorLevel)

	repo, err := NewBadgerRepository(t.TempDir(), log)
	require.NoError(t, err, "Failed to open test history database")
	t.Cleanup(func() {
		require.NoError(t, repo.Close())
	})
	return repo
}

func TestSaveAndRecent(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Minute)
	urls := []string{"https://one.example", "https://two.example", "https://three.example"}
	for i, url := range urls {
		err := repo.SaveRecord(ctx, domain.CaptureRecord{
			URL:        url,
			OutputPath: "shot.png",
			Success:    true,
			Timestamp:  base.Add(time.Duration(i) * time.Second),
		})
		require.NoError(t, err)
	}

	records, err := repo.Recent(ctx, 0)
	require.NoError(t, err)
	require.Len(t, records, 3)

	// Newest first.
	assert.Equal(t, "https://three.example", records[0].URL)
	assert.Equal(t, "https://two.example", records[1].URL)
	assert.Equal(t, "https://one.example", records[2].URL)
}

func TestRecentLimit(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	base := time.Now().Add(-time.Minute)
	for i := 0; i < 5; i++ {
		err := repo.SaveRecord(ctx, domain.CaptureRecord{
			URL:       "https://example.com",
			Timestamp: base.Add(time.Duration(i) * time.Second),
		})
		require.NoError(t, err)
	}

	records, err := repo.Recent(ctx, 2)
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestRecentEmpty(t *testing.T) {
	repo := setupTestRepo(t)

	records, err := repo.Recent(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestSaveFillsMissingTimestamp(t *testing.T) {
	repo := setupTestRepo(t)
	ctx := context.Background()

	err := repo.SaveRecord(ctx, domain.CaptureRecord{URL: "https://example.com", Success: false, Error: "boom"})
	require.NoError(t, err)

	records, err := repo.Recent(ctx, 1)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.False(t, records[0].Timestamp.IsZero(), "A zero timestamp must be filled at save time")
	assert.Equal(t, "boom", records[0].Error)
}
