package postgres_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"coin-journal/internal/domain"
	"coin-journal/internal/storage"
	pgstore "coin-journal/internal/storage/postgres"
)

func testResult(tradeID int64, createdAt int64, score float64) *domain.EvaluationResult {
	return &domain.EvaluationResult{
		ResultID: uuid.NewString(),
		TradeID:  tradeID,
		JobID:    uuid.NewString(),
		Payload: domain.ResultPayload{
			Score:     score,
			Summary:   "neutral market conditions",
			Breakdown: map[string]float64{"dayRange": score},
		},
		CreatedAt: createdAt,
	}
}

func TestResultStore_InsertAndGetLatest(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := pgstore.NewResultStore(pool)
	ctx := context.Background()

	r := testResult(100, 1700000000000, 0.5)
	require.NoError(t, store.Insert(ctx, r))

	got, err := store.GetLatestByTrade(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, r.ResultID, got.ResultID)
	assert.Equal(t, r.JobID, got.JobID)
	assert.Equal(t, r.Payload.Score, got.Payload.Score)
	assert.Equal(t, r.Payload.Summary, got.Payload.Summary)
	assert.Equal(t, r.Payload.Breakdown, got.Payload.Breakdown)
	assert.Equal(t, r.CreatedAt, got.CreatedAt)
}

func TestResultStore_AppendOnlyLatestWins(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := pgstore.NewResultStore(pool)
	ctx := context.Background()

	old := testResult(100, 1700000000000, 0.3)
	newer := testResult(100, 1700000100000, 0.8)
	require.NoError(t, store.Insert(ctx, old))
	require.NoError(t, store.Insert(ctx, newer))

	got, err := store.GetLatestByTrade(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, newer.ResultID, got.ResultID)

	all, err := store.ListByTrade(ctx, 100)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, newer.ResultID, all[0].ResultID)
	assert.Equal(t, old.ResultID, all[1].ResultID)
}

func TestResultStore_DuplicateID(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := pgstore.NewResultStore(pool)
	ctx := context.Background()

	r := testResult(100, 1700000000000, 0.5)
	require.NoError(t, store.Insert(ctx, r))

	err := store.Insert(ctx, r)
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)
}

func TestResultStore_GetLatestNotFound(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := pgstore.NewResultStore(pool)
	_, err := store.GetLatestByTrade(context.Background(), 999)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestResultStore_ListIsolatedByTrade(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := pgstore.NewResultStore(pool)
	ctx := context.Background()

	mine := testResult(100, 1700000000000, 0.5)
	other := testResult(101, 1700000000000, 0.6)
	require.NoError(t, store.Insert(ctx, mine))
	require.NoError(t, store.Insert(ctx, other))

	all, err := store.ListByTrade(ctx, 100)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, mine.ResultID, all[0].ResultID)
}
