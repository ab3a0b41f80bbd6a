package repository

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/bitfantasy/nimo-mes/internal/production/entity"
	"github.com/bitfantasy/nimo-mes/internal/production/testutil"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestIsUniqueViolation(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"gorm translated", gorm.ErrDuplicatedKey, true},
		{"postgres 23505", fmt.Errorf("insert: %w", &pgconn.PgError{Code: "23505"}), true},
		{"postgres fk", &pgconn.PgError{Code: "23503"}, false},
		{"sqlite text", errors.New("UNIQUE constraint failed: t_scan_request.request_id"), true},
		{"other", errors.New("connection reset"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsUniqueViolation(tt.err))
		})
	}
}

func TestScanRequestReserve(t *testing.T) {
	repos := NewRepositories(testutil.SetupTestDB(t))
	ctx := context.Background()

	ok, err := repos.ScanRequest.Reserve(ctx, "R1")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repos.ScanRequest.Reserve(ctx, "R1")
	require.NoError(t, err)
	assert.False(t, ok, "second reservation of the same request id must lose")

	require.NoError(t, repos.ScanRequest.Complete(ctx, "R1", "rec-1", entity.JSONB{"accepted": true}))
	req, err := repos.ScanRequest.Find(ctx, "R1")
	require.NoError(t, err)
	assert.Equal(t, "rec-1", req.ScanRecordID)

	_, err = repos.ScanRequest.Find(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAggregateCompareAndSetMax(t *testing.T) {
	repos := NewRepositories(testutil.SetupTestDB(t))
	ctx := context.Background()

	row, err := repos.Aggregate.EnsureBundleStage(ctx, "o1", "b1", "sewing")
	require.NoError(t, err)
	again, err := repos.Aggregate.EnsureBundleStage(ctx, "o1", "b1", "sewing")
	require.NoError(t, err)
	assert.Equal(t, row.ID, again.ID)

	ok, err := repos.Aggregate.CompareAndSetMax(ctx, row.ID, 0, 20, nil)
	require.NoError(t, err)
	assert.True(t, ok)

	// 并发写入者拿着过期的旧值
	ok, err = repos.Aggregate.CompareAndSetMax(ctx, row.ID, 0, 35, nil)
	require.NoError(t, err)
	assert.False(t, ok)

	got, err := repos.Aggregate.FindBundleStage(ctx, "b1", "sewing")
	require.NoError(t, err)
	assert.Equal(t, 20, got.MaxQuantity)
}

func TestOutboxRetryable(t *testing.T) {
	repos := NewRepositories(testutil.SetupTestDB(t))
	ctx := context.Background()

	item := &entity.SideEffectOutbox{Kind: "rollback_notify", OrderID: "o1", Status: entity.OutboxPending}
	require.NoError(t, repos.Outbox.Create(ctx, item))
	require.NotEmpty(t, item.ID)

	for i := 0; i < 3; i++ {
		require.NoError(t, repos.Outbox.MarkFailed(ctx, item.ID, "timeout"))
	}
	items, err := repos.Outbox.ListRetryable(ctx, 5, 10)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, 3, items[0].Attempts)
	assert.Equal(t, "timeout", items[0].LastError)

	items, err = repos.Outbox.ListRetryable(ctx, 3, 10)
	require.NoError(t, err)
	assert.Empty(t, items, "attempt budget exhausted")

	require.NoError(t, repos.Outbox.MarkDone(ctx, item.ID))
	items, err = repos.Outbox.ListRetryable(ctx, 10, 10)
	require.NoError(t, err)
	assert.Empty(t, items)
}
