package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestStore(t *testing.T) *InterviewStore {
	t.Helper()

	store, err := Open(filepath.Join(t.TempDir(), "interviews.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return store
}

func TestInterviewStore_InsertAndList(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	createdAt := time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC)

	require.NoError(t, store.Insert(ctx, &InterviewRecord{
		ID:        "int-1",
		UserID:    "user-1",
		CallID:    "call-1",
		Status:    InterviewStatusCreated,
		CreatedAt: createdAt,
	}))
	require.NoError(t, store.Insert(ctx, &InterviewRecord{
		ID:        "int-2",
		UserID:    "user-1",
		CallID:    "call-2",
		Status:    InterviewStatusCreated,
		CreatedAt: createdAt.Add(time.Hour),
	}))
	require.NoError(t, store.Insert(ctx, &InterviewRecord{
		ID:        "int-3",
		UserID:    "user-2",
		CallID:    "call-3",
		Status:    InterviewStatusCreated,
		CreatedAt: createdAt,
	}))

	records, err := store.ListByUser(ctx, "user-1")

	require.NoError(t, err)
	require.Len(t, records, 2)
	// Newest first
	assert.Equal(t, "int-2", records[0].ID)
	assert.Equal(t, "int-1", records[1].ID)
	assert.True(t, records[0].EndedAt.IsZero())
}

func TestInterviewStore_MarkEnded(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	createdAt := time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC)
	endedAt := createdAt.Add(20 * time.Minute)

	require.NoError(t, store.Insert(ctx, &InterviewRecord{
		ID:        "int-1",
		UserID:    "user-1",
		CallID:    "call-1",
		Status:    InterviewStatusCreated,
		CreatedAt: createdAt,
	}))

	require.NoError(t, store.MarkEnded(ctx, "call-1", endedAt))

	records, err := store.ListByUser(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, InterviewStatusEnded, records[0].Status)
	assert.Equal(t, endedAt, records[0].EndedAt)
}

func TestInterviewStore_MarkEnded_UnknownCall(t *testing.T) {
	store := setupTestStore(t)

	// Webhooks can reference calls this instance never recorded.
	err := store.MarkEnded(context.Background(), "call-unknown", time.Now())

	assert.NoError(t, err)
}

func TestInterviewStore_MarkEnded_EmptyCallID(t *testing.T) {
	store := setupTestStore(t)

	err := store.MarkEnded(context.Background(), "", time.Now())

	assert.NoError(t, err)
}

func TestInterviewStore_ListByUser_Empty(t *testing.T) {
	store := setupTestStore(t)

	records, err := store.ListByUser(context.Background(), "nobody")

	require.NoError(t, err)
	assert.Empty(t, records)
}
