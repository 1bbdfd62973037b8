package attendance

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAggregator_CommitIsIdempotent(t *testing.T) {
	store := newMemoryStore()
	agg := NewAggregator(store, setupTestLogger())
	result := CycleResult{"S2": "Bob", "S1": "Alice"}

	n, err := agg.Commit(context.Background(), "CS101", result)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = agg.Commit(context.Background(), "CS101", result)
	require.NoError(t, err)
	assert.Zero(t, n)

	rows := store.rowsFor("CS101")
	require.Len(t, rows, 2)
	assert.Equal(t, "S1", rows[0].SubjectID)
	assert.Equal(t, "Alice", rows[0].DisplayName)
	assert.Equal(t, "S2", rows[1].SubjectID)
}

func TestAggregator_OnlyAppendsNewSubjects(t *testing.T) {
	store := newMemoryStore()
	agg := NewAggregator(store, setupTestLogger())
	first := time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)
	second := first.Add(15 * time.Second)

	agg.now = func() time.Time { return first }
	_, err := agg.Commit(context.Background(), "CS101", CycleResult{"S1": "Alice"})
	require.NoError(t, err)

	agg.now = func() time.Time { return second }
	n, err := agg.Commit(context.Background(), "CS101", CycleResult{"S1": "Alicia", "S3": "Carol"})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	rows := store.rowsFor("CS101")
	require.Len(t, rows, 2)
	// The first sighting keeps its original name and time
	assert.Equal(t, RosterRow{SubjectID: "S1", DisplayName: "Alice", Timestamp: first}, rows[0])
	assert.Equal(t, RosterRow{SubjectID: "S3", DisplayName: "Carol", Timestamp: second}, rows[1])
}

func TestAggregator_EmptyResultSkipsStore(t *testing.T) {
	store := newMemoryStore()
	store.loadErr = errors.New("should not be called")
	agg := NewAggregator(store, setupTestLogger())

	n, err := agg.Commit(context.Background(), "CS101", CycleResult{})
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestAggregator_LoadFailureIsPersistenceError(t *testing.T) {
	store := newMemoryStore()
	cause := errors.New("workbook corrupt")
	store.loadErr = cause
	agg := NewAggregator(store, setupTestLogger())

	_, err := agg.Commit(context.Background(), "CS101", CycleResult{"S1": "Alice"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPersistence)
	assert.ErrorIs(t, err, cause)

	var ce *CourseError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "CS101", ce.CourseID)
}

func TestAggregator_CoursesAreIsolated(t *testing.T) {
	store := newMemoryStore()
	agg := NewAggregator(store, setupTestLogger())

	_, err := agg.Commit(context.Background(), "CS101", CycleResult{"S1": "Alice"})
	require.NoError(t, err)
	n, err := agg.Commit(context.Background(), "MA201", CycleResult{"S1": "Alice"})
	require.NoError(t, err)

	assert.Equal(t, 1, n)
	assert.Len(t, store.rowsFor("CS101"), 1)
	assert.Len(t, store.rowsFor("MA201"), 1)
}
