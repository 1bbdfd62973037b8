package attendance

import (
	"context"
	"log/slog"
	"sort"
	"time"
)

// Aggregator commits cycle results to the roster artifact. It never re-adds
// a subject id that the artifact already holds, so committing the same
// result twice appends nothing the second time.
type Aggregator struct {
	store  RosterStore
	now    func() time.Time
	logger *slog.Logger
}

// NewAggregator creates an aggregator over store
func NewAggregator(store RosterStore, logger *slog.Logger) *Aggregator {
	return &Aggregator{
		store:  store,
		now:    time.Now,
		logger: logger.With("component", "aggregator"),
	}
}

// Commit merges result into the course's roster and returns how many rows
// were appended. Read or write failures are returned as ErrPersistence.
func (a *Aggregator) Commit(ctx context.Context, courseID string, result CycleResult) (int, error) {
	if len(result) == 0 {
		return 0, nil
	}

	existing, err := a.store.LoadRoster(ctx, courseID)
	if err != nil {
		return 0, courseErr(courseID, "load roster", ErrPersistence, err)
	}

	ids := make([]string, 0, len(result))
	for id := range result {
		if _, ok := existing[id]; ok {
			continue
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	// Map iteration order is random; keep the artifact stable.
	sort.Strings(ids)

	ts := a.now()
	rows := make([]RosterRow, 0, len(ids))
	for _, id := range ids {
		rows = append(rows, RosterRow{
			SubjectID:   id,
			DisplayName: result[id],
			Timestamp:   ts,
		})
	}

	if err := a.store.AppendRows(ctx, courseID, rows); err != nil {
		return 0, courseErr(courseID, "append roster rows", ErrPersistence, err)
	}

	a.logger.Debug("roster updated", "course_id", courseID, "new_rows", len(rows))
	return len(rows), nil
}

// Location returns the course's artifact location
func (a *Aggregator) Location(courseID string) string {
	return a.store.Location(courseID)
}
