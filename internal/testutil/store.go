package testutil

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/g960059/brigadeboard/internal/model"
	"github.com/g960059/brigadeboard/internal/store"
)

func NewStore(t *testing.T) (*store.Store, context.Context) {
	t.Helper()
	ctx := context.Background()
	s, err := store.Open(ctx, filepath.Join(t.TempDir(), "board-test.db"))
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})
	if err := store.ApplyMigrations(ctx, s.DB()); err != nil {
		t.Fatalf("apply migrations: %v", err)
	}
	return s, ctx
}

// SeedRunningTimer persists a live timer for unitID ending at end.
func SeedRunningTimer(t *testing.T, s *store.Store, ctx context.Context, unitID string, incidentID int64, end time.Time, duration time.Duration) model.UnitTimer {
	t.Helper()
	timer := model.UnitTimer{
		UnitID:     unitID,
		Label:      "seeded",
		Duration:   duration,
		EndTime:    end,
		IncidentID: incidentID,
		StartedAt:  end.Add(-duration),
	}
	if err := s.SaveTimer(ctx, timer); err != nil {
		t.Fatalf("seed timer: %v", err)
	}
	return timer
}
