package timer

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/g960059/brigadeboard/internal/logging"
	"github.com/g960059/brigadeboard/internal/model"
)

type FlashStore interface {
	AddFlashing(ctx context.Context, f model.FlashingIncident) error
	RemoveFlashing(ctx context.Context, incidentID int64) (bool, error)
	ListFlashing(ctx context.Context) ([]model.FlashingIncident, error)
}

// Opener navigates to an incident.
type Opener interface {
	OpenIncident(ctx context.Context, incidentID int64)
}

type ClickResult int

const (
	// ClickAcknowledged: the click cleared a flash and must not navigate.
	ClickAcknowledged ClickResult = iota + 1
	ClickOpened
)

func (r ClickResult) String() string {
	switch r {
	case ClickAcknowledged:
		return "acknowledged"
	case ClickOpened:
		return "opened"
	default:
		return "unknown"
	}
}

// FlashSet holds incidents whose timer alert has not been acknowledged.
type FlashSet struct {
	store  FlashStore
	opener Opener
	log    *slog.Logger
	now    func() time.Time

	mu  sync.Mutex
	set map[int64]model.FlashingIncident
}

func NewFlashSet(store FlashStore, opener Opener, logger *slog.Logger) *FlashSet {
	return &FlashSet{
		store:  store,
		opener: opener,
		log:    logging.OrDefault(logger).With("component", "flash"),
		now:    func() time.Time { return time.Now().UTC() },
		set:    map[int64]model.FlashingIncident{},
	}
}

// Restore loads the persisted set.
func (s *FlashSet) Restore(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	rows, err := s.store.ListFlashing(ctx)
	if err != nil {
		return fmt.Errorf("restore flashing incidents: %w", err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range rows {
		s.set[f.IncidentID] = f
	}
	return nil
}

func (s *FlashSet) Flash(ctx context.Context, f model.FlashingIncident) error {
	if f.IncidentID <= 0 {
		return fmt.Errorf("flash: incident id is required")
	}
	if f.StartedAt.IsZero() {
		f.StartedAt = s.now()
	}
	s.mu.Lock()
	if existing, ok := s.set[f.IncidentID]; ok {
		f = existing
	}
	s.set[f.IncidentID] = f
	s.mu.Unlock()
	if s.store != nil {
		if err := s.store.AddFlashing(ctx, f); err != nil {
			return err
		}
	}
	return nil
}

// Acknowledge clears the flash and reports whether the incident was flashing.
func (s *FlashSet) Acknowledge(ctx context.Context, incidentID int64) (bool, error) {
	s.mu.Lock()
	_, ok := s.set[incidentID]
	delete(s.set, incidentID)
	s.mu.Unlock()
	if !ok {
		return false, nil
	}
	if s.store != nil {
		if _, err := s.store.RemoveFlashing(ctx, incidentID); err != nil {
			return true, err
		}
	}
	return true, nil
}

func (s *FlashSet) IsFlashing(incidentID int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.set[incidentID]
	return ok
}

func (s *FlashSet) List() []model.FlashingIncident {
	s.mu.Lock()
	out := make([]model.FlashingIncident, 0, len(s.set))
	for _, f := range s.set {
		out = append(out, f)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.Before(out[j].StartedAt)
		}
		return out[i].IncidentID < out[j].IncidentID
	})
	return out
}

// ClickRow handles a click anywhere inside an incident row. The first click
// on a flashing row only acknowledges it; any click on a row that is not
// flashing opens the incident.
func (s *FlashSet) ClickRow(ctx context.Context, incidentID int64) ClickResult {
	acked, err := s.Acknowledge(ctx, incidentID)
	if err != nil {
		s.log.Warn("persist flash acknowledgement failed", "incident", incidentID, "error", err)
	}
	if acked {
		return ClickAcknowledged
	}
	if s.opener != nil {
		s.opener.OpenIncident(ctx, incidentID)
	}
	return ClickOpened
}
