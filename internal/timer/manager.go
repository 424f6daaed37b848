package timer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/g960059/brigadeboard/internal/logging"
	"github.com/g960059/brigadeboard/internal/metrics"
	"github.com/g960059/brigadeboard/internal/model"
)

var (
	ErrNoTimer         = errors.New("unit has no timer")
	ErrNotPaused       = errors.New("timer is not paused")
	ErrAlreadyPaused   = errors.New("timer is already paused")
	ErrInvalidDuration = errors.New("timer duration must be positive")
)

type Store interface {
	SaveTimer(ctx context.Context, t model.UnitTimer) error
	DeleteTimer(ctx context.Context, unitID string) error
	ListTimers(ctx context.Context) ([]model.UnitTimer, error)
}

type Remarker interface {
	AddRemark(ctx context.Context, incidentID int64, text string) error
}

// IncidentResolver finds the incident a unit is on when the timer itself
// carries none.
type IncidentResolver interface {
	UnitContext(ctx context.Context, unitID string) (model.UnitContext, error)
}

// Alerter plays the expiry sound and shows the toast. It must not block.
type Alerter interface {
	TimerExpired(ctx context.Context, t model.UnitTimer)
}

type Effects interface {
	Enqueue(name string, fn func(context.Context) error) string
}

type Options struct {
	Store    Store
	Flash    *FlashSet
	Remarks  Remarker
	Resolver IncidentResolver
	Alerter  Alerter
	Effects  Effects
	Now      func() time.Time
	Logger   *slog.Logger
	Metrics  *metrics.Metrics
}

// Manager owns the per-unit countdowns. A unit has at most one timer.
type Manager struct {
	store    Store
	flash    *FlashSet
	remarks  Remarker
	resolver IncidentResolver
	alert    Alerter
	effects  Effects
	now      func() time.Time
	log      *slog.Logger
	m        *metrics.Metrics

	// op serialises every read-persist-write of a timer, including the
	// sweep's removal, so a timer the sweep expired is never written back.
	op     sync.Mutex
	mu     sync.Mutex
	timers map[string]model.UnitTimer
}

func NewManager(opts Options) *Manager {
	now := opts.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Manager{
		store:    opts.Store,
		flash:    opts.Flash,
		remarks:  opts.Remarks,
		resolver: opts.Resolver,
		alert:    opts.Alerter,
		effects:  opts.Effects,
		now:      now,
		log:      logging.OrDefault(opts.Logger).With("component", "timer"),
		m:        opts.Metrics,
		timers:   map[string]model.UnitTimer{},
	}
}

// Restore loads persisted timers. Timers that ran out while nothing was
// watching are discarded without an alert.
func (m *Manager) Restore(ctx context.Context) error {
	if m.flash != nil {
		if err := m.flash.Restore(ctx); err != nil {
			return err
		}
	}
	if m.store == nil {
		return nil
	}
	rows, err := m.store.ListTimers(ctx)
	if err != nil {
		return fmt.Errorf("restore timers: %w", err)
	}
	m.op.Lock()
	defer m.op.Unlock()
	now := m.now()
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range rows {
		if t.Expired(now) {
			m.log.Info("dropping timer that elapsed while offline", "unit", t.UnitID, "label", t.Label, "ended", t.EndTime)
			if err := m.store.DeleteTimer(ctx, t.UnitID); err != nil {
				m.log.Warn("delete elapsed timer failed", "unit", t.UnitID, "error", err)
			}
			continue
		}
		m.timers[t.UnitID] = t
	}
	return nil
}

// Start begins a countdown for unitID, replacing any timer the unit had.
func (m *Manager) Start(ctx context.Context, unitID string, d time.Duration, label string, incidentID int64) (model.UnitTimer, error) {
	unitID = strings.TrimSpace(unitID)
	if unitID == "" {
		return model.UnitTimer{}, fmt.Errorf("start timer: unit id is required")
	}
	if d <= 0 {
		return model.UnitTimer{}, ErrInvalidDuration
	}
	label = strings.TrimSpace(label)
	if label == "" {
		label = "Timer"
	}
	m.op.Lock()
	now := m.now()
	t := model.UnitTimer{
		UnitID:     unitID,
		Label:      label,
		Duration:   d,
		EndTime:    now.Add(d),
		IncidentID: incidentID,
		StartedAt:  now,
	}
	if err := m.save(ctx, t); err != nil {
		m.op.Unlock()
		return model.UnitTimer{}, err
	}
	m.mu.Lock()
	m.timers[unitID] = t
	m.mu.Unlock()
	m.op.Unlock()
	m.remark(t, fmt.Sprintf("TIMER STARTED %s %s for %s", label, formatDuration(d), unitID))
	return t, nil
}

func (m *Manager) Pause(ctx context.Context, unitID string) (model.UnitTimer, error) {
	return m.update(ctx, unitID, func(t *model.UnitTimer, now time.Time) (string, error) {
		if t.Paused {
			return "", ErrAlreadyPaused
		}
		t.PausedRemaining = t.Remaining(now)
		t.Paused = true
		t.EndTime = time.Time{}
		return fmt.Sprintf("TIMER PAUSED %s with %s remaining for %s", t.Label, formatDuration(t.PausedRemaining), t.UnitID), nil
	})
}

// Resume continues from the remainder frozen at pause time.
func (m *Manager) Resume(ctx context.Context, unitID string) (model.UnitTimer, error) {
	return m.update(ctx, unitID, func(t *model.UnitTimer, now time.Time) (string, error) {
		if !t.Paused {
			return "", ErrNotPaused
		}
		t.EndTime = now.Add(t.PausedRemaining)
		t.Paused = false
		t.PausedRemaining = 0
		return fmt.Sprintf("TIMER RESUMED %s with %s remaining for %s", t.Label, formatDuration(t.Remaining(now)), t.UnitID), nil
	})
}

// Reset restarts the full duration from now, running.
func (m *Manager) Reset(ctx context.Context, unitID string) (model.UnitTimer, error) {
	return m.update(ctx, unitID, func(t *model.UnitTimer, now time.Time) (string, error) {
		t.EndTime = now.Add(t.Duration)
		t.Paused = false
		t.PausedRemaining = 0
		t.StartedAt = now
		return fmt.Sprintf("TIMER RESET %s to %s for %s", t.Label, formatDuration(t.Duration), t.UnitID), nil
	})
}

func (m *Manager) Stop(ctx context.Context, unitID string) error {
	unitID = strings.TrimSpace(unitID)
	m.op.Lock()
	m.mu.Lock()
	t, ok := m.timers[unitID]
	m.mu.Unlock()
	if !ok {
		m.op.Unlock()
		return ErrNoTimer
	}
	if err := m.delete(ctx, unitID); err != nil {
		m.op.Unlock()
		return err
	}
	m.mu.Lock()
	delete(m.timers, unitID)
	m.mu.Unlock()
	m.op.Unlock()
	m.remark(t, fmt.Sprintf("TIMER STOPPED %s for %s", t.Label, unitID))
	return nil
}

func (m *Manager) update(ctx context.Context, unitID string, fn func(t *model.UnitTimer, now time.Time) (string, error)) (model.UnitTimer, error) {
	unitID = strings.TrimSpace(unitID)
	t, text, err := m.updateLocked(ctx, unitID, fn)
	if err != nil {
		return model.UnitTimer{}, err
	}
	m.remark(t, text)
	return t, nil
}

func (m *Manager) updateLocked(ctx context.Context, unitID string, fn func(t *model.UnitTimer, now time.Time) (string, error)) (model.UnitTimer, string, error) {
	m.op.Lock()
	defer m.op.Unlock()
	m.mu.Lock()
	t, ok := m.timers[unitID]
	m.mu.Unlock()
	if !ok {
		return model.UnitTimer{}, "", ErrNoTimer
	}
	text, err := fn(&t, m.now())
	if err != nil {
		return model.UnitTimer{}, "", err
	}
	if err := m.save(ctx, t); err != nil {
		return model.UnitTimer{}, "", err
	}
	m.mu.Lock()
	m.timers[unitID] = t
	m.mu.Unlock()
	return t, text, nil
}

// Tick expires every running timer whose end time is not after now. Due
// timers are removed and unpersisted first; alerts and flashes follow.
func (m *Manager) Tick(ctx context.Context, now time.Time) error {
	var errs []error
	m.op.Lock()
	m.mu.Lock()
	var due []model.UnitTimer
	for id, t := range m.timers {
		if t.Expired(now) {
			due = append(due, t)
			delete(m.timers, id)
		}
	}
	m.mu.Unlock()
	sort.Slice(due, func(i, j int) bool { return due[i].UnitID < due[j].UnitID })
	for _, t := range due {
		if err := m.delete(ctx, t.UnitID); err != nil {
			errs = append(errs, err)
		}
	}
	m.op.Unlock()

	for _, t := range due {
		if err := m.expire(ctx, t); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) expire(ctx context.Context, t model.UnitTimer) error {
	m.m.TimerExpired()
	m.log.Info("timer expired", "unit", t.UnitID, "label", t.Label, "incident", t.IncidentID)
	var errs []error
	if m.alert != nil {
		m.alert.TimerExpired(ctx, t)
	}
	incidentID := m.resolveIncident(ctx, t)
	if incidentID > 0 {
		t.IncidentID = incidentID
		m.remark(t, fmt.Sprintf("TIMER EXPIRED %s for %s", t.Label, t.UnitID))
		if m.flash != nil {
			f := model.FlashingIncident{IncidentID: incidentID, UnitID: t.UnitID, Reason: t.Label}
			if err := m.flash.Flash(ctx, f); err != nil {
				errs = append(errs, fmt.Errorf("flash incident %d: %w", incidentID, err))
			}
		}
	}
	return errors.Join(errs...)
}

func (m *Manager) resolveIncident(ctx context.Context, t model.UnitTimer) int64 {
	if t.IncidentID > 0 {
		return t.IncidentID
	}
	if m.resolver == nil {
		return 0
	}
	uc, err := m.resolver.UnitContext(ctx, t.UnitID)
	if err != nil {
		m.log.Warn("resolve incident for expired timer failed", "unit", t.UnitID, "error", err)
		return 0
	}
	return uc.ActiveIncidentID
}

// Run sweeps for expired timers every interval until ctx ends.
func (m *Manager) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := m.Tick(ctx, m.now()); err != nil {
				m.log.Warn("timer sweep failed", "error", err)
			}
		}
	}
}

func (m *Manager) Get(unitID string) (model.UnitTimer, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.timers[strings.TrimSpace(unitID)]
	return t, ok
}

func (m *Manager) Remaining(unitID string) (time.Duration, bool) {
	t, ok := m.Get(unitID)
	if !ok {
		return 0, false
	}
	return t.Remaining(m.now()), true
}

func (m *Manager) Timers() []model.UnitTimer {
	m.mu.Lock()
	out := make([]model.UnitTimer, 0, len(m.timers))
	for _, t := range m.timers {
		out = append(out, t)
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].UnitID < out[j].UnitID })
	return out
}

func (m *Manager) Flash() *FlashSet {
	return m.flash
}

func (m *Manager) save(ctx context.Context, t model.UnitTimer) error {
	if m.store == nil {
		return nil
	}
	if err := m.store.SaveTimer(ctx, t); err != nil {
		return fmt.Errorf("persist timer %s: %w", t.UnitID, err)
	}
	return nil
}

func (m *Manager) delete(ctx context.Context, unitID string) error {
	if m.store == nil {
		return nil
	}
	if err := m.store.DeleteTimer(ctx, unitID); err != nil {
		return fmt.Errorf("delete timer %s: %w", unitID, err)
	}
	return nil
}

// remark logs an audit line on the timer's incident. Failures are dropped.
func (m *Manager) remark(t model.UnitTimer, text string) {
	if t.IncidentID <= 0 || m.remarks == nil {
		return
	}
	incidentID := t.IncidentID
	run := func(ctx context.Context) error {
		return m.remarks.AddRemark(ctx, incidentID, text)
	}
	if m.effects != nil {
		m.effects.Enqueue("timer_remark", run)
		return
	}
	if err := run(context.Background()); err != nil {
		m.log.Debug("timer remark failed", "incident", incidentID, "error", err)
	}
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	if d < 0 {
		d = 0
	}
	mins := int(d / time.Minute)
	secs := int((d % time.Minute) / time.Second)
	return fmt.Sprintf("%d:%02d", mins, secs)
}
