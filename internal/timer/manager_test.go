package timer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/g960059/brigadeboard/internal/logging"
	"github.com/g960059/brigadeboard/internal/model"
	"github.com/g960059/brigadeboard/internal/testutil"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type recordingRemarks struct {
	mu    sync.Mutex
	texts map[int64][]string
	err   error
}

func (r *recordingRemarks) AddRemark(_ context.Context, incidentID int64, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.texts == nil {
		r.texts = map[int64][]string{}
	}
	r.texts[incidentID] = append(r.texts[incidentID], text)
	return r.err
}

func (r *recordingRemarks) For(id int64) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.texts[id]...)
}

type recordingAlerter struct {
	mu      sync.Mutex
	expired []string
}

func (a *recordingAlerter) TimerExpired(_ context.Context, t model.UnitTimer) {
	a.mu.Lock()
	a.expired = append(a.expired, t.UnitID)
	a.mu.Unlock()
}

type staticResolver map[string]int64

func (r staticResolver) UnitContext(_ context.Context, unitID string) (model.UnitContext, error) {
	id, ok := r[unitID]
	if !ok {
		return model.UnitContext{}, errors.New("unknown unit")
	}
	return model.UnitContext{UnitID: unitID, ActiveIncidentID: id}, nil
}

type recordingOpener struct {
	opened []int64
}

func (o *recordingOpener) OpenIncident(_ context.Context, id int64) {
	o.opened = append(o.opened, id)
}

type harness struct {
	clock   *fakeClock
	remarks *recordingRemarks
	alerts  *recordingAlerter
	opener  *recordingOpener
	flash   *FlashSet
	mgr     *Manager
}

func newHarness(t *testing.T, resolver IncidentResolver) *harness {
	t.Helper()
	st, _ := testutil.NewStore(t)
	h := &harness{
		clock:   newFakeClock(),
		remarks: &recordingRemarks{},
		alerts:  &recordingAlerter{},
		opener:  &recordingOpener{},
	}
	h.flash = NewFlashSet(st, h.opener, logging.Discard())
	h.flash.now = h.clock.Now
	h.mgr = NewManager(Options{
		Store:    st,
		Flash:    h.flash,
		Remarks:  h.remarks,
		Resolver: resolver,
		Alerter:  h.alerts,
		Now:      h.clock.Now,
		Logger:   logging.Discard(),
	})
	return h
}

func TestPauseFreezesRemainderAndResumeContinuesFromIt(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	_, err := h.mgr.Start(ctx, "32", 10*time.Minute, "PAR", 0)
	require.NoError(t, err)

	h.clock.Advance(2 * time.Minute)
	paused, err := h.mgr.Pause(ctx, "32")
	require.NoError(t, err)
	assert.True(t, paused.Paused)
	assert.Equal(t, 8*time.Minute, paused.PausedRemaining)

	h.clock.Advance(30 * time.Minute)
	rem, ok := h.mgr.Remaining("32")
	require.True(t, ok)
	assert.Equal(t, 8*time.Minute, rem, "paused timer does not run down")
	require.NoError(t, h.mgr.Tick(ctx, h.clock.Now()))
	_, ok = h.mgr.Get("32")
	require.True(t, ok, "paused timer never expires")

	resumed, err := h.mgr.Resume(ctx, "32")
	require.NoError(t, err)
	assert.False(t, resumed.Paused)
	assert.Equal(t, h.clock.Now().Add(8*time.Minute), resumed.EndTime)

	_, err = h.mgr.Resume(ctx, "32")
	require.ErrorIs(t, err, ErrNotPaused)
}

func TestStartReplacesExistingTimer(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	_, err := h.mgr.Start(ctx, "E1", 5*time.Minute, "first", 0)
	require.NoError(t, err)
	_, err = h.mgr.Pause(ctx, "E1")
	require.NoError(t, err)
	_, err = h.mgr.Start(ctx, "E1", 3*time.Minute, "second", 0)
	require.NoError(t, err)

	timers := h.mgr.Timers()
	require.Len(t, timers, 1)
	assert.Equal(t, "second", timers[0].Label)
	assert.False(t, timers[0].Paused)
	assert.Equal(t, 3*time.Minute, timers[0].Duration)
}

func TestExpiryClearsTimerAlertsAndFlashes(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	_, err := h.mgr.Start(ctx, "M3", time.Minute, "Rehab", 4100)
	require.NoError(t, err)

	h.clock.Advance(59 * time.Second)
	require.NoError(t, h.mgr.Tick(ctx, h.clock.Now()))
	assert.Empty(t, h.alerts.expired)

	h.clock.Advance(time.Second)
	require.NoError(t, h.mgr.Tick(ctx, h.clock.Now()))
	assert.Equal(t, []string{"M3"}, h.alerts.expired)
	_, ok := h.mgr.Get("M3")
	assert.False(t, ok)
	assert.True(t, h.flash.IsFlashing(4100))

	texts := h.remarks.For(4100)
	require.Len(t, texts, 2)
	assert.Equal(t, "TIMER STARTED Rehab 1:00 for M3", texts[0])
	assert.Equal(t, "TIMER EXPIRED Rehab for M3", texts[1])

	require.NoError(t, h.mgr.Tick(ctx, h.clock.Now()))
	assert.Len(t, h.alerts.expired, 1, "expiry fires once")
}

// gatedStore holds SaveTimer open until release is closed, once armed.
type gatedStore struct {
	Store
	armed   chan struct{}
	entered chan struct{}
	release chan struct{}
}

func newGatedStore(inner Store) *gatedStore {
	return &gatedStore{
		Store:   inner,
		armed:   make(chan struct{}, 1),
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (g *gatedStore) SaveTimer(ctx context.Context, t model.UnitTimer) error {
	select {
	case <-g.armed:
		close(g.entered)
		<-g.release
	default:
	}
	return g.Store.SaveTimer(ctx, t)
}

func newGatedHarness(t *testing.T) (*harness, *gatedStore) {
	t.Helper()
	h := newHarness(t, nil)
	gate := newGatedStore(h.mgr.store)
	h.mgr.store = gate
	return h, gate
}

// sweepDuringSave arms the gate, runs op until it blocks inside SaveTimer,
// then starts a sweep at sweepAt and checks the sweep waits for op.
func sweepDuringSave(t *testing.T, h *harness, gate *gatedStore, sweepAt time.Time, op func() error) {
	t.Helper()
	ctx := context.Background()
	gate.armed <- struct{}{}

	opDone := make(chan error, 1)
	go func() { opDone <- op() }()
	<-gate.entered

	tickDone := make(chan error, 1)
	go func() { tickDone <- h.mgr.Tick(ctx, sweepAt) }()
	select {
	case <-tickDone:
		t.Fatal("sweep finished while a timer write was in progress")
	case <-time.After(50 * time.Millisecond):
	}

	close(gate.release)
	require.NoError(t, <-opDone)
	require.NoError(t, <-tickDone)
}

func TestPauseDuringSweepIsNotUndoneByExpiry(t *testing.T) {
	h, gate := newGatedHarness(t)
	ctx := context.Background()

	_, err := h.mgr.Start(ctx, "E1", time.Minute, "PAR", 0)
	require.NoError(t, err)

	sweepDuringSave(t, h, gate, h.clock.Now().Add(2*time.Minute), func() error {
		_, err := h.mgr.Pause(ctx, "E1")
		return err
	})

	assert.Empty(t, h.alerts.expired, "a paused timer does not fire")
	live, ok := h.mgr.Get("E1")
	require.True(t, ok)
	assert.True(t, live.Paused)
	rows, err := gate.ListTimers(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.True(t, rows[0].Paused)
}

func TestExpiredTimerIsNeverWrittenBack(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	_, err := h.mgr.Start(ctx, "E1", time.Minute, "PAR", 0)
	require.NoError(t, err)
	require.NoError(t, h.mgr.Tick(ctx, h.clock.Now().Add(2*time.Minute)))
	require.Equal(t, []string{"E1"}, h.alerts.expired)

	_, err = h.mgr.Pause(ctx, "E1")
	require.ErrorIs(t, err, ErrNoTimer)
	_, ok := h.mgr.Get("E1")
	assert.False(t, ok)
	rows, err := h.mgr.store.ListTimers(ctx)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestRestartDuringSweepStaysPersisted(t *testing.T) {
	h, gate := newGatedHarness(t)
	ctx := context.Background()

	_, err := h.mgr.Start(ctx, "E1", time.Minute, "first", 0)
	require.NoError(t, err)

	h.clock.Advance(2 * time.Minute)
	sweepDuringSave(t, h, gate, h.clock.Now(), func() error {
		_, err := h.mgr.Start(ctx, "E1", 10*time.Minute, "second", 0)
		return err
	})

	assert.Empty(t, h.alerts.expired, "the replaced timer never fires")
	live, ok := h.mgr.Get("E1")
	require.True(t, ok)
	assert.Equal(t, "second", live.Label)
	rows, err := gate.ListTimers(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "second", rows[0].Label)
}

func TestExpiryResolvesIncidentFromUnit(t *testing.T) {
	h := newHarness(t, staticResolver{"E9": 77})
	ctx := context.Background()

	_, err := h.mgr.Start(ctx, "E9", time.Minute, "", 0)
	require.NoError(t, err)
	_, err = h.mgr.Start(ctx, "E10", time.Minute, "", 0)
	require.NoError(t, err)

	h.clock.Advance(2 * time.Minute)
	require.NoError(t, h.mgr.Tick(ctx, h.clock.Now()))
	assert.Equal(t, []string{"E10", "E9"}, h.alerts.expired)
	assert.True(t, h.flash.IsFlashing(77))
	assert.Len(t, h.flash.List(), 1, "unit without incident does not flash")
}

func TestRemarkFailureDoesNotAffectTimer(t *testing.T) {
	h := newHarness(t, nil)
	h.remarks.err = errors.New("backend down")
	ctx := context.Background()

	_, err := h.mgr.Start(ctx, "E1", time.Minute, "x", 5)
	require.NoError(t, err)
	_, err = h.mgr.Pause(ctx, "E1")
	require.NoError(t, err)
	require.NoError(t, h.mgr.Stop(ctx, "E1"))
	assert.Empty(t, h.mgr.Timers())
	assert.Len(t, h.remarks.For(5), 3)
}

func TestResetRestartsFullDuration(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	_, err := h.mgr.Start(ctx, "E1", 10*time.Minute, "x", 0)
	require.NoError(t, err)
	h.clock.Advance(4 * time.Minute)
	_, err = h.mgr.Pause(ctx, "E1")
	require.NoError(t, err)
	reset, err := h.mgr.Reset(ctx, "E1")
	require.NoError(t, err)
	assert.False(t, reset.Paused)
	assert.Equal(t, 10*time.Minute, reset.Remaining(h.clock.Now()))
}

func TestOperationsWithoutTimer(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	_, err := h.mgr.Pause(ctx, "nope")
	require.ErrorIs(t, err, ErrNoTimer)
	require.ErrorIs(t, h.mgr.Stop(ctx, "nope"), ErrNoTimer)
	_, err = h.mgr.Start(ctx, "E1", 0, "", 0)
	require.ErrorIs(t, err, ErrInvalidDuration)
}

func TestRestoreDropsElapsedTimersAndKeepsTheRest(t *testing.T) {
	st, ctx := testutil.NewStore(t)
	clock := newFakeClock()
	now := clock.Now()

	testutil.SeedRunningTimer(t, st, ctx, "OLD", 10, now.Add(-time.Second), 5*time.Minute)
	testutil.SeedRunningTimer(t, st, ctx, "LIVE", 11, now.Add(3*time.Minute), 5*time.Minute)
	require.NoError(t, st.SaveTimer(ctx, model.UnitTimer{
		UnitID: "HELD", Label: "held", Duration: 5 * time.Minute, Paused: true, PausedRemaining: time.Minute, StartedAt: now,
	}))
	require.NoError(t, st.AddFlashing(ctx, model.FlashingIncident{IncidentID: 99, UnitID: "E1", StartedAt: now}))

	alerts := &recordingAlerter{}
	flash := NewFlashSet(st, nil, logging.Discard())
	mgr := NewManager(Options{Store: st, Flash: flash, Alerter: alerts, Now: clock.Now, Logger: logging.Discard()})
	require.NoError(t, mgr.Restore(ctx))

	timers := mgr.Timers()
	require.Len(t, timers, 2)
	assert.Equal(t, "HELD", timers[0].UnitID)
	assert.Equal(t, "LIVE", timers[1].UnitID)
	assert.Empty(t, alerts.expired, "elapsed timers are dropped without alert")
	assert.True(t, flash.IsFlashing(99))

	rows, err := st.ListTimers(ctx)
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestTimersSurviveRestart(t *testing.T) {
	st, ctx := testutil.NewStore(t)
	clock := newFakeClock()

	first := NewManager(Options{Store: st, Now: clock.Now, Logger: logging.Discard()})
	_, err := first.Start(ctx, "32", 10*time.Minute, "PAR", 0)
	require.NoError(t, err)
	clock.Advance(2 * time.Minute)
	_, err = first.Pause(ctx, "32")
	require.NoError(t, err)

	second := NewManager(Options{Store: st, Now: clock.Now, Logger: logging.Discard()})
	require.NoError(t, second.Restore(ctx))
	got, ok := second.Get("32")
	require.True(t, ok)
	assert.True(t, got.Paused)
	assert.Equal(t, 8*time.Minute, got.PausedRemaining)
}

func TestRunSweepsUntilCancelled(t *testing.T) {
	alerts := &recordingAlerter{}
	mgr := NewManager(Options{Alerter: alerts, Logger: logging.Discard()})
	_, err := mgr.Start(context.Background(), "E1", 10*time.Millisecond, "", 0)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- mgr.Run(ctx, 5*time.Millisecond) }()

	require.Eventually(t, func() bool {
		alerts.mu.Lock()
		defer alerts.mu.Unlock()
		return len(alerts.expired) == 1
	}, time.Second, 5*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
