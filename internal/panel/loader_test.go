package panel

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
)

type fakeSource struct {
	mu     sync.Mutex
	bodies map[model.Panel]string
	errs   map[model.Panel]error
	gate   map[model.Panel]chan struct{}
}

func (s *fakeSource) Panel(ctx context.Context, p model.Panel) ([]byte, error) {
	s.mu.Lock()
	gate := s.gate[p]
	body := s.bodies[p]
	err := s.errs[p]
	s.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return []byte(body), nil
}

type recordingSink struct {
	mu      sync.Mutex
	applied map[model.Panel]string
	order   []model.Panel
}

func (s *recordingSink) ApplyPanel(p model.Panel, body []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.applied == nil {
		s.applied = map[model.Panel]string{}
	}
	s.applied[p] = string(body)
	s.order = append(s.order, p)
}

func (s *recordingSink) Applied() map[model.Panel]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := map[model.Panel]string{}
	for k, v := range s.applied {
		out[k] = v
	}
	return out
}

func TestFetchPanelsAppliesEveryPanel(t *testing.T) {
	src := &fakeSource{bodies: map[model.Panel]string{
		model.PanelActive: "<a/>",
		model.PanelOpen:   "<o/>",
		model.PanelUnits:  "<u/>",
	}}
	sink := &recordingSink{}
	l := NewLoader(src, sink, logging.Discard(), nil)

	require.NoError(t, l.FetchPanels(context.Background(), model.AllPanels))
	assert.Equal(t, map[model.Panel]string{
		model.PanelActive: "<a/>",
		model.PanelOpen:   "<o/>",
		model.PanelUnits:  "<u/>",
	}, sink.Applied())
	_, ok := l.LastApplied(model.PanelUnits)
	assert.True(t, ok)
}

func TestOneFailingPanelDoesNotBlockOthers(t *testing.T) {
	src := &fakeSource{
		bodies: map[model.Panel]string{model.PanelActive: "<a/>", model.PanelUnits: "<u/>"},
		errs:   map[model.Panel]error{model.PanelOpen: errors.New("502")},
	}
	sink := &recordingSink{}
	l := NewLoader(src, sink, logging.Discard(), nil)

	err := l.FetchPanels(context.Background(), model.AllPanels)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panel open")
	assert.Len(t, sink.Applied(), 2)
}

func TestSupersededFetchIsDiscarded(t *testing.T) {
	gate := make(chan struct{})
	src := &fakeSource{
		bodies: map[model.Panel]string{model.PanelUnits: "stale"},
		gate:   map[model.Panel]chan struct{}{model.PanelUnits: gate},
	}
	sink := &recordingSink{}
	l := NewLoader(src, sink, logging.Discard(), nil)

	done := make(chan error, 1)
	go func() { done <- l.Load(context.Background(), model.PanelUnits) }()

	time.Sleep(20 * time.Millisecond)
	l.Invalidate(model.PanelUnits)
	close(gate)

	require.NoError(t, <-done)
	assert.Empty(t, sink.Applied())
}

func TestNewerLoadWins(t *testing.T) {
	slow := make(chan struct{})
	src := &fakeSource{
		bodies: map[model.Panel]string{model.PanelOpen: "first"},
		gate:   map[model.Panel]chan struct{}{model.PanelOpen: slow},
	}
	sink := &recordingSink{}
	l := NewLoader(src, sink, logging.Discard(), nil)

	first := make(chan error, 1)
	go func() { first <- l.Load(context.Background(), model.PanelOpen) }()
	time.Sleep(20 * time.Millisecond)

	src.mu.Lock()
	src.bodies[model.PanelOpen] = "second"
	delete(src.gate, model.PanelOpen)
	src.mu.Unlock()
	require.NoError(t, l.Load(context.Background(), model.PanelOpen))

	close(slow)
	require.NoError(t, <-first)
	assert.Equal(t, "second", sink.Applied()[model.PanelOpen])
	assert.Equal(t, []model.Panel{model.PanelOpen}, sink.order)
}
