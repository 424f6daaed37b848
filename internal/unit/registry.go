package unit

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/g960059/brigadeboard/internal/logging"
)

// Registry is the session's list of known unit ids. It is fetched once; if
// that fetch fails every id is accepted.
type Registry struct {
	fetch func(ctx context.Context) ([]string, error)
	log   *slog.Logger

	mu      sync.Mutex
	loaded  bool
	failed  bool
	ids     map[string]struct{}
	ordered []string
}

func NewRegistry(fetch func(ctx context.Context) ([]string, error), logger *slog.Logger) *Registry {
	return &Registry{fetch: fetch, log: logging.OrDefault(logger)}
}

func (r *Registry) load(ctx context.Context) {
	if r.loaded {
		return
	}
	r.loaded = true
	if r.fetch == nil {
		r.failed = true
		return
	}
	ids, err := r.fetch(ctx)
	if err != nil {
		r.failed = true
		r.log.Warn("unit registry unavailable, skipping unit id validation", "error", err)
		return
	}
	r.ids = make(map[string]struct{}, len(ids))
	r.ordered = make([]string, 0, len(ids))
	for _, id := range ids {
		key := normalizeID(id)
		if key == "" {
			continue
		}
		if _, dup := r.ids[key]; dup {
			continue
		}
		r.ids[key] = struct{}{}
		r.ordered = append(r.ordered, strings.TrimSpace(id))
	}
}

// Known reports whether id is a registered unit. It is true for any id when
// the registry could not be fetched.
func (r *Registry) Known(ctx context.Context, id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.load(ctx)
	if r.failed {
		return true
	}
	_, ok := r.ids[normalizeID(id)]
	return ok
}

// Check returns a ValidationError naming field for the first unknown id.
func (r *Registry) Check(ctx context.Context, field string, ids ...string) error {
	if r == nil {
		return nil
	}
	for _, id := range ids {
		if !r.Known(ctx, id) {
			return invalid(field, "unknown unit %q", strings.TrimSpace(id))
		}
	}
	return nil
}

// Available reports whether the registry was fetched successfully.
func (r *Registry) Available(ctx context.Context) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.load(ctx)
	return !r.failed
}

func (r *Registry) IDs(ctx context.Context) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.load(ctx)
	return append([]string(nil), r.ordered...)
}

func normalizeID(id string) string {
	return strings.ToUpper(strings.TrimSpace(id))
}
