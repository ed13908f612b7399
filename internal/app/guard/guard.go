// Package guard implements the contributions guard: it stamps "task served
// to actor at time T" in the shared TTL store and tracks the presentation
// timeout window. Stamping applies under every scheduler policy — unlike
// locks, which only exist under mutual-exclusion policies — so the UX layer
// can always answer "is this task still mine to finish?".
package guard

import (
	"context"
	"fmt"
	"time"

	"github.com/ywrsusan/pybossa/internal/domain"
	"github.com/ywrsusan/pybossa/internal/infra/lockstore"
)

const (
	requestedKeyFmt = "pybossa:task_requested:%s:task:%d"
	presentedKeyFmt = "pybossa:task_presented:%s:task:%d"

	// Requested stamps must outlive the presentation window, otherwise a
	// submission inside a long timeout would be rejected as unserved. One
	// hour is the floor; Stamp stretches it to the project timeout when
	// that is longer.
	minRequestedTTL = time.Hour
)

// Guard stamps task presentations for one project's timeout window.
// Construct one per request with the owning project's timeout.
type Guard struct {
	store   lockstore.Store
	timeout time.Duration
}

// NewGuard creates a guard with the given presentation timeout. A
// non-positive timeout falls back to the engine default.
func NewGuard(store lockstore.Store, timeout time.Duration) *Guard {
	if timeout <= 0 {
		timeout = domain.DefaultTimeout
	}
	return &Guard{store: store, timeout: timeout}
}

func requestedKey(taskID int64, actor domain.Actor) string {
	return fmt.Sprintf(requestedKeyFmt, actor.Key(), taskID)
}

func presentedKey(taskID int64, actor domain.Actor) string {
	return fmt.Sprintf(presentedKeyFmt, actor.Key(), taskID)
}

// Stamp records "task served to actor" if not already recorded. The stamp
// lives for at least an hour, and at least as long as the presentation
// window.
func (g *Guard) Stamp(ctx context.Context, task *domain.Task, actor domain.Actor) error {
	ttl := minRequestedTTL
	if g.timeout > ttl {
		ttl = g.timeout
	}
	ts := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := g.store.SetNX(ctx, requestedKey(task.ID, actor), ts, ttl)
	if err != nil {
		return fmt.Errorf("stamp task %d: %w", task.ID, err)
	}
	return nil
}

// CheckStamp reports whether the task was served to the actor within the
// requested-stamp horizon. Submission validation uses this.
func (g *Guard) CheckStamp(ctx context.Context, task *domain.Task, actor domain.Actor) (bool, error) {
	_, ok, err := g.store.Get(ctx, requestedKey(task.ID, actor))
	if err != nil {
		return false, fmt.Errorf("check stamp task %d: %w", task.ID, err)
	}
	return ok, nil
}

// CheckPresentedTimestamp reports whether a presentation timestamp already
// exists for (task, actor) and has not expired.
func (g *Guard) CheckPresentedTimestamp(ctx context.Context, task *domain.Task, actor domain.Actor) (bool, error) {
	_, ok, err := g.store.Get(ctx, presentedKey(task.ID, actor))
	if err != nil {
		return false, fmt.Errorf("check presented task %d: %w", task.ID, err)
	}
	return ok, nil
}

// StampPresentedTime sets the presentation timestamp with TTL = project
// timeout.
func (g *Guard) StampPresentedTime(ctx context.Context, task *domain.Task, actor domain.Actor) error {
	ts := time.Now().UTC().Format(time.RFC3339Nano)
	if err := g.store.Set(ctx, presentedKey(task.ID, actor), ts, g.timeout); err != nil {
		return fmt.Errorf("stamp presented task %d: %w", task.ID, err)
	}
	return nil
}

// ExtendPresentedTime refreshes the presentation TTL without changing the
// original semantic start time. Used when the same actor re-requests a
// still-valid task: the window slides, the recorded start does not.
func (g *Guard) ExtendPresentedTime(ctx context.Context, task *domain.Task, actor domain.Actor) error {
	if _, err := g.store.Expire(ctx, presentedKey(task.ID, actor), g.timeout); err != nil {
		return fmt.Errorf("extend presented task %d: %w", task.ID, err)
	}
	return nil
}

// PresentedTime returns the recorded presentation start time, with
// ok=false if no unexpired stamp exists.
func (g *Guard) PresentedTime(ctx context.Context, task *domain.Task, actor domain.Actor) (time.Time, bool, error) {
	raw, ok, err := g.store.Get(ctx, presentedKey(task.ID, actor))
	if err != nil || !ok {
		return time.Time{}, false, err
	}
	ts, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, false, nil
	}
	return ts, true, nil
}
