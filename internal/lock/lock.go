package lock

import (
	"cmp"
	"context"
	"slices"
	"sync"

	"github.com/rs/zerolog"
)

// TriggerLockManager serializes state-changing work per trigger across every
// process sharing it. Lock returns the subset of ids it locked; an id is either
// wholly locked or absent from the result.
type TriggerLockManager interface {
	Lock(ctx context.Context, ids []int64) ([]int64, error)
	Unlock(ctx context.Context, ids []int64) error
}

// Held describes one trigger lock currently owned by somebody.
type Held struct {
	TriggerID int64  `json:"trigger_id"`
	Owner     string `json:"owner"`
	LockedAt  int64  `json:"locked_at"`
	ExpiresAt int64  `json:"expires_at,omitempty"`
}

// WithTrigger runs fn while holding the lock on triggerID. It reports false
// without calling fn when the lock is not available. The lock is released on
// every path out of fn, panics included.
func WithTrigger(ctx context.Context, m TriggerLockManager, triggerID int64, fn func() error) (bool, error) {
	locked, err := m.Lock(ctx, []int64{triggerID})
	if err != nil {
		return false, err
	}
	if !slices.Contains(locked, triggerID) {
		return false, nil
	}
	defer func() {
		if err := m.Unlock(context.WithoutCancel(ctx), locked); err != nil {
			zerolog.Ctx(ctx).Error().Err(err).Int64("trigger_id", triggerID).Msg("failed to release trigger lock")
		}
	}()
	return true, fn()
}

// Local is an in-process lock set. It only serializes callers sharing the same
// instance.
type Local struct {
	mu   sync.Mutex
	held map[int64]struct{}
}

func NewLocal() *Local {
	return &Local{held: make(map[int64]struct{})}
}

func (l *Local) Lock(_ context.Context, ids []int64) ([]int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var locked []int64
	for _, id := range dedupe(ids) {
		if _, ok := l.held[id]; ok {
			continue
		}
		l.held[id] = struct{}{}
		locked = append(locked, id)
	}
	return locked, nil
}

func (l *Local) Unlock(_ context.Context, ids []int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, id := range ids {
		delete(l.held, id)
	}
	return nil
}

func (l *Local) Held(context.Context) ([]Held, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Held, 0, len(l.held))
	for id := range l.held {
		out = append(out, Held{TriggerID: id, Owner: "local"})
	}
	slices.SortFunc(out, func(a, b Held) int { return cmp.Compare(a.TriggerID, b.TriggerID) })
	return out, nil
}

// dedupe returns the distinct ids in ascending order, so that concurrent
// multi-trigger requests always lock in the same order.
func dedupe(ids []int64) []int64 {
	out := slices.Clone(ids)
	slices.Sort(out)
	return slices.Compact(out)
}
