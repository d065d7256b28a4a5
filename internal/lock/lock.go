package lock

import (
	"context"
	"errors"
	"sort"
	"time"

	"kasirinaja/opscore/internal/apperr"
)

var ErrBusy = errors.New("lock busy")

// Release frees a held lock. It is safe to call more than once.
type Release func()

// Locker serialises critical sections by key. Acquire blocks until the key
// is free or ctx is done.
type Locker interface {
	Acquire(ctx context.Context, key string) (Release, error)
}

func StockKey(outletID, templateID string) string {
	return "stock:" + outletID + ":" + templateID
}

// PackageGraphKey guards every package composition edit. Cycle checks read
// the whole graph, so edits to different items still serialise.
const PackageGraphKey = "package:graph"

func CheckoutKey(outletID string) string {
	return "checkout:" + outletID
}

func ClosingKey(outletID, staffID string) string {
	return "closing:" + outletID + ":" + staffID
}

// AcquireAll takes every key in sorted order so two callers locking
// overlapping sets can never deadlock. Waiting is bounded by wait; running
// out of time yields a Conflict wrapping ErrBusy and nothing stays held.
func AcquireAll(ctx context.Context, locker Locker, wait time.Duration, keys ...string) (Release, error) {
	ordered := uniqueSorted(keys)
	if len(ordered) == 0 {
		return func() {}, nil
	}

	acquireCtx := ctx
	if wait > 0 {
		var cancel context.CancelFunc
		acquireCtx, cancel = context.WithTimeout(ctx, wait)
		defer cancel()
	}

	held := make([]Release, 0, len(ordered))
	releaseAll := func() {
		for i := len(held) - 1; i >= 0; i-- {
			held[i]()
		}
	}

	for _, key := range ordered {
		release, err := locker.Acquire(acquireCtx, key)
		if err != nil {
			releaseAll()
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrBusy) {
				return nil, apperr.Wrap(apperr.CodeConflict, ErrBusy, "resource busy, retry shortly").
					WithDetails(map[string]any{"key": key})
			}
			return nil, err
		}
		held = append(held, release)
	}
	return releaseAll, nil
}

func uniqueSorted(keys []string) []string {
	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, key := range keys {
		if key == "" {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}
