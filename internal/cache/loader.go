package cache

import (
	"context"
	"time"

	"golang.org/x/sync/singleflight"

	"kasirinaja/opscore/internal/domain"
)

const rulesKey = "opscore:pricing-rules"

// RulesLoader serves pricing rules from the cache and fills misses from
// load. Concurrent misses share one load. Cache failures degrade to a
// direct load; they are reported through onCacheError when set.
type RulesLoader struct {
	cache        RulesCache
	ttl          time.Duration
	load         func(ctx context.Context) (domain.PricingRules, error)
	group        singleflight.Group
	onCacheError func(error)
}

func NewRulesLoader(cache RulesCache, ttl time.Duration, load func(ctx context.Context) (domain.PricingRules, error)) *RulesLoader {
	if cache == nil {
		cache = NoopRulesCache{}
	}
	return &RulesLoader{cache: cache, ttl: ttl, load: load}
}

func (l *RulesLoader) OnCacheError(fn func(error)) {
	l.onCacheError = fn
}

func (l *RulesLoader) Get(ctx context.Context) (domain.PricingRules, error) {
	cached, ok, err := l.cache.Get(ctx, rulesKey)
	if err != nil {
		l.report(err)
	}
	if ok && cached != nil {
		return *cached, nil
	}

	v, err, _ := l.group.Do(rulesKey, func() (any, error) {
		rules, err := l.load(ctx)
		if err != nil {
			return domain.PricingRules{}, err
		}
		if l.ttl > 0 {
			if err := l.cache.Set(ctx, rulesKey, &rules, l.ttl); err != nil {
				l.report(err)
			}
		}
		return rules, nil
	})
	if err != nil {
		return domain.PricingRules{}, err
	}
	return v.(domain.PricingRules), nil
}

// Invalidate drops the cached rules so the next Get reloads them.
func (l *RulesLoader) Invalidate(ctx context.Context) error {
	return l.cache.Delete(ctx, rulesKey)
}

func (l *RulesLoader) report(err error) {
	if l.onCacheError != nil {
		l.onCacheError(err)
	}
}
