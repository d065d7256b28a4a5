package cache

import (
	"context"
	"time"

	"kasirinaja/opscore/internal/domain"
)

type RulesCache interface {
	Get(ctx context.Context, key string) (*domain.PricingRules, bool, error)
	Set(ctx context.Context, key string, value *domain.PricingRules, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

type NoopRulesCache struct{}

func (NoopRulesCache) Get(_ context.Context, _ string) (*domain.PricingRules, bool, error) {
	return nil, false, nil
}

func (NoopRulesCache) Set(_ context.Context, _ string, _ *domain.PricingRules, _ time.Duration) error {
	return nil
}

func (NoopRulesCache) Delete(_ context.Context, _ string) error {
	return nil
}
