package service

import (
	"context"
	"sort"
	"strings"

	"kasirinaja/opscore/internal/domain"
	"kasirinaja/opscore/internal/pricing"
	"kasirinaja/opscore/internal/validate"
)

// ComputeCartTotals prices a cart without side effects.
func (s *Service) ComputeCartTotals(ctx context.Context, req domain.CartTotalsRequest) (pricing.Result, error) {
	if err := validate.Struct(req); err != nil {
		return pricing.Result{}, err
	}
	if err := s.requireOutlet(ctx, req.OutletID); err != nil {
		return pricing.Result{}, err
	}
	return s.priceCart(ctx, req.OutletID, req.CustomerID, req.PointsToRedeem, normalizeLines(req.Lines))
}

func (s *Service) priceCart(ctx context.Context, outletID string, customerID string, pointsToRedeem int64, lines []domain.CartLine) (pricing.Result, error) {
	ids := make([]string, 0, len(lines))
	for _, line := range lines {
		ids = append(ids, line.ItemID)
	}
	items, err := s.repo.GetSellableItems(ctx, ids)
	if err != nil {
		return pricing.Result{}, translate(err)
	}

	var customer *domain.Customer
	if customerID = strings.TrimSpace(customerID); customerID != "" {
		customer, err = lookup(ctx, "customer", customerID, s.repo.GetCustomer)
		if err != nil {
			return pricing.Result{}, err
		}
	}

	rules, err := s.rules.Get(ctx)
	if err != nil {
		return pricing.Result{}, translate(err)
	}

	return pricing.ComputeCartTotals(pricing.Input{
		OutletID:       outletID,
		Lines:          lines,
		Items:          items,
		Customer:       customer,
		Rules:          rules,
		PointsToRedeem: pointsToRedeem,
	})
}

// InvalidatePricingRules drops cached rules after they were edited out of band.
func (s *Service) InvalidatePricingRules(ctx context.Context) error {
	return s.rules.Invalidate(ctx)
}

// normalizeLines merges repeated items into one line each, keeping the
// order in which items first appear.
func normalizeLines(lines []domain.CartLine) []domain.CartLine {
	index := make(map[string]int, len(lines))
	out := make([]domain.CartLine, 0, len(lines))
	for _, line := range lines {
		line.ItemID = strings.TrimSpace(line.ItemID)
		if i, ok := index[line.ItemID]; ok {
			out[i].Qty += line.Qty
			continue
		}
		index[line.ItemID] = len(out)
		out = append(out, line)
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
