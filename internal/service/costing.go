package service

import (
	"context"
	"fmt"

	"kasirinaja/opscore/internal/costing"
	"kasirinaja/opscore/internal/domain"
	"kasirinaja/opscore/internal/lock"
	"kasirinaja/opscore/internal/validate"
)

func (s *Service) SimulateRecipeCost(_ context.Context, req domain.SimulationRequest) (domain.SimulationResult, error) {
	if err := validate.Struct(req); err != nil {
		return domain.SimulationResult{}, err
	}
	return costing.Simulate(req.Rows, req.SellingPrice, req.RevenueSharePercent)
}

// ItemCost reports an item's unit cost against its price at the outlet.
// An empty or aggregate outlet uses the base price.
func (s *Service) ItemCost(ctx context.Context, itemID string, outletID string) (domain.ItemCostResponse, error) {
	resolver := costing.NewResolver(s.repo)
	item, err := resolver.Item(ctx, itemID)
	if err != nil {
		return domain.ItemCostResponse{}, translate(err)
	}
	unitCost, err := resolver.UnitCost(ctx, itemID)
	if err != nil {
		return domain.ItemCostResponse{}, translate(err)
	}

	price := item.EffectivePrice(outletID)
	ratio := costing.FoodCostRatio(unitCost, price)
	return domain.ItemCostResponse{
		ItemID:        item.ID,
		OutletID:      outletID,
		Price:         price,
		UnitCost:      unitCost,
		FoodCostRatio: ratio,
		Health:        costing.Health(ratio),
	}, nil
}

// UpdateItemPackage replaces an item's package composition after checking
// that the result is still acyclic.
func (s *Service) UpdateItemPackage(ctx context.Context, itemID string, req domain.PackageUpdateRequest) (domain.SellableItem, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.SellableItem{}, err
	}
	if err := requireExecutive(actor, "package changes"); err != nil {
		return domain.SellableItem{}, err
	}
	if err := validate.Struct(req); err != nil {
		return domain.SellableItem{}, err
	}

	release, err := s.acquire(ctx, "package_update", lock.PackageGraphKey)
	if err != nil {
		return domain.SellableItem{}, err
	}
	defer release()
	if err := costing.ValidatePackage(ctx, s.repo, itemID, req.Lines); err != nil {
		return domain.SellableItem{}, translate(err)
	}

	var saved *domain.SellableItem
	err = s.persist(ctx, "package_update", func(ctx context.Context) error {
		var err error
		saved, err = s.repo.UpdateItemPackage(ctx, itemID, req.Lines)
		return err
	})
	if err != nil {
		return domain.SellableItem{}, err
	}

	s.logAudit(ctx, "", "package_update", "item", saved.ID, fmt.Sprintf("components=%d", len(saved.Package)))
	return *saved, nil
}
