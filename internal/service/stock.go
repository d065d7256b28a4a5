package service

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"kasirinaja/opscore/internal/apperr"
	"kasirinaja/opscore/internal/domain"
	"kasirinaja/opscore/internal/store"
	"kasirinaja/opscore/internal/validate"
)

// GetStock lists stock rows for an outlet. The aggregate outlet sums every
// outlet's rows per template; its quantities are read-only.
func (s *Service) GetStock(ctx context.Context, outletID string, templateID string) ([]domain.StockItem, error) {
	if _, err := requireActor(ctx); err != nil {
		return nil, err
	}
	if outletID == "" || outletID == domain.AllOutlets {
		rows, err := s.repo.ListStockItems(ctx, store.StockFilter{TemplateID: templateID})
		if err != nil {
			return nil, translate(err)
		}
		return aggregateStock(rows), nil
	}

	if err := s.requireOutlet(ctx, outletID); err != nil {
		return nil, err
	}
	rows, err := s.repo.ListStockItems(ctx, store.StockFilter{OutletID: outletID, TemplateID: templateID})
	if err != nil {
		return nil, translate(err)
	}
	return rows, nil
}

func aggregateStock(rows []domain.StockItem) []domain.StockItem {
	byTemplate := make(map[string]domain.StockItem)
	for _, row := range rows {
		agg, ok := byTemplate[row.TemplateID]
		if !ok {
			agg = domain.StockItem{
				ID:          domain.AllOutlets + ":" + row.TemplateID,
				OutletID:    domain.AllOutlets,
				TemplateID:  row.TemplateID,
				Name:        row.Name,
				Unit:        row.Unit,
				Kind:        row.Kind,
				Quantity:    decimal.Zero,
				MinStock:    decimal.Zero,
				CostPerUnit: row.CostPerUnit,
			}
		} else {
			agg.CostPerUnit = store.WeightedCost(agg.CostPerUnit, agg.Quantity, row.CostPerUnit, row.Quantity)
		}
		agg.Quantity = agg.Quantity.Add(row.Quantity)
		agg.MinStock = agg.MinStock.Add(row.MinStock)
		if row.UpdatedAt.After(agg.UpdatedAt) {
			agg.UpdatedAt = row.UpdatedAt
		}
		byTemplate[row.TemplateID] = agg
	}

	out := make([]domain.StockItem, 0, len(byTemplate))
	for _, id := range sortedKeys(byTemplate) {
		out = append(out, byTemplate[id])
	}
	return out
}

// AdjustStock applies a manual correction to one outlet row. Rows are
// addressed by template; a stock name is accepted only when it matches
// exactly one row at the outlet.
func (s *Service) AdjustStock(ctx context.Context, req domain.StockAdjustRequest) (domain.StockItem, error) {
	if err := validate.Struct(req); err != nil {
		return domain.StockItem{}, err
	}
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.StockItem{}, err
	}
	if err := requireExecutive(actor, "stock adjustment"); err != nil {
		return domain.StockItem{}, err
	}
	if err := s.requireOutlet(ctx, req.OutletID); err != nil {
		return domain.StockItem{}, err
	}

	templateID := req.TemplateID
	if templateID == "" {
		row, err := s.ledger.ResolveByName(ctx, req.OutletID, req.StockName)
		if err != nil {
			return domain.StockItem{}, translate(err)
		}
		templateID = row.TemplateID
	}

	row, err := s.ledger.AdjustOutletQuantity(ctx, req.OutletID, templateID, req.Delta)
	if err != nil {
		if apperr.Is(err, apperr.CodeNotFound) {
			return domain.StockItem{}, apperr.Newf(apperr.CodeNotFound, "outlet %s has no stock row for %s", req.OutletID, templateID)
		}
		return domain.StockItem{}, translate(err)
	}

	s.logAudit(ctx, row.OutletID, "stock_adjust", "stock_item", row.ID,
		fmt.Sprintf("delta=%s reason=%s", req.Delta.String(), req.Reason))
	return *row, nil
}
