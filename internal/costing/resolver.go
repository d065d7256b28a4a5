package costing

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"kasirinaja/opscore/internal/apperr"
	"kasirinaja/opscore/internal/domain"
	"kasirinaja/opscore/internal/store"
)

// MaxDepth bounds package nesting even when the stored graph was written
// before cycle checks existed.
const MaxDepth = 16

// Catalog is the read side the resolver needs. store.Repository satisfies it.
type Catalog interface {
	GetSellableItem(ctx context.Context, id string) (*domain.SellableItem, error)
	GetStockTemplate(ctx context.Context, id string) (*domain.StockTemplate, error)
}

// Requirement is one leaf material needed to make some quantity of an item.
type Requirement struct {
	TemplateID string
	Quantity   decimal.Decimal
}

// Resolver computes unit costs and leaf requirements. It memoises lookups
// for its own lifetime, so create one per operation.
type Resolver struct {
	catalog   Catalog
	items     map[string]domain.SellableItem
	templates map[string]domain.StockTemplate
	costs     map[string]decimal.Decimal
}

func NewResolver(catalog Catalog) *Resolver {
	return &Resolver{
		catalog:   catalog,
		items:     map[string]domain.SellableItem{},
		templates: map[string]domain.StockTemplate{},
		costs:     map[string]decimal.Decimal{},
	}
}

func (r *Resolver) Item(ctx context.Context, id string) (domain.SellableItem, error) {
	if item, ok := r.items[id]; ok {
		return item, nil
	}
	item, err := r.catalog.GetSellableItem(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.SellableItem{}, apperr.Newf(apperr.CodeNotFound, "item %s not found", id)
		}
		return domain.SellableItem{}, err
	}
	r.items[id] = *item
	return *item, nil
}

func (r *Resolver) Template(ctx context.Context, id string) (domain.StockTemplate, error) {
	if tpl, ok := r.templates[id]; ok {
		return tpl, nil
	}
	tpl, err := r.catalog.GetStockTemplate(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.StockTemplate{}, apperr.Newf(apperr.CodeNotFound, "stock template %s not found", id)
		}
		return domain.StockTemplate{}, err
	}
	r.templates[id] = *tpl
	return *tpl, nil
}

// UnitCost is the cost of one unit of the item. Simple items price their BOM
// at the template cost, never an outlet row, so every outlet reports the
// same cost for the same recipe.
func (r *Resolver) UnitCost(ctx context.Context, itemID string) (decimal.Decimal, error) {
	return r.unitCost(ctx, itemID, nil)
}

func (r *Resolver) unitCost(ctx context.Context, itemID string, path []string) (decimal.Decimal, error) {
	if cost, ok := r.costs[itemID]; ok {
		return cost, nil
	}
	path, err := descend(path, itemID)
	if err != nil {
		return decimal.Zero, err
	}

	item, err := r.Item(ctx, itemID)
	if err != nil {
		return decimal.Zero, err
	}

	total := decimal.Zero
	if item.IsPackage() {
		for _, line := range item.Package {
			childCost, err := r.unitCost(ctx, line.ItemID, path)
			if err != nil {
				return decimal.Zero, err
			}
			total = total.Add(line.Quantity.Mul(childCost))
		}
	} else {
		for _, line := range item.BOM {
			tpl, err := r.Template(ctx, line.TemplateID)
			if err != nil {
				return decimal.Zero, err
			}
			total = total.Add(line.Quantity.Mul(tpl.CostPerUnit))
		}
	}

	r.costs[itemID] = total
	return total, nil
}

// Expand flattens qty units of an item into leaf template requirements,
// multiplying through every package level and merging per template.
func (r *Resolver) Expand(ctx context.Context, itemID string, qty decimal.Decimal) ([]Requirement, error) {
	acc := map[string]decimal.Decimal{}
	if err := r.expand(ctx, itemID, qty, nil, acc); err != nil {
		return nil, err
	}
	return sortedRequirements(acc), nil
}

// ExpandLines expands a whole cart and merges requirements across lines.
func (r *Resolver) ExpandLines(ctx context.Context, lines []domain.CartLine) ([]Requirement, error) {
	acc := map[string]decimal.Decimal{}
	for _, line := range lines {
		if err := r.expand(ctx, line.ItemID, decimal.NewFromInt(int64(line.Qty)), nil, acc); err != nil {
			return nil, err
		}
	}
	return sortedRequirements(acc), nil
}

func (r *Resolver) expand(ctx context.Context, itemID string, qty decimal.Decimal, path []string, acc map[string]decimal.Decimal) error {
	path, err := descend(path, itemID)
	if err != nil {
		return err
	}
	item, err := r.Item(ctx, itemID)
	if err != nil {
		return err
	}

	if item.IsPackage() {
		for _, line := range item.Package {
			if err := r.expand(ctx, line.ItemID, qty.Mul(line.Quantity), path, acc); err != nil {
				return err
			}
		}
		return nil
	}

	for _, line := range item.BOM {
		if _, err := r.Template(ctx, line.TemplateID); err != nil {
			return err
		}
		acc[line.TemplateID] = acc[line.TemplateID].Add(qty.Mul(line.Quantity))
	}
	return nil
}

func descend(path []string, itemID string) ([]string, error) {
	for _, seen := range path {
		if seen == itemID {
			return nil, cycleError(append(path, itemID))
		}
	}
	if len(path) >= MaxDepth {
		return nil, apperr.Newf(apperr.CodeValidation, "package nesting deeper than %d levels", MaxDepth)
	}
	next := make([]string, len(path), len(path)+1)
	copy(next, path)
	return append(next, itemID), nil
}

func cycleError(path []string) error {
	return apperr.New(apperr.CodeValidation, fmt.Sprintf("package composition cycle: %s", strings.Join(path, " -> "))).
		WithDetails(map[string]any{"cycle": path})
}

func sortedRequirements(acc map[string]decimal.Decimal) []Requirement {
	out := make([]Requirement, 0, len(acc))
	for templateID, qty := range acc {
		out = append(out, Requirement{TemplateID: templateID, Quantity: qty})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TemplateID < out[j].TemplateID })
	return out
}
