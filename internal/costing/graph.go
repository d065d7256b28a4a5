package costing

import (
	"context"

	"kasirinaja/opscore/internal/apperr"
	"kasirinaja/opscore/internal/domain"
)

// ValidatePackage checks a proposed composition for rootID before it is
// written: every child must exist, quantities must be positive, and no
// path through the children may lead back to rootID or loop elsewhere.
func ValidatePackage(ctx context.Context, catalog Catalog, rootID string, lines []domain.PackageLine) error {
	seen := map[string]struct{}{}
	for _, line := range lines {
		if line.ItemID == "" {
			return apperr.Validation("package line item_id is required")
		}
		if !line.Quantity.IsPositive() {
			return apperr.Newf(apperr.CodeValidation, "package line %s quantity must be positive", line.ItemID)
		}
		if _, dup := seen[line.ItemID]; dup {
			return apperr.Newf(apperr.CodeValidation, "package lists %s more than once", line.ItemID)
		}
		seen[line.ItemID] = struct{}{}
	}

	r := NewResolver(catalog)
	root, err := r.Item(ctx, rootID)
	if err != nil {
		return err
	}
	if len(lines) > 0 && len(root.BOM) > 0 {
		return apperr.Newf(apperr.CodeValidation, "item %s has a recipe and cannot also be a package", rootID)
	}

	// Substitute the proposal so the walk sees the graph as it would be.
	root.Package = lines
	r.items[rootID] = root

	return ValidateAcyclic(ctx, r, rootID)
}

// ValidateAcyclic walks the package graph below rootID and reports the
// first cycle it finds.
func ValidateAcyclic(ctx context.Context, r *Resolver, rootID string) error {
	done := map[string]struct{}{}
	var walk func(id string, path []string) error
	walk = func(id string, path []string) error {
		if _, ok := done[id]; ok {
			return nil
		}
		path, err := descend(path, id)
		if err != nil {
			return err
		}
		item, err := r.Item(ctx, id)
		if err != nil {
			return err
		}
		for _, line := range item.Package {
			if err := walk(line.ItemID, path); err != nil {
				return err
			}
		}
		done[id] = struct{}{}
		return nil
	}
	return walk(rootID, nil)
}
