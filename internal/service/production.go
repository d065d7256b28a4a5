package service

import (
	"context"
	"fmt"
	"time"

	"kasirinaja/opscore/internal/apperr"
	"kasirinaja/opscore/internal/domain"
	"kasirinaja/opscore/internal/ledger"
	"kasirinaja/opscore/internal/validate"
	"kasirinaja/opscore/internal/xid"
)

// RecordProduction converts raw components into an intermediate material
// at one outlet. Components are never back-ordered.
func (s *Service) RecordProduction(ctx context.Context, req domain.ProductionRequest) (record domain.ProductionRecord, err error) {
	started := time.Now()
	defer func() { s.observe(ctx, "production", started, err) }()

	if err := validate.Struct(req); err != nil {
		return domain.ProductionRecord{}, err
	}
	if !req.ResultQuantity.IsPositive() {
		return domain.ProductionRecord{}, apperr.Validation("result quantity must be positive")
	}
	seen := make(map[string]struct{}, len(req.Components))
	for _, c := range req.Components {
		if !c.Quantity.IsPositive() {
			return domain.ProductionRecord{}, apperr.Newf(apperr.CodeValidation, "component %s quantity must be positive", c.TemplateID)
		}
		if c.TemplateID == req.ResultTemplateID {
			return domain.ProductionRecord{}, apperr.Newf(apperr.CodeValidation, "%s cannot be produced from itself", c.TemplateID)
		}
		if _, dup := seen[c.TemplateID]; dup {
			return domain.ProductionRecord{}, apperr.Newf(apperr.CodeValidation, "component %s is listed more than once", c.TemplateID)
		}
		seen[c.TemplateID] = struct{}{}
	}

	actor, err := requireActor(ctx)
	if err != nil {
		return domain.ProductionRecord{}, err
	}
	if err := s.requireOutlet(ctx, req.OutletID); err != nil {
		return domain.ProductionRecord{}, err
	}

	result, err := lookup(ctx, "stock template", req.ResultTemplateID, s.repo.GetStockTemplate)
	if err != nil {
		return domain.ProductionRecord{}, err
	}
	if result.Kind != domain.StockKindIntermediate {
		return domain.ProductionRecord{}, apperr.Newf(apperr.CodeValidation, "%s is not an intermediate material", result.Name)
	}

	templateIDs := []string{req.ResultTemplateID}
	for _, c := range req.Components {
		if _, err := lookup(ctx, "stock template", c.TemplateID, s.repo.GetStockTemplate); err != nil {
			return domain.ProductionRecord{}, err
		}
		templateIDs = append(templateIDs, c.TemplateID)
	}

	keys := append(shiftKeys(actor, req.OutletID), ledger.StockKeys(req.OutletID, templateIDs...)...)
	release, err := s.acquire(ctx, "production", keys...)
	if err != nil {
		return domain.ProductionRecord{}, err
	}
	defer release()
	if err := s.ensureShiftOpen(ctx, actor, req.OutletID); err != nil {
		return domain.ProductionRecord{}, err
	}

	production := domain.ProductionRecord{
		ID:               xid.New("prd"),
		OutletID:         req.OutletID,
		ResultTemplateID: req.ResultTemplateID,
		ResultQuantity:   req.ResultQuantity,
		Components:       req.Components,
		ActorID:          actor.StaffID,
		Notes:            req.Notes,
		CreatedAt:        s.now(),
	}
	var saved *domain.ProductionRecord
	err = s.persist(ctx, "production", func(ctx context.Context) error {
		var err error
		saved, err = s.repo.CreateProduction(ctx, production)
		return err
	})
	if err != nil {
		return domain.ProductionRecord{}, err
	}

	s.logAudit(ctx, saved.OutletID, "production", "production", saved.ID,
		fmt.Sprintf("%s %s at %s/unit", saved.ResultQuantity.String(), result.Name, saved.ResultUnitCost.String()))
	return *saved, nil
}
