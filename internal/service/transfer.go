package service

import (
	"context"
	"fmt"
	"time"

	"kasirinaja/opscore/internal/apperr"
	"kasirinaja/opscore/internal/domain"
	"kasirinaja/opscore/internal/lock"
	"kasirinaja/opscore/internal/validate"
	"kasirinaja/opscore/internal/xid"
)

// CreateTransfer moves stock out of the source outlet into a pending
// transfer. The source row must exist and cover the quantity.
func (s *Service) CreateTransfer(ctx context.Context, req domain.TransferCreateRequest) (created domain.StockTransfer, err error) {
	started := time.Now()
	defer func() { s.observe(ctx, "transfer_create", started, err) }()

	if err := validate.Struct(req); err != nil {
		return domain.StockTransfer{}, err
	}
	if !req.Quantity.IsPositive() {
		return domain.StockTransfer{}, apperr.Validation("transfer quantity must be positive")
	}
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.StockTransfer{}, err
	}
	if err := s.requireOutlet(ctx, req.FromOutletID); err != nil {
		return domain.StockTransfer{}, err
	}
	if err := s.requireOutlet(ctx, req.ToOutletID); err != nil {
		return domain.StockTransfer{}, err
	}
	if err := s.ensureShiftOpen(ctx, actor, req.FromOutletID); err != nil {
		return domain.StockTransfer{}, err
	}
	if _, err := lookup(ctx, "stock template", req.TemplateID, s.repo.GetStockTemplate); err != nil {
		return domain.StockTransfer{}, err
	}

	release, err := s.acquire(ctx, "transfer", lock.StockKey(req.FromOutletID, req.TemplateID))
	if err != nil {
		return domain.StockTransfer{}, err
	}
	defer release()

	transfer := domain.StockTransfer{
		ID:           xid.New("trf"),
		FromOutletID: req.FromOutletID,
		ToOutletID:   req.ToOutletID,
		TemplateID:   req.TemplateID,
		Quantity:     req.Quantity,
		Status:       domain.TransferPending,
		RequestedBy:  actor.StaffID,
		Notes:        req.Notes,
		CreatedAt:    s.now(),
	}
	var saved *domain.StockTransfer
	err = s.persist(ctx, "transfer_create", func(ctx context.Context) error {
		var err error
		saved, err = s.repo.CreateTransfer(ctx, transfer)
		return err
	})
	if err != nil {
		return domain.StockTransfer{}, err
	}

	s.logAudit(ctx, saved.FromOutletID, "transfer_create", "stock_transfer", saved.ID,
		fmt.Sprintf("%s %s %s -> %s", saved.Quantity.String(), saved.StockName, saved.FromOutletID, saved.ToOutletID))
	return *saved, nil
}

// AcceptTransfer books a pending transfer into the destination outlet.
func (s *Service) AcceptTransfer(ctx context.Context, id string, req domain.TransferResolveRequest) (domain.StockTransfer, error) {
	return s.resolveTransfer(ctx, id, domain.TransferAccepted, req.Notes)
}

// RejectTransfer returns a pending transfer's quantity to the source outlet.
func (s *Service) RejectTransfer(ctx context.Context, id string, req domain.TransferResolveRequest) (domain.StockTransfer, error) {
	return s.resolveTransfer(ctx, id, domain.TransferRejected, req.Notes)
}

func (s *Service) resolveTransfer(ctx context.Context, id string, status string, notes string) (resolved domain.StockTransfer, err error) {
	operation := "transfer_accept"
	if status == domain.TransferRejected {
		operation = "transfer_reject"
	}
	started := time.Now()
	defer func() { s.observe(ctx, operation, started, err) }()

	actor, err := requireActor(ctx)
	if err != nil {
		return domain.StockTransfer{}, err
	}
	transfer, err := lookup(ctx, "transfer", id, s.repo.GetTransfer)
	if err != nil {
		return domain.StockTransfer{}, err
	}
	if !domain.IsExecutive(actor.Role) && actor.OutletID != transfer.ToOutletID {
		return domain.StockTransfer{}, apperr.New(apperr.CodeInsufficientPermission, "only the receiving outlet can resolve a transfer")
	}
	if transfer.Terminal() {
		return domain.StockTransfer{}, apperr.Newf(apperr.CodeStateConflict, "transfer %s is already %s", transfer.ID, transfer.Status)
	}

	// Accept touches the destination row, reject refunds the source row.
	outletID := transfer.ToOutletID
	if status == domain.TransferRejected {
		outletID = transfer.FromOutletID
	}
	release, err := s.acquire(ctx, "transfer", lock.StockKey(outletID, transfer.TemplateID))
	if err != nil {
		return domain.StockTransfer{}, err
	}
	defer release()

	var saved *domain.StockTransfer
	err = s.persist(ctx, operation, func(ctx context.Context) error {
		var err error
		saved, err = s.repo.ResolveTransfer(ctx, transfer.ID, status, actor.StaffID, notes, s.now())
		return err
	})
	if err != nil {
		return domain.StockTransfer{}, err
	}

	s.logAudit(ctx, outletID, operation, "stock_transfer", saved.ID, "status="+saved.Status)
	return *saved, nil
}

func (s *Service) ListTransfers(ctx context.Context, outletID string, status string) ([]domain.StockTransfer, error) {
	if _, err := requireActor(ctx); err != nil {
		return nil, err
	}
	if outletID == domain.AllOutlets {
		outletID = ""
	}
	switch status {
	case "", domain.TransferPending, domain.TransferAccepted, domain.TransferRejected:
	default:
		return nil, apperr.Newf(apperr.CodeValidation, "unknown transfer status %q", status)
	}
	transfers, err := s.repo.ListTransfers(ctx, outletID, status)
	if err != nil {
		return nil, translate(err)
	}
	return transfers, nil
}
