package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"kasirinaja/opscore/internal/apperr"
	"kasirinaja/opscore/internal/costing"
	"kasirinaja/opscore/internal/domain"
	"kasirinaja/opscore/internal/ledger"
	"kasirinaja/opscore/internal/lock"
	"kasirinaja/opscore/internal/store"
	"kasirinaja/opscore/internal/validate"
	"kasirinaja/opscore/internal/xid"
)

// Checkout prices the cart, expands it into the outlet's raw-material
// deductions and commits the sale, the deductions and the customer's
// point delta as one unit.
func (s *Service) Checkout(ctx context.Context, req domain.CheckoutRequest) (resp domain.CheckoutResponse, err error) {
	started := time.Now()
	defer func() { s.observe(ctx, "checkout", started, err) }()

	if err := validate.Struct(req); err != nil {
		return domain.CheckoutResponse{}, err
	}
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.CheckoutResponse{}, err
	}
	if err := s.requireOutlet(ctx, req.OutletID); err != nil {
		return domain.CheckoutResponse{}, err
	}
	ctx = s.log.WithOutletID(ctx, req.OutletID)

	if req.IdempotencyKey != "" {
		if existing, err := s.repo.FindTransactionByIdempotency(ctx, req.IdempotencyKey); err == nil {
			return toCheckoutResponse(existing, true), nil
		} else if !errors.Is(err, store.ErrNotFound) {
			return domain.CheckoutResponse{}, translate(err)
		}
	}

	lines := normalizeLines(req.Lines)
	priced, err := s.priceCart(ctx, req.OutletID, req.CustomerID, req.PointsToRedeem, lines)
	if err != nil {
		return domain.CheckoutResponse{}, err
	}

	resolver := costing.NewResolver(s.repo)
	totalCost := decimal.Zero
	for i, line := range priced.Lines {
		unitCost, err := resolver.UnitCost(ctx, line.ItemID)
		if err != nil {
			return domain.CheckoutResponse{}, translate(err)
		}
		priced.Lines[i].UnitCost = unitCost
		totalCost = totalCost.Add(unitCost.Mul(decimal.NewFromInt(int64(line.Qty))))
	}
	reqs, err := resolver.ExpandLines(ctx, lines)
	if err != nil {
		return domain.CheckoutResponse{}, translate(err)
	}

	templateIDs := make([]string, 0, len(reqs))
	for _, r := range reqs {
		templateIDs = append(templateIDs, r.TemplateID)
	}
	keys := append([]string{lock.CheckoutKey(req.OutletID)}, shiftKeys(actor, req.OutletID)...)
	keys = append(keys, ledger.StockKeys(req.OutletID, templateIDs...)...)
	release, err := s.acquire(ctx, "checkout", keys...)
	if err != nil {
		return domain.CheckoutResponse{}, err
	}
	defer release()

	if err := s.ensureShiftOpen(ctx, actor, req.OutletID); err != nil {
		return domain.CheckoutResponse{}, err
	}
	if err := s.requireAttendanceToday(ctx, actor, req.OutletID); err != nil {
		return domain.CheckoutResponse{}, err
	}

	resolution, err := s.ledger.ResolveRows(ctx, req.OutletID, reqs)
	if err != nil {
		return domain.CheckoutResponse{}, translate(err)
	}
	if len(resolution.Missing) > 0 && !req.AllowMissingStock {
		return domain.CheckoutResponse{}, apperr.Newf(apperr.CodeNotFound, "outlet %s has no stock row for %d material(s)", req.OutletID, len(resolution.Missing)).
			WithDetails(map[string]any{"missing_templates": resolution.Missing})
	}
	if !s.ledger.AllowNegative() {
		if err := resolution.CheckSufficient(); err != nil {
			return domain.CheckoutResponse{}, err
		}
	}

	// Every commit carries a key so a retried write cannot apply twice.
	txID := xid.New("trx")
	idempotencyKey := req.IdempotencyKey
	if idempotencyKey == "" {
		idempotencyKey = txID
	}

	totals := priced.Totals
	tx := domain.Transaction{
		ID:               txID,
		OutletID:         req.OutletID,
		CustomerID:       req.CustomerID,
		StaffID:          actor.StaffID,
		IdempotencyKey:   idempotencyKey,
		Lines:            priced.Lines,
		Subtotal:         totals.Subtotal,
		TierDiscount:     totals.TierDiscount,
		BulkDiscount:     totals.BulkDiscount,
		PointDiscount:    totals.PointDiscount,
		Total:            totals.Total,
		TotalCost:        totalCost,
		PaymentMethod:    req.PaymentMethod,
		PointsEarned:     totals.PointsEarned,
		PointsRedeemed:   totals.PointsRedeemed,
		Status:           domain.TxStatusClosed,
		Deductions:       resolution.Deductions,
		SkippedTemplates: resolution.Missing,
		CreatedAt:        s.now(),
		ShiftDate:        s.shiftDate(actor),
	}

	var saved *domain.Transaction
	err = s.persist(ctx, "checkout", func(ctx context.Context) error {
		var err error
		saved, err = s.repo.CreateCheckout(ctx, tx, s.ledger.AllowNegative())
		return err
	})
	if err != nil {
		return domain.CheckoutResponse{}, err
	}

	// A retried commit that already landed comes back as the stored row.
	if saved.ID != tx.ID {
		return toCheckoutResponse(saved, true), nil
	}

	detail := fmt.Sprintf("total=%s items=%d", saved.Total.StringFixed(2), totals.TotalQty)
	if len(saved.SkippedTemplates) > 0 {
		detail += fmt.Sprintf(" skipped=%v", saved.SkippedTemplates)
	}
	s.logAudit(ctx, saved.OutletID, "checkout", "transaction", saved.ID, detail)
	return domain.CheckoutResponse{Transaction: *saved, Totals: totals}, nil
}

// VoidTransaction reverses a closed sale: stock and points go back and the
// status becomes voided. It happens at most once per transaction.
func (s *Service) VoidTransaction(ctx context.Context, id string, req domain.VoidTransactionRequest) (voided domain.Transaction, err error) {
	started := time.Now()
	defer func() { s.observe(ctx, "void", started, err) }()

	if err := validate.Struct(req); err != nil {
		return domain.Transaction{}, err
	}
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.Transaction{}, err
	}
	if !domain.IsExecutive(actor.Role) && !req.ManagerApproved {
		return domain.Transaction{}, apperr.New(apperr.CodeInsufficientPermission, "void requires manager approval")
	}

	tx, err := lookup(ctx, "transaction", id, s.repo.FindTransactionByID)
	if err != nil {
		return domain.Transaction{}, err
	}
	if err := s.ensureShiftOpen(ctx, actor, tx.OutletID); err != nil {
		return domain.Transaction{}, err
	}
	if tx.Status != domain.TxStatusClosed {
		return domain.Transaction{}, apperr.Newf(apperr.CodeStateConflict, "transaction %s is already %s", tx.ID, tx.Status)
	}

	templateIDs := make([]string, 0, len(tx.Deductions))
	for _, d := range tx.Deductions {
		templateIDs = append(templateIDs, d.TemplateID)
	}
	keys := append([]string{lock.CheckoutKey(tx.OutletID)}, ledger.StockKeys(tx.OutletID, templateIDs...)...)
	release, err := s.acquire(ctx, "void", keys...)
	if err != nil {
		return domain.Transaction{}, err
	}
	defer release()

	var result *domain.Transaction
	err = s.persist(ctx, "void", func(ctx context.Context) error {
		var err error
		result, err = s.repo.VoidTransaction(ctx, tx.ID, req.Reason, s.now())
		return err
	})
	if err != nil {
		return domain.Transaction{}, err
	}

	s.logAudit(ctx, result.OutletID, "void", "transaction", result.ID, "reason="+req.Reason)
	return *result, nil
}

func (s *Service) GetTransaction(ctx context.Context, id string) (domain.Transaction, error) {
	if _, err := requireActor(ctx); err != nil {
		return domain.Transaction{}, err
	}
	tx, err := lookup(ctx, "transaction", id, s.repo.FindTransactionByID)
	if err != nil {
		return domain.Transaction{}, err
	}
	return *tx, nil
}

// ListTransactions lists sales in [from, to). Staff below manager only see
// their own sales.
func (s *Service) ListTransactions(ctx context.Context, filter store.TransactionFilter) ([]domain.Transaction, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	if filter.OutletID == domain.AllOutlets {
		filter.OutletID = ""
	}
	if !domain.IsExecutive(actor.Role) {
		filter.StaffID = actor.StaffID
	}
	txs, err := s.repo.ListTransactions(ctx, filter)
	if err != nil {
		return nil, translate(err)
	}
	return txs, nil
}

func toCheckoutResponse(tx *domain.Transaction, duplicate bool) domain.CheckoutResponse {
	totalQty := 0
	for _, line := range tx.Lines {
		totalQty += line.Qty
	}
	applied := domain.DiscountNone
	switch {
	case tx.BulkDiscount.IsPositive():
		applied = domain.DiscountBulk
	case tx.TierDiscount.IsPositive():
		applied = domain.DiscountTier
	}
	return domain.CheckoutResponse{
		Transaction: *tx,
		Totals: domain.CartTotals{
			TotalQty:        totalQty,
			Subtotal:        tx.Subtotal,
			AppliedDiscount: applied,
			TierDiscount:    tx.TierDiscount,
			BulkDiscount:    tx.BulkDiscount,
			PointsRedeemed:  tx.PointsRedeemed,
			PointDiscount:   tx.PointDiscount,
			Total:           tx.Total,
			PointsEarned:    tx.PointsEarned,
		},
		Duplicate: duplicate,
	}
}
