package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"kasirinaja/opscore/internal/apperr"
	"kasirinaja/opscore/internal/domain"
	"kasirinaja/opscore/internal/lock"
	"kasirinaja/opscore/internal/store"
	"kasirinaja/opscore/internal/validate"
	"kasirinaja/opscore/internal/xid"
)

// PerformClosing reconciles the calling staff member's shift at an outlet
// for today. After it succeeds, staff below manager cannot record further
// sales, expenses, purchases or production there until the next day.
func (s *Service) PerformClosing(ctx context.Context, req domain.ClosingRequest) (closing domain.DailyClosing, err error) {
	started := time.Now()
	defer func() { s.observe(ctx, "closing", started, err) }()

	if err := validate.Struct(req); err != nil {
		return domain.DailyClosing{}, err
	}
	if req.ActualCashCounted.IsNegative() || req.OpeningBalance.IsNegative() {
		return domain.DailyClosing{}, apperr.Validation("cash amounts cannot be negative")
	}
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.DailyClosing{}, err
	}
	if err := s.requireOutlet(ctx, req.OutletID); err != nil {
		return domain.DailyClosing{}, err
	}

	release, err := s.acquire(ctx, "closing", lock.ClosingKey(req.OutletID, actor.StaffID))
	if err != nil {
		return domain.DailyClosing{}, err
	}
	defer release()

	day, since, until := s.businessDay()
	if _, err := s.repo.GetClosing(ctx, req.OutletID, actor.StaffID, day); err == nil {
		return domain.DailyClosing{}, closingExists(req.OutletID, day)
	} else if !errors.Is(err, store.ErrNotFound) {
		return domain.DailyClosing{}, translate(err)
	}

	var (
		sales    []domain.Transaction
		expenses []domain.Expense
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		sales, err = s.repo.ListTransactions(gctx, store.TransactionFilter{
			OutletID: req.OutletID,
			StaffID:  actor.StaffID,
			Status:   domain.TxStatusClosed,
			From:     since,
			To:       until,
		})
		return err
	})
	g.Go(func() error {
		var err error
		expenses, err = s.repo.ListExpenses(gctx, store.ExpenseFilter{
			OutletID: req.OutletID,
			StaffID:  actor.StaffID,
			From:     since,
			To:       until,
		})
		return err
	})
	if err := g.Wait(); err != nil {
		return domain.DailyClosing{}, translate(err)
	}

	summary := summarizeShift(sales, expenses)
	expected := req.OpeningBalance.Add(summary.TotalSalesCash).Sub(summary.TotalExpenses)
	record := domain.DailyClosing{
		ID:                xid.New("cls"),
		OutletID:          req.OutletID,
		StaffID:           actor.StaffID,
		BusinessDate:      day,
		OpeningBalance:    req.OpeningBalance,
		TotalSalesCash:    summary.TotalSalesCash,
		TotalSalesQRIS:    summary.TotalSalesQRIS,
		TotalSalesOther:   summary.TotalSalesOther,
		TotalExpenses:     summary.TotalExpenses,
		ActualCashCounted: req.ActualCashCounted,
		ExpectedCash:      expected,
		Discrepancy:       req.ActualCashCounted.Sub(expected),
		TransactionCount:  summary.TransactionCount,
		Status:            s.opts.ClosingDefaultStatus,
		Notes:             req.Notes,
		CreatedAt:         s.now(),
	}

	var saved *domain.DailyClosing
	err = s.persist(ctx, "closing", func(ctx context.Context) error {
		var err error
		saved, err = s.repo.CreateClosing(ctx, record)
		return err
	})
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return domain.DailyClosing{}, closingExists(req.OutletID, day)
		}
		return domain.DailyClosing{}, err
	}

	s.logAudit(ctx, saved.OutletID, "closing", "daily_closing", saved.ID,
		fmt.Sprintf("expected=%s actual=%s discrepancy=%s", saved.ExpectedCash.StringFixed(2), saved.ActualCashCounted.StringFixed(2), saved.Discrepancy.StringFixed(2)))
	return *saved, nil
}

func closingExists(outletID string, day string) error {
	return apperr.Newf(apperr.CodeConflict, "shift already closed for %s", day).
		WithDetails(map[string]any{"outlet_id": outletID, "business_date": day})
}

type shiftSummary struct {
	TotalSalesCash   decimal.Decimal
	TotalSalesQRIS   decimal.Decimal
	TotalSalesOther  decimal.Decimal
	TotalExpenses    decimal.Decimal
	TransactionCount int
}

func summarizeShift(sales []domain.Transaction, expenses []domain.Expense) shiftSummary {
	sum := shiftSummary{
		TotalSalesCash:  decimal.Zero,
		TotalSalesQRIS:  decimal.Zero,
		TotalSalesOther: decimal.Zero,
		TotalExpenses:   decimal.Zero,
	}
	for _, tx := range sales {
		if tx.Status != domain.TxStatusClosed {
			continue
		}
		sum.TransactionCount++
		switch tx.PaymentMethod {
		case domain.PaymentCash:
			sum.TotalSalesCash = sum.TotalSalesCash.Add(tx.Total)
		case domain.PaymentQRIS:
			sum.TotalSalesQRIS = sum.TotalSalesQRIS.Add(tx.Total)
		default:
			sum.TotalSalesOther = sum.TotalSalesOther.Add(tx.Total)
		}
	}
	for _, e := range expenses {
		sum.TotalExpenses = sum.TotalExpenses.Add(e.Amount)
	}
	return sum
}

// GetClosing returns one staff member's closing. An empty date means today.
func (s *Service) GetClosing(ctx context.Context, outletID string, staffID string, date string) (domain.DailyClosing, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.DailyClosing{}, err
	}
	if staffID == "" {
		staffID = actor.StaffID
	}
	if staffID != actor.StaffID && !domain.IsExecutive(actor.Role) {
		return domain.DailyClosing{}, apperr.New(apperr.CodeInsufficientPermission, "cannot read another staff member's closing")
	}
	if date == "" {
		date, _, _ = s.businessDay()
	}
	closing, err := s.repo.GetClosing(ctx, outletID, staffID, date)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return domain.DailyClosing{}, apperr.Newf(apperr.CodeNotFound, "no closing for %s on %s", staffID, date)
		}
		return domain.DailyClosing{}, translate(err)
	}
	return *closing, nil
}

func (s *Service) ListClosings(ctx context.Context, outletID string, date string) ([]domain.DailyClosing, error) {
	actor, err := requireActor(ctx)
	if err != nil {
		return nil, err
	}
	if outletID == domain.AllOutlets {
		outletID = ""
	}
	if date != "" {
		if _, err := time.Parse("2006-01-02", date); err != nil {
			return nil, apperr.Validation("date must be YYYY-MM-DD")
		}
	}
	closings, err := s.repo.ListClosings(ctx, outletID, date)
	if err != nil {
		return nil, translate(err)
	}
	if domain.IsExecutive(actor.Role) {
		return closings, nil
	}
	own := closings[:0]
	for _, c := range closings {
		if c.StaffID == actor.StaffID {
			own = append(own, c)
		}
	}
	return own, nil
}

func (s *Service) RecordExpense(ctx context.Context, req domain.ExpenseRequest) (expense domain.Expense, err error) {
	started := time.Now()
	defer func() { s.observe(ctx, "expense", started, err) }()

	if err := validate.Struct(req); err != nil {
		return domain.Expense{}, err
	}
	if !req.Amount.IsPositive() {
		return domain.Expense{}, apperr.Validation("expense amount must be positive")
	}
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.Expense{}, err
	}
	if err := s.requireOutlet(ctx, req.OutletID); err != nil {
		return domain.Expense{}, err
	}

	release, err := s.acquire(ctx, "expense", shiftKeys(actor, req.OutletID)...)
	if err != nil {
		return domain.Expense{}, err
	}
	defer release()
	if err := s.ensureShiftOpen(ctx, actor, req.OutletID); err != nil {
		return domain.Expense{}, err
	}

	entry := domain.Expense{
		ID:          xid.New("exp"),
		OutletID:    req.OutletID,
		StaffID:     actor.StaffID,
		Amount:      req.Amount,
		Category:    req.Category,
		Description: req.Description,
		CreatedAt:   s.now(),
		ShiftDate:   s.shiftDate(actor),
	}
	var saved *domain.Expense
	err = s.persist(ctx, "expense", func(ctx context.Context) error {
		var err error
		saved, err = s.repo.CreateExpense(ctx, entry)
		return err
	})
	if err != nil {
		return domain.Expense{}, err
	}

	s.logAudit(ctx, saved.OutletID, "expense", "expense", saved.ID, saved.Category+" "+saved.Amount.StringFixed(2))
	return *saved, nil
}

// RecordPurchase books supplier stock into an outlet and re-weights the
// row's unit cost.
func (s *Service) RecordPurchase(ctx context.Context, req domain.PurchaseRequest) (purchase domain.Purchase, err error) {
	started := time.Now()
	defer func() { s.observe(ctx, "purchase", started, err) }()

	if err := validate.Struct(req); err != nil {
		return domain.Purchase{}, err
	}
	if !req.Quantity.IsPositive() {
		return domain.Purchase{}, apperr.Validation("purchase quantity must be positive")
	}
	if req.TotalCost.IsNegative() {
		return domain.Purchase{}, apperr.Validation("purchase cost cannot be negative")
	}
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.Purchase{}, err
	}
	if err := s.requireOutlet(ctx, req.OutletID); err != nil {
		return domain.Purchase{}, err
	}
	if _, err := lookup(ctx, "stock template", req.TemplateID, s.repo.GetStockTemplate); err != nil {
		return domain.Purchase{}, err
	}

	keys := append(shiftKeys(actor, req.OutletID), lock.StockKey(req.OutletID, req.TemplateID))
	release, err := s.acquire(ctx, "purchase", keys...)
	if err != nil {
		return domain.Purchase{}, err
	}
	defer release()
	if err := s.ensureShiftOpen(ctx, actor, req.OutletID); err != nil {
		return domain.Purchase{}, err
	}

	entry := domain.Purchase{
		ID:         xid.New("pur"),
		OutletID:   req.OutletID,
		StaffID:    actor.StaffID,
		TemplateID: req.TemplateID,
		Quantity:   req.Quantity,
		TotalCost:  req.TotalCost,
		Supplier:   req.Supplier,
		CreatedAt:  s.now(),
	}
	var saved *domain.Purchase
	err = s.persist(ctx, "purchase", func(ctx context.Context) error {
		var err error
		saved, err = s.repo.CreatePurchase(ctx, entry)
		return err
	})
	if err != nil {
		return domain.Purchase{}, err
	}

	s.logAudit(ctx, saved.OutletID, "purchase", "purchase", saved.ID,
		fmt.Sprintf("%s x %s for %s", saved.TemplateID, saved.Quantity.String(), saved.TotalCost.StringFixed(2)))
	return *saved, nil
}

// ClockIn opens the caller's attendance at an outlet. Checkout requires one.
func (s *Service) ClockIn(ctx context.Context, req domain.ClockInRequest) (domain.Attendance, error) {
	if err := validate.Struct(req); err != nil {
		return domain.Attendance{}, err
	}
	actor, err := requireActor(ctx)
	if err != nil {
		return domain.Attendance{}, err
	}
	if err := s.requireOutlet(ctx, req.OutletID); err != nil {
		return domain.Attendance{}, err
	}

	release, err := s.acquire(ctx, "clock_in", shiftKeys(actor, req.OutletID)...)
	if err != nil {
		return domain.Attendance{}, err
	}
	defer release()
	if err := s.ensureShiftOpen(ctx, actor, req.OutletID); err != nil {
		return domain.Attendance{}, err
	}

	// An attendance left open on an earlier day is closed at today's start.
	_, dayStart, _ := s.businessDay()
	var saved *domain.Attendance
	err = s.persist(ctx, "clock_in", func(ctx context.Context) error {
		var err error
		saved, err = s.repo.ClockIn(ctx, domain.Attendance{
			ID:       xid.New("att"),
			OutletID: req.OutletID,
			StaffID:  actor.StaffID,
			ClockIn:  s.now(),
		}, dayStart)
		return err
	})
	if err != nil {
		if apperr.Is(err, apperr.CodeConflict) {
			return domain.Attendance{}, apperr.New(apperr.CodeConflict, "already clocked in at this outlet")
		}
		return domain.Attendance{}, err
	}

	s.logAudit(ctx, saved.OutletID, "clock_in", "attendance", saved.ID, "")
	return *saved, nil
}
