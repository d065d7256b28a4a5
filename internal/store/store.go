package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"kasirinaja/opscore/internal/domain"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrInsufficientStock  = errors.New("insufficient stock")
	ErrInvalidTransaction = errors.New("invalid transaction")
	ErrConflict           = errors.New("conflict")
	ErrInvalidState       = errors.New("invalid state transition")
	ErrShiftClosed        = errors.New("shift closed")
)

// StockFilter selects stock rows. Empty fields match everything.
type StockFilter struct {
	OutletID   string
	TemplateID string
	Name       string
}

type TransactionFilter struct {
	OutletID string
	StaffID  string
	Status   string
	From     time.Time
	To       time.Time
}

type ExpenseFilter struct {
	OutletID string
	StaffID  string
	From     time.Time
	To       time.Time
}

// Every multi-row write below is a single atomic unit: either all of its
// effects are visible afterwards or none are.
type Repository interface {
	GetOutlet(ctx context.Context, id string) (*domain.Outlet, error)
	GetStaff(ctx context.Context, id string) (*domain.Staff, error)
	GetUserByUsername(ctx context.Context, username string) (*domain.UserAccount, error)
	CreateUser(ctx context.Context, user domain.UserAccount) error

	GetSellableItem(ctx context.Context, id string) (*domain.SellableItem, error)
	GetSellableItems(ctx context.Context, ids []string) (map[string]domain.SellableItem, error)
	UpdateItemPackage(ctx context.Context, itemID string, lines []domain.PackageLine) (*domain.SellableItem, error)
	GetStockTemplate(ctx context.Context, id string) (*domain.StockTemplate, error)

	GetStockItem(ctx context.Context, outletID string, templateID string) (*domain.StockItem, error)
	GetStockItems(ctx context.Context, outletID string, templateIDs []string) (map[string]domain.StockItem, error)
	ListStockItems(ctx context.Context, filter StockFilter) ([]domain.StockItem, error)
	// AdjustStock adds delta to the outlet row. With allowNegative false a
	// result below zero fails with ErrInsufficientStock and nothing changes.
	AdjustStock(ctx context.Context, outletID string, templateID string, delta decimal.Decimal, allowNegative bool) (*domain.StockItem, error)

	GetPricingRules(ctx context.Context) (domain.PricingRules, error)
	GetCustomer(ctx context.Context, id string) (*domain.Customer, error)

	FindTransactionByIdempotency(ctx context.Context, key string) (*domain.Transaction, error)
	FindTransactionByID(ctx context.Context, id string) (*domain.Transaction, error)
	ListTransactions(ctx context.Context, filter TransactionFilter) ([]domain.Transaction, error)
	// CreateCheckout applies every deduction, the customer's point delta and
	// inserts the transaction. With tx.ShiftDate set it fails with
	// ErrShiftClosed when a closing exists for that staff, outlet and day.
	CreateCheckout(ctx context.Context, tx domain.Transaction, allowNegative bool) (*domain.Transaction, error)
	// VoidTransaction moves a closed transaction to voided, restocks its
	// deductions and reverses its point delta.
	VoidTransaction(ctx context.Context, id string, reason string, at time.Time) (*domain.Transaction, error)

	// CreateTransfer decrements the source row (always sufficiency checked)
	// and inserts the pending transfer.
	CreateTransfer(ctx context.Context, transfer domain.StockTransfer) (*domain.StockTransfer, error)
	// ResolveTransfer moves a pending transfer to accepted (incrementing the
	// destination row) or rejected (refunding the source row).
	ResolveTransfer(ctx context.Context, id string, status string, resolvedBy string, notes string, at time.Time) (*domain.StockTransfer, error)
	GetTransfer(ctx context.Context, id string) (*domain.StockTransfer, error)
	ListTransfers(ctx context.Context, outletID string, status string) ([]domain.StockTransfer, error)

	// CreateProduction consumes the components, adds the result at the
	// blended unit cost and appends the record.
	CreateProduction(ctx context.Context, record domain.ProductionRecord) (*domain.ProductionRecord, error)

	GetClosing(ctx context.Context, outletID string, staffID string, businessDate string) (*domain.DailyClosing, error)
	ListClosings(ctx context.Context, outletID string, businessDate string) ([]domain.DailyClosing, error)
	// CreateClosing inserts the closing, failing with ErrConflict when one
	// already exists for the same outlet, staff and day, and closes the
	// staff's open attendance.
	CreateClosing(ctx context.Context, closing domain.DailyClosing) (*domain.DailyClosing, error)

	// CreateExpense honours expense.ShiftDate like CreateCheckout.
	CreateExpense(ctx context.Context, expense domain.Expense) (*domain.Expense, error)
	ListExpenses(ctx context.Context, filter ExpenseFilter) ([]domain.Expense, error)
	// CreatePurchase increments the outlet row, re-weights its unit cost and
	// records the purchase.
	CreatePurchase(ctx context.Context, purchase domain.Purchase) (*domain.Purchase, error)

	// ClockIn fails with ErrConflict while an attendance that started at or
	// after staleBefore is still open. An older open attendance is closed at
	// staleBefore first.
	ClockIn(ctx context.Context, attendance domain.Attendance, staleBefore time.Time) (*domain.Attendance, error)
	GetOpenAttendance(ctx context.Context, outletID string, staffID string) (*domain.Attendance, error)

	CreateAuditLog(ctx context.Context, entry domain.AuditLog) error
	ListAuditLogs(ctx context.Context, outletID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error)
}

// WeightedCost blends the unit cost of stock on hand with incoming stock.
// Negative or empty on-hand stock carries no value, so the incoming cost wins.
func WeightedCost(oldCost, oldQty, incomingCost, incomingQty decimal.Decimal) decimal.Decimal {
	if !incomingQty.IsPositive() || incomingCost.IsNegative() {
		return oldCost
	}
	if !oldQty.IsPositive() || !oldCost.IsPositive() {
		return incomingCost
	}
	totalQty := oldQty.Add(incomingQty)
	totalValue := oldCost.Mul(oldQty).Add(incomingCost.Mul(incomingQty))
	return totalValue.Div(totalQty).Round(4)
}

// BusinessDate formats t as the calendar day in loc, the key shifts and
// closings are scoped by.
func BusinessDate(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return t.In(loc).Format("2006-01-02")
}
