package postgres

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"kasirinaja/opscore/internal/domain"
	"kasirinaja/opscore/internal/store"
)

type fixture struct {
	s        *Store
	stamp    string
	outletA  string
	outletB  string
	template string
	item     string
}

// newFixture connects to OPSCORE_TEST_DATABASE_URL, migrates it and seeds
// two outlets holding one uniquely named stock template.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	databaseURL := os.Getenv("OPSCORE_TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("set OPSCORE_TEST_DATABASE_URL to run postgres integration tests")
	}

	ctx := context.Background()
	s, err := New(ctx, databaseURL)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.MigrateUp(ctx))

	stamp := fmt.Sprintf("%d", time.Now().UnixNano())
	f := &fixture{
		s:        s,
		stamp:    stamp,
		outletA:  "outlet-a-" + stamp,
		outletB:  "outlet-b-" + stamp,
		template: "tpl-it-" + stamp,
		item:     "item-it-" + stamp,
	}

	exec := func(query string, args ...any) {
		t.Helper()
		_, err := s.db.ExecContext(ctx, query, args...)
		require.NoError(t, err)
	}
	exec(`INSERT INTO outlets (id, name) VALUES ($1, 'IT A'), ($2, 'IT B')`, f.outletA, f.outletB)
	exec(`INSERT INTO stock_templates (id, name, unit, kind, cost_per_unit) VALUES ($1, $2, 'pcs', 'raw', 1000)`, f.template, "Bahan "+stamp)
	exec(`INSERT INTO stock_items (id, outlet_id, template_id, quantity, cost_per_unit) VALUES ($1, $2, $3, 10, 1000)`, "stk-a-"+stamp, f.outletA, f.template)
	exec(`INSERT INTO stock_items (id, outlet_id, template_id, quantity, cost_per_unit) VALUES ($1, $2, $3, 0, 1000)`, "stk-b-"+stamp, f.outletB, f.template)
	exec(`INSERT INTO sellable_items (id, name, price) VALUES ($1, 'Item IT', 5000)`, f.item)
	exec(`INSERT INTO item_bom_lines (item_id, position, template_id, quantity) VALUES ($1, 0, $2, 1)`, f.item, f.template)

	t.Cleanup(func() {
		cleanup := []string{
			`DELETE FROM transaction_deductions WHERE stock_item_id IN (SELECT id FROM stock_items WHERE outlet_id IN ($1, $2))`,
			`DELETE FROM transaction_lines WHERE transaction_id IN (SELECT id FROM transactions WHERE outlet_id IN ($1, $2))`,
			`DELETE FROM transactions WHERE outlet_id IN ($1, $2)`,
			`DELETE FROM stock_transfers WHERE from_outlet_id IN ($1, $2)`,
			`DELETE FROM daily_closings WHERE outlet_id IN ($1, $2)`,
			`DELETE FROM attendances WHERE outlet_id IN ($1, $2)`,
			`DELETE FROM stock_items WHERE outlet_id IN ($1, $2)`,
			`DELETE FROM outlets WHERE id IN ($1, $2)`,
		}
		for _, query := range cleanup {
			_, _ = s.db.ExecContext(ctx, query, f.outletA, f.outletB)
		}
		_, _ = s.db.ExecContext(ctx, `DELETE FROM sellable_items WHERE id = $1`, f.item)
		_, _ = s.db.ExecContext(ctx, `DELETE FROM stock_templates WHERE id = $1`, f.template)
	})
	return f
}

func (f *fixture) sale(t *testing.T, key string, qty int64) domain.Transaction {
	t.Helper()
	row, err := f.s.GetStockItem(context.Background(), f.outletA, f.template)
	require.NoError(t, err)
	return domain.Transaction{
		OutletID:       f.outletA,
		StaffID:        "staff-it",
		IdempotencyKey: key,
		PaymentMethod:  domain.PaymentCash,
		Lines: []domain.TransactionLine{{
			ItemID: f.item, Name: "Item IT", Qty: int(qty),
			UnitPrice: decimal.NewFromInt(5000), LineTotal: decimal.NewFromInt(5000 * qty),
		}},
		Subtotal:   decimal.NewFromInt(5000 * qty),
		Total:      decimal.NewFromInt(5000 * qty),
		Deductions: []domain.StockDeduction{{TemplateID: f.template, StockItemID: row.ID, Quantity: decimal.NewFromInt(qty)}},
	}
}

func (f *fixture) quantity(t *testing.T, outletID string) decimal.Decimal {
	t.Helper()
	row, err := f.s.GetStockItem(context.Background(), outletID, f.template)
	require.NoError(t, err)
	return row.Quantity
}

func TestCheckoutAndVoidRoundTripStock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	created, err := f.s.CreateCheckout(ctx, f.sale(t, "idem-"+f.stamp, 2), false)
	require.NoError(t, err)
	require.Equal(t, domain.TxStatusClosed, created.Status)
	require.Len(t, created.Lines, 1)
	require.Len(t, created.Deductions, 1)
	require.True(t, f.quantity(t, f.outletA).Equal(decimal.NewFromInt(8)))

	again, err := f.s.CreateCheckout(ctx, f.sale(t, "idem-"+f.stamp, 2), false)
	require.NoError(t, err)
	require.Equal(t, created.ID, again.ID, "same key returns the original sale")
	require.True(t, f.quantity(t, f.outletA).Equal(decimal.NewFromInt(8)))

	voided, err := f.s.VoidTransaction(ctx, created.ID, "integration void", time.Now().UTC())
	require.NoError(t, err)
	require.Equal(t, domain.TxStatusVoided, voided.Status)
	require.NotNil(t, voided.VoidedAt)
	require.True(t, f.quantity(t, f.outletA).Equal(decimal.NewFromInt(10)))

	_, err = f.s.VoidTransaction(ctx, created.ID, "twice", time.Now().UTC())
	require.ErrorIs(t, err, store.ErrInvalidState)
}

func TestCheckoutRefusesOversellUnlessAllowed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.s.CreateCheckout(ctx, f.sale(t, "over-"+f.stamp, 11), false)
	require.ErrorIs(t, err, store.ErrInsufficientStock)
	require.True(t, f.quantity(t, f.outletA).Equal(decimal.NewFromInt(10)), "failed checkout leaves stock untouched")

	_, err = f.s.CreateCheckout(ctx, f.sale(t, "back-"+f.stamp, 11), true)
	require.NoError(t, err)
	require.True(t, f.quantity(t, f.outletA).Equal(decimal.NewFromInt(-1)))
}

func TestConcurrentCheckoutsNeverOversell(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sales := make([]domain.Transaction, 15)
	for i := range sales {
		sales[i] = f.sale(t, fmt.Sprintf("race-%s-%d", f.stamp, i), 1)
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for _, sale := range sales {
		wg.Add(1)
		go func(sale domain.Transaction) {
			defer wg.Done()
			// serialization failures are retried by the service; here a
			// failed attempt simply does not count
			if _, err := f.s.CreateCheckout(ctx, sale, false); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}(sale)
	}
	wg.Wait()

	require.LessOrEqual(t, succeeded, 10)
	remaining := f.quantity(t, f.outletA)
	require.False(t, remaining.IsNegative())
	require.True(t, remaining.Equal(decimal.NewFromInt(int64(10-succeeded))))
}

func TestTransferLifecycleConservesStock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	transfer, err := f.s.CreateTransfer(ctx, domain.StockTransfer{
		FromOutletID: f.outletA,
		ToOutletID:   f.outletB,
		TemplateID:   f.template,
		Quantity:     decimal.NewFromInt(4),
		RequestedBy:  "staff-it",
	})
	require.NoError(t, err)
	require.Equal(t, domain.TransferPending, transfer.Status)
	require.True(t, f.quantity(t, f.outletA).Equal(decimal.NewFromInt(6)))

	accepted, err := f.s.ResolveTransfer(ctx, transfer.ID, domain.TransferAccepted, "staff-b", "received", time.Now().UTC())
	require.NoError(t, err)
	require.Equal(t, domain.TransferAccepted, accepted.Status)
	require.True(t, f.quantity(t, f.outletB).Equal(decimal.NewFromInt(4)))

	_, err = f.s.ResolveTransfer(ctx, transfer.ID, domain.TransferRejected, "staff-b", "", time.Now().UTC())
	require.ErrorIs(t, err, store.ErrInvalidState)

	_, err = f.s.CreateTransfer(ctx, domain.StockTransfer{
		FromOutletID: f.outletA, ToOutletID: f.outletB, TemplateID: f.template,
		Quantity: decimal.NewFromInt(7), RequestedBy: "staff-it",
	})
	require.ErrorIs(t, err, store.ErrInsufficientStock)

	listed, err := f.s.ListTransfers(ctx, f.outletB, "")
	require.NoError(t, err)
	require.Len(t, listed, 1)
}

func TestClosingIsUniquePerStaffAndDay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.s.ClockIn(ctx, domain.Attendance{OutletID: f.outletA, StaffID: "staff-it"}, time.Time{})
	require.NoError(t, err)
	_, err = f.s.ClockIn(ctx, domain.Attendance{OutletID: f.outletA, StaffID: "staff-it"}, time.Time{})
	require.ErrorIs(t, err, store.ErrConflict)

	closing := domain.DailyClosing{
		OutletID:     f.outletA,
		StaffID:      "staff-it",
		BusinessDate: "2026-03-02",
		Status:       domain.ClosingApproved,
	}
	saved, err := f.s.CreateClosing(ctx, closing)
	require.NoError(t, err)
	require.Equal(t, "2026-03-02", saved.BusinessDate)

	_, err = f.s.CreateClosing(ctx, closing)
	require.ErrorIs(t, err, store.ErrConflict)

	_, err = f.s.GetOpenAttendance(ctx, f.outletA, "staff-it")
	require.ErrorIs(t, err, store.ErrNotFound, "closing ends the shift")

	got, err := f.s.GetClosing(ctx, f.outletA, "staff-it", "2026-03-02")
	require.NoError(t, err)
	require.Equal(t, saved.ID, got.ID)

	sale := f.sale(t, "closed-"+f.stamp, 1)
	sale.ShiftDate = "2026-03-02"
	_, err = f.s.CreateCheckout(ctx, sale, false)
	require.ErrorIs(t, err, store.ErrShiftClosed)
	require.True(t, f.quantity(t, f.outletA).Equal(decimal.NewFromInt(10)))

	_, err = f.s.CreateExpense(ctx, domain.Expense{
		OutletID: f.outletA, StaffID: "staff-it", Amount: decimal.NewFromInt(500), Category: "parkir", ShiftDate: "2026-03-02",
	})
	require.ErrorIs(t, err, store.ErrShiftClosed)
}

func TestClockInClosesAttendanceFromEarlierDay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	monday := time.Date(2026, 3, 2, 2, 0, 0, 0, time.UTC)
	wednesday := monday.Add(48 * time.Hour)

	_, err := f.s.ClockIn(ctx, domain.Attendance{OutletID: f.outletA, StaffID: "staff-it", ClockIn: monday}, time.Time{})
	require.NoError(t, err)
	fresh, err := f.s.ClockIn(ctx, domain.Attendance{OutletID: f.outletA, StaffID: "staff-it", ClockIn: wednesday}, wednesday.Add(-2*time.Hour))
	require.NoError(t, err)

	open, err := f.s.GetOpenAttendance(ctx, f.outletA, "staff-it")
	require.NoError(t, err)
	require.Equal(t, fresh.ID, open.ID)
}
