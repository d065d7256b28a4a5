package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kasirinaja/opscore/internal/apperr"
	"kasirinaja/opscore/internal/domain"
	"kasirinaja/opscore/internal/logger"
	"kasirinaja/opscore/internal/store"
	"kasirinaja/opscore/internal/store/memory"
)

const (
	outletX = "outlet-x"
	outletY = "outlet-y"
)

var (
	cashier = domain.Actor{StaffID: "st-cashier", Name: "Kasir", Role: domain.RoleCashier, OutletID: outletX}
	runner  = domain.Actor{StaffID: "st-runner", Name: "Runner", Role: domain.RoleStaff, OutletID: outletY}
	manager = domain.Actor{StaffID: "st-manager", Name: "Manajer", Role: domain.RoleManager, OutletID: outletX}

	// 10:00 in UTC+7.
	fixedNow = time.Date(2026, 3, 2, 3, 0, 0, 0, time.UTC)
	wib      = time.FixedZone("WIB", 7*3600)
)

func dec(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func requireDec(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	require.True(t, got.Equal(dec(want)), "want %s, got %s", want, got.String())
}

type fixture struct {
	repo *memory.Store
	svc  *Service
}

func seedRepo(t *testing.T) *memory.Store {
	t.Helper()
	repo := memory.New()
	repo.PutOutlet(domain.Outlet{ID: outletX, Name: "Outlet X"})
	repo.PutOutlet(domain.Outlet{ID: outletY, Name: "Outlet Y"})
	for _, staff := range []domain.Actor{cashier, runner, manager} {
		repo.PutStaff(domain.Staff{ID: staff.StaffID, Name: staff.Name, Role: staff.Role, OutletID: staff.OutletID})
	}

	repo.PutTemplate(domain.StockTemplate{ID: "tpl-bun", Name: "bun", Unit: "g", Kind: domain.StockKindRaw, CostPerUnit: dec("20")})
	repo.PutTemplate(domain.StockTemplate{ID: "tpl-potato", Name: "potato", Unit: "g", Kind: domain.StockKindRaw, CostPerUnit: dec("10")})
	repo.PutTemplate(domain.StockTemplate{ID: "tpl-syrup", Name: "syrup", Unit: "ml", Kind: domain.StockKindRaw, CostPerUnit: dec("2")})
	repo.PutTemplate(domain.StockTemplate{ID: "tpl-sauce", Name: "sauce", Unit: "ml", Kind: domain.StockKindIntermediate, CostPerUnit: dec("5")})

	repo.PutItem(domain.SellableItem{ID: "burger", Name: "Burger", Price: dec("35000"), Available: true,
		BOM: []domain.BOMLine{{TemplateID: "tpl-bun", Quantity: dec("150")}}})
	repo.PutItem(domain.SellableItem{ID: "fries", Name: "Fries", Price: dec("18000"), Available: true,
		BOM: []domain.BOMLine{{TemplateID: "tpl-potato", Quantity: dec("100")}}})
	repo.PutItem(domain.SellableItem{ID: "combo-a", Name: "Combo A", Price: dec("45000"), Available: true,
		Package: []domain.PackageLine{{ItemID: "burger", Quantity: dec("1")}, {ItemID: "fries", Quantity: dec("1")}}})
	repo.PutItem(domain.SellableItem{ID: "platter", Name: "Platter", Price: dec("10000"), Available: true,
		BOM: []domain.BOMLine{{TemplateID: "tpl-potato", Quantity: dec("10")}}})
	repo.PutItem(domain.SellableItem{ID: "shot", Name: "Shot", Price: dec("5000"), Available: true,
		BOM: []domain.BOMLine{{TemplateID: "tpl-syrup", Quantity: dec("1")}}})
	repo.PutItem(domain.SellableItem{ID: "triple", Name: "Triple", Price: dec("14000"), Available: true,
		Package: []domain.PackageLine{{ItemID: "shot", Quantity: dec("3")}}})
	repo.PutItem(domain.SellableItem{ID: "flight", Name: "Flight", Price: dec("26000"), Available: true,
		Package: []domain.PackageLine{{ItemID: "triple", Quantity: dec("2")}}})

	for _, tpl := range []string{"tpl-bun", "tpl-potato", "tpl-syrup", "tpl-sauce"} {
		require.NoError(t, repo.PutStockItem(domain.StockItem{OutletID: outletX, TemplateID: tpl, Quantity: dec("1000")}))
	}
	for _, tpl := range []string{"tpl-bun", "tpl-potato"} {
		require.NoError(t, repo.PutStockItem(domain.StockItem{OutletID: outletY, TemplateID: tpl, Quantity: dec("1000")}))
	}

	repo.SetPricingRules(domain.PricingRules{
		Tiers: []domain.MembershipTier{{ID: "gold", Name: "Gold", MinPoints: 0, DiscountPercent: dec("10")}},
		BulkRules: []domain.BulkDiscountRule{
			{ID: "bulk-10", Name: "Borong", MinQty: 10, DiscountPercent: dec("15"), Active: true},
		},
		Loyalty: domain.LoyaltyConfig{
			Enabled:                 true,
			EarningAmountPerPoint:   dec("1000"),
			RedemptionValuePerPoint: dec("100"),
		},
	})
	repo.PutCustomer(domain.Customer{ID: "cust-1", Name: "Budi", Points: 50, TierID: "gold"})
	return repo
}

func newFixture(t *testing.T, configure ...func(*Options)) *fixture {
	t.Helper()
	return newFixtureWithRepo(t, seedRepo(t), configure...)
}

func newFixtureWithRepo(t *testing.T, repo store.Repository, configure ...func(*Options)) *fixture {
	t.Helper()
	opts := Options{
		AllowNegativeStock: true,
		LockWait:           time.Second,
		Location:           wib,
		RetryMaxAttempts:   3,
		RetryBaseDelay:     time.Millisecond,
		Clock:              func() time.Time { return fixedNow },
	}
	for _, fn := range configure {
		fn(&opts)
	}
	f := &fixture{svc: New(repo, nil, opts)}
	switch r := repo.(type) {
	case *memory.Store:
		f.repo = r
	case *flakyRepo:
		f.repo = r.Store
	}
	return f
}

func as(actor domain.Actor) context.Context {
	return WithActor(context.Background(), actor)
}

func (f *fixture) clockIn(t *testing.T, actor domain.Actor, outletID string) {
	t.Helper()
	_, err := f.svc.ClockIn(as(actor), domain.ClockInRequest{OutletID: outletID})
	require.NoError(t, err)
}

func (f *fixture) quantity(t *testing.T, outletID, templateID string) decimal.Decimal {
	t.Helper()
	row, err := f.repo.GetStockItem(context.Background(), outletID, templateID)
	require.NoError(t, err)
	return row.Quantity
}

func requireCode(t *testing.T, err error, code apperr.Code) {
	t.Helper()
	require.Error(t, err)
	require.Equal(t, code, apperr.CodeOf(err), err.Error())
}

func TestCheckoutBulkBeatsTierAndRedeemsPoints(t *testing.T) {
	f := newFixture(t)
	f.clockIn(t, cashier, outletX)

	resp, err := f.svc.Checkout(as(cashier), domain.CheckoutRequest{
		OutletID:       outletX,
		CustomerID:     "cust-1",
		PaymentMethod:  domain.PaymentCash,
		PointsToRedeem: 20,
		Lines:          []domain.CartLine{{ItemID: "platter", Qty: 10}},
	})
	require.NoError(t, err)

	totals := resp.Totals
	requireDec(t, "100000", totals.Subtotal)
	assert.Equal(t, domain.DiscountBulk, totals.AppliedDiscount)
	requireDec(t, "15000", totals.BulkDiscount)
	requireDec(t, "0", totals.TierDiscount)
	requireDec(t, "2000", totals.PointDiscount)
	requireDec(t, "83000", totals.Total)
	assert.EqualValues(t, 83, totals.PointsEarned)
	assert.False(t, resp.Duplicate)

	customer, err := f.repo.GetCustomer(context.Background(), "cust-1")
	require.NoError(t, err)
	assert.EqualValues(t, 50-20+83, customer.Points)
	requireDec(t, "900", f.quantity(t, outletX, "tpl-potato"))
}

func TestCheckoutComboDeductsFromSellingOutletOnly(t *testing.T) {
	f := newFixture(t)
	f.clockIn(t, cashier, outletX)

	resp, err := f.svc.Checkout(as(cashier), domain.CheckoutRequest{
		OutletID:      outletX,
		PaymentMethod: domain.PaymentQRIS,
		Lines:         []domain.CartLine{{ItemID: "combo-a", Qty: 2}},
	})
	require.NoError(t, err)

	requireDec(t, "700", f.quantity(t, outletX, "tpl-bun"))
	requireDec(t, "800", f.quantity(t, outletX, "tpl-potato"))
	requireDec(t, "1000", f.quantity(t, outletY, "tpl-bun"))
	requireDec(t, "1000", f.quantity(t, outletY, "tpl-potato"))

	// 150*20 + 100*10 per combo
	requireDec(t, "8000", resp.Transaction.TotalCost)
	require.Len(t, resp.Transaction.Deductions, 2)
	assert.Equal(t, "tpl-bun", resp.Transaction.Deductions[0].TemplateID)
}

func TestCheckoutNestedPackagesMultiplyThrough(t *testing.T) {
	f := newFixture(t)
	f.clockIn(t, cashier, outletX)

	_, err := f.svc.Checkout(as(cashier), domain.CheckoutRequest{
		OutletID:      outletX,
		PaymentMethod: domain.PaymentCash,
		Lines:         []domain.CartLine{{ItemID: "flight", Qty: 1}},
	})
	require.NoError(t, err)
	requireDec(t, "994", f.quantity(t, outletX, "tpl-syrup"))
}

func TestCheckoutMergesRepeatedLines(t *testing.T) {
	f := newFixture(t)
	f.clockIn(t, cashier, outletX)

	resp, err := f.svc.Checkout(as(cashier), domain.CheckoutRequest{
		OutletID:      outletX,
		PaymentMethod: domain.PaymentCash,
		Lines:         []domain.CartLine{{ItemID: "fries", Qty: 1}, {ItemID: "burger", Qty: 1}, {ItemID: "fries", Qty: 2}},
	})
	require.NoError(t, err)
	require.Len(t, resp.Transaction.Lines, 2)
	assert.Equal(t, 3, resp.Transaction.Lines[0].Qty)
	requireDec(t, "700", f.quantity(t, outletX, "tpl-potato"))
}

func TestCheckoutPreconditions(t *testing.T) {
	f := newFixture(t)
	line := []domain.CartLine{{ItemID: "fries", Qty: 1}}

	_, err := f.svc.Checkout(context.Background(), domain.CheckoutRequest{OutletID: outletX, PaymentMethod: "cash", Lines: line})
	requireCode(t, err, apperr.CodeUnauthorized)

	_, err = f.svc.Checkout(as(cashier), domain.CheckoutRequest{OutletID: domain.AllOutlets, PaymentMethod: "cash", Lines: line})
	requireCode(t, err, apperr.CodeValidation)

	_, err = f.svc.Checkout(as(cashier), domain.CheckoutRequest{OutletID: outletX, PaymentMethod: "cash"})
	requireCode(t, err, apperr.CodeValidation)

	_, err = f.svc.Checkout(as(cashier), domain.CheckoutRequest{OutletID: outletX, PaymentMethod: "barter", Lines: line})
	requireCode(t, err, apperr.CodeValidation)

	_, err = f.svc.Checkout(as(cashier), domain.CheckoutRequest{OutletID: "nowhere", PaymentMethod: "cash", Lines: line})
	requireCode(t, err, apperr.CodeNotFound)

	_, err = f.svc.Checkout(as(cashier), domain.CheckoutRequest{OutletID: outletX, PaymentMethod: "cash", Lines: line})
	requireCode(t, err, apperr.CodeInsufficientPermission)

	requireDec(t, "1000", f.quantity(t, outletX, "tpl-potato"))
}

func TestCheckoutMissingStockRowFailsUnlessAllowed(t *testing.T) {
	f := newFixture(t)
	f.clockIn(t, manager, outletY)
	req := domain.CheckoutRequest{
		OutletID:      outletY,
		PaymentMethod: domain.PaymentCash,
		Lines:         []domain.CartLine{{ItemID: "shot", Qty: 1}, {ItemID: "fries", Qty: 1}},
	}

	_, err := f.svc.Checkout(as(manager), req)
	requireCode(t, err, apperr.CodeNotFound)
	requireDec(t, "1000", f.quantity(t, outletY, "tpl-potato"))

	req.AllowMissingStock = true
	resp, err := f.svc.Checkout(as(manager), req)
	require.NoError(t, err)
	assert.Equal(t, []string{"tpl-syrup"}, resp.Transaction.SkippedTemplates)
	requireDec(t, "900", f.quantity(t, outletY, "tpl-potato"))
	requireDec(t, "1000", f.quantity(t, outletX, "tpl-syrup"))
}

func TestCheckoutIdempotencyKeyCommitsOnce(t *testing.T) {
	f := newFixture(t)
	f.clockIn(t, cashier, outletX)
	req := domain.CheckoutRequest{
		OutletID:       outletX,
		PaymentMethod:  domain.PaymentCash,
		IdempotencyKey: "idem-1",
		Lines:          []domain.CartLine{{ItemID: "fries", Qty: 1}},
	}

	first, err := f.svc.Checkout(as(cashier), req)
	require.NoError(t, err)
	second, err := f.svc.Checkout(as(cashier), req)
	require.NoError(t, err)

	assert.True(t, second.Duplicate)
	assert.Equal(t, first.Transaction.ID, second.Transaction.ID)
	requireDec(t, first.Totals.Total.String(), second.Totals.Total)
	requireDec(t, "900", f.quantity(t, outletX, "tpl-potato"))
}

func TestCheckoutBackOrderPolicy(t *testing.T) {
	line := []domain.CartLine{{ItemID: "fries", Qty: 11}}

	strict := newFixture(t, func(o *Options) { o.AllowNegativeStock = false })
	strict.clockIn(t, cashier, outletX)
	_, err := strict.svc.Checkout(as(cashier), domain.CheckoutRequest{OutletID: outletX, PaymentMethod: "cash", Lines: line})
	requireCode(t, err, apperr.CodeConflict)
	requireDec(t, "1000", strict.quantity(t, outletX, "tpl-potato"))

	lenient := newFixture(t)
	lenient.clockIn(t, cashier, outletX)
	_, err = lenient.svc.Checkout(as(cashier), domain.CheckoutRequest{OutletID: outletX, PaymentMethod: "cash", Lines: line})
	require.NoError(t, err)
	requireDec(t, "-100", lenient.quantity(t, outletX, "tpl-potato"))
}

func TestConcurrentCheckoutsNeverOversell(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.AllowNegativeStock = false })
	f.clockIn(t, cashier, outletX)

	var (
		wg        sync.WaitGroup
		succeeded atomic.Int32
		conflicts atomic.Int32
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.svc.Checkout(as(cashier), domain.CheckoutRequest{
				OutletID:      outletX,
				PaymentMethod: domain.PaymentCash,
				Lines:         []domain.CartLine{{ItemID: "fries", Qty: 1}},
			})
			switch {
			case err == nil:
				succeeded.Add(1)
			case apperr.Is(err, apperr.CodeConflict):
				conflicts.Add(1)
			default:
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	assert.EqualValues(t, 10, succeeded.Load())
	assert.EqualValues(t, 10, conflicts.Load())
	requireDec(t, "0", f.quantity(t, outletX, "tpl-potato"))
}

type flakyRepo struct {
	*memory.Store
	failures int
	// commitThenFail applies the write before reporting the failure.
	commitThenFail bool
	calls          int
}

var errConnReset = errors.New("connection reset by peer")

func (r *flakyRepo) CreateCheckout(ctx context.Context, tx domain.Transaction, allowNegative bool) (*domain.Transaction, error) {
	r.calls++
	if r.calls > r.failures {
		return r.Store.CreateCheckout(ctx, tx, allowNegative)
	}
	if r.commitThenFail {
		if _, err := r.Store.CreateCheckout(ctx, tx, allowNegative); err != nil {
			return nil, err
		}
	}
	return nil, errConnReset
}

func TestCheckoutRetriesTransientFailures(t *testing.T) {
	repo := &flakyRepo{Store: seedRepo(t), failures: 2}
	f := newFixtureWithRepo(t, repo)
	f.clockIn(t, cashier, outletX)

	_, err := f.svc.Checkout(as(cashier), domain.CheckoutRequest{
		OutletID:      outletX,
		PaymentMethod: domain.PaymentCash,
		Lines:         []domain.CartLine{{ItemID: "fries", Qty: 1}},
	})
	require.NoError(t, err)
	assert.Equal(t, 3, repo.calls)
	requireDec(t, "900", f.quantity(t, outletX, "tpl-potato"))
}

func TestCheckoutSurfacesPersistenceErrorWithoutApplying(t *testing.T) {
	repo := &flakyRepo{Store: seedRepo(t), failures: 10}
	f := newFixtureWithRepo(t, repo)
	f.clockIn(t, cashier, outletX)

	_, err := f.svc.Checkout(as(cashier), domain.CheckoutRequest{
		OutletID:      outletX,
		CustomerID:    "cust-1",
		PaymentMethod: domain.PaymentCash,
		Lines:         []domain.CartLine{{ItemID: "fries", Qty: 1}},
	})
	requireCode(t, err, apperr.CodePersistence)
	require.ErrorIs(t, err, errConnReset)
	assert.Equal(t, 3, repo.calls)

	requireDec(t, "1000", f.quantity(t, outletX, "tpl-potato"))
	customer, _ := f.repo.GetCustomer(context.Background(), "cust-1")
	assert.EqualValues(t, 50, customer.Points)
	txs, err := f.repo.ListTransactions(context.Background(), store.TransactionFilter{OutletID: outletX})
	require.NoError(t, err)
	assert.Empty(t, txs)
}

func TestRetryWarningsKeepRequestFields(t *testing.T) {
	var buf bytes.Buffer
	repo := &flakyRepo{Store: seedRepo(t), failures: 1}
	f := newFixtureWithRepo(t, repo, func(o *Options) {
		o.Logger = logger.New(logger.Options{ServiceName: "opscore-test", Output: &buf})
	})
	f.clockIn(t, cashier, outletX)

	_, err := f.svc.Checkout(as(cashier), domain.CheckoutRequest{
		OutletID:      outletX,
		PaymentMethod: domain.PaymentCash,
		Lines:         []domain.CartLine{{ItemID: "fries", Qty: 1}},
	})
	require.NoError(t, err)

	var warning map[string]any
	for _, line := range bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n")) {
		var entry map[string]any
		require.NoError(t, json.Unmarshal(line, &entry))
		if entry["message"] == "persistence call failed, retrying" {
			warning = entry
		}
	}
	require.NotNil(t, warning, buf.String())
	assert.Equal(t, outletX, warning["outlet_id"])
	assert.Equal(t, "checkout", warning["operation"])
}

func TestCheckoutRetryAfterLostAckAppliesOnce(t *testing.T) {
	repo := &flakyRepo{Store: seedRepo(t), failures: 1, commitThenFail: true}
	f := newFixtureWithRepo(t, repo)
	f.clockIn(t, cashier, outletX)

	resp, err := f.svc.Checkout(as(cashier), domain.CheckoutRequest{
		OutletID:      outletX,
		PaymentMethod: domain.PaymentCash,
		Lines:         []domain.CartLine{{ItemID: "fries", Qty: 1}},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.Transaction.ID)
	requireDec(t, "900", f.quantity(t, outletX, "tpl-potato"))
}

func TestComputeCartTotalsHasNoSideEffects(t *testing.T) {
	f := newFixture(t)

	result, err := f.svc.ComputeCartTotals(as(cashier), domain.CartTotalsRequest{
		OutletID:       outletX,
		CustomerID:     "cust-1",
		PointsToRedeem: 500,
		Lines:          []domain.CartLine{{ItemID: "burger", Qty: 1}},
	})
	require.NoError(t, err)
	assert.Equal(t, domain.DiscountTier, result.Totals.AppliedDiscount)
	requireDec(t, "3500", result.Totals.TierDiscount)
	// clamped to the customer's balance
	assert.EqualValues(t, 50, result.Totals.PointsRedeemed)
	requireDec(t, "26500", result.Totals.Total)

	customer, _ := f.repo.GetCustomer(context.Background(), "cust-1")
	assert.EqualValues(t, 50, customer.Points)
	requireDec(t, "1000", f.quantity(t, outletX, "tpl-bun"))
}

func TestVoidTransactionRestocksOnce(t *testing.T) {
	f := newFixture(t)
	f.clockIn(t, cashier, outletX)
	resp, err := f.svc.Checkout(as(cashier), domain.CheckoutRequest{
		OutletID:      outletX,
		CustomerID:    "cust-1",
		PaymentMethod: domain.PaymentCash,
		Lines:         []domain.CartLine{{ItemID: "combo-a", Qty: 1}},
	})
	require.NoError(t, err)
	txID := resp.Transaction.ID

	_, err = f.svc.VoidTransaction(as(cashier), txID, domain.VoidTransactionRequest{Reason: "salah input"})
	requireCode(t, err, apperr.CodeInsufficientPermission)

	voided, err := f.svc.VoidTransaction(as(manager), txID, domain.VoidTransactionRequest{Reason: "salah input"})
	require.NoError(t, err)
	assert.Equal(t, domain.TxStatusVoided, voided.Status)
	requireDec(t, "1000", f.quantity(t, outletX, "tpl-bun"))
	requireDec(t, "1000", f.quantity(t, outletX, "tpl-potato"))
	customer, _ := f.repo.GetCustomer(context.Background(), "cust-1")
	assert.EqualValues(t, 50, customer.Points)

	_, err = f.svc.VoidTransaction(as(manager), txID, domain.VoidTransactionRequest{Reason: "lagi"})
	requireCode(t, err, apperr.CodeStateConflict)
	requireDec(t, "1000", f.quantity(t, outletX, "tpl-bun"))

	_, err = f.svc.VoidTransaction(as(manager), "trx-missing", domain.VoidTransactionRequest{Reason: "x"})
	requireCode(t, err, apperr.CodeNotFound)
}

func TestVoidWithManagerApprovalAllowsCashier(t *testing.T) {
	f := newFixture(t)
	f.clockIn(t, cashier, outletX)
	resp, err := f.svc.Checkout(as(cashier), domain.CheckoutRequest{
		OutletID:      outletX,
		PaymentMethod: domain.PaymentCash,
		Lines:         []domain.CartLine{{ItemID: "fries", Qty: 1}},
	})
	require.NoError(t, err)

	_, err = f.svc.VoidTransaction(as(cashier), resp.Transaction.ID, domain.VoidTransactionRequest{Reason: "batal", ManagerApproved: true})
	require.NoError(t, err)
	requireDec(t, "1000", f.quantity(t, outletX, "tpl-potato"))
}

func TestTransferAcceptConservesQuantity(t *testing.T) {
	f := newFixture(t)

	transfer, err := f.svc.CreateTransfer(as(cashier), domain.TransferCreateRequest{
		FromOutletID: outletX, ToOutletID: outletY, TemplateID: "tpl-bun", Quantity: dec("250"),
	})
	require.NoError(t, err)
	assert.Equal(t, domain.TransferPending, transfer.Status)
	requireDec(t, "750", f.quantity(t, outletX, "tpl-bun"))
	requireDec(t, "1000", f.quantity(t, outletY, "tpl-bun"))

	_, err = f.svc.AcceptTransfer(as(cashier), transfer.ID, domain.TransferResolveRequest{})
	requireCode(t, err, apperr.CodeInsufficientPermission)

	accepted, err := f.svc.AcceptTransfer(as(runner), transfer.ID, domain.TransferResolveRequest{Notes: "diterima"})
	require.NoError(t, err)
	assert.Equal(t, domain.TransferAccepted, accepted.Status)
	assert.Equal(t, runner.StaffID, accepted.ResolvedBy)

	before := dec("1000")
	destDelta := f.quantity(t, outletY, "tpl-bun").Sub(dec("1000"))
	requireDec(t, before.String(), f.quantity(t, outletX, "tpl-bun").Add(destDelta))

	_, err = f.svc.RejectTransfer(as(manager), transfer.ID, domain.TransferResolveRequest{})
	requireCode(t, err, apperr.CodeStateConflict)
	requireDec(t, "750", f.quantity(t, outletX, "tpl-bun"))
}

func TestTransferRejectRefundsSource(t *testing.T) {
	f := newFixture(t)

	transfer, err := f.svc.CreateTransfer(as(manager), domain.TransferCreateRequest{
		FromOutletID: outletX, ToOutletID: outletY, TemplateID: "tpl-potato", Quantity: dec("400"),
	})
	require.NoError(t, err)

	rejected, err := f.svc.RejectTransfer(as(runner), transfer.ID, domain.TransferResolveRequest{Notes: "salah kirim"})
	require.NoError(t, err)
	assert.Equal(t, domain.TransferRejected, rejected.Status)
	requireDec(t, "1000", f.quantity(t, outletX, "tpl-potato"))
	requireDec(t, "1000", f.quantity(t, outletY, "tpl-potato"))

	_, err = f.svc.AcceptTransfer(as(runner), transfer.ID, domain.TransferResolveRequest{})
	requireCode(t, err, apperr.CodeStateConflict)
}

func TestTransferValidation(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.CreateTransfer(as(manager), domain.TransferCreateRequest{
		FromOutletID: outletX, ToOutletID: outletX, TemplateID: "tpl-bun", Quantity: dec("1"),
	})
	requireCode(t, err, apperr.CodeValidation)

	_, err = f.svc.CreateTransfer(as(manager), domain.TransferCreateRequest{
		FromOutletID: outletX, ToOutletID: outletY, TemplateID: "tpl-bun", Quantity: dec("0"),
	})
	requireCode(t, err, apperr.CodeValidation)

	_, err = f.svc.CreateTransfer(as(manager), domain.TransferCreateRequest{
		FromOutletID: outletX, ToOutletID: outletY, TemplateID: "tpl-bun", Quantity: dec("1001"),
	})
	requireCode(t, err, apperr.CodeConflict)

	// outlet Y holds no syrup row: creation succeeds, acceptance fails loudly
	transfer, err := f.svc.CreateTransfer(as(manager), domain.TransferCreateRequest{
		FromOutletID: outletX, ToOutletID: outletY, TemplateID: "tpl-syrup", Quantity: dec("10"),
	})
	require.NoError(t, err)
	_, err = f.svc.AcceptTransfer(as(manager), transfer.ID, domain.TransferResolveRequest{})
	requireCode(t, err, apperr.CodeNotFound)
	pending, err := f.repo.GetTransfer(context.Background(), transfer.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TransferPending, pending.Status)
	requireDec(t, "990", f.quantity(t, outletX, "tpl-syrup"))

	list, err := f.svc.ListTransfers(as(manager), outletX, domain.TransferPending)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestRecordProductionConvertsAndBlendsCost(t *testing.T) {
	f := newFixture(t)

	record, err := f.svc.RecordProduction(as(cashier), domain.ProductionRequest{
		OutletID:         outletX,
		ResultTemplateID: "tpl-sauce",
		ResultQuantity:   dec("500"),
		Components: []domain.ProductionComponent{
			{TemplateID: "tpl-potato", Quantity: dec("100")},
			{TemplateID: "tpl-syrup", Quantity: dec("250")},
		},
	})
	require.NoError(t, err)
	// (100*10 + 250*2) / 500
	requireDec(t, "3", record.ResultUnitCost)
	requireDec(t, "1500", f.quantity(t, outletX, "tpl-sauce"))
	requireDec(t, "900", f.quantity(t, outletX, "tpl-potato"))
	requireDec(t, "750", f.quantity(t, outletX, "tpl-syrup"))

	_, err = f.svc.RecordProduction(as(cashier), domain.ProductionRequest{
		OutletID:         outletX,
		ResultTemplateID: "tpl-bun",
		ResultQuantity:   dec("1"),
		Components:       []domain.ProductionComponent{{TemplateID: "tpl-potato", Quantity: dec("1")}},
	})
	requireCode(t, err, apperr.CodeValidation)

	_, err = f.svc.RecordProduction(as(cashier), domain.ProductionRequest{
		OutletID:         outletX,
		ResultTemplateID: "tpl-sauce",
		ResultQuantity:   dec("1"),
		Components:       []domain.ProductionComponent{{TemplateID: "tpl-potato", Quantity: dec("5000")}},
	})
	requireCode(t, err, apperr.CodeConflict)
	requireDec(t, "1500", f.quantity(t, outletX, "tpl-sauce"))
}

func TestClosingReconcilesAndLocksShift(t *testing.T) {
	f := newFixture(t)
	f.clockIn(t, cashier, outletX)
	ctx := as(cashier)

	_, err := f.svc.Checkout(ctx, domain.CheckoutRequest{
		OutletID: outletX, PaymentMethod: domain.PaymentCash,
		Lines: []domain.CartLine{{ItemID: "fries", Qty: 2}},
	})
	require.NoError(t, err)
	_, err = f.svc.Checkout(ctx, domain.CheckoutRequest{
		OutletID: outletX, PaymentMethod: domain.PaymentQRIS,
		Lines: []domain.CartLine{{ItemID: "burger", Qty: 1}},
	})
	require.NoError(t, err)
	_, err = f.svc.RecordExpense(ctx, domain.ExpenseRequest{OutletID: outletX, Amount: dec("5000"), Category: "es batu"})
	require.NoError(t, err)

	closing, err := f.svc.PerformClosing(ctx, domain.ClosingRequest{
		OutletID:          outletX,
		OpeningBalance:    dec("100000"),
		ActualCashCounted: dec("130000"),
	})
	require.NoError(t, err)
	assert.Equal(t, "2026-03-02", closing.BusinessDate)
	assert.Equal(t, domain.ClosingApproved, closing.Status)
	assert.Equal(t, 2, closing.TransactionCount)
	requireDec(t, "36000", closing.TotalSalesCash)
	requireDec(t, "35000", closing.TotalSalesQRIS)
	requireDec(t, "5000", closing.TotalExpenses)
	requireDec(t, "131000", closing.ExpectedCash)
	requireDec(t, "-1000", closing.Discrepancy)

	_, err = f.repo.GetOpenAttendance(context.Background(), outletX, cashier.StaffID)
	require.ErrorIs(t, err, store.ErrNotFound)

	_, err = f.svc.PerformClosing(ctx, domain.ClosingRequest{OutletID: outletX})
	requireCode(t, err, apperr.CodeConflict)
	closings, err := f.svc.ListClosings(as(manager), outletX, "2026-03-02")
	require.NoError(t, err)
	assert.Len(t, closings, 1)

	_, err = f.svc.Checkout(ctx, domain.CheckoutRequest{
		OutletID: outletX, PaymentMethod: domain.PaymentCash,
		Lines: []domain.CartLine{{ItemID: "fries", Qty: 1}},
	})
	requireCode(t, err, apperr.CodeInsufficientPermission)
	_, err = f.svc.RecordExpense(ctx, domain.ExpenseRequest{OutletID: outletX, Amount: dec("1000"), Category: "parkir"})
	requireCode(t, err, apperr.CodeInsufficientPermission)
	_, err = f.svc.RecordPurchase(ctx, domain.PurchaseRequest{OutletID: outletX, TemplateID: "tpl-bun", Quantity: dec("10"), TotalCost: dec("200")})
	requireCode(t, err, apperr.CodeInsufficientPermission)

	// the lock is per outlet and does not bind managers
	f.clockIn(t, cashier, outletY)
	f.clockIn(t, manager, outletX)
	_, err = f.svc.Checkout(as(manager), domain.CheckoutRequest{
		OutletID: outletX, PaymentMethod: domain.PaymentCash,
		Lines: []domain.CartLine{{ItemID: "fries", Qty: 1}},
	})
	require.NoError(t, err)
}

func TestClosingDefaultStatusIsConfigurable(t *testing.T) {
	f := newFixture(t, func(o *Options) { o.ClosingDefaultStatus = domain.ClosingPending })

	closing, err := f.svc.PerformClosing(as(cashier), domain.ClosingRequest{OutletID: outletX})
	require.NoError(t, err)
	assert.Equal(t, domain.ClosingPending, closing.Status)

	got, err := f.svc.GetClosing(as(cashier), outletX, "", "")
	require.NoError(t, err)
	assert.Equal(t, closing.ID, got.ID)

	_, err = f.svc.GetClosing(as(cashier), outletX, manager.StaffID, "")
	requireCode(t, err, apperr.CodeInsufficientPermission)
}

func TestClosingRollupUsesOnlyTodaysOwnSales(t *testing.T) {
	f := newFixture(t)
	f.clockIn(t, manager, outletX)

	yesterday := newFixtureWithRepo(t, f.repo, func(o *Options) {
		o.Clock = func() time.Time { return fixedNow.Add(-24 * time.Hour) }
	})
	yesterday.clockIn(t, cashier, outletX)
	_, err := yesterday.svc.Checkout(as(cashier), domain.CheckoutRequest{
		OutletID: outletX, PaymentMethod: domain.PaymentCash,
		Lines: []domain.CartLine{{ItemID: "burger", Qty: 1}},
	})
	require.NoError(t, err)
	_, err = f.svc.Checkout(as(manager), domain.CheckoutRequest{
		OutletID: outletX, PaymentMethod: domain.PaymentCash,
		Lines: []domain.CartLine{{ItemID: "burger", Qty: 1}},
	})
	require.NoError(t, err)

	closing, err := f.svc.PerformClosing(as(cashier), domain.ClosingRequest{OutletID: outletX})
	require.NoError(t, err)
	assert.Equal(t, 0, closing.TransactionCount)
	requireDec(t, "0", closing.TotalSalesCash)
}

func TestRecordPurchaseReweightsCost(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.RecordPurchase(as(cashier), domain.PurchaseRequest{
		OutletID: outletX, TemplateID: "tpl-bun", Quantity: dec("1000"), TotalCost: dec("30000"),
	})
	require.NoError(t, err)

	row, err := f.repo.GetStockItem(context.Background(), outletX, "tpl-bun")
	require.NoError(t, err)
	requireDec(t, "2000", row.Quantity)
	// (1000*20 + 1000*30) / 2000
	requireDec(t, "25", row.CostPerUnit)
}

func TestClockInTwiceConflicts(t *testing.T) {
	f := newFixture(t)
	f.clockIn(t, cashier, outletX)

	_, err := f.svc.ClockIn(as(cashier), domain.ClockInRequest{OutletID: outletX})
	requireCode(t, err, apperr.CodeConflict)
}

// closeDuringCheckout runs a closing the first time pricing rules are
// loaded, which happens after a checkout starts and before it locks.
type closeDuringCheckout struct {
	*memory.Store
	close func()
}

func (r *closeDuringCheckout) GetPricingRules(ctx context.Context) (domain.PricingRules, error) {
	if fn := r.close; fn != nil {
		r.close = nil
		fn()
	}
	return r.Store.GetPricingRules(ctx)
}

func TestClosingDuringCheckoutRefusesTheSale(t *testing.T) {
	repo := &closeDuringCheckout{Store: seedRepo(t)}
	f := newFixtureWithRepo(t, repo)
	f.repo = repo.Store
	f.clockIn(t, cashier, outletX)

	var closing domain.DailyClosing
	repo.close = func() {
		var err error
		closing, err = f.svc.PerformClosing(as(cashier), domain.ClosingRequest{OutletID: outletX, ActualCashCounted: dec("0")})
		require.NoError(t, err)
	}

	_, err := f.svc.Checkout(as(cashier), domain.CheckoutRequest{
		OutletID: outletX, PaymentMethod: domain.PaymentCash,
		Lines: []domain.CartLine{{ItemID: "burger", Qty: 1}},
	})
	requireCode(t, err, apperr.CodeInsufficientPermission)

	require.NotEmpty(t, closing.ID)
	assert.Equal(t, 0, closing.TransactionCount)
	requireDec(t, "0", closing.Discrepancy)
	requireDec(t, "1000", f.quantity(t, outletX, "tpl-bun"))
	sales, err := f.repo.ListTransactions(context.Background(), store.TransactionFilter{OutletID: outletX})
	require.NoError(t, err)
	assert.Empty(t, sales)
}

func TestCheckoutRequiresAttendanceFromToday(t *testing.T) {
	f := newFixture(t)
	f.clockIn(t, cashier, outletX)
	sale := domain.CheckoutRequest{
		OutletID: outletX, PaymentMethod: domain.PaymentCash,
		Lines: []domain.CartLine{{ItemID: "fries", Qty: 1}},
	}

	later := newFixtureWithRepo(t, f.repo, func(o *Options) {
		o.Clock = func() time.Time { return fixedNow.Add(48 * time.Hour) }
	})
	_, err := later.svc.Checkout(as(cashier), sale)
	requireCode(t, err, apperr.CodeInsufficientPermission)
	requireDec(t, "1000", f.quantity(t, outletX, "tpl-potato"))

	// the forgotten attendance is closed and today's replaces it
	att, err := later.svc.ClockIn(as(cashier), domain.ClockInRequest{OutletID: outletX})
	require.NoError(t, err)
	assert.True(t, att.ClockIn.Equal(fixedNow.Add(48*time.Hour)))

	_, err = later.svc.Checkout(as(cashier), sale)
	require.NoError(t, err)
	requireDec(t, "900", f.quantity(t, outletX, "tpl-potato"))
}

// holdFirstPackageWrite parks the first package write until released.
type holdFirstPackageWrite struct {
	*memory.Store
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func (r *holdFirstPackageWrite) UpdateItemPackage(ctx context.Context, itemID string, lines []domain.PackageLine) (*domain.SellableItem, error) {
	first := false
	r.once.Do(func() { first = true })
	if first {
		close(r.entered)
		<-r.release
	}
	return r.Store.UpdateItemPackage(ctx, itemID, lines)
}

func TestConcurrentPackageEditsCannotFormCycle(t *testing.T) {
	repo := &holdFirstPackageWrite{Store: seedRepo(t), entered: make(chan struct{}), release: make(chan struct{})}
	f := newFixtureWithRepo(t, repo)

	firstErr := make(chan error, 1)
	go func() {
		_, err := f.svc.UpdateItemPackage(as(manager), "combo-a", domain.PackageUpdateRequest{
			Lines: []domain.PackageLine{{ItemID: "triple", Quantity: dec("1")}},
		})
		firstErr <- err
	}()
	<-repo.entered

	secondErr := make(chan error, 1)
	go func() {
		_, err := f.svc.UpdateItemPackage(as(manager), "triple", domain.PackageUpdateRequest{
			Lines: []domain.PackageLine{{ItemID: "combo-a", Quantity: dec("1")}},
		})
		secondErr <- err
	}()
	select {
	case err := <-secondErr:
		t.Fatalf("second edit finished while the first was still writing: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	close(repo.release)
	require.NoError(t, <-firstErr)
	err := <-secondErr
	requireCode(t, err, apperr.CodeValidation)
	assert.Contains(t, err.Error(), "cycle")
}

func TestUpdateItemPackageRejectsCycles(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.UpdateItemPackage(as(cashier), "triple", domain.PackageUpdateRequest{})
	requireCode(t, err, apperr.CodeInsufficientPermission)

	_, err = f.svc.UpdateItemPackage(as(manager), "triple", domain.PackageUpdateRequest{
		Lines: []domain.PackageLine{{ItemID: "flight", Quantity: dec("1")}},
	})
	requireCode(t, err, apperr.CodeValidation)
	assert.Contains(t, err.Error(), "cycle")

	item, err := f.svc.UpdateItemPackage(as(manager), "combo-a", domain.PackageUpdateRequest{
		Lines: []domain.PackageLine{{ItemID: "burger", Quantity: dec("2")}, {ItemID: "triple", Quantity: dec("1")}},
	})
	require.NoError(t, err)
	assert.Len(t, item.Package, 2)
}

func TestItemCostAndSimulation(t *testing.T) {
	f := newFixture(t)

	cost, err := f.svc.ItemCost(as(manager), "combo-a", outletX)
	require.NoError(t, err)
	requireDec(t, "4000", cost.UnitCost)
	requireDec(t, "8.89", cost.FoodCostRatio)
	assert.Equal(t, domain.HealthHealthy, cost.Health)

	_, err = f.svc.ItemCost(as(manager), "missing", outletX)
	requireCode(t, err, apperr.CodeNotFound)

	result, err := f.svc.SimulateRecipeCost(as(manager), domain.SimulationRequest{
		Rows: []domain.SimulationRow{
			{Name: "beef", PurchasePrice: dec("140000"), PackageSize: dec("1000"), YieldPercent: dec("100"), RecipeQty: dec("100")},
		},
		SellingPrice: dec("35000"),
	})
	require.NoError(t, err)
	requireDec(t, "14000", result.TotalCost)
	assert.Equal(t, domain.HealthWarning, result.Health)

	_, err = f.svc.SimulateRecipeCost(as(manager), domain.SimulationRequest{
		Rows:         []domain.SimulationRow{{Name: "beef", PurchasePrice: dec("1"), RecipeQty: dec("1")}},
		SellingPrice: dec("0"),
	})
	requireCode(t, err, apperr.CodeValidation)
}

func TestGetStockAggregatesAcrossOutlets(t *testing.T) {
	f := newFixture(t)

	rows, err := f.svc.GetStock(as(manager), domain.AllOutlets, "tpl-bun")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, domain.AllOutlets, rows[0].OutletID)
	requireDec(t, "2000", rows[0].Quantity)

	rows, err = f.svc.GetStock(as(manager), outletY, "")
	require.NoError(t, err)
	assert.Len(t, rows, 2)
}

func TestAdjustStockByTemplateOrUniqueName(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.AdjustStock(as(cashier), domain.StockAdjustRequest{OutletID: outletX, TemplateID: "tpl-bun", Delta: dec("-10"), Reason: "rusak"})
	requireCode(t, err, apperr.CodeInsufficientPermission)

	row, err := f.svc.AdjustStock(as(manager), domain.StockAdjustRequest{OutletID: outletX, StockName: "potato", Delta: dec("-25"), Reason: "opname"})
	require.NoError(t, err)
	requireDec(t, "975", row.Quantity)

	_, err = f.svc.AdjustStock(as(manager), domain.StockAdjustRequest{OutletID: outletY, TemplateID: "tpl-syrup", Delta: dec("5"), Reason: "opname"})
	requireCode(t, err, apperr.CodeNotFound)

	_, err = f.svc.AdjustStock(as(manager), domain.StockAdjustRequest{OutletID: outletX, StockName: "gula", Delta: dec("5"), Reason: "opname"})
	requireCode(t, err, apperr.CodeNotFound)

	_, err = f.svc.AdjustStock(as(manager), domain.StockAdjustRequest{OutletID: outletX, TemplateID: "tpl-bun", Delta: dec("0"), Reason: "opname"})
	requireCode(t, err, apperr.CodeValidation)
}

func TestAuditTrailRecordsMutations(t *testing.T) {
	f := newFixture(t)
	f.clockIn(t, cashier, outletX)
	_, err := f.svc.Checkout(as(cashier), domain.CheckoutRequest{
		OutletID: outletX, PaymentMethod: domain.PaymentCash,
		Lines: []domain.CartLine{{ItemID: "fries", Qty: 1}},
	})
	require.NoError(t, err)

	_, err = f.svc.ListAuditLogs(as(cashier), outletX, time.Time{}, time.Time{}, 10)
	requireCode(t, err, apperr.CodeInsufficientPermission)

	logs, err := f.svc.ListAuditLogs(as(manager), outletX, time.Time{}, time.Time{}, 10)
	require.NoError(t, err)
	actions := make([]string, 0, len(logs))
	for _, entry := range logs {
		actions = append(actions, entry.Action)
	}
	assert.Contains(t, actions, "checkout")
	assert.Contains(t, actions, "clock_in")
}
