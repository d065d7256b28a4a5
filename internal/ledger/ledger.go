package ledger

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"kasirinaja/opscore/internal/apperr"
	"kasirinaja/opscore/internal/costing"
	"kasirinaja/opscore/internal/domain"
	"kasirinaja/opscore/internal/lock"
	"kasirinaja/opscore/internal/store"
)

// Stock is the slice of the repository the ledger reads and writes.
type Stock interface {
	GetStockItem(ctx context.Context, outletID string, templateID string) (*domain.StockItem, error)
	GetStockItems(ctx context.Context, outletID string, templateIDs []string) (map[string]domain.StockItem, error)
	ListStockItems(ctx context.Context, filter store.StockFilter) ([]domain.StockItem, error)
	AdjustStock(ctx context.Context, outletID string, templateID string, delta decimal.Decimal, allowNegative bool) (*domain.StockItem, error)
}

type Options struct {
	AllowNegative bool
	LockWait      time.Duration
}

// Ledger is the per-outlet quantity store. Rows are addressed by
// (outlet, template); there is no name matching on the write path.
type Ledger struct {
	stock  Stock
	locker lock.Locker
	opts   Options
}

func New(stock Stock, locker lock.Locker, opts Options) *Ledger {
	if locker == nil {
		locker = lock.NewKeyedMutex()
	}
	return &Ledger{stock: stock, locker: locker, opts: opts}
}

func (l *Ledger) AllowNegative() bool {
	return l.opts.AllowNegative
}

// GetOutletQuantity returns the on-hand quantity and whether the outlet
// holds a row for the template at all.
func (l *Ledger) GetOutletQuantity(ctx context.Context, outletID, templateID string) (decimal.Decimal, bool, error) {
	row, err := l.stock.GetStockItem(ctx, outletID, templateID)
	if errors.Is(err, store.ErrNotFound) {
		return decimal.Zero, false, nil
	}
	if err != nil {
		return decimal.Zero, false, err
	}
	return row.Quantity, true, nil
}

// AdjustOutletQuantity applies delta under the (outlet, template) lock.
// A missing row is a NotFound error, never a silent skip.
func (l *Ledger) AdjustOutletQuantity(ctx context.Context, outletID, templateID string, delta decimal.Decimal) (*domain.StockItem, error) {
	if outletID == "" || outletID == domain.AllOutlets {
		return nil, apperr.Validation("a concrete outlet is required")
	}
	if delta.IsZero() {
		return nil, apperr.Validation("adjustment must be non-zero")
	}

	release, err := lock.AcquireAll(ctx, l.locker, l.opts.LockWait, lock.StockKey(outletID, templateID))
	if err != nil {
		return nil, err
	}
	defer release()

	row, err := l.stock.AdjustStock(ctx, outletID, templateID, delta, l.opts.AllowNegative)
	if err != nil {
		return nil, Translate(err)
	}
	return row, nil
}

// Resolution maps leaf requirements onto one outlet's stock rows.
type Resolution struct {
	Deductions []domain.StockDeduction
	Missing    []string
	Rows       map[string]domain.StockItem
}

// ResolveRows looks up the outlet row for every requirement. Templates the
// outlet has no row for are reported in Missing; the caller decides whether
// that is fatal.
func (l *Ledger) ResolveRows(ctx context.Context, outletID string, reqs []costing.Requirement) (Resolution, error) {
	ids := make([]string, 0, len(reqs))
	for _, req := range reqs {
		ids = append(ids, req.TemplateID)
	}
	rows, err := l.stock.GetStockItems(ctx, outletID, ids)
	if err != nil {
		return Resolution{}, err
	}

	res := Resolution{Rows: rows}
	for _, req := range reqs {
		row, ok := rows[req.TemplateID]
		if !ok {
			res.Missing = append(res.Missing, req.TemplateID)
			continue
		}
		res.Deductions = append(res.Deductions, domain.StockDeduction{
			TemplateID:  req.TemplateID,
			StockItemID: row.ID,
			Quantity:    req.Quantity,
		})
	}
	sort.Strings(res.Missing)
	return res, nil
}

// CheckSufficient reports the first deduction that would take its row
// below zero. It is advisory unless called under the row locks.
func (res Resolution) CheckSufficient() error {
	for _, d := range res.Deductions {
		row := res.Rows[d.TemplateID]
		if row.Quantity.LessThan(d.Quantity) {
			return apperr.Newf(apperr.CodeConflict, "insufficient stock for %s", row.Name).
				WithDetails(map[string]any{
					"template_id": d.TemplateID,
					"available":   row.Quantity.String(),
					"required":    d.Quantity.String(),
				})
		}
	}
	return nil
}

// ResolveByName is the legacy lookup for importing name-keyed data. It
// fails when the name is absent or matches more than one row.
func (l *Ledger) ResolveByName(ctx context.Context, outletID, name string) (*domain.StockItem, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, apperr.Validation("stock name is required")
	}
	rows, err := l.stock.ListStockItems(ctx, store.StockFilter{OutletID: outletID, Name: name})
	if err != nil {
		return nil, err
	}
	switch len(rows) {
	case 0:
		return nil, apperr.Newf(apperr.CodeNotFound, "no stock named %q at outlet %s", name, outletID)
	case 1:
		return &rows[0], nil
	default:
		return nil, apperr.Newf(apperr.CodeConflict, "stock name %q is ambiguous at outlet %s", name, outletID).
			WithDetails(map[string]any{"matches": len(rows)})
	}
}

// StockKeys returns the lock keys for every template touched at an outlet.
func StockKeys(outletID string, templateIDs ...string) []string {
	keys := make([]string, 0, len(templateIDs))
	for _, id := range templateIDs {
		keys = append(keys, lock.StockKey(outletID, id))
	}
	return keys
}

// Translate maps store sentinels to typed errors.
func Translate(err error) error {
	switch {
	case err == nil:
		return nil
	case apperr.As(err) != nil:
		return err
	case errors.Is(err, store.ErrNotFound):
		return apperr.Wrap(apperr.CodeNotFound, err, "stock row not found")
	case errors.Is(err, store.ErrInsufficientStock):
		return apperr.Wrap(apperr.CodeConflict, err, "insufficient stock")
	default:
		return err
	}
}
