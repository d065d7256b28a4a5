package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"kasirinaja/opscore/internal/domain"
	"kasirinaja/opscore/internal/store"
	"kasirinaja/opscore/internal/xid"
)

// Store keeps everything in maps behind one RWMutex. Multi-row writes
// validate every precondition before touching state, so a failure leaves
// nothing half applied.
type Store struct {
	mu                 sync.RWMutex
	outlets            map[string]domain.Outlet
	staff              map[string]domain.Staff
	usersByUsername    map[string]domain.UserAccount
	items              map[string]domain.SellableItem
	templates          map[string]domain.StockTemplate
	stock              map[string]map[string]domain.StockItem
	rules              domain.PricingRules
	customers          map[string]domain.Customer
	transactionsByID   map[string]*domain.Transaction
	transactionsByIdem map[string]string
	transfersByID      map[string]domain.StockTransfer
	production         []domain.ProductionRecord
	closingsByKey      map[string]domain.DailyClosing
	expenses           []domain.Expense
	purchases          []domain.Purchase
	attendanceByID     map[string]domain.Attendance
	openAttendance     map[string]string
	auditLogs          []domain.AuditLog
}

func New() *Store {
	return &Store{
		outlets:            make(map[string]domain.Outlet),
		staff:              make(map[string]domain.Staff),
		usersByUsername:    make(map[string]domain.UserAccount),
		items:              make(map[string]domain.SellableItem),
		templates:          make(map[string]domain.StockTemplate),
		stock:              make(map[string]map[string]domain.StockItem),
		customers:          make(map[string]domain.Customer),
		transactionsByID:   make(map[string]*domain.Transaction),
		transactionsByIdem: make(map[string]string),
		transfersByID:      make(map[string]domain.StockTransfer),
		closingsByKey:      make(map[string]domain.DailyClosing),
		attendanceByID:     make(map[string]domain.Attendance),
		openAttendance:     make(map[string]string),
		auditLogs:          make([]domain.AuditLog, 0, 128),
	}
}

func (s *Store) PutOutlet(outlet domain.Outlet) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outlets[outlet.ID] = outlet
}

func (s *Store) PutStaff(member domain.Staff) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.staff[member.ID] = member
}

func (s *Store) PutTemplate(tpl domain.StockTemplate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.templates[tpl.ID] = tpl
}

func (s *Store) PutItem(item domain.SellableItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[item.ID] = cloneItem(item)
}

// PutStockItem upserts the outlet row for a template, copying name, unit
// and kind from the template so rows never drift from their identity.
func (s *Store) PutStockItem(row domain.StockItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tpl, ok := s.templates[row.TemplateID]
	if !ok {
		return fmt.Errorf("template %s: %w", row.TemplateID, store.ErrNotFound)
	}
	if row.ID == "" {
		row.ID = xid.New("stk")
	}
	row.Name = tpl.Name
	row.Unit = tpl.Unit
	row.Kind = tpl.Kind
	if row.CostPerUnit.IsZero() {
		row.CostPerUnit = tpl.CostPerUnit
	}
	if row.UpdatedAt.IsZero() {
		row.UpdatedAt = time.Now().UTC()
	}
	if _, ok := s.stock[row.OutletID]; !ok {
		s.stock[row.OutletID] = make(map[string]domain.StockItem)
	}
	s.stock[row.OutletID][row.TemplateID] = row
	return nil
}

func (s *Store) PutCustomer(customer domain.Customer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.customers[customer.ID] = customer
}

func (s *Store) SetPricingRules(rules domain.PricingRules) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules = rules
}

func (s *Store) GetOutlet(_ context.Context, id string) (*domain.Outlet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	outlet, ok := s.outlets[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &outlet, nil
}

func (s *Store) GetStaff(_ context.Context, id string) (*domain.Staff, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	member, ok := s.staff[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &member, nil
}

func (s *Store) GetUserByUsername(_ context.Context, username string) (*domain.UserAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.usersByUsername[strings.ToLower(strings.TrimSpace(username))]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &user, nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" {
		return store.ErrInvalidTransaction
	}
	if _, exists := s.usersByUsername[username]; exists {
		return store.ErrConflict
	}
	user.Username = username
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	s.usersByUsername[username] = user
	return nil
}

func (s *Store) GetSellableItem(_ context.Context, id string) (*domain.SellableItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.items[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	out := cloneItem(item)
	return &out, nil
}

func (s *Store) GetSellableItems(_ context.Context, ids []string) (map[string]domain.SellableItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]domain.SellableItem, len(ids))
	for _, id := range ids {
		if item, ok := s.items[id]; ok {
			out[id] = cloneItem(item)
		}
	}
	return out, nil
}

func (s *Store) UpdateItemPackage(_ context.Context, itemID string, lines []domain.PackageLine) (*domain.SellableItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[itemID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if len(lines) > 0 && len(item.BOM) > 0 {
		return nil, store.ErrInvalidTransaction
	}
	item.Package = append([]domain.PackageLine(nil), lines...)
	s.items[itemID] = item
	out := cloneItem(item)
	return &out, nil
}

func (s *Store) GetStockTemplate(_ context.Context, id string) (*domain.StockTemplate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tpl, ok := s.templates[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &tpl, nil
}

func (s *Store) GetStockItem(_ context.Context, outletID string, templateID string) (*domain.StockItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row, ok := s.stock[outletID][templateID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &row, nil
}

func (s *Store) GetStockItems(_ context.Context, outletID string, templateIDs []string) (map[string]domain.StockItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]domain.StockItem, len(templateIDs))
	for _, templateID := range templateIDs {
		if row, ok := s.stock[outletID][templateID]; ok {
			out[templateID] = row
		}
	}
	return out, nil
}

func (s *Store) ListStockItems(_ context.Context, filter store.StockFilter) ([]domain.StockItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.StockItem, 0)
	for outletID, rows := range s.stock {
		if filter.OutletID != "" && filter.OutletID != outletID {
			continue
		}
		for _, row := range rows {
			if filter.TemplateID != "" && filter.TemplateID != row.TemplateID {
				continue
			}
			if filter.Name != "" && !strings.EqualFold(filter.Name, row.Name) {
				continue
			}
			out = append(out, row)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].OutletID == out[j].OutletID {
			return out[i].Name < out[j].Name
		}
		return out[i].OutletID < out[j].OutletID
	})
	return out, nil
}

func (s *Store) AdjustStock(_ context.Context, outletID string, templateID string, delta decimal.Decimal, allowNegative bool) (*domain.StockItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row, ok := s.stock[outletID][templateID]
	if !ok {
		return nil, fmt.Errorf("stock %s at %s: %w", templateID, outletID, store.ErrNotFound)
	}
	next := row.Quantity.Add(delta)
	if !allowNegative && delta.IsNegative() && next.IsNegative() {
		return nil, fmt.Errorf("%s at %s: %w", row.Name, outletID, store.ErrInsufficientStock)
	}
	row.Quantity = next
	row.UpdatedAt = time.Now().UTC()
	s.stock[outletID][templateID] = row
	return &row, nil
}

func (s *Store) GetPricingRules(_ context.Context) (domain.PricingRules, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return domain.PricingRules{
		Tiers:     append([]domain.MembershipTier(nil), s.rules.Tiers...),
		BulkRules: append([]domain.BulkDiscountRule(nil), s.rules.BulkRules...),
		Loyalty:   s.rules.Loyalty,
	}, nil
}

func (s *Store) GetCustomer(_ context.Context, id string) (*domain.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	customer, ok := s.customers[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &customer, nil
}

func (s *Store) FindTransactionByIdempotency(_ context.Context, key string) (*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.transactionsByIdem[key]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneTransaction(s.transactionsByID[id]), nil
}

func (s *Store) FindTransactionByID(_ context.Context, id string) (*domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tx, ok := s.transactionsByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneTransaction(tx), nil
}

func (s *Store) ListTransactions(_ context.Context, filter store.TransactionFilter) ([]domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Transaction, 0)
	for _, tx := range s.transactionsByID {
		if filter.OutletID != "" && tx.OutletID != filter.OutletID {
			continue
		}
		if filter.StaffID != "" && tx.StaffID != filter.StaffID {
			continue
		}
		if filter.Status != "" && tx.Status != filter.Status {
			continue
		}
		if !inRange(tx.CreatedAt, filter.From, filter.To) {
			continue
		}
		out = append(out, *cloneTransaction(tx))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) CreateCheckout(_ context.Context, tx domain.Transaction, allowNegative bool) (*domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if tx.IdempotencyKey != "" {
		if id, ok := s.transactionsByIdem[tx.IdempotencyKey]; ok {
			return cloneTransaction(s.transactionsByID[id]), nil
		}
	}
	if len(tx.Lines) == 0 || tx.OutletID == "" {
		return nil, store.ErrInvalidTransaction
	}
	if s.shiftClosed(tx.OutletID, tx.StaffID, tx.ShiftDate) {
		return nil, store.ErrShiftClosed
	}
	tx.ShiftDate = ""

	rows := s.stock[tx.OutletID]
	needed := make(map[string]decimal.Decimal, len(tx.Deductions))
	for _, d := range tx.Deductions {
		row, ok := rows[d.TemplateID]
		if !ok || row.ID != d.StockItemID {
			return nil, fmt.Errorf("stock %s at %s: %w", d.TemplateID, tx.OutletID, store.ErrNotFound)
		}
		needed[d.TemplateID] = needed[d.TemplateID].Add(d.Quantity)
	}
	if !allowNegative {
		for templateID, qty := range needed {
			row := rows[templateID]
			if row.Quantity.LessThan(qty) {
				return nil, fmt.Errorf("%s at %s: %w", row.Name, tx.OutletID, store.ErrInsufficientStock)
			}
		}
	}

	var customer domain.Customer
	if tx.CustomerID != "" {
		c, ok := s.customers[tx.CustomerID]
		if !ok {
			return nil, fmt.Errorf("customer %s: %w", tx.CustomerID, store.ErrNotFound)
		}
		if c.Points+tx.PointsDelta() < 0 {
			return nil, store.ErrInvalidTransaction
		}
		customer = c
	}

	if tx.ID == "" {
		tx.ID = xid.New("trx")
	}
	if tx.CreatedAt.IsZero() {
		tx.CreatedAt = time.Now().UTC()
	}
	if tx.Status == "" {
		tx.Status = domain.TxStatusClosed
	}

	now := time.Now().UTC()
	for templateID, qty := range needed {
		row := rows[templateID]
		row.Quantity = row.Quantity.Sub(qty)
		row.UpdatedAt = now
		rows[templateID] = row
	}
	if tx.CustomerID != "" {
		customer.Points += tx.PointsDelta()
		s.customers[customer.ID] = customer
	}

	stored := cloneTransaction(&tx)
	s.transactionsByID[tx.ID] = stored
	if tx.IdempotencyKey != "" {
		s.transactionsByIdem[tx.IdempotencyKey] = tx.ID
	}
	return cloneTransaction(stored), nil
}

func (s *Store) VoidTransaction(_ context.Context, id string, reason string, at time.Time) (*domain.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, ok := s.transactionsByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if tx.Status != domain.TxStatusClosed {
		return nil, store.ErrInvalidState
	}
	rows := s.stock[tx.OutletID]
	for _, d := range tx.Deductions {
		if _, ok := rows[d.TemplateID]; !ok {
			return nil, fmt.Errorf("stock %s at %s: %w", d.TemplateID, tx.OutletID, store.ErrNotFound)
		}
	}

	for _, d := range tx.Deductions {
		row := rows[d.TemplateID]
		row.Quantity = row.Quantity.Add(d.Quantity)
		row.UpdatedAt = at
		rows[d.TemplateID] = row
	}
	if customer, ok := s.customers[tx.CustomerID]; ok && tx.CustomerID != "" {
		customer.Points -= tx.PointsDelta()
		if customer.Points < 0 {
			customer.Points = 0
		}
		s.customers[customer.ID] = customer
	}

	voidedAt := at
	tx.Status = domain.TxStatusVoided
	tx.VoidReason = reason
	tx.VoidedAt = &voidedAt
	return cloneTransaction(tx), nil
}

func (s *Store) CreateTransfer(_ context.Context, transfer domain.StockTransfer) (*domain.StockTransfer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	source, ok := s.stock[transfer.FromOutletID][transfer.TemplateID]
	if !ok {
		return nil, fmt.Errorf("stock %s at %s: %w", transfer.TemplateID, transfer.FromOutletID, store.ErrNotFound)
	}
	if source.Quantity.LessThan(transfer.Quantity) {
		return nil, fmt.Errorf("%s at %s: %w", source.Name, transfer.FromOutletID, store.ErrInsufficientStock)
	}

	if transfer.ID == "" {
		transfer.ID = xid.New("trf")
	}
	if transfer.CreatedAt.IsZero() {
		transfer.CreatedAt = time.Now().UTC()
	}
	transfer.Status = domain.TransferPending
	transfer.StockName = source.Name
	transfer.Unit = source.Unit

	source.Quantity = source.Quantity.Sub(transfer.Quantity)
	source.UpdatedAt = transfer.CreatedAt
	s.stock[transfer.FromOutletID][transfer.TemplateID] = source
	s.transfersByID[transfer.ID] = transfer
	return &transfer, nil
}

func (s *Store) ResolveTransfer(_ context.Context, id string, status string, resolvedBy string, notes string, at time.Time) (*domain.StockTransfer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	transfer, ok := s.transfersByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if transfer.Status != domain.TransferPending {
		return nil, store.ErrInvalidState
	}

	var outletID string
	switch status {
	case domain.TransferAccepted:
		outletID = transfer.ToOutletID
	case domain.TransferRejected:
		outletID = transfer.FromOutletID
	default:
		return nil, store.ErrInvalidTransaction
	}
	row, ok := s.stock[outletID][transfer.TemplateID]
	if !ok {
		return nil, fmt.Errorf("stock %s at %s: %w", transfer.StockName, outletID, store.ErrNotFound)
	}

	row.Quantity = row.Quantity.Add(transfer.Quantity)
	row.UpdatedAt = at
	s.stock[outletID][transfer.TemplateID] = row

	resolvedAt := at
	transfer.Status = status
	transfer.ResolvedBy = resolvedBy
	transfer.ResolvedAt = &resolvedAt
	if notes != "" {
		transfer.Notes = notes
	}
	s.transfersByID[id] = transfer
	return &transfer, nil
}

func (s *Store) GetTransfer(_ context.Context, id string) (*domain.StockTransfer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	transfer, ok := s.transfersByID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &transfer, nil
}

func (s *Store) ListTransfers(_ context.Context, outletID string, status string) ([]domain.StockTransfer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.StockTransfer, 0)
	for _, transfer := range s.transfersByID {
		if outletID != "" && transfer.FromOutletID != outletID && transfer.ToOutletID != outletID {
			continue
		}
		if status != "" && transfer.Status != status {
			continue
		}
		out = append(out, transfer)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) CreateProduction(_ context.Context, record domain.ProductionRecord) (*domain.ProductionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows := s.stock[record.OutletID]
	result, ok := rows[record.ResultTemplateID]
	if !ok {
		return nil, fmt.Errorf("stock %s at %s: %w", record.ResultTemplateID, record.OutletID, store.ErrNotFound)
	}

	needed := make(map[string]decimal.Decimal, len(record.Components))
	for _, c := range record.Components {
		if _, ok := rows[c.TemplateID]; !ok {
			return nil, fmt.Errorf("stock %s at %s: %w", c.TemplateID, record.OutletID, store.ErrNotFound)
		}
		needed[c.TemplateID] = needed[c.TemplateID].Add(c.Quantity)
	}
	consumedValue := decimal.Zero
	for templateID, qty := range needed {
		row := rows[templateID]
		if row.Quantity.LessThan(qty) {
			return nil, fmt.Errorf("%s at %s: %w", row.Name, record.OutletID, store.ErrInsufficientStock)
		}
		consumedValue = consumedValue.Add(row.CostPerUnit.Mul(qty))
	}

	if record.ID == "" {
		record.ID = xid.New("prd")
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	record.ResultUnitCost = consumedValue.Div(record.ResultQuantity).Round(4)

	for templateID, qty := range needed {
		row := rows[templateID]
		row.Quantity = row.Quantity.Sub(qty)
		row.UpdatedAt = record.CreatedAt
		rows[templateID] = row
	}
	// re-read: the result may also have been consumed above
	result = rows[record.ResultTemplateID]
	result.CostPerUnit = store.WeightedCost(result.CostPerUnit, result.Quantity, record.ResultUnitCost, record.ResultQuantity)
	result.Quantity = result.Quantity.Add(record.ResultQuantity)
	result.UpdatedAt = record.CreatedAt
	rows[record.ResultTemplateID] = result

	s.production = append(s.production, cloneProduction(record))
	out := cloneProduction(record)
	return &out, nil
}

func (s *Store) GetClosing(_ context.Context, outletID string, staffID string, businessDate string) (*domain.DailyClosing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	closing, ok := s.closingsByKey[closingKey(outletID, staffID, businessDate)]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &closing, nil
}

func (s *Store) ListClosings(_ context.Context, outletID string, businessDate string) ([]domain.DailyClosing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.DailyClosing, 0)
	for _, closing := range s.closingsByKey {
		if outletID != "" && closing.OutletID != outletID {
			continue
		}
		if businessDate != "" && closing.BusinessDate != businessDate {
			continue
		}
		out = append(out, closing)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *Store) CreateClosing(_ context.Context, closing domain.DailyClosing) (*domain.DailyClosing, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := closingKey(closing.OutletID, closing.StaffID, closing.BusinessDate)
	if _, exists := s.closingsByKey[key]; exists {
		return nil, store.ErrConflict
	}
	if closing.ID == "" {
		closing.ID = xid.New("cls")
	}
	if closing.CreatedAt.IsZero() {
		closing.CreatedAt = time.Now().UTC()
	}
	s.closingsByKey[key] = closing

	openKey := attendanceKey(closing.OutletID, closing.StaffID)
	if id, ok := s.openAttendance[openKey]; ok {
		attendance := s.attendanceByID[id]
		clockOut := closing.CreatedAt
		attendance.ClockOut = &clockOut
		s.attendanceByID[id] = attendance
		delete(s.openAttendance, openKey)
	}
	return &closing, nil
}

func (s *Store) CreateExpense(_ context.Context, expense domain.Expense) (*domain.Expense, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shiftClosed(expense.OutletID, expense.StaffID, expense.ShiftDate) {
		return nil, store.ErrShiftClosed
	}
	expense.ShiftDate = ""
	if expense.ID == "" {
		expense.ID = xid.New("exp")
	}
	if expense.CreatedAt.IsZero() {
		expense.CreatedAt = time.Now().UTC()
	}
	s.expenses = append(s.expenses, expense)
	return &expense, nil
}

func (s *Store) ListExpenses(_ context.Context, filter store.ExpenseFilter) ([]domain.Expense, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Expense, 0)
	for _, expense := range s.expenses {
		if filter.OutletID != "" && expense.OutletID != filter.OutletID {
			continue
		}
		if filter.StaffID != "" && expense.StaffID != filter.StaffID {
			continue
		}
		if !inRange(expense.CreatedAt, filter.From, filter.To) {
			continue
		}
		out = append(out, expense)
	}
	return out, nil
}

func (s *Store) CreatePurchase(_ context.Context, purchase domain.Purchase) (*domain.Purchase, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.stock[purchase.OutletID][purchase.TemplateID]
	if !ok {
		return nil, fmt.Errorf("stock %s at %s: %w", purchase.TemplateID, purchase.OutletID, store.ErrNotFound)
	}
	if !purchase.Quantity.IsPositive() {
		return nil, store.ErrInvalidTransaction
	}
	if purchase.ID == "" {
		purchase.ID = xid.New("pur")
	}
	if purchase.CreatedAt.IsZero() {
		purchase.CreatedAt = time.Now().UTC()
	}

	unitCost := purchase.TotalCost.Div(purchase.Quantity)
	row.CostPerUnit = store.WeightedCost(row.CostPerUnit, row.Quantity, unitCost, purchase.Quantity)
	row.Quantity = row.Quantity.Add(purchase.Quantity)
	row.UpdatedAt = purchase.CreatedAt
	s.stock[purchase.OutletID][purchase.TemplateID] = row
	s.purchases = append(s.purchases, purchase)
	return &purchase, nil
}

func (s *Store) ClockIn(_ context.Context, attendance domain.Attendance, staleBefore time.Time) (*domain.Attendance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := attendanceKey(attendance.OutletID, attendance.StaffID)
	if id, open := s.openAttendance[key]; open {
		previous := s.attendanceByID[id]
		if staleBefore.IsZero() || !previous.ClockIn.Before(staleBefore) {
			return nil, store.ErrConflict
		}
		clockOut := staleBefore
		previous.ClockOut = &clockOut
		s.attendanceByID[id] = previous
		delete(s.openAttendance, key)
	}
	if attendance.ID == "" {
		attendance.ID = xid.New("att")
	}
	if attendance.ClockIn.IsZero() {
		attendance.ClockIn = time.Now().UTC()
	}
	attendance.ClockOut = nil
	s.attendanceByID[attendance.ID] = attendance
	s.openAttendance[key] = attendance.ID
	return &attendance, nil
}

// shiftClosed must be called with s.mu held.
func (s *Store) shiftClosed(outletID, staffID, businessDate string) bool {
	if businessDate == "" {
		return false
	}
	_, exists := s.closingsByKey[closingKey(outletID, staffID, businessDate)]
	return exists
}

func (s *Store) GetOpenAttendance(_ context.Context, outletID string, staffID string) (*domain.Attendance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.openAttendance[attendanceKey(outletID, staffID)]
	if !ok {
		return nil, store.ErrNotFound
	}
	attendance := s.attendanceByID[id]
	return &attendance, nil
}

func (s *Store) CreateAuditLog(_ context.Context, entry domain.AuditLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.auditLogs = append(s.auditLogs, entry)
	return nil
}

func (s *Store) ListAuditLogs(_ context.Context, outletID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit < 1 {
		limit = 100
	}
	out := make([]domain.AuditLog, 0, limit)
	for i := len(s.auditLogs) - 1; i >= 0 && len(out) < limit; i-- {
		entry := s.auditLogs[i]
		if outletID != "" && entry.OutletID != outletID {
			continue
		}
		if !inRange(entry.CreatedAt, from, to) {
			continue
		}
		out = append(out, entry)
	}
	return out, nil
}

func closingKey(outletID, staffID, businessDate string) string {
	return outletID + "|" + staffID + "|" + businessDate
}

func attendanceKey(outletID, staffID string) string {
	return outletID + "|" + staffID
}

func inRange(at, from, to time.Time) bool {
	if !from.IsZero() && at.Before(from) {
		return false
	}
	if !to.IsZero() && !at.Before(to) {
		return false
	}
	return true
}

func cloneTransaction(src *domain.Transaction) *domain.Transaction {
	if src == nil {
		return nil
	}
	dst := *src
	dst.Lines = append([]domain.TransactionLine(nil), src.Lines...)
	dst.Deductions = append([]domain.StockDeduction(nil), src.Deductions...)
	dst.SkippedTemplates = append([]string(nil), src.SkippedTemplates...)
	if src.VoidedAt != nil {
		voidedAt := *src.VoidedAt
		dst.VoidedAt = &voidedAt
	}
	return &dst
}

func cloneItem(src domain.SellableItem) domain.SellableItem {
	dst := src
	dst.BOM = append([]domain.BOMLine(nil), src.BOM...)
	dst.Package = append([]domain.PackageLine(nil), src.Package...)
	if src.Overrides != nil {
		dst.Overrides = make(map[string]domain.OutletOverride, len(src.Overrides))
		for k, v := range src.Overrides {
			dst.Overrides[k] = v
		}
	}
	return dst
}

func cloneProduction(src domain.ProductionRecord) domain.ProductionRecord {
	dst := src
	dst.Components = append([]domain.ProductionComponent(nil), src.Components...)
	return dst
}
