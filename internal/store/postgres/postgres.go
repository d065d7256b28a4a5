package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"kasirinaja/opscore/internal/domain"
	"kasirinaja/opscore/internal/store"
	"kasirinaja/opscore/internal/xid"
)

type Store struct {
	db *sql.DB
}

// querier is satisfied by both *sql.DB and *sql.Tx so reads can run inside
// or outside a write transaction.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, err
	}

	db.SetMaxIdleConns(8)
	db.SetMaxOpenConns(30)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 6*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// DB exposes the pool for migrations and tests.
func (s *Store) DB() *sql.DB {
	return s.db
}

// inTx runs fn in one serializable transaction. fn's error rolls everything
// back; serialization failures surface to the caller, which retries.
func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) GetOutlet(ctx context.Context, id string) (*domain.Outlet, error) {
	var outlet domain.Outlet
	err := s.db.QueryRowContext(ctx, `SELECT id, name FROM outlets WHERE id = $1`, id).Scan(&outlet.ID, &outlet.Name)
	if err != nil {
		return nil, notFound(err)
	}
	return &outlet, nil
}

func (s *Store) GetStaff(ctx context.Context, id string) (*domain.Staff, error) {
	var member domain.Staff
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, role, outlet_id
		FROM staff
		WHERE id = $1
	`, id).Scan(&member.ID, &member.Name, &member.Role, &member.OutletID)
	if err != nil {
		return nil, notFound(err)
	}
	return &member, nil
}

func (s *Store) GetUserByUsername(ctx context.Context, username string) (*domain.UserAccount, error) {
	var user domain.UserAccount
	err := s.db.QueryRowContext(ctx, `
		SELECT username, password_hash, staff_id, role, outlet_id, active, created_at
		FROM user_accounts
		WHERE username = $1
	`, strings.ToLower(strings.TrimSpace(username))).Scan(
		&user.Username, &user.Password, &user.StaffID, &user.Role, &user.OutletID, &user.Active, &user.CreatedAt,
	)
	if err != nil {
		return nil, notFound(err)
	}
	user.CreatedAt = user.CreatedAt.UTC()
	return &user, nil
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	username := strings.ToLower(strings.TrimSpace(user.Username))
	if username == "" {
		return store.ErrInvalidTransaction
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO user_accounts (username, password_hash, staff_id, role, outlet_id, active, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
	`, username, user.Password, user.StaffID, user.Role, user.OutletID, user.Active, user.CreatedAt)
	if isUniqueViolation(err) {
		return store.ErrConflict
	}
	return err
}

func (s *Store) GetSellableItem(ctx context.Context, id string) (*domain.SellableItem, error) {
	items, err := s.loadItems(ctx, s.db, []string{id})
	if err != nil {
		return nil, err
	}
	item, ok := items[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &item, nil
}

func (s *Store) GetSellableItems(ctx context.Context, ids []string) (map[string]domain.SellableItem, error) {
	return s.loadItems(ctx, s.db, ids)
}

func (s *Store) loadItems(ctx context.Context, q querier, ids []string) (map[string]domain.SellableItem, error) {
	result := make(map[string]domain.SellableItem, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	rows, err := q.QueryContext(ctx, `
		SELECT id, name, category, price, available, overrides
		FROM sellable_items
		WHERE id = ANY($1)
	`, ids)
	if err != nil {
		return nil, err
	}
	for rows.Next() {
		var item domain.SellableItem
		var overrides []byte
		if err := rows.Scan(&item.ID, &item.Name, &item.Category, &item.Price, &item.Available, &overrides); err != nil {
			_ = rows.Close()
			return nil, err
		}
		if len(overrides) > 0 {
			if err := json.Unmarshal(overrides, &item.Overrides); err != nil {
				_ = rows.Close()
				return nil, fmt.Errorf("decode overrides for %s: %w", item.ID, err)
			}
			if len(item.Overrides) == 0 {
				item.Overrides = nil
			}
		}
		result[item.ID] = item
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()
	if len(result) == 0 {
		return result, nil
	}

	bomRows, err := q.QueryContext(ctx, `
		SELECT item_id, template_id, quantity
		FROM item_bom_lines
		WHERE item_id = ANY($1)
		ORDER BY item_id, position
	`, ids)
	if err != nil {
		return nil, err
	}
	for bomRows.Next() {
		var itemID string
		var line domain.BOMLine
		if err := bomRows.Scan(&itemID, &line.TemplateID, &line.Quantity); err != nil {
			_ = bomRows.Close()
			return nil, err
		}
		item := result[itemID]
		item.BOM = append(item.BOM, line)
		result[itemID] = item
	}
	if err := bomRows.Err(); err != nil {
		_ = bomRows.Close()
		return nil, err
	}
	_ = bomRows.Close()

	pkgRows, err := q.QueryContext(ctx, `
		SELECT item_id, component_item_id, quantity
		FROM item_package_lines
		WHERE item_id = ANY($1)
		ORDER BY item_id, position
	`, ids)
	if err != nil {
		return nil, err
	}
	defer pkgRows.Close()
	for pkgRows.Next() {
		var itemID string
		var line domain.PackageLine
		if err := pkgRows.Scan(&itemID, &line.ItemID, &line.Quantity); err != nil {
			return nil, err
		}
		item := result[itemID]
		item.Package = append(item.Package, line)
		result[itemID] = item
	}
	if err := pkgRows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (s *Store) UpdateItemPackage(ctx context.Context, itemID string, lines []domain.PackageLine) (*domain.SellableItem, error) {
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		var locked string
		err := tx.QueryRowContext(ctx, `SELECT id FROM sellable_items WHERE id = $1 FOR UPDATE`, itemID).Scan(&locked)
		if err != nil {
			return notFound(err)
		}
		var bomCount int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM item_bom_lines WHERE item_id = $1`, itemID).Scan(&bomCount); err != nil {
			return err
		}
		if len(lines) > 0 && bomCount > 0 {
			return store.ErrInvalidTransaction
		}

		if _, err := tx.ExecContext(ctx, `DELETE FROM item_package_lines WHERE item_id = $1`, itemID); err != nil {
			return err
		}
		for i, line := range lines {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO item_package_lines (item_id, position, component_item_id, quantity)
				VALUES ($1,$2,$3,$4)
			`, itemID, i, line.ItemID, line.Quantity); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.GetSellableItem(ctx, itemID)
}

func (s *Store) GetStockTemplate(ctx context.Context, id string) (*domain.StockTemplate, error) {
	var tpl domain.StockTemplate
	var kind string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, unit, kind, cost_per_unit
		FROM stock_templates
		WHERE id = $1
	`, id).Scan(&tpl.ID, &tpl.Name, &tpl.Unit, &kind, &tpl.CostPerUnit)
	if err != nil {
		return nil, notFound(err)
	}
	tpl.Kind = domain.StockKind(kind)
	return &tpl, nil
}

const stockSelect = `
	SELECT si.id, si.outlet_id, si.template_id, t.name, t.unit, t.kind,
		si.quantity, si.min_stock, si.cost_per_unit, si.updated_at
	FROM stock_items si
	JOIN stock_templates t ON t.id = si.template_id
`

func scanStockRows(rows *sql.Rows) ([]domain.StockItem, error) {
	defer rows.Close()
	out := make([]domain.StockItem, 0, 16)
	for rows.Next() {
		var row domain.StockItem
		var kind string
		if err := rows.Scan(
			&row.ID, &row.OutletID, &row.TemplateID, &row.Name, &row.Unit, &kind,
			&row.Quantity, &row.MinStock, &row.CostPerUnit, &row.UpdatedAt,
		); err != nil {
			return nil, err
		}
		row.Kind = domain.StockKind(kind)
		row.UpdatedAt = row.UpdatedAt.UTC()
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) GetStockItem(ctx context.Context, outletID string, templateID string) (*domain.StockItem, error) {
	rows, err := s.db.QueryContext(ctx, stockSelect+`WHERE si.outlet_id = $1 AND si.template_id = $2`, outletID, templateID)
	if err != nil {
		return nil, err
	}
	items, err := scanStockRows(rows)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, store.ErrNotFound
	}
	return &items[0], nil
}

func (s *Store) GetStockItems(ctx context.Context, outletID string, templateIDs []string) (map[string]domain.StockItem, error) {
	result := make(map[string]domain.StockItem, len(templateIDs))
	if len(templateIDs) == 0 {
		return result, nil
	}
	rows, err := s.db.QueryContext(ctx, stockSelect+`WHERE si.outlet_id = $1 AND si.template_id = ANY($2)`, outletID, templateIDs)
	if err != nil {
		return nil, err
	}
	items, err := scanStockRows(rows)
	if err != nil {
		return nil, err
	}
	for _, item := range items {
		result[item.TemplateID] = item
	}
	return result, nil
}

func (s *Store) ListStockItems(ctx context.Context, filter store.StockFilter) ([]domain.StockItem, error) {
	rows, err := s.db.QueryContext(ctx, stockSelect+`
		WHERE ($1 = '' OR si.outlet_id = $1)
			AND ($2 = '' OR si.template_id = $2)
			AND ($3 = '' OR LOWER(t.name) = LOWER($3))
		ORDER BY si.outlet_id, t.name
	`, filter.OutletID, filter.TemplateID, filter.Name)
	if err != nil {
		return nil, err
	}
	return scanStockRows(rows)
}

// lockStockRows selects the outlet rows for templateIDs with FOR UPDATE,
// in template order so concurrent writers lock in the same sequence.
func lockStockRows(ctx context.Context, tx *sql.Tx, outletID string, templateIDs []string) (map[string]domain.StockItem, error) {
	ids := uniqueSorted(templateIDs)
	rows, err := tx.QueryContext(ctx, stockSelect+`
		WHERE si.outlet_id = $1 AND si.template_id = ANY($2)
		ORDER BY si.template_id
		FOR UPDATE OF si
	`, outletID, ids)
	if err != nil {
		return nil, err
	}
	items, err := scanStockRows(rows)
	if err != nil {
		return nil, err
	}
	out := make(map[string]domain.StockItem, len(items))
	for _, item := range items {
		out[item.TemplateID] = item
	}
	return out, nil
}

func writeStockRow(ctx context.Context, tx *sql.Tx, row domain.StockItem) error {
	_, err := tx.ExecContext(ctx, `
		UPDATE stock_items
		SET quantity = $1, cost_per_unit = $2, updated_at = $3
		WHERE id = $4
	`, row.Quantity, row.CostPerUnit, row.UpdatedAt, row.ID)
	return err
}

func (s *Store) AdjustStock(ctx context.Context, outletID string, templateID string, delta decimal.Decimal, allowNegative bool) (*domain.StockItem, error) {
	var out domain.StockItem
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		rows, err := lockStockRows(ctx, tx, outletID, []string{templateID})
		if err != nil {
			return err
		}
		row, ok := rows[templateID]
		if !ok {
			return fmt.Errorf("stock %s at %s: %w", templateID, outletID, store.ErrNotFound)
		}
		next := row.Quantity.Add(delta)
		if !allowNegative && delta.IsNegative() && next.IsNegative() {
			return fmt.Errorf("%s at %s: %w", row.Name, outletID, store.ErrInsufficientStock)
		}
		row.Quantity = next
		row.UpdatedAt = time.Now().UTC()
		if err := writeStockRow(ctx, tx, row); err != nil {
			return err
		}
		out = row
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *Store) GetPricingRules(ctx context.Context) (domain.PricingRules, error) {
	rules := domain.PricingRules{
		Tiers:     make([]domain.MembershipTier, 0, 4),
		BulkRules: make([]domain.BulkDiscountRule, 0, 4),
	}

	tierRows, err := s.db.QueryContext(ctx, `
		SELECT id, name, min_points, discount_percent
		FROM membership_tiers
		ORDER BY min_points ASC
	`)
	if err != nil {
		return rules, err
	}
	for tierRows.Next() {
		var tier domain.MembershipTier
		if err := tierRows.Scan(&tier.ID, &tier.Name, &tier.MinPoints, &tier.DiscountPercent); err != nil {
			_ = tierRows.Close()
			return rules, err
		}
		rules.Tiers = append(rules.Tiers, tier)
	}
	if err := tierRows.Err(); err != nil {
		_ = tierRows.Close()
		return rules, err
	}
	_ = tierRows.Close()

	bulkRows, err := s.db.QueryContext(ctx, `
		SELECT id, name, min_qty, discount_percent, active, item_ids
		FROM bulk_discount_rules
		ORDER BY min_qty ASC, id ASC
	`)
	if err != nil {
		return rules, err
	}
	for bulkRows.Next() {
		var rule domain.BulkDiscountRule
		var itemIDs []byte
		if err := bulkRows.Scan(&rule.ID, &rule.Name, &rule.MinQty, &rule.DiscountPercent, &rule.Active, &itemIDs); err != nil {
			_ = bulkRows.Close()
			return rules, err
		}
		if len(itemIDs) > 0 {
			if err := json.Unmarshal(itemIDs, &rule.ItemIDs); err != nil {
				_ = bulkRows.Close()
				return rules, fmt.Errorf("decode bulk rule %s: %w", rule.ID, err)
			}
		}
		rules.BulkRules = append(rules.BulkRules, rule)
	}
	if err := bulkRows.Err(); err != nil {
		_ = bulkRows.Close()
		return rules, err
	}
	_ = bulkRows.Close()

	err = s.db.QueryRowContext(ctx, `
		SELECT enabled, earning_amount_per_point, redemption_value_per_point
		FROM loyalty_config
		WHERE id = 1
	`).Scan(&rules.Loyalty.Enabled, &rules.Loyalty.EarningAmountPerPoint, &rules.Loyalty.RedemptionValuePerPoint)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return rules, err
	}
	return rules, nil
}

func (s *Store) GetCustomer(ctx context.Context, id string) (*domain.Customer, error) {
	var customer domain.Customer
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, points, tier_id
		FROM customers
		WHERE id = $1
	`, id).Scan(&customer.ID, &customer.Name, &customer.Points, &customer.TierID)
	if err != nil {
		return nil, notFound(err)
	}
	return &customer, nil
}

func (s *Store) FindTransactionByIdempotency(ctx context.Context, key string) (*domain.Transaction, error) {
	return findTransaction(ctx, s.db, "idempotency_key", key)
}

func (s *Store) FindTransactionByID(ctx context.Context, id string) (*domain.Transaction, error) {
	return findTransaction(ctx, s.db, "id", id)
}

const transactionSelect = `
	SELECT id, outlet_id, COALESCE(customer_id,''), staff_id, COALESCE(idempotency_key,''),
		subtotal, tier_discount, bulk_discount, point_discount, total, total_cost,
		payment_method, points_earned, points_redeemed, status, skipped_templates,
		COALESCE(void_reason,''), voided_at, created_at
	FROM transactions
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (domain.Transaction, error) {
	var tx domain.Transaction
	var skipped []byte
	var voidedAt sql.NullTime
	err := row.Scan(
		&tx.ID, &tx.OutletID, &tx.CustomerID, &tx.StaffID, &tx.IdempotencyKey,
		&tx.Subtotal, &tx.TierDiscount, &tx.BulkDiscount, &tx.PointDiscount, &tx.Total, &tx.TotalCost,
		&tx.PaymentMethod, &tx.PointsEarned, &tx.PointsRedeemed, &tx.Status, &skipped,
		&tx.VoidReason, &voidedAt, &tx.CreatedAt,
	)
	if err != nil {
		return tx, err
	}
	if len(skipped) > 0 {
		if err := json.Unmarshal(skipped, &tx.SkippedTemplates); err != nil {
			return tx, fmt.Errorf("decode skipped templates for %s: %w", tx.ID, err)
		}
		if len(tx.SkippedTemplates) == 0 {
			tx.SkippedTemplates = nil
		}
	}
	if voidedAt.Valid {
		at := voidedAt.Time.UTC()
		tx.VoidedAt = &at
	}
	tx.CreatedAt = tx.CreatedAt.UTC()
	return tx, nil
}

func findTransaction(ctx context.Context, q querier, column string, value string) (*domain.Transaction, error) {
	if column != "id" && column != "idempotency_key" {
		return nil, fmt.Errorf("unsupported lookup column")
	}

	tx, err := scanTransaction(q.QueryRowContext(ctx, transactionSelect+fmt.Sprintf(`WHERE %s = $1`, column), value))
	if err != nil {
		return nil, notFound(err)
	}
	txs := []domain.Transaction{tx}
	if err := loadTransactionDetails(ctx, q, txs); err != nil {
		return nil, err
	}
	return &txs[0], nil
}

// loadTransactionDetails fills lines and deductions for every transaction
// in two queries.
func loadTransactionDetails(ctx context.Context, q querier, txs []domain.Transaction) error {
	if len(txs) == 0 {
		return nil
	}
	index := make(map[string]int, len(txs))
	ids := make([]string, 0, len(txs))
	for i := range txs {
		index[txs[i].ID] = i
		ids = append(ids, txs[i].ID)
		txs[i].Lines = make([]domain.TransactionLine, 0, 4)
		txs[i].Deductions = make([]domain.StockDeduction, 0, 4)
	}

	lineRows, err := q.QueryContext(ctx, `
		SELECT transaction_id, item_id, name, qty, unit_price, unit_cost, line_total
		FROM transaction_lines
		WHERE transaction_id = ANY($1)
		ORDER BY id ASC
	`, ids)
	if err != nil {
		return err
	}
	for lineRows.Next() {
		var txID string
		var line domain.TransactionLine
		if err := lineRows.Scan(&txID, &line.ItemID, &line.Name, &line.Qty, &line.UnitPrice, &line.UnitCost, &line.LineTotal); err != nil {
			_ = lineRows.Close()
			return err
		}
		i := index[txID]
		txs[i].Lines = append(txs[i].Lines, line)
	}
	if err := lineRows.Err(); err != nil {
		_ = lineRows.Close()
		return err
	}
	_ = lineRows.Close()

	deductionRows, err := q.QueryContext(ctx, `
		SELECT transaction_id, template_id, stock_item_id, quantity
		FROM transaction_deductions
		WHERE transaction_id = ANY($1)
		ORDER BY id ASC
	`, ids)
	if err != nil {
		return err
	}
	defer deductionRows.Close()
	for deductionRows.Next() {
		var txID string
		var d domain.StockDeduction
		if err := deductionRows.Scan(&txID, &d.TemplateID, &d.StockItemID, &d.Quantity); err != nil {
			return err
		}
		i := index[txID]
		txs[i].Deductions = append(txs[i].Deductions, d)
	}
	return deductionRows.Err()
}

func (s *Store) ListTransactions(ctx context.Context, filter store.TransactionFilter) ([]domain.Transaction, error) {
	rows, err := s.db.QueryContext(ctx, transactionSelect+`
		WHERE ($1 = '' OR outlet_id = $1)
			AND ($2 = '' OR staff_id = $2)
			AND ($3 = '' OR status = $3)
			AND ($4::timestamptz IS NULL OR created_at >= $4)
			AND ($5::timestamptz IS NULL OR created_at < $5)
		ORDER BY created_at ASC
	`, filter.OutletID, filter.StaffID, filter.Status, nullIfZero(filter.From), nullIfZero(filter.To))
	if err != nil {
		return nil, err
	}

	txs := make([]domain.Transaction, 0, 32)
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			_ = rows.Close()
			return nil, err
		}
		txs = append(txs, tx)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	if err := loadTransactionDetails(ctx, s.db, txs); err != nil {
		return nil, err
	}
	return txs, nil
}

func (s *Store) CreateCheckout(ctx context.Context, tx domain.Transaction, allowNegative bool) (*domain.Transaction, error) {
	if len(tx.Lines) == 0 || tx.OutletID == "" {
		return nil, store.ErrInvalidTransaction
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

	var existing *domain.Transaction
	err := s.inTx(ctx, func(pgTx *sql.Tx) error {
		if tx.IdempotencyKey != "" {
			found, err := findTransaction(ctx, pgTx, "idempotency_key", tx.IdempotencyKey)
			if err == nil {
				existing = found
				return nil
			}
			if !errors.Is(err, store.ErrNotFound) {
				return err
			}
		}

		if err := ensureShiftOpen(ctx, pgTx, tx.OutletID, tx.StaffID, tx.ShiftDate); err != nil {
			return err
		}

		needed := make(map[string]decimal.Decimal, len(tx.Deductions))
		templateIDs := make([]string, 0, len(tx.Deductions))
		for _, d := range tx.Deductions {
			if _, seen := needed[d.TemplateID]; !seen {
				templateIDs = append(templateIDs, d.TemplateID)
			}
			needed[d.TemplateID] = needed[d.TemplateID].Add(d.Quantity)
		}
		rows, err := lockStockRows(ctx, pgTx, tx.OutletID, templateIDs)
		if err != nil {
			return err
		}
		for _, d := range tx.Deductions {
			row, ok := rows[d.TemplateID]
			if !ok || row.ID != d.StockItemID {
				return fmt.Errorf("stock %s at %s: %w", d.TemplateID, tx.OutletID, store.ErrNotFound)
			}
		}
		if !allowNegative {
			for templateID, qty := range needed {
				row := rows[templateID]
				if row.Quantity.LessThan(qty) {
					return fmt.Errorf("%s at %s: %w", row.Name, tx.OutletID, store.ErrInsufficientStock)
				}
			}
		}

		if tx.CustomerID != "" {
			var points int64
			err := pgTx.QueryRowContext(ctx, `SELECT points FROM customers WHERE id = $1 FOR UPDATE`, tx.CustomerID).Scan(&points)
			if err != nil {
				if errors.Is(err, sql.ErrNoRows) {
					return fmt.Errorf("customer %s: %w", tx.CustomerID, store.ErrNotFound)
				}
				return err
			}
			if points+tx.PointsDelta() < 0 {
				return store.ErrInvalidTransaction
			}
			if _, err := pgTx.ExecContext(ctx, `UPDATE customers SET points = points + $1 WHERE id = $2`, tx.PointsDelta(), tx.CustomerID); err != nil {
				return err
			}
		}

		now := time.Now().UTC()
		for _, templateID := range uniqueSorted(templateIDs) {
			row := rows[templateID]
			row.Quantity = row.Quantity.Sub(needed[templateID])
			row.UpdatedAt = now
			if err := writeStockRow(ctx, pgTx, row); err != nil {
				return err
			}
		}

		return insertTransaction(ctx, pgTx, tx)
	})
	if err != nil {
		if isUniqueViolation(err) && tx.IdempotencyKey != "" {
			return s.FindTransactionByIdempotency(ctx, tx.IdempotencyKey)
		}
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}
	return s.FindTransactionByID(ctx, tx.ID)
}

func insertTransaction(ctx context.Context, pgTx *sql.Tx, tx domain.Transaction) error {
	skipped, err := json.Marshal(nonNilStrings(tx.SkippedTemplates))
	if err != nil {
		return err
	}

	_, err = pgTx.ExecContext(ctx, `
		INSERT INTO transactions (
			id, outlet_id, customer_id, staff_id, idempotency_key,
			subtotal, tier_discount, bulk_discount, point_discount, total, total_cost,
			payment_method, points_earned, points_redeemed, status, skipped_templates, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
	`,
		tx.ID, tx.OutletID, nullIfEmpty(tx.CustomerID), tx.StaffID, nullIfEmpty(tx.IdempotencyKey),
		tx.Subtotal, tx.TierDiscount, tx.BulkDiscount, tx.PointDiscount, tx.Total, tx.TotalCost,
		tx.PaymentMethod, tx.PointsEarned, tx.PointsRedeemed, tx.Status, string(skipped), tx.CreatedAt,
	)
	if err != nil {
		return err
	}

	for _, line := range tx.Lines {
		if _, err := pgTx.ExecContext(ctx, `
			INSERT INTO transaction_lines (transaction_id, item_id, name, qty, unit_price, unit_cost, line_total)
			VALUES ($1,$2,$3,$4,$5,$6,$7)
		`, tx.ID, line.ItemID, line.Name, line.Qty, line.UnitPrice, line.UnitCost, line.LineTotal); err != nil {
			return err
		}
	}
	for _, d := range tx.Deductions {
		if _, err := pgTx.ExecContext(ctx, `
			INSERT INTO transaction_deductions (transaction_id, template_id, stock_item_id, quantity)
			VALUES ($1,$2,$3,$4)
		`, tx.ID, d.TemplateID, d.StockItemID, d.Quantity); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) VoidTransaction(ctx context.Context, id string, reason string, at time.Time) (*domain.Transaction, error) {
	err := s.inTx(ctx, func(pgTx *sql.Tx) error {
		var status, outletID, customerID string
		var earned, redeemed int64
		err := pgTx.QueryRowContext(ctx, `
			SELECT status, outlet_id, COALESCE(customer_id,''), points_earned, points_redeemed
			FROM transactions
			WHERE id = $1
			FOR UPDATE
		`, id).Scan(&status, &outletID, &customerID, &earned, &redeemed)
		if err != nil {
			return notFound(err)
		}
		if status != domain.TxStatusClosed {
			return store.ErrInvalidState
		}

		deductionRows, err := pgTx.QueryContext(ctx, `
			SELECT template_id, quantity
			FROM transaction_deductions
			WHERE transaction_id = $1
		`, id)
		if err != nil {
			return err
		}
		restock := make(map[string]decimal.Decimal, 4)
		templateIDs := make([]string, 0, 4)
		for deductionRows.Next() {
			var templateID string
			var qty decimal.Decimal
			if err := deductionRows.Scan(&templateID, &qty); err != nil {
				_ = deductionRows.Close()
				return err
			}
			if _, seen := restock[templateID]; !seen {
				templateIDs = append(templateIDs, templateID)
			}
			restock[templateID] = restock[templateID].Add(qty)
		}
		if err := deductionRows.Err(); err != nil {
			_ = deductionRows.Close()
			return err
		}
		_ = deductionRows.Close()

		rows, err := lockStockRows(ctx, pgTx, outletID, templateIDs)
		if err != nil {
			return err
		}
		for _, templateID := range uniqueSorted(templateIDs) {
			row, ok := rows[templateID]
			if !ok {
				return fmt.Errorf("stock %s at %s: %w", templateID, outletID, store.ErrNotFound)
			}
			row.Quantity = row.Quantity.Add(restock[templateID])
			row.UpdatedAt = at
			if err := writeStockRow(ctx, pgTx, row); err != nil {
				return err
			}
		}

		if customerID != "" {
			if _, err := pgTx.ExecContext(ctx, `
				UPDATE customers
				SET points = GREATEST(points - $1, 0)
				WHERE id = $2
			`, earned-redeemed, customerID); err != nil {
				return err
			}
		}

		_, err = pgTx.ExecContext(ctx, `
			UPDATE transactions
			SET status = $1, void_reason = $2, voided_at = $3
			WHERE id = $4
		`, domain.TxStatusVoided, reason, at, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return s.FindTransactionByID(ctx, id)
}

const transferSelect = `
	SELECT id, from_outlet_id, to_outlet_id, template_id, stock_name, quantity, unit, status,
		requested_by, COALESCE(resolved_by,''), COALESCE(notes,''), created_at, resolved_at
	FROM stock_transfers
`

func scanTransfer(row rowScanner) (domain.StockTransfer, error) {
	var t domain.StockTransfer
	var resolvedAt sql.NullTime
	err := row.Scan(
		&t.ID, &t.FromOutletID, &t.ToOutletID, &t.TemplateID, &t.StockName, &t.Quantity, &t.Unit, &t.Status,
		&t.RequestedBy, &t.ResolvedBy, &t.Notes, &t.CreatedAt, &resolvedAt,
	)
	if err != nil {
		return t, err
	}
	t.CreatedAt = t.CreatedAt.UTC()
	if resolvedAt.Valid {
		at := resolvedAt.Time.UTC()
		t.ResolvedAt = &at
	}
	return t, nil
}

func (s *Store) CreateTransfer(ctx context.Context, transfer domain.StockTransfer) (*domain.StockTransfer, error) {
	if transfer.ID == "" {
		transfer.ID = xid.New("trf")
	}
	if transfer.CreatedAt.IsZero() {
		transfer.CreatedAt = time.Now().UTC()
	}
	transfer.Status = domain.TransferPending
	transfer.ResolvedAt = nil

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		rows, err := lockStockRows(ctx, tx, transfer.FromOutletID, []string{transfer.TemplateID})
		if err != nil {
			return err
		}
		source, ok := rows[transfer.TemplateID]
		if !ok {
			return fmt.Errorf("stock %s at %s: %w", transfer.TemplateID, transfer.FromOutletID, store.ErrNotFound)
		}
		if source.Quantity.LessThan(transfer.Quantity) {
			return fmt.Errorf("%s at %s: %w", source.Name, transfer.FromOutletID, store.ErrInsufficientStock)
		}
		transfer.StockName = source.Name
		transfer.Unit = source.Unit

		source.Quantity = source.Quantity.Sub(transfer.Quantity)
		source.UpdatedAt = transfer.CreatedAt
		if err := writeStockRow(ctx, tx, source); err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO stock_transfers (
				id, from_outlet_id, to_outlet_id, template_id, stock_name, quantity, unit,
				status, requested_by, notes, created_at
			)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		`, transfer.ID, transfer.FromOutletID, transfer.ToOutletID, transfer.TemplateID, transfer.StockName,
			transfer.Quantity, transfer.Unit, transfer.Status, transfer.RequestedBy, nullIfEmpty(transfer.Notes), transfer.CreatedAt)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &transfer, nil
}

func (s *Store) ResolveTransfer(ctx context.Context, id string, status string, resolvedBy string, notes string, at time.Time) (*domain.StockTransfer, error) {
	var out domain.StockTransfer
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		transfer, err := scanTransfer(tx.QueryRowContext(ctx, transferSelect+`WHERE id = $1 FOR UPDATE`, id))
		if err != nil {
			return notFound(err)
		}
		if transfer.Status != domain.TransferPending {
			return store.ErrInvalidState
		}

		var outletID string
		switch status {
		case domain.TransferAccepted:
			outletID = transfer.ToOutletID
		case domain.TransferRejected:
			outletID = transfer.FromOutletID
		default:
			return store.ErrInvalidTransaction
		}
		rows, err := lockStockRows(ctx, tx, outletID, []string{transfer.TemplateID})
		if err != nil {
			return err
		}
		row, ok := rows[transfer.TemplateID]
		if !ok {
			return fmt.Errorf("stock %s at %s: %w", transfer.StockName, outletID, store.ErrNotFound)
		}
		row.Quantity = row.Quantity.Add(transfer.Quantity)
		row.UpdatedAt = at
		if err := writeStockRow(ctx, tx, row); err != nil {
			return err
		}

		resolvedAt := at.UTC()
		transfer.Status = status
		transfer.ResolvedBy = resolvedBy
		transfer.ResolvedAt = &resolvedAt
		if notes != "" {
			transfer.Notes = notes
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE stock_transfers
			SET status = $1, resolved_by = $2, resolved_at = $3, notes = $4
			WHERE id = $5
		`, transfer.Status, transfer.ResolvedBy, resolvedAt, nullIfEmpty(transfer.Notes), id)
		if err != nil {
			return err
		}
		out = transfer
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *Store) GetTransfer(ctx context.Context, id string) (*domain.StockTransfer, error) {
	transfer, err := scanTransfer(s.db.QueryRowContext(ctx, transferSelect+`WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err)
	}
	return &transfer, nil
}

func (s *Store) ListTransfers(ctx context.Context, outletID string, status string) ([]domain.StockTransfer, error) {
	rows, err := s.db.QueryContext(ctx, transferSelect+`
		WHERE ($1 = '' OR from_outlet_id = $1 OR to_outlet_id = $1)
			AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC
	`, outletID, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.StockTransfer, 0, 16)
	for rows.Next() {
		transfer, err := scanTransfer(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, transfer)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) CreateProduction(ctx context.Context, record domain.ProductionRecord) (*domain.ProductionRecord, error) {
	if record.ID == "" {
		record.ID = xid.New("prd")
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	if !record.ResultQuantity.IsPositive() {
		return nil, store.ErrInvalidTransaction
	}

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		needed := make(map[string]decimal.Decimal, len(record.Components))
		templateIDs := []string{record.ResultTemplateID}
		for _, c := range record.Components {
			if _, seen := needed[c.TemplateID]; !seen {
				templateIDs = append(templateIDs, c.TemplateID)
			}
			needed[c.TemplateID] = needed[c.TemplateID].Add(c.Quantity)
		}

		rows, err := lockStockRows(ctx, tx, record.OutletID, templateIDs)
		if err != nil {
			return err
		}
		if _, ok := rows[record.ResultTemplateID]; !ok {
			return fmt.Errorf("stock %s at %s: %w", record.ResultTemplateID, record.OutletID, store.ErrNotFound)
		}
		consumedValue := decimal.Zero
		for templateID, qty := range needed {
			row, ok := rows[templateID]
			if !ok {
				return fmt.Errorf("stock %s at %s: %w", templateID, record.OutletID, store.ErrNotFound)
			}
			if row.Quantity.LessThan(qty) {
				return fmt.Errorf("%s at %s: %w", row.Name, record.OutletID, store.ErrInsufficientStock)
			}
			consumedValue = consumedValue.Add(row.CostPerUnit.Mul(qty))
		}
		record.ResultUnitCost = consumedValue.Div(record.ResultQuantity).Round(4)

		for templateID, qty := range needed {
			row := rows[templateID]
			row.Quantity = row.Quantity.Sub(qty)
			row.UpdatedAt = record.CreatedAt
			rows[templateID] = row
		}
		result := rows[record.ResultTemplateID]
		result.CostPerUnit = store.WeightedCost(result.CostPerUnit, result.Quantity, record.ResultUnitCost, record.ResultQuantity)
		result.Quantity = result.Quantity.Add(record.ResultQuantity)
		result.UpdatedAt = record.CreatedAt
		rows[record.ResultTemplateID] = result

		for _, templateID := range uniqueSorted(templateIDs) {
			if err := writeStockRow(ctx, tx, rows[templateID]); err != nil {
				return err
			}
		}

		components, err := json.Marshal(record.Components)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO production_records (
				id, outlet_id, result_template_id, result_quantity, result_unit_cost,
				components, actor_id, notes, created_at
			)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		`, record.ID, record.OutletID, record.ResultTemplateID, record.ResultQuantity, record.ResultUnitCost,
			string(components), record.ActorID, nullIfEmpty(record.Notes), record.CreatedAt)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &record, nil
}

const closingSelect = `
	SELECT id, outlet_id, staff_id, business_date::text, opening_balance,
		total_sales_cash, total_sales_qris, total_sales_other, total_expenses,
		actual_cash_counted, expected_cash, discrepancy, transaction_count,
		status, COALESCE(notes,''), created_at
	FROM daily_closings
`

func scanClosing(row rowScanner) (domain.DailyClosing, error) {
	var c domain.DailyClosing
	err := row.Scan(
		&c.ID, &c.OutletID, &c.StaffID, &c.BusinessDate, &c.OpeningBalance,
		&c.TotalSalesCash, &c.TotalSalesQRIS, &c.TotalSalesOther, &c.TotalExpenses,
		&c.ActualCashCounted, &c.ExpectedCash, &c.Discrepancy, &c.TransactionCount,
		&c.Status, &c.Notes, &c.CreatedAt,
	)
	c.CreatedAt = c.CreatedAt.UTC()
	return c, err
}

func (s *Store) GetClosing(ctx context.Context, outletID string, staffID string, businessDate string) (*domain.DailyClosing, error) {
	closing, err := scanClosing(s.db.QueryRowContext(ctx, closingSelect+`
		WHERE outlet_id = $1 AND staff_id = $2 AND business_date = $3::date
	`, outletID, staffID, businessDate))
	if err != nil {
		return nil, notFound(err)
	}
	return &closing, nil
}

func (s *Store) ListClosings(ctx context.Context, outletID string, businessDate string) ([]domain.DailyClosing, error) {
	rows, err := s.db.QueryContext(ctx, closingSelect+`
		WHERE ($1 = '' OR outlet_id = $1)
			AND ($2 = '' OR business_date = NULLIF($2, '')::date)
		ORDER BY created_at ASC
	`, outletID, businessDate)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.DailyClosing, 0, 8)
	for rows.Next() {
		closing, err := scanClosing(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, closing)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) CreateClosing(ctx context.Context, closing domain.DailyClosing) (*domain.DailyClosing, error) {
	if closing.ID == "" {
		closing.ID = xid.New("cls")
	}
	if closing.CreatedAt.IsZero() {
		closing.CreatedAt = time.Now().UTC()
	}

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO daily_closings (
				id, outlet_id, staff_id, business_date, opening_balance,
				total_sales_cash, total_sales_qris, total_sales_other, total_expenses,
				actual_cash_counted, expected_cash, discrepancy, transaction_count,
				status, notes, created_at
			)
			VALUES ($1,$2,$3,$4::date,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
		`, closing.ID, closing.OutletID, closing.StaffID, closing.BusinessDate, closing.OpeningBalance,
			closing.TotalSalesCash, closing.TotalSalesQRIS, closing.TotalSalesOther, closing.TotalExpenses,
			closing.ActualCashCounted, closing.ExpectedCash, closing.Discrepancy, closing.TransactionCount,
			closing.Status, nullIfEmpty(closing.Notes), closing.CreatedAt)
		if err != nil {
			if isUniqueViolation(err) {
				return store.ErrConflict
			}
			return err
		}

		_, err = tx.ExecContext(ctx, `
			UPDATE attendances
			SET clock_out = $1
			WHERE outlet_id = $2 AND staff_id = $3 AND clock_out IS NULL
		`, closing.CreatedAt, closing.OutletID, closing.StaffID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &closing, nil
}

func (s *Store) CreateExpense(ctx context.Context, expense domain.Expense) (*domain.Expense, error) {
	if expense.ID == "" {
		expense.ID = xid.New("exp")
	}
	if expense.CreatedAt.IsZero() {
		expense.CreatedAt = time.Now().UTC()
	}

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if err := ensureShiftOpen(ctx, tx, expense.OutletID, expense.StaffID, expense.ShiftDate); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO expenses (id, outlet_id, staff_id, amount, category, description, created_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7)
		`, expense.ID, expense.OutletID, expense.StaffID, expense.Amount, expense.Category, nullIfEmpty(expense.Description), expense.CreatedAt)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &expense, nil
}

func (s *Store) ListExpenses(ctx context.Context, filter store.ExpenseFilter) ([]domain.Expense, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, outlet_id, staff_id, amount, category, COALESCE(description,''), created_at
		FROM expenses
		WHERE ($1 = '' OR outlet_id = $1)
			AND ($2 = '' OR staff_id = $2)
			AND ($3::timestamptz IS NULL OR created_at >= $3)
			AND ($4::timestamptz IS NULL OR created_at < $4)
		ORDER BY created_at ASC
	`, filter.OutletID, filter.StaffID, nullIfZero(filter.From), nullIfZero(filter.To))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.Expense, 0, 16)
	for rows.Next() {
		var e domain.Expense
		if err := rows.Scan(&e.ID, &e.OutletID, &e.StaffID, &e.Amount, &e.Category, &e.Description, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.CreatedAt = e.CreatedAt.UTC()
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) CreatePurchase(ctx context.Context, purchase domain.Purchase) (*domain.Purchase, error) {
	if !purchase.Quantity.IsPositive() {
		return nil, store.ErrInvalidTransaction
	}
	if purchase.ID == "" {
		purchase.ID = xid.New("pur")
	}
	if purchase.CreatedAt.IsZero() {
		purchase.CreatedAt = time.Now().UTC()
	}

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		rows, err := lockStockRows(ctx, tx, purchase.OutletID, []string{purchase.TemplateID})
		if err != nil {
			return err
		}
		row, ok := rows[purchase.TemplateID]
		if !ok {
			return fmt.Errorf("stock %s at %s: %w", purchase.TemplateID, purchase.OutletID, store.ErrNotFound)
		}

		unitCost := purchase.TotalCost.Div(purchase.Quantity)
		row.CostPerUnit = store.WeightedCost(row.CostPerUnit, row.Quantity, unitCost, purchase.Quantity)
		row.Quantity = row.Quantity.Add(purchase.Quantity)
		row.UpdatedAt = purchase.CreatedAt
		if err := writeStockRow(ctx, tx, row); err != nil {
			return err
		}

		_, err = tx.ExecContext(ctx, `
			INSERT INTO purchases (id, outlet_id, staff_id, template_id, quantity, total_cost, supplier, created_at)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		`, purchase.ID, purchase.OutletID, purchase.StaffID, purchase.TemplateID, purchase.Quantity,
			purchase.TotalCost, nullIfEmpty(purchase.Supplier), purchase.CreatedAt)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &purchase, nil
}

func (s *Store) ClockIn(ctx context.Context, attendance domain.Attendance, staleBefore time.Time) (*domain.Attendance, error) {
	if attendance.ID == "" {
		attendance.ID = xid.New("att")
	}
	if attendance.ClockIn.IsZero() {
		attendance.ClockIn = time.Now().UTC()
	}
	attendance.ClockOut = nil

	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if !staleBefore.IsZero() {
			if _, err := tx.ExecContext(ctx, `
				UPDATE attendances SET clock_out = $3
				WHERE outlet_id = $1 AND staff_id = $2 AND clock_out IS NULL AND clock_in < $3
			`, attendance.OutletID, attendance.StaffID, staleBefore.UTC()); err != nil {
				return err
			}
		}
		_, err := tx.ExecContext(ctx, `
			INSERT INTO attendances (id, outlet_id, staff_id, clock_in)
			VALUES ($1,$2,$3,$4)
		`, attendance.ID, attendance.OutletID, attendance.StaffID, attendance.ClockIn)
		return err
	})
	if err != nil {
		if isUniqueViolation(err) {
			return nil, store.ErrConflict
		}
		return nil, err
	}
	return &attendance, nil
}

// ensureShiftOpen fails with ErrShiftClosed when the staff member has a
// closing for businessDate. An empty date skips the check.
func ensureShiftOpen(ctx context.Context, q querier, outletID, staffID, businessDate string) error {
	if businessDate == "" {
		return nil
	}
	var closed bool
	err := q.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM daily_closings
			WHERE outlet_id = $1 AND staff_id = $2 AND business_date = $3::date
		)
	`, outletID, staffID, businessDate).Scan(&closed)
	if err != nil {
		return err
	}
	if closed {
		return store.ErrShiftClosed
	}
	return nil
}

func (s *Store) GetOpenAttendance(ctx context.Context, outletID string, staffID string) (*domain.Attendance, error) {
	var attendance domain.Attendance
	err := s.db.QueryRowContext(ctx, `
		SELECT id, outlet_id, staff_id, clock_in
		FROM attendances
		WHERE outlet_id = $1 AND staff_id = $2 AND clock_out IS NULL
	`, outletID, staffID).Scan(&attendance.ID, &attendance.OutletID, &attendance.StaffID, &attendance.ClockIn)
	if err != nil {
		return nil, notFound(err)
	}
	attendance.ClockIn = attendance.ClockIn.UTC()
	return &attendance, nil
}

func (s *Store) CreateAuditLog(ctx context.Context, entry domain.AuditLog) error {
	if entry.ID == "" {
		entry.ID = xid.New("audit")
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (
			id, outlet_id, actor_staff_id, actor_role, action, entity_type, entity_id, detail, created_at
		)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, entry.ID, entry.OutletID, entry.ActorStaffID, entry.ActorRole, entry.Action, entry.EntityType, entry.EntityID, entry.Detail, entry.CreatedAt)
	return err
}

func (s *Store) ListAuditLogs(ctx context.Context, outletID string, from time.Time, to time.Time, limit int) ([]domain.AuditLog, error) {
	if limit < 1 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, outlet_id, actor_staff_id, actor_role, action, entity_type, entity_id, detail, created_at
		FROM audit_logs
		WHERE ($1 = '' OR outlet_id = $1)
			AND ($2::timestamptz IS NULL OR created_at >= $2)
			AND ($3::timestamptz IS NULL OR created_at < $3)
		ORDER BY created_at DESC
		LIMIT $4
	`, outletID, nullIfZero(from), nullIfZero(to), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	logs := make([]domain.AuditLog, 0, limit)
	for rows.Next() {
		var entry domain.AuditLog
		if err := rows.Scan(&entry.ID, &entry.OutletID, &entry.ActorStaffID, &entry.ActorRole, &entry.Action, &entry.EntityType, &entry.EntityID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, err
		}
		entry.CreatedAt = entry.CreatedAt.UTC()
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return logs, nil
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}

func uniqueSorted(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

func nonNilStrings(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}

func nullIfEmpty(val string) any {
	if val == "" {
		return nil
	}
	return val
}

func nullIfZero(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
