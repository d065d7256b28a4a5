package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// AllOutlets is the aggregate view id; it never owns stock or sales.
const AllOutlets = "all"

type Outlet struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type Staff struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Role     string `json:"role"`
	OutletID string `json:"outlet_id"`
}

type Actor struct {
	StaffID  string
	Name     string
	Role     string
	OutletID string
}

const (
	RoleOwner   = "owner"
	RoleManager = "manager"
	RoleCashier = "cashier"
	RoleStaff   = "staff"
)

// IsExecutive reports whether the role is exempt from the shift lock.
func IsExecutive(role string) bool {
	return role == RoleOwner || role == RoleManager
}

type StockKind string

const (
	StockKindRaw          StockKind = "raw"
	StockKindIntermediate StockKind = "intermediate"
)

// StockTemplate is the global identity of a material. Every per-outlet
// StockItem points at exactly one template.
type StockTemplate struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Unit        string          `json:"unit"`
	Kind        StockKind       `json:"kind"`
	CostPerUnit decimal.Decimal `json:"cost_per_unit"`
}

type StockItem struct {
	ID          string          `json:"id"`
	OutletID    string          `json:"outlet_id"`
	TemplateID  string          `json:"template_id"`
	Name        string          `json:"name"`
	Unit        string          `json:"unit"`
	Kind        StockKind       `json:"kind"`
	Quantity    decimal.Decimal `json:"quantity"`
	MinStock    decimal.Decimal `json:"min_stock"`
	CostPerUnit decimal.Decimal `json:"cost_per_unit"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

func (s StockItem) BelowMinimum() bool {
	return s.Quantity.LessThan(s.MinStock)
}

type BOMLine struct {
	TemplateID string          `json:"template_id" validate:"required"`
	Quantity   decimal.Decimal `json:"quantity"`
}

type PackageLine struct {
	ItemID   string          `json:"item_id" validate:"required"`
	Quantity decimal.Decimal `json:"quantity"`
}

type OutletOverride struct {
	Price     *decimal.Decimal `json:"price,omitempty"`
	Available *bool            `json:"available,omitempty"`
}

type SellableItem struct {
	ID        string                    `json:"id"`
	Name      string                    `json:"name"`
	Category  string                    `json:"category"`
	Price     decimal.Decimal           `json:"price"`
	Available bool                      `json:"available"`
	Overrides map[string]OutletOverride `json:"overrides,omitempty"`
	BOM       []BOMLine                 `json:"bom,omitempty"`
	Package   []PackageLine             `json:"package,omitempty"`
}

func (i SellableItem) IsPackage() bool {
	return len(i.Package) > 0
}

func (i SellableItem) EffectivePrice(outletID string) decimal.Decimal {
	if override, ok := i.Overrides[outletID]; ok && override.Price != nil {
		return *override.Price
	}
	return i.Price
}

func (i SellableItem) AvailableAt(outletID string) bool {
	if override, ok := i.Overrides[outletID]; ok && override.Available != nil {
		return *override.Available
	}
	return i.Available
}

type CartLine struct {
	ItemID string `json:"item_id" validate:"required"`
	Qty    int    `json:"qty" validate:"min=1"`
}

type MembershipTier struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	MinPoints       int64           `json:"min_points"`
	DiscountPercent decimal.Decimal `json:"discount_percent"`
}

type BulkDiscountRule struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	MinQty          int             `json:"min_qty"`
	DiscountPercent decimal.Decimal `json:"discount_percent"`
	Active          bool            `json:"active"`
	ItemIDs         []string        `json:"item_ids,omitempty"`
}

type LoyaltyConfig struct {
	Enabled                 bool            `json:"enabled"`
	EarningAmountPerPoint   decimal.Decimal `json:"earning_amount_per_point"`
	RedemptionValuePerPoint decimal.Decimal `json:"redemption_value_per_point"`
}

// PricingRules is everything the discount selector reads besides the cart.
type PricingRules struct {
	Tiers     []MembershipTier   `json:"tiers"`
	BulkRules []BulkDiscountRule `json:"bulk_rules"`
	Loyalty   LoyaltyConfig      `json:"loyalty"`
}

type Customer struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Points int64  `json:"points"`
	TierID string `json:"tier_id,omitempty"`
}

const (
	DiscountNone = "none"
	DiscountTier = "tier"
	DiscountBulk = "bulk"
)

type CartTotals struct {
	TotalQty            int             `json:"total_qty"`
	Subtotal            decimal.Decimal `json:"subtotal"`
	TierDiscountPercent decimal.Decimal `json:"tier_discount_percent"`
	BulkDiscountPercent decimal.Decimal `json:"bulk_discount_percent"`
	AppliedDiscount     string          `json:"applied_discount"`
	TierDiscount        decimal.Decimal `json:"tier_discount"`
	BulkDiscount        decimal.Decimal `json:"bulk_discount"`
	PointsRedeemed      int64           `json:"points_redeemed"`
	PointDiscount       decimal.Decimal `json:"point_discount"`
	Total               decimal.Decimal `json:"total"`
	PointsEarned        int64           `json:"points_earned"`
}

type CartTotalsRequest struct {
	OutletID       string     `json:"outlet_id" validate:"required"`
	CustomerID     string     `json:"customer_id,omitempty"`
	PointsToRedeem int64      `json:"points_to_redeem"`
	Lines          []CartLine `json:"lines" validate:"required,min=1,dive"`
}

const (
	PaymentCash     = "cash"
	PaymentQRIS     = "qris"
	PaymentCard     = "card"
	PaymentTransfer = "transfer"
)

type CheckoutRequest struct {
	OutletID          string     `json:"outlet_id" validate:"required"`
	CustomerID        string     `json:"customer_id,omitempty"`
	PaymentMethod     string     `json:"payment_method" validate:"required,oneof=cash qris card transfer"`
	PointsToRedeem    int64      `json:"points_to_redeem" validate:"min=0"`
	IdempotencyKey    string     `json:"idempotency_key,omitempty"`
	AllowMissingStock bool       `json:"allow_missing_stock"`
	Lines             []CartLine `json:"lines" validate:"required,min=1,dive"`
}

type CheckoutResponse struct {
	Transaction Transaction `json:"transaction"`
	Totals      CartTotals  `json:"totals"`
	Duplicate   bool        `json:"duplicate"`
}

const (
	TxStatusClosed = "closed"
	TxStatusVoided = "voided"
)

type TransactionLine struct {
	ItemID    string          `json:"item_id"`
	Name      string          `json:"name"`
	Qty       int             `json:"qty"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	UnitCost  decimal.Decimal `json:"unit_cost"`
	LineTotal decimal.Decimal `json:"line_total"`
}

// StockDeduction is one leaf material consumed by a sale, already resolved
// to the outlet's own stock row.
type StockDeduction struct {
	TemplateID  string          `json:"template_id"`
	StockItemID string          `json:"stock_item_id"`
	Quantity    decimal.Decimal `json:"quantity"`
}

type Transaction struct {
	ID               string            `json:"id"`
	OutletID         string            `json:"outlet_id"`
	CustomerID       string            `json:"customer_id,omitempty"`
	StaffID          string            `json:"staff_id"`
	IdempotencyKey   string            `json:"idempotency_key,omitempty"`
	Lines            []TransactionLine `json:"lines"`
	Subtotal         decimal.Decimal   `json:"subtotal"`
	TierDiscount     decimal.Decimal   `json:"tier_discount"`
	BulkDiscount     decimal.Decimal   `json:"bulk_discount"`
	PointDiscount    decimal.Decimal   `json:"point_discount"`
	Total            decimal.Decimal   `json:"total"`
	TotalCost        decimal.Decimal   `json:"total_cost"`
	PaymentMethod    string            `json:"payment_method"`
	PointsEarned     int64             `json:"points_earned"`
	PointsRedeemed   int64             `json:"points_redeemed"`
	Status           string            `json:"status"`
	Deductions       []StockDeduction  `json:"deductions"`
	SkippedTemplates []string          `json:"skipped_templates,omitempty"`
	VoidReason       string            `json:"void_reason,omitempty"`
	VoidedAt         *time.Time        `json:"voided_at,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`

	// ShiftDate, when set, makes the store refuse the sale if the staff
	// member already closed that business day at the outlet.
	ShiftDate string `json:"-"`
}

// PointsDelta is the change applied to the customer's balance by this sale.
func (t Transaction) PointsDelta() int64 {
	return t.PointsEarned - t.PointsRedeemed
}

type VoidTransactionRequest struct {
	Reason          string `json:"reason" validate:"required"`
	ManagerPIN      string `json:"manager_pin,omitempty"`
	ManagerApproved bool   `json:"-"`
}

const (
	TransferPending  = "pending"
	TransferAccepted = "accepted"
	TransferRejected = "rejected"
)

type StockTransfer struct {
	ID           string          `json:"id"`
	FromOutletID string          `json:"from_outlet_id"`
	ToOutletID   string          `json:"to_outlet_id"`
	TemplateID   string          `json:"template_id"`
	StockName    string          `json:"stock_name"`
	Quantity     decimal.Decimal `json:"quantity"`
	Unit         string          `json:"unit"`
	Status       string          `json:"status"`
	RequestedBy  string          `json:"requested_by"`
	ResolvedBy   string          `json:"resolved_by,omitempty"`
	Notes        string          `json:"notes,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	ResolvedAt   *time.Time      `json:"resolved_at,omitempty"`
}

func (t StockTransfer) Terminal() bool {
	return t.Status == TransferAccepted || t.Status == TransferRejected
}

type TransferCreateRequest struct {
	FromOutletID string          `json:"from_outlet_id" validate:"required"`
	ToOutletID   string          `json:"to_outlet_id" validate:"required,nefield=FromOutletID"`
	TemplateID   string          `json:"template_id" validate:"required"`
	Quantity     decimal.Decimal `json:"quantity"`
	Notes        string          `json:"notes,omitempty"`
}

type TransferResolveRequest struct {
	Notes string `json:"notes,omitempty"`
}

type ProductionComponent struct {
	TemplateID string          `json:"template_id" validate:"required"`
	Quantity   decimal.Decimal `json:"quantity"`
}

type ProductionRecord struct {
	ID               string                `json:"id"`
	OutletID         string                `json:"outlet_id"`
	ResultTemplateID string                `json:"result_template_id"`
	ResultQuantity   decimal.Decimal       `json:"result_quantity"`
	ResultUnitCost   decimal.Decimal       `json:"result_unit_cost"`
	Components       []ProductionComponent `json:"components"`
	ActorID          string                `json:"actor_id"`
	Notes            string                `json:"notes,omitempty"`
	CreatedAt        time.Time             `json:"created_at"`
}

type ProductionRequest struct {
	OutletID         string                `json:"outlet_id" validate:"required"`
	ResultTemplateID string                `json:"result_template_id" validate:"required"`
	ResultQuantity   decimal.Decimal       `json:"result_quantity"`
	Components       []ProductionComponent `json:"components" validate:"required,min=1,dive"`
	Notes            string                `json:"notes,omitempty"`
}

const (
	ClosingApproved = "approved"
	ClosingPending  = "pending"
)

type DailyClosing struct {
	ID                string          `json:"id"`
	OutletID          string          `json:"outlet_id"`
	StaffID           string          `json:"staff_id"`
	BusinessDate      string          `json:"business_date"`
	OpeningBalance    decimal.Decimal `json:"opening_balance"`
	TotalSalesCash    decimal.Decimal `json:"total_sales_cash"`
	TotalSalesQRIS    decimal.Decimal `json:"total_sales_qris"`
	TotalSalesOther   decimal.Decimal `json:"total_sales_other"`
	TotalExpenses     decimal.Decimal `json:"total_expenses"`
	ActualCashCounted decimal.Decimal `json:"actual_cash_counted"`
	ExpectedCash      decimal.Decimal `json:"expected_cash"`
	Discrepancy       decimal.Decimal `json:"discrepancy"`
	TransactionCount  int             `json:"transaction_count"`
	Status            string          `json:"status"`
	Notes             string          `json:"notes,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
}

type ClosingRequest struct {
	OutletID          string          `json:"outlet_id" validate:"required"`
	ActualCashCounted decimal.Decimal `json:"actual_cash_counted"`
	OpeningBalance    decimal.Decimal `json:"opening_balance"`
	Notes             string          `json:"notes,omitempty"`
}

type Expense struct {
	ID          string          `json:"id"`
	OutletID    string          `json:"outlet_id"`
	StaffID     string          `json:"staff_id"`
	Amount      decimal.Decimal `json:"amount"`
	Category    string          `json:"category"`
	Description string          `json:"description,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	ShiftDate   string          `json:"-"`
}

type ExpenseRequest struct {
	OutletID    string          `json:"outlet_id" validate:"required"`
	Amount      decimal.Decimal `json:"amount"`
	Category    string          `json:"category" validate:"required"`
	Description string          `json:"description,omitempty"`
}

type Purchase struct {
	ID         string          `json:"id"`
	OutletID   string          `json:"outlet_id"`
	StaffID    string          `json:"staff_id"`
	TemplateID string          `json:"template_id"`
	Quantity   decimal.Decimal `json:"quantity"`
	TotalCost  decimal.Decimal `json:"total_cost"`
	Supplier   string          `json:"supplier,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

type PurchaseRequest struct {
	OutletID   string          `json:"outlet_id" validate:"required"`
	TemplateID string          `json:"template_id" validate:"required"`
	Quantity   decimal.Decimal `json:"quantity"`
	TotalCost  decimal.Decimal `json:"total_cost"`
	Supplier   string          `json:"supplier,omitempty"`
}

type Attendance struct {
	ID       string     `json:"id"`
	OutletID string     `json:"outlet_id"`
	StaffID  string     `json:"staff_id"`
	ClockIn  time.Time  `json:"clock_in"`
	ClockOut *time.Time `json:"clock_out,omitempty"`
}

type ClockInRequest struct {
	OutletID string `json:"outlet_id" validate:"required"`
}

type PackageUpdateRequest struct {
	Lines []PackageLine `json:"lines" validate:"dive"`
}

type SimulationRow struct {
	Name          string          `json:"name" validate:"required"`
	PurchasePrice decimal.Decimal `json:"purchase_price"`
	PackageSize   decimal.Decimal `json:"package_size"`
	YieldPercent  decimal.Decimal `json:"yield_percent"`
	RecipeQty     decimal.Decimal `json:"recipe_qty"`
}

type SimulationRequest struct {
	Rows                []SimulationRow `json:"rows" validate:"required,min=1,dive"`
	SellingPrice        decimal.Decimal `json:"selling_price"`
	RevenueSharePercent decimal.Decimal `json:"revenue_share_percent"`
}

const (
	HealthHealthy  = "healthy"
	HealthWarning  = "warning"
	HealthCritical = "critical"
)

type SimulationLine struct {
	Name     string          `json:"name"`
	LineCost decimal.Decimal `json:"line_cost"`
}

type SimulationResult struct {
	Lines         []SimulationLine `json:"lines"`
	TotalCost     decimal.Decimal  `json:"total_cost"`
	RevenueShare  decimal.Decimal  `json:"revenue_share"`
	NetRevenue    decimal.Decimal  `json:"net_revenue"`
	Margin        decimal.Decimal  `json:"margin"`
	MarginPercent decimal.Decimal  `json:"margin_percent"`
	FoodCostRatio decimal.Decimal  `json:"food_cost_ratio"`
	Health        string           `json:"health"`
}

type ItemCostResponse struct {
	ItemID        string          `json:"item_id"`
	OutletID      string          `json:"outlet_id"`
	Price         decimal.Decimal `json:"price"`
	UnitCost      decimal.Decimal `json:"unit_cost"`
	FoodCostRatio decimal.Decimal `json:"food_cost_ratio"`
	Health        string          `json:"health"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	StaffID     string `json:"staff_id"`
	ExpiresAt   string `json:"expires_at"`
}

type RegisterAccountRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
	StaffID  string `json:"staff_id"`
	Role     string `json:"role"`
	OutletID string `json:"outlet_id"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	StaffID   string
	Role      string
	OutletID  string
	Active    bool
	CreatedAt time.Time
}

type AuditLog struct {
	ID           string    `json:"id"`
	OutletID     string    `json:"outlet_id"`
	ActorStaffID string    `json:"actor_staff_id"`
	ActorRole    string    `json:"actor_role"`
	Action       string    `json:"action"`
	EntityType   string    `json:"entity_type"`
	EntityID     string    `json:"entity_id"`
	Detail       string    `json:"detail"`
	CreatedAt    time.Time `json:"created_at"`
}

// StockAdjustRequest is a manual correction (stock count, spoilage). Either
// TemplateID or StockName identifies the row; StockName is for importing
// name-keyed data and must be unambiguous at the outlet.
type StockAdjustRequest struct {
	OutletID   string          `json:"outlet_id" validate:"required"`
	TemplateID string          `json:"template_id,omitempty" validate:"required_without=StockName"`
	StockName  string          `json:"stock_name,omitempty"`
	Delta      decimal.Decimal `json:"delta"`
	Reason     string          `json:"reason" validate:"required"`
}
