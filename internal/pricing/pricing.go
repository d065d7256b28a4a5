package pricing

import (
	"github.com/shopspring/decimal"

	"kasirinaja/opscore/internal/apperr"
	"kasirinaja/opscore/internal/domain"
)

var hundred = decimal.NewFromInt(100)

// Input is everything needed to price a cart. Items must hold every item
// referenced by Lines; Customer is nil for walk-in sales.
type Input struct {
	OutletID       string
	Lines          []domain.CartLine
	Items          map[string]domain.SellableItem
	Customer       *domain.Customer
	Rules          domain.PricingRules
	PointsToRedeem int64
}

type Result struct {
	Totals domain.CartTotals        `json:"totals"`
	Lines  []domain.TransactionLine `json:"lines"`
}

// ComputeCartTotals applies outlet prices, picks the better of the tier and
// bulk discounts (ties go to tier), clamps point redemption and derives the
// points earned. It has no side effects.
func ComputeCartTotals(in Input) (Result, error) {
	if in.OutletID == "" || in.OutletID == domain.AllOutlets {
		return Result{}, apperr.Validation("a concrete outlet is required")
	}
	if len(in.Lines) == 0 {
		return Result{}, apperr.Validation("cart is empty")
	}

	var res Result
	res.Lines = make([]domain.TransactionLine, 0, len(in.Lines))
	cartItems := make(map[string]struct{}, len(in.Lines))
	subtotal := decimal.Zero
	totalQty := 0

	for _, line := range in.Lines {
		if line.Qty < 1 {
			return Result{}, apperr.Newf(apperr.CodeValidation, "quantity for %s must be at least 1", line.ItemID)
		}
		item, ok := in.Items[line.ItemID]
		if !ok {
			return Result{}, apperr.Newf(apperr.CodeNotFound, "item %s not found", line.ItemID)
		}
		if !item.AvailableAt(in.OutletID) {
			return Result{}, apperr.Newf(apperr.CodeValidation, "item %s is not available at this outlet", item.Name).
				WithDetails(map[string]any{"item_id": item.ID})
		}

		price := item.EffectivePrice(in.OutletID)
		lineTotal := price.Mul(decimal.NewFromInt(int64(line.Qty)))
		res.Lines = append(res.Lines, domain.TransactionLine{
			ItemID:    item.ID,
			Name:      item.Name,
			Qty:       line.Qty,
			UnitPrice: price,
			LineTotal: lineTotal,
		})
		subtotal = subtotal.Add(lineTotal)
		totalQty += line.Qty
		cartItems[item.ID] = struct{}{}
	}

	totals := domain.CartTotals{
		TotalQty:            totalQty,
		Subtotal:            subtotal,
		TierDiscountPercent: TierPercent(in.Customer, in.Rules.Tiers),
		BulkDiscountPercent: BulkPercent(in.Rules.BulkRules, totalQty, cartItems),
		AppliedDiscount:     domain.DiscountNone,
		TierDiscount:        decimal.Zero,
		BulkDiscount:        decimal.Zero,
		PointDiscount:       decimal.Zero,
	}

	switch {
	case totals.BulkDiscountPercent.GreaterThan(totals.TierDiscountPercent):
		totals.AppliedDiscount = domain.DiscountBulk
		totals.BulkDiscount = percentOf(subtotal, totals.BulkDiscountPercent)
	case totals.TierDiscountPercent.IsPositive():
		totals.AppliedDiscount = domain.DiscountTier
		totals.TierDiscount = percentOf(subtotal, totals.TierDiscountPercent)
	}

	totals.PointsRedeemed = ClampRedemption(in.PointsToRedeem, in.Customer, in.Rules.Loyalty, subtotal)
	if totals.PointsRedeemed > 0 {
		totals.PointDiscount = decimal.NewFromInt(totals.PointsRedeemed).Mul(in.Rules.Loyalty.RedemptionValuePerPoint)
	}

	total := subtotal.Sub(totals.TierDiscount).Sub(totals.BulkDiscount).Sub(totals.PointDiscount)
	if total.IsNegative() {
		total = decimal.Zero
	}
	totals.Total = total
	totals.PointsEarned = PointsEarned(total, in.Customer, in.Rules.Loyalty)

	res.Totals = totals
	return res, nil
}

func TierPercent(customer *domain.Customer, tiers []domain.MembershipTier) decimal.Decimal {
	if customer == nil || customer.TierID == "" {
		return decimal.Zero
	}
	for _, tier := range tiers {
		if tier.ID == customer.TierID {
			return tier.DiscountPercent
		}
	}
	return decimal.Zero
}

// BulkPercent is the best active rule whose minimum quantity the cart meets
// and whose item set is empty or shares at least one item with the cart.
func BulkPercent(rules []domain.BulkDiscountRule, totalQty int, cartItems map[string]struct{}) decimal.Decimal {
	best := decimal.Zero
	for _, rule := range rules {
		if !rule.Active || rule.MinQty > totalQty {
			continue
		}
		if !appliesTo(rule, cartItems) {
			continue
		}
		if rule.DiscountPercent.GreaterThan(best) {
			best = rule.DiscountPercent
		}
	}
	return best
}

func appliesTo(rule domain.BulkDiscountRule, cartItems map[string]struct{}) bool {
	if len(rule.ItemIDs) == 0 {
		return true
	}
	for _, id := range rule.ItemIDs {
		if _, ok := cartItems[id]; ok {
			return true
		}
	}
	return false
}

// ClampRedemption bounds the requested points by the customer's balance and
// by how many points the subtotal can absorb.
func ClampRedemption(requested int64, customer *domain.Customer, loyalty domain.LoyaltyConfig, subtotal decimal.Decimal) int64 {
	if requested <= 0 || customer == nil || !loyalty.Enabled || !loyalty.RedemptionValuePerPoint.IsPositive() {
		return 0
	}
	redeemable := subtotal.Div(loyalty.RedemptionValuePerPoint).Floor().IntPart()
	points := requested
	if customer.Points < points {
		points = customer.Points
	}
	if redeemable < points {
		points = redeemable
	}
	if points < 0 {
		return 0
	}
	return points
}

func PointsEarned(total decimal.Decimal, customer *domain.Customer, loyalty domain.LoyaltyConfig) int64 {
	if customer == nil || !loyalty.Enabled || !loyalty.EarningAmountPerPoint.IsPositive() {
		return 0
	}
	return total.Div(loyalty.EarningAmountPerPoint).Floor().IntPart()
}

func percentOf(amount, percent decimal.Decimal) decimal.Decimal {
	return amount.Mul(percent).Div(hundred).Round(2)
}
