package costing

import (
	"github.com/shopspring/decimal"

	"kasirinaja/opscore/internal/apperr"
	"kasirinaja/opscore/internal/domain"
)

var (
	hundred        = decimal.NewFromInt(100)
	criticalRatio  = decimal.NewFromInt(45)
	warningRatio   = decimal.NewFromInt(35)
	ratioPrecision = int32(2)
)

// Simulate prices a draft recipe from purchase data. Each row costs
// purchasePrice / (packageSize * yield%) * recipeQty; yield defaults to 100
// and package size to 1.
func Simulate(rows []domain.SimulationRow, sellingPrice, revenueSharePercent decimal.Decimal) (domain.SimulationResult, error) {
	if !sellingPrice.IsPositive() {
		return domain.SimulationResult{}, apperr.Validation("selling_price must be positive")
	}
	if revenueSharePercent.IsNegative() || revenueSharePercent.GreaterThan(hundred) {
		return domain.SimulationResult{}, apperr.Validation("revenue_share_percent must be between 0 and 100")
	}

	result := domain.SimulationResult{Lines: make([]domain.SimulationLine, 0, len(rows))}
	total := decimal.Zero
	for _, row := range rows {
		lineCost, err := LineCost(row)
		if err != nil {
			return domain.SimulationResult{}, err
		}
		result.Lines = append(result.Lines, domain.SimulationLine{Name: row.Name, LineCost: lineCost})
		total = total.Add(lineCost)
	}

	result.TotalCost = total
	result.RevenueShare = sellingPrice.Mul(revenueSharePercent).Div(hundred)
	result.NetRevenue = sellingPrice.Sub(result.RevenueShare)
	result.Margin = result.NetRevenue.Sub(total)
	result.MarginPercent = result.Margin.Div(sellingPrice).Mul(hundred).Round(ratioPrecision)
	result.FoodCostRatio = FoodCostRatio(total, sellingPrice)
	result.Health = Health(result.FoodCostRatio)
	return result, nil
}

func LineCost(row domain.SimulationRow) (decimal.Decimal, error) {
	packageSize := row.PackageSize
	if packageSize.IsZero() {
		packageSize = decimal.NewFromInt(1)
	}
	yield := row.YieldPercent
	if yield.IsZero() {
		yield = hundred
	}
	if row.PurchasePrice.IsNegative() || row.RecipeQty.IsNegative() {
		return decimal.Zero, apperr.Newf(apperr.CodeValidation, "row %q has a negative price or quantity", row.Name)
	}
	if !packageSize.IsPositive() || !yield.IsPositive() || yield.GreaterThan(hundred) {
		return decimal.Zero, apperr.Newf(apperr.CodeValidation, "row %q needs a positive package size and a yield in (0, 100]", row.Name)
	}

	usable := packageSize.Mul(yield).Div(hundred)
	return row.PurchasePrice.Div(usable).Mul(row.RecipeQty), nil
}

// FoodCostRatio is cost as a percentage of selling price.
func FoodCostRatio(cost, sellingPrice decimal.Decimal) decimal.Decimal {
	if !sellingPrice.IsPositive() {
		return decimal.Zero
	}
	return cost.Div(sellingPrice).Mul(hundred).Round(ratioPrecision)
}

func Health(foodCostRatio decimal.Decimal) string {
	switch {
	case foodCostRatio.GreaterThan(criticalRatio):
		return domain.HealthCritical
	case foodCostRatio.GreaterThan(warningRatio):
		return domain.HealthWarning
	default:
		return domain.HealthHealthy
	}
}
