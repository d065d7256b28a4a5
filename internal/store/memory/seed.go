package memory

import (
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/crypto/bcrypt"

	"kasirinaja/opscore/internal/domain"
)

const (
	SeedOutletPusat  = "outlet-pusat"
	SeedOutletCabang = "outlet-cabang"
)

// SeedPasswordsFromEnv reports whether the demo accounts use passwords from
// SEED_OWNER_PASSWORD, SEED_MANAGER_PASSWORD and SEED_CASHIER_PASSWORD
// rather than the built-in dev defaults.
func SeedPasswordsFromEnv() bool {
	return os.Getenv("SEED_OWNER_PASSWORD") != "" &&
		os.Getenv("SEED_MANAGER_PASSWORD") != "" &&
		os.Getenv("SEED_CASHIER_PASSWORD") != ""
}

// NewSeeded returns a store with two outlets, a small burger menu and one
// account per role, for dev and demo mode.
func NewSeeded() (*Store, error) {
	s := New()
	d := decimal.RequireFromString

	s.PutOutlet(domain.Outlet{ID: SeedOutletPusat, Name: "Outlet Pusat"})
	s.PutOutlet(domain.Outlet{ID: SeedOutletCabang, Name: "Outlet Cabang"})

	templates := []domain.StockTemplate{
		{ID: "tpl-bun", Name: "Roti Burger", Unit: "pcs", Kind: domain.StockKindRaw, CostPerUnit: d("2500")},
		{ID: "tpl-beef", Name: "Daging Sapi", Unit: "g", Kind: domain.StockKindRaw, CostPerUnit: d("140")},
		{ID: "tpl-potato", Name: "Kentang", Unit: "g", Kind: domain.StockKindRaw, CostPerUnit: d("30")},
		{ID: "tpl-oil", Name: "Minyak Goreng", Unit: "ml", Kind: domain.StockKindRaw, CostPerUnit: d("18")},
		{ID: "tpl-patty", Name: "Patty Sapi", Unit: "pcs", Kind: domain.StockKindIntermediate, CostPerUnit: d("12000")},
		{ID: "tpl-tea", Name: "Teh Seduh", Unit: "ml", Kind: domain.StockKindRaw, CostPerUnit: d("5")},
	}
	for _, tpl := range templates {
		s.PutTemplate(tpl)
	}

	s.PutItem(domain.SellableItem{
		ID: "item-burger", Name: "Burger Sapi", Category: "makanan", Price: d("35000"), Available: true,
		BOM: []domain.BOMLine{{TemplateID: "tpl-bun", Quantity: d("1")}, {TemplateID: "tpl-patty", Quantity: d("1")}},
	})
	s.PutItem(domain.SellableItem{
		ID: "item-fries", Name: "Kentang Goreng", Category: "makanan", Price: d("18000"), Available: true,
		BOM: []domain.BOMLine{{TemplateID: "tpl-potato", Quantity: d("150")}, {TemplateID: "tpl-oil", Quantity: d("20")}},
	})
	s.PutItem(domain.SellableItem{
		ID: "item-tea", Name: "Es Teh", Category: "minuman", Price: d("8000"), Available: true,
		BOM: []domain.BOMLine{{TemplateID: "tpl-tea", Quantity: d("250")}},
	})
	s.PutItem(domain.SellableItem{
		ID: "item-combo-a", Name: "Paket Combo A", Category: "paket", Price: d("55000"), Available: true,
		Package: []domain.PackageLine{
			{ItemID: "item-burger", Quantity: d("1")},
			{ItemID: "item-fries", Quantity: d("1")},
			{ItemID: "item-tea", Quantity: d("1")},
		},
	})

	stock := map[string]string{
		"tpl-bun":    "200",
		"tpl-beef":   "20000",
		"tpl-potato": "30000",
		"tpl-oil":    "10000",
		"tpl-patty":  "80",
		"tpl-tea":    "40000",
	}
	for _, outletID := range []string{SeedOutletPusat, SeedOutletCabang} {
		for templateID, qty := range stock {
			if err := s.PutStockItem(domain.StockItem{
				OutletID:   outletID,
				TemplateID: templateID,
				Quantity:   d(qty),
				MinStock:   d(qty).Div(decimal.NewFromInt(10)),
			}); err != nil {
				return nil, err
			}
		}
	}

	s.SetPricingRules(domain.PricingRules{
		Tiers: []domain.MembershipTier{
			{ID: "tier-silver", Name: "Silver", MinPoints: 100, DiscountPercent: d("5")},
			{ID: "tier-gold", Name: "Gold", MinPoints: 500, DiscountPercent: d("10")},
		},
		BulkRules: []domain.BulkDiscountRule{
			{ID: "bulk-10", Name: "Borong 10", MinQty: 10, DiscountPercent: d("12"), Active: true},
		},
		Loyalty: domain.LoyaltyConfig{
			Enabled:                 true,
			EarningAmountPerPoint:   d("1000"),
			RedemptionValuePerPoint: d("100"),
		},
	})
	s.PutCustomer(domain.Customer{ID: "cust-demo", Name: "Pelanggan Demo", Points: 120, TierID: "tier-silver"})

	accounts := []struct {
		username string
		envKey   string
		fallback string
		staff    domain.Staff
	}{
		{"owner", "SEED_OWNER_PASSWORD", "owner123", domain.Staff{ID: "staff-owner", Name: "Pemilik", Role: domain.RoleOwner, OutletID: SeedOutletPusat}},
		{"manager", "SEED_MANAGER_PASSWORD", "manager123", domain.Staff{ID: "staff-manager", Name: "Manajer", Role: domain.RoleManager, OutletID: SeedOutletPusat}},
		{"cashier", "SEED_CASHIER_PASSWORD", "cashier123", domain.Staff{ID: "staff-cashier", Name: "Kasir", Role: domain.RoleCashier, OutletID: SeedOutletPusat}},
	}
	now := time.Now().UTC()
	for _, acc := range accounts {
		password := os.Getenv(acc.envKey)
		if password == "" {
			password = acc.fallback
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
		if err != nil {
			return nil, fmt.Errorf("hash seed password for %s: %w", acc.username, err)
		}
		s.PutStaff(acc.staff)
		s.usersByUsername[acc.username] = domain.UserAccount{
			Username:  acc.username,
			Password:  string(hash),
			StaffID:   acc.staff.ID,
			Role:      acc.staff.Role,
			OutletID:  acc.staff.OutletID,
			Active:    true,
			CreatedAt: now,
		}
	}

	return s, nil
}
