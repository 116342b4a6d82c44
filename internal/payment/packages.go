package payment

import "sort"

var catalog = map[string]Package{
	"starter": {
		ID:          "starter",
		Name:        "Starter Pack",
		Description: "A small bundle for new users",
		Price:       Price{Amount: 10, Currency: Currency, ChainPreference: "polygon"},
		Credits:     CreditGrant{Amount: 500, BonusMultiplier: 1.0, BonusAmount: 0},
	},
	"pro": {
		ID:          "pro",
		Name:        "Pro Pack",
		Description: "The choice of active traders",
		Price:       Price{Amount: 50, Currency: Currency, ChainPreference: "base"},
		Credits:     CreditGrant{Amount: 3000, BonusMultiplier: 1.1, BonusAmount: 300},
		Badge:       "HOT",
	},
	"vip": {
		ID:             "vip",
		Name:           "VIP Pack",
		Description:    "Maximum value with a 20% credit bonus",
		Price:          Price{Amount: 100, Currency: Currency, ChainPreference: "arbitrum"},
		Credits:        CreditGrant{Amount: 8000, BonusMultiplier: 1.2, BonusAmount: 1600},
		Badge:          "BEST SAVE",
		HighlightColor: "#FFD700",
	},
}

// Packages returns the catalog ordered by price, cheapest first. The returned
// slice is a fresh copy.
func Packages() []Package {
	out := make([]Package, 0, len(catalog))
	for _, p := range catalog {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Price.Amount < out[j].Price.Amount })
	return out
}

func lookup(id string) (Package, bool) {
	p, ok := catalog[id]
	return p, ok
}
