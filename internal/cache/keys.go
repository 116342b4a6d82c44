package cache

import "strings"

// PricingKey is the storage key for the credit package list.
const PricingKey = "pricing_data_cache"

// KeyPricing returns the storage key for cached pricing data.
func KeyPricing() string { return PricingKey }

// KeyScoped namespaces base under scope, e.g. a user or environment. An empty
// scope returns base unchanged.
func KeyScoped(scope, base string) string {
	scope = strings.TrimSpace(scope)
	if scope == "" {
		return base
	}
	return scope + ":" + base
}
