package billing

import (
	"fmt"
	"strings"

	"github.com/DukeRupert/dentaistudy/internal/domain"
)

// ProductConfig holds the provider product ids sold for each paid tier.
// Several ids may grant the same tier (promotional SKUs).
type ProductConfig struct {
	ProMonthlyProductIDs []string
	ProYearlyProductIDs  []string
}

// ProductCatalog maps provider product ids to tiers.
type ProductCatalog struct {
	productToTier map[string]domain.Tier
}

// NewProductCatalog builds a catalog. It fails if a product id is listed for
// more than one tier.
func NewProductCatalog(cfg ProductConfig) (*ProductCatalog, error) {
	c := &ProductCatalog{productToTier: make(map[string]domain.Tier)}

	add := func(ids []string, tier domain.Tier) error {
		for _, id := range ids {
			id = strings.TrimSpace(id)
			if id == "" {
				continue
			}
			if existing, ok := c.productToTier[id]; ok && existing != tier {
				return fmt.Errorf("product %q is mapped to both %s and %s", id, existing, tier)
			}
			c.productToTier[id] = tier
		}
		return nil
	}

	if err := add(cfg.ProMonthlyProductIDs, domain.TierProMonthly); err != nil {
		return nil, err
	}
	if err := add(cfg.ProYearlyProductIDs, domain.TierProYearly); err != nil {
		return nil, err
	}

	return c, nil
}

// TierForProduct returns the tier sold under productID.
func (c *ProductCatalog) TierForProduct(productID string) (domain.Tier, bool) {
	tier, ok := c.productToTier[productID]
	return tier, ok
}

// Len returns the number of known products.
func (c *ProductCatalog) Len() int {
	return len(c.productToTier)
}

// IsUpgradeSignal reports whether kind and status describe a completed
// purchase: an active subscription or a succeeded one-time payment.
func IsUpgradeSignal(kind domain.PayloadKind, status string) bool {
	switch kind {
	case domain.PayloadKindSubscription:
		return status == domain.StatusActive
	case domain.PayloadKindPayment:
		return status == domain.StatusSucceeded
	default:
		return false
	}
}

// Resolve returns the tier an event grants, or false when it grants nothing.
// Only an upgrade signal for a known product yields a tier.
func (c *ProductCatalog) Resolve(kind domain.PayloadKind, status, productID string) (domain.Tier, bool) {
	if !IsUpgradeSignal(kind, status) {
		return "", false
	}
	return c.TierForProduct(productID)
}
