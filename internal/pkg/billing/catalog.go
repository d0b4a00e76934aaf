package billing

import (
	"strings"

	"github.com/ManuelReschke/SprayOps/app/models"
	"github.com/ManuelReschke/SprayOps/internal/pkg/env"
)

// Tier is a subscription plan offered in the catalog.
type Tier struct {
	ID                string   `json:"id"`
	Name              string   `json:"name"`
	PriceID           string   `json:"-"`
	ProductID         string   `json:"-"`
	MonthlyPriceCents int64    `json:"monthly_price_cents"`
	MonthlyCredits    int      `json:"monthly_credits"`
	Features          []string `json:"features"`
}

// Addon is a one-time credit pack.
type Addon struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	PriceID    string `json:"-"`
	ProductID  string `json:"-"`
	PriceCents int64  `json:"price_cents"`
	Credits    int    `json:"credits"`
}

// Catalog is the immutable set of tiers and add-ons. Build it once with
// NewCatalog or CatalogFromEnv and pass it to the service.
type Catalog struct {
	tiers       []Tier
	addons      []Addon
	tierByID    map[string]Tier
	addonByID   map[string]Addon
	planByPrice map[string]string
}

// NewCatalog copies the given tiers and add-ons and indexes them by id and
// by price id.
func NewCatalog(tiers []Tier, addons []Addon) *Catalog {
	c := &Catalog{
		tiers:       make([]Tier, 0, len(tiers)),
		addons:      make([]Addon, 0, len(addons)),
		tierByID:    make(map[string]Tier, len(tiers)),
		addonByID:   make(map[string]Addon, len(addons)),
		planByPrice: make(map[string]string, len(tiers)),
	}
	for _, t := range tiers {
		t.Features = append([]string(nil), t.Features...)
		c.tiers = append(c.tiers, t)
		c.tierByID[t.ID] = t
		if t.PriceID != "" {
			c.planByPrice[t.PriceID] = t.ID
		}
	}
	for _, a := range addons {
		c.addons = append(c.addons, a)
		c.addonByID[a.ID] = a
	}
	return c
}

// DefaultTiers returns the standard plan lineup without processor ids.
func DefaultTiers() []Tier {
	return []Tier{
		{
			ID:                models.PlanStarter,
			Name:              "Starter",
			MonthlyPriceCents: 4900,
			MonthlyCredits:    1000,
			Features:          []string{"Up to 3 operators", "Job scheduling", "Spray window forecasts", "1,000 AI credits per month"},
		},
		{
			ID:                models.PlanProfessional,
			Name:              "Professional",
			MonthlyPriceCents: 14900,
			MonthlyCredits:    5000,
			Features:          []string{"Up to 15 operators", "Service plans", "EPA compliance records", "5,000 AI credits per month"},
		},
		{
			ID:                models.PlanEnterprise,
			Name:              "Enterprise",
			MonthlyPriceCents: 39900,
			MonthlyCredits:    20000,
			Features:          []string{"Unlimited operators", "Priority support", "Custom label imports", "20,000 AI credits per month"},
		},
	}
}

// DefaultAddons returns the standard credit packs without processor ids.
func DefaultAddons() []Addon {
	return []Addon{
		{ID: "credits_500", Name: "500 AI credits", PriceCents: 1000, Credits: 500},
		{ID: "credits_2000", Name: "2,000 AI credits", PriceCents: 3500, Credits: 2000},
		{ID: "credits_5000", Name: "5,000 AI credits", PriceCents: 7500, Credits: 5000},
	}
}

// CatalogFromEnv builds the default catalog with Stripe price and product ids
// read from STRIPE_PRICE_<ID> and STRIPE_PRODUCT_<ID>.
func CatalogFromEnv() *Catalog {
	tiers := DefaultTiers()
	for i := range tiers {
		key := strings.ToUpper(tiers[i].ID)
		tiers[i].PriceID = strings.TrimSpace(env.GetEnv("STRIPE_PRICE_"+key, ""))
		tiers[i].ProductID = strings.TrimSpace(env.GetEnv("STRIPE_PRODUCT_"+key, ""))
	}
	addons := DefaultAddons()
	for i := range addons {
		key := strings.ToUpper(addons[i].ID)
		addons[i].PriceID = strings.TrimSpace(env.GetEnv("STRIPE_PRICE_"+key, ""))
		addons[i].ProductID = strings.TrimSpace(env.GetEnv("STRIPE_PRODUCT_"+key, ""))
	}
	return NewCatalog(tiers, addons)
}

// Tiers returns all subscription tiers in display order.
func (c *Catalog) Tiers() []Tier {
	out := make([]Tier, len(c.tiers))
	copy(out, c.tiers)
	return out
}

// Addons returns all credit add-ons in display order.
func (c *Catalog) Addons() []Addon {
	out := make([]Addon, len(c.addons))
	copy(out, c.addons)
	return out
}

func (c *Catalog) Tier(id string) (Tier, bool) {
	t, ok := c.tierByID[id]
	return t, ok
}

func (c *Catalog) Addon(id string) (Addon, bool) {
	a, ok := c.addonByID[id]
	return a, ok
}

// CreditsForPlan returns the monthly credit allotment of a plan, or 0 for an
// unknown plan id.
func (c *Catalog) CreditsForPlan(id string) int {
	return c.tierByID[id].MonthlyCredits
}

// PlanForPrice resolves a processor price id to an internal plan id.
func (c *Catalog) PlanForPrice(priceID string) (string, bool) {
	plan, ok := c.planByPrice[priceID]
	return plan, ok
}
