package subscription

import (
	"fmt"
	"strings"
)

// ProductCatalog maps billing-provider product or price identifiers to tiers.
// Lookups are exact; an identifier that is not in the table has no tier.
type ProductCatalog struct {
	byID   map[string]Tier
	byTier map[Tier]string
}

func NewProductCatalog() *ProductCatalog {
	return &ProductCatalog{
		byID:   make(map[string]Tier),
		byTier: make(map[Tier]string),
	}
}

// Add registers id for tier. The first id added for a tier becomes the one
// returned by ProductFor.
func (c *ProductCatalog) Add(id string, tier Tier) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("empty product id")
	}
	if _, ok := tierDefinitions[tier]; !ok {
		return fmt.Errorf("product %s: unknown tier %q", id, tier)
	}
	if existing, ok := c.byID[id]; ok && existing != tier {
		return fmt.Errorf("product %s mapped to both %s and %s", id, existing, tier)
	}
	c.byID[id] = tier
	if _, ok := c.byTier[tier]; !ok {
		c.byTier[tier] = id
	}
	return nil
}

// ParseProductCatalog reads "id:TIER,id:TIER". Blank input yields an empty catalog.
func ParseProductCatalog(raw string) (*ProductCatalog, error) {
	c := NewProductCatalog()
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		idx := strings.LastIndex(entry, ":")
		if idx <= 0 || idx == len(entry)-1 {
			return nil, fmt.Errorf("invalid product mapping %q, want id:TIER", entry)
		}
		tier, ok := ParseTier(entry[idx+1:])
		if !ok {
			return nil, fmt.Errorf("invalid product mapping %q: unknown tier", entry)
		}
		if err := c.Add(entry[:idx], tier); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *ProductCatalog) TierFor(id string) (Tier, bool) {
	if c == nil {
		return "", false
	}
	t, ok := c.byID[strings.TrimSpace(id)]
	return t, ok
}

func (c *ProductCatalog) ProductFor(tier Tier) (string, bool) {
	if c == nil {
		return "", false
	}
	id, ok := c.byTier[tier]
	return id, ok
}

func (c *ProductCatalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.byID)
}
