package product

import "time"

// Image is a product photo reference.
type Image struct {
	SRC      string
	Alt      string
	Position int
}

// Supplier describes where a product is sourced from.
type Supplier struct {
	Name        string
	Platform    string
	URL         string
	Rating      float64
	TotalOrders int
	LastChecked time.Time
}

// Inventory tracks stock for products that carry it.
type Inventory struct {
	Tracked           bool
	Quantity          int
	LowStockThreshold int
}

// Candidate is a transient sourcing result. It only becomes a Product
// record after a successful publish.
type Candidate struct {
	Title          string
	RawDescription string
	CostUSD        float64
	ShippingUSD    float64
	SourceURL      string
	Platform       string
	Rating         float64
	TotalOrders    int
	Images         []Image
}

// EnrichedContent is AI-generated listing copy for a candidate.
type EnrichedContent struct {
	Description     string
	DescriptionHTML string
	SEOTitle        string
	SEODescription  string
	Tags            []string
}

// Product is a published catalog record.
type Product struct {
	ID       string
	Title    string
	Category string

	// Pricing breakdown, costs in USD, retail in AUD.
	CostUSD             float64
	ShippingUSD         float64
	SellPriceAUD        float64
	CompareAtAUD        float64
	ProfitAUD           float64
	ProfitMarginPercent float64
	MarkupPercent       float64
	FreeShipping        bool

	Supplier  Supplier
	Inventory Inventory
	Images    []Image
	Enriched  EnrichedContent

	// ExternalID is the storefront listing identifier, set on publish.
	ExternalID  string
	PublishedAt time.Time

	Active    bool
	RunID     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Enrichable reports whether the product still needs AI copy.
func (p Product) Enrichable() bool {
	return p.Active && p.Enriched.Description == ""
}

// LowStock reports whether tracked inventory is at or below its threshold.
func (p Product) LowStock() bool {
	return p.Inventory.Tracked && p.Inventory.Quantity <= p.Inventory.LowStockThreshold
}
