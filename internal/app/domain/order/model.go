// Package order defines the order records tracked for fulfilment health.
package order

import "time"

// Status is the fulfilment lifecycle state of an order.
type Status string

const (
	StatusPending   Status = "pending"
	StatusOrdered   Status = "ordered"
	StatusShipped   Status = "shipped"
	StatusDelivered Status = "delivered"
	StatusCancelled Status = "cancelled"
)

// TagStale marks an order flagged by the stale-order check.
const TagStale = "stale"

// LineItem is one product line within an order.
type LineItem struct {
	ProductID string
	Title     string
	Quantity  int
	PriceAUD  float64
}

// Order is a storefront order mirrored locally for anomaly checks.
type Order struct {
	ID          string
	ExternalID  string
	Status      Status
	Items       []LineItem
	Tags        []string
	TotalAUD    float64
	CostUSD     float64
	ProfitAUD   float64
	PlacedAt    time.Time
	FulfilledAt time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Stale reports whether the order has sat unfulfilled longer than maxAge.
func (o Order) Stale(now time.Time, maxAge time.Duration) bool {
	if o.Status != StatusPending {
		return false
	}
	return now.Sub(o.PlacedAt) > maxAge
}

// Tagged reports whether tag is already on the order.
func (o Order) Tagged(tag string) bool {
	for _, t := range o.Tags {
		if t == tag {
			return true
		}
	}
	return false
}
