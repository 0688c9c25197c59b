// Package analytics defines the daily snapshot aggregated over the catalog
// and order book.
package analytics

import "time"

// Snapshot is one day's aggregate business picture. Date is truncated to
// midnight UTC and acts as the natural key.
type Snapshot struct {
	ID   string
	Date time.Time

	ActiveProducts  int
	PendingOrders   int
	OrdersToday     int
	RevenueTodayAUD float64
	ProfitTodayAUD  float64
	AvgMarginPct    float64
	LowStockCount   int

	CreatedAt time.Time
}

// Day truncates t to its UTC calendar day.
func Day(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), 0, 0, 0, 0, time.UTC)
}
