package orders

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"
)

// MonthlyStat is one calendar month rollup.
type MonthlyStat struct {
	Month   string  `json:"month"` // YYYY-MM
	Orders  int     `json:"orders"`
	Revenue float64 `json:"revenue"`
}

// Stats is the admin dashboard aggregate.
type Stats struct {
	TotalOrders     int                   `json:"totalOrders"`
	ByStatus        map[Status]int        `json:"byStatus"`
	ByPaymentStatus map[PaymentStatus]int `json:"byPaymentStatus"`
	Revenue         float64               `json:"revenue"`
	Monthly         []MonthlyStat         `json:"monthly"`
}

// Stats aggregates counts and revenue across all orders. Revenue counts collected orders
// at the amount actually charged.
func (s *Service) Stats(ctx context.Context) (*Stats, error) {
	list, err := s.store.List(ctx, Filter{})
	if err != nil {
		return nil, err
	}
	return Aggregate(list), nil
}

// Aggregate computes Stats over list.
func Aggregate(list []Order) *Stats {
	st := &Stats{
		ByStatus:        map[Status]int{},
		ByPaymentStatus: map[PaymentStatus]int{},
	}
	revenue := decimal.Zero
	type bucket struct {
		orders  int
		revenue decimal.Decimal
	}
	months := map[string]*bucket{}

	for i := range list {
		o := &list[i]
		st.TotalOrders++
		st.ByStatus[o.Status]++
		st.ByPaymentStatus[o.PaymentStatus]++

		key := o.CreatedAt.UTC().Format("2006-01")
		b, ok := months[key]
		if !ok {
			b = &bucket{revenue: decimal.Zero}
			months[key] = b
		}
		b.orders++
		if o.Collected() {
			charged := decimal.NewFromFloat(o.ChargedAmount())
			revenue = revenue.Add(charged)
			b.revenue = b.revenue.Add(charged)
		}
	}

	st.Revenue = revenue.Round(2).InexactFloat64()
	for month, b := range months {
		st.Monthly = append(st.Monthly, MonthlyStat{
			Month:   month,
			Orders:  b.orders,
			Revenue: b.revenue.Round(2).InexactFloat64(),
		})
	}
	sort.Slice(st.Monthly, func(i, j int) bool { return st.Monthly[i].Month < st.Monthly[j].Month })
	return st
}

// Collected reports whether the order's money has been received: paid online, or a COD
// order the carrier delivered.
func (o *Order) Collected() bool {
	if o.PaymentStatus == PaymentPaid {
		return true
	}
	return o.PaymentMethod == MethodCOD && o.PaymentStatus == PaymentPending && o.Status == StatusDelivered
}
