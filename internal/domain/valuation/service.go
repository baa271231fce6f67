// Package valuation computes point-in-time inventory value reports.
//
// Valuation is a read-only aggregate over the batch ledger: no locks, no
// mutations, snapshot drift is acceptable.
package valuation

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"lotledger/internal/core/apperror"
	"lotledger/internal/core/id"
	"lotledger/internal/core/types"
	"lotledger/internal/domain/catalogs/product"
	"lotledger/internal/domain/ledger"
)

// Method selects the costing convention.
type Method string

const (
	// MethodFIFO values on-hand stock at the newest receipt layers, since
	// FIFO consumption leaves the newest stock on hand.
	MethodFIFO Method = "fifo"
	// MethodLIFO values on-hand stock at the oldest receipt layers.
	MethodLIFO Method = "lifo"
	// MethodAverage values stock at the remaining-quantity-weighted average
	// cost across batches.
	MethodAverage Method = "average"
)

// ParseMethod validates a costing method string. Empty defaults to AVERAGE.
func ParseMethod(s string) (Method, error) {
	switch Method(s) {
	case MethodFIFO, MethodLIFO, MethodAverage:
		return Method(s), nil
	case "":
		return MethodAverage, nil
	default:
		return "", apperror.NewValidation("unknown costing method").
			WithDetail("method", s)
	}
}

// Query describes a valuation request.
type Query struct {
	// AsOf excludes batches received after this instant. Zero means now.
	AsOf time.Time
	// Method is the costing convention.
	Method Method
	// ProductID narrows the report to one product. Nil values all active
	// products.
	ProductID *id.ID
}

// AgingBucket groups remaining stock by days since receipt.
type AgingBucket struct {
	Label    string         `json:"label"`
	Quantity types.Quantity `json:"quantity"`
	Value    types.Money    `json:"value"`
}

// Item is the per-product valuation line.
type Item struct {
	ProductID    id.ID          `json:"productId"`
	ProductCode  string         `json:"productCode"`
	ProductName  string         `json:"productName"`
	CurrentStock types.Quantity `json:"currentStock"`
	UnitCostUsed types.Money    `json:"unitCostUsed"`
	CurrentValue types.Money    `json:"currentValue"`
	Aging        []AgingBucket  `json:"aging"`
}

// Report is the valuation result.
type Report struct {
	AsOf       time.Time      `json:"asOf"`
	Method     Method         `json:"method"`
	TotalStock types.Quantity `json:"totalStock"`
	TotalValue types.Money    `json:"totalValue"`
	Items      []Item         `json:"items"`
}

// BatchProvider is the ledger slice valuation reads from.
type BatchProvider interface {
	BatchesAsOf(ctx context.Context, productID id.ID, asOf time.Time) ([]ledger.Batch, error)
}

// Service computes valuation reports.
type Service struct {
	batches  BatchProvider
	products product.Repository
}

// NewService creates a valuation service.
func NewService(batches BatchProvider, products product.Repository) *Service {
	return &Service{batches: batches, products: products}
}

// Valuate computes inventory value as of the query instant. An unknown
// product yields an empty items list, not an error.
func (s *Service) Valuate(ctx context.Context, q Query) (*Report, error) {
	if q.Method == "" {
		q.Method = MethodAverage
	}
	if _, err := ParseMethod(string(q.Method)); err != nil {
		return nil, err
	}
	asOf := q.AsOf
	if asOf.IsZero() {
		asOf = time.Now().UTC()
	}

	var targets []*product.Product
	if q.ProductID != nil {
		p, err := s.products.GetByID(ctx, *q.ProductID)
		if err != nil {
			if apperror.IsNotFound(err) {
				return &Report{AsOf: asOf, Method: q.Method, TotalValue: decimal.Zero, Items: []Item{}}, nil
			}
			return nil, err
		}
		targets = []*product.Product{p}
	} else {
		all, err := s.products.ListActive(ctx)
		if err != nil {
			return nil, err
		}
		targets = all
	}

	report := &Report{
		AsOf:       asOf,
		Method:     q.Method,
		TotalValue: decimal.Zero,
		Items:      make([]Item, 0, len(targets)),
	}

	for _, p := range targets {
		item, err := s.valuateProduct(ctx, p, asOf, q.Method)
		if err != nil {
			return nil, err
		}
		report.Items = append(report.Items, item)
		report.TotalStock += item.CurrentStock
		report.TotalValue = report.TotalValue.Add(item.CurrentValue)
	}
	return report, nil
}

func (s *Service) valuateProduct(ctx context.Context, p *product.Product, asOf time.Time, method Method) (Item, error) {
	all, err := s.batches.BatchesAsOf(ctx, p.ID, asOf)
	if err != nil {
		return Item{}, err
	}

	// Only stock-bearing active batches participate; the provider already
	// returns FIFO base order (received ascending).
	batches := all[:0:0]
	for i := range all {
		if all[i].Status == ledger.BatchStatusActive && all[i].Remaining.IsPositive() {
			batches = append(batches, all[i])
		}
	}

	var stock types.Quantity
	for i := range batches {
		stock += batches[i].Remaining
	}

	item := Item{
		ProductID:    p.ID,
		ProductCode:  p.Code,
		ProductName:  p.Name,
		CurrentStock: stock,
		UnitCostUsed: decimal.Zero,
		CurrentValue: decimal.Zero,
		Aging:        agingBuckets(batches, asOf),
	}
	if !stock.IsPositive() {
		return item, nil
	}

	var value decimal.Decimal
	switch method {
	case MethodAverage:
		for i := range batches {
			value = value.Add(batches[i].Remaining.Decimal().Mul(batches[i].CostPerUnit))
		}
	case MethodFIFO:
		value = layerValue(batches, stock, true)
	case MethodLIFO:
		value = layerValue(batches, stock, false)
	}

	item.CurrentValue = value
	item.UnitCostUsed = value.Div(stock.Decimal()).Round(4)
	return item, nil
}

// layerValue allocates the on-hand stock against original receipt
// quantities and sums layer costs. newestFirst selects the FIFO valuation
// convention (newest layers on hand); the reverse walk gives LIFO.
func layerValue(batches []ledger.Batch, stock types.Quantity, newestFirst bool) decimal.Decimal {
	needed := stock
	total := decimal.Zero

	visit := func(b *ledger.Batch) bool {
		if !needed.IsPositive() {
			return false
		}
		take := b.Quantity.Min(needed)
		total = total.Add(take.Decimal().Mul(b.CostPerUnit))
		needed -= take
		return true
	}

	if newestFirst {
		for i := len(batches) - 1; i >= 0; i-- {
			if !visit(&batches[i]) {
				break
			}
		}
	} else {
		for i := range batches {
			if !visit(&batches[i]) {
				break
			}
		}
	}
	return total
}

// agingBuckets slots remaining stock by days since receipt:
// 0-30, 31-60, 61-90 and 90+.
func agingBuckets(batches []ledger.Batch, asOf time.Time) []AgingBucket {
	buckets := []AgingBucket{
		{Label: "0-30", Value: decimal.Zero},
		{Label: "31-60", Value: decimal.Zero},
		{Label: "61-90", Value: decimal.Zero},
		{Label: "90+", Value: decimal.Zero},
	}

	for i := range batches {
		days := int(asOf.Sub(batches[i].ReceivedAt).Hours() / 24)
		idx := 3
		switch {
		case days <= 30:
			idx = 0
		case days <= 60:
			idx = 1
		case days <= 90:
			idx = 2
		}
		buckets[idx].Quantity += batches[i].Remaining
		buckets[idx].Value = buckets[idx].Value.Add(batches[i].Remaining.Decimal().Mul(batches[i].CostPerUnit))
	}
	return buckets
}
