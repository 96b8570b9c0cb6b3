package inventory

import (
	"fmt"
	"sort"

	"github.com/ariefcatur/checkout-saga/internal/events"
)

type InsufficientStockError struct {
	ProductID string
	Requested int
	Available int
}

func (e *InsufficientStockError) Error() string { return "insufficient stock: " + e.ProductID }

type UnknownProductError struct{ ProductID string }

func (e *UnknownProductError) Error() string { return "unknown product: " + e.ProductID }

type InvalidQuantityError struct {
	ProductID string
	Quantity  int
}

func (e *InvalidQuantityError) Error() string {
	return fmt.Sprintf("invalid quantity: %s (%d)", e.ProductID, e.Quantity)
}

// Normalize merges repeated products and sorts by product id, which is also
// the row lock order.
func Normalize(items []events.Item) []events.Item {
	sum := make(map[string]int, len(items))
	for _, it := range items {
		sum[it.ProductID] += it.Quantity
	}
	out := make([]events.Item, 0, len(sum))
	for id, q := range sum {
		out = append(out, events.Item{ProductID: id, Quantity: q})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ProductID < out[j].ProductID })
	return out
}

// Plan checks a normalized batch against stock and returns the stock left
// per product. The first blocking item in product order is reported; stock
// is never partially planned.
func Plan(stock map[string]int, items []events.Item) (map[string]int, error) {
	next := make(map[string]int, len(items))
	for _, it := range items {
		if it.Quantity <= 0 {
			return nil, &InvalidQuantityError{ProductID: it.ProductID, Quantity: it.Quantity}
		}
		have, ok := stock[it.ProductID]
		if !ok {
			return nil, &UnknownProductError{ProductID: it.ProductID}
		}
		if have < it.Quantity {
			return nil, &InsufficientStockError{ProductID: it.ProductID, Requested: it.Quantity, Available: have}
		}
		next[it.ProductID] = have - it.Quantity
	}
	return next, nil
}

// Rejection reports whether err is a business rejection of the batch.
func Rejection(err error) bool {
	switch err.(type) {
	case *InsufficientStockError, *UnknownProductError, *InvalidQuantityError:
		return true
	}
	return false
}
