// Package costing maintains the weighted-average cost basis for stock
// items from the ordered stream of purchase and sale events.
package costing

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/example/ledgersync/internal/book"
)

// OversellPolicy decides what happens when a sale's weight exceeds the
// weight on hand.
type OversellPolicy int

const (
	// OversellReject refuses the sale. Default for live writes.
	OversellReject OversellPolicy = iota
	// OversellClamp trims the sale to the weight on hand.
	OversellClamp
	// OversellAllow lets weight go negative and flags the item. Used when
	// replaying history, where refusing would make old data uncomputable.
	OversellAllow
)

// ItemState is the running cost basis of one stock item.
type ItemState struct {
	TotalWeight decimal.Decimal
	TotalValue  decimal.Decimal
	// Oversold marks that a sale drove the weight negative at some point.
	// It is a data-quality signal, not an error.
	Oversold bool
}

// AverageCost is total value over total weight, zero when nothing is on
// hand.
func (s ItemState) AverageCost() decimal.Decimal {
	if s.TotalWeight.IsZero() {
		return decimal.Zero
	}
	return s.TotalValue.Div(s.TotalWeight)
}

// Engine folds stock transactions into per-item cost states. Events must
// be applied in (date, created_at) order; ApplyAll sorts for you.
type Engine struct {
	policy OversellPolicy
	items  map[string]*ItemState
}

// NewEngine creates an engine with the given oversell policy.
func NewEngine(policy OversellPolicy) *Engine {
	return &Engine{policy: policy, items: make(map[string]*ItemState)}
}

// Apply folds a single transaction into the item's state.
//
// Purchases add at the purchase price. Sales remove at the current
// weighted-average cost, never at the sale price, so a sale leaves the
// average unchanged.
func (e *Engine) Apply(tx book.StockTransaction) error {
	st, ok := e.items[tx.ItemName]
	if !ok {
		st = &ItemState{TotalWeight: decimal.Zero, TotalValue: decimal.Zero}
		e.items[tx.ItemName] = st
	}

	switch tx.Kind {
	case book.StockPurchase:
		st.TotalWeight = st.TotalWeight.Add(tx.Weight)
		st.TotalValue = st.TotalValue.Add(tx.Weight.Mul(tx.PricePerUnit))
	case book.StockSale:
		w := tx.Weight
		if w.GreaterThan(st.TotalWeight) {
			switch e.policy {
			case OversellReject:
				return &book.IntegrityError{
					Invariant: fmt.Sprintf("sale of %s %s exceeds stock on hand %s",
						w, tx.ItemName, st.TotalWeight),
				}
			case OversellClamp:
				w = st.TotalWeight
			case OversellAllow:
				st.Oversold = true
			}
		}
		avg := st.AverageCost()
		st.TotalValue = st.TotalValue.Sub(w.Mul(avg))
		st.TotalWeight = st.TotalWeight.Sub(w)
	default:
		return &book.ValidationError{Field: "kind", Reason: "unknown stock transaction kind " + string(tx.Kind)}
	}
	return nil
}

// ApplyAll folds a batch in canonical chronological order.
func (e *Engine) ApplyAll(txs []book.StockTransaction) error {
	sorted := make([]book.StockTransaction, len(txs))
	copy(sorted, txs)
	book.SortStock(sorted)
	for _, tx := range sorted {
		if err := e.Apply(tx); err != nil {
			return err
		}
	}
	return nil
}

// Item returns the current state of one item. The zero state is returned
// for unknown items.
func (e *Engine) Item(name string) ItemState {
	if st, ok := e.items[name]; ok {
		return *st
	}
	return ItemState{TotalWeight: decimal.Zero, TotalValue: decimal.Zero}
}

// Items returns a copy of every tracked item state.
func (e *Engine) Items() map[string]ItemState {
	out := make(map[string]ItemState, len(e.items))
	for name, st := range e.items {
		out[name] = *st
	}
	return out
}
