package costing

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/ledgersync/internal/book"
)

func stockTx(day int, kind book.StockKind, weight, price int64) book.StockTransaction {
	date := time.Date(2025, 3, day, 0, 0, 0, 0, time.UTC)
	return book.StockTransaction{
		ID:           "tx-" + date.Format("02") + "-" + string(kind),
		Date:         date,
		ItemName:     "rice",
		Kind:         kind,
		Weight:       decimal.NewFromInt(weight),
		PricePerUnit: decimal.NewFromInt(price),
		CreatedAt:    date,
	}
}

func TestWeightedAverageCost(t *testing.T) {
	e := NewEngine(OversellReject)

	require.NoError(t, e.Apply(stockTx(1, book.StockPurchase, 100, 10)))
	st := e.Item("rice")
	assert.True(t, st.AverageCost().Equal(decimal.NewFromInt(10)))
	assert.True(t, st.TotalValue.Equal(decimal.NewFromInt(1000)))

	require.NoError(t, e.Apply(stockTx(2, book.StockPurchase, 50, 16)))
	st = e.Item("rice")
	assert.True(t, st.TotalWeight.Equal(decimal.NewFromInt(150)))
	assert.True(t, st.TotalValue.Equal(decimal.NewFromInt(1800)))
	assert.True(t, st.AverageCost().Equal(decimal.NewFromInt(12)))

	// A sale is valued at the running average, never at the sale price.
	sale := stockTx(3, book.StockSale, 80, 99)
	require.NoError(t, e.Apply(sale))
	st = e.Item("rice")
	assert.True(t, st.TotalWeight.Equal(decimal.NewFromInt(70)))
	assert.True(t, st.TotalValue.Equal(decimal.NewFromInt(840)))
	assert.True(t, st.AverageCost().Equal(decimal.NewFromInt(12)))
}

func TestApplyAllSortsChronologically(t *testing.T) {
	// Sale arrives first in the slice but dated after both purchases.
	txs := []book.StockTransaction{
		stockTx(5, book.StockSale, 80, 0),
		stockTx(2, book.StockPurchase, 50, 16),
		stockTx(1, book.StockPurchase, 100, 10),
	}
	e := NewEngine(OversellReject)
	require.NoError(t, e.ApplyAll(txs))
	assert.True(t, e.Item("rice").TotalValue.Equal(decimal.NewFromInt(840)))
}

func TestOversellPolicies(t *testing.T) {
	purchase := stockTx(1, book.StockPurchase, 10, 5)
	oversale := stockTx(2, book.StockSale, 25, 0)

	t.Run("reject", func(t *testing.T) {
		e := NewEngine(OversellReject)
		require.NoError(t, e.Apply(purchase))
		err := e.Apply(oversale)
		var ie *book.IntegrityError
		require.ErrorAs(t, err, &ie)
		// State is untouched after a rejected sale.
		assert.True(t, e.Item("rice").TotalWeight.Equal(decimal.NewFromInt(10)))
	})

	t.Run("clamp", func(t *testing.T) {
		e := NewEngine(OversellClamp)
		require.NoError(t, e.Apply(purchase))
		require.NoError(t, e.Apply(oversale))
		st := e.Item("rice")
		assert.True(t, st.TotalWeight.IsZero())
		assert.True(t, st.TotalValue.IsZero())
		assert.False(t, st.Oversold)
	})

	t.Run("allow", func(t *testing.T) {
		e := NewEngine(OversellAllow)
		require.NoError(t, e.Apply(purchase))
		require.NoError(t, e.Apply(oversale))
		st := e.Item("rice")
		assert.True(t, st.TotalWeight.Equal(decimal.NewFromInt(-15)))
		assert.True(t, st.Oversold)
	})
}

func TestAverageCostZeroWeight(t *testing.T) {
	e := NewEngine(OversellReject)
	assert.True(t, e.Item("unknown").AverageCost().IsZero())

	require.NoError(t, e.Apply(stockTx(1, book.StockPurchase, 10, 5)))
	require.NoError(t, e.Apply(stockTx(2, book.StockSale, 10, 0)))
	assert.True(t, e.Item("rice").AverageCost().IsZero())
}
