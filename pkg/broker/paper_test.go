package broker

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"finviztrader/pkg/model"
)

func TestPaperMarketOrderFillsNearLast(t *testing.T) {
	b := NewPaperBroker(zap.NewNop())
	placed, err := b.PlaceOrder(model.NewOrder("ABC", model.Buy, model.Market, 0, 10, "entry"))
	require.NoError(t, err)
	require.Equal(t, model.StatusWorking, placed.Status)

	fills, err := b.Advance(map[string]model.Quote{
		"ABC": {Symbol: "ABC", Bid: 49.9, Ask: 50.1, Last: 50.0, Mid: 50.0},
	}, false)
	require.NoError(t, err)
	require.Len(t, fills, 1)
	require.Equal(t, placed.ID, fills[0].OrderID)
	require.Equal(t, 10, fills[0].Quantity)
	require.InDelta(t, 50.05, fills[0].Price, 1e-9)

	open, err := b.OpenOrders()
	require.NoError(t, err)
	require.Empty(t, open)
}

func TestPaperLimitSellFillsAtLimitNotMark(t *testing.T) {
	b := NewPaperBroker(zap.NewNop())
	placed, err := b.PlaceOrder(model.NewOrder("ABC", model.Sell, model.Limit, 10.00, 5, "target_10"))
	require.NoError(t, err)

	// Below the limit: order keeps resting.
	fills, err := b.Advance(map[string]model.Quote{
		"ABC": {Symbol: "ABC", Mid: 9.50, Last: 9.50},
	}, false)
	require.NoError(t, err)
	require.Empty(t, fills)

	// The mark gaps through the limit; the fill still prints at 10.00.
	fills, err = b.Advance(map[string]model.Quote{
		"ABC": {Symbol: "ABC", Mid: 11.00, Last: 11.00},
	}, false)
	require.NoError(t, err)
	require.Len(t, fills, 1)
	require.Equal(t, placed.ID, fills[0].OrderID)
	require.InDelta(t, 10.00, fills[0].Price, 1e-9)
}

func TestPaperLimitSellUsesHighOfDayWhenEnabled(t *testing.T) {
	b := NewPaperBroker(zap.NewNop())
	_, err := b.PlaceOrder(model.NewOrder("ABC", model.Sell, model.Limit, 10.00, 5, "target_10"))
	require.NoError(t, err)

	quote := model.Quote{Symbol: "ABC", Mid: 9.00, Last: 9.00, High: 10.40}

	fills, err := b.Advance(map[string]model.Quote{"ABC": quote}, false)
	require.NoError(t, err)
	require.Empty(t, fills)

	fills, err = b.Advance(map[string]model.Quote{"ABC": quote}, true)
	require.NoError(t, err)
	require.Len(t, fills, 1)
	require.InDelta(t, 10.00, fills[0].Price, 1e-9)
}

func TestPaperLimitBuyFillsWhenAskCrosses(t *testing.T) {
	b := NewPaperBroker(zap.NewNop())
	_, err := b.PlaceOrder(model.NewOrder("ABC", model.Buy, model.Limit, 75.0, 20, "entry"))
	require.NoError(t, err)

	fills, err := b.Advance(map[string]model.Quote{
		"ABC": {Symbol: "ABC", Bid: 49.9, Ask: 50.1, Last: 50.0, Mid: 50.0},
	}, false)
	require.NoError(t, err)
	require.Len(t, fills, 1)
	// Fills at the market, not up at the generous limit.
	require.InDelta(t, 50.0, fills[0].Price, 1e-9)
}

func TestPaperCancelOrder(t *testing.T) {
	b := NewPaperBroker(zap.NewNop())
	placed, err := b.PlaceOrder(model.NewOrder("ABC", model.Sell, model.Limit, 10.0, 5))
	require.NoError(t, err)
	require.NoError(t, b.CancelOrder(placed.ID))
	require.Error(t, b.CancelOrder(placed.ID))

	fills, err := b.Advance(map[string]model.Quote{
		"ABC": {Symbol: "ABC", Mid: 12.0, Last: 12.0},
	}, false)
	require.NoError(t, err)
	require.Empty(t, fills)
}

func TestPaperAdvanceIgnoresUnquotedSymbols(t *testing.T) {
	b := NewPaperBroker(zap.NewNop())
	_, err := b.PlaceOrder(model.NewOrder("ABC", model.Buy, model.Market, 0, 10))
	require.NoError(t, err)

	fills, err := b.Advance(map[string]model.Quote{
		"XYZ": {Symbol: "XYZ", Last: 5.0, Mid: 5.0},
	}, false)
	require.NoError(t, err)
	require.Empty(t, fills)

	open, err := b.OpenOrders()
	require.NoError(t, err)
	require.Len(t, open, 1)
}
