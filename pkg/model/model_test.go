package model

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestApplyBuyFillWeightedAverage(t *testing.T) {
	pos := &Position{Symbol: "ABC"}
	pos.ApplyBuyFill(NewFill("o1", "ABC", Buy, 10, 50.0))
	require.Equal(t, 10, pos.TotalShares)
	require.InDelta(t, 50.0, pos.AvgPrice, 1e-9)

	pos.ApplyBuyFill(NewFill("o2", "ABC", Buy, 10, 60.0))
	require.Equal(t, 20, pos.TotalShares)
	require.InDelta(t, 55.0, pos.AvgPrice, 1e-9)
	require.InDelta(t, 1100.0, pos.CashInvested, 1e-9)
	require.False(t, pos.Closed)
}

func TestApplySellFillRealizesPnL(t *testing.T) {
	pos := &Position{Symbol: "ABC"}
	pos.ApplyBuyFill(NewFill("o1", "ABC", Buy, 20, 50.0))

	pos.ApplySellFill(NewFill("o2", "ABC", Sell, 5, 55.0))
	require.Equal(t, 15, pos.TotalShares)
	require.InDelta(t, 25.0, pos.RealizedPnL, 1e-9)
	require.False(t, pos.Closed)
	// The average price of the remaining shares does not move on a sell.
	require.InDelta(t, 50.0, pos.AvgPrice, 1e-9)

	pos.ApplySellFill(NewFill("o3", "ABC", Sell, 15, 60.0))
	require.Equal(t, 0, pos.TotalShares)
	require.InDelta(t, 175.0, pos.RealizedPnL, 1e-9)
	require.True(t, pos.Closed)
	require.Zero(t, pos.AvgPrice)
}

func TestPositionReopensAfterClose(t *testing.T) {
	pos := &Position{Symbol: "ABC"}
	pos.ApplyBuyFill(NewFill("o1", "ABC", Buy, 4, 10.0))
	pos.ApplySellFill(NewFill("o2", "ABC", Sell, 4, 12.0))
	require.True(t, pos.Closed)

	pos.ApplyBuyFill(NewFill("o3", "ABC", Buy, 6, 20.0))
	require.False(t, pos.Closed)
	require.Equal(t, 6, pos.TotalShares)
	require.InDelta(t, 20.0, pos.AvgPrice, 1e-9)
	// Realized PnL carries across the reopen.
	require.InDelta(t, 8.0, pos.RealizedPnL, 1e-9)
}

func TestMarkStatusTerminalIsSticky(t *testing.T) {
	o := NewOrder("ABC", Buy, Market, 0, 10, "entry")
	require.Equal(t, StatusNew, o.Status)
	require.True(t, o.Status.Open())

	o.MarkStatus(StatusWorking)
	o.MarkStatus(StatusFilled)
	require.Equal(t, StatusFilled, o.Status)
	require.True(t, o.Status.Terminal())

	o.MarkStatus(StatusCancelled)
	require.Equal(t, StatusFilled, o.Status)
}

func TestRemoveTargetOrder(t *testing.T) {
	pos := &Position{Symbol: "ABC", OpenTargetOrders: []string{"a", "b", "c"}}
	pos.RemoveTargetOrder("b")
	require.Equal(t, []string{"a", "c"}, pos.OpenTargetOrders)
	pos.RemoveTargetOrder("missing")
	require.Equal(t, []string{"a", "c"}, pos.OpenTargetOrders)
}

func TestNewQuoteDerivesMid(t *testing.T) {
	q := NewQuote("ABC", 9.9, 10.1, 10.0)
	require.InDelta(t, 10.0, q.Mid, 1e-9)
}
