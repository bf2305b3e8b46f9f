package model

import (
	"time"

	"github.com/google/uuid"
)

// OrderSide distinguishes buys from sells.
type OrderSide string

const (
	Buy  OrderSide = "BUY"
	Sell OrderSide = "SELL"
)

// OrderType is the execution style of an order.
type OrderType string

const (
	Market OrderType = "MARKET"
	Limit  OrderType = "LIMIT"
)

// OrderStatus tracks an order through its lifecycle. Transitions are
// monotonic: NEW -> WORKING -> {FILLED | CANCELLED | REJECTED}.
type OrderStatus string

const (
	StatusNew       OrderStatus = "NEW"
	StatusWorking   OrderStatus = "WORKING"
	StatusFilled    OrderStatus = "FILLED"
	StatusCancelled OrderStatus = "CANCELLED"
	StatusRejected  OrderStatus = "REJECTED"
)

// Terminal reports whether no further status transitions are allowed.
func (s OrderStatus) Terminal() bool {
	switch s {
	case StatusFilled, StatusCancelled, StatusRejected:
		return true
	}
	return false
}

// Open reports whether the order is still live at the broker.
func (s OrderStatus) Open() bool {
	return s == StatusNew || s == StatusWorking
}

// Order is a buy or sell instruction. Quantity is immutable after
// creation; tags drive downstream policy (entry, target_10, ...).
type Order struct {
	ID        string      `json:"id"`
	Symbol    string      `json:"symbol"`
	Side      OrderSide   `json:"side"`
	Type      OrderType   `json:"type"`
	Price     float64     `json:"price,omitempty"`
	Quantity  int         `json:"quantity"`
	Status    OrderStatus `json:"status"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
	Tags      []string    `json:"tags,omitempty"`
}

// NewOrder builds an order with a fresh id and NEW status.
func NewOrder(symbol string, side OrderSide, typ OrderType, price float64, quantity int, tags ...string) *Order {
	now := time.Now().UTC()
	return &Order{
		ID:        uuid.NewString(),
		Symbol:    symbol,
		Side:      side,
		Type:      typ,
		Price:     price,
		Quantity:  quantity,
		Status:    StatusNew,
		CreatedAt: now,
		UpdatedAt: now,
		Tags:      tags,
	}
}

// MarkStatus advances the order status. Transitions out of a terminal
// state are ignored so repeated broker updates cannot resurrect an order.
func (o *Order) MarkStatus(status OrderStatus) {
	if o.Status.Terminal() {
		return
	}
	o.Status = status
	o.UpdatedAt = time.Now().UTC()
}

// HasTag reports whether the order carries the given tag.
func (o *Order) HasTag(tag string) bool {
	for _, t := range o.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the order.
func (o *Order) Clone() *Order {
	cp := *o
	cp.Tags = append([]string(nil), o.Tags...)
	return &cp
}

// Fill is an execution report for part or all of an order. Immutable;
// the id is the dedupe key against double-processing.
type Fill struct {
	ID        string    `json:"id"`
	OrderID   string    `json:"order_id"`
	Symbol    string    `json:"symbol"`
	Side      OrderSide `json:"side"`
	Quantity  int       `json:"quantity"`
	Price     float64   `json:"price"`
	Timestamp time.Time `json:"timestamp"`
}

// NewFill builds a fill with a fresh id stamped now.
func NewFill(orderID, symbol string, side OrderSide, quantity int, price float64) *Fill {
	return &Fill{
		ID:        uuid.NewString(),
		OrderID:   orderID,
		Symbol:    symbol,
		Side:      side,
		Quantity:  quantity,
		Price:     price,
		Timestamp: time.Now().UTC(),
	}
}

// Position is the per-symbol holding. Created on the first buy fill,
// closed (never deleted) when shares reach zero, and may be reopened by
// a later buy on a different trading day.
type Position struct {
	Symbol           string   `json:"symbol"`
	TotalShares      int      `json:"total_shares"`
	AvgPrice         float64  `json:"avg_price"`
	CashInvested     float64  `json:"cash_invested"`
	RealizedPnL      float64  `json:"realized_pnl"`
	OpenTargetOrders []string `json:"open_target_orders"`
	Closed           bool     `json:"closed"`
	LastEntryDate    string   `json:"last_entry_date,omitempty"`
}

// ApplyBuyFill folds a buy fill into the position, recomputing the
// volume-weighted average price.
func (p *Position) ApplyBuyFill(f *Fill) {
	totalCost := p.AvgPrice*float64(p.TotalShares) + f.Price*float64(f.Quantity)
	p.TotalShares += f.Quantity
	p.CashInvested += f.Price * float64(f.Quantity)
	if p.TotalShares > 0 {
		p.AvgPrice = totalCost / float64(p.TotalShares)
	} else {
		p.AvgPrice = 0
	}
	p.Closed = false
}

// ApplySellFill reduces shares and accrues realized PnL at the
// pre-fill average price. Flat positions are marked closed.
func (p *Position) ApplySellFill(f *Fill) {
	proceeds := f.Price * float64(f.Quantity)
	costBasis := p.AvgPrice * float64(f.Quantity)
	p.TotalShares -= f.Quantity
	p.RealizedPnL += proceeds - costBasis
	if p.TotalShares <= 0 {
		p.TotalShares = 0
		p.AvgPrice = 0
		p.Closed = true
	}
}

// RemoveTargetOrder drops an order id from the open target list.
func (p *Position) RemoveTargetOrder(orderID string) {
	for i, id := range p.OpenTargetOrders {
		if id == orderID {
			p.OpenTargetOrders = append(p.OpenTargetOrders[:i], p.OpenTargetOrders[i+1:]...)
			return
		}
	}
}

// Quote is a transient market snapshot. High is the intraday
// high-of-day when the data source supplies one.
type Quote struct {
	Symbol    string
	Bid       float64
	Ask       float64
	Last      float64
	Mid       float64
	High      float64
	Timestamp time.Time
}

// NewQuote derives the mid from bid/ask when not supplied.
func NewQuote(symbol string, bid, ask, last float64) Quote {
	return Quote{
		Symbol:    symbol,
		Bid:       bid,
		Ask:       ask,
		Last:      last,
		Mid:       (bid + ask) / 2,
		Timestamp: time.Now().UTC(),
	}
}
