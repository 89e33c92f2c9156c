package book

import (
	"errors"

	"baldr/domain/market"
)

var (
	// ErrDuplicateOrder rejects an insert whose id is already resting.
	ErrDuplicateOrder = errors.New("book: duplicate order id")
)

// SelfTradePolicy decides what happens when an incoming order would
// cross one of the same user's resting orders.
type SelfTradePolicy uint8

const (
	// SelfTradeAllow lets the two orders execute against each other.
	SelfTradeAllow SelfTradePolicy = iota
	// SelfTradeCancelResting removes the user's resting order without
	// an execution and keeps matching.
	SelfTradeCancelResting
)

// Book is the price-time-priority order book for one symbol. It is not
// safe for concurrent use; the matching engine serializes all access.
type Book struct {
	symbol  market.Symbol
	bids    *bookSide
	asks    *bookSide
	arrival uint64
	policy  SelfTradePolicy
}

func New(symbol market.Symbol, policy SelfTradePolicy) *Book {
	return &Book{
		symbol: symbol,
		bids:   newBookSide(market.Buy),
		asks:   newBookSide(market.Sell),
		policy: policy,
	}
}

func (b *Book) Symbol() market.Symbol { return b.symbol }

func (b *Book) Len() int { return b.bids.Len() + b.asks.Len() }

func (b *Book) sideFor(s market.Side) *bookSide {
	if s == market.Buy {
		return b.bids
	}
	return b.asks
}

// InsertAndMatch matches the incoming order against the opposite side,
// then rests any remainder. It returns the order's resulting state
// (Quantity zero means fully filled, not inserted) and the executions
// produced, in match order. Execution ids come from nextExecID so the
// caller controls id assignment during both live matching and replay.
func (b *Book) InsertAndMatch(o market.Order, nextExecID func() market.ExecutionID) (market.Order, []market.Execution, error) {
	if _, ok := b.bids.get(o.ID); ok {
		return o, nil, ErrDuplicateOrder
	}
	if _, ok := b.asks.get(o.ID); ok {
		return o, nil, ErrDuplicateOrder
	}

	execs := b.match(&o, nextExecID)
	if o.Quantity > 0 {
		b.arrival++
		b.sideFor(o.Side).insert(o, b.arrival)
	}
	return o, execs, nil
}

func (b *Book) match(o *market.Order, nextExecID func() market.ExecutionID) []market.Execution {
	var execs []market.Execution
	opp := b.sideFor(o.Side.Opposite())

	for o.Quantity > 0 {
		top := opp.peek()
		if top == nil || !crosses(o, &top.order) {
			break
		}

		if top.order.User == o.User && b.policy == SelfTradeCancelResting {
			opp.popTop()
			continue
		}

		q := o.Quantity
		if top.order.Quantity < q {
			q = top.order.Quantity
		}

		execs = append(execs, newExecution(nextExecID(), o, &top.order, q))

		now := market.Now()
		o.Quantity -= q
		o.Updated = now
		top.order.Quantity -= q
		top.order.Updated = now
		if top.order.Quantity == 0 {
			opp.popTop()
		}
	}
	return execs
}

// crosses reports whether the incoming order trades against a resting
// one: a buy crosses any ask at or below its limit, a sell any bid at
// or above it.
func crosses(incoming, rest *market.Order) bool {
	if incoming.Side == market.Buy {
		return rest.Price <= incoming.Price
	}
	return rest.Price >= incoming.Price
}

// newExecution builds a fill at the resting order's price: the maker
// sets the price, the taker crosses it.
func newExecution(id market.ExecutionID, incoming, rest *market.Order, q market.Quantity) market.Execution {
	e := market.Execution{
		ID:       id,
		TS:       market.Now(),
		Symbol:   rest.Symbol,
		Price:    rest.Price,
		Quantity: q,
	}
	if incoming.Side == market.Buy {
		e.Buyer, e.BuyOrder = incoming.User, incoming.ID
		e.Seller, e.SellOrder = rest.User, rest.ID
	} else {
		e.Buyer, e.BuyOrder = rest.User, rest.ID
		e.Seller, e.SellOrder = incoming.User, incoming.ID
	}
	return e
}

// Cancel removes a resting order by id.
func (b *Book) Cancel(id market.OrderID) (market.Order, bool) {
	if o, ok := b.bids.remove(id); ok {
		return o, true
	}
	return b.asks.remove(id)
}

// Order returns a resting order by id.
func (b *Book) Order(id market.OrderID) (market.Order, bool) {
	if r, ok := b.bids.get(id); ok {
		return r.order, true
	}
	if r, ok := b.asks.get(id); ok {
		return r.order, true
	}
	return market.Order{}, false
}

// Modify changes a resting order's price and/or quantity. Zero means
// leave that field unchanged. A pure quantity decrease keeps the
// order's queue position; a price change or a quantity increase loses
// time priority and is treated as cancel plus re-insert, which may
// match immediately.
func (b *Book) Modify(id market.OrderID, newPrice market.Price, newQty market.Quantity, nextExecID func() market.ExecutionID) (market.Order, []market.Execution, error) {
	if newPrice < 0 || newQty < 0 || (newPrice == 0 && newQty == 0) {
		return market.Order{}, nil, market.ErrInvalidArgs
	}

	side := b.bids
	r, ok := side.get(id)
	if !ok {
		side = b.asks
		if r, ok = side.get(id); !ok {
			return market.Order{}, nil, market.ErrNotFound
		}
	}

	if newPrice == 0 && newQty <= r.order.Quantity {
		r.order.Quantity = newQty
		r.order.Updated = market.Now()
		return r.order, nil, nil
	}

	side.remove(id)
	o := r.order
	if newPrice != 0 {
		o.Price = newPrice
	}
	if newQty != 0 {
		o.Quantity = newQty
	}
	o.Updated = market.Now()
	return b.InsertAndMatch(o, nextExecID)
}

// Snapshot returns all resting orders, bids then asks, each side
// most-priority-first.
func (b *Book) Snapshot() []market.Order {
	out := make([]market.Order, 0, b.Len())
	for _, r := range b.bids.ordered() {
		out = append(out, r.order)
	}
	for _, r := range b.asks.ordered() {
		out = append(out, r.order)
	}
	return out
}

// Level is one aggregated price level of depth data.
type Level struct {
	Price    market.Price
	Quantity market.Quantity
}

// Best returns the given side's best price with the total quantity
// resting at that price.
func (b *Book) Best(s market.Side) (Level, bool) {
	side := b.sideFor(s)
	top := side.peek()
	if top == nil {
		return Level{}, false
	}
	lvl := Level{Price: top.order.Price}
	for _, r := range side.heap {
		if r.order.Price == lvl.Price {
			lvl.Quantity += r.order.Quantity
		}
	}
	return lvl, true
}

// Depth aggregates up to max price levels per side, best first.
func (b *Book) Depth(max int) (bids, asks []Level) {
	return aggregate(b.bids.ordered(), max), aggregate(b.asks.ordered(), max)
}

func aggregate(ordered []*resting, max int) []Level {
	var out []Level
	for _, r := range ordered {
		if n := len(out); n > 0 && out[n-1].Price == r.order.Price {
			out[n-1].Quantity += r.order.Quantity
			continue
		}
		if len(out) == max {
			break
		}
		out = append(out, Level{Price: r.order.Price, Quantity: r.order.Quantity})
	}
	return out
}
