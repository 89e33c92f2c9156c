package book

import (
	"testing"

	"github.com/google/uuid"

	"baldr/domain/market"
)

func newTestBook() *Book {
	return New("BTCUSD", SelfTradeAllow)
}

func order(user market.UserID, side market.Side, price string, qty int64) market.Order {
	p, err := market.ParsePrice(price)
	if err != nil {
		panic(err)
	}
	return market.Order{
		ID:       uuid.New(),
		User:     user,
		Symbol:   "BTCUSD",
		Side:     side,
		Price:    p,
		Quantity: market.Quantity(qty),
		Updated:  market.Now(),
	}
}

func mustInsert(t *testing.T, b *Book, o market.Order) (market.Order, []market.Execution) {
	t.Helper()
	res, execs, err := b.InsertAndMatch(o, uuid.New)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	return res, execs
}

func price(t *testing.T, v string) market.Price {
	t.Helper()
	p, err := market.ParsePrice(v)
	if err != nil {
		t.Fatalf("parse price %q: %v", v, err)
	}
	return p
}

func TestInsertAndMatchFull(t *testing.T) {
	b := newTestBook()
	buyer, seller := uuid.New(), uuid.New()

	mustInsert(t, b, order(seller, market.Sell, "100", 5))
	res, execs := mustInsert(t, b, order(buyer, market.Buy, "100", 5))

	if res.Quantity != 0 {
		t.Fatalf("expected full fill, remaining %d", res.Quantity)
	}
	if len(execs) != 1 {
		t.Fatalf("expected 1 execution, got %d", len(execs))
	}
	if execs[0].Buyer != buyer || execs[0].Seller != seller {
		t.Error("execution counterparties wrong")
	}
	if b.Len() != 0 {
		t.Errorf("book should be empty, has %d orders", b.Len())
	}
}

func TestMatchAtRestingPrice(t *testing.T) {
	b := newTestBook()
	buyer, seller := uuid.New(), uuid.New()

	// Best maker first: bid at 101 fills before bid at 100, and the
	// taker gets each maker's own price.
	mustInsert(t, b, order(buyer, market.Buy, "101", 5))
	mustInsert(t, b, order(buyer, market.Buy, "100", 5))

	res, execs := mustInsert(t, b, order(seller, market.Sell, "100", 7))
	if res.Quantity != 0 {
		t.Fatalf("expected full fill, remaining %d", res.Quantity)
	}
	if len(execs) != 2 {
		t.Fatalf("expected 2 executions, got %d", len(execs))
	}
	if execs[0].Price != price(t, "101") || execs[0].Quantity != 5 {
		t.Errorf("first fill: got %s x%d, want 101 x5", execs[0].Price, execs[0].Quantity)
	}
	if execs[1].Price != price(t, "100") || execs[1].Quantity != 2 {
		t.Errorf("second fill: got %s x%d, want 100 x2", execs[1].Price, execs[1].Quantity)
	}

	best, ok := b.Best(market.Buy)
	if !ok || best.Price != price(t, "100") || best.Quantity != 3 {
		t.Errorf("best bid after sweep: %+v", best)
	}
}

func TestTimePriorityWithinLevel(t *testing.T) {
	b := newTestBook()
	first, second, taker := uuid.New(), uuid.New(), uuid.New()

	o1, _ := mustInsert(t, b, order(first, market.Buy, "100", 5))
	mustInsert(t, b, order(second, market.Buy, "100", 5))

	_, execs := mustInsert(t, b, order(taker, market.Sell, "100", 5))
	if len(execs) != 1 {
		t.Fatalf("expected 1 execution, got %d", len(execs))
	}
	if execs[0].BuyOrder != o1.ID {
		t.Error("earlier order at the same price should fill first")
	}
}

func TestNonCrossingRests(t *testing.T) {
	b := newTestBook()
	mustInsert(t, b, order(uuid.New(), market.Buy, "99", 5))
	res, execs := mustInsert(t, b, order(uuid.New(), market.Sell, "101", 5))
	if len(execs) != 0 || res.Quantity != 5 {
		t.Fatal("non-crossing order must rest untouched")
	}

	bid, _ := b.Best(market.Buy)
	ask, _ := b.Best(market.Sell)
	if bid.Price >= ask.Price {
		t.Errorf("book crossed: bid %s >= ask %s", bid.Price, ask.Price)
	}
}

func TestQuantityConservation(t *testing.T) {
	b := newTestBook()
	mustInsert(t, b, order(uuid.New(), market.Buy, "100", 3))
	mustInsert(t, b, order(uuid.New(), market.Buy, "100", 4))

	res, execs := mustInsert(t, b, order(uuid.New(), market.Sell, "100", 10))

	var filled market.Quantity
	for _, x := range execs {
		filled += x.Quantity
	}
	if filled+res.Quantity != 10 {
		t.Errorf("filled %d + remaining %d != submitted 10", filled, res.Quantity)
	}
	if res.Quantity != 3 {
		t.Errorf("expected 3 resting, got %d", res.Quantity)
	}
}

func TestDuplicateIDRejected(t *testing.T) {
	b := newTestBook()
	o := order(uuid.New(), market.Buy, "100", 5)
	mustInsert(t, b, o)

	if _, _, err := b.InsertAndMatch(o, uuid.New); err != ErrDuplicateOrder {
		t.Fatalf("expected ErrDuplicateOrder, got %v", err)
	}
}

func TestCancelNonTopOrder(t *testing.T) {
	b := newTestBook()
	mustInsert(t, b, order(uuid.New(), market.Buy, "102", 1))
	mid, _ := mustInsert(t, b, order(uuid.New(), market.Buy, "101", 2))
	mustInsert(t, b, order(uuid.New(), market.Buy, "100", 3))

	cancelled, ok := b.Cancel(mid.ID)
	if !ok || cancelled.ID != mid.ID {
		t.Fatal("cancel of a non-top order failed")
	}
	if _, ok := b.Order(mid.ID); ok {
		t.Error("cancelled order still resting")
	}

	bids, _ := b.Depth(10)
	want := []market.Price{price(t, "102"), price(t, "100")}
	if len(bids) != 2 || bids[0].Price != want[0] || bids[1].Price != want[1] {
		t.Errorf("depth after cancel wrong: %+v", bids)
	}
}

func TestCancelUnknown(t *testing.T) {
	b := newTestBook()
	if _, ok := b.Cancel(uuid.New()); ok {
		t.Fatal("cancel of unknown id must fail")
	}
}

func TestModifyDecreaseKeepsPriority(t *testing.T) {
	b := newTestBook()
	first, _ := mustInsert(t, b, order(uuid.New(), market.Buy, "100", 5))
	mustInsert(t, b, order(uuid.New(), market.Buy, "100", 5))

	if _, _, err := b.Modify(first.ID, 0, 2, uuid.New); err != nil {
		t.Fatalf("modify: %v", err)
	}

	_, execs := mustInsert(t, b, order(uuid.New(), market.Sell, "100", 2))
	if len(execs) != 1 || execs[0].BuyOrder != first.ID {
		t.Error("decreased order should keep queue position")
	}
}

func TestModifyPriceLosesPriorityAndRematches(t *testing.T) {
	b := newTestBook()
	mustInsert(t, b, order(uuid.New(), market.Sell, "101", 5))
	bid, _ := mustInsert(t, b, order(uuid.New(), market.Buy, "100", 5))

	// Raising the bid to the ask crosses immediately.
	res, execs, err := b.Modify(bid.ID, price(t, "101"), 0, uuid.New)
	if err != nil {
		t.Fatalf("modify: %v", err)
	}
	if len(execs) != 1 || execs[0].Price != price(t, "101") {
		t.Fatalf("expected rematch at 101, got %+v", execs)
	}
	if res.Quantity != 0 {
		t.Errorf("expected full fill after modify, remaining %d", res.Quantity)
	}
}

func TestModifyRejectsBadArgs(t *testing.T) {
	b := newTestBook()
	o, _ := mustInsert(t, b, order(uuid.New(), market.Buy, "100", 5))

	if _, _, err := b.Modify(o.ID, 0, 0, uuid.New); err == nil {
		t.Error("modify with no changes must fail")
	}
	if _, _, err := b.Modify(uuid.New(), price(t, "99"), 0, uuid.New); err != market.ErrNotFound {
		t.Errorf("modify of unknown order: got %v", err)
	}
}

func TestSelfTradeAllowedByDefault(t *testing.T) {
	b := newTestBook()
	u := uuid.New()
	mustInsert(t, b, order(u, market.Sell, "100", 5))
	_, execs := mustInsert(t, b, order(u, market.Buy, "100", 5))
	if len(execs) != 1 {
		t.Fatalf("self trade should execute under allow policy, got %d executions", len(execs))
	}
	if execs[0].Buyer != u || execs[0].Seller != u {
		t.Error("self trade counterparties wrong")
	}
}

func TestSelfTradePreventionCancelsResting(t *testing.T) {
	b := New("BTCUSD", SelfTradeCancelResting)
	u, other := uuid.New(), uuid.New()

	own, _ := mustInsert(t, b, order(u, market.Sell, "100", 5))
	mustInsert(t, b, order(other, market.Sell, "100", 5))

	_, execs := mustInsert(t, b, order(u, market.Buy, "100", 5))
	if len(execs) != 1 {
		t.Fatalf("expected 1 execution against the other seller, got %d", len(execs))
	}
	if execs[0].Seller != other {
		t.Error("execution should hit the other user's order")
	}
	if _, ok := b.Order(own.ID); ok {
		t.Error("own resting order should have been cancelled")
	}
}

func TestSnapshotOrdering(t *testing.T) {
	b := newTestBook()
	mustInsert(t, b, order(uuid.New(), market.Buy, "99", 1))
	mustInsert(t, b, order(uuid.New(), market.Buy, "100", 1))
	mustInsert(t, b, order(uuid.New(), market.Sell, "102", 1))
	mustInsert(t, b, order(uuid.New(), market.Sell, "101", 1))

	snap := b.Snapshot()
	if len(snap) != 4 {
		t.Fatalf("expected 4 orders, got %d", len(snap))
	}
	// Bids best first, then asks best first.
	wantPrices := []string{"100", "99", "101", "102"}
	for i, want := range wantPrices {
		if snap[i].Price != price(t, want) {
			t.Errorf("snapshot[%d] price %s, want %s", i, snap[i].Price, want)
		}
	}
}

func TestDepthAggregation(t *testing.T) {
	b := newTestBook()
	mustInsert(t, b, order(uuid.New(), market.Buy, "100", 2))
	mustInsert(t, b, order(uuid.New(), market.Buy, "100", 3))
	mustInsert(t, b, order(uuid.New(), market.Buy, "99", 1))
	mustInsert(t, b, order(uuid.New(), market.Buy, "98", 1))

	bids, _ := b.Depth(2)
	if len(bids) != 2 {
		t.Fatalf("expected 2 levels, got %d", len(bids))
	}
	if bids[0].Price != price(t, "100") || bids[0].Quantity != 5 {
		t.Errorf("level 0: %+v", bids[0])
	}
	if bids[1].Price != price(t, "99") || bids[1].Quantity != 1 {
		t.Errorf("level 1: %+v", bids[1])
	}
}
