package market

import "fmt"

// Order is a client order. Quantity is the remaining unfilled amount and
// only ever decreases; an order at zero quantity leaves the book and is
// immutable history from then on.
type Order struct {
	ID       OrderID
	User     UserID
	Symbol   Symbol
	Side     Side
	Price    Price
	Quantity Quantity
	Updated  Timestamp
}

func (o Order) Validate() error {
	if err := o.Symbol.Validate(); err != nil {
		return err
	}
	if o.Price <= 0 {
		return fmt.Errorf("%w: price %d", ErrInvalidArgs, o.Price)
	}
	if o.Quantity <= 0 {
		return fmt.Errorf("%w: quantity %d", ErrInvalidArgs, o.Quantity)
	}
	return nil
}

func (o Order) String() string {
	return fmt.Sprintf("order %s: %s %d %s @ %s", o.ID, o.Side, o.Quantity, o.Symbol, o.Price)
}

// Execution is one fill between two orders. Immutable once created.
// Price is always the resting order's price.
type Execution struct {
	ID        ExecutionID
	TS        Timestamp
	Symbol    Symbol
	Buyer     UserID
	Seller    UserID
	BuyOrder  OrderID
	SellOrder OrderID
	Price     Price
	Quantity  Quantity
}

func (e Execution) String() string {
	return fmt.Sprintf("execution %s: %s bought %d %s from %s @ %s",
		e.ID, e.Buyer, e.Quantity, e.Symbol, e.Seller, e.Price)
}

// UserExecution is one counterparty's view of an Execution.
type UserExecution struct {
	ID       ExecutionID
	Order    OrderID
	Symbol   Symbol
	Side     Side
	Price    Price
	Quantity Quantity
	TS       Timestamp
}

// ForUser projects the execution onto one of its counterparties.
// Returns false if u was on neither side. A self-trade matches the buy
// side first; the caller publishes both sides separately in that case.
func (e Execution) ForUser(u UserID) (UserExecution, bool) {
	switch u {
	case e.Buyer:
		return e.forSide(Buy), true
	case e.Seller:
		return e.forSide(Sell), true
	}
	return UserExecution{}, false
}

func (e Execution) forSide(s Side) UserExecution {
	ue := UserExecution{
		ID:       e.ID,
		Symbol:   e.Symbol,
		Side:     s,
		Price:    e.Price,
		Quantity: e.Quantity,
		TS:       e.TS,
	}
	if s == Buy {
		ue.Order = e.BuyOrder
	} else {
		ue.Order = e.SellOrder
	}
	return ue
}
