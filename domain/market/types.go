package market

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const SymbolMaxLength = 8

// Symbol identifies a tradable instrument. At most SymbolMaxLength bytes.
type Symbol string

func (s Symbol) Validate() error {
	if len(s) == 0 || len(s) > SymbolMaxLength {
		return fmt.Errorf("%w: symbol %q", ErrInvalidArgs, string(s))
	}
	return nil
}

type Side uint8

const (
	Buy Side = iota
	Sell
)

func (s Side) String() string {
	if s == Sell {
		return "sell"
	}
	return "buy"
}

func (s Side) Opposite() Side {
	if s == Buy {
		return Sell
	}
	return Buy
}

func ParseSide(v string) (Side, error) {
	switch v {
	case "buy", "bid":
		return Buy, nil
	case "sell", "ask":
		return Sell, nil
	}
	return Buy, fmt.Errorf("%w: side %q", ErrInvalidArgs, v)
}

// Price is a fixed-point amount in ticks of 1/PriceScale quote units.
// Matching compares ticks directly, so price equality is exact and
// deterministic across replay.
type Price int64

const PriceScale = 10_000

func ParsePrice(v string) (Price, error) {
	d, err := decimal.NewFromString(v)
	if err != nil {
		return 0, fmt.Errorf("%w: price %q", ErrInvalidArgs, v)
	}
	if !d.IsPositive() {
		return 0, fmt.Errorf("%w: price %q must be positive", ErrInvalidArgs, v)
	}
	ticks := d.Mul(decimal.NewFromInt(PriceScale))
	if !ticks.IsInteger() {
		return 0, fmt.Errorf("%w: price %q below tick size", ErrInvalidArgs, v)
	}
	return Price(ticks.IntPart()), nil
}

func (p Price) Decimal() decimal.Decimal {
	return decimal.New(int64(p), 0).Div(decimal.NewFromInt(PriceScale))
}

func (p Price) String() string {
	return p.Decimal().String()
}

type Quantity int64

// User, order, and execution identifiers are 128-bit values so they
// never collide across sessions or restarts.
type (
	UserID      = uuid.UUID
	OrderID     = uuid.UUID
	ExecutionID = uuid.UUID
)

// Timestamp is a (seconds, nanoseconds) pair. UTC, no timezone encoded.
type Timestamp struct {
	Sec  int64
	Nsec int32
}

func Now() Timestamp {
	return FromTime(time.Now())
}

func FromTime(t time.Time) Timestamp {
	return Timestamp{Sec: t.Unix(), Nsec: int32(t.Nanosecond())}
}

func FromUnixNano(ns int64) Timestamp {
	return Timestamp{Sec: ns / 1e9, Nsec: int32(ns % 1e9)}
}

func (t Timestamp) Time() time.Time {
	return time.Unix(t.Sec, int64(t.Nsec)).UTC()
}

func (t Timestamp) UnixNano() int64 {
	return t.Sec*1e9 + int64(t.Nsec)
}

func (t Timestamp) Before(u Timestamp) bool {
	if t.Sec != u.Sec {
		return t.Sec < u.Sec
	}
	return t.Nsec < u.Nsec
}
