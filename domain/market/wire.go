package market

// Persisted payload codecs. Records are tiny and sit on the submit hot
// path, so they are encoded with protowire directly instead of going
// through reflection-based proto marshalling.

import (
	"fmt"

	"github.com/google/uuid"
	"google.golang.org/protobuf/encoding/protowire"
)

var errTruncated = fmt.Errorf("market: truncated payload")

func appendUUID(b []byte, num protowire.Number, id uuid.UUID) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, id[:])
}

func consumeUUID(v []byte) (uuid.UUID, error) {
	var id uuid.UUID
	if len(v) != 16 {
		return id, fmt.Errorf("market: uuid payload of %d bytes", len(v))
	}
	copy(id[:], v)
	return id, nil
}

// AppendOrder encodes an order for the WAL new-order record.
func AppendOrder(b []byte, o Order) []byte {
	b = appendUUID(b, 1, o.ID)
	b = appendUUID(b, 2, o.User)
	b = protowire.AppendTag(b, 3, protowire.BytesType)
	b = protowire.AppendString(b, string(o.Symbol))
	b = protowire.AppendTag(b, 4, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(o.Side))
	b = protowire.AppendTag(b, 5, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeZigZag(int64(o.Price)))
	b = protowire.AppendTag(b, 6, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(o.Quantity))
	b = protowire.AppendTag(b, 7, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(o.Updated.Sec))
	b = protowire.AppendTag(b, 8, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(o.Updated.Nsec))
	return b
}

func ConsumeOrder(b []byte) (Order, error) {
	var o Order
	err := walkFields(b, func(num protowire.Number, varint uint64, bytes []byte) error {
		var err error
		switch num {
		case 1:
			o.ID, err = consumeUUID(bytes)
		case 2:
			o.User, err = consumeUUID(bytes)
		case 3:
			o.Symbol = Symbol(bytes)
		case 4:
			o.Side = Side(varint)
		case 5:
			o.Price = Price(protowire.DecodeZigZag(varint))
		case 6:
			o.Quantity = Quantity(varint)
		case 7:
			o.Updated.Sec = int64(varint)
		case 8:
			o.Updated.Nsec = int32(varint)
		}
		return err
	})
	return o, err
}

// CancelPayload identifies the order a cancel intent targets.
type CancelPayload struct {
	User  UserID
	Order OrderID
}

func AppendCancel(b []byte, c CancelPayload) []byte {
	b = appendUUID(b, 1, c.User)
	b = appendUUID(b, 2, c.Order)
	return b
}

func ConsumeCancel(b []byte) (CancelPayload, error) {
	var c CancelPayload
	err := walkFields(b, func(num protowire.Number, varint uint64, bytes []byte) error {
		var err error
		switch num {
		case 1:
			c.User, err = consumeUUID(bytes)
		case 2:
			c.Order, err = consumeUUID(bytes)
		}
		return err
	})
	return c, err
}

// ModifyPayload carries a modify intent. Zero Price or Quantity means
// that field is left unchanged (both are strictly positive when set).
type ModifyPayload struct {
	User     UserID
	Order    OrderID
	Price    Price
	Quantity Quantity
}

func AppendModify(b []byte, m ModifyPayload) []byte {
	b = appendUUID(b, 1, m.User)
	b = appendUUID(b, 2, m.Order)
	b = protowire.AppendTag(b, 3, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeZigZag(int64(m.Price)))
	b = protowire.AppendTag(b, 4, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(m.Quantity))
	return b
}

func ConsumeModify(b []byte) (ModifyPayload, error) {
	var m ModifyPayload
	err := walkFields(b, func(num protowire.Number, varint uint64, bytes []byte) error {
		var err error
		switch num {
		case 1:
			m.User, err = consumeUUID(bytes)
		case 2:
			m.Order, err = consumeUUID(bytes)
		case 3:
			m.Price = Price(protowire.DecodeZigZag(varint))
		case 4:
			m.Quantity = Quantity(varint)
		}
		return err
	})
	return m, err
}

func AppendExecution(b []byte, e Execution) []byte {
	b = appendUUID(b, 1, e.ID)
	b = protowire.AppendTag(b, 2, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(e.TS.Sec))
	b = protowire.AppendTag(b, 3, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(e.TS.Nsec))
	b = protowire.AppendTag(b, 4, protowire.BytesType)
	b = protowire.AppendString(b, string(e.Symbol))
	b = appendUUID(b, 5, e.Buyer)
	b = appendUUID(b, 6, e.Seller)
	b = appendUUID(b, 7, e.BuyOrder)
	b = appendUUID(b, 8, e.SellOrder)
	b = protowire.AppendTag(b, 9, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeZigZag(int64(e.Price)))
	b = protowire.AppendTag(b, 10, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(e.Quantity))
	return b
}

func ConsumeExecution(b []byte) (Execution, error) {
	var e Execution
	err := walkFields(b, func(num protowire.Number, varint uint64, bytes []byte) error {
		var err error
		switch num {
		case 1:
			e.ID, err = consumeUUID(bytes)
		case 2:
			e.TS.Sec = int64(varint)
		case 3:
			e.TS.Nsec = int32(varint)
		case 4:
			e.Symbol = Symbol(bytes)
		case 5:
			e.Buyer, err = consumeUUID(bytes)
		case 6:
			e.Seller, err = consumeUUID(bytes)
		case 7:
			e.BuyOrder, err = consumeUUID(bytes)
		case 8:
			e.SellOrder, err = consumeUUID(bytes)
		case 9:
			e.Price = Price(protowire.DecodeZigZag(varint))
		case 10:
			e.Quantity = Quantity(varint)
		}
		return err
	})
	return e, err
}

// walkFields drives a protowire field loop, handing each field to fn as
// either a varint or a byte slice depending on its wire type. Unknown
// fields are skipped so payloads can grow without breaking old readers.
func walkFields(b []byte, fn func(num protowire.Number, varint uint64, bytes []byte) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return errTruncated
		}
		b = b[n:]

		switch typ {
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return errTruncated
			}
			b = b[n:]
			if err := fn(num, v, nil); err != nil {
				return err
			}
		case protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return errTruncated
			}
			b = b[n:]
			if err := fn(num, 0, v); err != nil {
				return err
			}
		default:
			n := protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return errTruncated
			}
			b = b[n:]
		}
	}
	return nil
}
