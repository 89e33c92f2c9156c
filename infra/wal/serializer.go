package wal

import (
	"errors"
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

var ErrCorruptRecord = errors.New("wal: corrupted record")

// Serializer turns a Record into a frame payload and back. The frame
// header (length and CRC) is owned by the log itself, so an encoder
// only deals with the body.
type Serializer interface {
	Encode(*Record) ([]byte, error)
	Decode([]byte) (*Record, error)
}

// WireSerializer encodes records as protobuf wire format:
// 1=type varint, 2=seq varint, 3=time varint, 4=data bytes.
type WireSerializer struct{}

func (WireSerializer) Encode(rec *Record) ([]byte, error) {
	b := make([]byte, 0, 24+len(rec.Data))
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(rec.Type))
	b = protowire.AppendTag(b, 2, protowire.VarintType)
	b = protowire.AppendVarint(b, rec.Seq)
	b = protowire.AppendTag(b, 3, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(rec.Time))
	b = protowire.AppendTag(b, 4, protowire.BytesType)
	b = protowire.AppendBytes(b, rec.Data)
	return b, nil
}

func (WireSerializer) Decode(body []byte) (*Record, error) {
	rec := &Record{}
	for len(body) > 0 {
		num, typ, n := protowire.ConsumeTag(body)
		if n < 0 {
			return nil, ErrCorruptRecord
		}
		body = body[n:]

		switch typ {
		case protowire.VarintType:
			v, n := protowire.ConsumeVarint(body)
			if n < 0 {
				return nil, ErrCorruptRecord
			}
			body = body[n:]
			switch num {
			case 1:
				rec.Type = RecordType(v)
			case 2:
				rec.Seq = v
			case 3:
				rec.Time = int64(v)
			}
		case protowire.BytesType:
			v, n := protowire.ConsumeBytes(body)
			if n < 0 {
				return nil, ErrCorruptRecord
			}
			body = body[n:]
			if num == 4 {
				rec.Data = append([]byte(nil), v...)
			}
		default:
			n := protowire.ConsumeFieldValue(num, typ, body)
			if n < 0 {
				return nil, ErrCorruptRecord
			}
			body = body[n:]
		}
	}
	if rec.Type == 0 || rec.Seq == 0 {
		return nil, fmt.Errorf("%w: missing type or seq", ErrCorruptRecord)
	}
	return rec, nil
}
