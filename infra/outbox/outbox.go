// Package outbox persists execution reports awaiting publication so
// that a crash between matching and Kafka delivery loses nothing.
// Entries move NEW -> SENT -> ACKED and are deleted once acked.
package outbox

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
)

type State uint8

const (
	StateNew State = iota
	StateSent
	StateAcked
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "NEW"
	case StateSent:
		return "SENT"
	case StateAcked:
		return "ACKED"
	default:
		return "UNKNOWN"
	}
}

const keyPrefix = "exec/"

// Entry is one pending execution report. Payload is the encoded
// execution exactly as it will be published.
type Entry struct {
	Seq         uint64
	State       State
	Retries     uint32
	LastAttempt int64
	Payload     []byte
}

// value encoding: [state:1][retries:4][lastAttempt:8][payload...]
func encodeEntry(e *Entry) []byte {
	buf := make([]byte, 13+len(e.Payload))
	buf[0] = byte(e.State)
	binary.BigEndian.PutUint32(buf[1:5], e.Retries)
	binary.BigEndian.PutUint64(buf[5:13], uint64(e.LastAttempt))
	copy(buf[13:], e.Payload)
	return buf
}

func decodeEntry(seq uint64, b []byte) (*Entry, error) {
	if len(b) < 13 {
		return nil, errors.New("outbox: invalid entry length")
	}
	return &Entry{
		Seq:         seq,
		State:       State(b[0]),
		Retries:     binary.BigEndian.Uint32(b[1:5]),
		LastAttempt: int64(binary.BigEndian.Uint64(b[5:13])),
		Payload:     append([]byte(nil), b[13:]...),
	}, nil
}

// Outbox is a pebble-backed durable queue. Keys are zero-padded
// sequence numbers so iteration yields entries in put order.
type Outbox struct {
	db   *pebble.DB
	next uint64
}

func Open(dir string) (*Outbox, error) {
	db, err := pebble.Open(dir, &pebble.Options{
		DisableWAL: false, // we WANT durability
	})
	if err != nil {
		return nil, err
	}

	o := &Outbox{db: db}
	if err := o.restoreSeq(); err != nil {
		db.Close()
		return nil, err
	}
	return o, nil
}

func (o *Outbox) restoreSeq() error {
	iter, err := o.db.NewIter(scanBounds())
	if err != nil {
		return err
	}
	defer iter.Close()
	if iter.Last() && iter.Valid() {
		seq, err := parseKey(iter.Key())
		if err != nil {
			return err
		}
		o.next = seq
	}
	return iter.Error()
}

func (o *Outbox) Close() error { return o.db.Close() }

// Put durably stores a new payload and returns its outbox sequence.
func (o *Outbox) Put(payload []byte) (uint64, error) {
	o.next++
	e := &Entry{Seq: o.next, State: StateNew, Payload: payload}
	if err := o.db.Set(keyFor(e.Seq), encodeEntry(e), pebble.Sync); err != nil {
		return 0, err
	}
	return e.Seq, nil
}

func (o *Outbox) MarkSent(seq uint64, retries uint32, attemptAt int64) error {
	return o.setState(seq, StateSent, retries, attemptAt)
}

func (o *Outbox) MarkAcked(seq uint64, attemptAt int64) error {
	return o.setState(seq, StateAcked, 0, attemptAt)
}

func (o *Outbox) setState(seq uint64, state State, retries uint32, attemptAt int64) error {
	e, err := o.Get(seq)
	if err != nil {
		return err
	}
	e.State = state
	if retries > 0 {
		e.Retries = retries
	}
	e.LastAttempt = attemptAt
	return o.db.Set(keyFor(seq), encodeEntry(e), pebble.Sync)
}

func (o *Outbox) Delete(seq uint64) error {
	return o.db.Delete(keyFor(seq), pebble.Sync)
}

func (o *Outbox) Get(seq uint64) (*Entry, error) {
	val, closer, err := o.db.Get(keyFor(seq))
	if err != nil {
		return nil, err
	}
	defer closer.Close()
	return decodeEntry(seq, val)
}

// ScanPending iterates entries not yet acked, oldest first. SENT
// entries are included because a crash after send but before ack
// leaves them behind; publication is at-least-once.
func (o *Outbox) ScanPending(fn func(*Entry) error) error {
	iter, err := o.db.NewIter(scanBounds())
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		seq, err := parseKey(iter.Key())
		if err != nil {
			return err
		}
		e, err := decodeEntry(seq, iter.Value())
		if err != nil {
			return err
		}
		if e.State == StateAcked {
			continue
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	return iter.Error()
}

func scanBounds() *pebble.IterOptions {
	return &pebble.IterOptions{
		LowerBound: []byte(keyPrefix),
		UpperBound: []byte(keyPrefix + "~"),
	}
}

func keyFor(seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", keyPrefix, seq))
}

func parseKey(b []byte) (uint64, error) {
	var seq uint64
	_, err := fmt.Sscanf(string(b[len(keyPrefix):]), "%d", &seq)
	return seq, err
}
