package service

import (
	"fmt"

	"baldr/domain/market"
	"baldr/infra/wal"
	"baldr/snapshot"
)

// Recover rebuilds the books from the latest snapshot plus the log
// records after it, then opens the engine for traffic. It must run
// before the first submission.
//
// Replay goes through the same matching code as live traffic, so the
// rebuilt state is byte-for-byte what matching produced originally.
// Execution records are not applied to the books, since re-matching
// the order flow regenerates the same fills; they are re-enqueued to
// the outbox instead, which closes the crash window between a log
// fsync and the outbox write. Publication is at least once, so the
// duplicates this produces after a restart are permitted.
func (e *Engine) Recover(snapDir string) error {
	snap, err := snapshot.Load(snapDir)
	if err != nil {
		return fmt.Errorf("load snapshot: %w", err)
	}

	var afterSeq uint64
	if snap != nil {
		if err := e.restoreSnapshot(snap); err != nil {
			return err
		}
		afterSeq = snap.Seq
		e.log.Info().
			Uint64("seq", snap.Seq).
			Int("orders", len(snap.Orders)).
			Time("created", snap.Created).
			Msg("snapshot restored")
	}

	var applied, skipped int
	err = e.wal.ReplayFrom(afterSeq, func(rec *wal.Record) error {
		if e.applyRecord(rec) {
			applied++
		} else {
			skipped++
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("wal replay: %w", err)
	}

	e.ready.Store(true)
	e.log.Info().
		Uint64("last_seq", e.wal.LastSeq()).
		Int("applied", applied).
		Int("skipped", skipped).
		Msg("recovery complete")
	return nil
}

// restoreSnapshot re-inserts resting orders through the live matching
// path. Snapshot order is priority order per side, which preserves
// time priority, and a snapshot book is never crossed, so no
// executions can occur.
func (e *Engine) restoreSnapshot(snap *snapshot.Snapshot) error {
	for _, o := range snap.Orders {
		s := e.shardFor(o.Symbol)
		res, execs, err := s.book.InsertAndMatch(o, newExecutionID)
		if err != nil {
			return fmt.Errorf("restore order %s: %w", o.ID, err)
		}
		if len(execs) > 0 || res.Quantity != o.Quantity {
			return fmt.Errorf("snapshot book is crossed at order %s", o.ID)
		}
		e.orderSymbols.Store(o.ID, o.Symbol)
	}
	return nil
}

// applyRecord applies one log record to the books. Malformed payloads
// and references to unknown orders are warnings, not failures: the
// frame CRC already passed, so the record is old but intact, and an
// unknown id usually means the order filled before a cancel landed.
func (e *Engine) applyRecord(rec *wal.Record) (applied bool) {
	switch rec.Type {
	case wal.RecordNewOrder:
		o, err := market.ConsumeOrder(rec.Data)
		if err != nil {
			e.warnRecord(rec, "undecodable new order")
			return false
		}
		s := e.shardFor(o.Symbol)
		res, execs, err := s.book.InsertAndMatch(o, newExecutionID)
		if err != nil {
			e.warnRecord(rec, "replayed order rejected")
			return false
		}
		if res.Quantity > 0 {
			e.orderSymbols.Store(res.ID, o.Symbol)
		}
		e.reindexAfterReplay(s, execs)
		return true

	case wal.RecordCancel:
		c, err := market.ConsumeCancel(rec.Data)
		if err != nil {
			e.warnRecord(rec, "undecodable cancel")
			return false
		}
		v, ok := e.orderSymbols.Load(c.Order)
		if !ok {
			e.warnRecord(rec, "cancel for unknown order")
			return false
		}
		s := e.shardFor(v.(market.Symbol))
		if _, ok := s.book.Cancel(c.Order); !ok {
			e.warnRecord(rec, "cancel for unknown order")
			return false
		}
		e.orderSymbols.Delete(c.Order)
		return true

	case wal.RecordModify:
		m, err := market.ConsumeModify(rec.Data)
		if err != nil {
			e.warnRecord(rec, "undecodable modify")
			return false
		}
		v, ok := e.orderSymbols.Load(m.Order)
		if !ok {
			e.warnRecord(rec, "modify for unknown order")
			return false
		}
		s := e.shardFor(v.(market.Symbol))
		res, execs, err := s.book.Modify(m.Order, m.Price, m.Quantity, newExecutionID)
		if err != nil {
			e.warnRecord(rec, "modify for unknown order")
			return false
		}
		if res.Quantity == 0 {
			e.orderSymbols.Delete(m.Order)
		}
		e.reindexAfterReplay(s, execs)
		return true

	case wal.RecordExecution:
		// Book state was reproduced by re-matching; the record is
		// re-enqueued so the broadcaster publishes it even if the
		// original outbox write never happened.
		if _, err := market.ConsumeExecution(rec.Data); err != nil {
			e.warnRecord(rec, "undecodable execution")
			return false
		}
		if _, err := e.box.Put(rec.Data); err != nil {
			e.warnRecord(rec, "outbox enqueue failed")
			return false
		}
		return true

	default:
		e.warnRecord(rec, "unknown record type")
		return false
	}
}

func (e *Engine) reindexAfterReplay(s *shard, execs []market.Execution) {
	for _, x := range execs {
		for _, id := range []market.OrderID{x.BuyOrder, x.SellOrder} {
			if _, ok := s.book.Order(id); !ok {
				e.orderSymbols.Delete(id)
			}
		}
	}
}

func (e *Engine) warnRecord(rec *wal.Record, msg string) {
	e.log.Warn().
		Uint64("seq", rec.Seq).
		Stringer("type", rec.Type).
		Msg(msg)
}
