package service

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"baldr/domain/book"
	"baldr/domain/market"
	"baldr/infra/outbox"
	"baldr/infra/wal"
)

var (
	// ErrNotReady is returned while recovery has not finished.
	ErrNotReady = errors.New("engine: recovering, not ready")
	// ErrUnavailable is returned after a durable write failure. The
	// engine refuses further traffic, reads included, because
	// in-memory state may be ahead of the durable log.
	ErrUnavailable = errors.New("engine: durable write failed, engine halted")
)

// Config carries the engine's tunables.
type Config struct {
	PreventSelfTrade bool
	MaxDepthLevels   int
}

// shard serializes all access to one symbol's book.
type shard struct {
	mu   sync.Mutex
	book *book.Book
}

// Engine coordinates validation, durability, matching, and
// distribution. Orders on different symbols proceed in parallel;
// orders on the same symbol are strictly serialized.
type Engine struct {
	cfg  Config
	log  zerolog.Logger
	wal  *wal.WAL
	box  *outbox.Outbox
	dist *Distributor

	// stateMu lets submissions run concurrently while a snapshot
	// quiesces the whole engine with the write half.
	stateMu  sync.RWMutex
	shardsMu sync.RWMutex
	shards   map[market.Symbol]*shard

	// walMu serializes appends from different shards.
	walMu sync.Mutex

	// orderSymbols maps resting order ids to their symbol so cancels
	// and modifies do not need the symbol from the caller.
	orderSymbols sync.Map // market.OrderID -> market.Symbol

	dirtyMu sync.Mutex
	dirty   map[market.Symbol]struct{}

	ready  atomic.Bool
	failed atomic.Bool
}

func NewEngine(cfg Config, log zerolog.Logger, w *wal.WAL, box *outbox.Outbox, dist *Distributor) *Engine {
	return &Engine{
		cfg:    cfg,
		log:    log,
		wal:    w,
		box:    box,
		dist:   dist,
		shards: make(map[market.Symbol]*shard),
		dirty:  make(map[market.Symbol]struct{}),
	}
}

// Ready reports whether recovery has completed.
func (e *Engine) Ready() bool { return e.ready.Load() }

func (e *Engine) checkServing() error {
	if e.failed.Load() {
		return ErrUnavailable
	}
	if !e.ready.Load() {
		return ErrNotReady
	}
	return nil
}

func (e *Engine) shardFor(sym market.Symbol) *shard {
	e.shardsMu.RLock()
	s, ok := e.shards[sym]
	e.shardsMu.RUnlock()
	if ok {
		return s
	}

	e.shardsMu.Lock()
	defer e.shardsMu.Unlock()
	if s, ok = e.shards[sym]; ok {
		return s
	}
	policy := book.SelfTradeAllow
	if e.cfg.PreventSelfTrade {
		policy = book.SelfTradeCancelResting
	}
	s = &shard{book: book.New(sym, policy)}
	e.shards[sym] = s
	return s
}

func (e *Engine) markDirty(sym market.Symbol) {
	e.dirtyMu.Lock()
	e.dirty[sym] = struct{}{}
	e.dirtyMu.Unlock()
}

// DrainDirty returns the symbols whose books changed since the last
// call and resets the set.
func (e *Engine) DrainDirty() []market.Symbol {
	e.dirtyMu.Lock()
	defer e.dirtyMu.Unlock()
	if len(e.dirty) == 0 {
		return nil
	}
	out := make([]market.Symbol, 0, len(e.dirty))
	for sym := range e.dirty {
		out = append(out, sym)
	}
	e.dirty = make(map[market.Symbol]struct{})
	return out
}

// SubmitNew validates and matches a new limit order. On return the
// order and all its executions are durable in the log. The returned
// order carries its assigned id and remaining quantity; zero remaining
// means it filled completely and is not resting.
func (e *Engine) SubmitNew(user market.UserID, sym market.Symbol, side market.Side, price market.Price, qty market.Quantity) (market.Order, []market.Execution, error) {
	if err := e.checkServing(); err != nil {
		return market.Order{}, nil, err
	}

	o := market.Order{
		ID:       uuid.New(),
		User:     user,
		Symbol:   sym,
		Side:     side,
		Price:    price,
		Quantity: qty,
		Updated:  market.Now(),
	}
	if err := o.Validate(); err != nil {
		return market.Order{}, nil, err
	}

	e.stateMu.RLock()
	defer e.stateMu.RUnlock()

	s := e.shardFor(sym)
	s.mu.Lock()
	defer s.mu.Unlock()

	result, execs, err := s.book.InsertAndMatch(o, newExecutionID)
	if err != nil {
		return market.Order{}, nil, err
	}

	recs := make([]*wal.Record, 0, 1+len(execs))
	recs = append(recs, &wal.Record{
		Type: wal.RecordNewOrder,
		Time: o.Updated.UnixNano(),
		Data: market.AppendOrder(nil, o),
	})
	for _, x := range execs {
		recs = append(recs, &wal.Record{
			Type: wal.RecordExecution,
			Time: x.TS.UnixNano(),
			Data: market.AppendExecution(nil, x),
		})
	}
	if err := e.logDurably(recs); err != nil {
		return market.Order{}, nil, err
	}

	if result.Quantity > 0 {
		e.orderSymbols.Store(result.ID, sym)
	}
	e.afterMatch(s, execs)
	e.markDirty(sym)
	return result, execs, nil
}

// SubmitCancel removes a resting order. Only its owner may cancel it;
// a foreign or unknown id reports not found either way.
func (e *Engine) SubmitCancel(user market.UserID, id market.OrderID) (market.Order, error) {
	if err := e.checkServing(); err != nil {
		return market.Order{}, err
	}

	v, ok := e.orderSymbols.Load(id)
	if !ok {
		return market.Order{}, market.ErrNotFound
	}
	sym := v.(market.Symbol)

	e.stateMu.RLock()
	defer e.stateMu.RUnlock()

	s := e.shardFor(sym)
	s.mu.Lock()
	defer s.mu.Unlock()

	resting, ok := s.book.Order(id)
	if !ok || resting.User != user {
		return market.Order{}, market.ErrNotFound
	}

	rec := &wal.Record{
		Type: wal.RecordCancel,
		Time: market.Now().UnixNano(),
		Data: market.AppendCancel(nil, market.CancelPayload{User: user, Order: id}),
	}
	if err := e.logDurably([]*wal.Record{rec}); err != nil {
		return market.Order{}, err
	}

	cancelled, _ := s.book.Cancel(id)
	e.orderSymbols.Delete(id)
	e.markDirty(sym)
	return cancelled, nil
}

// SubmitModify changes a resting order's price and/or quantity. Zero
// leaves a field unchanged. A price change or quantity increase loses
// queue priority and may execute immediately.
func (e *Engine) SubmitModify(user market.UserID, id market.OrderID, price market.Price, qty market.Quantity) (market.Order, []market.Execution, error) {
	if err := e.checkServing(); err != nil {
		return market.Order{}, nil, err
	}

	v, ok := e.orderSymbols.Load(id)
	if !ok {
		return market.Order{}, nil, market.ErrNotFound
	}
	sym := v.(market.Symbol)

	e.stateMu.RLock()
	defer e.stateMu.RUnlock()

	s := e.shardFor(sym)
	s.mu.Lock()
	defer s.mu.Unlock()

	resting, ok := s.book.Order(id)
	if !ok || resting.User != user {
		return market.Order{}, nil, market.ErrNotFound
	}

	result, execs, err := s.book.Modify(id, price, qty, newExecutionID)
	if err != nil {
		return market.Order{}, nil, err
	}

	recs := make([]*wal.Record, 0, 1+len(execs))
	recs = append(recs, &wal.Record{
		Type: wal.RecordModify,
		Time: market.Now().UnixNano(),
		Data: market.AppendModify(nil, market.ModifyPayload{
			User: user, Order: id, Price: price, Quantity: qty,
		}),
	})
	for _, x := range execs {
		recs = append(recs, &wal.Record{
			Type: wal.RecordExecution,
			Time: x.TS.UnixNano(),
			Data: market.AppendExecution(nil, x),
		})
	}
	if err := e.logDurably(recs); err != nil {
		return market.Order{}, nil, err
	}

	if result.Quantity == 0 {
		e.orderSymbols.Delete(id)
	}
	e.afterMatch(s, execs)
	e.markDirty(sym)
	return result, execs, nil
}

// logDurably appends the records and fsyncs before returning. Failure
// halts the engine: the book may now be ahead of the log, so no
// further acknowledgements can be issued.
func (e *Engine) logDurably(recs []*wal.Record) error {
	e.walMu.Lock()
	defer e.walMu.Unlock()
	for _, rec := range recs {
		if err := e.wal.Append(rec); err != nil {
			e.halt(err)
			return ErrUnavailable
		}
	}
	if err := e.wal.Sync(); err != nil {
		e.halt(err)
		return ErrUnavailable
	}
	return nil
}

func (e *Engine) halt(err error) {
	if e.failed.CompareAndSwap(false, true) {
		e.log.Error().Err(err).Msg("durable write failed, halting engine")
	}
}

// afterMatch hands executions to the outbox and the distributor, and
// drops index entries for makers that filled completely. Caller holds
// the shard lock. An outbox write failure halts the engine; the
// execution itself is already durable in the log and recovery will
// re-enqueue it on restart.
func (e *Engine) afterMatch(s *shard, execs []market.Execution) {
	for _, x := range execs {
		if _, err := e.box.Put(market.AppendExecution(nil, x)); err != nil {
			e.log.Error().Err(err).Stringer("execution", x.ID).Msg("outbox put failed")
			e.halt(err)
		}
		for _, id := range []market.OrderID{x.BuyOrder, x.SellOrder} {
			if _, ok := s.book.Order(id); !ok {
				e.orderSymbols.Delete(id)
			}
		}
	}
	if len(execs) > 0 {
		e.dist.Publish(execs)
	}
}

// OpenOrders returns the user's resting orders across all symbols.
// Reads fail once the engine halts: after a failed log write the book
// may hold state that was never made durable, and serving it would
// show the client an order a restart will not recover.
func (e *Engine) OpenOrders(user market.UserID) ([]market.Order, error) {
	if err := e.checkServing(); err != nil {
		return nil, err
	}

	e.shardsMu.RLock()
	shards := make([]*shard, 0, len(e.shards))
	for _, s := range e.shards {
		shards = append(shards, s)
	}
	e.shardsMu.RUnlock()

	var out []market.Order
	for _, s := range shards {
		s.mu.Lock()
		for _, o := range s.book.Snapshot() {
			if o.User == user {
				out = append(out, o)
			}
		}
		s.mu.Unlock()
	}
	return out, nil
}

// Depth returns aggregated levels for one symbol, best first.
func (e *Engine) Depth(sym market.Symbol, max int) (bids, asks []book.Level, err error) {
	if err := e.checkServing(); err != nil {
		return nil, nil, err
	}
	if err := sym.Validate(); err != nil {
		return nil, nil, err
	}
	if max < 1 || max > e.cfg.MaxDepthLevels {
		max = e.cfg.MaxDepthLevels
	}

	e.shardsMu.RLock()
	s, ok := e.shards[sym]
	e.shardsMu.RUnlock()
	if !ok {
		return nil, nil, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	bids, asks = s.book.Depth(max)
	return bids, asks, nil
}

// SnapshotState quiesces the engine and returns the current log
// sequence together with every resting order. A halted engine yields
// no snapshot: persisting a book that is ahead of the log would
// launder un-durable state into the next recovery.
func (e *Engine) SnapshotState() (uint64, []market.Order, error) {
	if err := e.checkServing(); err != nil {
		return 0, nil, err
	}

	e.stateMu.Lock()
	defer e.stateMu.Unlock()

	var orders []market.Order
	e.shardsMu.RLock()
	for _, s := range e.shards {
		orders = append(orders, s.book.Snapshot()...)
	}
	e.shardsMu.RUnlock()
	return e.wal.LastSeq(), orders, nil
}

func newExecutionID() market.ExecutionID {
	return uuid.New()
}
