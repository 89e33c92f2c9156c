package book

import (
	"container/heap"
	"sort"

	"baldr/domain/market"
)

// resting is one order sitting in the book, tagged with its arrival
// sequence (FIFO tie-break within a price level) and its current heap
// slot so arbitrary cancels stay O(log n).
type resting struct {
	order market.Order
	seq   uint64
	slot  int
}

// bookSide is a binary heap over resting orders ordered by (price,
// arrival sequence), best first, paired with an order-id index that is
// kept current by Swap on every heap move.
type bookSide struct {
	side  market.Side
	heap  []*resting
	index map[market.OrderID]*resting
}

func newBookSide(side market.Side) *bookSide {
	return &bookSide{
		side:  side,
		index: make(map[market.OrderID]*resting),
	}
}

func (s *bookSide) Len() int { return len(s.heap) }

func (s *bookSide) Less(i, j int) bool {
	a, b := s.heap[i], s.heap[j]
	if a.order.Price != b.order.Price {
		if s.side == market.Buy {
			return a.order.Price > b.order.Price
		}
		return a.order.Price < b.order.Price
	}
	return a.seq < b.seq
}

func (s *bookSide) Swap(i, j int) {
	s.heap[i], s.heap[j] = s.heap[j], s.heap[i]
	s.heap[i].slot = i
	s.heap[j].slot = j
}

func (s *bookSide) Push(x any) {
	r := x.(*resting)
	r.slot = len(s.heap)
	s.heap = append(s.heap, r)
	s.index[r.order.ID] = r
}

func (s *bookSide) Pop() any {
	last := len(s.heap) - 1
	r := s.heap[last]
	s.heap[last] = nil
	s.heap = s.heap[:last]
	delete(s.index, r.order.ID)
	r.slot = -1
	return r
}

func (s *bookSide) insert(o market.Order, seq uint64) {
	heap.Push(s, &resting{order: o, seq: seq})
}

// peek returns the highest-priority resting order without removing it.
func (s *bookSide) peek() *resting {
	if len(s.heap) == 0 {
		return nil
	}
	return s.heap[0]
}

func (s *bookSide) get(id market.OrderID) (*resting, bool) {
	r, ok := s.index[id]
	return r, ok
}

// remove deletes an arbitrary resting order by id.
func (s *bookSide) remove(id market.OrderID) (market.Order, bool) {
	r, ok := s.index[id]
	if !ok {
		return market.Order{}, false
	}
	heap.Remove(s, r.slot)
	return r.order, true
}

// popTop removes the current best order. Only called by the match loop
// once the top order is fully filled.
func (s *bookSide) popTop() {
	heap.Pop(s)
}

// ordered returns the side's resting orders most-priority-first. The
// heap array itself is only partially ordered, so this sorts a copy.
func (s *bookSide) ordered() []*resting {
	out := make([]*resting, len(s.heap))
	copy(out, s.heap)
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.order.Price != b.order.Price {
			if s.side == market.Buy {
				return a.order.Price > b.order.Price
			}
			return a.order.Price < b.order.Price
		}
		return a.seq < b.seq
	})
	return out
}
