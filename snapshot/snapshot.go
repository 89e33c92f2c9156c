// Package snapshot persists the set of resting orders so recovery can
// skip replaying the WAL from the beginning. A snapshot at Seq plus
// the records after Seq reproduce the full book state.
package snapshot

import (
	"time"

	"baldr/domain/market"
)

type Snapshot struct {
	Seq     uint64
	Created time.Time
	Orders  []market.Order
}
