package service

import (
	"context"
	"time"

	"baldr/snapshot"
)

// StartSnapshotJob periodically snapshots the resting orders and trims
// log segments the snapshot has made redundant.
func (e *Engine) StartSnapshotJob(ctx context.Context, dir string, interval time.Duration) {
	w := &snapshot.Writer{Dir: dir}

	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				e.snapshotOnce(w)
			}
		}
	}()
}

func (e *Engine) snapshotOnce(w *snapshot.Writer) {
	seq, orders, err := e.SnapshotState()
	if err != nil {
		e.log.Warn().Err(err).Msg("snapshot skipped")
		return
	}
	if err := w.Write(seq, orders); err != nil {
		e.log.Error().Err(err).Msg("snapshot write failed")
		return
	}
	e.walMu.Lock()
	err = e.wal.TruncateBefore(seq)
	e.walMu.Unlock()
	if err != nil {
		e.log.Error().Err(err).Msg("wal truncation failed")
		return
	}
	e.log.Info().Uint64("seq", seq).Int("orders", len(orders)).Msg("snapshot written")
}
