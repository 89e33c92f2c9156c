package snapshot

import (
	"encoding/gob"
	"os"
	"path/filepath"
	"time"

	"baldr/domain/market"
)

const fileName = "snapshot.bin"

type Writer struct {
	Dir string
}

// Write persists a snapshot atomically: the file is written to a temp
// path, fsynced, then renamed over the previous snapshot. A crash mid
// write leaves the old snapshot intact.
func (w *Writer) Write(seq uint64, orders []market.Order) error {
	if err := os.MkdirAll(w.Dir, 0o755); err != nil {
		return err
	}

	tmp := filepath.Join(w.Dir, fileName+".tmp")
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}

	s := Snapshot{
		Seq:     seq,
		Created: time.Now(),
		Orders:  orders,
	}
	if err := gob.NewEncoder(f).Encode(&s); err != nil {
		f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, filepath.Join(w.Dir, fileName))
}
