// waldump prints the records of a log directory in order, for
// inspecting what the engine persisted. Undecodable payloads are shown
// as raw lengths so a partially corrupted log can still be examined.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"baldr/domain/market"
	"baldr/infra/wal"
)

func main() {
	dir := flag.String("dir", "./data/wal", "wal directory")
	after := flag.Uint64("after", 0, "only records with seq greater than this")
	flag.Parse()

	entries, err := wal.LoadIndex(*dir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "load index:", err)
		os.Exit(1)
	}

	files := make([]string, 0, len(entries)+1)
	for _, e := range entries {
		files = append(files, e.File)
	}
	files = append(files, "current.wal")

	for _, name := range files {
		path := filepath.Join(*dir, name)
		if err := dumpFile(path, name, *after); err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", name, err)
			os.Exit(1)
		}
	}
}

func dumpFile(path, name string, after uint64) error {
	r, err := wal.OpenReader(path, wal.WireSerializer{})
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer r.Close()

	for r.Next() {
		rec := r.Record()
		if rec.Seq <= after {
			continue
		}
		ts := time.Unix(0, rec.Time).UTC().Format(time.RFC3339Nano)
		fmt.Printf("%s seq=%d %s %s %s\n", name, rec.Seq, ts, rec.Type, describe(rec))
	}
	return r.Err()
}

func describe(rec *wal.Record) string {
	switch rec.Type {
	case wal.RecordNewOrder:
		o, err := market.ConsumeOrder(rec.Data)
		if err != nil {
			break
		}
		return o.String()
	case wal.RecordCancel:
		c, err := market.ConsumeCancel(rec.Data)
		if err != nil {
			break
		}
		return fmt.Sprintf("cancel order=%s user=%s", c.Order, c.User)
	case wal.RecordModify:
		m, err := market.ConsumeModify(rec.Data)
		if err != nil {
			break
		}
		return fmt.Sprintf("modify order=%s user=%s price=%s qty=%d", m.Order, m.User, m.Price, m.Quantity)
	case wal.RecordExecution:
		x, err := market.ConsumeExecution(rec.Data)
		if err != nil {
			break
		}
		return x.String()
	}
	return fmt.Sprintf("undecodable payload (%d bytes)", len(rec.Data))
}
