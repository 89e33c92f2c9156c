package wal

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/rs/zerolog"
)

const indexFile = "wal_index.json"

// IndexEntry describes one finalized WAL segment. The index is a
// JSON-lines file appended on every rotation.
type IndexEntry struct {
	File      string `json:"file"`
	FirstSeq  uint64 `json:"first_seq"`
	LastSeq   uint64 `json:"last_seq"`
	Timestamp string `json:"timestamp"`
}

// AppendIndexEntry adds a segment entry to the index file. The entry
// is fsynced before returning; segments the index cannot name are
// invisible to replay, so the index line must be as durable as the
// records it covers.
func AppendIndexEntry(dir string, entry IndexEntry) error {
	f, err := os.OpenFile(filepath.Join(dir, indexFile), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	data, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		return err
	}
	return f.Sync()
}

// LoadIndex reads all segment entries, sorted by first sequence.
// A missing index file means no finalized segments.
func LoadIndex(dir string) ([]IndexEntry, error) {
	b, err := os.ReadFile(filepath.Join(dir, indexFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var entries []IndexEntry
	for _, line := range bytes.Split(b, []byte("\n")) {
		if len(line) == 0 {
			continue
		}
		var e IndexEntry
		if err := json.Unmarshal(line, &e); err != nil {
			continue
		}
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].FirstSeq < entries[j].FirstSeq
	})
	return entries, nil
}

// reconcileIndex loads the index and rebuilds entries for finalized
// segments the index does not mention. A crash between a segment
// rename and its index append leaves exactly that gap, and without
// repair every fsynced record in the segment would vanish from replay.
func reconcileIndex(dir string, ser Serializer, log zerolog.Logger) ([]IndexEntry, error) {
	entries, err := LoadIndex(dir)
	if err != nil {
		return nil, err
	}
	indexed := make(map[string]bool, len(entries))
	for _, e := range entries {
		indexed[e.File] = true
	}

	paths, err := filepath.Glob(filepath.Join(dir, "*.wal"))
	if err != nil {
		return nil, err
	}
	rebuilt := false
	for _, path := range paths {
		name := filepath.Base(path)
		if name == currentFile || indexed[name] {
			continue
		}
		first, last, err := segmentBounds(path, ser)
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", name, err)
		}
		if last == 0 {
			continue
		}
		e := IndexEntry{
			File:      name,
			FirstSeq:  first,
			LastSeq:   last,
			Timestamp: time.Now().Format(time.RFC3339),
		}
		if err := AppendIndexEntry(dir, e); err != nil {
			return nil, err
		}
		log.Warn().
			Str("segment", name).
			Uint64("first_seq", first).
			Uint64("last_seq", last).
			Msg("wal index entry rebuilt")
		entries = append(entries, e)
		rebuilt = true
	}
	if rebuilt {
		sort.Slice(entries, func(i, j int) bool {
			return entries[i].FirstSeq < entries[j].FirstSeq
		})
	}
	return entries, nil
}

// segmentBounds reads a finalized segment and returns its first and
// last sequence numbers. Finalized segments were fsynced before the
// rename, so any read failure is real corruption.
func segmentBounds(path string, ser Serializer) (first, last uint64, err error) {
	r, err := OpenReader(path, ser)
	if err != nil {
		return 0, 0, err
	}
	defer r.Close()
	for r.Next() {
		rec := r.Record()
		if first == 0 {
			first = rec.Seq
		}
		last = rec.Seq
	}
	return first, last, r.Err()
}

// rewriteIndex atomically replaces the index file with the given
// entries.
func rewriteIndex(dir string, entries []IndexEntry) error {
	tmp := filepath.Join(dir, indexFile+".tmp")
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	for _, e := range entries {
		data, err := json.Marshal(e)
		if err != nil {
			f.Close()
			return err
		}
		if _, err := f.Write(append(data, '\n')); err != nil {
			f.Close()
			return err
		}
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, filepath.Join(dir, indexFile))
}
