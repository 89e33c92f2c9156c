package wal

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

func openTestWAL(t *testing.T, dir string, segmentSize uint64) *WAL {
	t.Helper()
	w, err := Open(Config{Dir: dir, SegmentSize: segmentSize})
	if err != nil {
		t.Fatalf("open wal: %v", err)
	}
	return w
}

func appendN(t *testing.T, w *WAL, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		rec := &Record{
			Type: RecordNewOrder,
			Time: int64(i),
			Data: []byte(fmt.Sprintf("payload-%d", i)),
		}
		if err := w.Append(rec); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}
	if err := w.Sync(); err != nil {
		t.Fatalf("sync: %v", err)
	}
}

func TestAppendAndReplay(t *testing.T) {
	dir := t.TempDir()

	w := openTestWAL(t, dir, 0)
	appendN(t, w, 100)
	if w.LastSeq() != 100 {
		t.Fatalf("last seq: got %d, want 100", w.LastSeq())
	}

	var seqs []uint64
	err := w.ReplayFrom(0, func(rec *Record) error {
		seqs = append(seqs, rec.Seq)
		return nil
	})
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if len(seqs) != 100 {
		t.Fatalf("replayed %d records, want 100", len(seqs))
	}
	for i, s := range seqs {
		if s != uint64(i+1) {
			t.Fatalf("seq gap at %d: got %d", i, s)
		}
	}
	_ = w.Close()
}

func TestReplayFromSkipsCovered(t *testing.T) {
	dir := t.TempDir()
	w := openTestWAL(t, dir, 0)
	appendN(t, w, 10)

	var got []uint64
	if err := w.ReplayFrom(7, func(rec *Record) error {
		got = append(got, rec.Seq)
		return nil
	}); err != nil {
		t.Fatalf("replay: %v", err)
	}
	if len(got) != 3 || got[0] != 8 || got[2] != 10 {
		t.Fatalf("expected seqs 8..10, got %v", got)
	}
}

func TestReopenContinuesSequence(t *testing.T) {
	dir := t.TempDir()

	w := openTestWAL(t, dir, 0)
	appendN(t, w, 5)
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	w = openTestWAL(t, dir, 0)
	if w.LastSeq() != 5 {
		t.Fatalf("last seq after reopen: got %d, want 5", w.LastSeq())
	}
	appendN(t, w, 5)

	count := 0
	if err := w.ReplayFrom(0, func(rec *Record) error {
		count++
		return nil
	}); err != nil {
		t.Fatalf("replay: %v", err)
	}
	if count != 10 {
		t.Fatalf("replayed %d, want 10", count)
	}
	_ = w.Close()
}

func TestRotationWritesIndex(t *testing.T) {
	dir := t.TempDir()

	// Tiny segments force a rotation every few appends.
	w := openTestWAL(t, dir, 4096)
	for i := 0; i < 200; i++ {
		rec := &Record{Type: RecordNewOrder, Data: make([]byte, 128)}
		if err := w.Append(rec); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	_ = w.Sync()

	entries, err := LoadIndex(dir)
	if err != nil {
		t.Fatalf("load index: %v", err)
	}
	if len(entries) == 0 {
		t.Fatal("expected finalized segments in the index")
	}
	var prev uint64
	for _, e := range entries {
		if e.FirstSeq != prev+1 {
			t.Errorf("segment %s starts at %d, want %d", e.File, e.FirstSeq, prev+1)
		}
		prev = e.LastSeq
	}

	count := 0
	if err := w.ReplayFrom(0, func(*Record) error { count++; return nil }); err != nil {
		t.Fatalf("replay across segments: %v", err)
	}
	if count != 200 {
		t.Fatalf("replayed %d, want 200", count)
	}
	_ = w.Close()
}

func TestTornTailTruncatedOnOpen(t *testing.T) {
	dir := t.TempDir()

	w := openTestWAL(t, dir, 0)
	appendN(t, w, 10)
	_ = w.Sync()
	// Leave current.wal in place without finalizing.
	_ = w.file.Close()

	// Simulate a crash mid-append: half a frame at the tail.
	path := filepath.Join(dir, "current.wal")
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatal(err)
	}
	f.Write([]byte{0x20, 0x00, 0x00, 0x00, 0xde, 0xad})
	f.Close()

	w = openTestWAL(t, dir, 0)
	if w.LastSeq() != 10 {
		t.Fatalf("last seq after torn tail: got %d, want 10", w.LastSeq())
	}

	count := 0
	if err := w.ReplayFrom(0, func(*Record) error { count++; return nil }); err != nil {
		t.Fatalf("replay after truncation: %v", err)
	}
	if count != 10 {
		t.Fatalf("replayed %d, want 10", count)
	}
	_ = w.Close()
}

func TestOpenRebuildsMissingIndex(t *testing.T) {
	dir := t.TempDir()

	w := openTestWAL(t, dir, 0)
	appendN(t, w, 3)
	// Close finalizes current.wal into a numbered segment.
	if err := w.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	// Simulate a crash where the segment rename hit disk but the index
	// line did not.
	if err := os.Remove(filepath.Join(dir, "wal_index.json")); err != nil {
		t.Fatal(err)
	}

	w = openTestWAL(t, dir, 0)
	if w.LastSeq() != 3 {
		t.Fatalf("last seq after index loss: got %d, want 3", w.LastSeq())
	}

	var seqs []uint64
	if err := w.ReplayFrom(0, func(rec *Record) error {
		seqs = append(seqs, rec.Seq)
		return nil
	}); err != nil {
		t.Fatalf("replay: %v", err)
	}
	if len(seqs) != 3 || seqs[0] != 1 || seqs[2] != 3 {
		t.Fatalf("expected seqs 1..3 after index rebuild, got %v", seqs)
	}

	// New appends must not reuse committed sequence numbers.
	appendN(t, w, 1)
	if w.LastSeq() != 4 {
		t.Fatalf("last seq after append: got %d, want 4", w.LastSeq())
	}

	entries, err := LoadIndex(dir)
	if err != nil {
		t.Fatalf("load index: %v", err)
	}
	if len(entries) != 1 || entries[0].FirstSeq != 1 || entries[0].LastSeq != 3 {
		t.Fatalf("rebuilt index entries: %+v", entries)
	}
	_ = w.Close()
}

func TestCorruptFrameStopsReader(t *testing.T) {
	dir := t.TempDir()

	w := openTestWAL(t, dir, 0)
	appendN(t, w, 10)
	_ = w.Sync()
	_ = w.file.Close()

	// Flip a payload byte in the middle of the file.
	path := filepath.Join(dir, "current.wal")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	data[len(data)/2] ^= 0xff
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	r, err := OpenReader(path, WireSerializer{})
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	count := 0
	for r.Next() {
		count++
	}
	if !errors.Is(r.Err(), ErrCorruptRecord) {
		t.Fatalf("expected ErrCorruptRecord, got %v", r.Err())
	}
	if count >= 10 {
		t.Fatalf("reader should stop before the corrupt frame, read %d", count)
	}
}

func TestTruncateBefore(t *testing.T) {
	dir := t.TempDir()

	w := openTestWAL(t, dir, 4096)
	for i := 0; i < 200; i++ {
		if err := w.Append(&Record{Type: RecordNewOrder, Data: make([]byte, 128)}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	_ = w.Sync()

	entries, _ := LoadIndex(dir)
	if len(entries) < 2 {
		t.Fatalf("need at least 2 finalized segments, got %d", len(entries))
	}
	cut := entries[0].LastSeq

	if err := w.TruncateBefore(cut); err != nil {
		t.Fatalf("truncate: %v", err)
	}

	if _, err := os.Stat(filepath.Join(dir, entries[0].File)); !os.IsNotExist(err) {
		t.Errorf("segment %s should be removed", entries[0].File)
	}
	remaining, _ := LoadIndex(dir)
	if len(remaining) != len(entries)-1 {
		t.Errorf("index entries: got %d, want %d", len(remaining), len(entries)-1)
	}

	// Replay from the snapshot point still works.
	count := 0
	if err := w.ReplayFrom(cut, func(*Record) error { count++; return nil }); err != nil {
		t.Fatalf("replay after truncate: %v", err)
	}
	if count != 200-int(cut) {
		t.Fatalf("replayed %d, want %d", count, 200-int(cut))
	}
	_ = w.Close()
}
