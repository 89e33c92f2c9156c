package wal

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	frameHeaderSize = 8
	currentFile     = "current.wal"
)

// Config configures a write-ahead log.
type Config struct {
	Dir             string
	SegmentSize     uint64
	SegmentDuration time.Duration
	Serializer      Serializer
	Logger          zerolog.Logger
}

// WAL is an append-only, CRC-framed, segmented log. Append assigns
// sequence numbers; Sync makes everything appended so far durable.
// The matching engine owns the single writer, so WAL itself does no
// locking.
type WAL struct {
	cfg             Config
	file            *os.File
	writer          *bufio.Writer
	seq             uint64
	segmentID       int
	segmentStartSeq uint64
	bytesWritten    uint64
	lastRotationAt  time.Time
	log             zerolog.Logger
}

// Open opens or creates the log in cfg.Dir. A torn write at the tail
// of current.wal, left by a crash mid-append, is truncated away, and
// finalized segments missing from the index get their entries rebuilt
// by scanning the segment files.
func Open(cfg Config) (*WAL, error) {
	if cfg.Dir == "" {
		cfg.Dir = "./wal_data"
	}
	if cfg.SegmentSize == 0 {
		cfg.SegmentSize = 64 * 1024 * 1024
	}
	if cfg.SegmentDuration == 0 {
		cfg.SegmentDuration = 15 * time.Minute
	}
	if cfg.Serializer == nil {
		cfg.Serializer = WireSerializer{}
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, err
	}

	entries, err := reconcileIndex(cfg.Dir, cfg.Serializer, cfg.Logger)
	if err != nil {
		return nil, fmt.Errorf("load wal index: %w", err)
	}
	var segID int
	var seq uint64
	for _, e := range entries {
		if id, err := strconv.Atoi(strings.TrimSuffix(e.File, ".wal")); err == nil && id > segID {
			segID = id
		}
		if e.LastSeq > seq {
			seq = e.LastSeq
		}
	}

	f, err := os.OpenFile(filepath.Join(cfg.Dir, currentFile), os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, err
	}

	w := &WAL{
		cfg:             cfg,
		file:            f,
		segmentID:       segID,
		segmentStartSeq: seq + 1,
		seq:             seq,
		lastRotationAt:  time.Now(),
		log:             cfg.Logger,
	}

	if err := w.recoverCurrentState(); err != nil {
		f.Close()
		return nil, err
	}
	if _, err := w.file.Seek(0, io.SeekEnd); err != nil {
		f.Close()
		return nil, err
	}
	w.writer = bufio.NewWriterSize(f, 1<<20)
	return w, nil
}

// LastSeq returns the highest sequence number in the log.
func (w *WAL) LastSeq() uint64 { return w.seq }

// Append assigns the next sequence number to rec and writes its frame
// to the current segment. The record is not durable until Sync.
func (w *WAL) Append(rec *Record) error {
	rec.Seq = w.seq + 1
	data, err := w.cfg.Serializer.Encode(rec)
	if err != nil {
		return err
	}

	recordSize := frameHeaderSize + len(data)
	if w.shouldRotate(recordSize) {
		if err := w.rotate(); err != nil {
			return err
		}
	}

	w.seq++
	if err := writeFrame(w.writer, data); err != nil {
		return err
	}
	w.bytesWritten += uint64(recordSize)
	return nil
}

// Sync flushes buffered frames and fsyncs the current segment.
func (w *WAL) Sync() error {
	if err := w.writer.Flush(); err != nil {
		return err
	}
	return w.file.Sync()
}

// Close syncs and finalizes current.wal into a numbered segment so a
// later Open starts with an empty current file.
func (w *WAL) Close() error {
	if err := w.Sync(); err != nil {
		return err
	}
	if err := w.file.Close(); err != nil {
		return err
	}
	if w.bytesWritten == 0 {
		return nil
	}
	return w.finalizeCurrent()
}

func (w *WAL) shouldRotate(nextSize int) bool {
	if w.bytesWritten == 0 {
		return false
	}
	return w.bytesWritten+uint64(nextSize) >= w.cfg.SegmentSize ||
		time.Since(w.lastRotationAt) >= w.cfg.SegmentDuration
}

func (w *WAL) rotate() error {
	if err := w.Sync(); err != nil {
		return err
	}
	if err := w.file.Close(); err != nil {
		return err
	}
	if err := w.finalizeCurrent(); err != nil {
		return err
	}

	f, err := os.OpenFile(filepath.Join(w.cfg.Dir, currentFile), os.O_CREATE|os.O_RDWR|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	w.file = f
	w.writer = bufio.NewWriterSize(f, 1<<20)
	w.segmentStartSeq = w.seq + 1
	w.bytesWritten = 0
	w.lastRotationAt = time.Now()
	return nil
}

func (w *WAL) finalizeCurrent() error {
	w.segmentID++
	name := fmt.Sprintf("%06d.wal", w.segmentID)
	if err := os.Rename(filepath.Join(w.cfg.Dir, currentFile), filepath.Join(w.cfg.Dir, name)); err != nil {
		return err
	}
	entry := IndexEntry{
		File:      name,
		FirstSeq:  w.segmentStartSeq,
		LastSeq:   w.seq,
		Timestamp: time.Now().Format(time.RFC3339),
	}
	if err := AppendIndexEntry(w.cfg.Dir, entry); err != nil {
		return err
	}
	w.log.Info().
		Str("segment", name).
		Uint64("first_seq", entry.FirstSeq).
		Uint64("last_seq", entry.LastSeq).
		Msg("wal segment finalized")
	return nil
}

// ReplayFrom streams every record with Seq > afterSeq to fn, oldest
// first, across finalized segments and the current file. A decode or
// CRC failure inside a finalized segment is corruption and aborts the
// replay; current.wal was already repaired at Open.
func (w *WAL) ReplayFrom(afterSeq uint64, fn func(*Record) error) error {
	entries, err := LoadIndex(w.cfg.Dir)
	if err != nil {
		return fmt.Errorf("load wal index: %w", err)
	}
	for _, seg := range entries {
		if seg.LastSeq <= afterSeq {
			continue
		}
		if err := w.replayFile(filepath.Join(w.cfg.Dir, seg.File), afterSeq, fn); err != nil {
			return fmt.Errorf("replay %s: %w", seg.File, err)
		}
	}
	if err := w.Sync(); err != nil {
		return err
	}
	if err := w.replayFile(filepath.Join(w.cfg.Dir, currentFile), afterSeq, fn); err != nil {
		return fmt.Errorf("replay %s: %w", currentFile, err)
	}
	return nil
}

func (w *WAL) replayFile(path string, afterSeq uint64, fn func(*Record) error) error {
	r, err := OpenReader(path, w.cfg.Serializer)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	defer r.Close()
	for r.Next() {
		rec := r.Record()
		if rec.Seq <= afterSeq {
			continue
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return r.Err()
}

// TruncateBefore removes finalized segments whose records are all
// covered by a snapshot at seq. The current file is never touched.
func (w *WAL) TruncateBefore(seq uint64) error {
	entries, err := LoadIndex(w.cfg.Dir)
	if err != nil {
		return err
	}
	var kept []IndexEntry
	for _, e := range entries {
		if e.LastSeq <= seq {
			if err := os.Remove(filepath.Join(w.cfg.Dir, e.File)); err != nil && !os.IsNotExist(err) {
				return err
			}
			w.log.Info().Str("segment", e.File).Uint64("snapshot_seq", seq).Msg("wal segment removed")
			continue
		}
		kept = append(kept, e)
	}
	if len(kept) == len(entries) {
		return nil
	}
	return rewriteIndex(w.cfg.Dir, kept)
}

// recoverCurrentState scans current.wal, restoring seq and the byte
// count, and truncates anything after the last intact frame.
func (w *WAL) recoverCurrentState() error {
	info, err := w.file.Stat()
	if err != nil {
		return err
	}
	if info.Size() == 0 {
		return nil
	}

	r, err := os.Open(filepath.Join(w.cfg.Dir, currentFile))
	if err != nil {
		return err
	}
	defer r.Close()

	var (
		validBytes int64
		header     [frameHeaderSize]byte
	)
	for {
		if _, err := io.ReadFull(r, header[:]); err != nil {
			if err == io.EOF {
				break
			}
			if errors.Is(err, io.ErrUnexpectedEOF) {
				return w.truncateCurrent(validBytes)
			}
			return err
		}
		payload := make([]byte, binary.LittleEndian.Uint32(header[:4]))
		if _, err := io.ReadFull(r, payload); err != nil {
			if err == io.EOF || errors.Is(err, io.ErrUnexpectedEOF) {
				return w.truncateCurrent(validBytes)
			}
			return err
		}
		if crc32.ChecksumIEEE(payload) != binary.LittleEndian.Uint32(header[4:]) {
			return w.truncateCurrent(validBytes)
		}
		rec, err := w.cfg.Serializer.Decode(payload)
		if err != nil {
			return w.truncateCurrent(validBytes)
		}
		w.seq = rec.Seq
		validBytes += int64(frameHeaderSize + len(payload))
	}
	w.bytesWritten = uint64(validBytes)
	return nil
}

func (w *WAL) truncateCurrent(validBytes int64) error {
	w.log.Warn().Int64("valid_bytes", validBytes).Msg("truncating torn wal tail")
	if err := w.file.Truncate(validBytes); err != nil {
		return err
	}
	if _, err := w.file.Seek(validBytes, io.SeekStart); err != nil {
		return err
	}
	w.bytesWritten = uint64(validBytes)
	return nil
}

func writeFrame(wr io.Writer, payload []byte) error {
	var header [frameHeaderSize]byte
	binary.LittleEndian.PutUint32(header[:4], uint32(len(payload)))
	binary.LittleEndian.PutUint32(header[4:], crc32.ChecksumIEEE(payload))
	if _, err := wr.Write(header[:]); err != nil {
		return err
	}
	_, err := wr.Write(payload)
	return err
}
