package wal

import (
	"bufio"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"io"
	"os"
)

// Reader iterates the frames of a single segment file.
type Reader struct {
	file   *os.File
	reader *bufio.Reader
	ser    Serializer
	rec    *Record
	err    error
}

func OpenReader(path string, ser Serializer) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	if ser == nil {
		ser = WireSerializer{}
	}
	return &Reader{file: f, reader: bufio.NewReader(f), ser: ser}, nil
}

// Next advances to the next record. It returns false at end of file or
// on the first corrupt frame; Err tells those apart.
func (r *Reader) Next() bool {
	if r.err != nil {
		return false
	}

	var header [frameHeaderSize]byte
	if _, err := io.ReadFull(r.reader, header[:]); err != nil {
		if err != io.EOF {
			r.err = ErrCorruptRecord
		}
		return false
	}
	payload := make([]byte, binary.LittleEndian.Uint32(header[:4]))
	if _, err := io.ReadFull(r.reader, payload); err != nil {
		r.err = ErrCorruptRecord
		return false
	}
	if crc32.ChecksumIEEE(payload) != binary.LittleEndian.Uint32(header[4:]) {
		r.err = ErrCorruptRecord
		return false
	}

	rec, err := r.ser.Decode(payload)
	if err != nil {
		r.err = err
		return false
	}
	r.rec = rec
	return true
}

// Record returns the record read by the last successful Next.
func (r *Reader) Record() *Record { return r.rec }

// Err reports whether iteration stopped on corruption rather than a
// clean end of file.
func (r *Reader) Err() error {
	if r.err != nil && !errors.Is(r.err, io.EOF) {
		return r.err
	}
	return nil
}

func (r *Reader) Close() error { return r.file.Close() }
