package storage

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"kvdb/pkg/dberrors"
	"kvdb/pkg/types"
)

type Option func(*File)

// WithSync makes every append fsync before it becomes visible.
func WithSync(enabled bool) Option {
	return func(f *File) { f.syncWrites = enabled }
}

// File is the append-only data file of a node.
//
// Appends are serialized by the caller's critical section and by mu. Reads use
// ReadAt and never take mu: a row becomes reachable only after size is advanced
// past it, which happens once the full row is written.
type File struct {
	mu         sync.Mutex
	f          *os.File
	path       string
	size       atomic.Int64
	syncWrites bool
	closed     atomic.Bool
}

// Open opens or creates the data file. A partial or corrupt tail left by an
// interrupted write is cut off before the file is used.
func Open(path string, opts ...Option) (*File, error) {
	if path == "" {
		return nil, fmt.Errorf("empty data file path")
	}
	path = filepath.Clean(path)
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0750); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open data file: %w", err)
	}

	file := &File{f: f, path: path}
	for _, opt := range opts {
		opt(file)
	}

	if err := file.recover(); err != nil {
		_ = f.Close()
		return nil, err
	}
	return file, nil
}

func (f *File) recover() error {
	st, err := f.f.Stat()
	if err != nil {
		return &dberrors.StorageError{Op: "stat", Offset: -1, Err: err}
	}
	total := st.Size()

	end, walkErr := f.walk(total, nil)
	if walkErr != nil && !isCorruption(walkErr) {
		return walkErr
	}
	if end < total {
		slog.Warn("truncating incomplete tail of data file",
			"path", f.path,
			"valid_bytes", end,
			"dropped_bytes", total-end,
			"reason", walkErr,
		)
		if err := f.f.Truncate(end); err != nil {
			return &dberrors.StorageError{Op: "truncate", Offset: end, Err: err}
		}
		if err := f.f.Sync(); err != nil {
			return &dberrors.StorageError{Op: "sync", Offset: end, Err: err}
		}
	}
	f.size.Store(end)
	return nil
}

// Append writes the row at the end of the file and returns its offset.
func (f *File) Append(r Row) (types.Offset, error) {
	if f.closed.Load() {
		return 0, dberrors.ErrClosed
	}
	buf, err := encodeRow(r)
	if err != nil {
		return 0, &dberrors.StorageError{Op: "encode", Offset: -1, Err: err}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	off := f.size.Load()
	// A failed write leaves size untouched, so the next append overwrites the garbage.
	if _, err := f.f.WriteAt(buf, off); err != nil {
		return 0, &dberrors.StorageError{Op: "write", Offset: off, Err: err}
	}
	if f.syncWrites {
		if err := f.f.Sync(); err != nil {
			return 0, &dberrors.StorageError{Op: "sync", Offset: off, Err: err}
		}
	}
	f.size.Store(off + int64(len(buf)))

	return types.Offset(off), nil
}

// ReadAt reads the row starting at off.
func (f *File) ReadAt(off types.Offset) (Row, error) {
	if f.closed.Load() {
		return Row{}, dberrors.ErrClosed
	}
	pos := int64(off)
	if pos < 0 || pos+headerSize > f.size.Load() {
		return Row{}, &dberrors.StorageError{Op: "read", Offset: pos, Err: io.ErrUnexpectedEOF}
	}

	var header [headerSize]byte
	if _, err := f.f.ReadAt(header[:], pos); err != nil {
		return Row{}, &dberrors.StorageError{Op: "read", Offset: pos, Err: err}
	}
	n, sum, err := parseHeader(header[:])
	if err != nil {
		return Row{}, &dberrors.StorageError{Op: "read", Offset: pos, Err: err}
	}
	payload := make([]byte, n)
	if _, err := f.f.ReadAt(payload, pos+headerSize); err != nil {
		return Row{}, &dberrors.StorageError{Op: "read", Offset: pos, Err: err}
	}
	row, err := decodePayload(payload, sum)
	if err != nil {
		return Row{}, &dberrors.StorageError{Op: "decode", Offset: pos, Err: err}
	}
	return row, nil
}

// Scan calls fn for every row in file order.
func (f *File) Scan(fn func(types.Offset, Row) error) error {
	if f.closed.Load() {
		return dberrors.ErrClosed
	}
	_, err := f.walk(f.size.Load(), fn)
	return err
}

// walk decodes rows in [0, limit) and returns the end of the last valid row.
func (f *File) walk(limit int64, fn func(types.Offset, Row) error) (int64, error) {
	reader := bufio.NewReaderSize(io.NewSectionReader(f.f, 0, limit), 64<<10)
	var (
		pos    int64
		header [headerSize]byte
	)
	for pos < limit {
		if _, err := io.ReadFull(reader, header[:]); err != nil {
			return pos, corruption(pos, err)
		}
		n, sum, err := parseHeader(header[:])
		if err != nil {
			return pos, corruption(pos, err)
		}
		payload := make([]byte, n)
		if _, err := io.ReadFull(reader, payload); err != nil {
			return pos, corruption(pos, err)
		}
		row, err := decodePayload(payload, sum)
		if err != nil {
			return pos, corruption(pos, err)
		}
		if fn != nil {
			if err := fn(types.Offset(pos), row); err != nil {
				return pos, err
			}
		}
		pos += headerSize + int64(n)
	}
	return pos, nil
}

type corruptionError struct{ error }

func (e corruptionError) Unwrap() error { return e.error }

func corruption(pos int64, err error) error {
	if errors.Is(err, io.EOF) {
		err = io.ErrUnexpectedEOF
	}
	return corruptionError{&dberrors.StorageError{Op: "scan", Offset: pos, Err: err}}
}

func isCorruption(err error) bool {
	var c corruptionError
	return errors.As(err, &c)
}

// Size is the number of bytes holding committed rows.
func (f *File) Size() int64 { return f.size.Load() }

func (f *File) Path() string { return f.path }

func (f *File) Sync() error {
	if err := f.f.Sync(); err != nil {
		return &dberrors.StorageError{Op: "sync", Offset: -1, Err: err}
	}
	return nil
}

func (f *File) Close() error {
	if !f.closed.CompareAndSwap(false, true) {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.f.Sync(); err != nil {
		slog.Warn("failed to sync data file on close", "path", f.path, "error", err)
	}
	if err := f.f.Close(); err != nil {
		return fmt.Errorf("failed to close data file: %w", err)
	}
	return nil
}
