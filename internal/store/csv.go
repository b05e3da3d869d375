package store

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/RHEW-Laboratory/WU-Scraper/internal/history"
)

const (
	lockSuffix    = ".lock"
	rewriteSuffix = ".rewrite"

	// DefaultLockTTL is how old a lock file must be before it is treated as
	// left behind by a dead process.
	DefaultLockTTL = 6 * time.Hour
)

// CSVStore keeps each log as a CSV file named after the log in one directory.
type CSVStore struct {
	dir     string
	lockTTL time.Duration
}

// NewCSVStore creates a store rooted at dir. The directory is created on
// first write.
func NewCSVStore(dir string) *CSVStore {
	return &CSVStore{dir: dir, lockTTL: DefaultLockTTL}
}

// Path returns the file backing a log.
func (s *CSVStore) Path(name history.LogName) string {
	return filepath.Join(s.dir, name.String())
}

// Create truncates the log file and writes the header.
func (s *CSVStore) Create(_ context.Context, name history.LogName) (history.LogWriter, error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	path := s.Path(name)
	if err := acquireLock(path+lockSuffix, s.lockTTL); err != nil {
		return nil, err
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		releaseLock(path + lockSuffix)
		return nil, err
	}
	w := &csvWriter{f: f, w: csv.NewWriter(f), lockPath: path + lockSuffix, syncEach: true}
	if err := w.writeRow(history.Header()); err != nil {
		w.Close()
		return nil, fmt.Errorf("write header: %w", err)
	}
	return w, nil
}

// Reopen appends to an existing log after checking its header.
func (s *CSVStore) Reopen(_ context.Context, name history.LogName) (history.LogWriter, error) {
	path := s.Path(name)
	if err := checkHeader(path); err != nil {
		return nil, err
	}
	if err := acquireLock(path+lockSuffix, s.lockTTL); err != nil {
		return nil, err
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		releaseLock(path + lockSuffix)
		return nil, err
	}
	return &csvWriter{f: f, w: csv.NewWriter(f), lockPath: path + lockSuffix, syncEach: true}, nil
}

// Open reads the log from its first record.
func (s *CSVStore) Open(_ context.Context, name history.LogName) (history.LogReader, error) {
	return openCSV(s.Path(name))
}

// Rewrite writes the replacement next to the log and renames it over the
// existing file once transform has succeeded and the file is synced.
func (s *CSVStore) Rewrite(_ context.Context, name history.LogName, transform func(history.LogReader, history.RecordWriter) error) error {
	path := s.Path(name)
	lockPath := path + lockSuffix
	if err := acquireLock(lockPath, s.lockTTL); err != nil {
		return err
	}
	defer releaseLock(lockPath)

	src, err := openCSV(path)
	if err != nil {
		return err
	}
	defer src.Close()

	tmpPath := path + rewriteSuffix
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	dst := &csvWriter{f: f, w: csv.NewWriter(f)}

	discard := func(cause error) error {
		dst.Close()
		if err := os.Remove(tmpPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Printf("WARN: store: could not remove %s: %v", tmpPath, err)
		}
		return cause
	}

	if err := dst.writeRow(history.Header()); err != nil {
		return discard(fmt.Errorf("write header: %w", err))
	}
	if err := transform(src, dst); err != nil {
		return discard(err)
	}
	if err := f.Sync(); err != nil {
		return discard(err)
	}
	if err := dst.Close(); err != nil {
		return discard(err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return discard(fmt.Errorf("swap rewritten log: %w", err))
	}
	return nil
}

type csvWriter struct {
	f        *os.File
	w        *csv.Writer
	lockPath string
	syncEach bool
	closed   bool
}

// Append writes one record and flushes it so the file never ends mid-row.
func (w *csvWriter) Append(_ context.Context, rec history.DailyRecord) error {
	if w.closed {
		return errWriterClosed
	}
	return w.writeRow(rec.Row())
}

func (w *csvWriter) writeRow(row []string) error {
	if err := w.w.Write(row); err != nil {
		return err
	}
	w.w.Flush()
	if err := w.w.Error(); err != nil {
		return err
	}
	if w.syncEach {
		return w.f.Sync()
	}
	return nil
}

func (w *csvWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	w.w.Flush()
	err := w.w.Error()
	if cerr := w.f.Close(); err == nil {
		err = cerr
	}
	if w.lockPath != "" {
		releaseLock(w.lockPath)
	}
	return err
}

type csvReader struct {
	f    *os.File
	r    *csv.Reader
	line int
}

func openCSV(path string) (*csvReader, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", history.ErrLogNotFound, path)
		}
		return nil, err
	}

	r := csv.NewReader(f)
	r.FieldsPerRecord = len(history.Columns)
	header, err := r.Read()
	if err != nil {
		f.Close()
		if err == io.EOF {
			return nil, fmt.Errorf("%s: %w", path, errMissingHeader)
		}
		return nil, fmt.Errorf("%s: read header: %w", path, err)
	}
	if !slices.Equal(header, history.Header()) {
		f.Close()
		return nil, fmt.Errorf("%s: %w: %v", path, errUnexpectedHeader, header)
	}
	return &csvReader{f: f, r: r, line: 1}, nil
}

func (c *csvReader) Next(ctx context.Context) (history.DailyRecord, error) {
	if err := ctx.Err(); err != nil {
		return history.DailyRecord{}, err
	}
	row, err := c.r.Read()
	if err == io.EOF {
		return history.DailyRecord{}, io.EOF
	}
	c.line++
	if err != nil {
		return history.DailyRecord{}, fmt.Errorf("line %d: %w", c.line, err)
	}
	rec, err := history.RecordFromRow(row)
	if err != nil {
		return history.DailyRecord{}, fmt.Errorf("line %d: %w", c.line, err)
	}
	return rec, nil
}

func (c *csvReader) Close() error {
	return c.f.Close()
}

func checkHeader(path string) error {
	r, err := openCSV(path)
	if err != nil {
		return err
	}
	return r.Close()
}
