package store

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/RHEW-Laboratory/WU-Scraper/internal/history"
)

// LogHistory holds the records of one log in append order.
type LogHistory struct {
	Records []history.DailyRecord
}

// MemoryStore is a concurrency-safe in-memory implementation of a log store.
type MemoryStore struct {
	mu sync.RWMutex

	// key: log stem, value: records
	data map[string]*LogHistory
}

// NewMemoryStore creates a new, empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: make(map[string]*LogHistory),
	}
}

// Create replaces any log of the same name with an empty one.
func (s *MemoryStore) Create(_ context.Context, name history.LogName) (history.LogWriter, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data[name.Stem()] = &LogHistory{}
	return &memoryWriter{store: s, key: name.Stem()}, nil
}

// Reopen appends to an existing log.
func (s *MemoryStore) Reopen(_ context.Context, name history.LogName) (history.LogWriter, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.data[name.Stem()]; !ok {
		return nil, fmt.Errorf("%w: %s", history.ErrLogNotFound, name)
	}
	return &memoryWriter{store: s, key: name.Stem()}, nil
}

// Open returns a reader over a snapshot of the log.
func (s *MemoryStore) Open(_ context.Context, name history.LogName) (history.LogReader, error) {
	records, err := s.Records(name)
	if err != nil {
		return nil, err
	}
	return &memoryReader{records: records}, nil
}

// Rewrite runs transform into a fresh buffer and swaps it in on success.
func (s *MemoryStore) Rewrite(ctx context.Context, name history.LogName, transform func(history.LogReader, history.RecordWriter) error) error {
	src, err := s.Open(ctx, name)
	if err != nil {
		return err
	}
	defer src.Close()

	buf := &bufferWriter{}
	if err := transform(src, buf); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[name.Stem()] = &LogHistory{Records: buf.records}
	return nil
}

// Records returns a copy of the log contents.
func (s *MemoryStore) Records(name history.LogName) ([]history.DailyRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	h, ok := s.data[name.Stem()]
	if !ok {
		return nil, fmt.Errorf("%w: %s", history.ErrLogNotFound, name)
	}
	out := make([]history.DailyRecord, len(h.Records))
	copy(out, h.Records)
	return out, nil
}

type memoryWriter struct {
	store  *MemoryStore
	key    string
	closed bool
}

func (w *memoryWriter) Append(_ context.Context, rec history.DailyRecord) error {
	if w.closed {
		return errWriterClosed
	}
	w.store.mu.Lock()
	defer w.store.mu.Unlock()

	h, ok := w.store.data[w.key]
	if !ok {
		return fmt.Errorf("%w: %s", history.ErrLogNotFound, w.key)
	}
	h.Records = append(h.Records, rec)
	return nil
}

func (w *memoryWriter) Close() error {
	w.closed = true
	return nil
}

type memoryReader struct {
	records []history.DailyRecord
	pos     int
}

func (r *memoryReader) Next(ctx context.Context) (history.DailyRecord, error) {
	if err := ctx.Err(); err != nil {
		return history.DailyRecord{}, err
	}
	if r.pos >= len(r.records) {
		return history.DailyRecord{}, io.EOF
	}
	rec := r.records[r.pos]
	r.pos++
	return rec, nil
}

func (r *memoryReader) Close() error { return nil }

// bufferWriter collects a replacement log before it is swapped in.
type bufferWriter struct {
	records []history.DailyRecord
}

func (b *bufferWriter) Append(_ context.Context, rec history.DailyRecord) error {
	b.records = append(b.records, rec)
	return nil
}
