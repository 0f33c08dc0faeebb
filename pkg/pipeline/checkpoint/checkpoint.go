// Package checkpoint implements an append-only CSV log of resolved work
// items, keyed by the first header column. The log doubles as the output
// artifact: re-opening it yields the resume set, and its final contents are
// the run's result table.
package checkpoint

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
)

// Record is one resolved row. Fields are aligned with the log header; the
// key is always the first field.
type Record struct {
	Key    string
	Fields []string
}

// Field returns the value of the named column, or "" when absent.
func (r Record) Field(header []string, name string) string {
	for i, col := range header {
		if col == name && i < len(r.Fields) {
			return r.Fields[i]
		}
	}
	return ""
}

// Log is a durable append-only record of completed work items. Appends are
// flushed per record so a crash loses at most the in-flight item. A Log has
// exactly one writer; Append is serialized internally.
type Log struct {
	mu     sync.Mutex
	f      *os.File
	w      *csv.Writer
	header []string
	recs   map[string]Record
	order  []string
}

// Open opens or creates the checkpoint file at path. Existing records are
// indexed for resume. A key appearing more than once (an explicit retry)
// keeps its first position but the latest record wins. A non-empty file must
// carry the same header columns.
func Open(path string, header []string) (*Log, error) {
	if len(header) == 0 {
		return nil, fmt.Errorf("checkpoint: empty header")
	}

	var existing []Record
	if b, err := os.ReadFile(path); err == nil && len(b) > 0 {
		existing, err = Read(strings.NewReader(string(b)), header)
		if err != nil {
			return nil, fmt.Errorf("checkpoint: read %s: %w", path, err)
		}
	} else if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("checkpoint: read %s: %w", path, err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("checkpoint: open %s: %w", path, err)
	}

	l := &Log{
		f:      f,
		w:      csv.NewWriter(f),
		header: append([]string(nil), header...),
		recs:   make(map[string]Record),
	}
	for _, rec := range existing {
		if _, ok := l.recs[rec.Key]; !ok {
			l.order = append(l.order, rec.Key)
		}
		l.recs[rec.Key] = rec
	}

	if len(existing) == 0 {
		st, err := f.Stat()
		if err != nil {
			_ = f.Close()
			return nil, err
		}
		if st.Size() == 0 {
			if err := l.w.Write(header); err != nil {
				_ = f.Close()
				return nil, err
			}
			l.w.Flush()
			if err := l.w.Error(); err != nil {
				_ = f.Close()
				return nil, err
			}
		}
	}
	return l, nil
}

// Append writes one record and flushes it to disk. Appending a key the log
// already holds is a no-op so replays stay idempotent.
func (l *Log) Append(rec Record) error {
	if strings.TrimSpace(rec.Key) == "" {
		return fmt.Errorf("checkpoint: empty key")
	}
	if len(rec.Fields) != len(l.header) {
		return fmt.Errorf("checkpoint: record has %d fields, header has %d", len(rec.Fields), len(l.header))
	}
	if rec.Fields[0] != rec.Key {
		return fmt.Errorf("checkpoint: key %q does not match first field %q", rec.Key, rec.Fields[0])
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.recs[rec.Key]; ok {
		return nil
	}
	if err := l.w.Write(rec.Fields); err != nil {
		return err
	}
	l.w.Flush()
	if err := l.w.Error(); err != nil {
		return err
	}
	l.recs[rec.Key] = rec
	l.order = append(l.order, rec.Key)
	return nil
}

// Contains reports whether key has already been resolved.
func (l *Log) Contains(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.recs[key]
	return ok
}

// Get returns the latest record for key.
func (l *Log) Get(key string) (Record, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.recs[key]
	return rec, ok
}

// Records returns the latest record per key, in append order. This is the
// compacted view of the log: one row per identifier even after retries.
func (l *Log) Records() []Record {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Record, 0, len(l.order))
	for _, key := range l.order {
		out = append(out, l.recs[key])
	}
	return out
}

// Forget drops key from the resolved set so a later Append goes through.
// The old row stays in the file; readers take the latest record per key.
// This is the explicit user action that turns a failed item pending again.
func (l *Log) Forget(key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.recs[key]; !ok {
		return
	}
	delete(l.recs, key)
	for i, k := range l.order {
		if k == key {
			l.order = append(l.order[:i], l.order[i+1:]...)
			break
		}
	}
}

// Keys returns resolved keys in append order.
func (l *Log) Keys() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.order...)
}

// Len is the number of resolved keys.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.order)
}

// Header returns the log's column names.
func (l *Log) Header() []string {
	return append([]string(nil), l.header...)
}

func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.w.Flush()
	if err := l.w.Error(); err != nil {
		_ = l.f.Close()
		return err
	}
	return l.f.Close()
}

// Read parses checkpoint records from r. The file header must contain every
// column in header; extra columns are ignored and fields are returned in
// header order. Duplicate keys are preserved (Open dedups them).
func Read(r io.Reader, header []string) ([]Record, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	fileHeader, err := cr.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	index := make(map[string]int, len(fileHeader))
	for i, name := range fileHeader {
		index[strings.TrimSpace(name)] = i
	}
	for _, name := range header {
		if _, ok := index[name]; !ok {
			return nil, fmt.Errorf("missing required column %q", name)
		}
	}

	var out []Record
	for {
		raw, err := cr.Read()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read row: %w", err)
		}
		fields := make([]string, len(header))
		for i, name := range header {
			j := index[name]
			if j < len(raw) {
				fields[i] = raw[j]
			}
		}
		out = append(out, Record{Key: fields[0], Fields: fields})
	}
}
