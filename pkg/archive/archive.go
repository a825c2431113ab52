// Package archive defines the history-persistence contract (external
// collaborator per spec §6): begin_table/append/finalize/close over a
// per-slot record stream. The core never implements the real SQLite
// backend; this package ships an in-memory implementation usable in
// tests and deployments without a database, plus a logging-only one.
package archive

import (
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/google/uuid"
)

// Record is the per-slot merge the 1 Hz summary poller writes: status
// record, last app-rx1/app-rx2 signals, and the last diagnostic results
// (pending and periodic), keyed loosely since each producer owns its own
// shape.
type Record map[string]any

// Summary is the group-level outcome written at Finalize (spec §4.7
// "summary-end record").
type Summary map[string]any

// TableHandle identifies one archive table for the lifetime of a group
// run.
type TableHandle string

// Archive is the external history-persistence collaborator.
type Archive interface {
	BeginTable() (TableHandle, error)
	Append(handle TableHandle, slot int, record Record) error
	Finalize(handle TableHandle, summary Summary) error
	Close() error
}

// MemoryArchive buffers appended records in a channel of capacity 4096,
// drained by a background goroutine into per-table in-memory slices. The
// queue is bounded: Append blocks while 4096 records are waiting to be
// drained. Safe for concurrent use and for tests that want to inspect
// what was archived.
type MemoryArchive struct {
	mu     sync.Mutex
	tables map[TableHandle][]Record
	final  map[TableHandle]Summary
	queue  chan entry
	done   chan struct{}
}

type entry struct {
	handle TableHandle
	slot   int
	record Record
}

func NewMemoryArchive() *MemoryArchive {
	a := &MemoryArchive{
		tables: make(map[TableHandle][]Record),
		final:  make(map[TableHandle]Summary),
		queue:  make(chan entry, 4096),
		done:   make(chan struct{}),
	}
	go a.drain()
	return a
}

func (a *MemoryArchive) drain() {
	defer close(a.done)
	for e := range a.queue {
		a.mu.Lock()
		a.tables[e.handle] = append(a.tables[e.handle], e.record)
		a.mu.Unlock()
	}
}

func (a *MemoryArchive) BeginTable() (TableHandle, error) {
	handle := TableHandle(uuid.NewString())
	a.mu.Lock()
	a.tables[handle] = nil
	a.mu.Unlock()
	return handle, nil
}

func (a *MemoryArchive) Append(handle TableHandle, slot int, record Record) error {
	rec := Record{"slot": slot}
	for k, v := range record {
		rec[k] = v
	}
	a.queue <- entry{handle: handle, slot: slot, record: rec}
	return nil
}

func (a *MemoryArchive) Finalize(handle TableHandle, summary Summary) error {
	a.mu.Lock()
	a.final[handle] = summary
	a.mu.Unlock()
	return nil
}

// Records returns a copy of everything appended to handle so far.
func (a *MemoryArchive) Records(handle TableHandle) []Record {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]Record(nil), a.tables[handle]...)
}

// Summary returns the summary passed to Finalize for handle, if any.
func (a *MemoryArchive) Summary(handle TableHandle) (Summary, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	s, ok := a.final[handle]
	return s, ok
}

func (a *MemoryArchive) Close() error {
	close(a.queue)
	<-a.done
	return nil
}

// LoggingArchive discards every record but logs at debug level, for
// operation without any real database (spec §6 treats the archive
// abstractly; a no-op-but-visible implementation is a legitimate one).
type LoggingArchive struct {
	logger *log.Entry
}

func NewLoggingArchive(logger *log.Entry) *LoggingArchive {
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	return &LoggingArchive{logger: logger}
}

func (a *LoggingArchive) BeginTable() (TableHandle, error) {
	handle := TableHandle(uuid.NewString())
	a.logger.WithField("table", handle).Debug("archive: begin table")
	return handle, nil
}

func (a *LoggingArchive) Append(handle TableHandle, slot int, record Record) error {
	a.logger.WithFields(log.Fields{"table": handle, "slot": slot}).Debug("archive: append")
	return nil
}

func (a *LoggingArchive) Finalize(handle TableHandle, summary Summary) error {
	a.logger.WithField("table", handle).WithField("summary", summary).Info("archive: finalize")
	return nil
}

func (a *LoggingArchive) Close() error { return nil }
