package archive

import (
	"testing"
	"time"
)

func TestMemoryArchiveAppendAndFinalize(t *testing.T) {
	a := NewMemoryArchive()
	defer a.Close()

	handle, err := a.BeginTable()
	if err != nil {
		t.Fatalf("BeginTable: %v", err)
	}

	if err := a.Append(handle, 3, Record{"status": 1}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := a.Append(handle, 4, Record{"status": -1}); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := a.Finalize(handle, Summary{"total": 2}); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	waitForRecords(t, a, handle, 2)

	records := a.Records(handle)
	if len(records) != 2 {
		t.Fatalf("Records = %d entries, want 2", len(records))
	}
	if records[0]["slot"] != 3 || records[1]["slot"] != 4 {
		t.Fatalf("records did not preserve append order: %v", records)
	}

	summary, ok := a.Summary(handle)
	if !ok {
		t.Fatalf("Summary: not found")
	}
	if summary["total"] != 2 {
		t.Fatalf("Summary[total] = %v, want 2", summary["total"])
	}
}

func TestMemoryArchiveTablesAreIndependent(t *testing.T) {
	a := NewMemoryArchive()
	defer a.Close()

	h1, _ := a.BeginTable()
	h2, _ := a.BeginTable()
	_ = a.Append(h1, 1, Record{"x": 1})

	waitForRecords(t, a, h1, 1)

	if got := a.Records(h2); len(got) != 0 {
		t.Fatalf("Records(h2) = %v, want empty", got)
	}
}

// waitForRecords polls until the drain goroutine has caught up, since
// Append only enqueues.
func waitForRecords(t *testing.T, a *MemoryArchive, handle TableHandle, want int) {
	t.Helper()
	for i := 0; i < 1000; i++ {
		if len(a.Records(handle)) >= want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d records on %s", want, handle)
}
