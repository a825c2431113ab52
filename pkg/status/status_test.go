package status

import (
	"testing"
	"time"
)

func thresholdsS1() Thresholds {
	return Thresholds{
		Voltage:     Range{Min: 11, Max: 14},
		Current:     Range{Min: 0.400, Max: 1.000},
		DarkCurrent: 0.002,
	}
}

func TestDecodeAndClassify_S1(t *testing.T) {
	data := []byte{0xFF, 0x7C, 0x00, 0x01, 0xF4, 0x07, 0x11, 0x5A}

	rec, err := Decode(data, thresholdsS1(), time.Unix(0, 0))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if rec.Voltage != 12.4 {
		t.Fatalf("Voltage = %v, want 12.4", rec.Voltage)
	}
	if rec.Current != 0.5 {
		t.Fatalf("Current = %v, want 0.5", rec.Current)
	}
	if rec.Status != Nominal {
		t.Fatalf("Status = %v, want Nominal", rec.Status)
	}

	narrow := thresholdsS1()
	narrow.Current = Range{Min: 0.600, Max: 1.000}
	if got := Classify(rec.Voltage, rec.Current, narrow); got != CurrentBelowRange {
		t.Fatalf("Classify with narrowed current range = %v, want CurrentBelowRange", got)
	}
}

func TestClassify_BoardLostAndNoUnitPlugged(t *testing.T) {
	th := thresholdsS1()
	if got := Classify(0, 0, th); got != BoardLost {
		t.Fatalf("Classify(0,0) = %v, want BoardLost", got)
	}
	if got := Classify(12.4, 0.001, th); got != NoUnitPlugged {
		t.Fatalf("Classify with current below dark-current = %v, want NoUnitPlugged", got)
	}
}

func TestClassify_OutOfRangeCombinations(t *testing.T) {
	th := thresholdsS1()
	if got := Classify(9, 0.1, th); got != BothBelowRange {
		t.Fatalf("Classify(9, 0.1) = %v, want BothBelowRange", got)
	}
	if got := Classify(9, 0.5, th); got != VoltageBelowRange {
		t.Fatalf("Classify(9, 0.5) = %v, want VoltageBelowRange", got)
	}
	if got := Classify(20, 0.1, th); got != VoltageAboveCurLow {
		t.Fatalf("Classify(20, 0.1) = %v, want VoltageAboveCurLow", got)
	}
	if got := Classify(20, 0.5, th); got != BothAboveRange {
		t.Fatalf("Classify(20, 0.5) = %v, want BothAboveRange", got)
	}
	if got := Classify(12.4, 2.0, th); got != CurrentAboveRange {
		t.Fatalf("Classify(12.4, 2.0) = %v, want CurrentAboveRange", got)
	}
}

func TestClassifierHandleGetSnapshot(t *testing.T) {
	c := New(3, thresholdsS1())
	data := []byte{0xFF, 0x7C, 0x00, 0x01, 0xF4, 0x07, 0x11, 0x5A}
	if err := c.Handle(2, data, 0, time.Unix(100, 0)); err != nil {
		t.Fatalf("Handle: %v", err)
	}

	got, ok := c.Get(2)
	if !ok {
		t.Fatalf("Get(2) ok = false, want true")
	}
	if got.Status != Nominal {
		t.Fatalf("Get(2).Status = %v, want Nominal", got.Status)
	}

	if _, ok := c.Get(1); ok {
		t.Fatalf("Get(1) ok = true, want false (never written)")
	}

	snap := c.Snapshot()
	if len(snap) != 4 {
		t.Fatalf("Snapshot length = %d, want 4", len(snap))
	}
	if snap[2].Status != Nominal {
		t.Fatalf("Snapshot[2].Status = %v, want Nominal", snap[2].Status)
	}
	if snap[1].Status != Uninitialized {
		t.Fatalf("Snapshot[1].Status = %v, want Uninitialized (never set)", snap[1].Status)
	}
}

func TestLatchesLatchAndClear(t *testing.T) {
	set := NewLatchSet(BoardLost, NoUnitPlugged)
	l := NewLatches(2, set)

	if got := l.Update(1, Nominal); got != Nominal {
		t.Fatalf("Update(1, Nominal) = %v, want Nominal", got)
	}
	if got := l.Update(1, BoardLost); got != BoardLost {
		t.Fatalf("Update(1, BoardLost) = %v, want BoardLost", got)
	}
	// Once latched, a later status outside the non-recoverable set doesn't un-latch.
	if got := l.Update(1, Nominal); got != BoardLost {
		t.Fatalf("Update(1, Nominal) after latch = %v, want still BoardLost", got)
	}
	if got := l.Get(1); got != BoardLost {
		t.Fatalf("Get(1) = %v, want BoardLost", got)
	}

	l.Clear()
	if got := l.Get(1); got != Uninitialized {
		t.Fatalf("Get(1) after Clear = %v, want Uninitialized", got)
	}
}
