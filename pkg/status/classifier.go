// Package status implements the slot-status classifier (C4): it turns a
// raw CH*_STATUS payload into an ordinal health code, decodes the rest of
// the status frame's auxiliary fields, normalizes driver timestamps, and
// maintains the per-slot status table.
package status

import (
	"fmt"
	"sync"
	"time"

	"github.com/agingbench/core/pkg/codec"
)

// Code is the ordinal slot health status (spec §3).
type Code int8

const (
	Uninitialized      Code = 0
	Nominal            Code = 1
	CurrentBelowRange  Code = -1
	VoltageBelowRange  Code = -2
	BothBelowRange     Code = -3
	NoUnitPlugged      Code = -4
	BoardLost          Code = -5
	CurrentAboveRange  Code = 2
	VoltageAboveCurLow Code = 3
	BothAboveRange     Code = 4
)

// Range is an inclusive [Min, Max] bound, configured per project.
type Range struct {
	Min float64
	Max float64
}

func (r Range) Contains(v float64) bool { return v >= r.Min && v <= r.Max }

// Thresholds holds the project-configured limits the classification table
// (spec §4.4) is evaluated against.
type Thresholds struct {
	Voltage     Range
	Current     Range
	DarkCurrent float64
}

// Classify maps (voltage, current) to an ordinal status per the
// deterministic table in spec §4.4.
func Classify(voltage, current float64, t Thresholds) Code {
	switch {
	case voltage <= 0 && current <= 0:
		return BoardLost
	case current <= t.DarkCurrent:
		return NoUnitPlugged
	case t.Voltage.Contains(voltage):
		switch {
		case t.Current.Contains(current):
			return Nominal
		case current < t.Current.Min:
			return CurrentBelowRange
		default:
			return CurrentAboveRange
		}
	case voltage < t.Voltage.Min:
		if current < t.Current.Min {
			return BothBelowRange
		}
		return VoltageBelowRange
	default: // voltage > t.Voltage.Max
		if current < t.Current.Min {
			return VoltageAboveCurLow
		}
		return BothAboveRange
	}
}

// CardInfo unpacks the eight single-bit flags packed into data[5].
type CardInfo struct {
	SlaveConfigured bool
	OutputOpen      bool
	CurrentStatus   bool
	VoltageStatus   bool
	CANStatus       bool
	Reserved        [3]bool
}

func decodeCardInfo(b byte) CardInfo {
	bit := func(n uint) bool { return b&(1<<n) != 0 }
	return CardInfo{
		SlaveConfigured: bit(0),
		OutputOpen:      bit(1),
		CurrentStatus:   bit(2),
		VoltageStatus:   bit(3),
		CANStatus:       bit(4),
		Reserved:        [3]bool{bit(5), bit(6), bit(7)},
	}
}

// ResistorValue is the decoded termination-resistor reading for one bus.
type ResistorValue int32

const (
	ResistorUnknown ResistorValue = 9999
	Resistor120     ResistorValue = 120
	Resistor240     ResistorValue = 240
	ResistorOpen    ResistorValue = -1
)

func decodeResistor(bits byte) ResistorValue {
	switch bits & 0x3 {
	case 0:
		return ResistorUnknown
	case 1:
		return Resistor120
	case 2:
		return Resistor240
	default:
		return ResistorOpen
	}
}

// ResistorInfo is the decoded termination state of the three monitored
// buses (spec §4.4).
type ResistorInfo struct {
	MainCAN ResistorValue
	CAN1    ResistorValue
	CAN2    ResistorValue
}

func decodeResistorInfo(b byte) ResistorInfo {
	return ResistorInfo{
		MainCAN: decodeResistor(b >> 4),
		CAN1:    decodeResistor(b >> 2),
		CAN2:    decodeResistor(b),
	}
}

// Record is the per-slot status snapshot written by every STATUS frame.
type Record struct {
	Timestamp    time.Time
	Status       Code
	Voltage      float64
	Current      float64
	CardInfo     CardInfo
	Temperature  float64
	ResistorInfo ResistorInfo
}

// Decode unpacks a raw STATUS frame payload (spec §4.4). ts is stored in
// the record as given; Decode does no timestamp normalization itself
// (Handle passes the result of Classifier.NormalizeTimestamp).
func Decode(data []byte, t Thresholds, ts time.Time) (Record, error) {
	if len(data) < 8 {
		return Record{}, fmt.Errorf("status: short frame (%d bytes)", len(data))
	}
	voltage := float64(data[1]) * 0.1
	current := float64(codec.BigEndianU24(data[2:5])) * 0.001
	return Record{
		Timestamp:    ts,
		Status:       Classify(voltage, current, t),
		Voltage:      voltage,
		Current:      current,
		CardInfo:     decodeCardInfo(data[5]),
		Temperature:  float64(data[7]) - 40,
		ResistorInfo: decodeResistorInfo(data[6]),
	}, nil
}

// timestampThreshold distinguishes absolute epoch timestamps (>= 1e9,
// i.e. any time after 2001) from timestamps relative to bus-open.
const timestampThreshold = 1_000_000_000

// Classifier maintains the per-slot status table for one group. It is
// safe for concurrent use; the receive dispatcher calls Handle from the
// single inbound dispatch goroutine while readers call Get or Snapshot
// from any goroutine (the 1 Hz summary poller, tests).
type Classifier struct {
	mu         sync.Mutex
	thresholds Thresholds
	table      []Record // index 0 unused, [1, n]

	tsOffsetSet bool
	tsOffset    time.Duration
}

// New creates a Classifier for n slots (1-based, so the table holds n+1
// entries).
func New(n int, thresholds Thresholds) *Classifier {
	return &Classifier{thresholds: thresholds, table: make([]Record, n+1)}
}

// NormalizeTimestamp implements spec §4.4's timestamp normalization: an
// absolute timestamp (seconds since epoch, >= 1e9) passes through; a
// relative one is offset by (wall_now - ts) computed the first time a
// relative timestamp is observed, and that offset is reused afterward.
// Non-positive values fall back to wall clock.
func (c *Classifier) NormalizeTimestamp(rawSeconds float64, now time.Time) time.Time {
	if rawSeconds <= 0 {
		return now
	}
	if rawSeconds >= timestampThreshold {
		return time.Unix(0, int64(rawSeconds*float64(time.Second)))
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.tsOffsetSet {
		c.tsOffset = now.Sub(time.Unix(0, int64(rawSeconds*float64(time.Second))))
		c.tsOffsetSet = true
	}
	return time.Unix(0, int64(rawSeconds*float64(time.Second))).Add(c.tsOffset)
}

// Handle decodes a STATUS frame payload for slot and writes the resulting
// record at index slot. slot must be in [1, N]; an out-of-range call
// writes nothing and returns an error (the dispatcher is responsible for
// not calling Handle with an invalid slot, see spec invariant 2).
func (c *Classifier) Handle(slot int, data []byte, rawSeconds float64, now time.Time) error {
	if slot <= 0 || slot >= len(c.table) {
		return fmt.Errorf("status: slot %d out of range", slot)
	}
	ts := c.NormalizeTimestamp(rawSeconds, now)
	rec, err := Decode(data, c.thresholds, ts)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.table[slot] = rec
	c.mu.Unlock()
	return nil
}

// Get returns the current record for slot and whether it has ever been
// written.
func (c *Classifier) Get(slot int) (Record, bool) {
	if slot <= 0 || slot >= len(c.table) {
		return Record{}, false
	}
	c.mu.Lock()
	rec := c.table[slot]
	c.mu.Unlock()
	return rec, rec.Status != Uninitialized || !rec.Timestamp.IsZero()
}

// Snapshot returns a copy of the whole status table, index 0 excluded
// from iteration semantics but present as the reserved sentinel.
func (c *Classifier) Snapshot() []Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Record, len(c.table))
	copy(out, c.table)
	return out
}

// N returns the number of slots this classifier was sized for.
func (c *Classifier) N() int { return len(c.table) - 1 }
