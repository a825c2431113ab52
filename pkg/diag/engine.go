// Package diag implements the multi-slot UDS/ISO-TP diagnostic engine
// (C6): one ISO-TP stack + UDS client per slot, one-shot "pending"
// diagnostics, and periodic polling with back-off on failure.
package diag

import (
	"context"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/agingbench/core/pkg/diag/isotp"
	"github.com/agingbench/core/pkg/diag/uds"
	"github.com/agingbench/core/pkg/metrics"
	"github.com/agingbench/core/pkg/slotaddr"
)

// Result is the merged outcome of one slot's diagnostic call: DID (as a
// 4-hex-digit string, e.g. "F190") → decoded value, or nil on a failed
// write.
type Result map[string]any

type slotState struct {
	stack  *isotp.Stack
	client *uds.Client
	phyTx  int
	phyRx  int

	result    Result
	resultErr string

	periodicLast    Result
	periodicLastErr string
	nextDue         time.Time

	rotationIdx map[uint16]int
}

// PeriodicDIDs configures the periodic flow's DID set (spec §4.6 /
// §9 open question): either a flat list, where each DID's own Operation
// decides read vs write, or a rotation map that forces write mode and
// rotates through a value list per slot. Both forms may be supplied at
// once.
type PeriodicDIDs struct {
	Flat     []uint16
	Rotation map[uint16][]any
}

// Engine is the multi-slot UDS/ISO-TP diagnostic engine for one group.
type Engine struct {
	mu sync.Mutex

	dids           map[uint16]uds.DIDConfig
	securityLevel  byte
	requestTimeout time.Duration

	slots map[int]*slotState

	pendingSlots  []int
	periodicSlots []int

	periodicInterval time.Duration
	rediagInterval   time.Duration
	periodicDIDs     PeriodicDIDs

	logger  *log.Entry
	metrics *metrics.Metrics
}

// Config bundles the construction-time parameters for New.
type Config struct {
	N              int
	DIDs           []uds.DIDConfig
	Security       uds.SecurityCallback
	ISOTP          isotp.Params
	RequestTimeout time.Duration
	Logger         *log.Entry
	// Metrics is optional; nil disables recording.
	Metrics *metrics.Metrics
}

// New pre-creates one ISO-TP stack + UDS client per slot (spec §3
// invariant 5: these are never recreated for the lifetime of a group
// run). A stack initialization error fails the whole engine (spec §4.6,
// §7 category 4).
func New(bus isotp.Bus, cfg Config) (*Engine, error) {
	if cfg.N <= 0 {
		return nil, fmt.Errorf("diag: N must be positive, got %d", cfg.N)
	}
	if cfg.Security == nil {
		return nil, fmt.Errorf("diag: security callback is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}

	e := &Engine{
		dids:           make(map[uint16]uds.DIDConfig, len(cfg.DIDs)),
		securityLevel:  1,
		requestTimeout: cfg.RequestTimeout,
		slots:          make(map[int]*slotState, cfg.N),
		logger:         logger,
		metrics:        cfg.Metrics,
	}
	for _, d := range cfg.DIDs {
		e.dids[d.ID] = d
	}

	for slot := 1; slot <= cfg.N; slot++ {
		_, phyTx, phyRx := slotaddr.PhyAddr(slot)
		stack, err := isotp.New(bus, uint32(phyTx), uint32(phyRx), cfg.ISOTP)
		if err != nil {
			// Construction-time failure is fatal to the whole engine
			// (spec §7 category 4): tear down what was already created.
			e.Shutdown()
			return nil, fmt.Errorf("diag: slot %d: %w", slot, err)
		}
		e.slots[slot] = &slotState{
			stack:       stack,
			client:      uds.NewClient(stack, cfg.Security),
			phyTx:       phyTx,
			phyRx:       phyRx,
			rotationIdx: make(map[uint16]int),
		}
	}
	return e, nil
}

// Shutdown best-effort closes every stack.
func (e *Engine) Shutdown() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, s := range e.slots {
		s.stack.Close()
	}
}

func (e *Engine) validSlot(slot int) bool {
	_, ok := e.slots[slot]
	return ok
}

func dedupe(in []int) []int {
	seen := make(map[int]struct{}, len(in))
	out := make([]int, 0, len(in))
	for _, v := range in {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// SetPendingSlots replaces the pending-slot list, validating and
// deduplicating (spec §4.6, boundary behaviours).
func (e *Engine) SetPendingSlots(slots []int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, s := range slots {
		if !e.validSlot(s) {
			return fmt.Errorf("diag: slot %d out of range", s)
		}
	}
	e.pendingSlots = dedupe(slots)
	return nil
}

// AddPendingSlots appends to the pending-slot list, validating and
// deduplicating against the existing list.
func (e *Engine) AddPendingSlots(slots []int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, s := range slots {
		if !e.validSlot(s) {
			return fmt.Errorf("diag: slot %d out of range", s)
		}
	}
	e.pendingSlots = dedupe(append(e.pendingSlots, slots...))
	return nil
}

// PendingSlots returns a copy of the current pending-slot list.
func (e *Engine) PendingSlots() []int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]int(nil), e.pendingSlots...)
}

// SetPeriodicSlots replaces the periodic-slot list, seeding next_due=now
// for every slot so it fires on the first tick (spec §4.6).
func (e *Engine) SetPeriodicSlots(slots []int, now time.Time) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, s := range slots {
		if !e.validSlot(s) {
			return fmt.Errorf("diag: slot %d out of range", s)
		}
	}
	e.periodicSlots = dedupe(slots)
	for _, s := range e.periodicSlots {
		e.slots[s].nextDue = now
	}
	return nil
}

// ConfigurePeriodic sets the periodic flow's intervals and DID set.
func (e *Engine) ConfigurePeriodic(interval, rediagInterval time.Duration, dids PeriodicDIDs) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.periodicInterval = interval
	e.rediagInterval = rediagInterval
	e.periodicDIDs = dids
}

// RunPendingOnceResult is the return shape of RunPendingOnce (spec §4.6,
// §8 property 4).
type RunPendingOnceResult struct {
	OK      []int
	Fail    map[int]string
	Pending []int
}

// RunPendingOnce partitions didIDs into reads and writes by each DID's
// configured Operation, then serially (slot lock held for the whole
// engine across every slot) updates the ISO-TP address, performs the
// reads, performs the writes in the order given, and stores the merged
// result. Succeeding slots are removed from the pending list.
func (e *Engine) RunPendingOnce(ctx context.Context, didIDs []uint16) (RunPendingOnceResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	reads, writes := e.partition(didIDs)

	result := RunPendingOnceResult{Fail: make(map[int]string)}
	remaining := make([]int, 0, len(e.pendingSlots))

	for _, slot := range e.pendingSlots {
		s := e.slots[slot]
		if err := s.stack.SetAddress(uint32(s.phyTx), uint32(s.phyRx)); err != nil {
			result.Fail[slot] = err.Error()
			s.resultErr = err.Error()
			remaining = append(remaining, slot)
			e.metrics.RecordDiagAttempt("pending", "fail")
			continue
		}

		merged := Result{}
		failed := e.runReads(ctx, s, reads, merged)
		if failed == nil {
			failed = e.runWrites(ctx, s, writes, merged)
		}

		if failed != nil {
			result.Fail[slot] = failed.Error()
			s.resultErr = failed.Error()
			remaining = append(remaining, slot)
			e.metrics.RecordDiagAttempt("pending", "fail")
			continue
		}
		s.result = merged
		s.resultErr = ""
		result.OK = append(result.OK, slot)
		e.metrics.RecordDiagAttempt("pending", "ok")
	}

	e.pendingSlots = remaining
	result.Pending = append([]int(nil), e.pendingSlots...)
	return result, nil
}

func (e *Engine) partition(didIDs []uint16) (reads, writes []uint16) {
	for _, id := range didIDs {
		cfg, ok := e.dids[id]
		if !ok {
			continue
		}
		if cfg.Operation == uds.OperationWrite {
			writes = append(writes, id)
		} else {
			reads = append(reads, id)
		}
	}
	return reads, writes
}

func (e *Engine) runReads(ctx context.Context, s *slotState, reads []uint16, merged Result) error {
	for _, id := range reads {
		cfg := e.dids[id]
		reqCtx, cancel := withTimeout(ctx, e.requestTimeout)
		raw, err := s.client.ReadDataByIdentifier(reqCtx, id)
		cancel()
		if err != nil {
			return fmt.Errorf("read %s: %w", didKey(id), err)
		}
		merged[didKey(id)] = cfg.DecodeValue(raw)
	}
	return nil
}

// runWrites performs the session-control / security-access handshake
// once, then writes each DID in order. If the handshake or any write
// fails, remaining DIDs in the batch get a null result and the batch is
// reported as failed (spec §4.6 "Write DID").
func (e *Engine) runWrites(ctx context.Context, s *slotState, writes []uint16, merged Result) error {
	if len(writes) == 0 {
		return nil
	}
	if err := e.openSecuredSession(ctx, s); err != nil {
		nullify(merged, writes)
		return err
	}
	for i, id := range writes {
		cfg := e.dids[id]
		payload, err := cfg.EncodeValue(cfg.Value)
		if err != nil {
			nullify(merged, writes[i:])
			return fmt.Errorf("encode %s: %w", didKey(id), err)
		}
		reqCtx, cancel := withTimeout(ctx, e.requestTimeout)
		err = s.client.WriteDataByIdentifier(reqCtx, id, payload)
		cancel()
		if err != nil {
			nullify(merged, writes[i:])
			return fmt.Errorf("write %s: %w", didKey(id), err)
		}
		merged[didKey(id)] = cfg.DecodeValue(payload)
	}
	return nil
}

// openSecuredSession performs DiagnosticSessionControl(extended) followed
// by SecurityAccess(level 1), the mandatory prelude to any DID write
// (spec §4.6).
func (e *Engine) openSecuredSession(ctx context.Context, s *slotState) error {
	reqCtx, cancel := withTimeout(ctx, e.requestTimeout)
	defer cancel()
	if err := s.client.DiagnosticSessionControl(reqCtx, uds.SessionExtended); err != nil {
		return fmt.Errorf("session control: %w", err)
	}
	if err := s.client.SecurityAccess(reqCtx, e.securityLevel); err != nil {
		return fmt.Errorf("security access: %w", err)
	}
	return nil
}

func nullify(merged Result, ids []uint16) {
	for _, id := range ids {
		merged[didKey(id)] = nil
	}
}

func didKey(id uint16) string {
	return fmt.Sprintf("%04X", id)
}

// withTimeout bounds a single UDS request to the engine's configured
// request timeout (spec §5: "an ISO-TP receive with timeout" is a
// suspension point). The returned cancel must be called once the request
// completes.
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, d)
}

// Result returns the last successful pending-flow result for slot.
func (e *Engine) Result(slot int) (Result, string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.slots[slot]
	if !ok {
		return nil, ""
	}
	return s.result, s.resultErr
}

// PeriodicTick runs one scheduler tick of the periodic diagnostic flow
// (spec §4.6). For each periodic slot whose next-due time has passed, it
// runs the configured reads/writes/rotated-writes; on success it advances
// next_due by the configured interval, on failure by the rediag interval.
func (e *Engine) PeriodicTick(ctx context.Context, now time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()

	reads, writes := e.partition(e.periodicDIDs.Flat)

	for _, slot := range e.periodicSlots {
		s := e.slots[slot]
		if now.Before(s.nextDue) {
			continue
		}
		if err := s.stack.SetAddress(uint32(s.phyTx), uint32(s.phyRx)); err != nil {
			s.periodicLastErr = err.Error()
			s.nextDue = now.Add(e.rediagInterval)
			e.metrics.RecordDiagAttempt("periodic", "fail")
			continue
		}

		merged := Result{}
		err := e.runReads(ctx, s, reads, merged)
		if err == nil {
			err = e.runWrites(ctx, s, writes, merged)
		}
		if err == nil {
			err = e.runRotatedWrites(ctx, s, merged)
		}

		if err != nil {
			s.periodicLastErr = err.Error()
			s.nextDue = now.Add(e.rediagInterval)
			e.metrics.RecordDiagAttempt("periodic", "fail")
			continue
		}
		s.periodicLast = merged
		s.periodicLastErr = ""
		s.nextDue = now.Add(e.periodicInterval)
		e.metrics.RecordDiagAttempt("periodic", "ok")
	}
}

// runRotatedWrites writes the next value in each configured DID's
// rotation list, advancing that (slot, DID) pair's index independently of
// every other slot (spec §4.6).
func (e *Engine) runRotatedWrites(ctx context.Context, s *slotState, merged Result) error {
	if len(e.periodicDIDs.Rotation) == 0 {
		return nil
	}
	if err := e.openSecuredSession(ctx, s); err != nil {
		return fmt.Errorf("rotation %w", err)
	}
	for id, values := range e.periodicDIDs.Rotation {
		if len(values) == 0 {
			continue
		}
		cfg := e.dids[id]
		idx := s.rotationIdx[id] % len(values)
		payload, err := cfg.EncodeValue(values[idx])
		if err != nil {
			return fmt.Errorf("encode rotated %s: %w", didKey(id), err)
		}
		reqCtx, cancel := withTimeout(ctx, e.requestTimeout)
		err = s.client.WriteDataByIdentifier(reqCtx, id, payload)
		cancel()
		if err != nil {
			return fmt.Errorf("write rotated %s: %w", didKey(id), err)
		}
		merged[didKey(id)] = cfg.DecodeValue(payload)
		s.rotationIdx[id] = idx + 1
	}
	return nil
}

// PeriodicSnapshot returns the full periodic_last / periodic_last_error
// tables and the current slot list under a single lock (spec §4.6).
type PeriodicSnapshot struct {
	Last      map[int]Result
	LastError map[int]string
	Slots     []int
}

func (e *Engine) PeriodicSnapshot() PeriodicSnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	snap := PeriodicSnapshot{
		Last:      make(map[int]Result, len(e.periodicSlots)),
		LastError: make(map[int]string, len(e.periodicSlots)),
		Slots:     append([]int(nil), e.periodicSlots...),
	}
	for _, slot := range e.periodicSlots {
		s := e.slots[slot]
		snap.Last[slot] = s.periodicLast
		snap.LastError[slot] = s.periodicLastErr
	}
	return snap
}
