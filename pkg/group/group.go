// Package group implements the Group Controller (C7): the per-group
// lifecycle state machine that wires C1-C6 together, owns the TX
// periodic task handles, and emits 1 Hz summary events. One Group drives
// one CAN bus end to end; a process hosts up to three independent
// Groups, each with its own bus (spec §1, §3).
package group

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/agingbench/core/pkg/archive"
	"github.com/agingbench/core/pkg/busmgr"
	"github.com/agingbench/core/pkg/can"
	"github.com/agingbench/core/pkg/codec"
	"github.com/agingbench/core/pkg/diag"
	"github.com/agingbench/core/pkg/dispatch"
	"github.com/agingbench/core/pkg/metrics"
	"github.com/agingbench/core/pkg/power"
	"github.com/agingbench/core/pkg/scheduler"
	"github.com/agingbench/core/pkg/status"
)

// State is one of the group's four lifecycle states (spec §4.7).
type State int

const (
	StateIdle State = iota
	StateRunning
	StatePaused
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

var (
	ErrWrongState    = errors.New("group: operation not valid in current state")
	ErrNotConfigured = errors.New("group: required component not configured")
)

// TxMessage is one project-configured periodic TX message, attached as a
// pair of per-channel tasks at group start.
type TxMessage struct {
	Name           string
	MsgID          any
	Period         time.Duration
	DefaultSignals codec.SignalValues
}

// SwitchConfig configures one of the two default round-robin switching
// jobs, PeriodicSwitchMsg1/PeriodicSwitchMsg2 (spec §4.7).
type SwitchConfig struct {
	Enabled  bool
	TaskName string // name of the TxMessage whose [2]*busmgr.Task pair is remapped
	MsgID    any
	Period   time.Duration
	Payloads []codec.SignalValues
}

// Config bundles everything New needs to build a Group, mirroring spec
// §6's function-config/project-config split without committing to either
// document's concrete file format (that is pkg/config's job).
type Config struct {
	ProjectName string

	N            int
	ChannelRemap bool
	AppRX1ID     any
	AppRX2ID     any

	Thresholds     status.Thresholds
	NonRecoverable status.LatchSet
	AlarmDelay     time.Duration
	AgingHours     float64 // 0 = unlimited

	TxMessages []TxMessage
	TxRemap    busmgr.TxRemapConfig
	SwitchMsg1 SwitchConfig
	SwitchMsg2 SwitchConfig

	Diag             diag.Config
	PendingDIDs      []uint16
	PeriodicDIDs     diag.PeriodicDIDs
	PeriodicInterval time.Duration
	RediagInterval   time.Duration

	Archive archive.Archive
	Power   power.Supply
	Logger  *log.Entry
	// Metrics is optional; nil disables recording. Propagated to every
	// sub-component (dispatcher, diagnostic engine, scheduler) as the
	// single authoritative source.
	Metrics *metrics.Metrics
}

// Group owns one CAN bus and every component built on top of it.
type Group struct {
	cfg    Config
	logger *log.Entry

	bus        *busmgr.Manager
	dispatcher *dispatch.Dispatcher
	classifier *status.Classifier
	latches    *status.Latches
	scheduler  *scheduler.Scheduler
	diagEngine *diag.Engine
	archive    archive.Archive
	power      power.Supply
	metrics    *metrics.Metrics

	mu               sync.Mutex
	state            State
	startMonotonic   time.Time
	pausedAt         time.Time
	accumulatedPause time.Duration
	frozen           bool

	catchAllCancel func()
	txTasks        map[string][2]*busmgr.Task
	switchIdx      map[string]int
	tableHandle    archive.TableHandle
}

// New constructs a Group bound to bus, pre-wiring C1-C6. It does not
// connect the bus or start anything: call Start for that.
func New(bus can.Bus, c codec.Codec, cfg Config) (*Group, error) {
	if cfg.N <= 0 {
		return nil, fmt.Errorf("group: N must be positive, got %d", cfg.N)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	if cfg.Archive == nil {
		return nil, fmt.Errorf("%w: archive", ErrNotConfigured)
	}
	if cfg.Power == nil {
		return nil, fmt.Errorf("%w: power supply", ErrNotConfigured)
	}

	mgr := busmgr.New(bus, c, logger)

	classifier := status.New(cfg.N, cfg.Thresholds)
	latches := status.NewLatches(cfg.N, cfg.NonRecoverable)

	dispatcher := dispatch.New(dispatch.Config{
		N:            cfg.N,
		ChannelRemap: cfg.ChannelRemap,
		AppRX1ID:     cfg.AppRX1ID,
		AppRX2ID:     cfg.AppRX2ID,
		Metrics:      cfg.Metrics,
	}, classifier, c)

	sched := scheduler.New(logger)
	sched.SetMetrics(cfg.Metrics)

	diagCfg := cfg.Diag
	diagCfg.N = cfg.N
	if diagCfg.Logger == nil {
		diagCfg.Logger = logger
	}
	diagCfg.Metrics = cfg.Metrics
	engine, err := diag.New(mgr, diagCfg)
	if err != nil {
		return nil, fmt.Errorf("group: %w", err)
	}
	engine.ConfigurePeriodic(cfg.PeriodicInterval, cfg.RediagInterval, cfg.PeriodicDIDs)

	return &Group{
		cfg:        cfg,
		logger:     logger,
		bus:        mgr,
		dispatcher: dispatcher,
		classifier: classifier,
		latches:    latches,
		scheduler:  sched,
		diagEngine: engine,
		archive:    cfg.Archive,
		power:      cfg.Power,
		metrics:    cfg.Metrics,
		state:      StateIdle,
		txTasks:    make(map[string][2]*busmgr.Task),
		switchIdx:  make(map[string]int),
	}, nil
}

// State returns the group's current lifecycle state.
func (g *Group) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// Classifier exposes the slot-status classifier for external readers
// (the 1 Hz poll, a CLI inspector).
func (g *Group) Classifier() *status.Classifier { return g.classifier }

// Dispatcher exposes the receive dispatcher's decoded app-rx tables.
func (g *Group) Dispatcher() *dispatch.Dispatcher { return g.dispatcher }

// DiagEngine exposes the UDS/ISO-TP engine for pending-diagnostic calls
// driven by an operator (spec §6 "thin external driver").
func (g *Group) DiagEngine() *diag.Engine { return g.diagEngine }

// Start transitions idle -> running (spec §4.7).
func (g *Group) Start(ctx context.Context) error {
	g.mu.Lock()
	if g.state != StateIdle {
		g.mu.Unlock()
		return ErrWrongState
	}
	g.mu.Unlock()

	if err := g.bus.Connect(); err != nil {
		return fmt.Errorf("group: connect bus: %w", err)
	}
	cancel, err := g.bus.RegisterCatchAll(g.dispatcher)
	if err != nil {
		return fmt.Errorf("group: attach dispatcher: %w", err)
	}

	handle, err := g.archive.BeginTable()
	if err != nil {
		return fmt.Errorf("group: begin archive table: %w", err)
	}

	if _, err := g.power.SetOutput(true, g.cfg.ProjectName); err != nil {
		g.logger.WithError(err).Warn("group: power on failed")
	}

	g.mu.Lock()
	g.state = StateRunning
	g.startMonotonic = time.Now()
	g.accumulatedPause = 0
	g.frozen = false
	g.catchAllCancel = cancel
	g.tableHandle = handle
	g.mu.Unlock()

	g.attachTxTasks()
	g.registerJobs()
	g.scheduler.Start()

	_ = g.archive.Append(handle, 0, archive.Record{"event": "summary-start", "time": g.startMonotonic})
	return nil
}

// Pause transitions running -> paused: stops the scheduler and TX tasks
// without discarding configuration, so Resume can restart them cleanly.
func (g *Group) Pause() error {
	g.mu.Lock()
	if g.state != StateRunning {
		g.mu.Unlock()
		return ErrWrongState
	}
	g.pausedAt = time.Now()
	g.state = StatePaused
	g.mu.Unlock()

	if err := g.scheduler.Stop(2 * time.Second); err != nil {
		g.logger.WithError(err).Warn("group: scheduler stop on pause timed out")
	}
	g.stopTxTasks()
	return nil
}

// Resume transitions paused -> running: accumulates the pause duration
// and restarts the scheduler and TX tasks.
func (g *Group) Resume() error {
	g.mu.Lock()
	if g.state != StatePaused {
		g.mu.Unlock()
		return ErrWrongState
	}
	g.accumulatedPause += time.Since(g.pausedAt)
	g.state = StateRunning
	g.mu.Unlock()

	g.attachTxTasks()
	g.scheduler.Start()
	return nil
}

// Stop transitions running|paused -> stopped (spec §4.7, §5 cancellation
// ordering: scheduler stop(2s), engine shutdown, bus shutdown).
func (g *Group) Stop() error {
	g.mu.Lock()
	if g.state != StateRunning && g.state != StatePaused {
		g.mu.Unlock()
		return ErrWrongState
	}
	g.frozen = true
	g.state = StateStopped
	handle := g.tableHandle
	started := g.startMonotonic
	g.mu.Unlock()

	if err := g.scheduler.Stop(2 * time.Second); err != nil {
		g.logger.WithError(err).Warn("group: scheduler stop timed out")
	}

	// The TX tasks and the diagnostic engine have no dependency on one
	// another once the scheduler is down; tear those two down concurrently
	// so Stop's latency is bounded by the slower one, not their sum. The
	// bus is shut down after both have finished.
	var eg errgroup.Group
	eg.Go(func() error {
		g.stopTxTasks()
		return nil
	})
	eg.Go(func() error {
		g.diagEngine.Shutdown()
		return nil
	})
	_ = eg.Wait()

	if g.catchAllCancel != nil {
		g.catchAllCancel()
	}
	if err := g.bus.Shutdown(); err != nil {
		g.logger.WithError(err).Warn("group: bus shutdown failed")
	}

	g.latches.Clear()

	if _, err := g.power.SetOutput(false, g.cfg.ProjectName); err != nil {
		g.logger.WithError(err).Warn("group: power off failed")
	}

	summary := archive.Summary{
		"event":   "summary-end",
		"elapsed": time.Since(started).String(),
	}
	_ = g.archive.Finalize(handle, summary)
	_ = g.archive.Close()
	return nil
}

// AgingElapsed returns wall time since start, excluding accumulated
// pause duration (spec §3's `aging_hours` option bounds this value).
func (g *Group) AgingElapsed() time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.startMonotonic.IsZero() {
		return 0
	}
	elapsed := time.Since(g.startMonotonic) - g.accumulatedPause
	if elapsed < 0 {
		return 0
	}
	return elapsed
}

// agingExceeded reports whether the configured aging_hours budget has
// elapsed; 0 means unlimited.
func (g *Group) agingExceeded() bool {
	if g.cfg.AgingHours <= 0 {
		return false
	}
	budget := time.Duration(g.cfg.AgingHours * float64(time.Hour))
	return g.AgingElapsed() >= budget
}

func (g *Group) attachTxTasks() {
	for _, msg := range g.cfg.TxMessages {
		id, data, err := g.bus.Codec().Encode(msg.MsgID, msg.DefaultSignals)
		if err != nil {
			g.logger.WithError(err).WithField("message", msg.Name).Warn("group: encode default TX signals failed")
			continue
		}
		frame := can.Frame{ID: id, DLC: uint8(len(data)), Data: data}
		ch1 := g.bus.StartPeriodic(frame, msg.Period)
		ch2 := g.bus.StartPeriodic(frame, msg.Period)
		g.mu.Lock()
		g.txTasks[msg.Name] = [2]*busmgr.Task{ch1, ch2}
		g.mu.Unlock()
	}
}

func (g *Group) stopTxTasks() {
	g.mu.Lock()
	tasks := g.txTasks
	g.txTasks = make(map[string][2]*busmgr.Task)
	g.mu.Unlock()
	for _, pair := range tasks {
		pair[0].Stop()
		pair[1].Stop()
	}
}
