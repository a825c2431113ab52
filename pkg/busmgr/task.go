package busmgr

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/agingbench/core/pkg/can"
)

// Task is a driver-backed cyclic transmitter handle returned by
// StartPeriodic. Modify swaps the payload atomically under the same
// arbitration ID; Stop cancels the cycle.
type Task struct {
	mgr    *Manager
	mu     sync.Mutex
	frame  can.Frame
	period time.Duration
	stop   chan struct{}
	done   chan struct{}
}

// StartPeriodic begins sending frame every period until Stop is called.
func (m *Manager) StartPeriodic(frame can.Frame, period time.Duration) *Task {
	t := &Task{
		mgr:    m,
		frame:  frame,
		period: period,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
	m.mu.Lock()
	m.tasks[t] = struct{}{}
	m.mu.Unlock()

	go t.run()
	return t
}

func (t *Task) run() {
	defer close(t.done)
	ticker := time.NewTicker(t.period)
	defer ticker.Stop()
	for {
		select {
		case <-t.stop:
			return
		case <-ticker.C:
			t.mu.Lock()
			frame := t.frame
			t.mu.Unlock()
			if err := t.mgr.Send(frame); err != nil {
				log.WithError(err).WithField("id", frame.ID).Debug("periodic send failed")
			}
		}
	}
}

// Modify atomically replaces the frame this task sends. The arbitration
// ID may also change (used by the TX remap logic in remap.go).
func (t *Task) Modify(frame can.Frame) {
	t.mu.Lock()
	t.frame = frame
	t.mu.Unlock()
}

// ID returns the current arbitration ID this task transmits under.
func (t *Task) ID() uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.frame.ID
}

// Stop cancels the cycle. Safe to call more than once.
func (t *Task) Stop() {
	select {
	case <-t.stop:
		return
	default:
		close(t.stop)
	}
	<-t.done
	t.mgr.mu.Lock()
	delete(t.mgr.tasks, t)
	t.mgr.mu.Unlock()
}
