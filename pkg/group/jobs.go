package group

import (
	"context"
	"time"
)

// registerJobs installs the default periodic jobs at group start (spec
// §4.7): the two round-robin switching jobs (only if enabled), the
// periodic diagnostic tick, and the pending-only diagnostic job.
func (g *Group) registerJobs() {
	if g.cfg.SwitchMsg1.Enabled {
		_ = g.scheduler.AddJob("PeriodicSwitchMsg1", g.cfg.SwitchMsg1.Period, g.switchJob(g.cfg.SwitchMsg1))
	}
	if g.cfg.SwitchMsg2.Enabled {
		_ = g.scheduler.AddJob("PeriodicSwitchMsg2", g.cfg.SwitchMsg2.Period, g.switchJob(g.cfg.SwitchMsg2))
	}

	// PeriodicDiag's own tick interval is min(interval, rediag_interval)
	// so failure back-off can fire independently of the happy-path
	// interval (spec §4.7).
	diagInterval := g.cfg.PeriodicInterval
	if g.cfg.RediagInterval > 0 && g.cfg.RediagInterval < diagInterval {
		diagInterval = g.cfg.RediagInterval
	}
	if diagInterval > 0 {
		_ = g.scheduler.AddJob("PeriodicDiag", diagInterval, g.periodicDiagJob())
	}

	pendingInterval := g.cfg.RediagInterval
	if pendingInterval > 0 {
		_ = g.scheduler.AddJob("Diagnostic", pendingInterval, g.pendingDiagJob())
	}
}

// switchJob returns a scheduler Func that round-robins cfg.Payloads onto
// cfg.TaskName's [2]*busmgr.Task pair.
func (g *Group) switchJob(cfg SwitchConfig) func() {
	return func() {
		if len(cfg.Payloads) == 0 {
			return
		}
		g.mu.Lock()
		tasks, ok := g.txTasks[cfg.TaskName]
		idx := g.switchIdx[cfg.TaskName]
		g.mu.Unlock()
		if !ok {
			return
		}
		payload := cfg.Payloads[idx%len(cfg.Payloads)]
		if err := g.bus.ModifyPeriodicTX(g.cfg.TxRemap, tasks, toUint32(cfg.MsgID), payload); err != nil {
			g.logger.WithError(err).WithField("task", cfg.TaskName).Warn("group: periodic switch encode failed")
			return
		}
		g.mu.Lock()
		g.switchIdx[cfg.TaskName] = idx + 1
		g.mu.Unlock()
	}
}

func toUint32(v any) uint32 {
	switch n := v.(type) {
	case uint32:
		return n
	case int:
		return uint32(n)
	default:
		return 0
	}
}

func (g *Group) periodicDiagJob() func() {
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), g.cfg.Diag.RequestTimeout+time.Second)
		defer cancel()
		g.diagEngine.PeriodicTick(ctx, time.Now())
	}
}

func (g *Group) pendingDiagJob() func() {
	return func() {
		if len(g.diagEngine.PendingSlots()) == 0 {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), g.cfg.Diag.RequestTimeout+time.Second)
		defer cancel()
		if _, err := g.diagEngine.RunPendingOnce(ctx, g.cfg.PendingDIDs); err != nil {
			g.logger.WithError(err).Warn("group: pending diagnostic run failed")
		}
	}
}
