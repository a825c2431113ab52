package group

import (
	"math"
	"time"

	"github.com/agingbench/core/pkg/archive"
	"github.com/agingbench/core/pkg/status"
)

// Summary is the group-level outcome of one 1 Hz poll (spec §4.7). It is
// purely observational: nothing downstream of PollSummary feeds back
// into classification or diagnostics.
type Summary struct {
	Total          int
	Good           int
	Bad            int
	PassRate       float64
	MaxTemperature float64
	Elapsed        time.Duration
}

// isRemappable reports whether c is one of the statuses the alarm-delay
// rule is allowed to remap for display (spec §4.7): every status except
// Uninitialized, NoUnitPlugged and BoardLost.
func isRemappable(c status.Code) bool {
	return c != status.Uninitialized && c != status.NoUnitPlugged && c != status.BoardLost
}

// PollSummary is the external 1 Hz timer's entry point (spec §4.7: "not
// in the scheduler"). It reads the classifier's status table, applies
// the alarm-delay display remap and the latch rule, computes pass/fail
// statistics, archives a per-slot record for every active slot, and
// auto-stops the group if the configured aging-hours budget has elapsed.
func (g *Group) PollSummary(now time.Time) Summary {
	if g.agingExceeded() {
		_ = g.Stop()
	}

	g.mu.Lock()
	frozen := g.frozen
	handle := g.tableHandle
	g.mu.Unlock()

	snapshot := g.classifier.Snapshot()
	elapsed := g.AgingElapsed()
	alarmActive := g.cfg.AlarmDelay > 0 && elapsed < g.cfg.AlarmDelay

	summary := Summary{Elapsed: elapsed, MaxTemperature: math.Inf(-1)}

	for slot := 1; slot < len(snapshot); slot++ {
		rec := snapshot[slot]
		if rec.Status == status.Uninitialized && rec.Timestamp.IsZero() {
			continue
		}

		latched := rec.Status
		if !frozen {
			latched = g.latches.Update(slot, rec.Status)
		} else {
			latched = g.latches.Get(slot)
		}

		display := latched
		if alarmActive && isRemappable(latched) {
			display = status.Nominal
		}

		// Total excludes only NoUnitPlugged (spec §4.7: total slots with
		// status not in {0,-4}). BoardLost (-5) still counts toward Total
		// per spec §7 — it's excluded from good/bad, not from Total — so
		// a board-lost slot drags PassRate down without landing in either
		// bucket unless it's also in the non-recoverable set.
		if rec.Status != status.NoUnitPlugged {
			summary.Total++
			if display == status.Nominal {
				summary.Good++
			} else if g.cfg.NonRecoverable.Contains(display) {
				summary.Bad++
			}
			g.metrics.SetSlotStatus(slot, int(latched))
		}
		if rec.Temperature > summary.MaxTemperature {
			summary.MaxTemperature = rec.Temperature
		}

		if !frozen {
			g.archiveSlot(handle, slot, rec, latched, display)
		}
	}
	if summary.Total > 0 {
		summary.PassRate = float64(summary.Good) / float64(summary.Total)
	}
	if math.IsInf(summary.MaxTemperature, -1) {
		summary.MaxTemperature = 0
	}
	return summary
}

func (g *Group) archiveSlot(handle archive.TableHandle, slot int, rec status.Record, latched, display status.Code) {
	merged := archive.Record{
		"status_raw":     int(rec.Status),
		"status_latched": int(latched),
		"status_display": int(display),
		"voltage":        rec.Voltage,
		"current":        rec.Current,
		"temperature":    rec.Temperature,
		"timestamp":      rec.Timestamp,
	}
	if signals, ok := g.dispatcher.AppRX1(slot); ok {
		merged["app_rx1"] = signals
	}
	if signals, ok := g.dispatcher.AppRX2(slot); ok {
		merged["app_rx2"] = signals
	}
	if result, errStr := g.diagEngine.Result(slot); len(result) > 0 || errStr != "" {
		merged["diag_result"] = result
		if errStr != "" {
			merged["diag_error"] = errStr
		}
	}
	if snap := g.diagEngine.PeriodicSnapshot(); snap.Last != nil {
		if last, ok := snap.Last[slot]; ok {
			merged["diag_periodic"] = last
		}
		if errStr, ok := snap.LastError[slot]; ok && errStr != "" {
			merged["diag_periodic_error"] = errStr
		}
	}
	if err := g.archive.Append(handle, slot, merged); err != nil {
		g.logger.WithError(err).WithField("slot", slot).Debug("group: archive append failed")
	}
}
