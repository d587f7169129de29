package worker

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/WIPACrepo/lta-sub001/cmn/lmetrics"
	"github.com/WIPACrepo/lta-sub001/cmn/nlog"
)

// Runner is what every component subtype implements (§4.1): one work cycle
// that claims at most one row, processes it fully (including quarantining
// it on failure), and reports what happened. A fatal (config/unrecoverable)
// condition should be handled by the caller before the loop ever starts —
// DoWorkClaim is never expected to return anything but a cycle Outcome.
type Runner interface {
	Name() string
	DoWorkClaim(ctx context.Context) Outcome
}

// Loop drives run_once/run_forever (§4.1) for one component replica.
type Loop struct {
	Runner         Runner
	Sleep          time.Duration
	RunOnceAndDie  bool
	RunUntilNoWork bool
	Metrics        *lmetrics.Set
	// Heartbeat is optional per component (§4.1 "Heartbeat / status"): when
	// set, RunForever posts this replica's liveness on Heartbeat.Interval
	// and RunOnce marks begin/end of each work cycle on it.
	Heartbeat *Heartbeat

	lastOK atomic.Bool
}

// RunOnce executes exactly one work cycle and returns whether work was
// claimed (processed or quarantined both count — only an empty pop does
// not).
func (l *Loop) RunOnce(ctx context.Context) bool {
	id := nlog.CorrelationID()
	start := time.Now()
	if l.Heartbeat != nil {
		l.Heartbeat.BeginWork()
	}
	outcome := l.Runner.DoWorkClaim(ctx)
	if l.Heartbeat != nil {
		l.Heartbeat.EndWork()
	}
	l.lastOK.Store(outcome != OutcomeQuarantined)
	elapsed := time.Since(start)

	if l.Metrics != nil {
		l.Metrics.WorkCycle.Observe(elapsed.Seconds())
		l.Metrics.Claims.WithLabelValues(outcome.String()).Inc()
		if outcome == OutcomeQuarantined {
			l.Metrics.Quarantines.Inc()
		}
	}
	nlog.Debugf("[%s] work cycle %s: %s in %s", l.Runner.Name(), id, outcome, elapsed)
	return outcome != OutcomeEmpty
}

// RunForever loops RunOnce with an inter-cycle sleep (§4.1), honoring
// RunUntilNoWork and RunOnceAndDie (§5 "Cancellation semantics") and
// unwinding cleanly when ctx is canceled.
func (l *Loop) RunForever(ctx context.Context) {
	l.lastOK.Store(true)
	if l.Heartbeat != nil {
		go l.Heartbeat.Run(ctx, l.lastOK.Load)
	}
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		processed := l.RunOnce(ctx)
		if l.RunOnceAndDie {
			return
		}
		if l.RunUntilNoWork && !processed {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(l.Sleep):
		}
	}
}
