package worker_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/WIPACrepo/lta-sub001/worker"
)

type scriptedRunner struct {
	outcomes []worker.Outcome
	calls    int
}

func (r *scriptedRunner) Name() string { return "scripted" }

func (r *scriptedRunner) DoWorkClaim(ctx context.Context) worker.Outcome {
	o := r.outcomes[r.calls%len(r.outcomes)]
	r.calls++
	return o
}

func TestRunOnceReportsClaimed(t *testing.T) {
	r := &scriptedRunner{outcomes: []worker.Outcome{worker.OutcomeProcessed}}
	l := &worker.Loop{Runner: r, Sleep: time.Millisecond}
	if !l.RunOnce(context.Background()) {
		t.Fatal("expected RunOnce to report work claimed")
	}
}

func TestRunOnceReportsEmpty(t *testing.T) {
	r := &scriptedRunner{outcomes: []worker.Outcome{worker.OutcomeEmpty}}
	l := &worker.Loop{Runner: r, Sleep: time.Millisecond}
	if l.RunOnce(context.Background()) {
		t.Fatal("expected RunOnce to report no work claimed")
	}
}

func TestRunForeverRunOnceAndDie(t *testing.T) {
	r := &scriptedRunner{outcomes: []worker.Outcome{worker.OutcomeProcessed, worker.OutcomeProcessed, worker.OutcomeProcessed}}
	l := &worker.Loop{Runner: r, Sleep: time.Millisecond, RunOnceAndDie: true}
	l.RunForever(context.Background())
	if r.calls != 1 {
		t.Fatalf("expected exactly 1 call under RunOnceAndDie, got %d", r.calls)
	}
}

func TestRunForeverRunUntilNoWork(t *testing.T) {
	r := &scriptedRunner{outcomes: []worker.Outcome{worker.OutcomeProcessed, worker.OutcomeProcessed, worker.OutcomeEmpty}}
	l := &worker.Loop{Runner: r, Sleep: time.Millisecond, RunUntilNoWork: true}
	l.RunForever(context.Background())
	if r.calls != 3 {
		t.Fatalf("expected 3 calls (stop at first empty pop), got %d", r.calls)
	}
}

func TestRunForeverHonorsCancellation(t *testing.T) {
	r := &scriptedRunner{outcomes: []worker.Outcome{worker.OutcomeEmpty}}
	l := &worker.Loop{Runner: r, Sleep: time.Hour}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	done := make(chan struct{})
	go func() {
		l.RunForever(ctx)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("RunForever did not return promptly on a canceled context")
	}
}

// TestRunForeverPostsHeartbeatReflectingLastOutcome confirms a Loop with a
// Heartbeat attached (§4.1 "Heartbeat / status") posts liveness at its
// configured interval, and that ok flips false after a quarantined cycle.
func TestRunForeverPostsHeartbeatReflectingLastOutcome(t *testing.T) {
	var mu sync.Mutex
	var bodies []map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		mu.Lock()
		bodies = append(bodies, body)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	hb := worker.NewHeartbeat(srv.URL, "testcomp", 20*time.Millisecond)
	r := &scriptedRunner{outcomes: []worker.Outcome{worker.OutcomeQuarantined}}
	l := &worker.Loop{Runner: r, Sleep: 5 * time.Millisecond, Heartbeat: hb}

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Millisecond)
	defer cancel()
	l.RunForever(ctx)

	mu.Lock()
	defer mu.Unlock()
	if len(bodies) == 0 {
		t.Fatal("expected at least one heartbeat post")
	}
	last := bodies[len(bodies)-1]
	comp, ok := last["testcomp"].(map[string]any)
	if !ok {
		t.Fatalf("expected heartbeat body keyed by component name, got %v", last)
	}
	if comp["ok"] != false {
		t.Fatalf("expected ok=false after a quarantined cycle, got %v", comp["ok"])
	}
}
