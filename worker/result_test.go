package worker_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/WIPACrepo/lta-sub001/worker"
)

func TestWorkErrorMessageIncludesCause(t *testing.T) {
	cause := errors.New("connection refused")
	we := worker.NewWorkError(worker.ErrTransient, "submit transfer", cause)
	msg := we.Error()
	if !strings.Contains(msg, "transient") || !strings.Contains(msg, "submit transfer") || !strings.Contains(msg, "connection refused") {
		t.Fatalf("unexpected WorkError message: %q", msg)
	}
}

func TestWorkErrorMessageWithoutCause(t *testing.T) {
	we := worker.NewWorkError(worker.ErrDataIntegrity, "checksum mismatch", nil)
	msg := we.Error()
	if !strings.Contains(msg, "data-integrity") || !strings.Contains(msg, "checksum mismatch") {
		t.Fatalf("unexpected WorkError message: %q", msg)
	}
	if strings.Contains(msg, "<nil>") {
		t.Fatalf("nil cause should not leak into the message: %q", msg)
	}
}

func TestOutcomeStringsAreDistinct(t *testing.T) {
	seen := map[string]bool{}
	for _, o := range []worker.Outcome{worker.OutcomeEmpty, worker.OutcomeProcessed, worker.OutcomeQuarantined} {
		s := o.String()
		if seen[s] {
			t.Fatalf("duplicate Outcome string %q", s)
		}
		seen[s] = true
	}
}
