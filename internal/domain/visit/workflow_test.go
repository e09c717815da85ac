package visit

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
)

// Walks a routine outpatient visit through its whole lifecycle:
// registration, triage queue, examination, record finalization lock,
// billing, payment and completion.
func TestOutpatientWorkflow(t *testing.T) {
	svc, repo, billing := newTestService()
	ctx := context.Background()

	v := &Visit{PatientID: uuid.New(), Type: TypeOutpatient}
	if err := svc.Register(ctx, v); err != nil {
		t.Fatalf("register: %v", err)
	}
	if v.Status != StatusRegistered {
		t.Fatalf("expected registered, got %s", v.Status)
	}

	steps := []struct {
		target Status
		actor  string
	}{
		{StatusWaiting, "registrar-1"},
		{StatusInExamination, "dr-1"},
		{StatusExamined, "dr-1"},
	}
	for _, step := range steps {
		if _, err := svc.Transition(ctx, v.ID, step.target, step.actor, false); err != nil {
			t.Fatalf("transition to %s: %v", step.target, err)
		}
	}

	// Records may be written during and after examination, finalized only
	// once examined.
	stored, _ := repo.GetByID(ctx, v.ID)
	if !CanCreateMedicalRecord(stored.Status) {
		t.Errorf("expected records writable in %s", stored.Status)
	}
	if !CanLockMedicalRecord(stored.Status) {
		t.Errorf("expected record finalization allowed in %s", stored.Status)
	}

	if err := svc.Lock(ctx, v.ID, "dr-1", LockSourceFinalizedRecord); err != nil {
		t.Fatalf("lock: %v", err)
	}

	if _, err := svc.Transition(ctx, v.ID, StatusReadyForBilling, "dr-1", false); err != nil {
		t.Fatalf("transition to ready_for_billing: %v", err)
	}

	stored, _ = repo.GetByID(ctx, v.ID)
	if !CanCreateBilling(stored.Status) {
		t.Errorf("expected billing allowed in %s", stored.Status)
	}

	if _, err := svc.Transition(ctx, v.ID, StatusBilled, "cashier-1", false); err != nil {
		t.Fatalf("transition to billed: %v", err)
	}

	// Completion blocked while the balance is open.
	billing.remaining = 100000
	if _, err := svc.Transition(ctx, v.ID, StatusPaid, "cashier-1", false); err != nil {
		t.Fatalf("transition to paid: %v", err)
	}
	_, err := svc.Transition(ctx, v.ID, StatusCompleted, "cashier-1", false)
	var de *DischargeBlockedError
	if !errors.As(err, &de) {
		t.Fatalf("expected DischargeBlockedError, got %v", err)
	}

	// Full payment settles the balance and completion proceeds.
	billing.remaining = 0
	got, err := svc.Transition(ctx, v.ID, StatusCompleted, "cashier-1", false)
	if err != nil {
		t.Fatalf("transition to completed: %v", err)
	}
	if got.EndTime == nil {
		t.Error("expected end_time set on completion")
	}

	// Completed is terminal; every further mutation is rejected.
	for _, target := range allStatuses {
		_, err := svc.Transition(ctx, v.ID, target, "admin-1", true)
		var te *TransitionError
		if !errors.As(err, &te) || !te.Terminal {
			t.Errorf("completed -> %s: expected terminal rejection, got %v", target, err)
		}
	}

	history, err := svc.StatusHistory(ctx, v.ID)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	want := []Status{
		StatusWaiting, StatusInExamination, StatusExamined,
		StatusReadyForBilling, StatusBilled, StatusPaid, StatusCompleted,
	}
	if len(history) != len(want) {
		t.Fatalf("expected %d history rows, got %d", len(want), len(history))
	}
	for i, h := range history {
		if h.To != want[i] {
			t.Errorf("history[%d].to = %s, want %s", i, h.To, want[i])
		}
	}
}
