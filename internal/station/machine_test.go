package station

import (
	"testing"

	"github.com/xelth-com/mixstationgo/internal/models"
)

// contains reports whether the event list includes e.
func contains(events []Event, e Event) bool {
	for _, ev := range events {
		if ev == e {
			return true
		}
	}
	return false
}

func TestApplyMatchesLegalEvents(t *testing.T) {
	// LegalEvents must agree exactly with Apply's accept/reject decisions,
	// for every state and event the engine knows.
	for _, state := range AllStates() {
		legal := LegalEvents(state)
		for _, event := range AllEvents() {
			_, _, err := Apply(state, event)
			if contains(legal, event) && err != nil {
				t.Errorf("state %s: event %s listed legal but Apply rejected: %v", state, event, err)
			}
			if !contains(legal, event) && err == nil {
				t.Errorf("state %s: event %s not listed legal but Apply accepted", state, event)
			}
			if err != nil && KindOf(err) != KindInvalidTransition {
				t.Errorf("state %s: event %s rejected with kind %q, want InvalidTransition", state, event, KindOf(err))
			}
		}
	}
}

func TestApplyRejectionKeepsState(t *testing.T) {
	next, fx, err := Apply(StateRunning, EventConfirmPrescan)
	if err == nil {
		t.Fatal("expected confirm_prescan to be illegal while running")
	}
	if next != StateRunning {
		t.Errorf("rejected event changed state to %s", next)
	}
	if fx != nil {
		t.Errorf("rejected event produced effects: %v", fx)
	}
}

func TestHappyPath(t *testing.T) {
	steps := []struct {
		event Event
		want  State
	}{
		{EventLoadWorkorder, StateLoaded},
		{EventPrescanItem, StatePrescanning},
		{EventPrescanItem, StatePrescanning},
		{EventConfirmPrescan, StateConfirmed},
		{EventStartRun, StateRunning},
		{EventScanItem, StateRunning},
		{EventConfirmCompletion, StateCompleting},
		{EventSaveWorkorder, StateCompleted},
	}

	state := StateIdle
	for _, step := range steps {
		next, _, err := Apply(state, step.event)
		if err != nil {
			t.Fatalf("Apply(%s, %s): %v", state, step.event, err)
		}
		if next != step.want {
			t.Fatalf("Apply(%s, %s) = %s, want %s", state, step.event, next, step.want)
		}
		state = next
	}
	if !IsTerminal(state) {
		t.Errorf("%s should be terminal", state)
	}
}

func TestAbortPath(t *testing.T) {
	state, _, err := Apply(StateRunning, EventAbort)
	if err != nil || state != StateAborting {
		t.Fatalf("abort from running: state=%s err=%v", state, err)
	}

	// A resume returns to running; the loop may repeat.
	resumed, _, err := Apply(state, EventResume)
	if err != nil || resumed != StateRunning {
		t.Fatalf("resume from aborting: state=%s err=%v", resumed, err)
	}

	state, fx, err := Apply(StateAborting, EventCompleteAbort)
	if err != nil || state != StateAborted {
		t.Fatalf("complete_abort: state=%s err=%v", state, err)
	}
	if len(fx) != 1 || fx[0].Type != EffectEnqueueSync || fx[0].Operation != models.SyncOpUpdateWorkorder {
		t.Errorf("complete_abort effects = %v, want single update_workorder sync", fx)
	}

	state, _, err = Apply(state, EventFinalizeAbort)
	if err != nil || state != StateAbortComplete {
		t.Fatalf("finalize_abort: state=%s err=%v", state, err)
	}
	if !IsTerminal(state) {
		t.Error("ABORT_COMPLETE should be terminal")
	}
}

func TestSaveWorkorderEffects(t *testing.T) {
	_, fx, err := Apply(StateCompleting, EventSaveWorkorder)
	if err != nil {
		t.Fatal(err)
	}
	var syncOps []string
	var labels int
	for _, ef := range fx {
		switch ef.Type {
		case EffectEnqueueSync:
			syncOps = append(syncOps, ef.Operation)
		case EffectPrintLabel:
			labels++
		}
	}
	if len(syncOps) != 2 || syncOps[0] != models.SyncOpUpdateWorkorder || syncOps[1] != models.SyncOpCreateBatch {
		t.Errorf("sync ops = %v, want [update_workorder create_batch]", syncOps)
	}
	if labels != 1 {
		t.Errorf("label effects = %d, want 1", labels)
	}
}

func TestCancelAndResetFromEveryNonTerminalState(t *testing.T) {
	for _, state := range AllStates() {
		if IsTerminal(state) {
			continue
		}
		next, _, err := Apply(state, EventCancel)
		if err != nil || next != StateCancelled {
			t.Errorf("cancel from %s: state=%s err=%v", state, next, err)
		}
		next, _, err = Apply(state, EventReset)
		if err != nil || next != StateIdle {
			t.Errorf("reset from %s: state=%s err=%v", state, next, err)
		}
	}
}

func TestTerminalStatesRejectEverything(t *testing.T) {
	terminals := []State{StateCompleted, StateAbortComplete, StateCancelled}
	for _, state := range terminals {
		for _, event := range AllEvents() {
			if _, _, err := Apply(state, event); err == nil {
				t.Errorf("terminal state %s accepted event %s", state, event)
			}
		}
	}
}
