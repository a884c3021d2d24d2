package station

import (
	"sort"

	"github.com/xelth-com/mixstationgo/internal/models"
)

// State is a session lifecycle state. Values are shared with the
// persisted model so stored sessions need no translation.
type State string

const (
	StateIdle          = State(models.SessionIdle)
	StateLoaded        = State(models.SessionLoaded)
	StatePrescanning   = State(models.SessionPrescanning)
	StateConfirmed     = State(models.SessionConfirmed)
	StateRunning       = State(models.SessionRunning)
	StateCompleting    = State(models.SessionCompleting)
	StateCompleted     = State(models.SessionCompleted)
	StateAborting      = State(models.SessionAborting)
	StateAborted       = State(models.SessionAborted)
	StateAbortComplete = State(models.SessionAbortComplete)
	StateCancelled     = State(models.SessionCancelled)
)

// Event is a control-protocol event applied to a session.
type Event string

const (
	EventLoadWorkorder     Event = "load_workorder"
	EventPrescanItem       Event = "prescan_item"
	EventConfirmPrescan    Event = "confirm_prescan"
	EventStartRun          Event = "start_run"
	EventScanItem          Event = "scan_item"
	EventConfirmCompletion Event = "confirm_completion"
	EventSaveWorkorder     Event = "save_workorder"
	EventAbort             Event = "abort"
	EventResume            Event = "resume"
	EventCompleteAbort     Event = "complete_abort"
	EventFinalizeAbort     Event = "finalize_abort"
	EventCancel            Event = "cancel"
	EventReset             Event = "reset"
)

// EffectType classifies a declarative side effect requested by a
// transition. Effects are executed by the caller after the state change
// is persisted, never inside the engine.
type EffectType string

const (
	EffectEnqueueSync EffectType = "enqueue_sync"
	EffectPrintLabel  EffectType = "print_label"
)

// Effect is an instruction for the caller.
type Effect struct {
	Type      EffectType
	Operation string // sync operation for EffectEnqueueSync
}

// transitions is the complete state graph. cancel and reset are legal
// from every non-terminal state and are appended in init below.
var transitions = map[State]map[Event]State{
	StateIdle: {
		EventLoadWorkorder: StateLoaded,
	},
	StateLoaded: {
		EventPrescanItem: StatePrescanning,
	},
	StatePrescanning: {
		EventPrescanItem:    StatePrescanning,
		EventConfirmPrescan: StateConfirmed,
	},
	StateConfirmed: {
		EventStartRun: StateRunning,
	},
	StateRunning: {
		EventScanItem:          StateRunning,
		EventAbort:             StateAborting,
		EventConfirmCompletion: StateCompleting,
	},
	StateAborting: {
		EventResume:        StateRunning,
		EventCompleteAbort: StateAborted,
	},
	StateAborted: {
		EventFinalizeAbort: StateAbortComplete,
	},
	StateCompleting: {
		EventSaveWorkorder: StateCompleted,
	},
	StateCompleted:     {},
	StateAbortComplete: {},
	StateCancelled:     {},
}

// effects maps events to the declarative instructions their transition
// produces.
var effects = map[Event][]Effect{
	EventSaveWorkorder: {
		{Type: EffectEnqueueSync, Operation: models.SyncOpUpdateWorkorder},
		{Type: EffectEnqueueSync, Operation: models.SyncOpCreateBatch},
		{Type: EffectPrintLabel},
	},
	EventCompleteAbort: {
		{Type: EffectEnqueueSync, Operation: models.SyncOpUpdateWorkorder},
	},
}

func init() {
	for state, events := range transitions {
		if IsTerminal(state) {
			continue
		}
		events[EventCancel] = StateCancelled
		events[EventReset] = StateIdle
	}
}

// IsTerminal reports whether a session in the given state rejects further
// mutation. Idle is terminal for an existing session: reset supersedes the
// session rather than reviving it, and a fresh load creates a new one.
func IsTerminal(state State) bool {
	switch state {
	case StateIdle, StateCompleted, StateAbortComplete, StateCancelled:
		return true
	}
	return false
}

// Apply is the pure transition function: given the current state and an
// event it returns the next state and the effects the caller must execute.
// Illegal events return InvalidTransition and no state change.
func Apply(state State, event Event) (State, []Effect, error) {
	legal, ok := transitions[state]
	if !ok {
		return state, nil, NewInvalidTransition(state, event)
	}
	next, ok := legal[event]
	if !ok {
		return state, nil, NewInvalidTransition(state, event)
	}
	return next, effects[event], nil
}

// LegalEvents returns, sorted, exactly the set of events for which Apply
// does not return InvalidTransition. Read-only: used by check_transitions.
func LegalEvents(state State) []Event {
	legal := transitions[state]
	out := make([]Event, 0, len(legal))
	for e := range legal {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// AllStates lists every state in the graph, for exhaustive checks.
func AllStates() []State {
	out := make([]State, 0, len(transitions))
	for s := range transitions {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// AllEvents lists every event the engine knows.
func AllEvents() []Event {
	return []Event{
		EventLoadWorkorder, EventPrescanItem, EventConfirmPrescan,
		EventStartRun, EventScanItem, EventConfirmCompletion,
		EventSaveWorkorder, EventAbort, EventResume, EventCompleteAbort,
		EventFinalizeAbort, EventCancel, EventReset,
	}
}
