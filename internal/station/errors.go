package station

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a control-protocol failure. Every kind except
// KindSyncFailed is returned synchronously to the caller; sync failures
// are recorded on the job and surfaced through status queries.
type Kind string

const (
	KindInvalidTransition Kind = "InvalidTransition"
	KindUnknownItem       Kind = "UnknownItem"
	KindDuplicateOrExcess Kind = "DuplicateOrExcess"
	KindIncompletePrescan Kind = "IncompletePrescan"
	KindConflict          Kind = "Conflict"
	KindUnauthorized      Kind = "Unauthorized"
	KindSyncFailed        Kind = "SyncFailed"
	KindNotFound          Kind = "NotFound"
)

// Error is a classified, operator-actionable failure.
type Error struct {
	Kind    Kind
	Message string
	Detail  map[string]interface{}
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// KindOf extracts the Kind from err, or "" for unclassified errors.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return ""
}

// NewInvalidTransition names the current state and the attempted event.
func NewInvalidTransition(state State, event Event) *Error {
	return &Error{
		Kind:    KindInvalidTransition,
		Message: fmt.Sprintf("event %q is not legal in state %q", event, state),
		Detail:  map[string]interface{}{"state": string(state), "event": string(event)},
	}
}

func NewUnknownItem(barcode, reason string) *Error {
	return &Error{
		Kind:    KindUnknownItem,
		Message: reason,
		Detail:  map[string]interface{}{"barcode": barcode},
	}
}

func NewDuplicateOrExcess(barcode, itemCode string, required int) *Error {
	return &Error{
		Kind:    KindDuplicateOrExcess,
		Message: fmt.Sprintf("item %s already satisfied its required quantity of %d", itemCode, required),
		Detail:  map[string]interface{}{"barcode": barcode, "itemCode": itemCode, "requiredQty": required},
	}
}

func NewIncompletePrescan(missing []string) *Error {
	return &Error{
		Kind:    KindIncompletePrescan,
		Message: "missing prescan for: " + strings.Join(missing, ", "),
		Detail:  map[string]interface{}{"missingItems": missing},
	}
}

func NewConflict(stationID, sessionID string) *Error {
	return &Error{
		Kind:    KindConflict,
		Message: fmt.Sprintf("station %s already has an active session", stationID),
		Detail:  map[string]interface{}{"stationId": stationID, "sessionId": sessionID},
	}
}

func NewNotFound(what, id string) *Error {
	return &Error{
		Kind:    KindNotFound,
		Message: fmt.Sprintf("%s %s not found", what, id),
		Detail:  map[string]interface{}{"id": id},
	}
}
