// Package accounts holds the account validation state machine run by
// superadmins.
package accounts

import (
	"strings"

	"campuscoin/internal/apperr"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
	StatusSuspended Status = "suspended"
)

type Action string

const (
	ActionApprove    Action = "approve"
	ActionReject     Action = "reject"
	ActionSuspend    Action = "suspend"
	ActionReactivate Action = "reactivate"
	ActionResubmit   Action = "resubmit"
)

var transitions = map[Status]map[Action]Status{
	StatusPending: {
		ActionApprove: StatusApproved,
		ActionReject:  StatusRejected,
	},
	StatusApproved: {
		ActionSuspend: StatusSuspended,
	},
	StatusSuspended: {
		ActionReactivate: StatusApproved,
	},
	StatusRejected: {
		ActionResubmit: StatusPending,
	},
}

func ParseStatus(value string) (Status, bool) {
	switch Status(strings.ToLower(strings.TrimSpace(value))) {
	case StatusPending:
		return StatusPending, true
	case StatusApproved:
		return StatusApproved, true
	case StatusRejected:
		return StatusRejected, true
	case StatusSuspended:
		return StatusSuspended, true
	}
	return "", false
}

func ParseAction(value string) (Action, bool) {
	action := Action(strings.ToLower(strings.TrimSpace(value)))
	switch action {
	case ActionApprove, ActionReject, ActionSuspend, ActionReactivate, ActionResubmit:
		return action, true
	}
	return "", false
}

// RequiresReason reports whether the action must carry a reason.
func RequiresReason(action Action) bool {
	return action == ActionReject || action == ActionSuspend
}

// Transition returns the status reached by applying action to from.
func Transition(from Status, action Action, reason string) (Status, error) {
	if RequiresReason(action) && strings.TrimSpace(reason) == "" {
		return from, apperr.Validation("reason", "reason_required", "A reason is required")
	}
	next, ok := transitions[from][action]
	if !ok {
		return from, apperr.Conflict("invalid_transition", "Cannot "+string(action)+" a "+string(from)+" account")
	}
	return next, nil
}

// Allowed lists the actions available from a status, for disabling controls.
func Allowed(from Status) []Action {
	var out []Action
	for _, action := range []Action{ActionApprove, ActionReject, ActionSuspend, ActionReactivate, ActionResubmit} {
		if _, ok := transitions[from][action]; ok {
			out = append(out, action)
		}
	}
	return out
}

// CanSignIn reports whether an account in this status may obtain tokens.
// Pending and rejected users sign in to follow up on their documents.
func CanSignIn(status Status) bool {
	return status != StatusSuspended
}

// IsActive reports whether the account may use wallet, event and order
// operations.
func IsActive(status Status) bool {
	return status == StatusApproved
}

// InitialStatus is the status a freshly registered account starts in.
func InitialStatus(role string) Status {
	if role == "superadmin" {
		return StatusApproved
	}
	return StatusPending
}
