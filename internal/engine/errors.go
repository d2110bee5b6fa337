package engine

import (
	"errors"
	"fmt"
	"strings"
)

// Transition rejection reasons. The board client maps these onto its four
// user feedback categories.
type TransitionReason string

const (
	ReasonUnknownTransition TransitionReason = "unknown_transition"
	ReasonOrderViolation    TransitionReason = "order_violation"
	ReasonRoleViolation     TransitionReason = "role_violation"
	ReasonGuardViolation    TransitionReason = "guard_violation"
)

// TransitionError describes why a stage transition was rejected. Guard and
// GuardLabel name the first unmet guard for guard violations.
type TransitionError struct {
	Reason     TransitionReason
	From       string
	To         string
	Role       string
	Guard      string
	GuardLabel string
}

func (e TransitionError) Error() string {
	switch e.Reason {
	case ReasonOrderViolation:
		return fmt.Sprintf("transition %s -> %s skips the pipeline order", e.From, e.To)
	case ReasonRoleViolation:
		return fmt.Sprintf("role %s may not move the deal out of %s", e.Role, e.From)
	case ReasonGuardViolation:
		return fmt.Sprintf("guard not fulfilled: %s", e.GuardLabel)
	default:
		return fmt.Sprintf("unknown transition %s -> %s", e.From, e.To)
	}
}

// ErrClaimConflict is returned when a conditional task claim loses to a
// concurrent claimer.
var ErrClaimConflict = errors.New("task already claimed by another actor")

// ErrDealTerminal rejects mutations on deals in a terminal stage.
var ErrDealTerminal = errors.New("deal is in a terminal stage")

// DocumentRequiredError rejects completion of a document-gated task with no
// attached or previously uploaded document.
type DocumentRequiredError struct {
	GuardKey string
}

func (e DocumentRequiredError) Error() string {
	return fmt.Sprintf("guard %s requires an attached document", e.GuardKey)
}

// MissingDocumentsError names the required document types still unfulfilled
// after the checklist pass.
type MissingDocumentsError struct {
	GuardKey string
	Missing  []string
}

func (e MissingDocumentsError) Error() string {
	return fmt.Sprintf("missing required documents for %s: %s", e.GuardKey, strings.Join(e.Missing, ", "))
}

// UploadError wraps a storage failure during the upload-then-record saga.
// The caller may retry; no document record was kept.
type UploadError struct {
	FileName string
	Err      error
}

func (e UploadError) Error() string {
	return fmt.Sprintf("upload %s failed: %v", e.FileName, e.Err)
}

func (e UploadError) Unwrap() error { return e.Err }
