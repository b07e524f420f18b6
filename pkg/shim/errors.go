package shim

import (
	"errors"
	"fmt"
)

// Sentinel errors for errors.Is matching against the typed errors below.
var (
	// ErrPolicyDenied is returned when the control plane denies execution.
	ErrPolicyDenied = errors.New("policy denied")
	// ErrApprovalTimeout is returned when approval polling exceeds the
	// deadline. The decision remains pending on the control plane.
	ErrApprovalTimeout = errors.New("approval timeout")
	// ErrUnreachable is returned when the control plane cannot be reached
	// or answers with a malformed response. Always fail-closed.
	ErrUnreachable = errors.New("control plane unreachable")
	// ErrUnknownEffect is returned when the decision response carries an
	// effect the shim does not understand. Protocol violation, fail-closed.
	ErrUnknownEffect = errors.New("unknown decision effect")
)

// PolicyDeniedError carries the control plane's denial details.
type PolicyDeniedError struct {
	ExecutionID     string
	BlockedReason   string
	MatchedPolicies []string
}

func (e *PolicyDeniedError) Error() string {
	if e.BlockedReason != "" {
		return fmt.Sprintf("policy denied: %s", e.BlockedReason)
	}
	return "policy denied"
}

func (e *PolicyDeniedError) Is(target error) bool { return target == ErrPolicyDenied }

// ApprovalTimeoutError is raised when the poll deadline elapses.
type ApprovalTimeoutError struct {
	ExecutionID string
	DecisionID  string
}

func (e *ApprovalTimeoutError) Error() string {
	return fmt.Sprintf("approval timeout waiting on execution %s", e.ExecutionID)
}

func (e *ApprovalTimeoutError) Is(target error) bool { return target == ErrApprovalTimeout }

// UnreachableError wraps a transport or protocol failure.
type UnreachableError struct {
	Op  string
	Err error
}

func (e *UnreachableError) Error() string {
	return fmt.Sprintf("control plane unreachable during %s: %v", e.Op, e.Err)
}

func (e *UnreachableError) Unwrap() error { return e.Err }

func (e *UnreachableError) Is(target error) bool { return target == ErrUnreachable }

// UnknownEffectError reports a decision effect outside the protocol.
type UnknownEffectError struct {
	ExecutionID string
	Effect      string
}

func (e *UnknownEffectError) Error() string {
	return fmt.Sprintf("unknown decision effect %q for execution %s", e.Effect, e.ExecutionID)
}

func (e *UnknownEffectError) Is(target error) bool { return target == ErrUnknownEffect }
