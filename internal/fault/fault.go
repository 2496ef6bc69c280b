// Package fault defines the tagged failure kinds surfaced by gateway,
// workflow, and agent results. Domain outcomes are values, not panics:
// callers branch on Kind instead of unwrapping error chains.
package fault

import "fmt"

// Kind classifies a failure for callers that need to branch on outcome.
type Kind string

const (
	// KindCapabilityNotFound means the router could not map the action to
	// any registered capability.
	KindCapabilityNotFound Kind = "capability_not_found"

	// KindAgentNotExecutable means the target agent is Paused or Killed.
	KindAgentNotExecutable Kind = "agent_not_executable"

	// KindPolicyDenied means compliance evaluation produced a Deny verdict.
	KindPolicyDenied Kind = "policy_denied"

	// KindApprovalRequired means a policy escalated the action to a human
	// approver and the approval did not arrive in time (or at all).
	KindApprovalRequired Kind = "approval_required"

	// KindRiskThresholdExceeded means TIRS moved the agent to Paused or
	// Killed while handling this request.
	KindRiskThresholdExceeded Kind = "risk_threshold_exceeded"

	// KindExecutionFailure means the agent's handler returned an error.
	KindExecutionFailure Kind = "execution_failure"

	// KindExternalUnavailable means an optional external service (IAP,
	// reasoning oracle) was unreachable or timed out.
	KindExternalUnavailable Kind = "external_unavailable"

	// KindSnapshotPersistence means a forensic snapshot could not be
	// written to disk. The in-memory chain stays authoritative.
	KindSnapshotPersistence Kind = "snapshot_persistence"

	// KindIntegrityFailure means a hash chain failed verification.
	KindIntegrityFailure Kind = "integrity_failure"

	// KindDeadlineExceeded means the request deadline elapsed before the
	// operation committed.
	KindDeadlineExceeded Kind = "deadline_exceeded"

	// KindQueueFull means a bounded mailbox or queue rejected a message.
	KindQueueFull Kind = "queue_full"
)

// Failure is a tagged, structured failure embedded in result types.
type Failure struct {
	Kind    Kind           `json:"kind"`
	Message string         `json:"message"`
	Detail  map[string]any `json:"detail,omitempty"`
}

// New creates a Failure with a formatted message.
func New(kind Kind, format string, args ...any) *Failure {
	return &Failure{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WithDetail attaches a detail entry and returns the failure for chaining.
func (f *Failure) WithDetail(key string, value any) *Failure {
	if f.Detail == nil {
		f.Detail = make(map[string]any)
	}
	f.Detail[key] = value
	return f
}

// Error implements the error interface so a Failure can travel through
// error returns at package boundaries when needed.
func (f *Failure) Error() string {
	return fmt.Sprintf("%s: %s", f.Kind, f.Message)
}

// Is reports whether err is a *Failure of the given kind.
func Is(err error, kind Kind) bool {
	f, ok := err.(*Failure)
	return ok && f.Kind == kind
}
