package core

import "fmt"

// PermissionDeniedError reports a routing attempt along a pair the chart does
// not allow. It is fatal to the current call and never silently redirected.
type PermissionDeniedError struct {
	Sender    string
	Recipient string
}

func (e *PermissionDeniedError) Error() string {
	return fmt.Sprintf("permission denied: %s may not message %s", e.Sender, e.Recipient)
}

// DelegationLoopError reports that the bounded delegation recursion depth was
// exceeded, which terminates the top-level run.
type DelegationLoopError struct {
	Depth int
	Agent string
}

func (e *DelegationLoopError) Error() string {
	return fmt.Sprintf("delegation depth %d exceeded at agent %s", e.Depth, e.Agent)
}

// ServiceError wraps a completion-service failure that survived the bounded
// retry policy. It is fatal to the run and reported to the caller.
type ServiceError struct {
	Attempts int
	Err      error
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("completion service failed after %d attempt(s): %v", e.Attempts, e.Err)
}

// Unwrap exposes the underlying provider error for errors.Is / errors.As.
func (e *ServiceError) Unwrap() error { return e.Err }

// UnknownAgentError reports a reference to an agent name that is not
// registered with the agency.
type UnknownAgentError struct {
	Agent string
}

func (e *UnknownAgentError) Error() string {
	return fmt.Sprintf("unknown agent: %s", e.Agent)
}
