package tradeflow

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for errors.Is checks.
var (
	// ErrStructural marks a bad graph: dangling edge, cycle, missing entry point.
	ErrStructural = errors.New("structural error")

	// ErrDispatch marks a node the engine could not hand to any executor.
	ErrDispatch = errors.New("dispatch error")

	// ErrReplayBoundary marks a backtest that cannot start.
	ErrReplayBoundary = errors.New("replay boundary error")

	// ErrCancelled is returned when a run stops because its flag was set.
	ErrCancelled = errors.New("run cancelled")
)

// Validation reasons reported by GraphValidationError.
const (
	ReasonDanglingEdge     = "dangling-edge"
	ReasonDuplicateNode    = "duplicate-node"
	ReasonNoEntryPoint     = "no-entry-point"
	ReasonIncompatibleEdge = "incompatible-edge"
	ReasonEmptyNodeID      = "empty-node-id"
)

// GraphValidationError reports a structural defect. Ref names the offending
// edge or node.
type GraphValidationError struct {
	Reason string
	Ref    string
}

func (e *GraphValidationError) Error() string {
	if e.Ref == "" {
		return fmt.Sprintf("%s: %s", ErrStructural, e.Reason)
	}
	return fmt.Sprintf("%s: %s: %s", ErrStructural, e.Reason, e.Ref)
}

func (e *GraphValidationError) Unwrap() error { return ErrStructural }

// CycleDetectedError names a full cycle, first node repeated at the end.
type CycleDetectedError struct {
	CyclePath []string
}

func (e *CycleDetectedError) Error() string {
	return fmt.Sprintf("%s: cycle detected: %s", ErrStructural, strings.Join(e.CyclePath, " -> "))
}

func (e *CycleDetectedError) Unwrap() error { return ErrStructural }

// NodeExecutionError means the engine could not dispatch a node.
type NodeExecutionError struct {
	NodeID string
	Kind   NodeKind
}

func (e *NodeExecutionError) Error() string {
	return fmt.Sprintf("%s: no executor for kind %q (node %q)", ErrDispatch, e.Kind, e.NodeID)
}

func (e *NodeExecutionError) Unwrap() error { return ErrDispatch }

// ValidationError rejects a malformed request before any work starts.
type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: invalid %s: %s", ErrReplayBoundary, e.Field, e.Msg)
}

func (e *ValidationError) Unwrap() error { return ErrReplayBoundary }

// InsufficientDataError means a series is shorter than the minimum window.
type InsufficientDataError struct {
	Required int
	Got      int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("insufficient data: need %d bars, got %d", e.Required, e.Got)
}

func (e *InsufficientDataError) Unwrap() error { return ErrReplayBoundary }

// BrokerErrorKind classifies broker failures.
type BrokerErrorKind string

const (
	BrokerAuth       BrokerErrorKind = "auth"
	BrokerValidation BrokerErrorKind = "validation"
	BrokerNetwork    BrokerErrorKind = "network"
	BrokerAPI        BrokerErrorKind = "api"
)

// BrokerError is returned by the live broker adapter and by the simulated
// ledger when an order is rejected.
type BrokerError struct {
	Kind BrokerErrorKind
	Msg  string
	Err  error
}

func (e *BrokerError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("broker %s error: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("broker %s error: %s", e.Kind, e.Msg)
}

func (e *BrokerError) Unwrap() error { return e.Err }

// PanicError carries a recovered executor panic and its stack.
type PanicError struct {
	NodeID string
	Value  any
	Stack  string
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("node %q panicked: %v", e.NodeID, e.Value)
}
