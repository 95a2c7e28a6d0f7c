package tradeflow

import "errors"

// OutputStatus tags a NodeOutput.
type OutputStatus string

const (
	OutputSuccess OutputStatus = "SUCCESS"
	OutputError   OutputStatus = "ERROR"
)

// NodeOutput is the recorded result of one node invocation. Once written for
// a node within a run it is never replaced.
type NodeOutput struct {
	Status  OutputStatus `json:"status"`
	Value   any          `json:"value,omitempty"`
	Message string       `json:"message,omitempty"`
	Stack   string       `json:"stack,omitempty"`
}

// Success wraps an executor result.
func Success(v any) NodeOutput {
	return NodeOutput{Status: OutputSuccess, Value: v}
}

// Failure converts an executor error into an ERROR output.
func Failure(err error) NodeOutput {
	out := NodeOutput{Status: OutputError, Message: err.Error()}
	var pe *PanicError
	if errors.As(err, &pe) {
		out.Stack = pe.Stack
	}
	return out
}

// OK reports whether the output is a SUCCESS.
func (o NodeOutput) OK() bool { return o.Status == OutputSuccess }

// Err returns the ERROR message as an error, or nil for a SUCCESS.
func (o NodeOutput) Err() error {
	if o.OK() {
		return nil
	}
	return errors.New(o.Message)
}
