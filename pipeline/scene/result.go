package scene

import "fmt"

// Result is the outcome of one scene-service operation.
// Exactly one of Message (success) or Err (failure reason) is meaningful.
type Result struct {
	Message string
	Err     error
}

// OK reports whether the operation succeeded.
func (r Result) OK() bool { return r.Err == nil }

// String returns the success message or the failure reason.
func (r Result) String() string {
	if r.Err != nil {
		return r.Err.Error()
	}
	return r.Message
}

func succeeded(format string, args ...any) Result {
	return Result{Message: fmt.Sprintf(format, args...)}
}

func failed(err error) Result {
	return Result{Err: err}
}
