package sensor

import (
	"fmt"
	"runtime/debug"
	"strings"

	"github.com/henriblancke/dagster/internal/ir"
)

// Invoke runs r exactly once inside an error boundary.
//
// A returned error or a panic is converted into an *EvaluationError and
// returned. Invoke never panics because of user code.
//
// A nil slice means the reaction produced nothing. A non-nil empty slice is
// a decision with no outputs.
func Invoke(name string, r Reaction, c *Context) (outputs []Output, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			outputs = nil
			err = panicError(name, rec, debug.Stack())
		}
	}()

	outputs, err = r.call(c)
	if err != nil {
		return nil, &EvaluationError{
			Code:   ErrCodeEvaluation,
			Sensor: name,
			Info:   evaluationInfo(name, ir.ErrorInfoFromError(err)),
			Err:    err,
		}
	}
	for i, o := range outputs {
		if o == nil {
			nilErr := fmt.Errorf("reaction returned a nil output at index %d", i)
			return nil, &EvaluationError{
				Code:   ErrCodeEvaluation,
				Sensor: name,
				Info:   evaluationInfo(name, ir.ErrorInfoFromError(nilErr)),
				Err:    nilErr,
			}
		}
	}
	return outputs, nil
}

func panicError(name string, rec any, stack []byte) *EvaluationError {
	err, ok := rec.(error)
	if !ok {
		err = fmt.Errorf("panic: %v", rec)
	}
	cause := ir.ErrorInfoFromError(err)
	cause.Stack = stackFrames(stack)
	return &EvaluationError{
		Code:     ErrCodeEvaluation,
		Sensor:   name,
		Info:     evaluationInfo(name, cause),
		Panicked: true,
		Err:      err,
	}
}

// evaluationInfo wraps the user error descriptor in the boundary's own
// message so tick history shows which sensor failed.
func evaluationInfo(name string, cause *ir.ErrorInfo) *ir.ErrorInfo {
	return &ir.ErrorInfo{
		Message:   fmt.Sprintf("Error occurred during the execution of sensor %q.", name),
		ClassName: "EvaluationError",
		Cause:     cause,
	}
}

// stackFrames splits a debug.Stack dump into trimmed, non-empty lines.
func stackFrames(stack []byte) []string {
	lines := strings.Split(strings.TrimSpace(string(stack)), "\n")
	frames := make([]string, 0, len(lines))
	for _, line := range lines {
		if line = strings.TrimSpace(line); line != "" {
			frames = append(frames, line)
		}
	}
	return frames
}
