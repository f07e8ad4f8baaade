package ir

import (
	"errors"
	"fmt"
	"strings"
)

// maxCauseDepth bounds the cause chain recorded for one error.
const maxCauseDepth = 16

// ErrorInfo is the serializable form of an error raised by user code.
// It is stored on ticks and attached to run reactions, so it must survive a
// JSON round-trip without losing the chain of causes.
type ErrorInfo struct {
	Message   string     `json:"message"`
	ClassName string     `json:"class_name,omitempty"`
	Stack     []string   `json:"stack,omitempty"`
	Cause     *ErrorInfo `json:"cause,omitempty"`
}

// ErrorInfoFromError converts err and its single-unwrap chain to an ErrorInfo.
// Returns nil for a nil error.
func ErrorInfoFromError(err error) *ErrorInfo {
	return errorInfoAt(err, 0)
}

func errorInfoAt(err error, depth int) *ErrorInfo {
	if err == nil || depth >= maxCauseDepth {
		return nil
	}
	info := &ErrorInfo{
		Message:   err.Error(),
		ClassName: fmt.Sprintf("%T", err),
	}
	info.Cause = errorInfoAt(errors.Unwrap(err), depth+1)
	return info
}

// String renders the error and its causes, one per line.
func (e *ErrorInfo) String() string {
	if e == nil {
		return ""
	}
	var b strings.Builder
	for cur, i := e, 0; cur != nil; cur, i = cur.Cause, i+1 {
		if i > 0 {
			b.WriteString("\ncaused by: ")
		}
		b.WriteString(cur.Message)
		for _, frame := range cur.Stack {
			b.WriteString("\n    ")
			b.WriteString(frame)
		}
	}
	return b.String()
}
