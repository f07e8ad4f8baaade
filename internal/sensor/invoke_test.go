package sensor

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/henriblancke/dagster/internal/ir"
)

var (
	testRun   = ir.RunRecord{RunID: "r1", JobName: "etl", Status: ir.RunStatusFailure}
	testEvent = ir.Event{ID: 7, Type: ir.EventTypeRunFailure, RunID: "r1", JobName: "etl"}
)

func TestInvoke_PassesOutputsThrough(t *testing.T) {
	r, err := ResolveReaction(func(c *Context) ([]Output, error) {
		return []Output{SkipReason{Message: c.SensorName() + " saw " + c.Run().RunID}}, nil
	})
	require.NoError(t, err)

	outputs, err := Invoke("s", r, BuildContext("s", testRun, testEvent))
	require.NoError(t, err)
	assert.Equal(t, []Output{SkipReason{Message: "s saw r1"}}, outputs)
}

func TestInvoke_WrapsReturnedError(t *testing.T) {
	cause := errors.New("webhook rejected")
	r, err := ResolveReaction(func() ([]Output, error) {
		return nil, fmt.Errorf("notify: %w", cause)
	})
	require.NoError(t, err)

	outputs, err := Invoke("notify", r, BuildContext("notify", testRun, testEvent))
	assert.Nil(t, outputs)
	require.Error(t, err)
	assert.True(t, IsEvaluationError(err))
	assert.ErrorIs(t, err, cause)

	var ee *EvaluationError
	require.True(t, errors.As(err, &ee))
	assert.False(t, ee.Panicked)
	assert.Equal(t, `Error occurred during the execution of sensor "notify".`, ee.Info.Message)
	require.NotNil(t, ee.Info.Cause)
	assert.Equal(t, "notify: webhook rejected", ee.Info.Cause.Message)
	require.NotNil(t, ee.Info.Cause.Cause)
	assert.Equal(t, "webhook rejected", ee.Info.Cause.Cause.Message)
}

func TestInvoke_RecoversPanics(t *testing.T) {
	tests := []struct {
		name  string
		value any
		msg   string
	}{
		{"string", "kaboom", "panic: kaboom"},
		{"error", errors.New("typed kaboom"), "typed kaboom"},
		{"other", 42, "panic: 42"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, err := ResolveReaction(func() ([]Output, error) { panic(tt.value) })
			require.NoError(t, err)

			var outputs []Output
			require.NotPanics(t, func() {
				outputs, err = Invoke("s", r, BuildContext("s", testRun, testEvent))
			})
			assert.Nil(t, outputs)

			var ee *EvaluationError
			require.True(t, errors.As(err, &ee))
			assert.True(t, ee.Panicked)
			assert.Equal(t, tt.msg, ee.Info.Cause.Message)
			assert.NotEmpty(t, ee.Info.Cause.Stack)
		})
	}
}

func TestInvoke_NilOutputIsAnError(t *testing.T) {
	r, err := ResolveReaction(func() ([]Output, error) { return []Output{nil}, nil })
	require.NoError(t, err)

	_, err = Invoke("s", r, BuildContext("s", testRun, testEvent))
	assert.True(t, IsEvaluationError(err))
}

func TestDefinitionInvoke_ContextReaction(t *testing.T) {
	def, err := NewRunStatusSensor("ctx", ir.RunStatusFailure, func(c *Context) ([]Output, error) {
		return Skip("run %s", c.Run().RunID)
	})
	require.NoError(t, err)

	ctx := BuildContext("ctx", testRun, testEvent)
	outputs, err := def.Invoke(ctx)
	require.NoError(t, err)
	assert.Equal(t, []Output{SkipReason{Message: "run r1"}}, outputs)

	// A failure context is accepted in place of a plain one.
	outputs, err = def.Invoke(ctx.ForRunFailure())
	require.NoError(t, err)
	assert.Len(t, outputs, 1)
}

func TestDefinitionInvoke_NoArgReaction(t *testing.T) {
	def, err := NewRunStatusSensor("plain", ir.RunStatusSuccess, func() ([]Output, error) {
		return Skip("nothing to do")
	})
	require.NoError(t, err)

	outputs, err := def.Invoke()
	require.NoError(t, err)
	assert.Equal(t, []Output{SkipReason{Message: "nothing to do"}}, outputs)

	_, err = def.Invoke(BuildContext("plain", testRun, testEvent))
	assert.True(t, IsInvalidInvocation(err))
}

func TestDefinitionInvoke_ArityErrors(t *testing.T) {
	def, err := NewRunStatusSensor("ctx", ir.RunStatusFailure, func(c *Context) ([]Output, error) {
		return nil, nil
	})
	require.NoError(t, err)
	ctx := BuildContext("ctx", testRun, testEvent)

	var nilCtx *Context
	var nilFailure *FailureContext

	tests := []struct {
		name string
		args []any
		want string
	}{
		{"no args", nil, "no context argument was provided"},
		{"two args", []any{ctx, ctx}, "received 2 arguments"},
		{"nil", []any{nil}, "context must be provided"},
		{"typed nil context", []any{nilCtx}, "context must be provided"},
		{"typed nil failure context", []any{nilFailure}, "context must be provided"},
		{"wrong type", []any{"ctx"}, "got string"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := def.Invoke(tt.args...)
			require.Error(t, err)

			var ie *InvalidInvocationError
			require.True(t, errors.As(err, &ie))
			assert.Equal(t, ErrCodeInvalidInvocation, ie.Code)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestDefinitionInvoke_UserErrorsPropagate(t *testing.T) {
	boom := errors.New("boom")
	def, err := NewRunFailureSensor("direct", func(*FailureContext) ([]Output, error) { return nil, boom })
	require.NoError(t, err)

	_, err = def.Invoke(BuildContext("direct", testRun, testEvent))
	assert.Same(t, boom, err)
}

func TestBuildContext(t *testing.T) {
	ctx := BuildContext("s", testRun, testEvent)
	assert.Equal(t, "s", ctx.SensorName())
	assert.Equal(t, testRun, ctx.Run())
	assert.Equal(t, testEvent, ctx.Event())
	assert.Nil(t, ctx.Instance())
	assert.NotNil(t, ctx.Log())
	assert.Equal(t, testEvent, ctx.ForRunFailure().FailureEvent())
}
