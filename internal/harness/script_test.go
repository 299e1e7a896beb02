package harness

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/torqueflow/torque/internal/dispatch"
	"github.com/torqueflow/torque/internal/param"
)

func TestScriptedDispatcher_OutcomeSequence(t *testing.T) {
	disp := NewScriptedDispatcher(map[string][]Outcome{
		"chat.send_message": {
			{Error: &OutcomeError{Status: 500, Message: "down"}},
			{Result: map[string]any{"message_id": "m1"}},
		},
	}, nil)

	ctx := context.Background()

	_, err := disp.Execute(ctx, "send_message", "chat", param.Object{})
	require.Error(t, err)
	var derr *dispatch.Error
	require.True(t, errors.As(err, &derr))
	assert.Equal(t, 500, derr.Status)

	result, err := disp.Execute(ctx, "send_message", "chat", param.Object{})
	require.NoError(t, err)
	assert.Equal(t, param.String("m1"), result["message_id"])

	// The last outcome repeats once the list is exhausted.
	result, err = disp.Execute(ctx, "send_message", "chat", param.Object{})
	require.NoError(t, err)
	assert.Equal(t, param.String("m1"), result["message_id"])

	assert.Equal(t, 3, disp.Calls("chat.send_message"))
}

func TestScriptedDispatcher_UnknownKeySucceeds(t *testing.T) {
	disp := NewScriptedDispatcher(nil, nil)

	result, err := disp.Execute(context.Background(), "anything", "anywhere", nil)
	require.NoError(t, err)
	assert.Empty(t, result)
	assert.Equal(t, 1, disp.Calls("anywhere.anything"))
}

func TestScriptedDispatcher_RecordsTrace(t *testing.T) {
	result := NewResult()
	disp := NewScriptedDispatcher(map[string][]Outcome{
		"docs.create_document": {{Error: &OutcomeError{Status: 409, Message: "exists"}}},
	}, result)

	_, err := disp.Execute(context.Background(), "create_document", "docs", nil)
	require.Error(t, err)
	_, err = disp.ExecuteUndo(context.Background(), "delete_document", "docs", nil)
	require.NoError(t, err)

	require.Len(t, result.Trace, 2)
	assert.Equal(t, "dispatch", result.Trace[0].Kind)
	assert.Equal(t, "error", result.Trace[0].Outcome)
	assert.Equal(t, "undo", result.Trace[1].Kind)
	assert.Equal(t, "success", result.Trace[1].Outcome)
}

func TestScriptedDispatcher_HonorsContext(t *testing.T) {
	disp := NewScriptedDispatcher(nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := disp.Execute(ctx, "x", "t", nil)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, disp.Calls("t.x"))
}
