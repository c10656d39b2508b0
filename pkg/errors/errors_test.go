package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHarnessErrorTaxonomy(t *testing.T) {
	cause := stderrors.New("boom")

	tests := []struct {
		name    string
		err     HarnessError
		wantCod int
		wantCat Category
		wantSev Severity
	}{
		{"bind failed", BindFailed("/tmp/x.sock", cause), CodeBindFailed, CategorySetup, SeverityCritical},
		{"name in use", NameInUse("/tmp/x.sock", cause), CodeNameInUse, CategoryTransient, SeverityInfo},
		{"connect failed", ConnectFailed("/tmp/x.sock", cause), CodeConnectFailed, CategorySetup, SeverityCritical},
		{"accept failed", AcceptFailed(2, cause), CodeAcceptFailed, CategoryConnection, SeverityWarning},
		{"send failed", SendFailed(cause), CodeSendFailed, CategoryProtocol, SeverityError},
		{"flush failed", FlushFailed(cause), CodeFlushFailed, CategoryProtocol, SeverityError},
		{"receive failed", ReceiveFailed(cause), CodeReceiveFailed, CategoryProtocol, SeverityError},
		{"mismatch", PayloadMismatch("a", "b"), CodePayloadMismatch, CategoryProtocol, SeverityCritical},
		{"task panicked", TaskPanicked(3, "bad"), CodeTaskPanicked, CategoryTask, SeverityCritical},
		{"client panicked", ClientPanicked(1, "bad"), CodeTaskPanicked, CategoryTask, SeverityCritical},
		{"task failed", TaskFailed(5, cause), CodeTaskFailed, CategoryTask, SeverityError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantCod, tt.err.Code())
			assert.Equal(t, tt.wantCat, tt.err.Category())
			assert.Equal(t, tt.wantSev, tt.err.Severity())
			assert.NotEmpty(t, tt.err.Error())
			require.NotNil(t, tt.err.Context())
			assert.False(t, tt.err.Context().Timestamp.IsZero())
		})
	}
}

func TestErrorMessageChain(t *testing.T) {
	err := BindFailed("/tmp/x.sock", stderrors.New("permission denied"))
	assert.Equal(t, "Listener bind failed: permission denied", err.Error())

	joined := TaskFailed(1, SendFailed(io.ErrClosedPipe))
	assert.Equal(t, "Server task returned early with error: Pipe send failed: io: read/write on closed pipe", joined.Error())
}

func TestUnwrapPreservesCause(t *testing.T) {
	err := TaskFailed(0, ReceiveFailed(io.ErrUnexpectedEOF))

	assert.True(t, stderrors.Is(err, io.ErrUnexpectedEOF))
	assert.True(t, IsCode(err, CodeTaskFailed))
	assert.True(t, IsCode(err, CodeReceiveFailed))
	assert.False(t, IsCode(err, CodeSendFailed))
	assert.True(t, IsCategory(err, CategoryTask))

	wrapped := fmt.Errorf("server role: %w", err)
	he, ok := AsHarnessError(wrapped)
	require.True(t, ok)
	assert.Equal(t, CodeTaskFailed, he.Code())
}

func TestWithContextKeepsTimestamp(t *testing.T) {
	err := New(CodeBindFailed, "x")
	ts := err.Context().Timestamp

	withCtx := err.WithContext(&Context{RunID: "run-1", Phase: "bind"})
	assert.Equal(t, "run-1", withCtx.Context().RunID)
	assert.Equal(t, ts, withCtx.Context().Timestamp)
	assert.Empty(t, err.Context().RunID, "original error must not be mutated")
}

func TestMarshalJSON(t *testing.T) {
	err := PayloadMismatch("Hello from CLIENT!\n", "Hello from client!\n")

	data, mErr := json.Marshal(err)
	require.NoError(t, mErr)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "PayloadMismatch", decoded["name"])
	assert.Equal(t, string(CategoryProtocol), decoded["category"])
}

func TestUnknownCode(t *testing.T) {
	err := New(42, "mystery")
	assert.Equal(t, "UnknownError", CodeName(42))
	assert.Equal(t, CategorySetup, err.Category())

	_, ok := GetCodeInfo(42)
	assert.False(t, ok)
}
