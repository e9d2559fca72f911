package executor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relayforge/relayforge/pkg/domain"
)

func TestRunParsesStatusMarkerAndJSON(t *testing.T) {
	e := New("echo", 0, 0, nil)

	res := e.Run(context.Background(), []string{"{\"data\":{\"token\":\"abc\"}}\nHTTP_STATUS:200"})

	assert.True(t, res.Success)
	assert.Equal(t, 200, res.HTTPCode)
	assert.Equal(t, 0, res.ExitCode)
	require.True(t, res.Response.Structured)
	data, ok := res.Response.Value.(map[string]any)
	require.True(t, ok)
	inner, ok := data["data"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "abc", inner["token"])
}

func TestRunRawFallback(t *testing.T) {
	e := New("echo", 0, 0, nil)

	res := e.Run(context.Background(), []string{"plain text body\nHTTP_STATUS:201"})

	assert.True(t, res.Success)
	assert.Equal(t, 201, res.HTTPCode)
	assert.False(t, res.Response.Structured)
	assert.Equal(t, "plain text body", res.Response.Raw)
}

func TestRunNonSuccessStatus(t *testing.T) {
	e := New("echo", 0, 0, nil)

	for _, tt := range []struct {
		code string
		ok   bool
	}{
		{"199", false},
		{"200", true},
		{"299", true},
		{"300", false},
		{"404", false},
		{"500", false},
	} {
		res := e.Run(context.Background(), []string{"body\nHTTP_STATUS:" + tt.code})
		assert.Equal(t, tt.ok, res.Success, "status %s", tt.code)
	}
}

func TestRunMissingMarker(t *testing.T) {
	e := New("echo", 0, 0, nil)

	res := e.Run(context.Background(), []string{"no marker here"})

	assert.False(t, res.Success)
	assert.Equal(t, 0, res.HTTPCode)
}

func TestRunNonZeroExit(t *testing.T) {
	e := New("false", 0, 0, nil)

	res := e.Run(context.Background(), nil)

	assert.False(t, res.Success)
	assert.Equal(t, 1, res.ExitCode)
	assert.Contains(t, res.Error, "exited")
}

func TestRunSpawnFailure(t *testing.T) {
	e := New("/nonexistent/binary/for/test", 0, 0, nil)

	res := e.Run(context.Background(), nil)

	assert.False(t, res.Success)
	assert.Equal(t, -1, res.ExitCode)
	assert.Contains(t, res.Error, "failed to start")
}

func TestRunTimeout(t *testing.T) {
	e := New("sleep", 100*time.Millisecond, 0, nil)

	start := time.Now()
	res := e.Run(context.Background(), []string{"5"})

	assert.Less(t, time.Since(start), 2*time.Second)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "timed out")
}

func TestRunBoundedOutput(t *testing.T) {
	e := New("echo", 0, 64, nil)

	long := make([]byte, 4096)
	for i := range long {
		long[i] = 'a'
	}
	res := e.Run(context.Background(), []string{string(long)})

	assert.LessOrEqual(t, len(res.Stdout), 64)
}

func TestSplitStatusMarker(t *testing.T) {
	tests := []struct {
		in       string
		wantBody string
		wantCode int
	}{
		{"body\nHTTP_STATUS:200\n", "body", 200},
		{"HTTP_STATUS:404", "", 404},
		{"no marker", "no marker", 0},
		{"body\nHTTP_STATUS:garbage", "body\nHTTP_STATUS:garbage", 0},
		{"{\"a\":1}\nHTTP_STATUS:204", "{\"a\":1}", 204},
	}
	for _, tt := range tests {
		body, code := splitStatusMarker(tt.in)
		assert.Equal(t, tt.wantBody, body, "input %q", tt.in)
		assert.Equal(t, tt.wantCode, code, "input %q", tt.in)
	}
}

func TestResultShapeIsComplete(t *testing.T) {
	e := New("echo", 0, 0, nil)
	res := e.Run(context.Background(), []string{"x\nHTTP_STATUS:200"})

	// The result is a plain value; callers branch on it without exceptions.
	var _ domain.ExecutionResult = res
	assert.Empty(t, res.Error)
	assert.Empty(t, res.Stderr)
}
