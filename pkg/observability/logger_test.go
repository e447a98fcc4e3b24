package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, DebugLevel, ParseLogLevel("debug"))
	assert.Equal(t, WarnLevel, ParseLogLevel("WARN"))
	assert.Equal(t, ErrorLevel, ParseLogLevel("error"))
	assert.Equal(t, InfoLevel, ParseLogLevel("verbose"))
	assert.Equal(t, InfoLevel, ParseLogLevel(""))
}

func TestLoggerEmitsJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	logger.WithTenant("t1").WithError(errors.New("boom")).Error("write failed")

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "write failed", line["msg"])
	assert.Equal(t, "ERROR", line["level"])
	assert.Equal(t, "t1", line["tenant_id"])
	assert.Equal(t, "boom", line["error"])
}

func TestLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(WarnLevel, &buf)

	logger.Debug("noise")
	logger.Infof("more %s", "noise")
	assert.Zero(t, buf.Len())

	logger.Warn("signal")
	assert.NotZero(t, buf.Len())
}

func TestContextHelpers(t *testing.T) {
	ctx := WithTenantID(context.Background(), "t1")
	ctx = WithActor(ctx, "alice")

	assert.Equal(t, "t1", GetTenantID(ctx))
	assert.Equal(t, "alice", GetActor(ctx))
	assert.Empty(t, GetTenantID(context.Background()))
	assert.Empty(t, GetActor(context.Background()))
}

func TestFromContext(t *testing.T) {
	var buf bytes.Buffer
	ctx := WithLogger(context.Background(), NewLogger(InfoLevel, &buf))
	ctx = WithTenantID(ctx, "t1")
	ctx = WithActor(ctx, "alice")

	FromContext(ctx).Info("scoped")

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "t1", line["tenant_id"])
	assert.Equal(t, "alice", line["actor"])
}
