// SPDX-License-Identifier: MIT

package log

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContextRoundTrip(t *testing.T) {
	ctx := ContextWithRequestID(context.Background(), "req-1")
	ctx = ContextWithSessionID(ctx, "sess-9")

	assert.Equal(t, "req-1", RequestIDFromContext(ctx))
	assert.Equal(t, "sess-9", SessionIDFromContext(ctx))
}

func TestContextNilSafety(t *testing.T) {
	assert.Equal(t, "", RequestIDFromContext(nil)) //nolint:staticcheck
	assert.Equal(t, "", SessionIDFromContext(nil)) //nolint:staticcheck

	ctx := ContextWithRequestID(nil, "req-2") //nolint:staticcheck
	assert.Equal(t, "req-2", RequestIDFromContext(ctx))
}

func TestWithContextAddsFields(t *testing.T) {
	var buf bytes.Buffer
	logger := Base().Output(&buf)

	ctx := ContextWithSessionID(context.Background(), "sess-42")
	lg := WithContext(ctx, logger)
	lg.Info().Msg("hello")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "sess-42", entry["session_id"])
}

func TestWithContextNoFieldsReturnsSameLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := Base().Output(&buf)

	lg := WithContext(context.Background(), logger)
	lg.Info().Msg("plain")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	_, ok := entry["session_id"]
	assert.False(t, ok)
}
