// SPDX-License-Identifier: MIT

package journal

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func TestRecordAndRecent(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	j.Record(ctx, "evt-1", "session-events", 1, "success", nil)
	j.Record(ctx, "evt-2", "pre-session-events", 3, "failed", errors.New("boom"))

	entries, err := j.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	// Newest first.
	assert.Equal(t, "evt-2", entries[0].EventID)
	assert.Equal(t, "failed", entries[0].Outcome)
	assert.Equal(t, 3, entries[0].Attempts)
	assert.Contains(t, entries[0].LastError, "boom")

	assert.Equal(t, "evt-1", entries[1].EventID)
	assert.Empty(t, entries[1].LastError)
	assert.False(t, entries[1].RecordedAt.IsZero())
}

func TestRecentLimit(t *testing.T) {
	j := openTestJournal(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		j.Record(ctx, "evt", "session-events", 1, "success", nil)
	}
	entries, err := j.Recent(ctx, 3)
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}

func TestRecentEmpty(t *testing.T) {
	j := openTestJournal(t)
	entries, err := j.Recent(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
