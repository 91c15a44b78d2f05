package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDuplicateDetectedPayload(t *testing.T) {
	ev := DuplicateDetected{
		ChannelID:      "10",
		Hash:           "00ff00ff00ff00ff",
		MessageID:      "11",
		AuthorID:       "u2",
		OriginalAuthor: "u1",
		DetectedAt:     time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
	}
	data, err := json.Marshal(ev)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "10", raw["channel_id"])
	assert.Equal(t, "u1", raw["original_author_id"])
	assert.Equal(t, false, raw["self_repost"])
	assert.Equal(t, "2024-01-02T03:04:05Z", raw["detected_at"])
}

func TestRunFinishedOmitsEmptyError(t *testing.T) {
	data, err := json.Marshal(RunFinished{RunID: "r", Kind: "check"})
	require.NoError(t, err)
	assert.NotContains(t, string(data), `"error"`)
	assert.NotContains(t, string(data), `"reports"`)
}

func TestNop(t *testing.T) {
	assert.NoError(t, Nop{}.Publish(context.Background(), SubjectRunFinished, RunFinished{}))
}
