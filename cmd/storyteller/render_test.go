package main

import (
	"bytes"
	"testing"
	"time"

	"storyteller/internal/models"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newGolden(t *testing.T) *goldie.Goldie {
	return goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
}

func ts(s string) *time.Time {
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		panic(err)
	}
	return &t
}

func sampleFeed() []models.StoryRecord {
	return []models.StoryRecord{
		{ID: "p1", Owner: "u1", Keywords: "fox, river", Narrative: "A fox crossed the river."},
		{
			ID: "t1", Owner: "u1", Keywords: "robot, moon", Narrative: "A robot on the moon.",
			CreatedAt: ts("2024-05-01T10:00:00Z"),
			Feedback:  &models.Feedback{Label: models.FeedbackLoved, SubmittedAt: ts("2024-05-01T10:05:00Z")},
		},
	}
}

func TestRenderGeneration(t *testing.T) {
	tests := []struct {
		name string
		view models.ViewState
	}{
		{
			name: "generation_success",
			view: models.ViewState{
				Generation:        models.GenerationSuccess,
				Narrative:         "A robot on the moon.",
				LastRecordID:      "rec-1",
				Message:           "Story generated! Please provide feedback.",
				CanSubmitFeedback: true,
			},
		},
		{
			name: "generation_error",
			view: models.ViewState{
				Generation: models.GenerationError,
				Narrative:  models.FailedNarrative,
				Message:    "Error: Backend error: 500 Internal Server Error - internal error",
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, renderGeneration(&buf, "text", tt.view))
			newGolden(t).Assert(t, tt.name, buf.Bytes())
		})
	}
}

func TestRenderFeed(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, renderFeed(&buf, "text", "u1", sampleFeed(), nil))
	newGolden(t).Assert(t, "feed", buf.Bytes())
}

func TestRenderFeed_Empty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, renderFeed(&buf, "text", "u1", nil, nil))
	newGolden(t).Assert(t, "feed_empty", buf.Bytes())
}

func TestRenderFeed_JSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, renderFeed(&buf, "json", "u1", sampleFeed(), nil))
	newGolden(t).Assert(t, "feed_json", buf.Bytes())
}

func TestRenderFeed_JSONEmptyIsArray(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, renderFeed(&buf, "json", "u1", nil, nil))
	assert.Contains(t, buf.String(), `"stories": []`)
}

func TestRenderIdentity(t *testing.T) {
	id := &models.Identity{
		UID:       "u1",
		Method:    models.SignInAnonymous,
		ExpiresAt: *ts("2024-05-01T11:00:00Z"),
	}
	var buf bytes.Buffer
	require.NoError(t, renderIdentity(&buf, "text", id, "Signed in anonymously."))
	newGolden(t).Assert(t, "identity", buf.Bytes())
}

func TestRenderIdentity_SignedOut(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, renderIdentity(&buf, "text", nil, "Signed out."))
	assert.Equal(t, "Not signed in.\nSigned out.\n", buf.String())
}

func TestRenderMessage_JSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, renderMessage(&buf, "json", "Feedback 'loved' submitted!"))
	assert.JSONEq(t, `{"message": "Feedback 'loved' submitted!"}`, buf.String())
}
