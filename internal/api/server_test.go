package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"repost-radar/internal/logging"
	"repost-radar/internal/model"
	"repost-radar/internal/scheduler"
)

type fakeBackend struct {
	runs      []scheduler.RunInfo
	cancelled []string
	channels  map[string]scheduler.ChannelSummary
}

func (f *fakeBackend) Runs() []scheduler.RunInfo { return f.runs }

func (f *fakeBackend) CancelRun(id string) bool {
	for _, r := range f.runs {
		if r.ID == id {
			f.cancelled = append(f.cancelled, id)
			return true
		}
	}
	return false
}

func (f *fakeBackend) Channel(_ context.Context, id string) (scheduler.ChannelSummary, error) {
	if id == "bad" {
		return scheduler.ChannelSummary{}, model.InvalidInput("invalid channel id %q", id)
	}
	sum, ok := f.channels[id]
	if !ok {
		return sum, model.NewError(model.KindNotFound, "load "+id, nil)
	}
	return sum, nil
}

func newTestServer() (*Server, *fakeBackend) {
	b := &fakeBackend{
		runs: []scheduler.RunInfo{{
			ID: "run-1", Kind: scheduler.KindCheck, ChannelID: "111", RequestedBy: "alice",
			StartedAt: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC),
		}},
		channels: map[string]scheduler.ChannelSummary{
			"111": {ChannelID: "111", UniqueImages: 3, Occurrences: 5, Tracked: true},
		},
	}
	return NewServer(0, b, logging.NewNop()), b
}

func do(t *testing.T, s *Server, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, httptest.NewRequest(method, path, nil))
	return w
}

func TestHealth(t *testing.T) {
	s, _ := newTestServer()
	w := do(t, s, http.MethodGet, "/health")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestListRuns(t *testing.T) {
	s, _ := newTestServer()
	w := do(t, s, http.MethodGet, "/api/v1/runs")
	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Runs  []scheduler.RunInfo `json:"runs"`
		Count int                 `json:"count"`
	}
	require.NoError(t, json.NewDecoder(w.Body).Decode(&body))
	assert.Equal(t, 1, body.Count)
	assert.Equal(t, "run-1", body.Runs[0].ID)
	assert.Equal(t, "111", body.Runs[0].ChannelID)
}

func TestCancelRun(t *testing.T) {
	s, b := newTestServer()

	w := do(t, s, http.MethodDelete, "/api/v1/runs/run-1")
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, []string{"run-1"}, b.cancelled)

	w = do(t, s, http.MethodDelete, "/api/v1/runs/nope")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestChannel(t *testing.T) {
	s, _ := newTestServer()

	w := do(t, s, http.MethodGet, "/api/v1/channels/111")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"channel_id":"111","unique_images":3,"occurrences":5,"tracked":true,"cached":false}`, w.Body.String())

	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodGet, "/api/v1/channels/222").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, s, http.MethodGet, "/api/v1/channels/bad").Code)
}

func TestUnknownRoute(t *testing.T) {
	s, _ := newTestServer()
	assert.Equal(t, http.StatusNotFound, do(t, s, http.MethodGet, "/nonexistent").Code)
}
