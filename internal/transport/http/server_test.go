package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	changeDomain "github.com/reshetovitsme/wikiscan/internal/modules/change/domain"
	feedService "github.com/reshetovitsme/wikiscan/internal/modules/feed/service"
	flagDomain "github.com/reshetovitsme/wikiscan/internal/modules/flag/domain"
	pipelineService "github.com/reshetovitsme/wikiscan/internal/modules/pipeline/service"
	"github.com/reshetovitsme/wikiscan/internal/shared/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubStatus struct{}

func (stubStatus) State() pipelineService.State { return pipelineService.StateWaiting }

func (stubStatus) Stats() (int64, int64) { return 42, 3 }

type stubFlags struct {
	entries []flagDomain.Entry
	err     error
}

func (s stubFlags) Read() ([]flagDomain.Entry, error) { return s.entries, s.err }

func newServer(flags stubFlags) *Server {
	cfg := &config.Config{LogLevel: config.TierContent, HTTPPort: "0"}
	return New(cfg, feedService.New(flags), stubStatus{}, "userboxes")
}

func aliceEntry() flagDomain.Entry {
	return flagDomain.Entry{
		Filter: "userboxes",
		Change: changeDomain.Change{
			Type:       "edit",
			Title:      "User:Alice",
			User:       "Alice",
			ServerName: "en.wikipedia.org",
			Revision:   &changeDomain.Revision{New: 555},
			Meta: changeDomain.Meta{
				URI: "https://en.wikipedia.org/wiki/User:Alice",
				DT:  "2024-05-01T12:00:00Z",
			},
		},
	}
}

func TestHealth(t *testing.T) {
	rec := httptest.NewRecorder()
	newServer(stubFlags{}).Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestStatus(t *testing.T) {
	rec := httptest.NewRecorder()
	newServer(stubFlags{}).Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "userboxes", body["filter"])
	assert.Equal(t, "waiting_for_event", body["state"])
	assert.Equal(t, float64(3), body["log_level"])
	assert.Equal(t, float64(42), body["processed"])
	assert.Equal(t, float64(3), body["matches"])
}

func TestFeeds(t *testing.T) {
	server := newServer(stubFlags{entries: []flagDomain.Entry{aliceEntry()}})

	tests := []struct {
		path        string
		contentType string
		marker      string
	}{
		{"/flagged.rss", "application/rss+xml; charset=utf-8", "<rss"},
		{"/flagged.atom", "application/atom+xml; charset=utf-8", "<feed"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			req.Header.Set("X-Forwarded-Proto", "https")
			rec := httptest.NewRecorder()
			server.Handler().ServeHTTP(rec, req)

			require.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, tt.contentType, rec.Header().Get("Content-Type"))
			assert.Contains(t, rec.Body.String(), tt.marker)
			assert.Contains(t, rec.Body.String(), "User:Alice")
			assert.Contains(t, rec.Body.String(), "https://example.com/flagged.rss")
		})
	}
}

func TestFeedReadFailure(t *testing.T) {
	server := newServer(stubFlags{err: errors.New("corrupt")})
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/flagged.rss", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestMethodNotAllowed(t *testing.T) {
	rec := httptest.NewRecorder()
	newServer(stubFlags{}).Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/status", nil))

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestShutdownBeforeStart(t *testing.T) {
	assert.NoError(t, newServer(stubFlags{}).Shutdown(t.Context()))
}

func TestStartAfterShutdownReturns(t *testing.T) {
	server := newServer(stubFlags{})
	require.NoError(t, server.Shutdown(t.Context()))
	assert.NoError(t, server.Start())
}

func TestShutdownStopsRunningServer(t *testing.T) {
	server := newServer(stubFlags{})

	done := make(chan error, 1)
	go func() { done <- server.Start() }()

	// Shutdown may land before or after ListenAndServe; Start returns either way
	time.Sleep(20 * time.Millisecond)
	require.NoError(t, server.Shutdown(t.Context()))

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Start did not return after Shutdown")
	}
}
