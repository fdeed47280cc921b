package status

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukex/gale/pkg/models"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sampleUpdate() Update {
	return Update{
		Repository:  "acme/widget",
		HeadSHA:     "4f2d1c0",
		Context:     "ci/build (x86_64-unknown-linux-gnu)",
		State:       StateSuccess,
		Description: "passed in 42s",
		RunID:       "run-1a2b3c4d",
	}
}

func TestStateFor(t *testing.T) {
	assert.Equal(t, StatePending, StateFor(models.RunStatusQueued))
	assert.Equal(t, StatePending, StateFor(models.RunStatusRunning))
	assert.Equal(t, StateSuccess, StateFor(models.RunStatusPassed))
	assert.Equal(t, StateSuccess, StateFor(models.RunStatusSkipped))
	assert.Equal(t, StateFailure, StateFor(models.RunStatusFailed))
	assert.Equal(t, StateError, StateFor(models.RunStatusCancelled))
}

func TestWebhookReporterDeliversUpdate(t *testing.T) {
	var received Update
	var auth, eventHeader string

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		eventHeader = r.Header.Get("X-Gale-Event")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusCreated)
	}))
	defer server.Close()

	reporter := NewWebhookReporter(server.URL, "s3cret", discardLogger())
	require.NoError(t, reporter.Report(context.Background(), sampleUpdate()))

	assert.Equal(t, "Bearer s3cret", auth)
	assert.Equal(t, "status", eventHeader)
	assert.Equal(t, sampleUpdate(), received)
}

func TestWebhookReporterRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	reporter := NewWebhookReporter(server.URL, "", discardLogger())
	reporter.delay = time.Millisecond

	require.NoError(t, reporter.Report(context.Background(), sampleUpdate()))
	assert.Equal(t, int32(3), calls.Load())
}

func TestWebhookReporterDoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		http.Error(w, "bad payload", http.StatusUnprocessableEntity)
	}))
	defer server.Close()

	reporter := NewWebhookReporter(server.URL, "", discardLogger())
	reporter.delay = time.Millisecond

	err := reporter.Report(context.Background(), sampleUpdate())
	require.Error(t, err)

	webhookErr := &WebhookError{}
	require.ErrorAs(t, err, &webhookErr)
	assert.Equal(t, http.StatusUnprocessableEntity, webhookErr.StatusCode)
	assert.Equal(t, int32(1), calls.Load())
}

func TestMultiReporterReportsToAll(t *testing.T) {
	var delivered atomic.Int32

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		delivered.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	reporter := MultiReporter{
		NewLogReporter(discardLogger()),
		NewWebhookReporter(server.URL, "", discardLogger()),
	}

	require.NoError(t, reporter.Report(context.Background(), sampleUpdate()))
	assert.Equal(t, int32(1), delivered.Load())
}
