package advisor

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stewnight/cropsteer/internal/model"
)

func chatReply(t *testing.T, w http.ResponseWriter, content string) {
	t.Helper()
	resp := map[string]any{
		"choices": []map[string]any{
			{"message": map[string]any{"content": content}},
		},
	}
	w.Header().Set("Content-Type", "application/json")
	require.NoError(t, json.NewEncoder(w).Encode(resp))
}

func TestOracleParsesAdvice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req chatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Len(t, req.Messages, 2)
		assert.Zero(t, req.Temperature)

		chatReply(t, w, `{"action":"irrigate","confidence":0.85,"reasoning":"dryback steep"}`)
	}))
	defer srv.Close()

	o := NewOpenAIOracle(srv.URL, "test-key", "test-model", 5*time.Second)
	advice, err := o.Consult(context.Background(), testQuery(58))
	require.NoError(t, err)
	assert.Equal(t, model.ActionIrrigate, advice.Action)
	assert.Equal(t, 0.85, advice.Confidence)
}

func TestOracleRejectsUnknownAction(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		chatReply(t, w, `{"action":"flood","confidence":0.9}`)
	}))
	defer srv.Close()

	o := NewOpenAIOracle(srv.URL, "test-key", "test-model", 5*time.Second)
	_, err := o.Consult(context.Background(), testQuery(58))
	assert.True(t, errors.Is(err, model.ErrAdvisoryUnavailable))
}

func TestOracleRejectsOutOfRangeConfidence(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		chatReply(t, w, `{"action":"wait","confidence":1.4}`)
	}))
	defer srv.Close()

	o := NewOpenAIOracle(srv.URL, "test-key", "test-model", 5*time.Second)
	_, err := o.Consult(context.Background(), testQuery(58))
	assert.True(t, errors.Is(err, model.ErrAdvisoryUnavailable))
}

func TestOracleWrapsHTTPFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "upstream overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	o := NewOpenAIOracle(srv.URL, "test-key", "test-model", 5*time.Second)
	_, err := o.Consult(context.Background(), testQuery(58))
	assert.True(t, errors.Is(err, model.ErrAdvisoryUnavailable))
}

func TestOracleRequiresAPIKey(t *testing.T) {
	o := NewOpenAIOracle("http://localhost:0", "", "test-model", time.Second)
	_, err := o.Consult(context.Background(), testQuery(58))
	assert.True(t, errors.Is(err, model.ErrAdvisoryUnavailable))
}

func TestOracleBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	var hits int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits++
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer srv.Close()

	o := NewOpenAIOracle(srv.URL, "test-key", "test-model", 5*time.Second)
	for i := 0; i < 6; i++ {
		_, err := o.Consult(context.Background(), testQuery(58))
		assert.Error(t, err)
	}
	// Breaker trips after 4 consecutive failures; later calls never reach
	// the server.
	assert.Equal(t, 4, hits)
}
