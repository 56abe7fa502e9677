package engine

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// chatServer answers every chat completion with reply and hands the decoded
// request to inspect.
func chatServer(t *testing.T, reply string, inspect func(chatRequest)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		var req chatRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if inspect != nil {
			inspect(req)
		}
		body, _ := json.Marshal(map[string]any{
			"choices": []any{map[string]any{"message": map[string]string{"content": reply}}},
		})
		w.Header().Set("Content-Type", "application/json")
		w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestNewOpenAIClient_Options(t *testing.T) {
	c := NewOpenAIClient("sk-test")
	assert.Equal(t, "gpt-4o-mini", c.model)
	assert.Equal(t, "https://api.openai.com/v1", c.baseURL)
	assert.Equal(t, "openai/gpt-4o-mini", c.Name())

	c = NewOpenAIClient("sk-test", WithModel("google/gemini-2.5-flash"), WithBaseURL("https://llm.example.com/v1/"))
	assert.Equal(t, "google/gemini-2.5-flash", c.model)
	assert.Equal(t, "https://llm.example.com/v1", c.baseURL, "trailing slash is trimmed")
}

func TestOpenAIComplete_DraftingIsProse(t *testing.T) {
	var seen chatRequest
	srv := chatServer(t, "A tighter opening.", func(r chatRequest) { seen = r })

	c := NewOpenAIClient("sk-mock", WithModel("test-model"), WithBaseURL(srv.URL))
	got, err := c.Complete(context.Background(), buildGeneratePrompt("[]", "Draft: hello"))
	require.NoError(t, err)
	assert.Equal(t, "A tighter opening.", got)
	assert.Equal(t, "test-model", seen.Model)
	assert.Nil(t, seen.ResponseFormat)
	assert.InDelta(t, 0.7, seen.Temperature, 0.001)
}

func TestOpenAIComplete_JudgeUsesJSONMode(t *testing.T) {
	var seen chatRequest
	reply := `{"criteria":{"hook":7,"clarity":8,"specificity":6,"structure":7,"voice":8},"improvements":[{"criterion":"specificity","suggestion":"name the metric"}],"strengths":["clear arc"]}`
	srv := chatServer(t, reply, func(r chatRequest) { seen = r })

	judge := NewLLMJudge(NewOpenAIClient("sk-mock", WithBaseURL(srv.URL)))
	j, err := judge.Judge(context.Background(), "draft text", "brief")
	require.NoError(t, err)

	require.NotNil(t, seen.ResponseFormat)
	assert.Equal(t, "json_object", seen.ResponseFormat.Type)
	assert.InDelta(t, 0.1, seen.Temperature, 0.001)
	assert.Equal(t, 6.0, j.Criteria["specificity"])
	assert.Equal(t, "openai/gpt-4o-mini", j.Model)
	require.Len(t, j.Improvements, 1)
	assert.Equal(t, "name the metric", j.Improvements[0].Suggestion)
}

func TestOpenAIComplete_Failures(t *testing.T) {
	t.Run("api error body", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Write([]byte(`{"error":{"message":"model overloaded"}}`))
		}))
		defer srv.Close()
		_, err := NewOpenAIClient("sk", WithBaseURL(srv.URL), WithRetry(1, 0)).Complete(context.Background(), "hi")
		assert.ErrorContains(t, err, "model overloaded")
	})

	t.Run("no choices", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Write([]byte(`{"choices":[]}`))
		}))
		defer srv.Close()
		_, err := NewOpenAIClient("sk", WithBaseURL(srv.URL), WithRetry(1, 0)).Complete(context.Background(), "hi")
		assert.ErrorContains(t, err, "no choices")
	})
}

func TestOpenAIComplete_RetryClassification(t *testing.T) {
	var attempts atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if attempts.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"choices":[{"message":{"content":"recovered"}}]}`))
	}))
	defer srv.Close()

	got, err := NewOpenAIClient("sk", WithBaseURL(srv.URL), WithRetry(3, time.Millisecond)).Complete(context.Background(), "hi")
	require.NoError(t, err)
	assert.Equal(t, "recovered", got)
	assert.Equal(t, int32(2), attempts.Load())

	attempts.Store(0)
	rejecting := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer rejecting.Close()

	_, err = NewOpenAIClient("bad", WithBaseURL(rejecting.URL), WithRetry(3, time.Millisecond)).Complete(context.Background(), "hi")
	var ae *apiError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, http.StatusUnauthorized, ae.StatusCode)
	assert.Equal(t, int32(1), attempts.Load(), "4xx is not retried")
}

func TestOpenAIComplete_ContextCancelStopsBackoff(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := NewOpenAIClient("sk", WithBaseURL(srv.URL), WithRetry(5, time.Hour)).Complete(ctx, "hi")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
