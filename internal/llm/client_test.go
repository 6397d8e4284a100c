package llm

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

type chatRequest struct {
	Model       string  `json:"model"`
	Temperature *float32 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
	Messages    []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

func chatResponse(content string) map[string]any {
	return map[string]any{
		"id":      "chatcmpl-1",
		"object":  "chat.completion",
		"created": 1700000000,
		"model":   "gpt-4o-mini",
		"choices": []map[string]any{{
			"index":         0,
			"finish_reason": "stop",
			"message":       map[string]any{"role": "assistant", "content": content},
		}},
		"usage": map[string]any{"prompt_tokens": 120, "completion_tokens": 40, "total_tokens": 160},
	}
}

func newTestServer(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient("test-key", srv.URL+"/v1", "gpt-4o-mini", 0.3, 1500, 5*time.Second)
}

func TestCompleteSendsSystemAndUserPrompt(t *testing.T) {
	var got chatRequest
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(chatResponse("Paris is the capital."))
	})

	resp, err := client.Complete(context.Background(), CompletionRequest{
		SystemPrompt: "be brief",
		UserPrompt:   "capital of France?",
		Temperature:  Temperature(0.2),
		MaxTokens:    200,
	})
	require.NoError(t, err)

	assert.Equal(t, "Paris is the capital.", resp.Content)
	assert.Equal(t, "gpt-4o-mini", resp.Model)
	assert.Equal(t, 160, resp.Usage.TotalTokens)

	assert.Equal(t, "gpt-4o-mini", got.Model)
	require.NotNil(t, got.Temperature)
	assert.InDelta(t, 0.2, *got.Temperature, 1e-6)
	assert.Equal(t, 200, got.MaxTokens)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Equal(t, "user", got.Messages[1].Role)
}

func TestCompleteUsesExplicitMessages(t *testing.T) {
	var got chatRequest
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(chatResponse("ok"))
	})

	_, err := client.Complete(context.Background(), CompletionRequest{
		Model:      "gpt-4o",
		UserPrompt: "ignored",
		Messages: []Message{
			{Role: RoleSystem, Content: "sys"},
			{Role: RoleUser, Content: "q1"},
			{Role: RoleAssistant, Content: "a1"},
			{Role: RoleUser, Content: "q2"},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, "gpt-4o", got.Model)
	assert.Equal(t, 1500, got.MaxTokens)
	require.NotNil(t, got.Temperature)
	assert.InDelta(t, 0.3, *got.Temperature, 1e-6)
	require.Len(t, got.Messages, 4)
	assert.Equal(t, "q2", got.Messages[3].Content)
}

func TestCompleteHonoursZeroTemperature(t *testing.T) {
	var got chatRequest
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(chatResponse("ok"))
	})

	_, err := client.Complete(context.Background(), CompletionRequest{
		UserPrompt:  "deterministic please",
		Temperature: Temperature(0),
	})
	require.NoError(t, err)

	require.NotNil(t, got.Temperature, "temperature must be sent, not dropped")
	assert.InDelta(t, 0, *got.Temperature, 1e-6)
}

func TestCompleteDoesNotRetryClientErrors(t *testing.T) {
	var calls int32
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"bad model","type":"invalid_request_error"}}`))
	})

	_, err := client.Complete(context.Background(), CompletionRequest{UserPrompt: "hi"})
	require.Error(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestCompleteRetriesServerErrors(t *testing.T) {
	var calls int32
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte(`{"error":{"message":"upstream","type":"server_error"}}`))
			return
		}
		_ = json.NewEncoder(w).Encode(chatResponse("recovered"))
	})

	resp, err := client.Complete(context.Background(), CompletionRequest{UserPrompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "recovered", resp.Content)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestCompleteEmptyChoices(t *testing.T) {
	client := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		body := chatResponse("")
		body["choices"] = []any{}
		_ = json.NewEncoder(w).Encode(body)
	})

	_, err := client.Complete(context.Background(), CompletionRequest{UserPrompt: "hi"})
	require.ErrorIs(t, err, ErrEmptyCompletion)
}
