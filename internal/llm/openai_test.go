package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wfunc/pd-classroom/internal/config"
	apperrors "github.com/wfunc/pd-classroom/internal/errors"
)

func newTestClient(url string) *OpenAIClient {
	return NewOpenAIClient(&config.LLMConfig{
		BaseURL: url + "/",
		APIKey:  "sk-test",
		Model:   "gpt-4.1-mini",
		Timeout: 2 * time.Second,
	})
}

func TestOpenAIClient_Generate(t *testing.T) {
	var got chatCompletionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"message":{"content":"{\"agent_move\":\"DEFECT\"}"}}]}`))
	}))
	defer srv.Close()

	text, err := newTestClient(srv.URL).Generate(context.Background(), Request{
		Purpose:     "decision",
		System:      "decide",
		Messages:    []Message{{Role: RoleUser, Content: "Student: hi"}},
		MaxTokens:   80,
		Temperature: 0.2,
		JSONMode:    true,
	})
	require.NoError(t, err)
	assert.Equal(t, `{"agent_move":"DEFECT"}`, text)

	assert.Equal(t, "gpt-4.1-mini", got.Model)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, RoleSystem, got.Messages[0].Role)
	assert.Equal(t, "decide", got.Messages[0].Content)
	assert.Equal(t, 80, got.MaxCompletionTokens)
	assert.InDelta(t, 0.2, got.Temperature, 1e-9)
	assert.Equal(t, "json_object", got.ResponseFormat["type"])
}

func TestOpenAIClient_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":"rate limited"}`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Generate(context.Background(), Request{Purpose: "reply"})
	require.Error(t, err)
	assert.True(t, apperrors.Is(err, apperrors.ErrGenerationFailed))
	assert.Contains(t, err.Error(), "429")
}

func TestOpenAIClient_NoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[]}`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Generate(context.Background(), Request{})
	assert.True(t, apperrors.Is(err, apperrors.ErrGenerationFailed))
}

func TestOpenAIClient_MissingKey(t *testing.T) {
	c := NewOpenAIClient(&config.LLMConfig{BaseURL: "http://127.0.0.1:1"})
	assert.False(t, c.Configured())

	_, err := c.Generate(context.Background(), Request{})
	assert.True(t, apperrors.Is(err, apperrors.ErrConfigMissing))
}

func TestOpenAIClient_ContextCanceled(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	// Close 会等待处理函数返回，先放行处理函数
	defer func() {
		close(release)
		srv.CloseClientConnections()
		srv.Close()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := newTestClient(srv.URL).Generate(ctx, Request{})
	assert.True(t, apperrors.Is(err, apperrors.ErrTimeout))
}

func TestGeneratorFunc(t *testing.T) {
	var g Generator = GeneratorFunc(func(ctx context.Context, req Request) (string, error) {
		return req.Purpose, nil
	})
	out, err := g.Generate(context.Background(), Request{Purpose: "opener"})
	require.NoError(t, err)
	assert.Equal(t, "opener", out)
}
