package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/wfunc/pd-classroom/internal/chat"
	"github.com/wfunc/pd-classroom/internal/config"
	apperrors "github.com/wfunc/pd-classroom/internal/errors"
	"github.com/wfunc/pd-classroom/internal/logger"
)

// OpenAIClient chat/completions 接口客户端
type OpenAIClient struct {
	baseURL    string
	apiKey     string
	model      string
	httpClient *http.Client
}

// NewOpenAIClient 创建客户端
func NewOpenAIClient(cfg *config.LLMConfig) *OpenAIClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 45 * time.Second
	}
	return &OpenAIClient{
		baseURL:    strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		apiKey:     strings.TrimSpace(cfg.APIKey),
		model:      cfg.Model,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Configured 是否配置了 API Key
func (c *OpenAIClient) Configured() bool {
	return c.apiKey != ""
}

type chatCompletionRequest struct {
	Model               string         `json:"model"`
	Messages            []Message      `json:"messages"`
	MaxCompletionTokens int            `json:"max_completion_tokens,omitempty"`
	Temperature         float64        `json:"temperature"`
	ResponseFormat      map[string]any `json:"response_format,omitempty"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Generate 发送一次请求（不重试），返回第一个 choice 的内容
func (c *OpenAIClient) Generate(ctx context.Context, req Request) (text string, err error) {
	start := time.Now()
	defer func() {
		logger.LogLLMCall(req.Purpose, c.model, time.Since(start), err)
	}()

	if !c.Configured() {
		return "", apperrors.New(apperrors.ErrConfigMissing, "llm.api_key")
	}

	messages := make([]Message, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, Message{Role: RoleSystem, Content: req.System})
	}
	messages = append(messages, req.Messages...)

	payload := chatCompletionRequest{
		Model:               c.model,
		Messages:            messages,
		MaxCompletionTokens: req.MaxTokens,
		Temperature:         req.Temperature,
	}
	if req.JSONMode {
		payload.ResponseFormat = map[string]any{"type": "json_object"}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.ErrGenerationFailed, "encode request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.ErrGenerationFailed, "build request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return "", apperrors.Wrap(ctx.Err(), apperrors.ErrTimeout, "llm call")
		}
		return "", apperrors.Wrap(err, apperrors.ErrGenerationFailed, "send request")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.ErrGenerationFailed, "read response")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", apperrors.Newf(apperrors.ErrGenerationFailed, "http %d: %s", resp.StatusCode, chat.Truncate(string(raw), 800))
	}

	var cc chatCompletionResponse
	if err := json.Unmarshal(raw, &cc); err != nil {
		return "", apperrors.Wrap(err, apperrors.ErrGenerationFailed, "decode response")
	}
	if len(cc.Choices) == 0 {
		return "", apperrors.New(apperrors.ErrGenerationFailed, "no choices returned")
	}
	return cc.Choices[0].Message.Content, nil
}
