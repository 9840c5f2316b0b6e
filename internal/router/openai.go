package router

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/manatap/triage/internal/openaiparams"
	"github.com/manatap/triage/pkg/models"
	"github.com/tidwall/gjson"
)

// DefaultOpenAIBaseURL is used when no base URL is configured.
const DefaultOpenAIBaseURL = "https://api.openai.com/v1"

// OpenAICompleter calls the OpenAI chat completions or responses endpoint,
// depending on the request's API surface.
type OpenAICompleter struct {
	baseURL string
	apiKey  string
	strict  bool
	client  *http.Client
}

// NewOpenAICompleter creates a completer. In strict mode a forbidden param in
// the body is an error; otherwise it is stripped.
func NewOpenAICompleter(baseURL, apiKey string, timeout time.Duration, strict bool) *OpenAICompleter {
	if baseURL == "" {
		baseURL = DefaultOpenAIBaseURL
	}
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &OpenAICompleter{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		strict:  strict,
		client:  &http.Client{Timeout: timeout},
	}
}

type chatCompletionResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int64 `json:"prompt_tokens"`
		CompletionTokens int64 `json:"completion_tokens"`
		TotalTokens      int64 `json:"total_tokens"`
	} `json:"usage"`
}

// Complete implements Completer.
func (c *OpenAICompleter) Complete(ctx context.Context, req *models.CompletionRequest) (*models.CompletionResponse, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("openai: api key not configured")
	}

	body, err := openaiparams.Enforce(req.Body, c.strict)
	if err != nil {
		return nil, fmt.Errorf("openai: %w", err)
	}
	if body == nil {
		body = map[string]any{}
	}
	body["model"] = req.Model
	// Streaming responses are consumed whole here.
	delete(body, "stream")

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("openai: marshal body: %w", err)
	}

	url := c.baseURL + "/chat/completions"
	if req.Surface == models.SurfaceResponses {
		url = c.baseURL + "/responses"
	}

	start := time.Now()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("openai: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	httpResp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("openai: request failed: %w", err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("openai: read response: %w", err)
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("openai: status %d: %s", httpResp.StatusCode, string(respBody))
	}

	var resp *models.CompletionResponse
	if req.Surface == models.SurfaceResponses {
		resp, err = parseResponses(respBody)
	} else {
		resp, err = parseChatCompletion(respBody)
	}
	if err != nil {
		return nil, err
	}
	if resp.ID == "" {
		resp.ID = uuid.New().String()
	}
	if resp.Model == "" {
		resp.Model = req.Model
	}
	resp.LatencyMs = time.Since(start).Milliseconds()
	return resp, nil
}

func parseChatCompletion(raw []byte) (*models.CompletionResponse, error) {
	var oaiResp chatCompletionResponse
	if err := json.Unmarshal(raw, &oaiResp); err != nil {
		return nil, fmt.Errorf("openai: decode response: %w", err)
	}

	content := ""
	if len(oaiResp.Choices) > 0 {
		content = oaiResp.Choices[0].Message.Content
	}
	return &models.CompletionResponse{
		ID:      oaiResp.ID,
		Model:   oaiResp.Model,
		Content: content,
		Usage: models.TokenUsage{
			InputTokens:  oaiResp.Usage.PromptTokens,
			OutputTokens: oaiResp.Usage.CompletionTokens,
			TotalTokens:  oaiResp.Usage.TotalTokens,
		},
	}, nil
}

// parseResponses extracts text and usage from a /responses payload. The text
// is the concatenation of every output_text part of every message item.
func parseResponses(raw []byte) (*models.CompletionResponse, error) {
	if !gjson.ValidBytes(raw) {
		return nil, fmt.Errorf("openai: decode response: invalid JSON")
	}
	doc := gjson.ParseBytes(raw)

	var sb strings.Builder
	if t := doc.Get("output_text"); t.Exists() {
		sb.WriteString(t.String())
	} else {
		doc.Get("output").ForEach(func(_, item gjson.Result) bool {
			if item.Get("type").String() != "message" {
				return true
			}
			item.Get("content").ForEach(func(_, part gjson.Result) bool {
				if part.Get("type").String() == "output_text" {
					sb.WriteString(part.Get("text").String())
				}
				return true
			})
			return true
		})
	}

	in := doc.Get("usage.input_tokens").Int()
	out := doc.Get("usage.output_tokens").Int()
	total := doc.Get("usage.total_tokens").Int()
	if total == 0 {
		total = in + out
	}
	return &models.CompletionResponse{
		ID:      doc.Get("id").String(),
		Model:   doc.Get("model").String(),
		Content: sb.String(),
		Usage: models.TokenUsage{
			InputTokens:  in,
			OutputTokens: out,
			TotalTokens:  total,
		},
	}, nil
}
