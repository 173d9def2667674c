// Package genclient is the text-generation client the example job
// handlers (§10.4) depend on. Grounded on
// internal/platform/openai/client.go's Client interface and NewClient
// constructor — same env-driven configuration (OPENAI_API_KEY,
// OPENAI_BASE_URL, OPENAI_MODEL, OPENAI_TIMEOUT_SECONDS), same
// Responses API + json_schema structured-output call shape
// (GenerateJSON) — reduced to the single method the handlers actually
// call. Per spec.md §1 ("only their interface with the core is
// specified"), everything else the teacher's client exposes (Embed,
// image/video generation, multimodal input, conversations, streaming)
// has no job type in this engine to serve and is not carried forward.
package genclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/corwinhq/taskforge/internal/platform/logger"
)

// Client generates a JSON object conforming to schema, given a system
// and user prompt. Handlers use this to turn a job's payload into a
// structured result without themselves knowing about HTTP or the
// underlying model provider.
type Client interface {
	GenerateJSON(ctx context.Context, system, user, schemaName string, schema map[string]any) (map[string]any, error)
}

type client struct {
	log        *logger.Logger
	httpClient *http.Client
	baseURL    string
	apiKey     string
	model      string
}

// New builds a client from OPENAI_API_KEY/OPENAI_BASE_URL/OPENAI_MODEL,
// the same environment variables the teacher's client reads.
func New(baseLog *logger.Logger) (Client, error) {
	apiKey := strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
	if apiKey == "" {
		return nil, fmt.Errorf("genclient: missing OPENAI_API_KEY")
	}
	baseURL := strings.TrimSpace(os.Getenv("OPENAI_BASE_URL"))
	if baseURL == "" {
		baseURL = "https://api.openai.com"
	}
	baseURL = strings.TrimRight(baseURL, "/")

	model := strings.TrimSpace(os.Getenv("OPENAI_MODEL"))
	if model == "" {
		model = "gpt-5.2"
	}

	timeoutSec := 180
	if v := strings.TrimSpace(os.Getenv("OPENAI_TIMEOUT_SECONDS")); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			timeoutSec = parsed
		}
	}

	return &client{
		log:        baseLog.With("component", "GenClient"),
		httpClient: &http.Client{Timeout: time.Duration(timeoutSec) * time.Second},
		baseURL:    baseURL,
		apiKey:     apiKey,
		model:      model,
	}, nil
}

type responsesRequest struct {
	Model string `json:"model"`
	Input []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"input"`
	Text struct {
		Format map[string]any `json:"format"`
	} `json:"text"`
}

type responsesResponse struct {
	Refusal string `json:"refusal"`
	Output  []struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	} `json:"output"`
}

func (c *client) GenerateJSON(ctx context.Context, system, user, schemaName string, schema map[string]any) (map[string]any, error) {
	if schemaName == "" {
		return nil, fmt.Errorf("genclient: schemaName required")
	}
	if schema == nil {
		return nil, fmt.Errorf("genclient: schema required")
	}

	req := responsesRequest{Model: c.model}
	req.Input = append(req.Input,
		struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		}{Role: "system", Content: system},
		struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		}{Role: "user", Content: user},
	)
	req.Text.Format = map[string]any{
		"type":   "json_schema",
		"name":   schemaName,
		"schema": schema,
		"strict": true,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("genclient: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/responses", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("genclient: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("genclient: request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("genclient: read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("genclient: upstream status %d: %s", resp.StatusCode, string(respBody))
	}

	var parsed responsesResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, fmt.Errorf("genclient: decode response: %w", err)
	}
	if parsed.Refusal != "" {
		return nil, fmt.Errorf("genclient: model refused: %s", parsed.Refusal)
	}

	var jsonText string
	for _, out := range parsed.Output {
		for _, content := range out.Content {
			if strings.TrimSpace(content.Text) != "" {
				jsonText = content.Text
				break
			}
		}
		if jsonText != "" {
			break
		}
	}
	if strings.TrimSpace(jsonText) == "" {
		return nil, fmt.Errorf("genclient: no output text in response")
	}

	var obj map[string]any
	if err := json.Unmarshal([]byte(jsonText), &obj); err != nil {
		return nil, fmt.Errorf("genclient: parse model JSON: %w; text=%s", err, jsonText)
	}
	return obj, nil
}
