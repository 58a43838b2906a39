package generator

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// HTTPGenerator calls the AI service REST API:
// POST {base}/api/chat/generate and GET {base}/health.
type HTTPGenerator struct {
	http   *resty.Client
	logger *zap.Logger
}

// NewHTTP creates the REST client.  timeout is the network-level bound of
// one generation call; no retries are configured.
func NewHTTP(baseURL string, timeout time.Duration, logger *zap.Logger) *HTTPGenerator {
	client := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(timeout).
		SetRetryCount(0).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	return &HTTPGenerator{http: client, logger: logger}
}

func (g *HTTPGenerator) Name() string { return "http" }

// Generate posts the request once and decodes the single complete reply.
func (g *HTTPGenerator) Generate(ctx context.Context, req Request) (*Response, error) {
	if req.ChatHistory == nil {
		req.ChatHistory = []HistoryItem{}
	}
	resp, err := g.http.R().
		SetContext(ctx).
		SetBody(req).
		Post("/api/chat/generate")
	if err != nil {
		g.logger.Error("AI service call failed", zap.Error(err))
		return nil, classifyTransport(err)
	}

	if resp.IsError() {
		detail := remoteDetail(resp.Body())
		g.logger.Error("AI service returned error",
			zap.Int("status_code", resp.StatusCode()),
			zap.String("detail", detail),
		)
		return nil, classifyStatus(resp.StatusCode(), detail)
	}

	var out Response
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return nil, &RemoteError{Status: resp.StatusCode(), Detail: fmt.Sprintf("malformed response: %v", err)}
	}
	if out.Response == "" {
		return nil, &RemoteError{Status: resp.StatusCode(), Detail: "empty response"}
	}
	return &out, nil
}

// Health probes GET /health with a short timeout.
func (g *HTTPGenerator) Health(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	resp, err := g.http.R().SetContext(ctx).Get("/health")
	if err != nil {
		return classifyTransport(err)
	}
	if resp.StatusCode() != 200 {
		return classifyStatus(resp.StatusCode(), "health check failed")
	}
	return nil
}

const maxDetailRunes = 200

// truncateRunes keeps at most n runes of s.
func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

// remoteDetail extracts FastAPI's {"detail": ...} or {"error": ...} text.
func remoteDetail(body []byte) string {
	var v struct {
		Detail any    `json:"detail"`
		Error  string `json:"error"`
	}
	if err := json.Unmarshal(body, &v); err == nil {
		if s, ok := v.Detail.(string); ok && s != "" {
			return s
		}
		if v.Error != "" {
			return v.Error
		}
	}
	return truncateRunes(strings.TrimSpace(string(body)), maxDetailRunes)
}
