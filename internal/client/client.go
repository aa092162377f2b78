// Package client opens streamed chat responses from the edge service.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"

	"github.com/capitalize-ai/streamchat/internal/model"
	"github.com/capitalize-ai/streamchat/pkg/logger"
)

const chatPath = "/api/v1/chat"

// Config holds client settings.
type Config struct {
	BaseURL      string
	Token        string
	RetryMax     int
	RetryWaitMin time.Duration
	RetryWaitMax time.Duration
}

// Client talks to the chat endpoint.
type Client struct {
	baseURL string
	token   string
	http    *retryablehttp.Client
	logger  *logger.Logger
}

// New creates a client. Retries cover connection failures and 502, 503 and
// 504 received before the stream opens. Every other status, including 500,
// 429 and 402, is returned immediately.
func New(cfg Config, log *logger.Logger) *Client {
	if log == nil {
		log = logger.Nop()
	}

	rc := retryablehttp.NewClient()
	rc.RetryMax = cfg.RetryMax
	if cfg.RetryWaitMin > 0 {
		rc.RetryWaitMin = cfg.RetryWaitMin
	}
	if cfg.RetryWaitMax > 0 {
		rc.RetryWaitMax = cfg.RetryWaitMax
	}
	rc.CheckRetry = checkRetry
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler
	rc.Logger = leveled{log.Named("http").Sugar()}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		token:   cfg.Token,
		http:    rc,
		logger:  log,
	}
}

// Open posts the chat request and returns the streamed body. Non-2xx responses
// and transport failures are returned as *APIError.
func (c *Client) Open(ctx context.Context, req model.ChatRequest) (io.ReadCloser, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal chat request: %w", err)
	}

	httpReq, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+chatPath, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build chat request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	if c.token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		c.logger.Warn("chat request failed", zap.Error(err))
		return nil, transportError(err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		apiErr := statusError(resp.StatusCode, readServerMessage(resp.Body), retryAfter(resp.Header))
		c.logger.Warn("chat request rejected",
			zap.Int("status", resp.StatusCode),
			zap.String("kind", apiErr.Kind.String()),
		)
		return nil, apiErr
	}

	if resp.Body == nil || resp.Body == http.NoBody {
		return nil, transportError(errors.New("response has no body"))
	}

	return resp.Body, nil
}

// checkRetry retries connection failures and gateway statuses only. Any other
// status means the edge service handled the request and may already have
// started a billed upstream call, so it is not sent twice.
func checkRetry(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctx.Err() != nil {
		return false, ctx.Err()
	}
	if err != nil || resp == nil {
		return retryablehttp.DefaultRetryPolicy(ctx, resp, err)
	}
	switch resp.StatusCode {
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return true, nil
	}
	return false, nil
}

func readServerMessage(r io.Reader) string {
	var body model.ErrorResponse
	if err := json.NewDecoder(io.LimitReader(r, 64<<10)).Decode(&body); err != nil {
		return ""
	}
	return body.Error
}

func retryAfter(h http.Header) time.Duration {
	secs, err := strconv.Atoi(h.Get("Retry-After"))
	if err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

// leveled adapts zap to retryablehttp.LeveledLogger.
type leveled struct {
	s *zap.SugaredLogger
}

func (l leveled) Error(msg string, kv ...interface{}) { l.s.Errorw(msg, kv...) }
func (l leveled) Info(msg string, kv ...interface{})  { l.s.Debugw(msg, kv...) }
func (l leveled) Debug(msg string, kv ...interface{}) { l.s.Debugw(msg, kv...) }
func (l leveled) Warn(msg string, kv ...interface{})  { l.s.Warnw(msg, kv...) }
