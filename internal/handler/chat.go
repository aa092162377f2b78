package handler

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/streamchat/internal/llm"
	"github.com/capitalize-ai/streamchat/internal/middleware"
	"github.com/capitalize-ai/streamchat/internal/model"
	"github.com/capitalize-ai/streamchat/internal/service"
	"github.com/capitalize-ai/streamchat/internal/sse"
	"github.com/capitalize-ai/streamchat/pkg/logger"
	"github.com/capitalize-ai/streamchat/pkg/metrics"
)

// DefaultHeartbeat is the interval between keep-alive comments.
const DefaultHeartbeat = 15 * time.Second

const (
	msgRateLimited   = "Rate limit exceeded, please try again later."
	msgQuotaExceeded = "Usage credits exhausted, please upgrade your plan."
	msgUpstream      = "The model service failed to respond."
)

// Streamer answers a chat request fragment by fragment.
type Streamer interface {
	Stream(ctx context.Context, req *model.ChatRequest, onDelta service.DeltaFunc) (*service.Reply, error)
}

// ChatHandler handles the streaming chat endpoint.
type ChatHandler struct {
	chat      Streamer
	heartbeat time.Duration
	logger    *logger.Logger
}

// NewChatHandler creates a new chat handler. A non-positive heartbeat uses
// DefaultHeartbeat.
func NewChatHandler(chat Streamer, heartbeat time.Duration, log *logger.Logger) *ChatHandler {
	if heartbeat <= 0 {
		heartbeat = DefaultHeartbeat
	}
	return &ChatHandler{
		chat:      chat,
		heartbeat: heartbeat,
		logger:    log.Named("chat_handler"),
	}
}

// Chat handles POST /api/v1/chat
// The answer is streamed as `data:` frames terminated by `data: [DONE]`.
// Failures before the first frame are returned as JSON with a status code.
func (h *ChatHandler) Chat(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req model.ChatRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := middleware.ValidateChatRequest(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if userID := middleware.GetUserID(ctx); userID != "" {
		req.UserID = userID
	}

	sw, err := sse.NewWriter(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	// Track active connection
	metrics.IncrementSSEConnections()
	defer metrics.DecrementSSEConnections()

	stop := h.keepAlive(ctx, sw)
	_, err = h.chat.Stream(ctx, &req, func(text string) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		return sw.Delta(text)
	})
	stop()

	if err == nil {
		sw.Done()
		return
	}

	log := h.logger.WithContext(middleware.GetCorrelationID(ctx), middleware.GetTenantID(ctx), req.UserID)
	if ctx.Err() != nil {
		log.Info("chat client disconnected")
		return
	}

	status, message, retryAfter := upstreamStatus(err)
	if !sw.Started() {
		log.Warn("chat request failed", zap.Int("status", status), zap.Error(err))
		writeRetryError(w, status, message, retryAfter)
		return
	}

	log.Warn("chat stream interrupted", zap.Error(err))
	sw.Error(message)
}

// keepAlive writes heartbeat comments until the returned stop func is called.
// stop waits for the writer goroutine to exit.
func (h *ChatHandler) keepAlive(ctx context.Context, sw *sse.Writer) func() {
	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)

	go func() {
		defer wg.Done()
		ticker := time.NewTicker(h.heartbeat)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-done:
				return
			case <-ticker.C:
				if err := sw.Comment("ping"); err != nil {
					return
				}
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(done)
			wg.Wait()
		})
	}
}

// upstreamStatus maps a chat failure to the status returned before streaming
// started, and to the message used in either case.
func upstreamStatus(err error) (int, string, int) {
	if errors.Is(err, service.ErrNoUserMessage) {
		return http.StatusBadRequest, err.Error(), 0
	}
	if apiErr, ok := llm.AsAPIError(err); ok {
		switch {
		case apiErr.QuotaExceeded():
			return http.StatusPaymentRequired, msgQuotaExceeded, 0
		case apiErr.RateLimited():
			return http.StatusTooManyRequests, msgRateLimited, 60
		}
	}
	return http.StatusBadGateway, msgUpstream, 0
}
