package middleware

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/httprate"

	"github.com/capitalize-ai/streamchat/internal/model"
	"github.com/capitalize-ai/streamchat/pkg/metrics"
)

const msgRateLimited = "Rate limit exceeded, please try again later."

// RateLimit limits requests per tenant, falling back to the client address
// for unauthenticated routes.
func RateLimit(requestLimit int, windowLength time.Duration) func(http.Handler) http.Handler {
	return limit("tenant", requestLimit, windowLength, GetTenantID)
}

// UserRateLimit limits requests per authenticated user.
func UserRateLimit(requestLimit int, windowLength time.Duration) func(http.Handler) http.Handler {
	return limit("user", requestLimit, windowLength, GetUserID)
}

func limit(scope string, requestLimit int, window time.Duration, subject func(context.Context) string) func(http.Handler) http.Handler {
	retryAfter := int(math.Ceil(window.Seconds()))
	return httprate.Limit(
		requestLimit,
		window,
		httprate.WithKeyFuncs(func(r *http.Request) (string, error) {
			if id := subject(r.Context()); id != "" {
				return scope + ":" + id, nil
			}
			return httprate.KeyByIP(r)
		}),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			metrics.RateLimitedTotal.WithLabelValues(scope).Inc()
			reject(w, http.StatusTooManyRequests, msgRateLimited, retryAfter)
		}),
	)
}

// reject writes a JSON error body matching the handlers' error shape.
func reject(w http.ResponseWriter, status int, message string, retryAfter int) {
	w.Header().Set("Content-Type", "application/json")
	if retryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
	}
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(model.ErrorResponse{Error: message, RetryAfter: retryAfter})
}
