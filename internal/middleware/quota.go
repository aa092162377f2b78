package middleware

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/capitalize-ai/streamchat/pkg/logger"
	"github.com/capitalize-ai/streamchat/pkg/metrics"
)

const msgQuotaExceeded = "Usage credits exhausted, please upgrade your plan."

// Counter increments a windowed counter. The window starts on first use.
type Counter interface {
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
}

// Quota limits each user to limit chat requests per UTC day. Exhausted users
// get 402. A counter failure lets the request through.
func Quota(counter Counter, limit int, log *logger.Logger) func(http.Handler) http.Handler {
	return quota(counter, limit, log, time.Now)
}

func quota(counter Counter, limit int, log *logger.Logger, now func() time.Time) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if limit <= 0 || counter == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			subject := GetUserID(ctx)
			if subject == "" {
				subject = "ip:" + r.RemoteAddr
			}

			t := now().UTC()
			key := "quota:" + t.Format("2006-01-02") + ":" + subject
			n, err := counter.Incr(ctx, key, 24*time.Hour)
			if err != nil {
				log.Warn("quota counter unavailable", zap.Error(err))
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-Quota-Limit", strconv.Itoa(limit))
			if n > int64(limit) {
				metrics.QuotaRejectionsTotal.Inc()
				reject(w, http.StatusPaymentRequired, msgQuotaExceeded, 0)
				return
			}
			w.Header().Set("X-Quota-Remaining", strconv.FormatInt(int64(limit)-n, 10))
			next.ServeHTTP(w, r)
		})
	}
}
