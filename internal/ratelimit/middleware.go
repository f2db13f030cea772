package ratelimit

import (
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/af-corp/sms-gateway/internal/auth"
	"github.com/af-corp/sms-gateway/internal/config"
	"github.com/af-corp/sms-gateway/internal/httputil"
	"github.com/af-corp/sms-gateway/internal/telemetry"
)

const (
	headerRateLimitRequests          = "X-RateLimit-Limit-Requests"
	headerRateLimitRemainingRequests = "X-RateLimit-Remaining-Requests"
	headerRateLimitReset             = "X-RateLimit-Reset-Requests"
	headerQuotaRemaining             = "X-Quota-Remaining-Daily"
	headerRetryAfter                 = "Retry-After"
)

// Middleware returns chi middleware that enforces per-key request rate and
// daily send quota. limits is read on every request so config reloads apply.
// Per-recipient limits need the decoded body and are checked by the send
// handler.
func Middleware(limiter *Limiter, quota *QuotaTracker, limits func() config.RateLimitConfig, metrics *telemetry.Metrics, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := w.Header().Get("X-Request-ID")

			authInfo, ok := auth.AuthFromContext(r.Context())
			if !ok {
				// No auth info; the auth middleware rejects these.
				next.ServeHTTP(w, r)
				return
			}

			cfg := limits()
			rpm := cfg.DefaultRPM
			if authInfo.RPMLimit != nil {
				rpm = *authInfo.RPMLimit
			}

			if rpm > 0 {
				result, _ := limiter.Check(r.Context(), "rpm:"+authInfo.KeyID, int64(rpm), time.Minute)

				w.Header().Set(headerRateLimitRequests, strconv.Itoa(rpm))
				w.Header().Set(headerRateLimitRemainingRequests, strconv.FormatInt(result.Remaining, 10))
				w.Header().Set(headerRateLimitReset, result.ResetAt.Format(time.RFC3339))

				if !result.Allowed {
					logger.WarnContext(r.Context(), "rate limit exceeded",
						"request_id", reqID,
						"key_id", authInfo.KeyID,
						"org_id", authInfo.OrganizationID,
						"dimension", "rpm",
						"limit", rpm,
					)
					metrics.RecordRateLimitHit("rpm")
					w.Header().Set(headerRetryAfter, RetryAfterSeconds(result.RetryAfter))
					httputil.WriteRateLimitError(w, reqID,
						fmt.Sprintf("Rate limit exceeded: %d requests per minute. Retry after %s", rpm, result.ResetAt.Format(time.RFC3339)))
					return
				}
			}

			daily := cfg.DefaultDailyQuota
			if authInfo.DailyQuota != nil {
				daily = *authInfo.DailyQuota
			}
			if daily > 0 {
				qr, _ := quota.Check(r.Context(), authInfo.KeyID, int64(daily))
				w.Header().Set(headerQuotaRemaining, strconv.FormatInt(max(qr.Limit-qr.Used, 0), 10))
				if !qr.Allowed {
					logger.WarnContext(r.Context(), "daily quota exceeded",
						"request_id", reqID,
						"key_id", authInfo.KeyID,
						"used", qr.Used,
						"limit", qr.Limit,
					)
					metrics.RecordRateLimitHit("daily_quota")
					httputil.WriteQuotaExceededError(w, reqID,
						fmt.Sprintf("Daily quota exceeded: sent %d of %d messages", qr.Used, qr.Limit))
					return
				}
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RetryAfterSeconds formats d for a Retry-After header, rounding up.
func RetryAfterSeconds(d time.Duration) string {
	secs := int((d + time.Second - 1) / time.Second)
	return strconv.Itoa(max(secs, 1))
}
