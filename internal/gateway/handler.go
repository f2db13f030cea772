package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/af-corp/sms-gateway/internal/auth"
	"github.com/af-corp/sms-gateway/internal/config"
	"github.com/af-corp/sms-gateway/internal/filter"
	"github.com/af-corp/sms-gateway/internal/httputil"
	"github.com/af-corp/sms-gateway/internal/ratelimit"
	"github.com/af-corp/sms-gateway/internal/router"
	"github.com/af-corp/sms-gateway/internal/router/adapters"
	"github.com/af-corp/sms-gateway/internal/store"
	"github.com/af-corp/sms-gateway/internal/telemetry"
	"github.com/af-corp/sms-gateway/internal/types"
)

const (
	maxBodyBytes   = 64 << 10
	sendLogTimeout = 2 * time.Second
)

// Deps holds the collaborators of a Handler. Only Registry and Config are
// required; the rest degrade to no-ops when nil.
type Deps struct {
	Registry *router.Registry
	Health   *router.HealthTracker
	Config   func() *config.Config
	Filters  *filter.Chain
	Limiter  *ratelimit.Limiter
	Quota    *ratelimit.QuotaTracker
	SendLog  *store.SendLog
	Metrics  *telemetry.Metrics
	Logger   *slog.Logger
	Version  string
}

// Handler holds dependencies for the gateway HTTP handlers.
type Handler struct {
	registry *router.Registry
	health   *router.HealthTracker
	cfg      func() *config.Config
	filters  *filter.Chain
	limiter  *ratelimit.Limiter
	quota    *ratelimit.QuotaTracker
	sendLog  *store.SendLog
	metrics  *telemetry.Metrics
	logger   *slog.Logger
	version  string
}

func NewHandler(d Deps) *Handler {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	limiter := d.Limiter
	if limiter == nil {
		limiter = ratelimit.NewLimiter(nil)
	}
	quota := d.Quota
	if quota == nil {
		quota = ratelimit.NewQuotaTracker(nil)
	}
	return &Handler{
		registry: d.Registry,
		health:   d.Health,
		cfg:      d.Config,
		filters:  d.Filters,
		limiter:  limiter,
		quota:    quota,
		sendLog:  d.SendLog,
		metrics:  d.Metrics,
		logger:   logger,
		version:  d.Version,
	}
}

// SendRequest is the body of POST /v1/sms/send.
type SendRequest struct {
	To           string             `json:"to"`
	Content      string             `json:"content"`
	Provider     string             `json:"provider,omitempty"`
	ProviderData types.ProviderData `json:"provider_data,omitempty"`
}

// SendResponse wraps the adapter result with gateway bookkeeping.
type SendResponse struct {
	RequestID string              `json:"request_id"`
	MessageID string              `json:"message_id,omitempty"`
	Provider  string              `json:"provider"`
	Result    types.SendingResult `json:"result"`
}

// Send handles POST /v1/sms/send
func (h *Handler) Send(w http.ResponseWriter, r *http.Request) {
	reqID := w.Header().Get("X-Request-ID")
	receivedAt := time.Now()
	ctx := r.Context()

	authInfo, ok := auth.AuthFromContext(ctx)
	if !ok {
		httputil.WriteAuthError(w, reqID, "Not authenticated")
		return
	}

	var req SendRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		httputil.WriteBadRequestError(w, reqID, "Invalid JSON: "+err.Error())
		return
	}

	msg := &types.MessageBody{To: strings.TrimSpace(req.To), Content: req.Content, ProviderData: req.ProviderData}
	if err := msg.Validate(); err != nil {
		httputil.WriteBadRequestError(w, reqID, err.Error())
		return
	}
	if authInfo.DefaultSender != "" && msg.ProviderData.String(types.ProviderDataOrginator) == "" {
		msg.ProviderData = msg.ProviderData.With(types.ProviderDataOrginator, authInfo.DefaultSender)
	}

	if req.Provider != "" && !authInfo.AllowsProvider(req.Provider) {
		httputil.WriteForbiddenError(w, reqID, "API key may not use provider "+req.Provider)
		return
	}

	cfg := h.cfg()
	provider, providerName, err := router.ResolveProvider(cfg.Routing, h.registry, h.health, req.Provider)
	if err != nil {
		h.logger.WarnContext(ctx, "no provider available", "request_id", reqID, "error", err)
		httputil.WriteServiceUnavailableError(w, reqID, "No provider available: "+err.Error())
		return
	}
	if !authInfo.AllowsProvider(providerName) {
		httputil.WriteForbiddenError(w, reqID, "API key may not use provider "+providerName)
		return
	}

	if blocked := h.runFilters(ctx, reqID, msg, provider, providerName, authInfo); blocked != nil {
		httputil.WritePolicyDeniedError(w, reqID, blocked.Message)
		return
	}

	if !h.allowRecipient(ctx, w, reqID, msg.To, cfg.RateLimit) {
		return
	}

	// Selection left any half-open probe slot free; claim it only now that
	// the send is certain to happen and be recorded.
	if h.health != nil && !h.health.IsAvailable(providerName) {
		h.logger.WarnContext(ctx, "provider probe in flight", "request_id", reqID, "provider", providerName)
		httputil.WriteServiceUnavailableError(w, reqID, "Provider "+providerName+" is recovering, retry later")
		return
	}

	start := time.Now()
	result := provider.SendContext(ctx, msg)
	elapsed := time.Since(start)

	if h.health != nil {
		h.health.Record(providerName, result)
	}
	h.metrics.RecordSend(telemetry.SendLabels{
		Provider:   providerName,
		Status:     string(result.Status),
		Code:       result.FirstErrorCode(),
		DurationMs: float64(elapsed.Milliseconds()),
	})
	if result.IsSuccess() {
		if err := h.quota.Record(ctx, authInfo.KeyID); err != nil {
			h.logger.WarnContext(ctx, "quota record failed", "request_id", reqID, "error", err)
		}
	}
	messageID := h.recordSendLog(ctx, reqID, authInfo.KeyID, msg.To, result, elapsed)

	h.logger.InfoContext(ctx, "sms request completed",
		"request_id", reqID,
		"key_id", authInfo.KeyID,
		"org_id", authInfo.OrganizationID,
		"provider", providerName,
		"to", adapters.MaskRecipient(msg.To),
		"status", result.Status,
		"error_code", result.FirstErrorCode(),
		"provider_ms", elapsed.Milliseconds(),
		"duration_ms", time.Since(receivedAt).Milliseconds(),
	)

	status := http.StatusOK
	if !result.IsSuccess() {
		status = http.StatusBadGateway
	}
	httputil.WriteJSON(w, reqID, status, SendResponse{
		RequestID: reqID,
		MessageID: messageID,
		Provider:  providerName,
		Result:    result,
	})
}

func (h *Handler) runFilters(ctx context.Context, reqID string, msg *types.MessageBody, provider adapters.SMSProvider, providerName string, authInfo *auth.AuthInfo) *filter.Result {
	results, blocked := h.filters.Run(ctx, &filter.Request{
		Message:        msg,
		Sender:         effectiveSender(provider, msg),
		Provider:       providerName,
		KeyID:          authInfo.KeyID,
		OrganizationID: authInfo.OrganizationID,
	})
	for _, fr := range results {
		if fr.Action == filter.ActionFlag {
			h.logger.InfoContext(ctx, "message flagged by filter",
				"request_id", reqID,
				"filter", fr.FilterName,
				"score", fr.Score,
				"detections", fr.Detections,
			)
		}
	}
	if blocked == nil {
		return nil
	}
	h.logger.WarnContext(ctx, "message blocked by filter",
		"request_id", reqID,
		"filter", blocked.FilterName,
		"detections", blocked.Detections,
		"score", blocked.Score,
		"org_id", authInfo.OrganizationID,
	)
	h.metrics.RecordPolicyDenied(blocked.FilterName)
	return blocked
}

// effectiveSender is the originator the vendor will see, so filters judge the
// same sender that goes out.
func effectiveSender(provider adapters.SMSProvider, msg *types.MessageBody) string {
	if r, ok := provider.(adapters.SenderResolver); ok {
		return r.ResolveSender(msg)
	}
	return msg.ProviderData.String(types.ProviderDataOrginator)
}

// allowRecipient enforces the per-recipient throttle and writes the 429 when
// it trips.
func (h *Handler) allowRecipient(ctx context.Context, w http.ResponseWriter, reqID, to string, cfg config.RateLimitConfig) bool {
	if cfg.RecipientLimit <= 0 || cfg.RecipientWindow <= 0 {
		return true
	}
	res, _ := h.limiter.Check(ctx, "rcpt:"+to, int64(cfg.RecipientLimit), cfg.RecipientWindow)
	if res.Allowed {
		return true
	}
	h.logger.WarnContext(ctx, "recipient throttled",
		"request_id", reqID,
		"to", adapters.MaskRecipient(to),
		"limit", cfg.RecipientLimit,
		"window", cfg.RecipientWindow.String(),
	)
	h.metrics.RecordRateLimitHit("recipient")
	w.Header().Set("Retry-After", ratelimit.RetryAfterSeconds(res.RetryAfter))
	httputil.WriteRateLimitError(w, reqID, "Too many messages to this recipient, retry later")
	return false
}

func (h *Handler) recordSendLog(ctx context.Context, reqID, keyID, to string, result types.SendingResult, elapsed time.Duration) string {
	entry := store.EntryFromResult(result, elapsed)
	entry.RequestID = reqID
	entry.KeyID = keyID
	entry.Recipient = adapters.MaskRecipient(to)

	logCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sendLogTimeout)
	defer cancel()
	id, err := h.sendLog.Record(logCtx, entry)
	if err != nil {
		h.logger.WarnContext(ctx, "send log write failed", "request_id", reqID, "error", err)
		return ""
	}
	if id == uuid.Nil {
		return ""
	}
	return id.String()
}

// ListProviders handles GET /v1/providers
func (h *Handler) ListProviders(w http.ResponseWriter, r *http.Request) {
	reqID := w.Header().Get("X-Request-ID")

	authInfo, ok := auth.AuthFromContext(r.Context())
	if !ok {
		httputil.WriteAuthError(w, reqID, "Not authenticated")
		return
	}

	cfg := h.cfg()
	data := make([]providerObject, 0)
	for _, name := range h.registry.Names() {
		if !authInfo.AllowsProvider(name) {
			continue
		}
		obj := providerObject{
			ID:        name,
			Object:    "provider",
			Default:   name == cfg.Routing.DefaultProvider,
			Available: true,
			State:     router.StateClosed.String(),
		}
		if h.health != nil {
			snap := h.health.GetBreaker(name).Snapshot()
			obj.State = snap.State
			obj.Available = snap.State != router.StateOpen.String()
		}
		data = append(data, obj)
	}

	httputil.WriteJSON(w, reqID, http.StatusOK, providerListResponse{
		Object: "list",
		Data:   data,
	})
}

type providerObject struct {
	ID        string `json:"id"`
	Object    string `json:"object"`
	Default   bool   `json:"default"`
	Available bool   `json:"available"`
	State     string `json:"circuit_state"`
}

type providerListResponse struct {
	Object string           `json:"object"`
	Data   []providerObject `json:"data"`
}

// Health handles GET /sms/v1/health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := "healthy"
	providers := make(map[string]string)
	if h.health != nil {
		for name, snap := range h.health.Snapshot() {
			providers[name] = snap.State
		}
	}
	if len(h.registry.Names()) == 0 {
		status = "degraded"
	}
	httputil.WriteJSON(w, w.Header().Get("X-Request-ID"), http.StatusOK, healthResponse{
		Status:    status,
		Version:   h.version,
		Providers: providers,
	})
}

type healthResponse struct {
	Status    string            `json:"status"`
	Version   string            `json:"version"`
	Providers map[string]string `json:"providers"`
}
