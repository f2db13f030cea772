package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/af-corp/sms-gateway/internal/auth"
	"github.com/af-corp/sms-gateway/internal/config"
	"github.com/af-corp/sms-gateway/internal/filter"
	"github.com/af-corp/sms-gateway/internal/filter/phishing"
	"github.com/af-corp/sms-gateway/internal/filter/policy"
	"github.com/af-corp/sms-gateway/internal/ratelimit"
	"github.com/af-corp/sms-gateway/internal/router"
	"github.com/af-corp/sms-gateway/internal/router/adapters"
	"github.com/af-corp/sms-gateway/internal/telemetry"
	"github.com/af-corp/sms-gateway/internal/types"
)

var quietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type vendorCall struct {
	path string
	body map[string]any
}

type testEnv struct {
	handler *Handler
	health  *router.HealthTracker
	metrics *telemetry.Metrics
	cfg     *config.Config
	calls   chan vendorCall
}

// newTestEnv wires a handler to a real IletiMerkezi adapter that talks to a
// fake vendor answering with vendorStatus.
func newTestEnv(t *testing.T, vendorStatus int, mutate func(d *Deps)) *testEnv {
	t.Helper()
	calls := make(chan vendorCall, 16)
	vendor := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		calls <- vendorCall{path: r.URL.Path, body: body}
		w.WriteHeader(vendorStatus)
		io.WriteString(w, `{"response":{"status":{"code":"200","message":"OK"}}}`)
	}))
	t.Cleanup(vendor.Close)

	provider, err := adapters.NewIletiMerkeziProvider(vendor.Client(), &adapters.IletiMerkeziOptions{
		BaseURL: vendor.URL, Key: "K", Hash: "H", Sender: "DEFAULT",
	}, adapters.WithLogger(quietLogger))
	require.NoError(t, err)

	registry := router.NewRegistry()
	registry.Register("iletimerkezi", provider)

	cfg := config.DefaultConfig()
	cfg.RateLimit.RecipientLimit = 0
	health := router.NewHealthTracker(2, time.Minute)
	metrics := telemetry.NewMetrics(prometheus.NewRegistry())

	d := Deps{
		Registry: registry,
		Health:   health,
		Config:   func() *config.Config { return cfg },
		Metrics:  metrics,
		Logger:   quietLogger,
		Version:  "test",
	}
	if mutate != nil {
		mutate(&d)
	}
	return &testEnv{handler: NewHandler(d), health: d.Health, metrics: metrics, cfg: cfg, calls: calls}
}

func defaultAuth() *auth.AuthInfo {
	return &auth.AuthInfo{KeyID: "key-1", OrganizationID: "org-1"}
}

func (e *testEnv) send(t *testing.T, info *auth.AuthInfo, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/sms/send", strings.NewReader(body))
	if info != nil {
		req = req.WithContext(auth.ContextWithAuth(req.Context(), info))
	}
	rec := httptest.NewRecorder()
	rec.Header().Set("X-Request-ID", "req-1")
	e.handler.Send(rec, req)
	return rec
}

func decodeSend(t *testing.T, rec *httptest.ResponseRecorder) SendResponse {
	t.Helper()
	var resp SendResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestSend_Success(t *testing.T) {
	env := newTestEnv(t, http.StatusOK, nil)

	rec := env.send(t, defaultAuth(), `{"to":"+905551234567","content":"Hello"}`)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decodeSend(t, rec)
	assert.Equal(t, "req-1", resp.RequestID)
	assert.Equal(t, "iletimerkezi", resp.Provider)
	assert.Equal(t, types.StatusSuccess, resp.Result.Status)
	assert.Equal(t, adapters.IletiMerkeziName, resp.Result.ProviderName)
	assert.Contains(t, resp.Result.Metadata, types.MetadataResponse)

	call := <-env.calls
	assert.Equal(t, "/v1/send-sms/json", call.path)

	counter := env.metrics.SendTotal.WithLabelValues("iletimerkezi", "success", "")
	assert.Equal(t, 1.0, testutil.ToFloat64(counter))
}

func TestSend_DefaultSenderFromKey(t *testing.T) {
	env := newTestEnv(t, http.StatusOK, nil)
	info := defaultAuth()
	info.DefaultSender = "KEYSENDER"

	rec := env.send(t, info, `{"to":"+905551234567","content":"Hello"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	call := <-env.calls
	order := call.body["request"].(map[string]any)["order"].(map[string]any)
	assert.Equal(t, "KEYSENDER", order["sender"])
}

func TestSend_ExplicitOriginatorWinsOverKeyDefault(t *testing.T) {
	env := newTestEnv(t, http.StatusOK, nil)
	info := defaultAuth()
	info.DefaultSender = "KEYSENDER"

	rec := env.send(t, info, `{"to":"+905551234567","content":"Hello","provider_data":{"orginator":"CALLER"}}`)
	require.Equal(t, http.StatusOK, rec.Code)

	call := <-env.calls
	order := call.body["request"].(map[string]any)["order"].(map[string]any)
	assert.Equal(t, "CALLER", order["sender"])
}

func TestSend_VendorFailure(t *testing.T) {
	env := newTestEnv(t, http.StatusUnauthorized, nil)

	rec := env.send(t, defaultAuth(), `{"to":"+905551234567","content":"Hello"}`)

	require.Equal(t, http.StatusBadGateway, rec.Code)
	resp := decodeSend(t, rec)
	assert.Equal(t, types.StatusFailure, resp.Result.Status)
	require.Len(t, resp.Result.Errors, 1)
	assert.Equal(t, "401", resp.Result.Errors[0].Code)
	assert.Equal(t, "Unauthorized", resp.Result.Errors[0].Message)

	snap := env.health.GetBreaker("iletimerkezi").Snapshot()
	assert.Equal(t, 1, snap.ConsecutiveFailures)
}

func TestSend_BreakerOpensAfterFailures(t *testing.T) {
	env := newTestEnv(t, http.StatusInternalServerError, nil)
	body := `{"to":"+905551234567","content":"Hello"}`

	assert.Equal(t, http.StatusBadGateway, env.send(t, defaultAuth(), body).Code)
	assert.Equal(t, http.StatusBadGateway, env.send(t, defaultAuth(), body).Code)

	rec := env.send(t, defaultAuth(), body)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Len(t, env.calls, 2, "open breaker must not reach the vendor")
}

func TestSend_BadRequests(t *testing.T) {
	env := newTestEnv(t, http.StatusOK, nil)
	tests := []struct {
		name string
		body string
	}{
		{"invalid json", `{"to":`},
		{"missing content", `{"to":"+905551234567"}`},
		{"blank recipient", `{"to":"  ","content":"Hi"}`},
		{"unknown field", `{"to":"+905551234567","content":"Hi","priority":1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.send(t, defaultAuth(), tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
	assert.Len(t, env.calls, 0)
}

func TestSend_NotAuthenticated(t *testing.T) {
	env := newTestEnv(t, http.StatusOK, nil)
	rec := env.send(t, nil, `{"to":"+905551234567","content":"Hello"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSend_ProviderNotAllowed(t *testing.T) {
	env := newTestEnv(t, http.StatusOK, nil)
	info := defaultAuth()
	info.AllowedProviders = []string{"other"}

	rec := env.send(t, info, `{"to":"+905551234567","content":"Hello"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.send(t, info, `{"to":"+905551234567","content":"Hello","provider":"iletimerkezi"}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Len(t, env.calls, 0)
}

func TestSend_UnknownProvider(t *testing.T) {
	env := newTestEnv(t, http.StatusOK, nil)
	rec := env.send(t, defaultAuth(), `{"to":"+905551234567","content":"Hello","provider":"nope"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestSend_BlockedByFilter(t *testing.T) {
	env := newTestEnv(t, http.StatusOK, func(d *Deps) {
		d.Filters = filter.NewChain(phishing.NewScanner(func() config.PhishingFilterConfig {
			return config.PhishingFilterConfig{Enabled: true, BlockThreshold: 0.9, FlagThreshold: 0.6}
		}))
	})

	rec := env.send(t, defaultAuth(), `{"to":"+905551234567","content":"Please share your OTP with our agent"}`)

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Len(t, env.calls, 0)
	assert.Equal(t, 1.0, testutil.ToFloat64(env.metrics.PolicyDeniedTotal.WithLabelValues("phishing")))
}

func TestSend_RejectedRequestDoesNotStrandHalfOpenProvider(t *testing.T) {
	env := newTestEnv(t, http.StatusOK, func(d *Deps) {
		d.Health = router.NewHealthTracker(1, 10*time.Millisecond)
		d.Filters = filter.NewChain(phishing.NewScanner(func() config.PhishingFilterConfig {
			return config.PhishingFilterConfig{Enabled: true, BlockThreshold: 0.9}
		}))
	})
	env.health.Record("iletimerkezi", types.Failure(adapters.IletiMerkeziName).AddError(types.SendingError{Code: "500"}))
	time.Sleep(20 * time.Millisecond)
	require.Equal(t, router.StateHalfOpen.String(), env.health.GetBreaker("iletimerkezi").Snapshot().State)

	rec := env.send(t, defaultAuth(), `{"to":"+905551234567","content":"Please share your OTP with our agent"}`)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = env.send(t, defaultAuth(), `{"to":"+905551234567","content":"Hello"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, router.StateClosed.String(), env.health.GetBreaker("iletimerkezi").Snapshot().State)
	assert.Len(t, env.calls, 1)
}

const senderPolicy = `
package sms.policy

import rego.v1

default allow := true

default reason := ""

allow := false if input.message.sender == "DEFAULT"

reason := "sender DEFAULT is blocked" if input.message.sender == "DEFAULT"
`

func TestSend_FiltersSeeProviderDefaultSender(t *testing.T) {
	eval := policy.NewEvaluator(func() config.PolicyFilterConfig {
		return config.PolicyFilterConfig{Enabled: true, EvaluationTimeout: time.Second}
	}, quietLogger)
	require.NoError(t, eval.LoadFromModules(map[string]string{"sender.rego": senderPolicy}))
	env := newTestEnv(t, http.StatusOK, func(d *Deps) {
		d.Filters = filter.NewChain(eval)
	})

	// No override: the provider's configured sender goes out and must be judged.
	rec := env.send(t, defaultAuth(), `{"to":"+905551234567","content":"Hello"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "sender DEFAULT is blocked")

	rec = env.send(t, defaultAuth(), `{"to":"+905551234567","content":"Hello","provider_data":{"orginator":"ACME"}}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, env.calls, 1)
}

func TestSend_RecipientThrottle(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	env := newTestEnv(t, http.StatusOK, func(d *Deps) {
		d.Limiter = ratelimit.NewLimiter(rdb)
		d.Quota = ratelimit.NewQuotaTracker(rdb)
	})
	env.cfg.RateLimit.RecipientLimit = 1
	env.cfg.RateLimit.RecipientWindow = time.Minute

	body := `{"to":"+905551234567","content":"Hello"}`
	require.Equal(t, http.StatusOK, env.send(t, defaultAuth(), body).Code)

	rec := env.send(t, defaultAuth(), body)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	// A different recipient is not throttled.
	assert.Equal(t, http.StatusOK, env.send(t, defaultAuth(), `{"to":"+905559876543","content":"Hello"}`).Code)

	// Successful sends count against the daily quota.
	res, err := ratelimit.NewQuotaTracker(rdb).Check(context.Background(), "key-1", 10)
	require.NoError(t, err)
	assert.Equal(t, int64(2), res.Used)
}

func TestListProviders(t *testing.T) {
	env := newTestEnv(t, http.StatusOK, nil)

	req := httptest.NewRequest(http.MethodGet, "/v1/providers", nil)
	req = req.WithContext(auth.ContextWithAuth(req.Context(), defaultAuth()))
	rec := httptest.NewRecorder()
	env.handler.ListProviders(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp providerListResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Data, 1)
	assert.Equal(t, "iletimerkezi", resp.Data[0].ID)
	assert.True(t, resp.Data[0].Default)
	assert.True(t, resp.Data[0].Available)
	assert.Equal(t, router.StateClosed.String(), resp.Data[0].State)

	restricted := defaultAuth()
	restricted.AllowedProviders = []string{"other"}
	req = httptest.NewRequest(http.MethodGet, "/v1/providers", nil)
	req = req.WithContext(auth.ContextWithAuth(req.Context(), restricted))
	rec = httptest.NewRecorder()
	env.handler.ListProviders(rec, req)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Empty(t, resp.Data)
}

type staticKeyStore struct {
	hash string
	meta *auth.KeyMetadata
}

func (s staticKeyStore) Lookup(_ context.Context, keyHash string) (*auth.KeyMetadata, error) {
	if keyHash == s.hash {
		return s.meta, nil
	}
	return nil, nil
}

func TestRoutes_EndToEnd(t *testing.T) {
	env := newTestEnv(t, http.StatusOK, nil)
	rawKey := "sms-test-abcdefghijklmnopqrstuvwxyz012345"
	store := staticKeyStore{hash: auth.HashKey(rawKey), meta: &auth.KeyMetadata{ID: "key-1", OrganizationID: "org-1"}}

	reg := prometheus.NewRegistry()
	limits := func() config.RateLimitConfig { return env.cfg.RateLimit }
	rl := ratelimit.Middleware(ratelimit.NewLimiter(nil), ratelimit.NewQuotaTracker(nil), limits, env.metrics, quietLogger)
	r := Routes(env.handler, auth.Middleware(store, quietLogger), rl, "/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	// Health is public.
	resp, err := http.Get(srv.URL + "/sms/v1/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, strings.HasPrefix(resp.Header.Get("X-Request-ID"), "req_"))

	// Metrics are public.
	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// Sends need a key.
	resp, err = http.Post(srv.URL+"/v1/sms/send", "application/json", strings.NewReader(`{"to":"+905551234567","content":"Hi"}`))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/v1/sms/send", bytes.NewBufferString(`{"to":"+905551234567","content":"Hi"}`))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+rawKey)
	req.Header.Set("X-Request-ID", "caller-id")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "caller-id", resp.Header.Get("X-Request-ID"))
	assert.NotEmpty(t, resp.Header.Get("X-RateLimit-Limit-Requests"))

	var sendResp SendResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&sendResp))
	assert.Equal(t, "caller-id", sendResp.RequestID)
	assert.True(t, sendResp.Result.IsSuccess())
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, http.StatusOK, nil)
	env.health.GetBreaker("iletimerkezi")

	rec := httptest.NewRecorder()
	env.handler.Health(rec, httptest.NewRequest(http.MethodGet, "/sms/v1/health", nil))

	var resp healthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp.Status)
	assert.Equal(t, "test", resp.Version)
	assert.Equal(t, router.StateClosed.String(), resp.Providers["iletimerkezi"])
}

func TestRequestID(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.True(t, strings.HasPrefix(seen, "req_"))
	assert.Equal(t, seen, rec.Header().Get("X-Request-ID"))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", strings.Repeat("x", 200))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.NotEqual(t, strings.Repeat("x", 200), seen, "oversized ids are replaced")
}
