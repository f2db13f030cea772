package gateway

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// Routes wires the handler into a chi router. authMW and rateMW guard the
// /v1 routes; metrics, when non-nil, is mounted at metricsPath.
func Routes(h *Handler, authMW, rateMW func(http.Handler) http.Handler, metricsPath string, metrics http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(RequestID)

	// Unauthenticated routes
	r.Get("/sms/v1/health", h.Health)
	if metrics != nil && metricsPath != "" {
		r.Method(http.MethodGet, metricsPath, metrics)
	}

	// Authenticated routes
	r.Group(func(r chi.Router) {
		r.Use(orPass(authMW))
		r.Get("/v1/providers", h.ListProviders)
		r.With(orPass(rateMW)).Post("/v1/sms/send", h.Send)
	})

	return r
}

func orPass(mw func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	if mw == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return mw
}
