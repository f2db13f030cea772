package auth

import (
	"context"
	"slices"
)

type contextKey string

const authContextKey contextKey = "smsgw_auth"

// AuthInfo holds authenticated identity information extracted from an API key.
type AuthInfo struct {
	KeyID            string
	OrganizationID   string
	AllowedProviders []string
	RPMLimit         *int
	DailyQuota       *int
	DefaultSender    string
}

// AllowsProvider reports whether the key may send through provider. An empty
// allow-list permits every provider.
func (a *AuthInfo) AllowsProvider(provider string) bool {
	if len(a.AllowedProviders) == 0 {
		return true
	}
	return slices.Contains(a.AllowedProviders, provider)
}

func ContextWithAuth(ctx context.Context, info *AuthInfo) context.Context {
	return context.WithValue(ctx, authContextKey, info)
}

func AuthFromContext(ctx context.Context) (*AuthInfo, bool) {
	info, ok := ctx.Value(authContextKey).(*AuthInfo)
	return info, ok
}
