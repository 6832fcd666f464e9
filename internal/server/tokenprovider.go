package server

import (
	"context"
	"errors"

	"github.com/c2hq/backend/internal/credentials"
	"github.com/c2hq/backend/internal/ingest"
)

type fallbackTokenContextKey struct{}

// ContextWithFallbackToken attaches a request-scoped provider token discovered
// via the defensive extraction path.
func ContextWithFallbackToken(ctx context.Context, token string) context.Context {
	if token == "" {
		return ctx
	}
	return context.WithValue(ctx, fallbackTokenContextKey{}, token)
}

func fallbackTokenFromContext(ctx context.Context) (string, bool) {
	token, ok := ctx.Value(fallbackTokenContextKey{}).(string)
	return token, ok && token != ""
}

// FallbackTokenProvider decorates the authoritative credential-backed token
// provider with the request-scoped fallback: when no stored credential can
// produce a token, a token the auth provider surfaced on the request itself
// is used instead. The stored-credential flow always wins when it succeeds.
type FallbackTokenProvider struct {
	tokens ingest.TokenProvider
}

// NewFallbackTokenProvider wraps the authoritative provider.
func NewFallbackTokenProvider(tokens ingest.TokenProvider) *FallbackTokenProvider {
	return &FallbackTokenProvider{tokens: tokens}
}

// GetValidAccessToken implements ingest.TokenProvider.
func (p *FallbackTokenProvider) GetValidAccessToken(ctx context.Context, userID string) (string, error) {
	token, err := p.tokens.GetValidAccessToken(ctx, userID)
	if err == nil {
		return token, nil
	}
	if errors.Is(err, credentials.ErrNotConnected) || errors.Is(err, credentials.ErrReauthRequired) {
		if fallback, ok := fallbackTokenFromContext(ctx); ok {
			return fallback, nil
		}
	}
	return "", err
}
