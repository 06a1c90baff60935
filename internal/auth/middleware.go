package auth

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
)

type contextKey string

const callerKey contextKey = "caller_address"

// Middleware verifies the bearer token minted by the wallet/session layer.
// The sub claim carries the caller's wallet address; that identity is the
// only thing this service consumes from the session boundary.
func Middleware() func(http.Handler) http.Handler {
	issuer := os.Getenv("OIDC_ISSUER")
	if issuer == "" {
		panic("OIDC_ISSUER env var not set")
	}

	provider, err := oidc.NewProvider(context.Background(), issuer)
	if err != nil {
		panic(fmt.Sprintf("Failed to create OIDC provider: %v", err))
	}

	verifier := provider.Verifier(&oidc.Config{
		SkipClientIDCheck: true,
	})

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, "missing Authorization header", http.StatusUnauthorized)
				return
			}

			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				http.Error(w, "invalid Authorization header format", http.StatusUnauthorized)
				return
			}

			idToken, err := verifier.Verify(r.Context(), parts[1])
			if err != nil {
				http.Error(w, fmt.Sprintf("invalid token: %v", err), http.StatusUnauthorized)
				return
			}

			var claims struct {
				Sub string `json:"sub"`
			}
			if err := idToken.Claims(&claims); err != nil {
				http.Error(w, "failed to parse claims", http.StatusUnauthorized)
				return
			}
			if claims.Sub == "" {
				http.Error(w, "token has no subject", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), callerKey, claims.Sub)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// WithCaller returns a context carrying the caller identity the way
// Middleware sets it. Used by tests and internal callers that bypass HTTP.
func WithCaller(ctx context.Context, address string) context.Context {
	return context.WithValue(ctx, callerKey, address)
}

// Caller extracts the wallet address placed in the context by Middleware.
func Caller(ctx context.Context) string {
	if addr, ok := ctx.Value(callerKey).(string); ok {
		return addr
	}
	return ""
}
