// Package vendorkit holds the small pieces of chi middleware shared by
// every fake vendor service: CORS, request body caps, HEAD→GET
// adaptation, namespace-header extraction, and a JWT-based stand-in for
// vendor auth. None of this aims at production-grade auth (spec
// Non-goals) — it is just enough to make 401/403 behavior observable in
// tests.
package vendorkit

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/cors"
	"github.com/golang-jwt/jwt/v5"
)

// DefaultNamespaceHeader is the header a client uses to target a
// namespace. Services may configure a different name.
const DefaultNamespaceHeader = "X-DoubleAgent-Namespace"

// DefaultRequestIDHeader is the header idempotency eligibility keys off.
const DefaultRequestIDHeader = "X-Request-Id"

type namespaceKey struct{}
type requestIDKey struct{}

// CORS returns a permissive CORS middleware suitable for a local fake
// server exercised by SDKs and browser-based test harnesses.
func CORS() func(http.Handler) http.Handler {
	return cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "HEAD", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: false,
		MaxAge:           300,
	})
}

// MaxBody caps every request body to maxBytes regardless of content
// type, generalizing the teacher's form-only MaxFormBody middleware to
// every vendor route.
func MaxBody(maxBytes int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
			next.ServeHTTP(w, r)
		})
	}
}

// HeadToGet converts HEAD requests to GET so routes registered with
// r.Get() respond 200 rather than 405. net/http strips the body for
// HEAD responses automatically.
func HeadToGet(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			r.Method = http.MethodGet
		}
		next.ServeHTTP(w, r)
	})
}

// WithNamespace extracts the namespace header into the request context
// as-is: an absent header is stored as "", and handlers substitute
// state.DefaultNamespace themselves.
func WithNamespace(headerName string) func(http.Handler) http.Handler {
	if headerName == "" {
		headerName = DefaultNamespaceHeader
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ns := r.Header.Get(headerName)
			ctx := context.WithValue(r.Context(), namespaceKey{}, ns)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Namespace reads the namespace set by WithNamespace, or "" if absent.
func Namespace(ctx context.Context) string {
	ns, _ := ctx.Value(namespaceKey{}).(string)
	return ns
}

// WithRequestID extracts the request-id header into the request
// context for idempotency eligibility checks.
func WithRequestID(headerName string) func(http.Handler) http.Handler {
	if headerName == "" {
		headerName = DefaultRequestIDHeader
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(headerName)
			ctx := context.WithValue(r.Context(), requestIDKey{}, id)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequestID reads the request-id set by WithRequestID, or "" if absent.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// vendorClaims is a minimal claim set for the example fake's stand-in
// vendor auth: just enough to prove a Bearer token round-trips.
type vendorClaims struct {
	jwt.RegisteredClaims
	Scope string `json:"scope,omitempty"`
}

// IssueToken signs a short-lived vendor-shaped bearer token for tests
// to present on subsequent requests.
func IssueToken(secret []byte, subject, scope string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := vendorClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Scope: scope,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

// RequireBearer rejects requests without a valid Bearer token, pinning
// the signing method to HS256 to avoid algorithm-confusion attacks.
// Control-plane routes must not be wrapped with this middleware (spec
// §4.3 policy: control-plane bypasses vendor auth).
func RequireBearer(secret []byte) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if !strings.HasPrefix(header, "Bearer ") {
				http.Error(w, "missing bearer token", http.StatusUnauthorized)
				return
			}
			tokenStr := strings.TrimPrefix(header, "Bearer ")

			_, err := jwt.ParseWithClaims(tokenStr, &vendorClaims{}, func(t *jwt.Token) (any, error) {
				if t.Method != jwt.SigningMethodHS256 {
					return nil, jwt.ErrTokenSignatureInvalid
				}
				return secret, nil
			})
			if err != nil {
				http.Error(w, "invalid bearer token", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
