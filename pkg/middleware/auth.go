package middleware

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/Suhaibinator/SKernel/pkg/common"
	"go.uber.org/zap"
)

// ErrUnauthorized is the error raised when a request fails authentication.
// The default error filter answers it with 401.
var ErrUnauthorized = common.NewHTTPError(http.StatusUnauthorized, "Unauthorized")

// AuthProvider defines an interface for authentication providers.
// The package includes BasicAuthProvider, BearerTokenProvider and APIKeyProvider.
type AuthProvider interface {
	// Authenticate returns true if the request carries valid credentials.
	Authenticate(r *http.Request) bool
}

// AuthProviderFunc adapts a function to the AuthProvider interface.
type AuthProviderFunc func(r *http.Request) bool

// Authenticate calls f(r).
func (f AuthProviderFunc) Authenticate(r *http.Request) bool {
	return f(r)
}

// BasicAuthProvider provides HTTP Basic Authentication.
// It validates username and password credentials against a predefined map.
type BasicAuthProvider struct {
	Credentials map[string]string // username -> password
}

// Authenticate authenticates a request using HTTP Basic Authentication.
func (p *BasicAuthProvider) Authenticate(r *http.Request) bool {
	username, password, ok := r.BasicAuth()
	if !ok {
		return false
	}

	expectedPassword, exists := p.Credentials[username]
	if !exists {
		return false
	}

	return subtle.ConstantTimeCompare([]byte(password), []byte(expectedPassword)) == 1
}

// BearerTokenProvider provides Bearer Token Authentication.
// It can validate tokens against a predefined map or using a custom validator function.
type BearerTokenProvider struct {
	ValidTokens map[string]bool         // token -> valid
	Validator   func(token string) bool // optional token validator, takes precedence over ValidTokens
}

// Authenticate authenticates a request using Bearer Token Authentication.
func (p *BearerTokenProvider) Authenticate(r *http.Request) bool {
	token, ok := bearerToken(r)
	if !ok {
		return false
	}
	if p.Validator != nil {
		return p.Validator(token)
	}
	return p.ValidTokens[token]
}

// APIKeyProvider provides API Key Authentication.
// It can validate API keys provided in a header or query parameter.
type APIKeyProvider struct {
	ValidKeys map[string]bool // key -> valid
	Header    string          // header name (e.g., "X-API-Key")
	Query     string          // query parameter name (e.g., "api_key")
}

// Authenticate authenticates a request using API Key Authentication.
// The header is checked first, then the query parameter.
func (p *APIKeyProvider) Authenticate(r *http.Request) bool {
	key := apiKey(r, p.Header, p.Query)
	return key != "" && p.ValidKeys[key]
}

func bearerToken(r *http.Request) (string, bool) {
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", false
	}
	token := strings.TrimPrefix(authHeader, "Bearer ")
	return token, token != ""
}

func apiKey(r *http.Request, header, query string) string {
	if header != "" {
		if key := r.Header.Get(header); key != "" {
			return key
		}
	}
	if query != "" {
		return r.URL.Query().Get(query)
	}
	return ""
}

// Authentication rejects requests the provider does not authenticate with ErrUnauthorized.
// The name identifies the middleware in logs and metrics.
func Authentication(name string, provider AuthProvider, logger *zap.Logger) *common.Descriptor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return common.Func(name, func(w http.ResponseWriter, r *http.Request, next common.Next) error {
		if !provider.Authenticate(r) {
			logger.Warn("Authentication failed",
				zap.String("middleware", name),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("remote_addr", r.RemoteAddr),
			)
			if _, basic := provider.(*BasicAuthProvider); basic {
				w.Header().Set("WWW-Authenticate", `Basic realm="restricted"`)
			}
			return ErrUnauthorized
		}
		return next(w, r)
	})
}

// BasicAuth authenticates requests with HTTP Basic Authentication.
func BasicAuth(credentials map[string]string, logger *zap.Logger) *common.Descriptor {
	return Authentication("basic_auth", &BasicAuthProvider{Credentials: credentials}, logger)
}

// BearerAuth authenticates requests carrying one of the valid bearer tokens.
func BearerAuth(validTokens map[string]bool, logger *zap.Logger) *common.Descriptor {
	return Authentication("bearer_auth", &BearerTokenProvider{ValidTokens: validTokens}, logger)
}

// BearerAuthFunc authenticates bearer tokens with a custom validator,
// such as JWT validation or a call to an external authentication service.
func BearerAuthFunc(validator func(token string) bool, logger *zap.Logger) *common.Descriptor {
	return Authentication("bearer_auth", &BearerTokenProvider{Validator: validator}, logger)
}

// APIKeyAuth authenticates requests carrying a valid API key in the header or query parameter.
func APIKeyAuth(validKeys map[string]bool, header, query string, logger *zap.Logger) *common.Descriptor {
	return Authentication("api_key_auth", &APIKeyProvider{ValidKeys: validKeys, Header: header, Query: query}, logger)
}

// UserAuthProvider defines an interface for authentication providers that return a user object.
type UserAuthProvider[T any] interface {
	// AuthenticateUser returns the authenticated user, or an error if the request is not authenticated.
	AuthenticateUser(r *http.Request) (*T, error)
}

// BearerTokenUserAuthProvider provides Bearer Token Authentication with user object return.
type BearerTokenUserAuthProvider[T any] struct {
	GetUserFunc func(token string) (*T, error)
}

// AuthenticateUser authenticates a request using Bearer Token Authentication.
func (p *BearerTokenUserAuthProvider[T]) AuthenticateUser(r *http.Request) (*T, error) {
	token, ok := bearerToken(r)
	if !ok {
		return nil, errors.New("no bearer token")
	}
	return p.GetUserFunc(token)
}

// APIKeyUserAuthProvider provides API Key Authentication with user object return.
type APIKeyUserAuthProvider[T any] struct {
	GetUserFunc func(key string) (*T, error)
	Header      string // header name (e.g., "X-API-Key")
	Query       string // query parameter name (e.g., "api_key")
}

// AuthenticateUser authenticates a request using API Key Authentication.
func (p *APIKeyUserAuthProvider[T]) AuthenticateUser(r *http.Request) (*T, error) {
	key := apiKey(r, p.Header, p.Query)
	if key == "" {
		return nil, errors.New("no API key found")
	}
	return p.GetUserFunc(key)
}

// userKey is the context key of the authenticated user of type T.
type userKey[T any] struct{}

// AuthenticationWithUser authenticates requests with provider and stores the user in the
// request context, where GetUser and the user rate limit strategy find it.
func AuthenticationWithUser[T any](name string, provider UserAuthProvider[T], logger *zap.Logger) *common.Descriptor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return common.Func(name, func(w http.ResponseWriter, r *http.Request, next common.Next) error {
		user, err := provider.AuthenticateUser(r)
		if err != nil || user == nil {
			logger.Warn("Authentication failed",
				zap.String("middleware", name),
				zap.Error(err),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.String("remote_addr", r.RemoteAddr),
			)
			return ErrUnauthorized
		}
		return next(w, r.WithContext(WithUser(r.Context(), user)))
	})
}

// WithUser returns a copy of ctx carrying user.
func WithUser[T any](ctx context.Context, user *T) context.Context {
	return context.WithValue(ctx, userKey[T]{}, user)
}

// GetUser retrieves the user from the request context.
// Returns nil if no user is found in the context.
func GetUser[T any](r *http.Request) *T {
	user, _ := r.Context().Value(userKey[T]{}).(*T)
	return user
}

// userIDKey is the context key of the authenticated user's ID, used by the "user"
// rate limit strategy.
type userIDKey struct{}

// WithUserID returns a copy of ctx carrying the authenticated user's ID.
func WithUserID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, userIDKey{}, id)
}

// GetUserID returns the authenticated user's ID, or an empty string.
func GetUserID(r *http.Request) string {
	id, _ := r.Context().Value(userIDKey{}).(string)
	return id
}
