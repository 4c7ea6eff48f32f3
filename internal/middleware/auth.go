package middleware

import (
	"errors"
	"net"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"submission_service/internal/domain"
	"submission_service/pkg/ctxdata"
	"submission_service/pkg/logging"
)

// Claims is the access token payload issued by the user service.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

func NewAuthMiddleware(secret []byte) func(http.Handler) http.Handler {
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	keyFunc := func(*jwt.Token) (interface{}, error) { return secret, nil }

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			header := r.Header.Get("Authorization")
			raw, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || raw == "" {
				if logger, ok := logging.GetFromContext(ctx); ok {
					logger.Info(ctx, "no bearer token", zap.String("path", r.URL.Path))
				}
				w.WriteHeader(http.StatusUnauthorized)
				return
			}

			var claims Claims
			if _, err := parser.ParseWithClaims(raw, &claims, keyFunc); err != nil {
				if logger, ok := logging.GetFromContext(ctx); ok {
					logger.Info(ctx, "token rejected", zap.String("path", r.URL.Path), zap.Error(err))
				}
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			if err := claims.check(); err != nil {
				if logger, ok := logging.GetFromContext(ctx); ok {
					logger.Info(ctx, "token claims rejected", zap.String("path", r.URL.Path), zap.Error(err))
				}
				w.WriteHeader(http.StatusUnauthorized)
				return
			}

			ctx = ctxdata.WithPrincipal(ctx, claims.Subject, claims.Role)
			ctx = ctxdata.WithClient(ctx, ctxdata.Client{IP: clientIP(r), UserAgent: r.UserAgent()})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func (c Claims) check() error {
	if _, err := uuid.Parse(c.Subject); err != nil {
		return errors.New("subject is not a user id")
	}
	switch domain.UserRole(c.Role) {
	case domain.UserRoleStudent, domain.UserRoleFaculty, domain.UserRoleAdmin:
		return nil
	default:
		return errors.New("unknown role")
	}
}

// RequireRole lets through only the listed roles. It runs after NewAuthMiddleware.
func RequireRole(roles ...domain.UserRole) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			role, _ := ctxdata.GetUserRole(r.Context())
			for _, allowed := range roles {
				if domain.UserRole(role) == allowed {
					next.ServeHTTP(w, r)
					return
				}
			}
			w.WriteHeader(http.StatusForbidden)
		})
	}
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
