// auth.go — JWT middleware для аутентификации.
// Токены HS256 выпускает сам tgvault (POST /api/v1/auth/login).
// Публичные endpoints (health, metrics, login, public) — без аутентификации.
package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	apierrors "github.com/bigkaa/tgvault/internal/api/errors"
)

// contextKey — тип для ключей контекста (избегаем коллизий).
type contextKey string

// ContextKeySubject — ключ для sub из JWT в контексте запроса.
const ContextKeySubject contextKey = "jwt_subject"

// Ошибки извлечения токена из заголовка.
var (
	ErrMissingAuthorization = errors.New("отсутствует заголовок Authorization")
	ErrMalformedBearer      = errors.New("неверный формат Authorization: ожидается Bearer <token>")
)

// JWTAuth — middleware для JWT-аутентификации с общим секретом.
type JWTAuth struct {
	secret    []byte
	issuer    string
	jwtLeeway time.Duration
	now       func() time.Time
	logger    *slog.Logger
}

// NewJWTAuth создаёт JWT middleware. issuer — ожидаемое значение iss.
func NewJWTAuth(secret []byte, issuer string, jwtLeeway time.Duration, logger *slog.Logger) *JWTAuth {
	return &JWTAuth{
		secret:    secret,
		issuer:    issuer,
		jwtLeeway: jwtLeeway,
		now:       time.Now,
		logger:    logger.With(slog.String("component", "jwt_auth")),
	}
}

// Validate проверяет подпись, exp/nbf и issuer токена и возвращает sub.
func (j *JWTAuth) Validate(tokenString string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return j.secret, nil
	},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuer(j.issuer),
		jwt.WithLeeway(j.jwtLeeway),
		jwt.WithTimeFunc(j.now),
	)
	if err != nil {
		return "", err
	}
	if !token.Valid {
		return "", jwt.ErrTokenSignatureInvalid
	}
	subject, err := claims.GetSubject()
	if err != nil {
		return "", err
	}
	if subject == "" {
		return "", jwt.ErrTokenInvalidSubject
	}
	return subject, nil
}

// BearerToken извлекает токен из заголовка Authorization.
func BearerToken(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", ErrMissingAuthorization
	}
	scheme, token, ok := strings.Cut(authHeader, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || token == "" {
		return "", ErrMalformedBearer
	}
	return token, nil
}

// Authenticate проверяет Bearer token запроса и возвращает контекст с sub.
func (j *JWTAuth) Authenticate(r *http.Request) (context.Context, error) {
	tokenString, err := BearerToken(r)
	if err != nil {
		return nil, err
	}
	subject, err := j.Validate(tokenString)
	if err != nil {
		j.logger.Debug("JWT валидация не пройдена",
			slog.String("error", err.Error()),
			slog.String("remote_addr", r.RemoteAddr),
		)
		return nil, err
	}
	return context.WithValue(r.Context(), ContextKeySubject, subject), nil
}

// Middleware возвращает HTTP middleware для JWT-аутентификации.
// Помещает sub в контекст запроса.
func (j *JWTAuth) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, err := j.Authenticate(r)
			switch {
			case errors.Is(err, ErrMissingAuthorization), errors.Is(err, ErrMalformedBearer):
				apierrors.Unauthorized(w, err.Error())
				return
			case err != nil:
				apierrors.Unauthorized(w, "Невалидный или просроченный токен")
				return
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// SubjectFromContext извлекает sub из контекста запроса.
// Возвращает пустую строку, если sub не найден.
func SubjectFromContext(ctx context.Context) string {
	subject, _ := ctx.Value(ContextKeySubject).(string)
	return subject
}
