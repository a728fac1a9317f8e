// auth.go — вход единственного администратора и выпуск JWT (HS256).
package service

import (
	"crypto/subtle"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// TokenIssuer — издатель токенов в claim iss.
const TokenIssuer = "tgvault"

// AuthService — сервис аутентификации администратора.
type AuthService struct {
	email    string
	password string
	secret   []byte
	ttl      time.Duration
	now      func() time.Time
	logger   *slog.Logger
}

// NewAuthService создаёт сервис аутентификации.
func NewAuthService(email, password string, secret []byte, ttl time.Duration, logger *slog.Logger) *AuthService {
	return &AuthService{
		email:    email,
		password: password,
		secret:   secret,
		ttl:      ttl,
		now:      time.Now,
		logger:   logger.With(slog.String("component", "auth_service")),
	}
}

// LoginResult — выданный токен.
type LoginResult struct {
	AccessToken string
	ExpiresAt   time.Time
}

// Login сверяет учётные данные с настроенными и выпускает токен.
func (s *AuthService) Login(email, password string) (*LoginResult, error) {
	if strings.TrimSpace(email) == "" {
		return nil, fieldError("email", "обязательное поле")
	}
	if password == "" {
		return nil, fieldError("password", "обязательное поле")
	}

	emailOK := subtle.ConstantTimeCompare([]byte(strings.ToLower(email)), []byte(strings.ToLower(s.email))) == 1
	passOK := subtle.ConstantTimeCompare([]byte(password), []byte(s.password)) == 1
	if !emailOK || !passOK {
		s.logger.Warn("Неудачная попытка входа", slog.String("email", email))
		return nil, ErrUnauthorized
	}

	now := s.now()
	expiresAt := now.Add(s.ttl)
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Issuer:    TokenIssuer,
		Subject:   s.email,
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	})
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return nil, fmt.Errorf("подпись токена: %w", err)
	}

	s.logger.Info("Администратор вошёл", slog.String("email", s.email))
	return &LoginResult{AccessToken: signed, ExpiresAt: expiresAt}, nil
}
