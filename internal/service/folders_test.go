package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFolderService_CreateAndList(t *testing.T) {
	repo := &memFolders{}
	svc := NewFolderService(repo, testLogger())
	ctx := context.Background()

	root, err := svc.Create(ctx, "  photos ", nil)
	require.NoError(t, err)
	assert.Equal(t, "photos", root.Name)

	_, err = svc.Create(ctx, "2024", &root.ID)
	require.NoError(t, err)

	roots, err := svc.List(ctx, nil)
	require.NoError(t, err)
	require.Len(t, roots, 1)

	children, err := svc.List(ctx, &root.ID)
	require.NoError(t, err)
	require.Len(t, children, 1)
	assert.Equal(t, "2024", children[0].Name)
}

func TestFolderService_Validation(t *testing.T) {
	svc := NewFolderService(&memFolders{}, testLogger())
	ctx := context.Background()

	var fe *FieldError
	_, err := svc.Create(ctx, "", nil)
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "name", fe.Field)

	_, err = svc.Create(ctx, strings.Repeat("я", 256), nil)
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "name", fe.Field)

	missing := "missing"
	_, err = svc.Create(ctx, "x", &missing)
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "parent_id", fe.Field)

	_, err = svc.List(ctx, &missing)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestFolderService_RepositoryError(t *testing.T) {
	repo := &memFolders{FailGet: errors.New("connection reset")}
	svc := NewFolderService(repo, testLogger())
	id := "x"

	_, err := svc.List(context.Background(), &id)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestAuthService_Login(t *testing.T) {
	secret := []byte(strings.Repeat("k", 32))
	svc := NewAuthService("admin@example.com", "s3cret", secret, time.Hour, testLogger())
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return fixed }

	res, err := svc.Login("Admin@Example.com", "s3cret")
	require.NoError(t, err)
	assert.Equal(t, fixed.Add(time.Hour), res.ExpiresAt)

	claims := &jwt.RegisteredClaims{}
	_, err = jwt.ParseWithClaims(res.AccessToken, claims, func(*jwt.Token) (any, error) { return secret, nil },
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithTimeFunc(func() time.Time { return fixed.Add(time.Minute) }),
	)
	require.NoError(t, err)
	assert.Equal(t, "admin@example.com", claims.Subject)
	assert.Equal(t, TokenIssuer, claims.Issuer)
}

func TestAuthService_LoginRejected(t *testing.T) {
	svc := NewAuthService("admin@example.com", "s3cret", []byte(strings.Repeat("k", 32)), time.Hour, testLogger())

	_, err := svc.Login("admin@example.com", "wrong")
	require.ErrorIs(t, err, ErrUnauthorized)
	_, err = svc.Login("other@example.com", "s3cret")
	require.ErrorIs(t, err, ErrUnauthorized)

	var fe *FieldError
	_, err = svc.Login("", "x")
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "email", fe.Field)
	_, err = svc.Login("a@b", "")
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "password", fe.Field)
}
