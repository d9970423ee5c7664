package auth

import (
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"log/slog"

	"github.com/harbornex/harbor/internal/domain"
	"github.com/harbornex/harbor/internal/repository"
	"github.com/harbornex/harbor/pkg/config"
)

type fakeUserRepo struct {
	mu    sync.Mutex
	users map[string]domain.User
}

func newFakeUserRepo() *fakeUserRepo {
	return &fakeUserRepo{users: make(map[string]domain.User)}
}

func (f *fakeUserRepo) CreateUser(_ context.Context, user *domain.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.users {
		if existing.Email == user.Email {
			return repository.ErrConflict
		}
	}
	f.users[user.ID] = *user
	return nil
}

func (f *fakeUserRepo) GetUserByEmail(_ context.Context, email string) (*domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, user := range f.users {
		if user.Email == email {
			copied := user
			return &copied, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeUserRepo) GetUserByID(_ context.Context, id string) (*domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	copied := user
	return &copied, nil
}

func (f *fakeUserRepo) GetUserByAPIKey(_ context.Context, apiKey string) (*domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, user := range f.users {
		if user.APIKey == apiKey {
			copied := user
			return &copied, nil
		}
	}
	return nil, repository.ErrNotFound
}

func newTestService(repo *fakeUserRepo) Service {
	logger := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug}))
	cfg := config.APIConfig{
		JWTSecret:       "test-jwt-secret",
		AccessTokenTTL:  15 * time.Minute,
		RefreshTokenTTL: 24 * time.Hour,
	}
	return New(repo, logger, cfg)
}

func TestSignupIssuesAPIKeyAndTokens(t *testing.T) {
	svc := newTestService(newFakeUserRepo())

	user, tokens, err := svc.Signup(context.Background(), "Dev@Example.COM", "hunter22")
	if err != nil {
		t.Fatalf("Signup returned error: %v", err)
	}
	if user.Email != "dev@example.com" {
		t.Fatalf("email not normalized: %q", user.Email)
	}
	if !strings.HasPrefix(user.APIKey, "hbr_") {
		t.Fatalf("unexpected API key format %q", user.APIKey)
	}
	if string(user.PasswordHash) == "hunter22" {
		t.Fatalf("password stored in plaintext")
	}
	if tokens.AccessToken == "" || tokens.RefreshToken == "" {
		t.Fatalf("tokens missing: %+v", tokens)
	}
}

func TestSignupDuplicateEmailConflicts(t *testing.T) {
	repo := newFakeUserRepo()
	svc := newTestService(repo)

	if _, _, err := svc.Signup(context.Background(), "dev@example.com", "hunter22"); err != nil {
		t.Fatalf("Signup returned error: %v", err)
	}
	if _, _, err := svc.Signup(context.Background(), "dev@example.com", "other-pass"); err == nil {
		t.Fatalf("duplicate signup succeeded")
	}
}

func TestLoginRoundTrip(t *testing.T) {
	repo := newFakeUserRepo()
	svc := newTestService(repo)

	created, _, err := svc.Signup(context.Background(), "dev@example.com", "hunter22")
	if err != nil {
		t.Fatalf("Signup returned error: %v", err)
	}
	user, tokens, err := svc.Login(context.Background(), "dev@example.com", "hunter22")
	if err != nil {
		t.Fatalf("Login returned error: %v", err)
	}
	if user.ID != created.ID {
		t.Fatalf("login resolved wrong user")
	}
	if tokens.AccessToken == "" {
		t.Fatalf("login issued no access token")
	}
}

func TestLoginWrongPassword(t *testing.T) {
	repo := newFakeUserRepo()
	svc := newTestService(repo)

	if _, _, err := svc.Signup(context.Background(), "dev@example.com", "hunter22"); err != nil {
		t.Fatalf("Signup returned error: %v", err)
	}
	if _, _, err := svc.Login(context.Background(), "dev@example.com", "wrong"); err == nil {
		t.Fatalf("login with wrong password succeeded")
	}
}

func TestAuthorizeRoundTrip(t *testing.T) {
	repo := newFakeUserRepo()
	svc := newTestService(repo)

	created, tokens, err := svc.Signup(context.Background(), "dev@example.com", "hunter22")
	if err != nil {
		t.Fatalf("Signup returned error: %v", err)
	}
	user, err := svc.Authorize(context.Background(), tokens.AccessToken)
	if err != nil {
		t.Fatalf("Authorize returned error: %v", err)
	}
	if user.ID != created.ID {
		t.Fatalf("token resolved wrong user")
	}
	if _, err := svc.Authorize(context.Background(), "not-a-token"); err == nil {
		t.Fatalf("garbage token authorized")
	}
}

func TestAuthorizeAPIKey(t *testing.T) {
	repo := newFakeUserRepo()
	svc := newTestService(repo)

	created, _, err := svc.Signup(context.Background(), "dev@example.com", "hunter22")
	if err != nil {
		t.Fatalf("Signup returned error: %v", err)
	}
	user, err := svc.AuthorizeAPIKey(context.Background(), " "+created.APIKey+" ")
	if err != nil {
		t.Fatalf("AuthorizeAPIKey returned error: %v", err)
	}
	if user.ID != created.ID {
		t.Fatalf("api key resolved wrong user")
	}
	if _, err := svc.AuthorizeAPIKey(context.Background(), "hbr_bogus"); err == nil {
		t.Fatalf("bogus api key authorized")
	}
}
