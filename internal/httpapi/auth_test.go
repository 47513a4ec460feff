package httpapi

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"dukapos/backend/internal/domain"
)

type userStoreStub struct {
	mu      sync.Mutex
	users   map[string]domain.UserAccount
	updates int
}

func (s *userStoreStub) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.users == nil {
		s.users = make(map[string]domain.UserAccount)
	}
	s.users[user.Username] = user
	return nil
}

func (s *userStoreStub) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.UserAccount, 0, len(s.users))
	for _, user := range s.users {
		out = append(out, user)
	}
	return out, nil
}

func (s *userStoreStub) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	user := s.users[username]
	user.Password = password
	s.users[username] = user
	s.updates++
	return nil
}

func TestAuthManagerUpgradesLegacyPlainPassword(t *testing.T) {
	store := &userStoreStub{
		users: map[string]domain.UserAccount{
			"admin": {
				Username:  "admin",
				Password:  "admin123",
				Role:      domain.RoleAdmin,
				ShopID:    "main-shop",
				Active:    true,
				CreatedAt: time.Now().UTC(),
			},
		},
	}

	manager := NewAuthManager("test-secret", time.Hour, "main-shop", store)
	if _, err := manager.Login(context.Background(), domain.LoginRequest{Username: "admin", Password: "admin123"}); err != nil {
		t.Fatalf("login failed: %v", err)
	}

	users, err := store.ListUsers(context.Background())
	if err != nil {
		t.Fatalf("list users failed: %v", err)
	}
	if len(users) != 1 {
		t.Fatalf("expected 1 user, got %d", len(users))
	}
	if !strings.HasPrefix(users[0].Password, "$2") {
		t.Fatalf("expected bcrypt password hash, got %s", users[0].Password)
	}
	if store.updates == 0 {
		t.Fatalf("expected the upgraded hash to be written back")
	}
}

func TestLoginFallsBackToDefaultShop(t *testing.T) {
	store := &userStoreStub{}
	manager := NewAuthManager("test-secret", time.Hour, "main-shop", store)

	hash, err := hashPassword("pass1234")
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	_ = store.CreateUser(context.Background(), domain.UserAccount{
		Username: "otieno", Password: hash, Role: domain.RoleCashier, Active: true,
	})

	resp, err := manager.Login(context.Background(), domain.LoginRequest{Username: "  Otieno ", Password: "pass1234"})
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if resp.ShopID != "main-shop" {
		t.Fatalf("expected default shop, got %q", resp.ShopID)
	}
}

func TestLoginRejectsInactiveAccount(t *testing.T) {
	hash, err := hashPassword("pass1234")
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	store := &userStoreStub{users: map[string]domain.UserAccount{
		"akinyi": {Username: "akinyi", Password: hash, Role: domain.RoleCashier, Active: false},
	}}
	manager := NewAuthManager("test-secret", time.Hour, "main-shop", store)

	if _, err := manager.Login(context.Background(), domain.LoginRequest{Username: "akinyi", Password: "pass1234"}); err == nil {
		t.Fatalf("expected inactive account to be rejected")
	}
}

func TestCreateUserStoresPasswordHash(t *testing.T) {
	store := &userStoreStub{users: map[string]domain.UserAccount{}}
	manager := NewAuthManager("test-secret", time.Hour, "main-shop", store)

	user, err := manager.CreateUser(context.Background(), domain.UserCreateRequest{
		Username: "Kamau",
		Password: "pass1234",
		ShopID:   "branch-2",
	})
	if err != nil {
		t.Fatalf("create user failed: %v", err)
	}
	if user.Username != "kamau" || user.Role != domain.RoleCashier || user.ShopID != "branch-2" {
		t.Fatalf("unexpected user view: %+v", user)
	}

	saved := store.users["kamau"]
	if saved.Password == "pass1234" || !strings.HasPrefix(saved.Password, "$2") {
		t.Fatalf("expected bcrypt hash to be stored, got %s", saved.Password)
	}

	resp, err := manager.Login(context.Background(), domain.LoginRequest{Username: "kamau", Password: "pass1234"})
	if err != nil {
		t.Fatalf("login with created user failed: %v", err)
	}
	actor, err := manager.ParseToken(resp.AccessToken)
	if err != nil {
		t.Fatalf("parse token: %v", err)
	}
	if actor.ShopID != "branch-2" || actor.Role != domain.RoleCashier {
		t.Fatalf("unexpected actor: %+v", actor)
	}

	if _, err := manager.CreateUser(context.Background(), domain.UserCreateRequest{Username: "kamau", Password: "other123"}); err == nil {
		t.Fatalf("expected duplicate username to be rejected")
	}
	if _, err := manager.CreateUser(context.Background(), domain.UserCreateRequest{Username: "mwangi", Password: "pass1234", Role: "owner"}); err == nil {
		t.Fatalf("expected unknown role to be rejected")
	}

	users := manager.ListUsers(context.Background())
	if len(users) != 1 || users[0].Username != "kamau" {
		t.Fatalf("unexpected user list: %+v", users)
	}
}

func TestParseTokenRejectsForeignSecret(t *testing.T) {
	issuer := NewAuthManager("secret-a", time.Hour, "main-shop", nil)
	verifier := NewAuthManager("secret-b", time.Hour, "main-shop", nil)

	token, err := issuer.sign("admin", domain.RoleAdmin, "main-shop", time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := verifier.ParseToken(token); err == nil {
		t.Fatalf("expected token signed with another secret to be rejected")
	}

	expired, err := issuer.sign("admin", domain.RoleAdmin, "main-shop", time.Now().Add(-time.Minute))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := issuer.ParseToken(expired); err == nil {
		t.Fatalf("expected expired token to be rejected")
	}
}
