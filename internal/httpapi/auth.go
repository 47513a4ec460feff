package httpapi

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"dukapos/backend/internal/domain"
	"dukapos/backend/internal/logger"
)

var errInvalidCredentials = errors.New("invalid credentials")

type AuthManager struct {
	mu            sync.RWMutex
	secret        []byte
	tokenTTL      time.Duration
	defaultShopID string
	userStore     UserStore
	users         map[string]credential
}

type UserStore interface {
	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}

type credential struct {
	password string
	role     string
	shopID   string
	active   bool
	created  time.Time
}

type sessionClaims struct {
	jwtlib.RegisteredClaims
	Role string `json:"role"`
	Shop string `json:"shop"`
}

func NewAuthManager(secret string, tokenTTL time.Duration, defaultShopID string, userStore UserStore) *AuthManager {
	if secret == "" {
		secret = "dev-change-me"
	}
	if tokenTTL <= 0 {
		tokenTTL = 8 * time.Hour
	}
	if defaultShopID == "" {
		defaultShopID = "main-shop"
	}

	manager := &AuthManager{
		secret:        []byte(secret),
		tokenTTL:      tokenTTL,
		defaultShopID: defaultShopID,
		userStore:     userStore,
		users:         make(map[string]credential),
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	manager.bootstrapUsers(ctx)
	return manager
}

func (a *AuthManager) Login(ctx context.Context, req domain.LoginRequest) (domain.LoginResponse, error) {
	a.bootstrapUsers(ctx)
	username := strings.ToLower(strings.TrimSpace(req.Username))
	a.mu.RLock()
	cred, ok := a.users[username]
	a.mu.RUnlock()
	if !ok {
		return domain.LoginResponse{}, errInvalidCredentials
	}
	if !verifyPassword(cred.password, req.Password) {
		return domain.LoginResponse{}, errInvalidCredentials
	}
	if !cred.active {
		return domain.LoginResponse{}, errors.New("account is inactive")
	}

	shopID := cred.shopID
	if shopID == "" {
		shopID = a.defaultShopID
	}
	expiresAt := time.Now().UTC().Add(a.tokenTTL)
	token, err := a.sign(username, cred.role, shopID, expiresAt)
	if err != nil {
		return domain.LoginResponse{}, err
	}

	return domain.LoginResponse{
		AccessToken: token,
		Role:        cred.role,
		ShopID:      shopID,
		ExpiresAt:   expiresAt.Format(time.RFC3339),
	}, nil
}

func (a *AuthManager) ParseToken(tokenStr string) (domain.Actor, error) {
	claims := &sessionClaims{}
	token, err := jwtlib.ParseWithClaims(tokenStr, claims, func(t *jwtlib.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, jwtlib.WithValidMethods([]string{"HS256"}))
	if err != nil || !token.Valid {
		return domain.Actor{}, errors.New("invalid or expired token")
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return domain.Actor{}, errors.New("invalid token subject")
	}
	return domain.Actor{Username: sub, Role: claims.Role, ShopID: claims.Shop}, nil
}

func (a *AuthManager) sign(username, role, shopID string, expiresAt time.Time) (string, error) {
	claims := sessionClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   username,
			IssuedAt:  jwtlib.NewNumericDate(time.Now().UTC()),
			ExpiresAt: jwtlib.NewNumericDate(expiresAt),
			Issuer:    "dukapos",
		},
		Role: role,
		Shop: shopID,
	}
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

func (a *AuthManager) CreateUser(ctx context.Context, req domain.UserCreateRequest) (domain.UserView, error) {
	a.bootstrapUsers(ctx)
	username := strings.ToLower(strings.TrimSpace(req.Username))
	if len(username) < 4 {
		return domain.UserView{}, fmt.Errorf("username must be at least 4 characters")
	}
	if strings.ContainsAny(username, " \t\r\n") {
		return domain.UserView{}, fmt.Errorf("username must not contain spaces")
	}
	if len(req.Password) < 6 {
		return domain.UserView{}, fmt.Errorf("password must be at least 6 characters")
	}
	role := strings.ToLower(strings.TrimSpace(req.Role))
	if role == "" {
		role = domain.RoleCashier
	}
	if role != domain.RoleCashier && role != domain.RoleAdmin {
		return domain.UserView{}, fmt.Errorf("role must be cashier or admin")
	}
	shopID := strings.TrimSpace(req.ShopID)
	if shopID == "" {
		shopID = a.defaultShopID
	}

	a.mu.RLock()
	_, exists := a.users[username]
	a.mu.RUnlock()
	if exists {
		return domain.UserView{}, fmt.Errorf("username already exists")
	}

	now := time.Now().UTC()
	passwordHash, err := hashPassword(req.Password)
	if err != nil {
		return domain.UserView{}, fmt.Errorf("failed to hash password")
	}
	if a.userStore != nil {
		if err := a.userStore.CreateUser(ctx, domain.UserAccount{
			Username:  username,
			Password:  passwordHash,
			Role:      role,
			ShopID:    shopID,
			Active:    true,
			CreatedAt: now,
		}); err != nil {
			return domain.UserView{}, err
		}
	}

	a.mu.Lock()
	a.users[username] = credential{password: passwordHash, role: role, shopID: shopID, active: true, created: now}
	a.mu.Unlock()

	return domain.UserView{Username: username, Role: role, ShopID: shopID, Active: true, CreatedAt: now}, nil
}

func (a *AuthManager) ListUsers(ctx context.Context) []domain.UserView {
	a.bootstrapUsers(ctx)
	a.mu.RLock()
	result := make([]domain.UserView, 0, len(a.users))
	for username, user := range a.users {
		result = append(result, domain.UserView{
			Username:  username,
			Role:      user.role,
			ShopID:    user.shopID,
			Active:    user.active,
			CreatedAt: user.created,
		})
	}
	a.mu.RUnlock()
	sort.Slice(result, func(i, j int) bool {
		return result[i].Username < result[j].Username
	})
	return result
}

// bootstrapUsers refreshes the credential cache from the user store and
// rehashes any plain-text password it finds.
func (a *AuthManager) bootstrapUsers(ctx context.Context) {
	if a.userStore == nil {
		return
	}

	users, err := a.userStore.ListUsers(ctx)
	if err != nil {
		logger.Warn(ctx).Err(err).Msg("failed to load user accounts")
		return
	}
	if len(users) == 0 {
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	for _, user := range users {
		username := strings.ToLower(strings.TrimSpace(user.Username))
		if username == "" {
			continue
		}
		password := user.Password
		if !isPasswordHash(password) {
			hashed, err := hashPassword(password)
			if err == nil {
				password = hashed
				if err := a.userStore.UpdateUserPassword(ctx, username, hashed); err != nil {
					logger.Warn(ctx).Err(err).Str("username", username).Msg("failed to upgrade stored password")
				}
			}
		}
		a.users[username] = credential{
			password: password,
			role:     user.Role,
			shopID:   user.ShopID,
			active:   user.Active,
			created:  user.CreatedAt,
		}
	}
}

func verifyPassword(stored string, input string) bool {
	if stored == "" || strings.TrimSpace(input) == "" || !isPasswordHash(stored) {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(stored), []byte(input)) == nil
}

func hashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}

func isPasswordHash(value string) bool {
	return strings.HasPrefix(value, "$2a$") || strings.HasPrefix(value, "$2b$") || strings.HasPrefix(value, "$2y$")
}
