package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"tomodachilink/internal/models"

	"github.com/c-pro/geche"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

const (
	DefaultTokenExpiry = 24 * time.Hour
	CookieName         = "jwtTomodachiLink"
	loginFailedMessage = "Login failed"
)

var (
	ErrUserExists   = errors.New("user already exists")
	ErrTokenRevoked = errors.New("token revoked")
)

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type SignupRequest struct {
	Username    string `json:"username"`
	Password    string `json:"password"`
	DisplayName string `json:"displayName"`
}

type LoginResponse struct {
	Success     bool   `json:"success"`
	Message     string `json:"message,omitempty"`
	Token       string `json:"token,omitempty"`
	TokenExpiry int64  `json:"tokenExpiry,omitempty"`
}

type UserCredentials struct {
	models.User
	PasswordHash string `json:"passwordHash"`
	// Counter for consecutive failed login attempts to throttle brute force attacks.
	FailedLoginAttempts int64 `json:"failedLoginAttempts"`
	LastAttemptTime     int64 `json:"lastAttemptTime"`
}

func (uc *UserCredentials) ResetFailedLoginAttempts(now time.Time) {
	uc.FailedLoginAttempts = 0
	uc.LastAttemptTime = now.Unix()
}

func (uc *UserCredentials) IncrementFailedLoginAttempts(now time.Time) {
	uc.FailedLoginAttempts++
	uc.LastAttemptTime = now.Unix()
}

type Config struct {
	Secret      string        `json:"secret"`
	TokenExpiry time.Duration `json:"tokenExpiry"`
}

func (c *Config) Validate() error {
	if c.Secret == "" {
		return errors.New("secret is required")
	}

	if c.TokenExpiry == 0 {
		c.TokenExpiry = DefaultTokenExpiry
	}

	return nil
}

// CredentialStore persists user credentials across restarts.
type CredentialStore interface {
	UpsertCredentials(credentials UserCredentials) error
	ListCredentials() ([]UserCredentials, error)
}

type AuthService struct {
	Config
	store CredentialStore

	users *geche.Locker[string, *UserCredentials]

	// validated token -> userID fast path, avoids re-parsing the JWT
	// on every request
	liveTokens geche.Geche[string, string]
	// tokens invalidated by logoff before their expiry
	revokedTokens geche.Geche[string, string]

	idIndex map[string]string // userID -> username
	idMu    sync.RWMutex

	now func() time.Time
}

func NewAuthService(ctx context.Context, config Config, store CredentialStore) (*AuthService, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	as := &AuthService{
		Config:        config,
		store:         store,
		users:         geche.NewLocker[string, *UserCredentials](geche.NewMapCache[string, *UserCredentials]()),
		liveTokens:    geche.NewMapTTLCache[string, string](ctx, config.TokenExpiry, time.Minute),
		revokedTokens: geche.NewMapTTLCache[string, string](ctx, config.TokenExpiry, time.Minute),
		idIndex:       make(map[string]string),
		now:           time.Now,
	}

	if store != nil {
		creds, err := store.ListCredentials()
		if err != nil {
			return nil, fmt.Errorf("failed to load credentials: %w", err)
		}
		tx := as.users.Lock()
		for i := range creds {
			c := creds[i]
			tx.Set(c.UserName, &c)
			as.idIndex[c.ID] = c.UserName
		}
		tx.Unlock()
	}

	return as, nil
}

func hashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// AddUser registers a new user with the given credentials.
func (as *AuthService) AddUser(req SignupRequest) (UserCredentials, error) {
	passwordHash, err := hashPassword(req.Password)
	if err != nil {
		return UserCredentials{}, err
	}

	tx := as.users.Lock()
	defer tx.Unlock()
	if _, err := tx.Get(req.Username); err == nil {
		return UserCredentials{}, ErrUserExists
	}

	displayName := req.DisplayName
	if displayName == "" {
		displayName = req.Username
	}

	creds := &UserCredentials{
		User: models.User{
			ID:          uuid.NewString(),
			UserName:    req.Username,
			DisplayName: displayName,
			Status:      models.UserStatusActive,
		},
		PasswordHash: passwordHash,
	}
	tx.Set(req.Username, creds)

	as.idMu.Lock()
	as.idIndex[creds.ID] = creds.UserName
	as.idMu.Unlock()

	if as.store != nil {
		if err := as.store.UpsertCredentials(*creds); err != nil {
			return UserCredentials{}, fmt.Errorf("failed to persist user: %w", err)
		}
	}

	return *creds, nil
}

func (as *AuthService) Login(req LoginRequest) (LoginResponse, string) {
	now := as.now()
	tx := as.users.Lock()
	defer tx.Unlock()
	user, err := tx.Get(req.Username)
	if err != nil {
		return LoginResponse{
			Success: false,
			Message: loginFailedMessage,
		}, ""
	}

	// Check failed login attempts
	if user.FailedLoginAttempts > 3 {
		lastAttempt := user.LastAttemptTime
		failedAttempts := user.FailedLoginAttempts
		nextAttempt := lastAttempt + 30*(failedAttempts*failedAttempts)
		if now.Unix() < nextAttempt {
			return LoginResponse{
				Success: false,
				Message: fmt.Sprintf("Too many failed login attempts. Next attempt in %d seconds", nextAttempt-now.Unix()),
			}, ""
		}
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		user.IncrementFailedLoginAttempts(now)
		return LoginResponse{
			Success: false,
			Message: loginFailedMessage,
		}, ""
	}

	token, expiry, err := as.generateToken(user.ID, now)
	if err != nil {
		slog.Error("login failed", "user_id", user.ID, "error", err)
		return LoginResponse{
			Success: false,
			Message: "internal error",
		}, ""
	}

	as.liveTokens.Set(token, user.ID)
	user.ResetFailedLoginAttempts(now)

	return LoginResponse{
		Success:     true,
		Token:       token,
		TokenExpiry: expiry,
	}, user.ID
}

// Logoff revokes a token before its natural expiry.
func (as *AuthService) Logoff(token string) error {
	_ = as.liveTokens.Del(token)
	as.revokedTokens.Set(token, "")
	return nil
}

func (as *AuthService) generateToken(userID string, now time.Time) (string, int64, error) {
	expiry := now.Add(as.TokenExpiry)
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(expiry),
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(as.Secret))
	if err != nil {
		return "", 0, fmt.Errorf("failed to sign token: %w", err)
	}

	return token, expiry.Unix(), nil
}

// GetUserID validates a token and returns the user ID it was issued for.
func (as *AuthService) GetUserID(token string) (string, error) {
	if _, err := as.revokedTokens.Get(token); err == nil {
		return "", ErrTokenRevoked
	}

	if userID, err := as.liveTokens.Get(token); err == nil {
		return userID, nil
	}

	// Cache miss: the server restarted or the entry expired. Validate
	// the JWT itself and re-admit if it is still good.
	claims := jwt.RegisteredClaims{}
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(as.Secret), nil
	}, jwt.WithTimeFunc(func() time.Time { return as.now() }))
	if err != nil {
		return "", fmt.Errorf("invalid token: %w", err)
	}
	if !parsed.Valid || claims.Subject == "" {
		return "", errors.New("invalid token")
	}

	as.liveTokens.Set(token, claims.Subject)
	return claims.Subject, nil
}

// GetUser returns the public profile of a user by ID.
func (as *AuthService) GetUser(userID string) (models.User, error) {
	as.idMu.RLock()
	username, ok := as.idIndex[userID]
	as.idMu.RUnlock()
	if !ok {
		return models.User{}, models.ErrNotFound
	}

	tx := as.users.Lock()
	defer tx.Unlock()
	creds, err := tx.Get(username)
	if err != nil {
		return models.User{}, models.ErrNotFound
	}
	return creds.User, nil
}

// ListUsers returns the public profiles of all active users.
func (as *AuthService) ListUsers() []models.User {
	as.idMu.RLock()
	usernames := make([]string, 0, len(as.idIndex))
	for _, name := range as.idIndex {
		usernames = append(usernames, name)
	}
	as.idMu.RUnlock()

	tx := as.users.Lock()
	defer tx.Unlock()

	users := make([]models.User, 0, len(usernames))
	for _, name := range usernames {
		creds, err := tx.Get(name)
		if err != nil || creds.Status != models.UserStatusActive {
			continue
		}
		users = append(users, creds.User)
	}
	return users
}

// UpdateUser applies fn to the stored user and persists the result.
func (as *AuthService) UpdateUser(userID string, fn func(*models.User)) (models.User, error) {
	as.idMu.RLock()
	username, ok := as.idIndex[userID]
	as.idMu.RUnlock()
	if !ok {
		return models.User{}, models.ErrNotFound
	}

	tx := as.users.Lock()
	defer tx.Unlock()
	creds, err := tx.Get(username)
	if err != nil {
		return models.User{}, models.ErrNotFound
	}

	fn(&creds.User)

	if as.store != nil {
		if err := as.store.UpsertCredentials(*creds); err != nil {
			return models.User{}, fmt.Errorf("failed to persist user: %w", err)
		}
	}

	return creds.User, nil
}
