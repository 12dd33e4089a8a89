package service

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/argon2"
	"golang.org/x/sync/semaphore"

	"github.com/Strob0t/AgentMesh/internal/config"
	"github.com/Strob0t/AgentMesh/internal/domain"
	"github.com/Strob0t/AgentMesh/internal/domain/user"
	"github.com/Strob0t/AgentMesh/internal/port/database"
)

// argon2id parameters.
const (
	argonTime    = 2
	argonMemory  = 64 * 1024 // KiB
	argonThreads = 4
	argonSaltLen = 16
	argonKeyLen  = 32
)

const (
	tokenAudience = "agentmesh"
	tokenIssuer   = "agentmesh-core"
)

// AuthService handles user authentication and JWT issuance. Password
// hashing is argon2id; the number of concurrent hashes is bounded so auth
// bursts cannot monopolize the CPU.
type AuthService struct {
	store   database.Store
	cfg     *config.Auth
	secret  []byte
	hashSem *semaphore.Weighted
	log     *slog.Logger
}

// NewAuthService creates a new authentication service.
func NewAuthService(store database.Store, cfg *config.Auth, log *slog.Logger) *AuthService {
	workers := int64(cfg.HashWorkers)
	if workers <= 0 {
		workers = 4
	}
	return &AuthService{
		store:   store,
		cfg:     cfg,
		secret:  []byte(cfg.JWTSecret),
		hashSem: semaphore.NewWeighted(workers),
		log:     log,
	}
}

// Register creates a new user with an argon2id-hashed password.
func (s *AuthService) Register(ctx context.Context, req *user.CreateRequest) (*user.User, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	hash, err := s.hashPassword(ctx, req.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	role := req.Role
	if role == "" {
		role = user.RoleMember
	}

	u := &user.User{
		ID:           uuid.NewString(),
		Username:     req.Username,
		Email:        req.Email,
		PasswordHash: hash,
		Role:         role,
		IsActive:     true,
	}
	if err := s.store.CreateUser(ctx, u); err != nil {
		return nil, err
	}

	s.log.Info("user registered", "username", u.Username, "role", u.Role)
	return u, nil
}

// Login verifies credentials and issues an access/refresh token pair.
// Unknown users and wrong passwords are indistinguishable to the caller.
func (s *AuthService) Login(ctx context.Context, req user.LoginRequest) (*user.TokenPair, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	u, err := s.store.GetUserByUsername(ctx, req.Username)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("invalid credentials: %w", domain.ErrUnauthorized)
		}
		return nil, err
	}
	if !u.IsActive {
		return nil, fmt.Errorf("account is disabled: %w", domain.ErrUnauthorized)
	}

	ok, err := s.verifyPassword(ctx, u.PasswordHash, req.Password)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("invalid credentials: %w", domain.ErrUnauthorized)
	}

	return s.issueTokens(ctx, u)
}

// Refresh validates a refresh token and issues a fresh pair. The used
// refresh token is rotated out; replaying it fails.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*user.TokenPair, error) {
	claims, err := s.verifyJWT(refreshToken)
	if err != nil {
		return nil, fmt.Errorf("refresh token: %w", domain.ErrUnauthorized)
	}
	if claims.Type != user.TokenRefresh {
		return nil, fmt.Errorf("not a refresh token: %w", domain.ErrUnauthorized)
	}

	userID, err := s.store.GetRefreshTokenUser(ctx, claims.JTI)
	if err != nil {
		return nil, fmt.Errorf("refresh token unknown or expired: %w", domain.ErrUnauthorized)
	}
	if userID != claims.UserID {
		return nil, fmt.Errorf("refresh token subject mismatch: %w", domain.ErrUnauthorized)
	}

	u, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !u.IsActive {
		return nil, fmt.Errorf("account is disabled: %w", domain.ErrUnauthorized)
	}

	if err := s.store.DeleteRefreshToken(ctx, claims.JTI); err != nil {
		return nil, err
	}
	return s.issueTokens(ctx, u)
}

// Logout revokes the presented access token and drops the refresh token.
func (s *AuthService) Logout(ctx context.Context, accessClaims *user.TokenClaims, refreshToken string) error {
	if accessClaims != nil && accessClaims.JTI != "" {
		expiry := time.Unix(accessClaims.Expiry, 0)
		if err := s.store.RevokeToken(ctx, accessClaims.JTI, expiry); err != nil {
			s.log.Warn("revoke access token on logout", "jti", accessClaims.JTI, "error", err)
		}
	}
	if refreshToken != "" {
		if claims, err := s.verifyJWT(refreshToken); err == nil {
			return s.store.DeleteRefreshToken(ctx, claims.JTI)
		}
	}
	return nil
}

// ValidateAccessToken verifies a JWT access token and checks revocation.
// A failed revocation lookup denies the token.
func (s *AuthService) ValidateAccessToken(ctx context.Context, tokenStr string) (*user.TokenClaims, error) {
	claims, err := s.verifyJWT(tokenStr)
	if err != nil {
		return nil, fmt.Errorf("access token: %w", domain.ErrUnauthorized)
	}
	if claims.Type != user.TokenAccess {
		return nil, fmt.Errorf("not an access token: %w", domain.ErrUnauthorized)
	}

	revoked, err := s.store.IsTokenRevoked(ctx, claims.JTI)
	if err != nil {
		s.log.Error("token revocation check failed, denying token", "jti", claims.JTI, "error", err)
		return nil, fmt.Errorf("unable to verify token status: %w", domain.ErrUnauthorized)
	}
	if revoked {
		return nil, fmt.Errorf("token revoked: %w", domain.ErrUnauthorized)
	}
	return claims, nil
}

// ChangePassword verifies the current password and installs a new one. All
// refresh tokens stay valid; access tokens are untouched.
func (s *AuthService) ChangePassword(ctx context.Context, userID, oldPassword, newPassword string) error {
	if len(newPassword) < user.MinPasswordLen {
		return fmt.Errorf("password must be at least %d characters: %w", user.MinPasswordLen, domain.ErrValidation)
	}

	u, err := s.store.GetUser(ctx, userID)
	if err != nil {
		return err
	}

	ok, err := s.verifyPassword(ctx, u.PasswordHash, oldPassword)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("current password is incorrect: %w", domain.ErrUnauthorized)
	}

	hash, err := s.hashPassword(ctx, newPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	u.PasswordHash = hash
	return s.store.UpdateUser(ctx, u)
}

// AdminResetPassword installs a new password without knowing the old one.
// Operator CLI only; never exposed over HTTP.
func (s *AuthService) AdminResetPassword(ctx context.Context, username, newPassword string) error {
	if len(newPassword) < user.MinPasswordLen {
		return fmt.Errorf("password must be at least %d characters: %w", user.MinPasswordLen, domain.ErrValidation)
	}

	u, err := s.store.GetUserByUsername(ctx, username)
	if err != nil {
		return err
	}

	hash, err := s.hashPassword(ctx, newPassword)
	if err != nil {
		return fmt.Errorf("hash password: %w", err)
	}
	u.PasswordHash = hash
	return s.store.UpdateUser(ctx, u)
}

// ListUsers returns all user accounts.
func (s *AuthService) ListUsers(ctx context.Context) ([]user.User, error) {
	return s.store.ListUsers(ctx)
}

// SeedDefaultAdmin creates the configured admin user when no users exist.
func (s *AuthService) SeedDefaultAdmin(ctx context.Context) error {
	users, err := s.store.ListUsers(ctx)
	if err != nil {
		return fmt.Errorf("list users: %w", err)
	}
	if len(users) > 0 {
		return nil
	}
	if s.cfg.AdminPassword == "" {
		return errors.New("no users exist and no admin password configured")
	}

	_, err = s.Register(ctx, &user.CreateRequest{
		Username: s.cfg.AdminUsername,
		Email:    s.cfg.AdminEmail,
		Password: s.cfg.AdminPassword,
		Role:     user.RoleAdmin,
	})
	if err != nil {
		return fmt.Errorf("seed admin: %w", err)
	}
	s.log.Info("seeded default admin user", "username", s.cfg.AdminUsername)
	return nil
}

// StartTokenCleanup periodically purges expired revoked and refresh tokens
// until ctx is cancelled.
func (s *AuthService) StartTokenCleanup(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				n, err := s.store.PurgeExpiredTokens(ctx)
				if err != nil {
					s.log.Warn("purge expired tokens", "error", err)
				} else if n > 0 {
					s.log.Info("purged expired tokens", "count", n)
				}
			}
		}
	}()
}

func (s *AuthService) issueTokens(ctx context.Context, u *user.User) (*user.TokenPair, error) {
	access, err := s.signJWT(u, user.TokenAccess, s.cfg.AccessTokenExpiry)
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}

	refreshJTI := uuid.NewString()
	refresh, err := s.signJWTWithJTI(u, user.TokenRefresh, s.cfg.RefreshTokenExpiry, refreshJTI)
	if err != nil {
		return nil, fmt.Errorf("sign refresh token: %w", err)
	}
	expiresAt := time.Now().Add(s.cfg.RefreshTokenExpiry)
	if err := s.store.SaveRefreshToken(ctx, refreshJTI, u.ID, expiresAt); err != nil {
		return nil, err
	}

	return &user.TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    int(s.cfg.AccessTokenExpiry.Seconds()),
	}, nil
}

// --- argon2id ---

// hashPassword derives an argon2id hash in PHC string format, acquiring a
// worker slot first.
func (s *AuthService) hashPassword(ctx context.Context, password string) (string, error) {
	if err := s.hashSem.Acquire(ctx, 1); err != nil {
		return "", err
	}
	defer s.hashSem.Release(1)

	salt := make([]byte, argonSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	key := argon2.IDKey([]byte(password), salt, argonTime, argonMemory, argonThreads, argonKeyLen)

	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, argonMemory, argonTime, argonThreads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key)), nil
}

// verifyPassword checks a password against a PHC argon2id hash in constant
// time, bounded by the same worker pool as hashing.
func (s *AuthService) verifyPassword(ctx context.Context, encoded, password string) (bool, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return false, fmt.Errorf("malformed password hash: %w", domain.ErrValidation)
	}

	var memory, timeCost uint32
	var threads uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &memory, &timeCost, &threads); err != nil {
		return false, fmt.Errorf("malformed password hash params: %w", domain.ErrValidation)
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false, fmt.Errorf("malformed password hash salt: %w", domain.ErrValidation)
	}
	want, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return false, fmt.Errorf("malformed password hash key: %w", domain.ErrValidation)
	}

	if err := s.hashSem.Acquire(ctx, 1); err != nil {
		return false, err
	}
	got := argon2.IDKey([]byte(password), salt, timeCost, memory, threads, uint32(len(want)))
	s.hashSem.Release(1)

	return subtle.ConstantTimeCompare(got, want) == 1, nil
}

// --- JWT (HS256 on stdlib crypto) ---

var jwtHeader = base64URLEncode([]byte(`{"alg":"HS256","typ":"JWT"}`))

func (s *AuthService) signJWT(u *user.User, tokenType string, ttl time.Duration) (string, error) {
	return s.signJWTWithJTI(u, tokenType, ttl, uuid.NewString())
}

func (s *AuthService) signJWTWithJTI(u *user.User, tokenType string, ttl time.Duration, jti string) (string, error) {
	now := time.Now()
	claims := user.TokenClaims{
		Subject:  u.Username,
		Type:     tokenType,
		UserID:   u.ID,
		Role:     u.Role,
		IssuedAt: now.Unix(),
		Expiry:   now.Add(ttl).Unix(),
		JTI:      jti,
		Audience: tokenAudience,
		Issuer:   tokenIssuer,
	}

	payload, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("marshal claims: %w", err)
	}

	signingInput := jwtHeader + "." + base64URLEncode(payload)
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(signingInput))
	return signingInput + "." + base64URLEncode(mac.Sum(nil)), nil
}

func (s *AuthService) verifyJWT(tokenStr string) (*user.TokenClaims, error) {
	parts := strings.SplitN(tokenStr, ".", 3)
	if len(parts) != 3 {
		return nil, errors.New("malformed token")
	}

	signingInput := parts[0] + "." + parts[1]
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(signingInput))
	expectedSig := base64URLEncode(mac.Sum(nil))
	if !hmac.Equal([]byte(parts[2]), []byte(expectedSig)) {
		return nil, errors.New("invalid signature")
	}

	payload, err := base64URLDecode(parts[1])
	if err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	var claims user.TokenClaims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, fmt.Errorf("unmarshal claims: %w", err)
	}

	if time.Now().Unix() > claims.Expiry {
		return nil, errors.New("token expired")
	}
	if claims.Audience != tokenAudience {
		return nil, errors.New("invalid token audience")
	}
	if claims.Issuer != tokenIssuer {
		return nil, errors.New("invalid token issuer")
	}
	return &claims, nil
}

// --- Helpers ---

func base64URLEncode(data []byte) string {
	return strings.TrimRight(base64.URLEncoding.EncodeToString(data), "=")
}

func base64URLDecode(s string) ([]byte, error) {
	switch len(s) % 4 {
	case 2:
		s += "=="
	case 3:
		s += "="
	}
	return base64.URLEncoding.DecodeString(s)
}
