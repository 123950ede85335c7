package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/mcoot/spinroom/internal/dependencies/clock"
	"github.com/mcoot/spinroom/internal/model"
	"github.com/mcoot/spinroom/internal/storage"
)

// Errors
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidSession     = errors.New("invalid or expired session")
)

const issuer = "spinroom"

// Session is an issued access token
type Session struct {
	Token     string
	User      *model.User
	ExpiresAt time.Time
}

// Claims are the JWT claims carried by an access token
type Claims struct {
	Email string `json:"email"`
	Name  string `json:"name"`
	jwt.RegisteredClaims
}

// Service handles registration, login and token validation
type Service struct {
	storage  storage.Storage
	clock    clock.Clock
	validate *validator.Validate

	secret     []byte
	tokenTTL   time.Duration
	bcryptCost int
}

// Config holds configuration for the auth service
type Config struct {
	Secret     string
	TokenTTL   time.Duration
	BcryptCost int
}

// DefaultConfig returns default auth configuration
func DefaultConfig() Config {
	return Config{
		TokenTTL:   24 * time.Hour,
		BcryptCost: bcrypt.DefaultCost,
	}
}

type registration struct {
	Email    string `validate:"required,email,max=254"`
	Password string `validate:"required,min=8,max=72"`
	Name     string `validate:"required,max=64"`
}

// New creates a new auth Service
func New(storage storage.Storage, clock clock.Clock, cfg Config) (*Service, error) {
	if cfg.Secret == "" {
		return nil, errors.New("auth: secret is required")
	}
	defaults := DefaultConfig()
	if cfg.TokenTTL == 0 {
		cfg.TokenTTL = defaults.TokenTTL
	}
	if cfg.BcryptCost == 0 {
		cfg.BcryptCost = defaults.BcryptCost
	}
	return &Service{
		storage:    storage,
		clock:      clock,
		validate:   validator.New(),
		secret:     []byte(cfg.Secret),
		tokenTTL:   cfg.TokenTTL,
		bcryptCost: cfg.BcryptCost,
	}, nil
}

// Register creates a user with the default credit balance and issues a token
func (s *Service) Register(ctx context.Context, email, password, name string) (*Session, error) {
	email = model.NormalizeEmail(email)
	name = strings.TrimSpace(name)
	if name == "" {
		name, _, _ = strings.Cut(email, "@")
	}

	if err := s.validate.Struct(registration{Email: email, Password: password, Name: name}); err != nil {
		return nil, fmt.Errorf("%w: %s", model.ErrValidation, describe(err))
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.bcryptCost)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	user := &model.User{
		ID:           model.UserID(uuid.NewString()),
		Email:        email,
		Name:         name,
		PasswordHash: string(hash),
		Credits:      model.DefaultCredits,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.storage.CreateUser(ctx, user); err != nil {
		return nil, err
	}

	return s.issue(user)
}

// Login checks the password and issues a token
func (s *Service) Login(ctx context.Context, email, password string) (*Session, error) {
	user, err := s.storage.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, model.ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}

	return s.issue(user)
}

// ParseToken validates the token's signature, expiry and revocation.
// Revocations live in storage, so a logout is seen by every replica
// sharing it.
func (s *Service) ParseToken(ctx context.Context, token string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(s.clock.Now),
	)
	if err != nil {
		return nil, ErrInvalidSession
	}

	revoked, err := s.storage.IsTokenRevoked(ctx, claims.ID)
	if err != nil {
		return nil, fmt.Errorf("check revocation: %w", err)
	}
	if revoked {
		return nil, ErrInvalidSession
	}

	return claims, nil
}

// Authenticate resolves a token to its current user record
func (s *Service) Authenticate(ctx context.Context, token string) (*model.User, error) {
	claims, err := s.ParseToken(ctx, token)
	if err != nil {
		return nil, err
	}
	user, err := s.storage.GetUser(ctx, model.UserID(claims.Subject))
	if err != nil {
		if errors.Is(err, model.ErrUserNotFound) {
			return nil, ErrInvalidSession
		}
		return nil, err
	}
	return user, nil
}

// Logout revokes the token. Unknown or expired tokens are ignored.
func (s *Service) Logout(ctx context.Context, token string) error {
	claims, err := s.ParseToken(ctx, token)
	if err != nil {
		if errors.Is(err, ErrInvalidSession) {
			return nil
		}
		return err
	}
	return s.storage.RevokeToken(ctx, claims.ID, claims.ExpiresAt.Time)
}

// GetUser returns a user by id
func (s *Service) GetUser(ctx context.Context, id model.UserID) (*model.User, error) {
	return s.storage.GetUser(ctx, id)
}

// FindUserByEmail returns a user by email address
func (s *Service) FindUserByEmail(ctx context.Context, email string) (*model.User, error) {
	return s.storage.GetUserByEmail(ctx, email)
}

func (s *Service) issue(user *model.User) (*Session, error) {
	now := s.clock.Now()
	expires := now.Add(s.tokenTTL)

	claims := Claims{
		Email: user.Email,
		Name:  user.Name,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    issuer,
			Subject:   string(user.ID),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return nil, fmt.Errorf("sign token: %w", err)
	}

	return &Session{
		Token:     token,
		User:      user,
		ExpiresAt: expires,
	}, nil
}

// CleanExpiredSessions drops revocations for tokens that have expired
// (call periodically) and returns how many were dropped
func (s *Service) CleanExpiredSessions(ctx context.Context) (int, error) {
	return s.storage.PruneRevokedTokens(ctx, s.clock.Now())
}

func describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s failed %s", strings.ToLower(fe.Field()), fe.Tag()))
	}
	return strings.Join(parts, ", ")
}
