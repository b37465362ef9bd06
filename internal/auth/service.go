// Package auth handles account registration, login and bearer-token
// verification.
package auth

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"taskmanager/internal/domain/errors"
	"taskmanager/internal/domain/models"

	"github.com/google/uuid"
)

// UserStore persists accounts. GetUserBy* return errors.ErrUserNotFound
// for unknown users and CreateUser returns errors.ErrConflict for a taken
// email.
type UserStore interface {
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	GetUserByID(ctx context.Context, id string) (*models.User, error)
}

type Session struct {
	User  models.UserSummary
	Token string
}

// Identity is the authenticated caller attached to a request.
type Identity struct {
	UserID string
	Email  string
}

type Service struct {
	users  UserStore
	tokens *TokenManager
	cost   int
	now    func() time.Time
	logger *slog.Logger

	dummyOnce sync.Once
	dummyHash string
}

type Option func(*Service)

func WithBcryptCost(cost int) Option {
	return func(s *Service) { s.cost = cost }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

func NewService(users UserStore, tokens *TokenManager, opts ...Option) *Service {
	s := &Service{
		users:  users,
		tokens: tokens,
		cost:   DefaultBcryptCost,
		now:    func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (s *Service) Register(ctx context.Context, req models.RegisterRequest) (*Session, error) {
	email := normalizeEmail(req.Email)
	name := strings.TrimSpace(req.Name)

	verr := &errors.ValidationError{}
	if email == "" || !strings.Contains(email, "@") {
		verr.Add("email", "must be a valid email address")
	}
	if n := utf8.RuneCountInString(req.Password); n < 6 || n > 100 {
		verr.Add("password", "must be between 6 and 100 characters")
	}
	if name == "" || utf8.RuneCountInString(name) > 255 {
		verr.Add("name", "must be between 1 and 255 characters")
	}
	if err := verr.Err(); err != nil {
		return nil, err
	}

	hash, err := HashPassword(req.Password, s.cost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	now := s.now()
	user := &models.User{
		ID:        uuid.NewString(),
		Email:     email,
		Name:      name,
		Password:  hash,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.users.CreateUser(ctx, user); err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "user registered", slog.String("user_id", user.ID))

	return s.session(user)
}

// Login never reveals whether the email exists: unknown users and wrong
// passwords both return ErrInvalidCredentials after a bcrypt comparison.
func (s *Service) Login(ctx context.Context, req models.LoginRequest) (*Session, error) {
	user, err := s.users.GetUserByEmail(ctx, normalizeEmail(req.Email))
	if err != nil {
		if errors.Is(err, errors.ErrUserNotFound) {
			CheckPassword(s.dummy(), req.Password)
			return nil, errors.ErrInvalidCredentials
		}
		return nil, err
	}
	if !CheckPassword(user.Password, req.Password) {
		return nil, errors.ErrInvalidCredentials
	}
	return s.session(user)
}

func (s *Service) Me(ctx context.Context, userID string) (*models.UserSummary, error) {
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, errors.ErrUserNotFound) {
			return nil, errors.ErrUnauthenticated
		}
		return nil, err
	}
	summary := user.Summary()
	return &summary, nil
}

// Authenticate verifies a bearer token and checks that its account still
// exists.
func (s *Service) Authenticate(ctx context.Context, token string) (*Identity, error) {
	claims, err := s.tokens.Verify(token)
	if err != nil {
		return nil, err
	}
	user, err := s.users.GetUserByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, errors.ErrUserNotFound) {
			return nil, errors.ErrUnauthenticated
		}
		return nil, err
	}
	return &Identity{UserID: user.ID, Email: user.Email}, nil
}

func (s *Service) session(user *models.User) (*Session, error) {
	token, err := s.tokens.Issue(user.ID, user.Email)
	if err != nil {
		return nil, fmt.Errorf("issue token: %w", err)
	}
	return &Session{User: user.Summary(), Token: token}, nil
}

func (s *Service) dummy() string {
	s.dummyOnce.Do(func() {
		s.dummyHash, _ = HashPassword("timing-equaliser", s.cost)
	})
	return s.dummyHash
}
