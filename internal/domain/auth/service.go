// Package auth manages shopper accounts: password login, sign-up and the
// session tokens that identify a logged-in shopper.
package auth

import (
	"context"
	"reflect"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/xenking/giftshop/internal/apperr"
)

// SignUpRequest holds the data needed to register an account.
type SignUpRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8,max=128"`
	FullName string `json:"full_name" validate:"required,max=200"`
	Phone    string `json:"phone" validate:"omitempty,max=32"`
}

// Service implements login and sign-up.
type Service struct {
	users    Repository
	profiles ProfileProvisioner
	tokens   *Tokens
	params   PasswordParams
	validate *validator.Validate
	lg       *zap.Logger
}

// NewService creates an auth Service.
func NewService(
	users Repository,
	profiles ProfileProvisioner,
	tokens *Tokens,
	params PasswordParams,
	lg *zap.Logger,
) *Service {
	if lg == nil {
		lg = zap.NewNop()
	}
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		tag, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if tag == "" {
			return f.Name
		}
		return tag
	})
	return &Service{
		users:    users,
		profiles: profiles,
		tokens:   tokens,
		params:   params,
		validate: v,
		lg:       lg,
	}
}

// Login verifies credentials and returns the identity with a fresh token.
// Unknown emails and wrong passwords fail the same way.
func (s *Service) Login(ctx context.Context, email, password string) (*Identity, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return nil, apperr.New(apperr.CodeAuthenticationFailed, "invalid credentials")
	}

	u, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, apperr.New(apperr.CodeAuthenticationFailed, "invalid credentials")
		}
		return nil, errors.Wrap(err, "find user")
	}

	ok, err := VerifyPassword(password, u.PasswordHash)
	if err != nil {
		s.lg.Warn("Stored password hash is unreadable", zap.String("user_id", u.ID), zap.Error(err))
		return nil, apperr.New(apperr.CodeAuthenticationFailed, "invalid credentials")
	}
	if !ok {
		return nil, apperr.New(apperr.CodeAuthenticationFailed, "invalid credentials")
	}

	return s.identity(u)
}

// SignUp registers an account, provisions its profile and logs it in.
func (s *Service) SignUp(ctx context.Context, req SignUpRequest) (*Identity, error) {
	req.Email = normalizeEmail(req.Email)
	req.FullName = strings.TrimSpace(req.FullName)
	if err := s.validate.Struct(req); err != nil {
		return nil, validationError(err)
	}

	hash, err := HashPassword(req.Password, s.params)
	if err != nil {
		return nil, errors.Wrap(err, "hash password")
	}

	u := &User{
		ID:           uuid.NewString(),
		Email:        req.Email,
		FullName:     req.FullName,
		Phone:        req.Phone,
		PasswordHash: hash,
	}
	if err := s.users.Create(ctx, u); err != nil {
		if errors.Is(err, ErrEmailTaken) {
			return nil, apperr.New(apperr.CodeValidation, "email already registered").
				WithFields(map[string]string{"email": "taken"})
		}
		return nil, errors.Wrap(err, "create user")
	}

	id, err := s.identity(u)
	if err != nil {
		return nil, err
	}
	if err := s.profiles.ProvisionProfile(ctx, *id); err != nil {
		return nil, apperr.Wrap(apperr.CodeProfileResolutionFailed, err, "provision profile")
	}

	s.lg.Info("Account created", zap.String("user_id", u.ID))
	return id, nil
}

// Identify resolves a session token to the identity it was issued for.
func (s *Service) Identify(ctx context.Context, token string) (*Identity, error) {
	claims, err := s.tokens.Parse(token)
	if err != nil {
		return nil, apperr.Wrap(apperr.CodeAuthenticationFailed, err, "invalid token")
	}

	u, err := s.users.FindByID(ctx, claims.UserID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, apperr.New(apperr.CodeAuthenticationFailed, "unknown account")
		}
		return nil, errors.Wrap(err, "find user")
	}

	return &Identity{
		UserID:   u.ID,
		Email:    u.Email,
		FullName: u.FullName,
		Phone:    u.Phone,
		Token:    token,
	}, nil
}

func (s *Service) identity(u *User) (*Identity, error) {
	token, err := s.tokens.Issue(u)
	if err != nil {
		return nil, errors.Wrap(err, "issue token")
	}
	return &Identity{
		UserID:   u.ID,
		Email:    u.Email,
		FullName: u.FullName,
		Phone:    u.Phone,
		Token:    token,
	}, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validationError(err error) error {
	var errs validator.ValidationErrors
	if !errors.As(err, &errs) {
		return apperr.Wrap(apperr.CodeValidation, err, "validation failed")
	}
	fields := make(map[string]string, len(errs))
	for _, fe := range errs {
		fields[fe.Field()] = fe.Tag()
	}
	return apperr.New(apperr.CodeValidation, "validation failed").WithFields(fields)
}
