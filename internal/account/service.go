// Package account implements registration, login and profile management on
// top of the user store, the password hasher and the token service.
package account

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/redmonkez12/go-user-service/internal/auth"
	"github.com/redmonkez12/go-user-service/internal/logging"
	"github.com/redmonkez12/go-user-service/internal/user"
)

var tracer = otel.Tracer("github.com/redmonkez12/go-user-service/internal/account")

// PasswordHasher hashes and checks passwords
type PasswordHasher interface {
	Hash(password string) (string, error)
	Verify(password, encodedHash string) bool
}

// AccessToken is returned by a successful login
type AccessToken struct {
	AccessToken string `json:"access_token"`
}

// Service handles account business logic
type Service struct {
	users     user.Store
	hasher    PasswordHasher
	tokens    auth.TokenService
	logger    *logging.Logger
	dummyHash func() string
}

func NewService(users user.Store, hasher PasswordHasher, tokens auth.TokenService, logger *logging.Logger) *Service {
	return &Service{
		users:  users,
		hasher: hasher,
		tokens: tokens,
		logger: logger,
		// Verified against when the username is unknown so a failed login
		// always costs one key derivation.
		dummyHash: sync.OnceValue(func() string {
			digest, _ := hasher.Hash("not-a-real-password")
			return digest
		}),
	}
}

// Register validates the input, checks username then email availability and
// creates the account.
func (s *Service) Register(ctx context.Context, in RegisterInput) (_ *user.User, err error) {
	ctx, span := tracer.Start(ctx, "account.Register")
	defer func() { endSpan(span, err) }()

	if err := ValidateRegistration(in); err != nil {
		return nil, err
	}

	if err := s.ensureAvailable(ctx, "username", in.Username, s.users.FindByUsername); err != nil {
		return nil, err
	}
	if err := s.ensureAvailable(ctx, "email", in.Email, s.users.FindByEmail); err != nil {
		return nil, err
	}

	passwordHash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	created, err := s.users.Create(ctx, &user.User{
		Username:     in.Username,
		Email:        in.Email,
		PasswordHash: passwordHash,
		FirstName:    in.FirstName,
		LastName:     in.LastName,
	})
	if err != nil {
		return nil, storeError(err, "failed to create user")
	}

	span.SetAttributes(attribute.Int64("user.id", created.ID))
	s.logger.Info("user registered", "user_id", created.ID)
	return created, nil
}

// Login checks the credentials and issues an access token. Unknown usernames
// and wrong passwords both fail with ErrUnauthorized.
func (s *Service) Login(ctx context.Context, username, password string) (_ *AccessToken, err error) {
	ctx, span := tracer.Start(ctx, "account.Login")
	defer func() { endSpan(span, err) }()

	u, err := s.users.FindByUsername(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}

	if u == nil {
		s.hasher.Verify(password, s.dummyHash())
		s.logger.Warn("login failed", "username", username)
		return nil, ErrUnauthorized
	}
	if !s.hasher.Verify(password, u.PasswordHash) {
		s.logger.Warn("login failed", "username", username)
		return nil, ErrUnauthorized
	}

	token, err := s.tokens.CreateToken(u.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to create token: %w", err)
	}

	span.SetAttributes(attribute.Int64("user.id", u.ID))
	s.logger.Info("user logged in", "user_id", u.ID)
	return &AccessToken{AccessToken: token}, nil
}

// Authenticate resolves a bearer token into the caller identity. Failures
// match ErrUnauthorized and keep the token error in the chain.
func (s *Service) Authenticate(ctx context.Context, token string) (auth.Identity, error) {
	_, span := tracer.Start(ctx, "account.Authenticate")
	defer span.End()

	claims, err := s.tokens.VerifyToken(token)
	if err != nil {
		return auth.Identity{}, fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}
	return auth.Identity{UserID: claims.UserID}, nil
}

// GetCurrentUser returns the caller's own account.
func (s *Service) GetCurrentUser(ctx context.Context, identity auth.Identity) (_ *user.User, err error) {
	ctx, span := tracer.Start(ctx, "account.GetCurrentUser",
		trace.WithAttributes(attribute.Int64("user.id", identity.UserID)))
	defer func() { endSpan(span, err) }()

	return s.findUser(ctx, identity.UserID)
}

// GetUser returns any account to an authenticated caller.
func (s *Service) GetUser(ctx context.Context, identity auth.Identity, targetID int64) (_ *user.User, err error) {
	ctx, span := tracer.Start(ctx, "account.GetUser", trace.WithAttributes(
		attribute.Int64("user.id", identity.UserID),
		attribute.Int64("target.id", targetID),
	))
	defer func() { endSpan(span, err) }()

	return s.findUser(ctx, targetID)
}

// UpdateUser applies the present fields of in to the caller's own account and
// persists them in one write.
func (s *Service) UpdateUser(ctx context.Context, identity auth.Identity, targetID int64, in UpdateInput) (_ *user.User, err error) {
	ctx, span := tracer.Start(ctx, "account.UpdateUser", trace.WithAttributes(
		attribute.Int64("user.id", identity.UserID),
		attribute.Int64("target.id", targetID),
	))
	defer func() { endSpan(span, err) }()

	if identity.UserID != targetID {
		return nil, ErrForbidden
	}

	u, err := s.users.FindByIDForUpdate(ctx, targetID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if u == nil {
		return nil, ErrNotFound
	}

	if err := ValidateUpdate(in); err != nil {
		return nil, err
	}

	if in.Username != nil && *in.Username != u.Username {
		if err := s.ensureAvailable(ctx, "username", *in.Username, s.users.FindByUsername); err != nil {
			return nil, err
		}
		u.Username = *in.Username
	}
	if in.Email != nil && *in.Email != u.Email {
		if err := s.ensureAvailable(ctx, "email", *in.Email, s.users.FindByEmail); err != nil {
			return nil, err
		}
		u.Email = *in.Email
	}
	if in.Password != nil {
		passwordHash, err := s.hasher.Hash(*in.Password)
		if err != nil {
			return nil, fmt.Errorf("failed to hash password: %w", err)
		}
		u.PasswordHash = passwordHash
	}
	if in.FirstName != nil {
		u.FirstName = in.FirstName
	}
	if in.LastName != nil {
		u.LastName = in.LastName
	}

	if err := s.users.Update(ctx, u); err != nil {
		return nil, storeError(err, "failed to update user")
	}

	s.logger.Info("user updated", "user_id", u.ID)
	return u, nil
}

// DeleteUser permanently removes the caller's own account.
func (s *Service) DeleteUser(ctx context.Context, identity auth.Identity, targetID int64) (err error) {
	ctx, span := tracer.Start(ctx, "account.DeleteUser", trace.WithAttributes(
		attribute.Int64("user.id", identity.UserID),
		attribute.Int64("target.id", targetID),
	))
	defer func() { endSpan(span, err) }()

	if identity.UserID != targetID {
		return ErrForbidden
	}

	if err := s.users.Delete(ctx, targetID); err != nil {
		return storeError(err, "failed to delete user")
	}

	s.logger.Info("user deleted", "user_id", targetID)
	return nil
}

func (s *Service) findUser(ctx context.Context, id int64) (*user.User, error) {
	u, err := s.users.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if u == nil {
		return nil, ErrNotFound
	}
	return u, nil
}

// ensureAvailable is an advisory uniqueness check; the store constraint
// decides on write.
func (s *Service) ensureAvailable(ctx context.Context, field, value string, lookup func(context.Context, string) (*user.User, error)) error {
	existing, err := lookup(ctx, value)
	if err != nil {
		return fmt.Errorf("failed to check %s: %w", field, err)
	}
	if existing != nil {
		return &ConflictError{Field: field}
	}
	return nil
}

// storeError translates repository sentinels into account errors.
func storeError(err error, msg string) error {
	switch {
	case errors.Is(err, user.ErrDuplicateUsername):
		return &ConflictError{Field: "username"}
	case errors.Is(err, user.ErrDuplicateEmail):
		return &ConflictError{Field: "email"}
	case errors.Is(err, user.ErrNotFound):
		return ErrNotFound
	default:
		return fmt.Errorf("%s: %w", msg, err)
	}
}

// endSpan records err on span. Only unexpected failures mark the span as
// errored; rejected requests are expected outcomes.
func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		if !isRejection(err) {
			span.SetStatus(codes.Error, err.Error())
		}
	}
	span.End()
}

func isRejection(err error) bool {
	for _, target := range []error{ErrValidation, ErrConflict, ErrUnauthorized, ErrForbidden, ErrNotFound} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
