package user

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/uptrace/bun"

	"github.com/redmonkez12/go-user-service/internal/database"
)

// Repository handles user data persistence
type Repository struct {
	db  *bun.DB
	now func() time.Time
}

func NewRepository(db *bun.DB) *Repository {
	return &Repository{db: db, now: time.Now}
}

// Create inserts a new active user and returns it with the store-assigned ID.
func (r *Repository) Create(ctx context.Context, u *User) (*User, error) {
	now := r.timestamp()
	dbUser := &database.User{
		Username:     u.Username,
		Email:        u.Email,
		PasswordHash: u.PasswordHash,
		FirstName:    u.FirstName,
		LastName:     u.LastName,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	_, err := r.db.NewInsert().
		Model(dbUser).
		Returning("*").
		Exec(ctx)

	if err != nil {
		if dup := duplicateError(err); dup != nil {
			return nil, dup
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	return mapDBUserToModel(dbUser), nil
}

// FindByUsername retrieves a user by exact username
func (r *Repository) FindByUsername(ctx context.Context, username string) (*User, error) {
	return r.findOne(ctx, "username = ?", username)
}

// FindByEmail retrieves a user by exact email
func (r *Repository) FindByEmail(ctx context.Context, email string) (*User, error) {
	return r.findOne(ctx, "email = ?", email)
}

// FindByID retrieves a user by ID
func (r *Repository) FindByID(ctx context.Context, id int64) (*User, error) {
	return r.findOne(ctx, "id = ?", id)
}

// FindByIDForUpdate is FindByID; the repository has no cache to bypass.
func (r *Repository) FindByIDForUpdate(ctx context.Context, id int64) (*User, error) {
	return r.findOne(ctx, "id = ?", id)
}

func (r *Repository) findOne(ctx context.Context, where string, arg any) (*User, error) {
	dbUser := new(database.User)
	err := r.db.NewSelect().
		Model(dbUser).
		Where(where, arg).
		Limit(1).
		Scan(ctx)

	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get user by %s: %w", strings.TrimSuffix(where, " = ?"), err)
	}

	return mapDBUserToModel(dbUser), nil
}

// Update persists the mutable fields of u in a single statement and refreshes
// u.UpdatedAt, which always moves forward even under clock skew.
func (r *Repository) Update(ctx context.Context, u *User) error {
	updatedAt := r.timestamp()
	if !updatedAt.After(u.UpdatedAt) {
		updatedAt = u.UpdatedAt.Add(time.Microsecond)
	}

	dbUser := mapModelToDBUser(u)
	dbUser.UpdatedAt = updatedAt

	result, err := r.db.NewUpdate().
		Model(dbUser).
		Column("username", "email", "password_hash", "first_name", "last_name", "updated_at").
		WherePK().
		Exec(ctx)

	if err != nil {
		if dup := duplicateError(err); dup != nil {
			return dup
		}
		return fmt.Errorf("failed to update user: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return ErrNotFound
	}

	u.UpdatedAt = updatedAt
	return nil
}

// Delete permanently removes a user
func (r *Repository) Delete(ctx context.Context, id int64) error {
	result, err := r.db.NewDelete().
		Model((*database.User)(nil)).
		Where("id = ?", id).
		Exec(ctx)

	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

// timestamp is the current time at the precision every supported store keeps.
func (r *Repository) timestamp() time.Time {
	return r.now().UTC().Truncate(time.Microsecond)
}

// duplicateError maps a unique-constraint violation to the matching sentinel.
// It returns nil for any other error.
func duplicateError(err error) error {
	detail, ok := database.UniqueViolation(err)
	if !ok {
		return nil
	}

	switch {
	case strings.Contains(detail, "users_username_key"), strings.Contains(detail, "users.username"):
		return ErrDuplicateUsername
	case strings.Contains(detail, "users_email_key"), strings.Contains(detail, "users.email"):
		return ErrDuplicateEmail
	}
	return nil
}

// mapDBUserToModel converts database model to domain model
func mapDBUserToModel(dbu *database.User) *User {
	return &User{
		ID:           dbu.ID,
		Username:     dbu.Username,
		Email:        dbu.Email,
		PasswordHash: dbu.PasswordHash,
		FirstName:    dbu.FirstName,
		LastName:     dbu.LastName,
		IsActive:     dbu.IsActive,
		CreatedAt:    dbu.CreatedAt.UTC(),
		UpdatedAt:    dbu.UpdatedAt.UTC(),
	}
}

func mapModelToDBUser(u *User) *database.User {
	return &database.User{
		ID:           u.ID,
		Username:     u.Username,
		Email:        u.Email,
		PasswordHash: u.PasswordHash,
		FirstName:    u.FirstName,
		LastName:     u.LastName,
		IsActive:     u.IsActive,
		CreatedAt:    u.CreatedAt,
		UpdatedAt:    u.UpdatedAt,
	}
}
