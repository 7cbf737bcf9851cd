package user

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/redmonkez12/go-user-service/internal/testutil"
)

func strPtr(s string) *string { return &s }

func newTestRepository(t *testing.T) *Repository {
	t.Helper()
	return NewRepository(testutil.OpenSQLite(t))
}

func TestRepository_CreateAndFind(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	created, err := repo.Create(ctx, &User{
		Username:     "alice",
		Email:        "alice@x.com",
		PasswordHash: "digest",
		FirstName:    strPtr("Alice"),
	})
	require.NoError(t, err)

	assert.Positive(t, created.ID)
	assert.True(t, created.IsActive)
	assert.False(t, created.CreatedAt.IsZero())
	assert.True(t, created.CreatedAt.Equal(created.UpdatedAt))
	require.NotNil(t, created.FirstName)
	assert.Equal(t, "Alice", *created.FirstName)
	assert.Nil(t, created.LastName)

	byID, err := repo.FindByID(ctx, created.ID)
	require.NoError(t, err)
	require.NotNil(t, byID)
	assert.Equal(t, "alice", byID.Username)
	assert.Equal(t, "digest", byID.PasswordHash)

	byName, err := repo.FindByUsername(ctx, "alice")
	require.NoError(t, err)
	require.NotNil(t, byName)
	assert.Equal(t, created.ID, byName.ID)

	byEmail, err := repo.FindByEmail(ctx, "alice@x.com")
	require.NoError(t, err)
	require.NotNil(t, byEmail)
	assert.Equal(t, created.ID, byEmail.ID)
}

func TestRepository_FindAbsentIsNotAnError(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	u, err := repo.FindByID(ctx, 42)
	assert.NoError(t, err)
	assert.Nil(t, u)

	u, err = repo.FindByUsername(ctx, "nobody")
	assert.NoError(t, err)
	assert.Nil(t, u)

	u, err = repo.FindByEmail(ctx, "nobody@x.com")
	assert.NoError(t, err)
	assert.Nil(t, u)
}

func TestRepository_CreateDuplicate(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	_, err := repo.Create(ctx, &User{Username: "alice", Email: "alice@x.com", PasswordHash: "h"})
	require.NoError(t, err)

	_, err = repo.Create(ctx, &User{Username: "alice", Email: "other@x.com", PasswordHash: "h"})
	assert.ErrorIs(t, err, ErrDuplicateUsername)

	_, err = repo.Create(ctx, &User{Username: "bob", Email: "alice@x.com", PasswordHash: "h"})
	assert.ErrorIs(t, err, ErrDuplicateEmail)
}

func TestRepository_ConcurrentCreateSameUsername(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	const workers = 8
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = repo.Create(ctx, &User{
				Username:     "racer",
				Email:        "racer" + string(rune('a'+i)) + "@x.com",
				PasswordHash: "h",
			})
		}(i)
	}
	wg.Wait()

	var ok, dup int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrDuplicateUsername):
			dup++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, workers-1, dup)
}

func TestRepository_Update(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	u, err := repo.Create(ctx, &User{Username: "alice", Email: "alice@x.com", PasswordHash: "h"})
	require.NoError(t, err)
	before := u.UpdatedAt

	u.FirstName = strPtr("Ann")
	u.LastName = strPtr("")
	u.Email = "ann@x.com"
	require.NoError(t, repo.Update(ctx, u))
	assert.True(t, u.UpdatedAt.After(before))

	got, err := repo.FindByID(ctx, u.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "ann@x.com", got.Email)
	require.NotNil(t, got.FirstName)
	assert.Equal(t, "Ann", *got.FirstName)
	require.NotNil(t, got.LastName)
	assert.Equal(t, "", *got.LastName)
	assert.True(t, got.UpdatedAt.After(got.CreatedAt))
	assert.True(t, got.CreatedAt.Equal(u.CreatedAt))
}

func TestRepository_UpdateKeepsUpdatedAtMonotonic(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	frozen := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	repo.now = func() time.Time { return frozen }

	u, err := repo.Create(ctx, &User{Username: "alice", Email: "alice@x.com", PasswordHash: "h"})
	require.NoError(t, err)

	require.NoError(t, repo.Update(ctx, u))
	first := u.UpdatedAt
	assert.True(t, first.After(frozen))

	require.NoError(t, repo.Update(ctx, u))
	assert.True(t, u.UpdatedAt.After(first))
}

func TestRepository_UpdateDuplicate(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	_, err := repo.Create(ctx, &User{Username: "alice", Email: "alice@x.com", PasswordHash: "h"})
	require.NoError(t, err)
	bob, err := repo.Create(ctx, &User{Username: "bob", Email: "bob@x.com", PasswordHash: "h"})
	require.NoError(t, err)

	bob.Username = "alice"
	assert.ErrorIs(t, repo.Update(ctx, bob), ErrDuplicateUsername)

	bob.Username = "bob"
	bob.Email = "alice@x.com"
	assert.ErrorIs(t, repo.Update(ctx, bob), ErrDuplicateEmail)
}

func TestRepository_UpdateMissing(t *testing.T) {
	repo := newTestRepository(t)

	err := repo.Update(context.Background(), &User{ID: 99, Username: "ghost", Email: "ghost@x.com", PasswordHash: "h"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRepository_Delete(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	u, err := repo.Create(ctx, &User{Username: "alice", Email: "alice@x.com", PasswordHash: "h"})
	require.NoError(t, err)

	require.NoError(t, repo.Delete(ctx, u.ID))

	got, err := repo.FindByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Nil(t, got)

	assert.ErrorIs(t, repo.Delete(ctx, u.ID), ErrNotFound)

	again, err := repo.Create(ctx, &User{Username: "alice", Email: "alice@x.com", PasswordHash: "h"})
	require.NoError(t, err)
	assert.Greater(t, again.ID, u.ID)
}
