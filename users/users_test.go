package users_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/ufcsu/clubportal/clubs/store"
	"github.com/ufcsu/clubportal/users"
)

func newService() *users.Service {
	return &users.Service{Store: store.NewMemory(), Cost: bcrypt.MinCost}
}

func TestCreateUser(t *testing.T) {
	svc := newService()
	ctx := context.Background()

	u, err := svc.CreateUser(ctx, users.CreateParams{
		Email:     " Ada@Example.org ",
		FirstName: "Ada",
		LastName:  "Lovelace",
		Password:  "engine42",
	})
	require.NoError(t, err)

	assert.NotZero(t, u.ID)
	assert.NotEmpty(t, u.UUID)
	assert.Equal(t, "ada@example.org", u.Email)
	assert.Equal(t, "ada@example.org", u.Username)
	assert.Equal(t, "Ada Lovelace", u.DisplayName())
	assert.NotEqual(t, "engine42", u.PasswordHash)

	require.NoError(t, svc.CheckPassword(u, "engine42"))
	assert.ErrorIs(t, svc.CheckPassword(u, "wrong"), users.ErrBadPassword)
}

func TestCreateUser_Validation(t *testing.T) {
	svc := newService()
	ctx := context.Background()

	_, err := svc.CreateUser(ctx, users.CreateParams{Email: "", Password: "secret"})
	assert.ErrorIs(t, err, users.ErrInvalid)

	_, err = svc.CreateUser(ctx, users.CreateParams{Email: "not-an-email", Password: "secret"})
	assert.ErrorIs(t, err, users.ErrInvalid)

	_, err = svc.CreateUser(ctx, users.CreateParams{Email: "a@example.org", Password: "1234"})
	assert.ErrorIs(t, err, users.ErrInvalid)
}

func TestCreateUser_DuplicateEmail(t *testing.T) {
	svc := newService()
	ctx := context.Background()

	_, err := svc.CreateUser(ctx, users.CreateParams{Email: "a@example.org", Password: "secret"})
	require.NoError(t, err)

	_, err = svc.CreateUser(ctx, users.CreateParams{Email: "A@example.org", Password: "secret"})
	assert.ErrorIs(t, err, users.ErrEmailTaken)
}

func TestUpdateUser(t *testing.T) {
	svc := newService()
	ctx := context.Background()

	u, err := svc.CreateUser(ctx, users.CreateParams{Email: "a@example.org", Password: "secret"})
	require.NoError(t, err)

	name := "ada"
	pw := "newsecret"
	updated, err := svc.UpdateUser(ctx, u.ID, users.UpdateParams{Username: &name, Password: &pw})
	require.NoError(t, err)
	assert.Equal(t, "ada", updated.Username)
	assert.Equal(t, "ada", updated.DisplayName())

	stored, err := svc.GetUser(ctx, u.ID)
	require.NoError(t, err)
	require.NoError(t, svc.CheckPassword(stored, "newsecret"))

	_, err = svc.UpdateUser(ctx, 999, users.UpdateParams{Username: &name})
	assert.ErrorIs(t, err, users.ErrNotFound)
}
