package service

import (
	"context"
	"database/sql"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/mkcamara/scolaris-core/internal/models"
	"github.com/mkcamara/scolaris-core/pkg/config"
	appErrors "github.com/mkcamara/scolaris-core/pkg/errors"
)

type fakeUsers struct {
	byID map[string]*models.User
}

func (f *fakeUsers) FindByID(_ context.Context, id string) (*models.User, error) {
	u, ok := f.byID[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return u, nil
}

type fakeResetter struct {
	deleted map[string]int64
	calls   int
}

func (f *fakeResetter) ResetDomain(context.Context, *sqlx.Tx) (map[string]int64, error) {
	f.calls++
	return f.deleted, nil
}

const resetPhrase = "SUPPRIMER TOUTES LES DONNEES"

func adminFixture(t *testing.T) (*AdminService, *fakeResetter, models.Actor) {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)

	users := &fakeUsers{byID: map[string]*models.User{
		"root": {ID: "root", Role: models.RoleSuperAdmin, PasswordHash: string(hash), Active: true},
	}}
	resets := &fakeResetter{deleted: map[string]int64{"payments": 12, "schedules": 4}}
	svc := NewAdminService(fakeTx{}, users, resets, nil,
		config.AdminConfig{ResetConfirmationPhrase: resetPhrase}, nil)
	root := models.Actor{UserID: "root", Role: models.RoleSuperAdmin}
	return svc, resets, root
}

func TestResetDomainHappyPath(t *testing.T) {
	svc, resets, root := adminFixture(t)

	result, err := svc.ResetDomain(context.Background(), root, ResetRequest{
		Password:     "s3cret",
		Confirmation: resetPhrase,
	})
	require.NoError(t, err)
	assert.Equal(t, int64(12), result.Deleted["payments"])
	assert.Equal(t, 1, resets.calls)
}

func TestResetDomainRequiresSuperAdmin(t *testing.T) {
	svc, resets, _ := adminFixture(t)

	_, err := svc.ResetDomain(context.Background(), accountant(), ResetRequest{
		Password:     "s3cret",
		Confirmation: resetPhrase,
	})
	assert.ErrorIs(t, err, appErrors.ErrAuthorization)
	assert.Equal(t, 0, resets.calls)
}

func TestResetDomainChecksPhraseAndPassword(t *testing.T) {
	svc, resets, root := adminFixture(t)

	_, err := svc.ResetDomain(context.Background(), root, ResetRequest{
		Password:     "s3cret",
		Confirmation: "wrong phrase",
	})
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	_, err = svc.ResetDomain(context.Background(), root, ResetRequest{
		Password:     "not-the-password",
		Confirmation: resetPhrase,
	})
	assert.ErrorIs(t, err, appErrors.ErrAuthorization)
	assert.Equal(t, 0, resets.calls)
}

func TestResetDomainDisabledWithoutPhrase(t *testing.T) {
	svc, _, root := adminFixture(t)
	svc.cfg.ResetConfirmationPhrase = ""

	_, err := svc.ResetDomain(context.Background(), root, ResetRequest{
		Password:     "s3cret",
		Confirmation: resetPhrase,
	})
	assert.ErrorIs(t, err, appErrors.ErrState)
}
