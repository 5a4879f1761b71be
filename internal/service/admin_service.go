package service

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/mkcamara/scolaris-core/internal/models"
	"github.com/mkcamara/scolaris-core/pkg/config"
	appErrors "github.com/mkcamara/scolaris-core/pkg/errors"
)

type userReader interface {
	FindByID(ctx context.Context, id string) (*models.User, error)
}

type domainResetter interface {
	ResetDomain(ctx context.Context, tx *sqlx.Tx) (map[string]int64, error)
}

// ResetRequest re-authenticates the caller before the purge.
type ResetRequest struct {
	Password     string `json:"password"`
	Confirmation string `json:"confirmation"`
}

// ResetResult reports what the purge removed.
type ResetResult struct {
	Deleted map[string]int64 `json:"deleted"`
}

// AdminService owns the destructive reset surface. The purge requires a
// SUPERADMIN actor, a fresh password check against the stored hash, and the
// configured confirmation phrase typed back verbatim.
type AdminService struct {
	tx      txRunner
	users   userReader
	resets  domainResetter
	cache   *CacheService
	cfg     config.AdminConfig
	logger  *zap.Logger
}

// NewAdminService constructs an AdminService.
func NewAdminService(tx txRunner, users userReader, resets domainResetter, cache *CacheService, cfg config.AdminConfig, logger *zap.Logger) *AdminService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AdminService{
		tx:     tx,
		users:  users,
		resets: resets,
		cache:  cache,
		cfg:    cfg,
		logger: logger,
	}
}

// ResetDomain purges all domain data in one transaction. Accounts, schools
// and classes survive; everything billing, grading, transport and payroll
// related goes.
func (s *AdminService) ResetDomain(ctx context.Context, actor models.Actor, req ResetRequest) (*ResetResult, error) {
	if actor.Role != models.RoleSuperAdmin {
		return nil, appErrors.Clone(appErrors.ErrAuthorization, "only SUPERADMIN may reset domain data")
	}
	if s.cfg.ResetConfirmationPhrase == "" {
		return nil, appErrors.Clone(appErrors.ErrState, "reset is disabled: no confirmation phrase configured")
	}
	if req.Confirmation != s.cfg.ResetConfirmationPhrase {
		return nil, appErrors.Clone(appErrors.ErrValidation, "confirmation phrase does not match")
	}

	user, err := s.users.FindByID(ctx, actor.UserID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrAuthorization, "")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load account")
	}
	if !user.Active {
		return nil, appErrors.Clone(appErrors.ErrAuthorization, "account is inactive")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		return nil, appErrors.Clone(appErrors.ErrAuthorization, "password check failed")
	}

	var deleted map[string]int64
	err = s.tx.RunInTx(ctx, func(tx *sqlx.Tx) error {
		deleted, err = s.resets.ResetDomain(ctx, tx)
		if err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "domain reset failed")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.cache.InvalidateAll(ctx)

	var total int64
	for _, n := range deleted {
		total += n
	}
	s.logger.Warn("domain data reset",
		zap.String("user_id", user.ID),
		zap.Int64("rows_deleted", total))
	return &ResetResult{Deleted: deleted}, nil
}
