package apikeys

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/angelmondragon/merchcoin-backend/internal/tenancy"
	"github.com/angelmondragon/merchcoin-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/merchcoin-backend/pkg/errors"
	"github.com/angelmondragon/merchcoin-backend/pkg/logger"
)

const maxNameLength = 100

// IssueInput describes a new credential.
type IssueInput struct {
	TenantID    uuid.UUID
	Name        string
	Permissions []string
	ExpiresAt   *time.Time
	CreatedBy   string
}

// IssuedCredential carries the plaintext token, returned only at issue time.
type IssuedCredential struct {
	Credential models.APICredential `json:"credential"`
	Token      string               `json:"token"`
}

// Principal is an authenticated programmatic caller.
type Principal struct {
	CredentialID uuid.UUID
	TenantID     uuid.UUID
	Name         string
	Capabilities CapabilitySet
}

// ServiceParams wires the credential service.
type ServiceParams struct {
	Tenancy    tenancy.Runner
	Repository *Repository
	Hasher     *Hasher
	Logger     *logger.Logger
	Now        func() time.Time
}

// Service issues and authenticates API credentials.
type Service struct {
	tenancy tenancy.Runner
	repo    *Repository
	hasher  *Hasher
	logg    *logger.Logger
	now     func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Tenancy == nil {
		return nil, errors.New("tenancy runner required")
	}
	if params.Repository == nil {
		return nil, errors.New("api key repository required")
	}
	if params.Hasher == nil {
		return nil, errors.New("api key hasher required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger required")
	}
	if params.Now == nil {
		params.Now = time.Now
	}
	return &Service{
		tenancy: params.Tenancy,
		repo:    params.Repository,
		hasher:  params.Hasher,
		logg:    params.Logger,
		now:     params.Now,
	}, nil
}

// Issue stores a new credential and returns its plaintext once.
func (s *Service) Issue(ctx context.Context, input IssueInput) (*IssuedCredential, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" || len(name) > maxNameLength {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "name is required and must be at most 100 characters")
	}
	caps, err := ParseCapabilities(input.Permissions)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid permissions")
	}
	if caps.IsEmpty() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "at least one permission is required")
	}
	if input.ExpiresAt != nil && !input.ExpiresAt.After(s.now()) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "expiresAt must be in the future")
	}

	token, display, err := GenerateToken()
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "generate api key")
	}
	credential := models.APICredential{
		TenantID:      input.TenantID,
		Name:          name,
		DisplayPrefix: display,
		KeyHash:       s.hasher.Hash(token),
		Permissions:   datatypes.JSONSlice[string](caps.Tokens()),
		CreatedBy:     input.CreatedBy,
		ExpiresAt:     input.ExpiresAt,
	}
	if err := s.tenancy.Run(ctx, input.TenantID, func(ctx context.Context, tx *gorm.DB) error {
		return s.repo.WithTx(tx).Create(ctx, &credential)
	}); err != nil {
		return nil, err
	}
	s.logg.Info(s.logg.WithFields(ctx, map[string]any{
		"tenant_id":     input.TenantID.String(),
		"credential_id": credential.ID.String(),
	}), "api_key.issued")
	return &IssuedCredential{Credential: credential, Token: token}, nil
}

func (s *Service) List(ctx context.Context, tenantID uuid.UUID) ([]models.APICredential, error) {
	var rows []models.APICredential
	err := s.tenancy.Run(ctx, tenantID, func(ctx context.Context, tx *gorm.DB) error {
		var err error
		rows, err = s.repo.WithTx(tx).List(ctx, tenantID)
		return err
	})
	return rows, err
}

// Revoke is idempotent; an unknown id fails NOT_FOUND.
func (s *Service) Revoke(ctx context.Context, tenantID, credentialID uuid.UUID) error {
	return s.tenancy.Run(ctx, tenantID, func(ctx context.Context, tx *gorm.DB) error {
		found, err := s.repo.WithTx(tx).Revoke(ctx, tenantID, credentialID, s.now().UTC())
		if err != nil {
			return err
		}
		if !found {
			return pkgerrors.New(pkgerrors.CodeNotFound, "api key not found")
		}
		return nil
	})
}

// Authenticate resolves a presented token to its principal. Unknown, revoked
// and expired credentials fail UNAUTHORIZED; a tenant plan without API
// access fails FORBIDDEN.
func (s *Service) Authenticate(ctx context.Context, token string) (*Principal, error) {
	token = strings.TrimSpace(token)
	if err := validateTokenFormat(token); err != nil {
		return nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "invalid api key")
	}
	hash := s.hasher.Hash(token)
	now := s.now().UTC()

	var principal *Principal
	err := s.tenancy.RunSystem(ctx, func(ctx context.Context, tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		credential, tenant, err := repo.FindByHash(ctx, hash)
		if err != nil {
			return err
		}
		switch {
		case credential == nil || tenant == nil:
			return pkgerrors.New(pkgerrors.CodeUnauthorized, "invalid api key")
		case credential.RevokedAt != nil:
			return pkgerrors.New(pkgerrors.CodeUnauthorized, "api key revoked")
		case credential.ExpiresAt != nil && !credential.ExpiresAt.After(now):
			return pkgerrors.New(pkgerrors.CodeUnauthorized, "api key expired")
		case !tenant.Plan.AllowsAPIAccess():
			return pkgerrors.New(pkgerrors.CodeForbidden, "plan does not include api access")
		}
		caps, err := ParseCapabilities(credential.Permissions)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "stored permissions invalid")
		}
		if err := repo.TouchLastUsed(ctx, credential.ID, now); err != nil {
			return err
		}
		principal = &Principal{
			CredentialID: credential.ID,
			TenantID:     credential.TenantID,
			Name:         credential.Name,
			Capabilities: caps,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return principal, nil
}
