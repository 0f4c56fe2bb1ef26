package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/create-newspulse/newspulse-auth/internal/auth/domain"
	"github.com/create-newspulse/newspulse-auth/internal/auth/store"
	"github.com/create-newspulse/newspulse-auth/pkg/cryptox"
	"github.com/create-newspulse/newspulse-auth/pkg/idx"
	"github.com/create-newspulse/newspulse-auth/pkg/slogx"
)

var (
	ErrAlreadyBootstrapped = errors.New("identities already exist")
	ErrIdentityExists      = errors.New("an identity with this email already exists")
	ErrIdentityNotFound    = errors.New("identity not found")
)

// NewIdentity describes an account to create.
type NewIdentity struct {
	Email       string
	DisplayName string
	Role        domain.Role
	Password    string
}

// IdentityService administers accounts. It backs the operator CLI; the
// HTTP surface never creates or edits identities.
type IdentityService struct {
	Store  store.Store
	Hasher cryptox.Hasher
	Now    func() time.Time
}

func (s *IdentityService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// Bootstrap creates the first founder. It refuses once any identity exists.
func (s *IdentityService) Bootstrap(ctx context.Context, req NewIdentity) (domain.Identity, error) {
	l := slogx.FromContext(ctx)

	existing, err := s.Store.Identities().ListIdentities(ctx)
	if err != nil {
		return domain.Identity{}, err
	}
	if len(existing) > 0 {
		l.Warn("attempted bootstrap on already-bootstrapped system")
		return domain.Identity{}, ErrAlreadyBootstrapped
	}

	req.Role = domain.RoleFounder
	i, err := s.Create(ctx, req)
	if err != nil {
		return domain.Identity{}, err
	}
	l.Info("successfully bootstrapped founder", slog.String("identity_id", i.ID))
	return i, nil
}

// Create validates and stores a new active identity.
func (s *IdentityService) Create(ctx context.Context, req NewIdentity) (domain.Identity, error) {
	email := domain.NormalizeEmail(req.Email)
	if !strings.Contains(email, "@") {
		return domain.Identity{}, fmt.Errorf("%w: invalid email", ErrInvalidRequest)
	}
	if !req.Role.Valid() {
		return domain.Identity{}, fmt.Errorf("%w: invalid role %q", ErrInvalidRequest, req.Role)
	}
	if err := ValidatePassword(req.Password); err != nil {
		return domain.Identity{}, err
	}

	hash, err := s.Hasher.Hash(req.Password)
	if err != nil {
		return domain.Identity{}, fmt.Errorf("failed to hash password: %w", err)
	}

	i := domain.Identity{
		ID:           idx.New().String(),
		Email:        email,
		DisplayName:  strings.TrimSpace(req.DisplayName),
		PasswordHash: hash,
		Role:         req.Role,
		Status:       domain.StatusActive,
	}
	if err := s.Store.Identities().CreateIdentity(ctx, i); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			return domain.Identity{}, ErrIdentityExists
		}
		return domain.Identity{}, err
	}
	return i, nil
}

// Get looks an identity up by email.
func (s *IdentityService) Get(ctx context.Context, email string) (domain.Identity, error) {
	i, err := s.Store.Identities().GetIdentityByEmail(ctx, domain.NormalizeEmail(email))
	if errors.Is(err, store.ErrNotFound) {
		return domain.Identity{}, ErrIdentityNotFound
	}
	return i, err
}

func (s *IdentityService) List(ctx context.Context) ([]domain.Identity, error) {
	return s.Store.Identities().ListIdentities(ctx)
}

// SetStatus changes an identity's status. Suspending also ends every
// session, so the next refresh fails.
func (s *IdentityService) SetStatus(ctx context.Context, email string, status domain.IdentityStatus) (domain.Identity, error) {
	i, err := s.Get(ctx, email)
	if err != nil {
		return domain.Identity{}, err
	}
	err = s.Store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.Identities().UpdateStatus(ctx, i.ID, status); err != nil {
			return err
		}
		if status == domain.StatusSuspended {
			return tx.RefreshSessions().RevokeIdentitySessions(ctx, i.ID, s.now())
		}
		return nil
	})
	if err != nil {
		return domain.Identity{}, fmt.Errorf("failed to update status: %w", err)
	}
	i.Status = status
	slogx.FromContext(ctx).Info("identity status changed",
		slog.String("identity_id", i.ID),
		slog.String("status", string(status)),
	)
	return i, nil
}

// SetRole changes an identity's role and ends its sessions: access tokens
// carry the role, so a session must not outlive the change.
func (s *IdentityService) SetRole(ctx context.Context, email string, role domain.Role) (domain.Identity, error) {
	if !role.Valid() {
		return domain.Identity{}, fmt.Errorf("%w: invalid role %q", ErrInvalidRequest, role)
	}
	i, err := s.Get(ctx, email)
	if err != nil {
		return domain.Identity{}, err
	}
	err = s.Store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.Identities().UpdateRole(ctx, i.ID, role); err != nil {
			return err
		}
		return tx.RefreshSessions().RevokeIdentitySessions(ctx, i.ID, s.now())
	})
	if err != nil {
		return domain.Identity{}, fmt.Errorf("failed to update role: %w", err)
	}
	i.Role = role
	slogx.FromContext(ctx).Info("identity role changed",
		slog.String("identity_id", i.ID),
		slog.String("role", role.String()),
	)
	return i, nil
}

// RevokeSessions signs an identity out everywhere. Access tokens already
// issued stay valid until they expire.
func (s *IdentityService) RevokeSessions(ctx context.Context, email string) (domain.Identity, error) {
	i, err := s.Get(ctx, email)
	if err != nil {
		return domain.Identity{}, err
	}
	if err := s.Store.RefreshSessions().RevokeIdentitySessions(ctx, i.ID, s.now()); err != nil {
		return domain.Identity{}, fmt.Errorf("failed to revoke sessions: %w", err)
	}
	return i, nil
}
