package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/create-newspulse/newspulse-auth/internal/auth/domain"
	"github.com/create-newspulse/newspulse-auth/internal/auth/metrics"
	"github.com/create-newspulse/newspulse-auth/internal/auth/store"
	"github.com/create-newspulse/newspulse-auth/pkg/idx"
	"github.com/create-newspulse/newspulse-auth/pkg/slogx"
)

const maxLockReasonLength = 500

// LockdownService owns the platform-wide authority lock. The state lives in
// the database and is read on every check, so a change is visible to the
// very next guarded request.
type LockdownService struct {
	Store   store.Store
	Metrics *metrics.Metrics
	Now     func() time.Time
}

func (s *LockdownService) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// Set engages the lock. Only a founder may call it; anyone else is refused
// before the state is read or written.
func (s *LockdownService) Set(ctx context.Context, by domain.Principal, reason string) (domain.LockState, error) {
	if !by.Role.IsFounder() {
		slogx.FromContext(ctx).Warn("lockdown change refused",
			slog.String("identity_id", by.IdentityID),
			slog.String("role", by.Role.String()),
			slog.String("event", "lockdown"),
		)
		return domain.LockState{}, ErrUnauthorized
	}

	reason = truncateUTF8(strings.TrimSpace(reason), maxLockReasonLength)
	now := s.now()
	state := domain.LockState{Locked: true, Reason: reason, SetBy: by.IdentityID, SetAt: &now}

	if err := s.apply(ctx, state, domain.LockActionSet, by.IdentityID, reason); err != nil {
		return domain.LockState{}, err
	}
	return state, nil
}

// Clear releases the lock. Founder only.
func (s *LockdownService) Clear(ctx context.Context, by domain.Principal) (domain.LockState, error) {
	if !by.Role.IsFounder() {
		slogx.FromContext(ctx).Warn("lockdown change refused",
			slog.String("identity_id", by.IdentityID),
			slog.String("role", by.Role.String()),
			slog.String("event", "lockdown"),
		)
		return domain.LockState{}, ErrUnauthorized
	}

	now := s.now()
	state := domain.LockState{Locked: false, SetBy: by.IdentityID, SetAt: &now}
	if err := s.apply(ctx, state, domain.LockActionClear, by.IdentityID, ""); err != nil {
		return domain.LockState{}, err
	}
	return state, nil
}

func (s *LockdownService) apply(ctx context.Context, state domain.LockState, action domain.LockAction, by, reason string) error {
	err := s.Store.WithTx(ctx, func(tx store.Tx) error {
		if err := tx.Lock().SetLockState(ctx, state); err != nil {
			return err
		}
		return tx.Lock().AppendLockEvent(ctx, domain.LockEvent{
			ID:     idx.New().String(),
			Action: action,
			By:     by,
			Reason: reason,
			At:     *state.SetAt,
		})
	})
	if err != nil {
		return fmt.Errorf("failed to %s lockdown: %w", action, err)
	}

	s.Metrics.SetLockdown(state.Locked)
	slogx.FromContext(ctx).Warn("lockdown changed",
		slog.String("event", "lockdown"),
		slog.String("action", string(action)),
		slog.String("identity_id", by),
		slog.String("reason", reason),
	)
	return nil
}

// Get returns the current lock state.
func (s *LockdownService) Get(ctx context.Context) (domain.LockState, error) {
	return s.Store.Lock().GetLockState(ctx)
}

// IsLocked reports the lock flag. A failed read counts as locked.
func (s *LockdownService) IsLocked(ctx context.Context) bool {
	state, err := s.Get(ctx)
	if err != nil {
		slogx.FromContext(ctx).Error("lockdown state unreadable, treating as locked", slog.Any("error", err))
		return true
	}
	return state.Locked
}

// Events returns the most recent lock changes, newest first.
func (s *LockdownService) Events(ctx context.Context, limit int) ([]domain.LockEvent, error) {
	return s.Store.Lock().ListLockEvents(ctx, limit)
}

// truncateUTF8 cuts s to at most n bytes without splitting a rune.
func truncateUTF8(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
