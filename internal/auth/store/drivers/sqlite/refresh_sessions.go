package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/create-newspulse/newspulse-auth/internal/auth/domain"
)

type refreshSessionsRepo struct {
	db DBTX
}

func (r *refreshSessionsRepo) CreateRefreshSession(ctx context.Context, s domain.RefreshSession) error {
	ts := now()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (sid, identity_id, jti, amr, expires_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		s.SID, s.IdentityID, s.JTI, joinList(s.AMR), s.ExpiresAt.UTC(), ts, ts,
	)
	return mapConstraint(err)
}

func (r *refreshSessionsRepo) GetRefreshSession(ctx context.Context, sid string) (domain.RefreshSession, error) {
	var (
		s       domain.RefreshSession
		amr     string
		revoked sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT sid, identity_id, jti, amr, expires_at, revoked_at, created_at, updated_at
		FROM refresh_sessions WHERE sid = ?`, sid,
	).Scan(&s.SID, &s.IdentityID, &s.JTI, &amr, &s.ExpiresAt, &revoked, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return domain.RefreshSession{}, mapNotFound(err)
	}
	s.AMR = splitList(amr)
	s.ExpiresAt = s.ExpiresAt.UTC()
	s.RevokedAt = mapNullTimePtr(revoked)
	s.CreatedAt = s.CreatedAt.UTC()
	s.UpdatedAt = s.UpdatedAt.UTC()
	return s, nil
}

func (r *refreshSessionsRepo) RotateRefreshSession(ctx context.Context, sid, oldJTI, newJTI string, expiresAt, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE refresh_sessions SET jti = ?, expires_at = ?, updated_at = ?
		WHERE sid = ? AND jti = ? AND revoked_at IS NULL AND expires_at > ?`,
		newJTI, expiresAt.UTC(), at.UTC(), sid, oldJTI, at.UTC(),
	)
	return conflictUnlessAffected(res, err)
}

func (r *refreshSessionsRepo) RevokeRefreshSession(ctx context.Context, sid string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE refresh_sessions SET revoked_at = ?, updated_at = ?
		WHERE sid = ? AND revoked_at IS NULL`, at.UTC(), at.UTC(), sid)
	return err
}

func (r *refreshSessionsRepo) RevokeIdentitySessions(ctx context.Context, identityID string, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE refresh_sessions SET revoked_at = ?, updated_at = ?
		WHERE identity_id = ? AND revoked_at IS NULL`, at.UTC(), at.UTC(), identityID)
	return err
}

func (r *refreshSessionsRepo) DeleteExpiredRefreshSessions(ctx context.Context, before time.Time) (int64, error) {
	cutoff := before.UTC()
	res, err := r.db.ExecContext(ctx, `
		DELETE FROM refresh_sessions
		WHERE expires_at < ? OR (revoked_at IS NOT NULL AND revoked_at < ?)`, cutoff, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

