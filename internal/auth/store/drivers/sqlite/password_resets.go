package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/create-newspulse/newspulse-auth/internal/auth/domain"
)

type passwordResetsRepo struct {
	db DBTX
}

func (r *passwordResetsRepo) CreatePasswordReset(ctx context.Context, p domain.PasswordReset) error {
	created := p.CreatedAt
	if created.IsZero() {
		created = now()
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO password_resets (id, identity_id, token_hash, expires_at, used_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		p.ID, p.IdentityID, p.TokenHash, p.ExpiresAt.UTC(), mapOptionalTime(p.UsedAt), created.UTC(),
	)
	return mapConstraint(err)
}

func (r *passwordResetsRepo) GetPasswordReset(ctx context.Context, id string) (domain.PasswordReset, error) {
	var (
		p      domain.PasswordReset
		usedAt sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT id, identity_id, token_hash, expires_at, used_at, created_at
		FROM password_resets WHERE id = ?`, id,
	).Scan(&p.ID, &p.IdentityID, &p.TokenHash, &p.ExpiresAt, &usedAt, &p.CreatedAt)
	if err != nil {
		return domain.PasswordReset{}, mapNotFound(err)
	}
	p.ExpiresAt = p.ExpiresAt.UTC()
	p.CreatedAt = p.CreatedAt.UTC()
	p.UsedAt = mapNullTimePtr(usedAt)
	return p, nil
}

func (r *passwordResetsRepo) MarkPasswordResetUsed(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE password_resets SET used_at = ? WHERE id = ? AND used_at IS NULL`, at.UTC(), id)
	if err != nil {
		return false, err
	}
	return affected(res)
}

func (r *passwordResetsRepo) DeleteStalePasswordResets(ctx context.Context, before time.Time) (int64, error) {
	cutoff := before.UTC()
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM password_resets WHERE expires_at < ? OR (used_at IS NOT NULL AND used_at < ?)`, cutoff, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
