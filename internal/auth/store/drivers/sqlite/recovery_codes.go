package sqlite

import (
	"context"

	"github.com/create-newspulse/newspulse-auth/internal/auth/domain"
)

type recoveryCodesRepo struct {
	db DBTX
}

// ReplaceRecoveryCodes is not atomic on its own; callers run it inside
// WithTx when the old set must never be observed half-replaced.
func (r *recoveryCodesRepo) ReplaceRecoveryCodes(ctx context.Context, identityID string, codes []domain.RecoveryCode) error {
	if err := r.DeleteAllRecoveryCodes(ctx, identityID); err != nil {
		return err
	}
	ts := now()
	for _, c := range codes {
		if _, err := r.db.ExecContext(ctx, `
			INSERT INTO recovery_codes (id, identity_id, position, code_hash, created_at)
			VALUES (?, ?, ?, ?, ?)`,
			c.ID, identityID, c.Position, c.Hash, ts,
		); err != nil {
			return mapConstraint(err)
		}
	}
	return nil
}

func (r *recoveryCodesRepo) ListRecoveryCodes(ctx context.Context, identityID string) ([]domain.RecoveryCode, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, identity_id, position, code_hash, created_at
		FROM recovery_codes WHERE identity_id = ? ORDER BY position`, identityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.RecoveryCode
	for rows.Next() {
		var c domain.RecoveryCode
		if err := rows.Scan(&c.ID, &c.IdentityID, &c.Position, &c.Hash, &c.CreatedAt); err != nil {
			return nil, err
		}
		c.CreatedAt = c.CreatedAt.UTC()
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *recoveryCodesRepo) DeleteRecoveryCode(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM recovery_codes WHERE id = ?`, id)
	if err != nil {
		return false, err
	}
	return affected(res)
}

func (r *recoveryCodesRepo) DeleteAllRecoveryCodes(ctx context.Context, identityID string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM recovery_codes WHERE identity_id = ?`, identityID)
	return err
}

func (r *recoveryCodesRepo) CountRecoveryCodes(ctx context.Context, identityID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM recovery_codes WHERE identity_id = ?`, identityID).Scan(&n)
	return n, err
}
