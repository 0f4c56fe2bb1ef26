package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/create-newspulse/newspulse-auth/internal/auth/domain"
	"github.com/create-newspulse/newspulse-auth/internal/auth/store"
)

type credentialsRepo struct {
	db DBTX
}

func (r *credentialsRepo) CreateCredential(ctx context.Context, c domain.WebAuthnCredential) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO webauthn_credentials (
			id, identity_id, name, public_key, attestation_type, aaguid, sign_count,
			transports, backup_eligible, backup_state, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.IdentityID, c.Name, c.PublicKey, c.AttestationType, c.AAGUID, int64(c.SignCount),
		joinList(c.Transports), c.BackupEligible, c.BackupState, now(),
	)
	return mapConstraint(err)
}

func (r *credentialsRepo) ListCredentials(ctx context.Context, identityID string) ([]domain.WebAuthnCredential, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, identity_id, name, public_key, attestation_type, aaguid, sign_count,
		       transports, backup_eligible, backup_state, created_at, last_used_at
		FROM webauthn_credentials WHERE identity_id = ? ORDER BY created_at`, identityID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.WebAuthnCredential
	for rows.Next() {
		var (
			c          domain.WebAuthnCredential
			signCount  int64
			transports string
			lastUsed   sql.NullTime
		)
		if err := rows.Scan(
			&c.ID, &c.IdentityID, &c.Name, &c.PublicKey, &c.AttestationType, &c.AAGUID, &signCount,
			&transports, &c.BackupEligible, &c.BackupState, &c.CreatedAt, &lastUsed,
		); err != nil {
			return nil, err
		}
		c.SignCount = uint32(signCount) // #nosec G115 - written from uint32
		c.Transports = splitList(transports)
		c.CreatedAt = c.CreatedAt.UTC()
		c.LastUsedAt = mapNullTimePtr(lastUsed)
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *credentialsRepo) UpdateSignCount(ctx context.Context, credentialID []byte, signCount uint32, usedAt time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE webauthn_credentials SET sign_count = ?, last_used_at = ? WHERE id = ?`,
		int64(signCount), usedAt.UTC(), credentialID,
	)
	if err != nil {
		return err
	}
	ok, err := affected(res)
	if err != nil {
		return err
	}
	if !ok {
		return store.ErrNotFound
	}
	return nil
}

func (r *credentialsRepo) DeleteCredential(ctx context.Context, identityID string, credentialID []byte) error {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM webauthn_credentials WHERE identity_id = ? AND id = ?`, identityID, credentialID)
	if err != nil {
		return err
	}
	ok, err := affected(res)
	if err != nil {
		return err
	}
	if !ok {
		return store.ErrNotFound
	}
	return nil
}

func (r *credentialsRepo) CountCredentials(ctx context.Context, identityID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM webauthn_credentials WHERE identity_id = ?`, identityID).Scan(&n)
	return n, err
}
