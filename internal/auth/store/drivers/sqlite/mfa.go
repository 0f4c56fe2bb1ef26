package sqlite

import (
	"context"
	"database/sql"

	"github.com/create-newspulse/newspulse-auth/internal/auth/domain"
	"github.com/create-newspulse/newspulse-auth/internal/auth/store"
)

type mfaRepo struct {
	db DBTX
}

func (r *mfaRepo) GetMFARecord(ctx context.Context, identityID string) (domain.MFARecord, error) {
	var (
		rec       domain.MFARecord
		state     string
		secret    sql.NullString
		enabledAt sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT identity_id, state, totp_secret, webauthn_user_id, enabled_at, last_totp_step, created_at, updated_at
		FROM mfa_records WHERE identity_id = ?`, identityID,
	).Scan(&rec.IdentityID, &state, &secret, &rec.WebAuthnUserID, &enabledAt, &rec.LastTOTPStep, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return domain.MFARecord{}, mapNotFound(err)
	}
	rec.State = domain.MFAState(state)
	rec.TOTPSecretSealed = mapNullString(secret)
	rec.EnabledAt = mapNullTimePtr(enabledAt)
	rec.CreatedAt = rec.CreatedAt.UTC()
	rec.UpdatedAt = rec.UpdatedAt.UTC()
	return rec, nil
}

func (r *mfaRepo) BeginTOTPSetup(ctx context.Context, identityID, sealedSecret string) error {
	ts := now()
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO mfa_records (identity_id, state, totp_secret, created_at, updated_at)
		VALUES (?, 'pending_setup', ?, ?, ?)
		ON CONFLICT (identity_id) DO UPDATE SET
			state = 'pending_setup',
			totp_secret = excluded.totp_secret,
			updated_at = excluded.updated_at
		WHERE mfa_records.state <> 'enabled'`,
		identityID, sealedSecret, ts, ts,
	)
	return conflictUnlessAffected(res, err)
}

func (r *mfaRepo) EnableTOTP(ctx context.Context, identityID string, step int64) error {
	ts := now()
	res, err := r.db.ExecContext(ctx, `
		UPDATE mfa_records
		SET state = 'enabled', enabled_at = ?, last_totp_step = ?, updated_at = ?
		WHERE identity_id = ? AND state = 'pending_setup'`,
		ts, step, ts, identityID,
	)
	return conflictUnlessAffected(res, err)
}

func (r *mfaRepo) DisableTOTP(ctx context.Context, identityID string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE mfa_records
		SET state = 'none', totp_secret = NULL, enabled_at = NULL, updated_at = ?
		WHERE identity_id = ? AND state = 'enabled'`,
		now(), identityID,
	)
	return conflictUnlessAffected(res, err)
}

func (r *mfaRepo) AdvanceTOTPStep(ctx context.Context, identityID string, step int64) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE mfa_records SET last_totp_step = ?, updated_at = ?
		WHERE identity_id = ? AND last_totp_step < ?`,
		step, now(), identityID, step,
	)
	if err != nil {
		return false, err
	}
	return affected(res)
}

func (r *mfaRepo) EnsureWebAuthnUserID(ctx context.Context, identityID string, handle []byte) ([]byte, error) {
	ts := now()
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO mfa_records (identity_id, state, webauthn_user_id, created_at, updated_at)
		VALUES (?, 'none', ?, ?, ?)
		ON CONFLICT (identity_id) DO UPDATE SET
			webauthn_user_id = excluded.webauthn_user_id,
			updated_at = excluded.updated_at
		WHERE mfa_records.webauthn_user_id IS NULL`,
		identityID, handle, ts, ts,
	)
	if err != nil {
		return nil, mapConstraint(err)
	}

	var out []byte
	err = r.db.QueryRowContext(ctx,
		`SELECT webauthn_user_id FROM mfa_records WHERE identity_id = ?`, identityID,
	).Scan(&out)
	return out, mapNotFound(err)
}

func conflictUnlessAffected(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	ok, err := affected(res)
	if err != nil {
		return err
	}
	if !ok {
		return store.ErrConflict
	}
	return nil
}
