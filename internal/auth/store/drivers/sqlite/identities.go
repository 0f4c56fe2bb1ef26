package sqlite

import (
	"context"

	"github.com/create-newspulse/newspulse-auth/internal/auth/domain"
	"github.com/create-newspulse/newspulse-auth/internal/auth/store"
)

type identitiesRepo struct {
	db DBTX
}

const identityColumns = `id, email, display_name, password_hash, role, status, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIdentity(row rowScanner) (domain.Identity, error) {
	var (
		i      domain.Identity
		role   string
		status string
	)
	err := row.Scan(&i.ID, &i.Email, &i.DisplayName, &i.PasswordHash, &role, &status, &i.CreatedAt, &i.UpdatedAt)
	if err != nil {
		return domain.Identity{}, mapNotFound(err)
	}
	i.Role = domain.Role(role)
	i.Status = domain.IdentityStatus(status)
	i.CreatedAt = i.CreatedAt.UTC()
	i.UpdatedAt = i.UpdatedAt.UTC()
	return i, nil
}

func (r *identitiesRepo) GetIdentityByID(ctx context.Context, id string) (domain.Identity, error) {
	return scanIdentity(r.db.QueryRowContext(ctx,
		`SELECT `+identityColumns+` FROM identities WHERE id = ?`, id))
}

func (r *identitiesRepo) GetIdentityByEmail(ctx context.Context, email string) (domain.Identity, error) {
	return scanIdentity(r.db.QueryRowContext(ctx,
		`SELECT `+identityColumns+` FROM identities WHERE email = ? COLLATE NOCASE`, domain.NormalizeEmail(email)))
}

func (r *identitiesRepo) CreateIdentity(ctx context.Context, i domain.Identity) error {
	ts := now()
	if i.Status == "" {
		i.Status = domain.StatusActive
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO identities (`+identityColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		i.ID, domain.NormalizeEmail(i.Email), i.DisplayName, i.PasswordHash, string(i.Role), string(i.Status), ts, ts,
	)
	return mapConstraint(err)
}

func (r *identitiesRepo) UpdatePasswordHash(ctx context.Context, id, hash string) error {
	return r.update(ctx, `UPDATE identities SET password_hash = ?, updated_at = ? WHERE id = ?`, hash, now(), id)
}

func (r *identitiesRepo) UpdateStatus(ctx context.Context, id string, status domain.IdentityStatus) error {
	return r.update(ctx, `UPDATE identities SET status = ?, updated_at = ? WHERE id = ?`, string(status), now(), id)
}

func (r *identitiesRepo) UpdateRole(ctx context.Context, id string, role domain.Role) error {
	return r.update(ctx, `UPDATE identities SET role = ?, updated_at = ? WHERE id = ?`, string(role), now(), id)
}

func (r *identitiesRepo) update(ctx context.Context, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
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

func (r *identitiesRepo) ListIdentities(ctx context.Context) ([]domain.Identity, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+identityColumns+` FROM identities ORDER BY created_at, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Identity
	for rows.Next() {
		i, err := scanIdentity(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, i)
	}
	return out, rows.Err()
}
