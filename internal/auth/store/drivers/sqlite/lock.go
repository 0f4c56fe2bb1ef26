package sqlite

import (
	"context"
	"database/sql"

	"github.com/create-newspulse/newspulse-auth/internal/auth/domain"
)

type lockRepo struct {
	db DBTX
}

func (r *lockRepo) GetLockState(ctx context.Context) (domain.LockState, error) {
	var (
		s     domain.LockState
		setAt sql.NullTime
	)
	err := r.db.QueryRowContext(ctx,
		`SELECT locked, reason, set_by, set_at FROM lock_state WHERE id = 1`,
	).Scan(&s.Locked, &s.Reason, &s.SetBy, &setAt)
	if err != nil {
		return domain.LockState{}, mapNotFound(err)
	}
	s.SetAt = mapNullTimePtr(setAt)
	return s, nil
}

func (r *lockRepo) SetLockState(ctx context.Context, s domain.LockState) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO lock_state (id, locked, reason, set_by, set_at) VALUES (1, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			locked = excluded.locked,
			reason = excluded.reason,
			set_by = excluded.set_by,
			set_at = excluded.set_at`,
		s.Locked, s.Reason, s.SetBy, mapOptionalTime(s.SetAt),
	)
	return err
}

func (r *lockRepo) AppendLockEvent(ctx context.Context, e domain.LockEvent) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO lock_events (id, action, actor, reason, at) VALUES (?, ?, ?, ?, ?)`,
		e.ID, string(e.Action), e.By, e.Reason, e.At.UTC(),
	)
	return mapConstraint(err)
}

// ListLockEvents returns the newest events first.
func (r *lockRepo) ListLockEvents(ctx context.Context, limit int) ([]domain.LockEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, action, actor, reason, at FROM lock_events
		ORDER BY at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.LockEvent
	for rows.Next() {
		var (
			e      domain.LockEvent
			action string
		)
		if err := rows.Scan(&e.ID, &action, &e.By, &e.Reason, &e.At); err != nil {
			return nil, err
		}
		e.Action = domain.LockAction(action)
		e.At = e.At.UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}
