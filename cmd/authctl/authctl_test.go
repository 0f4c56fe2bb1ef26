package main

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/create-newspulse/newspulse-auth/internal/auth/domain"
	"github.com/create-newspulse/newspulse-auth/internal/auth/store/drivers/sqlite"
	"github.com/create-newspulse/newspulse-auth/pkg/cryptox"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, dir string, args ...string) error {
	t.Helper()
	// A failed RunE skips PersistentPostRunE.
	if db != nil {
		_ = db.Close()
	}
	db, mtr = nil, nil
	rootCmd.SetArgs(append([]string{
		"--db", filepath.Join(dir, "auth.db"),
		"--pepper", filepath.Join(dir, "pepper"),
	}, args...))
	return rootCmd.ExecuteContext(context.Background())
}

func reopen(t *testing.T, dir string) *sqlite.Store {
	t.Helper()
	st, err := sqlite.NewStore(filepath.Join(dir, "auth.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func TestIdentityLifecycle(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	require.NoError(t, run(t, dir, "identity", "create",
		"--email", " Editor@NewsPulse.in ", "--role", "admin", "--password", "a long enough password"))

	err := run(t, dir, "identity", "create", "--email", "editor@newspulse.in", "--role", "admin", "--password", "another password")
	require.ErrorContains(t, err, "already exists")

	require.Error(t, run(t, dir, "identity", "create", "--email", "x@newspulse.in", "--role", "owner", "--password", "whatever123"))
	require.Error(t, run(t, dir, "identity", "create", "--email", "x@newspulse.in", "--role", "admin", "--password", "short"))

	st := reopen(t, dir)
	i, err := st.Identities().GetIdentityByEmail(ctx, "editor@newspulse.in")
	require.NoError(t, err)
	require.Equal(t, domain.RoleAdmin, i.Role)
	require.True(t, i.Active())

	cryptox.SetPepperPath(filepath.Join(dir, "pepper"))
	require.True(t, cryptox.NewArgon2Hasher().Verify(i.PasswordHash, "a long enough password"))

	require.NoError(t, run(t, dir, "identity", "suspend", "--email", "editor@newspulse.in"))
	i, err = st.Identities().GetIdentityByEmail(ctx, "editor@newspulse.in")
	require.NoError(t, err)
	require.Equal(t, domain.StatusSuspended, i.Status)

	require.NoError(t, run(t, dir, "identity", "role", "--email", "editor@newspulse.in", "--role", "employee"))
	i, err = st.Identities().GetIdentityByEmail(ctx, "editor@newspulse.in")
	require.NoError(t, err)
	require.Equal(t, domain.RoleEmployee, i.Role)

	require.ErrorContains(t, run(t, dir, "identity", "suspend", "--email", "nobody@newspulse.in"), "identity not found")
}

func TestLockdownCommands(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	require.NoError(t, run(t, dir, "bootstrap", "--email", "founder@newspulse.in", "--password", "founder password"))
	require.ErrorContains(t, run(t, dir, "bootstrap", "--email", "second@newspulse.in", "--password", "founder password"), "already exist")
	require.NoError(t, run(t, dir, "identity", "create", "--email", "admin@newspulse.in", "--role", "admin", "--password", "admin password"))

	require.Error(t, run(t, dir, "lockdown", "set", "--by", "admin@newspulse.in", "--reason", "nope"))

	require.NoError(t, run(t, dir, "lockdown", "set", "--by", "founder@newspulse.in", "--reason", "incident"))
	st := reopen(t, dir)
	state, err := st.Lock().GetLockState(ctx)
	require.NoError(t, err)
	require.True(t, state.Locked)
	require.Equal(t, "incident", state.Reason)

	require.NoError(t, run(t, dir, "lockdown", "clear", "--by", "founder@newspulse.in"))
	state, err = st.Lock().GetLockState(ctx)
	require.NoError(t, err)
	require.False(t, state.Locked)

	events, err := st.Lock().ListLockEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	require.Equal(t, domain.LockActionClear, events[0].Action)

	require.NoError(t, run(t, dir, "lockdown", "status"))
}
