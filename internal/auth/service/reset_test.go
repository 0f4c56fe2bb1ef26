package service

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/create-newspulse/newspulse-auth/internal/auth/domain"
	"github.com/create-newspulse/newspulse-auth/pkg/idx"
	"github.com/create-newspulse/newspulse-auth/pkg/mailx"
	"github.com/stretchr/testify/require"
)

func resetReason(t *testing.T, err error) ResetReason {
	t.Helper()
	require.ErrorIs(t, err, ErrResetTokenInvalid)
	var rerr *ResetTokenError
	require.True(t, errors.As(err, &rerr))
	return rerr.Reason
}

func TestPasswordResetVerify(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	env := newTestEnv(t)
	id := env.seedIdentity(t, "reset@newspulse.test", domain.RoleAdmin)

	rec, token, err := env.resets.Create(ctx, id.ID, time.Hour)
	require.NoError(t, err)
	require.NotEqual(t, token, rec.TokenHash)

	got, err := env.resets.Verify(ctx, rec.ID, token)
	require.NoError(t, err)
	require.Equal(t, id.ID, got.IdentityID)

	_, err = env.resets.Verify(ctx, "missing", token)
	require.Equal(t, ResetNotFound, resetReason(t, err))
	_, err = env.resets.Verify(ctx, idx.New().String(), token)
	require.Equal(t, ResetNotFound, resetReason(t, err))

	_, err = env.resets.Verify(ctx, rec.ID, token+"x")
	require.Equal(t, ResetMismatch, resetReason(t, err))

	require.NoError(t, env.resets.MarkUsed(ctx, rec.ID))
	require.NoError(t, env.resets.MarkUsed(ctx, rec.ID))
	_, err = env.resets.Verify(ctx, rec.ID, token)
	require.Equal(t, ResetUsed, resetReason(t, err))

	t.Run("expired", func(t *testing.T) {
		rec, token, err := env.resets.Create(ctx, id.ID, time.Minute)
		require.NoError(t, err)
		env.resets.Now = func() time.Time { return time.Now().Add(2 * time.Minute) }
		defer func() { env.resets.Now = nil }()

		_, err = env.resets.Verify(ctx, rec.ID, token)
		require.Equal(t, ResetExpired, resetReason(t, err))
	})
}

func TestPasswordResetFlow(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	env := newTestEnv(t)
	id := env.seedIdentity(t, "writer@newspulse.test", domain.RoleEmployee)

	session, err := env.tokens.IssuePair(ctx, id, []string{AMRPassword})
	require.NoError(t, err)

	require.NoError(t, env.resets.RequestReset(ctx, "Writer@NewsPulse.test", "10.1.1.1"))
	env.resets.Wait()

	msg, ok := env.mailer.Last()
	require.True(t, ok)
	require.Equal(t, "writer@newspulse.test", msg.To)

	var link *url.URL
	for _, line := range strings.Split(msg.TextBody, "\n") {
		if strings.HasPrefix(line, "https://") {
			link, err = url.Parse(line)
			require.NoError(t, err)
		}
	}
	require.NotNil(t, link)
	rid, token := link.Query().Get("rid"), link.Query().Get("token")
	require.NotEmpty(t, rid)
	require.NotEmpty(t, token)

	t.Run("weak password is refused without spending the grant", func(t *testing.T) {
		err := env.resets.ResetPassword(ctx, rid, token, "short", "10.1.1.1")
		require.ErrorIs(t, err, ErrInvalidRequest)
		_, err = env.resets.Verify(ctx, rid, token)
		require.NoError(t, err)
	})

	require.NoError(t, env.resets.ResetPassword(ctx, rid, token, "a brand new passphrase", "10.1.1.1"))

	_, err = env.login.Login(ctx, LoginRequest{Lane: domain.LaneTeam, Email: id.Email, Password: testPassword})
	require.ErrorIs(t, err, ErrInvalidCredential)
	_, err = env.login.Login(ctx, LoginRequest{Lane: domain.LaneTeam, Email: id.Email, Password: "a brand new passphrase"})
	require.NoError(t, err)

	t.Run("old sessions are revoked", func(t *testing.T) {
		_, _, err := env.tokens.Rotate(ctx, session.RefreshToken)
		require.ErrorIs(t, err, ErrTokenInvalid)
	})

	t.Run("grant is single use", func(t *testing.T) {
		err := env.resets.ResetPassword(ctx, rid, token, "yet another passphrase", "10.1.1.1")
		require.ErrorIs(t, err, ErrResetTokenInvalid)
	})
}

func TestPasswordResetUnknownEmailIsSilent(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)

	require.NoError(t, env.resets.RequestReset(context.Background(), "nobody@newspulse.test", "10.1.1.2"))
	env.resets.Wait()
	require.Empty(t, env.mailer.Messages())
}

// heldMailer blocks every send until released.
type heldMailer struct {
	release chan struct{}
	mailx.Recorder
}

func (m *heldMailer) Send(ctx context.Context, msg mailx.Message) error {
	select {
	case <-m.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	return m.Recorder.Send(ctx, msg)
}

func TestPasswordResetDoesNotWaitForMail(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.seedIdentity(t, "slowmail@newspulse.test", domain.RoleEmployee)
	mailer := &heldMailer{release: make(chan struct{})}
	env.resets.Mailer = mailer

	done := make(chan error, 1)
	go func() {
		done <- env.resets.RequestReset(context.Background(), "slowmail@newspulse.test", "10.1.1.3")
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("request for a known email waited on mail delivery")
	}
	require.Empty(t, mailer.Messages())

	close(mailer.release)
	env.resets.Wait()
	msg, ok := mailer.Last()
	require.True(t, ok)
	require.Equal(t, "slowmail@newspulse.test", msg.To)
}

func TestPasswordResetMailTimeout(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t)
	env.seedIdentity(t, "stuck@newspulse.test", domain.RoleEmployee)
	mailer := &heldMailer{release: make(chan struct{})}
	env.resets.Mailer = mailer
	env.resets.MailTimeout = 50 * time.Millisecond

	require.NoError(t, env.resets.RequestReset(context.Background(), "stuck@newspulse.test", "10.1.1.4"))
	env.resets.Wait()
	require.Empty(t, mailer.Messages(), "delivery gives up after the timeout")
}

func TestPasswordResetConcurrentUse(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	env := newTestEnv(t)
	id := env.seedIdentity(t, "race@newspulse.test", domain.RoleAdmin)

	rec, token, err := env.resets.Create(ctx, id.ID, time.Hour)
	require.NoError(t, err)

	var (
		wg   sync.WaitGroup
		wins atomic.Int32
	)
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := env.resets.ResetPassword(ctx, rec.ID, token, "concurrent passphrase", ""); err == nil {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()
	require.Equal(t, int32(1), wins.Load())
}

func TestValidatePassword(t *testing.T) {
	require.ErrorIs(t, ValidatePassword("1234567"), ErrInvalidRequest)
	require.NoError(t, ValidatePassword("12345678"))
	require.ErrorIs(t, ValidatePassword(strings.Repeat("a", MaxPasswordLength+1)), ErrInvalidRequest)
}
