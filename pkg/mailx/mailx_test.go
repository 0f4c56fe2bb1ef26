package mailx_test

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/create-newspulse/newspulse-auth/pkg/mailx"
	"github.com/stretchr/testify/require"
)

func TestLogSender_NeverLogsBody(t *testing.T) {
	var buf bytes.Buffer
	s := mailx.LogSender{Logger: slog.New(slog.NewTextHandler(&buf, nil))}

	err := s.Send(context.Background(), mailx.Message{
		To:       "editor@newspulse.test",
		Subject:  "Reset your password",
		TextBody: "https://admin/reset?token=s3cr3t",
	})
	require.NoError(t, err)
	require.Contains(t, buf.String(), "editor@newspulse.test")
	require.NotContains(t, buf.String(), "s3cr3t")
}

func TestRecorder(t *testing.T) {
	var r mailx.Recorder
	_, ok := r.Last()
	require.False(t, ok)

	require.NoError(t, r.Send(context.Background(), mailx.Message{To: "a"}))
	require.NoError(t, r.Send(context.Background(), mailx.Message{To: "b"}))

	last, ok := r.Last()
	require.True(t, ok)
	require.Equal(t, "b", last.To)
	require.Len(t, r.Messages(), 2)
}

func TestSMTPSender_CancelledContext(t *testing.T) {
	s := mailx.NewSMTPSender(mailx.SMTPConfig{Host: "127.0.0.1", Port: 1}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, s.Send(ctx, mailx.Message{To: "a"}), context.Canceled)
}
