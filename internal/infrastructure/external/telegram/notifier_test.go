package telegram

import (
	"context"
	"errors"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bloodlink/bloodlink-hub/internal/domain/shared"
	"github.com/bloodlink/bloodlink-hub/pkg/retry"
)

var at = time.Date(2026, 10, 15, 10, 0, 0, 0, time.UTC)

type fakeSender struct {
	errs []error
	sent []tgbotapi.MessageConfig
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.sent = append(f.sent, c.(tgbotapi.MessageConfig))
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return tgbotapi.Message{}, err
	}
	return tgbotapi.Message{MessageID: len(f.sent)}, nil
}

func fastRetry() retry.Config {
	return retry.Config{MaxAttempts: 3, InitialDelay: time.Millisecond, Multiplier: 1}
}

func TestNotifier_Handle(t *testing.T) {
	api := &fakeSender{}
	n := newNotifier(api, -100123, fastRetry(), nil)

	event := shared.NewRequestNoticeEvent("r-1", "Request expired - donor not available", true, at)
	require.NoError(t, n.Handle(context.Background(), event))

	require.Len(t, api.sent, 1)
	assert.Equal(t, int64(-100123), api.sent[0].ChatID)
	assert.Equal(t, "⏰ Blood request r-1\nRequest expired - donor not available", api.sent[0].Text)
}

func TestNotifier_RetriesTransientErrors(t *testing.T) {
	api := &fakeSender{errs: []error{
		&tgbotapi.Error{Code: 429, Message: "Too Many Requests"},
		errors.New("connection reset"),
	}}
	n := newNotifier(api, 1, fastRetry(), nil)

	require.NoError(t, n.Handle(context.Background(), shared.NewRequestNoticeEvent("r-1", "m", false, at)))
	assert.Len(t, api.sent, 3)
}

func TestNotifier_PermanentError(t *testing.T) {
	api := &fakeSender{errs: []error{&tgbotapi.Error{Code: 403, Message: "Forbidden: bot was blocked"}}}
	n := newNotifier(api, 1, fastRetry(), nil)

	err := n.Handle(context.Background(), shared.NewRequestNoticeEvent("r-1", "m", false, at))
	require.Error(t, err)
	assert.Len(t, api.sent, 1)

	var apiErr *tgbotapi.Error
	assert.ErrorAs(t, err, &apiErr)
}

func TestFormatNotice(t *testing.T) {
	assert.Equal(t, "🩸 Blood request r-9\nDonor accepted",
		FormatNotice(shared.NewRequestNoticeEvent("r-9", "Donor accepted", false, at)))
}
