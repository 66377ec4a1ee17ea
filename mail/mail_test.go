package mail

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSMTPSender_Format(t *testing.T) {
	s := &SMTPSender{From: "portal@example.org"}
	raw := string(s.format(Message{
		To:      []string{"a@example.org", "b@example.org"},
		Subject: "You're invited to join Chess Club",
		Body:    "line one\nline two\n",
	}))

	assert.True(t, strings.HasPrefix(raw, "From: portal@example.org\r\n"))
	assert.Contains(t, raw, "To: a@example.org, b@example.org\r\n")
	assert.Contains(t, raw, "Subject: You're invited to join Chess Club\r\n")
	assert.True(t, strings.HasSuffix(raw, "\r\n\r\nline one\r\nline two\r\n"))
}

func TestSenders_RequireRecipients(t *testing.T) {
	ctx := context.Background()
	assert.ErrorIs(t, (&SMTPSender{}).Send(ctx, Message{}), ErrNoRecipients)
	assert.ErrorIs(t, (&LogSender{Logger: logrus.New()}).Send(ctx, Message{}), ErrNoRecipients)
}

func TestLogSender_Send(t *testing.T) {
	var out bytes.Buffer
	log := logrus.New()
	log.SetOutput(&out)

	err := (&LogSender{Logger: log}).Send(context.Background(), Message{
		To:      []string{"a@example.org"},
		Subject: "hello",
	})
	require.NoError(t, err)
	assert.Contains(t, out.String(), "to=a@example.org")
	assert.Contains(t, out.String(), "subject=hello")
}
