package mail

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/ManuelReschke/SprayOps/app/models"
	"github.com/ManuelReschke/SprayOps/internal/pkg/usercontext"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sentMail struct {
	to, subject, body string
}

type fakeSender struct {
	sent []sentMail
}

func (f *fakeSender) Send(_ context.Context, to, subject, body string) error {
	f.sent = append(f.sent, sentMail{to: to, subject: subject, body: body})
	return nil
}

func TestNotifyOrganizationCreated(t *testing.T) {
	sender := &fakeSender{}
	n := NewNotifications(sender, " ops@sprayops.test ", "https://app.sprayops.test/")

	org := &models.Organization{
		Name:               "Valley <Aerial>",
		Mode:               models.OrganizationModeAgAerial,
		OwnerEmail:         "pilot@valley.test",
		Plan:               models.PlanStarter,
		SubscriptionStatus: models.SubscriptionStatusIncomplete,
	}
	require.NoError(t, n.NotifyOrganizationCreated(context.Background(), org, usercontext.UserContext{Username: "Pilot"}))

	require.Len(t, sender.sent, 1)
	assert.Equal(t, "ops@sprayops.test", sender.sent[0].to)
	assert.Equal(t, "New organization: Valley <Aerial>", sender.sent[0].subject)
	assert.Contains(t, sender.sent[0].body, "Valley &lt;Aerial&gt;")
	assert.Contains(t, sender.sent[0].body, "pilot@valley.test")
}

func TestNotifyOrganizationCreated_NoOwnerEmail(t *testing.T) {
	sender := &fakeSender{}
	n := NewNotifications(sender, "", "https://app.sprayops.test")

	require.NoError(t, n.NotifyOrganizationCreated(context.Background(), &models.Organization{Name: "X"}, usercontext.UserContext{}))
	assert.Empty(t, sender.sent)
}

func TestSendInvitation(t *testing.T) {
	sender := &fakeSender{}
	n := NewNotifications(sender, "ops@sprayops.test", "https://app.sprayops.test/")

	inv := &models.OrganizationInvitation{
		Email:     "crew@valley.test",
		Role:      models.MemberRoleAdmin,
		Token:     "8f1c0c7e-1111-2222-3333-444455556666",
		ExpiresAt: time.Date(2025, 5, 8, 9, 0, 0, 0, time.UTC),
	}
	org := &models.Organization{Name: "Valley Aerial"}
	require.NoError(t, n.SendInvitation(context.Background(), inv, org, usercontext.UserContext{Email: "pilot@valley.test"}))

	require.Len(t, sender.sent, 1)
	m := sender.sent[0]
	assert.Equal(t, "crew@valley.test", m.to)
	assert.True(t, strings.HasSuffix(m.subject, "Valley Aerial"))
	assert.Contains(t, m.body, "https://app.sprayops.test/api/v1/invitations/8f1c0c7e-1111-2222-3333-444455556666/accept")
	assert.Contains(t, m.body, "<code>8f1c0c7e-1111-2222-3333-444455556666</code>")
	assert.NotContains(t, m.body, "href=")
	assert.Contains(t, m.body, "pilot@valley.test invited you")
	assert.Contains(t, m.body, "2025-05-08 09:00 UTC")
}

func TestBuildMessage(t *testing.T) {
	msg := string(buildMessage("no-reply@sprayops.test", "crew@valley.test", "Hello", "<p>hi</p>"))
	assert.True(t, strings.HasPrefix(msg, "From: no-reply@sprayops.test\r\nTo: crew@valley.test\r\nSubject: Hello\r\n"))
	assert.Contains(t, msg, "Content-Type: text/html; charset=UTF-8\r\n\r\n<p>hi</p>")
}

func TestBuildMessage_StripsHeaderBreaks(t *testing.T) {
	msg := string(buildMessage(
		"no-reply@sprayops.test\r\nReply-To: x@evil.test",
		"crew@valley.test\nCc: other@evil.test",
		"New organization: Acme\r\nBcc: victim@evil.test",
		"<p>hi</p>",
	))

	headers, _, found := strings.Cut(msg, "\r\n\r\n")
	require.True(t, found)
	lines := strings.Split(headers, "\r\n")
	assert.Len(t, lines, 5)
	for _, line := range lines {
		assert.NotContains(t, line, "\n")
		assert.False(t, strings.HasPrefix(line, "Bcc:"))
		assert.False(t, strings.HasPrefix(line, "Cc:"))
		assert.False(t, strings.HasPrefix(line, "Reply-To:"))
	}
	assert.Equal(t, "Subject: New organization: AcmeBcc: victim@evil.test", lines[2])
}

func TestBuildMessage_EncodesNonASCIISubject(t *testing.T) {
	msg := string(buildMessage("a@sprayops.test", "b@valley.test", "Willkommen bei Müller Agrar", ""))
	assert.Contains(t, msg, "\r\nSubject: =?utf-8?q?")
	assert.NotContains(t, msg, "Müller")
}

func TestSMTPMailer_Disabled(t *testing.T) {
	var m *SMTPMailer
	assert.False(t, m.Enabled())
	assert.Error(t, (&SMTPMailer{}).Send(context.Background(), "a@b.test", "s", "b"))
}
