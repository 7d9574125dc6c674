package worker

import (
	"testing"

	"github.com/emersion/go-imap"
	"github.com/stretchr/testify/assert"
)

func TestIsBounceMessage(t *testing.T) {
	cases := []struct {
		name    string
		from    string
		subject string
		want    bool
	}{
		{"mailer daemon", "mailer-daemon@mx.example.com", "Mail delivery failed", true},
		{"postmaster", "postmaster@example.com", "anything", true},
		{"undeliverable subject", "noreply@example.com", "Undeliverable: hello there", true},
		{"dsn subject", "noreply@example.com", "Delivery Status Notification (Failure)", true},
		{"plain reply", "alice@example.com", "Re: hello there", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			env := &imap.Envelope{Subject: tc.subject}
			assert.Equal(t, tc.want, isBounceMessage(env, tc.from))
		})
	}
}

func TestEnvelopeFrom(t *testing.T) {
	env := &imap.Envelope{
		From: []*imap.Address{{MailboxName: "Alice", HostName: "Example.COM"}},
	}
	assert.Equal(t, "alice@example.com", envelopeFrom(env))

	assert.Equal(t, "", envelopeFrom(&imap.Envelope{}))
}

func TestNormalizeMessageID(t *testing.T) {
	assert.Equal(t, "<abc@host>", normalizeMessageID("abc@host"))
	assert.Equal(t, "<abc@host>", normalizeMessageID("<abc@host>"))
	assert.Equal(t, "<abc@host>", normalizeMessageID("  <abc@host>  "))
	assert.Equal(t, "", normalizeMessageID("   "))
}

func TestFindKnownMessageID(t *testing.T) {
	body := "The following message could not be delivered.\r\n" +
		"Message-ID: <11111111-2222@sender.example.com>\r\n" +
		"Final-Recipient: rfc822; bob@example.com\r\n"
	assert.Equal(t, "<11111111-2222@sender.example.com>", findKnownMessageID(body))

	assert.Equal(t, "", findKnownMessageID("no headers in here"))
	assert.Equal(t, "", findKnownMessageID("Message-ID: missing brackets"))
}
