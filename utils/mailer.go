package utils

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/gomail.v2"

	"outreachly/models"
)

// SendSequenceEmail dispatches one sequence step through the sender's SMTP
// account and returns the Message-ID stamped on the outbound mail, used to
// correlate later replies.
func SendSequenceEmail(sender *models.Sender, toEmail, toName, subject, body string) (string, error) {
	messageID := fmt.Sprintf("<%s@%s>", uuid.New().String(), senderDomain(sender.FromEmail))

	m := gomail.NewMessage()
	m.SetHeader("From", fmt.Sprintf("%s <%s>", sender.FromName, sender.FromEmail))
	if toName != "" {
		m.SetAddressHeader("To", toEmail, toName)
	} else {
		m.SetHeader("To", toEmail)
	}
	m.SetHeader("Subject", subject)
	m.SetHeader("Message-ID", messageID)
	m.SetBody("text/html", body)

	d := gomail.NewDialer(sender.SMTPHost, sender.SMTPPort, sender.SMTPUsername, sender.SMTPPassword)
	if strings.EqualFold(sender.Encryption, "SSL") || strings.EqualFold(sender.Encryption, "TLS") {
		d.SSL = true
	}

	if err := d.DialAndSend(m); err != nil {
		return "", fmt.Errorf("error sending email: %w", err)
	}

	return messageID, nil
}

func senderDomain(fromEmail string) string {
	parts := strings.Split(fromEmail, "@")
	if len(parts) == 2 {
		return parts[1]
	}
	return "localhost"
}
