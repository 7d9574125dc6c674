package worker

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-message/mail"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"outreachly/config"
	"outreachly/models"
	"outreachly/utils"
)

// ReplyWorker polls each sender's IMAP mailbox and turns inbound mail into
// reply and bounce signals: the enrollment's ReplyAt/BounceAt markers plus an
// appended delivery event. The primary enrollment status is left alone for
// replies; the per-step skip policies decide what a reply means for future
// sends.
type ReplyWorker struct {
	DB     *gorm.DB
	Logger *logrus.Logger
	cron   *cron.Cron
}

func NewReplyWorker(db *gorm.DB, logger *logrus.Logger) *ReplyWorker {
	return &ReplyWorker{
		DB:     db,
		Logger: logger,
	}
}

func (rw *ReplyWorker) Start(ctx context.Context) error {
	rw.cron = cron.New()

	if _, err := rw.cron.AddFunc(config.AppConfig.ReplySyncCron, rw.tick); err != nil {
		return err
	}

	rw.cron.Start()
	rw.Logger.Info("Reply sync worker started")

	go func() {
		<-ctx.Done()
		rw.Logger.Info("Reply sync worker shutting down...")
		<-rw.cron.Stop().Done()
	}()

	return nil
}

func (rw *ReplyWorker) tick() {
	var senders []models.Sender
	if err := rw.DB.Where("is_active = ? AND imap_host <> ''", true).Find(&senders).Error; err != nil {
		rw.Logger.WithError(err).Error("Failed to fetch senders for reply sync")
		return
	}

	for i := range senders {
		sender := &senders[i]
		if err := rw.syncSender(sender); err != nil {
			utils.LogError("reply_sync_failed", err, map[string]interface{}{
				"sender_id": sender.ID,
			})
		}
	}
}

func (rw *ReplyWorker) syncSender(sender *models.Sender) error {
	var imapClient *client.Client
	var err error
	imapAddr := fmt.Sprintf("%s:%d", sender.IMAPHost, sender.IMAPPort)

	switch strings.ToUpper(sender.IMAPEncryption) {
	case "SSL", "TLS":
		imapClient, err = client.DialTLS(imapAddr, &tls.Config{
			ServerName: sender.IMAPHost,
		})
	case "STARTTLS":
		imapClient, err = client.Dial(imapAddr)
		if err == nil {
			err = imapClient.StartTLS(&tls.Config{
				ServerName: sender.IMAPHost,
			})
		}
	default:
		imapClient, err = client.Dial(imapAddr)
	}
	if err != nil {
		return fmt.Errorf("failed to connect to IMAP server: %w", err)
	}
	defer imapClient.Logout()

	if err := imapClient.Login(sender.IMAPUsername, sender.IMAPPassword); err != nil {
		return fmt.Errorf("failed to login to IMAP server: %w", err)
	}

	mailbox := sender.IMAPMailbox
	if mailbox == "" {
		mailbox = "INBOX"
	}
	if _, err := imapClient.Select(mailbox, false); err != nil {
		return fmt.Errorf("failed to select mailbox: %w", err)
	}

	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{"\\Seen"}
	ids, err := imapClient.Search(criteria)
	if err != nil {
		return fmt.Errorf("failed to search messages: %w", err)
	}
	if len(ids) == 0 {
		return nil
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(ids...)

	messages := make(chan *imap.Message, 10)
	done := make(chan error, 1)
	go func() {
		done <- imapClient.Fetch(seqset, []imap.FetchItem{imap.FetchEnvelope, imap.FetchItem("BODY.PEEK[]")}, messages)
	}()

	processed := new(imap.SeqSet)
	for msg := range messages {
		if err := rw.processMessage(sender, msg); err != nil {
			rw.Logger.WithError(err).WithField("seq_num", msg.SeqNum).Warn("Failed to process inbound message")
			continue
		}
		processed.AddNum(msg.SeqNum)
	}
	if err := <-done; err != nil {
		return fmt.Errorf("error during fetch: %w", err)
	}

	// Mark handled messages seen so the next tick skips them.
	if !processed.Empty() {
		flags := []interface{}{imap.SeenFlag}
		if err := imapClient.Store(processed, imap.FormatFlagsOp(imap.AddFlags, true), flags, nil); err != nil {
			rw.Logger.WithError(err).Warn("Failed to flag processed messages")
		}
	}

	return nil
}

func (rw *ReplyWorker) processMessage(sender *models.Sender, msg *imap.Message) error {
	if msg.Envelope == nil {
		return fmt.Errorf("message has no envelope")
	}

	occurredAt := msg.Envelope.Date
	if occurredAt.IsZero() {
		occurredAt = time.Now()
	}

	fromAddr := envelopeFrom(msg.Envelope)
	bounce := isBounceMessage(msg.Envelope, fromAddr)

	enrollment, err := rw.matchEnrollment(sender, msg, fromAddr, bounce)
	if err != nil {
		return err
	}
	if enrollment == nil {
		// Not tied to any sequence send; ordinary inbox traffic.
		return nil
	}

	if bounce {
		return rw.recordBounce(enrollment, msg.Envelope.MessageId, occurredAt)
	}
	return rw.recordReply(enrollment, msg.Envelope.MessageId, occurredAt)
}

func envelopeFrom(env *imap.Envelope) string {
	if len(env.From) == 0 {
		return ""
	}
	addr := env.From[0]
	return strings.ToLower(addr.MailboxName + "@" + addr.HostName)
}

func isBounceMessage(env *imap.Envelope, fromAddr string) bool {
	local := fromAddr
	if idx := strings.Index(fromAddr, "@"); idx > 0 {
		local = fromAddr[:idx]
	}
	switch local {
	case "mailer-daemon", "postmaster", "mail-daemon":
		return true
	}
	subject := strings.ToLower(env.Subject)
	return strings.Contains(subject, "undeliverable") ||
		strings.Contains(subject, "delivery status notification") ||
		strings.Contains(subject, "returned mail")
}

// matchEnrollment ties an inbound message back to a sequence enrollment,
// first through the In-Reply-To header against recorded outbound Message-IDs,
// then by the sender address of the inbound mail. Bounce reports rarely
// thread properly, so for them the DSN body is scanned for a known
// Message-ID as a last resort.
func (rw *ReplyWorker) matchEnrollment(sender *models.Sender, msg *imap.Message, fromAddr string, bounce bool) (*models.SequenceEnrollment, error) {
	if msg.Envelope.InReplyTo != "" {
		if enr := rw.enrollmentByMessageID(msg.Envelope.InReplyTo); enr != nil {
			return enr, nil
		}
	}

	if bounce {
		if id := findKnownMessageID(messageBody(msg)); id != "" {
			if enr := rw.enrollmentByMessageID(id); enr != nil {
				return enr, nil
			}
		}
		return nil, nil
	}

	if fromAddr == "" {
		return nil, nil
	}

	var contact models.Contact
	if err := rw.DB.Where("workspace_id = ? AND LOWER(email) = ?", sender.WorkspaceID, fromAddr).
		First(&contact).Error; err != nil {
		return nil, nil
	}

	// Most recent enrollment that has been sent to is the reply target.
	var enrollment models.SequenceEnrollment
	if err := rw.DB.Where("contact_id = ? AND sent_at IS NOT NULL", contact.ID).
		Order("sent_at DESC").
		First(&enrollment).Error; err != nil {
		return nil, nil
	}
	return &enrollment, nil
}

func (rw *ReplyWorker) enrollmentByMessageID(messageID string) *models.SequenceEnrollment {
	messageID = normalizeMessageID(messageID)
	if messageID == "" {
		return nil
	}

	var event models.DeliveryEvent
	if err := rw.DB.Where("kind = ? AND message_id = ?", models.EventKindSend, messageID).
		First(&event).Error; err != nil {
		return nil
	}

	var enrollment models.SequenceEnrollment
	if err := rw.DB.First(&enrollment, event.EnrollmentID).Error; err != nil {
		return nil
	}
	return &enrollment
}

func normalizeMessageID(id string) string {
	id = strings.TrimSpace(id)
	if id == "" {
		return ""
	}
	if !strings.HasPrefix(id, "<") {
		id = "<" + id + ">"
	}
	return id
}

// messageBody flattens the text parts of a fetched message
func messageBody(msg *imap.Message) string {
	section := imap.BodySectionName{}
	literal, ok := msg.Body[&section]
	if !ok {
		for _, l := range msg.Body {
			literal = l
			break
		}
	}
	if literal == nil {
		return ""
	}

	mr, err := mail.CreateReader(literal)
	if err != nil {
		return ""
	}

	var sb strings.Builder
	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		} else if err != nil {
			break
		}
		if _, ok := p.Header.(*mail.InlineHeader); ok {
			b, err := io.ReadAll(p.Body)
			if err == nil {
				sb.Write(b)
			}
		}
	}
	return sb.String()
}

// findKnownMessageID pulls the first angle-bracketed Message-ID token out of
// a DSN body.
func findKnownMessageID(body string) string {
	lower := strings.ToLower(body)
	idx := strings.Index(lower, "message-id:")
	if idx == -1 {
		return ""
	}
	rest := body[idx:]
	start := strings.Index(rest, "<")
	if start == -1 {
		return ""
	}
	end := strings.Index(rest[start:], ">")
	if end == -1 {
		return ""
	}
	return rest[start : start+end+1]
}

func (rw *ReplyWorker) recordReply(enrollment *models.SequenceEnrollment, messageID string, occurredAt time.Time) error {
	firstReply := enrollment.ReplyAt == nil

	tx := rw.DB.Begin()

	// Earliest reply wins; later replies only add feed rows.
	if enrollment.ReplyAt == nil || occurredAt.Before(*enrollment.ReplyAt) {
		if err := tx.Model(enrollment).Update("reply_at", occurredAt).Error; err != nil {
			tx.Rollback()
			return err
		}
		enrollment.ReplyAt = &occurredAt
	}

	status := enrollment.Status
	event := models.DeliveryEvent{
		SequenceID:   enrollment.SequenceID,
		EnrollmentID: enrollment.ID,
		ContactID:    enrollment.ContactID,
		Kind:         models.EventKindReply,
		Status:       status,
		MessageID:    messageID,
		OccurredAt:   occurredAt,
	}
	if err := tx.Create(&event).Error; err != nil {
		tx.Rollback()
		return err
	}

	if firstReply {
		if err := tx.Model(&models.Sequence{}).Where("id = ?", enrollment.SequenceID).
			Update("reply_count", gorm.Expr("reply_count + 1")).Error; err != nil {
			tx.Rollback()
			return err
		}
	}

	tx.Commit()

	utils.LogEvent("reply_detected", map[string]interface{}{
		"sequence_id":   enrollment.SequenceID,
		"enrollment_id": enrollment.ID,
		"first_reply":   firstReply,
	})
	return nil
}

func (rw *ReplyWorker) recordBounce(enrollment *models.SequenceEnrollment, messageID string, occurredAt time.Time) error {
	firstBounce := enrollment.BounceAt == nil

	tx := rw.DB.Begin()

	updates := map[string]interface{}{}
	if enrollment.BounceAt == nil || occurredAt.Before(*enrollment.BounceAt) {
		updates["bounce_at"] = occurredAt
	}
	// A bounce is terminal for a still-pending enrollment.
	if enrollment.Status == models.DeliveryStatusPending {
		updates["status"] = models.DeliveryStatusBounced
		updates["scheduled_at"] = nil
	}
	if len(updates) > 0 {
		if err := tx.Model(enrollment).Updates(updates).Error; err != nil {
			tx.Rollback()
			return err
		}
	}

	event := models.DeliveryEvent{
		SequenceID:   enrollment.SequenceID,
		EnrollmentID: enrollment.ID,
		ContactID:    enrollment.ContactID,
		Kind:         models.EventKindBounce,
		Status:       models.DeliveryStatusBounced,
		MessageID:    messageID,
		OccurredAt:   occurredAt,
	}
	if err := tx.Create(&event).Error; err != nil {
		tx.Rollback()
		return err
	}

	if firstBounce {
		if err := tx.Model(&models.Sequence{}).Where("id = ?", enrollment.SequenceID).
			Update("bounce_count", gorm.Expr("bounce_count + 1")).Error; err != nil {
			tx.Rollback()
			return err
		}
	}

	// The contact-level flag keeps bounced addresses out of future
	// enrollments across all sequences.
	if err := tx.Model(&models.Contact{}).Where("id = ?", enrollment.ContactID).
		Update("is_bounced", true).Error; err != nil {
		tx.Rollback()
		return err
	}

	tx.Commit()

	utils.LogEvent("bounce_detected", map[string]interface{}{
		"sequence_id":   enrollment.SequenceID,
		"enrollment_id": enrollment.ID,
	})
	return nil
}
