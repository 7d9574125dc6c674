package worker

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"outreachly/config"
	"outreachly/engine"
	"outreachly/models"
	"outreachly/utils"
)

const maxSendAttempts = 3

// retryBackoff pushes a failed send out before the next attempt
const retryBackoff = 15 * time.Minute

// DispatchWorker drives sequence delivery: it launches due sequences,
// computes schedules for pending enrollments and sends the due ones. Every
// schedulable enrollment ends each tick either scheduled, sent, failed or
// skipped with a recorded reason.
type DispatchWorker struct {
	DB        *gorm.DB
	Scheduler *engine.Scheduler
	Logger    *logrus.Logger
	cron      *cron.Cron
}

func NewDispatchWorker(db *gorm.DB, gate *engine.ThrottleGate, logger *logrus.Logger) *DispatchWorker {
	seedThrottleGate(db, gate, logger)
	return &DispatchWorker{
		DB:        db,
		Scheduler: engine.NewScheduler(gate),
		Logger:    logger,
	}
}

// seedThrottleGate replays each sender's last recorded send into the gate so
// min-gap spacing survives process restarts.
func seedThrottleGate(db *gorm.DB, gate *engine.ThrottleGate, logger *logrus.Logger) {
	var senders []models.Sender
	if err := db.Where("last_sent_at IS NOT NULL").Find(&senders).Error; err != nil {
		logger.WithError(err).Error("Failed to seed throttle gate")
		return
	}
	for i := range senders {
		gate.Observe(senders[i].ID, *senders[i].LastSentAt)
	}
	logger.WithField("senders", len(senders)).Info("Throttle gate seeded")
}

func (dw *DispatchWorker) Start(ctx context.Context) error {
	dw.cron = cron.New()

	if _, err := dw.cron.AddFunc(config.AppConfig.DispatchCron, dw.tick); err != nil {
		return err
	}
	// Sender daily counters roll over at midnight
	if _, err := dw.cron.AddFunc("0 0 * * *", dw.resetDailyCounters); err != nil {
		return err
	}

	dw.cron.Start()
	dw.Logger.Info("Dispatch worker started")

	go func() {
		<-ctx.Done()
		dw.Logger.Info("Dispatch worker shutting down...")
		<-dw.cron.Stop().Done()
	}()

	return nil
}

func (dw *DispatchWorker) tick() {
	now := time.Now()
	dw.launchDueSequences(now)
	dw.processPendingEnrollments(now)
}

// launchDueSequences activates draft sequences whose LaunchAt has arrived.
// Sequences failing launch validation stay draft; the error is logged, not
// retried differently.
func (dw *DispatchWorker) launchDueSequences(now time.Time) {
	var due []models.Sequence
	if err := dw.DB.Preload("Steps").
		Where("status = ? AND launch_at IS NOT NULL AND launch_at <= ?", models.SequenceStatusDraft, now).
		Find(&due).Error; err != nil {
		dw.Logger.WithError(err).Error("Failed to fetch launchable sequences")
		return
	}

	for i := range due {
		seq := &due[i]
		if !engine.DueForLaunch(seq, now) {
			continue
		}
		if err := engine.Launch(seq, now); err != nil {
			utils.LogError("sequence_auto_launch_failed", err, map[string]interface{}{
				"sequence_id": seq.ID,
			})
			continue
		}
		if err := dw.DB.Model(seq).Updates(map[string]interface{}{
			"status":      seq.Status,
			"launched_at": seq.LaunchedAt,
		}).Error; err != nil {
			dw.Logger.WithError(err).WithField("sequence_id", seq.ID).Error("Failed to persist launch")
			continue
		}
		utils.LogEvent("sequence_auto_launched", map[string]interface{}{
			"sequence_id": seq.ID,
		})
	}
}

// processPendingEnrollments walks every pending enrollment that needs a
// decision this tick: unscheduled ones get a schedule, due and manually
// triggered ones get dispatched.
func (dw *DispatchWorker) processPendingEnrollments(now time.Time) {
	var pending []models.SequenceEnrollment
	if err := dw.DB.Joins("JOIN sequences ON sequences.id = sequence_enrollments.sequence_id").
		Where("sequence_enrollments.status = ?", models.DeliveryStatusPending).
		Where("sequences.status = ? AND sequences.deleted_at IS NULL", models.SequenceStatusActive).
		Where("sequence_enrollments.scheduled_at IS NULL OR sequence_enrollments.scheduled_at <= ? OR (sequence_enrollments.manual_triggered_at IS NOT NULL AND sequence_enrollments.manual_sent_at IS NULL)", now).
		Find(&pending).Error; err != nil {
		dw.Logger.WithError(err).Error("Failed to fetch pending enrollments")
		return
	}

	sequences := make(map[uint]*models.Sequence)
	for i := range pending {
		enr := &pending[i]

		seq, ok := sequences[enr.SequenceID]
		if !ok {
			var loaded models.Sequence
			if err := dw.DB.Preload("Steps", func(db *gorm.DB) *gorm.DB {
				return db.Order("step_number ASC")
			}).First(&loaded, enr.SequenceID).Error; err != nil {
				dw.Logger.WithError(err).WithField("sequence_id", enr.SequenceID).Error("Failed to load sequence")
				continue
			}
			seq = &loaded
			sequences[enr.SequenceID] = seq
		}

		dw.processEnrollment(seq, enr, now)
	}
}

func (dw *DispatchWorker) processEnrollment(seq *models.Sequence, enr *models.SequenceEnrollment, now time.Time) {
	step := stepForEnrollment(seq, enr)
	if step == nil {
		// Past the last step: the enrollment is complete.
		dw.DB.Model(enr).Updates(map[string]interface{}{
			"status":       models.DeliveryStatusSent,
			"scheduled_at": nil,
		})
		return
	}

	result, err := dw.Scheduler.ComputeNextSend(seq, enr, step, dw.workspaceGap(seq), now)
	if err != nil {
		// Configuration errors are terminal for this enrollment until the
		// policy is fixed; the failure is recorded, never dropped.
		dw.markFailed(seq, enr, step, err)
		return
	}

	if result.Skipped {
		dw.markSkipped(seq, enr, step, result)
		return
	}

	manual := enr.ManualTriggeredAt != nil && enr.ManualSentAt == nil
	if manual || !result.ScheduledAt.After(now) {
		dw.dispatch(seq, enr, step, result, manual, now)
		return
	}

	// Future schedule: persist it and the throttle diagnostic.
	updates := map[string]interface{}{
		"scheduled_at": result.ScheduledAt,
	}
	if result.ThrottleDelay > 0 {
		updates["last_throttle_at"] = now
	}
	if err := dw.DB.Model(enr).Updates(updates).Error; err != nil {
		dw.Logger.WithError(err).WithField("enrollment_id", enr.ID).Error("Failed to persist schedule")
	}
}

func stepForEnrollment(seq *models.Sequence, enr *models.SequenceEnrollment) *models.SequenceStep {
	for i := range seq.Steps {
		if seq.Steps[i].StepNumber == enr.CurrentStep {
			return &seq.Steps[i]
		}
	}
	return nil
}

func (dw *DispatchWorker) workspaceGap(seq *models.Sequence) int {
	var workspace models.Workspace
	if err := dw.DB.First(&workspace, seq.WorkspaceID).Error; err != nil {
		return 0
	}
	return workspace.SendGapMinutes
}

func (dw *DispatchWorker) markSkipped(seq *models.Sequence, enr *models.SequenceEnrollment, step *models.SequenceStep, result *engine.ScheduleResult) {
	now := time.Now()

	tx := dw.DB.Begin()
	if err := tx.Model(enr).Updates(map[string]interface{}{
		"status":       models.DeliveryStatusSkipped,
		"skipped_at":   now,
		"scheduled_at": nil,
	}).Error; err != nil {
		tx.Rollback()
		dw.Logger.WithError(err).WithField("enrollment_id", enr.ID).Error("Failed to mark enrollment skipped")
		return
	}
	event := models.DeliveryEvent{
		SequenceID:   seq.ID,
		EnrollmentID: enr.ID,
		ContactID:    enr.ContactID,
		StepID:       utils.Pointer(step.ID),
		SenderID:     seq.SenderID,
		Kind:         models.EventKindSend,
		Status:       models.DeliveryStatusSkipped,
		SkipReason:   result.SkipReason,
		OccurredAt:   now,
	}
	if err := tx.Create(&event).Error; err != nil {
		tx.Rollback()
		dw.Logger.WithError(err).WithField("enrollment_id", enr.ID).Error("Failed to record skip event")
		return
	}
	tx.Commit()
}

func (dw *DispatchWorker) markFailed(seq *models.Sequence, enr *models.SequenceEnrollment, step *models.SequenceStep, cause error) {
	now := time.Now()

	tx := dw.DB.Begin()
	if err := tx.Model(enr).Updates(map[string]interface{}{
		"status":       models.DeliveryStatusFailed,
		"scheduled_at": nil,
	}).Error; err != nil {
		tx.Rollback()
		dw.Logger.WithError(err).WithField("enrollment_id", enr.ID).Error("Failed to mark enrollment failed")
		return
	}
	event := models.DeliveryEvent{
		SequenceID:   seq.ID,
		EnrollmentID: enr.ID,
		ContactID:    enr.ContactID,
		StepID:       utils.Pointer(step.ID),
		SenderID:     seq.SenderID,
		Kind:         models.EventKindSend,
		Status:       models.DeliveryStatusFailed,
		ErrorText:    cause.Error(),
		OccurredAt:   now,
	}
	if err := tx.Create(&event).Error; err != nil {
		tx.Rollback()
		dw.Logger.WithError(err).WithField("enrollment_id", enr.ID).Error("Failed to record failure event")
		return
	}
	tx.Commit()

	utils.LogError("enrollment_schedule_failed", cause, map[string]interface{}{
		"sequence_id":   seq.ID,
		"enrollment_id": enr.ID,
	})
}

func (dw *DispatchWorker) dispatch(seq *models.Sequence, enr *models.SequenceEnrollment, step *models.SequenceStep, result *engine.ScheduleResult, manual bool, now time.Time) {
	if seq.SenderID == nil {
		dw.markFailed(seq, enr, step, &engine.ConfigurationError{Field: "sender_id", Reason: "sequence has no sender"})
		return
	}

	var sender models.Sender
	if err := dw.DB.First(&sender, *seq.SenderID).Error; err != nil {
		dw.Logger.WithError(err).WithField("sequence_id", seq.ID).Error("Failed to load sender")
		return
	}
	if !sender.IsActive {
		dw.Logger.WithField("sender_id", sender.ID).Warn("Sender inactive, holding dispatch")
		return
	}
	if sender.SentToday >= sender.DailyLimit {
		// Daily cap reached; the enrollment stays scheduled and goes out
		// after the midnight counter reset.
		dw.Logger.WithFields(logrus.Fields{
			"sender_id":  sender.ID,
			"sent_today": sender.SentToday,
		}).Warn("Sender daily limit reached, deferring dispatch")
		return
	}

	var contact models.Contact
	if err := dw.DB.First(&contact, enr.ContactID).Error; err != nil {
		dw.Logger.WithError(err).WithField("enrollment_id", enr.ID).Error("Failed to load contact")
		return
	}

	messageID, sendErr := utils.SendSequenceEmail(&sender, contact.Email, contact.FirstName, step.Subject, step.Body)
	if sendErr != nil {
		dw.recordSendFailure(seq, enr, step, sendErr, now)
		return
	}

	event := models.DeliveryEvent{
		SequenceID:   seq.ID,
		EnrollmentID: enr.ID,
		ContactID:    enr.ContactID,
		StepID:       utils.Pointer(step.ID),
		SenderID:     seq.SenderID,
		Kind:         models.EventKindSend,
		Status:       models.DeliveryStatusSent,
		Attempts:     enr.Attempts + 1,
		MessageID:    messageID,
		OccurredAt:   now,
	}
	if result.ThrottleDelay > 0 {
		event.DelayReason = models.DelayReasonMinGap
		event.DelaySeconds = int(result.ThrottleDelay.Seconds())
	}
	if result.RescheduledFor != nil {
		event.RescheduledFor = result.RescheduledFor
	}

	updates := map[string]interface{}{
		"sent_at":      now,
		"attempts":     enr.Attempts + 1,
		"scheduled_at": nil,
	}
	if manual {
		updates["manual_sent_at"] = now
	}
	lastStep := step.StepNumber >= len(seq.Steps)
	if lastStep {
		updates["status"] = models.DeliveryStatusSent
	} else {
		updates["current_step"] = enr.CurrentStep + 1
	}

	tx := dw.DB.Begin()
	if err := tx.Create(&event).Error; err != nil {
		tx.Rollback()
		dw.Logger.WithError(err).WithField("enrollment_id", enr.ID).Error("Failed to record send event")
		return
	}
	if err := tx.Model(enr).Updates(updates).Error; err != nil {
		tx.Rollback()
		dw.Logger.WithError(err).WithField("enrollment_id", enr.ID).Error("Failed to advance enrollment")
		return
	}
	if err := tx.Model(&sender).Updates(map[string]interface{}{
		"sent_today":   gorm.Expr("sent_today + 1"),
		"total_sent":   gorm.Expr("total_sent + 1"),
		"last_sent_at": now,
	}).Error; err != nil {
		tx.Rollback()
		dw.Logger.WithError(err).WithField("sender_id", sender.ID).Error("Failed to update sender counters")
		return
	}
	if err := tx.Model(seq).Update("sent_count", gorm.Expr("sent_count + 1")).Error; err != nil {
		tx.Rollback()
		return
	}
	if err := tx.Model(step).Update("sent_count", gorm.Expr("sent_count + 1")).Error; err != nil {
		tx.Rollback()
		return
	}
	tx.Commit()

	dw.Scheduler.Throttle.Observe(sender.ID, now)

	utils.LogEvent("sequence_email_sent", map[string]interface{}{
		"sequence_id":   seq.ID,
		"enrollment_id": enr.ID,
		"step_number":   step.StepNumber,
		"message_id":    messageID,
		"manual":        manual,
	})
}

func (dw *DispatchWorker) recordSendFailure(seq *models.Sequence, enr *models.SequenceEnrollment, step *models.SequenceStep, cause error, now time.Time) {
	attempts := enr.Attempts + 1
	terminal := attempts >= maxSendAttempts

	event := models.DeliveryEvent{
		SequenceID:   seq.ID,
		EnrollmentID: enr.ID,
		ContactID:    enr.ContactID,
		StepID:       utils.Pointer(step.ID),
		SenderID:     seq.SenderID,
		Kind:         models.EventKindSend,
		Status:       models.DeliveryStatusFailed,
		Attempts:     attempts,
		ErrorText:    cause.Error(),
		OccurredAt:   now,
	}

	updates := map[string]interface{}{
		"attempts": attempts,
	}
	if terminal {
		updates["status"] = models.DeliveryStatusFailed
		updates["scheduled_at"] = nil
	} else {
		retryAt := now.Add(retryBackoff)
		updates["scheduled_at"] = retryAt
	}

	tx := dw.DB.Begin()
	if err := tx.Create(&event).Error; err != nil {
		tx.Rollback()
		dw.Logger.WithError(err).WithField("enrollment_id", enr.ID).Error("Failed to record send failure")
		return
	}
	if err := tx.Model(enr).Updates(updates).Error; err != nil {
		tx.Rollback()
		dw.Logger.WithError(err).WithField("enrollment_id", enr.ID).Error("Failed to update failed enrollment")
		return
	}
	tx.Commit()

	utils.LogError("sequence_send_failed", cause, map[string]interface{}{
		"sequence_id":   seq.ID,
		"enrollment_id": enr.ID,
		"attempts":      attempts,
		"terminal":      terminal,
	})
}

func (dw *DispatchWorker) resetDailyCounters() {
	if err := dw.DB.Model(&models.Sender{}).
		Where("sent_today > 0").
		Update("sent_today", 0).Error; err != nil {
		dw.Logger.WithError(err).Error("Failed to reset sender daily counters")
		return
	}
	dw.Logger.Info("Sender daily counters reset")
}
