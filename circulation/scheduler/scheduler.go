package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mediatheque/circulation-go/circulation"
)

const (
	defaultOverdueHour    = 9
	defaultReminderHour   = 10
	defaultCleanupWeekday = time.Sunday
	defaultCleanupHour    = 3
	defaultRetention      = 30 * 24 * time.Hour
	defaultRecordTTL      = 7 * 24 * time.Hour

	logMsgPassStarted         = "notification pass started"
	logMsgPassCompleted       = "notification pass completed"
	logMsgCandidateQueryFail  = "querying notification candidates failed"
	logMsgIdempotenceFail     = "idempotence check failed, skipping loan"
	logMsgDeliveryFailed      = "notification delivery failed, continuing"
	logMsgRecordFailed        = "persisting notification record failed"
	logMsgCleanupCompleted    = "notification cleanup completed"
	logMsgCleanupFailed       = "notification cleanup failed"
	logMsgSchedulerStarted    = "notification scheduler started"
	logMsgSchedulerStopped    = "notification scheduler stopped"
	logAttrPass               = "pass"
	logAttrError              = "error"
	logAttrLoanID             = "loan_id"
	logAttrUserID             = "user_id"
	logAttrCandidates         = "candidates"
	logAttrSent               = "sent"
	logAttrSkipped            = "skipped"
	logAttrFailed             = "failed"
	logAttrPurgedAcknowledged = "purged_acknowledged"
	logAttrPurgedExpired      = "purged_expired"

	passOverdue  = "overdue"
	passReminder = "reminder"
	passCleanup  = "cleanup"

	metricNotificationsSent   = "circulation_notifications_sent_total"
	metricNotificationsFailed = "circulation_notifications_failed_total"
	metricPassDuration        = "circulation_notification_pass_duration_seconds"

	labelKind = "kind"
)

// ErrCandidateQueryFailed marks a failure to even query the candidate set of
// a pass; unlike per-loan delivery failures it aborts the pass and surfaces
// to the caller so an operator can be alerted.
var ErrCandidateQueryFailed = errors.New("querying notification candidates failed")

// CirculationSource supplies the loans a pass decides on.
// *postgresengine.CirculationStore satisfies it.
type CirculationSource interface {
	GetOverdueLoans(ctx context.Context) ([]circulation.Loan, error)
	LoansDueOn(ctx context.Context, day time.Time) ([]circulation.Loan, error)
}

// NotificationLog is the persisted notification-record ledger used for the
// once-per-day idempotence check and the in-app notification trail.
// *postgresengine.CirculationStore satisfies it.
type NotificationLog interface {
	WasNotifiedOn(ctx context.Context, userID uuid.UUID, bookID uuid.UUID, kind circulation.NotificationKind, day time.Time) (bool, error)
	RecordNotification(ctx context.Context, record circulation.NotificationRecord) error
	PurgeAcknowledgedBefore(ctx context.Context, cutoff time.Time) (int64, error)
	PurgeExpired(ctx context.Context, now time.Time) (int64, error)
}

// NotificationSink delivers a notification. The scheduler does not care how
// delivery happens (email, push, ...), only about the error outcome.
type NotificationSink interface {
	Notify(ctx context.Context, delivery circulation.Delivery) error
}

// PassSummary reports what one pass did.
type PassSummary struct {
	Candidates int
	Sent       int
	Skipped    int
	Failed     int
}

// CleanupSummary reports what one cleanup pass purged.
type CleanupSummary struct {
	PurgedAcknowledged int64
	PurgedExpired      int64
}

// Scheduler drives the timed notification passes. Construct it with New,
// start the timers with Start, and stop them with Stop. The Run...PassNow
// methods run the same logic on demand.
type Scheduler struct {
	source CirculationSource
	log    NotificationLog
	sink   NotificationSink

	clock            circulation.Clock
	logger           circulation.Logger
	metricsCollector circulation.MetricsCollector

	overdueHour    int
	reminderHour   int
	cleanupWeekday time.Weekday
	cleanupHour    int
	retention      time.Duration
	recordTTL      time.Duration

	mu      sync.Mutex
	stopCh  chan struct{}
	wg      sync.WaitGroup
	started bool
}

// Option defines a functional option for configuring the Scheduler.
type Option func(*Scheduler)

// WithClock sets the time source; defaults to the system clock in UTC.
func WithClock(clock circulation.Clock) Option {
	return func(s *Scheduler) { s.clock = clock }
}

// WithLogger sets the logger for pass progress and per-item failures.
func WithLogger(logger circulation.Logger) Option {
	return func(s *Scheduler) { s.logger = logger }
}

// WithMetrics sets the metrics collector for sent/failed counters and pass durations.
func WithMetrics(collector circulation.MetricsCollector) Option {
	return func(s *Scheduler) { s.metricsCollector = collector }
}

// WithOverdueHour sets the UTC hour of the daily overdue pass (default 9).
func WithOverdueHour(hour int) Option {
	return func(s *Scheduler) { s.overdueHour = hour }
}

// WithReminderHour sets the UTC hour of the daily reminder pass (default 10).
func WithReminderHour(hour int) Option {
	return func(s *Scheduler) { s.reminderHour = hour }
}

// WithCleanupSlot sets the weekly cleanup slot (default Sunday 03:00 UTC).
func WithCleanupSlot(weekday time.Weekday, hour int) Option {
	return func(s *Scheduler) {
		s.cleanupWeekday = weekday
		s.cleanupHour = hour
	}
}

// WithRetention sets how long acknowledged notification records are kept
// before the cleanup pass purges them (default 30 days).
func WithRetention(retention time.Duration) Option {
	return func(s *Scheduler) { s.retention = retention }
}

// WithRecordTTL sets the expiry stamped on new notification records (default 7 days).
func WithRecordTTL(ttl time.Duration) Option {
	return func(s *Scheduler) { s.recordTTL = ttl }
}

// New creates a Scheduler with the given collaborators. The scheduler is not
// running until Start is called.
func New(source CirculationSource, log NotificationLog, sink NotificationSink, options ...Option) *Scheduler {
	s := &Scheduler{
		source:         source,
		log:            log,
		sink:           sink,
		clock:          circulation.SystemClock{},
		overdueHour:    defaultOverdueHour,
		reminderHour:   defaultReminderHour,
		cleanupWeekday: defaultCleanupWeekday,
		cleanupHour:    defaultCleanupHour,
		retention:      defaultRetention,
		recordTTL:      defaultRecordTTL,
	}

	for _, option := range options {
		option(s)
	}

	return s
}

// Start launches one timer goroutine per schedule: daily overdue, daily
// reminder, weekly cleanup. Calling Start on a running scheduler is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return
	}

	s.started = true
	s.stopCh = make(chan struct{})

	s.runDaily(ctx, s.overdueHour, func(passCtx context.Context) {
		_, _ = s.RunOverduePassNow(passCtx)
	})
	s.runDaily(ctx, s.reminderHour, func(passCtx context.Context) {
		_, _ = s.RunReminderPassNow(passCtx)
	})
	s.runWeekly(ctx, s.cleanupWeekday, s.cleanupHour, func(passCtx context.Context) {
		_, _ = s.RunCleanupPassNow(passCtx)
	})

	s.logInfo(logMsgSchedulerStarted)
}

// Stop signals all timer goroutines and waits for them to finish. A pass that
// is mid-batch completes its current loan and then observes the stop signal on
// the next timer wait; passes are safe to interrupt because they are
// idempotent per calendar day.
func (s *Scheduler) Stop() {
	s.mu.Lock()

	if !s.started {
		s.mu.Unlock()
		return
	}

	s.started = false
	close(s.stopCh)
	s.mu.Unlock()

	s.wg.Wait()
	s.logInfo(logMsgSchedulerStopped)
}

func (s *Scheduler) runDaily(ctx context.Context, hour int, pass func(context.Context)) {
	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		for {
			wait := s.untilNextDailyRun(hour)
			timer := time.NewTimer(wait)

			select {
			case <-timer.C:
				pass(ctx)

			case <-s.stopCh:
				timer.Stop()
				return
			}
		}
	}()
}

func (s *Scheduler) runWeekly(ctx context.Context, weekday time.Weekday, hour int, pass func(context.Context)) {
	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		for {
			wait := s.untilNextWeeklyRun(weekday, hour)
			timer := time.NewTimer(wait)

			select {
			case <-timer.C:
				pass(ctx)

			case <-s.stopCh:
				timer.Stop()
				return
			}
		}
	}()
}

// untilNextDailyRun computes the wait until the next occurrence of hour:00 UTC.
func (s *Scheduler) untilNextDailyRun(hour int) time.Duration {
	now := s.clock.Now()
	next := circulation.StartOfDay(now).Add(time.Duration(hour) * time.Hour)

	if !next.After(now) {
		next = next.Add(24 * time.Hour)
	}

	return next.Sub(now)
}

// untilNextWeeklyRun computes the wait until the next occurrence of weekday at hour:00 UTC.
func (s *Scheduler) untilNextWeeklyRun(weekday time.Weekday, hour int) time.Duration {
	now := s.clock.Now()
	next := circulation.StartOfDay(now).Add(time.Duration(hour) * time.Hour)

	daysAhead := (int(weekday) - int(next.Weekday()) + 7) % 7
	next = next.Add(time.Duration(daysAhead) * 24 * time.Hour)

	if !next.After(now) {
		next = next.Add(7 * 24 * time.Hour)
	}

	return next.Sub(now)
}

// RunOverduePassNow finds every loan the classifier currently yields overdue
// for and notifies each holder at most once per calendar day. A sink failure
// for one loan is logged and counted; the batch continues. Only a failure to
// query the candidate set aborts the pass.
func (s *Scheduler) RunOverduePassNow(ctx context.Context) (PassSummary, error) {
	now := s.clock.Now()

	loans, err := s.source.GetOverdueLoans(ctx)
	if err != nil {
		s.logError(logMsgCandidateQueryFail, err, logAttrPass, passOverdue)
		return PassSummary{}, errors.Join(ErrCandidateQueryFailed, err)
	}

	return s.deliverBatch(ctx, passOverdue, circulation.NotificationOverdue, loans, now), nil
}

// RunReminderPassNow notifies holders of active loans due exactly one
// calendar day ahead, at most once per calendar day, with the same failure
// policy as the overdue pass.
func (s *Scheduler) RunReminderPassNow(ctx context.Context) (PassSummary, error) {
	now := s.clock.Now()
	tomorrow := circulation.StartOfDay(now).Add(24 * time.Hour)

	loans, err := s.source.LoansDueOn(ctx, tomorrow)
	if err != nil {
		s.logError(logMsgCandidateQueryFail, err, logAttrPass, passReminder)
		return PassSummary{}, errors.Join(ErrCandidateQueryFailed, err)
	}

	return s.deliverBatch(ctx, passReminder, circulation.NotificationReminder, loans, now), nil
}

// RunCleanupPassNow purges notification records that are acknowledged and
// older than the retention window, plus records whose expiry has passed.
func (s *Scheduler) RunCleanupPassNow(ctx context.Context) (CleanupSummary, error) {
	now := s.clock.Now()

	purgedAcknowledged, ackErr := s.log.PurgeAcknowledgedBefore(ctx, now.Add(-s.retention))
	if ackErr != nil {
		s.logError(logMsgCleanupFailed, ackErr, logAttrPass, passCleanup)
		return CleanupSummary{}, ackErr
	}

	purgedExpired, expErr := s.log.PurgeExpired(ctx, now)
	if expErr != nil {
		s.logError(logMsgCleanupFailed, expErr, logAttrPass, passCleanup)
		return CleanupSummary{PurgedAcknowledged: purgedAcknowledged}, expErr
	}

	s.logInfo(logMsgCleanupCompleted,
		logAttrPurgedAcknowledged, purgedAcknowledged,
		logAttrPurgedExpired, purgedExpired)

	return CleanupSummary{
		PurgedAcknowledged: purgedAcknowledged,
		PurgedExpired:      purgedExpired,
	}, nil
}

// deliverBatch applies the once-per-day idempotence check and the
// log-and-continue failure policy to each candidate loan.
func (s *Scheduler) deliverBatch(
	ctx context.Context,
	passName string,
	kind circulation.NotificationKind,
	loans []circulation.Loan,
	now time.Time,
) PassSummary {

	start := time.Now()
	summary := PassSummary{Candidates: len(loans)}

	s.logInfo(logMsgPassStarted, logAttrPass, passName, logAttrCandidates, len(loans))

	for _, loan := range loans {
		alreadyNotified, checkErr := s.log.WasNotifiedOn(ctx, loan.UserID, loan.BookID, kind, now)
		if checkErr != nil {
			summary.Failed++
			s.logError(logMsgIdempotenceFail, checkErr, logAttrLoanID, loan.ID.String())
			continue
		}

		if alreadyNotified {
			summary.Skipped++
			continue
		}

		payload := circulation.DeliveryPayload{
			LoanID:       loan.ID,
			BookID:       loan.BookID,
			DueDate:      loan.DueDate,
			DaysOverdue:  circulation.DaysOverdue(loan.DueDate, now),
			DaysUntilDue: circulation.DaysUntilDue(loan.DueDate, now),
		}

		delivery := circulation.Delivery{
			Recipient: loan.UserID,
			Kind:      kind,
			Payload:   payload,
		}

		if notifyErr := s.sink.Notify(ctx, delivery); notifyErr != nil {
			summary.Failed++
			s.countNotification(metricNotificationsFailed, kind)
			s.logError(logMsgDeliveryFailed, errors.Join(circulation.ErrNotificationDeliveryFailed, notifyErr),
				logAttrLoanID, loan.ID.String(),
				logAttrUserID, loan.UserID.String())
			continue
		}

		summary.Sent++
		s.countNotification(metricNotificationsSent, kind)

		if recordErr := s.recordDelivery(ctx, loan, kind, payload, now); recordErr != nil {
			// The notification went out; a missing record only risks one
			// duplicate on the next run.
			s.logWarn(logMsgRecordFailed, logAttrError, recordErr.Error(), logAttrLoanID, loan.ID.String())
		}
	}

	s.recordPassDuration(passName, time.Since(start))

	s.logInfo(logMsgPassCompleted,
		logAttrPass, passName,
		logAttrCandidates, summary.Candidates,
		logAttrSent, summary.Sent,
		logAttrSkipped, summary.Skipped,
		logAttrFailed, summary.Failed)

	return summary
}

func (s *Scheduler) recordDelivery(
	ctx context.Context,
	loan circulation.Loan,
	kind circulation.NotificationKind,
	payload circulation.DeliveryPayload,
	now time.Time,
) error {

	recordID, idErr := uuid.NewV7()
	if idErr != nil {
		return idErr
	}

	payloadJSON, marshalErr := payload.ToJSON()
	if marshalErr != nil {
		return marshalErr
	}

	return s.log.RecordNotification(ctx, circulation.NotificationRecord{
		ID:        recordID,
		UserID:    loan.UserID,
		LoanID:    loan.ID,
		BookID:    loan.BookID,
		Kind:      kind,
		Payload:   payloadJSON,
		CreatedAt: now,
		ExpiresAt: now.Add(s.recordTTL),
	})
}

func (s *Scheduler) countNotification(metricName string, kind circulation.NotificationKind) {
	if s.metricsCollector != nil {
		s.metricsCollector.IncrementCounter(metricName, map[string]string{labelKind: string(kind)})
	}
}

func (s *Scheduler) recordPassDuration(passName string, duration time.Duration) {
	if s.metricsCollector != nil {
		s.metricsCollector.RecordDuration(metricPassDuration, duration, map[string]string{logAttrPass: passName})
	}
}

func (s *Scheduler) logInfo(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Info(msg, args...)
	}
}

func (s *Scheduler) logWarn(msg string, args ...any) {
	if s.logger != nil {
		s.logger.Warn(msg, args...)
	}
}

func (s *Scheduler) logError(msg string, err error, args ...any) {
	if s.logger != nil {
		allArgs := []any{logAttrError, err.Error()}
		allArgs = append(allArgs, args...)
		s.logger.Error(msg, allArgs...)
	}
}
