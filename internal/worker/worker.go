// Package worker drains the newsletter delivery queue. Each iteration claims
// one task in its own short transaction, sends the email and then deletes the
// task or records the failed attempt. Any number of workers may run against
// the same database; row locks with SKIP LOCKED keep them off each other's
// tasks.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-newsletter-backend/internal/domain"
	"github.com/tbourn/go-newsletter-backend/internal/repo"
)

// ExecutionOutcome is the result of one TryExecuteTask call.
type ExecutionOutcome int

const (
	// EmptyQueue means there was nothing to claim.
	EmptyQueue ExecutionOutcome = iota
	// TaskCompleted means the task was settled and removed: the email was
	// sent or the recipient was invalid.
	TaskCompleted
	// TaskFailed means the send failed. The task was kept with one more
	// attempt, or dropped if it reached the attempt cap.
	TaskFailed
)

func (o ExecutionOutcome) String() string {
	switch o {
	case EmptyQueue:
		return "empty_queue"
	case TaskCompleted:
		return "task_completed"
	case TaskFailed:
		return "task_failed"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// EmailSender delivers one email. Implemented by email.Client.
type EmailSender interface {
	SendEmail(ctx context.Context, recipient, subject, htmlContent, textContent string) error
}

// DeliveryError reports a failed send. Dropped is true when the task reached
// the attempt cap and was removed from the queue.
type DeliveryError struct {
	IssueID   string
	Recipient string
	Attempts  int
	Dropped   bool
	Err       error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver issue %s to %s (attempt %d): %v", e.IssueID, e.Recipient, e.Attempts, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// Worker drains the delivery queue.
type Worker struct {
	db       *gorm.DB
	sender   EmailSender
	cfg      Config
	log      zerolog.Logger
	validate *validator.Validate

	lastSample time.Time
}

// New constructs a Worker with defaults and optional settings.
func New(db *gorm.DB, sender EmailSender, opts ...Option) *Worker {
	if db == nil {
		panic("worker: nil database")
	}
	if sender == nil {
		panic("worker: nil EmailSender")
	}

	cfg := Config{Logger: defaultLogger()}
	for _, opt := range opts {
		opt(&cfg)
	}
	cfg = cfg.withDefaults()

	return &Worker{
		db:       db,
		sender:   sender,
		cfg:      cfg,
		log:      cfg.Logger,
		validate: validator.New(),
	}
}

// Run polls the queue until ctx is cancelled. Cancellation is observed
// between iterations only; an iteration in progress always finishes.
func (w *Worker) Run(ctx context.Context) error {
	w.log.Info().
		Dur("poll_interval", w.cfg.PollInterval).
		Int("max_attempts", w.cfg.MaxAttempts).
		Msg("delivery worker started")

	for {
		if ctx.Err() != nil {
			w.log.Info().Msg("delivery worker stopped")
			return nil
		}

		outcome, err := w.TryExecuteTask(ctx)
		w.maybeSampleQueue(ctx)

		var wait time.Duration
		switch {
		case err != nil:
			var de *DeliveryError
			if !errors.As(err, &de) {
				w.log.Error().Err(err).Msg("delivery iteration failed")
			}
			wait = w.cfg.ErrorBackoff
		case outcome == EmptyQueue:
			wait = w.cfg.PollInterval
		}

		if wait > 0 {
			if err := sleep(ctx, wait); err != nil {
				w.log.Info().Msg("delivery worker stopped")
				return nil
			}
		}
	}
}

// TryExecuteTask claims and settles at most one task. The iteration runs on
// a context detached from ctx's cancellation and bounded by the task timeout,
// so a claimed task is never abandoned halfway by a shutdown signal.
func (w *Worker) TryExecuteTask(ctx context.Context) (ExecutionOutcome, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.cfg.TaskTimeout)
	defer cancel()

	ctx, span := otel.Tracer("worker/DeliveryWorker").Start(ctx, "TryExecuteTask",
		trace.WithSpanKind(trace.SpanKindConsumer),
	)
	defer span.End()

	outcome, err := w.execute(ctx, span)
	span.SetAttributes(attribute.String("delivery.outcome", outcome.String()))
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	}
	return outcome, err
}

func (w *Worker) execute(ctx context.Context, span trace.Span) (ExecutionOutcome, error) {
	tx := w.db.WithContext(ctx).Begin()
	if tx.Error != nil {
		return TaskFailed, fmt.Errorf("begin transaction: %w", tx.Error)
	}
	// No-op once committed.
	defer tx.Rollback()

	task, err := repo.ClaimDeliveryTask(ctx, tx)
	if repo.IsNotFound(err) {
		emptyPolls.Inc()
		return EmptyQueue, nil
	}
	if err != nil {
		return TaskFailed, fmt.Errorf("claim task: %w", err)
	}

	span.SetAttributes(
		attribute.String("newsletter_issue.id", task.NewsletterIssueID),
		attribute.Int("delivery.attempts", task.Attempts),
	)
	logger := w.log.With().
		Str("newsletter_issue_id", task.NewsletterIssueID).
		Str("subscriber_email", task.SubscriberEmail).
		Logger()

	issue, err := repo.GetNewsletterIssue(ctx, tx, task.NewsletterIssueID)
	if err != nil {
		return TaskFailed, fmt.Errorf("load issue %s: %w", task.NewsletterIssueID, err)
	}

	if verr := w.validate.Var(task.SubscriberEmail, "required,email"); verr != nil {
		logger.Warn().Err(verr).Msg("skipping a confirmed subscriber; their stored contact details are invalid")
		if err := w.settle(ctx, tx, task); err != nil {
			return TaskFailed, err
		}
		deliveryTasks.WithLabelValues(outcomeInvalidRecipient).Inc()
		return TaskCompleted, nil
	}

	sendErr := w.sender.SendEmail(ctx, task.SubscriberEmail, issue.Title, issue.HTMLContent, issue.TextContent)
	if sendErr == nil {
		if err := w.settle(ctx, tx, task); err != nil {
			return TaskFailed, err
		}
		deliveryTasks.WithLabelValues(outcomeSent).Inc()
		logger.Debug().Msg("newsletter issue delivered")
		return TaskCompleted, nil
	}

	return w.recordFailure(ctx, tx, task, sendErr, logger)
}

// recordFailure keeps the task with one more attempt, or drops it once the
// attempt cap is reached. Either way the returned error is a *DeliveryError.
func (w *Worker) recordFailure(ctx context.Context, tx *gorm.DB, task *domain.DeliveryTask, sendErr error, logger zerolog.Logger) (ExecutionOutcome, error) {
	derr := &DeliveryError{
		IssueID:   task.NewsletterIssueID,
		Recipient: task.SubscriberEmail,
		Attempts:  task.Attempts + 1,
		Err:       sendErr,
	}

	if derr.Attempts >= w.cfg.MaxAttempts {
		if err := w.settle(ctx, tx, task); err != nil {
			return TaskFailed, errors.Join(derr, err)
		}
		derr.Dropped = true
		deliveryTasks.WithLabelValues(outcomeDropped).Inc()
		logger.Error().
			Err(sendErr).
			Int("attempts", derr.Attempts).
			Msg("delivery permanently dropped after reaching the attempt cap")
		return TaskFailed, derr
	}

	attempts, err := repo.IncrementDeliveryAttempts(ctx, tx, task.NewsletterIssueID, task.SubscriberEmail)
	if err != nil {
		return TaskFailed, errors.Join(derr, fmt.Errorf("record attempt: %w", err))
	}
	if err := tx.Commit().Error; err != nil {
		return TaskFailed, errors.Join(derr, fmt.Errorf("commit attempt: %w", err))
	}
	derr.Attempts = attempts
	deliveryTasks.WithLabelValues(outcomeRetry).Inc()
	logger.Warn().
		Err(sendErr).
		Int("attempts", attempts).
		Int("max_attempts", w.cfg.MaxAttempts).
		Msg("delivery failed; task kept for retry")
	return TaskFailed, derr
}

// settle deletes the task and commits the claim transaction.
func (w *Worker) settle(ctx context.Context, tx *gorm.DB, task *domain.DeliveryTask) error {
	if err := repo.DeleteDeliveryTask(ctx, tx, task.NewsletterIssueID, task.SubscriberEmail); err != nil {
		return fmt.Errorf("delete task: %w", err)
	}
	if err := tx.Commit().Error; err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// maybeSampleQueue refreshes the queue depth gauge at most once per
// SampleInterval.
func (w *Worker) maybeSampleQueue(ctx context.Context) {
	if ctx.Err() != nil || time.Since(w.lastSample) < w.cfg.SampleInterval {
		return
	}
	w.lastSample = time.Now()

	n, oldest, err := repo.QueueStats(ctx, w.db)
	if err != nil {
		w.log.Debug().Err(err).Msg("queue depth sample failed")
		return
	}
	queueDepth.Set(float64(n))
	if oldest != nil {
		w.log.Debug().
			Int64("pending", n).
			Dur("oldest_age", time.Since(*oldest)).
			Msg("delivery queue sampled")
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
