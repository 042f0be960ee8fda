package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/gateway"
	"github.com/stemsi/exstem-proctor/internal/metrics"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/proctor"
)

// Session errors.
var (
	ErrSessionClosed   = errors.New("session is closed")
	ErrSessionExists   = errors.New("a session for this certification transaction is already running")
	ErrSessionFinished = errors.New("the session for this certification transaction was already submitted")
	ErrSessionNotFound = errors.New("session not found")
	ErrUnknownSignal   = errors.New("unknown environment signal")
)

// Gateway is the remote certification backend as used by a session.
type Gateway interface {
	FetchQuestions(ctx context.Context, src model.QuestionSource) (model.QuestionSet, error)
	Submit(ctx context.Context, sub *model.Submission) error
}

// SnapshotStore caches session snapshots and guards single ownership.
type SnapshotStore interface {
	Save(ctx context.Context, snap *model.SessionSnapshot) error
	Get(ctx context.Context, certTransactionID string) (*model.SessionSnapshot, error)
	AcquireLock(ctx context.Context, certTransactionID, owner string, ttl time.Duration) (bool, error)
	RefreshLock(ctx context.Context, certTransactionID, owner string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, certTransactionID, owner string) error
}

// EventSink receives audit records and live monitor events.
type EventSink interface {
	EnqueueViolation(ctx context.Context, v *model.ViolationRecord) error
	EnqueueSubmission(ctx context.Context, a *model.SubmissionAudit) error
	PublishMonitor(ctx context.Context, tenantID string, ev *model.MonitorEvent) error
}

// Update is one message for the client of a session.
type Update struct {
	Kind     proctor.EffectKind
	Seconds  int
	Message  string
	Reason   model.SubmitReason
	Snapshot *model.SessionSnapshot
}

type runnerEvent struct {
	apply func(c *proctor.Controller) ([]proctor.Effect, error)
	reply chan error
}

// SessionRunner owns one Controller and is its only caller: every event
// (client action, tick, fetch result, gateway result) is applied on the
// Run goroutine, so transitions never interleave.
type SessionRunner struct {
	ctrl  *proctor.Controller
	src   model.QuestionSource
	gw    Gateway
	store SnapshotStore
	sink  EventSink
	log   zerolog.Logger

	tick    time.Duration
	lockTTL time.Duration
	owner   string
	cancel  context.CancelFunc

	graceTimer *time.Timer
	closing    <-chan struct{}
	detached   bool
	resumed    bool

	events  chan runnerEvent
	updates chan Update
	done    chan struct{}
}

func newSessionRunner(ctrl *proctor.Controller, src model.QuestionSource, gw Gateway, store SnapshotStore, sink EventSink, log zerolog.Logger, tick, lockTTL time.Duration, owner string) *SessionRunner {
	return &SessionRunner{
		ctrl:    ctrl,
		src:     src,
		gw:      gw,
		store:   store,
		sink:    sink,
		log:     log,
		tick:    tick,
		lockTTL: lockTTL,
		owner:   owner,
		events:  make(chan runnerEvent, 16),
		updates: make(chan Update, 128),
		done:    make(chan struct{}),
	}
}

// Updates streams client messages. It is closed when the runner stops.
func (r *SessionRunner) Updates() <-chan Update { return r.updates }

// Done is closed when the runner stops.
func (r *SessionRunner) Done() <-chan struct{} { return r.done }

// Close stops the runner without flushing anything.
func (r *SessionRunner) Close() {
	if r.cancel != nil {
		r.cancel()
	}
}

// Answer records a selection.
func (r *SessionRunner) Answer(questionID, option int) error {
	return r.call(func(c *proctor.Controller) ([]proctor.Effect, error) {
		return c.Select(questionID, option)
	})
}

// Signal forwards an environment signal.
func (r *SessionRunner) Signal(sig proctor.Signal) error {
	if !sig.Valid() {
		return ErrUnknownSignal
	}
	return r.call(func(c *proctor.Controller) ([]proctor.Effect, error) {
		return c.Signal(sig), nil
	})
}

// Fullscreen reports the outcome of a fullscreen request.
func (r *SessionRunner) Fullscreen(granted bool) error {
	return r.call(func(c *proctor.Controller) ([]proctor.Effect, error) {
		c.FullscreenResult(granted)
		return nil, nil
	})
}

// Submit is the user's submit click.
func (r *SessionRunner) Submit() error {
	return r.call(func(c *proctor.Controller) ([]proctor.Effect, error) {
		return c.Submit(), nil
	})
}

// Snapshot returns the live session state.
func (r *SessionRunner) Snapshot() (model.SessionSnapshot, error) {
	var snap model.SessionSnapshot
	err := r.call(func(c *proctor.Controller) ([]proctor.Effect, error) {
		snap = c.Snapshot()
		return nil, nil
	})
	return snap, err
}

func (r *SessionRunner) call(fn func(c *proctor.Controller) ([]proctor.Effect, error)) error {
	ev := runnerEvent{apply: fn, reply: make(chan error, 1)}
	select {
	case r.events <- ev:
	case <-r.done:
		return ErrSessionClosed
	}
	select {
	case err := <-ev.reply:
		return err
	case <-r.done:
		return ErrSessionClosed
	}
}

// post queues an event without waiting; it is dropped once the runner stopped.
func (r *SessionRunner) post(fn func(c *proctor.Controller) ([]proctor.Effect, error)) {
	select {
	case r.events <- runnerEvent{apply: fn}:
	case <-r.done:
	}
}

// Run drives the session until ctx is cancelled. Cancellation is the
// client navigating away: nothing is flushed, but a submission already in
// flight is waited for so its outcome is recorded.
func (r *SessionRunner) Run(ctx context.Context) {
	defer close(r.done)
	defer close(r.updates)
	defer r.stopGrace()

	r.log.Info().Msg("Session opened")
	go r.fetch(ctx)

	ticker := time.NewTicker(r.tick)
	defer ticker.Stop()
	lockTicker := time.NewTicker(r.lockTTL / 3)
	defer lockTicker.Stop()

	persist := context.WithoutCancel(ctx)
	r.closing = ctx.Done()
	stop := ctx.Done()
	for {
		select {
		case <-stop:
			r.detached = true
			r.save(persist)
			if r.ctrl.State() != model.SessionStateSubmitting {
				r.log.Info().Str("state", string(r.ctrl.State())).Msg("Session closed")
				return
			}
			r.log.Info().Msg("Client left during submission, waiting for the gateway")
			stop = nil

		case <-ticker.C:
			r.apply(persist, r.ctrl.Tick())

		case <-lockTicker.C:
			ok, err := r.store.RefreshLock(persist, r.ctrl.Identity().CertTransactionID, r.owner, r.lockTTL)
			if err != nil {
				r.log.Warn().Err(err).Msg("Session lock refresh failed")
			} else if !ok {
				r.log.Warn().Msg("Session lock lost to another owner")
			}

		case ev := <-r.events:
			before := r.ctrl.State()
			effects, err := ev.apply(r.ctrl)
			if before == model.SessionStateLoading && r.ctrl.State() == model.SessionStateActive {
				// The countdown starts on activation, not when the runner started.
				ticker.Reset(r.tick)
			}
			r.apply(persist, effects)
			if ev.reply != nil {
				ev.reply <- err
			}
			if r.detached && r.ctrl.State().Terminal() {
				r.log.Info().Str("state", string(r.ctrl.State())).Msg("Session closed")
				return
			}
		}
	}
}

// startGrace schedules the end of a grace window that just opened. The
// window is measured on the wall clock from the violation.
func (r *SessionRunner) startGrace() {
	d := time.Duration(r.ctrl.GraceRemaining()) * r.tick
	r.graceTimer = time.AfterFunc(d, func() {
		r.post(func(c *proctor.Controller) ([]proctor.Effect, error) {
			return c.GraceElapsed(), nil
		})
	})
}

func (r *SessionRunner) stopGrace() {
	if r.graceTimer != nil {
		r.graceTimer.Stop()
	}
}

// save stores the current snapshot. A resumed session keeps its previous
// snapshot until it is active again.
func (r *SessionRunner) save(ctx context.Context) *model.SessionSnapshot {
	snap := r.ctrl.Snapshot()
	if r.resumed && snap.State == model.SessionStateLoading {
		return &snap
	}
	if err := r.store.Save(ctx, &snap); err != nil {
		r.log.Warn().Err(err).Msg("Snapshot save failed")
	}
	return &snap
}

func (r *SessionRunner) fetch(ctx context.Context) {
	set, err := r.gw.FetchQuestions(ctx, r.src)
	if ctx.Err() != nil {
		return
	}

	r.post(func(c *proctor.Controller) ([]proctor.Effect, error) {
		if err != nil {
			r.log.Error().Err(err).Msg("Question fetch failed")
			r.publish(ctx, model.MonitorEventLoadError, err.Error())
			return c.FailLoad(err), nil
		}

		effects, loadErr := c.Load(set)
		if loadErr != nil {
			r.log.Error().Err(loadErr).Msg("Question set rejected")
			r.publish(ctx, model.MonitorEventLoadError, loadErr.Error())
			return effects, nil
		}

		r.log.Info().
			Int("questions", len(set.Questions)).
			Int("time_limit_seconds", set.TimeLimitSeconds).
			Msg("Session active")
		r.publish(ctx, model.MonitorEventStarted, "")
		return effects, nil
	})
}

func (r *SessionRunner) apply(ctx context.Context, effects []proctor.Effect) {
	for _, e := range effects {
		switch e.Kind {
		case proctor.EffectSubmit:
			r.submit(ctx, e)

		case proctor.EffectViolation:
			r.recordViolation(ctx, e)

		case proctor.EffectStateChanged:
			r.emit(Update{Kind: e.Kind, Snapshot: r.save(ctx)})

		case proctor.EffectWarning:
			if r.graceTimer == nil && r.ctrl.ViolationPending() {
				r.startGrace()
			}
			r.emit(Update{Kind: e.Kind, Seconds: e.Seconds, Message: e.Message})

		case proctor.EffectSubmitted:
			r.log.Info().Str("reason", string(e.Reason)).Msg("Session submitted")
			r.publish(ctx, model.MonitorEventSubmitted, string(e.Reason))
			r.emit(Update{Kind: e.Kind, Message: e.Message, Reason: e.Reason})

		case proctor.EffectFailed:
			r.log.Warn().Str("reason", string(e.Reason)).Str("message", e.Message).Msg("Session submission failed")
			r.publish(ctx, model.MonitorEventFailed, e.Message)
			r.emit(Update{Kind: e.Kind, Message: e.Message, Reason: e.Reason})

		default:
			r.emit(Update{Kind: e.Kind, Seconds: e.Seconds, Message: e.Message})
		}
	}
}

// submit issues the single gateway call. The call outlives a client
// disconnect and has no timeout of its own.
func (r *SessionRunner) submit(ctx context.Context, e proctor.Effect) {
	sub, reason := e.Submission, e.Reason
	submitCtx := context.WithoutCancel(ctx)

	r.log.Info().
		Str("reason", string(reason)).
		Int("answered", sub.Answered()).
		Int("total", len(sub.Answers)).
		Msg("Submitting answers")

	go func() {
		err := r.gw.Submit(submitCtx, sub)
		metrics.ObserveSubmission(string(reason), err)

		audit := &model.SubmissionAudit{
			CertTransactionID: sub.CertTransactionID,
			TenantID:          sub.TenantID,
			EmployeeID:        sub.EmployeeID,
			Reason:            reason,
			Succeeded:         err == nil,
			Answered:          sub.Answered(),
			Total:             len(sub.Answers),
			FinishedAt:        time.Now().UTC(),
		}
		if err != nil {
			audit.Message = gateway.MessageFrom(err)
			if audit.Message == "" {
				audit.Message = err.Error()
			}
		}
		if qErr := r.sink.EnqueueSubmission(submitCtx, audit); qErr != nil {
			r.log.Error().Err(qErr).Msg("Submission audit enqueue failed")
		}

		r.post(func(c *proctor.Controller) ([]proctor.Effect, error) {
			return c.Complete(err), nil
		})
	}()
}

func (r *SessionRunner) recordViolation(ctx context.Context, e proctor.Effect) {
	id := r.ctrl.Identity()
	metrics.ObserveViolation(string(e.Signal), e.Suppressed)

	r.log.Warn().
		Str("signal", string(e.Signal)).
		Bool("suppressed", e.Suppressed).
		Msg("Integrity violation")

	rec := &model.ViolationRecord{
		ID:                uuid.New(),
		CertTransactionID: id.CertTransactionID,
		TenantID:          id.TenantID,
		EmployeeID:        id.EmployeeID,
		Signal:            string(e.Signal),
		Suppressed:        e.Suppressed,
		RecordedAt:        time.Now().UTC(),
	}
	if err := r.sink.EnqueueViolation(ctx, rec); err != nil {
		r.log.Error().Err(err).Msg("Violation enqueue failed")
	}
	if !e.Suppressed {
		r.publish(ctx, model.MonitorEventViolation, string(e.Signal))
	}
}

func (r *SessionRunner) publish(ctx context.Context, typ model.MonitorEventType, detail string) {
	id := r.ctrl.Identity()
	ev := &model.MonitorEvent{
		Type:              typ,
		CertTransactionID: id.CertTransactionID,
		EmployeeID:        id.EmployeeID,
		Detail:            detail,
		At:                time.Now().UTC(),
	}
	if err := r.sink.PublishMonitor(ctx, id.TenantID, ev); err != nil {
		r.log.Debug().Err(err).Msg("Monitor publish failed")
	}
}

func (r *SessionRunner) emit(u Update) {
	if r.detached {
		return
	}
	select {
	case r.updates <- u:
	case <-r.closing:
	}
}
