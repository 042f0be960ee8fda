package proctor

import (
	"errors"
	"time"

	"github.com/stemsi/exstem-proctor/internal/model"
	"go.uber.org/atomic"
)

// DefaultGracePeriod is the warning window, in seconds, between the first
// integrity violation and the forced submission.
const DefaultGracePeriod = 10

// User-facing terminal messages.
const (
	MessageSubmitted       = "Your answers have been submitted."
	MessageTimeUp          = "Time's up! Your answers have been submitted automatically."
	MessageViolation       = "The assessment was submitted automatically after leaving the proctored environment."
	MessageSubmitFailed    = "Submission failed. Please contact your administrator."
	MessageLoadFailed      = "The assessment could not be loaded. Please try again later."
	MessageViolationNotice = "You left the proctored environment. The assessment will be submitted automatically."
)

// UserMessager is implemented by errors that carry a message meant for the
// test-taker, such as a backend-provided error message.
type UserMessager interface {
	UserMessage() string
}

// Option configures a Controller.
type Option func(*Controller)

// WithGracePeriod overrides the violation grace window. Zero submits on the
// first violation without a warning window.
func WithGracePeriod(seconds int) Option {
	return func(c *Controller) {
		if seconds >= 0 {
			c.grace = seconds
		}
	}
}

// WithGraceTimer hands the end of the grace window to the caller: Tick only
// counts the warning down and GraceElapsed forces the submission.
func WithGraceTimer() Option {
	return func(c *Controller) { c.graceTimer = true }
}

// Resume is the progress of an earlier connection to the same session,
// already aged by the time spent disconnected.
type Resume struct {
	Answers          map[int]int
	TimeLimited      bool
	TimeRemaining    int
	ViolationPending bool
	GraceRemaining   int
}

// WithResume continues an interrupted session on Load instead of starting
// it fresh.
func WithResume(r Resume) Option {
	return func(c *Controller) { c.resume = &r }
}

// WithClock overrides the time source used for snapshot timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// Controller is the state machine of one proctored session:
//
//	Loading -> Active -> Submitting -> Submitted | Failed
//
// Active has a ViolationGrace sub-state (violationPending). Every method is
// a synchronous transition that returns the effects the caller must carry
// out; the Controller itself performs no I/O. It is meant to be driven from
// a single goroutine. The hasSubmitted guard is the only field that may be
// read concurrently.
type Controller struct {
	identity   model.Identity
	grace      int
	graceTimer bool
	resume     *Resume
	now        func() time.Time

	state       model.SessionState
	questions   []model.Question
	answers     *AnswerStore
	timer       Countdown
	timeLimited bool
	monitor     Monitor

	hasSubmitted     *atomic.Bool
	violationPending bool
	graceRemaining   int

	reason     *model.SubmitReason
	submission *model.Submission
	message    string
	loadErr    error
}

// New creates a Controller in the Loading state.
func New(identity model.Identity, opts ...Option) *Controller {
	c := &Controller{
		identity:     identity,
		grace:        DefaultGracePeriod,
		now:          time.Now,
		state:        model.SessionStateLoading,
		answers:      NewAnswerStore(nil),
		hasSubmitted: atomic.NewBool(false),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State returns the current state.
func (c *Controller) State() model.SessionState { return c.state }

// HasSubmitted reports whether the single submission attempt was claimed.
// Safe for concurrent use.
func (c *Controller) HasSubmitted() bool { return c.hasSubmitted.Load() }

// ViolationPending reports whether a grace window is running.
func (c *Controller) ViolationPending() bool { return c.violationPending }

// GraceRemaining returns the seconds left in the open grace window.
func (c *Controller) GraceRemaining() int { return c.graceRemaining }

// Identity returns the session identity.
func (c *Controller) Identity() model.Identity { return c.identity }

// TimeRemaining returns the countdown's remaining seconds (0 when untimed).
func (c *Controller) TimeRemaining() int { return c.timer.Remaining() }

// Submission returns the payload built when the session entered Submitting.
func (c *Controller) Submission() *model.Submission { return c.submission }

// Load moves a Loading session to Active with the fetched question set:
// the countdown starts when a time limit applies, the monitor is armed and
// fullscreen is requested. A resumed session continues its countdown, its
// answers and its grace window, and is submitted at once when either ran
// out while it was disconnected.
func (c *Controller) Load(set model.QuestionSet) ([]Effect, error) {
	if c.state != model.SessionStateLoading {
		return nil, ErrAlreadyLoaded
	}
	if len(set.Questions) == 0 {
		return c.FailLoad(ErrNoQuestions), ErrNoQuestions
	}
	seen := make(map[int]struct{}, len(set.Questions))
	for _, q := range set.Questions {
		if _, dup := seen[q.ID]; dup {
			return c.FailLoad(ErrDuplicateQuestion), ErrDuplicateQuestion
		}
		seen[q.ID] = struct{}{}
	}

	c.questions = append([]model.Question(nil), set.Questions...)
	c.answers = NewAnswerStore(c.questions)
	c.monitor.Arm()
	c.state = model.SessionStateActive
	c.loadErr = nil
	c.message = ""

	effects := []Effect{{Kind: EffectRequestFullscreen}}
	if c.resume == nil {
		if err := c.timer.Start(set.TimeLimitSeconds); err == nil {
			c.timeLimited = true
		}
		return append(effects, Effect{Kind: EffectStateChanged}), nil
	}

	r := c.resume
	c.resume = nil
	for qid, opt := range r.Answers {
		// Questions dropped by the backend since the last connection are ignored.
		_ = c.answers.Select(qid, opt)
	}

	if r.TimeLimited {
		c.timeLimited = true
		if r.TimeRemaining <= 0 {
			return c.beginSubmit(model.SubmitReasonExpired), nil
		}
		_ = c.timer.Start(r.TimeRemaining)
	}

	if r.ViolationPending {
		if r.GraceRemaining <= 0 {
			return c.beginSubmit(model.SubmitReasonViolation), nil
		}
		c.violationPending = true
		c.graceRemaining = r.GraceRemaining
		c.message = MessageViolationNotice
		effects = append(effects, Effect{Kind: EffectWarning, Seconds: c.graceRemaining, Message: MessageViolationNotice})
	}
	return append(effects, Effect{Kind: EffectStateChanged}), nil
}

// FailLoad records a question fetch failure. The session stays in Loading
// with an explicit error so the caller never waits silently.
func (c *Controller) FailLoad(err error) []Effect {
	if c.state != model.SessionStateLoading {
		return nil
	}
	c.loadErr = err
	c.message = MessageLoadFailed
	return []Effect{
		{Kind: EffectLoadFailed, Message: MessageLoadFailed},
		{Kind: EffectStateChanged},
	}
}

// LoadError returns the last load failure, if any.
func (c *Controller) LoadError() error { return c.loadErr }

// Select records the user's choice for a question. Only allowed while Active,
// including during a grace window.
func (c *Controller) Select(questionID, option int) ([]Effect, error) {
	if c.state != model.SessionStateActive {
		return nil, ErrNotActive
	}
	if err := c.answers.Select(questionID, option); err != nil {
		return nil, err
	}
	return []Effect{{Kind: EffectStateChanged}}, nil
}

// FullscreenResult records whether the client actually entered fullscreen.
// A denied request is not fatal; it only means a later exit is not a violation.
func (c *Controller) FullscreenResult(granted bool) {
	if c.state != model.SessionStateActive {
		return
	}
	c.monitor.SetFullscreen(granted)
}

// Signal feeds one environment signal through the monitor. The first
// violation opens the grace window; violations inside a running window are
// reported for auditing but change nothing.
func (c *Controller) Signal(sig Signal) []Effect {
	if c.state != model.SessionStateActive {
		return nil
	}

	obs := c.monitor.Observe(sig)
	var effects []Effect
	if obs.ConfirmLeave {
		effects = append(effects, Effect{Kind: EffectConfirmLeave})
	}
	if !obs.Violation {
		return effects
	}

	if c.violationPending {
		return append(effects, Effect{Kind: EffectViolation, Signal: sig, Suppressed: true})
	}

	effects = append(effects, Effect{Kind: EffectViolation, Signal: sig})
	if c.grace == 0 {
		return append(effects, c.beginSubmit(model.SubmitReasonViolation)...)
	}

	c.violationPending = true
	c.graceRemaining = c.grace
	c.message = MessageViolationNotice
	return append(effects,
		Effect{Kind: EffectWarning, Seconds: c.graceRemaining, Signal: sig, Message: MessageViolationNotice},
		Effect{Kind: EffectStateChanged},
	)
}

// Tick advances the session by one second: the countdown (if timed) and the
// grace window (if open). When both run out on the same tick, the countdown
// claims the submission and the grace window's attempt is a no-op. With
// WithGraceTimer the window never closes here.
func (c *Controller) Tick() []Effect {
	if c.state != model.SessionStateActive {
		return nil
	}

	var (
		effects      []Effect
		expired      bool
		graceElapsed bool
	)

	if c.timer.Running() {
		expired = c.timer.Tick()
		effects = append(effects, Effect{Kind: EffectTick, Seconds: c.timer.Remaining()})
	}

	if c.violationPending && c.graceRemaining > 0 {
		c.graceRemaining--
		switch {
		case c.graceRemaining > 0:
			effects = append(effects, Effect{Kind: EffectWarning, Seconds: c.graceRemaining, Message: MessageViolationNotice})
		case !c.graceTimer:
			graceElapsed = true
		}
	}

	if expired {
		effects = append(effects, c.beginSubmit(model.SubmitReasonExpired)...)
	}
	if graceElapsed {
		effects = append(effects, c.beginSubmit(model.SubmitReasonViolation)...)
	}
	return effects
}

// GraceElapsed closes an open grace window and forces the submission. It is
// a no-op when no window is open or another trigger already submitted.
func (c *Controller) GraceElapsed() []Effect {
	if !c.violationPending {
		return nil
	}
	return c.beginSubmit(model.SubmitReasonViolation)
}

// Submit is the user-initiated submit action. A late click after any other
// trigger already claimed the submission is a no-op.
func (c *Controller) Submit() []Effect {
	return c.beginSubmit(model.SubmitReasonUser)
}

// beginSubmit is the single arbitration point: the first caller to flip
// hasSubmitted wins, before any asynchronous work is issued.
func (c *Controller) beginSubmit(reason model.SubmitReason) []Effect {
	if c.state != model.SessionStateActive {
		return nil
	}
	if !c.hasSubmitted.CompareAndSwap(false, true) {
		return nil
	}

	c.state = model.SessionStateSubmitting
	c.timer.Stop()
	c.monitor.Disarm()
	c.violationPending = false
	c.graceRemaining = 0
	c.reason = &reason

	c.submission = &model.Submission{
		CertTransactionID: c.identity.CertTransactionID,
		TenantID:          c.identity.TenantID,
		EmployeeID:        c.identity.EmployeeID,
		Answers:           c.answers.Records(),
	}
	if c.identity.QuestionGroupID != "" {
		qg := c.identity.QuestionGroupID
		c.submission.QuestionGroupID = &qg
	}

	return []Effect{
		{Kind: EffectSubmit, Reason: reason, Submission: c.submission},
		{Kind: EffectStateChanged},
	}
}

// Complete records the Submission Gateway outcome. A failure is terminal:
// there is no retry and hasSubmitted stays set.
func (c *Controller) Complete(err error) []Effect {
	if c.state != model.SessionStateSubmitting {
		return nil
	}
	c.monitor.SetFullscreen(false)

	if err != nil {
		c.state = model.SessionStateFailed
		c.message = failureMessage(err)
		return []Effect{
			{Kind: EffectFailed, Message: c.message, Reason: *c.reason},
			{Kind: EffectExitFullscreen},
			{Kind: EffectStateChanged},
		}
	}

	c.state = model.SessionStateSubmitted
	c.message = submittedMessage(*c.reason)
	return []Effect{
		{Kind: EffectSubmitted, Message: c.message, Reason: *c.reason},
		{Kind: EffectExitFullscreen},
		{Kind: EffectStateChanged},
	}
}

// Completion returns the answered ratio.
func (c *Controller) Completion() float64 { return c.answers.Completion() }

// Snapshot returns a copy of the observable session state.
func (c *Controller) Snapshot() model.SessionSnapshot {
	snap := model.SessionSnapshot{
		Identity:         c.identity,
		State:            c.state,
		Questions:        c.questions,
		Answers:          c.answers.Selections(),
		Completion:       c.answers.Completion(),
		TimeLimited:      c.timeLimited,
		TimeRemaining:    c.timer.Remaining(),
		ViolationPending: c.violationPending,
		GraceRemaining:   c.graceRemaining,
		HasSubmitted:     c.hasSubmitted.Load(),
		Message:          c.message,
		UpdatedAt:        c.now().UTC(),
	}
	if c.reason != nil {
		r := *c.reason
		snap.SubmitReason = &r
	}
	if c.loadErr != nil {
		snap.LoadError = c.loadErr.Error()
	}
	return snap
}

func submittedMessage(reason model.SubmitReason) string {
	switch reason {
	case model.SubmitReasonExpired:
		return MessageTimeUp
	case model.SubmitReasonViolation:
		return MessageViolation
	default:
		return MessageSubmitted
	}
}

func failureMessage(err error) string {
	var m UserMessager
	if errors.As(err, &m) {
		if msg := m.UserMessage(); msg != "" {
			return msg
		}
	}
	return MessageSubmitFailed
}
