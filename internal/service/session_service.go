package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/logger"
	"github.com/stemsi/exstem-proctor/internal/metrics"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/proctor"
	"github.com/stemsi/exstem-proctor/internal/repository"
)

// SessionOptions tunes the runners created by a SessionService.
type SessionOptions struct {
	GracePeriod  int
	TickInterval time.Duration
	LockTTL      time.Duration
}

func (o SessionOptions) withDefaults() SessionOptions {
	if o.TickInterval <= 0 {
		o.TickInterval = time.Second
	}
	if o.LockTTL <= 0 {
		o.LockTTL = 30 * time.Second
	}
	if o.GracePeriod < 0 {
		o.GracePeriod = proctor.DefaultGracePeriod
	}
	return o
}

// SessionService owns the live session runners of this instance.
type SessionService struct {
	gw    Gateway
	store SnapshotStore
	sink  EventSink
	opts  SessionOptions
	log   zerolog.Logger

	mu       sync.RWMutex
	sessions map[string]*SessionRunner
	wg       sync.WaitGroup
}

// NewSessionService creates a new SessionService.
func NewSessionService(gw Gateway, store SnapshotStore, sink EventSink, opts SessionOptions, log zerolog.Logger) *SessionService {
	return &SessionService{
		gw:       gw,
		store:    store,
		sink:     sink,
		opts:     opts.withDefaults(),
		log:      log.With().Str("component", "session_service").Logger(),
		sessions: make(map[string]*SessionRunner),
	}
}

// Open starts a runner for the identity and begins loading its questions.
// The runner lives until ctx is cancelled or Close is called. A session
// interrupted while ACTIVE is resumed from its snapshot, and one that
// already claimed its submission cannot be opened again.
func (s *SessionService) Open(ctx context.Context, id model.Identity, src model.QuestionSource) (*SessionRunner, error) {
	key := id.CertTransactionID

	s.mu.RLock()
	_, running := s.sessions[key]
	s.mu.RUnlock()
	if running {
		return nil, ErrSessionExists
	}

	owner := uuid.NewString()
	ok, err := s.store.AcquireLock(ctx, key, owner, s.opts.LockTTL)
	if err != nil {
		return nil, fmt.Errorf("acquire session lock: %w", err)
	}
	if !ok {
		return nil, ErrSessionExists
	}

	opts := []proctor.Option{proctor.WithGracePeriod(s.opts.GracePeriod), proctor.WithGraceTimer()}
	resume, err := s.resumeFor(ctx, id)
	if err != nil {
		s.release(key, owner)
		return nil, err
	}
	if resume != nil {
		opts = append(opts, proctor.WithResume(*resume))
	}

	ctrl := proctor.New(id, opts...)
	log := logger.ForSession(s.log, id)
	runner := newSessionRunner(ctrl, src, s.gw, s.store, s.sink, log, s.opts.TickInterval, s.opts.LockTTL, owner)
	runner.resumed = resume != nil

	s.mu.Lock()
	if _, exists := s.sessions[key]; exists {
		s.mu.Unlock()
		s.release(key, owner)
		return nil, ErrSessionExists
	}
	s.sessions[key] = runner
	s.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	runner.cancel = cancel
	metrics.SessionsActive.Inc()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()

		runner.Run(runCtx)

		s.mu.Lock()
		delete(s.sessions, key)
		s.mu.Unlock()
		metrics.SessionsActive.Dec()
		s.release(key, owner)
	}()

	return runner, nil
}

// resumeFor reads the last snapshot of the session. It returns nil when the
// session starts fresh.
func (s *SessionService) resumeFor(ctx context.Context, id model.Identity) (*proctor.Resume, error) {
	snap, err := s.store.Get(ctx, id.CertTransactionID)
	if errors.Is(err, repository.ErrSnapshotNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load session snapshot: %w", err)
	}

	if snap.TenantID != id.TenantID || snap.EmployeeID != id.EmployeeID {
		return nil, ErrSessionExists
	}
	if snap.HasSubmitted || (snap.State != model.SessionStateActive && snap.State != model.SessionStateLoading) {
		return nil, ErrSessionFinished
	}
	if snap.State == model.SessionStateLoading {
		return nil, nil
	}

	// Snapshots are written on transitions, not on ticks, so the time since
	// the last write counts against both clocks.
	elapsed := int(time.Since(snap.UpdatedAt) / s.opts.TickInterval)
	if elapsed < 0 {
		elapsed = 0
	}
	resume := &proctor.Resume{
		Answers:          snap.Answers,
		TimeLimited:      snap.TimeLimited,
		TimeRemaining:    snap.TimeRemaining - elapsed,
		ViolationPending: snap.ViolationPending,
		GraceRemaining:   snap.GraceRemaining - elapsed,
	}
	s.log.Info().
		Str("cert_transaction_id", id.CertTransactionID).
		Int("time_remaining", resume.TimeRemaining).
		Bool("violation_pending", resume.ViolationPending).
		Msg("Resuming session")
	return resume, nil
}

// Get returns the live runner of a session on this instance.
func (s *SessionService) Get(certTransactionID string) (*SessionRunner, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.sessions[certTransactionID]
	return r, ok
}

// Snapshot returns the live state if the session runs here, otherwise the
// last snapshot cached in Redis.
func (s *SessionService) Snapshot(ctx context.Context, certTransactionID string) (*model.SessionSnapshot, error) {
	if r, ok := s.Get(certTransactionID); ok {
		snap, err := r.Snapshot()
		if err == nil {
			return &snap, nil
		}
		if !errors.Is(err, ErrSessionClosed) {
			return nil, err
		}
	}

	snap, err := s.store.Get(ctx, certTransactionID)
	if errors.Is(err, repository.ErrSnapshotNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// Active returns the number of runners on this instance.
func (s *SessionService) Active() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Shutdown stops every runner and waits for them to exit.
func (s *SessionService) Shutdown(ctx context.Context) error {
	s.mu.RLock()
	for _, r := range s.sessions {
		r.Close()
	}
	s.mu.RUnlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *SessionService) release(key, owner string) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.store.ReleaseLock(ctx, key, owner); err != nil {
		s.log.Warn().Err(err).Str("cert_transaction_id", key).Msg("Session lock release failed")
	}
}
