package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/satriahrh/arunika/transcriber/domain"
	"github.com/satriahrh/arunika/transcriber/domain/entities"
	"github.com/satriahrh/arunika/transcriber/domain/repositories"
	"github.com/satriahrh/arunika/transcriber/internal/metrics"
)

type state int

const (
	stateIdle state = iota
	stateProcessing
	stateCooldown
)

func (s state) String() string {
	switch s {
	case stateProcessing:
		return "processing"
	case stateCooldown:
		return "cooldown"
	default:
		return "idle"
	}
}

type pipelineResult struct {
	generation    uint64
	transcription entities.Transcription
	err           error
	elapsed       time.Duration
}

// Session is the state of one connection. Every field below the channels
// is owned by the goroutine executing Run.
type Session struct {
	id          string
	engine      *Engine
	emit        Emitter
	workDir     string
	logger      *zap.Logger
	transcriber repositories.SpeechToText

	inbox   chan []byte
	results chan pipelineResult
	done    chan struct{}

	state             state
	pending           []byte
	limiter           *rate.Limiter
	consecutiveErrors int
	cooldownUntil     time.Time
	generation        uint64

	processingTimer *time.Timer
	pendingTimer    *time.Timer
}

// ID returns the session identifier
func (s *Session) ID() string {
	return s.id
}

// WorkDir returns the directory holding this session's scratch files
func (s *Session) WorkDir() string {
	return s.workDir
}

// Deliver hands one inbound frame to the session. It blocks until Run
// accepts the frame and reports false once the session has ended.
func (s *Session) Deliver(ctx context.Context, raw []byte) bool {
	select {
	case s.inbox <- raw:
		return true
	case <-s.done:
		return false
	case <-ctx.Done():
		return false
	}
}

// Done is closed after Run has released every session resource
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Run owns the session until ctx is cancelled
func (s *Session) Run(ctx context.Context) {
	defer s.cleanup()

	for {
		select {
		case <-ctx.Done():
			return
		case raw := <-s.inbox:
			s.receive(ctx, raw)
		case res := <-s.results:
			s.finish(res)
		case <-timerC(s.processingTimer):
			s.processingTimer = nil
			s.expire()
		case <-timerC(s.pendingTimer):
			s.pendingTimer = nil
			s.drainPending(ctx)
		}
	}
}

func timerC(t *time.Timer) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.C
}

func (s *Session) receive(ctx context.Context, raw []byte) {
	m := s.engine.metrics
	policy := s.engine.policy

	if s.inCooldown() {
		m.RecordMessage(metrics.OutcomeCooldown)
		s.reply(errorReply(domain.NewSessionError(domain.SessionCooldown, "message rejected during cooldown")))
		return
	}

	if limit := policy.MaxFrameBytes(); limit > 0 && len(raw) > limit {
		m.RecordMessage(metrics.OutcomeTooLarge)
		s.reply(errorReply(domain.NewFormatError(domain.FormatTooLarge,
			fmt.Sprintf("message is %d bytes, limit is %d", len(raw), limit), nil)))
		return
	}
	if len(raw) < policy.Limits.MinBytes {
		m.RecordMessage(metrics.OutcomeTooSmall)
		s.logger.Debug("Dropping undersized message", zap.Int("size", len(raw)))
		return
	}

	// The interval counts from the last admitted message, busy or not
	if !s.limiter.Allow() {
		m.RecordMessage(metrics.OutcomeRateLimited)
		s.logger.Debug("Dropping message inside minimum interval",
			zap.Error(domain.NewSessionError(domain.SessionRateLimited, "minimum interval not elapsed")))
		return
	}

	if s.state == stateProcessing || s.pendingTimer != nil {
		if s.pending != nil {
			s.logger.Debug("Pending message superseded",
				zap.Error(domain.NewSessionError(domain.SessionQueueOverflow, "latest message replaces queued one")),
				zap.Int("droppedSize", len(s.pending)))
		}
		s.pending = raw
		m.RecordMessage(metrics.OutcomeCoalesced)
		return
	}

	m.RecordMessage(metrics.OutcomeProcessed)
	s.start(ctx, raw)
}

// inCooldown reports whether the session still refuses messages. An
// elapsed cooldown is left here.
func (s *Session) inCooldown() bool {
	if s.state != stateCooldown {
		return false
	}
	if time.Now().Before(s.cooldownUntil) {
		return true
	}
	s.consecutiveErrors = 0
	s.state = stateIdle
	s.logger.Info("Session cooldown elapsed")
	return false
}

func (s *Session) start(ctx context.Context, raw []byte) {
	s.generation++
	s.state = stateProcessing
	s.processingTimer = time.NewTimer(s.engine.policy.ProcessingTimeout)

	go s.pipeline(ctx, s.generation, raw)
}

func (s *Session) pipeline(ctx context.Context, generation uint64, raw []byte) {
	res := pipelineResult{generation: generation}
	start := time.Now()

	func() {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("Recovered panic in processing cycle",
					zap.Any("panic", r),
					zap.Stack("stack"))
				res.err = fmt.Errorf("panic in processing cycle: %v", r)
			}
		}()
		res.transcription, res.err = s.process(ctx, raw)
	}()
	res.elapsed = time.Since(start)

	select {
	case s.results <- res:
	case <-ctx.Done():
	}
}

func (s *Session) finish(res pipelineResult) {
	if res.generation != s.generation || s.state != stateProcessing {
		s.logger.Info("Discarding result of abandoned cycle",
			zap.Uint64("generation", res.generation),
			zap.Duration("elapsed", res.elapsed))
		return
	}

	if s.processingTimer != nil {
		s.processingTimer.Stop()
		s.processingTimer = nil
	}
	s.engine.metrics.RecordCycle(res.elapsed.Seconds())

	if res.err != nil {
		s.fail(res.err)
	} else {
		s.succeed(res)
	}
	s.schedulePending()
}

func (s *Session) succeed(res pipelineResult) {
	s.consecutiveErrors = 0
	s.state = stateIdle

	if res.transcription.Empty() {
		s.logger.Info("No speech detected", zap.Duration("elapsed", res.elapsed))
		s.reply(emptyReply())
		return
	}

	s.logger.Info("Transcription completed",
		zap.Int("length", len(res.transcription.Text)),
		zap.Duration("elapsed", res.elapsed))
	s.reply(successReply(res.transcription.Text, time.Now(), res.elapsed))
}

func (s *Session) fail(err error) {
	s.consecutiveErrors++
	kind := errorKind(err)
	s.engine.metrics.RecordFailure(kind)

	s.logger.Warn("Processing cycle failed",
		zap.String("kind", kind),
		zap.Int("consecutiveErrors", s.consecutiveErrors),
		zap.Error(err))

	s.state = stateIdle
	if threshold := s.engine.policy.ErrorThreshold; threshold > 0 && s.consecutiveErrors >= threshold {
		s.state = stateCooldown
		s.cooldownUntil = time.Now().Add(s.engine.policy.Cooldown)
		s.engine.metrics.RecordCooldown()
		s.logger.Warn("Session entering cooldown",
			zap.Int("consecutiveErrors", s.consecutiveErrors),
			zap.Duration("cooldown", s.engine.policy.Cooldown))
	}

	s.reply(errorReply(err))
}

// expire abandons the running cycle. The worker keeps running until its
// own timeouts fire and its result is discarded.
func (s *Session) expire() {
	if s.state != stateProcessing {
		return
	}
	s.generation++

	timeout := s.engine.policy.ProcessingTimeout
	s.logger.Warn("Processing cycle timed out", zap.Duration("timeout", timeout))
	s.fail(domain.NewTranscriptionError(domain.TranscriptionTimeout,
		fmt.Sprintf("processing exceeded %s", timeout), nil))
	s.schedulePending()
}

func (s *Session) schedulePending() {
	if s.pending == nil || s.pendingTimer != nil {
		return
	}
	s.pendingTimer = time.NewTimer(s.engine.policy.PendingDelay)
}

func (s *Session) drainPending(ctx context.Context) {
	raw := s.pending
	s.pending = nil
	if raw == nil {
		return
	}

	if s.inCooldown() {
		s.engine.metrics.RecordMessage(metrics.OutcomeCooldown)
		s.reply(errorReply(domain.NewSessionError(domain.SessionCooldown, "queued message rejected during cooldown")))
		return
	}

	// follow-ups passed the limiter when they were queued
	s.engine.metrics.RecordMessage(metrics.OutcomeProcessed)
	s.start(ctx, raw)
}

func (s *Session) reply(payload []byte) {
	if payload == nil {
		return
	}
	s.emit(payload)
}

func (s *Session) cleanup() {
	if s.processingTimer != nil {
		s.processingTimer.Stop()
	}
	if s.pendingTimer != nil {
		s.pendingTimer.Stop()
	}
	s.pending = nil
	close(s.done)

	if err := os.RemoveAll(s.workDir); err != nil {
		s.logger.Error("Failed to remove session work directory",
			zap.String("workDir", s.workDir),
			zap.Error(err))
	}

	s.engine.metrics.SessionClosed()
	s.logger.Info("Session closed",
		zap.String("state", s.state.String()),
		zap.Int("consecutiveErrors", s.consecutiveErrors))
}

// errorKind names err for metrics and logs
func errorKind(err error) string {
	var fe *domain.FormatError
	if errors.As(err, &fe) {
		return string(fe.Kind)
	}
	var te *domain.TranscriptionError
	if errors.As(err, &te) {
		return string(te.Kind)
	}
	var se *domain.SessionError
	if errors.As(err, &se) {
		return string(se.Kind)
	}
	return "internal"
}
