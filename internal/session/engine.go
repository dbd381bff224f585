package session

import (
	"encoding/base64"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/satriahrh/arunika/transcriber/domain/entities"
	"github.com/satriahrh/arunika/transcriber/domain/repositories"
	"github.com/satriahrh/arunika/transcriber/internal/audio"
	"github.com/satriahrh/arunika/transcriber/internal/metrics"
)

// DirPrefix starts the name of every per-session work directory
const DirPrefix = "session-"

// envelopeOverhead is the room left for the JSON fields around the
// base64 payload when bounding raw frames.
const envelopeOverhead = 4096

// Policy holds the per-session limits. It is read-only once the engine is
// built.
type Policy struct {
	Profile            entities.TargetProfile
	Limits             audio.Limits
	MaxDurationSeconds float64
	Strictness         audio.Strictness
	AutoFix            bool

	MinInterval       time.Duration
	PendingDelay      time.Duration
	ProcessingTimeout time.Duration
	Cooldown          time.Duration
	ErrorThreshold    int

	// TempDir is the root under which session work directories are created
	TempDir string
}

// DefaultPolicy returns the production defaults
func DefaultPolicy() Policy {
	return Policy{
		Profile:            entities.DefaultTargetProfile(),
		Limits:             audio.Limits{MinBytes: 1000, MaxBytes: audio.DefaultMaxBytes},
		MaxDurationSeconds: audio.DefaultMaxDurationSeconds,
		Strictness:         audio.Lenient,
		AutoFix:            true,
		MinInterval:        time.Second,
		PendingDelay:       500 * time.Millisecond,
		ProcessingTimeout:  180 * time.Second,
		Cooldown:           30 * time.Second,
		ErrorThreshold:     5,
		TempDir:            os.TempDir(),
	}
}

// MaxFrameBytes is the largest raw socket frame that can still carry a
// payload within Limits.MaxBytes.
func (p Policy) MaxFrameBytes() int {
	if p.Limits.MaxBytes <= 0 {
		return 0
	}
	return base64.StdEncoding.EncodedLen(p.Limits.MaxBytes) + envelopeOverhead
}

// Engine creates sessions that share one configuration, corrector and
// transcriber factory.
type Engine struct {
	policy    Policy
	corrector repositories.FormatCorrector
	factory   repositories.SpeechToTextFactory
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

// NewEngine creates a new session engine
func NewEngine(
	policy Policy,
	corrector repositories.FormatCorrector,
	factory repositories.SpeechToTextFactory,
	m *metrics.Metrics,
	logger *zap.Logger,
) *Engine {
	return &Engine{
		policy:    policy,
		corrector: corrector,
		factory:   factory,
		metrics:   m,
		logger:    logger,
	}
}

// Policy returns the engine's session policy
func (e *Engine) Policy() Policy {
	return e.policy
}

// Emitter delivers one outbound JSON message to the session's peer
type Emitter func(payload []byte)

// NewSession prepares the state for one connection. The caller must run
// Session.Run; the work directory is removed when it returns.
func (e *Engine) NewSession(id string, emit Emitter) (*Session, error) {
	workDir, err := os.MkdirTemp(e.policy.TempDir, DirPrefix+id+"-")
	if err != nil {
		return nil, fmt.Errorf("failed to create session work directory: %w", err)
	}

	logger := e.logger.With(zap.String("sessionID", id))
	e.metrics.SessionOpened()
	logger.Info("Session opened", zap.String("workDir", workDir))

	return &Session{
		id:          id,
		engine:      e,
		emit:        emit,
		workDir:     workDir,
		logger:      logger,
		transcriber: e.factory(),
		inbox:       make(chan []byte),
		results:     make(chan pipelineResult),
		done:        make(chan struct{}),
		limiter:     e.newLimiter(),
	}, nil
}

func (e *Engine) newLimiter() *rate.Limiter {
	if e.policy.MinInterval <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(e.policy.MinInterval), 1)
}
