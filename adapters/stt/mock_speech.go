package stt

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/satriahrh/arunika/transcriber/domain"
	"github.com/satriahrh/arunika/transcriber/domain/entities"
	"github.com/satriahrh/arunika/transcriber/domain/repositories"
)

// DefaultMockLatency imitates a typical hosted recognizer round trip
const DefaultMockLatency = 1500 * time.Millisecond

var mockPhrases = []string{
	"Hello, this is a test transcription.",
	"The quick brown fox jumps over the lazy dog.",
	"Testing one two three.",
	"Speech recognition is working correctly.",
	"This is a mock response from the transcription service.",
}

// MockSpeechToText is a stand-in recognizer for development without
// credentials. Each instance walks the phrase list independently.
type MockSpeechToText struct {
	latency time.Duration
	logger  *zap.Logger

	mu   sync.Mutex
	next int
}

var _ repositories.SpeechToText = (*MockSpeechToText)(nil)

// NewMockSpeechToText creates a new mock speech-to-text service
func NewMockSpeechToText(latency time.Duration, logger *zap.Logger) *MockSpeechToText {
	if latency < 0 {
		latency = 0
	}
	return &MockSpeechToText{
		latency: latency,
		logger:  logger,
	}
}

// MockFactory hands every session its own mock so the phrase order is
// per session.
func MockFactory(latency time.Duration, logger *zap.Logger) repositories.SpeechToTextFactory {
	return func() repositories.SpeechToText {
		return NewMockSpeechToText(latency, logger)
	}
}

// TranscribeAudio implements repositories.SpeechToText
func (s *MockSpeechToText) TranscribeAudio(ctx context.Context, audioData []byte, profile entities.TargetProfile) (entities.Transcription, error) {
	s.logger.Info("Processing mock speech-to-text",
		zap.Int("audioSize", len(audioData)),
		zap.Int("sampleRate", profile.SampleRate))

	start := time.Now()
	timer := time.NewTimer(s.latency)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return entities.Transcription{}, domain.NewTranscriptionError(domain.TranscriptionTimeout,
			"mock transcription cancelled", ctx.Err())
	case <-timer.C:
	}

	s.mu.Lock()
	text := mockPhrases[s.next%len(mockPhrases)]
	s.next++
	s.mu.Unlock()

	return entities.Transcription{Text: text, ProcessingTime: time.Since(start)}, nil
}
