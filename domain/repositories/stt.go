package repositories

import (
	"context"

	"github.com/satriahrh/arunika/transcriber/domain/entities"
)

// SpeechToText abstracts speech recognition services. One call is one
// upstream attempt; retry policy belongs to the caller.
type SpeechToText interface {
	// TranscribeAudio converts a WAV clip in the given profile to text.
	// Failures are *domain.TranscriptionError.
	TranscribeAudio(ctx context.Context, audioData []byte, profile entities.TargetProfile) (entities.Transcription, error)
}

// SpeechToTextFactory hands out a recognizer for a new session. Stateless
// clients may return the same instance every time.
type SpeechToTextFactory func() SpeechToText
