package session

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/satriahrh/arunika/transcriber/domain"
)

const (
	maxTechnicalDetail = 200

	noSpeechMessage = "No speech detected in audio"
	internalMessage = "Internal error while processing audio"
	cooldownMessage = "Service temporarily unavailable, please try again later"
)

// SuccessMessage is sent when the speech service returned text
type SuccessMessage struct {
	Transcript     string `json:"transcript"`
	Timestamp      string `json:"timestamp"`
	ProcessingTime int64  `json:"processingTime"`
}

// EmptyMessage is sent when the clip held no recognizable speech
type EmptyMessage struct {
	Transcript string `json:"transcript"`
	Message    string `json:"message"`
}

// ErrorMessage is sent when a message could not be transcribed
type ErrorMessage struct {
	Error     string `json:"error"`
	Technical string `json:"technical"`
}

func successReply(text string, at time.Time, elapsed time.Duration) []byte {
	return marshal(SuccessMessage{
		Transcript:     text,
		Timestamp:      at.UTC().Format(time.RFC3339),
		ProcessingTime: elapsed.Milliseconds(),
	})
}

func emptyReply() []byte {
	return marshal(EmptyMessage{Transcript: "", Message: noSpeechMessage})
}

func errorReply(err error) []byte {
	return marshal(ErrorMessage{
		Error:     UserMessage(err),
		Technical: truncate(err.Error(), maxTechnicalDetail),
	})
}

func marshal(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return b
}

// UserMessage translates err into text that is safe to show the sender
func UserMessage(err error) string {
	var fe *domain.FormatError
	if errors.As(err, &fe) {
		switch fe.Kind {
		case domain.FormatTooSmall:
			return "Audio recording is too short"
		case domain.FormatTooLarge:
			return "Audio file is too large"
		case domain.FormatBadSignature, domain.FormatMissingFormatChunk, domain.FormatUnsupported:
			return "Audio format is not supported"
		case domain.FormatCorrectionFailed:
			return "Could not convert audio to a supported format"
		case domain.FormatBadEnvelope:
			return "Invalid audio message"
		}
	}

	var te *domain.TranscriptionError
	if errors.As(err, &te) {
		switch te.Kind {
		case domain.TranscriptionBadAudio:
			return "The speech service could not process this audio"
		case domain.TranscriptionAuthFailure:
			return "Speech service authentication failed"
		case domain.TranscriptionPayloadTooLarge:
			return "Audio is too large for the speech service"
		case domain.TranscriptionRateLimited:
			return "Speech service is busy, please try again shortly"
		case domain.TranscriptionUpstreamUnavailable:
			return "Speech service is temporarily unavailable"
		case domain.TranscriptionNetworkError:
			return "Could not reach the speech service"
		case domain.TranscriptionTimeout:
			return "Speech service timed out"
		case domain.TranscriptionMalformedResponse:
			return "Speech service returned an invalid response"
		}
	}

	var se *domain.SessionError
	if errors.As(err, &se) && se.Kind == domain.SessionCooldown {
		return cooldownMessage
	}

	return internalMessage
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
