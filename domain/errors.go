package domain

import "fmt"

// FormatErrorKind classifies failures of the audio container checks
type FormatErrorKind string

const (
	FormatTooSmall           FormatErrorKind = "too_small"
	FormatTooLarge           FormatErrorKind = "too_large"
	FormatBadSignature       FormatErrorKind = "bad_signature"
	FormatMissingFormatChunk FormatErrorKind = "missing_format_chunk"
	FormatUnsupported        FormatErrorKind = "unsupported"
	FormatCorrectionFailed   FormatErrorKind = "correction_failed"
	FormatBadEnvelope        FormatErrorKind = "bad_envelope"
)

// FormatError is returned by the format inspector, the corrector and the
// envelope parser.
type FormatError struct {
	Kind   FormatErrorKind
	Detail string
	Err    error
}

func NewFormatError(kind FormatErrorKind, detail string, err error) *FormatError {
	return &FormatError{Kind: kind, Detail: detail, Err: err}
}

func (e *FormatError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("format %s: %s: %v", e.Kind, e.Detail, e.Err)
	}
	return fmt.Sprintf("format %s: %s", e.Kind, e.Detail)
}

func (e *FormatError) Unwrap() error {
	return e.Err
}

// Fixable reports whether transcoding the buffer could clear the error.
// Foreign containers qualify; size violations never do.
func (e *FormatError) Fixable() bool {
	switch e.Kind {
	case FormatBadSignature, FormatMissingFormatChunk:
		return true
	}
	return false
}

// TranscriptionErrorKind classifies failures of a speech service call
type TranscriptionErrorKind string

const (
	TranscriptionBadAudio            TranscriptionErrorKind = "bad_audio"
	TranscriptionAuthFailure         TranscriptionErrorKind = "auth_failure"
	TranscriptionPayloadTooLarge     TranscriptionErrorKind = "payload_too_large"
	TranscriptionRateLimited         TranscriptionErrorKind = "rate_limited"
	TranscriptionUpstreamUnavailable TranscriptionErrorKind = "upstream_unavailable"
	TranscriptionNetworkError        TranscriptionErrorKind = "network_error"
	TranscriptionTimeout             TranscriptionErrorKind = "timeout"
	TranscriptionMalformedResponse   TranscriptionErrorKind = "malformed_response"
)

// TranscriptionError is returned by every SpeechToText implementation.
// StatusCode is the upstream HTTP status when there was one.
type TranscriptionError struct {
	Kind       TranscriptionErrorKind
	StatusCode int
	Detail     string
	Err        error
}

func NewTranscriptionError(kind TranscriptionErrorKind, detail string, err error) *TranscriptionError {
	return &TranscriptionError{Kind: kind, Detail: detail, Err: err}
}

func (e *TranscriptionError) Error() string {
	msg := fmt.Sprintf("transcription %s", e.Kind)
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s (HTTP %d)", msg, e.StatusCode)
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *TranscriptionError) Unwrap() error {
	return e.Err
}

// SessionErrorKind classifies admission decisions taken by a session
type SessionErrorKind string

const (
	SessionRateLimited   SessionErrorKind = "rate_limited"
	SessionCooldown      SessionErrorKind = "cooldown"
	SessionQueueOverflow SessionErrorKind = "queue_overflow"
)

type SessionError struct {
	Kind   SessionErrorKind
	Detail string
}

func NewSessionError(kind SessionErrorKind, detail string) *SessionError {
	return &SessionError{Kind: kind, Detail: detail}
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("session %s: %s", e.Kind, e.Detail)
}

// Unwrap returns nil. Session errors carry no cause.
func (e *SessionError) Unwrap() error {
	return nil
}
