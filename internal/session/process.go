package session

import (
	"context"
	"errors"
	"math"
	"strings"

	"go.uber.org/zap"

	"github.com/satriahrh/arunika/transcriber/domain"
	"github.com/satriahrh/arunika/transcriber/domain/entities"
	"github.com/satriahrh/arunika/transcriber/internal/audio"
)

// process runs one message through parse, inspect, correct and transcribe.
// It executes on the pipeline worker and only reads session fields.
func (s *Session) process(ctx context.Context, raw []byte) (entities.Transcription, error) {
	policy := s.engine.policy

	envelope, err := ParseEnvelope(raw)
	if err != nil {
		return entities.Transcription{}, err
	}
	if envelope.MimeType != "" && !isWAVMimeType(envelope.MimeType) {
		s.logger.Debug("Declared MIME type is not WAV", zap.String("mimeType", envelope.MimeType))
	}

	data := envelope.Payload
	info, err := audio.Inspect(data, policy.Limits)
	if err != nil {
		var fe *domain.FormatError
		if !errors.As(err, &fe) || !fe.Fixable() || !policy.AutoFix {
			return entities.Transcription{}, err
		}
		s.logger.Info("Container not recognized, attempting correction", zap.String("kind", string(fe.Kind)))
		if data, err = s.correct(ctx, data); err != nil {
			return entities.Transcription{}, err
		}
	} else {
		s.compareMetadata(envelope.Metadata, info)

		verdict := audio.Validate(info, policy.Profile, policy.Strictness, policy.MaxDurationSeconds)
		if len(verdict.Warnings) > 0 {
			s.logger.Debug("Audio validation warnings", zap.Strings("warnings", verdict.Warnings))
		}
		if !verdict.Valid {
			if !verdict.RequiresFix || !policy.AutoFix {
				return entities.Transcription{}, domain.NewFormatError(domain.FormatUnsupported,
					strings.Join(verdict.Errors, "; "), nil)
			}
			s.logger.Info("Audio does not match target profile, attempting correction",
				zap.Strings("errors", verdict.Errors))
			if data, err = s.correct(ctx, data); err != nil {
				return entities.Transcription{}, err
			}
		}
	}

	return s.transcriber.TranscribeAudio(ctx, data, policy.Profile)
}

// correct transcodes data and checks the result once. A second failure is
// final for this message.
func (s *Session) correct(ctx context.Context, data []byte) ([]byte, error) {
	policy := s.engine.policy

	fixed, err := s.engine.corrector.Correct(ctx, s.workDir, data)
	if err != nil {
		s.engine.metrics.RecordCorrection(false)
		return nil, err
	}

	// MinBytes gates inbound messages only; a short clip shrinks further
	// once downsampled.
	info, err := audio.Inspect(fixed, audio.Limits{MaxBytes: policy.Limits.MaxBytes})
	if err != nil {
		s.engine.metrics.RecordCorrection(false)
		return nil, domain.NewFormatError(domain.FormatCorrectionFailed, "corrected audio is unreadable", err)
	}
	verdict := audio.Validate(info, policy.Profile, policy.Strictness, policy.MaxDurationSeconds)
	if !verdict.Valid {
		s.engine.metrics.RecordCorrection(false)
		return nil, domain.NewFormatError(domain.FormatCorrectionFailed,
			"corrected audio is still invalid: "+strings.Join(verdict.Errors, "; "), nil)
	}

	s.engine.metrics.RecordCorrection(true)
	s.logger.Info("Audio corrected",
		zap.Int("originalSize", len(data)),
		zap.Int("correctedSize", len(fixed)))
	return fixed, nil
}

// compareMetadata logs where the sender's claims disagree with the header
func (s *Session) compareMetadata(meta *entities.AudioMetadata, info *entities.FormatInfo) {
	if meta == nil {
		return
	}
	if meta.SampleRate > 0 && meta.SampleRate != int(info.SampleRate) {
		s.logger.Debug("Declared sample rate differs from header",
			zap.Int("declared", meta.SampleRate),
			zap.Uint32("actual", info.SampleRate))
	}
	if meta.Channels > 0 && meta.Channels != int(info.Channels) {
		s.logger.Debug("Declared channel count differs from header",
			zap.Int("declared", meta.Channels),
			zap.Uint16("actual", info.Channels))
	}
	if meta.DurationSeconds > 0 && math.Abs(meta.DurationSeconds-info.DurationSeconds) > 0.5 {
		s.logger.Debug("Declared duration differs from header",
			zap.Float64("declared", meta.DurationSeconds),
			zap.Float64("actual", info.DurationSeconds))
	}
}

func isWAVMimeType(mimeType string) bool {
	switch strings.ToLower(strings.TrimSpace(strings.SplitN(mimeType, ";", 2)[0])) {
	case "audio/wav", "audio/wave", "audio/x-wav", "audio/vnd.wave":
		return true
	}
	return false
}
