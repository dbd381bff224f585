package stt

import (
	"context"
	"fmt"
	"strings"
	"time"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/satriahrh/arunika/transcriber/domain"
	"github.com/satriahrh/arunika/transcriber/domain/entities"
	"github.com/satriahrh/arunika/transcriber/domain/repositories"
)

// GoogleSpeechToText implements SpeechToText for Google Cloud. Credentials
// come from the environment (GOOGLE_APPLICATION_CREDENTIALS).
type GoogleSpeechToText struct {
	client       *speech.Client
	languageCode string
	timeout      time.Duration
	logger       *zap.Logger
}

var _ repositories.SpeechToText = (*GoogleSpeechToText)(nil)

// NewGoogleSpeechToText creates a Cloud Speech client shared by all sessions
func NewGoogleSpeechToText(ctx context.Context, languageCode string, timeout time.Duration, logger *zap.Logger) (*GoogleSpeechToText, error) {
	client, err := speech.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create speech client: %w", err)
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &GoogleSpeechToText{
		client:       client,
		languageCode: languageCode,
		timeout:      timeout,
		logger:       logger,
	}, nil
}

// Close releases the underlying gRPC connection
func (g *GoogleSpeechToText) Close() error {
	return g.client.Close()
}

// TranscribeAudio converts audio data to text using Google Cloud Speech-to-Text
func (g *GoogleSpeechToText) TranscribeAudio(ctx context.Context, audioData []byte, profile entities.TargetProfile) (entities.Transcription, error) {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	start := time.Now()
	resp, err := g.client.Recognize(ctx, &speechpb.RecognizeRequest{
		Config: &speechpb.RecognitionConfig{
			Encoding:          speechpb.RecognitionConfig_LINEAR16,
			SampleRateHertz:   int32(profile.SampleRate),
			AudioChannelCount: int32(profile.Channels),
			LanguageCode:      g.languageCode,
		},
		Audio: &speechpb.RecognitionAudio{
			AudioSource: &speechpb.RecognitionAudio_Content{Content: audioData},
		},
	})
	if err != nil {
		return entities.Transcription{}, grpcError(err)
	}

	var parts []string
	for _, result := range resp.GetResults() {
		if alts := result.GetAlternatives(); len(alts) > 0 {
			// Take the best alternative
			parts = append(parts, strings.TrimSpace(alts[0].GetTranscript()))
		}
	}

	g.logger.Debug("Cloud Speech response received",
		zap.Int("results", len(resp.GetResults())),
		zap.Duration("elapsed", time.Since(start)))

	return entities.Transcription{
		Text:           strings.TrimSpace(strings.Join(parts, " ")),
		ProcessingTime: time.Since(start),
	}, nil
}

// grpcError maps a Cloud Speech failure onto the transcription error kinds
func grpcError(err error) *domain.TranscriptionError {
	st, ok := status.FromError(err)
	if !ok {
		return classifyTransportError(err)
	}

	var kind domain.TranscriptionErrorKind
	switch st.Code() {
	case codes.InvalidArgument:
		kind = domain.TranscriptionBadAudio
	case codes.Unauthenticated, codes.PermissionDenied:
		kind = domain.TranscriptionAuthFailure
	case codes.ResourceExhausted:
		kind = domain.TranscriptionRateLimited
	case codes.DeadlineExceeded:
		kind = domain.TranscriptionTimeout
	default:
		kind = domain.TranscriptionUpstreamUnavailable
	}
	return domain.NewTranscriptionError(kind, st.Message(), err)
}
