package stt

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/textproto"
	"os"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/satriahrh/arunika/transcriber/domain"
	"github.com/satriahrh/arunika/transcriber/domain/entities"
	"github.com/satriahrh/arunika/transcriber/domain/repositories"
)

const (
	DefaultEndpoint         = "https://api.sarvam.ai/speech-to-text"
	DefaultCredentialHeader = "api-subscription-key"
	DefaultModel            = "saarika:v2"
	DefaultLanguageCode     = "en-IN"
	DefaultTimeout          = 120 * time.Second
	DefaultMaxResponseBytes = 10 * 1024 * 1024

	maxErrorBodyPreview = 256
)

// HTTPConfig configures HTTPSpeechToText
type HTTPConfig struct {
	Endpoint         string
	APIKey           string
	CredentialHeader string
	Model            string
	LanguageCode     string
	Timeout          time.Duration
	MaxResponseBytes int64
}

// HTTPSpeechToText sends each clip as one multipart POST to a hosted
// speech-to-text API.
type HTTPSpeechToText struct {
	config     HTTPConfig
	httpClient *http.Client
	logger     *zap.Logger
}

var _ repositories.SpeechToText = (*HTTPSpeechToText)(nil)

type transcriptResponse struct {
	Transcript *string `json:"transcript"`
	Text       *string `json:"text"`
}

// NewHTTPSpeechToText creates a new HTTP transcription client
func NewHTTPSpeechToText(config HTTPConfig, logger *zap.Logger) (*HTTPSpeechToText, error) {
	if config.Endpoint == "" {
		config.Endpoint = DefaultEndpoint
	}
	if config.APIKey == "" {
		return nil, fmt.Errorf("API key cannot be empty")
	}
	if config.CredentialHeader == "" {
		config.CredentialHeader = DefaultCredentialHeader
	}
	if config.Model == "" {
		config.Model = DefaultModel
	}
	if config.LanguageCode == "" {
		config.LanguageCode = DefaultLanguageCode
	}
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	if config.MaxResponseBytes <= 0 {
		config.MaxResponseBytes = DefaultMaxResponseBytes
	}

	httpClient := &http.Client{
		Timeout: config.Timeout,
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			TLSClientConfig:     &tls.Config{MinVersion: tls.VersionTLS12},
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	return &HTTPSpeechToText{
		config:     config,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// TranscribeAudio implements repositories.SpeechToText
func (c *HTTPSpeechToText) TranscribeAudio(ctx context.Context, audioData []byte, profile entities.TargetProfile) (entities.Transcription, error) {
	start := time.Now()

	body, contentType, err := c.createMultipartRequest(audioData)
	if err != nil {
		return entities.Transcription{}, domain.NewTranscriptionError(domain.TranscriptionNetworkError,
			"failed to create multipart request", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.Endpoint, body)
	if err != nil {
		return entities.Transcription{}, domain.NewTranscriptionError(domain.TranscriptionNetworkError,
			"failed to create HTTP request", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")
	req.Header.Set(c.config.CredentialHeader, c.config.APIKey)

	c.logger.Debug("Sending transcription request",
		zap.Int("audioSize", len(audioData)),
		zap.Int("sampleRate", profile.SampleRate),
		zap.String("model", c.config.Model))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return entities.Transcription{}, classifyTransportError(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, c.config.MaxResponseBytes+1))
	if err != nil {
		return entities.Transcription{}, classifyTransportError(err)
	}
	if int64(len(respBody)) > c.config.MaxResponseBytes {
		return entities.Transcription{}, &domain.TranscriptionError{
			Kind:       domain.TranscriptionMalformedResponse,
			StatusCode: resp.StatusCode,
			Detail:     fmt.Sprintf("response exceeds %d bytes", c.config.MaxResponseBytes),
		}
	}

	if resp.StatusCode != http.StatusOK {
		return entities.Transcription{}, &domain.TranscriptionError{
			Kind:       statusKind(resp.StatusCode),
			StatusCode: resp.StatusCode,
			Detail:     preview(respBody),
		}
	}

	var parsed transcriptResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return entities.Transcription{}, &domain.TranscriptionError{
			Kind:       domain.TranscriptionMalformedResponse,
			StatusCode: resp.StatusCode,
			Detail:     "response is not valid JSON",
			Err:        err,
		}
	}

	text := ""
	switch {
	case parsed.Transcript != nil:
		text = *parsed.Transcript
	case parsed.Text != nil:
		text = *parsed.Text
	}

	result := entities.Transcription{
		Text:           strings.TrimSpace(text),
		ProcessingTime: time.Since(start),
	}
	c.logger.Debug("Transcription response received",
		zap.Int("length", len(result.Text)),
		zap.Duration("elapsed", result.ProcessingTime))

	return result, nil
}

// createMultipartRequest creates a multipart/form-data request body
func (c *HTTPSpeechToText) createMultipartRequest(audioData []byte) (io.Reader, string, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", `form-data; name="file"; filename="audio.wav"`)
	header.Set("Content-Type", "audio/wav")
	fileWriter, err := writer.CreatePart(header)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := fileWriter.Write(audioData); err != nil {
		return nil, "", fmt.Errorf("failed to write audio data: %w", err)
	}

	fields := map[string]string{
		"model":         c.config.Model,
		"language_code": c.config.LanguageCode,
	}
	for key, value := range fields {
		if err := writer.WriteField(key, value); err != nil {
			return nil, "", fmt.Errorf("failed to write field %s: %w", key, err)
		}
	}

	if err := writer.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close multipart writer: %w", err)
	}

	return &buf, writer.FormDataContentType(), nil
}

func statusKind(code int) domain.TranscriptionErrorKind {
	switch code {
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return domain.TranscriptionBadAudio
	case http.StatusUnauthorized, http.StatusForbidden:
		return domain.TranscriptionAuthFailure
	case http.StatusRequestEntityTooLarge:
		return domain.TranscriptionPayloadTooLarge
	case http.StatusTooManyRequests:
		return domain.TranscriptionRateLimited
	default:
		return domain.TranscriptionUpstreamUnavailable
	}
}

// classifyTransportError maps a failed round trip to NetworkError or Timeout
func classifyTransportError(err error) *domain.TranscriptionError {
	if isTimeout(err) {
		return domain.NewTranscriptionError(domain.TranscriptionTimeout, "request timed out", err)
	}

	detail := "transport failure"
	var dnsErr *net.DNSError
	switch {
	case errors.As(err, &dnsErr):
		detail = "DNS resolution failed"
	case errors.Is(err, syscall.ECONNREFUSED):
		detail = "connection refused"
	case errors.Is(err, syscall.ECONNRESET):
		detail = "connection reset"
	case errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, io.EOF):
		detail = "connection closed unexpectedly"
	}
	return domain.NewTranscriptionError(domain.TranscriptionNetworkError, detail, err)
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func preview(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > maxErrorBodyPreview {
		s = s[:maxErrorBodyPreview]
	}
	return s
}
