package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/satriahrh/arunika/transcriber/domain"
	"github.com/satriahrh/arunika/transcriber/domain/entities"
	"github.com/satriahrh/arunika/transcriber/domain/repositories"
)

const (
	defaultFFmpegCommand     = "ffmpeg"
	defaultCorrectionTimeout = 30 * time.Second
	maxStderrPreview         = 512
)

// CorrectorConfig configures FFmpegCorrector.
// Args are placed before the generated ffmpeg arguments and Env is appended
// to the process environment; both exist so the engine can be wrapped.
type CorrectorConfig struct {
	Command string
	Args    []string
	Env     []string
	Profile entities.TargetProfile
	Timeout time.Duration
}

// FFmpegCorrector transcodes clips to the target profile with ffmpeg
type FFmpegCorrector struct {
	command string
	args    []string
	env     []string
	profile entities.TargetProfile
	timeout time.Duration
	logger  *zap.Logger
}

var _ repositories.FormatCorrector = (*FFmpegCorrector)(nil)

func NewFFmpegCorrector(cfg CorrectorConfig, logger *zap.Logger) *FFmpegCorrector {
	if cfg.Command == "" {
		cfg.Command = defaultFFmpegCommand
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultCorrectionTimeout
	}
	if cfg.Profile == (entities.TargetProfile{}) {
		cfg.Profile = entities.DefaultTargetProfile()
	}
	return &FFmpegCorrector{
		command: cfg.Command,
		args:    cfg.Args,
		env:     cfg.Env,
		profile: cfg.Profile,
		timeout: cfg.Timeout,
		logger:  logger,
	}
}

// Correct implements repositories.FormatCorrector
func (c *FFmpegCorrector) Correct(ctx context.Context, workDir string, data []byte) ([]byte, error) {
	if workDir == "" {
		workDir = os.TempDir()
	}

	scratch, err := os.MkdirTemp(workDir, "fix-")
	if err != nil {
		return nil, domain.NewFormatError(domain.FormatCorrectionFailed, "cannot create scratch directory", err)
	}
	defer func() {
		if err := os.RemoveAll(scratch); err != nil {
			c.logger.Warn("Failed to remove correction scratch directory",
				zap.String("dir", scratch),
				zap.Error(err))
		}
	}()

	inputPath := filepath.Join(scratch, "input")
	outputPath := filepath.Join(scratch, "output.wav")

	if err := os.WriteFile(inputPath, data, 0o600); err != nil {
		return nil, domain.NewFormatError(domain.FormatCorrectionFailed, "cannot write scratch input", err)
	}

	codec, err := pcmCodec(c.profile.BitDepth)
	if err != nil {
		return nil, domain.NewFormatError(domain.FormatCorrectionFailed, "unsupported target", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	args := append([]string{}, c.args...)
	args = append(args,
		"-nostdin",
		"-hide_banner",
		"-loglevel", "error",
		"-y",
		"-i", inputPath,
		"-vn",
		"-ar", strconv.Itoa(c.profile.SampleRate),
		"-ac", strconv.Itoa(c.profile.Channels),
		"-acodec", codec,
		"-map_metadata", "-1",
		"-fflags", "+bitexact",
		"-f", "wav",
		outputPath,
	)

	cmd := exec.CommandContext(ctx, c.command, args...)
	if len(c.env) > 0 {
		cmd.Env = append(os.Environ(), c.env...)
	}
	cmd.WaitDelay = time.Second

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	start := time.Now()
	if err := cmd.Run(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, domain.NewFormatError(domain.FormatCorrectionFailed,
				fmt.Sprintf("transcoder exceeded %s", c.timeout), ctx.Err())
		}
		return nil, domain.NewFormatError(domain.FormatCorrectionFailed,
			"transcoder failed: "+preview(stderr.Bytes()), err)
	}

	out, err := os.ReadFile(outputPath)
	if err != nil {
		return nil, domain.NewFormatError(domain.FormatCorrectionFailed, "cannot read transcoder output", err)
	}

	c.logger.Debug("Audio corrected",
		zap.Int("inputBytes", len(data)),
		zap.Int("outputBytes", len(out)),
		zap.Duration("elapsed", time.Since(start)))

	return out, nil
}

func pcmCodec(bitDepth int) (string, error) {
	switch bitDepth {
	case 8:
		return "pcm_u8", nil
	case 16:
		return "pcm_s16le", nil
	case 24:
		return "pcm_s24le", nil
	case 32:
		return "pcm_s32le", nil
	default:
		return "", fmt.Errorf("no PCM codec for %d-bit audio", bitDepth)
	}
}

func preview(b []byte) string {
	b = bytes.TrimSpace(b)
	if len(b) > maxStderrPreview {
		b = b[:maxStderrPreview]
	}
	if len(b) == 0 {
		return "no output"
	}
	return string(b)
}
