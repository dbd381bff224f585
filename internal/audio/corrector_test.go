package audio

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/satriahrh/arunika/transcriber/domain"
	"github.com/satriahrh/arunika/transcriber/domain/entities"
)

// TestHelperProcess stands in for ffmpeg. It is only active when the
// corrector under test re-executes the test binary.
func TestHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_HELPER_PROCESS") != "1" {
		return
	}
	defer os.Exit(0)

	args := os.Args
	for i, a := range args {
		if a == "--" {
			args = args[i+1:]
			break
		}
	}

	switch os.Getenv("FAKE_FFMPEG_MODE") {
	case "fail":
		fmt.Fprintln(os.Stderr, "input: Invalid data found when processing input")
		os.Exit(1)
	case "hang":
		time.Sleep(time.Minute)
		os.Exit(0)
	}

	rate, channels := 16000, 1
	var input string
	for i := 0; i < len(args)-1; i++ {
		switch args[i] {
		case "-ar":
			rate, _ = strconv.Atoi(args[i+1])
		case "-ac":
			channels, _ = strconv.Atoi(args[i+1])
		case "-i":
			input = args[i+1]
		}
	}
	if _, err := os.Stat(input); err != nil {
		fmt.Fprintf(os.Stderr, "%s: No such file or directory\n", input)
		os.Exit(1)
	}

	wav, err := EncodeWAV(make([]byte, rate*channels*2/10), rate, channels, 16)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := os.WriteFile(args[len(args)-1], wav, 0o600); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func fakeCorrector(t *testing.T, mode string, timeout time.Duration) *FFmpegCorrector {
	t.Helper()
	return NewFFmpegCorrector(CorrectorConfig{
		Command: os.Args[0],
		Args:    []string{"-test.run=TestHelperProcess", "--"},
		Env:     []string{"GO_WANT_HELPER_PROCESS=1", "FAKE_FFMPEG_MODE=" + mode},
		Profile: entities.DefaultTargetProfile(),
		Timeout: timeout,
	}, zaptest.NewLogger(t))
}

func assertEmptyDir(t *testing.T, dir string) {
	t.Helper()
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	if len(entries) != 0 {
		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Errorf("Expected empty work dir, found %s", strings.Join(names, ", "))
	}
}

func TestFFmpegCorrector_Correct(t *testing.T) {
	workDir := t.TempDir()
	corrector := fakeCorrector(t, "", 10*time.Second)

	input, _ := EncodeWAV(make([]byte, 2048-HeaderSize), 22050, 2, 16)
	out, err := corrector.Correct(context.Background(), workDir, input)
	if err != nil {
		t.Fatalf("Correct failed: %v", err)
	}

	info, err := Inspect(out, Limits{})
	if err != nil {
		t.Fatalf("Corrected output failed inspection: %v", err)
	}
	verdict := Validate(info, entities.DefaultTargetProfile(), Strict, DefaultMaxDurationSeconds)
	if !verdict.Valid {
		t.Errorf("Corrected output should pass strict validation, got %v", verdict.Errors)
	}

	assertEmptyDir(t, workDir)
}

func TestFFmpegCorrector_Failure(t *testing.T) {
	workDir := t.TempDir()
	corrector := fakeCorrector(t, "fail", 10*time.Second)

	_, err := corrector.Correct(context.Background(), workDir, []byte("not audio at all"))
	if err == nil {
		t.Fatal("Expected error from failing transcoder")
	}

	var fe *domain.FormatError
	if !errors.As(err, &fe) {
		t.Fatalf("Expected *domain.FormatError, got %T", err)
	}
	if fe.Kind != domain.FormatCorrectionFailed {
		t.Errorf("Expected %s, got %s", domain.FormatCorrectionFailed, fe.Kind)
	}
	if !strings.Contains(fe.Detail, "Invalid data") {
		t.Errorf("Expected stderr in detail, got %q", fe.Detail)
	}

	assertEmptyDir(t, workDir)
}

func TestFFmpegCorrector_Timeout(t *testing.T) {
	workDir := t.TempDir()
	corrector := fakeCorrector(t, "hang", 200*time.Millisecond)

	start := time.Now()
	_, err := corrector.Correct(context.Background(), workDir, []byte("RIFF"))
	if err == nil {
		t.Fatal("Expected timeout error")
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("Correct took %s, expected it to stop near the timeout", elapsed)
	}

	var fe *domain.FormatError
	if !errors.As(err, &fe) || fe.Kind != domain.FormatCorrectionFailed {
		t.Fatalf("Expected correction_failed, got %v", err)
	}
	if !strings.Contains(fe.Detail, "exceeded") {
		t.Errorf("Expected timeout detail, got %q", fe.Detail)
	}

	assertEmptyDir(t, workDir)
}

func TestFFmpegCorrector_MissingBinary(t *testing.T) {
	workDir := t.TempDir()
	corrector := NewFFmpegCorrector(CorrectorConfig{
		Command: "/nonexistent/ffmpeg-binary",
	}, zaptest.NewLogger(t))

	_, err := corrector.Correct(context.Background(), workDir, []byte("data"))
	var fe *domain.FormatError
	if !errors.As(err, &fe) || fe.Kind != domain.FormatCorrectionFailed {
		t.Fatalf("Expected correction_failed, got %v", err)
	}

	assertEmptyDir(t, workDir)
}

func TestPCMCodec(t *testing.T) {
	tests := []struct {
		bits    int
		want    string
		wantErr bool
	}{
		{8, "pcm_u8", false},
		{16, "pcm_s16le", false},
		{24, "pcm_s24le", false},
		{32, "pcm_s32le", false},
		{12, "", true},
	}
	for _, tt := range tests {
		got, err := pcmCodec(tt.bits)
		if (err != nil) != tt.wantErr {
			t.Errorf("pcmCodec(%d) error = %v, wantErr %v", tt.bits, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("pcmCodec(%d) = %q, want %q", tt.bits, got, tt.want)
		}
	}
}
