package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/satriahrh/arunika/transcriber/domain"
	"github.com/satriahrh/arunika/transcriber/domain/entities"
)

const (
	// HeaderSize is the size of a canonical RIFF/WAVE header
	HeaderSize = 44

	// FormatPCM is the WAVE format code for linear PCM
	FormatPCM = 1

	// DefaultMaxBytes caps a single clip at 50 MiB
	DefaultMaxBytes = 50 * 1024 * 1024

	// DefaultMaxDurationSeconds is the longest clip accepted
	DefaultMaxDurationSeconds = 600

	riffOffset      = 12
	chunkHeaderSize = 8
	fmtBodySize     = 16
)

var (
	riffTag = []byte("RIFF")
	waveTag = []byte("WAVE")
	fmtTag  = []byte("fmt ")
)

// Strictness decides whether profile mismatches are errors or warnings
type Strictness int

const (
	Lenient Strictness = iota
	Strict
)

func (s Strictness) String() string {
	if s == Strict {
		return "strict"
	}
	return "lenient"
}

// Limits bound the size of a clip the inspector accepts
type Limits struct {
	MinBytes int
	MaxBytes int
}

// WAVHeader is the canonical 44-byte header written by EncodeWAV
type WAVHeader struct {
	ChunkID       [4]byte // "RIFF"
	ChunkSize     uint32  // File size - 8 bytes
	Format        [4]byte // "WAVE"
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32  // 16 for PCM
	AudioFormat   uint16  // 1 for PCM
	NumChannels   uint16
	SampleRate    uint32
	ByteRate      uint32 // SampleRate * NumChannels * BitsPerSample / 8
	BlockAlign    uint16 // NumChannels * BitsPerSample / 8
	BitsPerSample uint16
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32
}

// Inspect parses the container header of data. It never reads past the end
// of the slice and never modifies it.
func Inspect(data []byte, limits Limits) (*entities.FormatInfo, error) {
	if len(data) < HeaderSize {
		return nil, domain.NewFormatError(domain.FormatTooSmall,
			fmt.Sprintf("need at least %d header bytes, got %d", HeaderSize, len(data)), nil)
	}
	if len(data) < limits.MinBytes {
		return nil, domain.NewFormatError(domain.FormatTooSmall,
			fmt.Sprintf("need at least %d bytes, got %d", limits.MinBytes, len(data)), nil)
	}
	if limits.MaxBytes > 0 && len(data) > limits.MaxBytes {
		return nil, domain.NewFormatError(domain.FormatTooLarge,
			fmt.Sprintf("limit is %d bytes, got %d", limits.MaxBytes, len(data)), nil)
	}

	if !bytes.Equal(data[0:4], riffTag) {
		return nil, domain.NewFormatError(domain.FormatBadSignature,
			fmt.Sprintf("expected RIFF at offset 0, found %q", data[0:4]), nil)
	}
	if !bytes.Equal(data[8:12], waveTag) {
		return nil, domain.NewFormatError(domain.FormatBadSignature,
			fmt.Sprintf("expected WAVE at offset 8, found %q", data[8:12]), nil)
	}

	body, err := findFormatChunk(data)
	if err != nil {
		return nil, err
	}

	info := &entities.FormatInfo{
		AudioFormat:      binary.LittleEndian.Uint16(body[0:2]),
		Channels:         binary.LittleEndian.Uint16(body[2:4]),
		SampleRate:       binary.LittleEndian.Uint32(body[4:8]),
		ByteRate:         binary.LittleEndian.Uint32(body[8:12]),
		BlockAlign:       binary.LittleEndian.Uint16(body[12:14]),
		BitsPerSample:    binary.LittleEndian.Uint16(body[14:16]),
		DeclaredFileSize: uint64(binary.LittleEndian.Uint32(data[4:8])) + chunkHeaderSize,
	}
	info.DurationSeconds = duration(len(data), info)

	return info, nil
}

// findFormatChunk walks the sub-chunks after the RIFF preamble and returns
// the first 16 bytes of the "fmt " body.
func findFormatChunk(data []byte) ([]byte, error) {
	size := uint64(len(data))
	offset := uint64(riffOffset)

	for offset+chunkHeaderSize <= size {
		id := data[offset : offset+4]
		chunkSize := uint64(binary.LittleEndian.Uint32(data[offset+4 : offset+8]))
		bodyStart := offset + chunkHeaderSize

		if bytes.Equal(id, fmtTag) {
			if chunkSize < fmtBodySize || bodyStart+fmtBodySize > size {
				return nil, domain.NewFormatError(domain.FormatMissingFormatChunk,
					fmt.Sprintf("fmt chunk at offset %d is truncated", offset), nil)
			}
			return data[bodyStart : bodyStart+fmtBodySize], nil
		}

		offset = bodyStart + chunkSize
	}

	return nil, domain.NewFormatError(domain.FormatMissingFormatChunk,
		"no fmt chunk before end of buffer", nil)
}

func duration(length int, info *entities.FormatInfo) float64 {
	bytesPerSecond := float64(info.SampleRate) * float64(info.Channels) * float64(info.BitsPerSample) / 8
	if bytesPerSecond <= 0 {
		return 0
	}
	seconds := float64(length-HeaderSize) / bytesPerSecond
	return math.Max(seconds, 0)
}

// Validate checks info against the target profile
func Validate(info *entities.FormatInfo, profile entities.TargetProfile, strictness Strictness, maxDurationSeconds float64) entities.ValidationVerdict {
	verdict := entities.ValidationVerdict{
		Errors:   []string{},
		Warnings: []string{},
	}

	mismatch := func(msg string) {
		if strictness == Strict {
			verdict.Errors = append(verdict.Errors, msg)
			verdict.RequiresFix = true
			return
		}
		verdict.Warnings = append(verdict.Warnings, msg)
	}

	if info.AudioFormat != FormatPCM {
		verdict.Errors = append(verdict.Errors,
			fmt.Sprintf("audio format %d is not PCM", info.AudioFormat))
		verdict.RequiresFix = true
	}
	if int(info.SampleRate) != profile.SampleRate {
		mismatch(fmt.Sprintf("sample rate %d Hz does not match target %d Hz", info.SampleRate, profile.SampleRate))
	}
	if int(info.Channels) != profile.Channels {
		mismatch(fmt.Sprintf("channel count %d does not match target %d", info.Channels, profile.Channels))
	}
	if int(info.BitsPerSample) != profile.BitDepth {
		mismatch(fmt.Sprintf("bit depth %d does not match target %d", info.BitsPerSample, profile.BitDepth))
	}
	if maxDurationSeconds > 0 && info.DurationSeconds > maxDurationSeconds {
		verdict.Errors = append(verdict.Errors,
			fmt.Sprintf("duration %.1fs exceeds maximum %.0fs", info.DurationSeconds, maxDurationSeconds))
	}

	expected := info.ExpectedByteRate()
	actual := uint64(info.ByteRate)
	if diff := max(expected, actual) - min(expected, actual); diff > 1 {
		verdict.Warnings = append(verdict.Warnings,
			fmt.Sprintf("byte rate %d does not match computed %d", actual, expected))
	}

	verdict.Valid = len(verdict.Errors) == 0
	if verdict.Valid {
		verdict.RequiresFix = false
	}
	return verdict
}

// EncodeWAV wraps raw little-endian PCM in a canonical 44-byte header
func EncodeWAV(pcm []byte, sampleRate, channels, bitDepth int) ([]byte, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}
	if channels <= 0 {
		return nil, fmt.Errorf("channel count must be positive, got %d", channels)
	}
	if bitDepth <= 0 || bitDepth%8 != 0 {
		return nil, fmt.Errorf("bit depth must be a positive multiple of 8, got %d", bitDepth)
	}

	blockAlign := channels * bitDepth / 8
	header := WAVHeader{
		ChunkID:       [4]byte{'R', 'I', 'F', 'F'},
		ChunkSize:     uint32(36 + len(pcm)),
		Format:        [4]byte{'W', 'A', 'V', 'E'},
		Subchunk1ID:   [4]byte{'f', 'm', 't', ' '},
		Subchunk1Size: fmtBodySize,
		AudioFormat:   FormatPCM,
		NumChannels:   uint16(channels),
		SampleRate:    uint32(sampleRate),
		ByteRate:      uint32(sampleRate * blockAlign),
		BlockAlign:    uint16(blockAlign),
		BitsPerSample: uint16(bitDepth),
		Subchunk2ID:   [4]byte{'d', 'a', 't', 'a'},
		Subchunk2Size: uint32(len(pcm)),
	}

	buf := bytes.NewBuffer(make([]byte, 0, HeaderSize+len(pcm)))
	if err := binary.Write(buf, binary.LittleEndian, header); err != nil {
		return nil, fmt.Errorf("failed to write WAV header: %w", err)
	}
	buf.Write(pcm)

	return buf.Bytes(), nil
}

// EncodeSamples encodes 16-bit samples as a WAV container
func EncodeSamples(samples []int16, sampleRate, channels int) ([]byte, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("cannot encode empty audio samples")
	}
	pcm := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(s))
	}
	return EncodeWAV(pcm, sampleRate, channels, 16)
}
