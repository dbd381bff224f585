package entities

import "time"

// TargetProfile is the encoding every clip must have before it reaches
// the speech service.
type TargetProfile struct {
	SampleRate int `json:"sample_rate" yaml:"sample_rate"`
	Channels   int `json:"channels" yaml:"channels"`
	BitDepth   int `json:"bit_depth" yaml:"bit_depth"`
}

// DefaultTargetProfile is 16 kHz mono 16-bit PCM
func DefaultTargetProfile() TargetProfile {
	return TargetProfile{SampleRate: 16000, Channels: 1, BitDepth: 16}
}

// AudioMetadata is what the sender claims about the clip. It is never trusted
// over the container header.
type AudioMetadata struct {
	DurationSeconds float64 `json:"duration"`
	SampleRate      int     `json:"sampleRate"`
	Channels        int     `json:"channels"`
}

// AudioEnvelope is one decoded inbound message
type AudioEnvelope struct {
	Payload   []byte
	MimeType  string
	Timestamp *time.Time
	Metadata  *AudioMetadata
}

// FormatInfo holds the parameters read from a RIFF/WAVE header
type FormatInfo struct {
	AudioFormat      uint16  `json:"audio_format"`
	Channels         uint16  `json:"channels"`
	SampleRate       uint32  `json:"sample_rate"`
	ByteRate         uint32  `json:"byte_rate"`
	BlockAlign       uint16  `json:"block_align"`
	BitsPerSample    uint16  `json:"bits_per_sample"`
	DeclaredFileSize uint64  `json:"declared_file_size"`
	DurationSeconds  float64 `json:"duration_seconds"`
}

// ExpectedByteRate is sampleRate * channels * bitsPerSample / 8
func (f FormatInfo) ExpectedByteRate() uint64 {
	return uint64(f.SampleRate) * uint64(f.Channels) * uint64(f.BitsPerSample) / 8
}

// ValidationVerdict is the outcome of checking FormatInfo against a profile
type ValidationVerdict struct {
	Valid       bool     `json:"is_valid"`
	Errors      []string `json:"errors"`
	Warnings    []string `json:"warnings"`
	RequiresFix bool     `json:"requires_fix"`
}
