package entities

import "time"

// Transcription is a successful speech service result. An empty Text means
// no speech was found, which is not an error.
type Transcription struct {
	Text           string        `json:"text"`
	ProcessingTime time.Duration `json:"processing_time"`
}

// Empty reports whether the service found no speech
func (t Transcription) Empty() bool {
	return t.Text == ""
}
