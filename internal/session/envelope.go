package session

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"strings"
	"time"

	"github.com/satriahrh/arunika/transcriber/domain"
	"github.com/satriahrh/arunika/transcriber/domain/entities"
)

type inboundMessage struct {
	Audio     string                  `json:"audio"`
	MimeType  string                  `json:"mimeType"`
	Timestamp string                  `json:"timestamp"`
	Metadata  *entities.AudioMetadata `json:"metadata"`
}

// ParseEnvelope decodes an inbound frame. A JSON envelope with an "audio"
// field is preferred; anything else is read as a bare base64 payload.
func ParseEnvelope(raw []byte) (*entities.AudioEnvelope, error) {
	trimmed := bytes.TrimSpace(raw)

	var msg inboundMessage
	if len(trimmed) > 0 && trimmed[0] == '{' && json.Unmarshal(trimmed, &msg) == nil && msg.Audio != "" {
		payload, err := decodeBase64(msg.Audio)
		if err != nil {
			return nil, domain.NewFormatError(domain.FormatBadEnvelope, "audio field is not valid base64", err)
		}

		envelope := &entities.AudioEnvelope{
			Payload:  payload,
			MimeType: msg.MimeType,
			Metadata: msg.Metadata,
		}
		if msg.Timestamp != "" {
			if ts, err := time.Parse(time.RFC3339Nano, msg.Timestamp); err == nil {
				envelope.Timestamp = &ts
			}
		}
		return envelope, nil
	}

	payload, err := decodeBase64(string(trimmed))
	if err != nil {
		return nil, domain.NewFormatError(domain.FormatBadEnvelope,
			"message is neither a JSON envelope nor base64", err)
	}
	return &entities.AudioEnvelope{Payload: payload}, nil
}

// decodeBase64 accepts padded or unpadded standard encoding, with an
// optional data URL prefix.
func decodeBase64(s string) ([]byte, error) {
	if strings.HasPrefix(s, "data:") {
		if i := strings.Index(s, ","); i >= 0 {
			s = s[i+1:]
		}
	}
	s = strings.TrimSpace(s)

	data, err := base64.StdEncoding.DecodeString(s)
	if err == nil {
		return data, nil
	}
	if data, rawErr := base64.RawStdEncoding.DecodeString(s); rawErr == nil {
		return data, nil
	}
	return nil, err
}
