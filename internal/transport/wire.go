package transport

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"emocall/internal/domain"
)

type wireFrame struct {
	Emotion     *string             `json:"emotion"`
	Confidence  *float64            `json:"confidence"`
	Timestamp   *float64            `json:"timestamp"`
	Suggestions *domain.Suggestions `json:"suggestions"`
}

// DecodeFrame parses and validates one classifier text frame.
func DecodeFrame(payload []byte) (domain.EmotionFrame, error) {
	var raw wireFrame
	if err := json.Unmarshal(payload, &raw); err != nil {
		return domain.EmotionFrame{}, fmt.Errorf("%w: %v", domain.ErrMalformedEvent, err)
	}
	if raw.Emotion == nil || strings.TrimSpace(*raw.Emotion) == "" {
		return domain.EmotionFrame{}, fmt.Errorf("%w: missing emotion", domain.ErrMalformedEvent)
	}
	if raw.Confidence == nil {
		return domain.EmotionFrame{}, fmt.Errorf("%w: missing confidence", domain.ErrMalformedEvent)
	}
	if *raw.Confidence < 0 || *raw.Confidence > 1 {
		return domain.EmotionFrame{}, fmt.Errorf("%w: confidence %v out of range", domain.ErrMalformedEvent, *raw.Confidence)
	}
	if raw.Timestamp == nil || *raw.Timestamp < 0 {
		return domain.EmotionFrame{}, fmt.Errorf("%w: missing timestamp", domain.ErrMalformedEvent)
	}

	return domain.EmotionFrame{
		Emotion:     strings.TrimSpace(*raw.Emotion),
		Confidence:  *raw.Confidence,
		Timestamp:   *raw.Timestamp,
		Suggestions: raw.Suggestions,
	}, nil
}

// NewClientID returns a per-process connection tag. It is not an
// authenticated identity.
func NewClientID() string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return "client_" + id[:9]
}

func buildEndpoint(base, clientID string) (string, error) {
	base = strings.TrimSpace(base)
	if base == "" {
		return "", ErrMissingURL
	}
	if strings.HasPrefix(base, "https://") {
		base = "wss://" + strings.TrimPrefix(base, "https://")
	} else if strings.HasPrefix(base, "http://") {
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	if !strings.HasPrefix(base, "ws://") && !strings.HasPrefix(base, "wss://") {
		return "", fmt.Errorf("unsupported classifier url scheme: %q", base)
	}
	return strings.TrimRight(base, "/") + "/" + clientID, nil
}
