// Package quality normalizes and gates recovered analysis payloads before
// they are stored as job results.
package quality

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
)

var ErrQualityRejected = errors.New("analysis failed quality checks")

const minAnalysisScore = 0.50

type AnalysisValidator struct{}

func NewAnalysisValidator() *AnalysisValidator {
	return &AnalysisValidator{}
}

// ValidateAnalysis checks that a repaired analysis object carries usable
// content, normalizes text fields and clamps the score range. It returns the
// cleaned payload re-encoded, or ErrQualityRejected when the object is too
// degraded to hand back to a partner.
func (v *AnalysisValidator) ValidateAnalysis(body json.RawMessage) (json.RawMessage, error) {
	var payload struct {
		CallID          string          `json:"call_id"`
		Transcript      string          `json:"transcript"`
		ToneAnalysis    json.RawMessage `json:"tone_analysis"`
		ContentAnalysis json.RawMessage `json:"content_analysis"`
		OverallScore    *float64        `json:"overall_score"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("%w: decode analysis payload: %v", ErrQualityRejected, err)
	}

	penalty := 0.0
	transcript := normalizeText(payload.Transcript)
	if len(transcript) > 60000 {
		transcript = truncateAtWord(transcript, 60000)
		penalty += 0.05
	}

	tone := normalizeObject(payload.ToneAnalysis)
	content := normalizeObject(payload.ContentAnalysis)

	if transcript == "" && content == nil {
		return nil, fmt.Errorf("%w: analysis has neither transcript nor content analysis", ErrQualityRejected)
	}
	if transcript == "" {
		penalty += 0.15
	}
	if tone == nil {
		penalty += 0.10
	}
	if content == nil {
		penalty += 0.20
	}

	var score *float64
	if payload.OverallScore != nil {
		clamped := clampScore(*payload.OverallScore)
		if clamped != *payload.OverallScore {
			penalty += 0.05
		}
		score = &clamped
	} else {
		penalty += 0.10
	}

	quality := clamp01(1.0 - penalty)
	if quality < minAnalysisScore {
		return nil, fmt.Errorf("%w: low analysis quality score %.2f", ErrQualityRejected, quality)
	}

	cleaned := map[string]any{
		"quality_score": round2(quality),
	}
	if callID := normalizeText(payload.CallID); callID != "" {
		cleaned["call_id"] = callID
	}
	if transcript != "" {
		cleaned["transcript"] = transcript
	}
	if tone != nil {
		cleaned["tone_analysis"] = tone
	}
	if content != nil {
		cleaned["content_analysis"] = content
	}
	if score != nil {
		cleaned["overall_score"] = *score
	}

	encoded, err := json.Marshal(cleaned)
	if err != nil {
		return nil, fmt.Errorf("encode analysis payload: %w", err)
	}
	return encoded, nil
}

// normalizeObject keeps only non-empty JSON objects.
func normalizeObject(raw json.RawMessage) json.RawMessage {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" || trimmed == "{}" {
		return nil
	}
	if !strings.HasPrefix(trimmed, "{") {
		return nil
	}
	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil || len(decoded) == 0 {
		return nil
	}
	return json.RawMessage(trimmed)
}

func normalizeText(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ""
	}
	parts := strings.Fields(trimmed)
	return strings.Join(parts, " ")
}

func truncateAtWord(value string, maxLen int) string {
	if len(value) <= maxLen || maxLen <= 0 {
		return value
	}
	cut := value[:maxLen]
	lastSpace := strings.LastIndex(cut, " ")
	if lastSpace > maxLen/2 {
		cut = cut[:lastSpace]
	}
	return strings.TrimSpace(cut)
}

// Scores arrive on a 0..10 scale.
func clampScore(value float64) float64 {
	if value < 0 {
		return 0
	}
	if value > 10 {
		return 10
	}
	return round2(value)
}

func clamp01(value float64) float64 {
	if value < 0 {
		return 0
	}
	if value > 1 {
		return 1
	}
	return value
}

func round2(value float64) float64 {
	return math.Round(value*100) / 100
}
