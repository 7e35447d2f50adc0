// Package moderation provides the content appropriateness gate.
package moderation

import (
	"context"
	"math"

	"github.com/BaSui01/imagegate/llm/image"
)

// Score is the appropriateness assessment of one image.
type Score struct {
	InappropriateContent float64         `json:"inappropriate_content"` // in [0, 1]
	Category             string          `json:"category,omitempty"`    // highest scoring category, if known
	Categories           *CategoryScores `json:"categories,omitempty"`
}

// Decision is the outcome of evaluating one image against a threshold.
type Decision struct {
	Approved  bool    `json:"approved"`
	Reason    string  `json:"reason,omitempty"` // empty when approved
	Score     float64 `json:"score"`
	Threshold float64 `json:"threshold"`
	Category  string  `json:"category,omitempty"`
}

// Scorer computes an appropriateness score for an image.
type Scorer interface {
	Score(ctx context.Context, img *image.StandardizedImage) (Score, error)
}

// ScorerFunc adapts a function to the Scorer interface.
type ScorerFunc func(ctx context.Context, img *image.StandardizedImage) (Score, error)

// Score implements Scorer.
func (f ScorerFunc) Score(ctx context.Context, img *image.StandardizedImage) (Score, error) {
	return f(ctx, img)
}

// DecisionObserver receives every decision the gate makes.
type DecisionObserver interface {
	ObserveDecision(Decision)
}

// CategoryScores contains confidence scores for each category.
type CategoryScores struct {
	Hate            float64 `json:"hate"`
	HateThreatening float64 `json:"hate_threatening"`
	Harassment      float64 `json:"harassment"`
	SelfHarm        float64 `json:"self_harm"`
	SelfHarmIntent  float64 `json:"self_harm_intent"`
	Sexual          float64 `json:"sexual"`
	SexualMinors    float64 `json:"sexual_minors"`
	Violence        float64 `json:"violence"`
	ViolenceGraphic float64 `json:"violence_graphic"`
	Illicit         float64 `json:"illicit"`
	IllicitViolent  float64 `json:"illicit_violent"`
}

// Max returns the highest scoring category and its score.
func (s CategoryScores) Max() (string, float64) {
	entries := []struct {
		name  string
		score float64
	}{
		{"hate", s.Hate},
		{"hate/threatening", s.HateThreatening},
		{"harassment", s.Harassment},
		{"self-harm", s.SelfHarm},
		{"self-harm/intent", s.SelfHarmIntent},
		{"sexual", s.Sexual},
		{"sexual/minors", s.SexualMinors},
		{"violence", s.Violence},
		{"violence/graphic", s.ViolenceGraphic},
		{"illicit", s.Illicit},
		{"illicit/violent", s.IllicitViolent},
	}
	best, bestScore := "", 0.0
	for _, e := range entries {
		if e.score > bestScore {
			best, bestScore = e.name, e.score
		}
	}
	return best, bestScore
}

func inUnitInterval(v float64) bool {
	return !math.IsNaN(v) && v >= 0 && v <= 1
}
