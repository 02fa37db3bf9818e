package agents

import "math"

// ConfidenceLevel buckets an overall confidence score.
type ConfidenceLevel string

const (
	LevelHigh      ConfidenceLevel = "high"
	LevelMedium    ConfidenceLevel = "medium"
	LevelLow       ConfidenceLevel = "low"
	LevelUncertain ConfidenceLevel = "uncertain"
)

// LevelFor maps a score onto its level.
func LevelFor(score float64) ConfidenceLevel {
	switch {
	case score >= 0.8:
		return LevelHigh
	case score >= 0.6:
		return LevelMedium
	case score >= 0.4:
		return LevelLow
	default:
		return LevelUncertain
	}
}

// Weak reports whether the level is low or uncertain.
func (l ConfidenceLevel) Weak() bool {
	return l == LevelLow || l == LevelUncertain
}

// Thresholds are the routing bands an agent applies to its own confidence.
type Thresholds struct {
	Autonomous  float64
	Supervision float64
	Escalation  float64
}

var (
	PrimaryThresholds    = Thresholds{Autonomous: 0.70, Supervision: 0.50, Escalation: 0.50}
	SupervisorThresholds = Thresholds{Autonomous: 0.75, Supervision: 0.50, Escalation: 0.40}
	EscalationThresholds = Thresholds{Autonomous: 0.80, Supervision: 0.60, Escalation: 0.60}
)

// ConfidenceSignals are the raw inputs to a confidence assessment.
type ConfidenceSignals struct {
	Overall           float64
	IntentConfidence  float64
	EmotionConfidence float64
	ContextConfidence float64
	Factors           []string
	Concerns          []string
}

// ConfidenceReport is an immutable confidence assessment.
type ConfidenceReport struct {
	OverallScore             float64         `json:"overall_score"`
	Level                    ConfidenceLevel `json:"level"`
	IntentConfidence         float64         `json:"intent_confidence"`
	EmotionConfidence        float64         `json:"emotion_confidence"`
	ContextConfidence        float64         `json:"context_confidence"`
	Factors                  []string        `json:"factors"`
	Concerns                 []string        `json:"concerns"`
	MeetsAutonomousThreshold bool            `json:"meets_autonomous_threshold"`
	RequiresSupervision      bool            `json:"requires_supervision"`
	RequiresEscalation       bool            `json:"requires_escalation"`
}

// NewConfidenceReport clamps the score and derives the level and routing bands.
func NewConfidenceReport(sig ConfidenceSignals, t Thresholds) ConfidenceReport {
	score := clamp01(sig.Overall)
	return ConfidenceReport{
		OverallScore:             score,
		Level:                    LevelFor(score),
		IntentConfidence:         clamp01(sig.IntentConfidence),
		EmotionConfidence:        clamp01(sig.EmotionConfidence),
		ContextConfidence:        clamp01(sig.ContextConfidence),
		Factors:                  append([]string(nil), sig.Factors...),
		Concerns:                 append([]string(nil), sig.Concerns...),
		MeetsAutonomousThreshold: score >= t.Autonomous,
		RequiresSupervision:      score >= t.Supervision && score < t.Autonomous,
		RequiresEscalation:       score < t.Escalation,
	}
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}

// round3 keeps scores stable for comparison and logging.
func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
