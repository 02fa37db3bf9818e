package agents

import (
	"strings"
	"unicode/utf8"
)

// safetyResult is the outcome of the deterministic checks that always run.
type safetyResult struct {
	sensitiveTopics   []string
	prohibited        []string
	riskScore         int
	risk              RiskLevel
	emotionAddressed  bool
	riskContributions []string
}

func runSafetyChecks(out *AgentOutput, in AgentInput) safetyResult {
	msg := normalize(in.Content)
	resp := normalize(out.ResponseContent)

	var r safetyResult
	for _, st := range sensitiveTopics {
		if len(sensitiveTermsIn(msg, st.terms)) > 0 {
			r.sensitiveTopics = append(r.sensitiveTopics, st.topic)
		}
	}
	for _, p := range prohibitedPhrases {
		if strings.Contains(resp, p) {
			r.prohibited = append(r.prohibited, p)
		}
	}
	r.riskScore, r.riskContributions = riskScore(out)
	r.risk = riskForScore(r.riskScore)
	r.emotionAddressed = emotionAcknowledged(out.DetectedEmotion, resp)
	return r
}

func riskScore(out *AgentOutput) (int, []string) {
	score := 0
	var why []string
	if out.DetectedIntent == IntentComplaint || out.DetectedIntent == IntentCancellation {
		score += 2
		why = append(why, "high-risk intent "+string(out.DetectedIntent))
	}
	if out.DetectedEmotion.HighAttention() {
		score++
		why = append(why, "customer is "+string(out.DetectedEmotion))
	}
	if out.DetectedEmotion == EmotionAngry && out.DetectedIntent == IntentComplaint {
		score += 2
		why = append(why, "angry complaint")
	}
	if out.Confidence.Level.Weak() {
		score++
		why = append(why, "weak primary confidence")
	}
	if out.DetectedIntent == IntentUnknown {
		score++
		why = append(why, "intent unknown")
	}
	return score, why
}

func riskForScore(score int) RiskLevel {
	switch {
	case score >= 4:
		return RiskCritical
	case score >= 3:
		return RiskHigh
	case score >= 2:
		return RiskMedium
	case score >= 1:
		return RiskLow
	default:
		return RiskNone
	}
}

// emotionAcknowledged reports whether the normalized response acknowledges a
// high-attention emotion. Other emotions need no acknowledgment.
func emotionAcknowledged(e EmotionalState, resp string) bool {
	phrases, ok := acknowledgmentPhrases[e]
	if !ok {
		return true
	}
	_, found := containsAny(resp, phrases)
	return found
}

// toneAppropriate is the keyword tone check used when no LLM judgment is available.
func toneAppropriate(e EmotionalState, resp string) bool {
	if _, bad := containsAny(resp, dismissivePhrases); bad {
		return false
	}
	if e.HighAttention() {
		_, ok := containsAny(resp, supportivePhrases)
		return ok
	}
	return true
}

const (
	minResponseRunes = 20
	maxResponseRunes = 1200
)

// fallbackQuality starts at 0.7 and loses 0.1 per issue found.
func fallbackQuality(out *AgentOutput) (float64, []string) {
	var issues []string
	n := utf8.RuneCountInString(strings.TrimSpace(out.ResponseContent))
	switch {
	case n == 0:
		issues = append(issues, "response missing")
	case n < minResponseRunes:
		issues = append(issues, "response too short")
	case n > maxResponseRunes:
		issues = append(issues, "response too long")
	}
	switch len(out.Reasoning) {
	case 0:
		issues = append(issues, "reasoning missing")
	case 1:
		issues = append(issues, "reasoning thin")
	}
	if out.DetectedIntent == IntentUnknown {
		issues = append(issues, "intent unknown")
	}
	return round3(0.7 - 0.1*float64(len(issues))), issues
}
