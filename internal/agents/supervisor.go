package agents

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/Kocoro-lab/callcenter-orchestrator/internal/llm"
	"github.com/Kocoro-lab/callcenter-orchestrator/internal/metrics"
)

// SupervisorAgent reviews primary outputs. Its deterministic safety rules
// always run and an LLM judgment can only make the verdict stricter.
type SupervisorAgent struct {
	llm    llm.Client
	cfg    Config
	logger *zap.Logger
}

func NewSupervisorAgent(client llm.Client, cfg Config, logger *zap.Logger) *SupervisorAgent {
	if client == nil {
		client = llm.Disabled{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SupervisorAgent{llm: client, cfg: cfg.withDefaults(), logger: logger}
}

func (s *SupervisorAgent) Type() AgentType { return AgentSupervisor }

func (s *SupervisorAgent) AssessConfidence(sig ConfidenceSignals) ConfidenceReport {
	return NewConfidenceReport(sig, SupervisorThresholds)
}

// Process reviews in.Upstream.Primary and reports the verdict as an AgentOutput.
func (s *SupervisorAgent) Process(ctx context.Context, in AgentInput) (*AgentOutput, error) {
	start := time.Now()
	if in.Upstream == nil || in.Upstream.Primary == nil {
		return nil, ErrMissingUpstream
	}
	review, err := s.ReviewDecision(ctx, in.Upstream.Primary, in)
	if err != nil {
		return nil, err
	}
	primary := in.Upstream.Primary

	decision := DecisionRespond
	summary := "approved primary response"
	response := primary.ResponseContent
	if !review.Approved {
		decision = DecisionEscalate
		summary = "rejected primary response"
		response = ""
	}
	out := &AgentOutput{
		DecisionID:      review.ReviewID,
		InteractionID:   in.InteractionID,
		AgentType:       AgentSupervisor,
		DecisionType:    decision,
		DecisionSummary: fmt.Sprintf("%s (risk %s, compliance %s)", summary, review.RiskLevel, review.ComplianceStatus),
		ResponseContent: response,
		DetectedIntent:  primary.DetectedIntent,
		DetectedEmotion: primary.DetectedEmotion,
		Confidence: s.AssessConfidence(ConfidenceSignals{
			Overall:           review.AdjustedConfidence,
			IntentConfidence:  primary.Confidence.IntentConfidence,
			EmotionConfidence: primary.Confidence.EmotionConfidence,
			ContextConfidence: primary.Confidence.ContextConfidence,
			Concerns:          lo.Map(review.Flags, func(f ReviewFlag, _ int) string { return string(f) }),
		}),
		Reasoning:          review.Reasoning,
		RequiresFollowup:   review.RequiresEscalationReview,
		RecommendedActions: review.Recommendations,
		AnalysisMethod:     review.AnalysisMethod,
		ProcessedAt:        review.ReviewedAt,
	}
	if review.RequiresEscalationReview {
		out.EscalationTarget = AgentEscalation
	}
	out.ProcessingDurationMs = time.Since(start).Milliseconds()
	return out, nil
}

// judgment is the quality, tone and compliance verdict before the safety merge.
type judgment struct {
	quality         float64
	tone            bool
	compliance      ComplianceStatus
	risk            RiskLevel
	flags           []ReviewFlag
	recommendations []string
	reasoning       []string
	method          AnalysisMethod
}

type llmReview struct {
	QualityScore     float64  `json:"quality_score"`
	ToneAppropriate  bool     `json:"tone_appropriate"`
	ComplianceStatus string   `json:"compliance_status"`
	RiskLevel        string   `json:"risk_level"`
	Flags            []string `json:"flags"`
	Recommendations  []string `json:"recommendations"`
	Reasoning        []string `json:"reasoning"`
}

var supervisorReviewSchema = llm.MustCompileSchema("supervisor_review", `{
  "type": "object",
  "required": ["quality_score", "tone_appropriate", "compliance_status"],
  "properties": {
    "quality_score": {"type": "number", "minimum": 0, "maximum": 1},
    "tone_appropriate": {"type": "boolean"},
    "compliance_status": {"type": "string"},
    "risk_level": {"type": "string"},
    "flags": {"type": "array", "items": {"type": "string"}},
    "recommendations": {"type": "array", "items": {"type": "string"}},
    "reasoning": {"type": "array", "items": {"type": "string"}}
  }
}`)

const supervisorSystemPrompt = `You are a call-center quality supervisor.
Review the draft reply an AI agent wrote to a customer. Judge quality (0-1), whether the tone fits
the customer's emotional state, policy compliance (compliant, warning, violation) and risk
(none, low, medium, high, critical). Respond with a single JSON object and nothing else.`

func buildSupervisorPrompt(out *AgentOutput, in AgentInput) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Customer message:\n%s\n\n", in.Content)
	fmt.Fprintf(&b, "Detected intent: %s\nDetected emotion: %s\nAgent confidence: %.2f (%s)\n\n",
		out.DetectedIntent, out.DetectedEmotion, out.Confidence.OverallScore, out.Confidence.Level)
	fmt.Fprintf(&b, "Draft reply:\n%s\n\n", out.ResponseContent)
	fmt.Fprintf(&b, "Agent reasoning:\n- %s\n\n", strings.Join(out.Reasoning, "\n- "))
	b.WriteString(`Return JSON with fields: quality_score, tone_appropriate, compliance_status, risk_level,
flags (any of: low_confidence, tone_issue, policy_concern, sensitive_topic, factual_concern,
emotion_unaddressed, escalation_recommended, quality_issue), recommendations, reasoning.`)
	return b.String()
}

func (s *SupervisorAgent) judgeWithLLM(ctx context.Context, out *AgentOutput, in AgentInput) (judgment, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.LLMTimeout)
	defer cancel()

	resp := s.llm.Complete(ctx, llm.Request{
		Prompt:       buildSupervisorPrompt(out, in),
		SystemPrompt: supervisorSystemPrompt,
		Config: llm.GenerationConfig{
			Temperature: s.cfg.Temperature,
			MaxTokens:   s.cfg.MaxTokens,
			JSONMode:    true,
		},
		Caller: string(AgentSupervisor),
	})
	if !resp.OK() {
		msg := resp.Error
		if msg == "" {
			msg = "empty completion"
		}
		return judgment{}, &AnalysisError{Cause: string(resp.Status), Err: errors.New(msg)}
	}
	var r llmReview
	if err := supervisorReviewSchema.Decode(resp.Content, &r); err != nil {
		cause := "schema"
		if errors.Is(err, llm.ErrNoJSON) {
			cause = "invalid_json"
		}
		return judgment{}, &AnalysisError{Cause: cause, Err: err}
	}

	j := judgment{
		quality:         round3(clamp01(r.QualityScore)),
		tone:            r.ToneAppropriate,
		compliance:      ParseCompliance(r.ComplianceStatus),
		risk:            ParseRisk(r.RiskLevel),
		recommendations: r.Recommendations,
		method:          MethodLLM,
	}
	for _, f := range r.Flags {
		j.flags = append(j.flags, ReviewFlag(strings.ToLower(strings.TrimSpace(f))))
	}
	for _, line := range r.Reasoning {
		j.reasoning = append(j.reasoning, "LLM: "+truncate(line, 200))
	}
	return j, nil
}

func fallbackJudgment(out *AgentOutput, safety safetyResult) judgment {
	quality, issues := fallbackQuality(out)
	j := judgment{
		quality:    quality,
		tone:       toneAppropriate(out.DetectedEmotion, normalize(out.ResponseContent)),
		compliance: ComplianceCompliant,
		risk:       safety.risk,
		method:     MethodFallback,
	}
	if out.Confidence.Level.Weak() {
		j.compliance = ComplianceWarning
	}
	if len(issues) > 0 {
		j.reasoning = append(j.reasoning, "Quality issues: "+strings.Join(issues, ", "))
	}
	return j
}

// ReviewDecision runs the deterministic safety checks, obtains a quality
// judgment, merges both with the safety rules dominant, adjusts confidence
// and renders the verdict.
func (s *SupervisorAgent) ReviewDecision(ctx context.Context, out *AgentOutput, in AgentInput) (*SupervisorReview, error) {
	if out == nil {
		return nil, ErrMissingUpstream
	}
	safety := runSafetyChecks(out, in)

	j, err := s.judgeWithLLM(ctx, out, in)
	if err != nil {
		cause := analysisCause(err)
		metrics.AnalysisFallbacks.WithLabelValues(string(AgentSupervisor), cause).Inc()
		s.logger.Warn("Supervisor review falling back to rules",
			zap.String("interaction_id", out.InteractionID),
			zap.String("decision_id", out.DecisionID),
			zap.String("cause", cause),
			zap.Error(err),
		)
		j = fallbackJudgment(out, safety)
	}

	review := mergeReview(out, safety, j)
	review.ReviewID = uuid.New().String()
	review.DecisionID = out.DecisionID
	review.InteractionID = out.InteractionID
	review.ReviewedAt = time.Now().UTC()

	metrics.RecordAgentDecision(string(AgentSupervisor), verdictLabel(review.Approved), string(review.AnalysisMethod), review.AdjustedConfidence)
	metrics.SupervisorVerdicts.WithLabelValues(fmt.Sprint(review.Approved), string(review.RiskLevel), string(review.ComplianceStatus)).Inc()
	for _, f := range review.Flags {
		metrics.SupervisorFlags.WithLabelValues(string(f)).Inc()
	}
	s.logger.Debug("Supervisor review",
		zap.String("interaction_id", review.InteractionID),
		zap.String("decision_id", review.DecisionID),
		zap.Bool("approved", review.Approved),
		zap.String("risk_level", string(review.RiskLevel)),
		zap.String("compliance", string(review.ComplianceStatus)),
		zap.Float64("adjusted_confidence", review.AdjustedConfidence),
		zap.Strings("flags", lo.Map(review.Flags, func(f ReviewFlag, _ int) string { return string(f) })),
	)
	return review, nil
}

func verdictLabel(approved bool) string {
	if approved {
		return "approve"
	}
	return "reject"
}

// mergeReview combines the safety result and the judgment into a review.
// The safety rules can only tighten what the judgment says.
func mergeReview(out *AgentOutput, safety safetyResult, j judgment) *SupervisorReview {
	var flags FlagSet
	var recs []string
	reasoning := []string{fmt.Sprintf("Analysis method: %s", j.method)}

	for _, f := range j.flags {
		flags.Add(f)
	}

	quality := j.quality
	compliance := j.compliance
	risk := MaxRisk(safety.risk, j.risk)

	if len(safety.sensitiveTopics) > 0 {
		flags.Add(FlagSensitiveTopic)
		risk = MaxRisk(risk, RiskHigh)
		reasoning = append(reasoning, "Sensitive topic detected: "+strings.Join(safety.sensitiveTopics, ", "))
		recs = append(recs, "Route to a specialist trained for: "+strings.Join(safety.sensitiveTopics, ", "))
	}
	if len(safety.prohibited) > 0 {
		flags.Add(FlagPolicyConcern)
		compliance = compliance.MostRestrictive(ComplianceViolation)
		quality = min(quality, 0.4)
		reasoning = append(reasoning, "Prohibited phrasing in response: "+strings.Join(safety.prohibited, ", "))
		recs = append(recs, "Remove prohibited phrasing: "+strings.Join(safety.prohibited, ", "))
	}
	if !safety.emotionAddressed {
		flags.Add(FlagEmotionUnaddressed)
		reasoning = append(reasoning, fmt.Sprintf("Response does not acknowledge a %s customer", out.DetectedEmotion))
		recs = append(recs, "Acknowledge the customer's emotional state explicitly")
	}
	if len(safety.riskContributions) > 0 {
		reasoning = append(reasoning, fmt.Sprintf("Deterministic risk score %d: %s", safety.riskScore, strings.Join(safety.riskContributions, ", ")))
	}
	reasoning = append(reasoning, j.reasoning...)

	tone := j.tone && safety.emotionAddressed

	if out.Confidence.Level.Weak() {
		flags.Add(FlagLowConfidence)
	}
	if out.Confidence.RequiresEscalation || risk.AtLeast(RiskHigh) {
		flags.Add(FlagEscalationRecommended)
	}
	if !tone {
		flags.Add(FlagToneIssue)
	}
	if quality < 0.5 {
		flags.Add(FlagQualityIssue)
	}

	original := out.Confidence.OverallScore
	adjusted, reason := adjustConfidence(original, risk, compliance, quality, flags, out.DetectedIntent)
	if reason != "" {
		reasoning = append(reasoning, fmt.Sprintf("Confidence adjusted %.3f -> %.3f: %s", original, adjusted, reason))
	}

	approved := approve(compliance, risk, quality, adjusted, tone, flags)
	reasoning = append(reasoning, fmt.Sprintf("Verdict: approved=%t risk=%s compliance=%s quality=%.2f", approved, risk, compliance, quality))

	return &SupervisorReview{
		Approved:                 approved,
		QualityScore:             quality,
		ToneAppropriate:          tone,
		ComplianceStatus:         compliance,
		RiskLevel:                risk,
		OriginalConfidence:       original,
		AdjustedConfidence:       adjusted,
		AdjustmentReason:         reason,
		Flags:                    flags,
		Recommendations:          lo.Uniq(append(recs, j.recommendations...)),
		RequiresEscalationReview: !approved || flags.Has(FlagEscalationRecommended),
		Reasoning:                reasoning,
		AnalysisMethod:           j.method,
	}
}

// adjustConfidence applies the cap cascade in order. Every branch that fires
// overwrites the reason, so the last one wins.
func adjustConfidence(original float64, risk RiskLevel, compliance ComplianceStatus, quality float64, flags FlagSet, intent Intent) (float64, string) {
	adj := original
	reason := ""

	switch {
	case risk == RiskCritical:
		adj = min(adj, 0.3)
		reason = "critical risk"
	case risk == RiskHigh:
		adj = min(adj, 0.5)
		reason = "high risk"
	case risk == RiskMedium && adj > 0.7:
		adj = 0.65
		reason = "medium risk"
	}

	switch {
	case compliance == ComplianceViolation:
		adj = min(adj, 0.3)
		reason = "compliance violation"
	case compliance == ComplianceWarning && adj > 0.7:
		adj = 0.65
		reason = "compliance warning"
	}

	if quality < 0.5 {
		adj = min(adj, 0.5)
		reason = "low quality score"
	}
	if flags.Has(FlagEmotionUnaddressed) && adj > 0.6 {
		adj = 0.6
		reason = "customer emotion not addressed"
	}
	if risk == RiskNone && len(flags) == 0 && original < 0.6 && intent != IntentUnknown && compliance == ComplianceCompliant {
		adj = max(adj, 0.7)
		reason = "clean review raised confidence"
	}
	return round3(clamp01(adj)), reason
}

// approve is conservative: any single blocking condition rejects.
func approve(compliance ComplianceStatus, risk RiskLevel, quality, adjusted float64, tone bool, flags FlagSet) bool {
	switch {
	case compliance == ComplianceViolation,
		risk == RiskCritical,
		quality < 0.4,
		adjusted < 0.4,
		flags.Has(FlagPolicyConcern),
		risk == RiskHigh && adjusted < 0.6,
		flags.Has(FlagSensitiveTopic) && flags.Has(FlagEmotionUnaddressed),
		quality < 0.6 && !tone:
		return false
	}
	return true
}
