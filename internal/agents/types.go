package agents

import (
	"strconv"
	"strings"
	"time"
)

// Intent is the classified purpose of a customer message.
type Intent string

const (
	IntentBilling           Intent = "billing"
	IntentTechnicalSupport  Intent = "technical_support"
	IntentAccountManagement Intent = "account_management"
	IntentOrderStatus       Intent = "order_status"
	IntentComplaint         Intent = "complaint"
	IntentCancellation      Intent = "cancellation"
	IntentFeedback          Intent = "feedback"
	IntentGeneralInquiry    Intent = "general_inquiry"
	IntentUnknown           Intent = "unknown"
)

// AllIntents lists every intent in fallback tie-break precedence.
var AllIntents = []Intent{
	IntentComplaint,
	IntentCancellation,
	IntentBilling,
	IntentTechnicalSupport,
	IntentAccountManagement,
	IntentOrderStatus,
	IntentFeedback,
	IntentGeneralInquiry,
	IntentUnknown,
}

// ParseIntent maps a free-form label onto a known intent, or IntentUnknown.
func ParseIntent(s string) Intent {
	v := Intent(strings.ToLower(strings.TrimSpace(s)))
	for _, i := range AllIntents {
		if i == v {
			return i
		}
	}
	return IntentUnknown
}

// EmotionalState is the classified affect of the customer.
type EmotionalState string

const (
	EmotionNeutral    EmotionalState = "neutral"
	EmotionSatisfied  EmotionalState = "satisfied"
	EmotionFrustrated EmotionalState = "frustrated"
	EmotionAngry      EmotionalState = "angry"
	EmotionAnxious    EmotionalState = "anxious"
	EmotionConfused   EmotionalState = "confused"
)

var AllEmotions = []EmotionalState{
	EmotionNeutral,
	EmotionSatisfied,
	EmotionFrustrated,
	EmotionAngry,
	EmotionAnxious,
	EmotionConfused,
}

// ParseEmotion maps a free-form label onto a known emotion, or EmotionNeutral.
func ParseEmotion(s string) EmotionalState {
	v := EmotionalState(strings.ToLower(strings.TrimSpace(s)))
	for _, e := range AllEmotions {
		if e == v {
			return e
		}
	}
	return EmotionNeutral
}

// HighAttention reports whether the emotion requires explicit acknowledgment.
func (e EmotionalState) HighAttention() bool {
	return e == EmotionAngry || e == EmotionFrustrated || e == EmotionAnxious
}

// DecisionType is what an agent decided to do with the turn.
type DecisionType string

const (
	DecisionRespond  DecisionType = "respond"
	DecisionClarify  DecisionType = "clarify"
	DecisionEscalate DecisionType = "escalate"
	DecisionTransfer DecisionType = "transfer"
	DecisionResolve  DecisionType = "resolve"
	DecisionDefer    DecisionType = "defer"
)

// AgentType identifies the producer of a decision.
type AgentType string

const (
	AgentPrimary    AgentType = "primary"
	AgentSupervisor AgentType = "supervisor"
	AgentEscalation AgentType = "escalation"
	AgentHuman      AgentType = "human"
)

// AnalysisMethod records which path produced an analysis.
type AnalysisMethod string

const (
	MethodLLM      AnalysisMethod = "llm"
	MethodFallback AnalysisMethod = "fallback"
)

// ComplianceStatus is ordered from least to most restrictive.
type ComplianceStatus string

const (
	ComplianceCompliant ComplianceStatus = "compliant"
	ComplianceWarning   ComplianceStatus = "warning"
	ComplianceViolation ComplianceStatus = "violation"
)

func (c ComplianceStatus) rank() int {
	switch c {
	case ComplianceViolation:
		return 2
	case ComplianceWarning:
		return 1
	default:
		return 0
	}
}

// MostRestrictive returns whichever status is stricter.
func (c ComplianceStatus) MostRestrictive(other ComplianceStatus) ComplianceStatus {
	if other.rank() > c.rank() {
		return other
	}
	if c == "" {
		return ComplianceCompliant
	}
	return c
}

// ParseCompliance falls back to warning for labels it does not know.
func ParseCompliance(s string) ComplianceStatus {
	switch ComplianceStatus(strings.ToLower(strings.TrimSpace(s))) {
	case ComplianceCompliant:
		return ComplianceCompliant
	case ComplianceViolation:
		return ComplianceViolation
	default:
		return ComplianceWarning
	}
}

// RiskLevel is ordered from none to critical.
type RiskLevel string

const (
	RiskNone     RiskLevel = "none"
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

var riskOrder = map[RiskLevel]int{
	RiskNone:     0,
	RiskLow:      1,
	RiskMedium:   2,
	RiskHigh:     3,
	RiskCritical: 4,
}

// Rank returns the ordinal of the risk level.
func (r RiskLevel) Rank() int {
	return riskOrder[r]
}

// AtLeast reports whether r is as severe as other.
func (r RiskLevel) AtLeast(other RiskLevel) bool {
	return r.Rank() >= other.Rank()
}

// MaxRisk returns the most severe of the given levels.
func MaxRisk(levels ...RiskLevel) RiskLevel {
	out := RiskNone
	for _, l := range levels {
		if _, ok := riskOrder[l]; ok && l.Rank() > out.Rank() {
			out = l
		}
	}
	return out
}

// ParseRisk returns RiskMedium for labels it does not know.
func ParseRisk(s string) RiskLevel {
	v := RiskLevel(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := riskOrder[v]; ok {
		return v
	}
	return RiskMedium
}

// ReviewFlag marks a concern raised during supervisor review.
type ReviewFlag string

const (
	FlagLowConfidence         ReviewFlag = "low_confidence"
	FlagToneIssue             ReviewFlag = "tone_issue"
	FlagPolicyConcern         ReviewFlag = "policy_concern"
	FlagSensitiveTopic        ReviewFlag = "sensitive_topic"
	FlagFactualConcern        ReviewFlag = "factual_concern"
	FlagEmotionUnaddressed    ReviewFlag = "emotion_unaddressed"
	FlagEscalationRecommended ReviewFlag = "escalation_recommended"
	FlagQualityIssue          ReviewFlag = "quality_issue"
)

var knownFlags = map[ReviewFlag]struct{}{
	FlagLowConfidence:         {},
	FlagToneIssue:             {},
	FlagPolicyConcern:         {},
	FlagSensitiveTopic:        {},
	FlagFactualConcern:        {},
	FlagEmotionUnaddressed:    {},
	FlagEscalationRecommended: {},
	FlagQualityIssue:          {},
}

// FlagSet is an insertion-ordered set of review flags.
type FlagSet []ReviewFlag

// Has reports whether f is in the set.
func (s FlagSet) Has(f ReviewFlag) bool {
	for _, v := range s {
		if v == f {
			return true
		}
	}
	return false
}

// Add inserts f if it is not already present.
func (s *FlagSet) Add(f ReviewFlag) {
	if _, ok := knownFlags[f]; !ok || s.Has(f) {
		return
	}
	*s = append(*s, f)
}

// EscalationType is where a turn is routed when it leaves autonomous handling.
type EscalationType string

const (
	EscalationNone               EscalationType = "none"
	EscalationHumanImmediate     EscalationType = "human_immediate"
	EscalationHumanQueue         EscalationType = "human_queue"
	EscalationTicketCreate       EscalationType = "ticket_create"
	EscalationRetryPrimary       EscalationType = "retry_primary"
	EscalationSupervisorOverride EscalationType = "supervisor_override"
)

// HumanBound reports whether the escalation hands the customer to a person.
func (t EscalationType) HumanBound() bool {
	return t == EscalationHumanImmediate || t == EscalationHumanQueue
}

// EscalationReason explains an escalation.
type EscalationReason string

const (
	ReasonLowConfidence     EscalationReason = "low_confidence"
	ReasonPolicyViolation   EscalationReason = "policy_violation"
	ReasonSafetyConcern     EscalationReason = "safety_concern"
	ReasonEmotionalDistress EscalationReason = "emotional_distress"
	ReasonComplexIssue      EscalationReason = "complex_issue"
	ReasonRepeatedFailure   EscalationReason = "repeated_failure"
)

// ContextMessage is one message inside a short-term context window.
type ContextMessage struct {
	Role      string         `json:"role"`
	Content   string         `json:"content"`
	Intent    Intent         `json:"intent,omitempty"`
	Emotion   EmotionalState `json:"emotion,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// ContextDecision is one agent decision inside a short-term context window.
type ContextDecision struct {
	DecisionID   string       `json:"decision_id"`
	AgentType    AgentType    `json:"agent_type"`
	DecisionType DecisionType `json:"decision_type"`
	Confidence   float64      `json:"confidence"`
	Summary      string       `json:"summary"`
	Timestamp    time.Time    `json:"timestamp"`
}

// Sentiment trend labels.
const (
	TrendImproving = "improving"
	TrendDeclining = "declining"
	TrendStable    = "stable"
	TrendUnknown   = "unknown"
)

// ShortTermContext is the bounded view of an interaction handed to agents.
type ShortTermContext struct {
	InteractionID          string            `json:"interaction_id"`
	TurnCount              int               `json:"turn_count"`
	RecentMessages         []ContextMessage  `json:"recent_messages"`
	RecentDecisions        []ContextDecision `json:"recent_decisions"`
	CurrentIntent          Intent            `json:"current_intent,omitempty"`
	CurrentEmotion         EmotionalState    `json:"current_emotion,omitempty"`
	IntentHistory          []Intent          `json:"intent_history"`
	EmotionHistory         []EmotionalState  `json:"emotion_history"`
	KeyTopics              []string          `json:"key_topics"`
	UnresolvedIssues       []string          `json:"unresolved_issues"`
	ResolvedIssues         []string          `json:"resolved_issues"`
	ConfidenceTrend        []float64         `json:"confidence_trend"`
	HasEscalationHistory   bool              `json:"has_escalation_history"`
	SentimentTrend         string            `json:"sentiment_trend"`
	SensitiveTopicDetected bool              `json:"sensitive_topic_detected"`
	RequiresHumanReview    bool              `json:"requires_human_review"`
}

// Summary renders the context as prompt text.
func (c *ShortTermContext) Summary() string {
	if c == nil {
		return "No prior conversation."
	}
	var b strings.Builder
	b.WriteString("Turn count: ")
	b.WriteString(strconv.Itoa(c.TurnCount))
	if c.CurrentIntent != "" {
		b.WriteString("\nCurrent intent: " + string(c.CurrentIntent))
	}
	if c.CurrentEmotion != "" {
		b.WriteString("\nCurrent emotion: " + string(c.CurrentEmotion))
	}
	if c.SentimentTrend != "" {
		b.WriteString("\nSentiment trend: " + c.SentimentTrend)
	}
	if len(c.KeyTopics) > 0 {
		b.WriteString("\nTopics: " + strings.Join(c.KeyTopics, ", "))
	}
	if len(c.UnresolvedIssues) > 0 {
		b.WriteString("\nUnresolved issues: " + strings.Join(c.UnresolvedIssues, "; "))
	}
	if len(c.RecentMessages) > 0 {
		b.WriteString("\nRecent messages:")
		for _, m := range c.RecentMessages {
			b.WriteString("\n- " + m.Role + ": " + truncate(m.Content, 200))
		}
	}
	return b.String()
}

// AgentInput is the immutable input of one agent invocation.
type AgentInput struct {
	InteractionID    string            `json:"interaction_id"`
	MessageID        string            `json:"message_id"`
	CustomerID       string            `json:"customer_id,omitempty"`
	Content          string            `json:"content"`
	ContentType      string            `json:"content_type"`
	Context          *ShortTermContext `json:"context,omitempty"`
	SuggestedIntent  Intent            `json:"suggested_intent,omitempty"`
	SuggestedEmotion EmotionalState    `json:"suggested_emotion,omitempty"`
	Timestamp        time.Time         `json:"timestamp"`
	Metadata         map[string]string `json:"metadata,omitempty"`

	// Upstream carries earlier stage outputs for the supervisor and escalation agents.
	Upstream *Upstream `json:"-"`
}

// Upstream bundles the outputs a downstream agent reviews.
type Upstream struct {
	Primary           *AgentOutput
	Review            *SupervisorReview
	EscalationHistory []EscalationOutcome
}

// ContextUpdates is what a turn adds to the conversation context.
type ContextUpdates struct {
	Topics           []string `json:"topics,omitempty"`
	ResolvedIssues   []string `json:"resolved_issues,omitempty"`
	UnresolvedIssues []string `json:"unresolved_issues,omitempty"`
}

// Empty reports whether there is nothing to apply.
func (u ContextUpdates) Empty() bool {
	return len(u.Topics) == 0 && len(u.ResolvedIssues) == 0 && len(u.UnresolvedIssues) == 0
}

// AgentOutput is produced once per agent invocation and not modified afterwards.
type AgentOutput struct {
	DecisionID           string           `json:"decision_id"`
	InteractionID        string           `json:"interaction_id"`
	AgentType            AgentType        `json:"agent_type"`
	DecisionType         DecisionType     `json:"decision_type"`
	DecisionSummary      string           `json:"decision_summary"`
	ResponseContent      string           `json:"response_content,omitempty"`
	DetectedIntent       Intent           `json:"detected_intent,omitempty"`
	DetectedEmotion      EmotionalState   `json:"detected_emotion,omitempty"`
	Confidence           ConfidenceReport `json:"confidence"`
	Reasoning            []string         `json:"reasoning"`
	RequiresFollowup     bool             `json:"requires_followup"`
	RecommendedActions   []string         `json:"recommended_actions"`
	EscalationTarget     AgentType        `json:"escalation_target,omitempty"`
	ContextUpdates       ContextUpdates   `json:"context_updates"`
	AnalysisMethod       AnalysisMethod   `json:"analysis_method"`
	ProcessedAt          time.Time        `json:"processed_at"`
	ProcessingDurationMs int64            `json:"processing_duration_ms"`
}

// SupervisorReview is the supervisor's verdict on a primary output.
type SupervisorReview struct {
	ReviewID                 string           `json:"review_id"`
	DecisionID               string           `json:"decision_id"`
	InteractionID            string           `json:"interaction_id"`
	Approved                 bool             `json:"approved"`
	QualityScore             float64          `json:"quality_score"`
	ToneAppropriate          bool             `json:"tone_appropriate"`
	ComplianceStatus         ComplianceStatus `json:"compliance_status"`
	RiskLevel                RiskLevel        `json:"risk_level"`
	OriginalConfidence       float64          `json:"original_confidence"`
	AdjustedConfidence       float64          `json:"adjusted_confidence"`
	AdjustmentReason         string           `json:"adjustment_reason,omitempty"`
	Flags                    FlagSet          `json:"flags"`
	Recommendations          []string         `json:"recommendations"`
	RequiresEscalationReview bool             `json:"requires_escalation_review"`
	Reasoning                []string         `json:"reasoning"`
	AnalysisMethod           AnalysisMethod   `json:"analysis_method"`
	ReviewedAt               time.Time        `json:"reviewed_at"`
}

// EscalationDecision is the escalation agent's routing verdict.
type EscalationDecision struct {
	DecisionID              string           `json:"decision_id"`
	InteractionID           string           `json:"interaction_id"`
	ShouldEscalate          bool             `json:"should_escalate"`
	EscalationType          EscalationType   `json:"escalation_type"`
	EscalationReason        EscalationReason `json:"escalation_reason,omitempty"`
	Priority                int              `json:"priority"`
	TargetAgent             AgentType        `json:"target_agent,omitempty"`
	ContextSummary          string           `json:"context_summary"`
	KeyIssues               []string         `json:"key_issues"`
	AttemptedResolutions    []string         `json:"attempted_resolutions"`
	Reasoning               []string         `json:"reasoning"`
	RecommendedResponseTime string           `json:"recommended_response_time,omitempty"`
	DecidedAt               time.Time        `json:"decided_at"`
}

// EscalationOutcome records what happened to a past escalation.
type EscalationOutcome struct {
	EscalationID   string           `json:"escalation_id"`
	DecisionID     string           `json:"decision_id"`
	EscalationType EscalationType   `json:"escalation_type"`
	Reason         EscalationReason `json:"reason,omitempty"`
	EscalatedAt    time.Time        `json:"escalated_at"`
	ReturnedToAI   bool             `json:"returned_to_ai"`
	ResolvedAt     *time.Time       `json:"resolved_at,omitempty"`
	HumanAgentID   string           `json:"human_agent_id,omitempty"`
	Notes          string           `json:"notes,omitempty"`
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
