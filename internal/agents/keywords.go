package agents

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// normalize lowercases text and folds typographic apostrophes.
func normalize(s string) string {
	return strings.ReplaceAll(strings.ToLower(s), "’", "'")
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

// matchTerm reports whether term occurs in text, which must already be
// normalized. A trailing '*' makes the term a stem that only needs a word
// boundary at its start; anything else needs a boundary on both ends.
func matchTerm(text, term string) bool {
	stem := strings.HasSuffix(term, "*")
	needle := strings.TrimSuffix(term, "*")
	if needle == "" {
		return false
	}
	for off := 0; off < len(text); {
		i := strings.Index(text[off:], needle)
		if i < 0 {
			return false
		}
		start := off + i
		end := start + len(needle)
		if boundaryBefore(text, start) && (stem || boundaryAfter(text, end)) {
			return true
		}
		_, size := utf8.DecodeRuneInString(text[start:])
		off = start + size
	}
	return false
}

func boundaryBefore(text string, i int) bool {
	if i == 0 {
		return true
	}
	r, _ := utf8.DecodeLastRuneInString(text[:i])
	return !isWordRune(r)
}

func boundaryAfter(text string, i int) bool {
	if i >= len(text) {
		return true
	}
	r, _ := utf8.DecodeRuneInString(text[i:])
	return !isWordRune(r)
}

// matchTerms returns the terms found in text, in table order.
func matchTerms(text string, terms []string) []string {
	var out []string
	for _, t := range terms {
		if matchTerm(text, t) {
			out = append(out, t)
		}
	}
	return out
}

// containsAny reports the first phrase contained in text as a plain substring.
func containsAny(text string, phrases []string) (string, bool) {
	for _, p := range phrases {
		if strings.Contains(text, p) {
			return p, true
		}
	}
	return "", false
}

var intentKeywords = map[Intent][]string{
	IntentBilling: {
		"bill", "bills", "billing", "charge*", "invoice*", "payment*", "refund*",
		"overcharg*", "fee", "fees", "credit card", "statement*",
	},
	IntentTechnicalSupport: {
		"not working", "error*", "broken", "crash*", "bug*", "internet", "connection*",
		"wifi", "outage*", "router*", "install*", "device*", "slow", "technical",
	},
	IntentAccountManagement: {
		"account*", "password*", "username*", "login", "log in", "sign in", "profile*",
		"update my", "change my", "personal details",
	},
	IntentOrderStatus: {
		"order*", "delivery", "shipping", "shipped", "package*", "tracking", "arrive*", "delivered",
	},
	IntentComplaint: {
		"complain*", "worst", "terrible", "awful", "horrible", "unacceptable", "ridiculous",
		"disappointed", "poor service", "bad service", "sue", "sued", "suing", "lawyer*", "never again",
	},
	IntentCancellation: {
		"cancel*", "terminate*", "close my account", "end my subscription", "stop my service",
		"switch provider", "leaving", "unsubscribe*",
	},
	IntentFeedback: {
		"thanks", "thank you", "appreciate*", "feedback", "suggestion*", "helpful",
		"great job", "well done", "compliment*",
	},
	IntentGeneralInquiry: {
		"question*", "information", "hours", "how do i", "how can i", "what is", "where is",
		"do you offer", "wondering", "inquiry",
	},
}

// Closing phrases mean the customer is wrapping up satisfied.
var closingPhrases = []string{
	"that's all i needed", "that's all i need", "thanks so much", "thank you so much",
	"that solved it", "that fixed it", "problem solved", "that's perfect",
	"you've been very helpful", "you've been a great help", "all sorted", "that worked",
	"have a great day",
}

var unresolvedPhrases = []string{
	"still not working", "still broken", "still doesn't work", "still isn't", "still having",
	"still waiting", "didn't help", "did not help", "doesn't help", "not resolved",
	"same problem", "same issue", "nothing has changed", "called again", "again and again",
}

type weightedTerm struct {
	term   string
	weight float64
}

type emotionTable struct {
	emotion EmotionalState
	cap     float64
	terms   []weightedTerm
}

// emotionTables are listed in tie-break order.
var emotionTables = []emotionTable{
	{EmotionAngry, 0.90, []weightedTerm{
		{"furious", 2}, {"outraged", 2}, {"angry", 1.5}, {"livid", 2}, {"worst", 1.5},
		{"unacceptable", 1.5}, {"ridiculous", 1}, {"hate", 1.5}, {"disgusting", 1.5},
		{"sue", 1.5}, {"lawyer", 1}, {"how dare", 2}, {"incompetent", 1.5}, {"scam", 1.5},
	}},
	{EmotionFrustrated, 0.88, []weightedTerm{
		{"frustrat*", 1.5}, {"annoy*", 1}, {"fed up", 1.5}, {"tired of", 1},
		{"waste of time", 1.5}, {"again", 0.5}, {"keeps", 0.5}, {"still", 0.5}, {"hours", 0.5},
	}},
	{EmotionAnxious, 0.85, []weightedTerm{
		{"worried", 1.5}, {"anxious", 1.5}, {"nervous", 1.5}, {"scared", 1.5}, {"afraid", 1.5},
		{"urgent", 1}, {"emergency", 1.5}, {"asap", 1}, {"panic*", 1.5}, {"concerned", 1},
	}},
	{EmotionConfused, 0.75, []weightedTerm{
		{"confus*", 1.5}, {"don't understand", 1.5}, {"do not understand", 1.5}, {"unclear", 1},
		{"not sure", 1}, {"makes no sense", 1.5}, {"what does", 0.5}, {"how does", 0.5}, {"lost", 0.5},
	}},
	{EmotionSatisfied, 0.88, []weightedTerm{
		{"thank*", 1}, {"great", 1}, {"perfect", 1.5}, {"excellent", 1.5}, {"awesome", 1.5},
		{"appreciate*", 1}, {"helpful", 1}, {"happy", 1}, {"love", 1}, {"wonderful", 1.5},
	}},
}

var responseTemplates = map[Intent]string{
	IntentBilling:           "I can help with your billing question. Let me review the charges on your account and walk you through what I find.",
	IntentTechnicalSupport:  "Let's get this working again. I'll walk you through some troubleshooting steps, starting with restarting the affected device.",
	IntentAccountManagement: "I can help you with your account. For your security, I'll first need to verify a few details before making any changes.",
	IntentOrderStatus:       "Let me look up your order and check the latest delivery status for you.",
	IntentComplaint:         "Thank you for telling us about this. I'm documenting your complaint so it can be reviewed and addressed properly.",
	IntentCancellation:      "I can help with your cancellation request. Before I process it, may I ask what prompted the decision? There may be options that better fit your needs.",
	IntentFeedback:          "Thank you for your feedback, it really helps us improve. Is there anything else I can help you with today?",
	IntentGeneralInquiry:    "Happy to help with your question. Let me find the right information for you.",
	IntentUnknown:           "I want to make sure I understand what you need. Could you tell me a little more about what you're looking for help with?",
}

const closingTemplate = "You're very welcome! I'm glad I could help. Have a great day."

var empathyPrefixes = map[EmotionalState]string{
	EmotionAngry:      "I'm truly sorry for the trouble this has caused, and I understand how upsetting this is. ",
	EmotionFrustrated: "I understand how frustrating this must be, and I'm sorry for the inconvenience. ",
	EmotionAnxious:    "I understand this is worrying, and I'm here to help. ",
	EmotionConfused:   "No problem, let me explain this clearly. ",
}

var intentActions = map[Intent][]string{
	IntentBilling:           {"review_account_charges", "explain_billing_statement"},
	IntentTechnicalSupport:  {"run_troubleshooting", "check_service_status"},
	IntentAccountManagement: {"verify_identity", "update_account_details"},
	IntentOrderStatus:       {"lookup_order", "share_tracking_details"},
	IntentComplaint:         {"document_complaint", "offer_supervisor_callback"},
	IntentCancellation:      {"offer_retention_options", "process_cancellation_request"},
	IntentFeedback:          {"record_feedback"},
	IntentGeneralInquiry:    {"provide_information"},
	IntentUnknown:           {"ask_clarifying_question"},
}

// issueIntents open an unresolved issue when detected.
var issueIntents = map[Intent]bool{
	IntentComplaint:        true,
	IntentTechnicalSupport: true,
	IntentBilling:          true,
	IntentCancellation:     true,
}

// sensitiveTopics is scanned as substrings anchored at a word start, so every
// term also matches its inflections ("lawsuits", "sues"). "court" is left out
// on purpose: it matches too much ordinary speech.
var sensitiveTopics = []struct {
	topic string
	terms []string
}{
	{"legal", []string{"lawsuit", "sue", "suing", "lawyer", "attorney", "legal action"}},
	{"harassment", []string{"harass", "stalk", "threaten", "abuse"}},
	{"self_harm", []string{"suicid", "kill myself", "self-harm", "self harm", "hurt myself", "end my life"}},
	{"fraud", []string{"fraud", "scam", "identity theft", "stolen card", "unauthorized charge", "unauthorised"}},
	{"medical", []string{"medical", "hospital", "doctor", "medication", "disability"}},
	{"discrimination", []string{"discriminat", "racist", "sexist"}},
	{"data_breach", []string{"data breach", "hacked", "leaked my"}},
}

// sensitiveTermsIn returns the sensitive-topic terms found in normalized text.
func sensitiveTermsIn(text string, terms []string) []string {
	var out []string
	for _, t := range terms {
		if matchTerm(text, strings.TrimSuffix(t, "*")+"*") {
			out = append(out, t)
		}
	}
	return out
}

var prohibitedPhrases = []string{
	"guarantee", "always", "100%", "promise", "definitely", "never happen",
	"no risk", "risk-free", "legal advice", "certainly will",
}

var acknowledgmentPhrases = map[EmotionalState][]string{
	EmotionAngry:      {"sorry", "apologize", "apologise", "i understand", "understand how", "upsetting"},
	EmotionFrustrated: {"frustrat", "sorry", "understand", "inconvenience"},
	EmotionAnxious:    {"understand", "worry", "worried", "here to help", "reassure"},
}

var dismissivePhrases = []string{
	"calm down", "relax", "obviously", "as i said", "as i already", "you should have",
	"not my problem", "whatever", "you need to understand",
}

var supportivePhrases = []string{"sorry", "understand", "apolog", "help"}
