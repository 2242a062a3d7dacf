package domain

import "strings"

// Language is the detected language of an inbound message.
type Language string

const (
	LangItalian Language = "it"
	LangEnglish Language = "en"
	LangSpanish Language = "es"
)

// Category is the coarse intent of an inbound message.
type Category string

const (
	CategoryAppointment   Category = "appointment"
	CategoryInformation   Category = "information"
	CategorySacrament     Category = "sacrament"
	CategoryCollaboration Category = "collaboration"
	CategoryComplaint     Category = "complaint"
	CategoryQuotation     Category = "quotation"
	CategorySbattezzo     Category = "sbattezzo"
	CategoryOther         Category = "other"
)

// SubIntent flags emotionally sensitive content that changes response tone.
type SubIntent string

const (
	SubIntentEmotionalDistress SubIntent = "emotional_distress"
	SubIntentGratitude         SubIntent = "gratitude"
	SubIntentBereavement       SubIntent = "bereavement"
	SubIntentConfusion         SubIntent = "confusion"
)

// RequestType is the primary reading of an inbound message, derived
// from the normalized dimensions. Mixed marks a message that spreads
// over several dimensions without a clear winner.
type RequestType string

const (
	TypeTechnical RequestType = "technical"
	TypePastoral  RequestType = "pastoral"
	TypeDoctrinal RequestType = "doctrinal"
	TypeFormal    RequestType = "formal"
	TypeMixed     RequestType = "mixed"
)

// Classification sources: which signal produced the final dimensions.
const (
	SourceRegex  = "regex"  // local pattern scan only
	SourceLLM    = "llm"    // model hint replaced the dimensions
	SourceHybrid = "hybrid" // model category hint boosted one dimension
)

// Safety flags attached to a verdict when the signal is weak or the
// reading uncertain.
const (
	FlagLowSignal     = "low_signal"
	FlagShortText     = "short_text"
	FlagAmbiguous     = "ambiguous"
	FlagLowConfidence = "low_confidence"
	FlagExternalHint  = "external_hint"
	FlagDowngraded    = "low_confidence_downgrade"
)

// Dimensions are the four weighted axes of the content classifier.
// Raw values are unbounded accumulations of pattern weights; Normalized
// values are scaled into [0,1].
type Dimensions struct {
	Technical float64 `json:"technical"`
	Pastoral  float64 `json:"pastoral"`
	Doctrinal float64 `json:"doctrinal"`
	Formal    float64 `json:"formal"`
}

// Max returns the name and value of the dominant dimension.
func (d Dimensions) Max() (string, float64) {
	name, val := "technical", d.Technical
	if d.Pastoral > val {
		name, val = "pastoral", d.Pastoral
	}
	if d.Doctrinal > val {
		name, val = "doctrinal", d.Doctrinal
	}
	if d.Formal > val {
		name, val = "formal", d.Formal
	}
	return name, val
}

// QuickCheck is the verdict of the cheap pre-screening pass, merging
// the local pattern scan with the model hint.
type QuickCheck struct {
	ReplyNeeded bool        `json:"reply_needed"`
	Language    Language    `json:"language"`
	Category    Category    `json:"category"`
	Type        RequestType `json:"type,omitempty"`
	Dimensions  Dimensions  `json:"dimensions"`
	SubIntents  []SubIntent `json:"sub_intents,omitempty"`
	Topic       string      `json:"topic,omitempty"`
	Confidence  float64     `json:"confidence"`
	Source      string      `json:"source,omitempty"` // regex, llm or hybrid
	Flags       []string    `json:"flags,omitempty"`
	Reason      string      `json:"reason,omitempty"`
	Exotic      bool        `json:"exotic,omitempty"` // remote flagged out-of-scope content

	// Derived guidance for the generation prompt.
	Complexity       string `json:"complexity,omitempty"`     // bassa, media, alta
	EmotionalLoad    string `json:"emotional_load,omitempty"` // bassa, media, alta
	SuggestedTone    string `json:"suggested_tone,omitempty"`
	NeedsDiscernment bool   `json:"needs_discernment,omitempty"`
	NeedsDoctrine    bool   `json:"needs_doctrine,omitempty"`
}

// HasFlag reports whether a safety flag was attached to the verdict.
func (q *QuickCheck) HasFlag(flag string) bool {
	for _, f := range q.Flags {
		if f == flag {
			return true
		}
	}
	return false
}

// HasSubIntent reports whether the given sensitive flag was detected.
func (q *QuickCheck) HasSubIntent(s SubIntent) bool {
	for _, v := range q.SubIntents {
		if v == s {
			return true
		}
	}
	return false
}

// SimpleVerdict is the outcome of the zero-cost structural pre-filter
// that runs before any model call.
type SimpleVerdict struct {
	NeedsAI    bool     `json:"needs_ai"`
	Reply      bool     `json:"reply"` // meaningful only when NeedsAI is false
	Category   Category `json:"category,omitempty"`
	Confidence float64  `json:"confidence"`
	Reason     string   `json:"reason"`
}

// ParseCategory maps a free-form category string to a known Category,
// defaulting to other.
func ParseCategory(s string) Category {
	switch Category(strings.ToLower(strings.TrimSpace(s))) {
	case CategoryAppointment, CategoryInformation, CategorySacrament,
		CategoryCollaboration, CategoryComplaint, CategoryQuotation,
		CategorySbattezzo:
		return Category(strings.ToLower(strings.TrimSpace(s)))
	default:
		return CategoryOther
	}
}

// ParseLanguage maps a language code to a supported Language,
// defaulting to Italian.
func ParseLanguage(s string) Language {
	switch Language(strings.ToLower(strings.TrimSpace(s))) {
	case LangEnglish:
		return LangEnglish
	case LangSpanish:
		return LangSpanish
	default:
		return LangItalian
	}
}
