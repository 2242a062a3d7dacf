package classification

import (
	"responder_server/core/domain"
	"responder_server/core/service/language"
)

// formalOverrideThreshold: at this raw formal score the message is a
// formal or legal communication no matter what the other dimensions
// accumulated, and gets routed accordingly.
const formalOverrideThreshold = 4.0

// Hint blending thresholds. A remote hint carrying full dimensions
// replaces the local scan outright only above the lower bar; a
// category-only hint needs the higher bar before it may boost a
// dimension.
const (
	hintReplaceConfidence = 0.6
	hintBoostConfidence   = 0.75
)

const (
	typeThreshold        = 0.6 // primary-type table entry bar
	mixedThreshold       = 0.4 // dimensions counted toward "mixed"
	lowConfidenceCutoff  = 0.35
	shortTextChars       = 80
	scanTruncateAt       = 3000
	scanKeepHead         = 1500
	scanKeepTail         = 1500
	maxMatchContribution = 0.4
	maxGapContribution   = 0.2
)

// LocalVerdict is the outcome of the on-process pattern scan, before
// any blending with the model hint.
type LocalVerdict struct {
	Raw        domain.Dimensions  `json:"raw"`
	Normalized domain.Dimensions  `json:"normalized"`
	MatchCount int                `json:"match_count"`
	TextLength int                `json:"text_length"`
	SubIntents []domain.SubIntent `json:"sub_intents,omitempty"`
	Language   domain.Language    `json:"language"`
	Category   domain.Category    `json:"category"`
}

// Classifier merges the local pattern scan with the remote quick-check
// hint into one verdict.
type Classifier struct {
	prefilter *Prefilter
}

func NewClassifier() *Classifier {
	return &Classifier{prefilter: NewPrefilter()}
}

// Analyze runs the full local scan over the extracted main content.
// Long bodies keep head and tail: the opening states the request, the
// closing carries the signature and the concrete ask, the middle is
// usually quoted boilerplate.
func (c *Classifier) Analyze(subject, content string) LocalVerdict {
	text := truncateSmart(subject + "\n" + content)
	raw, hits := ScanDimensions(text)

	verdict := c.prefilter.Classify(subject, content, false)
	cat := verdict.Category
	if cat == "" {
		cat = domain.CategoryOther
	}

	return LocalVerdict{
		Raw: raw,
		Normalized: domain.Dimensions{
			Technical: Normalize(raw.Technical),
			Pastoral:  Normalize(raw.Pastoral),
			Doctrinal: Normalize(raw.Doctrinal),
			Formal:    Normalize(raw.Formal),
		},
		MatchCount: hits,
		TextLength: len([]rune(text)),
		SubIntents: ScanSubIntents(content),
		Language:   language.Detect(subject + "\n" + content),
		Category:   cat,
	}
}

func truncateSmart(text string) string {
	r := []rune(text)
	if len(r) <= scanTruncateAt {
		return text
	}
	return string(r[:scanKeepHead]) + " ... " + string(r[len(r)-scanKeepTail:])
}

// Resolve blends the local verdict with the remote quick-check.
//
// Policy: an exotic remote always wins; a confident remote carrying
// dimensions replaces the local scan; a very confident category-only
// hint boosts the matching dimension; everything else keeps the local
// scan. The final type, confidence and safety flags are recomputed
// over whichever dimensions survived the blend.
func (c *Classifier) Resolve(local LocalVerdict, remote *domain.QuickCheck) domain.QuickCheck {
	if remote != nil && remote.Exotic {
		return *remote
	}

	dims := local.Normalized
	source := domain.SourceRegex
	hinted := false

	if remote != nil {
		hasDims := remote.Dimensions != (domain.Dimensions{})
		switch {
		case hasDims && remote.Confidence >= hintReplaceConfidence:
			dims = remote.Dimensions
			source = domain.SourceLLM
			hinted = true
		case remote.Category != "" && remote.Confidence >= hintBoostConfidence:
			if boostDimension(&dims, remote.Category) {
				source = domain.SourceHybrid
				hinted = true
			}
		}
	}

	reqType := primaryType(dims, local.Raw.Formal)
	conf, flags := gradeVerdict(dims, local, hinted)

	if conf < lowConfidenceCutoff && reqType != domain.TypeFormal && !hinted {
		reqType = domain.TypeTechnical
		flags = append(flags, domain.FlagDowngraded)
	}

	merged := domain.QuickCheck{
		ReplyNeeded: true,
		Language:    local.Language,
		Category:    local.Category,
		Type:        reqType,
		Dimensions:  dims,
		SubIntents:  local.SubIntents,
		Confidence:  conf,
		Source:      source,
		Flags:       flags,
		Reason:      "local_only",
	}
	if remote != nil {
		merged.ReplyNeeded = remote.ReplyNeeded
		if remote.Category != "" {
			merged.Category = remote.Category
		}
		merged.Topic = remote.Topic
		merged.Reason = remote.Reason
		if remote.Language != "" {
			merged.Language = remote.Language
		}
		merged.SubIntents = unionSubIntents(local.SubIntents, remote.SubIntents)
	}

	attachGuidance(&merged, dims)
	return merged
}

// primaryType walks the priority table over the normalized dimensions.
// The order matters: a formal or doctrinal reading takes precedence
// over a pastoral one at equal strength, because misrouting a legal
// notice costs more than misrouting a prayer request. A raw formal
// score past the override threshold short-circuits the table.
func primaryType(dims domain.Dimensions, rawFormal float64) domain.RequestType {
	if rawFormal >= formalOverrideThreshold {
		return domain.TypeFormal
	}
	switch {
	case dims.Formal >= typeThreshold:
		return domain.TypeFormal
	case dims.Doctrinal >= typeThreshold:
		return domain.TypeDoctrinal
	case dims.Pastoral >= typeThreshold && dims.Pastoral > dims.Technical:
		return domain.TypePastoral
	case dims.Technical >= typeThreshold:
		return domain.TypeTechnical
	}
	active := 0
	for _, v := range []float64{dims.Technical, dims.Pastoral, dims.Doctrinal, dims.Formal} {
		if v > mixedThreshold {
			active++
		}
	}
	if active >= 2 {
		return domain.TypeMixed
	}
	return domain.TypeTechnical
}

// gradeVerdict computes the confidence score and the safety flags.
//
// Confidence starts from a 0.2 baseline, grows with the number of
// pattern hits and with the gap between the top two dimensions, gains
// a bonus for a saturated dominant dimension, loses one for very short
// text, and is floored at 0.7 when an external hint was blended in.
func gradeVerdict(dims domain.Dimensions, local LocalVerdict, hinted bool) (float64, []string) {
	var flags []string

	_, top := dims.Max()
	gap := top - runnerUp(dims)

	conf := 0.2
	if m := float64(local.MatchCount) / 6.0; m < maxMatchContribution {
		conf += m
	} else {
		conf += maxMatchContribution
	}
	if g := gap / 0.5; g < maxGapContribution {
		conf += g
	} else {
		conf += maxGapContribution
	}
	if top >= 0.8 {
		conf += 0.1
	}
	if local.TextLength < shortTextChars {
		conf -= 0.1
		flags = append(flags, domain.FlagShortText)
	}
	if local.MatchCount == 0 {
		flags = append(flags, domain.FlagLowSignal)
	}
	if gap < 0.2 && top > 0.3 {
		flags = append(flags, domain.FlagAmbiguous)
	}
	if hinted {
		flags = append(flags, domain.FlagExternalHint)
		if conf < 0.7 {
			conf = 0.7
		}
	}
	if conf < 0.1 {
		conf = 0.1
	}
	if conf > 1.0 {
		conf = 1.0
	}
	if conf < lowConfidenceCutoff {
		flags = append(flags, domain.FlagLowConfidence)
	}
	return conf, flags
}

// boostDimension lifts the dimension a category hint points at to 0.8
// unless it already scored higher. Returns false for categories with
// no dimensional reading.
func boostDimension(dims *domain.Dimensions, cat domain.Category) bool {
	lift := func(v *float64) bool {
		if *v < 0.8 {
			*v = 0.8
		}
		return true
	}
	switch cat {
	case domain.CategoryAppointment, domain.CategoryInformation,
		domain.CategoryQuotation, domain.CategoryCollaboration:
		return lift(&dims.Technical)
	case domain.CategorySacrament:
		return lift(&dims.Doctrinal)
	case domain.CategoryComplaint, domain.CategorySbattezzo:
		return lift(&dims.Formal)
	default:
		return false
	}
}

// attachGuidance derives the prompt-steering fields from the final
// dimensions.
func attachGuidance(qc *domain.QuickCheck, dims domain.Dimensions) {
	_, top := dims.Max()
	active := 0
	for _, v := range []float64{dims.Technical, dims.Pastoral, dims.Doctrinal, dims.Formal} {
		if v > 0.2 {
			active++
		}
	}

	switch {
	case active >= 3 || top > 0.8:
		qc.Complexity = "alta"
	case active == 2:
		qc.Complexity = "media"
	default:
		qc.Complexity = "bassa"
	}

	switch {
	case dims.Pastoral > 0.7:
		qc.EmotionalLoad = "alta"
	case dims.Pastoral > 0.4:
		qc.EmotionalLoad = "media"
	default:
		qc.EmotionalLoad = "bassa"
	}

	switch {
	case dims.Pastoral > dims.Technical && dims.Pastoral > 0:
		qc.SuggestedTone = "empatico e accogliente"
	case dims.Formal > 0.5:
		qc.SuggestedTone = "istituzionale e neutro"
	case dims.Doctrinal > 0.5:
		qc.SuggestedTone = "istruttivo e chiaro"
	case qc.Complexity == "alta":
		qc.SuggestedTone = "strutturato e dettagliato"
	default:
		qc.SuggestedTone = "professionale"
	}

	qc.NeedsDiscernment = dims.Pastoral > 0.3 || qc.Type == domain.TypeMixed
	qc.NeedsDoctrine = dims.Doctrinal > 0.3 ||
		(dims.Doctrinal > 0 && qc.Type != domain.TypeTechnical)
}

func runnerUp(d domain.Dimensions) float64 {
	dominant, _ := d.Max()
	best := 0.0
	for name, val := range map[string]float64{
		"technical": d.Technical,
		"pastoral":  d.Pastoral,
		"doctrinal": d.Doctrinal,
		"formal":    d.Formal,
	} {
		if name != dominant && val > best {
			best = val
		}
	}
	return best
}

func unionSubIntents(a, b []domain.SubIntent) []domain.SubIntent {
	seen := make(map[domain.SubIntent]bool, len(a)+len(b))
	var out []domain.SubIntent
	for _, s := range append(append([]domain.SubIntent{}, a...), b...) {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}
