package classification

import (
	"regexp"

	"responder_server/core/domain"
)

// indicator is one weighted pattern feeding a content dimension.
type indicator struct {
	re     *regexp.Regexp
	weight float64
}

// maxIndicatorScans bounds pattern evaluation per message so crafted
// input cannot turn the scan quadratic.
const maxIndicatorScans = 200

var technicalIndicators = []indicator{
	{regexp.MustCompile(`(?i)\borari\b|\borario\b`), 2.0},
	{regexp.MustCompile(`(?i)\bcertificat[oi]\b`), 2.5},
	{regexp.MustCompile(`(?i)\bdocument[oi]\b`), 2.0},
	{regexp.MustCompile(`(?i)\bmodul[oi]\b`), 2.0},
	{regexp.MustCompile(`(?i)\bprenotazion[ei]\b|\bprenotare\b`), 2.0},
	{regexp.MustCompile(`(?i)\bufficio\b|\bsegreteria\b`), 1.5},
	{regexp.MustCompile(`(?i)\bcosto\b|\bprezzo\b|\btariffa\b|\bpreventivo\b`), 2.0},
	{regexp.MustCompile(`(?i)\bindirizzo\b|\bterritorio\b|\bparrocchia di\b`), 1.5},
	{regexp.MustCompile(`(?i)\bquando\b|\ba che ora\b`), 1.0},
	{regexp.MustCompile(`(?i)\bschedule\b|\bcertificate\b|\bbooking\b`), 2.0},
}

var pastoralIndicators = []indicator{
	{regexp.MustCompile(`(?i)\bconfort[oa]\b|\bconsolazione\b`), 3.0},
	{regexp.MustCompile(`(?i)\blutto\b|\bscompars[oa]\b|\bvenut[oa] a mancare\b`), 3.5},
	{regexp.MustCompile(`(?i)\bmalat[oa]\b|\bmalattia\b|\bospedale\b`), 2.5},
	{regexp.MustCompile(`(?i)\bpregare\b|\bpreghiera\b|\bpreghiere\b`), 2.0},
	{regexp.MustCompile(`(?i)\bsolitudine\b|\bsol[oa] \b|\bdisperazion\b`), 2.5},
	{regexp.MustCompile(`(?i)\bconsiglio spirituale\b|\bdirezione spirituale\b`), 3.0},
	{regexp.MustCompile(`(?i)\bconfessione\b|\bconfessarmi\b`), 2.5},
	{regexp.MustCompile(`(?i)\bgrief\b|\bmourning\b|\bcomfort\b`), 3.0},
	{regexp.MustCompile(`(?i)\bdifficolt[àa]\b|\bmomento difficile\b`), 2.0},
}

var doctrinalIndicators = []indicator{
	{regexp.MustCompile(`(?i)\bdottrina\b|\bcatechismo\b`), 3.0},
	{regexp.MustCompile(`(?i)\bteologia\b|\bteologic[oa]\b`), 3.0},
	{regexp.MustCompile(`(?i)\bsacra scrittura\b|\bvangelo\b|\bbibbia\b`), 2.5},
	{regexp.MustCompile(`(?i)\bperch[ée] la chiesa\b`), 2.5},
	{regexp.MustCompile(`(?i)\bpeccato\b|\bassoluzione\b`), 2.0},
	{regexp.MustCompile(`(?i)\bmagistero\b|\benciclica\b`), 3.0},
	{regexp.MustCompile(`(?i)\bdoctrine\b|\btheology\b|\bscripture\b`), 3.0},
	{regexp.MustCompile(`(?i)\bsbattezzo\b|\bapostasia\b`), 2.5},
}

var formalIndicators = []indicator{
	{regexp.MustCompile(`(?i)\begregio\b|\bspettabile\b|\bill\.mo\b`), 2.0},
	{regexp.MustCompile(`(?i)\bdistinti saluti\b|\bin fede\b`), 2.0},
	{regexp.MustCompile(`(?i)\bcon la presente\b|\bsi richiede\b`), 2.5},
	{regexp.MustCompile(`(?i)\bdiffida\b|\bavvocato\b|\blegale\b`), 3.0},
	{regexp.MustCompile(`(?i)\bprotocollo\b|\bistanza\b|\bricorso\b`), 2.5},
	{regexp.MustCompile(`(?i)\bai sensi\b|\bart\. \d+\b|\bgdpr\b`), 3.0},
	{regexp.MustCompile(`(?i)\bto whom it may concern\b`), 2.0},
}

var subIntentIndicators = map[domain.SubIntent][]*regexp.Regexp{
	domain.SubIntentBereavement: {
		regexp.MustCompile(`(?i)\blutto\b|\bfunerale\b|\bdecedut[oa]\b`),
		regexp.MustCompile(`(?i)\bvenut[oa] a mancare\b|\bscompars[oa]\b`),
		regexp.MustCompile(`(?i)\bpassed away\b|\bfallecid[oa]\b`),
	},
	domain.SubIntentEmotionalDistress: {
		regexp.MustCompile(`(?i)\bdisperat[oa]\b|\bnon ce la faccio\b`),
		regexp.MustCompile(`(?i)\bangoscia\b|\bdepression[e]?\b`),
		regexp.MustCompile(`(?i)\bhelp me\b|\bdesperate\b`),
	},
	domain.SubIntentGratitude: {
		regexp.MustCompile(`(?i)\bgrazie di cuore\b|\bgratitudine\b`),
		regexp.MustCompile(`(?i)\bthank you so much\b|\bmuy agradecid[oa]\b`),
	},
	domain.SubIntentConfusion: {
		regexp.MustCompile(`(?i)\bnon ho capito\b|\bnon capisco\b|\bconfus[oa]\b`),
		regexp.MustCompile(`(?i)\bi don'?t understand\b|\bno entiendo\b`),
	},
}

// ScanDimensions runs the weighted pattern scan and returns the raw
// accumulated scores per dimension plus the total number of pattern
// hits. The hit count feeds the confidence formula: a verdict built
// from one lucky match is worth less than one built from six.
func ScanDimensions(text string) (domain.Dimensions, int) {
	var d domain.Dimensions
	scans, hits := 0, 0
	score := func(inds []indicator) float64 {
		total := 0.0
		for _, ind := range inds {
			if scans >= maxIndicatorScans {
				break
			}
			scans++
			n := len(ind.re.FindAllStringIndex(text, 5))
			hits += n
			total += float64(n) * ind.weight
		}
		return total
	}
	d.Technical = score(technicalIndicators)
	d.Pastoral = score(pastoralIndicators)
	d.Doctrinal = score(doctrinalIndicators)
	d.Formal = score(formalIndicators)
	return d, hits
}

// ScanSubIntents detects emotionally sensitive flags.
func ScanSubIntents(text string) []domain.SubIntent {
	var out []domain.SubIntent
	ordered := []domain.SubIntent{
		domain.SubIntentBereavement,
		domain.SubIntentEmotionalDistress,
		domain.SubIntentGratitude,
		domain.SubIntentConfusion,
	}
	for _, si := range ordered {
		for _, re := range subIntentIndicators[si] {
			if re.MatchString(text) {
				out = append(out, si)
				break
			}
		}
	}
	return out
}

// saturationPoint is the raw score at which a dimension is considered
// fully expressed.
const saturationPoint = 5.0

// Normalize scales a raw dimension score into [0,1], saturating at the
// saturation point: five weight units of evidence already mean "this
// dimension is fully present", more matches add nothing.
func Normalize(raw float64) float64 {
	if raw <= 0 {
		return 0
	}
	if raw >= saturationPoint {
		return 1.0
	}
	return raw / saturationPoint
}
