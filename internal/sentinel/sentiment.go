package sentinel

import (
	"math"
	"strings"
)

// valence maps lowercased tokens to sentiment valences, roughly on the
// -4..+4 scale used by social-media sentiment lexicons. Sized for
// collections conversations, not general text.
var valence = map[string]float64{
	// positive
	"thanks": 1.9, "thank": 1.9, "appreciate": 2.0, "great": 3.1,
	"good": 1.9, "happy": 2.7, "glad": 2.0, "promise": 1.3,
	"agree": 1.5, "agreed": 1.5, "resolve": 1.4, "resolved": 1.6,
	"settle": 1.0, "plan": 0.8, "help": 1.7, "helpful": 1.9,
	"sure": 1.3, "yes": 1.1, "ok": 0.9, "okay": 0.9, "fine": 0.8,
	"sorry": 0.5, "apologize": 0.7, "cooperate": 1.6,

	// negative
	"angry": -2.3, "furious": -3.0, "hate": -2.7, "harass": -3.0,
	"harassment": -3.0, "threat": -2.6, "threaten": -2.6, "sue": -1.8,
	"lawyer": -0.9, "scam": -2.9, "fraud": -2.8, "lie": -2.3,
	"lying": -2.3, "liar": -2.7, "stupid": -2.4, "idiot": -2.6,
	"never": -1.2, "refuse": -1.8, "won't": -1.1, "cannot": -0.9,
	"can't": -0.9, "no": -0.7, "not": -0.6, "stop": -1.2,
	"wrong": -1.6, "unfair": -2.0, "ridiculous": -2.2, "worst": -2.9,
	"terrible": -2.6, "awful": -2.5, "disgusting": -2.8, "broke": -1.4,
	"unemployed": -1.5, "struggling": -1.7, "arrest": -2.4, "jail": -2.5,
	"police": -1.6, "warrant": -2.0,
}

// normalization constant for the compound score, matching the standard
// alpha used by compound sentiment scorers.
const sentimentAlpha = 15.0

// compoundSentiment computes a compound score in [-1, 1] from summed token
// valences, normalized by sum/sqrt(sum^2+alpha).
func compoundSentiment(text string) float64 {
	var sum float64
	for _, tok := range tokenize(text) {
		if v, ok := valence[tok]; ok {
			sum += v
		}
	}
	if sum == 0 {
		return 0
	}
	compound := sum / math.Sqrt(sum*sum+sentimentAlpha)
	return math.Round(compound*100) / 100
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '\'':
			return false
		}
		return true
	})
}
