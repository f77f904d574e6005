package birthday

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// relevanceKeywords are matched as substrings of the normalized message.
var relevanceKeywords = []string{
	"birthday",
	"bday",
	"b-day",
	"b day",
	"hbd",
	"יום הולדת",
	"יום-הולדת",
	"יומולדת",
	"הולדת",
	"מזל טוב",
	"מזלטוב",
	"מזל-טוב",
	"🎂",
	"🎈",
	"🎉",
	"🥳",
	"🎁",
	"🍰",
	"🧁",
}

// MightBeRelevant reports whether text could be a birthday message and is
// worth a classifier call. It errs on the side of true.
func MightBeRelevant(text string) bool {
	normalized := normalizeText(text)
	if normalized == "" {
		return false
	}
	for _, kw := range relevanceKeywords {
		if strings.Contains(normalized, kw) {
			return true
		}
	}
	return false
}

// normalizeText applies NFKC, case folding and whitespace collapsing.
func normalizeText(text string) string {
	s := norm.NFKC.String(text)
	s = cases.Fold().String(s)
	return strings.Join(strings.Fields(s), " ")
}
