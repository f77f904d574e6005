package birthday

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// MinNameLength is the shortest accepted name, in characters.
const MinNameLength = 2

// GenericTerms are terms of endearment that people use instead of a name.
var GenericTerms = []string{
	"נשמה", "חבר", "חברה", "יקיר", "יקירה", "מלך", "מלכה", "גבר", "אח", "אחי",
}

// fillerWords commonly follow a congratulation phrase but are not names.
var fillerWords = []string{
	"גדול", "גדולה", "ענק", "ענקית", "רב", "שוב", "גם", "עוד", "נוסף", "היום", "שמח", "שמחה",
	"לך", "לכם", "לכן", "לכולם", "כולם", "כולכם", "לו", "לה", "מכולנו", "מהלב", "וגם", "ובנוסף", "עד", "ועד",
	// other occasions: "מזל טוב על ההריון", "מזל טוב לזוג המאושר", "מזל טוב לרגל..."
	"על", "בהצלחה", "זוג", "הזוג", "הורים", "ההורים", "חתן", "כלה", "רגל", "לרגל",
	"to", "To", "you", "You", "all", "All", "everyone", "Everyone", "again", "Again",
	"and", "the", "The", "my", "My", "our", "Our", "too", "also",
	"dear", "Dear", "bro", "Bro", "buddy", "Buddy", "friend", "Friend", "man", "Man",
	"king", "King", "queen", "Queen", "guys", "Guys", "team", "Team",
}

var denylist = func() map[string]struct{} {
	m := make(map[string]struct{}, len(GenericTerms)+len(fillerWords))
	for _, w := range GenericTerms {
		m[w] = struct{}{}
	}
	for _, w := range fillerWords {
		m[w] = struct{}{}
	}
	return m
}()

// namePatterns are tried in order, most specific first.
var namePatterns = []*regexp.Regexp{
	regexp.MustCompile(`המון\s+מזל\s*טוב\s+ל([א-ת]+)`),
	regexp.MustCompile(`המון\s+מזל\s*טוב\s+([א-ת]+)`),
	regexp.MustCompile(`מזל\s*טוב\s+ל([א-ת]+)`),
	regexp.MustCompile(`מזל\s*טוב\s+([א-ת]+)`),
	regexp.MustCompile(`מזל\s*טוב\s+([A-Za-z]+)`),
	regexp.MustCompile(`יום\s*הולדת\s+שמח\s+ל([א-ת]+)`),
	regexp.MustCompile(`(?i)happy\s+(?:birthday|bday|b-day)\s*,?\s+(?:to\s+)?([a-z]+)`),
	regexp.MustCompile(`(?i)\bhbd\s+([a-z]+)`),
}

var phoneNumberRe = regexp.MustCompile(`^\+?\d{10,}$`)

// ExtractCandidateName pulls a person name out of a congratulation phrase
// using the ordered patterns. It returns "" when nothing usable is found.
func ExtractCandidateName(text string) string {
	for _, re := range namePatterns {
		m := re.FindStringSubmatch(text)
		if len(m) < 2 {
			continue
		}
		candidate := strings.TrimSpace(m[1])
		if !IsUsableName(candidate) {
			continue
		}
		// "לאחי" is "to my brother", not a name.
		if rest, ok := strings.CutPrefix(candidate, "ל"); ok && isDenied(rest) {
			continue
		}
		return candidate
	}
	return ""
}

// IsUsableName reports whether candidate can be used as the birthday
// person's name.
func IsUsableName(candidate string) bool {
	name := strings.TrimSpace(candidate)
	if name == "" {
		return false
	}
	if isDenied(name) {
		return false
	}
	return utf8.RuneCountInString(name) >= MinNameLength
}

// IsGenericTerm reports whether name is a term of endearment.
func IsGenericTerm(name string) bool {
	name = strings.TrimSpace(name)
	for _, g := range GenericTerms {
		if name == g {
			return true
		}
	}
	return false
}

func isDenied(name string) bool {
	_, ok := denylist[name]
	return ok
}

// CleanName normalizes a raw name from a classifier or a mention: it drops
// a leading @, surrounding quotes and bare phone numbers.
func CleanName(raw string) string {
	name := strings.TrimSpace(raw)
	name = strings.TrimPrefix(name, "@")
	name = strings.Trim(name, "\"'`״׳“”‘’ ")
	if phoneNumberRe.MatchString(name) {
		return ""
	}
	return name
}

// PlausibleName is the stricter check applied before a name is printed in
// a reply: usable, letters only (plus spaces, hyphens and apostrophes),
// at most three words and forty characters.
func PlausibleName(name string) bool {
	name = strings.TrimSpace(name)
	if !IsUsableName(name) {
		return false
	}
	if utf8.RuneCountInString(name) > 40 || len(strings.Fields(name)) > 3 {
		return false
	}
	letters := 0
	for _, r := range name {
		switch {
		case unicode.IsLetter(r):
			letters++
		case unicode.Is(unicode.Mn, r), unicode.IsSpace(r):
		case strings.ContainsRune("-'\"׳״’", r):
		default:
			return false
		}
	}
	return letters >= MinNameLength
}

var additionalBirthdayPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)וגם\s*(מזל טוב|יום הולדת|birthday)`),
	regexp.MustCompile(`ובנוסף\s*(מזל טוב|יום הולדת)`),
	regexp.MustCompile(`גם\s*היום\s*יום הולדת`),
	regexp.MustCompile(`עוד\s*יום הולדת`),
	regexp.MustCompile(`יום הולדת\s*נוסף`),
	regexp.MustCompile(`(?i)and\s*also\s*(happy\s*)?birthday`),
	regexp.MustCompile(`(?i)another\s*birthday`),
	regexp.MustCompile(`בנוסף.*יום הולדת`),
	regexp.MustCompile(`יום הולדת.*בנוסף`),
}

// HasAdditionalBirthdayMarker reports whether text explicitly announces a
// second birthday on the same day.
func HasAdditionalBirthdayMarker(text string) bool {
	for _, re := range additionalBirthdayPatterns {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}
