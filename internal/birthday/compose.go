package birthday

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/rs/zerolog"
)

// CongratsToken opens every reply.
const CongratsToken = "מזל טוב"

// Language tags reported by DetectLanguage.
const (
	LangHebrew  = "he"
	LangEnglish = "en"
	LangMixed   = "mixed"
)

// GeneratedReply is an assembled candidate reply.
type GeneratedReply struct {
	Text        string
	Body        string
	DisplayName string // "" when the generic address term was used
	Language    string
}

// Generator writes a reply body for the given name hint.
type Generator interface {
	GenerateBody(ctx context.Context, nameHint string) (string, error)
}

// Approver gives a holistic accept/reject on a fully assembled reply.
type Approver interface {
	Approve(ctx context.Context, text string) (bool, error)
}

// NameConfirmer double-checks that a string is a person's name.
type NameConfirmer interface {
	ConfirmName(ctx context.Context, name string) (bool, error)
}

// Replier produces a validated reply for a birthday person.
type Replier interface {
	Compose(ctx context.Context, name string) (GeneratedReply, error)
}

type ComposerOptions struct {
	MaxAttempts  int
	FallbackName string // generic address term
	Disclaimer   string
}

// Composer runs the generate-and-validate loop for birthday replies.
type Composer struct {
	gen       Generator
	approver  Approver
	confirmer NameConfirmer // optional
	opts      ComposerOptions
	log       zerolog.Logger
}

func NewComposer(gen Generator, approver Approver, confirmer NameConfirmer, opts ComposerOptions, log zerolog.Logger) *Composer {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.FallbackName == "" {
		opts.FallbackName = GenericTerms[0]
	}
	return &Composer{gen: gen, approver: approver, confirmer: confirmer, opts: opts, log: log}
}

var errEmptyBody = errors.New("generated body is empty")

// Compose returns the first candidate that passes validation, or a
// *ValidationExhaustedError.
func (c *Composer) Compose(ctx context.Context, name string) (GeneratedReply, error) {
	display := c.DisplayName(ctx, name)
	hint := display
	if hint == "" {
		hint = c.opts.FallbackName
	}

	generateOnce := func(ctx context.Context, attempt int) (GeneratedReply, error) {
		raw, err := c.gen.GenerateBody(ctx, hint)
		if err != nil {
			c.log.Warn().Err(err).Int("attempt", attempt).Msg("generation failed, using fallback body")
			raw = fallbackBodies[rand.IntN(len(fallbackBodies))]
		}
		body := CleanBody(raw, c.opts.Disclaimer, name, display, hint)
		body = ReplacePlaceholders(body, hint)
		if body == "" {
			return GeneratedReply{}, errEmptyBody
		}
		text := Assemble(display, body, c.opts.Disclaimer)
		return GeneratedReply{
			Text:        text,
			Body:        body,
			DisplayName: display,
			Language:    DetectLanguage(text),
		}, nil
	}

	reply, err := RunWithValidation(ctx, c.opts.MaxAttempts, generateOnce, c.Validate)
	if err != nil {
		return GeneratedReply{}, fmt.Errorf("compose reply: %w", err)
	}
	return reply, nil
}

// Validate applies structural checks and then the approver. Any approver
// failure rejects the candidate.
func (c *Composer) Validate(ctx context.Context, reply GeneratedReply) bool {
	if !strings.HasPrefix(reply.Text, CongratsToken) ||
		!strings.HasSuffix(reply.Text, c.opts.Disclaimer) ||
		ContainsPlaceholder(reply.Text) {
		return false
	}
	if c.approver == nil {
		return false
	}
	ok, err := c.approver.Approve(ctx, reply.Text)
	if err != nil {
		c.log.Warn().Err(err).Msg("approval failed, rejecting candidate")
		return false
	}
	return ok
}

// DisplayName returns the name to print, or "" to use the generic term.
func (c *Composer) DisplayName(ctx context.Context, name string) string {
	clean := CleanName(name)
	if clean == "" || clean == c.opts.FallbackName || IsGenericTerm(clean) || !PlausibleName(clean) {
		return ""
	}
	if c.confirmer == nil {
		return clean
	}
	ok, err := c.confirmer.ConfirmName(ctx, clean)
	if err != nil {
		c.log.Warn().Err(err).Str("name", clean).Msg("name confirmation failed, using generic term")
		return ""
	}
	if !ok {
		c.log.Info().Str("name", clean).Msg("name not confirmed, using generic term")
		return ""
	}
	return clean
}

// Assemble builds opening + body + disclaimer. Both openings start with
// CongratsToken.
func Assemble(displayName, body, disclaimer string) string {
	opening := CongratsToken + "! 🎂"
	if displayName != "" {
		opening = CongratsToken + " " + displayName + "! 🎂"
	}
	return opening + "\n" + strings.TrimSpace(body) + "\n\n" + disclaimer
}

var placeholderRe = regexp.MustCompile(`(?i)\[\s*(?:name|שם)\s*\]|\{\{?\s*(?:name|שם)\s*\}?\}`)

// ReplacePlaceholders substitutes [name] and {name} style tokens, in any
// case, with name. Applying it twice gives the same result as once.
func ReplacePlaceholders(body, name string) string {
	name = placeholderRe.ReplaceAllLiteralString(name, "")
	for i := 0; i < 4 && placeholderRe.MatchString(body); i++ {
		body = placeholderRe.ReplaceAllLiteralString(body, name)
	}
	if placeholderRe.MatchString(body) {
		body = placeholderRe.ReplaceAllLiteralString(body, "")
	}
	return body
}

// ContainsPlaceholder reports whether text still has a name token.
func ContainsPlaceholder(text string) bool {
	return placeholderRe.MatchString(text)
}

var greetingPrefixes = []string{
	"המון מזל טוב",
	CongratsToken,
	"מזלטוב",
	"יום הולדת שמח",
	"יומולדת שמח",
	"happy birthday",
	"happy bday",
}

const leadingJunk = " \t\r\n,.!:;-–—~*\"'״“”🎂🎉🥳🎈🎁❤️💙💖✨"

// CleanBody isolates the wish body: it drops wrapping quotes, any echoed
// greeting or name at the start and an echoed disclaimer.
func CleanBody(raw, disclaimer string, names ...string) string {
	s := strings.TrimSpace(raw)
	s = strings.Trim(s, "\"'“”")

	if disclaimer != "" {
		if i := strings.Index(s, disclaimer); i >= 0 {
			s = s[:i]
		}
	}
	if i := strings.Index(s, "גילוי נאות"); i >= 0 {
		s = s[:i]
	}
	return StripLeadingGreeting(s, names...)
}

// StripLeadingGreeting removes greetings and the given names from the
// start of body until none remain.
func StripLeadingGreeting(body string, names ...string) string {
	prefixes := append([]string(nil), greetingPrefixes...)
	for _, n := range names {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		prefixes = append(prefixes, "ל"+n, n)
	}

	s := strings.TrimLeft(body, leadingJunk)
	for changed := true; changed; {
		changed = false
		for _, p := range prefixes {
			if rest, ok := cutWordPrefixFold(s, p); ok {
				s = strings.TrimLeft(rest, leadingJunk)
				changed = true
			}
		}
	}
	return strings.TrimSpace(s)
}

// cutWordPrefixFold cuts prefix p from s, ignoring case, only when p ends
// at a word boundary.
func cutWordPrefixFold(s, p string) (string, bool) {
	if len(s) < len(p) || !strings.EqualFold(s[:len(p)], p) {
		return s, false
	}
	rest := s[len(p):]
	if r, _ := utf8.DecodeRuneInString(rest); rest != "" && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
		return s, false
	}
	return rest, true
}

// DetectLanguage tags text as Hebrew, English or mixed. Metadata only.
func DetectLanguage(text string) string {
	var hebrew, latin bool
	for _, r := range text {
		switch {
		case r >= 0x0590 && r <= 0x05FF:
			hebrew = true
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z'):
			latin = true
		}
	}
	switch {
	case hebrew && latin:
		return LangMixed
	case hebrew:
		return LangHebrew
	default:
		return LangEnglish
	}
}

var fallbackBodies = []string{
	"שתהיה לך שנה מלאה באושר, בריאות והמון רגעים טובים 🥳",
	"מאחלים לך שנה מדהימה, מלאה בצחוק ובהגשמת חלומות 🎉",
	"שכל המשאלות שלך יתגשמו השנה, ועוד קצת בונוס 🎈",
	"עד 120! שתהיה שנה של שמחה, אהבה והפתעות טובות ✨",
}
