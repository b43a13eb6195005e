package classify

import (
	"regexp"
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/ircwarden/warden/warden/engine"
)

var phonePatterns = []*regexp.Regexp{
	regexp.MustCompile(`0[1-9](?:\s+\d{2}){4}`),
	regexp.MustCompile(`0[1-9](?:\.\d{2}){4}`),
	regexp.MustCompile(`0[1-9](?:-\d{2}){4}`),
	regexp.MustCompile(`0[1-9](?:[_/]\d{2}){4}`),
	regexp.MustCompile(`0[1-9]\d{8}`),
	regexp.MustCompile(`0[1-9]\s*\d{2}\s*\d{2}\s*\d{2}\s*\d{2}`),
	regexp.MustCompile(`\(0[1-9]\)\s*(?:\d{2}\s*){3}\d{2}`),
	regexp.MustCompile(`\+33\s*[1-9](?:[\s.-]*\d{2}){4}`),
	regexp.MustCompile(`0033\s*[1-9](?:[\s.-]*\d{2}){4}`),
	// premium short numbers
	regexp.MustCompile(`\b36(?:15|17|18|20|24|28|29)\b`),
	regexp.MustCompile(`\+\d{2,3}\s*\d{6,12}`),
}

// Checked against the start of the matched number.
var phoneExceptions = []*regexp.Regexp{
	regexp.MustCompile(`^(19|20)\d{2}$`),
	regexp.MustCompile(`^[0-2]\d:[0-5]\d`),
	regexp.MustCompile(`(?i)^\d+\s*(euros?|€|francs?|dollars?|usd)`),
}

var phoneURL = regexp.MustCompile(`(?i)(https?://|www\.)\S+|[a-z0-9.-]+\.(fr|com|net|org)\S*`)

// Words near a number that make it something other than a phone number.
var phoneFalseContexts = []string{
	"année", "annee", "an ", " ans", "depuis", "en 19", "en 20", "vers 19", "vers 20",
	"heures", "heure", "h ", " h:",
	"prix", "euro", "€", "coût", "cout", "tarif",
	"page", "ligne", "article", "référence", "reference", "ref ",
}

const phoneContextRunes = 20

// Detects French (0X, +33, 0033) and international (+CC) phone numbers. Numbers are
// returned digits only, French international forms folded to the 0X form.
type PhoneNumberDetector struct{}

var _ engine.PhoneDetector = PhoneNumberDetector{}

type phoneHit struct {
	start, end int
	raw        string
}

func (d PhoneNumberDetector) DetectPhone(text string) (engine.PhoneMatch, bool) {
	var hits []phoneHit
	urls := phoneURL.FindAllStringIndex(text, -1)
	for _, re := range phonePatterns {
		for _, loc := range re.FindAllStringIndex(text, -1) {
			h := phoneHit{start: loc[0], end: loc[1], raw: strings.TrimSpace(text[loc[0]:loc[1]])}
			if isPhoneException(text, h, urls) {
				continue
			}
			hits = append(hits, h)
		}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].start < hits[j].start })

	var m engine.PhoneMatch
	seen := make(map[string]bool)
	for _, h := range hits {
		n := CleanPhoneNumber(h.raw)
		if seen[n] {
			continue
		}
		seen[n] = true
		m.Numbers = append(m.Numbers, n)
	}
	return m, len(m.Numbers) > 0
}

func isPhoneException(text string, h phoneHit, urls [][]int) bool {
	// glued to a nickname or word on both sides
	before, _ := utf8.DecodeLastRuneInString(text[:h.start])
	after, _ := utf8.DecodeRuneInString(text[h.end:])
	if h.start > 0 && h.end < len(text) && isAlnum(before) && isAlnum(after) {
		return true
	}
	for _, re := range phoneExceptions {
		if re.MatchString(h.raw) {
			return true
		}
	}
	for _, u := range urls {
		if h.start >= u[0] && h.end <= u[1] {
			return true
		}
	}
	window := strings.ToLower(runeWindow(text, h.start, h.end, phoneContextRunes))
	for _, c := range phoneFalseContexts {
		if strings.Contains(window, c) {
			return true
		}
	}
	return false
}

func isAlnum(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}

// text[start:end] widened by up to n runes on each side.
func runeWindow(text string, start, end, n int) string {
	for i := 0; i < n && start > 0; i++ {
		_, size := utf8.DecodeLastRuneInString(text[:start])
		start -= size
	}
	for i := 0; i < n && end < len(text); i++ {
		_, size := utf8.DecodeRuneInString(text[end:])
		end += size
	}
	return text[start:end]
}

// Strips separators and folds +33 / 0033 prefixes to a leading 0.
func CleanPhoneNumber(raw string) string {
	var b strings.Builder
	for _, r := range raw {
		if (r >= '0' && r <= '9') || r == '+' {
			b.WriteRune(r)
		}
	}
	n := b.String()
	switch {
	case strings.HasPrefix(n, "+33"):
		return "0" + n[3:]
	case strings.HasPrefix(n, "0033"):
		return "0" + n[4:]
	case strings.HasPrefix(n, "33") && len(n) == 11:
		return "0" + n[2:]
	}
	return n
}
