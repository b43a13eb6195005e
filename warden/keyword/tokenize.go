package keyword

import (
	"log/slog"
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	nonTokenChars = regexp.MustCompile(`[^\pL\pN\s]+`)
	multiSpace    = regexp.MustCompile(`\s+`)
)

// Lower-cases text, strips combining marks ("é" becomes "e"), and collapses runs of
// whitespace to a single space. Punctuation is kept, so phrase patterns with apostrophes
// and symbols still match.
func Normalize(text string) string {
	// needs to be re-defined in every call, transformers are not safe for concurrent use
	normFunc := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(normFunc, strings.ToLower(text))
	if err != nil {
		slog.Warn("unicode normalization error", "err", err)
		out = strings.ToLower(text)
	}
	return strings.TrimSpace(multiSpace.ReplaceAllString(out, " "))
}

// Splits free-form text in to lower-case, accent-folded tokens, dropping punctuation.
func TokenizeText(text string) []string {
	return strings.Fields(Normalize(nonTokenChars.ReplaceAllString(text, " ")))
}

var leetReplacer = strings.NewReplacer(
	"0", "o",
	"1", "i",
	"3", "e",
	"4", "a",
	"5", "s",
	"7", "t",
	"@", "a",
	"$", "s",
	"€", "e",
)

// Folds common character substitutions ("c0k3" becomes "coke"). Only apply this where
// digits carry no meaning, since it destroys numbers.
func FoldLeetspeak(text string) string {
	return leetReplacer.Replace(text)
}
