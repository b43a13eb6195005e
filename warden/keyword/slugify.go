package keyword

import (
	"regexp"
)

var nonSlugChars = regexp.MustCompile(`[^\pL\pN]+`)

// Takes an arbitrary string (eg, a nickname) and returns an accent-folded, lower-case
// version with all non-letter, non-digit characters removed.
func Slugify(orig string) string {
	return nonSlugChars.ReplaceAllString(Normalize(orig), "")
}
