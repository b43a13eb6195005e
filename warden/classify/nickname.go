package classify

import (
	"strings"
	"sync"

	"github.com/ircwarden/warden/warden/engine"
	"github.com/ircwarden/warden/warden/keyword"
)

var DefaultNicknamePatterns = []string{
	"*chaudasse*",
	"*penis*",
	"*connard*",
	"*conard*",
	"*batar*",
	"*prostitu*",
	"*sexe*",
	"*couill*",
	"*salop*",
	"*suce*",
	"*poitrine*",
	"*baiseur*",
	"*gro*merd*",
	"*enculer*",
	"*gro*sein*",
	"*gros*nichon*",
	"*coquine*",
	"*queue*",
	"*pipeuse*",
	"*pipeur*",
	"*puceau*",
	"*pucelle*",
	"*fil*pute*",
	"*sodomi*",
	"*baise*",
	"*cochonn*",
	"*pedophil*",
	"*branlette*",
}

// Welcome texts sent on the redirect channel, by the pattern that matched. Placeholders
// as in engine.Messages.
var DefaultNicknameWelcomes = map[string]string{
	"*sexe*":      "Bienvenue {nick} ! Ici, les discussions adultes sont permises.",
	"*baise*":     "Salut {nick}, ton pseudo évoque des sujets adultes : tu es au bon endroit.",
	"*connard*":   "Bienvenue {nick} ! Ici tu peux t'exprimer plus librement.",
	"*penis*":     "Bienvenue {nick} dans l'espace adulte.",
	"*suce*":      "Salut {nick}, ton pseudo évoque du contenu adulte, cet espace est fait pour ça.",
	"*chaudasse*": "Salut {nick} ! Tu es dans le bon espace pour des discussions hot.",
	"*coquine*":   "Salut {nick} ! Ici tu peux être toi-même.",
	"*queue*":     "Bienvenue {nick} ! Les sujets adultes sont autorisés ici.",
}

// Detects nicknames that belong on the adult channel. Matching is case-insensitive over the
// normalized nickname; '_' and '-' separators are ignored.
type NicknameFilter struct {
	Patterns *keyword.PatternSet

	mu       sync.RWMutex
	welcomes map[string]string
}

var _ engine.NicknameDetector = (*NicknameFilter)(nil)

func NewNicknameFilter(patterns []string, welcomes map[string]string) (*NicknameFilter, error) {
	ps, err := keyword.NewPatternSet(patterns)
	if err != nil {
		return nil, err
	}
	f := &NicknameFilter{Patterns: ps, welcomes: make(map[string]string, len(welcomes))}
	for p, w := range welcomes {
		f.welcomes[strings.ToLower(p)] = w
	}
	return f, nil
}

// Sets (or with an empty text, removes) the welcome text for a pattern.
func (f *NicknameFilter) SetWelcome(pattern, text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if text == "" {
		delete(f.welcomes, strings.ToLower(pattern))
		return
	}
	f.welcomes[strings.ToLower(pattern)] = text
}

func (f *NicknameFilter) DetectNickname(nick string) (engine.NicknameMatch, bool) {
	// separators are dropped, so "gros-nichon" and "gros_nichon" match like "grosnichon"
	pat, ok := f.Patterns.Match(keyword.Slugify(nick))
	if !ok {
		return engine.NicknameMatch{}, false
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	return engine.NicknameMatch{Pattern: pat, Welcome: f.welcomes[strings.ToLower(pat)]}, true
}
