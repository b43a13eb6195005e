package classify

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/ircwarden/warden/warden/engine"
	"github.com/ircwarden/warden/warden/keyword"
)

const DefaultContentThreshold = 3.0

var contentGroups = []ruleGroup{
	mustGroup("explicit", 9.5,
		`\bsex[eo]?\b`, `\bbais(e|er|ais)\b`, `\bbite\b`, `\bchatte\b`, `\bseins?\b`,
		`\bnichons?\b`, `\bvagina?\b`, `\bpenis\b`, `\borgasme\b`, `\bjouir\b`,
		`\bmasturbation\b`, `\berection\b`, `\bsodomie\b`, `\bfellation\b`, `\bcunni(lingus)?\b`,
		`\bporn`, `\bqueue\b`, `\bcul\b`, `\bbranler?\b`, `\btailler?\b.*\bpipe\b`,
	),
	mustGroup("suggestive", 6.0,
		`\bchaud(e|es|s)?\b.*\b(discussion|sujet)\b`, `\bepice(e|es|s)?\b`, `\bintimes?\b`,
		`\berotique\b`, `\bsensuel(le|les|s)?\b`, `\bexcite(e|es|s)?\b`, `\ballume(e|es|s)?\b`,
		`\bcoquin(e|es|s)?\b`, `\bsexy?\b`, `\bhot\b`, `\bkinky?\b`,
	),
	mustGroup("flirting", 8.0,
		`\bmatter\b.*\b(femmes?|mecs?|gens)\b`, `\bdrague\b`, `\bactif\b.*\bprive\b`,
		`\bweb\s*cam\b`, `\bplan\s*(cul|q)\b`, `\brdv\b.*\b(sexe?|coquin)\b`,
		`\brencontre\b.*\b(sexe?|adulte|coquin|hot)\b`,
		`\bcherche\b.*\b(femme|mec|partenaire)\b.*\b(sexe?|plan|cam)\b`,
		`\b(actif|passif|vers[ao])\s+du?\b.*\d{2}\b`,
		`\bdu?\s+\d{2}\b.*\b(dispo|libre|actif|passif)\b`,
		`\bdispo\b.*\b(maintenant|la|ce\s+soir|tonight)\b`,
		`\blibre\b.*\b(maintenant|ce\s+soir|pour\s+plan)\b`,
		`\bfun\b.*\badultes?\b`, `\bcoucher\s+avec\b`, `\brelation\s+(intime|sexuelle)\b`,
		`\bmoments?\s+intimes?\b`,
		`\bcherche\b.*\b(trans|transex|gay|homo|bi|bisexuel(le)?)\b`,
		`\bcherche\s+contact\s+(feminin|masculin)\b`,
	),
	mustGroup("locations", 5.5,
		`\b(cherche|dispo|actif|passif|plan|rencontre|contact|relation)\b.*\bdu?\s+\d{2}\b`,
		`\bdu?\s+\d{2}\b.*\b(dispo|actif|cherche|libre|plan|rencontre|contact)\b`,
		`\b(nord|sud|idf|ile\s+de\s+france|region\s+parisienne)\b.*\b(dispo|actif|cherche|libre)\b`,
		`\b(lille|paris|lyon|marseille|toulouse|nantes|strasbourg|montpellier|bordeaux|nice|rennes|grenoble)\b.*\b(actif|dispo|plan|cherche)\b`,
		`\b(celibataire|divorce|separe)\b.*\b(du?\s+\d{2}|region|ville)\b`,
		`\bcherche\b.*\b(femme|homme|mec|nana|fille|garcon)\b.*\b(du?\s+\d{2}|region|age|ans)\b`,
	),
	mustGroup("behavioral", 7.0,
		`\b(mp|pv)\s+(moi|si)\b`, `\bprive\s+(moi|toi|nous)\b`, `\bviens\s+en\s+(prive|pv|mp)\b`,
		`\bon\s+se\s+parle\s+en\s+(prive|pv)\b`,
		`\bajoute\s+(moi|toi)\b.*\b(snap|insta|telegram|discord)\b`,
		`\bmon\s+(snap|insta|telegram|discord|numero|tel)\b`,
		`\benvoie\s+(moi|ton)\b.*\b(snap|num|tel|photo)\b`,
		`\bechange\s+(photos?|nums?|contacts?)\b`, `\bmontres?\s+(toi|ca|voir)\b`, `\bfais\s+voir\b`,
	),
	mustGroup("urgency", 6.5,
		`\bmaintenant\b.*\b(dispo|libre|actif)\b`, `\bce\s+soir\b.*\b(dispo|libre|pour)\b`,
		`\btout(e)?\s+suite\b.*\b(dispo|libre)\b`, `\brapidement\b.*\b(rencontre|plan|voir)\b`,
		`\bvite\s+fait\b.*\b(voir|rencontre)\b`, `\bavant\s+que\b.*\b(parents|conjoint|femme|mari)\b`,
	),
}

var euphemismGroups = []ruleGroup{
	mustGroup("sexual-euphemism", 7.5,
		`\bs'amuser\b.*\b(ensemble|a\s+deux)\b`,
		`\bpasser\s+un\s+bon\s+moment\b.*\b(ensemble|prive)\b`,
		`\bse\s+rapprocher\b.*\b(physiquement|intimement)\b`,
		`\bpartager\s+(quelque\s+chose|intimite|moment)\b`,
		`\bse\s+voir\s+en\s+(prive|tete\s+a\s+tete|intimite)\b`,
	),
	mustGroup("invitation", 8.0,
		`\bviens\s+(chez\s+moi|me\s+voir)\b.*\b(tranquille|seule?s?)\b`,
		`\bpasser\s+a\s+la\s+maison\b.*\b(discretement|tranquille)\b`,
		`\bvenir\s+me\s+tenir\s+compagnie\b`,
		`\bse\s+retrouver\b.*\b(quelque\s+part|tranquille|seule?s?)\b`,
	),
	mustGroup("contact-fishing", 6.5,
		`\btu\s+(habites?\s+ou|es\s+d'ou|viens\s+d'ou)\b`,
		`\bpas\s+loin\s+de\b.*\b(chez\s+moi|ma\s+ville)\b`,
		`\bon\s+pourrait\s+se\b.*\b(voir|rencontrer|retrouver)\b`,
	),
	mustGroup("validation", 7.0,
		`\btu\s+es\s+(jolie|belle|mignonne|sexy)\b`, `\btu\s+me\s+plais\b`,
		`\bj'aimerais\s+te\s+(connaitre|voir)\b`, `\btu\s+m'interesses?\b`,
	),
	mustGroup("relationship", 5.5,
		`\b(celibataire|seule?s?|libre)\b.*\b(cherche|envie|besoin)\b.*\b(sexe|plan|cam|rencontre)\b`,
	),
}

var euphemismCombos = [][2]string{
	{"sexual-euphemism", "invitation"},
	{"contact-fishing", "invitation"},
	{"validation", "sexual-euphemism"},
}

// Keyword scorer for sexual content and flirting in French chat. Scores on a 0..10 scale;
// messages at or above Threshold are flagged as CategorySexual.
type ContentScorer struct {
	Threshold float64
}

var _ engine.Classifier = (*ContentScorer)(nil)

func NewContentScorer() *ContentScorer {
	return &ContentScorer{Threshold: DefaultContentThreshold}
}

func (s *ContentScorer) Name() string { return "content" }

func (s *ContentScorer) Classify(ctx context.Context, text string) (engine.ModerationResult, error) {
	score, hits := s.Score(text)
	res := engine.ModerationResult{Score: score, Severity: int(engine.TierLight)}
	if score >= s.Threshold && score > 0 {
		res.IsViolation = true
		res.Categories = []engine.Category{engine.CategorySexual}
		res.Reason = fmt.Sprintf("sexual content (%s)", strings.Join(hits, ", "))
	}
	return res, nil
}

// Returns the 0..10 score and the names of the matching groups.
func (s *ContentScorer) Score(text string) (float64, []string) {
	norm := keyword.Normalize(text)
	ctxScore, ctxHits := contextualScore(norm)
	euphScore, euphHits := euphemismScore(norm)
	if euphScore > ctxScore {
		return euphScore, euphHits
	}
	return ctxScore, ctxHits
}

func contextualScore(norm string) (float64, []string) {
	counts := make(map[string]int, len(contentGroups))
	var hits []string
	base := 0.0
	total := 0
	for _, g := range contentGroups {
		n := g.count(norm)
		if n == 0 {
			continue
		}
		counts[g.Name] = n
		hits = append(hits, g.Name)
		total += n
		base = max(base, g.Weight)
	}
	if base == 0 {
		return 0, nil
	}

	bonus := 0.0
	if counts["locations"] > 0 && counts["behavioral"] > 0 {
		bonus += 2.0
	}
	if counts["flirting"] > 0 && counts["urgency"] > 0 {
		bonus += 1.5
	}
	if counts["behavioral"] > 0 && counts["urgency"] > 0 {
		bonus += 1.0
	}
	if total >= 3 {
		bonus += 1.0 + float64(total-3)*0.3
	}
	return min(base+bonus, 10.0), hits
}

func euphemismScore(norm string) (float64, []string) {
	var hits []string
	best := 0.0
	for _, g := range euphemismGroups {
		n := g.count(norm)
		if n == 0 {
			continue
		}
		hits = append(hits, g.Name)
		best = max(best, g.Weight+float64(n-1)*0.3)
	}
	if len(hits) == 0 {
		return 0, nil
	}

	bonus := 0.0
	if len(hits) >= 2 {
		for _, c := range euphemismCombos {
			if slices.Contains(hits, c[0]) && slices.Contains(hits, c[1]) {
				bonus += 2.0
			}
		}
		if len(hits) >= 3 {
			bonus += 1.5
		}
		bonus = min(bonus, 3.0)
	}
	return min(best+bonus, 10.0), hits
}
