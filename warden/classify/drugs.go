package classify

import (
	"context"
	"fmt"

	"github.com/ircwarden/warden/warden/engine"
	"github.com/ircwarden/warden/warden/keyword"
)

const DefaultDrugSensitivity = 4.0

var (
	drugMentions = mustGroup("mention", 3.0,
		`\b(cannabis|weed|shit|beuh|bheu|marie-?jeanne|ganja|herbe?)\b`,
		`\b(joint|spliff|petard|bedo|stick)\b`,
		`\b(hash|hasch|hashish|pollen|resine)\b`,
		`\b(cocaine|coke|coca|poudre|neige|blanche)\b`,
		`\b(crack|caillou)\b`,
		`\b(heroine|hero|smack|brown|brune)\b`,
		`\b(morphine|opium|fentanyl)\b`,
		`\b(ecstasy|ecsta|taz|mdma|molly)\b`,
		`\b(speed|amphet|amphetamines?|crystal)\b`,
		`\b(lsd|acide|buvard)\b`,
		`\b(ketamine|keta|special[_-]?k)\b`,
		`\b(ghb|drogue\s+du\s+viol)\b`,
		`\b(champis?|psilos?|mushrooms?)\b`,
		`\b(poppers|solvants?)\b`,
		`\b(methadone|subutex)\b`,
	)
	drugCommerce = mustGroup("commerce", 4.0,
		`\b(vends?|vente|vendre|a\s+vendre|dispo|disponible)\b`,
		`\b(achete?|achat|acheter|cherche|recherche)\b`,
		`\b(livre?|livraison|livrer)\b`,
		`\b(deal|dealer|contact)\b`,
		`\b(fourni[st]?|fournir|source)\b`,
		`\b(commande|commander)\b`,
	)
	// matched on the unfolded text, digits matter here
	drugQuantity = mustGroup("quantity", 2.0,
		`\b\d+\s*(g|gr|grammes?|kilos?|kg)\b`,
		`\b\d+\s*(€|euros?\b|e\b)`,
		`\b(barrette|sachet|pochon|boulette)\b`,
		`\b(petit|gros|demi|quart)\b`,
	)
	drugLocation = mustGroup("location", 1.5,
		`\b(bordeaux|paris|lyon|marseille|toulouse|nantes|strasbourg|lille)\b`,
		`\b(gare|station|metro|parking|parc)\b`,
		`\b\d{2}\b`,
	)
	drugUrgency = mustGroup("urgency", 1.0,
		`\b(urgent|vite|rapide|immediat)\b`,
		`\b(discret|discrete|planque|cache)\b`,
		`\b(sur|securise|fiable)\b`,
	)
)

// Scores drug references, weighting commerce language. A mention alone stays under the
// default sensitivity; mention plus a commerce verb is flagged.
type DrugClassifier struct {
	Sensitivity float64
}

var _ engine.Classifier = (*DrugClassifier)(nil)

func NewDrugClassifier() *DrugClassifier {
	return &DrugClassifier{Sensitivity: DefaultDrugSensitivity}
}

func (d *DrugClassifier) Name() string { return "drugs" }

type drugSignals struct {
	Mention  string
	Commerce string
	Quantity string
	Location string
	Urgency  string
	Words    int
}

func scanDrugs(text string) drugSignals {
	plain := keyword.Normalize(text)
	folded := keyword.FoldLeetspeak(plain)
	return drugSignals{
		Mention:  drugMentions.first(folded),
		Commerce: drugCommerce.first(folded),
		Quantity: drugQuantity.first(plain),
		Location: drugLocation.first(plain),
		Urgency:  drugUrgency.first(folded),
		Words:    len(keyword.TokenizeText(text)),
	}
}

// 0..10 score for text. Only a drug mention opens the other signals.
func (s drugSignals) score() float64 {
	if s.Mention == "" {
		return 0
	}
	score := drugMentions.Weight
	if s.Commerce != "" {
		score += drugCommerce.Weight
		if s.Quantity != "" {
			score += drugQuantity.Weight
		}
		if s.Location != "" {
			score += drugLocation.Weight
		}
		if s.Urgency != "" {
			score += drugUrgency.Weight
		}
		// short messages with a product and a verb read like ads
		if s.Words <= 8 {
			score += 2.0
		}
	}
	return min(score, 10.0)
}

func (d *DrugClassifier) Classify(ctx context.Context, text string) (engine.ModerationResult, error) {
	sig := scanDrugs(text)
	score := sig.score()
	res := engine.ModerationResult{Score: score}
	if score < d.Sensitivity || score == 0 {
		return res, nil
	}
	res.IsViolation = true
	if sig.Commerce != "" && sig.Quantity != "" && sig.Location != "" {
		res.Categories = []engine.Category{engine.CategoryDrugTrafficking}
		res.Severity = int(engine.TierSevere)
		res.Reason = fmt.Sprintf("drug trafficking (%s, %s, %s, %s)", sig.Mention, sig.Commerce, sig.Quantity, sig.Location)
	} else {
		res.Categories = []engine.Category{engine.CategoryIllicit}
		res.Severity = int(engine.TierModerate)
		res.Reason = fmt.Sprintf("drug reference (%s, %s)", sig.Mention, sig.Commerce)
	}
	return res, nil
}
