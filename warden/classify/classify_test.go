package classify

import (
	"context"
	"testing"

	"github.com/ircwarden/warden/warden/engine"

	"github.com/stretchr/testify/assert"
)

func TestContentScorer(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	s := NewContentScorer()

	res, err := s.Classify(ctx, "bonjour tout le monde, il fait beau aujourd'hui")
	assert.NoError(err)
	assert.False(res.IsViolation)
	assert.Equal(0.0, res.Score)

	res, err = s.Classify(ctx, "je veux voir ta BITE")
	assert.NoError(err)
	assert.True(res.IsViolation)
	assert.Equal([]engine.Category{engine.CategorySexual}, res.Categories)
	assert.Equal(9.5, res.Score)

	// accents are folded before matching
	score, hits := s.Score("Ambiance érotique ce soir")
	assert.Equal(6.0, score)
	assert.Equal([]string{"suggestive"}, hits)

	score, _ = s.Score("mp moi")
	assert.Equal(7.0, score)

	// location plus behavior earns the combination bonus
	score, hits = s.Score("cherche mec du 59, mp moi")
	assert.Contains(hits, "locations")
	assert.Contains(hits, "behavioral")
	assert.Greater(score, 9.0)
	assert.LessOrEqual(score, 10.0)

	score, hits = s.Score("tu es jolie, tu me plais")
	assert.InDelta(7.3, score, 0.001)
	assert.Equal([]string{"validation"}, hits)
}

func TestContentScorerThreshold(t *testing.T) {
	assert := assert.New(t)
	s := &ContentScorer{Threshold: 8.0}

	res, err := s.Classify(context.Background(), "c'est un sujet chaud cette discussion")
	assert.NoError(err)
	assert.False(res.IsViolation)
	assert.Equal(6.0, res.Score)
}

func TestDrugClassifier(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	d := NewDrugClassifier()

	res, err := d.Classify(ctx, "hier soir on a regardé un docu sur le cannabis")
	assert.NoError(err)
	assert.False(res.IsViolation)
	assert.Equal(3.0, res.Score)

	res, err = d.Classify(ctx, "qui vend de la c0ke ?")
	assert.NoError(err)
	assert.True(res.IsViolation)
	assert.Equal([]engine.Category{engine.CategoryIllicit}, res.Categories)
	assert.Equal(9.0, res.Score)

	res, err = d.Classify(ctx, "vends beuh 10g paris")
	assert.NoError(err)
	assert.True(res.IsViolation)
	assert.Equal([]engine.Category{engine.CategoryDrugTrafficking}, res.Categories)
	assert.Equal(10.0, res.Score)

	res, err = d.Classify(ctx, "je vends mon velo")
	assert.NoError(err)
	assert.False(res.IsViolation)
	assert.Equal(0.0, res.Score)
}

func TestBadWordClassifier(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	c, err := NewBadWordClassifier(DefaultBadWords)
	assert.NoError(err)

	res, err := c.Classify(ctx, "t'es vraiment un CONNARD")
	assert.NoError(err)
	assert.True(res.IsViolation)
	assert.Equal([]engine.Category{engine.CategoryProfanity}, res.Categories)
	assert.Contains(res.Reason, "*connard*")

	// standalone-word patterns
	res, _ = c.Classify(ctx, "bande de cons")
	assert.True(res.IsViolation)
	res, _ = c.Classify(ctx, "les contes de fees")
	assert.False(res.IsViolation)

	// runtime edits
	res, _ = c.Classify(ctx, "quel zigoto")
	assert.False(res.IsViolation)
	assert.NoError(c.Patterns.Add("*zigoto*"))
	res, _ = c.Classify(ctx, "quel zigoto")
	assert.True(res.IsViolation)
	assert.True(c.Patterns.Remove("*ZIGOTO*"))
	res, _ = c.Classify(ctx, "quel zigoto")
	assert.False(res.IsViolation)
}

func TestNicknameFilter(t *testing.T) {
	assert := assert.New(t)
	f, err := NewNicknameFilter(DefaultNicknamePatterns, DefaultNicknameWelcomes)
	assert.NoError(err)

	m, ok := f.DetectNickname("Coquine_75")
	assert.True(ok)
	assert.Equal("*coquine*", m.Pattern)
	assert.Contains(m.Welcome, "{nick}")

	m, ok = f.DetectNickname("gros-nichon")
	assert.True(ok)
	assert.Equal("*gros*nichon*", m.Pattern)
	assert.Empty(m.Welcome)

	_, ok = f.DetectNickname("Marcel")
	assert.False(ok)

	f.SetWelcome("*gros*nichon*", "hello {nick}")
	m, _ = f.DetectNickname("GrosNichon")
	assert.Equal("hello {nick}", m.Welcome)
}

func TestPhoneNumberDetector(t *testing.T) {
	assert := assert.New(t)
	d := PhoneNumberDetector{}

	found := []struct {
		text string
		want []string
	}{
		{"appelle moi au 06 12 34 56 78", []string{"0612345678"}},
		{"mon numéro: 0612345678", []string{"0612345678"}},
		{"contacte moi +33 6 12 34 56 78", []string{"0612345678"}},
		{"contacte moi +33612345678", []string{"0612345678"}},
		{"contacte moi 0033 6 12 34 56 78", []string{"0612345678"}},
		{"je suis du 59, tel: 06.12.34.56.78", []string{"0612345678"}},
		{"whatsapp 06-12-34-56-78", []string{"0612345678"}},
		{"fixe: 01 23 45 67 89", []string{"0123456789"}},
		{"tel (06) 12 34 56 78 dispo", []string{"0612345678"}},
		{"06  12 34  56 78 libre ce soir", []string{"0612345678"}},
		{"06 12 34 56 78 ou 07 98 76 54 32", []string{"0612345678", "0798765432"}},
	}
	for _, tc := range found {
		m, ok := d.DetectPhone(tc.text)
		assert.True(ok, tc.text)
		assert.Equal(tc.want, m.Numbers, tc.text)
	}

	clean := []string{
		"on était en 2023, vers 15h30",
		"j'ai 25 ans depuis 2020",
		"prix: 1234 euros",
		"va voir cam.baboon.fr/0612345678",
		"salut bob0612345678x",
		"page 0612345678 du manuel",
		"rien à signaler",
	}
	for _, text := range clean {
		_, ok := d.DetectPhone(text)
		assert.False(ok, text)
	}
}

func TestCleanPhoneNumber(t *testing.T) {
	assert := assert.New(t)
	assert.Equal("0612345678", CleanPhoneNumber("+33 6 12 34 56 78"))
	assert.Equal("0612345678", CleanPhoneNumber("0033 6.12.34.56.78"))
	assert.Equal("0612345678", CleanPhoneNumber("33612345678"))
	assert.Equal("0612345678", CleanPhoneNumber("(06) 12-34-56-78"))
	assert.Equal("+447911123456", CleanPhoneNumber("+44 7911123456"))
}
