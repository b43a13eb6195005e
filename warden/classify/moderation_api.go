package classify

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/ircwarden/warden/util"
	"github.com/ircwarden/warden/warden/engine"

	"github.com/carlmjohnson/versioninfo"
	"github.com/go-resty/resty/v2"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/spaolacci/murmur3"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"
)

// Flag thresholds on a 0..10 scale (API scores are 0..1).
func DefaultModerationThresholds() map[engine.Category]float64 {
	return map[engine.Category]float64{
		engine.CategorySexual:                3.0,
		engine.CategorySexualMinors:          1.0,
		engine.CategoryHarassment:            4.0,
		engine.CategoryHarassmentThreatening: 2.0,
		engine.CategoryHate:                  3.5,
		engine.CategoryHateThreatening:       2.0,
		engine.CategoryViolence:              5.0,
		engine.CategoryViolenceGraphic:       4.0,
		engine.CategoryIllicit:               4.5,
		engine.CategoryIllicitViolent:        3.0,
		engine.CategorySelfHarm:              2.0,
		engine.CategorySelfHarmIntent:        1.5,
		engine.CategorySelfHarmInstructions:  1.0,
	}
}

type ModerationAPIConfig struct {
	BaseURL string
	APIKey  string
	Model   string
	// per-call bound, on top of the caller's context
	Timeout time.Duration
	// requests per second; zero disables limiting
	RateLimit  float64
	CacheSize  int
	CacheTTL   time.Duration
	Thresholds map[engine.Category]float64
	// defaults to util.RobustHTTPClient
	HTTPClient *http.Client
}

func DefaultModerationAPIConfig() ModerationAPIConfig {
	return ModerationAPIConfig{
		BaseURL:    "https://api.openai.com",
		Model:      "omni-moderation-latest",
		Timeout:    8 * time.Second,
		RateLimit:  10,
		CacheSize:  1000,
		CacheTTL:   24 * time.Hour,
		Thresholds: DefaultModerationThresholds(),
	}
}

type moderationRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

// schema: https://platform.openai.com/docs/api-reference/moderations/object
type moderationResponse struct {
	ID      string             `json:"id"`
	Model   string             `json:"model"`
	Results []moderationResult `json:"results"`
}

type moderationResult struct {
	Flagged        bool               `json:"flagged"`
	Categories     map[string]bool    `json:"categories"`
	CategoryScores map[string]float64 `json:"category_scores"`
}

// Classifier backed by an OpenAI-style /v1/moderations endpoint. Results are cached by a
// hash of the message text.
type ModerationAPIClassifier struct {
	client     *resty.Client
	model      string
	limiter    *rate.Limiter
	cache      *expirable.LRU[uint64, engine.ModerationResult]
	thresholds map[engine.Category]float64
	logger     *slog.Logger
}

var _ engine.Classifier = (*ModerationAPIClassifier)(nil)

func NewModerationAPIClassifier(cfg ModerationAPIConfig, logger *slog.Logger) (*ModerationAPIClassifier, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("moderation API key is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = util.RobustHTTPClient()
	}
	client := resty.NewWithClient(hc).
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetAuthToken(cfg.APIKey).
		SetHeader("User-Agent", "warden/"+versioninfo.Short()).
		SetHeader("Content-Type", "application/json")
	if cfg.Timeout > 0 {
		client.SetTimeout(cfg.Timeout)
	}

	c := &ModerationAPIClassifier{
		client:     client,
		model:      cfg.Model,
		thresholds: cfg.Thresholds,
		logger:     logger.With("classifier", "moderation-api"),
	}
	if c.thresholds == nil {
		c.thresholds = DefaultModerationThresholds()
	}
	if cfg.RateLimit > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
	}
	if cfg.CacheSize > 0 {
		c.cache = expirable.NewLRU[uint64, engine.ModerationResult](cfg.CacheSize, nil, cfg.CacheTTL)
	}
	return c, nil
}

func (c *ModerationAPIClassifier) Name() string { return "moderation-api" }

func (c *ModerationAPIClassifier) Classify(ctx context.Context, text string) (engine.ModerationResult, error) {
	ctx, span := otel.Tracer("classify").Start(ctx, "ModerationAPIClassify")
	defer span.End()

	key := murmur3.Sum64([]byte(text))
	if c.cache != nil {
		if res, ok := c.cache.Get(key); ok {
			moderationCacheHits.Inc()
			span.SetAttributes(attribute.Bool("cached", true))
			return res, nil
		}
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return engine.ModerationResult{}, fmt.Errorf("moderation API rate limit: %w", err)
		}
	}

	start := time.Now()
	var body moderationResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetBody(moderationRequest{Model: c.model, Input: text}).
		SetResult(&body).
		Post("/v1/moderations")
	moderationAPIDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		moderationAPICount.WithLabelValues("error").Inc()
		return engine.ModerationResult{}, fmt.Errorf("moderation API request: %w", err)
	}
	moderationAPICount.WithLabelValues(strconv.Itoa(resp.StatusCode())).Inc()
	span.SetAttributes(attribute.Int("status", resp.StatusCode()))
	if resp.IsError() {
		return engine.ModerationResult{}, fmt.Errorf("moderation API HTTP %d: %s", resp.StatusCode(), resp.String())
	}
	if len(body.Results) == 0 {
		return engine.ModerationResult{}, fmt.Errorf("moderation API returned no results")
	}

	res := c.summarize(body.Results[0])
	c.logger.Debug("moderation API result", "flagged", body.Results[0].Flagged, "violation", res.IsViolation, "categories", res.Categories, "score", res.Score)
	if c.cache != nil {
		c.cache.Add(key, res)
	}
	return res, nil
}

// Applies the per-category thresholds. The API's own "flagged" bit is ignored.
func (c *ModerationAPIClassifier) summarize(r moderationResult) engine.ModerationResult {
	var res engine.ModerationResult
	var reasons []string
	for name, raw := range r.CategoryScores {
		score := raw * 10
		res.Score = max(res.Score, score)
		cat := engine.Category(name)
		threshold, ok := c.thresholds[cat]
		if !ok || score < threshold {
			continue
		}
		res.IsViolation = true
		res.Categories = append(res.Categories, cat)
		reasons = append(reasons, fmt.Sprintf("%s=%.1f", name, score))
	}
	slices.Sort(res.Categories)
	slices.Sort(reasons)
	if res.IsViolation {
		res.Reason = "moderation API: " + strings.Join(reasons, ", ")
	}
	return res
}
