package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"slices"
	"time"

	"github.com/ircwarden/warden/warden/auditlog"
	"github.com/ircwarden/warden/warden/cachestore"
	"github.com/ircwarden/warden/warden/classify"
	"github.com/ircwarden/warden/warden/countstore"
	"github.com/ircwarden/warden/warden/engine"
	"github.com/ircwarden/warden/warden/flagstore"
	"github.com/ircwarden/warden/warden/ircconn"
	"github.com/ircwarden/warden/warden/ledgerstore"
	"github.com/ircwarden/warden/warden/setstore"
	"github.com/ircwarden/warden/warden/snapshot"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

// set names in the sets file
const (
	badWordsSet  = "bad-words"
	nicknameSet  = "bad-nicknames"
	adminUserSet = "admins"
)

type Server struct {
	logger    *slog.Logger
	engine    *engine.Engine
	irc       *ircconn.Client
	commands  *Commands
	scheduler *engine.TimerScheduler
	snapshots *snapshot.FileStore
	audit     *auditlog.Log
	rdb       *redis.Client
	policy    Policy
	config    Config
	started   time.Time
}

type Config struct {
	IRC               ircconn.Config
	Policy            Policy
	RedisURL          string
	SetsFileJSON      string
	SnapshotPath      string
	AuditDBPath       string
	Bind              string
	AdminToken        string
	SlackWebhookURL   string
	ModerationAPIKey  string
	ModerationAPIURL  string
	ModerationTimeout time.Duration
	Logger            *slog.Logger
}

func NewServer(config Config) (*Server, error) {
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		}))
	}
	policy := config.Policy

	sets := setstore.NewMemSetStore()
	if config.SetsFileJSON != "" {
		if err := sets.LoadFromFileJSON(config.SetsFileJSON); err != nil {
			return nil, fmt.Errorf("initializing in-process setstore: %v", err)
		} else {
			logger.Info("loaded set config from JSON", "path", config.SetsFileJSON)
		}
	}

	var ledgerStore ledgerstore.Store[engine.ViolationHistory]
	var phoneStore ledgerstore.Store[engine.PhoneRecord]
	var counters countstore.CountStore
	var cache cachestore.CacheStore
	var bans flagstore.FlagStore
	var rdb *redis.Client
	if config.RedisURL != "" {
		opt, err := redis.ParseURL(config.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parsing redis URL: %v", err)
		}
		rdb = redis.NewClient(opt)
		// check redis connection
		_, err = rdb.Ping(context.TODO()).Result()
		if err != nil {
			return nil, fmt.Errorf("redis ping failed: %v", err)
		}

		ledgerStore = ledgerstore.NewRedisStoreFromClient[engine.ViolationHistory](rdb, "ledger")
		phoneStore = ledgerstore.NewRedisStoreFromClient[engine.PhoneRecord](rdb, "phone")

		cnt, err := countstore.NewRedisCountStore(config.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("initializing redis countstore: %v", err)
		}
		counters = cnt

		cache = cachestore.NewRedisCacheStoreFromClient(rdb, cachestore.NetworkPrefix(config.IRC.Servers), 6*time.Hour)

		flg, err := flagstore.NewRedisFlagStore(config.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("initializing redis flagstore: %v", err)
		}
		bans = flg
	} else {
		ledgerStore = ledgerstore.NewMemStore[engine.ViolationHistory]()
		phoneStore = ledgerstore.NewMemStore[engine.PhoneRecord]()
		counters = countstore.NewMemCountStore()
		cache = cachestore.NewMemCacheStore(5_000, 6*time.Hour)
		bans = flagstore.NewMemFlagStore()
	}

	classifiers, badwords, err := buildClassifiers(context.TODO(), config, sets, logger)
	if err != nil {
		return nil, err
	}
	nickPatterns, err := sets.Members(context.TODO(), nicknameSet)
	if err != nil {
		return nil, err
	}
	nicknames, err := classify.NewNicknameFilter(append(slices.Clone(classify.DefaultNicknamePatterns), nickPatterns...), classify.DefaultNicknameWelcomes)
	if err != nil {
		return nil, fmt.Errorf("compiling nickname patterns: %w", err)
	}

	scheduler := engine.NewTimerScheduler(logger)
	irc := ircconn.NewClient(config.IRC, nil, cache, logger)
	ledger := engine.NewViolationLedger(ledgerStore)
	cooldowns := engine.NewCooldownGate(policy.Cooldown, policy.TwoStrike)

	exec := &engine.Executor{
		Transport:       irc,
		Scheduler:       scheduler,
		Ledger:          ledger,
		Cooldowns:       cooldowns,
		Bans:            bans,
		Counters:        counters,
		Logger:          logger,
		Timing:          policy.Timing,
		Messages:        engine.DefaultMessages(),
		RedirectChannel: policy.Severity.RedirectChannel,
	}

	var audit *auditlog.Log
	if config.AuditDBPath != "" {
		audit, err = auditlog.Open(config.AuditDBPath)
		if err != nil {
			return nil, err
		}
		exec.Incidents = audit
	}
	if config.SlackWebhookURL != "" {
		logger.Info("configuring slack ban notifications")
		exec.Notifier = engine.NewSlackNotifier(config.SlackWebhookURL)
	}

	monitored := policy.MonitoredChannels
	if len(monitored) == 0 {
		monitored = config.IRC.Channels
	}
	eng := &engine.Engine{
		Logger:      logger,
		Ledger:      ledger,
		Cooldowns:   cooldowns,
		Exemptions:  policy.Exemptions,
		Roles:       irc,
		Sets:        sets,
		Classifiers: classifiers,
		Phones:      engine.NewPhoneModerator(phoneStore, classify.PhoneNumberDetector{}, policy.Phone),
		Nicknames:   nicknames,
		Resolver:    &engine.SeverityResolver{Policy: policy.Severity},
		Executor:    exec,
		Config: engine.Config{
			ResetWindow:       policy.ResetWindow,
			MonitoredChannels: monitored,
			TrustedSet:        engine.DefaultTrustedSet,
		},
	}
	irc.Handler = eng

	s := &Server{
		logger:    logger,
		engine:    eng,
		irc:       irc,
		scheduler: scheduler,
		audit:     audit,
		rdb:       rdb,
		policy:    policy,
		config:    config,
		started:   time.Now(),
	}

	// redis already persists the ledger
	if rdb == nil && config.SnapshotPath != "" {
		s.snapshots = snapshot.NewFileStore(config.SnapshotPath, policy.HistoryMaxAge, logger)
		s.snapshots.SnapshotMaxAge = policy.SnapshotMaxAge
	}

	s.commands = &Commands{
		Engine:    eng,
		Roles:     irc,
		Sets:      sets,
		BadWords:  badwords,
		Audit:     audit,
		Reply:     s.commandReply,
		Health:    s.healthLine,
		Now:       time.Now,
		Logger:    logger,
		AdminsSet: adminUserSet,
	}
	irc.OnCommand = s.commands.Handle
	return s, nil
}

// Local detectors always run. With an API key the moderation API replaces the content
// scorer, which stays on as its fallback.
func buildClassifiers(ctx context.Context, config Config, sets setstore.SetStore, logger *slog.Logger) ([]engine.Classifier, *classify.BadWordClassifier, error) {
	policy := config.Policy

	content := classify.NewContentScorer()
	content.Threshold = policy.ContentThreshold
	drugs := classify.NewDrugClassifier()
	drugs.Sensitivity = policy.DrugSensitivity

	extra, err := sets.Members(ctx, badWordsSet)
	if err != nil {
		return nil, nil, err
	}
	badwords, err := classify.NewBadWordClassifier(append(slices.Clone(classify.DefaultBadWords), extra...))
	if err != nil {
		return nil, nil, fmt.Errorf("compiling badword patterns: %w", err)
	}

	var primary engine.Classifier = content
	if config.ModerationAPIKey != "" {
		cfg := classify.DefaultModerationAPIConfig()
		cfg.APIKey = config.ModerationAPIKey
		if config.ModerationAPIURL != "" {
			cfg.BaseURL = config.ModerationAPIURL
		}
		if config.ModerationTimeout > 0 {
			cfg.Timeout = config.ModerationTimeout
		}
		api, err := classify.NewModerationAPIClassifier(cfg, logger)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("configuring moderation API classifier", "url", cfg.BaseURL, "model", cfg.Model)
		primary = classify.WithFallback(api, content, cfg.Timeout, logger)
	}
	return []engine.Classifier{primary, drugs, badwords}, badwords, nil
}

func (s *Server) RunMetrics(listen string) error {
	http.Handle("/metrics", promhttp.Handler())
	return http.ListenAndServe(listen, nil)
}

// Runs every service loop until ctx is done or one of them fails.
func (s *Server) Run(ctx context.Context) error {
	if s.snapshots != nil {
		if _, err := s.snapshots.Load(ctx, s.engine.Ledger, time.Now()); err != nil {
			return fmt.Errorf("restoring snapshot: %w", err)
		}
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.irc.Run(ctx)
	})
	g.Go(func() error {
		return s.RunMaintenance(ctx, time.Minute)
	})
	if s.snapshots != nil {
		g.Go(func() error {
			s.snapshots.Run(ctx, s.engine.Ledger, s.policy.SnapshotInterval)
			return nil
		})
	}
	if s.config.Bind != "" {
		g.Go(func() error {
			return s.RunAPI(ctx, s.config.Bind)
		})
	}
	err := g.Wait()
	s.shutdown()
	return err
}

func (s *Server) shutdown() {
	// pending reversals would only fail now that the connection is gone; don't wait long
	done := make(chan struct{})
	go func() {
		s.scheduler.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		s.logger.Warn("exiting with scheduled actions still pending")
	}
	if s.audit != nil {
		if err := s.audit.Close(); err != nil {
			s.logger.Error("closing audit log", "err", err)
		}
	}
	if s.rdb != nil {
		s.rdb.Close()
	}
}

// Periodically prunes decayed state.
func (s *Server) RunMaintenance(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := s.engine.Maintain(ctx, time.Now()); err != nil {
				s.logger.Error("maintenance failed", "err", err)
			}
		}
	}
}

// Channel commands are answered on the channel, private ones by notice.
func (s *Server) commandReply(ctx context.Context, target, text string) error {
	if isChannelName(target) {
		return s.irc.SendMessage(ctx, target, text)
	}
	return s.irc.SendNotice(ctx, target, text)
}

func (s *Server) healthLine() string {
	conn := "disconnected"
	if s.irc.IsConnected() {
		conn = "connected"
	}
	line := fmt.Sprintf("irc %s, up %s", conn, time.Since(s.started).Round(time.Second))
	if s.snapshots != nil {
		st := s.snapshots.Stats()
		line += fmt.Sprintf(", %d snapshot saves", st.TotalSaves)
	}
	return line
}
