package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ircwarden/warden/warden/engine"
	"github.com/ircwarden/warden/warden/ircconn"
	"github.com/ircwarden/warden/warden/setstore"

	"github.com/carlmjohnson/versioninfo"
	_ "github.com/joho/godotenv/autoload"
	cli "github.com/urfave/cli/v2"
	_ "go.uber.org/automaxprocs"
)

func main() {
	if err := run(os.Args); err != nil {
		slog.Error("exiting", "err", err)
		os.Exit(-1)
	}
}

func run(args []string) error {

	app := cli.App{
		Name:    "warden",
		Usage:   "IRC channel moderation bot",
		Version: versioninfo.Short(),
	}

	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:    "policy-file",
			Usage:   "moderation policy file (yaml, toml or json); compiled-in defaults if empty",
			EnvVars: []string{"WARDEN_POLICY_FILE"},
		},
		&cli.StringFlag{
			Name:    "sets-file",
			Usage:   "JSON file with named sets (trusted-users, admins, bad-words, bad-nicknames)",
			EnvVars: []string{"WARDEN_SETS_FILE"},
		},
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "log verbosity level (eg: warn, info, debug)",
			Value:   "info",
			EnvVars: []string{"WARDEN_LOG_LEVEL", "LOG_LEVEL"},
		},
	}

	app.Commands = []*cli.Command{
		runCmd,
		checkPolicyCmd,
		classifyCmd,
	}

	return app.Run(args)
}

func configLogger(cctx *cli.Context) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(cctx.String("log-level")) {
	case "error":
		level = slog.LevelError
	case "warn":
		level = slog.LevelWarn
	case "debug":
		level = slog.LevelDebug
	default:
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)
	return logger
}

var runCmd = &cli.Command{
	Name:  "run",
	Usage: "connect to IRC and moderate",
	Flags: []cli.Flag{
		&cli.StringSliceFlag{
			Name:     "irc-server",
			Usage:    "IRC server host:port; repeat to fail over between servers",
			Required: true,
			EnvVars:  []string{"WARDEN_IRC_SERVERS"},
		},
		&cli.BoolFlag{
			Name:    "irc-tls",
			Usage:   "connect with TLS",
			EnvVars: []string{"WARDEN_IRC_TLS"},
		},
		&cli.BoolFlag{
			Name:    "irc-tls-insecure",
			Usage:   "skip TLS certificate verification",
			EnvVars: []string{"WARDEN_IRC_TLS_INSECURE"},
		},
		&cli.StringFlag{
			Name:    "irc-nick",
			Value:   "warden",
			EnvVars: []string{"WARDEN_IRC_NICK"},
		},
		&cli.StringFlag{
			Name:    "irc-password",
			Usage:   "server password",
			EnvVars: []string{"WARDEN_IRC_PASSWORD"},
		},
		&cli.StringFlag{
			Name:    "irc-oper-name",
			EnvVars: []string{"WARDEN_IRC_OPER_NAME"},
		},
		&cli.StringFlag{
			Name:    "irc-oper-password",
			EnvVars: []string{"WARDEN_IRC_OPER_PASSWORD"},
		},
		&cli.StringSliceFlag{
			Name:     "irc-channel",
			Usage:    "channel to join; repeat for several",
			Required: true,
			EnvVars:  []string{"WARDEN_IRC_CHANNELS"},
		},
		&cli.IntFlag{
			Name:    "workers",
			Usage:   "max concurrently processed IRC events",
			Value:   8,
			EnvVars: []string{"WARDEN_WORKERS"},
		},
		&cli.StringFlag{
			Name:    "redis-url",
			Usage:   "redis connection URL; keeps all state in memory if empty",
			EnvVars: []string{"WARDEN_REDIS_URL", "REDIS_URL"},
		},
		&cli.StringFlag{
			Name:    "snapshot-path",
			Usage:   "file for violation history snapshots, when not using redis",
			Value:   "data/warden/state.json",
			EnvVars: []string{"WARDEN_SNAPSHOT_PATH"},
		},
		&cli.StringFlag{
			Name:    "audit-db",
			Usage:   "sqlite file for the incident log; disabled if empty",
			Value:   "data/warden/audit.db",
			EnvVars: []string{"WARDEN_AUDIT_DB"},
		},
		&cli.StringFlag{
			Name:    "bind",
			Usage:   "IP or address, and port, to listen on for HTTP APIs",
			Value:   ":3999",
			EnvVars: []string{"WARDEN_BIND"},
		},
		&cli.StringFlag{
			Name:    "metrics-listen",
			Usage:   "IP or address, and port, to listen on for metrics APIs",
			Value:   ":3998",
			EnvVars: []string{"WARDEN_METRICS_LISTEN"},
		},
		&cli.StringFlag{
			Name:    "admin-token",
			Usage:   "bearer token for the admin HTTP API; admin routes are off if empty",
			EnvVars: []string{"WARDEN_ADMIN_TOKEN"},
		},
		&cli.StringFlag{
			Name:    "slack-webhook-url",
			Usage:   "full URL of slack webhook for ban notifications",
			EnvVars: []string{"SLACK_WEBHOOK_URL"},
		},
		&cli.StringFlag{
			Name:    "moderation-api-key",
			Usage:   "API key for the remote moderation classifier; local detectors only if empty",
			EnvVars: []string{"WARDEN_MODERATION_API_KEY", "OPENAI_API_KEY"},
		},
		&cli.StringFlag{
			Name:    "moderation-api-url",
			EnvVars: []string{"WARDEN_MODERATION_API_URL"},
		},
		&cli.DurationFlag{
			Name:    "moderation-api-timeout",
			EnvVars: []string{"WARDEN_MODERATION_API_TIMEOUT"},
		},
	},
	Action: func(cctx *cli.Context) error {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		logger := configLogger(cctx)

		shutdownOTEL, err := configOTEL("warden")
		if err != nil {
			return fmt.Errorf("failed to create trace exporter: %w", err)
		}
		defer shutdownOTEL()

		policy, err := LoadPolicy(cctx.String("policy-file"))
		if err != nil {
			return fmt.Errorf("loading policy: %w", err)
		}

		ircConfig := ircconn.DefaultConfig()
		ircConfig.Servers = cctx.StringSlice("irc-server")
		ircConfig.UseTLS = cctx.Bool("irc-tls")
		ircConfig.InsecureTLS = cctx.Bool("irc-tls-insecure")
		ircConfig.Nick = cctx.String("irc-nick")
		ircConfig.Password = cctx.String("irc-password")
		ircConfig.OperName = cctx.String("irc-oper-name")
		ircConfig.OperPassword = cctx.String("irc-oper-password")
		ircConfig.Channels = cctx.StringSlice("irc-channel")
		ircConfig.Workers = cctx.Int("workers")

		snapshotPath := cctx.String("snapshot-path")
		if cctx.String("redis-url") != "" {
			snapshotPath = ""
		}
		srv, err := NewServer(Config{
			IRC:               ircConfig,
			Policy:            policy,
			RedisURL:          cctx.String("redis-url"),
			SetsFileJSON:      cctx.String("sets-file"),
			SnapshotPath:      snapshotPath,
			AuditDBPath:       cctx.String("audit-db"),
			Bind:              cctx.String("bind"),
			AdminToken:        cctx.String("admin-token"),
			SlackWebhookURL:   cctx.String("slack-webhook-url"),
			ModerationAPIKey:  cctx.String("moderation-api-key"),
			ModerationAPIURL:  cctx.String("moderation-api-url"),
			ModerationTimeout: cctx.Duration("moderation-api-timeout"),
			Logger:            logger,
		})
		if err != nil {
			return err
		}

		go func() {
			if err := srv.RunMetrics(cctx.String("metrics-listen")); err != nil {
				slog.Error("failed to start metrics endpoint", "error", err)
				panic(fmt.Errorf("failed to start metrics endpoint: %w", err))
			}
		}()

		if err := srv.Run(ctx); err != nil {
			return fmt.Errorf("failed to run warden: %w", err)
		}
		return nil
	},
}

var checkPolicyCmd = &cli.Command{
	Name:      "check-policy",
	Usage:     "validate a policy file and print the effective policy",
	ArgsUsage: "[<policy-file>]",
	Action: func(cctx *cli.Context) error {
		path := cctx.String("policy-file")
		if cctx.Args().Len() > 0 {
			path = cctx.Args().First()
		}
		policy, err := LoadPolicy(path)
		if err != nil {
			return err
		}
		b, err := json.MarshalIndent(policy, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(b))
		return nil
	},
}

var classifyCmd = &cli.Command{
	Name:      "classify",
	Usage:     "run the local detectors over a message and print the verdict",
	ArgsUsage: "<text>",
	Action: func(cctx *cli.Context) error {
		ctx := context.Background()
		logger := configLogger(cctx)
		if cctx.Args().Len() == 0 {
			return fmt.Errorf("need text to classify")
		}
		text := strings.Join(cctx.Args().Slice(), " ")

		policy, err := LoadPolicy(cctx.String("policy-file"))
		if err != nil {
			return err
		}
		sets := setstore.NewMemSetStore()
		if p := cctx.String("sets-file"); p != "" {
			if err := sets.LoadFromFileJSON(p); err != nil {
				return err
			}
		}
		classifiers, _, err := buildClassifiers(ctx, Config{Policy: policy}, sets, logger)
		if err != nil {
			return err
		}

		results := make([]engine.ModerationResult, 0, len(classifiers))
		for _, c := range classifiers {
			res, err := c.Classify(ctx, text)
			if err != nil {
				return fmt.Errorf("%s: %w", c.Name(), err)
			}
			if res.IsViolation {
				fmt.Printf("%s: %v score=%.1f (%s)\n", c.Name(), res.Categories, res.Score, res.Reason)
			}
			results = append(results, res)
		}
		merged := engine.MergeResults(results...)
		if !merged.IsViolation {
			fmt.Println("clean")
			return nil
		}
		tier := (&engine.SeverityResolver{Policy: policy.Severity}).TierOf(merged)
		fmt.Printf("violation: %v score=%.1f tier=%d\n", merged.Categories, merged.Score, tier)
		return nil
	},
}
