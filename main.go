package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"ai-maildigest/ai"
	"ai-maildigest/gmail"
	"ai-maildigest/pipeline"
	"ai-maildigest/slack"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to settings file")
	guidelinesPath := flag.String("guidelines", "categorization_guidelines.md", "path to categorization guidelines file (optional)")
	reportPath := flag.String("report", "", "override report.outputPath for this invocation")
	quiet := flag.Bool("quiet", false, "suppress the run summary on stdout (for cron)")
	dev := flag.Bool("dev", false, "human-readable console logging")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
	if *reportPath != "" {
		cfg.Report.OutputPath = *reportPath
	}

	log, err := newLogger(cfg.Logging.Level, *dev)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	runID := uuid.NewString()
	log.Info("starting digest run",
		zap.String("run_id", runID),
		zap.String("config", cfg.summary()))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	runner, err := buildRunner(ctx, cfg, *guidelinesPath, runID, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "setup error: %v\n", err)
		os.Exit(1)
	}

	result := runner.Run(ctx)

	if !*quiet {
		printSummary(result)
	}
	if result.Status != "success" {
		os.Exit(1)
	}
}

// buildRunner wires the collaborators into the pipeline. All
// configuration errors surface here, before any stage runs.
func buildRunner(ctx context.Context, cfg *Config, guidelinesPath, runID string, log *zap.Logger) (*pipeline.Runner, error) {
	systemPrompt, err := buildSystemPrompt(guidelinesPath)
	if err != nil {
		return nil, err
	}

	fetcher, err := gmail.NewClient(ctx, gmail.Config{
		ClientID:     cfg.GmailClientID,
		ClientSecret: cfg.GmailClientSecret,
		RefreshToken: cfg.GmailRefreshToken,
		UserEmail:    cfg.UserEmail,
		Query:        cfg.Gmail.Query,
		MaxPerPage:   cfg.Gmail.MaxResultsPerPage,
		MaxTotal:     cfg.Gmail.MaxTotalMessages,
	}, log.Named("gmail"))
	if err != nil {
		return nil, err
	}

	categorizer, err := ai.NewCategorizer(ai.Config{
		APIKey:      cfg.AnthropicAPIKey,
		Model:       cfg.AI.Model,
		MaxTokens:   cfg.AI.MaxTokens,
		Temperature: cfg.AI.Temperature,
	}, systemPrompt, log.Named("ai"))
	if err != nil {
		return nil, err
	}

	notifier, err := slack.New(slack.Config{
		BotToken: cfg.SlackBotToken,
		UserID:   cfg.SlackUserID,
	}, log.Named("slack"))
	if err != nil {
		return nil, err
	}

	return pipeline.NewRunner(fetcher, categorizer, notifier, pipeline.Settings{
		BatchSize:        cfg.AI.BatchSize,
		RateCapacity:     cfg.AI.RateLimit.Capacity,
		RateRefillPerSec: cfg.AI.RateLimit.RefillPerSecond,
		IncludeDrafts:    cfg.Slack.IncludeReplyDrafts,
		MaxPerCategory:   cfg.Slack.MaxPerCategory,
		ReportPath:       cfg.Report.OutputPath,
	}, runID, log.Named("pipeline"))
}

func newLogger(level string, dev bool) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("logging.level %q: %w", level, err)
	}

	var cfg zap.Config
	if dev {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}

func printSummary(r pipeline.RunResult) {
	fmt.Printf("run %s: %s\n", r.RunID, r.Status)
	fmt.Printf("  gathered=%d categorized=%d failed=%d groups=%d notified=%v\n",
		r.Gathered, r.Categorized, r.FailedItems, r.Groups, r.Notified)

	if len(r.ByCategory) > 0 {
		names := make([]string, 0, len(r.ByCategory))
		for name := range r.ByCategory {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Printf("  %s: %d\n", name, r.ByCategory[name])
		}
	}
	for _, e := range r.Errors {
		fmt.Printf("  warning: %s\n", e)
	}
}
