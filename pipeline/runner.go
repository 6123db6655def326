package pipeline

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
)

// Stage is one step of the pipeline state machine.
type Stage string

const (
	StageInit       Stage = "INIT"
	StageGather     Stage = "GATHER_EMAILS"
	StageCategorize Stage = "CATEGORIZE_EMAILS"
	StageGroup      Stage = "GROUP_EMAILS"
	StageGenerate   Stage = "GENERATE_REPORT"
	StageReport     Stage = "REPORT"
	StageDone       Stage = "DONE"
)

var stageOrder = []Stage{
	StageInit,
	StageGather,
	StageCategorize,
	StageGroup,
	StageGenerate,
	StageReport,
}

// Fetcher gathers raw messages from the mailbox.
type Fetcher interface {
	FetchUnlabeled(ctx context.Context) ([]RawMessage, error)
}

// Categorizer classifies one batch of raw messages.
type Categorizer interface {
	CategorizeBatch(ctx context.Context, batch []RawMessage) ([]CategorizedMessage, error)
}

// Notifier delivers the terminal notification.
type Notifier interface {
	SendDigest(ctx context.Context, fallback string, blocks []Block) error
	SendAlert(ctx context.Context, fallback string, blocks []Block) error
}

// Settings is the core's slice of the immutable run configuration.
type Settings struct {
	BatchSize        int
	RateCapacity     int
	RateRefillPerSec float64
	IncludeDrafts    bool
	MaxPerCategory   int
	ReportPath       string // optional markdown archive, "" = skip
}

// Runner sequences the pipeline stages against the collaborators and
// guarantees exactly one outbound notification per run: a digest on
// success or partial success, an alert on hard failure, never zero,
// never two.
type Runner struct {
	fetcher     Fetcher
	categorizer Categorizer
	notifier    Notifier
	limiter     *Limiter
	renderer    Renderer
	settings    Settings
	runID       string
	log         *zap.Logger
	now         func() time.Time
}

// NewRunner wires a runner. Configuration problems (bad batch size, bad
// bucket parameters) surface here, before any stage runs.
func NewRunner(fetcher Fetcher, categorizer Categorizer, notifier Notifier,
	settings Settings, runID string, log *zap.Logger) (*Runner, error) {

	if settings.BatchSize <= 0 {
		return nil, Errorf(KindConfig, "batch size must be positive, got %d", settings.BatchSize)
	}
	limiter, err := NewLimiter(settings.RateCapacity, settings.RateRefillPerSec)
	if err != nil {
		return nil, err
	}
	return &Runner{
		fetcher:     fetcher,
		categorizer: categorizer,
		notifier:    notifier,
		limiter:     limiter,
		renderer: Renderer{
			IncludeDrafts:  settings.IncludeDrafts,
			MaxPerCategory: settings.MaxPerCategory,
		},
		settings: settings,
		runID:    runID,
		log:      log.With(zap.String("run_id", runID)),
		now:      time.Now,
	}, nil
}

// Run drives the state machine to DONE and reports what happened. A stage
// failure short-circuits to REPORT, which sends the alert instead of the
// digest; delivery failure at that final stage is logged but cannot
// escalate further.
func (r *Runner) Run(ctx context.Context) RunResult {
	rc := &runContext{stage: StageInit}

	for _, stage := range stageOrder {
		r.transition(rc, stage)

		if stage == StageReport {
			r.executeReport(ctx, rc)
			break
		}

		start := r.now()
		err := r.executeStage(ctx, rc, stage)
		if err != nil {
			rc.failure = &Failure{
				Stage:  stage,
				Kind:   KindOf(err),
				Detail: err.Error(),
				Err:    err,
			}
			rc.errs = append(rc.errs, string(stage)+": "+err.Error())
			r.log.Error("stage failed",
				zap.String("stage", string(stage)),
				zap.String("kind", string(KindOf(err))),
				zap.Error(err))
			r.transition(rc, StageReport)
			r.executeReport(ctx, rc)
			break
		}
		r.log.Info("stage completed",
			zap.String("stage", string(stage)),
			zap.Duration("duration", r.now().Sub(start)))
	}

	r.transition(rc, StageDone)
	return r.buildResult(rc)
}

func (r *Runner) transition(rc *runContext, next Stage) {
	r.log.Info("state transition",
		zap.String("from", string(rc.stage)),
		zap.String("to", string(next)))
	rc.stage = next
}

func (r *Runner) executeStage(ctx context.Context, rc *runContext, stage Stage) error {
	switch stage {
	case StageInit:
		return nil
	case StageGather:
		return r.gather(ctx, rc)
	case StageCategorize:
		return r.categorize(ctx, rc)
	case StageGroup:
		return r.group(rc)
	case StageGenerate:
		return r.generate(rc)
	}
	return nil
}

func (r *Runner) gather(ctx context.Context, rc *runContext) error {
	raw, err := r.fetcher.FetchUnlabeled(ctx)
	if err != nil {
		return err
	}
	rc.raw = raw
	r.log.Info("gathered messages", zap.Int("count", len(raw)))
	return nil
}

// categorize runs the batch processor. Per-batch failures degrade
// gracefully: failed items are logged and omitted from the digest. Only a
// run where every batch failed is a stage failure.
func (r *Runner) categorize(ctx context.Context, rc *runContext) error {
	if len(rc.raw) == 0 {
		r.log.Info("no messages to categorize")
		return nil
	}

	results, failures, err := ProcessBatches(ctx, rc.raw, r.settings.BatchSize,
		r.limiter,
		func(m RawMessage) string { return m.ID },
		r.categorizer.CategorizeBatch,
		r.log)
	if err != nil {
		return err
	}

	totalBatches := (len(rc.raw) + r.settings.BatchSize - 1) / r.settings.BatchSize
	if len(failures) == totalBatches {
		return Errorf(KindOf(failures[0].Err), "all %d categorization batches failed, last error: %w",
			totalBatches, failures[len(failures)-1].Err)
	}

	rc.categorized = results
	rc.failedIDs = FailedItemIDs(failures)
	if len(rc.failedIDs) > 0 {
		rc.errs = append(rc.errs, fmt.Sprintf("categorization incomplete: %d of %d batches failed",
			len(failures), totalBatches))
		r.log.Warn("proceeding with partial categorization",
			zap.Int("categorized", len(results)),
			zap.Strings("failed_ids", rc.failedIDs))
	}
	r.log.Info("categorized messages", zap.Int("count", len(results)))
	return nil
}

func (r *Runner) group(rc *runContext) error {
	rc.groups = GroupMessages(rc.categorized)
	r.log.Info("grouped messages",
		zap.Int("messages", len(rc.categorized)),
		zap.Int("groups", len(rc.groups)))
	return nil
}

func (r *Runner) generate(rc *runContext) error {
	rc.digest = BuildDigest(r.runID, r.now(), rc.groups)
	rc.markdown = r.renderer.Markdown(rc.digest)
	rc.blocks = r.renderer.Blocks(rc.digest)

	if r.settings.ReportPath != "" {
		if err := os.WriteFile(r.settings.ReportPath, []byte(rc.markdown), 0o644); err != nil {
			// Archival is best-effort; the digest still gets delivered.
			rc.errs = append(rc.errs, "report archive failed: "+err.Error())
			r.log.Error("report archive failed", zap.Error(err))
		} else {
			r.log.Info("report archived", zap.String("path", r.settings.ReportPath))
		}
	}
	return nil
}

// executeReport is the terminal stage: exactly one send is attempted.
// Failure here is logged only; there is no further stage to escalate to.
func (r *Runner) executeReport(ctx context.Context, rc *runContext) {
	if rc.failure != nil {
		now := r.now()
		fallback := r.renderer.AlertMarkdown(rc.failure, r.runID, now)
		blocks := r.renderer.AlertBlocks(rc.failure, r.runID, now)
		if err := r.notifier.SendAlert(ctx, fallback, blocks); err != nil {
			rc.errs = append(rc.errs, "alert delivery failed: "+err.Error())
			r.log.Error("alert delivery failed; original failure remains in logs",
				zap.String("failed_stage", string(rc.failure.Stage)),
				zap.Error(err))
			return
		}
		rc.notified = true
		r.log.Info("failure alert sent", zap.String("failed_stage", string(rc.failure.Stage)))
		return
	}

	if err := r.notifier.SendDigest(ctx, rc.markdown, rc.blocks); err != nil {
		rc.errs = append(rc.errs, "digest delivery failed: "+err.Error())
		r.log.Error("digest delivery failed", zap.Error(err))
		return
	}
	rc.notified = true
	r.log.Info("digest sent",
		zap.Int("groups", rc.digest.TotalGroups),
		zap.Int("messages", rc.digest.TotalMsgs))
}

func (r *Runner) buildResult(rc *runContext) RunResult {
	status := "success"
	if rc.failure != nil {
		status = "error"
	}

	byCategory := map[string]int{}
	if rc.digest != nil {
		for c, n := range rc.digest.Counts {
			byCategory[c.String()] = n
		}
	}

	groups := 0
	if rc.digest != nil {
		groups = rc.digest.TotalGroups
	}

	return RunResult{
		Status:      status,
		RunID:       r.runID,
		Gathered:    len(rc.raw),
		Categorized: len(rc.categorized),
		FailedItems: len(rc.failedIDs),
		Groups:      groups,
		ByCategory:  byCategory,
		Notified:    rc.notified,
		ReportPath:  r.settings.ReportPath,
		Errors:      rc.errs,
	}
}
