// Package pipeline is the orchestrator: it locks, resolves the book hash,
// creates or resumes the manifest, runs pending stages in canonical order,
// and routes failures through the central trap (retry cycle or quarantine).
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/bindery/bindery/internal/asin"
	"github.com/bindery/bindery/internal/bookid"
	"github.com/bindery/bindery/internal/catalog"
	"github.com/bindery/bindery/internal/config"
	"github.com/bindery/bindery/internal/fsutil"
	"github.com/bindery/bindery/internal/layout"
	"github.com/bindery/bindery/internal/logging"
	"github.com/bindery/bindery/internal/manifest"
	"github.com/bindery/bindery/internal/media"
	"github.com/bindery/bindery/internal/pipelock"
	"github.com/bindery/bindery/internal/runner"
	"github.com/bindery/bindery/internal/stages"
	"github.com/bindery/bindery/internal/tagger"
)

// Exit codes. 0 covers success and benign skips; 2 and 3 signal permanent
// failures the automation layer must not retry.
const (
	ExitOK        = 0
	ExitPermanent = 2
	ExitTransient = 1
)

// ExitError carries the process exit code a failure maps to.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string { return e.Err.Error() }
func (e *ExitError) Unwrap() error { return e.Err }

// Options tunes one pipeline run.
type Options struct {
	// Mode overrides auto-detection (directory -> convert, .m4b -> enrich).
	Mode config.Mode
	// ASINOverride short-circuits discovery.
	ASINOverride string
	// NoLock skips the global lock for deployments that parallelize across
	// processes; per-book idempotency still holds through the manifest.
	NoLock bool
	// ForceRefresh bypasses the metadata cache for this run.
	ForceRefresh bool
}

// Pipeline processes one book end to end.
type Pipeline struct {
	cfg    *config.Config
	dirs   *layout.Dir
	store  *manifest.Store
	logger *slog.Logger

	run     *runner.Runner
	prober  *media.Prober
	encoder *media.Encoder
	tag     *tagger.Tagger

	primary  *catalog.Audible
	fallback *catalog.Audnexus

	// stageList is the canonical stage sequence; tests substitute scripted
	// stages here.
	stageList []stages.Stage
}

// New wires a pipeline from configuration.
func New(cfg *config.Config, logger *slog.Logger) (*Pipeline, error) {
	if logger == nil {
		logger = slog.Default()
	}
	dirs := layout.New(cfg)
	if err := dirs.EnsureBase(); err != nil {
		return nil, err
	}
	store, err := manifest.NewStore(cfg.ManifestDir)
	if err != nil {
		return nil, err
	}

	run := runner.New(cfg.DryRun, logger)
	cache := catalog.NewCache(cfg.CacheDir, cfg.CacheTTL())

	return &Pipeline{
		cfg:       cfg,
		dirs:      dirs,
		store:     store,
		logger:    logger,
		run:       run,
		prober:    media.NewProber(run),
		encoder:   media.NewEncoder(run),
		tag:       tagger.NewTagger(run, media.NewProber(run), logger),
		primary:   catalog.NewAudible(cfg.AudibleRegion, cache, logger),
		fallback:  catalog.NewAudnexus("", cfg.AudnexusRegion, cache, logger),
		stageList: stages.All(),
	}, nil
}

// DetectMode picks the pipeline mode from the input shape: a directory of
// audio files converts, a finished M4B enriches.
func DetectMode(sourcePath string) (config.Mode, error) {
	info, err := os.Stat(sourcePath)
	if err != nil {
		return "", fmt.Errorf("source path does not exist: %s", sourcePath)
	}
	if info.IsDir() {
		return config.ModeConvert, nil
	}
	if bookid.IsM4B(sourcePath) {
		return config.ModeEnrich, nil
	}
	return "", fmt.Errorf("source must be a directory or an .m4b file: %s", sourcePath)
}

// Process runs the pipeline for one source. The returned error, if any, is
// an *ExitError carrying the process exit code.
func (p *Pipeline) Process(ctx context.Context, sourcePath string, opts Options) error {
	sourcePath, err := filepath.Abs(sourcePath)
	if err != nil {
		return &ExitError{Code: ExitPermanent, Err: err}
	}

	if !opts.NoLock {
		lock, err := pipelock.Acquire(p.dirs.LockPath())
		if errors.Is(err, pipelock.ErrHeld) {
			p.logger.Info("another pipeline instance is running, exiting")
			return nil
		}
		if err != nil {
			return &ExitError{Code: ExitTransient, Err: err}
		}
		defer lock.Release()
	}

	mode := opts.Mode
	if mode == "" {
		mode, err = DetectMode(sourcePath)
		if err != nil {
			return &ExitError{Code: ExitPermanent, Err: err}
		}
	}
	if !mode.Valid() {
		return &ExitError{Code: ExitPermanent, Err: fmt.Errorf("invalid mode %q", mode)}
	}

	hash, err := bookid.Hash(sourcePath)
	if err != nil {
		return &ExitError{Code: ExitPermanent, Err: err}
	}
	log := logging.WithBook(p.logger, hash).With("mode", string(mode))

	m, err := p.store.Read(hash)
	if err != nil {
		return &ExitError{Code: ExitTransient, Err: err}
	}
	if m == nil || p.cfg.Force {
		m, err = p.store.Create(hash, sourcePath, mode, p.cfg.MaxRetries)
		if err != nil {
			return &ExitError{Code: ExitTransient, Err: err}
		}
		log.Info("manifest created", "source", sourcePath)
	}
	if m.Status == manifest.StatusCompleted && !p.cfg.Force {
		log.Info("book already completed, nothing to do")
		return nil
	}

	if _, err := p.store.ResetFailedStages(hash); err != nil {
		return &ExitError{Code: ExitTransient, Err: err}
	}
	if _, err := p.store.Update(hash, func(m *manifest.Manifest) {
		m.Status = manifest.StatusRunning
		m.RunID = uuid.NewString()
	}); err != nil {
		return &ExitError{Code: ExitTransient, Err: err}
	}

	if err := p.dirs.EnsureWorkDir(hash); err != nil {
		return &ExitError{Code: ExitTransient, Err: err}
	}
	if err := p.prepareWorkCopy(sourcePath, hash, mode, log); err != nil {
		return &ExitError{Code: ExitTransient, Err: err}
	}

	sc := p.stageContext(hash, sourcePath, opts, log)

	for _, stage := range p.stageList {
		m, err := p.store.Read(hash)
		if err != nil {
			return &ExitError{Code: ExitTransient, Err: err}
		}
		if m.StageCompleted(stage.Name()) {
			log.Debug("stage already completed, skipping", "stage", stage.Name())
			continue
		}

		stageLog := logging.WithStage(log, stage.Name())
		stageLog.Info("stage starting")
		sc.Logger = stageLog

		if _, err := p.store.SetStage(hash, stage.Name(), manifest.StatusRunning, ""); err != nil {
			return &ExitError{Code: ExitTransient, Err: err}
		}
		if err := stage.Run(ctx, sc); err != nil {
			return p.trap(ctx, hash, sourcePath, stage.Name(), err, stageLog)
		}
		stageLog.Info("stage completed")
	}

	if _, err := p.store.Update(hash, func(m *manifest.Manifest) {
		m.Status = manifest.StatusCompleted
	}); err != nil {
		return &ExitError{Code: ExitTransient, Err: err}
	}
	log.Info("pipeline completed")
	return nil
}

// prepareWorkCopy places a single-M4B source into the work directory under
// the canonical output name for modes that skip the encode. Idempotent: a
// size-matched copy is left alone.
func (p *Pipeline) prepareWorkCopy(sourcePath, hash string, mode config.Mode, log *slog.Logger) error {
	if mode == config.ModeConvert || !bookid.IsM4B(sourcePath) {
		return nil
	}
	dst := p.dirs.WorkOutput(hash)
	srcInfo, err := os.Stat(sourcePath)
	if err != nil {
		return err
	}
	if dstInfo, err := os.Stat(dst); err == nil && dstInfo.Size() == srcInfo.Size() {
		return nil
	}
	log.Info("copying source into work directory", "source", sourcePath)
	perm, err := p.cfg.FilePerm()
	if err != nil {
		return err
	}
	return p.run.Mutate(fmt.Sprintf("copy %s -> %s", sourcePath, dst), func() error {
		return fsutil.CopyFile(sourcePath, dst, perm)
	})
}

func (p *Pipeline) stageContext(hash, sourcePath string, opts Options, log *slog.Logger) *stages.Context {
	return &stages.Context{
		Cfg:          p.cfg,
		Dirs:         p.dirs,
		Store:        p.store,
		BookHash:     hash,
		SourcePath:   sourcePath,
		Run:          p.run,
		Prober:       p.prober,
		Encoder:      p.encoder,
		Tagger:       p.tag,
		Primary:      p.primary,
		Fallback:     p.fallback,
		Discoverer:   asin.NewDiscoverer(p.fallback, searchAdapter{p.primary}, log),
		ASINOverride: opts.ASINOverride,
		ForceRefresh: opts.ForceRefresh,
		Logger:       log,
	}
}

// searchAdapter exposes the primary catalog's search to the discovery chain.
type searchAdapter struct {
	client *catalog.Audible
}

func (s searchAdapter) Search(ctx context.Context, title, author string) ([]asin.SearchCandidate, error) {
	results, err := s.client.Search(ctx, title, author)
	if err != nil {
		return nil, err
	}
	candidates := make([]asin.SearchCandidate, 0, len(results))
	for _, r := range results {
		candidates = append(candidates, asin.SearchCandidate{
			ASIN:    r.ASIN,
			Title:   r.Title,
			Authors: r.Authors,
		})
	}
	return candidates, nil
}

// trap is the central failure handler. It categorizes once, records the
// error, and decides between cycle retry and quarantine. It always returns
// an *ExitError.
func (p *Pipeline) trap(ctx context.Context, hash, sourcePath, stage string, err error, log *slog.Logger) error {
	code, category := categorize(err)
	errInfo := manifest.ErrorInfo{
		Stage:     stage,
		Timestamp: time.Now().UTC(),
		ExitCode:  code,
		Message:   err.Error(),
		Category:  category,
	}

	log.Error("stage failed", "category", category, "error", err)

	if category == categoryPermanent {
		p.store.IncrementRetry(hash, errInfo)
		p.notifyFailure(ctx, hash, sourcePath, errInfo)
		p.quarantine(hash, sourcePath, errInfo, log)
		return &ExitError{Code: ExitPermanent, Err: err}
	}

	m, updateErr := p.store.IncrementRetry(hash, errInfo)
	if updateErr != nil {
		log.Error("failed to record retry", "error", updateErr)
		return &ExitError{Code: ExitTransient, Err: err}
	}
	if m.RetryCount >= m.MaxRetries {
		log.Error("retry limit reached, quarantining",
			"retry_count", m.RetryCount, "max_retries", m.MaxRetries)
		p.notifyFailure(ctx, hash, sourcePath, errInfo)
		p.quarantine(hash, sourcePath, errInfo, log)
		return &ExitError{Code: ExitPermanent, Err: err}
	}

	log.Warn("transient failure, next cycle will retry",
		"retry_count", m.RetryCount, "max_retries", m.MaxRetries)
	return &ExitError{Code: ExitTransient, Err: err}
}

const (
	categoryPermanent = "permanent"
	categoryTransient = "transient"
)

// categorize maps a stage error to (tool exit code, category). Explicit
// stage classifications win; otherwise external-tool exits 2 and 3 are
// permanent and everything else is transient.
func categorize(err error) (int, string) {
	var exitErr *runner.ExitError
	code := 1
	if errors.As(err, &exitErr) {
		code = exitErr.Code
	}

	if stages.IsPermanent(err) {
		return code, categoryPermanent
	}
	if stages.IsTransient(err) {
		return code, categoryTransient
	}
	if code == 2 || code == 3 {
		return code, categoryPermanent
	}
	return code, categoryTransient
}
