// Package pipeline orchestrates detection for one document: pattern and
// statistical detectors fan out in parallel over the immutable input text
// and their candidates meet in the reconciler.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/fbellamy/anonymiseur/internal/cache"
	"github.com/fbellamy/anonymiseur/internal/detect"
	"github.com/fbellamy/anonymiseur/internal/entity"
	"github.com/fbellamy/anonymiseur/internal/logger"
	"github.com/fbellamy/anonymiseur/internal/reconcile"
	"go.uber.org/zap"
)

// Mode selects which detectors run for a document.
type Mode string

// Processing modes.
const (
	// ModeStandard runs the pattern detector only.
	ModeStandard Mode = "standard"
	// ModeAdvanced adds the NER detector.
	ModeAdvanced Mode = "advanced"
	// ModeOllama adds the local generative-model detector.
	ModeOllama Mode = "ollama"
)

// KnownMode reports whether m is a supported processing mode.
func KnownMode(m Mode) bool {
	return m == ModeStandard || m == ModeAdvanced || m == ModeOllama
}

// OllamaOverride carries per-request Ollama settings. Zero values keep
// the configured defaults.
type OllamaOverride struct {
	URL     string        `json:"url,omitempty"`
	Model   string        `json:"model,omitempty"`
	Prompt  string        `json:"custom_prompt,omitempty"`
	Timeout time.Duration `json:"-"`
}

// Result is the outcome of processing one document.
type Result struct {
	Entities []entity.Entity
	ModeUsed Mode
	Degraded bool
	Duration time.Duration
	CacheHit bool
}

// Pipeline wires the detectors to the reconciler. Requests are
// independent; the pipeline itself holds no per-document state.
type Pipeline struct {
	pattern    *detect.PatternDetector
	ner        *detect.NERDetector
	ollama     *detect.OllamaDetector
	reconciler *reconcile.Reconciler
	cache      *cache.ResultCache
	logger     *logger.Logger
}

// New creates a pipeline. The cache may be nil; caching is then skipped.
func New(
	pattern *detect.PatternDetector,
	ner *detect.NERDetector,
	ollama *detect.OllamaDetector,
	reconciler *reconcile.Reconciler,
	resultCache *cache.ResultCache,
	log *logger.Logger,
) *Pipeline {
	return &Pipeline{
		pattern:    pattern,
		ner:        ner,
		ollama:     ollama,
		reconciler: reconciler,
		cache:      resultCache,
		logger:     log,
	}
}

// Capabilities reports which optional detectors can currently run.
func (p *Pipeline) Capabilities(ctx context.Context) detect.Capabilities {
	return detect.Capabilities{
		NERAvailable:    p.ner.Available(),
		OllamaAvailable: p.ollama.Available(ctx),
	}
}

// Ollama exposes the configured Ollama detector for connectivity probes.
func (p *Pipeline) Ollama() *detect.OllamaDetector {
	return p.ollama
}

// Process runs the detectors selected by mode, reconciles their output
// and returns the entity set. A failing statistical detector degrades the
// run to pattern results; ModeUsed reports what actually ran.
func (p *Pipeline) Process(ctx context.Context, text string, mode Mode, override *OllamaOverride) (*Result, error) {
	if !KnownMode(mode) {
		return nil, fmt.Errorf("unknown processing mode %q: %w", mode, entity.ErrInvalidArgument)
	}

	start := time.Now()

	// Operator-tuned Ollama runs bypass the cache: the prompt changes
	// what the model detects.
	cacheable := p.cache != nil && (override == nil || *override == OllamaOverride{})
	cacheKey := ""
	if cacheable {
		cacheKey = cache.Key(text, string(mode))
		if cached, ok := p.cache.Get(ctx, cacheKey); ok {
			return &Result{
				Entities: cached.Entities,
				ModeUsed: Mode(cached.ModeUsed),
				Degraded: Mode(cached.ModeUsed) != mode,
				Duration: time.Since(start),
				CacheHit: true,
			}, nil
		}
	}

	// The pattern detector always runs; the statistical detector of the
	// requested mode runs alongside it.
	patternCh := make(chan []detect.Candidate, 1)
	go func() {
		patternCh <- p.pattern.Detect(text)
	}()

	type statistical struct {
		candidates []detect.Candidate
		err        error
	}
	statCh := make(chan statistical, 1)
	go func() {
		switch mode {
		case ModeAdvanced:
			candidates, err := p.ner.Detect(ctx, text)
			statCh <- statistical{candidates, err}
		case ModeOllama:
			detector := p.ollama
			if override != nil {
				detector = detector.Override(override.URL, override.Model, override.Prompt, override.Timeout)
			}
			candidates, err := detector.Detect(ctx, text)
			statCh <- statistical{candidates, err}
		default:
			statCh <- statistical{}
		}
	}()

	patternCandidates := <-patternCh
	stat := <-statCh

	modeUsed := mode
	degraded := false
	if stat.err != nil {
		// Degrade, never fail: the pattern results still stand.
		p.logger.Warn("Statistical detector unavailable, degrading to pattern detection",
			zap.String("mode", string(mode)),
			zap.Error(stat.err),
		)
		modeUsed = ModeStandard
		degraded = true
		stat.candidates = nil
	}

	entities := p.reconciler.Reconcile(patternCandidates, stat.candidates)

	if cacheable && !degraded {
		p.cache.Set(ctx, cacheKey, &cache.CachedResult{
			Entities: entities,
			ModeUsed: string(modeUsed),
		})
	}

	duration := time.Since(start)
	p.logger.Info("Document processed",
		zap.String("mode", string(mode)),
		zap.String("mode_used", string(modeUsed)),
		zap.Int("entities", len(entities)),
		zap.Duration("duration", duration),
	)

	return &Result{
		Entities: entities,
		ModeUsed: modeUsed,
		Degraded: degraded,
		Duration: duration,
	}, nil
}
