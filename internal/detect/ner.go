package detect

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fbellamy/anonymiseur/internal/config"
	"github.com/fbellamy/anonymiseur/internal/entity"
	"github.com/fbellamy/anonymiseur/internal/logger"
	"github.com/knights-analytics/hugot"
	"github.com/knights-analytics/hugot/pipelines"
	"go.uber.org/zap"
)

// NERDetector wraps an ONNX token-classification model and produces
// person/organization candidates with model-native confidence. The model
// is loaded once at startup and shared read-only across requests.
type NERDetector struct {
	session   *hugot.Session
	pipeline  *pipelines.TokenClassificationPipeline
	timeout   time.Duration
	logger    *logger.Logger
	available bool
}

// NewNER loads the NER model named in the configuration. A missing or
// unloadable model is not an error: the detector is created unavailable
// and the pipeline degrades to pattern detection only.
func NewNER(cfg config.NERConfig, log *logger.Logger) *NERDetector {
	d := &NERDetector{timeout: cfg.Timeout, logger: log}

	if !cfg.Enabled {
		log.Info("NER detector disabled by configuration")
		return d
	}

	if _, err := os.Stat(cfg.ModelPath); err != nil {
		log.Warn("NER model not found, statistical detection unavailable",
			zap.String("model_path", cfg.ModelPath),
			zap.Error(err),
		)
		return d
	}

	session, err := hugot.NewGoSession()
	if err != nil {
		log.Warn("Failed to create NER session", zap.Error(err))
		return d
	}

	pipelineCfg := hugot.TokenClassificationConfig{
		ModelPath: cfg.ModelPath,
		Name:      "legal-ner",
		Options: []hugot.TokenClassificationOption{
			pipelines.WithSimpleAggregation(),
			pipelines.WithIgnoreLabels([]string{"O"}),
		},
	}
	nerPipeline, err := hugot.NewPipeline(session, pipelineCfg)
	if err != nil {
		log.Warn("Failed to create NER pipeline", zap.Error(err))
		if destroyErr := session.Destroy(); destroyErr != nil {
			log.Error("Failed to destroy NER session", zap.Error(destroyErr))
		}
		return d
	}

	d.session = session
	d.pipeline = nerPipeline
	d.available = true

	log.Info("NER detector initialized", zap.String("model_path", cfg.ModelPath))
	return d
}

// Available reports whether the model is loaded and ready.
func (d *NERDetector) Available() bool {
	return d.available
}

// Detect runs NER over the text. Returns ErrUnavailable when the model is
// not loaded or inference exceeds the configured timeout. Inference cannot
// be interrupted mid-run; an abandoned call's result is discarded.
func (d *NERDetector) Detect(ctx context.Context, text string) ([]Candidate, error) {
	if !d.available {
		return nil, fmt.Errorf("ner: %w", entity.ErrUnavailable)
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	type inference struct {
		candidates []Candidate
		err        error
	}
	done := make(chan inference, 1)

	go func() {
		result, err := d.pipeline.RunPipeline([]string{text})
		if err != nil {
			done <- inference{err: fmt.Errorf("ner inference failed: %w", err)}
			return
		}
		done <- inference{candidates: d.convert(text, result)}
	}()

	select {
	case <-ctx.Done():
		d.logger.Warn("NER inference timed out", zap.Duration("timeout", d.timeout))
		return nil, fmt.Errorf("ner timeout: %w", entity.ErrUnavailable)
	case res := <-done:
		if res.err != nil {
			d.logger.Warn("NER inference error", zap.Error(res.err))
			return nil, fmt.Errorf("ner: %w", entity.ErrUnavailable)
		}
		return res.candidates, nil
	}
}

// convert maps model output to candidates, keeping only person and
// organization labels.
func (d *NERDetector) convert(text string, result *pipelines.TokenClassificationOutput) []Candidate {
	if len(result.Entities) == 0 {
		return nil
	}

	var candidates []Candidate
	for _, ent := range result.Entities[0] {
		var typ entity.Type
		switch normalizeLabel(ent.Entity) {
		case "PER", "PERSON":
			typ = entity.TypePerson
		case "ORG", "ORGANIZATION":
			typ = entity.TypeOrganization
		default:
			continue
		}

		start, end := int(ent.Start), int(ent.End)
		if start < 0 || end > len(text) || start >= end {
			continue
		}

		candidates = append(candidates, Candidate{
			Text:       text[start:end],
			Type:       typ,
			Source:     entity.SourceNER,
			Confidence: float64(ent.Score),
			Span:       entity.Position{Start: start, End: end},
		})
	}
	return candidates
}

// Close releases the model session.
func (d *NERDetector) Close() error {
	if d.session == nil {
		return nil
	}
	return d.session.Destroy()
}

// normalizeLabel strips BIO tagging prefixes (B- beginning, I- inside).
func normalizeLabel(label string) string {
	label = strings.TrimPrefix(label, "B-")
	label = strings.TrimPrefix(label, "I-")
	return strings.ToUpper(label)
}
