// Package corpus evaluates the detection pipeline against annotated
// corpora. Each record pairs a document with gold spans; the evaluator
// runs detection and scores exact span-and-type matches.
package corpus

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/segmentio/parquet-go"
	"go.uber.org/zap"

	"github.com/fbellamy/anonymiseur/internal/entity"
	"github.com/fbellamy/anonymiseur/internal/logger"
	"github.com/fbellamy/anonymiseur/internal/pipeline"
)

// Evaluator runs the detection pipeline over a corpus file and scores
// the output against the gold annotations.
type Evaluator struct {
	pipeline *pipeline.Pipeline
	config   *Config
	logger   *logger.Logger

	mu     sync.Mutex
	result *Result
}

// NewEvaluator creates an evaluator. Zero config fields get defaults.
func NewEvaluator(p *pipeline.Pipeline, cfg *Config, log *logger.Logger) *Evaluator {
	if cfg.Mode == "" {
		cfg.Mode = string(pipeline.ModeStandard)
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 4
	}
	if cfg.MaxErrors <= 0 {
		cfg.MaxErrors = 20
	}
	return &Evaluator{
		pipeline: p,
		config:   cfg,
		logger:   log,
	}
}

// EvaluateFile scores the detection pipeline on one corpus file. The
// format is picked from the file extension.
func (e *Evaluator) EvaluateFile(ctx context.Context, filePath string) (*Result, error) {
	start := time.Now()

	e.mu.Lock()
	e.result = &Result{ByType: make(map[entity.Type]*TypeMetrics)}
	e.mu.Unlock()

	format := DetectFileFormat(filePath)
	e.logger.Info("Starting corpus evaluation",
		zap.String("file", filePath),
		zap.String("format", string(format)),
		zap.String("mode", e.config.Mode),
		zap.Int("workers", e.config.WorkerCount))

	var err error
	switch format {
	case FormatCSV:
		err = e.evaluateCSV(ctx, filePath)
	case FormatParquet:
		err = e.evaluateParquet(ctx, filePath)
	case FormatJSON:
		err = e.evaluateJSON(ctx, filePath)
	default:
		return nil, fmt.Errorf("unsupported corpus format: %s", format)
	}
	if err != nil {
		return e.result, err
	}

	e.mu.Lock()
	e.result.Duration = time.Since(start)
	result := e.result
	e.mu.Unlock()

	e.logger.Info("Corpus evaluation completed",
		zap.Int64("records", result.TotalRecords),
		zap.Int64("evaluated", result.EvaluatedOK),
		zap.Int64("failed", result.Failed),
		zap.Float64("precision", result.Overall.Precision()),
		zap.Float64("recall", result.Overall.Recall()),
		zap.Float64("f1", result.Overall.F1()),
		zap.Duration("duration", result.Duration))

	return result, nil
}

func (e *Evaluator) evaluateCSV(ctx context.Context, filePath string) error {
	file, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("open corpus: %w", err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = 2 // text, annotations

	header, err := reader.Read()
	if err != nil {
		return fmt.Errorf("read CSV header: %w", err)
	}
	e.logger.Debug("CSV header detected", zap.Strings("columns", header))

	return e.evaluateBatches(ctx, func() ([]*Record, error) {
		var batch []*Record
		for len(batch) < e.config.BatchSize {
			row, err := reader.Read()
			if err == io.EOF {
				break
			}
			if err != nil {
				e.recordFailure(fmt.Sprintf("csv read: %v", err))
				continue
			}
			if len(row) != 2 {
				e.recordFailure(fmt.Sprintf("csv row has %d columns, want 2", len(row)))
				continue
			}
			batch = append(batch, &Record{
				Text:        row[0],
				Annotations: strings.TrimSpace(row[1]),
			})
		}
		return batch, nil
	})
}

func (e *Evaluator) evaluateParquet(ctx context.Context, filePath string) error {
	file, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("open corpus: %w", err)
	}
	defer file.Close()

	reader := parquet.NewReader(file)
	defer reader.Close()

	return e.evaluateBatches(ctx, func() ([]*Record, error) {
		var batch []*Record
		for len(batch) < e.config.BatchSize {
			var record Record
			err := reader.Read(&record)
			if err == io.EOF {
				break
			}
			if err != nil {
				e.recordFailure(fmt.Sprintf("parquet read: %v", err))
				continue
			}
			batch = append(batch, &record)
		}
		return batch, nil
	})
}

// evaluateJSON reads one JSON object per line.
func (e *Evaluator) evaluateJSON(ctx context.Context, filePath string) error {
	file, err := os.Open(filePath)
	if err != nil {
		return fmt.Errorf("open corpus: %w", err)
	}
	defer file.Close()

	decoder := json.NewDecoder(file)

	return e.evaluateBatches(ctx, func() ([]*Record, error) {
		var batch []*Record
		for len(batch) < e.config.BatchSize {
			var record Record
			err := decoder.Decode(&record)
			if err == io.EOF {
				break
			}
			if err != nil {
				return batch, fmt.Errorf("json decode: %w", err)
			}
			batch = append(batch, &record)
		}
		return batch, nil
	})
}

// evaluateBatches pulls record batches from readBatch and fans them out
// to a worker pool until the reader is exhausted.
func (e *Evaluator) evaluateBatches(ctx context.Context, readBatch func() ([]*Record, error)) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		batch, err := readBatch()
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			return nil
		}

		records := make(chan *Record)
		var wg sync.WaitGroup
		for i := 0; i < e.config.WorkerCount; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for record := range records {
					e.evaluateRecord(ctx, record)
				}
			}()
		}
		for _, record := range batch {
			records <- record
		}
		close(records)
		wg.Wait()
	}
}

// evaluateRecord runs one document through the pipeline and folds the
// span comparison into the shared result.
func (e *Evaluator) evaluateRecord(ctx context.Context, record *Record) {
	e.mu.Lock()
	e.result.TotalRecords++
	e.mu.Unlock()

	if strings.TrimSpace(record.Text) == "" {
		e.recordFailure("empty document text")
		return
	}
	if err := record.decodeGold(); err != nil {
		e.recordFailure(err.Error())
		return
	}

	run, err := e.pipeline.Process(ctx, record.Text, pipeline.Mode(e.config.Mode), nil)
	if err != nil {
		e.recordFailure(fmt.Sprintf("process: %v", err))
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	e.result.EvaluatedOK++
	if run.Degraded {
		e.result.DegradedRuns++
	}
	e.score(run.Entities, record.Gold)
}

// score compares predicted occurrences to gold spans. A prediction
// counts as a true positive only on an exact span and type match.
// Caller holds the result lock.
func (e *Evaluator) score(predicted []entity.Entity, gold []GoldSpan) {
	matched := make([]bool, len(gold))

	for _, ent := range predicted {
		for _, pos := range ent.Positions {
			hit := false
			for i, g := range gold {
				if matched[i] || g.Type != ent.Type || g.Start != pos.Start || g.End != pos.End {
					continue
				}
				matched[i] = true
				hit = true
				break
			}
			m := e.metricsFor(ent.Type)
			if hit {
				m.TruePositives++
				e.result.Overall.TruePositives++
			} else {
				m.FalsePositives++
				e.result.Overall.FalsePositives++
			}
		}
	}

	for i, g := range gold {
		if matched[i] {
			continue
		}
		e.metricsFor(g.Type).FalseNegatives++
		e.result.Overall.FalseNegatives++
	}
}

func (e *Evaluator) metricsFor(t entity.Type) *TypeMetrics {
	m, ok := e.result.ByType[t]
	if !ok {
		m = &TypeMetrics{}
		e.result.ByType[t] = m
	}
	return m
}

func (e *Evaluator) recordFailure(msg string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.result.Failed++
	if len(e.result.Errors) < e.config.MaxErrors {
		e.result.Errors = append(e.result.Errors, msg)
	}
}
