package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/fbellamy/anonymiseur/internal/cache"
	"github.com/fbellamy/anonymiseur/internal/config"
	"github.com/fbellamy/anonymiseur/internal/corpus"
	"github.com/fbellamy/anonymiseur/internal/detect"
	"github.com/fbellamy/anonymiseur/internal/entity"
	"github.com/fbellamy/anonymiseur/internal/logger"
	"github.com/fbellamy/anonymiseur/internal/pipeline"
	"github.com/fbellamy/anonymiseur/internal/reconcile"
)

func main() {
	var (
		configPath = flag.String("config", "configs/default.yaml", "Configuration file path")
		inputFile  = flag.String("input", "", "Annotated corpus file (CSV, Parquet, or JSON lines)")
		mode       = flag.String("mode", "standard", "Detection mode: standard, advanced, or ollama")
		batchSize  = flag.Int("batch-size", 100, "Batch size for processing")
		workers    = flag.Int("workers", 4, "Number of worker goroutines")
		jsonOutput = flag.Bool("json", false, "Print the full result as JSON")
	)
	flag.Parse()

	if *inputFile == "" {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s --input corpus.parquet --mode advanced\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --input corpus.csv --workers 8 --json\n", os.Args[0])
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Info("Received shutdown signal, cancelling evaluation...")
		cancel()
	}()

	pattern, err := detect.NewPattern(cfg.Detection, log.WithComponent("pattern"))
	if err != nil {
		log.Fatal("Failed to build pattern detector", zap.Error(err))
	}
	ner := detect.NewNER(cfg.NER, log.WithComponent("ner"))
	defer ner.Close()
	ollama := detect.NewOllama(cfg.Ollama, log.WithComponent("ollama"))

	var resultCache *cache.ResultCache
	if cfg.Cache.Enabled {
		resultCache, err = cache.NewResultCache(cfg.Cache, log.WithComponent("cache").Logger)
		if err != nil {
			log.Warn("Result cache unavailable, evaluating without it", zap.Error(err))
		} else {
			defer resultCache.Close()
		}
	}

	p := pipeline.New(pattern, ner, ollama, reconcile.New(log.WithComponent("reconcile")),
		resultCache, log.WithComponent("pipeline"))

	evaluator := corpus.NewEvaluator(p, &corpus.Config{
		Mode:        *mode,
		BatchSize:   *batchSize,
		WorkerCount: *workers,
	}, log.WithComponent("corpus"))

	result, err := evaluator.EvaluateFile(ctx, *inputFile)
	if err != nil {
		log.Fatal("Corpus evaluation failed", zap.Error(err))
	}

	if *jsonOutput {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(result); err != nil {
			log.Fatal("Failed to encode result", zap.Error(err))
		}
		return
	}

	printReport(result)
}

func printReport(result *corpus.Result) {
	fmt.Printf("Records evaluated: %d (%d failed, %d degraded)\n",
		result.EvaluatedOK, result.Failed, result.DegradedRuns)
	fmt.Printf("Duration: %s\n\n", result.Duration.Round(time.Millisecond))

	fmt.Printf("%-14s %9s %9s %9s %6s %6s %6s\n",
		"type", "tp", "fp", "fn", "prec", "rec", "f1")

	types := make([]string, 0, len(result.ByType))
	for t := range result.ByType {
		types = append(types, string(t))
	}
	sort.Strings(types)

	for _, t := range types {
		m := result.ByType[entity.Type(t)]
		fmt.Printf("%-14s %9d %9d %9d %6.3f %6.3f %6.3f\n",
			t, m.TruePositives, m.FalsePositives, m.FalseNegatives,
			m.Precision(), m.Recall(), m.F1())
	}

	o := result.Overall
	fmt.Printf("%-14s %9d %9d %9d %6.3f %6.3f %6.3f\n",
		"overall", o.TruePositives, o.FalsePositives, o.FalseNegatives,
		o.Precision(), o.Recall(), o.F1())
}
