package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"flightdelay/artifact"
	"flightdelay/config"
	"flightdelay/dataset"
	"flightdelay/db"
	"flightdelay/lifecycle"
	"flightdelay/logging"
	"flightdelay/ml"
	"flightdelay/pipeline"
	"flightdelay/schema"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config")
	dataPath := flag.String("data", "", "training CSV, overrides data.path")
	evalPath := flag.String("eval", "", "optional CSV scored with the frozen pipeline after training")
	importONNX := flag.String("import-onnx", "", "bundle this ONNX classifier instead of fitting one")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if *dataPath != "" {
		cfg.Data.Path = *dataPath
	}
	logger, err := logging.Init(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	version, err := run(ctx, cfg, *evalPath, *importONNX, logger)
	stop()
	if err != nil {
		logger.Error("training failed", zap.Error(err))
		_ = logging.Sync()
		os.Exit(1)
	}
	_ = logging.Sync()

	fmt.Println(version)
}

func run(ctx context.Context, cfg *config.Config, evalPath, importONNX string, logger *zap.Logger) (version string, err error) {
	if err := db.InitDB(cfg.Database.Path); err != nil {
		return "", fmt.Errorf("init database: %w", err)
	}
	defer func() { err = multierr.Append(err, db.Close()) }()

	dataOpts := dataset.Options{Encoding: cfg.Data.Encoding, Delimiter: cfg.Data.DelimiterRune()}
	ds, err := dataset.LoadFile(cfg.Data.Path, dataOpts)
	if err != nil {
		return "", err
	}
	logger.Info("training data loaded", zap.String("path", cfg.Data.Path), zap.Int("rows", ds.Len()))
	report := dataset.NewAuditor().Audit(ds)
	if report.Clean < report.Total {
		logger.Warn("training data has quality issues",
			zap.Int("rows", report.Total),
			zap.Int("clean", report.Clean),
			zap.Any("issues", report.Issues),
			zap.Any("samples", report.Samples))
	}

	var allow *schema.Schema
	if cfg.Schema.File != "" {
		if allow, err = schema.LoadFile(cfg.Schema.File); err != nil {
			return "", err
		}
	}
	p := pipeline.New(pipeline.Options{Schema: allow, DelayThreshold: cfg.Training.DelayThreshold})
	set, err := p.PreprocessTraining(ds)
	if err != nil {
		return "", err
	}

	store := artifact.NewStore(cfg.Artifacts.Dir, cfg.Artifacts.ONNX)
	manager := lifecycle.NewManager(p, store, cfg.Lifecycle())

	var bundle *artifact.Bundle
	if importONNX != "" {
		clf, err := ml.LoadONNXClassifier(importONNX, cfg.Artifacts.ONNX)
		if err != nil {
			return "", err
		}
		defer clf.Destroy()
		if bundle, err = manager.Import(ctx, clf); err != nil {
			return "", err
		}
	} else {
		if bundle, err = manager.Fit(ctx, set.Features, set.Labels); err != nil {
			return "", err
		}
	}

	metrics, err := manager.Evaluate(set.Features, set.Labels)
	if err != nil {
		return "", fmt.Errorf("evaluate training set: %w", err)
	}
	logMetrics(logger, "training set", metrics)

	if err := recordRun(bundle, metrics, set.Labels, report); err != nil {
		logger.Warn("failed to record training run", zap.Error(err))
	}

	if evalPath != "" {
		evalDS, err := dataset.LoadFile(evalPath, dataOpts)
		if err != nil {
			return "", err
		}
		evalSet, err := manager.Pipeline().PreprocessEvaluation(evalDS)
		if err != nil {
			return "", err
		}
		evalMetrics, err := manager.Evaluate(evalSet.Features, evalSet.Labels)
		if err != nil {
			return "", fmt.Errorf("evaluate %s: %w", evalPath, err)
		}
		logMetrics(logger, evalPath, evalMetrics)
	}
	return bundle.Version(), nil
}

func logMetrics(logger *zap.Logger, scope string, m ml.Metrics) {
	logger.Info("evaluation",
		zap.String("scope", scope),
		zap.Int("support", m.Support),
		zap.Float64("accuracy", m.Accuracy),
		zap.Float64("precision", m.Precision),
		zap.Float64("recall", m.Recall),
		zap.Float64("f1", m.F1),
		zap.Int("tp", m.TP),
		zap.Int("fp", m.FP),
		zap.Int("tn", m.TN),
		zap.Int("fn", m.FN),
	)
}

func recordRun(bundle *artifact.Bundle, m ml.Metrics, labels []int, report dataset.QualityReport) error {
	meta := bundle.Metadata()
	var params []byte
	if meta.Params != nil {
		var err error
		if params, err = json.Marshal(meta.Params); err != nil {
			return err
		}
	}
	positives := 0
	for _, y := range labels {
		positives += y
	}
	issues := make([]db.QualityIssue, len(report.Samples))
	for i, issue := range report.Samples {
		issues[i] = db.QualityIssue{Rule: issue.Rule, Row: issue.Row, Message: issue.Message}
	}
	if err := db.SaveQualityIssues(meta.Version, issues); err != nil {
		return err
	}
	return db.SaveTrainingLog(db.TrainingLog{
		Version:       meta.Version,
		ModelName:     meta.ClassifierKind,
		SchemaVersion: meta.SchemaVersion,
		Accuracy:      m.Accuracy,
		Precision:     m.Precision,
		Recall:        m.Recall,
		F1:            m.F1,
		SearchF1:      meta.SearchF1,
		Params:        string(params),
		TrainedAt:     meta.CreatedAt,
		DataPoints:    len(labels),
		Positives:     positives,
	})
}
