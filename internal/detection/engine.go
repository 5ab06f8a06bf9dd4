// Package detection combines signature matching and anomaly scoring into a
// single threat list per feature vector.
package detection

import (
	"Go2NetSentinel/internal/config"
	"Go2NetSentinel/internal/detection/anomaly"
	"Go2NetSentinel/internal/detection/signature"
	"Go2NetSentinel/internal/errors"
	"Go2NetSentinel/internal/metrics"
	"Go2NetSentinel/internal/model"
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"
)

// Engine runs both detection strategies on every feature vector.
type Engine struct {
	matcher *signature.Matcher
	scorer  *anomaly.Scorer
	strict  bool
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewEngine creates an engine. In strict mode an untrained scorer is reported
// as an error alongside the signature results; otherwise it is skipped and counted.
func NewEngine(matcher *signature.Matcher, scorer *anomaly.Scorer, strict bool, m *metrics.Metrics) *Engine {
	if m == nil {
		m = metrics.New()
	}
	return &Engine{
		matcher: matcher,
		scorer:  scorer,
		strict:  strict,
		metrics: m,
		now:     time.Now,
	}
}

// Build assembles an engine from configuration: built-in, file and rego
// signatures, the configured anomaly model, and an optional initial fit.
func Build(ctx context.Context, cfg config.DetectionConfig, m *metrics.Metrics) (*Engine, error) {
	var rules []signature.Rule
	if !cfg.Signature.DisableBuiltin {
		rules = append(rules, signature.DefaultRules()...)
	}
	if cfg.Signature.RulesFile != "" {
		fileRules, err := signature.LoadRulesFile(cfg.Signature.RulesFile)
		if err != nil {
			return nil, err
		}
		rules = append(rules, fileRules...)
	}
	for _, def := range cfg.Signature.RegoRules {
		r, err := signature.LoadRegoRule(ctx, signature.RegoSource{
			ID:          def.ID,
			Description: def.Description,
			Severity:    model.ParseSeverity(def.Severity),
			Query:       def.Query,
		}, def.Module)
		if err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}

	matcher, err := signature.NewMatcher(rules...)
	if err != nil {
		return nil, err
	}
	log.Printf("Loaded %d signature rules", len(rules))

	scorer, err := anomaly.FromConfig(cfg.Anomaly)
	if err != nil {
		return nil, err
	}
	e := NewEngine(matcher, scorer, cfg.Strict, m)

	switch {
	case cfg.Anomaly.ModelPath != "" && fileExists(cfg.Anomaly.ModelPath):
		data, err := os.ReadFile(cfg.Anomaly.ModelPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read anomaly model: %w", err)
		}
		if err := scorer.Load(data); err != nil {
			return nil, err
		}
		log.Printf("Loaded anomaly model from %s", cfg.Anomaly.ModelPath)
	case cfg.Anomaly.TrainingFile != "":
		samples, err := LoadTrainingFile(cfg.Anomaly.TrainingFile)
		if err != nil {
			return nil, err
		}
		if err := e.TrainAnomalyDetector(samples); err != nil {
			return nil, err
		}
		log.Printf("Trained %s anomaly model on %d samples", cfg.Anomaly.Model, len(samples))
	default:
		log.Println("Warning: anomaly model is untrained; only signatures will be evaluated")
	}
	return e, nil
}

// Detect returns the signature results followed by the anomaly result, if any.
// Signature results are returned even when the anomaly stage fails.
func (e *Engine) Detect(fv model.FeatureVector) ([]model.ThreatEvent, error) {
	threats := e.matcher.Match(fv)

	ev, err := e.scorer.Score(fv)
	switch {
	case err == nil:
		if ev != nil {
			threats = append(threats, *ev)
		}
	case errors.Is(err, anomaly.ErrUntrained):
		e.metrics.AnomalySkipped.WithLabelValues("untrained").Inc()
		if !e.strict {
			err = nil
		}
	}

	now := e.now()
	for i := range threats {
		threats[i].ID = uuid.NewString()
		threats[i].DetectedAt = now
		e.metrics.Threats.WithLabelValues(string(threats[i].Kind), threats[i].RuleID).Inc()
	}
	return threats, err
}

// TrainAnomalyDetector fits the anomaly model on known-normal samples,
// replacing any previous fit.
func (e *Engine) TrainAnomalyDetector(samples [][]float64) error {
	return e.scorer.Train(samples)
}

// Scorer returns the engine's anomaly scorer.
func (e *Engine) Scorer() *anomaly.Scorer {
	return e.scorer
}

// Rules returns the loaded signature ids.
func (e *Engine) Rules() []string {
	return e.matcher.Rules()
}

type trainingFile struct {
	Samples [][]float64 `yaml:"samples"`
}

// LoadTrainingFile reads training rows from a YAML or JSON file of the form
// {"samples": [[...], ...]}.
func LoadTrainingFile(path string) ([][]float64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read training file: %w", err)
	}
	var tf trainingFile
	if err := yaml.Unmarshal(data, &tf); err != nil {
		return nil, errors.Wrap(err, errors.KindValidation, "failed to decode training file")
	}
	return tf.Samples, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// SaveModel writes the fitted anomaly model to path.
func (e *Engine) SaveModel(path string) error {
	data, err := e.scorer.Save()
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write anomaly model: %w", err)
	}
	return nil
}
