package anomaly

import (
	"Go2NetSentinel/internal/config"
	"Go2NetSentinel/internal/errors"
	"Go2NetSentinel/internal/model"
	"encoding/json"
	"fmt"
	"math"
	"sync"
)

var (
	// ErrUntrained is returned by Score until a successful Train or Load.
	ErrUntrained = errors.New(errors.KindUntrained, "anomaly model is not trained")
	// ErrDimensionMismatch is returned when a sample width differs from the training width.
	ErrDimensionMismatch = errors.New(errors.KindDimensionMismatch, "feature dimension mismatch")
)

// Scorer owns the fitted anomaly model. Training replaces the model atomically,
// so scoring may run concurrently with retraining.
type Scorer struct {
	mu       sync.RWMutex
	newModel func() Model
	model    Model
	dim      int
}

// NewScorer creates an untrained scorer that fits models built by newModel.
func NewScorer(newModel func() Model) *Scorer {
	return &Scorer{newModel: newModel}
}

// FromConfig creates an untrained scorer for the configured model.
func FromConfig(cfg config.AnomalyConfig) (*Scorer, error) {
	switch cfg.Model {
	case "", ZScoreName:
		return NewScorer(func() Model {
			return NewZScore(ZScoreOptions{Threshold: cfg.Threshold})
		}), nil
	case IForestName:
		return NewScorer(func() Model {
			return NewIsolationForest(ForestOptions{
				Trees:      cfg.Trees,
				SampleSize: cfg.SampleSize,
				Threshold:  cfg.Threshold,
				Seed:       cfg.Seed,
			})
		}), nil
	default:
		return nil, errors.Errorf(errors.KindValidation, "unknown anomaly model: '%s'", cfg.Model)
	}
}

// Train fits a fresh model and replaces any previous one. On error the
// previous model stays in place.
func (s *Scorer) Train(samples [][]float64) error {
	width, err := validate(samples)
	if err != nil {
		return err
	}
	m := s.newModel()
	if err := m.Fit(samples); err != nil {
		return errors.Wrap(err, errors.KindInternal, "failed to fit anomaly model")
	}

	s.mu.Lock()
	s.model = m
	s.dim = width
	s.mu.Unlock()
	return nil
}

// Trained reports whether a model is available.
func (s *Scorer) Trained() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.model != nil
}

// Dimension returns the training width, or 0 when untrained.
func (s *Scorer) Dimension() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dim
}

// ScoreVector scores a raw sample and reports whether it reaches the model threshold.
func (s *Scorer) ScoreVector(sample []float64) (float64, bool, error) {
	m, dim := s.current()
	return scoreWith(m, dim, sample)
}

// current returns the fitted model and its width as one consistent pair.
func (s *Scorer) current() (Model, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.model, s.dim
}

func scoreWith(m Model, dim int, sample []float64) (float64, bool, error) {
	if m == nil {
		return 0, false, ErrUntrained
	}
	if len(sample) != dim {
		err := errors.Attr(ErrDimensionMismatch, "expected", dim)
		return 0, false, errors.Attr(err, "got", len(sample))
	}
	if err := checkFinite(sample); err != nil {
		return 0, false, errors.Wrap(err, errors.KindValidation, "invalid sample")
	}

	score, err := m.PredictOne(sample)
	if err != nil {
		return 0, false, errors.Wrap(err, errors.KindInternal, "anomaly prediction failed")
	}
	return score, score >= m.Threshold(), nil
}

// Score returns an anomaly event when the vector's projection is anomalous,
// and nil when it is not. The score, threshold and description all come from
// the same fitted model even if Train runs concurrently.
func (s *Scorer) Score(fv model.FeatureVector) (*model.ThreatEvent, error) {
	m, dim := s.current()
	score, anomalous, err := scoreWith(m, dim, fv.Projection())
	if err != nil {
		return nil, err
	}
	if !anomalous {
		return nil, nil
	}

	confidence := math.Min(1, score/(2*m.Threshold()))
	severity := model.SeverityMedium
	if confidence >= 0.8 {
		severity = model.SeverityHigh
	}
	return &model.ThreatEvent{
		Kind:        model.KindAnomaly,
		RuleID:      model.AnomalyRuleID,
		Description: fmt.Sprintf("%s score %.2f exceeds threshold %.2f", m.Name(), score, m.Threshold()),
		Severity:    severity,
		Confidence:  confidence,
		Score:       score,
		Features:    fv,
	}, nil
}

type persisted struct {
	Model     string          `json:"model"`
	Dimension int             `json:"dimension"`
	State     json.RawMessage `json:"state"`
}

// Save serializes the fitted model.
func (s *Scorer) Save() ([]byte, error) {
	m, dim := s.current()
	if m == nil {
		return nil, ErrUntrained
	}

	state, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s model: %w", m.Name(), err)
	}
	return json.Marshal(persisted{Model: m.Name(), Dimension: dim, State: state})
}

// Load replaces the model with one produced by Save.
func (s *Scorer) Load(data []byte) error {
	var p persisted
	if err := json.Unmarshal(data, &p); err != nil {
		return errors.Wrap(err, errors.KindValidation, "failed to decode anomaly model")
	}
	ctor, ok := constructors[p.Model]
	if !ok {
		return errors.Errorf(errors.KindValidation, "unknown anomaly model: '%s'", p.Model)
	}
	if p.Dimension <= 0 {
		return errors.New(errors.KindValidation, "persisted anomaly model has no dimension")
	}
	m := ctor()
	if err := json.Unmarshal(p.State, m); err != nil {
		return errors.Wrap(err, errors.KindValidation, "failed to decode anomaly model state")
	}
	if w := m.Width(); w != p.Dimension {
		return errors.Errorf(errors.KindValidation, "persisted %s model has width %d, dimension says %d", p.Model, w, p.Dimension)
	}

	s.mu.Lock()
	s.model = m
	s.dim = p.Dimension
	s.mu.Unlock()
	return nil
}
