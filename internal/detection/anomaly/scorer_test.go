package anomaly

import (
	"Go2NetSentinel/internal/config"
	"Go2NetSentinel/internal/errors"
	"Go2NetSentinel/internal/model"
	"math"
	"math/rand"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var baseline = [][]float64{{100, 1, 100}, {200, 2, 100}, {150, 1.5, 100}}

func zscoreScorer() *Scorer {
	return NewScorer(func() Model { return NewZScore(ZScoreOptions{}) })
}

func TestWelford(t *testing.T) {
	var w Welford
	for _, v := range []float64{2, 4, 4, 4, 5, 5, 7, 9} {
		w.Update(v)
	}
	assert.Equal(t, int64(8), w.Count)
	assert.Equal(t, 5.0, w.Mean)
	assert.InDelta(t, 32.0/7, w.Variance(), 1e-9)
}

func TestUntrainedScoreAlwaysFails(t *testing.T) {
	s := zscoreScorer()
	fv := model.FeatureVector{PacketSize: 60, PacketRate: 1, ByteRate: 60}

	for i := 0; i < 3; i++ {
		ev, err := s.Score(fv)
		assert.Nil(t, ev)
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrUntrained))
		assert.Equal(t, errors.KindUntrained, errors.GetKind(err))
	}
	assert.False(t, s.Trained())
	assert.Equal(t, 0, s.Dimension())
}

func TestTrainedScorerFlagsBurst(t *testing.T) {
	s := zscoreScorer()
	require.NoError(t, s.Train(baseline))
	assert.True(t, s.Trained())
	assert.Equal(t, model.ProjectionWidth, s.Dimension())

	burst := model.FeatureVector{PacketSize: 150, PacketRate: 100000, ByteRate: 100}
	ev, err := s.Score(burst)
	require.NoError(t, err)
	require.NotNil(t, ev)
	assert.Equal(t, model.KindAnomaly, ev.Kind)
	assert.Equal(t, model.AnomalyRuleID, ev.RuleID)
	assert.GreaterOrEqual(t, ev.Score, defaultZThreshold)
	assert.True(t, ev.Confidence > 0 && ev.Confidence <= 1)
	assert.Equal(t, burst, ev.Features)

	normal := model.FeatureVector{PacketSize: 160, PacketRate: 1.6, ByteRate: 100}
	ev, err = s.Score(normal)
	require.NoError(t, err)
	assert.Nil(t, ev)
}

func TestConstantColumnIsFinite(t *testing.T) {
	s := zscoreScorer()
	require.NoError(t, s.Train(baseline))

	score, anomalous, err := s.ScoreVector([]float64{150, 1.5, 101})
	require.NoError(t, err)
	assert.False(t, math.IsInf(score, 0) || math.IsNaN(score))
	assert.False(t, anomalous)

	score, anomalous, err = s.ScoreVector([]float64{150, 1.5, 1000})
	require.NoError(t, err)
	assert.False(t, math.IsInf(score, 0))
	assert.True(t, anomalous)
}

func TestDimensionMismatch(t *testing.T) {
	s := zscoreScorer()
	require.NoError(t, s.Train([][]float64{{1, 2}, {2, 3}}))

	_, err := s.Score(model.FeatureVector{PacketSize: 1})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDimensionMismatch))
	attrs := errors.GetAttributes(err)
	assert.Equal(t, 2, attrs["expected"])
	assert.Equal(t, 3, attrs["got"])
}

func TestTrainReplacesModel(t *testing.T) {
	s := zscoreScorer()
	require.NoError(t, s.Train(baseline))
	sample := []float64{150, 100000, 100}
	_, anomalous, err := s.ScoreVector(sample)
	require.NoError(t, err)
	assert.True(t, anomalous)

	// Retraining on data that contains the burst makes it ordinary.
	require.NoError(t, s.Train([][]float64{{150, 90000, 100}, {150, 110000, 100}, {150, 100000, 100}}))
	_, anomalous, err = s.ScoreVector(sample)
	require.NoError(t, err)
	assert.False(t, anomalous)

	require.NoError(t, s.Train([][]float64{{1}, {2}}))
	assert.Equal(t, 1, s.Dimension())
	_, _, err = s.ScoreVector(sample)
	assert.True(t, errors.Is(err, ErrDimensionMismatch))
}

func TestTrainRejectsBadSamples(t *testing.T) {
	s := zscoreScorer()
	require.NoError(t, s.Train(baseline))

	bad := map[string][][]float64{
		"empty":  nil,
		"ragged": {{1, 2, 3}, {1, 2}},
		"nan":    {{1, math.NaN(), 3}},
		"inf":    {{1, math.Inf(1), 3}},
		"width0": {{}},
	}
	for name, samples := range bad {
		err := s.Train(samples)
		require.Error(t, err, name)
		assert.Equal(t, errors.KindValidation, errors.GetKind(err), name)
	}

	// The previous fit survives failed training.
	assert.True(t, s.Trained())
	assert.Equal(t, 3, s.Dimension())
}

func TestSaveLoad(t *testing.T) {
	s := zscoreScorer()
	_, err := s.Save()
	assert.True(t, errors.Is(err, ErrUntrained))

	require.NoError(t, s.Train(baseline))
	data, err := s.Save()
	require.NoError(t, err)

	restored := zscoreScorer()
	require.NoError(t, restored.Load(data))
	assert.Equal(t, 3, restored.Dimension())

	for _, sample := range [][]float64{{150, 1.5, 100}, {150, 100000, 100}} {
		want, _, err := s.ScoreVector(sample)
		require.NoError(t, err)
		got, _, err := restored.ScoreVector(sample)
		require.NoError(t, err)
		assert.InDelta(t, want, got, 1e-9)
	}

	assert.Error(t, restored.Load([]byte(`{"model":"nope","dimension":3,"state":{}}`)))
	assert.Error(t, restored.Load([]byte(`not json`)))
}

func TestLoadRejectsWidthMismatch(t *testing.T) {
	s := zscoreScorer()
	require.NoError(t, s.Train(baseline))
	data, err := s.Save()
	require.NoError(t, err)

	bad := strings.Replace(string(data), `"dimension":3`, `"dimension":2`, 1)
	require.NotEqual(t, string(data), bad)

	restored := zscoreScorer()
	err = restored.Load([]byte(bad))
	require.Error(t, err)
	assert.Equal(t, errors.KindValidation, errors.GetKind(err))
	assert.False(t, restored.Trained())

	forest := NewScorer(func() Model { return NewIsolationForest(ForestOptions{Trees: 10, Seed: 1}) })
	require.NoError(t, forest.Train(forestTraining()))
	data, err = forest.Save()
	require.NoError(t, err)
	bad = strings.Replace(string(data), `"width":3`, `"width":4`, 1)
	require.NotEqual(t, string(data), bad)
	err = restored.Load([]byte(bad))
	assert.Equal(t, errors.KindValidation, errors.GetKind(err))
}

// fixedModel scores every sample at 1.5 times its threshold.
type fixedModel struct {
	thresh float64
	width  int
}

func (f *fixedModel) Name() string { return "fixed" }
func (f *fixedModel) Fit(data [][]float64) error {
	f.width = len(data[0])
	return nil
}
func (f *fixedModel) PredictOne([]float64) (float64, error) { return 1.5 * f.thresh, nil }
func (f *fixedModel) Threshold() float64                    { return f.thresh }
func (f *fixedModel) Width() int                            { return f.width }

func TestScoreUsesOneModelDuringRetrain(t *testing.T) {
	var fits atomic.Int64
	s := NewScorer(func() Model {
		if fits.Add(1)%2 == 0 {
			return &fixedModel{thresh: 100}
		}
		return &fixedModel{thresh: 1}
	})
	require.NoError(t, s.Train(baseline))

	fv := model.FeatureVector{PacketSize: 100, PacketRate: 1, ByteRate: 100}
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			_ = s.Train(baseline)
		}
	}()
	for i := 0; i < 2000; i++ {
		ev, err := s.Score(fv)
		require.NoError(t, err)
		require.NotNil(t, ev)
		// Score 1.5x the threshold of the same model always gives 0.75.
		require.InDelta(t, 0.75, ev.Confidence, 1e-9, "score %v paired with a foreign threshold", ev.Score)
	}
	wg.Wait()
}

func forestTraining() [][]float64 {
	rng := rand.New(rand.NewSource(1))
	data := make([][]float64, 256)
	for i := range data {
		data[i] = []float64{
			500 + 50*rng.NormFloat64(),
			10 + rng.NormFloat64(),
			5000 + 500*rng.NormFloat64(),
		}
	}
	return data
}

func TestIsolationForest(t *testing.T) {
	s, err := FromConfig(config.AnomalyConfig{Model: IForestName, Trees: 100, SampleSize: 128, Threshold: 0.55, Seed: 7})
	require.NoError(t, err)
	require.NoError(t, s.Train(forestTraining()))

	outlier, anomalous, err := s.ScoreVector([]float64{5000, 900, 700000})
	require.NoError(t, err)
	assert.True(t, anomalous)
	assert.LessOrEqual(t, outlier, 1.0)

	inlier, _, err := s.ScoreVector([]float64{500, 10, 5000})
	require.NoError(t, err)
	assert.Greater(t, outlier, inlier)

	data, err := s.Save()
	require.NoError(t, err)
	restored := zscoreScorer()
	require.NoError(t, restored.Load(data))
	again, _, err := restored.ScoreVector([]float64{5000, 900, 700000})
	require.NoError(t, err)
	assert.InDelta(t, outlier, again, 1e-9)
}

func TestFromConfigUnknownModel(t *testing.T) {
	_, err := FromConfig(config.AnomalyConfig{Model: "svm"})
	assert.Equal(t, errors.KindValidation, errors.GetKind(err))
}
