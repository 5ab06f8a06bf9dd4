package anomaly

import (
	"fmt"
	"math"
)

// ZScoreName identifies the z-score model.
const ZScoreName = "zscore"

const (
	defaultZThreshold     = 3.0
	defaultMinSpreadRatio = 0.05
	defaultMinSpread      = 1e-3
)

// Welford keeps a running mean and variance without storing history.
type Welford struct {
	Count int64   `json:"count"`
	Mean  float64 `json:"mean"`
	M2    float64 `json:"m2"`
}

// Update adds a new value.
func (w *Welford) Update(v float64) {
	w.Count++
	delta := v - w.Mean
	w.Mean += delta / float64(w.Count)
	w.M2 += delta * (v - w.Mean)
}

// Variance returns the sample variance.
func (w *Welford) Variance() float64 {
	if w.Count < 2 {
		return 0
	}
	return w.M2 / float64(w.Count-1)
}

// StdDev returns the sample standard deviation.
func (w *Welford) StdDev() float64 {
	return math.Sqrt(w.Variance())
}

// ZScoreOptions tunes the z-score model. Zero values take the defaults.
type ZScoreOptions struct {
	Threshold      float64
	MinSpreadRatio float64
	MinSpread      float64
}

// ZScore scores a sample by its largest per-dimension z-score.
//
// The spread of each dimension is floored at max(stddev, MinSpreadRatio*|mean|, MinSpread),
// so a column that was constant during training still yields a finite score.
type ZScore struct {
	Dims           []Welford `json:"dims"`
	Thresh         float64   `json:"threshold"`
	MinSpreadRatio float64   `json:"min_spread_ratio"`
	MinSpread      float64   `json:"min_spread"`
}

// NewZScore creates an unfitted z-score model.
func NewZScore(opts ZScoreOptions) *ZScore {
	if opts.Threshold <= 0 {
		opts.Threshold = defaultZThreshold
	}
	if opts.MinSpreadRatio <= 0 {
		opts.MinSpreadRatio = defaultMinSpreadRatio
	}
	if opts.MinSpread <= 0 {
		opts.MinSpread = defaultMinSpread
	}
	return &ZScore{Thresh: opts.Threshold, MinSpreadRatio: opts.MinSpreadRatio, MinSpread: opts.MinSpread}
}

func (z *ZScore) Name() string { return ZScoreName }

func (z *ZScore) Threshold() float64 { return z.Thresh }

// Width returns the number of fitted dimensions.
func (z *ZScore) Width() int { return len(z.Dims) }

func (z *ZScore) Fit(data [][]float64) error {
	dims := make([]Welford, len(data[0]))
	for _, row := range data {
		for j, v := range row {
			dims[j].Update(v)
		}
	}
	z.Dims = dims
	return nil
}

func (z *ZScore) PredictOne(sample []float64) (float64, error) {
	if len(sample) != len(z.Dims) {
		return 0, fmt.Errorf("sample has %d features, model has %d", len(sample), len(z.Dims))
	}
	score := 0.0
	for j, v := range sample {
		d := z.Dims[j]
		spread := math.Max(d.StdDev(), math.Max(z.MinSpreadRatio*math.Abs(d.Mean), z.MinSpread))
		if s := math.Abs(v-d.Mean) / spread; s > score {
			score = s
		}
	}
	return score, nil
}
