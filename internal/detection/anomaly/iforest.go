package anomaly

import (
	"fmt"
	"math"
	"math/rand"
)

// IForestName identifies the isolation forest model.
const IForestName = "iforest"

const (
	defaultTrees       = 100
	defaultSampleSize  = 256
	defaultForestScore = 0.6
	eulerGamma         = 0.5772156649
)

// ForestOptions tunes the isolation forest. Zero values take the defaults.
type ForestOptions struct {
	Trees      int
	SampleSize int
	Threshold  float64
	Seed       int64
}

// Node is one node of an isolation tree. Leaves have no children.
type Node struct {
	Feature int     `json:"f,omitempty"`
	Split   float64 `json:"s,omitempty"`
	Size    int     `json:"n,omitempty"`
	Left    *Node   `json:"l,omitempty"`
	Right   *Node   `json:"r,omitempty"`
}

// IsolationForest isolates samples with random axis-aligned splits. Outliers
// are isolated in fewer splits, so their average path length is short.
type IsolationForest struct {
	Roots       []*Node `json:"trees"`
	SampleSize  int     `json:"sample_size"`
	NumTrees    int     `json:"num_trees"`
	Thresh      float64 `json:"threshold"`
	Seed        int64   `json:"seed"`
	NumFeatures int     `json:"width"`
}

// NewIsolationForest creates an unfitted forest.
func NewIsolationForest(opts ForestOptions) *IsolationForest {
	if opts.Trees <= 0 {
		opts.Trees = defaultTrees
	}
	if opts.SampleSize <= 0 {
		opts.SampleSize = defaultSampleSize
	}
	if opts.Threshold <= 0 {
		opts.Threshold = defaultForestScore
	}
	return &IsolationForest{
		NumTrees:   opts.Trees,
		SampleSize: opts.SampleSize,
		Thresh:     opts.Threshold,
		Seed:       opts.Seed,
	}
}

func (f *IsolationForest) Name() string { return IForestName }

func (f *IsolationForest) Threshold() float64 { return f.Thresh }

// Width returns the number of features the forest was fitted on.
func (f *IsolationForest) Width() int { return f.NumFeatures }

func (f *IsolationForest) Fit(data [][]float64) error {
	rng := rand.New(rand.NewSource(f.Seed))
	psi := f.SampleSize
	if psi > len(data) {
		psi = len(data)
	}
	limit := int(math.Ceil(math.Log2(float64(max(psi, 2)))))

	roots := make([]*Node, f.NumTrees)
	for i := range roots {
		sample := make([][]float64, psi)
		for j, idx := range rng.Perm(len(data))[:psi] {
			sample[j] = data[idx]
		}
		roots[i] = grow(sample, 0, limit, rng)
	}
	f.Roots = roots
	f.SampleSize = psi
	f.NumFeatures = len(data[0])
	return nil
}

func grow(data [][]float64, depth, limit int, rng *rand.Rand) *Node {
	if depth >= limit || len(data) <= 1 {
		return &Node{Size: len(data)}
	}

	// Pick a random feature among those that still vary.
	width := len(data[0])
	var candidates []int
	lo := make([]float64, width)
	hi := make([]float64, width)
	for j := 0; j < width; j++ {
		lo[j], hi[j] = data[0][j], data[0][j]
		for _, row := range data[1:] {
			lo[j] = math.Min(lo[j], row[j])
			hi[j] = math.Max(hi[j], row[j])
		}
		if hi[j] > lo[j] {
			candidates = append(candidates, j)
		}
	}
	if len(candidates) == 0 {
		return &Node{Size: len(data)}
	}

	feature := candidates[rng.Intn(len(candidates))]
	split := lo[feature] + rng.Float64()*(hi[feature]-lo[feature])
	var left, right [][]float64
	for _, row := range data {
		if row[feature] < split {
			left = append(left, row)
		} else {
			right = append(right, row)
		}
	}
	return &Node{
		Feature: feature,
		Split:   split,
		Left:    grow(left, depth+1, limit, rng),
		Right:   grow(right, depth+1, limit, rng),
	}
}

func (f *IsolationForest) PredictOne(sample []float64) (float64, error) {
	if len(sample) != f.NumFeatures {
		return 0, fmt.Errorf("sample has %d features, model has %d", len(sample), f.NumFeatures)
	}
	if len(f.Roots) == 0 {
		return 0, fmt.Errorf("isolation forest has no trees")
	}
	total := 0.0
	for _, root := range f.Roots {
		total += pathLength(root, sample, 0)
	}
	mean := total / float64(len(f.Roots))
	norm := averagePath(f.SampleSize)
	if norm == 0 {
		return 0, nil
	}
	return math.Pow(2, -mean/norm), nil
}

func pathLength(n *Node, sample []float64, depth int) float64 {
	for n.Left != nil {
		if sample[n.Feature] < n.Split {
			n = n.Left
		} else {
			n = n.Right
		}
		depth++
	}
	return float64(depth) + averagePath(n.Size)
}

// averagePath is the average path length of an unsuccessful search in a
// binary search tree of n nodes.
func averagePath(n int) float64 {
	switch {
	case n <= 1:
		return 0
	case n == 2:
		return 1
	default:
		h := math.Log(float64(n-1)) + eulerGamma
		return 2*h - 2*float64(n-1)/float64(n)
	}
}
