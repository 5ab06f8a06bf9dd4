package detection

import (
	"Go2NetSentinel/internal/config"
	"Go2NetSentinel/internal/detection/anomaly"
	"Go2NetSentinel/internal/detection/signature"
	"Go2NetSentinel/internal/errors"
	"Go2NetSentinel/internal/model"
	"context"
	"net/netip"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var baseline = [][]float64{{100, 1, 100}, {200, 2, 100}, {150, 1.5, 100}}

func newEngine(t *testing.T, strict bool) *Engine {
	t.Helper()
	matcher, err := signature.NewMatcher(signature.DefaultRules()...)
	require.NoError(t, err)
	scorer := anomaly.NewScorer(func() anomaly.Model { return anomaly.NewZScore(anomaly.ZScoreOptions{}) })
	return NewEngine(matcher, scorer, strict, nil)
}

func firstSyn(dport uint16) model.FeatureVector {
	return model.FeatureVector{
		Key: model.FlowKey{
			SrcIP:   netip.MustParseAddr("10.1.1.1"),
			DstIP:   netip.MustParseAddr("10.2.2.2"),
			SrcPort: 40000,
			DstPort: dport,
		},
		PacketSize:   60,
		FlowDuration: model.Epsilon,
		PacketRate:   1 / model.Epsilon,
		ByteRate:     60 / model.Epsilon,
		Flags:        model.FlagSYN,
		WindowSize:   64240,
		PacketCount:  1,
	}
}

func kinds(threats []model.ThreatEvent) map[model.ThreatKind]int {
	out := make(map[model.ThreatKind]int)
	for _, th := range threats {
		out[th.Kind]++
	}
	return out
}

func TestUntrainedLenientReturnsSignaturesOnly(t *testing.T) {
	e := newEngine(t, false)
	threats, err := e.Detect(firstSyn(8443))
	require.NoError(t, err)
	assert.Zero(t, kinds(threats)[model.KindAnomaly])
	for _, th := range threats {
		assert.Equal(t, model.KindSignature, th.Kind)
		assert.NotEmpty(t, th.ID)
		assert.False(t, th.DetectedAt.IsZero())
	}
}

func TestUntrainedStrictReportsError(t *testing.T) {
	e := newEngine(t, true)
	threats, err := e.Detect(firstSyn(80))
	require.Error(t, err)
	assert.Equal(t, errors.KindUntrained, errors.GetKind(err))

	ids := make([]string, 0, len(threats))
	for _, th := range threats {
		ids = append(ids, th.RuleID)
	}
	assert.Contains(t, ids, "lone_syn_common_port")
}

func TestLoneSynReportedOnce(t *testing.T) {
	e := newEngine(t, false)
	threats, err := e.Detect(firstSyn(80))
	require.NoError(t, err)

	count := 0
	for _, th := range threats {
		if th.RuleID == "lone_syn_common_port" {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestTrainedEngineFlagsBurst(t *testing.T) {
	e := newEngine(t, true)
	require.NoError(t, e.TrainAnomalyDetector(baseline))

	fv := firstSyn(8443)
	fv.PacketSize = 150
	fv.PacketRate = 100000
	fv.ByteRate = 100
	fv.Flags = model.FlagACK
	fv.PacketCount = 10

	threats, err := e.Detect(fv)
	require.NoError(t, err)
	require.Equal(t, 1, kinds(threats)[model.KindAnomaly])

	last := threats[len(threats)-1]
	assert.Equal(t, model.KindAnomaly, last.Kind)
	assert.Equal(t, model.AnomalyRuleID, last.RuleID)
	assert.GreaterOrEqual(t, last.Score, 3.0)
}

func TestDimensionMismatchIsReported(t *testing.T) {
	e := newEngine(t, false)
	require.NoError(t, e.TrainAnomalyDetector([][]float64{{1, 2}, {3, 4}}))

	threats, err := e.Detect(firstSyn(80))
	require.Error(t, err)
	assert.Equal(t, errors.KindDimensionMismatch, errors.GetKind(err))
	assert.NotEmpty(t, threats)
}

func TestBuildFromConfig(t *testing.T) {
	dir := t.TempDir()
	trainPath := filepath.Join(dir, "training.yaml")
	require.NoError(t, os.WriteFile(trainPath, []byte("samples:\n  - [100, 1, 100]\n  - [200, 2, 100]\n  - [150, 1.5, 100]\n"), 0o644))
	regoPath := filepath.Join(dir, "telnet.rego")
	require.NoError(t, os.WriteFile(regoPath, []byte("package sentinel.rules.telnet\n\ndefault match := false\n\nmatch if {\n\tinput.dst_port == 23\n}\n"), 0o644))

	cfg := config.DetectionConfig{
		Signature: config.SignatureConfig{
			RegoRules: []config.RegoRuleDef{{
				ID:       "telnet_probe",
				Severity: "medium",
				Module:   regoPath,
				Query:    "data.sentinel.rules.telnet.match",
			}},
		},
		Anomaly: config.AnomalyConfig{Model: "zscore", TrainingFile: trainPath},
	}
	e, err := Build(context.Background(), cfg, nil)
	require.NoError(t, err)
	assert.True(t, e.Scorer().Trained())
	assert.Contains(t, e.Rules(), "telnet_probe")
	assert.Contains(t, e.Rules(), "syn_flood")

	modelPath := filepath.Join(dir, "model.json")
	require.NoError(t, e.SaveModel(modelPath))

	cfg.Anomaly.TrainingFile = ""
	cfg.Anomaly.ModelPath = modelPath
	cfg.Signature.RegoRules = nil
	cfg.Signature.DisableBuiltin = true
	restored, err := Build(context.Background(), cfg, nil)
	require.NoError(t, err)
	assert.True(t, restored.Scorer().Trained())
	assert.Empty(t, restored.Rules())
}
