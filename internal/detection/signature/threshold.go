package signature

import (
	"Go2NetSentinel/internal/model"
	"fmt"
	"log"
	"os"

	"gopkg.in/yaml.v3"
)

// Condition compares one feature field against a constant.
type Condition struct {
	Field    string  `yaml:"field"`
	Operator string  `yaml:"operator"`
	Value    float64 `yaml:"value"`
}

// ThresholdRule is a declarative rule loaded from a rules file.
// All conditions must hold; Flags, when set, must match the packet flags exactly.
type ThresholdRule struct {
	ID          string      `yaml:"id"`
	Description string      `yaml:"description"`
	Severity    string      `yaml:"severity"`
	Flags       string      `yaml:"flags"`
	Conditions  []Condition `yaml:"conditions"`
}

type rulesFile struct {
	Rules []ThresholdRule `yaml:"rules"`
}

var fieldGetters = map[string]func(model.FeatureVector) float64{
	"packet_size":   func(fv model.FeatureVector) float64 { return float64(fv.PacketSize) },
	"flow_duration": func(fv model.FeatureVector) float64 { return fv.FlowDuration },
	"packet_rate":   func(fv model.FeatureVector) float64 { return fv.PacketRate },
	"byte_rate":     func(fv model.FeatureVector) float64 { return fv.ByteRate },
	"window_size":   func(fv model.FeatureVector) float64 { return float64(fv.WindowSize) },
	"dst_port":      func(fv model.FeatureVector) float64 { return float64(fv.Key.DstPort) },
	"src_port":      func(fv model.FeatureVector) float64 { return float64(fv.Key.SrcPort) },
	"packet_count":  func(fv model.FeatureVector) float64 { return float64(fv.PacketCount) },
}

var operators = map[string]struct{}{">": {}, "<": {}, "=": {}, ">=": {}, "<=": {}}

// Compile turns the declarative rule into a Rule.
func (tr ThresholdRule) Compile() (Rule, error) {
	if tr.ID == "" {
		return Rule{}, fmt.Errorf("threshold rule without id")
	}
	if len(tr.Conditions) == 0 && tr.Flags == "" {
		return Rule{}, fmt.Errorf("rule '%s' has no conditions", tr.ID)
	}

	var flags model.TCPFlags
	matchFlags := tr.Flags != ""
	if matchFlags {
		f, err := model.ParseTCPFlags(tr.Flags)
		if err != nil {
			return Rule{}, fmt.Errorf("rule '%s': %w", tr.ID, err)
		}
		flags = f
	}

	type compiled struct {
		get       func(model.FeatureVector) float64
		operator  string
		threshold float64
	}
	conds := make([]compiled, 0, len(tr.Conditions))
	for _, c := range tr.Conditions {
		get, ok := fieldGetters[c.Field]
		if !ok {
			return Rule{}, fmt.Errorf("rule '%s': unknown field '%s'", tr.ID, c.Field)
		}
		if _, ok := operators[c.Operator]; !ok {
			return Rule{}, fmt.Errorf("rule '%s': unknown operator '%s'", tr.ID, c.Operator)
		}
		conds = append(conds, compiled{get: get, operator: c.Operator, threshold: c.Value})
	}

	return Rule{
		ID:          tr.ID,
		Description: tr.Description,
		Severity:    model.ParseSeverity(tr.Severity),
		When: func(fv model.FeatureVector) bool {
			if matchFlags && !fv.Flags.Only(flags) {
				return false
			}
			for _, c := range conds {
				if !check(c.get(fv), c.threshold, c.operator) {
					return false
				}
			}
			return true
		},
	}, nil
}

// LoadRulesFile reads threshold rules from a YAML file. Invalid rules are
// skipped with a warning; an unreadable file is an error.
func LoadRulesFile(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read rules file: %w", err)
	}
	var rf rulesFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return nil, fmt.Errorf("failed to unmarshal rules YAML: %w", err)
	}

	rules := make([]Rule, 0, len(rf.Rules))
	for _, tr := range rf.Rules {
		r, err := tr.Compile()
		if err != nil {
			log.Printf("Warning: skipping signature rule: %v", err)
			continue
		}
		rules = append(rules, r)
	}
	return rules, nil
}

// check compares a value against a threshold based on an operator.
func check(value, threshold float64, operator string) bool {
	switch operator {
	case ">":
		return value > threshold
	case "<":
		return value < threshold
	case "=":
		return value == threshold
	case ">=":
		return value >= threshold
	case "<=":
		return value <= threshold
	default:
		return false
	}
}
