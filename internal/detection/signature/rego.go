package signature

import (
	"Go2NetSentinel/internal/model"
	"context"
	"fmt"
	"os"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
)

// RegoSource describes a signature written as a rego policy. Query must
// evaluate to a boolean, e.g. "data.sentinel.rules.telnet.match".
type RegoSource struct {
	ID          string
	Description string
	Severity    model.Severity
	Filename    string
	Module      string
	Query       string
}

// NewRegoRule compiles the policy once and returns a rule that evaluates it with
// the feature vector as input. Evaluation errors and non-boolean results do not match.
func NewRegoRule(ctx context.Context, src RegoSource) (Rule, error) {
	if src.ID == "" {
		return Rule{}, fmt.Errorf("rego rule without id")
	}
	if src.Filename == "" {
		src.Filename = src.ID + ".rego"
	}

	parsed, err := ast.ParseModule(src.Filename, src.Module)
	if err != nil {
		return Rule{}, fmt.Errorf("failed to parse rego rule '%s': %w", src.ID, err)
	}
	compiler := ast.NewCompiler()
	compiler.Compile(map[string]*ast.Module{src.Filename: parsed})
	if compiler.Failed() {
		return Rule{}, fmt.Errorf("failed to compile rego rule '%s': %v", src.ID, compiler.Errors)
	}

	prepared, err := rego.New(
		rego.Query(src.Query),
		rego.Compiler(compiler),
	).PrepareForEval(ctx)
	if err != nil {
		return Rule{}, fmt.Errorf("failed to prepare rego rule '%s': %w", src.ID, err)
	}

	return Rule{
		ID:          src.ID,
		Description: src.Description,
		Severity:    src.Severity,
		When: func(fv model.FeatureVector) bool {
			rs, err := prepared.Eval(context.Background(), rego.EvalInput(regoInput(fv)))
			if err != nil || len(rs) == 0 || len(rs[0].Expressions) == 0 {
				return false
			}
			matched, ok := rs[0].Expressions[0].Value.(bool)
			return ok && matched
		},
	}, nil
}

// LoadRegoRule reads the policy module from path and compiles it.
func LoadRegoRule(ctx context.Context, src RegoSource, path string) (Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Rule{}, fmt.Errorf("failed to read rego module: %w", err)
	}
	src.Filename = path
	src.Module = string(data)
	return NewRegoRule(ctx, src)
}

func regoInput(fv model.FeatureVector) map[string]any {
	return map[string]any{
		"src_ip":        fv.Key.SrcIP.String(),
		"dst_ip":        fv.Key.DstIP.String(),
		"src_port":      fv.Key.SrcPort,
		"dst_port":      fv.Key.DstPort,
		"packet_size":   fv.PacketSize,
		"flow_duration": fv.FlowDuration,
		"packet_rate":   fv.PacketRate,
		"byte_rate":     fv.ByteRate,
		"flags":         fv.Flags.String(),
		"window_size":   fv.WindowSize,
		"packet_count":  fv.PacketCount,
	}
}
