package testutil

// FixedFlowGenerator hands every top-level dispatch the same flow token.
//
// Scenario runs use it so action ids, and therefore golden traces, do not
// depend on UUID generation. Unlike engine.FixedGenerator it never runs
// out.
//
// Thread-safety: FixedFlowGenerator is stateless and safe for concurrent use.
type FixedFlowGenerator struct {
	token string
}

// NewFixedFlowGenerator creates a new fixed flow token generator.
//
// The token is typically set in the scenario YAML:
//
//	flow_token: "test-flow-00000000-0000-0000-0000-000000000001"
//
// If token is empty, Generate() returns "test-flow-default".
func NewFixedFlowGenerator(token string) *FixedFlowGenerator {
	if token == "" {
		token = "test-flow-default"
	}
	return &FixedFlowGenerator{token: token}
}

// Generate implements engine.FlowTokenGenerator.
func (g *FixedFlowGenerator) Generate() string {
	return g.token
}
