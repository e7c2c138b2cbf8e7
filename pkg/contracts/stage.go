package contracts

// StageName identifies one ordered command-plan stage (§4.1). It is shared
// across pkg/sandbox (which produces it), pkg/classifier and pkg/tier (which
// key decisions on it), and the attestation manifest (which surfaces it).
type StageName string

const (
	StageParseLint        StageName = "parse_lint"
	StageStaticType       StageName = "static_type_check"
	StageUnitTests        StageName = "unit_tests"
	StageIntegrationTests StageName = "integration_tests"
	StageAITests          StageName = "ai_authored_tests"
)

// OrderedStages is the fixed execution order of the command plan: parse/lint
// -> static type check -> unit tests -> integration tests -> AI-authored
// tests (tier contribution only).
var OrderedStages = []StageName{
	StageParseLint,
	StageStaticType,
	StageUnitTests,
	StageIntegrationTests,
	StageAITests,
}

// IsTestStage reports whether a stage's commands are test executions (as
// opposed to parse/lint/type-check), the distinction the failure classifier
// and tier classifier both need.
func (s StageName) IsTestStage() bool {
	switch s {
	case StageUnitTests, StageIntegrationTests, StageAITests:
		return true
	default:
		return false
	}
}
