// Package tier implements the C5 verification tier classifier: it walks a
// terminal command log bottom-up and assigns the highest tier whose
// commands all executed and passed, subject to the AI-tests-only override.
package tier

import "github.com/bhagyabanghadai/dhi/pkg/contracts"

// stageOutcome summarizes one stage's contribution to the command log.
type stageOutcome struct {
	executed  bool
	allPassed bool
}

func summarize(log []contracts.CommandLogEntry, stage contracts.StageName) stageOutcome {
	out := stageOutcome{allPassed: true}
	for _, entry := range log {
		if entry.Stage != stage {
			continue
		}
		out.executed = true
		if entry.ExitCode != 0 {
			out.allPassed = false
		}
	}
	return out
}

func (s stageOutcome) passed() bool {
	return s.executed && s.allPassed
}

// ClassifyTier walks commandLog bottom-up: L0 (parse+lint+static-type) ->
// L1 (L0 and at least one user-authored unit test stage) -> L2 (L1 and at
// least one user-authored integration test stage). If the AI-authored test
// stage passed but no user-authored test stage did, the tier is forced to
// AI_TESTS_ONLY and humanReviewRequired is true — this overrides any L1/L2
// claim that would otherwise rest solely on AI-authored tests. Tier claims
// are evidence-backed only: a stage with no executed commands contributes
// nothing, regardless of the plan's declared intent.
func ClassifyTier(commandLog []contracts.CommandLogEntry) (contracts.Tier, bool) {
	parseLint := summarize(commandLog, contracts.StageParseLint)
	staticType := summarize(commandLog, contracts.StageStaticType)
	unitTests := summarize(commandLog, contracts.StageUnitTests)
	integrationTests := summarize(commandLog, contracts.StageIntegrationTests)
	aiTests := summarize(commandLog, contracts.StageAITests)

	l0 := parseLint.passed() && staticType.passed()
	if !l0 {
		return contracts.TierNone, false
	}

	if unitTests.passed() {
		if integrationTests.passed() {
			return contracts.TierL2, false
		}
		return contracts.TierL1, false
	}

	if aiTests.passed() && !integrationTests.passed() {
		return contracts.TierAITestsOnly, true
	}

	return contracts.TierL0, false
}
