package sandbox

import "github.com/bhagyabanghadai/dhi/pkg/contracts"

// Command is one command-plan entry for a stage.
type Command struct {
	Stage contracts.StageName
	Name  string
	Argv  []string
}

// Plan is the ordered, declared command set for a request's candidate.
type Plan struct {
	Commands []Command
}

// NewPlan builds a Plan from a stage -> commands map, preserving the fixed
// stage order regardless of map iteration order.
func NewPlan(byStage map[contracts.StageName][]Command) Plan {
	var plan Plan
	for _, stage := range contracts.OrderedStages {
		plan.Commands = append(plan.Commands, byStage[stage]...)
	}
	return plan
}

// buildSkips records every command from failedStage onward as skipped,
// preserving declaration order, once a terminal failure or budget
// exhaustion stops the plan partway through.
func buildSkips(plan Plan, ranUpTo int, reason string) []contracts.SkippedCheck {
	var skips []contracts.SkippedCheck
	for i := ranUpTo; i < len(plan.Commands); i++ {
		skips = append(skips, contracts.SkippedCheck{Name: plan.Commands[i].Name, Reason: reason})
	}
	return skips
}
