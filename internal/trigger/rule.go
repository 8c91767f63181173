package trigger

// Rule names the gate that decided an evaluation.
type Rule string

const (
	RuleNotTerminal      Rule = "not_terminal"
	RuleUnknownProject   Rule = "unknown_project"
	RuleResult           Rule = "result"
	RuleUpstreamBuilding Rule = "upstream_building"
	RuleRelease          Rule = "release"
	RuleConvergence      Rule = "convergence"
	RuleMissingUpstream  Rule = "missing_upstream"
	RuleStoreError       Rule = "store_error"
	RuleApproved         Rule = "approved"
)

// Decision is the outcome of evaluating one downstream candidate.
type Decision struct {
	Trigger  bool
	Rule     Rule
	Messages []string
}
