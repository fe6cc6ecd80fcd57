package provider

// ThinkingLevel is the caller-facing reasoning-effort knob (spec §4.6
// "thinking-level mapping").
type ThinkingLevel string

const (
	ThinkingOff     ThinkingLevel = "off"
	ThinkingMinimal ThinkingLevel = "minimal"
	ThinkingLow     ThinkingLevel = "low"
	ThinkingMedium  ThinkingLevel = "medium"
	ThinkingHigh    ThinkingLevel = "high"
	ThinkingXHigh   ThinkingLevel = "xhigh"
)

// defaultThinkingBudgets maps level to thinking_budget_tokens for
// fixed-budget models absent a caller-supplied table, sized as a
// fraction of a generous default max_tokens ceiling.
var defaultThinkingBudgets = map[ThinkingLevel]int{
	ThinkingMinimal: 1024,
	ThinkingLow:     2048,
	ThinkingMedium:  8192,
	ThinkingHigh:    16384,
	ThinkingXHigh:   32768,
}

// EffortParam resolves level to the provider "effort" string for
// adaptive models (spec: "xhigh → max, else identity-ish: minimal/low →
// low, medium → medium, high → high").
func EffortParam(level ThinkingLevel) string {
	switch level {
	case ThinkingOff:
		return ""
	case ThinkingXHigh:
		return "max"
	case ThinkingMinimal, ThinkingLow:
		return "low"
	case ThinkingMedium:
		return "medium"
	case ThinkingHigh:
		return "high"
	default:
		return ""
	}
}

// BudgetTokens resolves level to a thinking_budget_tokens value for
// fixed-budget models, preferring a caller-supplied table over the
// built-in defaults.
func BudgetTokens(level ThinkingLevel, override map[ThinkingLevel]int) int {
	if level == ThinkingOff {
		return 0
	}
	if override != nil {
		if v, ok := override[level]; ok {
			return v
		}
	}
	return defaultThinkingBudgets[level]
}

// ResolveThinking computes the (effort, budgetTokens, maxTokens) triple
// to apply to req for caps, dispatching on whether the model is
// adaptive-effort or fixed-budget (spec §4.6).
func ResolveThinking(level ThinkingLevel, caps ModelCapabilities, override map[ThinkingLevel]int, baseMaxTokens int) (effort string, budgetTokens int, maxTokens int) {
	if level == ThinkingOff {
		return "", 0, baseMaxTokens
	}
	if caps.AdaptiveEffort {
		return EffortParam(level), 0, baseMaxTokens
	}
	budget := BudgetTokens(level, override)
	max := baseMaxTokens
	if max < budget+1024 {
		max = budget + 1024
	}
	return "", budget, max
}
