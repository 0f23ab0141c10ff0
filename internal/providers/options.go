package providers

// ChatRequest.Options keys. Every provider reads the ones it understands and
// ignores the rest, so callers can set the full set without knowing which
// provider will serve a given model.
const (
	// OptMaxTokens caps the response's token count (int).
	OptMaxTokens = "max_tokens"
	// OptTemperature overrides sampling temperature (float64).
	OptTemperature = "temperature"
	// OptThinkingLevel is the provider-agnostic reasoning effort a caller
	// asks for: "off", "low", "medium", or "high". Each provider maps it to
	// its own native knob (Anthropic's thinking budget, OpenAI's
	// reasoning_effort, DashScope's enable_thinking/thinking_budget pair).
	OptThinkingLevel = "thinking_level"
	// OptReasoningEffort is the literal OpenAI request field name
	// OptThinkingLevel is translated into for o-series models.
	OptReasoningEffort = "reasoning_effort"
	// OptEnableThinking is DashScope's boolean thinking toggle.
	OptEnableThinking = "enable_thinking"
	// OptThinkingBudget is DashScope's/Anthropic's token budget for thinking.
	OptThinkingBudget = "thinking_budget"
)
