package schema

import "time"

// AgentSettings bundles the per-agent tuning knobs resolved from config.
type AgentSettings struct {
	Model        string
	MaxIter      int
	Temperature  float64
	MaxTokens    int
	MemoryWindow int
	LLMTimeout   time.Duration // per provider call
}

func NewAgentSettings(model string, maxIter int, temperature float64, maxTokens, memoryWindow int, llmTimeout time.Duration) AgentSettings {
	return AgentSettings{
		Model:        model,
		MaxIter:      maxIter,
		Temperature:  temperature,
		MaxTokens:    maxTokens,
		MemoryWindow: memoryWindow,
		LLMTimeout:   llmTimeout,
	}
}
