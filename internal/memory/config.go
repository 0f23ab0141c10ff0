// Package memory implements ObservationalMemory (spec §4.10): a background
// scheduler that runs an Observer/Reflector summarization pipeline per chat,
// buffering chunk summaries passively and activating them into an Observation
// once the unobserved prompt tail grows past a token threshold.
package memory

// Config holds the token thresholds that drive a Runner's cycles.
type Config struct {
	// BufferIntervalTokens is the passive-buffering boundary size; the
	// effective interval is max(500, BufferIntervalTokens) (spec §4.10).
	BufferIntervalTokens int
	// ObserverThresholdTokens activates buffered chunks into an Observation
	// once unobserved_active reaches this many tokens.
	ObserverThresholdTokens int
	// ReflectorThresholdTokens triggers a compression pass once an
	// Observation's own token count reaches this many tokens.
	ReflectorThresholdTokens int
}

// DefaultConfig mirrors config.MemoryConfig's documented defaults.
func DefaultConfig() Config {
	return Config{
		BufferIntervalTokens:     2000,
		ObserverThresholdTokens:  6000,
		ReflectorThresholdTokens: 8000,
	}
}

func (c Config) bufferInterval() int {
	if c.BufferIntervalTokens > 500 {
		return c.BufferIntervalTokens
	}
	return 500
}
