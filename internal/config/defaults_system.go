package config

// GetDefaultEngineSystemPrompt returns the system prompt sent with every engine request
func GetDefaultEngineSystemPrompt() string {
	return `You are an expert prompt engineer. You make minimal, targeted edits that fix observed failures without regressing working behaviour. You never remove template parameters.`
}
