package llm

// DecodingMethod selects how the model picks the next token.
type DecodingMethod string

const (
	// DecodingGreedy always picks the most likely token.
	DecodingGreedy DecodingMethod = "greedy"

	// DecodingSample samples from the token distribution.
	DecodingSample DecodingMethod = "sample"
)

// GenerateParams carries the generation settings sent with every request.
type GenerateParams struct {
	// DecodingMethod is the token selection strategy. Empty means greedy.
	DecodingMethod DecodingMethod

	// MaxNewTokens caps the number of generated tokens. Zero means use the
	// backend default.
	MaxNewTokens int
}

// Result is one generated candidate.
type Result struct {
	// GeneratedText is the raw model output, including any surrounding
	// whitespace the model produced.
	GeneratedText string

	// GeneratedTokenCount is the number of output tokens, when reported.
	GeneratedTokenCount int

	// InputTokenCount is the number of prompt tokens, when reported.
	InputTokenCount int

	// StopReason is the backend's reason for ending generation
	// (e.g. "eos_token", "max_tokens", "stop").
	StopReason string
}

// GenerateResponse is returned by [Provider.Generate].
type GenerateResponse struct {
	// ModelID echoes the model that served the request.
	ModelID string

	// Results holds the generated candidates. Backends normally return one.
	Results []Result
}

// ModelDetails is the metadata returned by [Provider.Details].
type ModelDetails struct {
	ModelID     string
	Label       string
	Provider    string
	Description string
}
