package agent

import "context"

// Generator produces raw structured coaching payloads.
// Implementations return the generator's JSON object verbatim; validation
// happens in the caller.
type Generator interface {
	// Suggest returns one live coaching payload for the request's mode.
	Suggest(ctx context.Context, req SuggestRequest) ([]byte, error)

	// Analyze returns a post-call analysis payload.
	Analyze(ctx context.Context, req AnalyzeRequest) ([]byte, error)

	// Healthy reports whether the generator looks usable.
	Healthy(ctx context.Context) bool

	// Close releases resources.
	Close() error
}

var (
	_ Generator = (*AnthropicClient)(nil)
	_ Generator = (*GrpcClient)(nil)
)
