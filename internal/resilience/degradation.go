package resilience

// DegradedResponse is the canned message returned to an answer-generation
// collaborator when every LLM provider is open or failed.
type DegradedResponse struct {
	Message          string
	FallbackActions  []string
}

// DegradationManager produces canned degraded responses when the resilience
// layer cannot satisfy a request through any provider.
type DegradationManager struct {
	message         string
	fallbackActions []string
}

// NewDegradationManager builds a manager with the spec's default canned
// message advising retry and listing fallback actions.
func NewDegradationManager() *DegradationManager {
	return &DegradationManager{
		message: "We're experiencing temporary difficulty generating a full answer. " +
			"Please try again shortly.",
		fallbackActions: []string{"knowledge-base search", "human operator"},
	}
}

// Respond returns the canned degraded response.
func (d *DegradationManager) Respond() DegradedResponse {
	return DegradedResponse{
		Message:         d.message,
		FallbackActions: append([]string(nil), d.fallbackActions...),
	}
}
