// Package resilience wraps every call to an external dependency (embedding
// models, the vector store, the rerank model, LLM providers) with a policy
// composed of timeout -> retry -> circuit breaker -> degradation.
//
// Call order: a deadline is attached to the context, the retry loop runs the
// wrapped call until it succeeds or exhausts its attempts, and the circuit
// breaker observes the retry sequence's aggregate outcome as a single call —
// a final failure increments consecutive_failures once, a success resets it.
//
// Adapted from the teacher's v2/rag/retry.go (exponential backoff with
// jitter) and pkg/ratelimit/limiter.go's per-key, mutex-guarded state
// machine style.
package resilience
