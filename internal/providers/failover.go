package providers

import "strings"

// FailoverReason is the classification of a provider error for supervisor retry/failover
// decisions. Errors across anthropic.go/openai.go/dashscope.go are currently
// just wrapped with fmt.Errorf and treated uniformly; this gives the caller enough
// structure to decide retry-with-backoff vs surface-and-stop vs failover-to-fallback-model.
type FailoverReason string

const (
	FailoverAuth       FailoverReason = "auth"
	FailoverRateLimit  FailoverReason = "rate_limit"
	FailoverFormat     FailoverReason = "format"
	FailoverBilling    FailoverReason = "billing"
	FailoverTimeout    FailoverReason = "timeout"
	FailoverNone       FailoverReason = "" // unknown — fail fast, no retry
)

// ClassifyFailoverReason maps a provider error message to a failover class. Pure function:
// same input always produces the same output, so the supervisor's retry behavior stays
// deterministic and testable without live provider calls.
func ClassifyFailoverReason(message string) FailoverReason {
	m := strings.ToLower(message)

	switch {
	case containsAny(m, "invalid api key", "invalid x-api-key", "unauthorized", "authentication_error", "401"):
		return FailoverAuth

	case containsAny(m, "429", "too many requests", "overloaded", "overloaded_error", "hit your usage limit", "capacity", "queue is full", "queue full"):
		return FailoverRateLimit

	case containsAny(m, "invalid request format", "schema violation", "invalid_request_error", "does not match schema", "json schema"):
		return FailoverFormat

	case containsAny(m, "credit balance too low", "insufficient quota", "billing"):
		return FailoverBilling

	case containsAny(m, "deadline exceeded", "context deadline exceeded", "model-unavailable", "model unavailable", "500", "502", "503", "504", "internal_server_error", "service_unavailable", "bad_gateway", "gateway_timeout"):
		return FailoverTimeout

	default:
		return FailoverNone
	}
}

func containsAny(s string, substrs ...string) bool {
	for _, sub := range substrs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
