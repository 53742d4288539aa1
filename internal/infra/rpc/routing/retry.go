package routing

import "strings"

// ErrorAction is what a caller should do in response to a provider error.
type ErrorAction int

const (
	ActionRetry ErrorAction = iota
	ActionFailover
	ActionFatal
)

// ClassifyError inspects err's message for known JSON-RPC and HTTP failure
// phrasing to decide whether the same provider should be retried, a
// different provider should be tried instead, or the call should not be
// retried at all. The engine layer above owns attempt counts and backoff;
// this only decides same-provider vs rotate vs give-up.
func ClassifyError(err error) ErrorAction {
	if err == nil {
		return ActionRetry
	}

	s := err.Error()
	lower := strings.ToLower(s)

	if strings.Contains(s, "-32700") || strings.Contains(s, "-32600") ||
		strings.Contains(s, "-32601") || strings.Contains(s, "-32602") {
		return ActionFatal
	}

	if strings.Contains(s, "429") || strings.Contains(lower, "too many requests") ||
		strings.Contains(s, "403") || strings.Contains(lower, "forbidden") ||
		strings.Contains(lower, "blocked") || strings.Contains(lower, "quota") ||
		strings.Contains(lower, "rate limit") || strings.Contains(lower, "throttled") {
		return ActionFailover
	}

	return ActionRetry
}
