// Package provider implements JSON-RPC provider endpoints with health
// tracking, so the router above it can pick a working endpoint and detect
// throttling before the backend's caller has to.
package provider

import (
	"context"
	"time"
)

// HealthStatus summarizes a provider's recent call outcomes.
type HealthStatus struct {
	Available     bool
	ErrorRate     float64
	Latency       time.Duration
	LastSuccessAt time.Time
	LastFailureAt time.Time
}

// Provider is a single upstream JSON-RPC endpoint.
type Provider interface {
	GetName() string
	GetHealth() HealthStatus
	IsAvailable() bool

	Call(ctx context.Context, method string, params []any) (any, error)
	BatchCall(ctx context.Context, requests []BatchRequest) ([]BatchResponse, error)

	Close() error
}

// BatchRequest is one call within a JSON-RPC batch.
type BatchRequest struct {
	Method string
	Params []any
}

// BatchResponse is one result within a JSON-RPC batch response, in the same
// order the requests were given.
type BatchResponse struct {
	Result any
	Error  error
}
