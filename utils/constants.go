package utils

import (
	"time"
)

// CORS and security constants
const (
	// CORSMaxAge is the maximum age for CORS preflight requests (24 hours)
	CORSMaxAge = 86400
)

// Pagination constants
const (
	DefaultPageSize = 10
	MaxPageSize     = 100
)

// Email provider constants
const (
	// DefaultFromEmail is used when a broadcast is composed without a sender
	DefaultFromEmail = "admin@azacdev.com"

	// ContactRemovalInterval keeps audience mutations under the provider's 2 requests per second
	ContactRemovalInterval = 500 * time.Millisecond

	// EmailSendInterval allows up to 10 individual sends per second
	EmailSendInterval = 100 * time.Millisecond

	// ProviderTimeout bounds a single provider HTTP call
	ProviderTimeout = 30 * time.Second
)

// Request-scoped context keys
type contextKey string

const (
	RequestIDKey contextKey = "request_id"
	UserAgentKey contextKey = "user_agent"
	IPAddressKey contextKey = "ip_address"
	EndpointKey  contextKey = "endpoint"
)
