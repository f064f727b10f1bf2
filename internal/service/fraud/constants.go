package fraud

import "time"

// Trusted-device policy: trusted devices are exempt from velocity-category
// rules entirely (not merely down-weighted). Promotion to trusted is an
// explicit admin action only, so the exemption is always attributable.
const TrustedDeviceSkipsVelocity = true

// Rule cache
const (
	// DefaultRuleCacheTTL bounds staleness for horizontally scaled
	// evaluators that miss an invalidation broadcast.
	DefaultRuleCacheTTL = 30 * time.Second
)

// Scoring
const (
	// ScoreConflictRetries bounds optimistic-concurrency retries on risk
	// score updates before the conflict surfaces to the caller.
	ScoreConflictRetries = 3
)

// Velocity counters
const (
	// DefaultEventRetention is how long ingested events stay countable.
	// It caps the longest rule period a deployment can use.
	DefaultEventRetention = 30 * 24 * time.Hour
)

// Query defaults
const (
	DefaultSignalQueryLimit = 100
	DefaultErrorQueryLimit  = 50
)
