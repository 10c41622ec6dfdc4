package querier

import (
	"net"
	"time"

	"github.com/joshuafuller/beacon/internal/errors"
)

// Option configures a Querier at construction time, following the same
// functional options pattern the responder and engine packages use.
type Option func(q *Querier) error

// WithTimeout overrides the default per-Query wait (default 3s). A
// shorter ctx deadline passed to Query still wins.
func WithTimeout(d time.Duration) Option {
	return func(q *Querier) error {
		q.defaultTimeout = d
		return nil
	}
}

// WithInterfaces restricts the querier to exactly the given interfaces
// instead of every eligible one. If WithInterfaceFilter is also given,
// this explicit list is used and the filter is ignored, whatever the
// order of the options.
func WithInterfaces(ifaces []net.Interface) Option {
	return func(q *Querier) error {
		if len(ifaces) == 0 {
			return &errors.ValidationError{Field: "interfaces", Message: "interface list cannot be empty"}
		}
		q.explicitInterfaces = ifaces
		return nil
	}
}

// WithInterfaceFilter restricts the querier to interfaces for which
// filter returns true, evaluated against net.Interfaces() at
// construction time.
func WithInterfaceFilter(filter func(net.Interface) bool) Option {
	return func(q *Querier) error {
		if filter == nil {
			return &errors.ValidationError{Field: "filter", Message: "filter function cannot be nil"}
		}
		q.interfaceFilter = filter
		return nil
	}
}

// WithRateLimit enables or disables the per-Querier query rate limit
// (default enabled).
func WithRateLimit(enabled bool) Option {
	return func(q *Querier) error {
		q.rateLimitEnabled = enabled
		return nil
	}
}

// WithRateLimitThreshold sets how many queries are allowed within one
// cooldown window before Query starts refusing with a rate-limit error
// (default 100).
func WithRateLimitThreshold(threshold int) Option {
	return func(q *Querier) error {
		if threshold <= 0 {
			return &errors.ValidationError{Field: "threshold", Value: threshold, Message: "threshold must be greater than 0"}
		}
		q.rateLimitThreshold = threshold
		return nil
	}
}

// WithRateLimitCooldown sets the window the rate limit's query count is
// measured over (default 1m).
func WithRateLimitCooldown(cooldown time.Duration) Option {
	return func(q *Querier) error {
		if cooldown <= 0 {
			return &errors.ValidationError{Field: "cooldown", Value: cooldown, Message: "cooldown must be greater than 0"}
		}
		q.rateLimitCooldown = cooldown
		return nil
	}
}
