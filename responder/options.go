package responder

import "github.com/joshuafuller/beacon/internal/engine"

// Option configures a Responder at construction time. Each Option maps to
// the underlying engine.Option it sets, following the same functional
// options pattern engine uses for its own configuration.
type Option func(r *Responder) (engine.Option, error)

// WithHostname sets the hostname A/AAAA records are announced under
// (default: the system hostname + ".local.").
func WithHostname(hostname string) Option {
	return func(*Responder) (engine.Option, error) {
		return engine.WithLocalHostName(hostname), nil
	}
}

// WithDomain sets the discovery domain bare service types are qualified
// into (default "local.").
func WithDomain(domain string) Option {
	return func(*Responder) (engine.Option, error) {
		return engine.WithDomain(domain), nil
	}
}

// WithNetworkInterfaces restricts the responder to the named interfaces
// instead of every eligible multicast-capable interface.
func WithNetworkInterfaces(names ...string) Option {
	return func(*Responder) (engine.Option, error) {
		return engine.WithNetworkInterfaces(names...), nil
	}
}

// WithIPv4 enables or disables IPv4 multicast (default enabled).
func WithIPv4(enabled bool) Option {
	return func(*Responder) (engine.Option, error) {
		return engine.WithIPv4(enabled), nil
	}
}

// WithIPv6 enables or disables IPv6 multicast (default enabled).
func WithIPv6(enabled bool) Option {
	return func(*Responder) (engine.Option, error) {
		return engine.WithIPv6(enabled), nil
	}
}

// WithTTLs overrides the default PTR/SRV/TXT/A TTLs (seconds) advertised
// for every service this responder announces.
func WithTTLs(ptr, srv, txt, a int) Option {
	return func(*Responder) (engine.Option, error) {
		return engine.WithTTLs(ptr, srv, txt, a), nil
	}
}

// WithEventSink routes the engine's lifecycle events (packets, topology,
// type/name and service changes) to sink instead of discarding them.
func WithEventSink(sink engine.EventSink) Option {
	return func(*Responder) (engine.Option, error) {
		return engine.WithEventSink(sink), nil
	}
}
