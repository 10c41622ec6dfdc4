package engine

import (
	"os"

	"github.com/joshuafuller/beacon/internal/errors"
	"github.com/joshuafuller/beacon/internal/protocol"
)

// Option configures an Engine at construction (spec §6 "Configuration"),
// generalizing the teacher's responder/options.go functional-options
// pattern from a single Responder field to every engine-wide setting.
type Option func(*Engine) error

// WithDomain overrides the discovery domain (default ".local").
func WithDomain(domain string) Option {
	return func(e *Engine) error {
		e.domain = domain
		return nil
	}
}

// WithLocalHostName overrides the host name used as the SRV target and as
// the name of the A/AAAA records (default: the system hostname + ".local.").
// The name is used exactly as given; no domain is appended to a short name.
func WithLocalHostName(name string) Option {
	return func(e *Engine) error {
		e.hostname = name
		return nil
	}
}

// WithIPv4 enables or disables the IPv4 multicast socket (default true).
func WithIPv4(enabled bool) Option {
	return func(e *Engine) error {
		e.ipv4Enabled = enabled
		return nil
	}
}

// WithIPv6 enables or disables the IPv6 multicast socket (default true).
func WithIPv6(enabled bool) Option {
	return func(e *Engine) error {
		e.ipv6Enabled = enabled
		return nil
	}
}

// WithNetworkInterfaces restricts the engine to the named interfaces.
// Unset (or empty) means every interface that is up, non-loopback and
// multicast-capable.
func WithNetworkInterfaces(names ...string) Option {
	return func(e *Engine) error {
		e.networkInterfaces = names
		return nil
	}
}

// WithTTLs overrides the four per-record-kind TTLs (seconds). Zero
// leaves that field at its default. Every non-zero value must fall in
// spec §6's bounds of [5, 86400] seconds.
func WithTTLs(ptr, srv, txt, a int) Option {
	return func(e *Engine) error {
		for field, v := range map[string]int{"ttl_ptr": ptr, "ttl_srv": srv, "ttl_txt": txt, "ttl_a": a} {
			if v != 0 && !protocol.ValidateTTL(v) {
				return &errors.ValidationError{Field: field, Value: v, Message: "must be within [5, 86400] seconds"}
			}
		}
		if ptr != 0 {
			e.ttlPTR = uint32(ptr)
		}
		if srv != 0 {
			e.ttlSRV = uint32(srv)
		}
		if txt != 0 {
			e.ttlTXT = uint32(txt)
		}
		if a != 0 {
			e.ttlA = uint32(a)
		}
		return nil
	}
}

// WithEventSink installs the listener sink (default NoopEventSink).
func WithEventSink(sink EventSink) Option {
	return func(e *Engine) error {
		e.sink = sink
		return nil
	}
}

func defaultHostname() string {
	h, err := os.Hostname()
	if err != nil || h == "" {
		return "beacon-host"
	}
	return h
}
