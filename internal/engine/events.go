// Package engine implements the mDNS/DNS-SD engine: the single-threaded
// I/O loop (spec §4.6), the answer generator (§4.7), and the
// probe/announce/unannounce state machine (§4.8). It is the composition
// root over internal/message, internal/cache, internal/expiry and
// internal/iface.
package engine

import "github.com/joshuafuller/beacon/internal/cache"

// EventSink is the listener interface of spec §6: every lifecycle event
// the engine emits, plus a best-effort debug hook. Spec.md §1 names
// logging as an out-of-scope collaborator, so the engine never owns a
// concrete logger -- callers that want diagnostics implement Logf.
//
// A nil method is never called; embed NoopEventSink and override only
// the events a caller cares about (spec §9: "listener interface with
// many optional events... dispatch is a flat loop").
type EventSink interface {
	PacketSent(nic string, size int)
	PacketReceived(nic string, size int)
	PacketError(nic string, err error)

	TopologyChange(nic string)

	TypeNamed(serviceType string)
	TypeNameExpired(serviceType string)

	ServiceNamed(serviceType, name string)
	ServiceNameExpired(serviceType, name string)

	ServiceAnnounced(svc cache.Service)
	ServiceModified(svc cache.Service)
	ServiceExpired(svc cache.Service)

	Logf(format string, args ...any)
}

// NoopEventSink implements EventSink with every method a no-op. Embed it
// in a caller's sink to only override the events it needs.
type NoopEventSink struct{}

func (NoopEventSink) PacketSent(string, int)               {}
func (NoopEventSink) PacketReceived(string, int)            {}
func (NoopEventSink) PacketError(string, error)             {}
func (NoopEventSink) TopologyChange(string)                 {}
func (NoopEventSink) TypeNamed(string)                      {}
func (NoopEventSink) TypeNameExpired(string)                {}
func (NoopEventSink) ServiceNamed(string, string)           {}
func (NoopEventSink) ServiceNameExpired(string, string)     {}
func (NoopEventSink) ServiceAnnounced(cache.Service)        {}
func (NoopEventSink) ServiceModified(cache.Service)         {}
func (NoopEventSink) ServiceExpired(cache.Service)          {}
func (NoopEventSink) Logf(string, ...any)                   {}

// dispatch invokes fn and recovers a panic into a Logf call, so one
// misbehaving listener never halts the loop (spec §5: "the engine
// catches and logs listener exceptions").
func (e *Engine) dispatch(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			e.sink.Logf("beacon: recovered listener panic: %v", r)
		}
	}()
	fn()
}
