// Package cache implements the TTL-indexed map of heard and announced
// service instances (spec §4.3, component C3). The engine does almost all
// mutation; outside readers use the snapshot methods, and the responder
// updates an owned service's text through the live service Get returns.
package cache

import "github.com/joshuafuller/beacon/internal/message"

// TTLs is the per-record-kind TTL bookkeeping spec §3 attaches to a
// heard service: the integrator records the TTL the network actually
// advertised for each kind, and the querier reports it back.
type TTLs struct {
	A   uint32
	SRV uint32
	TXT uint32
	PTR uint32
}

// Service is spec §3's heard-or-owned service instance. FQDN is its
// unique identity; equality for cache purposes is (FQDN) alone, since
// FQDN already encodes instance+type+domain.
type Service struct {
	FQDN      string
	Name      string // instance name
	Type      string // e.g. "_http._tcp.local."
	Domain    string
	Host      string
	Port      int
	HasHost   bool // distinguishes "no SRV seen yet" from port 0
	Text      []message.TXTPair
	HasText   bool
	Addresses map[string]map[string]struct{} // IP string -> set of NIC names
	Subtypes  []string
	TTL       TTLs
	Owner     bool // locally built and announced, vs heard from the network
	Cancelled bool
	modified  bool
}

// NewService creates an empty heard/owned service shell for fqdn. The
// caller fills in Name/Type/Domain (typically by splitting fqdn) and sets
// Owner for locally-built services.
func NewService(fqdn string) *Service {
	return &Service{FQDN: fqdn, Addresses: make(map[string]map[string]struct{})}
}

// SetHost applies an SRV answer's host/port (spec §4.3). Reports whether
// either field actually changed.
func (s *Service) SetHost(host string, port int) bool {
	changed := !s.HasHost || s.Host != host || s.Port != port
	s.Host, s.Port, s.HasHost = host, port, true
	if changed {
		s.modified = true
	}
	return changed
}

// SetText applies a TXT answer (spec §4.3). Reports whether the ordered
// content (keys and values both) differs from what was cached.
func (s *Service) SetText(pairs []message.TXTPair) bool {
	changed := !s.HasText || !textEqual(s.Text, pairs)
	s.Text, s.HasText = pairs, true
	if changed {
		s.modified = true
	}
	return changed
}

func textEqual(a, b []message.TXTPair) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// AddAddress records nic as a source of addr (spec §4.3). Reports
// whether addr itself was new to the service (a second NIC reporting an
// already-known address is not a modification).
func (s *Service) AddAddress(addr, nic string) bool {
	nics, ok := s.Addresses[addr]
	if !ok {
		nics = make(map[string]struct{})
		s.Addresses[addr] = nics
		s.modified = true
	}
	nics[nic] = struct{}{}
	return !ok
}

// RemoveAddress drops addr entirely. Reports whether it was present.
func (s *Service) RemoveAddress(addr string) bool {
	if _, ok := s.Addresses[addr]; !ok {
		return false
	}
	delete(s.Addresses, addr)
	s.modified = true
	return true
}

// ConsumeModified reports whether the service has been modified since
// the last call, clearing the flag (spec §4.3: "modified since the last
// event flush").
func (s *Service) ConsumeModified() bool {
	m := s.modified
	s.modified = false
	return m
}

// Clone returns a value copy safe to hand to external readers: the
// address map is deep-copied so a reader can't observe the engine's
// subsequent mutations.
func (s *Service) Clone() Service {
	cp := *s
	cp.Text = append([]message.TXTPair(nil), s.Text...)
	cp.Subtypes = append([]string(nil), s.Subtypes...)
	cp.Addresses = make(map[string]map[string]struct{}, len(s.Addresses))
	for addr, nics := range s.Addresses {
		set := make(map[string]struct{}, len(nics))
		for n := range nics {
			set[n] = struct{}{}
		}
		cp.Addresses[addr] = set
	}
	return cp
}
