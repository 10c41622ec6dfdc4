package cache

import (
	"sort"
	"sync"

	"github.com/joshuafuller/beacon/internal/message"
)

// announcedEntry pairs an owned service with the exact packet that
// announced it, retained so unannounce can resend it with every TTL set
// to zero (spec §3: "the announcement packet retained for reannounce and
// goodbye").
type announcedEntry struct {
	service *Service
	packet  message.Packet
}

// Cache is spec §4.3's live map from fqdn to service, plus the
// type/name indexes and the announced-packet retention. The Engine does
// almost all writing. HeardServices, AnnouncedServices, HeardTypes and
// HeardNames return copies for outside readers; Get and ServicesByHost
// return live services, which the integrator and responder.UpdateService
// mutate directly.
type Cache struct {
	mu        sync.RWMutex
	heard     map[string]*Service // fqdn -> service
	types     map[string]struct{} // heard service types
	names     map[string]struct{} // heard fqdns named via PTR
	announced map[string]announcedEntry
}

// New returns an empty cache.
func New() *Cache {
	return &Cache{
		heard:     make(map[string]*Service),
		types:     make(map[string]struct{}),
		names:     make(map[string]struct{}),
		announced: make(map[string]announcedEntry),
	}
}

// GetOrCreate returns the existing heard/owned service for fqdn, or
// creates and stores a new one. Reports whether it was newly created.
func (c *Cache) GetOrCreate(fqdn string) (*Service, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.heard[fqdn]; ok {
		return s, false
	}
	s := NewService(fqdn)
	c.heard[fqdn] = s
	return s, true
}

// Get returns the cached service for fqdn, if any.
func (c *Cache) Get(fqdn string) (*Service, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.heard[fqdn]
	return s, ok
}

// ServicesByHost returns the live (non-cloned) services whose host
// matches host, for the A/AAAA integration step (spec §4.6) that binds
// an address to every service sharing that host. Callers mutate these
// directly; they are not a snapshot.
func (c *Cache) ServicesByHost(host string) []*Service {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []*Service
	for _, s := range c.heard {
		if s.Host == host {
			out = append(out, s)
		}
	}
	return out
}

// Remove drops fqdn from the heard map (spec §4.6: SRV expiry).
func (c *Cache) Remove(fqdn string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.heard, fqdn)
}

// AddType records a newly-heard service type. Reports whether it was new.
func (c *Cache) AddType(t string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.types[t]; ok {
		return false
	}
	c.types[t] = struct{}{}
	return true
}

// RemoveType drops a service type from the heard-types index.
func (c *Cache) RemoveType(t string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.types, t)
}

// AddName records a newly-heard service instance name. Reports whether
// it was new.
func (c *Cache) AddName(fqdn string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.names[fqdn]; ok {
		return false
	}
	c.names[fqdn] = struct{}{}
	return true
}

// RemoveName drops a service instance name from the heard-names index.
func (c *Cache) RemoveName(fqdn string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.names, fqdn)
}

// SetAnnounced records svc as locally announced via packet, retaining
// the packet for reannounce/goodbye.
func (c *Cache) SetAnnounced(svc *Service, packet message.Packet) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.announced[svc.FQDN] = announcedEntry{service: svc, packet: packet}
}

// AnnouncedPacket returns the retained announcement packet for fqdn.
func (c *Cache) AnnouncedPacket(fqdn string) (message.Packet, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.announced[fqdn]
	return e.packet, ok
}

// RemoveAnnounced drops fqdn from the announced map (spec §4.8:
// unannounce "remove from announced").
func (c *Cache) RemoveAnnounced(fqdn string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.announced, fqdn)
}

// IsAnnounced reports whether fqdn is currently announced.
func (c *Cache) IsAnnounced(fqdn string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.announced[fqdn]
	return ok
}

// IsHeard reports whether fqdn is present in the heard-names index
// (spec §4.8: announce refuses a name already seen on the link).
func (c *Cache) IsHeard(fqdn string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.names[fqdn]
	return ok
}

// HeardServices returns a deep-copied snapshot of every heard service,
// sorted by fqdn for deterministic iteration.
func (c *Cache) HeardServices() []Service {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Service, 0, len(c.heard))
	for _, s := range c.heard {
		out = append(out, s.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FQDN < out[j].FQDN })
	return out
}

// AnnouncedServices returns a deep-copied snapshot of every owned,
// announced service, sorted by fqdn.
func (c *Cache) AnnouncedServices() []Service {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Service, 0, len(c.announced))
	for _, e := range c.announced {
		out = append(out, e.service.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FQDN < out[j].FQDN })
	return out
}

// HeardTypes returns a sorted snapshot of every heard service type.
func (c *Cache) HeardTypes() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.types))
	for t := range c.types {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// HeardNames returns a sorted snapshot of every heard instance fqdn.
func (c *Cache) HeardNames() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.names))
	for n := range c.names {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
