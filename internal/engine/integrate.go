package engine

import (
	"strings"

	"github.com/joshuafuller/beacon/internal/errors"
	"github.com/joshuafuller/beacon/internal/message"
	"github.com/joshuafuller/beacon/internal/protocol"
)

// touched accumulates which services were newly created or modified
// across one integrate() call, so the per-packet new/modified events
// (spec §4.6) fire exactly once per service, with modified excluding new.
type touched struct {
	new    map[string]bool
	modded map[string]bool
}

func newTouched() *touched { return &touched{new: map[string]bool{}, modded: map[string]bool{}} }

// processPacket implements spec §4.6: notify received, answer questions,
// then integrate answers in the fixed PTR/SRV/other × answer/additional
// pass order.
func (e *Engine) processPacket(pkt message.Packet, size int, now int64) {
	e.dispatch(func() { e.sink.PacketReceived(pkt.NIC, size) })

	for _, r := range pkt.Answers {
		e.signalConflict(r.Name)
	}
	for _, r := range pkt.Additionals {
		e.signalConflict(r.Name)
	}

	if resp, ok := e.answer(pkt, now); ok {
		e.Enqueue(resp)
	}

	t := newTouched()
	// kindPTR/kindSRV/kindOther select records of interest within one
	// section, preserving the fixed pass order spec §4.6 requires.
	const kindOther = protocol.RecordType(0)
	byType := func(records []message.Record, want protocol.RecordType) []message.Record {
		var out []message.Record
		for _, r := range records {
			switch {
			case want == protocol.RecordTypePTR:
				if r.Type == protocol.RecordTypePTR {
					out = append(out, r)
				}
			case want == protocol.RecordTypeSRV:
				if r.Type == protocol.RecordTypeSRV {
					out = append(out, r)
				}
			default: // kindOther
				if r.Type != protocol.RecordTypePTR && r.Type != protocol.RecordTypeSRV {
					out = append(out, r)
				}
			}
		}
		return out
	}

	for _, r := range byType(pkt.Answers, protocol.RecordTypePTR) {
		e.integratePTR(r, pkt.NIC, now, t)
	}
	for _, r := range byType(pkt.Additionals, protocol.RecordTypePTR) {
		e.integratePTR(r, pkt.NIC, now, t)
	}
	for _, r := range byType(pkt.Answers, protocol.RecordTypeSRV) {
		e.integrateSRV(r, now, t)
	}
	for _, r := range byType(pkt.Additionals, protocol.RecordTypeSRV) {
		e.integrateSRV(r, now, t)
	}
	for _, r := range byType(pkt.Answers, kindOther) {
		e.integrateOther(r, pkt.NIC, now, t)
	}
	for _, r := range byType(pkt.Additionals, kindOther) {
		e.integrateOther(r, pkt.NIC, now, t)
	}

	for fqdn := range t.new {
		if svc, ok := e.cache.Get(fqdn); ok {
			e.dispatch(func() { e.sink.ServiceAnnounced(svc.Clone()) })
		}
	}
	for fqdn := range t.modded {
		if t.new[fqdn] {
			continue
		}
		if svc, ok := e.cache.Get(fqdn); ok {
			e.dispatch(func() { e.sink.ServiceModified(svc.Clone()) })
		}
	}
}

// integrateOther dispatches TXT and A/AAAA integration (spec §4.6's
// "other" passes; NSEC/CNAME are decoded but never interpreted here).
func (e *Engine) integrateOther(r message.Record, nic string, now int64, t *touched) {
	switch r.Type {
	case protocol.RecordTypeTXT:
		e.integrateTXT(r, now, t)
	case protocol.RecordTypeA, protocol.RecordTypeAAAA:
		e.integrateAddress(r, nic, now, t)
	}
}

func (e *Engine) integratePTR(r message.Record, nic string, now int64, t *touched) {
	expiring := r.TTL == 0

	if strings.EqualFold(r.Name, protocol.ServiceEnumDomain) {
		typeName := r.PTR
		if !expiring {
			if e.cache.AddType(typeName) {
				e.dispatch(func() { e.sink.TypeNamed(typeName) })
			}
			e.wheel.Schedule(typeName, r.TTL, now, func() {
				e.cache.RemoveType(typeName)
				e.dispatch(func() { e.sink.TypeNameExpired(typeName) })
			})
		}
		return
	}

	typeStr := r.Name
	if !expiring {
		if e.cache.AddType(typeStr) {
			e.dispatch(func() { e.sink.TypeNamed(typeStr) })
		}
		e.wheel.Schedule(typeStr, r.TTL, now, func() {
			e.cache.RemoveType(typeStr)
			e.dispatch(func() { e.sink.TypeNameExpired(typeStr) })
		})
	}

	fqdn := r.PTR
	if !strings.HasSuffix(strings.ToLower(fqdn), strings.ToLower(typeStr)) {
		e.dispatch(func() {
			e.sink.PacketError(nic, &errors.NameError{Name: fqdn, Reason: "PTR rdata does not end with its type"})
		})
		return
	}
	if expiring {
		return
	}
	instance := strings.TrimSuffix(fqdn, "."+typeStr)
	if e.cache.AddName(fqdn) {
		e.dispatch(func() { e.sink.ServiceNamed(typeStr, instance) })
	}

	// A PTR only names the instance; the heard service itself is created
	// by SRV integration. The PTR TTL is recorded on a service already in
	// the cache.
	if svc, ok := e.cache.Get(fqdn); ok {
		svc.TTL.PTR = r.TTL
	}

	e.wheel.Schedule("name "+fqdn, r.TTL, now, func() {
		e.cache.RemoveName(fqdn)
		e.dispatch(func() { e.sink.ServiceNameExpired(typeStr, instance) })
	})
}

func (e *Engine) integrateSRV(r message.Record, now int64, t *touched) {
	fqdn := r.Name
	svc, ok := e.cache.Get(fqdn)
	if !ok {
		if r.TTL == 0 {
			return // spec invariant 8: a TTL=0 record for an unknown name creates nothing
		}
		svc, _ = e.cache.GetOrCreate(fqdn)
		svc.Type = serviceTypeOf(fqdn)
		t.new[fqdn] = true
	}

	if svc.Owner {
		refresh := refreshSeconds(r.TTL)
		e.wheel.Schedule(fqdn, refresh, now, func() { e.reannounce(fqdn) })
		return
	}

	if svc.SetHost(r.SRV.Target, int(r.SRV.Port)) {
		t.modded[fqdn] = true
	}
	svc.TTL.SRV = r.TTL
	e.wheel.Schedule(fqdn, r.TTL, now, func() {
		expired, ok := e.cache.Get(fqdn)
		if !ok {
			return
		}
		snapshot := expired.Clone()
		e.cache.Remove(fqdn)
		e.dispatch(func() { e.sink.ServiceExpired(snapshot) })
	})
}

// refreshSeconds is spec §4.6's owned-service refresh schedule:
// min(ttl·9/10, ttl−5).
func refreshSeconds(ttl uint32) uint32 {
	nine10 := ttl * 9 / 10
	minus5 := uint32(0)
	if ttl > 5 {
		minus5 = ttl - 5
	}
	if nine10 < minus5 {
		return nine10
	}
	return minus5
}

func (e *Engine) integrateTXT(r message.Record, now int64, t *touched) {
	fqdn := r.Name
	svc, ok := e.cache.Get(fqdn)
	if !ok || svc.Owner {
		return
	}
	if svc.SetText(r.TXT) {
		t.modded[fqdn] = true
	}
	svc.TTL.TXT = r.TTL
	e.wheel.Schedule("txt "+fqdn, r.TTL, now, func() {
		if s, ok := e.cache.Get(fqdn); ok {
			s.SetText(nil)
		}
	})
}

func (e *Engine) integrateAddress(r message.Record, nic string, now int64, t *touched) {
	host := r.Name
	addr := r.IP.String()
	for _, svc := range e.cache.ServicesByHost(host) {
		if svc.Owner {
			continue
		}
		fqdn := svc.FQDN
		if svc.AddAddress(addr, nic) {
			t.modded[fqdn] = true
		}
		svc.TTL.A = r.TTL
		e.wheel.Schedule(host+" "+addr, r.TTL, now, func() {
			if s, ok := e.cache.Get(fqdn); ok {
				s.RemoveAddress(addr)
			}
		})
	}
}
