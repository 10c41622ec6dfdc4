package engine

import (
	"strings"

	"github.com/joshuafuller/beacon/internal/message"
	"github.com/joshuafuller/beacon/internal/protocol"
)

// answer implements spec §4.7: match every question in pkt against the
// announced services' records, add DNS-SD additionals, and return a
// response packet. ok is false if nothing in pkt matched anything
// announced (the caller then sends nothing).
func (e *Engine) answer(pkt message.Packet, now int64) (message.Packet, bool) {
	var answers, additionals []message.Record

	for _, q := range pkt.Questions {
		if strings.EqualFold(q.Name, protocol.ServiceEnumDomain) &&
			(q.Type == protocol.RecordTypePTR || q.Type == protocol.RecordTypeANY) {
			answers = append(answers, e.serviceEnumAnswers()...)
			continue
		}

		for _, svc := range e.cache.AnnouncedServices() {
			recs := e.buildAnnouncement(&svc, e.localAddresses())
			for _, r := range recs {
				if !strings.EqualFold(r.Name, q.Name) {
					continue
				}
				if q.Type != protocol.RecordTypeANY && r.Type != q.Type {
					continue
				}
				answers = append(answers, r)
				if q.Type != protocol.RecordTypeANY {
					additionals = append(additionals, dnssdAdditionals(r, recs)...)
				}
			}
		}
	}

	if len(answers) == 0 {
		return message.Packet{}, false
	}
	return message.ResponseTo(pkt, answers, dedupRecords(additionals), now), true
}

// serviceEnumAnswers answers "_services._dns-sd._udp.local" with one PTR
// per distinct announced service type, TTL equal to the maximum PTR TTL
// among announced services of that type (spec §4.7).
func (e *Engine) serviceEnumAnswers() []message.Record {
	maxTTL := make(map[string]uint32)
	for _, svc := range e.cache.AnnouncedServices() {
		t := svc.Type
		if t == "" {
			t = serviceTypeOf(svc.FQDN)
		}
		if ttl := maxTTL[t]; e.ttlPTR > ttl {
			maxTTL[t] = e.ttlPTR
		}
	}
	out := make([]message.Record, 0, len(maxTTL))
	for t, ttl := range maxTTL {
		out = append(out, message.NewPTR(protocol.ServiceEnumDomain, t, ttl))
	}
	return out
}

// dnssdAdditionals implements RFC 6763 §12: a PTR answer pulls in the
// service's SRV/TXT/A/AAAA; an SRV answer pulls in A/AAAA/TXT.
func dnssdAdditionals(answer message.Record, all []message.Record) []message.Record {
	var out []message.Record
	switch answer.Type {
	case protocol.RecordTypePTR:
		for _, r := range all {
			if strings.EqualFold(r.Name, answer.PTR) &&
				(r.Type == protocol.RecordTypeSRV || r.Type == protocol.RecordTypeTXT) {
				out = append(out, r)
			}
		}
		if target := srvTargetFor(answer.PTR, all); target != "" {
			out = append(out, addressesFor(target, all)...)
		}
	case protocol.RecordTypeSRV:
		out = append(out, addressesFor(answer.SRV.Target, all)...)
		for _, r := range all {
			if strings.EqualFold(r.Name, answer.Name) && r.Type == protocol.RecordTypeTXT {
				out = append(out, r)
			}
		}
	}
	return out
}

func srvTargetFor(fqdn string, all []message.Record) string {
	for _, r := range all {
		if strings.EqualFold(r.Name, fqdn) && r.Type == protocol.RecordTypeSRV {
			return r.SRV.Target
		}
	}
	return ""
}

func addressesFor(host string, all []message.Record) []message.Record {
	var out []message.Record
	for _, r := range all {
		if strings.EqualFold(r.Name, host) && (r.Type == protocol.RecordTypeA || r.Type == protocol.RecordTypeAAAA) {
			out = append(out, r)
		}
	}
	return out
}

func dedupRecords(records []message.Record) []message.Record {
	seen := make(map[string]bool, len(records))
	out := make([]message.Record, 0, len(records))
	for _, r := range records {
		key := r.Name + "|" + r.Type.String() + "|" + r.PTR + "|" + r.SRV.Target
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, r)
	}
	return out
}
