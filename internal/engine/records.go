package engine

import (
	"net"
	"strings"

	"github.com/joshuafuller/beacon/internal/cache"
	"github.com/joshuafuller/beacon/internal/message"
	"github.com/joshuafuller/beacon/internal/protocol"
)

// serviceTypeOf splits an instance fqdn ("MyWeb._http._tcp.local.") into
// its service type ("_http._tcp.local.") by dropping the leading
// instance-name label.
func serviceTypeOf(fqdn string) string {
	idx := strings.Index(fqdn, "._")
	if idx < 0 {
		return fqdn
	}
	return fqdn[idx+1:]
}

// buildAnnouncement composes the owned-service announcement packet of
// spec §3/§4.8: PTR+subtype-PTRs and SRV/TXT as answers, host A/AAAA as
// additionals.
func (e *Engine) buildAnnouncement(svc *cache.Service, addrs []net.IP) []message.Record {
	svcType := svc.Type
	if svcType == "" {
		svcType = serviceTypeOf(svc.FQDN)
	}

	var out []message.Record
	out = append(out, message.NewPTR(svcType, svc.FQDN, e.ttlPTR))
	for _, sub := range svc.Subtypes {
		out = append(out, message.NewPTR(sub+"._sub."+svcType, svc.FQDN, e.ttlPTR))
	}
	out = append(out, message.NewSRV(svc.FQDN, 0, 0, uint16(svc.Port), svc.Host, e.ttlSRV))
	out = append(out, message.NewTXT(svc.FQDN, svc.Text, e.ttlTXT))

	for _, ip := range addrs {
		if v4 := ip.To4(); v4 != nil {
			out = append(out, message.NewA(svc.Host, v4, e.ttlA))
		} else {
			out = append(out, message.NewAAAA(svc.Host, ip, e.ttlA))
		}
	}
	return out
}

// splitAnswersAdditionals partitions buildAnnouncement's output into the
// answer section (PTR/subtype-PTR/SRV/TXT) and additional section
// (A/AAAA), matching scenario S1's shape.
func splitAnswersAdditionals(records []message.Record) (answers, additionals []message.Record) {
	for _, r := range records {
		switch r.Type {
		case protocol.RecordTypeA, protocol.RecordTypeAAAA:
			additionals = append(additionals, r)
		default:
			answers = append(answers, r)
		}
	}
	return answers, additionals
}
