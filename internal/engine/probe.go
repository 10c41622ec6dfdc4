package engine

import (
	"strings"
	"time"

	"github.com/joshuafuller/beacon/internal/message"
	"github.com/joshuafuller/beacon/internal/protocol"
)

// probeInterval and probeRounds implement spec §4.8/§5: three ANY
// questions, 250 ms apart, aborting on first matching response.
const (
	probeInterval = 250 * time.Millisecond
	probeRounds   = 3
)

// ServiceSpec is the caller-supplied description of a service to
// announce (spec §3's owned Service, builder input half).
type ServiceSpec struct {
	InstanceName string
	ServiceType  string // e.g. "_http._tcp"; domain appended if no second dot
	Port         int
	Text         []message.TXTPair
	Subtypes     []string
}

// fqdn returns the fully-qualified instance name this spec announces
// under, given domain as the discovery domain fallback.
func (s ServiceSpec) fqdn(domain string) string {
	return s.InstanceName + "." + normalizeType(s.ServiceType, domain)
}

// FQDN exposes fqdn to callers outside the package (responder.Register
// needs it to track what it announced under).
func (s ServiceSpec) FQDN(domain string) string {
	return s.fqdn(domain)
}

// normalizeType appends domain to a bare "_svc._proto" type that carries
// no second dot (spec §6).
func normalizeType(t, domain string) string {
	trimmed := strings.TrimSuffix(t, ".")
	if strings.Count(trimmed, ".") < 2 {
		trimmed += "." + strings.TrimSuffix(domain, ".")
	}
	if !strings.HasSuffix(trimmed, ".") {
		trimmed += "."
	}
	return trimmed
}

// watchConflict registers fqdn for probe-conflict detection; processPacket
// signals it, before integration, when any answer or additional record
// carries a matching name. The returned cancel function must be called
// once probing finishes.
func (e *Engine) watchConflict(fqdn string) (conflict <-chan struct{}, cancel func()) {
	ch := make(chan struct{}, 1)
	key := strings.ToLower(fqdn)
	e.probeMu.Lock()
	e.probeWatch[key] = ch
	e.probeMu.Unlock()
	return ch, func() {
		e.probeMu.Lock()
		delete(e.probeWatch, key)
		e.probeMu.Unlock()
	}
}

// signalConflict is called by processPacket with every received answer and
// additional record name; it signals the probe watching that name, if any.
func (e *Engine) signalConflict(name string) {
	e.probeMu.Lock()
	ch, ok := e.probeWatch[strings.ToLower(name)]
	e.probeMu.Unlock()
	if !ok {
		return
	}
	select {
	case ch <- struct{}{}:
	default:
	}
}

// probe implements spec §4.8's probe step: three ANY questions for fqdn,
// spaced probeInterval apart. Returns false (no error) the instant a
// same-name answer arrives, and returns early if the engine is closed.
func (e *Engine) probe(fqdn string) (clear bool, err error) {
	conflict, cancel := e.watchConflict(fqdn)
	defer cancel()

	for i := 0; i < probeRounds; i++ {
		q := message.NewQuestionPacket(e.nextID(), fqdn, protocol.RecordTypeANY, false, e.nowMs())
		e.Enqueue(q)

		timer := time.NewTimer(probeInterval)
		select {
		case <-conflict:
			timer.Stop()
			return false, nil
		case <-timer.C:
		case <-e.done:
			timer.Stop()
			return false, nil
		}
	}
	return true, nil
}

// Announce implements spec §4.8: probe for spec's fqdn, and on a clear
// probe compose and send the announcement, retaining it for reannounce
// and goodbye. Returns false (no error) if the name is already announced
// or has been heard from another responder, or if probing detects a
// collision.
func (e *Engine) Announce(spec ServiceSpec) (bool, error) {
	fqdn := spec.fqdn(e.domain)
	if e.cache.IsAnnounced(fqdn) || e.cache.IsHeard(fqdn) {
		return false, nil
	}

	clear, err := e.probe(fqdn)
	if err != nil || !clear {
		return false, err
	}

	svc, _ := e.cache.GetOrCreate(fqdn)
	svc.Owner = true
	svc.Name = spec.InstanceName
	svc.Type = normalizeType(spec.ServiceType, e.domain)
	svc.Domain = e.domain
	svc.Host = e.hostname
	svc.Port = spec.Port
	svc.Subtypes = spec.Subtypes
	svc.SetText(spec.Text)
	svc.ConsumeModified()

	records := e.buildAnnouncement(svc, e.localAddresses())
	answers, additionals := splitAnswersAdditionals(records)
	pkt := message.Packet{
		ID: e.nextID(), Flags: protocol.FlagResponse | protocol.FlagAuthoritative,
		Answers: answers, Additionals: additionals, Timestamp: e.nowMs(),
	}

	e.cache.SetAnnounced(svc, pkt)
	e.Enqueue(pkt)
	e.dispatch(func() { e.sink.ServiceAnnounced(svc.Clone()) })
	return true, nil
}

// Unannounce implements spec §4.8's goodbye: every record of the
// retained announcement packet is resent with ttl=0, and the service is
// dropped from the announced map.
func (e *Engine) Unannounce(fqdn string) error {
	pkt, ok := e.cache.AnnouncedPacket(fqdn)
	if !ok {
		return nil
	}
	goodbye := pkt
	goodbye.Answers = goodbyeRecords(pkt.Answers)
	goodbye.Additionals = goodbyeRecords(pkt.Additionals)
	goodbye.Timestamp = e.nowMs()

	e.Enqueue(goodbye)
	e.cache.RemoveAnnounced(fqdn)
	return nil
}

func goodbyeRecords(records []message.Record) []message.Record {
	out := make([]message.Record, len(records))
	for i, r := range records {
		out[i] = r.Goodbye()
	}
	return out
}

// reannounce resends fqdn's retained announcement unchanged and
// reschedules its refresh, run by the expiry wheel when an owned
// service's SRV TTL approaches expiry (spec §4.6).
func (e *Engine) reannounce(fqdn string) {
	pkt, ok := e.cache.AnnouncedPacket(fqdn)
	if !ok {
		return
	}
	pkt.ID = e.nextID()
	pkt.Timestamp = e.nowMs()
	e.Enqueue(pkt)

	ttl := uint32(protocol.DefaultTTLSRV / time.Second) // fallback only if no SRV found below
	for _, r := range pkt.Answers {
		if r.Type == protocol.RecordTypeSRV {
			ttl = r.TTL
			break
		}
	}
	e.wheel.Schedule(fqdn, refreshSeconds(ttl), e.nowMs(), func() { e.reannounce(fqdn) })
}
