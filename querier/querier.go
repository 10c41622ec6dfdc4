package querier

import (
	"context"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/joshuafuller/beacon/internal/engine"
	"github.com/joshuafuller/beacon/internal/errors"
	"github.com/joshuafuller/beacon/internal/message"
	"github.com/joshuafuller/beacon/internal/protocol"
)

// defaultQueryTimeout bounds how long Query waits for answers when the
// caller's ctx carries no deadline of its own.
const defaultQueryTimeout = 3 * time.Second

// pollInterval is how often Query rechecks the heard-service cache while
// waiting for answers. The engine has no per-query notification channel
// (spec §4: C9 adds no engine state), so polling the cache snapshot is
// the composition-only way to observe it.
const pollInterval = 20 * time.Millisecond

// Querier is a read-only façade over its own engine.Engine: it probes
// nothing and announces nothing, only sends questions and reads back
// whatever lands in the heard-service cache.
type Querier struct {
	eng    *engine.Engine
	cancel context.CancelFunc
	runErr chan error

	defaultTimeout     time.Duration
	explicitInterfaces []net.Interface
	interfaceFilter    func(net.Interface) bool

	rateLimitEnabled   bool
	rateLimitThreshold int
	rateLimitCooldown  time.Duration

	mu          sync.Mutex
	windowStart time.Time
	windowCount int

	closeOnce sync.Once
	closeErr  error
}

// New starts a Querier and its background engine loop.
func New(opts ...Option) (*Querier, error) {
	q := &Querier{
		defaultTimeout:     defaultQueryTimeout,
		rateLimitEnabled:   true,
		rateLimitThreshold: 100,
		rateLimitCooldown:  time.Minute,
	}
	for _, opt := range opts {
		if err := opt(q); err != nil {
			return nil, err
		}
	}

	var engineOpts []engine.Option
	if names := q.interfaceNames(); len(names) > 0 {
		engineOpts = append(engineOpts, engine.WithNetworkInterfaces(names...))
	}

	eng, err := engine.New(engineOpts...)
	if err != nil {
		return nil, err
	}
	q.eng = eng

	ctx, cancel := context.WithCancel(context.Background())
	q.cancel = cancel
	q.runErr = make(chan error, 1)
	go func() { q.runErr <- eng.Run(ctx) }()

	return q, nil
}

// interfaceNames resolves the configured interface restriction (explicit
// list, filter, or neither) into the names engine.WithNetworkInterfaces
// expects.
func (q *Querier) interfaceNames() []string {
	if len(q.explicitInterfaces) > 0 {
		names := make([]string, len(q.explicitInterfaces))
		for i, ifc := range q.explicitInterfaces {
			names[i] = ifc.Name
		}
		return names
	}
	if q.interfaceFilter == nil {
		return nil
	}
	all, err := net.Interfaces()
	if err != nil {
		return nil
	}
	var names []string
	for _, ifc := range all {
		if q.interfaceFilter(ifc) {
			names = append(names, ifc.Name)
		}
	}
	return names
}

// allowed enforces the rate limit: at most rateLimitThreshold calls per
// rateLimitCooldown window, reset once the window elapses.
func (q *Querier) allowed() bool {
	if !q.rateLimitEnabled {
		return true
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	now := time.Now()
	if now.Sub(q.windowStart) > q.rateLimitCooldown {
		q.windowStart = now
		q.windowCount = 0
	}
	if q.windowCount >= q.rateLimitThreshold {
		return false
	}
	q.windowCount++
	return true
}

func qualify(name string) string {
	if !strings.HasSuffix(name, ".") {
		return name + "."
	}
	return name
}

// Query sends one question for name, then polls the heard-service cache
// and returns the deduplicated records it holds for name as soon as any
// are present. If none appear before ctx is done or the default/configured
// timeout elapses, whichever is sooner, it returns whatever the cache holds
// at that point. A timeout with zero answers is reported as an empty
// Response, not an error (RFC 6762 §6: silence is valid).
func (q *Querier) Query(ctx context.Context, name string, rtype RecordType) (Response, error) {
	if name == "" {
		return Response{}, &errors.ValidationError{Field: "name", Message: "must not be empty"}
	}
	if !q.allowed() {
		return Response{}, &errors.ValidationError{Field: "rate", Message: "query rate limit exceeded, retry after the cooldown"}
	}

	fqdn := qualify(name)

	timeout := q.defaultTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if d := time.Until(deadline); d < timeout {
			timeout = d
		}
	}
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	pkt := message.NewQuestionPacket(0, fqdn, protocol.RecordType(rtype), false, time.Now().UnixMilli())
	q.eng.Enqueue(pkt)

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		if records := q.collect(fqdn, rtype); len(records) > 0 {
			return Response{Records: records}, nil
		}
		select {
		case <-waitCtx.Done():
			return Response{Records: q.collect(fqdn, rtype)}, nil
		case <-ticker.C:
		}
	}
}

// collect reads whatever the heard-service cache currently knows that
// answers fqdn/rtype, per RFC 6763 lookup semantics for each record
// kind.
func (q *Querier) collect(fqdn string, rtype RecordType) []ResourceRecord {
	switch protocol.RecordType(rtype) {
	case protocol.RecordTypePTR:
		return q.collectPTR(fqdn)
	case protocol.RecordTypeSRV:
		return q.collectSRV(fqdn)
	case protocol.RecordTypeTXT:
		return q.collectTXT(fqdn)
	case protocol.RecordTypeA:
		return q.collectA(fqdn)
	default:
		return nil
	}
}

func (q *Querier) collectPTR(fqdn string) []ResourceRecord {
	if fqdn == protocol.ServiceEnumDomain {
		types := q.eng.Cache().HeardTypes()
		out := make([]ResourceRecord, 0, len(types))
		for _, t := range types {
			out = append(out, ResourceRecord{Name: fqdn, Type: RecordTypePTR, Data: t, TTL: uint32(protocol.DefaultTTLPTR / time.Second)})
		}
		return out
	}

	var out []ResourceRecord
	for _, svc := range q.eng.Cache().HeardServices() {
		if svc.Type != fqdn {
			continue
		}
		out = append(out, ResourceRecord{Name: fqdn, Type: RecordTypePTR, Data: svc.FQDN, TTL: svc.TTL.PTR})
	}
	return out
}

func (q *Querier) collectSRV(fqdn string) []ResourceRecord {
	svc, ok := q.eng.Cache().Get(fqdn)
	if !ok || !svc.HasHost {
		return nil
	}
	cp := svc.Clone()
	return []ResourceRecord{{
		Name: fqdn,
		Type: RecordTypeSRV,
		Data: SRVData{Target: cp.Host, Port: uint16(cp.Port)},
		TTL:  cp.TTL.SRV,
	}}
}

func (q *Querier) collectTXT(fqdn string) []ResourceRecord {
	svc, ok := q.eng.Cache().Get(fqdn)
	if !ok || !svc.HasText {
		return nil
	}
	cp := svc.Clone()
	strs := make([]string, 0, len(cp.Text))
	for _, pair := range cp.Text {
		if pair.HasValue {
			strs = append(strs, pair.Key+"="+pair.Value)
		} else {
			strs = append(strs, pair.Key)
		}
	}
	return []ResourceRecord{{Name: fqdn, Type: RecordTypeTXT, Data: strs, TTL: cp.TTL.TXT}}
}

func (q *Querier) collectA(fqdn string) []ResourceRecord {
	var out []ResourceRecord
	seen := make(map[string]bool)
	for _, svc := range q.eng.Cache().HeardServices() {
		if svc.Host != fqdn {
			continue
		}
		for addr := range svc.Addresses {
			ip := net.ParseIP(addr)
			if ip == nil || ip.To4() == nil || seen[addr] {
				continue
			}
			seen[addr] = true
			out = append(out, ResourceRecord{Name: fqdn, Type: RecordTypeA, Data: ip, TTL: svc.TTL.A})
		}
	}
	return out
}

// Close stops the underlying engine and releases its sockets. Idempotent:
// the second and later calls return the same error the first produced.
func (q *Querier) Close() error {
	q.closeOnce.Do(func() {
		q.closeErr = q.eng.Close()
		q.cancel()
		<-q.runErr
	})
	return q.closeErr
}
