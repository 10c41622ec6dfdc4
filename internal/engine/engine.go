package engine

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"

	"github.com/joshuafuller/beacon/internal/cache"
	"github.com/joshuafuller/beacon/internal/errors"
	"github.com/joshuafuller/beacon/internal/expiry"
	"github.com/joshuafuller/beacon/internal/iface"
	"github.com/joshuafuller/beacon/internal/message"
	"github.com/joshuafuller/beacon/internal/protocol"
)

// state is the 3-state shutdown machine of spec §4.6.
type state int32

const (
	stateNew state = iota
	stateRunning
	stateCancelled
)

// Engine is the single-owner-thread mDNS/DNS-SD engine of spec §4.6-4.8:
// it owns the cache, the expiry wheel, and the interface manager, and
// runs the cooperative I/O loop described there. External callers only
// enqueue packets, adjust configuration, or read cache snapshots; every
// other mutation happens on the loop goroutine.
type Engine struct {
	cache  *cache.Cache
	wheel  *expiry.Wheel
	ifaces *iface.Manager
	sink   EventSink

	domain            string
	hostname          string
	ipv4Enabled       bool
	ipv6Enabled       bool
	networkInterfaces []string
	ttlPTR            uint32
	ttlSRV            uint32
	ttlTXT            uint32
	ttlA              uint32

	outMu   sync.Mutex
	outbox  []message.Packet
	idSeq   uint32
	state   int32 // atomic state
	done    chan struct{}
	wake    chan struct{}
	probeMu sync.Mutex

	probeWatch map[string]chan struct{}
}

// New constructs an Engine and opens its multicast sockets, but does not
// start the loop -- call Run for that.
func New(opts ...Option) (*Engine, error) {
	e := &Engine{
		cache:       cache.New(),
		wheel:       expiry.New(),
		sink:        NoopEventSink{},
		domain:      protocol.DefaultDomain,
		hostname:    defaultHostname() + ".local.",
		ipv4Enabled: true,
		ipv6Enabled: true,
		ttlPTR:      uint32(protocol.DefaultTTLPTR / time.Second),
		ttlSRV:      uint32(protocol.DefaultTTLSRV / time.Second),
		ttlTXT:      uint32(protocol.DefaultTTLTXT / time.Second),
		ttlA:        uint32(protocol.DefaultTTLA / time.Second),
		done:        make(chan struct{}),
		wake:        make(chan struct{}, 1),
		probeWatch:  make(map[string]chan struct{}),
	}
	for _, opt := range opts {
		if err := opt(e); err != nil {
			return nil, err
		}
	}

	mgr, err := iface.NewManager(iface.Options{
		NetworkInterfaces: e.networkInterfaces,
		IPv4Enabled:       e.ipv4Enabled,
		IPv6Enabled:       e.ipv6Enabled,
	})
	if err != nil {
		return nil, &errors.NetworkError{Operation: "open engine sockets", Err: err}
	}
	e.ifaces = mgr
	return e, nil
}

func (e *Engine) nowMs() int64 { return time.Now().UnixMilli() }

func (e *Engine) nextID() uint16 { return uint16(atomic.AddUint32(&e.idSeq, 1)) }

// Enqueue pushes pkt onto the outbound FIFO and wakes the loop (spec §5:
// "enqueueing a packet... push to a mutex-protected deque and wake the
// selector").
func (e *Engine) Enqueue(pkt message.Packet) {
	e.outMu.Lock()
	e.outbox = append(e.outbox, pkt)
	e.outMu.Unlock()
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

func (e *Engine) popOutbound() (message.Packet, bool) {
	e.outMu.Lock()
	defer e.outMu.Unlock()
	if len(e.outbox) == 0 {
		return message.Packet{}, false
	}
	pkt := e.outbox[0]
	e.outbox = e.outbox[1:]
	return pkt, true
}

// localAddresses collects one address set across every tracked interface
// (quarantined ones included),
// for building a service's host A/AAAA additionals (spec §3
// announcement packet).
func (e *Engine) localAddresses() []net.IP {
	var out []net.IP
	for _, entry := range e.ifaces.Entries() {
		for _, n := range entry.IPv4 {
			out = append(out, n.IP)
		}
		for _, n := range entry.IPv6 {
			out = append(out, n.IP)
		}
	}
	return out
}

// Cache exposes the engine's service cache to external callers. Its
// HeardServices/AnnouncedServices/HeardTypes/HeardNames methods return
// copies; Get returns the live service.
func (e *Engine) Cache() *cache.Cache { return e.cache }

// Domain returns the discovery domain services are announced under
// (spec §6), for callers that need to compute a ServiceSpec's fqdn.
func (e *Engine) Domain() string { return e.domain }

// Run executes the cooperative loop of spec §4.6 until ctx is done or
// Close is called. It owns every send/receive/reconcile/expire step;
// callers drive it from one dedicated goroutine.
func (e *Engine) Run(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&e.state, int32(stateNew), int32(stateRunning)) {
		return &errors.ValidationError{Field: "state", Value: e.state, Message: "engine already running or closed"}
	}

	e.ifaces.StartReaders(ctx, e.nowMs)
	if _, err := e.ifaces.Reconcile(e.nowMs()); err != nil {
		e.sink.Logf("beacon: initial reconcile failed: %v", err)
	}

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		e.flushOutbound()

		select {
		case <-ctx.Done():
			e.shutdown()
			return nil
		case <-e.done:
			e.shutdown()
			return nil
		case <-e.wake:
		case pkt := <-e.ifaces.Inbound():
			e.handleInbound(pkt)
		case <-ticker.C:
		}

		// spec §4.6 steps 3-4 run every iteration regardless of which
		// branch fired above, not only on the ticker: otherwise sustained
		// inbound traffic could starve expiry/reconcile indefinitely.
		e.wheel.Tick(e.nowMs())
		e.reconcile()
	}
}

func (e *Engine) handleInbound(raw iface.InboundPacket) {
	pkt, err := message.Decode(raw.Data, raw.NIC, raw.Timestamp)
	if err != nil {
		e.dispatch(func() { e.sink.PacketError(raw.NIC, err) })
		return
	}
	e.processPacket(pkt, len(raw.Data), e.nowMs())
}

// flushOutbound implements spec §4.6 step 1: pop one pending packet,
// fan it out to every ready interface it applies to, aggregating
// per-interface send errors with multierr rather than keeping only the
// first (DOMAIN STACK: go.uber.org/multierr, as in
// other_examples/edaniels-zeroconf__server.go).
func (e *Engine) flushOutbound() {
	pkt, ok := e.popOutbound()
	if !ok {
		return
	}

	topology := e.ifaces.Topology()
	now := e.nowMs()
	var fanErr error
	for _, entry := range e.ifaces.Entries() {
		if entry.IsDisabled(now) {
			continue
		}
		if pkt.NIC != "" && pkt.NIC != entry.NIC {
			continue
		}
		scoped, ok := pkt.AppliedTo(entry.NIC, topology)
		if !ok {
			continue
		}
		data, err := scoped.Encode()
		if err != nil {
			fanErr = multierr.Append(fanErr, err)
			continue
		}
		if err := e.ifaces.WriteTo(data, entry.NIC); err != nil {
			fanErr = multierr.Append(fanErr, err)
			if shouldLog := e.ifaces.Quarantine(entry.NIC, now); shouldLog {
				e.dispatch(func() { e.sink.PacketError(entry.NIC, err) })
			}
			continue
		}
		e.ifaces.MarkSent(entry.NIC)
		e.dispatch(func() { e.sink.PacketSent(entry.NIC, len(data)) })
	}
	if fanErr != nil {
		e.sink.Logf("beacon: send errors during fan-out: %v", fanErr)
	}
}

// reconcile implements spec §4.6 step 4: re-check every interface's
// topology and, on any change, reannounce every owned service.
func (e *Engine) reconcile() {
	changed, err := e.ifaces.Reconcile(e.nowMs())
	if err != nil {
		e.sink.Logf("beacon: reconcile failed: %v", err)
		return
	}
	if len(changed) == 0 {
		return
	}
	for _, nic := range changed {
		e.dispatch(func() { e.sink.TopologyChange(nic) })
	}
	for _, svc := range e.cache.AnnouncedServices() {
		fqdn := svc.FQDN
		if pkt, ok := e.cache.AnnouncedPacket(fqdn); ok {
			pkt.ID = e.nextID()
			pkt.Timestamp = e.nowMs()
			e.Enqueue(pkt)
		}
	}
}

// shutdown implements spec §4.6: unannounce every owned service before
// the loop exits, then close the interface sockets.
func (e *Engine) shutdown() {
	atomic.StoreInt32(&e.state, int32(stateCancelled))
	for _, svc := range e.cache.AnnouncedServices() {
		_ = e.Unannounce(svc.FQDN)
		e.flushOutbound()
	}
	if err := e.ifaces.Close(); err != nil {
		e.sink.Logf("beacon: error closing interfaces: %v", err)
	}
}

// Close requests the loop to stop (spec §4.6: "close() transitions to
// cancelled and wakes the selector"). It is safe to call from any
// goroutine and is idempotent.
func (e *Engine) Close() error {
	select {
	case <-e.done:
	default:
		close(e.done)
	}
	return nil
}
