// Package iface implements the per-interface multicast socket lifecycle
// and topology reconciliation of spec §4.5 (component C5): which NICs are
// up and multicast-capable, which addresses they currently hold, and the
// fault quarantine that takes a flaky NIC out of rotation.
//
// Grounded on the teacher's internal/transport (the single-socket
// UDPv4Transport generalized here to every interface and both families)
// and, for the shared-socket-plus-per-interface-join shape, on
// other_examples/edaniels-zeroconf__server.go which wires the same
// golang.org/x/net/ipv4+ipv6 PacketConn pattern across multiple NICs.
package iface

import (
	"context"
	"net"
	"sort"
	"sync"
	"time"

	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"

	beaconerrors "github.com/joshuafuller/beacon/internal/errors"
	"github.com/joshuafuller/beacon/internal/message"
	"github.com/joshuafuller/beacon/internal/protocol"
)

// DefaultRecovery is how long a NIC is quarantined after a send failure
// (spec §4.5).
const DefaultRecovery = 10 * time.Second

// Entry is spec §3's per-interface bookkeeping.
type Entry struct {
	IPv4          []net.IPNet
	IPv6          []net.IPNet
	NIC           string
	Index         int
	DisabledUntil int64 // monotonic ms; 0 means not disabled
	PacketsSent   uint32
	JoinedV4      bool
	JoinedV6      bool
	AutoAdded     bool // added by interface scan rather than explicit request
	everSucceeded bool
}

// IsDisabled reports whether the entry is currently quarantined as of now.
func (e Entry) IsDisabled(now int64) bool { return e.DisabledUntil != 0 && now < e.DisabledUntil }

// InboundPacket is one datagram read off either multicast socket.
type InboundPacket struct {
	Data      []byte
	NIC       string
	Timestamp int64
}

// Manager owns the shared IPv4/IPv6 multicast sockets and the per-NIC
// membership/quarantine bookkeeping (spec §4.5). One Manager serves an
// entire Engine; it is not safe to share across engines.
type Manager struct {
	mu       sync.Mutex
	entries  map[string]*Entry
	selected map[string]struct{} // configured allow-list; nil/empty means "all eligible"

	connV4 *ipv4.PacketConn
	connV6 *ipv6.PacketConn
	rawV4  net.PacketConn
	rawV6  net.PacketConn

	ipv4Enabled bool
	ipv6Enabled bool
	recovery    time.Duration

	inbound chan InboundPacket
	closed  chan struct{}
	wg      sync.WaitGroup
}

// Options configure a new Manager.
type Options struct {
	NetworkInterfaces []string // empty means every eligible interface
	IPv4Enabled       bool
	IPv6Enabled       bool
	Recovery          time.Duration
}

// NewManager constructs a Manager and opens the shared multicast sockets
// for every family enabled in opts, with a multicast TTL / hop limit of
// 255. No interfaces are joined yet --
// call Reconcile to discover and join them.
func NewManager(opts Options) (*Manager, error) {
	if opts.Recovery == 0 {
		opts.Recovery = DefaultRecovery
	}
	m := &Manager{
		entries:     make(map[string]*Entry),
		ipv4Enabled: opts.IPv4Enabled,
		ipv6Enabled: opts.IPv6Enabled,
		recovery:    opts.Recovery,
		inbound:     make(chan InboundPacket, 64),
		closed:      make(chan struct{}),
	}
	if len(opts.NetworkInterfaces) > 0 {
		m.selected = make(map[string]struct{}, len(opts.NetworkInterfaces))
		for _, n := range opts.NetworkInterfaces {
			m.selected[n] = struct{}{}
		}
	}

	if m.ipv4Enabled {
		conn, err := listenMulticast("udp4", protocol.Port)
		if err != nil {
			return nil, err
		}
		m.rawV4 = conn
		m.connV4 = ipv4.NewPacketConn(conn)
		_ = m.connV4.SetControlMessage(ipv4.FlagInterface, true)
		_ = m.connV4.SetMulticastTTL(255)
	}
	if m.ipv6Enabled {
		conn, err := listenMulticast("udp6", protocol.Port)
		if err != nil {
			if m.rawV4 != nil {
				_ = m.rawV4.Close()
			}
			return nil, err
		}
		m.rawV6 = conn
		m.connV6 = ipv6.NewPacketConn(conn)
		_ = m.connV6.SetControlMessage(ipv6.FlagInterface, true)
		_ = m.connV6.SetMulticastHopLimit(255)
	}
	return m, nil
}

func groupV4() *net.UDPAddr {
	return &net.UDPAddr{IP: net.ParseIP(protocol.MulticastAddrIPv4), Port: protocol.Port}
}

func groupV6() *net.UDPAddr {
	return &net.UDPAddr{IP: net.ParseIP(protocol.MulticastAddrIPv6), Port: protocol.Port}
}

// eligible reports whether ifi is a candidate at all: up, not loopback,
// multicast-capable, and (if an allow-list is configured) named in it.
func (m *Manager) eligible(ifi net.Interface) bool {
	if ifi.Flags&net.FlagUp == 0 || ifi.Flags&net.FlagLoopback != 0 || ifi.Flags&net.FlagMulticast == 0 {
		return false
	}
	if m.selected != nil {
		if _, ok := m.selected[ifi.Name]; !ok {
			return false
		}
	}
	return true
}

// Reconcile implements spec §4.5's per-iteration topology check: compute
// each eligible interface's current non-loopback addresses, join/leave
// multicast membership as a NIC transitions empty<->non-empty, and diff
// addresses in and out of the per-nic list otherwise. It returns the
// names of every NIC whose membership or address set changed, which the
// engine uses to decide whether to reannounce.
func (m *Manager) Reconcile(now int64) ([]string, error) {
	ifis, err := net.Interfaces()
	if err != nil {
		return nil, &beaconerrors.NetworkError{Operation: "list interfaces", Err: err}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	seen := make(map[string]bool, len(ifis))
	var changed []string

	for _, ifi := range ifis {
		if !m.eligible(ifi) {
			continue
		}
		seen[ifi.Name] = true

		v4, v6 := addrsFor(ifi)
		if !m.ipv4Enabled {
			v4 = nil
		}
		if !m.ipv6Enabled {
			v6 = nil
		}

		e, ok := m.entries[ifi.Name]
		if !ok {
			e = &Entry{NIC: ifi.Name, Index: ifi.Index, AutoAdded: true}
			m.entries[ifi.Name] = e
		}

		wasEmpty := len(e.IPv4) == 0 && len(e.IPv6) == 0
		nowEmpty := len(v4) == 0 && len(v6) == 0
		addrsDiffer := !sameSubnets(e.IPv4, v4) || !sameSubnets(e.IPv6, v6)

		if wasEmpty != nowEmpty || addrsDiffer {
			changed = append(changed, ifi.Name)
		}

		if wasEmpty && !nowEmpty {
			m.join(e, &ifi)
		} else if !wasEmpty && nowEmpty {
			m.leaveAll(e)
		}
		e.IPv4, e.IPv6 = v4, v6
	}

	for name, e := range m.entries {
		if seen[name] {
			continue
		}
		m.leaveAll(e)
		delete(m.entries, name)
		changed = append(changed, name)
	}

	sort.Strings(changed)
	return changed, nil
}

func (m *Manager) join(e *Entry, ifi *net.Interface) {
	if m.connV4 != nil && len(e.IPv4) > 0 && !e.JoinedV4 {
		if err := m.connV4.JoinGroup(ifi, groupV4()); err == nil {
			e.JoinedV4 = true
		}
	}
	if m.connV6 != nil && len(e.IPv6) > 0 && !e.JoinedV6 {
		if err := m.connV6.JoinGroup(ifi, groupV6()); err == nil {
			e.JoinedV6 = true
		}
	}
}

func (m *Manager) leaveAll(e *Entry) {
	ifi, err := net.InterfaceByName(e.NIC)
	if err != nil {
		e.JoinedV4, e.JoinedV6 = false, false
		return
	}
	if m.connV4 != nil && e.JoinedV4 {
		_ = m.connV4.LeaveGroup(ifi, groupV4())
	}
	if m.connV6 != nil && e.JoinedV6 {
		_ = m.connV6.LeaveGroup(ifi, groupV6())
	}
	e.JoinedV4, e.JoinedV6 = false, false
}

func addrsFor(ifi net.Interface) (v4, v6 []net.IPNet) {
	addrs, err := ifi.Addrs()
	if err != nil {
		return nil, nil
	}
	for _, a := range addrs {
		ipnet, ok := a.(*net.IPNet)
		if !ok || ipnet.IP.IsLoopback() || ipnet.IP.IsMulticast() {
			continue
		}
		if ipnet.IP.To4() != nil {
			v4 = append(v4, *ipnet)
		} else {
			v6 = append(v6, *ipnet)
		}
	}
	return v4, v6
}

func sameSubnets(a, b []net.IPNet) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].String() != b[i].String() {
			return false
		}
	}
	return true
}

// Entries returns a snapshot of every currently-tracked interface.
func (m *Manager) Entries() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Entry, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, *e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NIC < out[j].NIC })
	return out
}

// Ready reports whether nic is currently up and not quarantined.
func (m *Manager) Ready(nic string, now int64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[nic]
	return ok && !e.IsDisabled(now)
}

// Topology builds the message.Topology view Packet.AppliedTo needs from
// the current interface address set.
func (m *Manager) Topology() message.Topology {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := make(message.Topology, len(m.entries))
	for nic, e := range m.entries {
		subnets := make([]net.IPNet, 0, len(e.IPv4)+len(e.IPv6))
		subnets = append(subnets, e.IPv4...)
		subnets = append(subnets, e.IPv6...)
		t[nic] = subnets
	}
	return t
}

// Quarantine disables nic for the configured recovery window (spec §4.5).
// shouldLog mirrors the spec's distinction between a loud failure (a NIC
// that had been working, or one the caller added explicitly) and a
// silent one (first-send failure on an auto-discovered NIC) -- both
// quarantine identically, only the logging differs, and that decision is
// left to the caller since only the engine has an EventSink to log to.
func (m *Manager) Quarantine(nic string, now int64) (shouldLog bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[nic]
	if !ok {
		return false
	}
	shouldLog = e.everSucceeded || !e.AutoAdded
	recovery := m.recovery
	if recovery == 0 {
		recovery = DefaultRecovery
	}
	e.DisabledUntil = now + recovery.Milliseconds()
	return shouldLog
}

// MarkSent records a successful transmission on nic.
func (m *Manager) MarkSent(nic string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[nic]; ok {
		e.PacketsSent++
		e.everSucceeded = true
	}
}

// WriteTo sends data to the multicast group restricted to nic's outgoing
// interface, picking the family by whether nic currently holds v4/v6
// membership.
func (m *Manager) WriteTo(data []byte, nic string) error {
	m.mu.Lock()
	e, ok := m.entries[nic]
	m.mu.Unlock()
	if !ok {
		return &beaconerrors.NetworkError{Operation: "send", Details: "unknown interface " + nic}
	}

	var sent bool
	if m.connV4 != nil && e.JoinedV4 {
		cm := &ipv4.ControlMessage{IfIndex: e.Index}
		if _, err := m.connV4.WriteTo(data, cm, groupV4()); err != nil {
			return &beaconerrors.NetworkError{Operation: "send ipv4", Err: err, Details: nic}
		}
		sent = true
	}
	if m.connV6 != nil && e.JoinedV6 {
		cm := &ipv6.ControlMessage{IfIndex: e.Index}
		if _, err := m.connV6.WriteTo(data, cm, groupV6()); err != nil {
			return &beaconerrors.NetworkError{Operation: "send ipv6", Err: err, Details: nic}
		}
		sent = true
	}
	if !sent {
		return &beaconerrors.NetworkError{Operation: "send", Details: nic + " has no active multicast membership"}
	}
	return nil
}

// StartReaders launches the background goroutines that read off the v4
// and v6 sockets and publish InboundPacket values on Inbound(). This is
// the one place the engine's otherwise-single-threaded model allows
// concurrent goroutines: they only do I/O, never touch engine state.
func (m *Manager) StartReaders(ctx context.Context, now func() int64) {
	if m.connV4 != nil {
		m.wg.Add(1)
		go m.readLoop(ctx, m.connV4, nil, now)
	}
	if m.connV6 != nil {
		m.wg.Add(1)
		go m.readLoop(ctx, nil, m.connV6, now)
	}
}

func (m *Manager) readLoop(ctx context.Context, v4 *ipv4.PacketConn, v6 *ipv6.PacketConn, now func() int64) {
	defer m.wg.Done()
	buf := make([]byte, 65536)
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.closed:
			return
		default:
		}

		var n int
		var ifIndex int
		var err error
		if v4 != nil {
			var cm *ipv4.ControlMessage
			n, cm, _, err = v4.ReadFrom(buf)
			if cm != nil {
				ifIndex = cm.IfIndex
			}
		} else {
			var cm *ipv6.ControlMessage
			n, cm, _, err = v6.ReadFrom(buf)
			if cm != nil {
				ifIndex = cm.IfIndex
			}
		}
		if err != nil {
			select {
			case <-ctx.Done():
				return
			case <-m.closed:
				return
			default:
				continue
			}
		}
		if n == 0 {
			continue
		}

		nic := m.nicForIndex(ifIndex)
		data := make([]byte, n)
		copy(data, buf[:n])
		select {
		case m.inbound <- InboundPacket{Data: data, NIC: nic, Timestamp: now()}:
		case <-ctx.Done():
			return
		case <-m.closed:
			return
		}
	}
}

func (m *Manager) nicForIndex(index int) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entries {
		if e.Index == index {
			return e.NIC
		}
	}
	return ""
}

// Inbound returns the channel the engine's selector loop reads from.
func (m *Manager) Inbound() <-chan InboundPacket { return m.inbound }

// Close leaves every multicast membership and closes both sockets.
//
// The sockets are closed before waiting on readLoop's goroutines, not
// after: ReadFrom blocks indefinitely with no read deadline set anywhere
// in this package, so closing m.closed alone never unblocks a pending
// read. Closing the socket is what makes ReadFrom return (with an error
// readLoop already treats as exit-worthy once m.closed is closed), the
// same way the teacher's transport used SetReadDeadline to bound a
// blocking read.
func (m *Manager) Close() error {
	close(m.closed)

	var errs []error
	if m.rawV4 != nil {
		if err := m.rawV4.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if m.rawV6 != nil {
		if err := m.rawV6.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	m.wg.Wait()

	m.mu.Lock()
	for _, e := range m.entries {
		m.leaveAll(e)
	}
	m.mu.Unlock()

	if len(errs) > 0 {
		return &beaconerrors.NetworkError{Operation: "close interface manager", Err: errs[0]}
	}
	return nil
}
