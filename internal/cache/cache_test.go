package cache

import (
	"testing"

	"github.com/joshuafuller/beacon/internal/message"
)

func TestGetOrCreate_ReportsCreation(t *testing.T) {
	c := New()
	_, created := c.GetOrCreate("a.local.")
	if !created {
		t.Fatal("expected first GetOrCreate to report creation")
	}
	_, created = c.GetOrCreate("a.local.")
	if created {
		t.Fatal("expected second GetOrCreate to reuse the existing service")
	}
}

func TestServiceSetHost_ReportsModifiedOnlyWhenChanged(t *testing.T) {
	s := NewService("a.local.")
	if !s.SetHost("peer.local.", 9000) {
		t.Fatal("first SetHost should report modified")
	}
	if !s.ConsumeModified() {
		t.Fatal("expected modified flag set")
	}
	if s.SetHost("peer.local.", 9000) {
		t.Fatal("repeating the same host/port should not be modified")
	}
	if s.SetHost("peer.local.", 9001) {
		// port changed, should report modified
	} else {
		t.Fatal("changing port should report modified")
	}
}

func TestServiceSetText_OrderSensitive(t *testing.T) {
	s := NewService("a.local.")
	pairs := []message.TXTPair{{Key: "a", Value: "1", HasValue: true}, {Key: "b", Value: "2", HasValue: true}}
	if !s.SetText(pairs) {
		t.Fatal("first SetText should report modified")
	}
	reordered := []message.TXTPair{{Key: "b", Value: "2", HasValue: true}, {Key: "a", Value: "1", HasValue: true}}
	if !s.SetText(reordered) {
		t.Fatal("reordering pairs must report modified")
	}
}

func TestServiceAddAddress_OnlyNewAddressIsModification(t *testing.T) {
	s := NewService("a.local.")
	if !s.AddAddress("192.0.2.10", "eth0") {
		t.Fatal("new address should report modified")
	}
	if s.AddAddress("192.0.2.10", "eth1") {
		t.Fatal("a second NIC reporting a known address is not a modification")
	}
	if len(s.Addresses["192.0.2.10"]) != 2 {
		t.Fatalf("expected both NICs tracked, got %v", s.Addresses["192.0.2.10"])
	}
}

func TestServiceRemoveAddress(t *testing.T) {
	s := NewService("a.local.")
	s.AddAddress("192.0.2.10", "eth0")
	s.ConsumeModified()
	if !s.RemoveAddress("192.0.2.10") {
		t.Fatal("expected removal to report present")
	}
	if s.RemoveAddress("192.0.2.10") {
		t.Fatal("second removal should report absent")
	}
}

func TestCache_TypesAndNamesDedupe(t *testing.T) {
	c := New()
	if !c.AddType("_http._tcp.local.") {
		t.Fatal("expected first AddType to report added")
	}
	if c.AddType("_http._tcp.local.") {
		t.Fatal("expected duplicate AddType to report not added")
	}
	if !c.AddName("Other._http._tcp.local.") {
		t.Fatal("expected first AddName to report added")
	}
	if len(c.HeardTypes()) != 1 || len(c.HeardNames()) != 1 {
		t.Fatalf("unexpected index sizes: types=%v names=%v", c.HeardTypes(), c.HeardNames())
	}
}

func TestCache_AnnouncedRoundTrip(t *testing.T) {
	c := New()
	svc, _ := c.GetOrCreate("MyWeb._http._tcp.local.")
	svc.Owner = true
	pkt := message.Packet{ID: 1}
	c.SetAnnounced(svc, pkt)
	if !c.IsAnnounced(svc.FQDN) {
		t.Fatal("expected service to be announced")
	}
	got, ok := c.AnnouncedPacket(svc.FQDN)
	if !ok || got.ID != 1 {
		t.Fatalf("AnnouncedPacket mismatch: %+v ok=%v", got, ok)
	}
	c.RemoveAnnounced(svc.FQDN)
	if c.IsAnnounced(svc.FQDN) {
		t.Fatal("expected service to no longer be announced")
	}
}

func TestCache_SnapshotsAreIsolated(t *testing.T) {
	c := New()
	svc, _ := c.GetOrCreate("a.local.")
	svc.AddAddress("192.0.2.10", "eth0")

	snap := c.HeardServices()
	snap[0].Addresses["192.0.2.11"] = map[string]struct{}{"eth0": {}}

	live, _ := c.Get("a.local.")
	if len(live.Addresses) != 1 {
		t.Fatal("mutating a snapshot must not affect the live service")
	}
}
