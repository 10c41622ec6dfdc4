package iface

import (
	"net"
	"testing"
)

func TestQuarantine_LogsOnlyAfterPriorSuccessOrManualAdd(t *testing.T) {
	m := &Manager{entries: map[string]*Entry{
		"auto-fresh":   {NIC: "auto-fresh", AutoAdded: true},
		"auto-worked":  {NIC: "auto-worked", AutoAdded: true, everSucceeded: true},
		"manual-fresh": {NIC: "manual-fresh", AutoAdded: false},
	}}

	if log := m.Quarantine("auto-fresh", 1000); log {
		t.Fatal("a first-send failure on an auto-added NIC should quarantine silently")
	}
	if log := m.Quarantine("auto-worked", 1000); !log {
		t.Fatal("a NIC that previously sent successfully must log on quarantine")
	}
	if log := m.Quarantine("manual-fresh", 1000); !log {
		t.Fatal("a manually added NIC must log on quarantine even on first failure")
	}

	for _, nic := range []string{"auto-fresh", "auto-worked", "manual-fresh"} {
		e := m.entries[nic]
		if e.DisabledUntil != 1000+DefaultRecovery.Milliseconds() {
			t.Fatalf("%s: expected quarantine to use the default recovery window, got %d", nic, e.DisabledUntil)
		}
	}
}

func TestEntry_IsDisabled(t *testing.T) {
	e := Entry{DisabledUntil: 5000}
	if !e.IsDisabled(4000) {
		t.Fatal("expected entry to be disabled before its deadline")
	}
	if e.IsDisabled(5000) {
		t.Fatal("expected entry to be clear exactly at its deadline")
	}
	if (Entry{}).IsDisabled(1) {
		t.Fatal("a zero DisabledUntil means never quarantined")
	}
}

func TestMarkSent_SetsEverSucceeded(t *testing.T) {
	m := &Manager{entries: map[string]*Entry{"eth0": {NIC: "eth0", AutoAdded: true}}}
	m.MarkSent("eth0")
	if !m.entries["eth0"].everSucceeded {
		t.Fatal("expected MarkSent to set everSucceeded")
	}
	if m.entries["eth0"].PacketsSent != 1 {
		t.Fatalf("expected PacketsSent=1, got %d", m.entries["eth0"].PacketsSent)
	}
}

func TestReady_RespectsQuarantineWindow(t *testing.T) {
	m := &Manager{entries: map[string]*Entry{"eth0": {NIC: "eth0"}}}
	if !m.Ready("eth0", 0) {
		t.Fatal("a fresh entry should be ready")
	}
	m.Quarantine("eth0", 1000)
	if m.Ready("eth0", 1500) {
		t.Fatal("expected eth0 to be unready while quarantined")
	}
	if !m.Ready("eth0", 1000+DefaultRecovery.Milliseconds()) {
		t.Fatal("expected eth0 to be ready again once its quarantine window elapses")
	}
	if m.Ready("unknown", 0) {
		t.Fatal("an untracked NIC is never ready")
	}
}

func TestSameSubnets(t *testing.T) {
	a := []net.IPNet{*mustCIDR("192.0.2.10/24")}
	b := []net.IPNet{*mustCIDR("192.0.2.10/24")}
	if !sameSubnets(a, b) {
		t.Fatal("identical subnets should compare equal")
	}
	c := []net.IPNet{*mustCIDR("192.0.2.11/24")}
	if sameSubnets(a, c) {
		t.Fatal("different addresses should not compare equal")
	}
	if sameSubnets(a, nil) {
		t.Fatal("different lengths should not compare equal")
	}
}

func mustCIDR(s string) *net.IPNet {
	ip, ipnet, err := net.ParseCIDR(s)
	if err != nil {
		panic(err)
	}
	ipnet.IP = ip
	return ipnet
}

func TestEntries_SortedByNIC(t *testing.T) {
	m := &Manager{entries: map[string]*Entry{
		"wlan0": {NIC: "wlan0"},
		"eth0":  {NIC: "eth0"},
	}}
	got := m.Entries()
	if len(got) != 2 || got[0].NIC != "eth0" || got[1].NIC != "wlan0" {
		t.Fatalf("expected sorted [eth0 wlan0], got %v", got)
	}
}
