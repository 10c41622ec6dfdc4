package message

import (
	"net"
	"testing"

	"github.com/joshuafuller/beacon/internal/protocol"
)

func buildAnnouncement() Packet {
	answers := []Record{
		NewPTR("_http._tcp.local.", "MyWeb._http._tcp.local.", 28800),
		NewSRV("MyWeb._http._tcp.local.", 0, 0, 8080, "h.local.", 120),
		NewTXT("MyWeb._http._tcp.local.", []TXTPair{{Key: "path", Value: "/path/to/service", HasValue: true}}, 4500),
	}
	additionals := []Record{NewA("h.local.", net.ParseIP("192.0.2.10"), 120)}
	return Packet{Flags: protocol.FlagResponse | protocol.FlagAuthoritative, Answers: answers, Additionals: additionals}
}

func TestPacketEncodeDecodeRoundTrip(t *testing.T) {
	p := buildAnnouncement()
	wire, err := p.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := Decode(wire, "eth0", 1000)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got.Answers) != 3 || len(got.Additionals) != 1 {
		t.Fatalf("section sizes changed: %+v", got)
	}
	if !got.IsResponse() || !got.IsAuthoritative() {
		t.Fatalf("flags lost in round trip: %x", got.Flags)
	}
}

func TestPacketStringParseStringRoundTrip(t *testing.T) {
	p := buildAnnouncement()
	p.ID = 42
	s := p.String()
	got, err := ParseString(s)
	if err != nil {
		t.Fatalf("ParseString: %v", err)
	}
	if got.ID != p.ID || len(got.Answers) != len(p.Answers) || len(got.Additionals) != len(p.Additionals) {
		t.Fatalf("JSON round trip mismatch: got %+v", got)
	}
	if got.Answers[1].SRV != p.Answers[1].SRV {
		t.Fatalf("SRV lost: got %+v want %+v", got.Answers[1].SRV, p.Answers[1].SRV)
	}
}

func TestNewQuestionPacket_AutoAddsSiblingAddressType(t *testing.T) {
	p := NewQuestionPacket(1, "h.local.", protocol.RecordTypeA, false, 0)
	if len(p.Questions) != 2 {
		t.Fatalf("expected 2 questions (A + AAAA), got %d", len(p.Questions))
	}
	if p.Questions[0].Type != protocol.RecordTypeA || p.Questions[1].Type != protocol.RecordTypeAAAA {
		t.Fatalf("unexpected question types: %+v", p.Questions)
	}
}

func TestResponseTo_InheritsIDAndNIC(t *testing.T) {
	q := Packet{ID: 7, NIC: "eth0"}
	resp := ResponseTo(q, nil, nil, 0)
	if resp.ID != 7 || resp.NIC != "eth0" {
		t.Fatalf("ResponseTo did not inherit id/nic: %+v", resp)
	}
	if !resp.IsResponse() || !resp.IsAuthoritative() {
		t.Fatal("ResponseTo must set AA+response flags")
	}
}

func TestAppliedTo_UnrelatedAddressesPassUnchanged(t *testing.T) {
	p := Packet{Additionals: []Record{NewA("h.local.", net.ParseIP("203.0.113.5"), 120)}}
	topology := Topology{"eth0": {mustCIDR("192.0.2.0/24")}}
	got, ok := p.AppliedTo("eth0", topology)
	if !ok {
		t.Fatal("expected applicable (unrelated address broadcasts everywhere)")
	}
	if len(got.Additionals) != 1 {
		t.Fatalf("expected address to pass through: %+v", got)
	}
}

func TestAppliedTo_PartitionsBySubnet(t *testing.T) {
	p := Packet{Additionals: []Record{
		NewA("a.local.", net.ParseIP("192.0.2.10"), 120),
		NewA("b.local.", net.ParseIP("198.51.100.10"), 120),
	}}
	topology := Topology{
		"eth0": {mustCIDR("192.0.2.0/24")},
		"eth1": {mustCIDR("198.51.100.0/24")},
	}
	gotEth0, ok := p.AppliedTo("eth0", topology)
	if !ok || len(gotEth0.Additionals) != 1 || !gotEth0.Additionals[0].IP.Equal(net.ParseIP("192.0.2.10")) {
		t.Fatalf("eth0 got wrong records: %+v", gotEth0)
	}
	gotEth1, ok := p.AppliedTo("eth1", topology)
	if !ok || len(gotEth1.Additionals) != 1 || !gotEth1.Additionals[0].IP.Equal(net.ParseIP("198.51.100.10")) {
		t.Fatalf("eth1 got wrong records: %+v", gotEth1)
	}
}

func TestAppliedTo_EmptyResultReturnsFalse(t *testing.T) {
	p := Packet{Additionals: []Record{NewA("a.local.", net.ParseIP("192.0.2.10"), 120)}}
	topology := Topology{
		"eth0": {mustCIDR("192.0.2.0/24")},
		"eth1": {mustCIDR("198.51.100.0/24")},
	}
	_, ok := p.AppliedTo("eth1", topology)
	if ok {
		t.Fatal("expected no applicable records for eth1")
	}
}

func mustCIDR(s string) net.IPNet {
	_, n, err := net.ParseCIDR(s)
	if err != nil {
		panic(err)
	}
	return *n
}
