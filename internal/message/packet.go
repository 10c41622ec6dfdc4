package message

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"net"

	"github.com/joshuafuller/beacon/internal/errors"
	"github.com/joshuafuller/beacon/internal/protocol"
)

// Packet is the immutable container of spec §3: a decoded or
// yet-to-be-encoded mDNS message plus the bookkeeping the engine needs
// (which interface it arrived on or should be restricted to, and when).
// Once constructed a Packet is never mutated in place; every helper
// returns a new value.
type Packet struct {
	Questions   []Record
	Answers     []Record
	Authorities []Record
	Additionals []Record
	NIC         string // empty means "no interface affinity", i.e. send/received on any
	Timestamp   int64  // monotonic milliseconds, caller-supplied at construction
	ID          uint16
	Flags       uint16
}

// IsResponse reports the header's QR bit.
func (p Packet) IsResponse() bool { return p.Flags&protocol.FlagResponse != 0 }

// IsAuthoritative reports the header's AA bit.
func (p Packet) IsAuthoritative() bool { return p.Flags&protocol.FlagAuthoritative != 0 }

// NewQuestionPacket builds a query packet for name/qtype. Per spec §3, if
// qtype is A or AAAA the sibling type is auto-added so a single query
// resolves both address families in one round trip.
func NewQuestionPacket(id uint16, name string, qtype protocol.RecordType, unicast bool, now int64) Packet {
	questions := []Record{NewQuestion(name, qtype, unicast)}
	switch qtype {
	case protocol.RecordTypeA:
		questions = append(questions, NewQuestion(name, protocol.RecordTypeAAAA, unicast))
	case protocol.RecordTypeAAAA:
		questions = append(questions, NewQuestion(name, protocol.RecordTypeA, unicast))
	}
	return Packet{ID: id, Questions: questions, Timestamp: now}
}

// ResponseTo builds a response packet answering q: it inherits q's ID and
// NIC affinity and is marked authoritative + response (spec §3).
func ResponseTo(q Packet, answers, additionals []Record, now int64) Packet {
	return Packet{
		ID:          q.ID,
		Flags:       protocol.FlagResponse | protocol.FlagAuthoritative,
		Answers:     answers,
		Additionals: additionals,
		NIC:         q.NIC,
		Timestamp:   now,
	}
}

// Decode parses a wire-format mDNS message received on nic.
func Decode(data []byte, nic string, now int64) (Packet, error) {
	if len(data) < 12 {
		return Packet{}, &errors.ParseError{Reason: "packet shorter than header", Offset: 0}
	}
	id := binary.BigEndian.Uint16(data[0:])
	flags := binary.BigEndian.Uint16(data[2:])
	qd := int(binary.BigEndian.Uint16(data[4:]))
	an := int(binary.BigEndian.Uint16(data[6:]))
	ns := int(binary.BigEndian.Uint16(data[8:]))
	ar := int(binary.BigEndian.Uint16(data[10:]))

	pos := 12
	p := Packet{ID: id, Flags: flags, NIC: nic, Timestamp: now}

	read := func(n int, asQuestion bool) ([]Record, error) {
		out := make([]Record, 0, n)
		for i := 0; i < n; i++ {
			rec, next, err := decodeRecord(data, pos, asQuestion)
			if err != nil {
				return nil, err
			}
			pos = next
			out = append(out, rec)
		}
		return out, nil
	}

	var err error
	if p.Questions, err = read(qd, true); err != nil {
		return Packet{}, err
	}
	if p.Answers, err = read(an, false); err != nil {
		return Packet{}, err
	}
	if p.Authorities, err = read(ns, false); err != nil {
		return Packet{}, err
	}
	if p.Additionals, err = read(ar, false); err != nil {
		return Packet{}, err
	}
	return p, nil
}

// Encode serializes p to wire format. Names are always written as full
// labels (spec §4.1: compression on write is optional and not performed
// here).
func (p Packet) Encode() ([]byte, error) {
	var buf bytes.Buffer
	var header [12]byte
	binary.BigEndian.PutUint16(header[0:], p.ID)
	binary.BigEndian.PutUint16(header[2:], p.Flags)
	binary.BigEndian.PutUint16(header[4:], uint16(len(p.Questions)))
	binary.BigEndian.PutUint16(header[6:], uint16(len(p.Answers)))
	binary.BigEndian.PutUint16(header[8:], uint16(len(p.Authorities)))
	binary.BigEndian.PutUint16(header[10:], uint16(len(p.Additionals)))
	buf.Write(header[:])

	for _, sec := range [][]Record{p.Questions, p.Answers, p.Authorities, p.Additionals} {
		for _, rec := range sec {
			if err := encodeRecord(&buf, rec); err != nil {
				return nil, err
			}
		}
	}
	return buf.Bytes(), nil
}

// hasAddress reports whether r carries an IP that AppliedTo must weigh
// against interface subnets.
func hasAddress(r Record) bool {
	return (r.Type == protocol.RecordTypeA || r.Type == protocol.RecordTypeAAAA) && r.IP != nil
}

// Topology maps an interface identity to the subnets currently bound to
// it, the minimum AppliedTo needs to decide record applicability.
type Topology map[string][]net.IPNet

func (t Topology) containsAny(ip net.IP) bool {
	for _, subnets := range t {
		for _, n := range subnets {
			if n.Contains(ip) {
				return true
			}
		}
	}
	return false
}

func (t Topology) contains(nic string, ip net.IP) bool {
	for _, n := range t[nic] {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

func applicable(r Record, nic string, topology Topology) bool {
	if !hasAddress(r) {
		return true
	}
	if topology.contains(nic, r.IP) {
		return true
	}
	return !topology.containsAny(r.IP)
}

func filter(records []Record, nic string, topology Topology) []Record {
	if len(records) == 0 {
		return nil
	}
	out := make([]Record, 0, len(records))
	for _, r := range records {
		if applicable(r, nic, topology) {
			out = append(out, r)
		}
	}
	return out
}

// AppliedTo returns a copy of p restricted to the records that apply to
// nic (spec §4.2): address records outside every known subnet are
// broadcast everywhere, address records inside a specific nic's subnet
// go only to that nic. ok is false if every section ends up empty.
func (p Packet) AppliedTo(nic string, topology Topology) (Packet, bool) {
	out := Packet{
		ID:          p.ID,
		Flags:       p.Flags,
		NIC:         nic,
		Timestamp:   p.Timestamp,
		Questions:   filter(p.Questions, nic, topology),
		Answers:     filter(p.Answers, nic, topology),
		Authorities: filter(p.Authorities, nic, topology),
		Additionals: filter(p.Additionals, nic, topology),
	}
	if len(out.Questions) == 0 && len(out.Answers) == 0 && len(out.Authorities) == 0 && len(out.Additionals) == 0 {
		return Packet{}, false
	}
	return out, true
}

// --- JSON debug form ---

type jsonRecord struct {
	Name     string      `json:"name"`
	Type     string      `json:"type"`
	TypeNum  uint16      `json:"typeNum"`
	Class    uint16      `json:"class"`
	TTL      uint32      `json:"ttl,omitempty"`
	IP       string      `json:"ip,omitempty"`
	PTR      string      `json:"ptr,omitempty"`
	SRV      *SRVData    `json:"srv,omitempty"`
	TXT      []TXTPair   `json:"txt,omitempty"`
	Data     string      `json:"data,omitempty"` // base64 opaque rdata
	Question bool        `json:"question,omitempty"`
}

func toJSONRecord(r Record) jsonRecord {
	jr := jsonRecord{
		Name: r.Name, Type: r.Type.String(), TypeNum: uint16(r.Type),
		Class: r.Class, TTL: r.TTL, Question: r.question,
	}
	switch r.Type {
	case protocol.RecordTypeA, protocol.RecordTypeAAAA:
		if r.IP != nil {
			jr.IP = r.IP.String()
		}
	case protocol.RecordTypePTR:
		jr.PTR = r.PTR
	case protocol.RecordTypeSRV:
		srv := r.SRV
		jr.SRV = &srv
	case protocol.RecordTypeTXT:
		jr.TXT = r.TXT
	default:
		if len(r.Data) > 0 {
			jr.Data = base64.StdEncoding.EncodeToString(r.Data)
		}
	}
	return jr
}

func fromJSONRecord(jr jsonRecord) (Record, error) {
	r := Record{Name: jr.Name, Type: protocol.RecordType(jr.TypeNum), Class: jr.Class, TTL: jr.TTL, question: jr.Question}
	switch r.Type {
	case protocol.RecordTypeA, protocol.RecordTypeAAAA:
		if jr.IP != "" {
			ip := net.ParseIP(jr.IP)
			if ip == nil {
				return Record{}, fmt.Errorf("invalid ip %q", jr.IP)
			}
			if r.Type == protocol.RecordTypeA {
				ip = ip.To4()
			}
			r.IP = ip
		}
	case protocol.RecordTypePTR:
		r.PTR = jr.PTR
	case protocol.RecordTypeSRV:
		if jr.SRV != nil {
			r.SRV = *jr.SRV
		}
	case protocol.RecordTypeTXT:
		r.TXT = jr.TXT
	default:
		if jr.Data != "" {
			raw, err := base64.StdEncoding.DecodeString(jr.Data)
			if err != nil {
				return Record{}, err
			}
			r.Data = raw
		}
	}
	return r, nil
}

type jsonPacket struct {
	Questions     []jsonRecord `json:"questions"`
	Answers       []jsonRecord `json:"answers"`
	Authorities   []jsonRecord `json:"authorities"`
	Additionals   []jsonRecord `json:"additionals"`
	NIC           string       `json:"nic,omitempty"`
	ID            uint16       `json:"id"`
	Flags         uint16       `json:"flags"`
	Response      bool         `json:"response"`
	Authoritative bool         `json:"authoritative"`
	Timestamp     int64        `json:"timestamp,omitempty"`
}

func recordsToJSON(records []Record) []jsonRecord {
	out := make([]jsonRecord, len(records))
	for i, r := range records {
		out[i] = toJSONRecord(r)
	}
	return out
}

// String renders p as its deterministic JSON debug form (spec §4.2): a
// useful shape for logs and for the round-trip property tests, always
// parseable back via ParseString into an equivalent Packet.
func (p Packet) String() string {
	data, err := json.Marshal(jsonPacket{
		ID: p.ID, Flags: p.Flags, Response: p.IsResponse(), Authoritative: p.IsAuthoritative(),
		Questions: recordsToJSON(p.Questions), Answers: recordsToJSON(p.Answers),
		Authorities: recordsToJSON(p.Authorities), Additionals: recordsToJSON(p.Additionals),
		NIC: p.NIC, Timestamp: p.Timestamp,
	})
	if err != nil {
		return fmt.Sprintf("<packet marshal error: %v>", err)
	}
	return string(data)
}

// ParseString parses a Packet's JSON debug form back into an equivalent
// Packet (spec §4.2 round-tripping invariant).
func ParseString(s string) (Packet, error) {
	var jp jsonPacket
	if err := json.Unmarshal([]byte(s), &jp); err != nil {
		return Packet{}, err
	}
	from := func(records []jsonRecord) ([]Record, error) {
		out := make([]Record, len(records))
		for i, jr := range records {
			r, err := fromJSONRecord(jr)
			if err != nil {
				return nil, err
			}
			out[i] = r
		}
		return out, nil
	}
	p := Packet{ID: jp.ID, Flags: jp.Flags, NIC: jp.NIC, Timestamp: jp.Timestamp}
	var err error
	if p.Questions, err = from(jp.Questions); err != nil {
		return Packet{}, err
	}
	if p.Answers, err = from(jp.Answers); err != nil {
		return Packet{}, err
	}
	if p.Authorities, err = from(jp.Authorities); err != nil {
		return Packet{}, err
	}
	if p.Additionals, err = from(jp.Additionals); err != nil {
		return Packet{}, err
	}
	return p, nil
}
