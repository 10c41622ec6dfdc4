// Package message implements the mDNS wire codec (label compression,
// resource records, question/answer sections) and the immutable Packet
// container built on top of it.
//
// Grounded on the teacher's internal/message.ParseMessage/DNSMessage usage
// in responder/responder.go, generalized from a stub into a full codec per
// spec §4.1-4.2, and structurally cross-checked against
// other_examples/edaniels-zeroconf__server.go, other_examples/betamos-zeroconf__dns-sd.go
// and original_source/.../bfo/zeroconf/Packet.java + Record.java.
package message

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"net"
	"strings"

	"github.com/joshuafuller/beacon/internal/errors"
	"github.com/joshuafuller/beacon/internal/protocol"
)

// SRVData is the parsed rdata of an SRV record (RFC 2782).
type SRVData struct {
	Target   string
	Priority uint16
	Weight   uint16
	Port     uint16
}

// TXTPair is one entry of a TXT record's ordered key/value rdata. A pair
// with HasValue false was written as a bare "key" (no "="); this is
// distinct from an explicit empty value ("key=").
type TXTPair struct {
	Key      string
	Value    string
	HasValue bool
}

// Record is the tagged variant of spec §3: every DNS resource record (and
// every question, which shares the same shape minus TTL/rdata) the engine
// ever builds or parses. Exactly the fields relevant to Type are
// meaningful; the rest are zero. Pattern-match on Type, never on the Go
// type of a field.
type Record struct {
	Name  string
	Type  protocol.RecordType
	Class uint16 // as observed on read; cache-flush/QU bit included
	TTL   uint32

	IP   net.IP    // A, AAAA
	PTR  string    // PTR target name
	SRV  SRVData   // SRV
	TXT  []TXTPair // TXT, insertion order preserved
	Data []byte    // NSEC, Unknown: opaque rdata

	question bool // true if this Record was read from / is destined for the Question section
}

// Validate checks the invariants spec §3 requires of a built record.
func (r Record) Validate() error {
	if r.Name == "" {
		return &errors.ValidationError{Field: "name", Value: r.Name, Message: "must not be empty"}
	}
	switch r.Type {
	case protocol.RecordTypeA:
		if r.IP == nil || r.IP.To4() == nil {
			return &errors.ValidationError{Field: "A.IP", Value: r.IP, Message: "must be a 4-byte address"}
		}
	case protocol.RecordTypeAAAA:
		if r.IP == nil || r.IP.To4() != nil || len(r.IP) != 16 {
			return &errors.ValidationError{Field: "AAAA.IP", Value: r.IP, Message: "must be a 16-byte address"}
		}
	case protocol.RecordTypeSRV:
		if r.SRV.Target == "" {
			return &errors.ValidationError{Field: "SRV.Target", Value: r.SRV.Target, Message: "must not be empty"}
		}
	}
	return nil
}

// IsQuestion reports whether this record belongs to a packet's Question
// section (name|type|class only, no ttl/rdlen/rdata on the wire).
func (r Record) IsQuestion() bool { return r.question }

// CacheFlush reports the cache-flush bit (RFC 6762 §10.2) on an answer's
// class, or the "unicast response requested" (QU) bit (RFC 6762 §5.4) on a
// question's class -- they share the same bit position.
func (r Record) CacheFlush() bool { return r.Class&protocol.CacheFlushBit != 0 }

// BaseClass returns the class with the cache-flush/QU bit masked off.
func (r Record) BaseClass() uint16 { return r.Class &^ protocol.CacheFlushBit }

// NewQuestion builds a question-section record. unicast sets the QU bit
// requesting a unicast rather than multicast reply.
func NewQuestion(name string, qtype protocol.RecordType, unicast bool) Record {
	class := protocol.ClassIN
	if unicast {
		class |= protocol.UnicastReplyBit
	}
	return Record{Name: name, Type: qtype, Class: class, question: true}
}

// NewA builds an owned A record with the cache-flush bit set, per the
// responder's own output convention (spec §4.1: "class 0x8001" for
// records the responder creates).
func NewA(name string, ip net.IP, ttl uint32) Record {
	return Record{Name: name, Type: protocol.RecordTypeA, Class: protocol.ClassIN | protocol.CacheFlushBit, TTL: ttl, IP: ip.To4()}
}

// NewAAAA builds an owned AAAA record; see NewA.
func NewAAAA(name string, ip net.IP, ttl uint32) Record {
	v6 := ip.To16()
	return Record{Name: name, Type: protocol.RecordTypeAAAA, Class: protocol.ClassIN | protocol.CacheFlushBit, TTL: ttl, IP: v6}
}

// NewPTR builds a PTR record. PTR records are shared (no cache-flush bit,
// RFC 6762 §10.2) since multiple responders may legitimately answer with
// distinct PTR targets for the same service type.
func NewPTR(name, target string, ttl uint32) Record {
	return Record{Name: name, Type: protocol.RecordTypePTR, Class: protocol.ClassIN, TTL: ttl, PTR: target}
}

// NewSRV builds an owned SRV record.
func NewSRV(name string, priority, weight, port uint16, target string, ttl uint32) Record {
	return Record{
		Name: name, Type: protocol.RecordTypeSRV, Class: protocol.ClassIN | protocol.CacheFlushBit, TTL: ttl,
		SRV: SRVData{Priority: priority, Weight: weight, Port: port, Target: target},
	}
}

// NewTXT builds an owned TXT record preserving pair order.
func NewTXT(name string, pairs []TXTPair, ttl uint32) Record {
	return Record{Name: name, Type: protocol.RecordTypeTXT, Class: protocol.ClassIN | protocol.CacheFlushBit, TTL: ttl, TXT: pairs}
}

// Goodbye returns a copy of r with TTL set to zero, the wire signal that
// a previously-advertised record should be flushed immediately
// (spec glossary: "Goodbye").
func (r Record) Goodbye() Record {
	r.TTL = 0
	return r
}

// --- name encode/decode (label compression) ---

// maxLabelLen is the largest a single DNS label may be (RFC 1035 §3.1).
const maxLabelLen = 63

// splitLabels splits a presentation-format name on unescaped dots,
// honouring "\." (literal dot) and "\DDD" (literal byte) escapes, and
// drops one trailing empty label produced by a trailing dot.
func splitLabels(name string) ([]string, error) {
	var labels []string
	var cur strings.Builder
	escaped := false
	digits := 0
	var digitVal int
	for i := 0; i < len(name); i++ {
		c := name[i]
		switch {
		case digits > 0:
			if c < '0' || c > '9' {
				return nil, fmt.Errorf("invalid escape in name %q", name)
			}
			digitVal = digitVal*10 + int(c-'0')
			digits--
			if digits == 0 {
				cur.WriteByte(byte(digitVal))
			}
		case escaped:
			if c >= '0' && c <= '9' {
				digits = 2
				digitVal = int(c - '0')
			} else {
				cur.WriteByte(c)
			}
			escaped = false
		case c == '\\':
			escaped = true
		case c == '.':
			labels = append(labels, cur.String())
			cur.Reset()
		default:
			cur.WriteByte(c)
		}
	}
	if cur.Len() > 0 {
		labels = append(labels, cur.String())
	}
	return labels, nil
}

// escapeLabel re-escapes a label's literal dots and backslashes so the
// joined name round-trips through splitLabels.
func escapeLabel(label string) string {
	var b strings.Builder
	for i := 0; i < len(label); i++ {
		c := label[i]
		if c == '.' || c == '\\' {
			b.WriteByte('\\')
		}
		b.WriteByte(c)
	}
	return b.String()
}

// encodeName writes name as length-prefixed labels terminated by a zero
// length byte. Per spec §4.1 the writer policy is to always emit full
// labels; compression pointers are never written.
func encodeName(buf *bytes.Buffer, name string) error {
	labels, err := splitLabels(strings.TrimSuffix(name, "."))
	if err != nil {
		return err
	}
	for _, label := range labels {
		if len(label) == 0 {
			continue // collapse stray empty labels (e.g. accidental "..")
		}
		if len(label) > maxLabelLen {
			return &errors.ValidationError{Field: "label", Value: label, Message: "exceeds 63 bytes"}
		}
		buf.WriteByte(byte(len(label)))
		buf.WriteString(label)
	}
	buf.WriteByte(0)
	return nil
}

// decodeName reads a label sequence starting at offset within data,
// following compression back-pointers (RFC 1035 §4.1.4). It returns the
// decoded name and the offset immediately following the name as it
// appeared at the call site (i.e. after a pointer, not after the
// pointed-to data). Pointer loops and out-of-range lengths are rejected.
func decodeName(data []byte, offset int) (string, int, error) {
	var labels []string
	start := offset
	pos := offset
	jumped := false
	end := -1 // offset to return to the caller, set on first pointer taken
	visited := 0

	for {
		if pos >= len(data) {
			return "", 0, &errors.ParseError{Reason: "label offset past end of packet", Offset: pos}
		}
		length := int(data[pos])
		switch {
		case length == 0:
			pos++
			if !jumped {
				end = pos
			}
			if len(labels) == 0 {
				return ".", end, nil
			}
			return strings.Join(labels, ".") + ".", end, nil

		case length&0xc0 == 0xc0:
			if pos+1 >= len(data) {
				return "", 0, &errors.ParseError{Reason: "truncated compression pointer", Offset: pos}
			}
			ptr := (int(length&0x3f) << 8) | int(data[pos+1])
			if !jumped {
				end = pos + 2
			}
			if ptr >= start {
				// A pointer must always point strictly backwards; this also
				// prevents a self-referential loop at the current name.
				return "", 0, &errors.ParseError{Reason: "compression pointer does not point backwards", Offset: pos}
			}
			visited++
			if visited > len(data) {
				return "", 0, &errors.ParseError{Reason: "compression pointer loop", Offset: pos}
			}
			pos = ptr
			jumped = true

		case length&0xc0 != 0:
			return "", 0, &errors.ParseError{Reason: "reserved label length bits set", Offset: pos}

		default:
			labelStart := pos + 1
			labelEnd := labelStart + length
			if labelEnd > len(data) {
				return "", 0, &errors.ParseError{Reason: "truncated label", Offset: pos}
			}
			labels = append(labels, escapeLabel(string(data[labelStart:labelEnd])))
			pos = labelEnd
		}
	}
}

// --- record encode/decode ---

// encodeRecord writes name|type|class|ttl|rdlen|rdata. Question-section
// records omit ttl/rdlen/rdata entirely (spec §4.1: "question form").
func encodeRecord(buf *bytes.Buffer, r Record) error {
	if err := r.Validate(); err != nil && !r.question {
		return err
	}
	if err := encodeName(buf, r.Name); err != nil {
		return err
	}
	var tmp [2]byte
	binary.BigEndian.PutUint16(tmp[:], uint16(r.Type))
	buf.Write(tmp[:])
	binary.BigEndian.PutUint16(tmp[:], r.Class)
	buf.Write(tmp[:])

	if r.question {
		return nil
	}

	var ttl [4]byte
	binary.BigEndian.PutUint32(ttl[:], r.TTL)
	buf.Write(ttl[:])

	lenPos := buf.Len()
	buf.Write([]byte{0, 0}) // placeholder rdlen
	rdataStart := buf.Len()

	if err := encodeRdata(buf, r); err != nil {
		return err
	}

	rdlen := buf.Len() - rdataStart
	out := buf.Bytes()
	binary.BigEndian.PutUint16(out[lenPos:lenPos+2], uint16(rdlen))
	return nil
}

func encodeRdata(buf *bytes.Buffer, r Record) error {
	switch r.Type {
	case protocol.RecordTypeA:
		ip := r.IP.To4()
		if ip == nil {
			return &errors.ValidationError{Field: "A.IP", Value: r.IP, Message: "not a valid IPv4 address"}
		}
		buf.Write(ip)
	case protocol.RecordTypeAAAA:
		ip := r.IP.To16()
		if ip == nil || r.IP.To4() != nil {
			return &errors.ValidationError{Field: "AAAA.IP", Value: r.IP, Message: "not a valid IPv6 address"}
		}
		buf.Write(ip)
	case protocol.RecordTypePTR:
		return encodeName(buf, r.PTR)
	case protocol.RecordTypeSRV:
		var tmp [2]byte
		binary.BigEndian.PutUint16(tmp[:], r.SRV.Priority)
		buf.Write(tmp[:])
		binary.BigEndian.PutUint16(tmp[:], r.SRV.Weight)
		buf.Write(tmp[:])
		binary.BigEndian.PutUint16(tmp[:], r.SRV.Port)
		buf.Write(tmp[:])
		return encodeName(buf, r.SRV.Target)
	case protocol.RecordTypeTXT:
		if len(r.TXT) == 0 {
			buf.WriteByte(0)
			return nil
		}
		for _, pair := range r.TXT {
			entry := pair.Key
			if pair.HasValue {
				entry += "=" + pair.Value
			}
			if len(entry) > 255 {
				return &errors.ValidationError{Field: "TXT entry", Value: entry, Message: "exceeds 255 bytes"}
			}
			buf.WriteByte(byte(len(entry)))
			buf.WriteString(entry)
		}
	default:
		buf.Write(r.Data)
	}
	return nil
}

// decodeRecord reads one record starting at offset. asQuestion selects
// the question-section wire form (name|type|class, no rdata).
func decodeRecord(data []byte, offset int, asQuestion bool) (Record, int, error) {
	name, pos, err := decodeName(data, offset)
	if err != nil {
		return Record{}, 0, err
	}
	if pos+4 > len(data) {
		return Record{}, 0, &errors.ParseError{Reason: "truncated record header", Offset: pos}
	}
	rtype := protocol.RecordType(binary.BigEndian.Uint16(data[pos:]))
	class := binary.BigEndian.Uint16(data[pos+2:])
	pos += 4

	r := Record{Name: name, Type: rtype, Class: class, question: asQuestion}
	if asQuestion {
		return r, pos, nil
	}

	if pos+6 > len(data) {
		return Record{}, 0, &errors.ParseError{Reason: "truncated record ttl/rdlength", Offset: pos}
	}
	r.TTL = binary.BigEndian.Uint32(data[pos:])
	rdlen := int(binary.BigEndian.Uint16(data[pos+4:]))
	pos += 6

	if pos+rdlen > len(data) {
		return Record{}, 0, &errors.ParseError{Reason: "truncated rdata", Offset: pos}
	}
	rdata := data[pos : pos+rdlen]
	pos += rdlen

	if err := decodeRdata(data, pos-rdlen, rdata, rtype, &r); err != nil {
		return Record{}, 0, err
	}
	return r, pos, nil
}

// decodeRdata parses rdata. fullOffset is rdata's absolute offset within
// data, needed because PTR/SRV targets may themselves use compression
// pointers relative to the whole packet.
func decodeRdata(data []byte, fullOffset int, rdata []byte, rtype protocol.RecordType, r *Record) error {
	switch rtype {
	case protocol.RecordTypeA:
		if len(rdata) != 4 {
			return &errors.ParseError{Reason: "A rdata must be 4 bytes", Offset: fullOffset}
		}
		r.IP = net.IP(append([]byte(nil), rdata...))
	case protocol.RecordTypeAAAA:
		if len(rdata) != 16 {
			return &errors.ParseError{Reason: "AAAA rdata must be 16 bytes", Offset: fullOffset}
		}
		r.IP = net.IP(append([]byte(nil), rdata...))
	case protocol.RecordTypePTR:
		name, _, err := decodeName(data, fullOffset)
		if err != nil {
			return err
		}
		r.PTR = name
	case protocol.RecordTypeSRV:
		if len(rdata) < 6 {
			return &errors.ParseError{Reason: "SRV rdata too short", Offset: fullOffset}
		}
		target, _, err := decodeName(data, fullOffset+6)
		if err != nil {
			return err
		}
		r.SRV = SRVData{
			Priority: binary.BigEndian.Uint16(rdata[0:]),
			Weight:   binary.BigEndian.Uint16(rdata[2:]),
			Port:     binary.BigEndian.Uint16(rdata[4:]),
			Target:   target,
		}
	case protocol.RecordTypeTXT:
		var pairs []TXTPair
		i := 0
		for i < len(rdata) {
			length := int(rdata[i])
			i++
			if i+length > len(rdata) {
				return &errors.ParseError{Reason: "truncated TXT entry", Offset: fullOffset + i}
			}
			entry := string(rdata[i : i+length])
			i += length
			if entry == "" || entry[0] == '=' {
				continue // empty keys skipped on decode, per spec §4.1
			}
			if eq := strings.IndexByte(entry, '='); eq >= 0 {
				pairs = append(pairs, TXTPair{Key: entry[:eq], Value: entry[eq+1:], HasValue: true})
			} else {
				pairs = append(pairs, TXTPair{Key: entry})
			}
		}
		r.TXT = pairs
	default:
		r.Data = append([]byte(nil), rdata...)
	}
	return nil
}
